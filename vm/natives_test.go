package vm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/dvm/errz"
	"github.com/deepnoodle-ai/dvm/object"
)

const nativeImage = `
[[class]]
name = "LMain;"

  [[class.method]]
  name = "twice"
  descriptor = "(I)I"
  flags = ["static", "native"]

  [[class.method]]
  name = "boom"
  descriptor = "()V"
  flags = ["static", "native"]

  [[class.method]]
  name = "missing"
  descriptor = "()V"
  flags = ["static", "native"]

  [[class.method]]
  name = "reenter"
  descriptor = "(I)I"
  flags = ["static", "native"]

  [[class.method]]
  name = "reenterDiv"
  descriptor = "()I"
  flags = ["static", "native"]

  [[class.method]]
  name = "locked"
  descriptor = "()Z"
  flags = ["static", "native", "synchronized"]

  [[class.method]]
  name = "broken"
  descriptor = "()V"
  flags = ["static", "native"]

  [[class.method]]
  name = "wide"
  descriptor = "(JD)D"
  flags = ["static", "native"]

  [[class.method]]
  name = "callTwice"
  descriptor = "(I)I"
  flags = ["static"]
  registers = 2
  code = """
    invoke-static {v1}, LMain;->twice(I)I
    move-result v0
    return v0
  """

  [[class.method]]
  name = "catchBoom"
  descriptor = "()I"
  flags = ["static"]
  registers = 1
  code = """
  :start
    invoke-static {}, LMain;->boom()V
  :end
    const/4 v0, 0
    return v0
  :handler
    const/4 v0, 1
    return v0
  .catch Ljava/lang/RuntimeException; {:start .. :end} :handler
  """

  [[class.method]]
  name = "callMissing"
  descriptor = "()V"
  flags = ["static"]
  registers = 0
  code = """
    invoke-static {}, LMain;->missing()V
    return-void
  """

  [[class.method]]
  name = "outer"
  descriptor = "(I)I"
  flags = ["static"]
  registers = 2
  code = """
    invoke-static {v1}, LMain;->reenter(I)I
    move-result v0
    return v0
  """

  [[class.method]]
  name = "div"
  descriptor = "(II)I"
  flags = ["static"]
  registers = 3
  code = """
    div-int v0, v1, v2
    return v0
  """

  [[class.method]]
  name = "outerDiv"
  descriptor = "()I"
  flags = ["static"]
  registers = 2
  code = """
  :start
    invoke-static {}, LMain;->reenterDiv()I
  :end
    move-result v0
    return v0
  :handler
    move-exception v1
    const/16 v0, 99
    return v0
  .catch Ljava/lang/ArithmeticException; {:start .. :end} :handler
  """

  [[class.method]]
  name = "callBroken"
  descriptor = "()V"
  flags = ["static"]
  registers = 0
  code = """
    invoke-static {}, LMain;->broken()V
    return-void
  """

  [[class.method]]
  name = "callWide"
  descriptor = "()D"
  flags = ["static"]
  registers = 6
  code = """
    const-wide/16 v2, 3
    const-wide v4, 0.5
    invoke-static {v2, v3, v4, v5}, LMain;->wide(JD)D
    move-result-wide v0
    return-wide v0
  """
`

func newNativeHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := newHarness(t, nativeImage, opts...)
	n := h.rt.Natives()
	n.Register("LMain;", "twice", "(I)I", func(_ *Thread, _ *object.Method, args Args) (Value, *object.Object) {
		return Int(args.Int(0) * 2), nil
	})
	n.Register("LMain;", "boom", "()V", func(t *Thread, _ *object.Method, _ Args) (Value, *object.Object) {
		return Value{}, t.NewThrowable("Ljava/lang/IllegalArgumentException;", "boom")
	})
	n.Register("LMain;", "reenter", "(I)I", func(t *Thread, _ *object.Method, args Args) (Value, *object.Object) {
		v, err := t.Runtime().Invoke(t, "LMain;", "callTwice", "(I)I", Int(args.Int(0)+1))
		if err != nil {
			t.ThrowError(err)
			return Value{}, nil
		}
		return v, nil
	})
	n.Register("LMain;", "reenterDiv", "()I", func(t *Thread, _ *object.Method, _ Args) (Value, *object.Object) {
		// The nested exception stays pending and is delivered to the caller.
		_, err := t.Runtime().Invoke(t, "LMain;", "div", "(II)I", Int(1), Int(0))
		if err == nil || t.Exception() == nil {
			return Int(-1), nil
		}
		return Value{}, nil
	})
	n.Register("LMain;", "locked", "()Z", func(t *Thread, m *object.Method, _ Args) (Value, *object.Object) {
		owner, count := m.Class.Mirror.Monitor().Owner()
		return Bool(owner == t && count == 1 && t.Status() == StatusNative), nil
	})
	n.Register("LMain;", "broken", "()V", func(t *Thread, _ *object.Method, _ Args) (Value, *object.Object) {
		t.setFatal(errz.NewFatalError(errz.ErrInternal, "", 0, "native state corrupted"))
		return Value{}, nil
	})
	n.Register("LMain;", "wide", "(JD)D", func(_ *Thread, _ *object.Method, args Args) (Value, *object.Object) {
		return Double(float64(args.Long(0)) + args.Double(2)), nil
	})
	return h
}

func TestNativeCalls(t *testing.T) {
	dispatches(t, func(t *testing.T, d Dispatch) {
		h := newNativeHarness(t, WithDispatch(d), WithShadowTags(true))

		v, err := h.call("callTwice", "(I)I", Int(21))
		require.NoError(t, err)
		require.Equal(t, int32(42), v.AsInt())

		// A native can be the entry method itself.
		v, err = h.rt.Interpret(h.thread, h.method(t, "LMain;", "twice", "(I)I"), Int(4))
		require.NoError(t, err)
		require.Equal(t, int32(8), v.AsInt())

		v, err = h.call("callWide", "()D")
		require.NoError(t, err)
		require.Equal(t, 3.5, v.AsDouble())

		v, err = h.call("catchBoom", "()I")
		require.NoError(t, err)
		require.Equal(t, int32(1), v.AsInt())

		_, err = h.call("callMissing", "()V")
		ee := requireException(t, err, object.ExUnsatisfiedLink)
		require.Equal(t, "LMain;->missing()V", ee.Message)

		v, err = h.call("locked", "()Z")
		require.NoError(t, err)
		require.True(t, v.AsBool())
		owner, _ := h.method(t, "LMain;", "locked", "()Z").Class.Mirror.Monitor().Owner()
		require.Nil(t, owner)

		require.Zero(t, h.thread.LocalRefs())
		require.Zero(t, h.abortCount())
	})
}

func TestNestedInterpret(t *testing.T) {
	dispatches(t, func(t *testing.T, d Dispatch) {
		h := newNativeHarness(t, WithDispatch(d))

		v, err := h.call("outer", "(I)I", Int(4))
		require.NoError(t, err)
		require.Equal(t, int32(10), v.AsInt())

		v, err = h.call("outerDiv", "()I")
		require.NoError(t, err)
		require.Equal(t, int32(99), v.AsInt())
		require.Nil(t, h.thread.Exception())
		require.Zero(t, h.thread.Depth())
		require.Equal(t, StatusIdle, h.thread.Status())
	})
}

func TestNativeFatal(t *testing.T) {
	dispatches(t, func(t *testing.T, d Dispatch) {
		h := newNativeHarness(t, WithDispatch(d))
		_, err := h.call("callBroken", "()V")
		var fe *errz.FatalError
		require.True(t, errors.As(err, &fe))
		require.Equal(t, errz.ErrInternal, fe.Kind)
		require.Equal(t, "native state corrupted", fe.Message)
		require.Equal(t, 1, h.abortCount())
		require.Zero(t, h.thread.Depth())

		// The fatal state does not leak into the next run.
		v, err := h.call("callTwice", "(I)I", Int(1))
		require.NoError(t, err)
		require.Equal(t, int32(2), v.AsInt())
		require.Equal(t, 1, h.abortCount())
	})
}

type countingBridge struct {
	calls int
	next  NativeBridge
}

func (b *countingBridge) Call(t *Thread, m *object.Method, args Args) (Value, *object.Object) {
	b.calls++
	return b.next.Call(t, m, args)
}

func TestNativeBridge(t *testing.T) {
	natives := NewNatives()
	natives.Register("LMain;", "twice", "(I)I", func(_ *Thread, _ *object.Method, args Args) (Value, *object.Object) {
		return Int(args.Int(0) * 3), nil
	})
	bridge := &countingBridge{next: natives}
	h := newHarness(t, nativeImage, WithNativeBridge(bridge))
	v, err := h.call("callTwice", "(I)I", Int(5))
	require.NoError(t, err)
	require.Equal(t, int32(15), v.AsInt())
	require.Equal(t, 1, bridge.calls)
	require.Equal(t, 1, natives.Len())
}
