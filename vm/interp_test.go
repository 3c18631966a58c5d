package vm

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/dvm/asm"
	"github.com/deepnoodle-ai/dvm/errz"
	"github.com/deepnoodle-ai/dvm/linker"
	"github.com/deepnoodle-ai/dvm/object"
)

type harness struct {
	rt     *Runtime
	linker *linker.Linker
	thread *Thread

	mu     sync.Mutex
	aborts []*errz.FatalError
}

func newHarness(t *testing.T, image string, opts ...Option) *harness {
	t.Helper()
	l, err := linker.NewBootstrapped(object.NewHeap(0))
	require.NoError(t, err)
	if image != "" {
		defs, err := asm.LoadImage("test.toml", strings.NewReader(image))
		require.NoError(t, err)
		require.NoError(t, l.DefineAll(defs))
		require.NoError(t, l.LinkAll())
	}
	h := &harness{linker: l}
	opts = append([]Option{WithAbortHandler(h.abort)}, opts...)
	h.rt = New(l, opts...)
	h.thread = h.rt.NewThread("main")
	return h
}

func (h *harness) abort(fe *errz.FatalError) {
	h.mu.Lock()
	h.aborts = append(h.aborts, fe)
	h.mu.Unlock()
}

func (h *harness) abortCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.aborts)
}

func (h *harness) method(t *testing.T, class, name, desc string) *object.Method {
	t.Helper()
	m, err := h.linker.FindMethod(class, name, desc)
	require.NoError(t, err)
	return m
}

func (h *harness) call(name, desc string, args ...Value) (Value, error) {
	return h.rt.Invoke(h.thread, "LMain;", name, desc, args...)
}

// dispatches runs fn once per dispatch strategy.
func dispatches(t *testing.T, fn func(t *testing.T, d Dispatch)) {
	for _, d := range []Dispatch{DispatchTable, DispatchSwitch} {
		t.Run(d.String(), func(t *testing.T) { fn(t, d) })
	}
}

func requireException(t *testing.T, err error, class string) *ExceptionError {
	t.Helper()
	var ee *ExceptionError
	require.True(t, errors.As(err, &ee), "expected an exception, got %v", err)
	require.Equal(t, class, ee.Class)
	return ee
}

const arithImage = `
[[class]]
name = "LMain;"

  [[class.method]]
  name = "add"
  descriptor = "(II)I"
  flags = ["static"]
  registers = 3
  code = """
    add-int v0, v1, v2
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
  name = "rem"
  descriptor = "(II)I"
  flags = ["static"]
  registers = 3
  code = """
    rem-int v0, v1, v2
    return v0
  """

  [[class.method]]
  name = "sum"
  descriptor = "(I)I"
  flags = ["static"]
  registers = 3
  code = """
    const/4 v0, 0
    const/4 v1, 1
  :loop
    if-gt v1, v2, :done
    add-int/2addr v0, v1
    add-int/lit8 v1, v1, 1
    goto :loop
  :done
    return v0
  """

  [[class.method]]
  name = "safeDiv"
  descriptor = "(II)I"
  flags = ["static"]
  registers = 3
  code = """
  :start
    div-int v0, v1, v2
  :end
    return v0
  :handler
    const/4 v0, -1
    return v0
  .catch Ljava/lang/ArithmeticException; {:start .. :end} :handler
  """

  [[class.method]]
  name = "lmul"
  descriptor = "(JJ)J"
  flags = ["static"]
  registers = 6
  code = """
    mul-long v0, v2, v4
    return-wide v0
  """

  [[class.method]]
  name = "lshl"
  descriptor = "(JI)J"
  flags = ["static"]
  registers = 5
  code = """
    shl-long v0, v2, v4
    return-wide v0
  """

  [[class.method]]
  name = "d2i"
  descriptor = "(D)I"
  flags = ["static"]
  registers = 3
  code = """
    double-to-int v0, v1
    return v0
  """

  [[class.method]]
  name = "cmpg"
  descriptor = "(FF)I"
  flags = ["static"]
  registers = 3
  code = """
    cmpg-float v0, v1, v2
    return v0
  """

  [[class.method]]
  name = "cmpl"
  descriptor = "(FF)I"
  flags = ["static"]
  registers = 3
  code = """
    cmpl-float v0, v1, v2
    return v0
  """

  [[class.method]]
  name = "drem"
  descriptor = "(DD)D"
  flags = ["static"]
  registers = 6
  code = """
    rem-double v0, v2, v4
    return-wide v0
  """

  [[class.method]]
  name = "i2b"
  descriptor = "(I)I"
  flags = ["static"]
  registers = 2
  code = """
    int-to-byte v0, v1
    return v0
  """

  [[class.method]]
  name = "rsub"
  descriptor = "(I)I"
  flags = ["static"]
  registers = 2
  code = """
    rsub-int/lit8 v0, v1, 10
    return v0
  """

  [[class.method]]
  name = "packed"
  descriptor = "(I)I"
  flags = ["static"]
  registers = 2
  code = """
    packed-switch v1, :table
    const/4 v0, -1
    return v0
  :c0
    const/16 v0, 10
    return v0
  :c1
    const/16 v0, 20
    return v0
  :table
  .packed-switch 1
    :c0
    :c1
  .end packed-switch
  """

  [[class.method]]
  name = "sparse"
  descriptor = "(I)I"
  flags = ["static"]
  registers = 2
  code = """
    sparse-switch v1, :table
    const/4 v0, -1
    return v0
  :c0
    const/16 v0, 10
    return v0
  :c1
    const/16 v0, 20
    return v0
  :table
  .sparse-switch
    -5 -> :c0
    1000 -> :c1
  .end sparse-switch
  """

  [[class.method]]
  name = "f2i"
  descriptor = "(F)I"
  flags = ["static"]
  registers = 2
  code = """
    float-to-int v0, v1
    return v0
  """

  [[class.method]]
  name = "wide"
  descriptor = "(J)J"
  flags = ["static"]
  registers = 4
  code = """
    move-wide v2, v2
    move-wide v1, v2
    move-wide v0, v1
    return-wide v0
  """

  [[class.method]]
  name = "divKeep"
  descriptor = "(I)I"
  flags = ["static"]
  registers = 3
  code = """
    const/4 v0, 7
    const/4 v1, 0
  :start
    div-int v0, v2, v1
  :end
    return v0
  :handler
    return v0
  .catch Ljava/lang/ArithmeticException; {:start .. :end} :handler
  """
`

func TestArithmetic(t *testing.T) {
	nan := float32(math.NaN())
	tests := []struct {
		name string
		desc string
		args []Value
		want Value
	}{
		{"add", "(II)I", []Value{Int(2), Int(3)}, Int(5)},
		{"add", "(II)I", []Value{Int(math.MaxInt32), Int(1)}, Int(math.MinInt32)},
		{"div", "(II)I", []Value{Int(7), Int(2)}, Int(3)},
		{"div", "(II)I", []Value{Int(-7), Int(2)}, Int(-3)},
		{"div", "(II)I", []Value{Int(math.MinInt32), Int(-1)}, Int(math.MinInt32)},
		{"rem", "(II)I", []Value{Int(-7), Int(2)}, Int(-1)},
		{"rem", "(II)I", []Value{Int(math.MinInt32), Int(-1)}, Int(0)},
		{"sum", "(I)I", []Value{Int(100)}, Int(5050)},
		{"sum", "(I)I", []Value{Int(0)}, Int(0)},
		{"safeDiv", "(II)I", []Value{Int(6), Int(3)}, Int(2)},
		{"safeDiv", "(II)I", []Value{Int(6), Int(0)}, Int(-1)},
		{"lmul", "(JJ)J", []Value{Long(1 << 40), Long(3)}, Long(3 << 40)},
		{"lshl", "(JI)J", []Value{Long(1), Int(65)}, Long(2)},
		{"d2i", "(D)I", []Value{Double(math.NaN())}, Int(0)},
		{"d2i", "(D)I", []Value{Double(1e20)}, Int(math.MaxInt32)},
		{"d2i", "(D)I", []Value{Double(-1e20)}, Int(math.MinInt32)},
		{"d2i", "(D)I", []Value{Double(-3.9)}, Int(-3)},
		{"cmpg", "(FF)I", []Value{Float(nan), Float(1)}, Int(1)},
		{"cmpl", "(FF)I", []Value{Float(nan), Float(1)}, Int(-1)},
		{"cmpl", "(FF)I", []Value{Float(1), Float(2)}, Int(-1)},
		{"cmpg", "(FF)I", []Value{Float(2), Float(2)}, Int(0)},
		{"drem", "(DD)D", []Value{Double(5.5), Double(2)}, Double(1.5)},
		{"drem", "(DD)D", []Value{Double(-5.5), Double(2)}, Double(-1.5)},
		{"i2b", "(I)I", []Value{Int(200)}, Int(-56)},
		{"rsub", "(I)I", []Value{Int(3)}, Int(7)},
		{"packed", "(I)I", []Value{Int(1)}, Int(10)},
		{"packed", "(I)I", []Value{Int(2)}, Int(20)},
		{"packed", "(I)I", []Value{Int(3)}, Int(-1)},
		{"sparse", "(I)I", []Value{Int(-5)}, Int(10)},
		{"sparse", "(I)I", []Value{Int(1000)}, Int(20)},
		{"sparse", "(I)I", []Value{Int(0)}, Int(-1)},
		{"f2i", "(F)I", []Value{Float(float32(math.Inf(1)))}, Int(math.MaxInt32)},
		{"f2i", "(F)I", []Value{Float(float32(math.Inf(-1)))}, Int(math.MinInt32)},
		{"f2i", "(F)I", []Value{Float(nan)}, Int(0)},
		{"f2i", "(F)I", []Value{Float(3.9)}, Int(3)},
		{"f2i", "(F)I", []Value{Float(-3.9)}, Int(-3)},
		{"wide", "(J)J", []Value{Long(0x1122334455667788)}, Long(0x1122334455667788)},
		{"wide", "(J)J", []Value{Long(-1)}, Long(-1)},
		// A failed division leaves the destination register untouched.
		{"divKeep", "(I)I", []Value{Int(5)}, Int(7)},
	}
	dispatches(t, func(t *testing.T, d Dispatch) {
		h := newHarness(t, arithImage, WithDispatch(d), WithShadowTags(true))
		for _, tt := range tests {
			got, err := h.call(tt.name, tt.desc, tt.args...)
			require.NoError(t, err, tt.name)
			require.Equal(t, tt.want.Bits(), got.Bits(), "%s%v", tt.name, tt.args)
		}
		require.Zero(t, h.abortCount())
		require.Zero(t, h.thread.Depth())
	})
}

func TestDivideByZeroUncaught(t *testing.T) {
	dispatches(t, func(t *testing.T, d Dispatch) {
		h := newHarness(t, arithImage, WithDispatch(d))
		_, err := h.call("div", "(II)I", Int(1), Int(0))
		ee := requireException(t, err, object.ExArithmetic)
		require.Equal(t, "divide by zero", ee.Message)
		require.NotEmpty(t, ee.Stack)
		require.Equal(t, "LMain;->div(II)I", ee.Stack[0].Function)
		require.Nil(t, h.thread.Exception())
		require.Zero(t, h.thread.Depth())

		// The thread is usable afterwards.
		v, err := h.call("add", "(II)I", Int(1), Int(1))
		require.NoError(t, err)
		require.Equal(t, int32(2), v.AsInt())
	})
}

func TestInterpretArgumentCount(t *testing.T) {
	h := newHarness(t, arithImage)
	_, err := h.rt.Interpret(h.thread, h.method(t, "LMain;", "add", "(II)I"), Int(1))
	require.Error(t, err)
	require.Contains(t, err.Error(), "takes 2 arguments")
}

const exceptionImage = `
[[class]]
name = "LMain;"

  [[class.method]]
  name = "rearm"
  descriptor = "()Ljava/lang/Throwable;"
  flags = ["static"]
  registers = 2
  code = """
  :start
    const/4 v0, 0
    div-int v0, v0, v0
  :end
    const/4 v0, 0
    return-object v0
  :handler
    move-exception v1
    return-object v1
  .catch Ljava/lang/ArithmeticException; {:start .. :end} :handler
  """

  [[class.method]]
  name = "catchAll"
  descriptor = "()I"
  flags = ["static"]
  registers = 2
  code = """
  :start
    const/4 v0, 0
    aget v1, v0, v0
  :end
    const/4 v0, 0
    return v0
  :handler
    const/4 v0, 7
    return v0
  .catchall {:start .. :end} :handler
  """

  [[class.method]]
  name = "thrower"
  descriptor = "()V"
  flags = ["static"]
  registers = 1
  code = """
    new-instance v0, Ljava/lang/IllegalStateException;
    invoke-direct {v0}, Ljava/lang/IllegalStateException;-><init>()V
    throw v0
  """

  [[class.method]]
  name = "outer"
  descriptor = "()I"
  flags = ["static"]
  registers = 1
  code = """
  :start
    invoke-static {}, LMain;->thrower()V
  :end
    const/4 v0, 0
    return v0
  :handler
    const/4 v0, 3
    return v0
  .catch Ljava/lang/RuntimeException; {:start .. :end} :handler
  """

  [[class.method]]
  name = "uncaught"
  descriptor = "()V"
  flags = ["static"]
  registers = 0
  code = """
    invoke-static {}, LMain;->thrower()V
    return-void
  """

  [[class.method]]
  name = "throwNull"
  descriptor = "()V"
  flags = ["static"]
  registers = 1
  code = """
    const/4 v0, 0
    throw v0
  """

  [[class.method]]
  name = "nested"
  descriptor = "(Z)I"
  flags = ["static"]
  registers = 2
  code = """
  :outerStart
    const/4 v0, 0
  :innerStart
    if-eqz v1, :arith
    invoke-static {}, LMain;->thrower()V
  :arith
    div-int v0, v0, v0
  :end
    return v0
  :inner
    const/4 v0, 1
    return v0
  :outer
    const/4 v0, 2
    return v0
  .catch Ljava/lang/IllegalStateException; {:innerStart .. :end} :inner
  .catch Ljava/lang/Exception; {:outerStart .. :end} :outer
  """

  [[class.method]]
  name = "verify"
  descriptor = "()V"
  flags = ["static"]
  registers = 0
  code = """
    throw-verification-error 4, LMissing;
  """
`

func TestExceptions(t *testing.T) {
	dispatches(t, func(t *testing.T, d Dispatch) {
		h := newHarness(t, exceptionImage, WithDispatch(d), WithShadowTags(true))

		// A handler starting with move-exception receives the exception.
		v, err := h.call("rearm", "()Ljava/lang/Throwable;")
		require.NoError(t, err)
		require.NotNil(t, v.AsRef())
		require.Equal(t, object.ExArithmetic, v.AsRef().Class().Descriptor)
		require.Equal(t, "divide by zero", ExceptionMessage(v.AsRef()))
		require.Nil(t, h.thread.Exception())

		v, err = h.call("catchAll", "()I")
		require.NoError(t, err)
		require.Equal(t, int32(7), v.AsInt())
		require.Nil(t, h.thread.Exception())

		v, err = h.call("outer", "()I")
		require.NoError(t, err)
		require.Equal(t, int32(3), v.AsInt())

		// The innermost matching range wins; a type it does not catch falls
		// through to the enclosing range.
		v, err = h.call("nested", "(Z)I", Bool(true))
		require.NoError(t, err)
		require.Equal(t, int32(1), v.AsInt())
		v, err = h.call("nested", "(Z)I", Bool(false))
		require.NoError(t, err)
		require.Equal(t, int32(2), v.AsInt())
		require.Nil(t, h.thread.Exception())

		_, err = h.call("uncaught", "()V")
		ee := requireException(t, err, "Ljava/lang/IllegalStateException;")
		require.Len(t, ee.Stack, 2)
		require.Equal(t, "LMain;->thrower()V", ee.Stack[0].Function)
		require.Equal(t, "LMain;->uncaught()V", ee.Stack[1].Function)

		_, err = h.call("throwNull", "()V")
		requireException(t, err, object.ExNullPointer)

		_, err = h.call("verify", "()V")
		ee = requireException(t, err, object.ExNoSuchMethod)
		require.Equal(t, "Missing", ee.Message)
		require.Zero(t, h.abortCount())
	})
}

func TestUncaughtHandler(t *testing.T) {
	var got *ExceptionError
	h := newHarness(t, exceptionImage, WithUncaughtHandler(func(_ *Thread, ee *ExceptionError) {
		got = ee
	}))
	_, err := h.thread.Run(h.method(t, "LMain;", "uncaught", "()V"))
	require.Error(t, err)
	require.NotNil(t, got)
	require.Equal(t, "Ljava/lang/IllegalStateException;", got.Class)
	require.Contains(t, got.FriendlyErrorMessage(), "LMain;->thrower()V")
}

const overflowImage = `
[[class]]
name = "LMain;"

  [[class.method]]
  name = "recurse"
  descriptor = "(I)I"
  flags = ["static"]
  registers = 2
  code = """
    add-int/lit8 v0, v1, 1
    invoke-static {v0}, LMain;->recurse(I)I
    move-result v0
    return v0
  """

  [[class.method]]
  name = "guarded"
  descriptor = "()I"
  flags = ["static"]
  registers = 2
  code = """
    const/4 v0, 0
  :start
    invoke-static {v0}, LMain;->recurse(I)I
  :end
    move-result v0
    return v0
  :handler
    move-exception v1
    const/4 v0, -1
    return v0
  .catch Ljava/lang/StackOverflowError; {:start .. :end} :handler
  """
`

func TestStackOverflow(t *testing.T) {
	dispatches(t, func(t *testing.T, d Dispatch) {
		var logs bytes.Buffer
		h := newHarness(t, overflowImage, WithDispatch(d), WithStackSize(4096), WithStackReserve(128),
			WithLogger(zerolog.New(&logs).Level(zerolog.DebugLevel)))
		for i := 0; i < 3; i++ {
			v, err := h.call("guarded", "()I")
			require.NoError(t, err)
			require.Equal(t, int32(-1), v.AsInt())
			require.False(t, h.thread.StackOverflowed())
		}

		_, err := h.call("recurse", "(I)I", Int(0))
		ee := requireException(t, err, object.ExStackOverflow)
		require.Contains(t, ee.Message, "LMain;->recurse(I)I")
		require.False(t, h.thread.StackOverflowed())
		require.Zero(t, h.thread.Depth())
		require.Zero(t, h.abortCount())
		require.Contains(t, logs.String(), "stack overflow cleared")
		require.NotContains(t, logs.String(), "stack overflow cleanup failed")
	})
}

func TestShadowTagMismatchIsFatal(t *testing.T) {
	const image = `
[[class]]
name = "LMain;"

  [[class.method]]
  name = "bad"
  descriptor = "(J)I"
  flags = ["static"]
  registers = 3
  code = """
    move v0, v1
    return v0
  """
`
	dispatches(t, func(t *testing.T, d Dispatch) {
		h := newHarness(t, image, WithDispatch(d), WithShadowTags(true))
		_, err := h.call("bad", "(J)I", Long(5))
		var fe *errz.FatalError
		require.True(t, errors.As(err, &fe))
		require.Equal(t, errz.ErrRegisterType, fe.Kind)
		require.Equal(t, "LMain;->bad(J)I", fe.Method)
		require.Equal(t, 1, h.abortCount())
		require.Zero(t, h.thread.Depth())

		// Without shadow tags the same code runs.
		h = newHarness(t, image, WithDispatch(d))
		v, err := h.call("bad", "(J)I", Long(5))
		require.NoError(t, err)
		require.Equal(t, int32(5), v.AsInt())
	})
}

func TestConstReadableAsAnyNarrowKind(t *testing.T) {
	const image = `
[[class]]
name = "LMain;"

  [[class.method]]
  name = "mixed"
  descriptor = "()Z"
  flags = ["static"]
  registers = 3
  code = """
    const/4 v0, 0
    if-nez v0, :no
    add-float v1, v0, v0
    move-object v2, v0
    if-nez v2, :no
    const/4 v0, 1
    return v0
  :no
    const/4 v0, 0
    return v0
  """
`
	dispatches(t, func(t *testing.T, d Dispatch) {
		h := newHarness(t, image, WithDispatch(d), WithShadowTags(true))
		v, err := h.call("mixed", "()Z")
		require.NoError(t, err)
		require.True(t, v.AsBool())
		require.Zero(t, h.abortCount())
	})
}
