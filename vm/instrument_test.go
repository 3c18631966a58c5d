package vm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/dvm/object"
)

type recordingObserver struct {
	NoOpObserver
	cfg ObserverConfig

	mu         sync.Mutex
	steps      []string
	calls      []CallEvent
	returns    []ReturnEvent
	exceptions []ExceptionEvent
	stopAfter  int
}

func (o *recordingObserver) Config() ObserverConfig { return o.cfg }

func (o *recordingObserver) OnStep(ev StepEvent) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.steps = append(o.steps, ev.OpcodeName)
	return o.stopAfter == 0 || len(o.steps) < o.stopAfter
}

func (o *recordingObserver) OnCall(ev CallEvent) bool {
	o.mu.Lock()
	o.calls = append(o.calls, ev)
	o.mu.Unlock()
	return true
}

func (o *recordingObserver) OnReturn(ev ReturnEvent) bool {
	o.mu.Lock()
	o.returns = append(o.returns, ev)
	o.mu.Unlock()
	return true
}

func (o *recordingObserver) OnException(ev ExceptionEvent) bool {
	o.mu.Lock()
	o.exceptions = append(o.exceptions, ev)
	o.mu.Unlock()
	return true
}

const instrumentImage = `
[[class]]
name = "LMain;"

  [[class.method]]
  name = "flip"
  descriptor = "()V"
  flags = ["static", "native"]

  [[class.method]]
  name = "square"
  descriptor = "(I)I"
  flags = ["static"]
  registers = 2
  code = """
    mul-int v0, v1, v1
    return v0
  """

  [[class.method]]
  name = "sumSquares"
  descriptor = "(I)I"
  flags = ["static"]
  registers = 4
  code = """
  .line 10
    const/4 v0, 0
    const/4 v1, 1
  :loop
  .line 11
    if-gt v1, v3, :done
    invoke-static {v1}, LMain;->square(I)I
    move-result v2
    add-int/2addr v0, v2
    add-int/lit8 v1, v1, 1
    goto :loop
  :done
  .line 12
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
  name = "toggled"
  descriptor = "(I)I"
  flags = ["static"]
  registers = 3
  code = """
    const/4 v0, 0
    invoke-static {}, LMain;->flip()V
  :loop
    if-ge v0, v2, :done
    add-int/lit8 v0, v0, 1
    goto :loop
  :done
    return v0
  """
`

func TestObserverEvents(t *testing.T) {
	dispatches(t, func(t *testing.T, d Dispatch) {
		obs := &recordingObserver{cfg: NewObserverConfig(StepAll)}
		h := newHarness(t, instrumentImage, WithDispatch(d), WithObserver(obs))
		v, err := h.call("sumSquares", "(I)I", Int(3))
		require.NoError(t, err)
		require.Equal(t, int32(14), v.AsInt())

		require.Equal(t, "const/4", obs.steps[0])
		require.Equal(t, "return", obs.steps[len(obs.steps)-1])
		require.Len(t, obs.calls, 4)
		require.Nil(t, obs.calls[0].Caller)
		require.Equal(t, "sumSquares", obs.calls[0].Method.Name)
		require.Equal(t, "sumSquares", obs.calls[1].Caller.Name)
		require.Equal(t, "square", obs.calls[1].Method.Name)
		require.Len(t, obs.returns, 4)
		last := obs.returns[len(obs.returns)-1]
		require.Equal(t, "sumSquares", last.Method.Name)
		require.Equal(t, int32(14), last.Value.AsInt())
		require.False(t, last.Exceptional)
	})
}

func TestObserverExceptions(t *testing.T) {
	obs := &recordingObserver{cfg: NewObserverConfig(StepNone)}
	h := newHarness(t, instrumentImage, WithObserver(obs))
	v, err := h.call("safeDiv", "(II)I", Int(1), Int(0))
	require.NoError(t, err)
	require.Equal(t, int32(-1), v.AsInt())
	require.Empty(t, obs.steps)
	require.Len(t, obs.exceptions, 2)
	require.False(t, obs.exceptions[0].Caught)
	require.True(t, obs.exceptions[1].Caught)
	require.Equal(t, object.ExArithmetic, obs.exceptions[0].Exception.Class().Descriptor)
}

func TestObserverLineMode(t *testing.T) {
	obs := &recordingObserver{cfg: NewObserverConfig(StepOnLine)}
	h := newHarness(t, instrumentImage, WithObserver(obs))
	_, err := h.call("sumSquares", "(I)I", Int(0))
	require.NoError(t, err)
	// Lines 10, 11 and 12 each fire once.
	require.Equal(t, []string{"const/4", "if-gt", "return"}, obs.steps)
}

func TestObserverHalt(t *testing.T) {
	dispatches(t, func(t *testing.T, d Dispatch) {
		obs := &recordingObserver{cfg: NewObserverConfig(StepAll), stopAfter: 5}
		h := newHarness(t, instrumentImage, WithDispatch(d), WithObserver(obs))
		_, err := h.call("sumSquares", "(I)I", Int(100))
		require.ErrorIs(t, err, ErrHalted)
		require.Len(t, obs.steps, 5)
		require.Zero(t, h.thread.Depth())
		require.Nil(t, h.thread.Exception())

		// Removing the observer lets the next run complete.
		h.rt.SetObserver(nil)
		v, err := h.call("sumSquares", "(I)I", Int(2))
		require.NoError(t, err)
		require.Equal(t, int32(5), v.AsInt())
	})
}

func TestDebuggerBreakpoints(t *testing.T) {
	dispatches(t, func(t *testing.T, d Dispatch) {
		h := newHarness(t, instrumentImage, WithDispatch(d))
		square := h.method(t, "LMain;", "square", "(I)I")
		dbg := h.rt.Debugger()

		require.Error(t, dbg.SetBreakpoint(square, 1))
		require.NoError(t, dbg.SetBreakpoint(square, 0))
		require.Len(t, dbg.Breakpoints(), 1)

		var events []BreakEvent
		dbg.OnBreak(func(ev BreakEvent) {
			events = append(events, ev)
			require.Equal(t, 3, ev.Thread.Depth())
		})
		v, err := h.call("sumSquares", "(I)I", Int(3))
		require.NoError(t, err)
		require.Equal(t, int32(14), v.AsInt())
		require.Len(t, events, 3)
		for _, ev := range events {
			require.Same(t, square, ev.Method)
			require.Zero(t, ev.PC)
			require.False(t, ev.Step)
		}

		require.True(t, dbg.ClearBreakpoint(square, 0))
		require.False(t, dbg.ClearBreakpoint(square, 0))
		events = nil
		_, err = h.call("sumSquares", "(I)I", Int(3))
		require.NoError(t, err)
		require.Empty(t, events)
	})
}

func TestDebuggerStepping(t *testing.T) {
	h := newHarness(t, instrumentImage)
	dbg := h.rt.Debugger()
	var steps int
	dbg.OnBreak(func(ev BreakEvent) {
		require.True(t, ev.Step)
		steps++
	})
	dbg.SetStepping(true)
	_, err := h.call("square", "(I)I", Int(3))
	require.NoError(t, err)
	require.Equal(t, 2, steps)

	dbg.SetStepping(false)
	_, err = h.call("square", "(I)I", Int(3))
	require.NoError(t, err)
	require.Equal(t, 2, steps)
}

func TestProfiler(t *testing.T) {
	dispatches(t, func(t *testing.T, d Dispatch) {
		p := NewProfiler()
		h := newHarness(t, instrumentImage, WithDispatch(d), WithProfiler(p))
		_, err := h.call("sumSquares", "(I)I", Int(4))
		require.NoError(t, err)
		_, err = h.call("safeDiv", "(II)I", Int(1), Int(0))
		require.NoError(t, err)

		prof := h.rt.Profile()
		require.Equal(t, uint64(1), prof.Methods["LMain;->sumSquares(I)I"])
		require.Equal(t, uint64(4), prof.Methods["LMain;->square(I)I"])
		require.Equal(t, uint64(4), prof.Opcodes["mul-int"])
		require.Equal(t, uint64(5), prof.Opcodes["if-gt"])
		require.Equal(t, uint64(1), prof.Exceptions)
		require.NotZero(t, prof.Instructions)

		top := prof.TopMethods(1)
		require.Len(t, top, 1)
		require.Equal(t, "LMain;->square(I)I", top[0].Name)

		data, err := EncodeProfile(prof)
		require.NoError(t, err)
		decoded, err := DecodeProfile(data)
		require.NoError(t, err)
		require.Equal(t, prof, decoded)

		p.Reset()
		require.Zero(t, h.rt.Profile().Instructions)
	})
}

func TestInstrumentationSwitchMidRun(t *testing.T) {
	dispatches(t, func(t *testing.T, d Dispatch) {
		h := newHarness(t, instrumentImage, WithDispatch(d))
		h.rt.Natives().Register("LMain;", "flip", "()V", func(t *Thread, _ *object.Method, _ Args) (Value, *object.Object) {
			t.Runtime().SetProfiling(true)
			return Value{}, nil
		})
		v, err := h.call("toggled", "(I)I", Int(10))
		require.NoError(t, err)
		require.Equal(t, int32(10), v.AsInt())
		require.GreaterOrEqual(t, h.rt.Bails(), uint64(1))

		// Only the instructions after the switch were counted.
		prof := h.rt.Profile()
		require.Equal(t, uint64(10), prof.Opcodes["add-int/lit8"])
		require.Zero(t, prof.Opcodes["const/4"])

		// Switching back to the plain interpreter also takes effect.
		bails := h.rt.Bails()
		h.rt.Natives().Register("LMain;", "flip", "()V", func(t *Thread, _ *object.Method, _ Args) (Value, *object.Object) {
			t.Runtime().SetProfiling(false)
			return Value{}, nil
		})
		v, err = h.call("toggled", "(I)I", Int(3))
		require.NoError(t, err)
		require.Equal(t, int32(3), v.AsInt())
		require.Greater(t, h.rt.Bails(), bails)
		require.Equal(t, uint64(10), h.rt.Profile().Opcodes["add-int/lit8"])
	})
}

func TestObserverConfigNormalize(t *testing.T) {
	cfg := NormalizeConfig(ObserverConfig{StepMode: StepSampled})
	require.Equal(t, 1, cfg.SampleInterval)
	cfg = NormalizeConfig(NewObserverConfig(StepSampled))
	require.Equal(t, 1000, cfg.SampleInterval)
}
