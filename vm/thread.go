package vm

import (
	"fmt"
	"sync/atomic"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog"

	"github.com/deepnoodle-ai/dvm/errz"
	"github.com/deepnoodle-ai/dvm/object"
)

// Status is the scheduling state of a thread as seen by SuspendAll.
type Status int32

const (
	// StatusIdle threads are attached but not executing bytecode.
	StatusIdle Status = iota
	StatusRunning
	// StatusNative threads are inside a native method and may block
	// indefinitely; suspension does not wait for them.
	StatusNative
	// StatusMonitor threads are blocked entering a monitor.
	StatusMonitor
	StatusSuspended
	// StatusWaiting threads are blocked on class initialization by another
	// thread.
	StatusWaiting
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusNative:
		return "native"
	case StatusMonitor:
		return "monitor"
	case StatusSuspended:
		return "suspended"
	case StatusWaiting:
		return "waiting"
	}
	return "unknown"
}

// EntryPoint says where execution resumes when the interpreter is
// re-entered from a saved InterpState.
type EntryPoint uint8

const (
	// EntryInstruction resumes by executing the instruction at PC.
	EntryInstruction EntryPoint = iota
	// EntryReturn resumes by completing a return with Retval.
	EntryReturn
	// EntryThrow resumes by unwinding the thread's pending exception.
	EntryThrow
)

func (e EntryPoint) String() string {
	switch e {
	case EntryInstruction:
		return "instruction"
	case EntryReturn:
		return "return"
	case EntryThrow:
		return "throw"
	}
	return "unknown"
}

// InterpState is the position of an interpreter that stopped to switch
// between the plain and the instrumented variant.
type InterpState struct {
	Method *object.Method
	PC     int
	FP     int
	Retval Value
	Entry  EntryPoint
	// MethodEntry is set when Method was entered but its entry has not
	// been reported to the instrumentation yet.
	MethodEntry bool
}

// Pending bits of a thread's checkpoint word.
const (
	pendSuspend uint32 = 1 << iota
	pendStop
	pendInstrumentation
)

// Thread is the execution state of one interpreter thread. A thread is
// driven by a single goroutine at a time; other goroutines may only suspend,
// resume or stop it.
type Thread struct {
	ID   uuid.UUID
	Name string

	rt    *Runtime
	st    *stack
	log   zerolog.Logger
	state InterpState

	exception *object.Object
	retval    Value
	retKind   Kind
	localRefs []*object.Object

	// fatal is an engine-fatal condition raised by native code, picked up
	// when the native returns. aborted is set once the abort handler ran.
	fatal   *errz.FatalError
	aborted bool

	// pending is the checkpoint word: zero unless the runtime wants the
	// thread to stop at its next checkpoint.
	pending      atomic.Uint32
	status       atomic.Int32
	suspendCount int // guarded by rt.mu
	stopWith     *object.Object
}

// Status returns the thread's scheduling state.
func (t *Thread) Status() Status { return Status(t.status.Load()) }

// setStatus changes the scheduling state and wakes a SuspendAll waiting for
// the thread to reach a safe state.
func (t *Thread) setStatus(s Status) {
	t.status.Store(int32(s))
	if t.pending.Load()&pendSuspend != 0 {
		t.rt.mu.Lock()
		t.rt.cond.Broadcast()
		t.rt.mu.Unlock()
	}
}

// setRunning marks the thread as executing bytecode. A thread that was
// asked to suspend while it was not running waits here first.
func (t *Thread) setRunning() {
	t.status.Store(int32(StatusRunning))
	if t.pending.Load()&pendSuspend != 0 {
		t.waitWhileSuspended()
	}
}

// Runtime returns the runtime the thread is attached to.
func (t *Thread) Runtime() *Runtime { return t.rt }

// Exception returns the pending exception, or nil.
func (t *Thread) Exception() *object.Object { return t.exception }

// SetException makes o the pending exception.
func (t *Thread) SetException(o *object.Object) { t.exception = o }

// ClearException discards the pending exception.
func (t *Thread) ClearException() { t.exception = nil }

// Depth returns the number of frames on the thread's stack, break frames
// included.
func (t *Thread) Depth() int { return t.st.depth }

// StackOverflowed reports whether the thread is using its stack reserve.
func (t *Thread) StackOverflowed() bool { return t.st.overflowed() }

// Frames describes the thread's stack from the innermost frame outward.
func (t *Thread) Frames() []FrameInfo {
	return t.st.frames(t.st.current().SavedPC)
}

// StackTrace returns the thread's stack as error stack frames.
func (t *Thread) StackTrace() []errz.StackFrame {
	if t.st.depth == 0 {
		return nil
	}
	return stackTrace(t.Frames())
}

// State returns the interpreter state saved by the last variant switch.
func (t *Thread) State() InterpState { return t.state }

// AddLocalRef keeps o reachable until the native frame that added it
// returns.
func (t *Thread) AddLocalRef(o *object.Object) {
	t.localRefs = append(t.localRefs, o)
}

// LocalRefs returns the number of live local references.
func (t *Thread) LocalRefs() int { return len(t.localRefs) }

// Suspend asks the thread to stop at its next checkpoint and waits until it
// is in a safe state. It must not be called by the thread itself.
func (t *Thread) Suspend() {
	rt := t.rt
	rt.mu.Lock()
	defer rt.mu.Unlock()
	t.suspendCount++
	t.pending.Or(pendSuspend)
	for t.Status() == StatusRunning {
		rt.cond.Wait()
	}
}

// Resume undoes one Suspend.
func (t *Thread) Resume() {
	rt := t.rt
	rt.mu.Lock()
	defer rt.mu.Unlock()
	t.resumeLocked()
	rt.cond.Broadcast()
}

func (t *Thread) resumeLocked() {
	if t.suspendCount == 0 {
		return
	}
	t.suspendCount--
	if t.suspendCount == 0 {
		t.pending.And(^pendSuspend)
	}
}

// Stop asks the thread to throw exc at its next checkpoint.
func (t *Thread) Stop(exc *object.Object) {
	t.rt.mu.Lock()
	t.stopWith = exc
	t.rt.mu.Unlock()
	t.pending.Or(pendStop)
}

// waitWhileSuspended blocks while the thread's suspend count is non-zero.
func (t *Thread) waitWhileSuspended() {
	rt := t.rt
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if t.suspendCount == 0 {
		return
	}
	prev := t.Status()
	t.log.Debug().Msg("thread suspended")
	for t.suspendCount > 0 {
		t.status.Store(int32(StatusSuspended))
		rt.cond.Broadcast()
		rt.cond.Wait()
	}
	t.status.Store(int32(prev))
	t.log.Debug().Msg("thread resumed")
}

// takeStop returns and clears a pending async stop exception.
func (t *Thread) takeStop() *object.Object {
	t.rt.mu.Lock()
	defer t.rt.mu.Unlock()
	exc := t.stopWith
	t.stopWith = nil
	t.pending.And(^pendStop)
	return exc
}

// cleanupStackOverflow gives the stack reserve back once a StackOverflowError
// has been caught or has left the interpreter. The current frame must be
// out of the reserve.
func (t *Thread) cleanupStackOverflow() error {
	if t.st.bottom() < t.st.reserve {
		return errz.NewFatalError(errz.ErrStackOverflow, "", 0,
			"cannot shrink stack: current frame at %d is in the reserve", t.st.fp)
	}
	t.st.floor = t.st.reserve
	t.log.Debug().Msg("stack overflow cleared")
	return nil
}

// Run calls m with args and hands an uncaught exception to the runtime's
// uncaught exception handler, which may terminate the thread's work. It
// returns the result, or the error Interpret returned.
func (t *Thread) Run(m *object.Method, args ...Value) (Value, error) {
	v, err := t.rt.Interpret(t, m, args...)
	if err != nil {
		if exc, ok := err.(*ExceptionError); ok {
			t.exception = nil
			t.rt.uncaught(t, exc)
		}
		return Value{}, err
	}
	return v, nil
}

func (t *Thread) String() string {
	if t.Name != "" {
		return fmt.Sprintf("%s (%s)", t.Name, t.ID)
	}
	return t.ID.String()
}

// truncateLocalRefs releases local references created after the table had
// top entries.
func (t *Thread) truncateLocalRefs(top int) {
	if top < len(t.localRefs) {
		clear(t.localRefs[top:])
		t.localRefs = t.localRefs[:top]
	}
}
