package vm

import (
	"fmt"
	"math"
	"runtime"

	"github.com/deepnoodle-ai/dvm/errz"
	"github.com/deepnoodle-ai/dvm/object"
	"github.com/deepnoodle-ai/dvm/op"
)

// control tells the dispatch loop what a handler did.
type control uint8

const (
	// ctlNext falls through to the next instruction.
	ctlNext control = iota
	// ctlJump means the handler moved pc forward.
	ctlJump
	// ctlBranch means the handler moved pc backward or onto itself.
	ctlBranch
	// ctlInvoke means a call was made: pc is the callee's first instruction,
	// or the instruction after the invoke if the callee was native.
	ctlInvoke
	// ctlReturn means the method finished with retval.
	ctlReturn
	// ctlThrow means an exception is pending on the thread.
	ctlThrow
	// ctlBail means the interpreter saved its state to switch variants.
	ctlBail
	// ctlDone means the loop must stop.
	ctlDone
)

type handler func(in *interp, unit uint16) control

// widths holds the width in code units of every opcode.
var widths [256]int

func init() {
	for i := range widths {
		widths[i] = op.GetInfo(op.Code(i)).Width()
	}
}

// interp is one activation of the dispatch loop on a thread. It caches the
// current frame in locals; the stack is the source of truth once the loop
// stops.
type interp struct {
	rt *Runtime
	t  *Thread
	st *stack

	m     *object.Method
	insns []uint16
	pool  *object.Pool
	pc    int
	fp    int
	raw   []uint32
	refs  []*object.Object
	tags  []Kind

	retval  Value
	retKind Kind

	// debug selects the instrumented variant; instr is its listener set.
	debug    bool
	instr    *instrumentation
	steps    int
	lastLine int

	// entryPending is set between entering a method and reporting the
	// entry at the invoke checkpoint.
	entryPending bool

	done   bool
	bailed bool
	halted bool
	err    *errz.FatalError
}

func newInterp(rt *Runtime, t *Thread, state InterpState) *interp {
	in := &interp{
		rt:           rt,
		t:            t,
		st:           t.st,
		retval:       state.Retval,
		retKind:      t.retKind,
		entryPending: state.MethodEntry,
	}
	in.instr = rt.instr.Load()
	in.debug = in.instr.active()
	in.setFrame(state.Method, state.FP)
	in.pc = state.PC
	return in
}

// setFrame makes the frame at fp, running m, the current frame.
func (in *interp) setFrame(m *object.Method, fp int) {
	in.m = m
	in.insns = m.Insns
	in.pool = m.Class.Pool
	in.fp = fp
	n := fp + m.RegistersSize
	in.raw = in.st.raw[fp:n:n]
	in.refs = in.st.refs[fp:n:n]
	if in.st.tags != nil {
		in.tags = in.st.tags[fp:n:n]
	}
	in.lastLine = -1
}

// execute runs the interpreter from state until the break frame below it is
// reached, switching between the plain and the instrumented variant as the
// runtime's instrumentation changes.
func (rt *Runtime) execute(t *Thread, state InterpState) (ferr *errz.FatalError, halted bool) {
	defer func() {
		if r := recover(); r != nil {
			re, ok := r.(runtime.Error)
			if !ok {
				panic(r)
			}
			ferr = errz.NewFatalError(errz.ErrInternal, "", 0, "interpreter fault: %v", re).WithStack(t.StackTrace())
		}
	}()
	for {
		in := newInterp(rt, t, state)
		in.run(state.Entry)
		switch {
		case in.err != nil:
			return in.err, false
		case in.halted:
			return nil, true
		case !in.bailed:
			return nil, false
		}
		rt.bails.Add(1)
		state = t.state
		t.log.Debug().
			Str("method", state.Method.String()).
			Int("pc", state.PC).
			Str("entry", state.Entry.String()).
			Bool("instrumented", rt.instrumented()).
			Msg("interpreter switch")
	}
}

func (in *interp) run(entry EntryPoint) {
	in.reportEntry()
	switch entry {
	case EntryReturn:
		in.transfer(ctlReturn)
	case EntryThrow:
		in.transfer(ctlThrow)
	}
	if in.rt.dispatch == DispatchSwitch {
		in.runSwitch()
	} else {
		in.runTable()
	}
}

// runTable is the table-dispatch loop.
func (in *interp) runTable() {
	for !in.done {
		unit := in.insns[in.pc]
		code := uint8(unit)
		if in.debug && !in.debugStep(op.Code(code)) {
			continue
		}
		if ctl := handlers[code](in, unit); ctl != ctlNext {
			in.transfer(ctl)
		} else {
			in.pc += widths[code]
		}
	}
}

// transfer completes a control transfer reported by a handler.
func (in *interp) transfer(ctl control) {
	for {
		switch ctl {
		case ctlNext, ctlJump:
			return
		case ctlBranch:
			if ctl = in.checkpoint(EntryInstruction); ctl == ctlNext {
				return
			}
		case ctlInvoke:
			c := in.checkpoint(EntryInstruction)
			if c == ctlBail {
				ctl = c
				continue
			}
			in.reportEntry()
			if c == ctlNext {
				return
			}
			ctl = c
		case ctlReturn:
			if c := in.checkpoint(EntryReturn); c != ctlNext {
				ctl = c
				continue
			}
			ctl = in.doReturn()
		case ctlThrow:
			if c := in.checkpoint(EntryThrow); c == ctlBail {
				ctl = c
				continue
			}
			in.unwind()
			return
		case ctlBail:
			in.bailed = true
			in.done = true
			return
		default:
			in.done = true
			return
		}
	}
}

// checkpoint is the safe point taken at backward branches, invokes,
// returns and throws. Its fast path is a single atomic load.
func (in *interp) checkpoint(entry EntryPoint) control {
	if in.t.pending.Load() == 0 {
		return ctlNext
	}
	return in.checkpointSlow(entry)
}

func (in *interp) checkpointSlow(entry EntryPoint) control {
	t := in.t
	p := t.pending.Load()
	if p&pendSuspend != 0 {
		in.st.current().SavedPC = in.pc
		t.waitWhileSuspended()
	}
	if p&pendStop != 0 {
		if exc := t.takeStop(); exc != nil {
			t.log.Debug().Str("exception", exc.Class().Name()).Msg("async stop delivered")
			t.exception = exc
			return ctlThrow
		}
	}
	if p&pendInstrumentation != 0 {
		t.pending.And(^pendInstrumentation)
		in.instr = in.rt.instr.Load()
		if in.instr.active() != in.debug {
			in.saveState(entry)
			return ctlBail
		}
	}
	return ctlNext
}

// saveState records where the interpreter stopped so the other variant can
// resume there.
func (in *interp) saveState(entry EntryPoint) {
	in.st.current().SavedPC = in.pc
	in.t.retKind = in.retKind
	in.t.state = InterpState{
		Method:      in.m,
		PC:          in.pc,
		FP:          in.fp,
		Retval:      in.retval,
		Entry:       entry,
		MethodEntry: in.entryPending,
	}
}

// debugStep runs the instrumentation hooks before an instruction. It
// returns false if the instruction must not run, because control moved or
// the loop stopped.
func (in *interp) debugStep(code op.Code) bool {
	instr := in.instr
	in.steps++
	if instr.interval > 0 && in.steps%instr.interval == 0 {
		if c := in.checkpoint(EntryInstruction); c != ctlNext {
			in.transfer(c)
			return false
		}
		instr = in.instr
	}
	if instr.profiler != nil {
		instr.profiler.step(code)
	}
	if instr.debugging {
		in.st.current().SavedPC = in.pc
		in.rt.debugger.check(in.t, in.m, in.pc)
	}
	if o := instr.observer; o != nil {
		cfg := instr.observerCfg
		fire := false
		switch cfg.StepMode {
		case StepAll:
			fire = true
		case StepSampled:
			fire = in.steps%cfg.SampleInterval == 0
		case StepOnLine:
			if line := in.m.LineFor(in.pc); line != in.lastLine {
				in.lastLine = line
				fire = true
			}
		}
		if fire {
			in.st.current().SavedPC = in.pc
			ev := StepEvent{
				Thread:     in.t,
				Method:     in.m,
				PC:         in.pc,
				Opcode:     code,
				OpcodeName: op.GetInfo(code).Name,
				Line:       in.m.LineFor(in.pc),
				FrameDepth: in.st.depth,
			}
			if !o.OnStep(ev) {
				in.halt()
				return false
			}
		}
	}
	return true
}

func (in *interp) halt() {
	in.halted = true
	in.done = true
}

// caller returns the method and saved pc of the frame below the current
// one, or nil at the outermost frame.
func (in *interp) caller() (*object.Method, int) {
	if d := in.st.depth - 2; d >= 0 {
		sa := &in.st.saves[d]
		return sa.Method, sa.SavedPC
	}
	return nil, 0
}

// reportEntry reports the current method's entry to the instrumentation if
// it has not been reported yet.
func (in *interp) reportEntry() {
	if !in.entryPending {
		return
	}
	in.entryPending = false
	if in.debug {
		in.notifyCall(in.m)
	}
}

func (in *interp) notifyCall(m *object.Method) {
	if p := in.instr.profiler; p != nil {
		p.enter(m)
	}
	if o := in.instr.observer; o != nil && in.instr.observerCfg.ObserveCalls {
		caller, pc := in.caller()
		ev := CallEvent{Thread: in.t, Method: m, Caller: caller, CallerPC: pc, FrameDepth: in.st.depth}
		if !o.OnCall(ev) {
			in.halt()
		}
	}
}

func (in *interp) notifyReturn(m *object.Method, v Value, exceptional bool) {
	if o := in.instr.observer; o != nil && in.instr.observerCfg.ObserveReturns {
		ev := ReturnEvent{Thread: in.t, Method: m, Value: v, Exceptional: exceptional, FrameDepth: in.st.depth}
		if !o.OnReturn(ev) {
			in.halt()
		}
	}
}

func (in *interp) notifyException(exc *object.Object, caught bool) {
	if o := in.instr.observer; o != nil && in.instr.observerCfg.ObserveExceptions {
		ev := ExceptionEvent{Thread: in.t, Exception: exc, Method: in.m, PC: in.pc, Caught: caught}
		if !o.OnException(ev) {
			in.halt()
		}
	}
}

// doReturn pops the current frame and resumes its caller after the invoke.
// Reaching a break frame ends the loop with the result on the thread.
func (in *interp) doReturn() control {
	t := in.t
	if in.debug {
		in.notifyReturn(in.m, in.retval, false)
	}
	if ctl := in.popFrame(); ctl != ctlNext {
		return ctl
	}
	cur := in.st.current()
	if cur.Break {
		t.retval = in.retval
		t.retKind = in.retKind
		in.done = true
		return ctlDone
	}
	in.setFrame(cur.Method, in.st.fp)
	in.pc = cur.SavedPC + widths[op.InvokeVirtual]
	if in.halted {
		return ctlDone
	}
	return ctlNext
}

// popFrame removes the current frame after checking its linkage, and
// releases the local references it created.
func (in *interp) popFrame() control {
	st := in.st
	sa, err := st.saveArea(in.fp)
	if err != nil {
		return in.fail(err.(*errz.FatalError).WithStack(in.t.StackTrace()))
	}
	if sa.Method != in.m || sa != st.current() {
		return in.abort(errz.ErrFrameLinkage, "frame at %d belongs to %v", in.fp, sa.Method)
	}
	top := sa.LocalRefTop
	st.pop()
	in.t.truncateLocalRefs(top)
	if st.depth == 0 {
		return in.abort(errz.ErrFrameLinkage, "returned past the outermost frame")
	}
	return ctlNext
}

// unwind delivers the pending exception: it clears it, searches the handler
// tables from the current frame outward, and re-arms it only if the chosen
// handler starts with move-exception. Without a handler the search stops at
// the break frame with the exception pending.
func (in *interp) unwind() {
	t := in.t
	exc := t.exception
	if exc == nil {
		in.abort(errz.ErrUnwind, "throw without a pending exception")
		return
	}
	if in.debug {
		if p := in.instr.profiler; p != nil {
			p.thrown()
		}
		in.notifyException(exc, false)
	}
	t.exception = nil
	found, ferr := in.findCatch(exc)
	if ferr != nil {
		in.fail(ferr)
		return
	}
	if !found {
		t.exception = exc
		in.done = true
		return
	}
	if in.st.overflowed() {
		if err := t.cleanupStackOverflow(); err != nil {
			in.fail(err.(*errz.FatalError).WithStack(t.StackTrace()))
			return
		}
	}
	if op.Code(uint8(in.insns[in.pc])) == op.MoveException {
		t.exception = exc
	}
	if in.debug {
		in.notifyException(exc, true)
	}
}

// findCatch searches the current frame and its callers for a handler of
// exc, popping frames that have none. It stops at a break frame.
func (in *interp) findCatch(exc *object.Object) (bool, *errz.FatalError) {
	for {
		pc, ok, err := in.matchHandler(exc)
		if err != nil {
			return false, err
		}
		if ok {
			in.pc = pc
			return true, nil
		}
		if in.debug {
			in.notifyReturn(in.m, Value{}, true)
		}
		if ctl := in.popFrame(); ctl != ctlNext {
			return false, in.err
		}
		cur := in.st.current()
		if cur.Break {
			return false, nil
		}
		in.setFrame(cur.Method, in.st.fp)
		in.pc = cur.SavedPC
	}
}

// matchHandler returns the handler of the current method covering pc whose
// type exc is an instance of. Handlers are tried in table order.
func (in *interp) matchHandler(exc *object.Object) (int, bool, *errz.FatalError) {
	for _, h := range in.m.Handlers {
		if !h.Covers(in.pc) {
			continue
		}
		if h.IsCatchAll() {
			return h.HandlerPC, true, nil
		}
		c, err := in.rt.resolver.ResolveClass(in.pool, uint32(h.TypeIdx))
		if err != nil {
			fe := errz.NewFatalError(errz.ErrUnwind, in.m.String(), in.pc,
				"cannot resolve catch type %d while delivering %s", h.TypeIdx, exc.Class().Name())
			return 0, false, fe.WithCause(err).WithStack(in.t.StackTrace())
		}
		if exc.Class().IsAssignableTo(c) {
			return h.HandlerPC, true, nil
		}
	}
	return 0, false, nil
}

// abort stops the loop with an engine-fatal error at the current pc.
func (in *interp) abort(kind errz.ErrorKind, format string, args ...any) control {
	if in.st.depth > 0 {
		in.st.current().SavedPC = in.pc
	}
	fe := errz.NewFatalError(kind, in.m.String(), in.pc, format, args...)
	return in.fail(fe.WithStack(in.t.StackTrace()))
}

func (in *interp) fail(fe *errz.FatalError) control {
	if in.err == nil {
		in.err = fe
	}
	in.done = true
	return ctlDone
}

// throwNew creates an exception of class desc at the current pc and makes
// it pending.
func (in *interp) throwNew(desc, msg string) control {
	in.st.current().SavedPC = in.pc
	exc, err := in.rt.newThrowable(in.t, desc, msg, in.t.captureBacktrace())
	if err != nil {
		return in.fail(err.(*errz.FatalError).WithStack(in.t.StackTrace()))
	}
	in.t.exception = exc
	return ctlThrow
}

func (in *interp) throwf(desc, format string, args ...any) control {
	return in.throwNew(desc, fmt.Sprintf(format, args...))
}

// throwErr raises the failure of a collaborator.
func (in *interp) throwErr(err error) control {
	switch e := err.(type) {
	case *errz.FatalError:
		return in.fail(e)
	case *ExceptionError:
		in.t.exception = e.Exception
		return ctlThrow
	}
	if err == ErrHalted {
		in.halt()
		return ctlDone
	}
	if te, ok := object.AsThrow(err); ok {
		return in.throwNew(te.Class, te.Message)
	}
	return in.throwNew(object.ExInternal, err.Error())
}

// Register access. With shadow tags enabled every read checks the kind of
// the last write.

func (in *interp) tagFail(r uint32, want string) {
	in.abort(errz.ErrRegisterType, "v%d holds %s, read as %s", r, in.tags[r], want)
}

func (in *interp) check(r uint32, want Kind) {
	if in.tags != nil && !in.tags[r].readable(want) {
		in.tagFail(r, want.String())
	}
}

// checkNarrow verifies that r holds a single-register value.
func (in *interp) checkNarrow(r uint32) {
	if in.tags == nil {
		return
	}
	switch in.tags[r] {
	case KindInt, KindFloat, KindRef, KindConst:
	default:
		in.tagFail(r, "narrow")
	}
}

// checkWide verifies that r and r+1 hold the two halves of a wide value.
func (in *interp) checkWide(r uint32) {
	if in.tags == nil {
		return
	}
	switch lo := in.tags[r]; lo {
	case KindLongLo, KindDoubleLo, KindWideConstLo:
		if in.tags[r+1] != hiKind(lo) {
			in.tagFail(r+1, hiKind(lo).String())
		}
	default:
		in.tagFail(r, "wide")
	}
}

func (in *interp) getInt(r uint32) int32 {
	in.check(r, KindInt)
	return int32(in.raw[r])
}

func (in *interp) getFloat(r uint32) float32 {
	in.check(r, KindFloat)
	return math.Float32frombits(in.raw[r])
}

func (in *interp) getRef(r uint32) *object.Object {
	in.check(r, KindRef)
	return in.refs[r]
}

func (in *interp) getWide(r uint32, lo Kind) uint64 {
	if in.tags != nil {
		in.check(r, lo)
		in.check(r+1, hiKind(lo))
	}
	return uint64(in.raw[r]) | uint64(in.raw[r+1])<<32
}

func (in *interp) getLong(r uint32) int64 { return int64(in.getWide(r, KindLongLo)) }

func (in *interp) getDouble(r uint32) float64 {
	return math.Float64frombits(in.getWide(r, KindDoubleLo))
}

// setNarrow writes a single-register value, clearing the reference half.
func (in *interp) setNarrow(r uint32, v uint32, k Kind) {
	in.raw[r] = v
	in.refs[r] = nil
	if in.tags != nil {
		in.tags[r] = k
	}
}

func (in *interp) setInt(r uint32, v int32)     { in.setNarrow(r, uint32(v), KindInt) }
func (in *interp) setFloat(r uint32, v float32) { in.setNarrow(r, math.Float32bits(v), KindFloat) }

// setRef writes a reference, clearing the raw half.
func (in *interp) setRef(r uint32, o *object.Object) {
	in.raw[r] = 0
	in.refs[r] = o
	if in.tags != nil {
		in.tags[r] = KindRef
	}
}

func (in *interp) setWide(r uint32, v uint64, lo Kind) {
	in.raw[r] = uint32(v)
	in.raw[r+1] = uint32(v >> 32)
	in.refs[r] = nil
	in.refs[r+1] = nil
	if in.tags != nil {
		in.tags[r] = lo
		in.tags[r+1] = hiKind(lo)
	}
}

func (in *interp) setLong(r uint32, v int64)     { in.setWide(r, uint64(v), KindLongLo) }
func (in *interp) setDouble(r uint32, v float64) { in.setWide(r, math.Float64bits(v), KindDoubleLo) }

// setValue writes a result of the given kind.
func (in *interp) setValue(r uint32, v Value, k Kind) {
	switch k {
	case KindRef:
		in.setRef(r, v.ref)
	case KindLongLo, KindDoubleLo, KindWideConstLo:
		in.setWide(r, v.bits, k)
	default:
		in.setNarrow(r, uint32(v.bits), k)
	}
}
