package vm

import (
	"fmt"

	"github.com/deepnoodle-ai/dvm/errz"
	"github.com/deepnoodle-ai/dvm/object"
)

// Interpret runs m on t with args and returns its result. It may be called
// from outside the engine or re-entrantly, for example by a native or a
// class initializer: a break frame isolates the nested run, so its
// exceptions and returns stop there.
//
// An exception escaping m is returned as an *ExceptionError. An
// engine-fatal condition is reported to the abort handler once and returned
// as an *errz.FatalError. ErrHalted is returned if an observer stopped
// execution.
func (rt *Runtime) Interpret(t *Thread, m *object.Method, args ...Value) (Value, error) {
	if t.rt != rt {
		return Value{}, fmt.Errorf("thread %s belongs to another runtime", t)
	}
	if m.IsAbstract() {
		return Value{}, fmt.Errorf("cannot interpret abstract method %s", m)
	}
	params, _, err := object.ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return Value{}, err
	}
	if !m.IsStatic() {
		params = append([]string{m.Class.Descriptor}, params...)
	}
	if len(params) != len(args) {
		return Value{}, fmt.Errorf("%s takes %d arguments, got %d", m, len(params), len(args))
	}

	prev := t.Status()
	t.setRunning()
	defer func() {
		if prev != StatusRunning {
			t.setStatus(prev)
		}
	}()

	st := t.st
	depth, localTop := st.depth, len(t.localRefs)
	instr := rt.instr.Load()
	defer func() {
		for st.depth > depth {
			st.pop()
		}
		t.truncateLocalRefs(localTop)
		if st.overflowed() && st.bottom() >= st.reserve {
			if err := t.cleanupStackOverflow(); err != nil {
				t.log.Error().Err(err).Msg("stack overflow cleanup failed")
			}
		}
		// A nested run may have consumed an instrumentation change meant
		// for the interpreter below it.
		if depth > 0 && rt.instr.Load() != instr {
			t.pending.Or(pendInstrumentation)
		}
	}()

	fp, ferr := rt.pushEntry(t, m, localTop)
	if ferr != nil {
		return Value{}, rt.finishFatal(t, depth, ferr)
	}
	if fp < 0 {
		return Value{}, rt.finishException(t, depth)
	}
	if err := marshalArgs(st, m, fp, params, args); err != nil {
		return Value{}, err
	}

	var halted bool
	if m.IsNative() {
		v, _ := rt.invokeNative(t, m, fp)
		t.retval = v
		t.retKind = returnKind(m.Shorty[0])
		ferr = t.fatal
	} else {
		ferr, halted = rt.execute(t, InterpState{Method: m, FP: fp, Entry: EntryInstruction, MethodEntry: true})
	}
	switch {
	case ferr != nil:
		return Value{}, rt.finishFatal(t, depth, ferr)
	case halted:
		return Value{}, ErrHalted
	case t.exception != nil:
		return Value{}, rt.finishException(t, depth)
	}
	return t.retval, nil
}

// pushEntry pushes the break frame and the frame of m. It returns -1 with a
// pending StackOverflowError if the stack is exhausted.
func (rt *Runtime) pushEntry(t *Thread, m *object.Method, localTop int) (int, *errz.FatalError) {
	st := t.st
	if _, ok := st.push(nil, true, localTop); ok {
		if fp, ok := st.push(m, false, localTop); ok {
			return fp, nil
		}
	}
	if st.overflowed() {
		return -1, errz.NewFatalError(errz.ErrStackOverflow, m.String(), 0,
			"stack overflow entering %s while handling a stack overflow", m).WithStack(t.StackTrace())
	}
	st.floor = 0
	exc, err := rt.newThrowable(t, object.ExStackOverflow, "stack size exceeded entering "+m.String(), t.captureBacktrace())
	if err != nil {
		return -1, err.(*errz.FatalError)
	}
	t.exception = exc
	return -1, nil
}

// marshalArgs writes args into the ins of the frame at fp according to the
// parameter types: wide values take two words.
func marshalArgs(st *stack, m *object.Method, fp int, params []string, args []Value) error {
	words := 0
	for _, p := range params {
		words++
		if object.IsWide(p) {
			words++
		}
	}
	if words != m.InsSize {
		return fmt.Errorf("%s has %d argument words, descriptor needs %d", m, m.InsSize, words)
	}
	i := fp + m.RegistersSize - m.InsSize
	for n, p := range params {
		v := args[n]
		k := kindOf(p[0])
		switch {
		case k == KindRef:
			st.raw[i] = 0
			st.refs[i] = v.ref
		case object.IsWide(p):
			st.raw[i] = uint32(v.bits)
			st.raw[i+1] = uint32(v.bits >> 32)
			st.refs[i], st.refs[i+1] = nil, nil
			if st.tags != nil {
				st.tags[i], st.tags[i+1] = k, hiKind(k)
			}
			i += 2
			continue
		default:
			st.raw[i] = uint32(v.bits)
			st.refs[i] = nil
		}
		if st.tags != nil {
			st.tags[i] = k
		}
		i++
	}
	return nil
}

// finishFatal reports fe to the abort handler unless a nested run already
// did. The outermost run resets the thread's fatal state.
func (rt *Runtime) finishFatal(t *Thread, depth int, fe *errz.FatalError) error {
	if !t.aborted {
		t.aborted = true
		t.fatal = fe
		rt.fatal(t, fe)
	}
	if depth == 0 {
		t.aborted = false
		t.fatal = nil
	}
	return fe
}

// finishException converts the pending exception into an error. The
// outermost run clears it from the thread.
func (rt *Runtime) finishException(t *Thread, depth int) error {
	ee := newExceptionError(t.exception)
	if depth == 0 {
		t.exception = nil
	}
	return ee
}

// Invoke looks up the method class->name desc and interprets it, running
// the class's static initializer first for static methods.
func (rt *Runtime) Invoke(t *Thread, class, name, desc string, args ...Value) (Value, error) {
	c, err := rt.resolver.Lookup(class)
	if err != nil {
		return Value{}, err
	}
	m := c.FindMethod(name, desc)
	if m == nil {
		return Value{}, fmt.Errorf("method %s->%s%s not found", class, name, desc)
	}
	if m.IsStatic() {
		if err := rt.initClass(t, c); err != nil {
			return Value{}, rt.raise(t, err)
		}
	}
	return rt.Interpret(t, m, args...)
}

// raise converts a collaborator failure outside the interpreter loop into
// the error Interpret would return for it.
func (rt *Runtime) raise(t *Thread, err error) error {
	te, ok := object.AsThrow(err)
	if !ok {
		if ee, ok := err.(*ExceptionError); ok && t.st.depth == 0 {
			t.exception = nil
			return ee
		}
		return err
	}
	exc, nerr := rt.newThrowable(t, te.Class, te.Message, t.captureBacktrace())
	if nerr != nil {
		return nerr
	}
	return newExceptionError(exc)
}
