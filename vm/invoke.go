package vm

import (
	"github.com/deepnoodle-ai/dvm/bytecode"
	"github.com/deepnoodle-ai/dvm/errz"
	"github.com/deepnoodle-ai/dvm/object"
	"github.com/deepnoodle-ai/dvm/op"
)

// argRegs is the argument list of an invoke or filled-new-array: up to five
// explicit registers, or a contiguous range.
type argRegs struct {
	rng   bool
	first uint32
	regs  [5]uint32
	count int
}

func (a *argRegs) reg(i int) uint32 {
	if a.rng {
		return a.first + uint32(i)
	}
	return a.regs[i]
}

// decodeArgs decodes the 35c or 3rc operands of the instruction at pc.
func decodeArgs(insns []uint16, pc int, rng bool) argRegs {
	unit := insns[pc]
	if rng {
		return argRegs{rng: true, count: int(bytecode.AA(unit)), first: uint32(insns[pc+2])}
	}
	a := argRegs{count: int(bytecode.B(unit))}
	regs := insns[pc+2]
	a.regs = [5]uint32{
		uint32(regs & 0xf),
		uint32(regs >> 4 & 0xf),
		uint32(regs >> 8 & 0xf),
		uint32(regs >> 12),
		bytecode.A(unit),
	}
	return a
}

func opInvoke(in *interp, unit uint16) control {
	switch bytecode.Opcode(unit) {
	case op.InvokeVirtual:
		return in.invoke(object.MethodVirtual, false)
	case op.InvokeSuper:
		return in.invoke(object.MethodSuper, false)
	case op.InvokeDirect:
		return in.invoke(object.MethodDirect, false)
	case op.InvokeStatic:
		return in.invoke(object.MethodStatic, false)
	case op.InvokeInterface:
		return in.invoke(object.MethodInterface, false)
	case op.InvokeVirtualRange:
		return in.invoke(object.MethodVirtual, true)
	case op.InvokeSuperRange:
		return in.invoke(object.MethodSuper, true)
	case op.InvokeDirectRange:
		return in.invoke(object.MethodDirect, true)
	case op.InvokeStaticRange:
		return in.invoke(object.MethodStatic, true)
	}
	return in.invoke(object.MethodInterface, true)
}

// invoke resolves the method of the current invoke instruction, selects the
// implementation for the receiver and calls it.
func (in *interp) invoke(kind object.MethodKind, rng bool) control {
	m, err := in.rt.resolver.ResolveMethod(in.pool, uint32(in.insns[in.pc+1]), kind)
	if err != nil {
		return in.throwErr(err)
	}
	args := decodeArgs(in.insns, in.pc, rng)
	target := m
	if kind == object.MethodStatic {
		if ctl := in.ensureInit(m.Class); ctl != ctlNext {
			return ctl
		}
	} else {
		if args.count == 0 {
			return in.abort(errz.ErrInternal, "%s invoke of %s without a receiver", kind, m)
		}
		this := in.getRef(args.reg(0))
		if this == nil {
			return in.throwf(object.ExNullPointer,
				"Attempt to invoke %s method '%s' on a null object reference", kind, m)
		}
		switch kind {
		case object.MethodVirtual:
			if idx := m.VtableIndex; idx >= 0 {
				vt := this.Class().Vtable
				if idx >= len(vt) {
					return in.throwf(object.ExIncompatibleClassChange, "%s has no vtable slot %d for %s",
						this.Class().Name(), idx, m)
				}
				target = vt[idx]
			}
		case object.MethodSuper:
			if idx := m.VtableIndex; idx >= 0 {
				super := in.m.Class.Super
				if super == nil || idx >= len(super.Vtable) {
					return in.throwf(object.ExNoSuchMethod, "super method %s", m)
				}
				target = super.Vtable[idx]
			}
		case object.MethodInterface:
			target, err = in.rt.icache.lookup(this.Class(), m)
			if err != nil {
				return in.throwErr(err)
			}
		}
	}
	if target.IsAbstract() {
		return in.throwf(object.ExAbstractMethod, "abstract method %s", target)
	}
	return in.call(target, args)
}

// call pushes a frame for m and copies the arguments into its ins. An
// interpreted callee becomes the current frame; a native one runs to
// completion here.
func (in *interp) call(m *object.Method, args argRegs) control {
	st := in.st
	st.current().SavedPC = in.pc
	if args.count != m.InsSize {
		return in.abort(errz.ErrFrameLinkage, "%s takes %d argument words, got %d", m, m.InsSize, args.count)
	}
	fp, ok := st.push(m, false, len(in.t.localRefs))
	if !ok {
		return in.stackOverflow(m)
	}
	base := fp + m.RegistersSize - m.InsSize
	for i := 0; i < args.count; i++ {
		r := args.reg(i)
		st.raw[base+i] = in.raw[r]
		st.refs[base+i] = in.refs[r]
		if in.tags != nil {
			st.tags[base+i] = in.tags[r]
		}
	}
	if m.IsNative() {
		return in.callNative(m, fp)
	}
	in.setFrame(m, fp)
	in.pc = 0
	in.entryPending = true
	return ctlInvoke
}

// stackOverflow raises StackOverflowError, opening the reserve for its
// delivery. Overflowing again before the reserve is given back is fatal.
func (in *interp) stackOverflow(m *object.Method) control {
	st := in.st
	if st.overflowed() {
		return in.abort(errz.ErrStackOverflow, "stack overflow calling %s while handling a stack overflow", m)
	}
	st.floor = 0
	in.t.log.Debug().Str("method", m.String()).Int("depth", st.depth).Msg("stack overflow")
	return in.throwNew(object.ExStackOverflow, "stack size exceeded calling "+m.String())
}

// callNative runs the native m, whose frame at fp is already pushed, and
// pops the frame again.
func (in *interp) callNative(m *object.Method, fp int) control {
	t := in.t
	if in.debug {
		in.notifyCall(m)
		if in.halted {
			return ctlDone
		}
	}
	v, exc := in.rt.invokeNative(t, m, fp)
	if in.debug {
		in.notifyReturn(m, v, exc != nil || t.exception != nil)
	}
	top := in.st.current().LocalRefTop
	in.st.pop()
	t.truncateLocalRefs(top)
	switch {
	case t.fatal != nil:
		return in.fail(t.fatal)
	case in.halted:
		return ctlDone
	case t.exception != nil:
		return ctlThrow
	}
	in.retval = v
	in.retKind = returnKind(m.Shorty[0])
	in.pc += widths[op.InvokeVirtual]
	return ctlInvoke
}

// returnKind returns the register tag of a result of shorty type typ.
func returnKind(typ byte) Kind {
	if typ == 'V' {
		return KindUnset
	}
	return kindOf(typ)
}

// invokeNative calls the native m through the bridge with the ins of the
// frame at fp. A synchronized method holds its monitor for the duration of
// the call. An exception result is left pending on the thread.
func (rt *Runtime) invokeNative(t *Thread, m *object.Method, fp int) (Value, *object.Object) {
	st := t.st
	lo := fp + m.RegistersSize - m.InsSize
	hi := fp + m.RegistersSize
	args := Args{raw: st.raw[lo:hi:hi], refs: st.refs[lo:hi:hi]}

	var mon *object.Monitor
	if m.IsSynchronized() {
		lock := m.Class.Mirror
		if !m.IsStatic() {
			lock = args.This()
		}
		if lock != nil {
			mon = lock.Monitor()
			rt.monitorEnter(t, mon)
		}
	}
	t.setStatus(StatusNative)
	v, exc := rt.bridge.Call(t, m, args)
	t.setRunning()
	if mon != nil {
		mon.Exit(t)
	}
	if exc != nil {
		t.exception = exc
	}
	return v, exc
}
