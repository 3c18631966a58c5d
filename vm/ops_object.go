package vm

import (
	"github.com/deepnoodle-ai/dvm/bytecode"
	"github.com/deepnoodle-ai/dvm/errz"
	"github.com/deepnoodle-ai/dvm/object"
	"github.com/deepnoodle-ai/dvm/op"
)

func opConstString(in *interp, unit uint16) control {
	idx := uint32(in.insns[in.pc+1])
	if bytecode.Opcode(unit) == op.ConstStringJumbo {
		idx = bytecode.Unit32(in.insns, in.pc+1)
	}
	s, err := in.rt.resolver.ResolveString(in.pool, idx)
	if err != nil {
		return in.throwErr(err)
	}
	in.setRef(bytecode.AA(unit), s)
	return ctlNext
}

func opConstClass(in *interp, unit uint16) control {
	c, err := in.rt.resolver.ResolveClass(in.pool, uint32(in.insns[in.pc+1]))
	if err != nil {
		return in.throwErr(err)
	}
	if c.Mirror == nil {
		return in.throwf(object.ExInternal, "class %s has no mirror", c.Name())
	}
	in.setRef(bytecode.AA(unit), c.Mirror)
	return ctlNext
}

func opMonitorEnter(in *interp, unit uint16) control {
	o := in.getRef(bytecode.AA(unit))
	if o == nil {
		return in.throwNew(object.ExNullPointer, "Attempt to lock a null object")
	}
	in.st.current().SavedPC = in.pc
	in.rt.monitorEnter(in.t, o.Monitor())
	return ctlNext
}

// opMonitorExit releases a monitor. On failure pc is advanced past the
// instruction before the exception is raised, so a catch-all covering the
// monitor-exit does not run it again.
func opMonitorExit(in *interp, unit uint16) control {
	o := in.getRef(bytecode.AA(unit))
	if o == nil {
		return in.throwNew(object.ExNullPointer, "Attempt to unlock a null object")
	}
	if !o.Monitor().Exit(in.t) {
		in.pc += widths[op.MonitorExit]
		return in.throwNew(object.ExIllegalMonitorState, "unlock of unowned monitor")
	}
	return ctlNext
}

func opCheckCast(in *interp, unit uint16) control {
	o := in.getRef(bytecode.AA(unit))
	if o == nil {
		return ctlNext
	}
	c, err := in.rt.resolver.ResolveClass(in.pool, uint32(in.insns[in.pc+1]))
	if err != nil {
		return in.throwErr(err)
	}
	if !o.Class().IsAssignableTo(c) {
		return in.throwf(object.ExClassCast, "%s cannot be cast to %s", o.Class().Name(), c.Name())
	}
	return ctlNext
}

func opInstanceOf(in *interp, unit uint16) control {
	dst, src := bytecode.A(unit), bytecode.B(unit)
	o := in.getRef(src)
	if o == nil {
		in.setInt(dst, 0)
		return ctlNext
	}
	c, err := in.rt.resolver.ResolveClass(in.pool, uint32(in.insns[in.pc+1]))
	if err != nil {
		return in.throwErr(err)
	}
	in.setInt(dst, boolInt(in.rt.heap.InstanceOf(o, c)))
	return ctlNext
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func opArrayLength(in *interp, unit uint16) control {
	arr := in.getRef(bytecode.B(unit))
	if arr == nil {
		return in.throwNew(object.ExNullPointer, "Attempt to get length of null array")
	}
	if !arr.IsArray() {
		return in.abort(errz.ErrInternal, "array-length on %s", arr.Class().Descriptor)
	}
	in.setInt(bytecode.A(unit), int32(arr.Len()))
	return ctlNext
}

func opNewInstance(in *interp, unit uint16) control {
	c, err := in.rt.resolver.ResolveClass(in.pool, uint32(in.insns[in.pc+1]))
	if err != nil {
		return in.throwErr(err)
	}
	if ctl := in.ensureInit(c); ctl != ctlNext {
		return ctl
	}
	o, err := in.rt.heap.AllocObject(c)
	if err != nil {
		return in.throwErr(err)
	}
	in.setRef(bytecode.AA(unit), o)
	return ctlNext
}

func opNewArray(in *interp, unit uint16) control {
	n := in.getInt(bytecode.B(unit))
	c, err := in.rt.resolver.ResolveClass(in.pool, uint32(in.insns[in.pc+1]))
	if err != nil {
		return in.throwErr(err)
	}
	arr, err := in.rt.heap.AllocArray(c, n)
	if err != nil {
		return in.throwErr(err)
	}
	in.setRef(bytecode.A(unit), arr)
	return ctlNext
}

// opFilledNewArray builds an int or reference array from its argument
// registers and leaves it for move-result-object.
func opFilledNewArray(in *interp, unit uint16) control {
	args := decodeArgs(in.insns, in.pc, bytecode.Opcode(unit) == op.FilledNewArrayRange)
	c, err := in.rt.resolver.ResolveClass(in.pool, uint32(in.insns[in.pc+1]))
	if err != nil {
		return in.throwErr(err)
	}
	if !c.IsArray() {
		return in.throwf(object.ExInternal, "filled-new-array of non-array type %s", c.Descriptor)
	}
	comp := c.Component
	if comp.IsPrimitive() && comp.Descriptor != "I" {
		return in.throwf(object.ExInternal, "filled-new-array not implemented for %s", c.Descriptor)
	}
	arr, err := in.rt.heap.AllocArray(c, int32(args.count))
	if err != nil {
		return in.throwErr(err)
	}
	for i := 0; i < args.count; i++ {
		r := args.reg(i)
		if comp.IsReference() {
			v := in.getRef(r)
			if err := arr.CheckStore(v); err != nil {
				return in.throwErr(err)
			}
			arr.SetRef(i, v)
		} else {
			arr.SetInt(i, in.getInt(r))
		}
	}
	in.retval = Ref(arr)
	in.retKind = KindRef
	return ctlNext
}

func opFillArrayData(in *interp, unit uint16) control {
	arr := in.getRef(bytecode.AA(unit))
	if arr == nil {
		return in.throwNew(object.ExNullPointer, "Attempt to fill a null array")
	}
	payload := in.pc + int(int32(bytecode.Unit32(in.insns, in.pc+1)))
	data, err := bytecode.ReadArrayData(in.insns, payload)
	if err != nil {
		return in.abort(errz.ErrInternal, "%v", err)
	}
	if err := arr.FillArrayData(data.ElementWidth, data.Data); err != nil {
		return in.throwErr(err)
	}
	return ctlNext
}

// opThrow throws a throwable object. Objects thrown for the first time get
// the current stack as their backtrace.
func opThrow(in *interp, unit uint16) control {
	exc := in.getRef(bytecode.AA(unit))
	if exc == nil {
		return in.throwNew(object.ExNullPointer, "throw with null exception")
	}
	if len(exc.Backtrace()) == 0 {
		in.st.current().SavedPC = in.pc
		exc.SetBacktrace(in.t.captureBacktrace())
	}
	in.t.exception = exc
	return ctlThrow
}

// Verification failure kinds encoded in throw-verification-error.
const (
	verifyGeneric = iota + 1
	verifyNoClass
	verifyNoField
	verifyNoMethod
	verifyAccessClass
	verifyAccessField
	verifyAccessMethod
	verifyClassChange
	verifyInstantiation
)

func opThrowVerificationError(in *interp, unit uint16) control {
	kind := bytecode.AA(unit)
	idx := int(in.insns[in.pc+1])
	ref := ""
	if idx < len(in.pool.Types) {
		ref = object.ClassName(in.pool.Types[idx])
	}
	desc := object.ExVerify
	switch kind {
	case verifyNoClass:
		desc = object.ExNoClassDefFound
	case verifyNoField:
		desc = object.ExNoSuchField
	case verifyNoMethod:
		desc = object.ExNoSuchMethod
	case verifyClassChange, verifyAccessClass, verifyAccessField, verifyAccessMethod:
		desc = object.ExIncompatibleClassChange
	case verifyInstantiation:
		desc = object.ExInstantiation
	}
	return in.throwNew(desc, ref)
}

// Array access.

// arrayOperands decodes aget/aput vAA, vBB, vCC, checks the array against
// null and the index against its bounds.
func (in *interp) arrayOperands(unit uint16) (uint32, *object.Object, int, control) {
	next := in.insns[in.pc+1]
	arr := in.getRef(uint32(next & 0xff))
	i := in.getInt(uint32(next >> 8))
	if arr == nil {
		return 0, nil, 0, in.throwNew(object.ExNullPointer, "Attempt to access an element of a null array")
	}
	if !arr.IsArray() {
		return 0, nil, 0, in.abort(errz.ErrInternal, "%s is not an array", arr.Class().Descriptor)
	}
	if err := arr.CheckIndex(i); err != nil {
		return 0, nil, 0, in.throwErr(err)
	}
	return bytecode.AA(unit), arr, int(i), ctlNext
}

// arrayAccess reports whether code's element kind matches the array's
// component type.
func arrayAccess(code op.Code, comp *object.Class) bool {
	switch code {
	case op.AgetObject, op.AputObject:
		return comp.IsReference()
	case op.AgetWide, op.AputWide:
		return comp.Descriptor == "J" || comp.Descriptor == "D"
	case op.Aget, op.Aput:
		return comp.Descriptor == "I" || comp.Descriptor == "F"
	case op.AgetBoolean, op.AputBoolean:
		return comp.Descriptor == "Z"
	case op.AgetByte, op.AputByte:
		return comp.Descriptor == "B"
	case op.AgetChar, op.AputChar:
		return comp.Descriptor == "C"
	case op.AgetShort, op.AputShort:
		return comp.Descriptor == "S"
	}
	return false
}

func opAget(in *interp, unit uint16) control {
	dst, arr, i, ctl := in.arrayOperands(unit)
	if ctl != ctlNext {
		return ctl
	}
	code := bytecode.Opcode(unit)
	comp := arr.Class().Component
	if !arrayAccess(code, comp) {
		return in.abort(errz.ErrInternal, "%s on %s", op.GetInfo(code).Name, arr.Class().Descriptor)
	}
	switch code {
	case op.AgetObject:
		in.setRef(dst, arr.GetRef(i))
	case op.AgetWide:
		in.setWide(dst, arr.GetWide(i), kindOf(comp.Descriptor[0]))
	default:
		in.setNarrow(dst, uint32(arr.GetInt(i)), kindOf(comp.Descriptor[0]))
	}
	return ctlNext
}

func opAput(in *interp, unit uint16) control {
	src, arr, i, ctl := in.arrayOperands(unit)
	if ctl != ctlNext {
		return ctl
	}
	code := bytecode.Opcode(unit)
	comp := arr.Class().Component
	if !arrayAccess(code, comp) {
		return in.abort(errz.ErrInternal, "%s on %s", op.GetInfo(code).Name, arr.Class().Descriptor)
	}
	switch code {
	case op.AputObject:
		v := in.getRef(src)
		if err := arr.CheckStore(v); err != nil {
			return in.throwErr(err)
		}
		arr.SetRef(i, v)
	case op.AputWide:
		arr.SetWide(i, in.getWide(src, kindOf(comp.Descriptor[0])))
	default:
		in.check(src, kindOf(comp.Descriptor[0]))
		arr.SetInt(i, int32(in.raw[src]))
	}
	return ctlNext
}

// Field access.

type fieldAccess uint8

const (
	accessNarrow fieldAccess = iota
	accessWide
	accessRef
)

func fieldOp(code op.Code) (access fieldAccess, volatile bool) {
	switch code {
	case op.IgetWide, op.IputWide, op.SgetWide, op.SputWide:
		return accessWide, false
	case op.IgetObject, op.IputObject, op.SgetObject, op.SputObject:
		return accessRef, false
	case op.IgetVolatile, op.IputVolatile, op.SgetVolatile, op.SputVolatile:
		return accessNarrow, true
	case op.IgetWideVolatile, op.IputWideVolatile, op.SgetWideVolatile, op.SputWideVolatile:
		return accessWide, true
	case op.IgetObjectVolatile, op.IputObjectVolatile, op.SgetObjectVolatile, op.SputObjectVolatile:
		return accessRef, true
	}
	return accessNarrow, false
}

func (a fieldAccess) matches(f *object.Field) bool {
	switch a {
	case accessWide:
		return f.IsWide()
	case accessRef:
		return f.IsReference()
	}
	return !f.IsWide() && !f.IsReference()
}

// normalize truncates v to the width of a sub-word field type.
func normalize(typ byte, v int32) int32 {
	switch typ {
	case 'Z':
		return int32(uint8(v))
	case 'B':
		return int32(int8(v))
	case 'C':
		return int32(uint16(v))
	case 'S':
		return int32(int16(v))
	}
	return v
}

func (in *interp) fieldGet(slots *object.Slots, f *object.Field, access fieldAccess, volatile bool, dst uint32) {
	volatile = volatile || f.IsVolatile()
	switch access {
	case accessRef:
		in.setRef(dst, slots.Ref(f.Slot))
	case accessWide:
		var v uint64
		if volatile {
			v = slots.LoadPrim(f.Slot)
		} else {
			v = slots.Prim(f.Slot)
		}
		in.setWide(dst, v, kindOf(f.Type[0]))
	default:
		var v uint64
		if volatile {
			v = slots.LoadPrim(f.Slot)
		} else {
			v = slots.Prim(f.Slot)
		}
		in.setNarrow(dst, uint32(v), kindOf(f.Type[0]))
	}
}

func (in *interp) fieldPut(slots *object.Slots, f *object.Field, access fieldAccess, volatile bool, src uint32) {
	volatile = volatile || f.IsVolatile()
	var v uint64
	switch access {
	case accessRef:
		slots.SetRef(f.Slot, in.getRef(src))
		return
	case accessWide:
		v = in.getWide(src, kindOf(f.Type[0]))
	default:
		in.check(src, kindOf(f.Type[0]))
		v = uint64(uint32(normalize(f.Type[0], int32(in.raw[src]))))
	}
	if volatile {
		slots.StorePrim(f.Slot, v)
	} else {
		slots.SetPrim(f.Slot, v)
	}
}

// instanceField resolves the field of iget/iput vA, vB, field@CCCC and
// null-checks the object in vB.
func (in *interp) instanceField(unit uint16, verb string) (*object.Field, *object.Object, fieldAccess, bool, control) {
	f, err := in.rt.resolver.ResolveField(in.pool, uint32(in.insns[in.pc+1]), false)
	if err != nil {
		return nil, nil, 0, false, in.throwErr(err)
	}
	access, volatile := fieldOp(bytecode.Opcode(unit))
	if !access.matches(f) {
		return nil, nil, 0, false, in.abort(errz.ErrInternal, "%s on field %s",
			op.GetInfo(bytecode.Opcode(unit)).Name, f)
	}
	o := in.getRef(bytecode.B(unit))
	if o == nil {
		return nil, nil, 0, false, in.throwf(object.ExNullPointer,
			"Attempt to %s field '%s' on a null object reference", verb, f)
	}
	return f, o, access, volatile, ctlNext
}

func opIget(in *interp, unit uint16) control {
	f, o, access, volatile, ctl := in.instanceField(unit, "read from")
	if ctl != ctlNext {
		return ctl
	}
	in.fieldGet(o.Fields(), f, access, volatile, bytecode.A(unit))
	return ctlNext
}

func opIput(in *interp, unit uint16) control {
	f, o, access, volatile, ctl := in.instanceField(unit, "write to")
	if ctl != ctlNext {
		return ctl
	}
	in.fieldPut(o.Fields(), f, access, volatile, bytecode.A(unit))
	return ctlNext
}

// staticField resolves the field of sget/sput vAA, field@BBBB and
// initializes its class.
func (in *interp) staticField(unit uint16) (*object.Field, fieldAccess, bool, control) {
	f, err := in.rt.resolver.ResolveField(in.pool, uint32(in.insns[in.pc+1]), true)
	if err != nil {
		return nil, 0, false, in.throwErr(err)
	}
	access, volatile := fieldOp(bytecode.Opcode(unit))
	if !access.matches(f) {
		return nil, 0, false, in.abort(errz.ErrInternal, "%s on field %s",
			op.GetInfo(bytecode.Opcode(unit)).Name, f)
	}
	if ctl := in.ensureInit(f.Class); ctl != ctlNext {
		return nil, 0, false, ctl
	}
	return f, access, volatile, ctlNext
}

func opSget(in *interp, unit uint16) control {
	f, access, volatile, ctl := in.staticField(unit)
	if ctl != ctlNext {
		return ctl
	}
	in.fieldGet(&f.Class.Statics, f, access, volatile, bytecode.AA(unit))
	return ctlNext
}

func opSput(in *interp, unit uint16) control {
	f, access, volatile, ctl := in.staticField(unit)
	if ctl != ctlNext {
		return ctl
	}
	in.fieldPut(&f.Class.Statics, f, access, volatile, bytecode.AA(unit))
	return ctlNext
}
