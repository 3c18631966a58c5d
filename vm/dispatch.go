package vm

import (
	"github.com/deepnoodle-ai/dvm/errz"
	"github.com/deepnoodle-ai/dvm/op"
)

// handlers is the dispatch table, indexed by opcode. Unused opcodes run
// opUnreachable.
var handlers [256]handler

func init() {
	for i := range handlers {
		handlers[i] = opUnreachable
	}
	set := func(lo, hi op.Code, h handler) {
		for c := int(lo); c <= int(hi); c++ {
			handlers[c] = h
		}
	}
	handlers[op.Nop] = opNop
	set(op.Move, op.Move16, opMove)
	set(op.MoveWide, op.MoveWide16, opMoveWide)
	set(op.MoveObject, op.MoveObject16, opMoveObject)
	set(op.MoveResult, op.MoveResultObject, opMoveResult)
	handlers[op.MoveException] = opMoveException
	handlers[op.ReturnVoid] = opReturnVoid
	handlers[op.ReturnVoidBarrier] = opReturnVoid
	set(op.Return, op.ReturnObject, opReturn)
	set(op.Const4, op.ConstHigh16, opConst)
	set(op.ConstWide16, op.ConstWideHigh16, opConstWide)
	set(op.ConstString, op.ConstStringJumbo, opConstString)
	handlers[op.ConstClass] = opConstClass
	handlers[op.MonitorEnter] = opMonitorEnter
	handlers[op.MonitorExit] = opMonitorExit
	handlers[op.CheckCast] = opCheckCast
	handlers[op.InstanceOf] = opInstanceOf
	handlers[op.ArrayLength] = opArrayLength
	handlers[op.NewInstance] = opNewInstance
	handlers[op.NewArray] = opNewArray
	set(op.FilledNewArray, op.FilledNewArrayRange, opFilledNewArray)
	handlers[op.FillArrayData] = opFillArrayData
	handlers[op.Throw] = opThrow
	set(op.Goto, op.Goto32, opGoto)
	set(op.PackedSwitch, op.SparseSwitch, opSwitch)
	set(op.CmplFloat, op.CmpLong, opCmp)
	set(op.IfEq, op.IfLe, opIf)
	set(op.IfEqz, op.IfLez, opIfz)
	set(op.Aget, op.AgetShort, opAget)
	set(op.Aput, op.AputShort, opAput)
	set(op.Iget, op.IgetShort, opIget)
	set(op.Iput, op.IputShort, opIput)
	set(op.Sget, op.SgetShort, opSget)
	set(op.Sput, op.SputShort, opSput)
	set(op.InvokeVirtual, op.InvokeInterface, opInvoke)
	set(op.InvokeVirtualRange, op.InvokeInterfaceRange, opInvoke)
	set(op.NegInt, op.IntToShort, opUnary)
	set(op.AddInt, op.RemDouble, opBinop)
	set(op.AddInt2Addr, op.RemDouble2Addr, opBinop2Addr)
	set(op.AddIntLit16, op.XorIntLit16, opBinopLit16)
	set(op.AddIntLit8, op.UshrIntLit8, opBinopLit8)
	handlers[op.IgetVolatile] = opIget
	handlers[op.IgetWideVolatile] = opIget
	handlers[op.IgetObjectVolatile] = opIget
	handlers[op.IputVolatile] = opIput
	handlers[op.IputWideVolatile] = opIput
	handlers[op.IputObjectVolatile] = opIput
	handlers[op.SgetVolatile] = opSget
	handlers[op.SgetWideVolatile] = opSget
	handlers[op.SgetObjectVolatile] = opSget
	handlers[op.SputVolatile] = opSput
	handlers[op.SputWideVolatile] = opSput
	handlers[op.SputObjectVolatile] = opSput
	handlers[op.ThrowVerificationError] = opThrowVerificationError
}

func opUnreachable(in *interp, unit uint16) control {
	return in.abort(errz.ErrUnreachable, "unused opcode 0x%02x", uint8(unit))
}

// runSwitch is the switch-dispatch loop. It runs the same handlers as
// runTable, selected by opcode range instead of by table lookup.
func (in *interp) runSwitch() {
	for !in.done {
		unit := in.insns[in.pc]
		code := op.Code(unit)
		if in.debug && !in.debugStep(code) {
			continue
		}
		if ctl := in.exec(code, unit); ctl != ctlNext {
			in.transfer(ctl)
		} else {
			in.pc += widths[code]
		}
	}
}

func (in *interp) exec(code op.Code, unit uint16) control {
	switch {
	case code == op.Nop:
		return opNop(in, unit)
	case code <= op.Move16:
		return opMove(in, unit)
	case code <= op.MoveWide16:
		return opMoveWide(in, unit)
	case code <= op.MoveObject16:
		return opMoveObject(in, unit)
	case code <= op.MoveResultObject:
		return opMoveResult(in, unit)
	case code == op.MoveException:
		return opMoveException(in, unit)
	case code == op.ReturnVoid:
		return opReturnVoid(in, unit)
	case code <= op.ReturnObject:
		return opReturn(in, unit)
	case code <= op.ConstHigh16:
		return opConst(in, unit)
	case code <= op.ConstWideHigh16:
		return opConstWide(in, unit)
	case code <= op.ConstStringJumbo:
		return opConstString(in, unit)
	case code <= op.Throw:
		switch code {
		case op.ConstClass:
			return opConstClass(in, unit)
		case op.MonitorEnter:
			return opMonitorEnter(in, unit)
		case op.MonitorExit:
			return opMonitorExit(in, unit)
		case op.CheckCast:
			return opCheckCast(in, unit)
		case op.InstanceOf:
			return opInstanceOf(in, unit)
		case op.ArrayLength:
			return opArrayLength(in, unit)
		case op.NewInstance:
			return opNewInstance(in, unit)
		case op.NewArray:
			return opNewArray(in, unit)
		case op.FilledNewArray, op.FilledNewArrayRange:
			return opFilledNewArray(in, unit)
		case op.FillArrayData:
			return opFillArrayData(in, unit)
		}
		return opThrow(in, unit)
	case code <= op.Goto32:
		return opGoto(in, unit)
	case code <= op.SparseSwitch:
		return opSwitch(in, unit)
	case code <= op.CmpLong:
		return opCmp(in, unit)
	case code <= op.IfLe:
		return opIf(in, unit)
	case code <= op.IfLez:
		return opIfz(in, unit)
	case code < op.Aget:
		return opUnreachable(in, unit)
	case code <= op.AgetShort:
		return opAget(in, unit)
	case code <= op.AputShort:
		return opAput(in, unit)
	case code <= op.IgetShort:
		return opIget(in, unit)
	case code <= op.IputShort:
		return opIput(in, unit)
	case code <= op.SgetShort:
		return opSget(in, unit)
	case code <= op.SputShort:
		return opSput(in, unit)
	case code <= op.InvokeInterface:
		return opInvoke(in, unit)
	case code < op.InvokeVirtualRange:
		return opUnreachable(in, unit)
	case code <= op.InvokeInterfaceRange:
		return opInvoke(in, unit)
	case code < op.NegInt:
		return opUnreachable(in, unit)
	case code <= op.IntToShort:
		return opUnary(in, unit)
	case code <= op.RemDouble:
		return opBinop(in, unit)
	case code <= op.RemDouble2Addr:
		return opBinop2Addr(in, unit)
	case code <= op.XorIntLit16:
		return opBinopLit16(in, unit)
	case code <= op.UshrIntLit8:
		return opBinopLit8(in, unit)
	}
	switch code {
	case op.IgetVolatile, op.IgetWideVolatile, op.IgetObjectVolatile:
		return opIget(in, unit)
	case op.IputVolatile, op.IputWideVolatile, op.IputObjectVolatile:
		return opIput(in, unit)
	case op.SgetVolatile, op.SgetWideVolatile, op.SgetObjectVolatile:
		return opSget(in, unit)
	case op.SputVolatile, op.SputWideVolatile, op.SputObjectVolatile:
		return opSput(in, unit)
	case op.ThrowVerificationError:
		return opThrowVerificationError(in, unit)
	case op.ReturnVoidBarrier:
		return opReturnVoid(in, unit)
	}
	return opUnreachable(in, unit)
}
