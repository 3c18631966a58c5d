package vm

import (
	"github.com/deepnoodle-ai/dvm/bytecode"
	"github.com/deepnoodle-ai/dvm/errz"
	"github.com/deepnoodle-ai/dvm/op"
)

func opNop(in *interp, unit uint16) control { return ctlNext }

// moveRegs decodes the destination and source of the move family.
func (in *interp) moveRegs(unit uint16) (dst, src uint32) {
	switch bytecode.Opcode(unit) {
	case op.MoveFrom16, op.MoveWideFrom16, op.MoveObjectFrom16:
		return bytecode.AA(unit), uint32(in.insns[in.pc+1])
	case op.Move16, op.MoveWide16, op.MoveObject16:
		return uint32(in.insns[in.pc+1]), uint32(in.insns[in.pc+2])
	}
	return bytecode.A(unit), bytecode.B(unit)
}

func opMove(in *interp, unit uint16) control {
	dst, src := in.moveRegs(unit)
	if in.tags != nil {
		switch in.tags[src] {
		case KindInt, KindFloat, KindConst:
		default:
			in.tagFail(src, "int or float")
		}
		in.tags[dst] = in.tags[src]
	}
	in.raw[dst] = in.raw[src]
	in.refs[dst] = nil
	return ctlNext
}

func opMoveObject(in *interp, unit uint16) control {
	dst, src := in.moveRegs(unit)
	if in.tags != nil {
		switch in.tags[src] {
		case KindRef, KindConst:
		default:
			in.tagFail(src, "ref")
		}
		in.tags[dst] = in.tags[src]
	}
	in.raw[dst] = in.raw[src]
	in.refs[dst] = in.refs[src]
	return ctlNext
}

// opMoveWide reads both halves before writing, so overlapping pairs move
// correctly.
func opMoveWide(in *interp, unit uint16) control {
	dst, src := in.moveRegs(unit)
	lo, hi := in.raw[src], in.raw[src+1]
	if in.tags != nil {
		in.checkWide(src)
		klo, khi := in.tags[src], in.tags[src+1]
		in.tags[dst], in.tags[dst+1] = klo, khi
	}
	in.raw[dst], in.raw[dst+1] = lo, hi
	in.refs[dst], in.refs[dst+1] = nil, nil
	return ctlNext
}

func opMoveResult(in *interp, unit uint16) control {
	dst := bytecode.AA(unit)
	if in.tags != nil {
		ok := false
		switch bytecode.Opcode(unit) {
		case op.MoveResult:
			ok = in.retKind == KindInt || in.retKind == KindFloat || in.retKind == KindConst
		case op.MoveResultWide:
			ok = in.retKind == KindLongLo || in.retKind == KindDoubleLo || in.retKind == KindWideConstLo
		default:
			ok = in.retKind == KindRef || in.retKind == KindConst
		}
		if !ok {
			return in.abort(errz.ErrRegisterType, "%s after a call returning %s",
				op.GetInfo(bytecode.Opcode(unit)).Name, in.retKind)
		}
	}
	k := in.retKind
	if in.tags == nil {
		switch bytecode.Opcode(unit) {
		case op.MoveResult:
			k = KindInt
		case op.MoveResultWide:
			k = KindLongLo
		default:
			k = KindRef
		}
	}
	in.setValue(dst, in.retval, k)
	return ctlNext
}

// opMoveException takes the pending exception into a register and clears
// it. The unwinder leaves the exception pending only for handlers that
// start with this instruction.
func opMoveException(in *interp, unit uint16) control {
	exc := in.t.exception
	if exc == nil {
		return in.abort(errz.ErrUnwind, "move-exception without a pending exception")
	}
	in.setRef(bytecode.AA(unit), exc)
	in.t.exception = nil
	return ctlNext
}

func opReturnVoid(in *interp, unit uint16) control {
	in.retval = Value{}
	in.retKind = KindUnset
	return ctlReturn
}

func opReturn(in *interp, unit uint16) control {
	r := bytecode.AA(unit)
	switch bytecode.Opcode(unit) {
	case op.Return:
		in.retKind = KindInt
		if in.tags != nil {
			switch in.tags[r] {
			case KindInt, KindFloat, KindConst:
			default:
				in.tagFail(r, "int or float")
			}
			in.retKind = in.tags[r]
		}
		in.retval = Value{bits: uint64(in.raw[r])}
	case op.ReturnWide:
		in.retKind = KindLongLo
		if in.tags != nil {
			in.checkWide(r)
			in.retKind = in.tags[r]
		}
		in.retval = Value{bits: uint64(in.raw[r]) | uint64(in.raw[r+1])<<32}
	default:
		in.retval = Ref(in.getRef(r))
		in.retKind = KindRef
	}
	return ctlReturn
}

// opConst loads a narrow constant. The bytecode may use it as an int, a
// float or, when zero, a null reference.
func opConst(in *interp, unit uint16) control {
	var dst, v uint32
	switch bytecode.Opcode(unit) {
	case op.Const4:
		dst, v = bytecode.A(unit), uint32(int32(int16(unit)>>12))
	case op.Const16:
		dst, v = bytecode.AA(unit), uint32(int32(int16(in.insns[in.pc+1])))
	case op.Const:
		dst, v = bytecode.AA(unit), bytecode.Unit32(in.insns, in.pc+1)
	case op.ConstHigh16:
		dst, v = bytecode.AA(unit), uint32(in.insns[in.pc+1])<<16
	}
	in.setNarrow(dst, v, KindConst)
	return ctlNext
}

func opConstWide(in *interp, unit uint16) control {
	dst := bytecode.AA(unit)
	var v uint64
	switch bytecode.Opcode(unit) {
	case op.ConstWide16:
		v = uint64(int64(int16(in.insns[in.pc+1])))
	case op.ConstWide32:
		v = uint64(int64(int32(bytecode.Unit32(in.insns, in.pc+1))))
	case op.ConstWide:
		v = bytecode.Unit64(in.insns, in.pc+1)
	case op.ConstWideHigh16:
		v = uint64(in.insns[in.pc+1]) << 48
	}
	in.setWide(dst, v, KindWideConstLo)
	return ctlNext
}
