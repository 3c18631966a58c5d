package vm

import (
	"github.com/deepnoodle-ai/dvm/bytecode"
	"github.com/deepnoodle-ai/dvm/errz"
	"github.com/deepnoodle-ai/dvm/op"
)

// branch moves pc by off code units. Backward branches, and branches to
// self, pass through a checkpoint.
func (in *interp) branch(off int32) control {
	in.pc += int(off)
	if off <= 0 {
		return ctlBranch
	}
	return ctlJump
}

func opGoto(in *interp, unit uint16) control {
	switch bytecode.Opcode(unit) {
	case op.Goto16:
		return in.branch(int32(int16(in.insns[in.pc+1])))
	case op.Goto32:
		return in.branch(int32(bytecode.Unit32(in.insns, in.pc+1)))
	}
	return in.branch(int32(int8(unit >> 8)))
}

// opIf compares two registers. if-eq and if-ne compare both halves of the
// registers, so they work on references as well as ints.
func opIf(in *interp, unit uint16) control {
	a, b := bytecode.A(unit), bytecode.B(unit)
	code := bytecode.Opcode(unit)
	var taken bool
	switch code {
	case op.IfEq, op.IfNe:
		in.checkNarrow(a)
		in.checkNarrow(b)
		eq := in.raw[a] == in.raw[b] && in.refs[a] == in.refs[b]
		taken = eq == (code == op.IfEq)
	default:
		x, y := in.getInt(a), in.getInt(b)
		switch code {
		case op.IfLt:
			taken = x < y
		case op.IfGe:
			taken = x >= y
		case op.IfGt:
			taken = x > y
		case op.IfLe:
			taken = x <= y
		}
	}
	if !taken {
		return ctlNext
	}
	return in.branch(int32(int16(in.insns[in.pc+1])))
}

// opIfz compares a register against zero; if-eqz and if-nez also test for
// null.
func opIfz(in *interp, unit uint16) control {
	a := bytecode.AA(unit)
	code := bytecode.Opcode(unit)
	var taken bool
	switch code {
	case op.IfEqz, op.IfNez:
		in.checkNarrow(a)
		zero := in.raw[a] == 0 && in.refs[a] == nil
		taken = zero == (code == op.IfEqz)
	default:
		x := in.getInt(a)
		switch code {
		case op.IfLtz:
			taken = x < 0
		case op.IfGez:
			taken = x >= 0
		case op.IfGtz:
			taken = x > 0
		case op.IfLez:
			taken = x <= 0
		}
	}
	if !taken {
		return ctlNext
	}
	return in.branch(int32(int16(in.insns[in.pc+1])))
}

// opSwitch looks the register up in a packed or sparse switch payload and
// falls through when no case matches.
func opSwitch(in *interp, unit uint16) control {
	v := in.getInt(bytecode.AA(unit))
	payload := in.pc + int(int32(bytecode.Unit32(in.insns, in.pc+1)))
	var (
		off int32
		ok  bool
		err error
	)
	if bytecode.Opcode(unit) == op.PackedSwitch {
		off, ok, err = bytecode.PackedSwitchTarget(in.insns, payload, v)
	} else {
		off, ok, err = bytecode.SparseSwitchTarget(in.insns, payload, v)
	}
	if err != nil {
		return in.abort(errz.ErrInternal, "%v", err)
	}
	if !ok {
		return ctlNext
	}
	return in.branch(off)
}

// opCmp implements cmpl, cmpg and cmp-long. The l and g variants differ
// only in the result for NaN operands: -1 and 1.
func opCmp(in *interp, unit uint16) control {
	dst := bytecode.AA(unit)
	b, c := uint32(in.insns[in.pc+1]&0xff), uint32(in.insns[in.pc+1]>>8)
	var r int32
	switch code := bytecode.Opcode(unit); code {
	case op.CmplFloat, op.CmpgFloat:
		r = compareFloat(float64(in.getFloat(b)), float64(in.getFloat(c)), code == op.CmpgFloat)
	case op.CmplDouble, op.CmpgDouble:
		r = compareFloat(in.getDouble(b), in.getDouble(c), code == op.CmpgDouble)
	case op.CmpLong:
		x, y := in.getLong(b), in.getLong(c)
		switch {
		case x < y:
			r = -1
		case x > y:
			r = 1
		}
	}
	in.setInt(dst, r)
	return ctlNext
}

func compareFloat(x, y float64, gbias bool) int32 {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	case x == y:
		return 0
	case gbias:
		return 1
	}
	return -1
}
