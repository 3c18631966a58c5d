package vm

import (
	"math"

	"github.com/deepnoodle-ai/dvm/bytecode"
	"github.com/deepnoodle-ai/dvm/object"
	"github.com/deepnoodle-ai/dvm/op"
)

type binop uint8

// The order matches the opcode order within each binary-op group.
const (
	bAdd binop = iota
	bSub
	bMul
	bDiv
	bRem
	bAnd
	bOr
	bXor
	bShl
	bShr
	bUshr
	bRsub
)

type numType uint8

const (
	numInt numType = iota
	numLong
	numFloat
	numDouble
)

// litOps maps the position of an opcode in the lit16 and lit8 groups to its
// operation.
var litOps = [...]binop{bAdd, bRsub, bMul, bDiv, bRem, bAnd, bOr, bXor, bShl, bShr, bUshr}

// decodeBinop returns the type and operation of a 23x or 2addr opcode.
func decodeBinop(code op.Code) (numType, binop) {
	if code >= op.AddInt2Addr {
		code -= op.AddInt2Addr - op.AddInt
	}
	switch {
	case code <= op.UshrInt:
		return numInt, binop(code - op.AddInt)
	case code <= op.UshrLong:
		return numLong, binop(code - op.AddLong)
	case code <= op.RemFloat:
		return numFloat, binop(code - op.AddFloat)
	}
	return numDouble, binop(code - op.AddDouble)
}

// opBinop handles binop vAA, vBB, vCC.
func opBinop(in *interp, unit uint16) control {
	t, o := decodeBinop(bytecode.Opcode(unit))
	b, c := uint32(in.insns[in.pc+1]&0xff), uint32(in.insns[in.pc+1]>>8)
	return in.arith(t, o, bytecode.AA(unit), b, c)
}

// opBinop2Addr handles binop/2addr vA, vB, storing into vA.
func opBinop2Addr(in *interp, unit uint16) control {
	t, o := decodeBinop(bytecode.Opcode(unit))
	a := bytecode.A(unit)
	return in.arith(t, o, a, a, bytecode.B(unit))
}

// opBinopLit16 handles binop/lit16 vA, vB, #+CCCC.
func opBinopLit16(in *interp, unit uint16) control {
	o := litOps[bytecode.Opcode(unit)-op.AddIntLit16]
	lit := int32(int16(in.insns[in.pc+1]))
	return in.arithLit(o, bytecode.A(unit), bytecode.B(unit), lit)
}

// opBinopLit8 handles binop/lit8 vAA, vBB, #+CC.
func opBinopLit8(in *interp, unit uint16) control {
	o := litOps[bytecode.Opcode(unit)-op.AddIntLit8]
	next := in.insns[in.pc+1]
	return in.arithLit(o, bytecode.AA(unit), uint32(next&0xff), int32(int8(next>>8)))
}

func (in *interp) divideByZero() control {
	return in.throwNew(object.ExArithmetic, "divide by zero")
}

func (in *interp) arith(t numType, o binop, dst, x, y uint32) control {
	switch t {
	case numInt:
		a, b := in.getInt(x), in.getInt(y)
		if (o == bDiv || o == bRem) && b == 0 {
			return in.divideByZero()
		}
		in.setInt(dst, intOp(o, a, b))
	case numLong:
		a := in.getLong(x)
		var b int64
		if o >= bShl {
			// Long shifts take their distance from an int register.
			b = int64(in.getInt(y))
		} else {
			b = in.getLong(y)
		}
		if (o == bDiv || o == bRem) && b == 0 {
			return in.divideByZero()
		}
		in.setLong(dst, longOp(o, a, b))
	case numFloat:
		a, b := in.getFloat(x), in.getFloat(y)
		in.setFloat(dst, float32(floatOp(o, float64(a), float64(b), true)))
	case numDouble:
		a, b := in.getDouble(x), in.getDouble(y)
		in.setDouble(dst, floatOp(o, a, b, false))
	}
	return ctlNext
}

func (in *interp) arithLit(o binop, dst, src uint32, lit int32) control {
	a := in.getInt(src)
	if (o == bDiv || o == bRem) && lit == 0 {
		return in.divideByZero()
	}
	in.setInt(dst, intOp(o, a, lit))
	return ctlNext
}

// intOp applies o to two ints. Division overflow wraps: MIN / -1 is MIN and
// MIN % -1 is 0. The divisor of div and rem is non-zero.
func intOp(o binop, a, b int32) int32 {
	switch o {
	case bAdd:
		return a + b
	case bSub:
		return a - b
	case bRsub:
		return b - a
	case bMul:
		return a * b
	case bDiv:
		if b == -1 {
			return -a
		}
		return a / b
	case bRem:
		if b == -1 {
			return 0
		}
		return a % b
	case bAnd:
		return a & b
	case bOr:
		return a | b
	case bXor:
		return a ^ b
	case bShl:
		return a << (uint32(b) & 0x1f)
	case bShr:
		return a >> (uint32(b) & 0x1f)
	case bUshr:
		return int32(uint32(a) >> (uint32(b) & 0x1f))
	}
	return 0
}

func longOp(o binop, a, b int64) int64 {
	switch o {
	case bAdd:
		return a + b
	case bSub:
		return a - b
	case bMul:
		return a * b
	case bDiv:
		if b == -1 {
			return -a
		}
		return a / b
	case bRem:
		if b == -1 {
			return 0
		}
		return a % b
	case bAnd:
		return a & b
	case bOr:
		return a | b
	case bXor:
		return a ^ b
	case bShl:
		return a << (uint64(b) & 0x3f)
	case bShr:
		return a >> (uint64(b) & 0x3f)
	case bUshr:
		return int64(uint64(a) >> (uint64(b) & 0x3f))
	}
	return 0
}

// floatOp applies o in double precision, or in single precision when
// single is set. Remainder follows fmod.
func floatOp(o binop, a, b float64, single bool) float64 {
	var r float64
	switch o {
	case bAdd:
		r = a + b
	case bSub:
		r = a - b
	case bMul:
		r = a * b
	case bDiv:
		r = a / b
	case bRem:
		r = math.Mod(a, b)
	}
	if single {
		return float64(float32(r))
	}
	return r
}

// opUnary handles negation, bitwise not and the primitive conversions. The
// source is read before the destination is written.
func opUnary(in *interp, unit uint16) control {
	dst, src := bytecode.A(unit), bytecode.B(unit)
	switch bytecode.Opcode(unit) {
	case op.NegInt:
		in.setInt(dst, -in.getInt(src))
	case op.NotInt:
		in.setInt(dst, ^in.getInt(src))
	case op.NegLong:
		in.setLong(dst, -in.getLong(src))
	case op.NotLong:
		in.setLong(dst, ^in.getLong(src))
	case op.NegFloat:
		in.setFloat(dst, -in.getFloat(src))
	case op.NegDouble:
		in.setDouble(dst, -in.getDouble(src))
	case op.IntToLong:
		in.setLong(dst, int64(in.getInt(src)))
	case op.IntToFloat:
		in.setFloat(dst, float32(in.getInt(src)))
	case op.IntToDouble:
		in.setDouble(dst, float64(in.getInt(src)))
	case op.LongToInt:
		in.setInt(dst, int32(in.getLong(src)))
	case op.LongToFloat:
		in.setFloat(dst, float32(in.getLong(src)))
	case op.LongToDouble:
		in.setDouble(dst, float64(in.getLong(src)))
	case op.FloatToInt:
		in.setInt(dst, toInt32(float64(in.getFloat(src))))
	case op.FloatToLong:
		in.setLong(dst, toInt64(float64(in.getFloat(src))))
	case op.FloatToDouble:
		in.setDouble(dst, float64(in.getFloat(src)))
	case op.DoubleToInt:
		in.setInt(dst, toInt32(in.getDouble(src)))
	case op.DoubleToLong:
		in.setLong(dst, toInt64(in.getDouble(src)))
	case op.DoubleToFloat:
		in.setFloat(dst, float32(in.getDouble(src)))
	case op.IntToByte:
		in.setInt(dst, int32(int8(in.getInt(src))))
	case op.IntToChar:
		in.setInt(dst, int32(uint16(in.getInt(src))))
	case op.IntToShort:
		in.setInt(dst, int32(int16(in.getInt(src))))
	}
	return ctlNext
}

// toInt32 converts with saturation; NaN becomes 0.
func toInt32(f float64) int32 {
	switch {
	case f != f:
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	}
	return int32(f)
}

// toInt64 converts with saturation; NaN becomes 0.
func toInt64(f float64) int64 {
	switch {
	case f != f:
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}
