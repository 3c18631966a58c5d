package bytecode

import (
	"errors"
	"fmt"
	"math"

	"github.com/deepnoodle-ai/dvm/op"
)

// ErrOperandRange is returned when an operand does not fit the bits its
// format gives it.
var ErrOperandRange = errors.New("operand out of range")

func rangeErr(code op.Code, what string, v int64) error {
	return fmt.Errorf("%w: %s %s=%d", ErrOperandRange, code, what, v)
}

func fitsU(v uint32, bits uint) bool {
	return v < 1<<bits
}

func fitsS(v int64, bits uint) bool {
	limit := int64(1) << (bits - 1)
	return v >= -limit && v < limit
}

// Encode packs an instruction into code units according to its opcode's
// format. It is the inverse of Decode.
func Encode(in Instruction) ([]uint16, error) {
	code := in.Op
	info := op.GetInfo(code)
	if !info.Valid() {
		return nil, fmt.Errorf("unused opcode 0x%02x", uint8(code))
	}
	u := uint16(code)
	regs := func(bits uint, vs ...uint32) error {
		for _, v := range vs {
			if !fitsU(v, bits) {
				return rangeErr(code, "register", int64(v))
			}
		}
		return nil
	}
	lit := func(bits uint) error {
		if !fitsS(in.Literal, bits) {
			return rangeErr(code, "literal", in.Literal)
		}
		return nil
	}
	offset := func(bits uint) error {
		if !fitsS(int64(in.Offset), bits) {
			return rangeErr(code, "offset", int64(in.Offset))
		}
		return nil
	}
	index16 := func() error {
		if !fitsU(in.Index, 16) {
			return rangeErr(code, "index", int64(in.Index))
		}
		return nil
	}

	switch info.Format {
	case op.Fmt10x:
		return []uint16{u}, nil
	case op.Fmt12x:
		if err := regs(4, in.VA, in.VB); err != nil {
			return nil, err
		}
		return []uint16{u | uint16(in.VA)<<8 | uint16(in.VB)<<12}, nil
	case op.Fmt11n:
		if err := regs(4, in.VA); err != nil {
			return nil, err
		}
		if err := lit(4); err != nil {
			return nil, err
		}
		return []uint16{u | uint16(in.VA)<<8 | uint16(in.Literal&0xf)<<12}, nil
	case op.Fmt11x:
		if err := regs(8, in.VA); err != nil {
			return nil, err
		}
		return []uint16{u | uint16(in.VA)<<8}, nil
	case op.Fmt10t:
		if err := offset(8); err != nil {
			return nil, err
		}
		return []uint16{u | uint16(uint8(int8(in.Offset)))<<8}, nil
	case op.Fmt20t:
		if code == op.ThrowVerificationError {
			if err := regs(8, in.VA); err != nil {
				return nil, err
			}
			if err := index16(); err != nil {
				return nil, err
			}
			return []uint16{u | uint16(in.VA)<<8, uint16(in.Index)}, nil
		}
		if err := offset(16); err != nil {
			return nil, err
		}
		return []uint16{u, uint16(in.Offset)}, nil
	case op.Fmt22x:
		if err := regs(8, in.VA); err != nil {
			return nil, err
		}
		if err := regs(16, in.VB); err != nil {
			return nil, err
		}
		return []uint16{u | uint16(in.VA)<<8, uint16(in.VB)}, nil
	case op.Fmt21t:
		if err := regs(8, in.VA); err != nil {
			return nil, err
		}
		if err := offset(16); err != nil {
			return nil, err
		}
		return []uint16{u | uint16(in.VA)<<8, uint16(in.Offset)}, nil
	case op.Fmt21s:
		if err := regs(8, in.VA); err != nil {
			return nil, err
		}
		if err := lit(16); err != nil {
			return nil, err
		}
		return []uint16{u | uint16(in.VA)<<8, uint16(in.Literal)}, nil
	case op.Fmt21h:
		if err := regs(8, in.VA); err != nil {
			return nil, err
		}
		var high uint16
		if code == op.ConstWideHigh16 {
			if in.Literal&(1<<48-1) != 0 {
				return nil, rangeErr(code, "literal", in.Literal)
			}
			high = uint16(uint64(in.Literal) >> 48)
		} else {
			if in.Literal < math.MinInt32 || in.Literal > math.MaxInt32 || in.Literal&0xffff != 0 {
				return nil, rangeErr(code, "literal", in.Literal)
			}
			high = uint16(uint32(in.Literal) >> 16)
		}
		return []uint16{u | uint16(in.VA)<<8, high}, nil
	case op.Fmt21c:
		if err := regs(8, in.VA); err != nil {
			return nil, err
		}
		if err := index16(); err != nil {
			return nil, err
		}
		return []uint16{u | uint16(in.VA)<<8, uint16(in.Index)}, nil
	case op.Fmt23x:
		if err := regs(8, in.VA, in.VB, in.VC); err != nil {
			return nil, err
		}
		return []uint16{u | uint16(in.VA)<<8, uint16(in.VB) | uint16(in.VC)<<8}, nil
	case op.Fmt22b:
		if err := regs(8, in.VA, in.VB); err != nil {
			return nil, err
		}
		if err := lit(8); err != nil {
			return nil, err
		}
		return []uint16{u | uint16(in.VA)<<8, uint16(in.VB) | uint16(uint8(int8(in.Literal)))<<8}, nil
	case op.Fmt22t:
		if err := regs(4, in.VA, in.VB); err != nil {
			return nil, err
		}
		if err := offset(16); err != nil {
			return nil, err
		}
		return []uint16{u | uint16(in.VA)<<8 | uint16(in.VB)<<12, uint16(in.Offset)}, nil
	case op.Fmt22s:
		if err := regs(4, in.VA, in.VB); err != nil {
			return nil, err
		}
		if err := lit(16); err != nil {
			return nil, err
		}
		return []uint16{u | uint16(in.VA)<<8 | uint16(in.VB)<<12, uint16(in.Literal)}, nil
	case op.Fmt22c:
		if err := regs(4, in.VA, in.VB); err != nil {
			return nil, err
		}
		if err := index16(); err != nil {
			return nil, err
		}
		return []uint16{u | uint16(in.VA)<<8 | uint16(in.VB)<<12, uint16(in.Index)}, nil
	case op.Fmt32x:
		if err := regs(16, in.VA, in.VB); err != nil {
			return nil, err
		}
		return []uint16{u, uint16(in.VA), uint16(in.VB)}, nil
	case op.Fmt30t:
		return []uint16{u, uint16(in.Offset), uint16(uint32(in.Offset) >> 16)}, nil
	case op.Fmt31t:
		if err := regs(8, in.VA); err != nil {
			return nil, err
		}
		return []uint16{u | uint16(in.VA)<<8, uint16(in.Offset), uint16(uint32(in.Offset) >> 16)}, nil
	case op.Fmt31i:
		if err := regs(8, in.VA); err != nil {
			return nil, err
		}
		if err := lit(32); err != nil {
			return nil, err
		}
		v := uint32(in.Literal)
		return []uint16{u | uint16(in.VA)<<8, uint16(v), uint16(v >> 16)}, nil
	case op.Fmt31c:
		if err := regs(8, in.VA); err != nil {
			return nil, err
		}
		return []uint16{u | uint16(in.VA)<<8, uint16(in.Index), uint16(in.Index >> 16)}, nil
	case op.Fmt35c:
		if in.ArgCount < 0 || in.ArgCount > 5 {
			return nil, rangeErr(code, "count", int64(in.ArgCount))
		}
		if err := regs(4, in.Args[:in.ArgCount]...); err != nil {
			return nil, err
		}
		if err := index16(); err != nil {
			return nil, err
		}
		var a [5]uint32
		copy(a[:], in.Args[:in.ArgCount])
		packed := uint16(a[0]) | uint16(a[1])<<4 | uint16(a[2])<<8 | uint16(a[3])<<12
		return []uint16{u | uint16(a[4])<<8 | uint16(in.ArgCount)<<12, uint16(in.Index), packed}, nil
	case op.Fmt3rc:
		if in.ArgCount < 0 || in.ArgCount > 255 {
			return nil, rangeErr(code, "count", int64(in.ArgCount))
		}
		if err := regs(16, in.VC); err != nil {
			return nil, err
		}
		if err := index16(); err != nil {
			return nil, err
		}
		return []uint16{u | uint16(in.ArgCount)<<8, uint16(in.Index), uint16(in.VC)}, nil
	case op.Fmt51l:
		if err := regs(8, in.VA); err != nil {
			return nil, err
		}
		v := uint64(in.Literal)
		return []uint16{u | uint16(in.VA)<<8, uint16(v), uint16(v >> 16), uint16(v >> 32), uint16(v >> 48)}, nil
	}
	return nil, fmt.Errorf("unknown format for %s", info.Name)
}
