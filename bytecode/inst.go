package bytecode

import (
	"fmt"

	"github.com/deepnoodle-ai/dvm/op"
)

// Opcode returns the opcode held in the low byte of a code unit.
func Opcode(unit uint16) op.Code {
	return op.Code(unit & 0xff)
}

// AA returns the high byte of a code unit.
func AA(unit uint16) uint32 {
	return uint32(unit >> 8)
}

// A returns bits 8-11 of a code unit.
func A(unit uint16) uint32 {
	return uint32(unit>>8) & 0x0f
}

// B returns bits 12-15 of a code unit.
func B(unit uint16) uint32 {
	return uint32(unit >> 12)
}

// Unit32 reads the 32-bit value stored little-endian in insns[pc:pc+2].
func Unit32(insns []uint16, pc int) uint32 {
	return uint32(insns[pc]) | uint32(insns[pc+1])<<16
}

// Unit64 reads the 64-bit value stored little-endian in insns[pc:pc+4].
func Unit64(insns []uint16, pc int) uint64 {
	return uint64(insns[pc]) |
		uint64(insns[pc+1])<<16 |
		uint64(insns[pc+2])<<32 |
		uint64(insns[pc+3])<<48
}

// Instruction is a decoded instruction. Which fields are meaningful depends on
// the opcode's format; unused fields are zero.
type Instruction struct {
	Op       op.Code
	Width    int
	VA       uint32
	VB       uint32
	VC       uint32
	Args     [5]uint32 // argument registers of a 35c instruction
	ArgCount int       // argument count of 35c and 3rc instructions
	Literal  int64
	Index    uint32
	Offset   int32 // branch or payload offset, relative to the instruction
}

// Decode decodes the instruction starting at insns[pc].
func Decode(insns []uint16, pc int) (Instruction, error) {
	if pc < 0 || pc >= len(insns) {
		return Instruction{}, fmt.Errorf("pc %d out of range", pc)
	}
	unit := insns[pc]
	code := Opcode(unit)
	info := op.GetInfo(code)
	if !info.Valid() {
		return Instruction{}, fmt.Errorf("unused opcode 0x%02x at %d", uint8(code), pc)
	}
	width := info.Width()
	if pc+width > len(insns) {
		return Instruction{}, fmt.Errorf("truncated %s at %d", info.Name, pc)
	}
	in := Instruction{Op: code, Width: width}
	switch info.Format {
	case op.Fmt10x:
	case op.Fmt12x:
		in.VA, in.VB = A(unit), B(unit)
	case op.Fmt11n:
		in.VA = A(unit)
		in.Literal = int64(int8(unit>>8) >> 4)
	case op.Fmt11x:
		in.VA = AA(unit)
	case op.Fmt10t:
		in.Offset = int32(int8(unit >> 8))
	case op.Fmt20t:
		in.Offset = int32(int16(insns[pc+1]))
		if code == op.ThrowVerificationError {
			in.VA = AA(unit)
			in.Offset = 0
			in.Index = uint32(insns[pc+1])
		}
	case op.Fmt22x:
		in.VA, in.VB = AA(unit), uint32(insns[pc+1])
	case op.Fmt21t:
		in.VA = AA(unit)
		in.Offset = int32(int16(insns[pc+1]))
	case op.Fmt21s:
		in.VA = AA(unit)
		in.Literal = int64(int16(insns[pc+1]))
	case op.Fmt21h:
		in.VA = AA(unit)
		if code == op.ConstWideHigh16 {
			in.Literal = int64(insns[pc+1]) << 48
		} else {
			in.Literal = int64(int32(uint32(insns[pc+1]) << 16))
		}
	case op.Fmt21c:
		in.VA, in.Index = AA(unit), uint32(insns[pc+1])
	case op.Fmt23x:
		in.VA = AA(unit)
		in.VB = uint32(insns[pc+1] & 0xff)
		in.VC = uint32(insns[pc+1] >> 8)
	case op.Fmt22b:
		in.VA = AA(unit)
		in.VB = uint32(insns[pc+1] & 0xff)
		in.Literal = int64(int8(insns[pc+1] >> 8))
	case op.Fmt22t:
		in.VA, in.VB = A(unit), B(unit)
		in.Offset = int32(int16(insns[pc+1]))
	case op.Fmt22s:
		in.VA, in.VB = A(unit), B(unit)
		in.Literal = int64(int16(insns[pc+1]))
	case op.Fmt22c:
		in.VA, in.VB = A(unit), B(unit)
		in.Index = uint32(insns[pc+1])
	case op.Fmt32x:
		in.VA, in.VB = uint32(insns[pc+1]), uint32(insns[pc+2])
	case op.Fmt30t:
		in.Offset = int32(Unit32(insns, pc+1))
	case op.Fmt31t:
		in.VA = AA(unit)
		in.Offset = int32(Unit32(insns, pc+1))
	case op.Fmt31i:
		in.VA = AA(unit)
		in.Literal = int64(int32(Unit32(insns, pc+1)))
	case op.Fmt31c:
		in.VA, in.Index = AA(unit), Unit32(insns, pc+1)
	case op.Fmt35c:
		count := int(B(unit))
		if count > 5 {
			return Instruction{}, fmt.Errorf("invalid argument count %d for %s at %d", count, info.Name, pc)
		}
		in.ArgCount = count
		in.Index = uint32(insns[pc+1])
		regs := insns[pc+2]
		in.Args = [5]uint32{
			uint32(regs) & 0x0f,
			uint32(regs>>4) & 0x0f,
			uint32(regs>>8) & 0x0f,
			uint32(regs>>12) & 0x0f,
			A(unit),
		}
		for i := count; i < 5; i++ {
			in.Args[i] = 0
		}
	case op.Fmt3rc:
		in.ArgCount = int(AA(unit))
		in.Index = uint32(insns[pc+1])
		in.VC = uint32(insns[pc+2])
	case op.Fmt51l:
		in.VA = AA(unit)
		in.Literal = int64(Unit64(insns, pc+1))
	default:
		return Instruction{}, fmt.Errorf("unknown format for %s", info.Name)
	}
	return in, nil
}
