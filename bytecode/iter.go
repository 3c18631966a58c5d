package bytecode

import "github.com/deepnoodle-ai/dvm/op"

// InstructionWidth returns the width in code units of whatever starts at
// insns[pc]: a payload or an instruction.
func InstructionWidth(insns []uint16, pc int) int {
	if w := PayloadWidth(insns, pc); w > 0 {
		return w
	}
	return op.GetInfo(Opcode(insns[pc])).Width()
}

// Iterator walks the instructions of a method body, skipping payloads.
type Iterator struct {
	insns []uint16
	next  int
	pc    int
	cur   Instruction
	err   error
}

// NewIterator returns an iterator positioned before the first instruction.
func NewIterator(insns []uint16) *Iterator {
	return &Iterator{insns: insns}
}

// Next advances to the next instruction. It returns false at the end of the
// code or on a decoding error, which Err reports.
func (it *Iterator) Next() bool {
	for it.err == nil && it.next < len(it.insns) {
		if w := PayloadWidth(it.insns, it.next); w > 0 {
			it.next += w
			continue
		}
		in, err := Decode(it.insns, it.next)
		if err != nil {
			it.err = err
			return false
		}
		it.pc = it.next
		it.cur = in
		it.next += in.Width
		return true
	}
	return false
}

// PC returns the offset of the current instruction.
func (it *Iterator) PC() int {
	return it.pc
}

// Instruction returns the current instruction.
func (it *Iterator) Instruction() Instruction {
	return it.cur
}

// Err returns the decoding error that stopped iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}
