package bytecode

import (
	"fmt"

	"github.com/deepnoodle-ai/dvm/op"
)

// Label names a code position that may not be known yet.
type Label int

type fixup struct {
	pc    int // instruction being patched
	label Label
}

type payloadKind uint8

const (
	payloadPacked payloadKind = iota + 1
	payloadSparse
	payloadArray
)

type pendingPayload struct {
	kind    payloadKind
	pc      int // the switch or fill-array-data instruction
	first   int32
	keys    []int32
	targets []Label
	width   int
	data    []byte
}

type pendingCatch struct {
	typeIdx    uint16
	start, end Label
	handler    Label
}

// Builder assembles a method body. Branch targets and try ranges are given as
// labels and patched when Finish is called; switch and array payloads are
// placed after the last instruction.
type Builder struct {
	insns    []uint16
	labels   []int
	names    map[string]Label
	fixups   []fixup
	payloads []pendingPayload
	catches  []pendingCatch
	err      error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{names: map[string]Label{}}
}

// PC returns the offset of the next instruction.
func (b *Builder) PC() int {
	return len(b.insns)
}

// NewLabel returns a fresh unbound label.
func (b *Builder) NewLabel() Label {
	b.labels = append(b.labels, -1)
	return Label(len(b.labels) - 1)
}

// Named returns the label with the given name, creating it on first use.
func (b *Builder) Named(name string) Label {
	if l, ok := b.names[name]; ok {
		return l
	}
	l := b.NewLabel()
	b.names[name] = l
	return l
}

// Mark binds the label to the current position.
func (b *Builder) Mark(l Label) *Builder {
	if b.labels[l] >= 0 {
		b.fail(fmt.Errorf("label %d bound twice", l))
		return b
	}
	b.labels[l] = len(b.insns)
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Err returns the first error recorded by the builder.
func (b *Builder) Err() error {
	return b.err
}

// Emit encodes and appends an instruction.
func (b *Builder) Emit(in Instruction) *Builder {
	units, err := Encode(in)
	if err != nil {
		b.fail(fmt.Errorf("at %d: %w", len(b.insns), err))
		return b
	}
	b.insns = append(b.insns, units...)
	return b
}

// Op appends an instruction with no operands.
func (b *Builder) Op(code op.Code) *Builder {
	return b.Emit(Instruction{Op: code})
}

// Reg appends an instruction taking a single register (11x formats).
func (b *Builder) Reg(code op.Code, a uint32) *Builder {
	return b.Emit(Instruction{Op: code, VA: a})
}

// Regs appends an instruction taking two or three registers (12x, 22x, 23x
// and 32x formats).
func (b *Builder) Regs(code op.Code, regs ...uint32) *Builder {
	in := Instruction{Op: code}
	dst := []*uint32{&in.VA, &in.VB, &in.VC}
	for i, r := range regs {
		if i < len(dst) {
			*dst[i] = r
		}
	}
	return b.Emit(in)
}

// Lit appends an instruction with a destination register and a literal
// (11n, 21s, 21h, 31i and 51l formats).
func (b *Builder) Lit(code op.Code, a uint32, lit int64) *Builder {
	return b.Emit(Instruction{Op: code, VA: a, Literal: lit})
}

// BinLit appends a binary operation with a literal operand (22s and 22b
// formats).
func (b *Builder) BinLit(code op.Code, a, src uint32, lit int64) *Builder {
	return b.Emit(Instruction{Op: code, VA: a, VB: src, Literal: lit})
}

// Index appends an instruction referring to a constant pool entry (21c, 22c
// and 31c formats). For 22c formats regs holds vA and vB.
func (b *Builder) Index(code op.Code, index uint32, regs ...uint32) *Builder {
	in := Instruction{Op: code, Index: index}
	if len(regs) > 0 {
		in.VA = regs[0]
	}
	if len(regs) > 1 {
		in.VB = regs[1]
	}
	return b.Emit(in)
}

// Invoke appends a 35c instruction with up to five argument registers.
func (b *Builder) Invoke(code op.Code, index uint32, args ...uint32) *Builder {
	in := Instruction{Op: code, Index: index, ArgCount: len(args)}
	if len(args) > 5 {
		b.fail(fmt.Errorf("%s: %d arguments", code, len(args)))
		return b
	}
	copy(in.Args[:], args)
	return b.Emit(in)
}

// InvokeRange appends a 3rc instruction over registers first..first+count-1.
func (b *Builder) InvokeRange(code op.Code, index uint32, first uint32, count int) *Builder {
	return b.Emit(Instruction{Op: code, Index: index, VC: first, ArgCount: count})
}

// Branch appends a goto or if instruction targeting l. For if-test opcodes
// regs holds the compared registers.
func (b *Builder) Branch(code op.Code, l Label, regs ...uint32) *Builder {
	info := op.GetInfo(code)
	if !info.Flags.Has(op.CanBranch) {
		b.fail(fmt.Errorf("%s is not a branch", code))
		return b
	}
	b.fixups = append(b.fixups, fixup{pc: len(b.insns), label: l})
	in := Instruction{Op: code}
	if len(regs) > 0 {
		in.VA = regs[0]
	}
	if len(regs) > 1 {
		in.VB = regs[1]
	}
	return b.Emit(in)
}

// PackedSwitch appends a packed-switch on reg whose cases are first,
// first+1, ... in order of targets.
func (b *Builder) PackedSwitch(reg uint32, first int32, targets ...Label) *Builder {
	b.payloads = append(b.payloads, pendingPayload{kind: payloadPacked, pc: len(b.insns), first: first, targets: targets})
	return b.Emit(Instruction{Op: op.PackedSwitch, VA: reg})
}

// SparseSwitch appends a sparse-switch on reg. keys must be sorted and
// parallel to targets.
func (b *Builder) SparseSwitch(reg uint32, keys []int32, targets []Label) *Builder {
	if len(keys) != len(targets) {
		b.fail(fmt.Errorf("sparse-switch: %d keys, %d targets", len(keys), len(targets)))
		return b
	}
	for i := 1; i < len(keys); i++ {
		if keys[i] <= keys[i-1] {
			b.fail(fmt.Errorf("sparse-switch: keys not sorted"))
			return b
		}
	}
	b.payloads = append(b.payloads, pendingPayload{kind: payloadSparse, pc: len(b.insns), keys: keys, targets: targets})
	return b.Emit(Instruction{Op: op.SparseSwitch, VA: reg})
}

// FillArrayData appends a fill-array-data on reg with the given element
// width and little-endian element bytes.
func (b *Builder) FillArrayData(reg uint32, width int, data []byte) *Builder {
	switch width {
	case 1, 2, 4, 8:
	default:
		b.fail(fmt.Errorf("fill-array-data: element width %d", width))
		return b
	}
	if len(data)%width != 0 {
		b.fail(fmt.Errorf("fill-array-data: %d bytes is not a multiple of %d", len(data), width))
		return b
	}
	b.payloads = append(b.payloads, pendingPayload{kind: payloadArray, pc: len(b.insns), width: width, data: data})
	return b.Emit(Instruction{Op: op.FillArrayData, VA: reg})
}

// Catch adds a handler for exceptions of type typeIdx thrown in [start, end).
// Handlers are searched in the order they are added.
func (b *Builder) Catch(typeIdx uint16, start, end, handler Label) *Builder {
	b.catches = append(b.catches, pendingCatch{typeIdx: typeIdx, start: start, end: end, handler: handler})
	return b
}

// CatchAll adds a handler that catches every exception thrown in [start, end).
func (b *Builder) CatchAll(start, end, handler Label) *Builder {
	return b.Catch(CatchAll, start, end, handler)
}

func (b *Builder) resolve(l Label) (int, error) {
	if int(l) < 0 || int(l) >= len(b.labels) {
		return 0, fmt.Errorf("unknown label %d", l)
	}
	pc := b.labels[l]
	if pc < 0 {
		for name, named := range b.names {
			if named == l {
				return 0, fmt.Errorf("label %q never bound", name)
			}
		}
		return 0, fmt.Errorf("label %d never bound", l)
	}
	return pc, nil
}

// Finish patches branches, lays out payloads and returns the code and its
// exception handler table.
func (b *Builder) Finish() ([]uint16, []ExceptionHandler, error) {
	if b.err != nil {
		return nil, nil, b.err
	}
	insns := append([]uint16(nil), b.insns...)
	for _, f := range b.fixups {
		target, err := b.resolve(f.label)
		if err != nil {
			return nil, nil, err
		}
		if err := patchBranch(insns, f.pc, int32(target-f.pc)); err != nil {
			return nil, nil, err
		}
	}
	for _, p := range b.payloads {
		if len(insns)&1 != 0 {
			insns = append(insns, uint16(op.Nop))
		}
		start := len(insns)
		targets := make([]int32, len(p.targets))
		for i, l := range p.targets {
			pc, err := b.resolve(l)
			if err != nil {
				return nil, nil, err
			}
			targets[i] = int32(pc - p.pc)
		}
		switch p.kind {
		case payloadPacked:
			insns = append(insns, EncodePackedSwitch(p.first, targets)...)
		case payloadSparse:
			insns = append(insns, EncodeSparseSwitch(p.keys, targets)...)
		case payloadArray:
			insns = append(insns, EncodeArrayData(p.width, p.data)...)
		}
		off := uint32(start - p.pc)
		insns[p.pc+1] = uint16(off)
		insns[p.pc+2] = uint16(off >> 16)
	}
	var handlers []ExceptionHandler
	for _, c := range b.catches {
		start, err := b.resolve(c.start)
		if err != nil {
			return nil, nil, err
		}
		end, err := b.resolve(c.end)
		if err != nil {
			return nil, nil, err
		}
		handler, err := b.resolve(c.handler)
		if err != nil {
			return nil, nil, err
		}
		if end < start {
			return nil, nil, fmt.Errorf("try range [%d, %d) is inverted", start, end)
		}
		handlers = append(handlers, ExceptionHandler{TryStart: start, TryEnd: end, HandlerPC: handler, TypeIdx: c.typeIdx})
	}
	return insns, handlers, nil
}

func patchBranch(insns []uint16, pc int, offset int32) error {
	code := Opcode(insns[pc])
	switch op.GetInfo(code).Format {
	case op.Fmt10t:
		if !fitsS(int64(offset), 8) {
			return rangeErr(code, "offset", int64(offset))
		}
		insns[pc] = uint16(code) | uint16(uint8(int8(offset)))<<8
	case op.Fmt20t, op.Fmt21t, op.Fmt22t:
		if !fitsS(int64(offset), 16) {
			return rangeErr(code, "offset", int64(offset))
		}
		insns[pc+1] = uint16(offset)
	case op.Fmt30t:
		insns[pc+1] = uint16(offset)
		insns[pc+2] = uint16(uint32(offset) >> 16)
	default:
		return fmt.Errorf("cannot patch %s at %d", code, pc)
	}
	return nil
}
