package bytecode

import (
	"errors"
	"fmt"
)

// Payload identifiers. They occupy the first code unit of a payload, whose low
// byte reads as a nop.
const (
	PackedSwitchIdent uint16 = 0x0100
	SparseSwitchIdent uint16 = 0x0200
	ArrayDataIdent    uint16 = 0x0300
)

// ErrBadPayload is returned when a payload reference does not point at a
// well-formed payload of the expected kind.
var ErrBadPayload = errors.New("bad payload")

// PackedSwitch is a decoded packed-switch payload.
type PackedSwitch struct {
	FirstKey int32
	Targets  []int32
}

// SparseSwitch is a decoded sparse-switch payload. Keys are sorted.
type SparseSwitch struct {
	Keys    []int32
	Targets []int32
}

// ArrayData is a decoded fill-array-data payload.
type ArrayData struct {
	ElementWidth int
	Count        int
	Data         []byte
}

func checkPayload(insns []uint16, pc, minUnits int, ident uint16) error {
	if pc < 0 || pc+minUnits > len(insns) || pc&1 != 0 {
		return fmt.Errorf("%w: offset %d", ErrBadPayload, pc)
	}
	if insns[pc] != ident {
		return fmt.Errorf("%w: ident 0x%04x at %d", ErrBadPayload, insns[pc], pc)
	}
	return nil
}

// PackedSwitchTarget looks up value in the packed-switch payload at pc
// without allocating. It returns the branch offset and whether a case
// matched.
func PackedSwitchTarget(insns []uint16, pc int, value int32) (int32, bool, error) {
	if err := checkPayload(insns, pc, 4, PackedSwitchIdent); err != nil {
		return 0, false, err
	}
	size := int(insns[pc+1])
	if pc+4+size*2 > len(insns) {
		return 0, false, fmt.Errorf("%w: truncated packed-switch at %d", ErrBadPayload, pc)
	}
	first := int32(Unit32(insns, pc+2))
	index := int64(value) - int64(first)
	if index < 0 || index >= int64(size) {
		return 0, false, nil
	}
	return int32(Unit32(insns, pc+4+int(index)*2)), true, nil
}

// SparseSwitchTarget looks up value in the sparse-switch payload at pc with a
// binary search over its sorted keys.
func SparseSwitchTarget(insns []uint16, pc int, value int32) (int32, bool, error) {
	if err := checkPayload(insns, pc, 2, SparseSwitchIdent); err != nil {
		return 0, false, err
	}
	size := int(insns[pc+1])
	if pc+2+size*4 > len(insns) {
		return 0, false, fmt.Errorf("%w: truncated sparse-switch at %d", ErrBadPayload, pc)
	}
	keys := pc + 2
	targets := keys + size*2
	lo, hi := 0, size-1
	for lo <= hi {
		mid := (lo + hi) / 2
		key := int32(Unit32(insns, keys+mid*2))
		switch {
		case value < key:
			hi = mid - 1
		case value > key:
			lo = mid + 1
		default:
			return int32(Unit32(insns, targets+mid*2)), true, nil
		}
	}
	return 0, false, nil
}

// ReadPackedSwitch decodes the packed-switch payload at pc.
func ReadPackedSwitch(insns []uint16, pc int) (PackedSwitch, error) {
	if err := checkPayload(insns, pc, 4, PackedSwitchIdent); err != nil {
		return PackedSwitch{}, err
	}
	size := int(insns[pc+1])
	if pc+4+size*2 > len(insns) {
		return PackedSwitch{}, fmt.Errorf("%w: truncated packed-switch at %d", ErrBadPayload, pc)
	}
	p := PackedSwitch{FirstKey: int32(Unit32(insns, pc+2)), Targets: make([]int32, size)}
	for i := range p.Targets {
		p.Targets[i] = int32(Unit32(insns, pc+4+i*2))
	}
	return p, nil
}

// ReadSparseSwitch decodes the sparse-switch payload at pc.
func ReadSparseSwitch(insns []uint16, pc int) (SparseSwitch, error) {
	if err := checkPayload(insns, pc, 2, SparseSwitchIdent); err != nil {
		return SparseSwitch{}, err
	}
	size := int(insns[pc+1])
	if pc+2+size*4 > len(insns) {
		return SparseSwitch{}, fmt.Errorf("%w: truncated sparse-switch at %d", ErrBadPayload, pc)
	}
	s := SparseSwitch{Keys: make([]int32, size), Targets: make([]int32, size)}
	for i := 0; i < size; i++ {
		s.Keys[i] = int32(Unit32(insns, pc+2+i*2))
		s.Targets[i] = int32(Unit32(insns, pc+2+size*2+i*2))
	}
	return s, nil
}

// ReadArrayData decodes the fill-array-data payload at pc. Data holds the
// element bytes in little-endian order.
func ReadArrayData(insns []uint16, pc int) (ArrayData, error) {
	if err := checkPayload(insns, pc, 4, ArrayDataIdent); err != nil {
		return ArrayData{}, err
	}
	width := int(insns[pc+1])
	count := int(Unit32(insns, pc+2))
	switch width {
	case 1, 2, 4, 8:
	default:
		return ArrayData{}, fmt.Errorf("%w: element width %d at %d", ErrBadPayload, width, pc)
	}
	nbytes := width * count
	units := (nbytes + 1) / 2
	if pc+4+units > len(insns) {
		return ArrayData{}, fmt.Errorf("%w: truncated array data at %d", ErrBadPayload, pc)
	}
	data := make([]byte, nbytes)
	for i := 0; i < nbytes; i++ {
		unit := insns[pc+4+i/2]
		if i&1 == 0 {
			data[i] = byte(unit)
		} else {
			data[i] = byte(unit >> 8)
		}
	}
	return ArrayData{ElementWidth: width, Count: count, Data: data}, nil
}

// PayloadWidth returns the size in code units of the payload starting at pc,
// or 0 if insns[pc] does not start a payload.
func PayloadWidth(insns []uint16, pc int) int {
	if pc < 0 || pc+1 >= len(insns) {
		return 0
	}
	switch insns[pc] {
	case PackedSwitchIdent:
		return 4 + int(insns[pc+1])*2
	case SparseSwitchIdent:
		return 2 + int(insns[pc+1])*4
	case ArrayDataIdent:
		if pc+3 >= len(insns) {
			return 0
		}
		width := int(insns[pc+1])
		count := int(Unit32(insns, pc+2))
		return 4 + (width*count+1)/2
	}
	return 0
}

// EncodePackedSwitch returns the payload for a packed-switch whose first key is
// first. Targets are offsets relative to the switch instruction.
func EncodePackedSwitch(first int32, targets []int32) []uint16 {
	out := []uint16{PackedSwitchIdent, uint16(len(targets)), uint16(first), uint16(uint32(first) >> 16)}
	for _, t := range targets {
		out = append(out, uint16(t), uint16(uint32(t)>>16))
	}
	return out
}

// EncodeSparseSwitch returns the payload for a sparse-switch. Keys must be
// sorted in ascending order.
func EncodeSparseSwitch(keys, targets []int32) []uint16 {
	out := []uint16{SparseSwitchIdent, uint16(len(keys))}
	for _, k := range keys {
		out = append(out, uint16(k), uint16(uint32(k)>>16))
	}
	for _, t := range targets {
		out = append(out, uint16(t), uint16(uint32(t)>>16))
	}
	return out
}

// EncodeArrayData returns the payload for fill-array-data. data holds
// count*width little-endian bytes.
func EncodeArrayData(width int, data []byte) []uint16 {
	count := 0
	if width > 0 {
		count = len(data) / width
	}
	out := []uint16{ArrayDataIdent, uint16(width), uint16(count), uint16(uint32(count) >> 16)}
	for i := 0; i < len(data); i += 2 {
		unit := uint16(data[i])
		if i+1 < len(data) {
			unit |= uint16(data[i+1]) << 8
		}
		out = append(out, unit)
	}
	return out
}
