package object

import "sync/atomic"

// Slots is field or element storage. Primitive values live in 64-bit cells
// so a volatile long or double is a single atomic word; references are kept
// apart so the collector always sees them.
type Slots struct {
	prims []uint64
	refs  []atomic.Pointer[Object]
}

// NewSlots returns storage for the given number of primitive and reference
// slots, all zero.
func NewSlots(prims, refs int) Slots {
	return Slots{
		prims: make([]uint64, prims),
		refs:  make([]atomic.Pointer[Object], refs),
	}
}

func (s *Slots) NumPrims() int { return len(s.prims) }
func (s *Slots) NumRefs() int  { return len(s.refs) }

func (s *Slots) Prim(i int) uint64       { return s.prims[i] }
func (s *Slots) SetPrim(i int, v uint64) { s.prims[i] = v }

// Int returns the low 32 bits of primitive slot i.
func (s *Slots) Int(i int) int32 { return int32(uint32(s.prims[i])) }

// SetInt stores v zero-extended into primitive slot i.
func (s *Slots) SetInt(i int, v int32) { s.prims[i] = uint64(uint32(v)) }

func (s *Slots) Ref(i int) *Object       { return s.refs[i].Load() }
func (s *Slots) SetRef(i int, o *Object) { s.refs[i].Store(o) }

// LoadPrim is an acquire load of primitive slot i.
func (s *Slots) LoadPrim(i int) uint64 { return atomic.LoadUint64(&s.prims[i]) }

// StorePrim is a release store into primitive slot i.
func (s *Slots) StorePrim(i int, v uint64) { atomic.StoreUint64(&s.prims[i], v) }
