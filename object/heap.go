package object

import (
	"runtime"
	"sync/atomic"
)

const (
	headerBytes = 16
	slotBytes   = 8
)

// Heap allocates objects. Memory is owned by the Go collector; the heap only
// enforces an optional budget on live bytes and hands out identity hashes.
type Heap struct {
	limit  int64
	live   atomic.Int64
	allocs atomic.Int64
	seq    atomic.Uint32
}

// NewHeap returns a heap whose live objects may not exceed limit bytes. A
// limit of 0 disables the check.
func NewHeap(limit int64) *Heap {
	return &Heap{limit: limit}
}

// HeapStats describes allocation activity.
type HeapStats struct {
	Allocations int64
	LiveBytes   int64
	Limit       int64
}

// Stats returns the current allocation counters. Live bytes are only tracked
// when the heap has a limit.
func (h *Heap) Stats() HeapStats {
	return HeapStats{Allocations: h.allocs.Load(), LiveBytes: h.live.Load(), Limit: h.limit}
}

func (h *Heap) reserve(o *Object, size int64) error {
	if h.limit <= 0 {
		h.commit(o)
		return nil
	}
	if h.live.Add(size) > h.limit {
		h.live.Add(-size)
		// Collect once so finalizers of dead objects can return their bytes.
		runtime.GC()
		if h.live.Add(size) > h.limit {
			h.live.Add(-size)
			return Throwf(ExOutOfMemory, "failed to allocate %d bytes; %d of %d in use", size, h.live.Load(), h.limit)
		}
	}
	runtime.SetFinalizer(o, func(*Object) { h.live.Add(-size) })
	h.commit(o)
	return nil
}

func (h *Heap) commit(o *Object) {
	h.allocs.Add(1)
	o.hash = h.nextHash()
}

func (h *Heap) nextHash() uint32 {
	// Weyl sequence keeps hashes distinct and spread out.
	return h.seq.Add(0x9e3779b9)
}

// AllocObject allocates an instance of c with zeroed fields. Interfaces and
// abstract classes raise InstantiationError.
func (h *Heap) AllocObject(c *Class) (*Object, error) {
	if c.IsInterface() || c.IsAbstract() || c.IsArray() || c.IsPrimitive() {
		return nil, Throwf(ExInstantiation, "%s", c.Name())
	}
	o := &Object{class: c, slots: NewSlots(c.InstancePrims, c.InstanceRefs)}
	size := int64(headerBytes + slotBytes*(c.InstancePrims+c.InstanceRefs))
	if err := h.reserve(o, size); err != nil {
		return nil, err
	}
	return o, nil
}

// AllocArray allocates an array of the array class c. A negative length
// raises NegativeArraySizeException.
func (h *Heap) AllocArray(c *Class, length int32) (*Object, error) {
	if length < 0 {
		return nil, Throwf(ExNegativeArraySize, "%d", length)
	}
	if !c.IsArray() {
		return nil, Throwf(ExInternal, "%s is not an array class", c.Descriptor)
	}
	n := int(length)
	o := &Object{class: c, length: n}
	if c.Component.IsReference() {
		o.slots = NewSlots(0, n)
	} else {
		o.slots = NewSlots(n, 0)
	}
	size := int64(headerBytes + slotBytes*n)
	if err := h.reserve(o, size); err != nil {
		return nil, err
	}
	return o, nil
}

// AllocString allocates a string object of class c holding s.
func (h *Heap) AllocString(c *Class, s string) (*Object, error) {
	o := &Object{class: c, str: s}
	if err := h.reserve(o, int64(headerBytes+len(s))); err != nil {
		return nil, err
	}
	return o, nil
}

// InstanceOf reports whether o is non-null and an instance of c.
func (h *Heap) InstanceOf(o *Object, c *Class) bool {
	return InstanceOf(o, c)
}
