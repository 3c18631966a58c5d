package object

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// FieldRef is a symbolic field reference.
type FieldRef struct {
	Class string
	Name  string
	Type  string
}

func (r FieldRef) String() string { return fmt.Sprintf("%s->%s:%s", r.Class, r.Name, r.Type) }

// MethodRef is a symbolic method reference.
type MethodRef struct {
	Class      string
	Name       string
	Descriptor string
}

func (r MethodRef) String() string { return fmt.Sprintf("%s->%s%s", r.Class, r.Name, r.Descriptor) }

// Pool is the constant pool shared by the methods of a class. Instructions
// refer to its entries by index. Resolved entries are cached per slot and
// never change once set. Entries added after the first lookup are not
// cached.
type Pool struct {
	Strings []string
	Types   []string
	Fields  []FieldRef
	Methods []MethodRef

	resolvedStrings []atomic.Pointer[Object]
	resolvedTypes   []atomic.Pointer[Class]
	resolvedFields  []atomic.Pointer[Field]
	resolvedMethods []atomic.Pointer[Method]

	cacheOnce sync.Once

	stringIdx map[string]uint32
	typeIdx   map[string]uint32
	fieldIdx  map[FieldRef]uint32
	methodIdx map[MethodRef]uint32
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{
		stringIdx: map[string]uint32{},
		typeIdx:   map[string]uint32{},
		fieldIdx:  map[FieldRef]uint32{},
		methodIdx: map[MethodRef]uint32{},
	}
}

// AddString returns the index of s, adding it if needed.
func (p *Pool) AddString(s string) uint32 {
	if i, ok := p.stringIdx[s]; ok {
		return i
	}
	i := uint32(len(p.Strings))
	p.Strings = append(p.Strings, s)
	p.stringIdx[s] = i
	return i
}

// AddType returns the index of the type descriptor, adding it if needed.
func (p *Pool) AddType(desc string) uint32 {
	if i, ok := p.typeIdx[desc]; ok {
		return i
	}
	i := uint32(len(p.Types))
	p.Types = append(p.Types, desc)
	p.typeIdx[desc] = i
	return i
}

// AddField returns the index of the field reference, adding it if needed.
func (p *Pool) AddField(ref FieldRef) uint32 {
	if i, ok := p.fieldIdx[ref]; ok {
		return i
	}
	i := uint32(len(p.Fields))
	p.Fields = append(p.Fields, ref)
	p.fieldIdx[ref] = i
	return i
}

// AddMethod returns the index of the method reference, adding it if needed.
func (p *Pool) AddMethod(ref MethodRef) uint32 {
	if i, ok := p.methodIdx[ref]; ok {
		return i
	}
	i := uint32(len(p.Methods))
	p.Methods = append(p.Methods, ref)
	p.methodIdx[ref] = i
	return i
}

// ResolvedString returns the cached string object for slot i, or nil.
func (p *Pool) ResolvedString(i uint32) *Object {
	p.cacheOnce.Do(p.allocCaches)
	if int(i) >= len(p.resolvedStrings) {
		return nil
	}
	return p.resolvedStrings[i].Load()
}

// SetResolvedString caches the string object for slot i.
func (p *Pool) SetResolvedString(i uint32, o *Object) {
	p.cacheOnce.Do(p.allocCaches)
	if int(i) < len(p.resolvedStrings) {
		p.resolvedStrings[i].Store(o)
	}
}

// ResolvedType returns the cached class for slot i, or nil.
func (p *Pool) ResolvedType(i uint32) *Class {
	p.cacheOnce.Do(p.allocCaches)
	if int(i) >= len(p.resolvedTypes) {
		return nil
	}
	return p.resolvedTypes[i].Load()
}

// SetResolvedType caches the class for slot i.
func (p *Pool) SetResolvedType(i uint32, c *Class) {
	p.cacheOnce.Do(p.allocCaches)
	if int(i) < len(p.resolvedTypes) {
		p.resolvedTypes[i].Store(c)
	}
}

// ResolvedField returns the cached field for slot i, or nil.
func (p *Pool) ResolvedField(i uint32) *Field {
	p.cacheOnce.Do(p.allocCaches)
	if int(i) >= len(p.resolvedFields) {
		return nil
	}
	return p.resolvedFields[i].Load()
}

// SetResolvedField caches the field for slot i.
func (p *Pool) SetResolvedField(i uint32, f *Field) {
	p.cacheOnce.Do(p.allocCaches)
	if int(i) < len(p.resolvedFields) {
		p.resolvedFields[i].Store(f)
	}
}

// ResolvedMethod returns the cached method for slot i, or nil.
func (p *Pool) ResolvedMethod(i uint32) *Method {
	p.cacheOnce.Do(p.allocCaches)
	if int(i) >= len(p.resolvedMethods) {
		return nil
	}
	return p.resolvedMethods[i].Load()
}

// SetResolvedMethod caches the method for slot i.
func (p *Pool) SetResolvedMethod(i uint32, m *Method) {
	p.cacheOnce.Do(p.allocCaches)
	if int(i) < len(p.resolvedMethods) {
		p.resolvedMethods[i].Store(m)
	}
}

func (p *Pool) allocCaches() {
	p.resolvedStrings = make([]atomic.Pointer[Object], len(p.Strings))
	p.resolvedTypes = make([]atomic.Pointer[Class], len(p.Types))
	p.resolvedFields = make([]atomic.Pointer[Field], len(p.Fields))
	p.resolvedMethods = make([]atomic.Pointer[Method], len(p.Methods))
}
