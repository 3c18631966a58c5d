// Package linker loads class definitions into runtime classes.
//
// A Linker keeps class definitions by descriptor and links them on first use:
// it resolves the superclass and interfaces, lays out fields, builds the
// vtable and interface table and creates the class mirror. It also resolves
// constant pool references for the interpreter.
package linker

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/deepnoodle-ai/dvm/bytecode"
	"github.com/deepnoodle-ai/dvm/object"
	"github.com/deepnoodle-ai/dvm/op"
)

// FieldDef declares a field of a class definition. Value is the initial
// value of a static field: an int64, float64, bool or string.
type FieldDef struct {
	Name  string
	Type  string
	Flags object.AccessFlags
	Value any
}

// ClassDef is an unlinked class.
type ClassDef struct {
	Descriptor string
	Flags      object.AccessFlags
	Super      string // empty only for java.lang.Object
	Interfaces []string
	Fields     []FieldDef
	Methods    []*object.Method
	Pool       *object.Pool
}

// Option configures a Linker.
type Option func(*Linker)

// WithLogger sets the logger used to report linking activity.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Linker) {
		l.log = logger
	}
}

// Linker holds class definitions and the classes linked from them. It is
// safe for concurrent use.
type Linker struct {
	mu         sync.Mutex
	heap       *object.Heap
	defs       map[string]*ClassDef
	classes    map[string]*object.Class
	linking    map[string]bool
	primitives map[string]*object.Class
	interned   map[string]*object.Object
	orphans    []*object.Class // linked before java.lang.Class, no mirror yet
	log        zerolog.Logger
}

// New returns a linker allocating mirrors and strings from heap.
func New(heap *object.Heap, opts ...Option) *Linker {
	l := &Linker{
		heap:       heap,
		defs:       map[string]*ClassDef{},
		classes:    map[string]*object.Class{},
		linking:    map[string]bool{},
		primitives: map[string]*object.Class{},
		interned:   map[string]*object.Object{},
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	for _, p := range []string{"Z", "B", "C", "S", "I", "J", "F", "D", "V"} {
		l.primitives[p] = object.NewPrimitiveClass(p)
	}
	return l
}

// Heap returns the heap the linker allocates from.
func (l *Linker) Heap() *object.Heap {
	return l.heap
}

// Define adds a class definition. It is an error to define a descriptor twice.
func (l *Linker) Define(def *ClassDef) error {
	if def == nil || def.Descriptor == "" {
		return fmt.Errorf("class definition without descriptor")
	}
	if _, _, err := splitClassDescriptor(def.Descriptor); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.defs[def.Descriptor]; ok {
		return fmt.Errorf("class %s already defined", def.Descriptor)
	}
	if def.Pool == nil {
		def.Pool = object.NewPool()
	}
	l.defs[def.Descriptor] = def
	return nil
}

// DefineAll adds every definition and reports all failures together.
func (l *Linker) DefineAll(defs []*ClassDef) error {
	var result *multierror.Error
	for _, def := range defs {
		if err := l.Define(def); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// LinkAll links every defined class and reports all failures together.
func (l *Linker) LinkAll() error {
	l.mu.Lock()
	descs := make([]string, 0, len(l.defs))
	for desc := range l.defs {
		descs = append(descs, desc)
	}
	l.mu.Unlock()
	sort.Strings(descs)
	var result *multierror.Error
	for _, desc := range descs {
		if _, err := l.Lookup(desc); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Lookup returns the linked class with the given descriptor, linking it and
// its supertypes if needed. Array classes are created on demand. Failures are
// *object.ThrowError values.
func (l *Linker) Lookup(desc string) (*object.Class, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lookup(desc)
}

// Classes returns every linked class sorted by descriptor.
func (l *Linker) Classes() []*object.Class {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*object.Class, 0, len(l.classes))
	for _, c := range l.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Descriptor < out[j].Descriptor })
	return out
}

// FindMethod looks up a method by class descriptor, name and descriptor.
func (l *Linker) FindMethod(class, name, desc string) (*object.Method, error) {
	c, err := l.Lookup(class)
	if err != nil {
		return nil, err
	}
	m := c.FindMethod(name, desc)
	if m == nil {
		return nil, object.Throwf(object.ExNoSuchMethod, "%s->%s%s", class, name, desc)
	}
	return m, nil
}

func (l *Linker) lookup(desc string) (*object.Class, error) {
	if c, ok := l.classes[desc]; ok {
		return c, nil
	}
	if c, ok := l.primitives[desc]; ok {
		return c, nil
	}
	if len(desc) > 1 && desc[0] == '[' {
		return l.arrayClass(desc)
	}
	def, ok := l.defs[desc]
	if !ok {
		return nil, object.Throwf(object.ExNoClassDefFound, "%s", object.ClassName(desc))
	}
	if l.linking[desc] {
		return nil, object.Throwf(object.ExNoClassDefFound, "class circularity at %s", object.ClassName(desc))
	}
	l.linking[desc] = true
	defer delete(l.linking, desc)
	c, err := l.link(def)
	if err != nil {
		return nil, err
	}
	l.classes[desc] = c
	l.attachMirror(c)
	l.log.Debug().Str("class", desc).Int("vtable", len(c.Vtable)).Int("iftable", len(c.IfTable)).Msg("class linked")
	return c, nil
}

func (l *Linker) arrayClass(desc string) (*object.Class, error) {
	component, err := l.lookup(desc[1:])
	if err != nil {
		return nil, err
	}
	if component.Descriptor == "V" {
		return nil, object.Throwf(object.ExNoClassDefFound, "%s", desc)
	}
	root, err := l.lookup(object.DescObject)
	if err != nil {
		return nil, err
	}
	c := object.NewClass(desc, object.AccPublic|object.AccFinal|object.AccAbstract)
	c.Super = root
	c.Component = component
	c.Vtable = root.Vtable
	c.SetState(object.StateInitialized)
	l.classes[desc] = c
	l.attachMirror(c)
	return c, nil
}

// attachMirror creates the java.lang.Class object of c. Classes linked before
// java.lang.Class itself get their mirrors once it is available.
func (l *Linker) attachMirror(c *object.Class) {
	classClass, ok := l.classes[object.DescClass]
	if !ok {
		l.orphans = append(l.orphans, c)
		return
	}
	pending := append(l.orphans, c)
	l.orphans = nil
	for _, k := range pending {
		if k.Mirror != nil {
			continue
		}
		mirror, err := l.heap.AllocObject(classClass)
		if err != nil {
			l.log.Error().Err(err).Str("class", k.Descriptor).Msg("mirror allocation failed")
			continue
		}
		mirror.SetHost(k)
		k.Mirror = mirror
	}
}

func verifyErr(def *ClassDef, format string, args ...any) error {
	return object.Throwf(object.ExVerify, "%s: %s", object.ClassName(def.Descriptor), fmt.Sprintf(format, args...))
}

func (l *Linker) link(def *ClassDef) (*object.Class, error) {
	c := object.NewClass(def.Descriptor, def.Flags)
	c.Pool = def.Pool

	if def.Super == "" {
		if def.Descriptor != object.DescObject {
			return nil, verifyErr(def, "missing superclass")
		}
	} else {
		super, err := l.lookup(def.Super)
		if err != nil {
			return nil, err
		}
		if super.IsInterface() || super.IsArray() || super.IsPrimitive() {
			return nil, object.Throwf(object.ExIncompatibleClassChange, "%s cannot extend %s", c.Name(), super.Name())
		}
		if super.Flags.Has(object.AccFinal) {
			return nil, verifyErr(def, "cannot extend final class %s", super.Name())
		}
		c.Super = super
	}
	for _, name := range def.Interfaces {
		iface, err := l.lookup(name)
		if err != nil {
			return nil, err
		}
		if !iface.IsInterface() {
			return nil, object.Throwf(object.ExIncompatibleClassChange, "%s implements non-interface %s", c.Name(), iface.Name())
		}
		c.Interfaces = append(c.Interfaces, iface)
	}

	if err := l.layoutFields(c, def); err != nil {
		return nil, err
	}
	if err := prepareMethods(c, def); err != nil {
		return nil, err
	}
	buildVtable(c)
	buildIfTable(c)
	c.SetState(object.StateLinked)
	return c, nil
}

func (l *Linker) layoutFields(c *object.Class, def *ClassDef) error {
	prims, refs := 0, 0
	if c.Super != nil {
		prims, refs = c.Super.InstancePrims, c.Super.InstanceRefs
	}
	staticPrims, staticRefs := 0, 0
	seen := map[string]bool{}
	for _, fd := range def.Fields {
		if !object.IsPrimitive(fd.Type) && !object.IsReference(fd.Type) {
			return verifyErr(def, "field %s has bad type %q", fd.Name, fd.Type)
		}
		if seen[fd.Name+":"+fd.Type] {
			return verifyErr(def, "duplicate field %s", fd.Name)
		}
		seen[fd.Name+":"+fd.Type] = true
		f := &object.Field{Class: c, Name: fd.Name, Type: fd.Type, Flags: fd.Flags}
		switch {
		case f.IsStatic() && f.IsReference():
			f.Slot, staticRefs = staticRefs, staticRefs+1
		case f.IsStatic():
			f.Slot, staticPrims = staticPrims, staticPrims+1
		case f.IsReference():
			f.Slot, refs = refs, refs+1
		default:
			f.Slot, prims = prims, prims+1
		}
		c.Fields = append(c.Fields, f)
	}
	c.InstancePrims, c.InstanceRefs = prims, refs
	c.Statics = object.NewSlots(staticPrims, staticRefs)
	for i, fd := range def.Fields {
		f := c.Fields[i]
		if fd.Value == nil {
			continue
		}
		if !f.IsStatic() {
			return verifyErr(def, "instance field %s has an initial value", f.Name)
		}
		if err := l.setStaticValue(c, f, fd.Value); err != nil {
			return verifyErr(def, "field %s: %v", f.Name, err)
		}
	}
	return nil
}

func (l *Linker) setStaticValue(c *object.Class, f *object.Field, v any) error {
	if f.IsReference() {
		s, ok := v.(string)
		if !ok || f.Type != object.DescString {
			return fmt.Errorf("cannot initialize %s with %T", f.Type, v)
		}
		str, err := l.intern(s)
		if err != nil {
			return err
		}
		c.Statics.SetRef(f.Slot, str)
		return nil
	}
	var bits uint64
	switch x := v.(type) {
	case bool:
		if x {
			bits = 1
		}
	case int:
		bits = intBits(f.Type, int64(x))
	case int64:
		bits = intBits(f.Type, x)
	case float64:
		switch f.Type {
		case "F":
			bits = uint64(math.Float32bits(float32(x)))
		case "D":
			bits = math.Float64bits(x)
		default:
			return fmt.Errorf("cannot initialize %s with a float", f.Type)
		}
	default:
		return fmt.Errorf("cannot initialize %s with %T", f.Type, v)
	}
	c.Statics.SetPrim(f.Slot, bits)
	return nil
}

func intBits(typ string, v int64) uint64 {
	switch typ {
	case "F":
		return uint64(math.Float32bits(float32(v)))
	case "D":
		return math.Float64bits(float64(v))
	case "J":
		return uint64(v)
	}
	return uint64(uint32(int32(v)))
}

func prepareMethods(c *object.Class, def *ClassDef) error {
	seen := map[string]bool{}
	for _, m := range def.Methods {
		key := m.Name + m.Descriptor
		if seen[key] {
			return verifyErr(def, "duplicate method %s", key)
		}
		seen[key] = true
		m.Class = c
		m.VtableIndex = -1
		if m.Name == "<init>" {
			m.Flags |= object.AccConstructor
		}
		shorty, err := object.Shorty(m.Descriptor)
		if err != nil {
			return verifyErr(def, "%v", err)
		}
		m.Shorty = shorty
		args, _ := object.ArgWords(m.Descriptor, m.IsStatic())
		if c.IsInterface() && !m.IsStatic() {
			m.Flags |= object.AccAbstract
		}
		if m.IsNative() || m.IsAbstract() {
			if len(m.Insns) > 0 {
				return verifyErr(def, "%s has code but is native or abstract", key)
			}
			m.InsSize, m.RegistersSize, m.OutsSize = args, args, 0
		} else {
			if len(m.Insns) == 0 {
				return verifyErr(def, "%s has no code", key)
			}
			if m.InsSize == 0 {
				m.InsSize = args
			}
			if m.InsSize != args {
				return verifyErr(def, "%s declares %d ins, descriptor needs %d", key, m.InsSize, args)
			}
			if m.RegistersSize < m.InsSize {
				return verifyErr(def, "%s has %d registers for %d ins", key, m.RegistersSize, m.InsSize)
			}
			outs, err := scanOuts(m)
			if err != nil {
				return verifyErr(def, "%s: %v", key, err)
			}
			if outs > m.OutsSize {
				m.OutsSize = outs
			}
			for _, h := range m.Handlers {
				if h.TryStart < 0 || h.TryEnd > len(m.Insns) || h.TryStart > h.TryEnd ||
					h.HandlerPC < 0 || h.HandlerPC >= len(m.Insns) {
					return verifyErr(def, "%s: bad try range [%d, %d) -> %d", key, h.TryStart, h.TryEnd, h.HandlerPC)
				}
			}
		}
		c.Methods = append(c.Methods, m)
	}
	return nil
}

// scanOuts returns the largest argument count of any invoke in m, and checks
// that the code decodes.
func scanOuts(m *object.Method) (int, error) {
	outs := 0
	it := bytecode.NewIterator(m.Insns)
	for it.Next() {
		in := it.Instruction()
		if op.GetInfo(in.Op).Flags.Has(op.Invoke) && in.ArgCount > outs {
			outs = in.ArgCount
		}
	}
	return outs, it.Err()
}

func isVirtual(m *object.Method) bool {
	return !m.IsDirect()
}

func buildVtable(c *object.Class) {
	if c.IsInterface() {
		idx := 0
		for _, m := range c.Methods {
			if !m.IsStatic() {
				m.VtableIndex = idx
				idx++
			}
		}
		return
	}
	var vtable []*object.Method
	if c.Super != nil {
		vtable = append(vtable, c.Super.Vtable...)
	}
	for _, m := range c.Methods {
		if !isVirtual(m) {
			continue
		}
		slot := -1
		for i, inherited := range vtable {
			if inherited.Name == m.Name && inherited.Descriptor == m.Descriptor {
				slot = i
				break
			}
		}
		if slot < 0 {
			slot = len(vtable)
			vtable = append(vtable, m)
		} else {
			vtable[slot] = m
		}
		m.VtableIndex = slot
	}
	c.Vtable = vtable
}

func buildIfTable(c *object.Class) {
	var ifaces []*object.Class
	seen := map[*object.Class]bool{}
	add := func(iface *object.Class) {
		if !seen[iface] {
			seen[iface] = true
			ifaces = append(ifaces, iface)
		}
	}
	if c.Super != nil {
		for _, e := range c.Super.IfTable {
			add(e.Iface)
		}
	}
	for _, iface := range c.Interfaces {
		for _, e := range iface.IfTable {
			add(e.Iface)
		}
		add(iface)
	}
	for _, iface := range ifaces {
		entry := object.IfEntry{Iface: iface}
		if !c.IsInterface() {
			entry.Methods = make([]*object.Method, 0, len(iface.Methods))
			for _, im := range iface.Methods {
				if im.IsStatic() {
					continue
				}
				entry.Methods = append(entry.Methods, findVirtual(c, im.Name, im.Descriptor))
			}
		}
		c.IfTable = append(c.IfTable, entry)
	}
}

// findVirtual returns the vtable entry of c matching name and descriptor. A
// missing implementation is left nil and raises AbstractMethodError when
// invoked.
func findVirtual(c *object.Class, name, desc string) *object.Method {
	for _, m := range c.Vtable {
		if m.Name == name && m.Descriptor == desc {
			return m
		}
	}
	return nil
}

func splitClassDescriptor(desc string) (string, string, error) {
	if len(desc) < 3 || desc[0] != 'L' || desc[len(desc)-1] != ';' {
		return "", "", fmt.Errorf("bad class descriptor %q", desc)
	}
	name := desc[1 : len(desc)-1]
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '/' {
			return name[:i], name[i+1:], nil
		}
	}
	return "", name, nil
}
