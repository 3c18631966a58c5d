package object

import (
	"sync"
	"sync/atomic"
)

// ClassState is the lifecycle stage of a class.
type ClassState int32

const (
	StateLoaded ClassState = iota
	StateLinked
	StateInitializing
	StateInitialized
	StateErroneous
)

func (s ClassState) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateLinked:
		return "linked"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateErroneous:
		return "erroneous"
	}
	return "unknown"
}

// IfEntry is one row of a class's interface table: the implementations, in
// the interface's method order, of one interface the class implements.
type IfEntry struct {
	Iface   *Class
	Methods []*Method
}

// Class is a loaded class, interface, array class or primitive class.
type Class struct {
	Descriptor string
	Flags      AccessFlags
	Super      *Class
	Interfaces []*Class // directly implemented
	Component  *Class   // element class of an array class
	Pool       *Pool

	Methods []*Method // declared, direct and virtual
	Fields  []*Field  // declared, instance and static

	// Vtable holds the most derived implementation of every virtual method,
	// inherited slots first. IfTable lists every interface the class
	// implements, including inherited and super-interfaces.
	Vtable  []*Method
	IfTable []IfEntry

	// InstancePrims and InstanceRefs size the field slots of instances,
	// including inherited fields.
	InstancePrims int
	InstanceRefs  int
	Statics       Slots

	// Mirror is the java.lang.Class object representing this class.
	Mirror *Object

	primitive bool
	state     atomic.Int32
	initMu    sync.Mutex
	initCond  *sync.Cond
	initOwner any
}

// NewClass returns an empty class in the loaded state.
func NewClass(descriptor string, flags AccessFlags) *Class {
	c := &Class{Descriptor: descriptor, Flags: flags}
	c.initCond = sync.NewCond(&c.initMu)
	return c
}

// NewPrimitiveClass returns the class of a primitive type such as "I". It is
// always initialized.
func NewPrimitiveClass(descriptor string) *Class {
	c := NewClass(descriptor, AccPublic|AccFinal|AccAbstract)
	c.primitive = true
	c.state.Store(int32(StateInitialized))
	return c
}

// Name returns the dotted class name.
func (c *Class) Name() string { return ClassName(c.Descriptor) }

func (c *Class) IsInterface() bool { return c.Flags.Has(AccInterface) }
func (c *Class) IsAbstract() bool  { return c.Flags.Has(AccAbstract) }
func (c *Class) IsArray() bool     { return c.Component != nil }
func (c *Class) IsPrimitive() bool { return c.primitive }

// IsReference reports whether values of the class are references.
func (c *Class) IsReference() bool { return !c.primitive }

// ElementWidth returns the storage width in bytes of a primitive type, as
// used by fill-array-data payloads, or 0 for reference types.
func (c *Class) ElementWidth() int {
	if !c.primitive {
		return 0
	}
	switch c.Descriptor {
	case "Z", "B":
		return 1
	case "C", "S":
		return 2
	case "I", "F":
		return 4
	case "J", "D":
		return 8
	}
	return 0
}

// State returns the lifecycle stage of the class.
func (c *Class) State() ClassState { return ClassState(c.state.Load()) }

// SetState moves the class to a new lifecycle stage.
func (c *Class) SetState(s ClassState) { c.state.Store(int32(s)) }

// IsInitialized reports whether static initialization has completed.
func (c *Class) IsInitialized() bool { return c.State() == StateInitialized }

// InitAction tells the caller of BeginInit what to do next.
type InitAction int

const (
	// InitDone means the class may be used: it is initialized, or its
	// initialization is in progress on the calling owner.
	InitDone InitAction = iota
	// InitRun means the caller now owns initialization and must run the
	// static initializer, then call FinishInit.
	InitRun
	// InitFailed means an earlier initialization attempt failed.
	InitFailed
)

// BeginInit claims static initialization of the class for owner. It blocks
// while another owner is initializing the class.
func (c *Class) BeginInit(owner any) InitAction {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	for {
		switch c.State() {
		case StateInitialized:
			return InitDone
		case StateErroneous:
			return InitFailed
		case StateInitializing:
			if c.initOwner == owner {
				return InitDone
			}
			c.initCond.Wait()
		default:
			c.SetState(StateInitializing)
			c.initOwner = owner
			return InitRun
		}
	}
}

// FinishInit records the outcome of a static initializer run claimed with
// BeginInit and wakes waiting owners.
func (c *Class) FinishInit(ok bool) {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if ok {
		c.SetState(StateInitialized)
	} else {
		c.SetState(StateErroneous)
	}
	c.initOwner = nil
	c.initCond.Broadcast()
}

// IsSubclassOf reports whether c is target or inherits from it.
func (c *Class) IsSubclassOf(target *Class) bool {
	for k := c; k != nil; k = k.Super {
		if k == target {
			return true
		}
	}
	return false
}

// Implements reports whether c implements the interface iface, directly or
// through a superclass or super-interface.
func (c *Class) Implements(iface *Class) bool {
	if c == iface {
		return true
	}
	for _, e := range c.IfTable {
		if e.Iface == iface {
			return true
		}
	}
	return false
}

// IsAssignableTo reports whether a value of class c may be stored in a
// location of type target.
func (c *Class) IsAssignableTo(target *Class) bool {
	switch {
	case c == target:
		return true
	case target.primitive || c.primitive:
		return false
	case target.IsInterface():
		return c.Implements(target)
	case target.IsArray():
		if !c.IsArray() {
			return false
		}
		if c.Component.primitive || target.Component.primitive {
			return c.Component == target.Component
		}
		return c.Component.IsAssignableTo(target.Component)
	}
	return c.IsSubclassOf(target)
}

// FindDeclaredMethod returns the method declared by c with the given name and
// descriptor.
func (c *Class) FindDeclaredMethod(name, desc string) *Method {
	for _, m := range c.Methods {
		if m.Name == name && m.Descriptor == desc {
			return m
		}
	}
	return nil
}

// FindMethod searches c and its superclasses, then its interfaces, for a
// method with the given name and descriptor.
func (c *Class) FindMethod(name, desc string) *Method {
	for k := c; k != nil; k = k.Super {
		if m := k.FindDeclaredMethod(name, desc); m != nil {
			return m
		}
	}
	for _, e := range c.IfTable {
		if m := e.Iface.FindDeclaredMethod(name, desc); m != nil {
			return m
		}
	}
	return nil
}

// FindField searches c, its interfaces and its superclasses for a field with
// the given name and type.
func (c *Class) FindField(name, typ string) *Field {
	for k := c; k != nil; k = k.Super {
		for _, f := range k.Fields {
			if f.Name == name && f.Type == typ {
				return f
			}
		}
		for _, e := range k.IfTable {
			for _, f := range e.Iface.Fields {
				if f.Name == name && f.Type == typ {
					return f
				}
			}
		}
	}
	return nil
}

// FindInterfaceMethod returns the implementation in c of the interface method
// m, or nil if c does not implement m's interface.
func (c *Class) FindInterfaceMethod(m *Method) *Method {
	for _, e := range c.IfTable {
		if e.Iface == m.Class {
			if m.VtableIndex < 0 || m.VtableIndex >= len(e.Methods) {
				return nil
			}
			return e.Methods[m.VtableIndex]
		}
	}
	return nil
}

// ClassInit returns the static initializer of c, or nil.
func (c *Class) ClassInit() *Method {
	return c.FindDeclaredMethod("<clinit>", "()V")
}

func (c *Class) String() string { return c.Descriptor }
