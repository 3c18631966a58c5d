package object

import (
	"fmt"
	"sort"

	"github.com/deepnoodle-ai/dvm/bytecode"
)

// LineEntry maps the code unit offset PC, and everything after it up to the
// next entry, to a source line.
type LineEntry struct {
	PC   int
	Line int
}

// Method is a method of a loaded class. Methods are created when classes are
// linked and never change afterwards.
type Method struct {
	Class      *Class
	Name       string
	Descriptor string
	Shorty     string
	Flags      AccessFlags

	// RegistersSize counts every register of the frame; the last InsSize of
	// them receive the arguments. OutsSize is the largest argument count of
	// any call the method makes.
	RegistersSize int
	InsSize       int
	OutsSize      int

	Insns    []uint16
	Handlers []bytecode.ExceptionHandler
	Lines    []LineEntry

	// VtableIndex is the slot of a virtual method in its class's vtable, or
	// the method's index within its interface for interface methods. Direct
	// methods have -1.
	VtableIndex int
}

func (m *Method) IsStatic() bool       { return m.Flags.Has(AccStatic) }
func (m *Method) IsNative() bool       { return m.Flags.Has(AccNative) }
func (m *Method) IsAbstract() bool     { return m.Flags.Has(AccAbstract) }
func (m *Method) IsPrivate() bool      { return m.Flags.Has(AccPrivate) }
func (m *Method) IsConstructor() bool  { return m.Flags.Has(AccConstructor) || m.Name == "<init>" || m.Name == "<clinit>" }
func (m *Method) IsSynchronized() bool { return m.Flags.Has(AccSynchronized) }

// IsDirect reports whether the method is never dispatched through a vtable:
// static, private and constructor methods.
func (m *Method) IsDirect() bool {
	return m.IsStatic() || m.IsPrivate() || m.IsConstructor()
}

// ReturnType returns the descriptor of the method's return type.
func (m *Method) ReturnType() string {
	if m.Shorty != "" && m.Shorty[0] != 'L' {
		return m.Shorty[:1]
	}
	_, ret, err := ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return "V"
	}
	return ret
}

// LineFor returns the source line of the instruction at pc, or 0 if the
// method has no line table.
func (m *Method) LineFor(pc int) int {
	i := sort.Search(len(m.Lines), func(i int) bool { return m.Lines[i].PC > pc })
	if i == 0 {
		return 0
	}
	return m.Lines[i-1].Line
}

// String returns the method in "LClass;->name(desc)ret" form.
func (m *Method) String() string {
	owner := "?"
	if m.Class != nil {
		owner = m.Class.Descriptor
	}
	return fmt.Sprintf("%s->%s%s", owner, m.Name, m.Descriptor)
}

// MethodKind is the invocation family a method reference is resolved for.
type MethodKind uint8

const (
	MethodDirect MethodKind = iota
	MethodStatic
	MethodVirtual
	MethodSuper
	MethodInterface
)

func (k MethodKind) String() string {
	switch k {
	case MethodDirect:
		return "direct"
	case MethodStatic:
		return "static"
	case MethodVirtual:
		return "virtual"
	case MethodSuper:
		return "super"
	case MethodInterface:
		return "interface"
	}
	return "unknown"
}
