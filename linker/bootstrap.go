package linker

import (
	"fmt"

	"github.com/deepnoodle-ai/dvm/bytecode"
	"github.com/deepnoodle-ai/dvm/object"
	"github.com/deepnoodle-ai/dvm/op"
)

// Descriptors of bootstrap classes that are not exceptions.
const (
	DescSystem  = "Ljava/lang/System;"
	DescConsole = "Ldvm/Console;"
)

// Names of the Throwable fields the interpreter fills in directly.
const (
	FieldDetailMessage = "detailMessage"
	FieldCause         = "cause"
)

type classBuilder struct {
	def *ClassDef
	err error
}

func newClassBuilder(desc, super string, flags object.AccessFlags) *classBuilder {
	return &classBuilder{def: &ClassDef{
		Descriptor: desc,
		Super:      super,
		Flags:      flags,
		Pool:       object.NewPool(),
	}}
}

func (b *classBuilder) field(name, typ string, flags object.AccessFlags) *classBuilder {
	b.def.Fields = append(b.def.Fields, FieldDef{Name: name, Type: typ, Flags: flags})
	return b
}

func (b *classBuilder) native(name, desc string, flags object.AccessFlags) *classBuilder {
	b.def.Methods = append(b.def.Methods, &object.Method{
		Name:       name,
		Descriptor: desc,
		Flags:      flags | object.AccNative,
	})
	return b
}

func (b *classBuilder) code(name, desc string, flags object.AccessFlags, registers int, emit func(*bytecode.Builder, *object.Pool)) *classBuilder {
	bb := bytecode.NewBuilder()
	emit(bb, b.def.Pool)
	insns, handlers, err := bb.Finish()
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("%s->%s%s: %w", b.def.Descriptor, name, desc, err)
	}
	b.def.Methods = append(b.def.Methods, &object.Method{
		Name:          name,
		Descriptor:    desc,
		Flags:         flags,
		RegistersSize: registers,
		Insns:         insns,
		Handlers:      handlers,
	})
	return b
}

// constructors adds the no-argument and message constructors of a throwable
// class, both delegating to the superclass.
func (b *classBuilder) constructors() *classBuilder {
	super := b.def.Super
	b.code("<init>", "()V", object.AccPublic, 1, func(bb *bytecode.Builder, p *object.Pool) {
		bb.Invoke(op.InvokeDirect, p.AddMethod(object.MethodRef{Class: super, Name: "<init>", Descriptor: "()V"}), 0)
		bb.Op(op.ReturnVoid)
	})
	b.code("<init>", "(Ljava/lang/String;)V", object.AccPublic, 2, func(bb *bytecode.Builder, p *object.Pool) {
		bb.Invoke(op.InvokeDirect, p.AddMethod(object.MethodRef{Class: super, Name: "<init>", Descriptor: "(Ljava/lang/String;)V"}), 0, 1)
		bb.Op(op.ReturnVoid)
	})
	return b
}

func (b *classBuilder) build() (*ClassDef, error) {
	return b.def, b.err
}

// Bootstrap returns the definitions of the core classes: Object, String,
// Class, System, the console, Throwable and the exception classes the
// interpreter raises.
func Bootstrap() ([]*ClassDef, error) {
	const (
		pub    = object.AccPublic
		static = object.AccPublic | object.AccStatic
	)
	var builders []*classBuilder

	builders = append(builders,
		newClassBuilder(object.DescObject, "", pub).
			code("<init>", "()V", pub, 1, func(bb *bytecode.Builder, _ *object.Pool) {
				bb.Op(op.ReturnVoid)
			}).
			code("equals", "(Ljava/lang/Object;)Z", pub, 2, func(bb *bytecode.Builder, _ *object.Pool) {
				ne := bb.NewLabel()
				bb.Branch(op.IfNe, ne, 0, 1)
				bb.Lit(op.Const4, 0, 1)
				bb.Reg(op.Return, 0)
				bb.Mark(ne)
				bb.Lit(op.Const4, 0, 0)
				bb.Reg(op.Return, 0)
			}).
			native("hashCode", "()I", pub).
			native("toString", "()Ljava/lang/String;", pub),

		newClassBuilder(object.DescString, object.DescObject, pub|object.AccFinal).
			native("length", "()I", pub).
			native("concat", "(Ljava/lang/String;)Ljava/lang/String;", pub).
			native("equals", "(Ljava/lang/Object;)Z", pub).
			native("hashCode", "()I", pub).
			native("toString", "()Ljava/lang/String;", pub).
			native("valueOf", "(I)Ljava/lang/String;", static).
			native("valueOf", "(J)Ljava/lang/String;", static).
			native("valueOf", "(D)Ljava/lang/String;", static).
			native("valueOf", "(Ljava/lang/Object;)Ljava/lang/String;", static),

		newClassBuilder(object.DescClass, object.DescObject, pub|object.AccFinal).
			native("getName", "()Ljava/lang/String;", pub),

		newClassBuilder(DescSystem, object.DescObject, pub|object.AccFinal).
			native("identityHashCode", "(Ljava/lang/Object;)I", static).
			native("currentTimeMillis", "()J", static).
			native("nanoTime", "()J", static),

		newClassBuilder(DescConsole, object.DescObject, pub|object.AccFinal).
			native("print", "(Ljava/lang/String;)V", static).
			native("println", "(Ljava/lang/String;)V", static).
			native("println", "(I)V", static).
			native("println", "(J)V", static).
			native("println", "(D)V", static).
			native("println", "(Ljava/lang/Object;)V", static),
	)

	throwable := newClassBuilder(object.DescThrowable, object.DescObject, pub).
		field(FieldDetailMessage, object.DescString, object.AccPrivate).
		field(FieldCause, object.DescThrowable, object.AccPrivate)
	throwable.code("<init>", "()V", pub, 1, func(bb *bytecode.Builder, p *object.Pool) {
		bb.Invoke(op.InvokeDirect, p.AddMethod(object.MethodRef{Class: object.DescObject, Name: "<init>", Descriptor: "()V"}), 0)
		bb.Op(op.ReturnVoid)
	})
	throwable.code("<init>", "(Ljava/lang/String;)V", pub, 2, func(bb *bytecode.Builder, p *object.Pool) {
		bb.Invoke(op.InvokeDirect, p.AddMethod(object.MethodRef{Class: object.DescObject, Name: "<init>", Descriptor: "()V"}), 0)
		bb.Index(op.IputObject, p.AddField(object.FieldRef{Class: object.DescThrowable, Name: FieldDetailMessage, Type: object.DescString}), 1, 0)
		bb.Op(op.ReturnVoid)
	})
	throwable.code("getMessage", "()Ljava/lang/String;", pub, 1, func(bb *bytecode.Builder, p *object.Pool) {
		bb.Index(op.IgetObject, p.AddField(object.FieldRef{Class: object.DescThrowable, Name: FieldDetailMessage, Type: object.DescString}), 0, 0)
		bb.Reg(op.ReturnObject, 0)
	})
	throwable.code("getCause", "()Ljava/lang/Throwable;", pub, 1, func(bb *bytecode.Builder, p *object.Pool) {
		bb.Index(op.IgetObject, p.AddField(object.FieldRef{Class: object.DescThrowable, Name: FieldCause, Type: object.DescThrowable}), 0, 0)
		bb.Reg(op.ReturnObject, 0)
	})
	throwable.code("initCause", "(Ljava/lang/Throwable;)Ljava/lang/Throwable;", pub, 2, func(bb *bytecode.Builder, p *object.Pool) {
		bb.Index(op.IputObject, p.AddField(object.FieldRef{Class: object.DescThrowable, Name: FieldCause, Type: object.DescThrowable}), 1, 0)
		bb.Reg(op.ReturnObject, 0)
	})
	builders = append(builders, throwable)

	for _, e := range exceptionHierarchy {
		builders = append(builders, newClassBuilder(e.desc, e.super, pub).constructors())
	}

	defs := make([]*ClassDef, 0, len(builders))
	for _, b := range builders {
		def, err := b.build()
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

var exceptionHierarchy = []struct{ desc, super string }{
	{object.ExException, object.DescThrowable},
	{object.ExError, object.DescThrowable},
	{object.ExRuntime, object.ExException},
	{object.ExArithmetic, object.ExRuntime},
	{object.ExArrayStore, object.ExRuntime},
	{object.ExClassCast, object.ExRuntime},
	{object.ExIllegalMonitorState, object.ExRuntime},
	{object.ExNegativeArraySize, object.ExRuntime},
	{object.ExNullPointer, object.ExRuntime},
	{"Ljava/lang/IndexOutOfBoundsException;", object.ExRuntime},
	{object.ExArrayIndexOutOfBounds, "Ljava/lang/IndexOutOfBoundsException;"},
	{"Ljava/lang/IllegalArgumentException;", object.ExRuntime},
	{"Ljava/lang/IllegalStateException;", object.ExRuntime},
	{"Ljava/lang/VirtualMachineError;", object.ExError},
	{object.ExStackOverflow, "Ljava/lang/VirtualMachineError;"},
	{object.ExOutOfMemory, "Ljava/lang/VirtualMachineError;"},
	{object.ExInternal, "Ljava/lang/VirtualMachineError;"},
	{"Ljava/lang/LinkageError;", object.ExError},
	{object.ExNoClassDefFound, "Ljava/lang/LinkageError;"},
	{object.ExUnsatisfiedLink, "Ljava/lang/LinkageError;"},
	{object.ExVerify, "Ljava/lang/LinkageError;"},
	{object.ExExceptionInInitializer, "Ljava/lang/LinkageError;"},
	{object.ExIncompatibleClassChange, "Ljava/lang/LinkageError;"},
	{object.ExAbstractMethod, object.ExIncompatibleClassChange},
	{object.ExNoSuchMethod, object.ExIncompatibleClassChange},
	{object.ExNoSuchField, object.ExIncompatibleClassChange},
	{object.ExInstantiation, object.ExIncompatibleClassChange},
}

// NewBootstrapped returns a linker with the bootstrap classes defined and
// linked.
func NewBootstrapped(heap *object.Heap, opts ...Option) (*Linker, error) {
	l := New(heap, opts...)
	defs, err := Bootstrap()
	if err != nil {
		return nil, err
	}
	if err := l.DefineAll(defs); err != nil {
		return nil, err
	}
	if err := l.LinkAll(); err != nil {
		return nil, err
	}
	return l, nil
}
