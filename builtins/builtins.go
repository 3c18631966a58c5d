// Package builtins implements the native methods of the bootstrap classes:
// Object, String, Class, System and the dvm console.
package builtins

import (
	"fmt"
	"io"
	"time"

	"github.com/deepnoodle-ai/dvm/linker"
	"github.com/deepnoodle-ai/dvm/object"
	"github.com/deepnoodle-ai/dvm/vm"
)

// Builtin is one native method implementation and the method it binds to.
type Builtin struct {
	Class      string
	Name       string
	Descriptor string
	Func       vm.NativeFunc
}

// String returns the method reference the builtin implements.
func (b Builtin) String() string {
	return fmt.Sprintf("%s->%s%s", b.Class, b.Name, b.Descriptor)
}

// Builtins returns the native methods of the bootstrap classes. Console
// output goes to out.
func Builtins(out io.Writer) []Builtin {
	c := &console{out: out}
	clock := newClock()
	return []Builtin{
		{object.DescObject, "hashCode", "()I", ObjectHashCode},
		{object.DescObject, "toString", "()Ljava/lang/String;", ObjectToString},

		{object.DescString, "length", "()I", StringLength},
		{object.DescString, "concat", "(Ljava/lang/String;)Ljava/lang/String;", StringConcat},
		{object.DescString, "equals", "(Ljava/lang/Object;)Z", StringEquals},
		{object.DescString, "hashCode", "()I", StringHashCode},
		{object.DescString, "toString", "()Ljava/lang/String;", StringToString},
		{object.DescString, "valueOf", "(I)Ljava/lang/String;", valueOf("I")},
		{object.DescString, "valueOf", "(J)Ljava/lang/String;", valueOf("J")},
		{object.DescString, "valueOf", "(D)Ljava/lang/String;", valueOf("D")},
		{object.DescString, "valueOf", "(Ljava/lang/Object;)Ljava/lang/String;", valueOf(object.DescObject)},

		{object.DescClass, "getName", "()Ljava/lang/String;", ClassGetName},

		{linker.DescSystem, "identityHashCode", "(Ljava/lang/Object;)I", SystemIdentityHashCode},
		{linker.DescSystem, "currentTimeMillis", "()J", clock.currentTimeMillis},
		{linker.DescSystem, "nanoTime", "()J", clock.nanoTime},

		{linker.DescConsole, "print", "(Ljava/lang/String;)V", c.print(object.DescString, false)},
		{linker.DescConsole, "println", "(Ljava/lang/String;)V", c.print(object.DescString, true)},
		{linker.DescConsole, "println", "(I)V", c.print("I", true)},
		{linker.DescConsole, "println", "(J)V", c.print("J", true)},
		{linker.DescConsole, "println", "(D)V", c.print("D", true)},
		{linker.DescConsole, "println", "(Ljava/lang/Object;)V", c.print(object.DescObject, true)},
	}
}

// Register adds the bootstrap natives to natives.
func Register(natives *vm.Natives, out io.Writer) {
	for _, b := range Builtins(out) {
		natives.Register(b.Class, b.Name, b.Descriptor, b.Func)
	}
}

// ObjectHashCode returns the identity hash of the receiver.
func ObjectHashCode(_ *vm.Thread, _ *object.Method, args vm.Args) (vm.Value, *object.Object) {
	return vm.Int(args.This().IdentityHash()), nil
}

// ObjectToString renders the receiver as its class name and identity hash.
func ObjectToString(t *vm.Thread, _ *object.Method, args vm.Args) (vm.Value, *object.Object) {
	this := args.This()
	s := fmt.Sprintf("%s@%x", object.ClassName(this.Class().Descriptor), uint32(this.IdentityHash()))
	return newString(t, s)
}

func ClassGetName(t *vm.Thread, _ *object.Method, args vm.Args) (vm.Value, *object.Object) {
	c, ok := args.This().Host().(*object.Class)
	if !ok {
		return vm.Value{}, t.NewThrowable(object.ExInternal, "class mirror has no class")
	}
	return newString(t, object.ClassName(c.Descriptor))
}

func SystemIdentityHashCode(_ *vm.Thread, _ *object.Method, args vm.Args) (vm.Value, *object.Object) {
	o := args.Ref(0)
	if o == nil {
		return vm.Int(0), nil
	}
	return vm.Int(o.IdentityHash()), nil
}

type clock struct {
	start time.Time
}

func newClock() *clock {
	return &clock{start: time.Now()}
}

func (c *clock) currentTimeMillis(_ *vm.Thread, _ *object.Method, _ vm.Args) (vm.Value, *object.Object) {
	return vm.Long(time.Now().UnixMilli()), nil
}

// nanoTime is monotonic and relative to registration.
func (c *clock) nanoTime(_ *vm.Thread, _ *object.Method, _ vm.Args) (vm.Value, *object.Object) {
	return vm.Long(time.Since(c.start).Nanoseconds()), nil
}

// newString returns s as a string result. A failed allocation leaves an
// exception pending on t.
func newString(t *vm.Thread, s string) (vm.Value, *object.Object) {
	o := t.NewString(s)
	if o == nil {
		return vm.Value{}, nil
	}
	return vm.Ref(o), nil
}
