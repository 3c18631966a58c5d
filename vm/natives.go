package vm

import (
	"math"
	"sync"

	"github.com/deepnoodle-ai/dvm/errz"
	"github.com/deepnoodle-ai/dvm/object"
)

// NativeFunc implements a native method. A non-nil exception result is
// thrown in the caller; otherwise the Value is the method's result. A
// native may also leave an exception pending on the thread.
type NativeFunc func(t *Thread, m *object.Method, args Args) (Value, *object.Object)

// NativeBridge calls native methods. The thread is in StatusNative for the
// duration of the call.
type NativeBridge interface {
	Call(t *Thread, m *object.Method, args Args) (Value, *object.Object)
}

// Natives is a registry of native method implementations keyed by class,
// name and descriptor. It is the default NativeBridge.
type Natives struct {
	mu    sync.RWMutex
	funcs map[string]NativeFunc
}

// NewNatives returns an empty registry.
func NewNatives() *Natives {
	return &Natives{funcs: map[string]NativeFunc{}}
}

func nativeKey(class, name, desc string) string {
	return class + "->" + name + desc
}

// Register binds fn to the native method class->name desc, replacing any
// earlier binding.
func (n *Natives) Register(class, name, desc string, fn NativeFunc) {
	n.mu.Lock()
	n.funcs[nativeKey(class, name, desc)] = fn
	n.mu.Unlock()
}

// Lookup returns the implementation of m.
func (n *Natives) Lookup(m *object.Method) (NativeFunc, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	fn, ok := n.funcs[nativeKey(m.Class.Descriptor, m.Name, m.Descriptor)]
	return fn, ok
}

// Len returns the number of registered natives.
func (n *Natives) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.funcs)
}

// Call runs the registered implementation of m. An unregistered method
// throws UnsatisfiedLinkError.
func (n *Natives) Call(t *Thread, m *object.Method, args Args) (Value, *object.Object) {
	fn, ok := n.Lookup(m)
	if !ok {
		return Value{}, t.NewThrowable(object.ExUnsatisfiedLink, m.String())
	}
	return fn(t, m, args)
}

var _ NativeBridge = (*Natives)(nil)

// Args gives a native method its arguments. Indexes count argument words,
// as registers do: a long or double takes two, and "this" is word 0 of an
// instance method.
type Args struct {
	raw  []uint32
	refs []*object.Object
}

// Len returns the number of argument words.
func (a Args) Len() int { return len(a.raw) }

func (a Args) Int(i int) int32    { return int32(a.raw[i]) }
func (a Args) Bool(i int) bool    { return a.raw[i] != 0 }
func (a Args) Float(i int) float32 { return math.Float32frombits(a.raw[i]) }
func (a Args) Ref(i int) *object.Object {
	return a.refs[i]
}

// This returns the receiver of an instance method.
func (a Args) This() *object.Object { return a.refs[0] }

func (a Args) Long(i int) int64 {
	return int64(uint64(a.raw[i]) | uint64(a.raw[i+1])<<32)
}

func (a Args) Double(i int) float64 {
	return math.Float64frombits(uint64(a.raw[i]) | uint64(a.raw[i+1])<<32)
}

// NewThrowable allocates an exception of class desc with the given detail
// message and the thread's current stack as its backtrace. An allocation
// failure is fatal to the thread.
func (t *Thread) NewThrowable(desc, msg string) *object.Object {
	exc, err := t.rt.newThrowable(t, desc, msg, t.captureBacktrace())
	if err != nil {
		t.setFatal(err)
		return nil
	}
	return exc
}

// Throw makes exc the pending exception. A native returning after Throw has
// its result discarded and the exception delivered to the caller.
func (t *Thread) Throw(exc *object.Object) {
	t.exception = exc
}

// ThrowError turns a collaborator failure into a pending exception. Errors
// other than *object.ThrowError become InternalError.
func (t *Thread) ThrowError(err error) {
	desc, msg := object.ExInternal, err.Error()
	if te, ok := object.AsThrow(err); ok {
		desc, msg = te.Class, te.Message
	}
	if exc := t.NewThrowable(desc, msg); exc != nil {
		t.exception = exc
	}
}

// NewString allocates a string, throwing on failure. It returns nil if an
// exception is now pending.
func (t *Thread) NewString(s string) *object.Object {
	o, err := t.rt.resolver.NewString(s)
	if err != nil {
		t.ThrowError(err)
		return nil
	}
	return o
}

// setFatal records an engine-fatal condition raised outside the dispatch
// loop, such as inside a native. The interpreter aborts when the native
// returns.
func (t *Thread) setFatal(err error) {
	fe, ok := err.(*errz.FatalError)
	if !ok {
		fe = errz.NewFatalError(errz.ErrUnwind, "", 0, "cannot create exception").WithCause(err)
	}
	if t.fatal == nil {
		t.fatal = fe.WithStack(t.StackTrace())
	}
}
