package linker

import (
	"fmt"

	"github.com/deepnoodle-ai/dvm/object"
)

// ResolveClass resolves type index idx of pool. Results are cached in the
// pool.
func (l *Linker) ResolveClass(pool *object.Pool, idx uint32) (*object.Class, error) {
	if c := pool.ResolvedType(idx); c != nil {
		return c, nil
	}
	if int(idx) >= len(pool.Types) {
		return nil, object.Throwf(object.ExInternal, "type index %d out of range", idx)
	}
	c, err := l.Lookup(pool.Types[idx])
	if err != nil {
		return nil, err
	}
	pool.SetResolvedType(idx, c)
	return c, nil
}

// ResolveMethod resolves method index idx of pool for the given invocation
// kind. Static and direct methods resolve to their implementation; virtual,
// super and interface methods resolve to the base method whose vtable or
// interface slot the interpreter dispatches on.
func (l *Linker) ResolveMethod(pool *object.Pool, idx uint32, kind object.MethodKind) (*object.Method, error) {
	if m := pool.ResolvedMethod(idx); m != nil {
		if err := checkKind(m, kind); err != nil {
			return nil, err
		}
		return m, nil
	}
	if int(idx) >= len(pool.Methods) {
		return nil, object.Throwf(object.ExInternal, "method index %d out of range", idx)
	}
	ref := pool.Methods[idx]
	c, err := l.Lookup(ref.Class)
	if err != nil {
		return nil, err
	}
	if kind == object.MethodInterface && !c.IsInterface() {
		return nil, object.Throwf(object.ExIncompatibleClassChange, "%s is not an interface", c.Name())
	}
	if kind != object.MethodInterface && kind != object.MethodStatic && c.IsInterface() {
		return nil, object.Throwf(object.ExIncompatibleClassChange, "%s is an interface", c.Name())
	}
	var m *object.Method
	if kind == object.MethodDirect {
		m = c.FindDeclaredMethod(ref.Name, ref.Descriptor)
	}
	if m == nil {
		m = c.FindMethod(ref.Name, ref.Descriptor)
	}
	if m == nil {
		return nil, object.Throwf(object.ExNoSuchMethod, "%s", ref)
	}
	if err := checkKind(m, kind); err != nil {
		return nil, err
	}
	pool.SetResolvedMethod(idx, m)
	return m, nil
}

func checkKind(m *object.Method, kind object.MethodKind) error {
	switch kind {
	case object.MethodStatic:
		if !m.IsStatic() {
			return object.Throwf(object.ExIncompatibleClassChange, "expected static method %s", m)
		}
	default:
		if m.IsStatic() {
			return object.Throwf(object.ExIncompatibleClassChange, "expected non-static method %s", m)
		}
	}
	return nil
}

// ResolveField resolves field index idx of pool. static selects between
// sget/sput and iget/iput users.
func (l *Linker) ResolveField(pool *object.Pool, idx uint32, static bool) (*object.Field, error) {
	f := pool.ResolvedField(idx)
	if f == nil {
		if int(idx) >= len(pool.Fields) {
			return nil, object.Throwf(object.ExInternal, "field index %d out of range", idx)
		}
		ref := pool.Fields[idx]
		c, err := l.Lookup(ref.Class)
		if err != nil {
			return nil, err
		}
		f = c.FindField(ref.Name, ref.Type)
		if f == nil {
			return nil, object.Throwf(object.ExNoSuchField, "%s", ref)
		}
		pool.SetResolvedField(idx, f)
	}
	if f.IsStatic() != static {
		want := "instance"
		if static {
			want = "static"
		}
		return nil, object.Throwf(object.ExIncompatibleClassChange, "expected %s field %s", want, f)
	}
	return f, nil
}

// ResolveString resolves string index idx of pool to an interned string
// object.
func (l *Linker) ResolveString(pool *object.Pool, idx uint32) (*object.Object, error) {
	if s := pool.ResolvedString(idx); s != nil {
		return s, nil
	}
	if int(idx) >= len(pool.Strings) {
		return nil, object.Throwf(object.ExInternal, "string index %d out of range", idx)
	}
	s, err := l.Intern(pool.Strings[idx])
	if err != nil {
		return nil, err
	}
	pool.SetResolvedString(idx, s)
	return s, nil
}

// Intern returns the canonical string object for s.
func (l *Linker) Intern(s string) (*object.Object, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.intern(s)
}

func (l *Linker) intern(s string) (*object.Object, error) {
	if o, ok := l.interned[s]; ok {
		return o, nil
	}
	c, err := l.lookup(object.DescString)
	if err != nil {
		return nil, err
	}
	o, err := l.heap.AllocString(c, s)
	if err != nil {
		return nil, err
	}
	l.interned[s] = o
	return o, nil
}

// NewString allocates a fresh, uninterned string object.
func (l *Linker) NewString(s string) (*object.Object, error) {
	c, err := l.Lookup(object.DescString)
	if err != nil {
		return nil, err
	}
	return l.heap.AllocString(c, s)
}

// MustLookup is Lookup for classes that are known to exist, such as the
// bootstrap classes. It panics on failure.
func (l *Linker) MustLookup(desc string) *object.Class {
	c, err := l.Lookup(desc)
	if err != nil {
		panic(fmt.Sprintf("linker: %s: %v", desc, err))
	}
	return c
}
