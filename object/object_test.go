package object

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func testHierarchy() (base, sub, iface, other *Class) {
	root := NewClass(DescObject, AccPublic)
	iface = NewClass("LShape;", AccPublic|AccInterface|AccAbstract)
	iface.Super = root
	base = NewClass("LBase;", AccPublic)
	base.Super = root
	sub = NewClass("LSub;", AccPublic)
	sub.Super = base
	sub.IfTable = []IfEntry{{Iface: iface}}
	other = NewClass("LOther;", AccPublic)
	other.Super = root
	return
}

func TestDescriptors(t *testing.T) {
	params, ret, err := ParseMethodDescriptor("(I[JLjava/lang/String;D)V")
	require.NoError(t, err)
	require.Equal(t, []string{"I", "[J", "Ljava/lang/String;", "D"}, params)
	require.Equal(t, "V", ret)

	n, err := ArgWords("(IJLFoo;)V", false)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	n, err = ArgWords("(D)J", true)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	shorty, err := Shorty("([ILFoo;Z)Ljava/lang/Object;")
	require.NoError(t, err)
	require.Equal(t, "LLLZ", shorty)

	require.Equal(t, "java.lang.String", ClassName(DescString))
	require.Equal(t, "I", ComponentType("[I"))
	require.True(t, IsWide("J"))
	require.False(t, IsWide("I"))
	require.True(t, IsReference("[I"))
	require.True(t, IsPrimitive("F"))
	require.False(t, IsPrimitive("V"))
}

func TestDescriptorErrors(t *testing.T) {
	for _, desc := range []string{"I)V", "(I", "(V)V", "(LFoo)V", "(I)", "(I)VV", "(Q)V", "([V)V"} {
		_, _, err := ParseMethodDescriptor(desc)
		require.Error(t, err, desc)
	}
}

func TestAccessFlags(t *testing.T) {
	flags, err := ParseAccessFlags([]string{"public", "static", "native"})
	require.NoError(t, err)
	require.True(t, flags.Has(AccPublic|AccStatic|AccNative))
	require.False(t, flags.Has(AccAbstract))

	_, err = ParseAccessFlags([]string{"bogus"})
	require.ErrorContains(t, err, "bogus")
}

func TestAssignability(t *testing.T) {
	base, sub, iface, other := testHierarchy()
	root := base.Super
	require.True(t, sub.IsAssignableTo(base))
	require.True(t, sub.IsAssignableTo(root))
	require.True(t, sub.IsAssignableTo(iface))
	require.False(t, base.IsAssignableTo(sub))
	require.False(t, other.IsAssignableTo(iface))

	intClass := NewPrimitiveClass("I")
	ints := NewClass("[I", AccPublic)
	ints.Super, ints.Component = root, intClass
	subs := NewClass("[LSub;", AccPublic)
	subs.Super, subs.Component = root, sub
	bases := NewClass("[LBase;", AccPublic)
	bases.Super, bases.Component = root, base

	require.True(t, subs.IsAssignableTo(bases))
	require.False(t, bases.IsAssignableTo(subs))
	require.False(t, ints.IsAssignableTo(bases))
	require.True(t, ints.IsAssignableTo(root))
	require.False(t, intClass.IsAssignableTo(root))
}

func TestArrays(t *testing.T) {
	heap := NewHeap(0)
	root := NewClass(DescObject, AccPublic)
	mk := func(desc string) *Class {
		c := NewClass("["+desc, AccPublic)
		c.Super, c.Component = root, NewPrimitiveClass(desc)
		return c
	}
	bytes, err := heap.AllocArray(mk("B"), 3)
	require.NoError(t, err)
	bytes.SetInt(0, 0x1ff)
	require.Equal(t, int32(-1), bytes.GetInt(0))

	chars, err := heap.AllocArray(mk("C"), 1)
	require.NoError(t, err)
	chars.SetInt(0, -1)
	require.Equal(t, int32(0xffff), chars.GetInt(0))

	shorts, err := heap.AllocArray(mk("S"), 1)
	require.NoError(t, err)
	shorts.SetInt(0, 0x18000)
	require.Equal(t, int32(-32768), shorts.GetInt(0))

	ints, err := heap.AllocArray(mk("I"), 4)
	require.NoError(t, err)
	require.NoError(t, ints.FillArrayData(4, []byte{1, 0, 0, 0, 0xff, 0xff, 0xff, 0xff}))
	require.Equal(t, []int32{1, -1, 0, 0}, ints.Ints())
	require.Error(t, ints.FillArrayData(2, []byte{1, 0}))

	te, ok := AsThrow(ints.CheckIndex(4))
	require.True(t, ok)
	require.Equal(t, ExArrayIndexOutOfBounds, te.Class)
	require.NoError(t, ints.CheckIndex(3))

	_, err = heap.AllocArray(mk("I"), -1)
	te, ok = AsThrow(err)
	require.True(t, ok)
	require.Equal(t, ExNegativeArraySize, te.Class)
}

func TestArrayStoreCheck(t *testing.T) {
	heap := NewHeap(0)
	base, sub, _, other := testHierarchy()
	arrays := NewClass("[LBase;", AccPublic)
	arrays.Super, arrays.Component = base.Super, base
	arr, err := heap.AllocArray(arrays, 2)
	require.NoError(t, err)

	s, err := heap.AllocObject(sub)
	require.NoError(t, err)
	o, err := heap.AllocObject(other)
	require.NoError(t, err)

	require.NoError(t, arr.CheckStore(s))
	require.NoError(t, arr.CheckStore(nil))
	te, ok := AsThrow(arr.CheckStore(o))
	require.True(t, ok)
	require.Equal(t, ExArrayStore, te.Class)
}

func TestHeapLimit(t *testing.T) {
	heap := NewHeap(1024)
	root := NewClass(DescObject, AccPublic)
	longs := NewClass("[J", AccPublic)
	longs.Super, longs.Component = root, NewPrimitiveClass("J")

	_, err := heap.AllocArray(longs, 10)
	require.NoError(t, err)

	_, err = heap.AllocArray(longs, 1000)
	te, ok := AsThrow(err)
	require.True(t, ok)
	require.Equal(t, ExOutOfMemory, te.Class)
	require.Equal(t, int64(1), heap.Stats().Allocations)
}

func TestAllocObjectRejectsAbstract(t *testing.T) {
	_, _, iface, _ := testHierarchy()
	_, err := NewHeap(0).AllocObject(iface)
	te, ok := AsThrow(err)
	require.True(t, ok)
	require.Equal(t, ExInstantiation, te.Class)
}

func TestIdentityHashesDiffer(t *testing.T) {
	heap := NewHeap(0)
	c := NewClass("LFoo;", AccPublic)
	a, err := heap.AllocObject(c)
	require.NoError(t, err)
	b, err := heap.AllocObject(c)
	require.NoError(t, err)
	require.NotEqual(t, a.IdentityHash(), b.IdentityHash())
}

func TestMonitor(t *testing.T) {
	m := newMonitor()
	ownerA, ownerB := new(int), new(int)
	require.True(t, m.TryEnter(ownerA))
	require.True(t, m.TryEnter(ownerA))
	require.False(t, m.TryEnter(ownerB))
	require.False(t, m.Exit(ownerB))

	acquired := make(chan struct{})
	go func() {
		m.Enter(ownerB)
		close(acquired)
	}()
	require.True(t, m.Exit(ownerA))
	owner, count := m.Owner()
	require.Same(t, ownerA, owner)
	require.Equal(t, 1, count)
	require.True(t, m.Exit(ownerA))
	<-acquired
	owner, _ = m.Owner()
	require.Same(t, ownerB, owner)
	require.True(t, m.Exit(ownerB))
	require.False(t, m.Exit(ownerB))
}

func TestClassInitOwnership(t *testing.T) {
	c := NewClass("LInit;", AccPublic)
	c.SetState(StateLinked)
	owner := new(int)
	require.Equal(t, InitRun, c.BeginInit(owner))
	require.Equal(t, InitDone, c.BeginInit(owner))

	var wg sync.WaitGroup
	results := make(chan InitAction, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.BeginInit(new(int))
		}()
	}
	c.FinishInit(true)
	wg.Wait()
	close(results)
	for r := range results {
		require.Equal(t, InitDone, r)
	}
	require.True(t, c.IsInitialized())

	failed := NewClass("LBad;", AccPublic)
	require.Equal(t, InitRun, failed.BeginInit(owner))
	failed.FinishInit(false)
	require.Equal(t, InitFailed, failed.BeginInit(new(int)))
}

func TestPoolCaching(t *testing.T) {
	p := NewPool()
	require.Equal(t, uint32(0), p.AddString("a"))
	require.Equal(t, uint32(1), p.AddString("b"))
	require.Equal(t, uint32(0), p.AddString("a"))
	ref := MethodRef{Class: "LFoo;", Name: "bar", Descriptor: "()V"}
	require.Equal(t, uint32(0), p.AddMethod(ref))
	require.Equal(t, uint32(0), p.AddMethod(ref))
	require.Equal(t, "LFoo;->bar()V", ref.String())

	require.Nil(t, p.ResolvedMethod(0))
	m := &Method{Name: "bar"}
	p.SetResolvedMethod(0, m)
	require.Same(t, m, p.ResolvedMethod(0))
	require.Nil(t, p.ResolvedMethod(7))
}

func TestSlotsVolatile(t *testing.T) {
	s := NewSlots(2, 1)
	s.StorePrim(0, 0x1122334455667788)
	require.Equal(t, uint64(0x1122334455667788), s.LoadPrim(0))
	s.SetInt(1, -5)
	require.Equal(t, int32(-5), s.Int(1))
	o := &Object{}
	s.SetRef(0, o)
	require.Same(t, o, s.Ref(0))
}

func TestMethodLines(t *testing.T) {
	m := &Method{Lines: []LineEntry{{PC: 0, Line: 10}, {PC: 4, Line: 12}}}
	require.Equal(t, 10, m.LineFor(0))
	require.Equal(t, 10, m.LineFor(3))
	require.Equal(t, 12, m.LineFor(9))
	require.Equal(t, 0, (&Method{}).LineFor(2))
}

func TestThrowError(t *testing.T) {
	err := fmt.Errorf("resolving: %w", Throwf(ExNoSuchMethod, "%s", "LFoo;->bar()V"))
	te, ok := AsThrow(err)
	require.True(t, ok)
	require.Equal(t, "java.lang.NoSuchMethodError: LFoo;->bar()V", te.Error())
	_, ok = AsThrow(errors.New("plain"))
	require.False(t, ok)
}
