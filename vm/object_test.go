package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/dvm/object"
)

const objectImage = `
[[class]]
name = "LCounter;"

  [[class.field]]
  name = "count"
  type = "I"
  flags = ["static"]
  value = 3

  [[class.field]]
  name = "stamp"
  type = "J"
  flags = ["static", "volatile"]

  [[class.field]]
  name = "label"
  type = "Ljava/lang/String;"
  flags = ["static"]
  value = "counter"

  [[class.method]]
  name = "<clinit>"
  descriptor = "()V"
  flags = ["static"]
  registers = 1
  code = """
    sget v0, LCounter;->count:I
    add-int/lit8 v0, v0, 10
    sput v0, LCounter;->count:I
    return-void
  """

  [[class.method]]
  name = "get"
  descriptor = "()I"
  flags = ["static"]
  registers = 1
  code = """
    sget v0, LCounter;->count:I
    return v0
  """

  [[class.method]]
  name = "stamp"
  descriptor = "(J)J"
  flags = ["static"]
  registers = 4
  code = """
    sput-wide-volatile v2, LCounter;->stamp:J
    sget-wide v0, LCounter;->stamp:J
    return-wide v0
  """

  [[class.method]]
  name = "label"
  descriptor = "()Ljava/lang/String;"
  flags = ["static"]
  registers = 1
  code = """
    sget-object v0, LCounter;->label:Ljava/lang/String;
    return-object v0
  """

[[class]]
name = "LPoint;"

  [[class.field]]
  name = "x"
  type = "I"

  [[class.field]]
  name = "y"
  type = "J"

  [[class.field]]
  name = "tag"
  type = "B"

  [[class.method]]
  name = "<init>"
  descriptor = "(IJ)V"
  flags = ["public"]
  registers = 4
  code = """
    invoke-direct {v0}, Ljava/lang/Object;-><init>()V
    iput v1, v0, LPoint;->x:I
    iput-wide v2, v0, LPoint;->y:J
    iput-byte v1, v0, LPoint;->tag:B
    return-void
  """

  [[class.method]]
  name = "sum"
  descriptor = "()J"
  flags = ["public"]
  registers = 5
  code = """
    iget v0, v4, LPoint;->x:I
    int-to-long v0, v0
    iget-wide v2, v4, LPoint;->y:J
    add-long v0, v0, v2
    return-wide v0
  """

[[class]]
name = "LAnimal;"

  [[class.method]]
  name = "sound"
  descriptor = "()I"
  flags = ["public"]
  registers = 2
  code = """
    const/4 v0, 1
    return v0
  """

[[class]]
name = "LDog;"
super = "LAnimal;"

  [[class.method]]
  name = "sound"
  descriptor = "()I"
  flags = ["public"]
  registers = 2
  code = """
    const/4 v0, 2
    return v0
  """

  [[class.method]]
  name = "superSound"
  descriptor = "()I"
  flags = ["public"]
  registers = 2
  code = """
    invoke-super {v1}, LAnimal;->sound()I
    move-result v0
    return v0
  """

[[class]]
name = "LShape;"
flags = ["public", "interface", "abstract"]

  [[class.method]]
  name = "area"
  descriptor = "()I"
  flags = ["public", "abstract"]

[[class]]
name = "LSquare;"
interfaces = ["LShape;"]

  [[class.method]]
  name = "area"
  descriptor = "()I"
  flags = ["public"]
  registers = 2
  code = """
    const/4 v0, 4
    return v0
  """

[[class]]
name = "LTri;"
interfaces = ["LShape;"]

  [[class.method]]
  name = "area"
  descriptor = "()I"
  flags = ["public"]
  registers = 2
  code = """
    const/4 v0, 3
    return v0
  """

[[class]]
name = "LBad;"

  [[class.method]]
  name = "<clinit>"
  descriptor = "()V"
  flags = ["static"]
  registers = 1
  code = """
    const/4 v0, 0
    div-int v0, v0, v0
    return-void
  """

  [[class.method]]
  name = "f"
  descriptor = "()I"
  flags = ["static"]
  registers = 1
  code = """
    const/4 v0, 1
    return v0
  """

[[class]]
name = "LMain;"

  [[class.method]]
  name = "counter"
  descriptor = "()I"
  flags = ["static"]
  registers = 1
  code = """
    invoke-static {}, LCounter;->get()I
    move-result v0
    return v0
  """

  [[class.method]]
  name = "point"
  descriptor = "(IJ)J"
  flags = ["static"]
  registers = 6
  code = """
    new-instance v0, LPoint;
    invoke-direct {v0, v3, v4, v5}, LPoint;-><init>(IJ)V
    invoke-virtual {v0}, LPoint;->sum()J
    move-result-wide v1
    return-wide v1
  """

  [[class.method]]
  name = "pointTag"
  descriptor = "(I)I"
  flags = ["static"]
  registers = 4
  code = """
    new-instance v0, LPoint;
    const-wide/16 v1, 0
    invoke-direct {v0, v3, v1, v2}, LPoint;-><init>(IJ)V
    iget-byte v1, v0, LPoint;->tag:B
    return v1
  """

  [[class.method]]
  name = "nullCall"
  descriptor = "()J"
  flags = ["static"]
  registers = 2
  code = """
    const/4 v0, 0
    invoke-virtual {v0}, LPoint;->sum()J
    move-result-wide v0
    return-wide v0
  """

  [[class.method]]
  name = "nullField"
  descriptor = "()I"
  flags = ["static"]
  registers = 1
  code = """
    const/4 v0, 0
    iget v0, v0, LPoint;->x:I
    return v0
  """

  [[class.method]]
  name = "speak"
  descriptor = "(LAnimal;)I"
  flags = ["static"]
  registers = 2
  code = """
    invoke-virtual {v1}, LAnimal;->sound()I
    move-result v0
    return v0
  """

  [[class.method]]
  name = "area"
  descriptor = "()I"
  flags = ["static"]
  registers = 2
  code = """
    new-instance v0, LSquare;
    invoke-interface {v0}, LShape;->area()I
    move-result v1
    invoke-interface {v0}, LShape;->area()I
    move-result v0
    add-int/2addr v0, v1
    return v0
  """

  [[class.method]]
  name = "shapeArea"
  descriptor = "(LShape;)I"
  flags = ["static"]
  registers = 2
  code = """
    invoke-interface {v1}, LShape;->area()I
    move-result v0
    return v0
  """

  [[class.method]]
  name = "notShape"
  descriptor = "()I"
  flags = ["static"]
  registers = 1
  code = """
    new-instance v0, LDog;
    invoke-interface {v0}, LShape;->area()I
    move-result v0
    return v0
  """

  [[class.method]]
  name = "isDog"
  descriptor = "(Ljava/lang/Object;)Z"
  flags = ["static"]
  registers = 2
  code = """
    instance-of v0, v1, LDog;
    return v0
  """

  [[class.method]]
  name = "asDog"
  descriptor = "(Ljava/lang/Object;)LDog;"
  flags = ["static"]
  registers = 1
  code = """
    check-cast v0, LDog;
    return-object v0
  """

  [[class.method]]
  name = "newShape"
  descriptor = "()V"
  flags = ["static"]
  registers = 1
  code = """
    new-instance v0, LShape;
    return-void
  """

  [[class.method]]
  name = "useBad"
  descriptor = "()I"
  flags = ["static"]
  registers = 1
  code = """
    invoke-static {}, LBad;->f()I
    move-result v0
    return v0
  """

  [[class.method]]
  name = "arrays"
  descriptor = "()I"
  flags = ["static"]
  registers = 4
  code = """
    const/4 v0, 3
    new-array v1, v0, [I
    fill-array-data v1, :data
    const/4 v0, 0
    aget v2, v1, v0
    const/4 v0, 2
    aget v3, v1, v0
    add-int/2addr v2, v3
    array-length v3, v1
    add-int/2addr v2, v3
    return v2
  :data
  .array-data 4
    10 20 30
  .end array-data
  """

  [[class.method]]
  name = "bytes"
  descriptor = "()I"
  flags = ["static"]
  registers = 4
  code = """
    const/4 v0, 1
    new-array v1, v0, [B
    const/16 v2, 200
    const/4 v0, 0
    aput-byte v2, v1, v0
    aget-byte v3, v1, v0
    return v3
  """

  [[class.method]]
  name = "filled"
  descriptor = "(III)[I"
  flags = ["static"]
  registers = 4
  code = """
    filled-new-array {v1, v2, v3}, [I
    move-result-object v0
    return-object v0
  """

  [[class.method]]
  name = "outOfBounds"
  descriptor = "()I"
  flags = ["static"]
  registers = 2
  code = """
    const/4 v0, 2
    new-array v1, v0, [I
    aget v0, v1, v0
    return v0
  """

  [[class.method]]
  name = "negativeSize"
  descriptor = "()V"
  flags = ["static"]
  registers = 2
  code = """
    const/4 v0, -1
    new-array v1, v0, [I
    return-void
  """

  [[class.method]]
  name = "badStore"
  descriptor = "()V"
  flags = ["static"]
  registers = 3
  code = """
    const/4 v0, 1
    new-array v1, v0, [LDog;
    new-instance v2, LAnimal;
    const/4 v0, 0
    aput-object v2, v1, v0
    return-void
  """

  [[class.method]]
  name = "locked"
  descriptor = "()I"
  flags = ["static"]
  registers = 2
  code = """
    new-instance v0, Ljava/lang/Object;
    monitor-enter v0
    monitor-enter v0
    monitor-exit v0
    monitor-exit v0
    const/4 v1, 1
    return v1
  """

  [[class.method]]
  name = "unlockUnowned"
  descriptor = "()V"
  flags = ["static"]
  registers = 1
  code = """
    new-instance v0, Ljava/lang/Object;
    monitor-exit v0
    return-void
  """

  [[class.method]]
  name = "unlockCaught"
  descriptor = "()I"
  flags = ["static"]
  registers = 2
  code = """
    new-instance v0, Ljava/lang/Object;
  :start
    monitor-exit v0
    const/4 v1, 0
  :end
    return v1
  :handler
    const/4 v1, 5
    return v1
  .catchall {:start .. :end} :handler
  """

  [[class.method]]
  name = "unlockNarrowRange"
  descriptor = "()V"
  flags = ["static"]
  registers = 1
  code = """
    new-instance v0, Ljava/lang/Object;
  :start
    monitor-exit v0
  :end
    return-void
  :handler
    return-void
  .catchall {:start .. :end} :handler
  """

  [[class.method]]
  name = "greeting"
  descriptor = "()Ljava/lang/String;"
  flags = ["static"]
  registers = 1
  code = """
    const-string v0, "hello"
    return-object v0
  """

  [[class.method]]
  name = "mirror"
  descriptor = "()Ljava/lang/Class;"
  flags = ["static"]
  registers = 1
  code = """
    const-class v0, LDog;
    return-object v0
  """
`

func TestStaticFieldsAndClassInit(t *testing.T) {
	dispatches(t, func(t *testing.T, d Dispatch) {
		h := newHarness(t, objectImage, WithDispatch(d), WithShadowTags(true))
		counter, err := h.linker.Lookup("LCounter;")
		require.NoError(t, err)
		require.False(t, counter.IsInitialized())

		for i := 0; i < 2; i++ {
			v, err := h.call("counter", "()I")
			require.NoError(t, err)
			require.Equal(t, int32(13), v.AsInt())
		}
		require.True(t, counter.IsInitialized())

		v, err := h.rt.Invoke(h.thread, "LCounter;", "stamp", "(J)J", Long(-42))
		require.NoError(t, err)
		require.Equal(t, int64(-42), v.AsLong())

		v, err = h.rt.Invoke(h.thread, "LCounter;", "label", "()Ljava/lang/String;")
		require.NoError(t, err)
		require.Equal(t, "counter", v.AsRef().StringValue())
	})
}

func TestFailedClassInit(t *testing.T) {
	dispatches(t, func(t *testing.T, d Dispatch) {
		h := newHarness(t, objectImage, WithDispatch(d))
		_, err := h.call("useBad", "()I")
		ee := requireException(t, err, object.ExExceptionInInitializer)
		cause := ExceptionCause(ee.Exception)
		require.NotNil(t, cause)
		require.Equal(t, object.ExArithmetic, cause.Class().Descriptor)
		require.Contains(t, ee.FriendlyErrorMessage(), "caused by: java.lang.ArithmeticException: divide by zero")

		_, err = h.call("useBad", "()I")
		ee = requireException(t, err, object.ExNoClassDefFound)
		require.Equal(t, "could not initialize class Bad", ee.Message)

		bad, err := h.linker.Lookup("LBad;")
		require.NoError(t, err)
		require.Equal(t, object.StateErroneous, bad.State())
		require.Zero(t, h.thread.Depth())
	})
}

func TestInstanceFields(t *testing.T) {
	dispatches(t, func(t *testing.T, d Dispatch) {
		h := newHarness(t, objectImage, WithDispatch(d), WithShadowTags(true))
		v, err := h.call("point", "(IJ)J", Int(5), Long(1<<40))
		require.NoError(t, err)
		require.Equal(t, int64(1<<40+5), v.AsLong())

		v, err = h.call("pointTag", "(I)I", Int(200))
		require.NoError(t, err)
		require.Equal(t, int32(-56), v.AsInt())

		_, err = h.call("nullCall", "()J")
		ee := requireException(t, err, object.ExNullPointer)
		require.Contains(t, ee.Message, "on a null object reference")

		_, err = h.call("nullField", "()I")
		ee = requireException(t, err, object.ExNullPointer)
		require.Equal(t, "Attempt to read from field 'LPoint;->x:I' on a null object reference", ee.Message)
		require.Zero(t, h.abortCount())
	})
}

func TestVirtualAndInterfaceDispatch(t *testing.T) {
	dispatches(t, func(t *testing.T, d Dispatch) {
		h := newHarness(t, objectImage, WithDispatch(d), WithShadowTags(true))
		heap := h.rt.Heap()
		dog, err := heap.AllocObject(h.linker.MustLookup("LDog;"))
		require.NoError(t, err)
		animal, err := heap.AllocObject(h.linker.MustLookup("LAnimal;"))
		require.NoError(t, err)

		v, err := h.call("speak", "(LAnimal;)I", Ref(dog))
		require.NoError(t, err)
		require.Equal(t, int32(2), v.AsInt())

		v, err = h.call("speak", "(LAnimal;)I", Ref(animal))
		require.NoError(t, err)
		require.Equal(t, int32(1), v.AsInt())

		v, err = h.rt.Interpret(h.thread, h.method(t, "LDog;", "superSound", "()I"), Ref(dog))
		require.NoError(t, err)
		require.Equal(t, int32(1), v.AsInt())

		v, err = h.call("area", "()I")
		require.NoError(t, err)
		require.Equal(t, int32(8), v.AsInt())
		p := h.rt.Profile()
		require.Equal(t, uint64(1), p.InterfaceCacheMisses)
		require.Equal(t, uint64(1), p.InterfaceCacheHits)

		_, err = h.call("notShape", "()I")
		requireException(t, err, object.ExIncompatibleClassChange)

		_, err = h.call("newShape", "()V")
		requireException(t, err, object.ExInstantiation)
	})
}

func TestInterfaceCallSiteWithTwoReceivers(t *testing.T) {
	dispatches(t, func(t *testing.T, d Dispatch) {
		h := newHarness(t, objectImage, WithDispatch(d), WithShadowTags(true))
		heap := h.rt.Heap()
		sq, err := heap.AllocObject(h.linker.MustLookup("LSquare;"))
		require.NoError(t, err)
		tri, err := heap.AllocObject(h.linker.MustLookup("LTri;"))
		require.NoError(t, err)

		tests := []struct {
			receiver     *object.Object
			want         int32
			hits, misses uint64
		}{
			{sq, 4, 0, 1},
			{tri, 3, 0, 2},
			{sq, 4, 1, 2},
			{tri, 3, 2, 2},
		}
		for i, tt := range tests {
			v, err := h.call("shapeArea", "(LShape;)I", Ref(tt.receiver))
			require.NoError(t, err)
			require.Equal(t, tt.want, v.AsInt(), "call %d", i)
			p := h.rt.Profile()
			require.Equal(t, tt.hits, p.InterfaceCacheHits, "call %d", i)
			require.Equal(t, tt.misses, p.InterfaceCacheMisses, "call %d", i)
		}
	})
}

func TestTypeChecks(t *testing.T) {
	dispatches(t, func(t *testing.T, d Dispatch) {
		h := newHarness(t, objectImage, WithDispatch(d))
		dog, err := h.rt.Heap().AllocObject(h.linker.MustLookup("LDog;"))
		require.NoError(t, err)
		animal, err := h.rt.Heap().AllocObject(h.linker.MustLookup("LAnimal;"))
		require.NoError(t, err)

		v, err := h.call("isDog", "(Ljava/lang/Object;)Z", Ref(dog))
		require.NoError(t, err)
		require.True(t, v.AsBool())
		v, err = h.call("isDog", "(Ljava/lang/Object;)Z", Ref(animal))
		require.NoError(t, err)
		require.False(t, v.AsBool())
		v, err = h.call("isDog", "(Ljava/lang/Object;)Z", Ref(nil))
		require.NoError(t, err)
		require.False(t, v.AsBool())

		v, err = h.call("asDog", "(Ljava/lang/Object;)LDog;", Ref(dog))
		require.NoError(t, err)
		require.Same(t, dog, v.AsRef())
		v, err = h.call("asDog", "(Ljava/lang/Object;)LDog;", Ref(nil))
		require.NoError(t, err)
		require.Nil(t, v.AsRef())

		_, err = h.call("asDog", "(Ljava/lang/Object;)LDog;", Ref(animal))
		ee := requireException(t, err, object.ExClassCast)
		require.Equal(t, "Animal cannot be cast to Dog", ee.Message)
	})
}

func TestArrays(t *testing.T) {
	dispatches(t, func(t *testing.T, d Dispatch) {
		h := newHarness(t, objectImage, WithDispatch(d), WithShadowTags(true))
		v, err := h.call("arrays", "()I")
		require.NoError(t, err)
		require.Equal(t, int32(43), v.AsInt())

		v, err = h.call("bytes", "()I")
		require.NoError(t, err)
		require.Equal(t, int32(-56), v.AsInt())

		v, err = h.call("filled", "(III)[I", Int(1), Int(2), Int(3))
		require.NoError(t, err)
		require.Equal(t, []int32{1, 2, 3}, v.AsRef().Ints())

		_, err = h.call("outOfBounds", "()I")
		ee := requireException(t, err, object.ExArrayIndexOutOfBounds)
		require.Equal(t, "length=2; index=2", ee.Message)

		_, err = h.call("negativeSize", "()V")
		requireException(t, err, object.ExNegativeArraySize)

		_, err = h.call("badStore", "()V")
		requireException(t, err, object.ExArrayStore)
		require.Zero(t, h.abortCount())
	})
}

func TestMonitorExitFailureResumesPastInstruction(t *testing.T) {
	dispatches(t, func(t *testing.T, d Dispatch) {
		h := newHarness(t, objectImage, WithDispatch(d))

		// The exception is raised at the instruction after monitor-exit.
		v, err := h.call("unlockCaught", "()I")
		require.NoError(t, err)
		require.Equal(t, int32(5), v.AsInt())

		_, err = h.call("unlockNarrowRange", "()V")
		requireException(t, err, object.ExIllegalMonitorState)
		require.Zero(t, h.abortCount())
	})
}

func TestMonitors(t *testing.T) {
	dispatches(t, func(t *testing.T, d Dispatch) {
		h := newHarness(t, objectImage, WithDispatch(d))
		v, err := h.call("locked", "()I")
		require.NoError(t, err)
		require.Equal(t, int32(1), v.AsInt())

		_, err = h.call("unlockUnowned", "()V")
		requireException(t, err, object.ExIllegalMonitorState)
	})
}

func TestConstants(t *testing.T) {
	dispatches(t, func(t *testing.T, d Dispatch) {
		h := newHarness(t, objectImage, WithDispatch(d))
		a, err := h.call("greeting", "()Ljava/lang/String;")
		require.NoError(t, err)
		b, err := h.call("greeting", "()Ljava/lang/String;")
		require.NoError(t, err)
		require.Equal(t, "hello", a.AsRef().StringValue())
		require.Same(t, a.AsRef(), b.AsRef())

		v, err := h.call("mirror", "()Ljava/lang/Class;")
		require.NoError(t, err)
		require.NotNil(t, v.AsRef())
		require.Equal(t, object.DescClass, v.AsRef().Class().Descriptor)
	})
}
