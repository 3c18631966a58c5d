package asm

import (
	"math"
	"strings"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/dvm/bytecode"
	"github.com/deepnoodle-ai/dvm/linker"
	"github.com/deepnoodle-ai/dvm/object"
	"github.com/deepnoodle-ai/dvm/op"
)

func assemble(t *testing.T, src string) (*Code, *object.Pool) {
	t.Helper()
	pool := object.NewPool()
	code, err := AssembleString(src, pool)
	require.NoError(t, err)
	return code, pool
}

func decode(t *testing.T, insns []uint16, pc int) bytecode.Instruction {
	t.Helper()
	in, err := bytecode.Decode(insns, pc)
	require.NoError(t, err)
	return in
}

func TestAssembleAdd(t *testing.T) {
	code, _ := assemble(t, `
		.registers 3
		add-int v2, v0, v1   # v2 = v0 + v1
		return v2
	`)
	require.Equal(t, 3, code.Registers)
	require.Equal(t, []uint16{0x0290, 0x0100, 0x020f}, code.Insns)
	require.Empty(t, code.Handlers)
}

func TestAssembleBranches(t *testing.T) {
	code, _ := assemble(t, `
		const/4 v0, 0
	:loop
		add-int/lit8 v0, v0, 1
		if-lt v0, v1, :loop
		goto :done
		nop
	:done
		return v0
	`)
	in := decode(t, code.Insns, 3)
	require.Equal(t, op.IfLt, in.Op)
	require.Equal(t, int32(-2), in.Offset)
	require.Equal(t, uint32(0), in.VA)
	require.Equal(t, uint32(1), in.VB)

	in = decode(t, code.Insns, 5)
	require.Equal(t, op.Goto, in.Op)
	require.Equal(t, int32(2), in.Offset)

	in = decode(t, code.Insns, 1)
	require.Equal(t, op.AddIntLit8, in.Op)
	require.Equal(t, int64(1), in.Literal)
}

func TestAssembleReferences(t *testing.T) {
	code, pool := assemble(t, `
		const-string v0, "hi there"
		invoke-static {v0, v1}, LMain;->show(Ljava/lang/String;I)V
		iget v2, v0, LMain;->count:I
		new-instance v3, LMain;
		invoke-virtual/range {v3 .. v5}, LMain;->m(II)V
		sget-object v0, LMain;->name:Ljava/lang/String;
		invoke-direct {}, LMain;->none()V
		return-void
	`)
	require.Equal(t, []string{"hi there"}, pool.Strings)
	require.Equal(t, []string{"LMain;"}, pool.Types)
	require.Equal(t, []object.MethodRef{
		{Class: "LMain;", Name: "show", Descriptor: "(Ljava/lang/String;I)V"},
		{Class: "LMain;", Name: "m", Descriptor: "(II)V"},
		{Class: "LMain;", Name: "none", Descriptor: "()V"},
	}, pool.Methods)
	require.Equal(t, []object.FieldRef{
		{Class: "LMain;", Name: "count", Type: "I"},
		{Class: "LMain;", Name: "name", Type: "Ljava/lang/String;"},
	}, pool.Fields)

	in := decode(t, code.Insns, 2)
	require.Equal(t, op.InvokeStatic, in.Op)
	require.Equal(t, 2, in.ArgCount)
	require.Equal(t, uint32(0), in.Args[0])
	require.Equal(t, uint32(1), in.Args[1])
	require.Equal(t, uint32(0), in.Index)

	in = decode(t, code.Insns, 5)
	require.Equal(t, op.Iget, in.Op)
	require.Equal(t, uint32(2), in.VA)
	require.Equal(t, uint32(0), in.VB)

	in = decode(t, code.Insns, 9)
	require.Equal(t, op.InvokeVirtualRange, in.Op)
	require.Equal(t, uint32(3), in.VC)
	require.Equal(t, 3, in.ArgCount)
	require.Equal(t, uint32(1), in.Index)

	in = decode(t, code.Insns, 14)
	require.Equal(t, op.InvokeDirect, in.Op)
	require.Equal(t, 0, in.ArgCount)
}

func TestAssembleSwitches(t *testing.T) {
	code, _ := assemble(t, `
		packed-switch v0, :table
		const/4 v1, 0
		return v1
	:c0
		const/4 v1, 1
		return v1
	:c1
		sparse-switch v0, :sparse
		const/4 v1, 2
		return v1
	:table
	.packed-switch 5
		:c0
		:c1
	.end packed-switch
	:sparse
	.sparse-switch
		-3 -> :c0
		100 -> :c1
	.end sparse-switch
	`)
	in := decode(t, code.Insns, 0)
	require.Equal(t, op.PackedSwitch, in.Op)
	payload := int(in.Offset)
	target, ok, err := bytecode.PackedSwitchTarget(code.Insns, payload, 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int32(5), target)
	target, ok, err = bytecode.PackedSwitchTarget(code.Insns, payload, 6)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int32(7), target)
	_, ok, err = bytecode.PackedSwitchTarget(code.Insns, payload, 7)
	require.NoError(t, err)
	require.False(t, ok)

	in = decode(t, code.Insns, 7)
	require.Equal(t, op.SparseSwitch, in.Op)
	payload = 7 + int(in.Offset)
	target, ok, err = bytecode.SparseSwitchTarget(code.Insns, payload, -3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int32(5-7), target)
	target, ok, err = bytecode.SparseSwitchTarget(code.Insns, payload, 100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int32(0), target)
}

func TestAssembleArrayData(t *testing.T) {
	code, _ := assemble(t, `
		fill-array-data v0, :data
		fill-array-data v1, :floats
		return-void
	:data
	.array-data 2
		1 -2
		0x7fff
	.end array-data
	:floats
	.array-data 4
		1.5f, -0.5f
	.end array-data
	`)
	in := decode(t, code.Insns, 0)
	data, err := bytecode.ReadArrayData(code.Insns, int(in.Offset))
	require.NoError(t, err)
	require.Equal(t, 2, data.ElementWidth)
	require.Equal(t, 3, data.Count)
	require.Equal(t, []byte{0x01, 0x00, 0xfe, 0xff, 0xff, 0x7f}, data.Data)

	in = decode(t, code.Insns, 3)
	data, err = bytecode.ReadArrayData(code.Insns, 3+int(in.Offset))
	require.NoError(t, err)
	require.Equal(t, 2, data.Count)
	require.Equal(t, []byte{0x00, 0x00, 0xc0, 0x3f, 0x00, 0x00, 0x00, 0xbf}, data.Data)
}

func TestAssembleCatches(t *testing.T) {
	code, pool := assemble(t, `
		.registers 3
	:start
		div-int v0, v1, v2
	:end
		return v0
	:handler
		move-exception v0
		const/4 v0, -1
		return v0
	.catch Ljava/lang/ArithmeticException; {:start .. :end} :handler
	.catchall {:start .. :end} :handler
	`)
	require.Equal(t, []bytecode.ExceptionHandler{
		{TryStart: 0, TryEnd: 2, HandlerPC: 3, TypeIdx: 0},
		{TryStart: 0, TryEnd: 2, HandlerPC: 3, TypeIdx: bytecode.CatchAll},
	}, code.Handlers)
	require.Equal(t, []string{object.ExArithmetic}, pool.Types)
}

func TestAssembleLiterals(t *testing.T) {
	tests := []struct {
		src  string
		want int64
	}{
		{"const/4 v0, -8", -8},
		{"const/16 v0, 0x7fff", 0x7fff},
		{"const v0, 1.5f", int64(int32(math.Float32bits(1.5)))},
		{"const v0, 0xffffffff", -1},
		{"const/high16 v0, 0xbf800000", int64(int32(math.Float32bits(-1)))},
		{"const-wide v0, 2.5", int64(math.Float64bits(2.5))},
		{"const-wide v0, 0xffffffffffffffff", -1},
		{"const-wide v0, 1234567890123L", 1234567890123},
		{"const-wide/16 v0, -2", -2},
		{"const-wide/high16 v0, 0x4000000000000000", 0x4000000000000000},
		{"const v0, NaNf", int64(int32(math.Float32bits(float32(math.NaN()))))},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			code, _ := assemble(t, tt.src)
			in := decode(t, code.Insns, 0)
			if strings.Contains(tt.src, "NaN") {
				require.True(t, math.IsNaN(float64(math.Float32frombits(uint32(in.Literal)))))
				return
			}
			require.Equal(t, tt.want, in.Literal)
		})
	}
}

func TestAssembleLines(t *testing.T) {
	code, _ := assemble(t, `
		.line 10
		const/4 v0, 1
		.line 11
		return v0
	`)
	require.Equal(t, []object.LineEntry{{PC: 0, Line: 10}, {PC: 1, Line: 11}}, code.Lines)
	m := code.Method("f", "()I", object.AccStatic)
	require.Equal(t, 11, m.LineFor(1))
}

func TestAssembleErrors(t *testing.T) {
	_, err := AssembleString(`
		bogus v0
		add-int v0, v1
		const/4 v0, 99
		goto :nowhere
	`, object.NewPool())
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	require.Len(t, merr.Errors, 3)
	require.Contains(t, merr.Errors[0].Error(), "unknown instruction bogus")
	require.Contains(t, merr.Errors[1].Error(), "takes 3 operands")
	require.Contains(t, merr.Errors[2].Error(), "operand out of range")

	_, err = AssembleString("goto :nowhere", object.NewPool())
	require.ErrorContains(t, err, "nowhere")

	tests := []string{
		"packed-switch v0, :missing",
		"invoke-static {v0}, LMain;m()V",
		"iget v0, v1, LMain;->f",
		"const-string v0, LMain;",
		"move v0, 3",
		".packed-switch 0\n:a\n",
		"const/4 v0, 1 2",
		".bogus",
	}
	for _, src := range tests {
		_, err := AssembleString(src, object.NewPool())
		require.Error(t, err, src)
	}
}

func TestParseRefs(t *testing.T) {
	m, err := ParseMethodRef("La/B;-><init>(IJ)V")
	require.NoError(t, err)
	require.Equal(t, object.MethodRef{Class: "La/B;", Name: "<init>", Descriptor: "(IJ)V"}, m)
	_, err = ParseMethodRef("La/B;->(I)V")
	require.Error(t, err)
	_, err = ParseMethodRef("La/B;->f(Q)V")
	require.Error(t, err)

	f, err := ParseFieldRef("La/B;->items:[I")
	require.NoError(t, err)
	require.Equal(t, object.FieldRef{Class: "La/B;", Name: "items", Type: "[I"}, f)
	_, err = ParseFieldRef("La/B;->items")
	require.Error(t, err)
}

const image = `
[[class]]
name = "LCounter;"
flags = ["public"]

  [[class.field]]
  name = "start"
  type = "I"
  flags = ["static"]
  value = 40

  [[class.field]]
  name = "count"
  type = "I"

  [[class.method]]
  name = "<init>"
  descriptor = "()V"
  flags = ["public"]
  registers = 1
  code = '''
    invoke-direct {v0}, Ljava/lang/Object;-><init>()V
    return-void
  '''

  [[class.method]]
  name = "next"
  descriptor = "()I"
  flags = ["public"]
  code = '''
    .registers 2
    iget v0, v1, LCounter;->count:I
    add-int/lit8 v0, v0, 1
    iput v0, v1, LCounter;->count:I
    return v0
  '''

  [[class.method]]
  name = "hashCode"
  descriptor = "()I"
  flags = ["public", "native"]
`

func TestLoadImage(t *testing.T) {
	defs, err := LoadImage("counter.toml", strings.NewReader(image))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	def := defs[0]
	require.Equal(t, "LCounter;", def.Descriptor)
	require.Equal(t, object.DescObject, def.Super)
	require.Len(t, def.Fields, 2)
	require.Equal(t, int64(40), def.Fields[0].Value)
	require.Len(t, def.Methods, 3)
	require.Equal(t, 1, def.Methods[0].RegistersSize)
	require.Equal(t, 2, def.Methods[1].RegistersSize)
	require.Empty(t, def.Methods[2].Insns)

	l, err := linker.NewBootstrapped(object.NewHeap(0))
	require.NoError(t, err)
	require.NoError(t, l.DefineAll(defs))
	c, err := l.Lookup("LCounter;")
	require.NoError(t, err)
	next := c.FindDeclaredMethod("next", "()I")
	require.Equal(t, 1, next.InsSize)
	require.Equal(t, int32(40), c.Statics.Int(c.FindField("start", "I").Slot))
	require.Equal(t, 1, c.InstancePrims)

	ctor := c.FindDeclaredMethod("<init>", "()V")
	require.Equal(t, 1, ctor.OutsSize)
	require.True(t, ctor.IsConstructor())
}

func TestLoadImageErrors(t *testing.T) {
	src := `
[[class]]
name = "LA;"
flags = ["shiny"]

[[class]]
name = "LB;"
  [[class.method]]
  name = "f"
  descriptor = "()V"
  code = "frobnicate v0"

[[class]]
name = "LC;"
colour = "red"
`
	_, err := LoadImage("bad.toml", strings.NewReader(src))
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	require.Len(t, merr.Errors, 3)
	require.Contains(t, err.Error(), "unknown keys")
	require.Contains(t, err.Error(), "unknown access flag")
	require.Contains(t, err.Error(), "unknown instruction frobnicate")

	_, err = LoadImage("broken.toml", strings.NewReader("[[class]\n"))
	require.Error(t, err)
}
