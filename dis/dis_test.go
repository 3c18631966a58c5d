package dis

import (
	"bytes"
	"strconv"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/dvm/asm"
	"github.com/deepnoodle-ai/dvm/object"
)

func method(t *testing.T, src string) *object.Method {
	t.Helper()
	class := object.NewClass("LMain;", object.AccPublic)
	class.Pool = object.NewPool()
	code, err := asm.AssembleString(src, class.Pool)
	require.NoError(t, err)
	m := code.Method("f", "()I", object.AccStatic)
	m.Class = class
	return m
}

func TestDisassemble(t *testing.T) {
	m := method(t, `
		.registers 3
		const/4 v0, 1
		const-string v1, "hi"
		invoke-static {v0, v1}, LMain;->show(ILjava/lang/String;)V
		if-eqz v0, :done
		add-int/lit8 v0, v0, -1
	:done
		return v0
	`)
	instructions, err := Disassemble(m)
	require.NoError(t, err)
	require.Equal(t, []Instruction{
		{Offset: 0, Name: "const/4", Operands: "v0, #1"},
		{Offset: 1, Name: "const-string", Operands: "v1, string@0", Annotation: `"hi"`},
		{Offset: 3, Name: "invoke-static", Operands: "{v0, v1}, method@0", Annotation: "LMain;->show(ILjava/lang/String;)V"},
		{Offset: 6, Name: "if-eqz", Operands: "v0, +4", Annotation: "-> 10"},
		{Offset: 8, Name: "add-int/lit8", Operands: "v0, v0, #-1"},
		{Offset: 10, Name: "return", Operands: "v0"},
	}, instructions)
}

func TestDisassembleWithoutPool(t *testing.T) {
	code, err := asm.AssembleString(`
		const-wide v0, 0.5
		const-wide/16 v2, 3
		iget v0, v1, LPoint;->x:I
		return-void
	`, object.NewPool())
	require.NoError(t, err)
	instructions, err := DisassembleCode(code.Insns, nil)
	require.NoError(t, err)
	require.Len(t, instructions, 4)
	require.Equal(t, "const-wide", instructions[0].Name)
	require.Equal(t, "0.5", instructions[0].Annotation)
	require.Equal(t, "v2, #3", instructions[1].Operands)
	require.Empty(t, instructions[1].Annotation)
	require.Equal(t, "v0, v1, field@0", instructions[2].Operands)
	require.Empty(t, instructions[2].Annotation)
}

func TestDisassemblePayloads(t *testing.T) {
	m := method(t, `
		packed-switch v0, :table
		const/4 v1, 0
		return v1
	:c0
		const/4 v1, 1
		return v1
	:table
	.packed-switch 5
		:c0
	.end packed-switch
	`)
	instructions, err := Disassemble(m)
	require.NoError(t, err)
	sw := instructions[0]
	require.Equal(t, "packed-switch", sw.Name)

	var found bool
	for _, in := range instructions {
		if in.Name != "packed-switch-payload" {
			continue
		}
		found = true
		require.Equal(t, "payload "+strconv.Itoa(in.Offset), sw.Annotation)
		require.Equal(t, "1 cases", in.Operands)
		require.Equal(t, "5: +5", in.Annotation)
	}
	require.True(t, found)
}

func TestDisassembleNative(t *testing.T) {
	_, err := Disassemble(&object.Method{Name: "n", Descriptor: "()V", Flags: object.AccNative})
	require.ErrorIs(t, err, ErrNoCode)
}

func TestCatches(t *testing.T) {
	m := method(t, `
	:start
		div-int v0, v1, v2
	:end
		return v0
	:handler
		const/4 v0, -1
		return v0
	.catch Ljava/lang/ArithmeticException; {:start .. :end} :handler
	.catchall {:start .. :end} :handler
	`)
	require.Equal(t, []Catch{
		{Start: 0, End: 2, Handler: 3, Type: "Ljava/lang/ArithmeticException;"},
		{Start: 0, End: 2, Handler: 3, Type: "*"},
	}, Catches(m))

	var buf bytes.Buffer
	PrintCatches(Catches(m), &buf)
	require.Contains(t, buf.String(), "| START | END | HANDLER |              TYPE               |")
}

func TestPrint(t *testing.T) {
	noColor := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = noColor }()

	var buf bytes.Buffer
	Print([]Instruction{
		{Offset: 0, Name: "const/4", Operands: "v0, #1"},
		{Offset: 1, Name: "return", Operands: "v0"},
	}, &buf)
	expected := strings.TrimSpace(`
+--------+---------+----------+------+
| OFFSET | OPCODE  | OPERANDS | INFO |
+--------+---------+----------+------+
|      0 | const/4 | v0, #1   |      |
|      1 | return  | v0       |      |
+--------+---------+----------+------+
`)
	require.Equal(t, expected+"\n", buf.String())
}
