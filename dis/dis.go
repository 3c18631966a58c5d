// Package dis renders method bodies as readable instruction listings.
package dis

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/deepnoodle-ai/dvm/bytecode"
	"github.com/deepnoodle-ai/dvm/object"
	"github.com/deepnoodle-ai/dvm/op"
)

// Instruction is one row of a listing.
type Instruction struct {
	Offset     int
	Name       string
	Operands   string
	Annotation string
}

// Catch is one row of a method's catch table.
type Catch struct {
	Start   int
	End     int
	Handler int
	Type    string // "*" for a catch-all
}

// ErrNoCode is returned for native and abstract methods.
var ErrNoCode = errors.New("method has no code")

// Disassemble decodes the body of m. Payloads appear as rows at their own
// offsets.
func Disassemble(m *object.Method) ([]Instruction, error) {
	if m.IsNative() || m.IsAbstract() {
		return nil, fmt.Errorf("%s: %w", m, ErrNoCode)
	}
	var pool *object.Pool
	if m.Class != nil {
		pool = m.Class.Pool
	}
	return DisassembleCode(m.Insns, pool)
}

// DisassembleCode decodes an instruction stream. Pool references are
// annotated when pool is non-nil.
func DisassembleCode(insns []uint16, pool *object.Pool) ([]Instruction, error) {
	var result []Instruction
	for pc := 0; pc < len(insns); {
		if w := bytecode.PayloadWidth(insns, pc); w > 0 {
			result = append(result, payload(insns, pc))
			pc += w
			continue
		}
		in, err := bytecode.Decode(insns, pc)
		if err != nil {
			return nil, err
		}
		result = append(result, instruction(pc, in, pool))
		pc += in.Width
	}
	return result, nil
}

// Catches lists the catch table of m.
func Catches(m *object.Method) []Catch {
	var result []Catch
	for _, h := range m.Handlers {
		c := Catch{Start: h.TryStart, End: h.TryEnd, Handler: h.HandlerPC, Type: "*"}
		if !h.IsCatchAll() {
			c.Type = fmt.Sprintf("type@%d", h.TypeIdx)
			if m.Class != nil && m.Class.Pool != nil && int(h.TypeIdx) < len(m.Class.Pool.Types) {
				c.Type = m.Class.Pool.Types[h.TypeIdx]
			}
		}
		result = append(result, c)
	}
	return result
}

func instruction(pc int, in bytecode.Instruction, pool *object.Pool) Instruction {
	info := op.GetInfo(in.Op)
	row := Instruction{Offset: pc, Name: info.Name}
	target := pc + int(in.Offset)
	switch info.Format {
	case op.Fmt10x:
	case op.Fmt12x:
		row.Operands = regs(in.VA, in.VB)
	case op.Fmt11n, op.Fmt21s, op.Fmt31i, op.Fmt21h, op.Fmt51l:
		row.Operands = fmt.Sprintf("v%d, #%d", in.VA, in.Literal)
		if in.Op == op.ConstWide || in.Op == op.ConstWideHigh16 {
			row.Annotation = wideAnnotation(in.Literal)
		}
	case op.Fmt11x:
		row.Operands = regs(in.VA)
	case op.Fmt10t, op.Fmt30t:
		row.Operands = offset(in.Offset)
		row.Annotation = fmt.Sprintf("-> %d", target)
	case op.Fmt20t:
		if in.Op == op.ThrowVerificationError {
			row.Operands = fmt.Sprintf("%d, type@%d", in.VA, in.Index)
			row.Annotation = typeRef(pool, in.Index)
			break
		}
		row.Operands = offset(in.Offset)
		row.Annotation = fmt.Sprintf("-> %d", target)
	case op.Fmt22x, op.Fmt32x:
		row.Operands = regs(in.VA, in.VB)
	case op.Fmt21t:
		row.Operands = regs(in.VA) + ", " + offset(in.Offset)
		row.Annotation = fmt.Sprintf("-> %d", target)
	case op.Fmt22t:
		row.Operands = regs(in.VA, in.VB) + ", " + offset(in.Offset)
		row.Annotation = fmt.Sprintf("-> %d", target)
	case op.Fmt21c, op.Fmt31c:
		row.Operands = regs(in.VA) + ", " + index(info.Index, in.Index)
		row.Annotation = reference(pool, info.Index, in.Index)
	case op.Fmt23x:
		row.Operands = regs(in.VA, in.VB, in.VC)
	case op.Fmt22b, op.Fmt22s:
		row.Operands = fmt.Sprintf("%s, #%d", regs(in.VA, in.VB), in.Literal)
	case op.Fmt22c:
		row.Operands = regs(in.VA, in.VB) + ", " + index(info.Index, in.Index)
		row.Annotation = reference(pool, info.Index, in.Index)
	case op.Fmt31t:
		row.Operands = regs(in.VA) + ", " + offset(in.Offset)
		row.Annotation = fmt.Sprintf("payload %d", target)
	case op.Fmt35c:
		row.Operands = "{" + regs(in.Args[:in.ArgCount]...) + "}, " + index(info.Index, in.Index)
		row.Annotation = reference(pool, info.Index, in.Index)
	case op.Fmt3rc:
		if in.ArgCount == 0 {
			row.Operands = "{}"
		} else {
			row.Operands = fmt.Sprintf("{v%d .. v%d}", in.VC, int(in.VC)+in.ArgCount-1)
		}
		row.Operands += ", " + index(info.Index, in.Index)
		row.Annotation = reference(pool, info.Index, in.Index)
	}
	return row
}

func payload(insns []uint16, pc int) Instruction {
	row := Instruction{Offset: pc}
	switch insns[pc] {
	case bytecode.PackedSwitchIdent:
		row.Name = "packed-switch-payload"
		if p, err := bytecode.ReadPackedSwitch(insns, pc); err == nil {
			cases := make([]string, len(p.Targets))
			for i, t := range p.Targets {
				cases[i] = fmt.Sprintf("%d: %s", p.FirstKey+int32(i), offset(t))
			}
			row.Operands = fmt.Sprintf("%d cases", len(cases))
			row.Annotation = strings.Join(cases, ", ")
		}
	case bytecode.SparseSwitchIdent:
		row.Name = "sparse-switch-payload"
		if p, err := bytecode.ReadSparseSwitch(insns, pc); err == nil {
			cases := make([]string, len(p.Keys))
			for i, k := range p.Keys {
				cases[i] = fmt.Sprintf("%d: %s", k, offset(p.Targets[i]))
			}
			row.Operands = fmt.Sprintf("%d cases", len(cases))
			row.Annotation = strings.Join(cases, ", ")
		}
	case bytecode.ArrayDataIdent:
		row.Name = "array-payload"
		if p, err := bytecode.ReadArrayData(insns, pc); err == nil {
			row.Operands = fmt.Sprintf("%d x %d", p.Count, p.ElementWidth)
		}
	}
	return row
}

func regs(rs ...uint32) string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = "v" + strconv.Itoa(int(r))
	}
	return strings.Join(parts, ", ")
}

func offset(o int32) string {
	return fmt.Sprintf("%+d", o)
}

func index(kind op.IndexKind, i uint32) string {
	switch kind {
	case op.IndexString:
		return fmt.Sprintf("string@%d", i)
	case op.IndexType:
		return fmt.Sprintf("type@%d", i)
	case op.IndexField:
		return fmt.Sprintf("field@%d", i)
	case op.IndexMethod:
		return fmt.Sprintf("method@%d", i)
	}
	return fmt.Sprintf("@%d", i)
}

func reference(pool *object.Pool, kind op.IndexKind, i uint32) string {
	if pool == nil {
		return ""
	}
	switch kind {
	case op.IndexString:
		if int(i) < len(pool.Strings) {
			return strconv.Quote(pool.Strings[i])
		}
	case op.IndexType:
		return typeRef(pool, i)
	case op.IndexField:
		if int(i) < len(pool.Fields) {
			return pool.Fields[i].String()
		}
	case op.IndexMethod:
		if int(i) < len(pool.Methods) {
			return pool.Methods[i].String()
		}
	}
	return ""
}

func typeRef(pool *object.Pool, i uint32) string {
	if pool != nil && int(i) < len(pool.Types) {
		return pool.Types[i]
	}
	return ""
}

// wideAnnotation shows the bits of a wide constant as a double when they
// form a fractional value of moderate magnitude.
func wideAnnotation(bits int64) string {
	d := math.Float64frombits(uint64(bits))
	if math.IsNaN(d) || d == math.Trunc(d) || math.Abs(d) < 1e-9 || math.Abs(d) > 1e15 {
		return ""
	}
	return strconv.FormatFloat(d, 'g', -1, 64)
}

var (
	headers  = []string{"OFFSET", "OPCODE", "OPERANDS", "INFO"}
	opcodeFg = color.New(color.FgCyan)
	infoFg   = color.New(color.FgYellow)
)

// Print writes the instructions as a table. Colors follow color.NoColor.
func Print(instructions []Instruction, writer io.Writer) {
	rows := make([][]string, len(instructions))
	for i, in := range instructions {
		rows[i] = []string{strconv.Itoa(in.Offset), in.Name, in.Operands, in.Annotation}
	}
	printTable(writer, headers, rows, []bool{true, false, false, false}, []*color.Color{nil, opcodeFg, nil, infoFg})
}

// PrintCatches writes a method's catch table.
func PrintCatches(catches []Catch, writer io.Writer) {
	rows := make([][]string, len(catches))
	for i, c := range catches {
		rows[i] = []string{strconv.Itoa(c.Start), strconv.Itoa(c.End), strconv.Itoa(c.Handler), c.Type}
	}
	printTable(writer, []string{"START", "END", "HANDLER", "TYPE"}, rows, []bool{true, true, true, false}, nil)
}

func printTable(w io.Writer, head []string, rows [][]string, right []bool, colors []*color.Color) {
	widths := make([]int, len(head))
	for i, h := range head {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if n := len([]rune(cell)); n > widths[i] {
				widths[i] = n
			}
		}
	}
	var sep strings.Builder
	sep.WriteString("+")
	for _, wd := range widths {
		sep.WriteString(strings.Repeat("-", wd+2))
		sep.WriteString("+")
	}
	border := sep.String()

	fmt.Fprintln(w, border)
	var b strings.Builder
	b.WriteString("|")
	for i, h := range head {
		extra := widths[i] - len(h)
		left := extra / 2
		b.WriteString(" " + strings.Repeat(" ", left) + h + strings.Repeat(" ", extra-left) + " |")
	}
	fmt.Fprintln(w, b.String())
	fmt.Fprintln(w, border)
	for _, row := range rows {
		b.Reset()
		b.WriteString("|")
		for i, cell := range row {
			pad := strings.Repeat(" ", widths[i]-len([]rune(cell)))
			if colors != nil && colors[i] != nil && cell != "" {
				cell = colors[i].Sprint(cell)
			}
			if right[i] {
				b.WriteString(" " + pad + cell + " |")
			} else {
				b.WriteString(" " + cell + pad + " |")
			}
		}
		fmt.Fprintln(w, b.String())
	}
	fmt.Fprintln(w, border)
}
