// Package asm assembles a smali-like text syntax into method code and loads
// program images.
//
// One instruction or directive per line; '#' starts a comment:
//
//	.registers 3
//	    const/4 v0, 1
//	:loop
//	    add-int/lit8 v0, v0, 1
//	    if-lt v0, v1, :loop
//	    invoke-static {v0}, LMain;->show(I)V
//	    return v0
//	.catch Ljava/lang/ArithmeticException; {:start .. :end} :handler
//	:table
//	.packed-switch 0
//	    :case0
//	    :case1
//	.end packed-switch
//
// Labels start with ':'. Constant pool references are written inline as
// string literals, type descriptors, field references (LA;->f:I) and method
// references (LA;->m(I)V); they are added to the pool given to Assemble.
package asm

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/deepnoodle-ai/dvm/bytecode"
	"github.com/deepnoodle-ai/dvm/object"
	"github.com/deepnoodle-ai/dvm/op"
)

// Code is the output of assembling one method body.
type Code struct {
	Registers int // from .registers, 0 if absent
	Insns     []uint16
	Handlers  []bytecode.ExceptionHandler
	Lines     []object.LineEntry
}

// Method returns a method with the assembled code.
func (c *Code) Method(name, desc string, flags object.AccessFlags) *object.Method {
	return &object.Method{
		Name:          name,
		Descriptor:    desc,
		Flags:         flags,
		RegistersSize: c.Registers,
		Insns:         c.Insns,
		Handlers:      c.Handlers,
		Lines:         c.Lines,
	}
}

type payloadKind int

const (
	payloadPacked payloadKind = iota
	payloadSparse
	payloadArray
)

type payload struct {
	kind    payloadKind
	first   int32
	keys    []int32
	targets []string
	width   int
	data    []byte
}

type assembler struct {
	pool     *object.Pool
	b        *bytecode.Builder
	payloads map[string]*payload
	code     Code
	errs     *multierror.Error
}

// AssembleString assembles src. See Assemble.
func AssembleString(src string, pool *object.Pool) (*Code, error) {
	return Assemble("", strings.NewReader(src), pool)
}

// Assemble reads method source from r, adding its constant references to
// pool. Every error found is reported, each prefixed with its position.
func Assemble(name string, r io.Reader, pool *object.Pool) (*Code, error) {
	lines, err := lex(name, r)
	if err != nil {
		return nil, err
	}
	a := &assembler{pool: pool, b: bytecode.NewBuilder(), payloads: map[string]*payload{}}
	lines = a.collectPayloads(lines)
	for _, l := range lines {
		if err := a.statement(l); err != nil {
			a.errs = multierror.Append(a.errs, err)
		}
	}
	if err := a.errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	insns, handlers, err := a.b.Finish()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	a.code.Insns, a.code.Handlers = insns, handlers
	return &a.code, nil
}

// collectPayloads removes payload blocks and the labels naming them from
// lines. Payload labels are not code positions: the builder places payloads
// itself.
func (a *assembler) collectPayloads(lines []line) []line {
	var (
		out     []line
		pending []int // indexes into out of labels directly above
	)
	for i := 0; i < len(lines); i++ {
		l := lines[i]
		head := l.head()
		if strings.HasPrefix(head, ":") && len(l.toks) == 1 {
			out = append(out, l)
			pending = append(pending, len(out)-1)
			continue
		}
		var kind payloadKind
		switch head {
		case ".packed-switch":
			kind = payloadPacked
		case ".sparse-switch":
			kind = payloadSparse
		case ".array-data":
			kind = payloadArray
		default:
			out = append(out, l)
			pending = pending[:0]
			continue
		}
		end := i + 1
		for end < len(lines) && lines[end].head() != ".end" {
			end++
		}
		if end == len(lines) {
			a.errs = multierror.Append(a.errs, scanError(l.pos, "%s without .end", head))
			return out
		}
		p, err := a.parsePayload(kind, l, lines[i+1:end], lines[end])
		if err != nil {
			a.errs = multierror.Append(a.errs, err)
		}
		if len(pending) == 0 {
			a.errs = multierror.Append(a.errs, scanError(l.pos, "%s has no label", head))
		}
		if p != nil {
			for _, idx := range pending {
				a.payloads[out[idx].head()[1:]] = p
			}
		}
		// The pending labels are always the tail of out.
		out = out[:len(out)-len(pending)]
		pending = pending[:0]
		i = end
	}
	return out
}

func (a *assembler) parsePayload(kind payloadKind, header line, body []line, end line) (*payload, error) {
	want := strings.TrimPrefix(header.head(), ".")
	if len(end.toks) != 2 || end.toks[1].text != want {
		return nil, scanError(end.pos, "expected .end %s", want)
	}
	p := &payload{kind: kind}
	switch kind {
	case payloadPacked:
		if len(header.toks) != 2 {
			return nil, scanError(header.pos, ".packed-switch needs a first key")
		}
		first, err := parseInt(header.toks[1], 32)
		if err != nil {
			return nil, err
		}
		p.first = int32(first)
		for _, l := range body {
			for _, t := range l.toks {
				name, err := labelName(t)
				if err != nil {
					return nil, err
				}
				p.targets = append(p.targets, name)
			}
		}
	case payloadSparse:
		for _, l := range body {
			if len(l.toks) != 3 || l.toks[1].text != "->" {
				return nil, scanError(l.pos, "expected <key> -> :label")
			}
			key, err := parseInt(l.toks[0], 32)
			if err != nil {
				return nil, err
			}
			name, err := labelName(l.toks[2])
			if err != nil {
				return nil, err
			}
			p.keys = append(p.keys, int32(key))
			p.targets = append(p.targets, name)
		}
	case payloadArray:
		if len(header.toks) != 2 {
			return nil, scanError(header.pos, ".array-data needs an element width")
		}
		width, err := parseInt(header.toks[1], 8)
		if err != nil {
			return nil, err
		}
		p.width = int(width)
		switch p.width {
		case 1, 2, 4, 8:
		default:
			return nil, scanError(header.pos, "bad element width %d", p.width)
		}
		var buf [8]byte
		for _, l := range body {
			for _, t := range l.toks {
				if t.kind == tokComma {
					continue
				}
				v, err := parseLiteral(t, p.width == 8)
				if err != nil {
					return nil, err
				}
				binary.LittleEndian.PutUint64(buf[:], uint64(v))
				p.data = append(p.data, buf[:p.width]...)
			}
		}
	}
	return p, nil
}

func (a *assembler) statement(l line) error {
	head := l.head()
	switch {
	case strings.HasPrefix(head, ":"):
		if len(l.toks) != 1 {
			return scanError(l.pos, "unexpected tokens after label %s", head)
		}
		a.b.Mark(a.b.Named(head[1:]))
		return nil
	case strings.HasPrefix(head, "."):
		return a.directive(l)
	}
	return a.instruction(l)
}

func (a *assembler) directive(l line) error {
	args := l.toks[1:]
	switch l.head() {
	case ".registers":
		if len(args) != 1 {
			return scanError(l.pos, ".registers needs a count")
		}
		n, err := parseInt(args[0], 17)
		if err != nil {
			return err
		}
		if n < 0 {
			return scanError(l.pos, "negative register count")
		}
		a.code.Registers = int(n)
	case ".line":
		if len(args) != 1 {
			return scanError(l.pos, ".line needs a line number")
		}
		n, err := parseInt(args[0], 32)
		if err != nil {
			return err
		}
		a.code.Lines = append(a.code.Lines, object.LineEntry{PC: a.b.PC(), Line: int(n)})
	case ".catch":
		if len(args) < 1 {
			return scanError(l.pos, ".catch needs a type")
		}
		idx := a.pool.AddType(args[0].text)
		if idx >= uint32(bytecode.CatchAll) {
			return scanError(l.pos, "too many types for a catch")
		}
		start, end, handler, err := a.tryRange(l, args[1:])
		if err != nil {
			return err
		}
		a.b.Catch(uint16(idx), start, end, handler)
	case ".catchall":
		start, end, handler, err := a.tryRange(l, args)
		if err != nil {
			return err
		}
		a.b.CatchAll(start, end, handler)
	default:
		return scanError(l.pos, "unknown directive %s", l.head())
	}
	return nil
}

// tryRange parses "{:start .. :end} :handler".
func (a *assembler) tryRange(l line, toks []token) (start, end, handler bytecode.Label, err error) {
	if len(toks) != 6 || toks[0].kind != tokLBrace || toks[2].text != ".." || toks[4].kind != tokRBrace {
		return 0, 0, 0, scanError(l.pos, "expected {:start .. :end} :handler")
	}
	var names [3]string
	for i, t := range []token{toks[1], toks[3], toks[5]} {
		if names[i], err = labelName(t); err != nil {
			return 0, 0, 0, err
		}
	}
	return a.b.Named(names[0]), a.b.Named(names[1]), a.b.Named(names[2]), nil
}

// operands splits the tokens after the mnemonic at top-level commas. A brace
// group is returned as a single operand.
func operands(toks []token) ([][]token, error) {
	var (
		out   [][]token
		cur   []token
		depth int
	)
	for _, t := range toks {
		switch {
		case t.kind == tokLBrace:
			depth++
		case t.kind == tokRBrace:
			depth--
			if depth < 0 {
				return nil, scanError(t.pos, "unbalanced }")
			}
		case t.kind == tokComma && depth == 0:
			out = append(out, cur)
			cur = nil
			continue
		}
		cur = append(cur, t)
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced {")
	}
	if len(cur) > 0 || len(out) > 0 {
		out = append(out, cur)
	}
	return out, nil
}

func (a *assembler) instruction(l line) error {
	mnemonic := l.head()
	code, ok := op.Lookup(mnemonic)
	if !ok {
		return scanError(l.pos, "unknown instruction %s", mnemonic)
	}
	info := op.GetInfo(code)
	ops, err := operands(l.toks[1:])
	if err != nil {
		return scanError(l.pos, "%v", err)
	}
	single := func(i int) (token, error) {
		if i >= len(ops) || len(ops[i]) != 1 {
			return token{}, scanError(l.pos, "%s: bad operand %d", mnemonic, i+1)
		}
		return ops[i][0], nil
	}
	regs := func(n int) ([]uint32, error) {
		out := make([]uint32, n)
		for i := 0; i < n; i++ {
			t, err := single(i)
			if err != nil {
				return nil, err
			}
			if out[i], err = parseReg(t); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	arity := func(n int) error {
		if len(ops) != n {
			return scanError(l.pos, "%s takes %d operands, got %d", mnemonic, n, len(ops))
		}
		return nil
	}
	before := a.b.Err()
	wrap := func() error {
		if err := a.b.Err(); err != nil && err != before {
			return scanError(l.pos, "%v", err)
		}
		return nil
	}

	switch info.Format {
	case op.Fmt10x:
		if err := arity(0); err != nil {
			return err
		}
		a.b.Op(code)

	case op.Fmt12x, op.Fmt22x, op.Fmt32x:
		if err := arity(2); err != nil {
			return err
		}
		r, err := regs(2)
		if err != nil {
			return err
		}
		a.b.Regs(code, r...)

	case op.Fmt23x:
		if err := arity(3); err != nil {
			return err
		}
		r, err := regs(3)
		if err != nil {
			return err
		}
		a.b.Regs(code, r...)

	case op.Fmt11x:
		if err := arity(1); err != nil {
			return err
		}
		r, err := regs(1)
		if err != nil {
			return err
		}
		a.b.Reg(code, r[0])

	case op.Fmt11n, op.Fmt21s, op.Fmt21h, op.Fmt31i, op.Fmt51l:
		if err := arity(2); err != nil {
			return err
		}
		r, err := regs(1)
		if err != nil {
			return err
		}
		t, err := single(1)
		if err != nil {
			return err
		}
		wide := code == op.ConstWide16 || code == op.ConstWide32 || code == op.ConstWide || code == op.ConstWideHigh16
		v, err := parseLiteral(t, wide)
		if err != nil {
			return err
		}
		a.b.Lit(code, r[0], v)

	case op.Fmt22b, op.Fmt22s:
		if err := arity(3); err != nil {
			return err
		}
		r, err := regs(2)
		if err != nil {
			return err
		}
		t, err := single(2)
		if err != nil {
			return err
		}
		v, err := parseInt(t, 16)
		if err != nil {
			return err
		}
		a.b.BinLit(code, r[0], r[1], v)

	case op.Fmt10t, op.Fmt30t:
		if err := arity(1); err != nil {
			return err
		}
		t, err := single(0)
		if err != nil {
			return err
		}
		name, err := labelName(t)
		if err != nil {
			return err
		}
		a.b.Branch(code, a.b.Named(name))

	case op.Fmt20t:
		if code == op.ThrowVerificationError {
			if err := arity(2); err != nil {
				return err
			}
			t, err := single(0)
			if err != nil {
				return err
			}
			kind, err := parseInt(t, 8)
			if err != nil {
				return err
			}
			ref, err := single(1)
			if err != nil {
				return err
			}
			a.b.Emit(bytecode.Instruction{Op: code, VA: uint32(kind), Index: a.pool.AddType(ref.text)})
			break
		}
		if err := arity(1); err != nil {
			return err
		}
		t, err := single(0)
		if err != nil {
			return err
		}
		name, err := labelName(t)
		if err != nil {
			return err
		}
		a.b.Branch(code, a.b.Named(name))

	case op.Fmt21t, op.Fmt22t:
		n := 2
		if info.Format == op.Fmt22t {
			n = 3
		}
		if err := arity(n); err != nil {
			return err
		}
		r, err := regs(n - 1)
		if err != nil {
			return err
		}
		t, err := single(n - 1)
		if err != nil {
			return err
		}
		name, err := labelName(t)
		if err != nil {
			return err
		}
		a.b.Branch(code, a.b.Named(name), r...)

	case op.Fmt31t:
		if err := arity(2); err != nil {
			return err
		}
		r, err := regs(1)
		if err != nil {
			return err
		}
		t, err := single(1)
		if err != nil {
			return err
		}
		name, err := labelName(t)
		if err != nil {
			return err
		}
		if err := a.emitPayload(l, code, r[0], name); err != nil {
			return err
		}

	case op.Fmt21c, op.Fmt31c:
		if err := arity(2); err != nil {
			return err
		}
		r, err := regs(1)
		if err != nil {
			return err
		}
		t, err := single(1)
		if err != nil {
			return err
		}
		idx, err := a.reference(info.Index, t)
		if err != nil {
			return err
		}
		a.b.Index(code, idx, r[0])

	case op.Fmt22c:
		if err := arity(3); err != nil {
			return err
		}
		r, err := regs(2)
		if err != nil {
			return err
		}
		t, err := single(2)
		if err != nil {
			return err
		}
		idx, err := a.reference(info.Index, t)
		if err != nil {
			return err
		}
		a.b.Index(code, idx, r[0], r[1])

	case op.Fmt35c, op.Fmt3rc:
		if err := arity(2); err != nil {
			return err
		}
		t, err := single(1)
		if err != nil {
			return err
		}
		idx, err := a.reference(info.Index, t)
		if err != nil {
			return err
		}
		group := ops[0]
		if len(group) < 2 || group[0].kind != tokLBrace || group[len(group)-1].kind != tokRBrace {
			return scanError(l.pos, "%s: expected {registers}", mnemonic)
		}
		inner := group[1 : len(group)-1]
		if info.Format == op.Fmt3rc {
			first, count, err := parseRange(l, inner)
			if err != nil {
				return err
			}
			a.b.InvokeRange(code, idx, first, count)
			break
		}
		var args []uint32
		for _, rt := range inner {
			if rt.kind == tokComma {
				continue
			}
			r, err := parseReg(rt)
			if err != nil {
				return err
			}
			args = append(args, r)
		}
		a.b.Invoke(code, idx, args...)

	default:
		return scanError(l.pos, "%s: format %s is not supported", mnemonic, info.Format)
	}
	return wrap()
}

func (a *assembler) emitPayload(l line, code op.Code, reg uint32, name string) error {
	p, ok := a.payloads[name]
	if !ok {
		return scanError(l.pos, "no payload labelled %s", name)
	}
	targets := func() []bytecode.Label {
		out := make([]bytecode.Label, len(p.targets))
		for i, t := range p.targets {
			out[i] = a.b.Named(t)
		}
		return out
	}
	switch {
	case code == op.PackedSwitch && p.kind == payloadPacked:
		a.b.PackedSwitch(reg, p.first, targets()...)
	case code == op.SparseSwitch && p.kind == payloadSparse:
		a.b.SparseSwitch(reg, p.keys, targets())
	case code == op.FillArrayData && p.kind == payloadArray:
		a.b.FillArrayData(reg, p.width, p.data)
	default:
		return scanError(l.pos, "%s cannot use payload %s", code, name)
	}
	return nil
}

// reference adds the constant named by t to the pool.
func (a *assembler) reference(kind op.IndexKind, t token) (uint32, error) {
	switch kind {
	case op.IndexString:
		if t.kind != tokString {
			return 0, scanError(t.pos, "expected a string literal, got %s", t)
		}
		return a.pool.AddString(t.text), nil
	case op.IndexType:
		if !object.IsReference(t.text) {
			return 0, scanError(t.pos, "bad type %s", t)
		}
		return a.pool.AddType(t.text), nil
	case op.IndexField:
		ref, err := ParseFieldRef(t.text)
		if err != nil {
			return 0, scanError(t.pos, "%v", err)
		}
		return a.pool.AddField(ref), nil
	case op.IndexMethod:
		ref, err := ParseMethodRef(t.text)
		if err != nil {
			return 0, scanError(t.pos, "%v", err)
		}
		return a.pool.AddMethod(ref), nil
	}
	return 0, scanError(t.pos, "unexpected reference %s", t)
}

// ParseMethodRef parses "LClass;->name(args)ret".
func ParseMethodRef(s string) (object.MethodRef, error) {
	class, rest, ok := strings.Cut(s, "->")
	if !ok {
		return object.MethodRef{}, fmt.Errorf("bad method reference %q", s)
	}
	i := strings.IndexByte(rest, '(')
	if i <= 0 {
		return object.MethodRef{}, fmt.Errorf("bad method reference %q", s)
	}
	ref := object.MethodRef{Class: class, Name: rest[:i], Descriptor: rest[i:]}
	if _, _, err := object.ParseMethodDescriptor(ref.Descriptor); err != nil {
		return object.MethodRef{}, err
	}
	return ref, nil
}

// ParseFieldRef parses "LClass;->name:Type".
func ParseFieldRef(s string) (object.FieldRef, error) {
	class, rest, ok := strings.Cut(s, "->")
	if !ok {
		return object.FieldRef{}, fmt.Errorf("bad field reference %q", s)
	}
	name, typ, ok := strings.Cut(rest, ":")
	if !ok || name == "" || !(object.IsPrimitive(typ) || object.IsReference(typ)) {
		return object.FieldRef{}, fmt.Errorf("bad field reference %q", s)
	}
	return object.FieldRef{Class: class, Name: name, Type: typ}, nil
}

func labelName(t token) (string, error) {
	if t.kind != tokWord || len(t.text) < 2 || t.text[0] != ':' {
		return "", scanError(t.pos, "expected a label, got %s", t)
	}
	return t.text[1:], nil
}

func parseReg(t token) (uint32, error) {
	if t.kind != tokWord || len(t.text) < 2 || t.text[0] != 'v' {
		return 0, scanError(t.pos, "expected a register, got %s", t)
	}
	n, err := strconv.ParseUint(t.text[1:], 10, 16)
	if err != nil {
		return 0, scanError(t.pos, "bad register %s", t)
	}
	return uint32(n), nil
}

// parseRange parses the inside of "{vN .. vM}".
func parseRange(l line, toks []token) (uint32, int, error) {
	switch len(toks) {
	case 0:
		return 0, 0, nil
	case 1:
		r, err := parseReg(toks[0])
		return r, 1, err
	case 3:
		if toks[1].text != ".." {
			break
		}
		first, err := parseReg(toks[0])
		if err != nil {
			return 0, 0, err
		}
		last, err := parseReg(toks[2])
		if err != nil {
			return 0, 0, err
		}
		if last < first {
			return 0, 0, scanError(l.pos, "inverted register range")
		}
		return first, int(last-first) + 1, nil
	}
	return 0, 0, scanError(l.pos, "expected {vN .. vM}")
}

// parseInt parses a signed integer literal that must fit in bits.
func parseInt(t token, bits int) (int64, error) {
	if t.kind != tokWord {
		return 0, scanError(t.pos, "expected a number, got %s", t)
	}
	v, err := strconv.ParseInt(strings.TrimRight(t.text, "Lst"), 0, bits)
	if err != nil {
		return 0, scanError(t.pos, "bad number %s", t)
	}
	return v, nil
}

// parseLiteral parses an integer or floating point literal into the bits a
// const instruction loads. Floats ending in 'f' are single precision; other
// floats are double precision for wide constants and single otherwise.
func parseLiteral(t token, wide bool) (int64, error) {
	if t.kind != tokWord {
		return 0, scanError(t.pos, "expected a literal, got %s", t)
	}
	s := t.text
	isHex := strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "-0x")
	if !isHex && isFloatLiteral(s) {
		single := strings.HasSuffix(s, "f") || strings.HasSuffix(s, "F")
		s = strings.TrimRight(s, "fFdD")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, scanError(t.pos, "bad float %s", t)
		}
		if wide && !single {
			return int64(math.Float64bits(f)), nil
		}
		return int64(int32(math.Float32bits(float32(f)))), nil
	}
	s = strings.TrimRight(s, "Lst")
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		u, uerr := strconv.ParseUint(s, 0, 64)
		if uerr != nil {
			return 0, scanError(t.pos, "bad literal %s", t)
		}
		v = int64(u)
	}
	// Unsigned 32-bit spellings such as 0xbf800000 denote negative ints.
	if !wide && v > math.MaxInt32 && v <= math.MaxUint32 {
		v = int64(int32(uint32(v)))
	}
	return v, nil
}

func isFloatLiteral(s string) bool {
	trimmed := strings.TrimLeft(s, "+-")
	switch strings.TrimRight(trimmed, "fFdD") {
	case "Infinity", "NaN":
		return true
	}
	if strings.ContainsAny(trimmed, ".eE") {
		return true
	}
	last := trimmed[len(trimmed)-1]
	return last == 'f' || last == 'F' || last == 'd' || last == 'D'
}
