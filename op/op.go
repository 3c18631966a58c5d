// Package op defines the opcodes executed by the dvm interpreter.
//
// Opcode numbering and instruction formats follow the Dalvik executable
// format: every instruction is one or more 16-bit code units and the low byte
// of the first unit is the opcode. The format of an opcode fixes how its
// operands are packed into the remaining bits.
package op

// Code is an opcode, the low byte of an instruction's first code unit.
type Code uint8

const (
	Nop              Code = 0x00
	Move             Code = 0x01
	MoveFrom16       Code = 0x02
	Move16           Code = 0x03
	MoveWide         Code = 0x04
	MoveWideFrom16   Code = 0x05
	MoveWide16       Code = 0x06
	MoveObject       Code = 0x07
	MoveObjectFrom16 Code = 0x08
	MoveObject16     Code = 0x09
	MoveResult       Code = 0x0a
	MoveResultWide   Code = 0x0b
	MoveResultObject Code = 0x0c
	MoveException    Code = 0x0d
	ReturnVoid       Code = 0x0e
	Return           Code = 0x0f
	ReturnWide       Code = 0x10
	ReturnObject     Code = 0x11

	Const4           Code = 0x12
	Const16          Code = 0x13
	Const            Code = 0x14
	ConstHigh16      Code = 0x15
	ConstWide16      Code = 0x16
	ConstWide32      Code = 0x17
	ConstWide        Code = 0x18
	ConstWideHigh16  Code = 0x19
	ConstString      Code = 0x1a
	ConstStringJumbo Code = 0x1b
	ConstClass       Code = 0x1c

	MonitorEnter        Code = 0x1d
	MonitorExit         Code = 0x1e
	CheckCast           Code = 0x1f
	InstanceOf          Code = 0x20
	ArrayLength         Code = 0x21
	NewInstance         Code = 0x22
	NewArray            Code = 0x23
	FilledNewArray      Code = 0x24
	FilledNewArrayRange Code = 0x25
	FillArrayData       Code = 0x26
	Throw               Code = 0x27

	Goto         Code = 0x28
	Goto16       Code = 0x29
	Goto32       Code = 0x2a
	PackedSwitch Code = 0x2b
	SparseSwitch Code = 0x2c

	CmplFloat  Code = 0x2d
	CmpgFloat  Code = 0x2e
	CmplDouble Code = 0x2f
	CmpgDouble Code = 0x30
	CmpLong    Code = 0x31

	IfEq  Code = 0x32
	IfNe  Code = 0x33
	IfLt  Code = 0x34
	IfGe  Code = 0x35
	IfGt  Code = 0x36
	IfLe  Code = 0x37
	IfEqz Code = 0x38
	IfNez Code = 0x39
	IfLtz Code = 0x3a
	IfGez Code = 0x3b
	IfGtz Code = 0x3c
	IfLez Code = 0x3d

	Aget        Code = 0x44
	AgetWide    Code = 0x45
	AgetObject  Code = 0x46
	AgetBoolean Code = 0x47
	AgetByte    Code = 0x48
	AgetChar    Code = 0x49
	AgetShort   Code = 0x4a
	Aput        Code = 0x4b
	AputWide    Code = 0x4c
	AputObject  Code = 0x4d
	AputBoolean Code = 0x4e
	AputByte    Code = 0x4f
	AputChar    Code = 0x50
	AputShort   Code = 0x51

	Iget        Code = 0x52
	IgetWide    Code = 0x53
	IgetObject  Code = 0x54
	IgetBoolean Code = 0x55
	IgetByte    Code = 0x56
	IgetChar    Code = 0x57
	IgetShort   Code = 0x58
	Iput        Code = 0x59
	IputWide    Code = 0x5a
	IputObject  Code = 0x5b
	IputBoolean Code = 0x5c
	IputByte    Code = 0x5d
	IputChar    Code = 0x5e
	IputShort   Code = 0x5f
	Sget        Code = 0x60
	SgetWide    Code = 0x61
	SgetObject  Code = 0x62
	SgetBoolean Code = 0x63
	SgetByte    Code = 0x64
	SgetChar    Code = 0x65
	SgetShort   Code = 0x66
	Sput        Code = 0x67
	SputWide    Code = 0x68
	SputObject  Code = 0x69
	SputBoolean Code = 0x6a
	SputByte    Code = 0x6b
	SputChar    Code = 0x6c
	SputShort   Code = 0x6d

	InvokeVirtual        Code = 0x6e
	InvokeSuper          Code = 0x6f
	InvokeDirect         Code = 0x70
	InvokeStatic         Code = 0x71
	InvokeInterface      Code = 0x72
	InvokeVirtualRange   Code = 0x74
	InvokeSuperRange     Code = 0x75
	InvokeDirectRange    Code = 0x76
	InvokeStaticRange    Code = 0x77
	InvokeInterfaceRange Code = 0x78

	NegInt        Code = 0x7b
	NotInt        Code = 0x7c
	NegLong       Code = 0x7d
	NotLong       Code = 0x7e
	NegFloat      Code = 0x7f
	NegDouble     Code = 0x80
	IntToLong     Code = 0x81
	IntToFloat    Code = 0x82
	IntToDouble   Code = 0x83
	LongToInt     Code = 0x84
	LongToFloat   Code = 0x85
	LongToDouble  Code = 0x86
	FloatToInt    Code = 0x87
	FloatToLong   Code = 0x88
	FloatToDouble Code = 0x89
	DoubleToInt   Code = 0x8a
	DoubleToLong  Code = 0x8b
	DoubleToFloat Code = 0x8c
	IntToByte     Code = 0x8d
	IntToChar     Code = 0x8e
	IntToShort    Code = 0x8f

	AddInt    Code = 0x90
	SubInt    Code = 0x91
	MulInt    Code = 0x92
	DivInt    Code = 0x93
	RemInt    Code = 0x94
	AndInt    Code = 0x95
	OrInt     Code = 0x96
	XorInt    Code = 0x97
	ShlInt    Code = 0x98
	ShrInt    Code = 0x99
	UshrInt   Code = 0x9a
	AddLong   Code = 0x9b
	SubLong   Code = 0x9c
	MulLong   Code = 0x9d
	DivLong   Code = 0x9e
	RemLong   Code = 0x9f
	AndLong   Code = 0xa0
	OrLong    Code = 0xa1
	XorLong   Code = 0xa2
	ShlLong   Code = 0xa3
	ShrLong   Code = 0xa4
	UshrLong  Code = 0xa5
	AddFloat  Code = 0xa6
	SubFloat  Code = 0xa7
	MulFloat  Code = 0xa8
	DivFloat  Code = 0xa9
	RemFloat  Code = 0xaa
	AddDouble Code = 0xab
	SubDouble Code = 0xac
	MulDouble Code = 0xad
	DivDouble Code = 0xae
	RemDouble Code = 0xaf

	AddInt2Addr    Code = 0xb0
	SubInt2Addr    Code = 0xb1
	MulInt2Addr    Code = 0xb2
	DivInt2Addr    Code = 0xb3
	RemInt2Addr    Code = 0xb4
	AndInt2Addr    Code = 0xb5
	OrInt2Addr     Code = 0xb6
	XorInt2Addr    Code = 0xb7
	ShlInt2Addr    Code = 0xb8
	ShrInt2Addr    Code = 0xb9
	UshrInt2Addr   Code = 0xba
	AddLong2Addr   Code = 0xbb
	SubLong2Addr   Code = 0xbc
	MulLong2Addr   Code = 0xbd
	DivLong2Addr   Code = 0xbe
	RemLong2Addr   Code = 0xbf
	AndLong2Addr   Code = 0xc0
	OrLong2Addr    Code = 0xc1
	XorLong2Addr   Code = 0xc2
	ShlLong2Addr   Code = 0xc3
	ShrLong2Addr   Code = 0xc4
	UshrLong2Addr  Code = 0xc5
	AddFloat2Addr  Code = 0xc6
	SubFloat2Addr  Code = 0xc7
	MulFloat2Addr  Code = 0xc8
	DivFloat2Addr  Code = 0xc9
	RemFloat2Addr  Code = 0xca
	AddDouble2Addr Code = 0xcb
	SubDouble2Addr Code = 0xcc
	MulDouble2Addr Code = 0xcd
	DivDouble2Addr Code = 0xce
	RemDouble2Addr Code = 0xcf

	AddIntLit16 Code = 0xd0
	RsubInt     Code = 0xd1
	MulIntLit16 Code = 0xd2
	DivIntLit16 Code = 0xd3
	RemIntLit16 Code = 0xd4
	AndIntLit16 Code = 0xd5
	OrIntLit16  Code = 0xd6
	XorIntLit16 Code = 0xd7
	AddIntLit8  Code = 0xd8
	RsubIntLit8 Code = 0xd9
	MulIntLit8  Code = 0xda
	DivIntLit8  Code = 0xdb
	RemIntLit8  Code = 0xdc
	AndIntLit8  Code = 0xdd
	OrIntLit8   Code = 0xde
	XorIntLit8  Code = 0xdf
	ShlIntLit8  Code = 0xe0
	ShrIntLit8  Code = 0xe1
	UshrIntLit8 Code = 0xe2

	IgetVolatile       Code = 0xe3
	IputVolatile       Code = 0xe4
	SgetVolatile       Code = 0xe5
	SputVolatile       Code = 0xe6
	IgetObjectVolatile Code = 0xe7
	IgetWideVolatile   Code = 0xe8
	IputWideVolatile   Code = 0xe9
	SgetWideVolatile   Code = 0xea
	SputWideVolatile   Code = 0xeb

	ThrowVerificationError Code = 0xed
	ReturnVoidBarrier      Code = 0xf1

	IputObjectVolatile Code = 0xfc
	SgetObjectVolatile Code = 0xfd
	SputObjectVolatile Code = 0xfe
)

// Format describes how an instruction packs its operands. The names follow
// the Dalvik convention: the first digit is the width in code units, the
// second the number of registers, the letter the kind of extra data.
type Format uint8

const (
	FmtNone Format = iota
	Fmt10x         // op
	Fmt12x         // op vA, vB (nibbles)
	Fmt11n         // op vA, #+B (nibble literal)
	Fmt11x         // op vAA
	Fmt10t         // op +AA
	Fmt20t         // op +AAAA
	Fmt22x         // op vAA, vBBBB
	Fmt21t         // op vAA, +BBBB
	Fmt21s         // op vAA, #+BBBB
	Fmt21h         // op vAA, #+BBBB0000[00000000]
	Fmt21c         // op vAA, kind@BBBB
	Fmt23x         // op vAA, vBB, vCC
	Fmt22b         // op vAA, vBB, #+CC
	Fmt22t         // op vA, vB, +CCCC
	Fmt22s         // op vA, vB, #+CCCC
	Fmt22c         // op vA, vB, kind@CCCC
	Fmt32x         // op vAAAA, vBBBB
	Fmt30t         // op +AAAAAAAA
	Fmt31t         // op vAA, +BBBBBBBB
	Fmt31i         // op vAA, #+BBBBBBBB
	Fmt31c         // op vAA, kind@BBBBBBBB
	Fmt35c         // op {vC, vD, vE, vF, vG}, kind@BBBB
	Fmt3rc         // op {vCCCC .. vNNNN}, kind@BBBB
	Fmt51l         // op vAA, #+BBBBBBBBBBBBBBBB
)

var formatWidths = [...]int{
	FmtNone: 1,
	Fmt10x:  1, Fmt12x: 1, Fmt11n: 1, Fmt11x: 1, Fmt10t: 1,
	Fmt20t: 2, Fmt22x: 2, Fmt21t: 2, Fmt21s: 2, Fmt21h: 2, Fmt21c: 2,
	Fmt23x: 2, Fmt22b: 2, Fmt22t: 2, Fmt22s: 2, Fmt22c: 2,
	Fmt32x: 3, Fmt30t: 3, Fmt31t: 3, Fmt31i: 3, Fmt31c: 3, Fmt35c: 3, Fmt3rc: 3,
	Fmt51l: 5,
}

var formatNames = [...]string{
	FmtNone: "none",
	Fmt10x:  "10x", Fmt12x: "12x", Fmt11n: "11n", Fmt11x: "11x", Fmt10t: "10t",
	Fmt20t: "20t", Fmt22x: "22x", Fmt21t: "21t", Fmt21s: "21s", Fmt21h: "21h",
	Fmt21c: "21c", Fmt23x: "23x", Fmt22b: "22b", Fmt22t: "22t", Fmt22s: "22s",
	Fmt22c: "22c", Fmt32x: "32x", Fmt30t: "30t", Fmt31t: "31t", Fmt31i: "31i",
	Fmt31c: "31c", Fmt35c: "35c", Fmt3rc: "3rc", Fmt51l: "51l",
}

// Width returns the number of code units an instruction of this format
// occupies.
func (f Format) Width() int {
	return formatWidths[f]
}

// String returns the conventional name of the format, e.g. "23x".
func (f Format) String() string {
	return formatNames[f]
}

// IndexKind says what a constant-pool index operand refers to.
type IndexKind uint8

const (
	IndexNone IndexKind = iota
	IndexString
	IndexType
	IndexField
	IndexMethod
	IndexVaries
)

// Flags describe the control-flow behavior of an opcode.
type Flags uint8

const (
	CanContinue Flags = 1 << iota
	CanBranch
	CanSwitch
	CanThrow
	CanReturn
	Invoke
)

// Info contains information about an opcode.
type Info struct {
	Code   Code
	Name   string
	Format Format
	Index  IndexKind
	Flags  Flags
}

// Width returns the instruction width in code units.
func (i Info) Width() int {
	return i.Format.Width()
}

// Valid reports whether the opcode is assigned.
func (i Info) Valid() bool {
	return i.Name != ""
}

var (
	infos  [256]Info
	byName = map[string]Code{}
)

func init() {
	const (
		cont  = CanContinue
		thr   = CanContinue | CanThrow
		br    = CanBranch
		cbr   = CanContinue | CanBranch
		sw    = CanContinue | CanSwitch
		ret   = CanReturn
		inv   = CanContinue | CanThrow | Invoke
		throw = CanThrow
	)
	type opInfo struct {
		op    Code
		name  string
		fmt   Format
		index IndexKind
		flags Flags
	}
	ops := []opInfo{
		{Nop, "nop", Fmt10x, IndexNone, cont},
		{Move, "move", Fmt12x, IndexNone, cont},
		{MoveFrom16, "move/from16", Fmt22x, IndexNone, cont},
		{Move16, "move/16", Fmt32x, IndexNone, cont},
		{MoveWide, "move-wide", Fmt12x, IndexNone, cont},
		{MoveWideFrom16, "move-wide/from16", Fmt22x, IndexNone, cont},
		{MoveWide16, "move-wide/16", Fmt32x, IndexNone, cont},
		{MoveObject, "move-object", Fmt12x, IndexNone, cont},
		{MoveObjectFrom16, "move-object/from16", Fmt22x, IndexNone, cont},
		{MoveObject16, "move-object/16", Fmt32x, IndexNone, cont},
		{MoveResult, "move-result", Fmt11x, IndexNone, cont},
		{MoveResultWide, "move-result-wide", Fmt11x, IndexNone, cont},
		{MoveResultObject, "move-result-object", Fmt11x, IndexNone, cont},
		{MoveException, "move-exception", Fmt11x, IndexNone, cont},
		{ReturnVoid, "return-void", Fmt10x, IndexNone, ret},
		{Return, "return", Fmt11x, IndexNone, ret},
		{ReturnWide, "return-wide", Fmt11x, IndexNone, ret},
		{ReturnObject, "return-object", Fmt11x, IndexNone, ret},

		{Const4, "const/4", Fmt11n, IndexNone, cont},
		{Const16, "const/16", Fmt21s, IndexNone, cont},
		{Const, "const", Fmt31i, IndexNone, cont},
		{ConstHigh16, "const/high16", Fmt21h, IndexNone, cont},
		{ConstWide16, "const-wide/16", Fmt21s, IndexNone, cont},
		{ConstWide32, "const-wide/32", Fmt31i, IndexNone, cont},
		{ConstWide, "const-wide", Fmt51l, IndexNone, cont},
		{ConstWideHigh16, "const-wide/high16", Fmt21h, IndexNone, cont},
		{ConstString, "const-string", Fmt21c, IndexString, thr},
		{ConstStringJumbo, "const-string/jumbo", Fmt31c, IndexString, thr},
		{ConstClass, "const-class", Fmt21c, IndexType, thr},

		{MonitorEnter, "monitor-enter", Fmt11x, IndexNone, thr},
		{MonitorExit, "monitor-exit", Fmt11x, IndexNone, thr},
		{CheckCast, "check-cast", Fmt21c, IndexType, thr},
		{InstanceOf, "instance-of", Fmt22c, IndexType, thr},
		{ArrayLength, "array-length", Fmt12x, IndexNone, thr},
		{NewInstance, "new-instance", Fmt21c, IndexType, thr},
		{NewArray, "new-array", Fmt22c, IndexType, thr},
		{FilledNewArray, "filled-new-array", Fmt35c, IndexType, thr},
		{FilledNewArrayRange, "filled-new-array/range", Fmt3rc, IndexType, thr},
		{FillArrayData, "fill-array-data", Fmt31t, IndexNone, thr},
		{Throw, "throw", Fmt11x, IndexNone, throw},

		{Goto, "goto", Fmt10t, IndexNone, br},
		{Goto16, "goto/16", Fmt20t, IndexNone, br},
		{Goto32, "goto/32", Fmt30t, IndexNone, br},
		{PackedSwitch, "packed-switch", Fmt31t, IndexNone, sw},
		{SparseSwitch, "sparse-switch", Fmt31t, IndexNone, sw},

		{CmplFloat, "cmpl-float", Fmt23x, IndexNone, cont},
		{CmpgFloat, "cmpg-float", Fmt23x, IndexNone, cont},
		{CmplDouble, "cmpl-double", Fmt23x, IndexNone, cont},
		{CmpgDouble, "cmpg-double", Fmt23x, IndexNone, cont},
		{CmpLong, "cmp-long", Fmt23x, IndexNone, cont},

		{IfEq, "if-eq", Fmt22t, IndexNone, cbr},
		{IfNe, "if-ne", Fmt22t, IndexNone, cbr},
		{IfLt, "if-lt", Fmt22t, IndexNone, cbr},
		{IfGe, "if-ge", Fmt22t, IndexNone, cbr},
		{IfGt, "if-gt", Fmt22t, IndexNone, cbr},
		{IfLe, "if-le", Fmt22t, IndexNone, cbr},
		{IfEqz, "if-eqz", Fmt21t, IndexNone, cbr},
		{IfNez, "if-nez", Fmt21t, IndexNone, cbr},
		{IfLtz, "if-ltz", Fmt21t, IndexNone, cbr},
		{IfGez, "if-gez", Fmt21t, IndexNone, cbr},
		{IfGtz, "if-gtz", Fmt21t, IndexNone, cbr},
		{IfLez, "if-lez", Fmt21t, IndexNone, cbr},

		{Aget, "aget", Fmt23x, IndexNone, thr},
		{AgetWide, "aget-wide", Fmt23x, IndexNone, thr},
		{AgetObject, "aget-object", Fmt23x, IndexNone, thr},
		{AgetBoolean, "aget-boolean", Fmt23x, IndexNone, thr},
		{AgetByte, "aget-byte", Fmt23x, IndexNone, thr},
		{AgetChar, "aget-char", Fmt23x, IndexNone, thr},
		{AgetShort, "aget-short", Fmt23x, IndexNone, thr},
		{Aput, "aput", Fmt23x, IndexNone, thr},
		{AputWide, "aput-wide", Fmt23x, IndexNone, thr},
		{AputObject, "aput-object", Fmt23x, IndexNone, thr},
		{AputBoolean, "aput-boolean", Fmt23x, IndexNone, thr},
		{AputByte, "aput-byte", Fmt23x, IndexNone, thr},
		{AputChar, "aput-char", Fmt23x, IndexNone, thr},
		{AputShort, "aput-short", Fmt23x, IndexNone, thr},

		{Iget, "iget", Fmt22c, IndexField, thr},
		{IgetWide, "iget-wide", Fmt22c, IndexField, thr},
		{IgetObject, "iget-object", Fmt22c, IndexField, thr},
		{IgetBoolean, "iget-boolean", Fmt22c, IndexField, thr},
		{IgetByte, "iget-byte", Fmt22c, IndexField, thr},
		{IgetChar, "iget-char", Fmt22c, IndexField, thr},
		{IgetShort, "iget-short", Fmt22c, IndexField, thr},
		{Iput, "iput", Fmt22c, IndexField, thr},
		{IputWide, "iput-wide", Fmt22c, IndexField, thr},
		{IputObject, "iput-object", Fmt22c, IndexField, thr},
		{IputBoolean, "iput-boolean", Fmt22c, IndexField, thr},
		{IputByte, "iput-byte", Fmt22c, IndexField, thr},
		{IputChar, "iput-char", Fmt22c, IndexField, thr},
		{IputShort, "iput-short", Fmt22c, IndexField, thr},
		{Sget, "sget", Fmt21c, IndexField, thr},
		{SgetWide, "sget-wide", Fmt21c, IndexField, thr},
		{SgetObject, "sget-object", Fmt21c, IndexField, thr},
		{SgetBoolean, "sget-boolean", Fmt21c, IndexField, thr},
		{SgetByte, "sget-byte", Fmt21c, IndexField, thr},
		{SgetChar, "sget-char", Fmt21c, IndexField, thr},
		{SgetShort, "sget-short", Fmt21c, IndexField, thr},
		{Sput, "sput", Fmt21c, IndexField, thr},
		{SputWide, "sput-wide", Fmt21c, IndexField, thr},
		{SputObject, "sput-object", Fmt21c, IndexField, thr},
		{SputBoolean, "sput-boolean", Fmt21c, IndexField, thr},
		{SputByte, "sput-byte", Fmt21c, IndexField, thr},
		{SputChar, "sput-char", Fmt21c, IndexField, thr},
		{SputShort, "sput-short", Fmt21c, IndexField, thr},

		{InvokeVirtual, "invoke-virtual", Fmt35c, IndexMethod, inv},
		{InvokeSuper, "invoke-super", Fmt35c, IndexMethod, inv},
		{InvokeDirect, "invoke-direct", Fmt35c, IndexMethod, inv},
		{InvokeStatic, "invoke-static", Fmt35c, IndexMethod, inv},
		{InvokeInterface, "invoke-interface", Fmt35c, IndexMethod, inv},
		{InvokeVirtualRange, "invoke-virtual/range", Fmt3rc, IndexMethod, inv},
		{InvokeSuperRange, "invoke-super/range", Fmt3rc, IndexMethod, inv},
		{InvokeDirectRange, "invoke-direct/range", Fmt3rc, IndexMethod, inv},
		{InvokeStaticRange, "invoke-static/range", Fmt3rc, IndexMethod, inv},
		{InvokeInterfaceRange, "invoke-interface/range", Fmt3rc, IndexMethod, inv},

		{NegInt, "neg-int", Fmt12x, IndexNone, cont},
		{NotInt, "not-int", Fmt12x, IndexNone, cont},
		{NegLong, "neg-long", Fmt12x, IndexNone, cont},
		{NotLong, "not-long", Fmt12x, IndexNone, cont},
		{NegFloat, "neg-float", Fmt12x, IndexNone, cont},
		{NegDouble, "neg-double", Fmt12x, IndexNone, cont},
		{IntToLong, "int-to-long", Fmt12x, IndexNone, cont},
		{IntToFloat, "int-to-float", Fmt12x, IndexNone, cont},
		{IntToDouble, "int-to-double", Fmt12x, IndexNone, cont},
		{LongToInt, "long-to-int", Fmt12x, IndexNone, cont},
		{LongToFloat, "long-to-float", Fmt12x, IndexNone, cont},
		{LongToDouble, "long-to-double", Fmt12x, IndexNone, cont},
		{FloatToInt, "float-to-int", Fmt12x, IndexNone, cont},
		{FloatToLong, "float-to-long", Fmt12x, IndexNone, cont},
		{FloatToDouble, "float-to-double", Fmt12x, IndexNone, cont},
		{DoubleToInt, "double-to-int", Fmt12x, IndexNone, cont},
		{DoubleToLong, "double-to-long", Fmt12x, IndexNone, cont},
		{DoubleToFloat, "double-to-float", Fmt12x, IndexNone, cont},
		{IntToByte, "int-to-byte", Fmt12x, IndexNone, cont},
		{IntToChar, "int-to-char", Fmt12x, IndexNone, cont},
		{IntToShort, "int-to-short", Fmt12x, IndexNone, cont},

		{ThrowVerificationError, "throw-verification-error", Fmt20t, IndexVaries, throw},
		{ReturnVoidBarrier, "return-void-barrier", Fmt10x, IndexNone, ret},

		{IgetVolatile, "iget-volatile", Fmt22c, IndexField, thr},
		{IputVolatile, "iput-volatile", Fmt22c, IndexField, thr},
		{SgetVolatile, "sget-volatile", Fmt21c, IndexField, thr},
		{SputVolatile, "sput-volatile", Fmt21c, IndexField, thr},
		{IgetObjectVolatile, "iget-object-volatile", Fmt22c, IndexField, thr},
		{IgetWideVolatile, "iget-wide-volatile", Fmt22c, IndexField, thr},
		{IputWideVolatile, "iput-wide-volatile", Fmt22c, IndexField, thr},
		{SgetWideVolatile, "sget-wide-volatile", Fmt21c, IndexField, thr},
		{SputWideVolatile, "sput-wide-volatile", Fmt21c, IndexField, thr},
		{IputObjectVolatile, "iput-object-volatile", Fmt22c, IndexField, thr},
		{SgetObjectVolatile, "sget-object-volatile", Fmt21c, IndexField, thr},
		{SputObjectVolatile, "sput-object-volatile", Fmt21c, IndexField, thr},
	}

	// The arithmetic families are regular enough to generate.
	binops := []string{"add", "sub", "mul", "div", "rem", "and", "or", "xor", "shl", "shr", "ushr"}
	fops := []string{"add", "sub", "mul", "div", "rem"}
	addFamily := func(base Code, names []string, typ, suffix string, f Format) {
		for i, n := range names {
			flags := cont
			if n == "div" || n == "rem" {
				if typ == "int" || typ == "long" {
					flags = thr
				}
			}
			ops = append(ops, opInfo{base + Code(i), n + "-" + typ + suffix, f, IndexNone, flags})
		}
	}
	addFamily(AddInt, binops, "int", "", Fmt23x)
	addFamily(AddLong, binops, "long", "", Fmt23x)
	addFamily(AddFloat, fops, "float", "", Fmt23x)
	addFamily(AddDouble, fops, "double", "", Fmt23x)
	addFamily(AddInt2Addr, binops, "int", "/2addr", Fmt12x)
	addFamily(AddLong2Addr, binops, "long", "/2addr", Fmt12x)
	addFamily(AddFloat2Addr, fops, "float", "/2addr", Fmt12x)
	addFamily(AddDouble2Addr, fops, "double", "/2addr", Fmt12x)
	lit16 := []string{"add-int", "rsub-int", "mul-int", "div-int", "rem-int", "and-int", "or-int", "xor-int"}
	for i, n := range lit16 {
		name := n + "/lit16"
		if n == "rsub-int" {
			name = n
		}
		flags := cont
		if n == "div-int" || n == "rem-int" {
			flags = thr
		}
		ops = append(ops, opInfo{AddIntLit16 + Code(i), name, Fmt22s, IndexNone, flags})
	}
	lit8 := append(append([]string{}, lit16...), "shl-int", "shr-int", "ushr-int")
	for i, n := range lit8 {
		flags := cont
		if n == "div-int" || n == "rem-int" {
			flags = thr
		}
		ops = append(ops, opInfo{AddIntLit8 + Code(i), n + "/lit8", Fmt22b, IndexNone, flags})
	}

	for _, o := range ops {
		infos[o.op] = Info{
			Code:   o.op,
			Name:   o.name,
			Format: o.fmt,
			Index:  o.index,
			Flags:  o.flags,
		}
		byName[o.name] = o.op
	}
}

// GetInfo returns information about the given opcode. Unassigned opcodes
// return an Info whose Valid method reports false.
func GetInfo(op Code) Info {
	return infos[op]
}

// Lookup returns the opcode with the given mnemonic, e.g. "add-int/lit8".
func Lookup(name string) (Code, bool) {
	code, ok := byName[name]
	return code, ok
}

// String returns the mnemonic of the opcode.
func (c Code) String() string {
	if name := infos[c].Name; name != "" {
		return name
	}
	return "unused"
}

// Has reports whether all of the given flags are set.
func (f Flags) Has(flags Flags) bool {
	return f&flags == flags
}
