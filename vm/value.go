package vm

import (
	"fmt"
	"math"

	"github.com/deepnoodle-ai/dvm/object"
)

// Value is a register-sized or register-pair-sized value as passed to and
// returned from methods. It carries no type: the method descriptor or the
// opcode that produced it says how to read it.
type Value struct {
	bits uint64
	ref  *object.Object
}

// Void is the result of a method returning void.
func Void() Value { return Value{} }

// Int returns a Value holding a 32-bit integer. Booleans, bytes, chars and
// shorts are ints too.
func Int(v int32) Value { return Value{bits: uint64(uint32(v))} }

// Bool returns 1 for true and 0 for false.
func Bool(b bool) Value {
	if b {
		return Int(1)
	}
	return Int(0)
}

func Long(v int64) Value     { return Value{bits: uint64(v)} }
func Float(v float32) Value  { return Value{bits: uint64(math.Float32bits(v))} }
func Double(v float64) Value { return Value{bits: math.Float64bits(v)} }
func Ref(o *object.Object) Value {
	return Value{ref: o}
}

func (v Value) AsInt() int32          { return int32(uint32(v.bits)) }
func (v Value) AsBool() bool          { return uint32(v.bits) != 0 }
func (v Value) AsLong() int64         { return int64(v.bits) }
func (v Value) AsFloat() float32      { return math.Float32frombits(uint32(v.bits)) }
func (v Value) AsDouble() float64     { return math.Float64frombits(v.bits) }
func (v Value) AsRef() *object.Object { return v.ref }

// Bits returns the raw 64-bit payload.
func (v Value) Bits() uint64 { return v.bits }

// Format renders the value as the type descriptor typ.
func (v Value) Format(typ string) string {
	switch typ {
	case "V":
		return "void"
	case "Z":
		return fmt.Sprint(v.AsBool())
	case "C":
		return string(rune(uint16(v.AsInt())))
	case "J":
		return fmt.Sprint(v.AsLong())
	case "F":
		return fmt.Sprint(v.AsFloat())
	case "D":
		return fmt.Sprint(v.AsDouble())
	}
	if object.IsReference(typ) {
		if v.ref != nil && v.ref.IsString() {
			return v.ref.StringValue()
		}
		return v.ref.String()
	}
	return fmt.Sprint(v.AsInt())
}

// Kind is a shadow type tag recording what was last written to a register.
// Tags exist only when a runtime is built with WithShadowTags.
type Kind uint8

const (
	KindUnset Kind = iota
	KindInt
	KindFloat
	KindRef
	// KindConst is a narrow constant, which the bytecode may read as an
	// int, a float or, when zero, a null reference.
	KindConst
	KindLongLo
	KindLongHi
	KindDoubleLo
	KindDoubleHi
	// KindWideConstLo and KindWideConstHi hold a wide constant, readable as
	// a long or a double.
	KindWideConstLo
	KindWideConstHi
)

var kindNames = [...]string{
	KindUnset:       "unset",
	KindInt:         "int",
	KindFloat:       "float",
	KindRef:         "ref",
	KindConst:       "const",
	KindLongLo:      "long-lo",
	KindLongHi:      "long-hi",
	KindDoubleLo:    "double-lo",
	KindDoubleHi:    "double-hi",
	KindWideConstLo: "wide-const-lo",
	KindWideConstHi: "wide-const-hi",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// readable reports whether a register tagged k may be read as want.
func (k Kind) readable(want Kind) bool {
	switch {
	case k == want:
		return true
	case k == KindConst:
		return want == KindInt || want == KindFloat || want == KindRef
	case k == KindWideConstLo:
		return want == KindLongLo || want == KindDoubleLo
	case k == KindWideConstHi:
		return want == KindLongHi || want == KindDoubleHi
	}
	return false
}

// kindOf returns the register tag for a value of type descriptor typ.
func kindOf(typ byte) Kind {
	switch typ {
	case 'F':
		return KindFloat
	case 'J':
		return KindLongLo
	case 'D':
		return KindDoubleLo
	case 'L', '[':
		return KindRef
	}
	return KindInt
}

// hiKind returns the tag of the high register of a wide pair.
func hiKind(lo Kind) Kind {
	switch lo {
	case KindLongLo:
		return KindLongHi
	case KindDoubleLo:
		return KindDoubleHi
	case KindWideConstLo:
		return KindWideConstHi
	}
	return KindUnset
}
