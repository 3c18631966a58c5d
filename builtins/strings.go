package builtins

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/deepnoodle-ai/dvm/object"
	"github.com/deepnoodle-ai/dvm/vm"
)

// StringLength returns the length of the receiver in UTF-16 code units.
func StringLength(_ *vm.Thread, _ *object.Method, args vm.Args) (vm.Value, *object.Object) {
	return vm.Int(int32(len(utf16.Encode([]rune(args.This().StringValue()))))), nil
}

func StringConcat(t *vm.Thread, _ *object.Method, args vm.Args) (vm.Value, *object.Object) {
	other := args.Ref(1)
	if other == nil {
		return vm.Value{}, t.NewThrowable(object.ExNullPointer, "Attempt to concatenate a null string")
	}
	this := args.This()
	if other.StringValue() == "" {
		return vm.Ref(this), nil
	}
	return newString(t, this.StringValue()+other.StringValue())
}

func StringEquals(_ *vm.Thread, _ *object.Method, args vm.Args) (vm.Value, *object.Object) {
	this, other := args.This(), args.Ref(1)
	if this == other {
		return vm.Bool(true), nil
	}
	if other == nil || !other.IsString() {
		return vm.Bool(false), nil
	}
	return vm.Bool(this.StringValue() == other.StringValue()), nil
}

// StringHashCode computes s[0]*31^(n-1) + ... + s[n-1] over UTF-16 code
// units with 32-bit wraparound.
func StringHashCode(_ *vm.Thread, _ *object.Method, args vm.Args) (vm.Value, *object.Object) {
	return vm.Int(HashString(args.This().StringValue())), nil
}

// HashString returns the hash code of a string value.
func HashString(s string) int32 {
	var h int32
	for _, u := range utf16.Encode([]rune(s)) {
		h = 31*h + int32(u)
	}
	return h
}

func StringToString(_ *vm.Thread, _ *object.Method, args vm.Args) (vm.Value, *object.Object) {
	return vm.Ref(args.This()), nil
}

func valueOf(typ string) vm.NativeFunc {
	return func(t *vm.Thread, _ *object.Method, args vm.Args) (vm.Value, *object.Object) {
		s, ok := stringOf(t, args, typ)
		if !ok {
			return vm.Value{}, nil
		}
		return newString(t, s)
	}
}

// stringOf renders argument word 0 of type typ. Objects are rendered by
// calling their toString method. It returns false if an exception is
// pending.
func stringOf(t *vm.Thread, args vm.Args, typ string) (string, bool) {
	switch typ {
	case "I":
		return strconv.Itoa(int(args.Int(0))), true
	case "J":
		return strconv.FormatInt(args.Long(0), 10), true
	case "D":
		return FormatDouble(args.Double(0)), true
	}
	o := args.Ref(0)
	switch {
	case o == nil:
		return "null", true
	case o.IsString():
		return o.StringValue(), true
	}
	return callToString(t, o)
}

func callToString(t *vm.Thread, o *object.Object) (string, bool) {
	m := o.Class().FindMethod("toString", "()Ljava/lang/String;")
	if m == nil {
		t.Throw(t.NewThrowable(object.ExAbstractMethod, o.Class().Descriptor+"->toString()Ljava/lang/String;"))
		return "", false
	}
	v, err := t.Runtime().Interpret(t, m, vm.Ref(o))
	if err != nil {
		// A nested exception is left pending for the caller.
		if t.Exception() == nil {
			t.ThrowError(err)
		}
		return "", false
	}
	if v.AsRef() == nil {
		return "null", true
	}
	return v.AsRef().StringValue(), true
}

// FormatDouble renders a double the way String.valueOf(double) does for
// common values: integral values keep a trailing ".0" and very large or small
// magnitudes use an "E" exponent.
func FormatDouble(d float64) string {
	switch {
	case math.IsNaN(d):
		return "NaN"
	case math.IsInf(d, 1):
		return "Infinity"
	case math.IsInf(d, -1):
		return "-Infinity"
	case d == 0:
		if math.Signbit(d) {
			return "-0.0"
		}
		return "0.0"
	}
	abs := math.Abs(d)
	if abs >= 1e-3 && abs < 1e7 {
		s := strconv.FormatFloat(d, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}
	s := strconv.FormatFloat(d, 'E', -1, 64)
	mant, exp, _ := strings.Cut(s, "E")
	if !strings.Contains(mant, ".") {
		mant += ".0"
	}
	exp = strings.TrimPrefix(exp, "+")
	if strings.HasPrefix(exp, "-") {
		exp = "-" + strings.TrimLeft(exp[1:], "0")
	} else {
		exp = strings.TrimLeft(exp, "0")
	}
	return mant + "E" + exp
}
