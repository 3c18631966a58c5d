package object

import (
	"fmt"
	"strings"
)

// Well-known class descriptors.
const (
	DescObject    = "Ljava/lang/Object;"
	DescString    = "Ljava/lang/String;"
	DescClass     = "Ljava/lang/Class;"
	DescThrowable = "Ljava/lang/Throwable;"
)

// IsWide reports whether a value of the type descriptor occupies two
// registers.
func IsWide(typ string) bool {
	return typ == "J" || typ == "D"
}

// IsReference reports whether the type descriptor names a class or array.
func IsReference(typ string) bool {
	return strings.HasPrefix(typ, "L") || strings.HasPrefix(typ, "[")
}

// IsPrimitive reports whether typ is a primitive type descriptor other than
// void.
func IsPrimitive(typ string) bool {
	if len(typ) != 1 {
		return false
	}
	return strings.Contains("ZBCSIJFD", typ)
}

// ComponentType returns the element descriptor of an array descriptor, or ""
// if desc is not an array.
func ComponentType(desc string) string {
	if strings.HasPrefix(desc, "[") {
		return desc[1:]
	}
	return ""
}

// ClassName converts a descriptor into a dotted class name, for example
// "Ljava/lang/String;" to "java.lang.String". Other descriptors are returned
// unchanged.
func ClassName(desc string) string {
	if strings.HasPrefix(desc, "L") && strings.HasSuffix(desc, ";") {
		return strings.ReplaceAll(desc[1:len(desc)-1], "/", ".")
	}
	return desc
}

// ParseMethodDescriptor splits a method descriptor such as "(I[JLFoo;)V" into
// parameter and return type descriptors.
func ParseMethodDescriptor(desc string) ([]string, string, error) {
	if !strings.HasPrefix(desc, "(") {
		return nil, "", fmt.Errorf("method descriptor %q: missing '('", desc)
	}
	end := strings.IndexByte(desc, ')')
	if end < 0 {
		return nil, "", fmt.Errorf("method descriptor %q: missing ')'", desc)
	}
	var params []string
	rest := desc[1:end]
	for rest != "" {
		typ, n, err := nextType(rest)
		if err != nil {
			return nil, "", fmt.Errorf("method descriptor %q: %w", desc, err)
		}
		if typ == "V" {
			return nil, "", fmt.Errorf("method descriptor %q: void parameter", desc)
		}
		params = append(params, typ)
		rest = rest[n:]
	}
	ret := desc[end+1:]
	if ret == "" {
		return nil, "", fmt.Errorf("method descriptor %q: missing return type", desc)
	}
	typ, n, err := nextType(ret)
	if err != nil || n != len(ret) {
		return nil, "", fmt.Errorf("method descriptor %q: bad return type", desc)
	}
	return params, typ, nil
}

func nextType(s string) (string, int, error) {
	i := 0
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i == len(s) {
		return "", 0, fmt.Errorf("truncated type %q", s)
	}
	switch s[i] {
	case 'Z', 'B', 'C', 'S', 'I', 'J', 'F', 'D', 'V':
		if s[i] == 'V' && i > 0 {
			return "", 0, fmt.Errorf("array of void in %q", s)
		}
		return s[:i+1], i + 1, nil
	case 'L':
		end := strings.IndexByte(s[i:], ';')
		if end < 0 {
			return "", 0, fmt.Errorf("unterminated class name in %q", s)
		}
		return s[:i+end+1], i + end + 1, nil
	}
	return "", 0, fmt.Errorf("bad type character %q", s[i])
}

// ArgWords returns the number of registers the parameters of a method
// descriptor occupy, plus one for the receiver unless static is set.
func ArgWords(desc string, static bool) (int, error) {
	params, _, err := ParseMethodDescriptor(desc)
	if err != nil {
		return 0, err
	}
	n := 0
	if !static {
		n = 1
	}
	for _, p := range params {
		if IsWide(p) {
			n += 2
		} else {
			n++
		}
	}
	return n, nil
}

// Shorty returns the short form of a method descriptor: the return type
// followed by one character per parameter, with every reference type
// written as 'L'.
func Shorty(desc string) (string, error) {
	params, ret, err := ParseMethodDescriptor(desc)
	if err != nil {
		return "", err
	}
	short := func(t string) byte {
		if IsReference(t) {
			return 'L'
		}
		return t[0]
	}
	var b strings.Builder
	b.WriteByte(short(ret))
	for _, p := range params {
		b.WriteByte(short(p))
	}
	return b.String(), nil
}
