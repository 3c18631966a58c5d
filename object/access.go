package object

import (
	"fmt"
	"strings"
)

// AccessFlags are the access and property flags of classes, methods and
// fields. Values match the Dalvik executable format.
type AccessFlags uint32

const (
	AccPublic       AccessFlags = 0x1
	AccPrivate      AccessFlags = 0x2
	AccProtected    AccessFlags = 0x4
	AccStatic       AccessFlags = 0x8
	AccFinal        AccessFlags = 0x10
	AccSynchronized AccessFlags = 0x20
	AccVolatile     AccessFlags = 0x40
	AccBridge       AccessFlags = 0x40
	AccTransient    AccessFlags = 0x80
	AccVarargs      AccessFlags = 0x80
	AccNative       AccessFlags = 0x100
	AccInterface    AccessFlags = 0x200
	AccAbstract     AccessFlags = 0x400
	AccStrict       AccessFlags = 0x800
	AccSynthetic    AccessFlags = 0x1000
	AccEnum         AccessFlags = 0x4000
	AccConstructor  AccessFlags = 0x10000
)

var accessNames = []struct {
	name string
	flag AccessFlags
}{
	{"public", AccPublic},
	{"private", AccPrivate},
	{"protected", AccProtected},
	{"static", AccStatic},
	{"final", AccFinal},
	{"synchronized", AccSynchronized},
	{"volatile", AccVolatile},
	{"bridge", AccBridge},
	{"transient", AccTransient},
	{"varargs", AccVarargs},
	{"native", AccNative},
	{"interface", AccInterface},
	{"abstract", AccAbstract},
	{"strictfp", AccStrict},
	{"synthetic", AccSynthetic},
	{"enum", AccEnum},
	{"constructor", AccConstructor},
}

// ParseAccessFlags converts flag names such as "public" or "static" into
// AccessFlags.
func ParseAccessFlags(names []string) (AccessFlags, error) {
	var flags AccessFlags
outer:
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		for _, a := range accessNames {
			if a.name == n {
				flags |= a.flag
				continue outer
			}
		}
		return 0, fmt.Errorf("unknown access flag %q", n)
	}
	return flags, nil
}

// Has reports whether every flag in f2 is set.
func (f AccessFlags) Has(f2 AccessFlags) bool {
	return f&f2 == f2
}
