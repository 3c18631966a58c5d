package errz

import (
	"fmt"
	"strings"
)

// StackFrame is one interpreted frame of a captured stack.
type StackFrame struct {
	Function string // "Lpkg/Class;->name(desc)ret"
	PC       int
	Line     int // 0 when the method has no line table
	Native   bool
}

// String returns a formatted string representation of the stack frame.
func (f StackFrame) String() string {
	switch {
	case f.Native:
		return fmt.Sprintf("at %s (native)", f.Function)
	case f.Line > 0:
		return fmt.Sprintf("at %s (line %d)", f.Function, f.Line)
	}
	return fmt.Sprintf("at %s (@%04x)", f.Function, f.PC)
}

// FormatStackTrace formats a slice of stack frames as a human-readable string.
func FormatStackTrace(frames []StackFrame) string {
	if len(frames) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Stack trace:\n")
	for _, frame := range frames {
		b.WriteString("  ")
		b.WriteString(frame.String())
		b.WriteString("\n")
	}
	return b.String()
}
