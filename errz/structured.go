// Package errz defines the errors the interpreter raises when its own
// invariants break. These are never language exceptions: they indicate
// malformed bytecode that slipped past verification or a bug in the engine.
package errz

import (
	"bytes"
	"fmt"
)

// ErrorKind represents the category of an engine-fatal error.
type ErrorKind int

const (
	// ErrInternal is an engine failure that fits no other kind.
	ErrInternal ErrorKind = iota
	// ErrUnreachable indicates an unused or unimplemented opcode was executed.
	ErrUnreachable
	// ErrFrameLinkage indicates the frame chain or save areas are corrupt.
	ErrFrameLinkage
	// ErrUnwind indicates exception delivery itself failed, for example
	// while resolving a catch type.
	ErrUnwind
	// ErrRegisterType indicates a register was read as a kind other than the
	// one last written to it. Only raised when shadow tags are enabled.
	ErrRegisterType
	// ErrStackOverflow indicates the stack overflowed while a previous
	// overflow was still being handled.
	ErrStackOverflow
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrInternal:
		return "internal error"
	case ErrUnreachable:
		return "unreachable code"
	case ErrFrameLinkage:
		return "frame linkage error"
	case ErrUnwind:
		return "unwind error"
	case ErrRegisterType:
		return "register type error"
	case ErrStackOverflow:
		return "stack overflow"
	default:
		return "error"
	}
}

// FatalError is an engine-fatal condition, located at the method and code
// unit offset where it was detected.
type FatalError struct {
	Message string
	Kind    ErrorKind
	Method  string
	PC      int
	Stack   []StackFrame
	Cause   error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("%s: %s", e.Kind.String(), e.Message)
	}
	return fmt.Sprintf("%s: %s (%s @%04x)", e.Kind.String(), e.Message, e.Method, e.PC)
}

// Unwrap returns the underlying cause of the error.
func (e *FatalError) Unwrap() error {
	return e.Cause
}

// IsFatal reports that the error cannot be recovered from.
func (e *FatalError) IsFatal() bool {
	return true
}

// FriendlyErrorMessage returns the error followed by the interpreter stack
// at the point of failure.
func (e *FatalError) FriendlyErrorMessage() string {
	var msg bytes.Buffer
	msg.WriteString(e.Error())
	msg.WriteString("\n")
	if e.Cause != nil {
		msg.WriteString(fmt.Sprintf("caused by: %v\n", e.Cause))
	}
	if len(e.Stack) > 0 {
		msg.WriteString("\n")
		msg.WriteString(FormatStackTrace(e.Stack))
	}
	return msg.String()
}

// NewFatalError creates a FatalError with a formatted message.
func NewFatalError(kind ErrorKind, method string, pc int, format string, args ...any) *FatalError {
	return &FatalError{
		Message: fmt.Sprintf(format, args...),
		Kind:    kind,
		Method:  method,
		PC:      pc,
	}
}

// WithCause wraps the error with a cause.
func (e *FatalError) WithCause(cause error) *FatalError {
	e.Cause = cause
	return e
}

// WithStack attaches the interpreter stack, innermost frame first.
func (e *FatalError) WithStack(stack []StackFrame) *FatalError {
	e.Stack = stack
	return e
}

// FriendlyError is implemented by errors that carry a human friendly message
// in addition to the default error message.
type FriendlyError interface {
	Error() string
	FriendlyErrorMessage() string
}

var _ FriendlyError = (*FatalError)(nil)
