package vm

import (
	"bytes"
	"fmt"

	"github.com/deepnoodle-ai/dvm/errz"
	"github.com/deepnoodle-ai/dvm/object"
)

// ExceptionError reports a language exception that escaped Interpret. A
// nested run leaves the exception pending on the thread; the outermost run
// clears it.
type ExceptionError struct {
	Exception *object.Object
	// Class is the descriptor of the exception's class.
	Class   string
	Message string
	Stack   []errz.StackFrame
}

func (e *ExceptionError) Error() string {
	if e.Message == "" {
		return object.ClassName(e.Class)
	}
	return fmt.Sprintf("%s: %s", object.ClassName(e.Class), e.Message)
}

// FriendlyErrorMessage returns the exception followed by its backtrace and
// its chain of causes.
func (e *ExceptionError) FriendlyErrorMessage() string {
	var msg bytes.Buffer
	msg.WriteString(e.Error())
	msg.WriteString("\n")
	if len(e.Stack) > 0 {
		msg.WriteString(errz.FormatStackTrace(e.Stack))
	}
	seen := map[*object.Object]bool{e.Exception: true}
	for c := ExceptionCause(e.Exception); c != nil && !seen[c]; c = ExceptionCause(c) {
		seen[c] = true
		cause := newExceptionError(c)
		msg.WriteString("caused by: ")
		msg.WriteString(cause.Error())
		msg.WriteString("\n")
	}
	return msg.String()
}

var _ errz.FriendlyError = (*ExceptionError)(nil)

func newExceptionError(exc *object.Object) *ExceptionError {
	return &ExceptionError{
		Exception: exc,
		Class:     exc.Class().Descriptor,
		Message:   ExceptionMessage(exc),
		Stack:     backtraceFrames(exc.Backtrace()),
	}
}

func backtraceFrames(bt []object.Frame) []errz.StackFrame {
	out := make([]errz.StackFrame, 0, len(bt))
	for _, f := range bt {
		out = append(out, errz.StackFrame{
			Function: f.Method.String(),
			PC:       f.PC,
			Line:     f.Line(),
			Native:   f.Method.IsNative(),
		})
	}
	return out
}

// throwableField returns the java.lang.Throwable field with the given name
// and type, or nil if the class has no such field.
func throwableField(c *object.Class, name, typ string) *object.Field {
	for k := c; k != nil; k = k.Super {
		if k.Descriptor != object.DescThrowable {
			continue
		}
		for _, f := range k.Fields {
			if f.Name == name && f.Type == typ && !f.IsStatic() {
				return f
			}
		}
	}
	return nil
}

// ExceptionMessage returns the detail message of a throwable, or "".
func ExceptionMessage(exc *object.Object) string {
	if exc == nil {
		return ""
	}
	f := throwableField(exc.Class(), fieldDetailMessage, object.DescString)
	if f == nil {
		return ""
	}
	if s := exc.Fields().Ref(f.Slot); s != nil {
		return s.StringValue()
	}
	return ""
}

// ExceptionCause returns the cause of a throwable, or nil.
func ExceptionCause(exc *object.Object) *object.Object {
	if exc == nil {
		return nil
	}
	f := throwableField(exc.Class(), fieldCause, object.DescThrowable)
	if f == nil {
		return nil
	}
	return exc.Fields().Ref(f.Slot)
}

// setCause records cause as the cause of exc.
func setCause(exc, cause *object.Object) {
	if f := throwableField(exc.Class(), fieldCause, object.DescThrowable); f != nil {
		exc.Fields().SetRef(f.Slot, cause)
	}
}

// newThrowable allocates an exception of class desc without running its
// constructor. The object and its message come from the resolver's heap so
// that a full program heap can still raise OutOfMemoryError. Any failure is
// fatal: the engine cannot report it as an exception.
func (rt *Runtime) newThrowable(t *Thread, desc, msg string, bt []object.Frame) (*object.Object, error) {
	c, err := rt.resolver.Lookup(desc)
	if err != nil {
		return nil, errz.NewFatalError(errz.ErrUnwind, "", 0, "cannot load exception class %s", desc).WithCause(err)
	}
	exc, err := rt.sysHeap.AllocObject(c)
	if err != nil {
		return nil, errz.NewFatalError(errz.ErrUnwind, "", 0, "cannot allocate %s", object.ClassName(desc)).WithCause(err)
	}
	if msg != "" {
		s, err := rt.resolver.NewString(msg)
		if err != nil {
			return nil, errz.NewFatalError(errz.ErrUnwind, "", 0, "cannot allocate message of %s", object.ClassName(desc)).WithCause(err)
		}
		if f := throwableField(c, fieldDetailMessage, object.DescString); f != nil {
			exc.Fields().SetRef(f.Slot, s)
		}
	}
	exc.SetBacktrace(bt)
	t.log.Debug().Str("exception", object.ClassName(desc)).Str("message", msg).Msg("exception created")
	return exc, nil
}

// isError reports whether exc is a java.lang.Error.
func (rt *Runtime) isError(exc *object.Object) bool {
	c, err := rt.resolver.Lookup(object.ExError)
	return err == nil && exc.Class().IsSubclassOf(c)
}

// captureBacktrace records the thread's frames from the innermost outward.
// Each frame's pc is its saved pc.
func (t *Thread) captureBacktrace() []object.Frame {
	s := t.st
	out := make([]object.Frame, 0, s.depth)
	for d := s.depth - 1; d >= 0; d-- {
		sa := &s.saves[d]
		if sa.Method == nil {
			continue
		}
		out = append(out, object.Frame{Method: sa.Method, PC: sa.SavedPC})
	}
	return out
}
