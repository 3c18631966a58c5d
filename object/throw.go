package object

import (
	"errors"
	"fmt"
)

// Descriptors of the exception classes raised by the engine and its
// collaborators.
const (
	ExArithmetic              = "Ljava/lang/ArithmeticException;"
	ExArrayIndexOutOfBounds   = "Ljava/lang/ArrayIndexOutOfBoundsException;"
	ExArrayStore              = "Ljava/lang/ArrayStoreException;"
	ExClassCast               = "Ljava/lang/ClassCastException;"
	ExIllegalMonitorState     = "Ljava/lang/IllegalMonitorStateException;"
	ExNegativeArraySize       = "Ljava/lang/NegativeArraySizeException;"
	ExNullPointer             = "Ljava/lang/NullPointerException;"
	ExRuntime                 = "Ljava/lang/RuntimeException;"
	ExException               = "Ljava/lang/Exception;"
	ExError                   = "Ljava/lang/Error;"
	ExAbstractMethod          = "Ljava/lang/AbstractMethodError;"
	ExIncompatibleClassChange = "Ljava/lang/IncompatibleClassChangeError;"
	ExInstantiation           = "Ljava/lang/InstantiationError;"
	ExInternal                = "Ljava/lang/InternalError;"
	ExNoClassDefFound         = "Ljava/lang/NoClassDefFoundError;"
	ExNoSuchField             = "Ljava/lang/NoSuchFieldError;"
	ExNoSuchMethod            = "Ljava/lang/NoSuchMethodError;"
	ExOutOfMemory             = "Ljava/lang/OutOfMemoryError;"
	ExStackOverflow           = "Ljava/lang/StackOverflowError;"
	ExUnsatisfiedLink         = "Ljava/lang/UnsatisfiedLinkError;"
	ExVerify                  = "Ljava/lang/VerifyError;"
	ExExceptionInInitializer  = "Ljava/lang/ExceptionInInitializerError;"
)

// ThrowError asks the interpreter to raise a language exception. It is how
// the linker, the heap and natives report failures such as a missing class
// or an exhausted heap.
type ThrowError struct {
	// Class is the descriptor of the exception class to raise.
	Class   string
	Message string
}

func (e *ThrowError) Error() string {
	if e.Message == "" {
		return ClassName(e.Class)
	}
	return fmt.Sprintf("%s: %s", ClassName(e.Class), e.Message)
}

// Throwf returns a ThrowError for the exception class with a formatted
// message.
func Throwf(class, format string, args ...any) *ThrowError {
	return &ThrowError{Class: class, Message: fmt.Sprintf(format, args...)}
}

// AsThrow reports whether err is or wraps a ThrowError.
func AsThrow(err error) (*ThrowError, bool) {
	var te *ThrowError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
