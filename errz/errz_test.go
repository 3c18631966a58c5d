package errz

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFatalError(t *testing.T) {
	err := NewFatalError(ErrUnreachable, "LMain;->run()V", 0x12, "opcode %#02x", 0x3e)
	require.Equal(t, "unreachable code: opcode 0x3e (LMain;->run()V @0012)", err.Error())
	require.True(t, err.IsFatal())

	bare := NewFatalError(ErrInternal, "", 0, "boom")
	require.Equal(t, "internal error: boom", bare.Error())
}

func TestFatalErrorCause(t *testing.T) {
	cause := errors.New("no such type")
	err := NewFatalError(ErrUnwind, "LA;->f()V", 4, "catch type unresolved").WithCause(cause)
	require.ErrorIs(t, err, cause)

	var fatal *FatalError
	require.ErrorAs(t, error(err), &fatal)
	require.Equal(t, ErrUnwind, fatal.Kind)
	require.Contains(t, err.FriendlyErrorMessage(), "caused by: no such type")
}

func TestKindStrings(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want string
	}{
		{ErrInternal, "internal error"},
		{ErrUnreachable, "unreachable code"},
		{ErrFrameLinkage, "frame linkage error"},
		{ErrUnwind, "unwind error"},
		{ErrRegisterType, "register type error"},
		{ErrStackOverflow, "stack overflow"},
		{ErrorKind(99), "error"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.kind.String())
	}
}

func TestFormatStackTrace(t *testing.T) {
	require.Equal(t, "", FormatStackTrace(nil))
	stack := []StackFrame{
		{Function: "LA;->inner()V", PC: 3, Line: 12},
		{Function: "LA;->middle()V", PC: 0x10},
		{Function: "Ljava/lang/String;->length()I", Native: true},
	}
	want := "Stack trace:\n" +
		"  at LA;->inner()V (line 12)\n" +
		"  at LA;->middle()V (@0010)\n" +
		"  at Ljava/lang/String;->length()I (native)\n"
	require.Equal(t, want, FormatStackTrace(stack))

	err := NewFatalError(ErrFrameLinkage, "LA;->inner()V", 3, "bad save area").WithStack(stack)
	require.Contains(t, err.FriendlyErrorMessage(), want)
}
