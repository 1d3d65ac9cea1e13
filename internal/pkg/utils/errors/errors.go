// Package errors extends the standard errors package with stack traces, nested and multi errors.
// Use this package instead of "errors" and "fmt.Errorf" in the whole project.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

const stackDepth = 32

// StackTrace contains program counters of the place where the error was created.
type StackTrace []uintptr

type stackTracer interface {
	StackTrace() StackTrace
}

// withStack adds a stack trace to an error which does not have one.
type withStack struct {
	error
	trace StackTrace
}

// wrappedError replaces the message of the cause, the cause is still available via Unwrap.
type wrappedError struct {
	msg   string
	cause error
	trace StackTrace
}

func New(message string) error {
	return &withStack{error: errors.New(message), trace: callers(3)}
}

// Errorf supports the %w verb, the same as fmt.Errorf.
func Errorf(format string, a ...any) error {
	return &withStack{error: fmt.Errorf(format, a...), trace: callers(3)} // nolint: forbidigo
}

func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &withStack{error: err, trace: callers(3)}
}

// Wrap returns a new error with the message, the original error is accessible via Unwrap.
// The cause message is printed only by Format with the FormatWithUnwrap option.
func Wrap(err error, message string) error {
	return &wrappedError{msg: message, cause: err, trace: callers(3)}
}

func Wrapf(err error, format string, a ...any) error {
	return &wrappedError{msg: fmt.Sprintf(format, a...), cause: err, trace: callers(3)}
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func Unwrap(err error) error {
	return errors.Unwrap(err)
}

func (e *withStack) Unwrap() error {
	return e.error
}

func (e *withStack) StackTrace() StackTrace {
	return e.trace
}

func (e *wrappedError) Error() string {
	return e.msg
}

func (e *wrappedError) Unwrap() error {
	return e.cause
}

func (e *wrappedError) StackTrace() StackTrace {
	return e.trace
}

func callers(skip int) StackTrace {
	pcs := make([]uintptr, stackDepth)
	n := runtime.Callers(skip, pcs)
	return pcs[0:n]
}
