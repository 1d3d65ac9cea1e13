package errors

import (
	"sync"
)

// MultiError collects multiple errors, it is safe for concurrent use.
type MultiError interface {
	Len() int
	Error() string
	Unwrap() []error
	StackTrace() StackTrace
	WrappedErrors() []error
	Append(errs ...error)
	AppendWithPrefix(err error, prefix string)
	AppendWithPrefixf(err error, format string, a ...any)
	ErrorOrNil() error
}

type multiErrorGetter interface {
	WrappedErrors() []error
}

type multiError struct {
	lock   *sync.Mutex
	errors []error
	trace  StackTrace
}

func NewMultiError() MultiError {
	return &multiError{lock: &sync.Mutex{}, trace: callers(3)}
}

func (e *multiError) Len() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return len(e.errors)
}

func (e *multiError) Error() string {
	return Format(e)
}

func (e *multiError) Unwrap() []error {
	return e.WrappedErrors()
}

func (e *multiError) StackTrace() StackTrace {
	return e.trace
}

func (e *multiError) WrappedErrors() []error {
	e.lock.Lock()
	defer e.lock.Unlock()
	out := make([]error, len(e.errors))
	copy(out, e.errors)
	return out
}

// Append errors, nil values are ignored, a nested MultiError is flattened.
func (e *multiError) Append(errs ...error) {
	for _, err := range errs {
		if err == nil {
			continue
		}
		if v, ok := err.(*multiError); ok { // nolint: errorlint
			e.Append(v.WrappedErrors()...)
			continue
		}
		e.lock.Lock()
		e.errors = append(e.errors, err)
		e.lock.Unlock()
	}
}

func (e *multiError) AppendWithPrefix(err error, prefix string) {
	e.Append(PrefixError(err, prefix))
}

func (e *multiError) AppendWithPrefixf(err error, format string, a ...any) {
	e.Append(PrefixErrorf(err, format, a...))
}

func (e *multiError) ErrorOrNil() error {
	if e.Len() == 0 {
		return nil
	}
	return e
}
