package errors

type nestedErrorGetter interface {
	MainError() error
	WrappedErrors() []error
}

// nestedError is a main message followed by a list of sub errors, for example "invalid configuration:\n- ...".
type nestedError struct {
	main  error
	errs  []error
	trace StackTrace
}

// PrefixError returns an error formatted as "prefix: err", or as a bullet list if err is long or multi-line.
func PrefixError(err error, prefix string) error {
	return newNestedError(New(prefix), err)
}

func PrefixErrorf(err error, format string, a ...any) error {
	return newNestedError(Errorf(format, a...), err)
}

func newNestedError(main error, err error) *nestedError {
	sub := NewMultiError()
	sub.Append(err)
	return &nestedError{main: main, errs: sub.WrappedErrors(), trace: callers(4)}
}

func (e *nestedError) Error() string {
	return Format(e)
}

func (e *nestedError) Unwrap() []error {
	return append([]error{e.main}, e.errs...)
}

func (e *nestedError) StackTrace() StackTrace {
	return e.trace
}

func (e *nestedError) MainError() error {
	return e.main
}

func (e *nestedError) WrappedErrors() []error {
	return e.errs
}
