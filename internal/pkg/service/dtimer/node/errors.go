package node

import (
	"fmt"

	"github.com/keboola/dtimer/internal/pkg/utils/errors"
)

var (
	ErrPostOnly      = errors.New("node is in the post-only mode, it has no subscriber connection")
	ErrAlreadyJoined = errors.New("node has already joined")
	ErrNotJoined     = errors.New("node has not joined")

	// ErrLeaveFromHandler is returned if Leave is called with the context of the event or error handler.
	ErrLeaveFromHandler = errors.New("node cannot leave from its own handler, call Leave from another goroutine")
)

// ConfigurationError is returned by New, if the node cannot be created.
type ConfigurationError struct {
	err error
}

// ValidationError is returned before any store call, if an argument is invalid.
type ValidationError struct {
	err error
}

// TransportError wraps a store failure.
type TransportError struct {
	operation string
	err       error
}

// ProtocolError is reported to the error handler, if a wake message or a harvested event cannot be decoded.
type ProtocolError struct {
	err error
}

func newConfigurationError(err error) ConfigurationError {
	return ConfigurationError{err: err}
}

func newValidationError(err error) ValidationError {
	return ValidationError{err: err}
}

func newTransportError(operation string, err error) TransportError {
	return TransportError{operation: operation, err: err}
}

func newProtocolError(err error) ProtocolError {
	return ProtocolError{err: err}
}

func (ConfigurationError) ErrorName() string {
	return "configurationError"
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("invalid node configuration: %s", e.err)
}

func (e ConfigurationError) Unwrap() error {
	return e.err
}

func (ValidationError) ErrorName() string {
	return "validationError"
}

func (e ValidationError) Error() string {
	return e.err.Error()
}

func (e ValidationError) Unwrap() error {
	return e.err
}

func (TransportError) ErrorName() string {
	return "transportError"
}

func (e TransportError) Operation() string {
	return e.operation
}

func (e TransportError) Error() string {
	return fmt.Sprintf(`operation "%s" failed: %s`, e.operation, e.err)
}

func (e TransportError) Unwrap() error {
	return e.err
}

func (ProtocolError) ErrorName() string {
	return "protocolError"
}

func (e ProtocolError) Error() string {
	return e.err.Error()
}

func (e ProtocolError) Unwrap() error {
	return e.err
}
