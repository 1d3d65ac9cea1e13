package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const attrErrorName = attribute.Key("error.name")

type Span interface {
	// End the span, the error is recorded if errPtr points to a non-nil error.
	End(errPtr *error, opts ...trace.SpanEndOption)
	SetAttributes(kv ...attribute.KeyValue)
}

// errorWithName is implemented by typed errors of the service, the name is added as a span attribute.
type errorWithName interface {
	ErrorName() string
}

type span struct {
	span trace.Span
}

func (s *span) SetAttributes(kv ...attribute.KeyValue) {
	s.span.SetAttributes(kv...)
}

func (s *span) End(errPtr *error, opts ...trace.SpanEndOption) {
	if errPtr != nil {
		if err := *errPtr; err != nil {
			if v, ok := err.(errorWithName); ok { // nolint: errorlint
				s.span.SetAttributes(attrErrorName.String(v.ErrorName()))
			}
			s.span.RecordError(err)
			s.span.SetStatus(codes.Error, err.Error())
		} else {
			s.span.SetStatus(codes.Ok, "")
		}
	}
	s.span.End(opts...)
}
