// Package telemetry wraps OpenTelemetry tracer and meter providers.
package telemetry

import (
	"go.opentelemetry.io/otel/metric"
	metricNoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	traceNoop "go.opentelemetry.io/otel/trace/noop"
)

const appName = "keboola.go.dtimer"

type Telemetry interface {
	Tracer() Tracer
	Meter() metric.Meter
}

type telemetry struct {
	tracer Tracer
	meter  metric.Meter
}

func New(tracerProvider trace.TracerProvider, meterProvider metric.MeterProvider) Telemetry {
	if tracerProvider == nil {
		tracerProvider = traceNoop.NewTracerProvider()
	}
	if meterProvider == nil {
		meterProvider = metricNoop.NewMeterProvider()
	}
	return &telemetry{
		tracer: &tracer{tracer: tracerProvider.Tracer(appName)},
		meter:  meterProvider.Meter(appName),
	}
}

// NewNop returns Telemetry which does nothing.
func NewNop() Telemetry {
	return New(nil, nil)
}

func (t *telemetry) Tracer() Tracer {
	return t.tracer
}

func (t *telemetry) Meter() metric.Meter {
	return t.meter
}
