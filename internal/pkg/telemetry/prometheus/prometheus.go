// Package prometheus exposes OpenTelemetry metrics in the Prometheus format via an HTTP endpoint.
package prometheus

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelPrometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"

	"github.com/keboola/dtimer/internal/pkg/log"
	"github.com/keboola/dtimer/internal/pkg/service/common/servicectx"
	"github.com/keboola/dtimer/internal/pkg/utils/errors"
)

const (
	Endpoint          = "metrics"
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 30 * time.Second
)

type Config struct {
	Listen string `configKey:"listen" configUsage:"Prometheus scraping metrics listen address, empty value disables the endpoint." validate:"omitempty,hostname_port"`
}

func NewConfig() Config {
	return Config{
		Listen: "0.0.0.0:9000",
	}
}

// ServeMetrics starts the HTTP server with the metrics endpoint and returns the MeterProvider.
// The server is stopped on the process shutdown.
func ServeMetrics(ctx context.Context, serviceName string, cfg Config, logger log.Logger, proc *servicectx.Process) (*metric.MeterProvider, error) {
	logger = logger.WithComponent("metrics")
	logger.Infof(ctx, "starting Prometheus metrics HTTP server on %q", cfg.Listen)

	// Create registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())

	// Create exporter
	exporter, err := otelPrometheus.New(
		otelPrometheus.WithRegisterer(registry),
		otelPrometheus.WithoutScopeInfo(),
		otelPrometheus.WithNamespace(serviceName),
	)
	if err != nil {
		return nil, errors.PrefixError(err, "cannot start Prometheus exporter")
	}

	// Bind the port before the goroutine starts, so an error is returned directly
	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, errors.PrefixErrorf(err, `cannot listen on "%s"`, cfg.Listen)
	}

	handler := http.NewServeMux()
	handler.Handle("/"+Endpoint, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: readHeaderTimeout}

	proc.Add(func(ctx context.Context, errCh chan<- error) {
		serverErrCh := make(chan error, 1)
		go func() {
			logger.Infof(ctx, "metrics HTTP server listening on %q/%s", listener.Addr().String(), Endpoint)
			serverErrCh <- srv.Serve(listener)
		}()

		select {
		case <-ctx.Done():
		case err := <-serverErrCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			return
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		logger.Infof(shutdownCtx, "shutting down metrics HTTP server at %q", cfg.Listen)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf(shutdownCtx, `metrics HTTP server shutdown error: %s`, err)
		}
		logger.Info(shutdownCtx, "metrics HTTP server shutdown finished")
	})

	return metric.NewMeterProvider(metric.WithReader(exporter)), nil
}
