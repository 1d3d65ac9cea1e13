package node

import (
	"go.opentelemetry.io/otel/metric"

	"github.com/keboola/dtimer/internal/pkg/telemetry"
)

type metrics struct {
	posted         metric.Int64Counter
	harvested      metric.Int64Counter
	confirmed      metric.Int64Counter
	canceled       metric.Int64Counter
	harvestFailed  metric.Int64Counter
	updateDuration metric.Float64Histogram
}

func newMetrics(meter metric.Meter) *metrics {
	return &metrics{
		posted:         telemetry.Counter(meter, "dtimer.event.posted", "Posted events count.", "event"),
		harvested:      telemetry.Counter(meter, "dtimer.event.harvested", "Harvested events count.", "event"),
		confirmed:      telemetry.Counter(meter, "dtimer.event.confirmed", "Confirmed events count.", "event"),
		canceled:       telemetry.Counter(meter, "dtimer.event.canceled", "Canceled events count.", "event"),
		harvestFailed:  telemetry.Counter(meter, "dtimer.harvest.failed", "Failed harvests count.", "harvest"),
		updateDuration: telemetry.Histogram(meter, "dtimer.update.duration", "Duration of the harvest.", "ms"),
	}
}
