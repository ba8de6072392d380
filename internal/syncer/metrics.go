// internal/syncer/metrics.go
package syncer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	added    metric.Int64Counter
	updated  metric.Int64Counter
	deleted  metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
}

// newMetrics registers the sync instruments on the global meter provider.
// Registration failures leave a no-op instrument in place.
func newMetrics() *metrics {
	meter := otel.Meter("catalogsync/syncer")
	m := &metrics{}
	m.added, _ = meter.Int64Counter("catalogsync.records.added",
		metric.WithDescription("Catalog records inserted"))
	m.updated, _ = meter.Int64Counter("catalogsync.records.updated",
		metric.WithDescription("Catalog records updated"))
	m.deleted, _ = meter.Int64Counter("catalogsync.records.deleted",
		metric.WithDescription("Catalog records deleted"))
	m.errors, _ = meter.Int64Counter("catalogsync.records.errors",
		metric.WithDescription("Errors reported by sync cycles"))
	m.duration, _ = meter.Float64Histogram("catalogsync.cycle.duration",
		metric.WithDescription("Sync cycle wall time"),
		metric.WithUnit("s"))
	return m
}

func (m *metrics) record(ctx context.Context, s Stats) {
	if m == nil {
		return
	}
	m.added.Add(ctx, int64(s.Added))
	m.updated.Add(ctx, int64(s.Updated))
	m.deleted.Add(ctx, int64(s.Deleted))
	m.errors.Add(ctx, int64(len(s.Errors)))
}

func (m *metrics) cycle(ctx context.Context, d time.Duration, status string) {
	if m == nil {
		return
	}
	m.duration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}
