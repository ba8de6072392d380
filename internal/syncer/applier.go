// internal/syncer/applier.go
package syncer

import (
	"context"
	"fmt"
	"time"

	"catalogsync/internal/catalog"
	"catalogsync/internal/logging"
	"catalogsync/internal/reconcile"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultConcurrency bounds concurrent inserts and updates.
const DefaultConcurrency = 8

// Applier executes reconciliation plans against a store.
type Applier struct {
	store       catalog.Store
	concurrency int
	now         func() time.Time
	tracer      trace.Tracer
	metrics     *metrics
}

// ApplierOption configures an Applier.
type ApplierOption func(*Applier)

// WithConcurrency sets the number of concurrent record writes.
func WithConcurrency(n int) ApplierOption {
	return func(a *Applier) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithClock replaces the timestamp source.
func WithClock(now func() time.Time) ApplierOption {
	return func(a *Applier) { a.now = now }
}

// NewApplier returns an Applier writing to store.
func NewApplier(store catalog.Store, opts ...ApplierOption) *Applier {
	a := &Applier{
		store:       store,
		concurrency: DefaultConcurrency,
		now:         func() time.Time { return time.Now().UTC() },
		tracer:      otel.Tracer("catalogsync/syncer"),
		metrics:     newMetrics(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type task struct {
	name string
	op   string
	run  func(ctx context.Context, syncedAt time.Time) error
}

// Apply runs the plan and reports what happened. It never fails: every
// per-record failure, including a panic in the store, becomes an entry in
// Stats.Errors and the remaining records are still applied.
func (a *Applier) Apply(ctx context.Context, plan reconcile.Plan) Stats {
	ctx, span := a.tracer.Start(ctx, "syncer.apply",
		trace.WithAttributes(
			attribute.Int("plan.add", len(plan.ToAdd)),
			attribute.Int("plan.update", len(plan.ToUpdate)),
			attribute.Int("plan.delete", len(plan.ToDelete)),
		),
	)
	defer span.End()

	stats := NewStats()
	syncedAt := a.now()

	tasks := make([]task, 0, len(plan.ToAdd)+len(plan.ToUpdate))
	for _, rec := range plan.ToAdd {
		tasks = append(tasks, task{name: rec.Name, op: "insert", run: func(ctx context.Context, at time.Time) error {
			_, err := a.store.Insert(ctx, rec, at)
			return err
		}})
	}
	for _, u := range plan.ToUpdate {
		tasks = append(tasks, task{name: u.Record.Name, op: "update", run: func(ctx context.Context, at time.Time) error {
			return a.store.Update(ctx, u.ID, u.Record, at)
		}})
	}

	// one slot per task; aggregation happens after Wait
	errs := make([]error, len(tasks))
	p := pool.New().WithMaxGoroutines(a.concurrency)
	for i, t := range tasks {
		p.Go(func() {
			var err error
			if r := panics.Try(func() { err = t.run(ctx, syncedAt) }); r != nil {
				err = r.AsError()
			}
			if err != nil {
				errs[i] = &catalog.ApplyRecordError{Name: t.name, Op: t.op, Err: err}
			}
		})
	}
	p.Wait()

	log := logging.FromContext(ctx)
	for i, t := range tasks {
		if errs[i] != nil {
			log.Warn().Err(errs[i]).Str("record", t.name).Str("op", t.op).Msg("record not applied")
			stats.addError(errs[i])
			continue
		}
		if t.op == "insert" {
			stats.Added++
		} else {
			stats.Updated++
		}
	}

	if len(plan.ToDelete) > 0 {
		n, err := a.deleteAll(ctx, plan.ToDelete)
		if err != nil {
			err = &catalog.BulkDeleteError{Count: len(plan.ToDelete), Err: err}
			log.Warn().Err(err).Int("count", len(plan.ToDelete)).Msg("stale records not deleted")
			stats.addError(err)
		} else {
			stats.Deleted = int(n)
		}
	}

	a.metrics.record(ctx, stats)
	span.SetAttributes(
		attribute.Int("stats.added", stats.Added),
		attribute.Int("stats.updated", stats.Updated),
		attribute.Int("stats.deleted", stats.Deleted),
		attribute.Int("stats.errors", len(stats.Errors)),
	)
	if len(stats.Errors) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d records failed", len(stats.Errors)))
	}
	return stats
}

func (a *Applier) deleteAll(ctx context.Context, ids []uuid.UUID) (n int64, err error) {
	if r := panics.Try(func() { n, err = a.store.DeleteMany(ctx, ids) }); r != nil {
		return 0, r.AsError()
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}
