// internal/syncer/cycle.go
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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// State is the phase the scheduler is in.
type State string

const (
	StateIdle        State = "idle"
	StateFetching    State = "fetching"
	StateReconciling State = "reconciling"
	StateApplying    State = "applying"
)

// Syncer runs fetch, reconcile and apply for one source and one store.
type Syncer struct {
	fetcher catalog.Fetcher
	store   catalog.Store
	applier *Applier
	tracer  trace.Tracer
	metrics *metrics
}

// New returns a Syncer. Options are passed to the underlying Applier.
func New(fetcher catalog.Fetcher, store catalog.Store, opts ...ApplierOption) *Syncer {
	return &Syncer{
		fetcher: fetcher,
		store:   store,
		applier: NewApplier(store, opts...),
		tracer:  otel.Tracer("catalogsync/syncer"),
		metrics: newMetrics(),
	}
}

// Preview is a computed but unapplied plan.
type Preview struct {
	Sheet   string         `json:"sheet" yaml:"sheet"`
	Plan    reconcile.Plan `json:"plan" yaml:"plan"`
	Skipped []string       `json:"skipped" yaml:"skipped"`
}

// Plan fetches the source and computes the plan without touching the store.
func (s *Syncer) Plan(ctx context.Context) (*Preview, error) {
	return s.plan(ctx, func(State) {})
}

func (s *Syncer) plan(ctx context.Context, setState func(State)) (*Preview, error) {
	setState(StateFetching)
	table, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch source: %w", err)
	}

	setState(StateReconciling)
	records, skipped := catalog.NormalizeTable(table)
	entries, err := s.store.Index(ctx)
	if err != nil {
		return nil, fmt.Errorf("load store index: %w", err)
	}

	preview := &Preview{
		Sheet:   table.Sheet,
		Plan:    reconcile.Reconcile(records, reconcile.NewIndex(entries)),
		Skipped: make([]string, 0, len(skipped)),
	}
	for _, err := range skipped {
		preview.Skipped = append(preview.Skipped, err.Error())
	}
	return preview, nil
}

// Sync runs one full cycle. It always returns a Result; a cycle that could
// not reach the apply phase carries a *catalog.GlobalSyncError in Err.
func (s *Syncer) Sync(ctx context.Context, trigger Trigger) Result {
	return s.cycle(ctx, trigger, func(State) {})
}

func (s *Syncer) cycle(ctx context.Context, trigger Trigger, setState func(State)) Result {
	res := Result{ID: uuid.New(), Trigger: trigger, StartedAt: time.Now().UTC(), Stats: NewStats()}

	ctx, span := s.tracer.Start(ctx, "syncer.cycle",
		trace.WithAttributes(
			attribute.String("cycle.id", res.ID.String()),
			attribute.String("cycle.trigger", string(trigger)),
		),
	)
	defer span.End()

	log := logging.FromContext(ctx).With().Str("cycle", res.ID.String()).Str("trigger", string(trigger)).Logger()
	ctx = logging.WithLogger(ctx, &log)
	log.Info().Msg("sync cycle started")

	var (
		preview *Preview
		err     error
	)
	if r := panics.Try(func() {
		preview, err = s.plan(ctx, setState)
		if err != nil {
			return
		}
		setState(StateApplying)
		stats := s.applier.Apply(ctx, preview.Plan)
		res.Stats.Added, res.Stats.Updated, res.Stats.Deleted = stats.Added, stats.Updated, stats.Deleted
		res.Stats.Errors = append(res.Stats.Errors, preview.Skipped...)
		res.Stats.Errors = append(res.Stats.Errors, stats.Errors...)
	}); r != nil {
		err = r.AsError()
	}
	setState(StateIdle)

	if err != nil {
		res.Err = &catalog.GlobalSyncError{Err: err}
		if preview != nil && len(res.Stats.Errors) == 0 {
			res.Stats.Errors = append(res.Stats.Errors, preview.Skipped...)
		}
		res.Stats.addError(res.Err)
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		log.Error().Err(res.Err).Msg("sync cycle failed")
	}
	res.FinishedAt = time.Now().UTC()
	s.metrics.cycle(ctx, res.Duration(), res.Status())

	if res.Err == nil {
		log.Info().
			Int("added", res.Stats.Added).
			Int("updated", res.Stats.Updated).
			Int("deleted", res.Stats.Deleted).
			Int("errors", len(res.Stats.Errors)).
			Dur("duration", res.Duration()).
			Msg("sync cycle finished")
	}
	span.SetAttributes(attribute.String("cycle.status", res.Status()))
	return res
}
