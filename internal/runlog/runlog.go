// internal/runlog/runlog.go
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"catalogsync/internal/store"
	"catalogsync/internal/syncer"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrRunExists   = errors.New("run already recorded")
	ErrRunNotFound = errors.New("run not found")
)

// DefaultLimit caps Recent when no limit is given.
const DefaultLimit = 20

// Run is one recorded sync cycle.
type Run struct {
	ID         uuid.UUID `json:"id" yaml:"id"`
	Trigger    string    `json:"trigger" yaml:"trigger"`
	Status     string    `json:"status" yaml:"status"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	Added      int       `json:"added" yaml:"added"`
	Updated    int       `json:"updated" yaml:"updated"`
	Deleted    int       `json:"deleted" yaml:"deleted"`
	Errors     []string  `json:"errors" yaml:"errors"`
}

// FromResult converts a finished cycle into a Run.
func FromResult(res syncer.Result) Run {
	errs := res.Stats.Errors
	if errs == nil {
		errs = []string{}
	}
	return Run{
		ID:         res.ID,
		Trigger:    string(res.Trigger),
		Status:     res.Status(),
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Added:      res.Stats.Added,
		Updated:    res.Stats.Updated,
		Deleted:    res.Stats.Deleted,
		Errors:     errs,
	}
}

// Journal is an append-only log of sync runs in the sync_runs table.
type Journal struct {
	db      *sql.DB
	dialect store.Dialect
	tracer  trace.Tracer
}

// NewJournal returns a journal over db.
func NewJournal(db *sql.DB, dialect store.Dialect) *Journal {
	return &Journal{
		db:      db,
		dialect: dialect,
		tracer:  otel.Tracer("catalogsync/runlog"),
	}
}

// Migrate creates the sync_runs table.
func (j *Journal) Migrate(ctx context.Context) error {
	ctx, span := j.tracer.Start(ctx, "runlog.migrate")
	defer span.End()

	stmts := []string{`
		CREATE TABLE IF NOT EXISTS sync_runs (
			id          TEXT PRIMARY KEY,
			trigger_src TEXT NOT NULL,
			status      TEXT NOT NULL,
			started_at  TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL,
			added       INTEGER NOT NULL,
			updated     INTEGER NOT NULL,
			deleted     INTEGER NOT NULL,
			errors      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS sync_runs_started_at_idx ON sync_runs (started_at)`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sync_runs: %w", err)
		}
	}
	return nil
}

// Append records a run. Recording the same run twice fails with ErrRunExists.
func (j *Journal) Append(ctx context.Context, run Run) error {
	ctx, span := j.tracer.Start(ctx, "runlog.append",
		trace.WithAttributes(
			attribute.String("run.id", run.ID.String()),
			attribute.String("run.status", run.Status),
		),
	)
	defer span.End()

	errsJSON, err := json.Marshal(run.Errors)
	if err != nil {
		return fmt.Errorf("marshal run errors: %w", err)
	}

	_, err = j.db.ExecContext(ctx, store.Rebind(j.dialect, `
		INSERT INTO sync_runs (id, trigger_src, status, started_at, finished_at, added, updated, deleted, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), run.ID, run.Trigger, run.Status, run.StartedAt.UTC(), run.FinishedAt.UTC(),
		run.Added, run.Updated, run.Deleted, string(errsJSON))
	if err != nil {
		if duplicate(err) {
			span.SetAttributes(attribute.Bool("conflict.detected", true))
			return ErrRunExists
		}
		span.RecordError(err)
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	ctx, span := j.tracer.Start(ctx, "runlog.recent",
		trace.WithAttributes(attribute.Int("limit", limit)),
	)
	defer span.End()

	rows, err := j.db.QueryContext(ctx, store.Rebind(j.dialect, `
		SELECT id, trigger_src, status, started_at, finished_at, added, updated, deleted, errors
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	span.SetAttributes(attribute.Int("runs.loaded", len(runs)))
	return runs, nil
}

// Get loads one run.
func (j *Journal) Get(ctx context.Context, id uuid.UUID) (*Run, error) {
	ctx, span := j.tracer.Start(ctx, "runlog.get")
	defer span.End()

	row := j.db.QueryRowContext(ctx, store.Rebind(j.dialect, `
		SELECT id, trigger_src, status, started_at, finished_at, added, updated, deleted, errors
		FROM sync_runs
		WHERE id = ?
	`), id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run      Run
		errsJSON string
	)
	err := row.Scan(&run.ID, &run.Trigger, &run.Status, &run.StartedAt, &run.FinishedAt,
		&run.Added, &run.Updated, &run.Deleted, &errsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, err
		}
		return run, fmt.Errorf("scan run: %w", err)
	}
	if err := json.Unmarshal([]byte(errsJSON), &run.Errors); err != nil {
		return run, fmt.Errorf("decode run errors: %w", err)
	}
	if run.Errors == nil {
		run.Errors = []string{}
	}
	return run, nil
}

func duplicate(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		code := sqErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			code == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

// Hook returns a scheduler hook that records every finished cycle.
func Hook(j *Journal) syncer.ResultHook {
	return func(ctx context.Context, res syncer.Result) error {
		return j.Append(ctx, FromResult(res))
	}
}
