// internal/store/store.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"catalogsync/internal/catalog"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect is the SQL flavour of the backing database.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// DefaultTable is the catalog table name.
const DefaultTable = "products"

// Config describes the store connection.
type Config struct {
	Driver       string `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DSN          string `mapstructure:"dsn" validate:"required"`
	Table        string `mapstructure:"table"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
}

// Open connects to the configured database and verifies it is reachable.
func Open(ctx context.Context, cfg Config) (*sql.DB, Dialect, error) {
	dialect := Dialect(cfg.Driver)
	if dialect == "" {
		dialect = Postgres
	}
	var driver string
	switch dialect {
	case Postgres:
		driver = "postgres"
	case SQLite:
		driver = "sqlite"
	default:
		return nil, "", fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", driver, err)
	}
	switch {
	case dialect == SQLite:
		// a single writer keeps SQLite free of busy errors
		db.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, dialect, nil
}

// SQLStore is a catalog.Store on Postgres or SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	table   string
	tracer  trace.Tracer
}

var _ catalog.Store = (*SQLStore)(nil)

// New returns a store over db. An empty table selects DefaultTable.
func New(db *sql.DB, dialect Dialect, table string) *SQLStore {
	if table == "" {
		table = DefaultTable
	}
	return &SQLStore{
		db:      db,
		dialect: dialect,
		table:   pq.QuoteIdentifier(table),
		tracer:  otel.Tracer("catalogsync/store"),
	}
}

func (s *SQLStore) rebind(query string) string {
	return Rebind(s.dialect, strings.ReplaceAll(query, "{table}", s.table))
}

// Rebind rewrites ? placeholders into the dialect's form.
func Rebind(d Dialect, query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", string(s.dialect)))
	return s.tracer.Start(ctx, "store."+op, trace.WithAttributes(attrs...))
}

// Migrate creates the catalog table and its unique key index.
func (s *SQLStore) Migrate(ctx context.Context) error {
	ctx, span := s.start(ctx, "migrate")
	defer span.End()

	ddl := []string{`
		CREATE TABLE IF NOT EXISTS {table} (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			name_key       TEXT NOT NULL,
			quantity       INTEGER NOT NULL DEFAULT 0,
			price          NUMERIC(12, 2) NOT NULL DEFAULT 0,
			description    TEXT NOT NULL DEFAULT '',
			category       TEXT NOT NULL DEFAULT '',
			last_synced_at TIMESTAMP NOT NULL,
			created_at     TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ` + s.indexName() + ` ON {table} (name_key)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, s.rebind(stmt)); err != nil {
			span.RecordError(err)
			return fmt.Errorf("migrate catalog table: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) indexName() string {
	return pq.QuoteIdentifier(strings.Trim(s.table, `"`) + "_name_key_idx")
}

func (s *SQLStore) Index(ctx context.Context) ([]catalog.IndexEntry, error) {
	ctx, span := s.start(ctx, "index")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, name FROM {table} ORDER BY created_at, id`))
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	defer rows.Close()

	var entries []catalog.IndexEntry
	for rows.Next() {
		var e catalog.IndexEntry
		if err := rows.Scan(&e.ID, &e.Name); err != nil {
			return nil, fmt.Errorf("scan index entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate index: %w", err)
	}
	span.SetAttributes(attribute.Int("entries", len(entries)))
	return entries, nil
}

func (s *SQLStore) Insert(ctx context.Context, rec catalog.Record, syncedAt time.Time) (uuid.UUID, error) {
	ctx, span := s.start(ctx, "insert", attribute.String("record.name", rec.Name))
	defer span.End()

	id := uuid.New()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO {table} (id, name, name_key, quantity, price, description, category, last_synced_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), id, rec.Name, rec.Key(), rec.Quantity, rec.Price, rec.Description, rec.Category, syncedAt.UTC(), syncedAt.UTC())
	if err != nil {
		span.RecordError(err)
		return uuid.Nil, fmt.Errorf("insert %q: %w", rec.Name, mapError(err))
	}
	return id, nil
}

func (s *SQLStore) Update(ctx context.Context, id uuid.UUID, rec catalog.Record, syncedAt time.Time) error {
	ctx, span := s.start(ctx, "update",
		attribute.String("record.id", id.String()),
		attribute.String("record.name", rec.Name),
	)
	defer span.End()

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE {table}
		SET name = ?, name_key = ?, quantity = ?, price = ?, description = ?, category = ?, last_synced_at = ?
		WHERE id = ?
	`), rec.Name, rec.Key(), rec.Quantity, rec.Price, rec.Description, rec.Category, syncedAt.UTC(), id)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("update %q: %w", rec.Name, mapError(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update %s: %w", id, catalog.ErrResourceNotFound)
	}
	return nil
}

// DeleteMany removes every id in one statement inside a transaction, so the
// delete applies to all ids or to none.
func (s *SQLStore) DeleteMany(ctx context.Context, ids []uuid.UUID) (int64, error) {
	ctx, span := s.start(ctx, "delete_many", attribute.Int("ids", len(ids)))
	defer span.End()
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var res sql.Result
	if s.dialect == Postgres {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = id.String()
		}
		res, err = tx.ExecContext(ctx, s.rebind(`DELETE FROM {table} WHERE id = ANY(?)`), pq.Array(keys))
	} else {
		args := make([]any, len(ids))
		for i, id := range ids {
			args[i] = id
		}
		marks := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		res, err = tx.ExecContext(ctx, s.rebind(`DELETE FROM {table} WHERE id IN (`+marks+`)`), args...)
	}
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("delete %d records: %w", len(ids), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted rows: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	span.SetAttributes(attribute.Int64("deleted", n))
	return n, nil
}

// List returns every stored entry ordered by name key.
func (s *SQLStore) List(ctx context.Context) ([]catalog.Entry, error) {
	ctx, span := s.start(ctx, "list")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, name, quantity, price, description, category, last_synced_at, created_at
		FROM {table}
		ORDER BY name_key
	`))
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []catalog.Entry
	for rows.Next() {
		var e catalog.Entry
		if err := rows.Scan(&e.ID, &e.Name, &e.Quantity, &e.Price, &e.Description, &e.Category, &e.LastSyncedAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// mapError translates unique violations into catalog.ErrDuplicateName.
func mapError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", catalog.ErrDuplicateName, pqErr.Message)
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		code := sqErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			(code == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqErr.Error(), "UNIQUE")) {
			return fmt.Errorf("%w: %s", catalog.ErrDuplicateName, sqErr.Error())
		}
	}
	return err
}
