// internal/storetest/memstore.go
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"catalogsync/internal/catalog"

	"github.com/google/uuid"
)

// ErrInjected is returned by operations a Fault was registered for.
var ErrInjected = errors.New("injected fault")

// FaultKind selects how an injected fault manifests.
type FaultKind string

const (
	FaultError FaultKind = "error"
	FaultPanic FaultKind = "panic"
	FaultDelay FaultKind = "delay"
)

// Fault is one injected misbehaviour. Target is a record name for insert and
// update faults and is ignored for index and delete faults.
type Fault struct {
	Kind   FaultKind
	Op     string
	Target string
	Err    error
	Delay  time.Duration
}

// Call records one store invocation.
type Call struct {
	Op   string
	Name string
	IDs  int
}

// MemStore is a catalog.Store held in memory, with fault injection for
// exercising the sync cycle's failure paths.
type MemStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]catalog.Entry
	order   []uuid.UUID
	faults  []Fault
	calls   []Call
	now     func() time.Time
}

var _ catalog.Store = (*MemStore)(nil)

// New returns an empty store.
func New() *MemStore {
	return &MemStore{
		entries: make(map[uuid.UUID]catalog.Entry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Seed stores entries as-is, bypassing uniqueness, and returns their ids.
func (m *MemStore) Seed(names ...string) []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uuid.UUID, len(names))
	for i, name := range names {
		id := uuid.New()
		m.entries[id] = catalog.Entry{ID: id, Name: name, CreatedAt: m.now()}
		m.order = append(m.order, id)
		ids[i] = id
	}
	return ids
}

// Inject registers a fault. Faults stay active until Reset.
func (m *MemStore) Inject(f Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.Kind == "" {
		f.Kind = FaultError
	}
	if f.Err == nil {
		f.Err = ErrInjected
	}
	m.faults = append(m.faults, f)
}

// FailOn makes inserts and updates of the named record fail.
func (m *MemStore) FailOn(name string) {
	m.Inject(Fault{Op: "insert", Target: name})
	m.Inject(Fault{Op: "update", Target: name})
}

// PanicOn makes inserts and updates of the named record panic.
func (m *MemStore) PanicOn(name string) {
	m.Inject(Fault{Kind: FaultPanic, Op: "insert", Target: name})
	m.Inject(Fault{Kind: FaultPanic, Op: "update", Target: name})
}

// Reset clears every fault.
func (m *MemStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = nil
}

func (m *MemStore) trip(ctx context.Context, op, name string) error {
	m.mu.Lock()
	var hit *Fault
	for i := range m.faults {
		f := m.faults[i]
		if f.Op == op && (f.Target == "" || catalog.Key(f.Target) == catalog.Key(name)) {
			hit = &f
			break
		}
	}
	m.mu.Unlock()
	if hit == nil {
		return nil
	}

	switch hit.Kind {
	case FaultPanic:
		panic(fmt.Sprintf("storetest: %s %q", op, name))
	case FaultDelay:
		select {
		case <-time.After(hit.Delay):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		return hit.Err
	}
}

func (m *MemStore) record(c Call) {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	m.mu.Unlock()
}

// Calls returns the invocations seen so far.
func (m *MemStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

func (m *MemStore) Index(ctx context.Context) ([]catalog.IndexEntry, error) {
	m.record(Call{Op: "index"})
	if err := m.trip(ctx, "index", ""); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]catalog.IndexEntry, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, catalog.IndexEntry{ID: id, Name: m.entries[id].Name})
	}
	return out, nil
}

func (m *MemStore) Insert(ctx context.Context, rec catalog.Record, syncedAt time.Time) (uuid.UUID, error) {
	m.record(Call{Op: "insert", Name: rec.Name})
	if err := m.trip(ctx, "insert", rec.Name); err != nil {
		return uuid.Nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Record().Key() == rec.Key() {
			return uuid.Nil, catalog.ErrDuplicateName
		}
	}
	id := uuid.New()
	m.entries[id] = entry(id, rec, syncedAt, m.now())
	m.order = append(m.order, id)
	return id, nil
}

func (m *MemStore) Update(ctx context.Context, id uuid.UUID, rec catalog.Record, syncedAt time.Time) error {
	m.record(Call{Op: "update", Name: rec.Name})
	if err := m.trip(ctx, "update", rec.Name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("entry %s: %w", id, catalog.ErrResourceNotFound)
	}
	m.entries[id] = entry(id, rec, syncedAt, old.CreatedAt)
	return nil
}

// DeleteMany removes all ids or none.
func (m *MemStore) DeleteMany(ctx context.Context, ids []uuid.UUID) (int64, error) {
	m.record(Call{Op: "delete", IDs: len(ids)})
	if err := m.trip(ctx, "delete", ""); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if _, ok := m.entries[id]; ok {
			drop[id] = true
			delete(m.entries, id)
		}
	}
	kept := m.order[:0]
	for _, id := range m.order {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	m.order = kept
	return int64(len(drop)), nil
}

// Entries returns a copy of the stored entries sorted by name.
func (m *MemStore) Entries() []catalog.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]catalog.Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the entry stored under id.
func (m *MemStore) Get(id uuid.UUID) (catalog.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	return e, ok
}

func entry(id uuid.UUID, rec catalog.Record, syncedAt, createdAt time.Time) catalog.Entry {
	return catalog.Entry{
		ID:           id,
		Name:         rec.Name,
		Quantity:     rec.Quantity,
		Price:        rec.Price,
		Description:  rec.Description,
		Category:     rec.Category,
		LastSyncedAt: syncedAt,
		CreatedAt:    createdAt,
	}
}
