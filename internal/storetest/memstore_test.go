package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"catalogsync/internal/catalog"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreEnforcesKeys(t *testing.T) {
	m := New()
	ctx := context.Background()
	now := time.Now()

	id, err := m.Insert(ctx, catalog.Record{Name: "Роза"}, now)
	require.NoError(t, err)
	_, err = m.Insert(ctx, catalog.Record{Name: "РОЗА"}, now)
	assert.ErrorIs(t, err, catalog.ErrDuplicateName)

	require.NoError(t, m.Update(ctx, id, catalog.Record{Name: "роза", Quantity: 3}, now))
	got, ok := m.Get(id)
	require.True(t, ok)
	assert.Equal(t, 3, got.Quantity)

	err = m.Update(ctx, uuid.New(), catalog.Record{Name: "x"}, now)
	assert.ErrorIs(t, err, catalog.ErrResourceNotFound)
}

func TestFaultsMatchByKey(t *testing.T) {
	m := New()
	m.FailOn("Tulip")
	ctx := context.Background()

	_, err := m.Insert(ctx, catalog.Record{Name: "TULIP"}, time.Now())
	assert.ErrorIs(t, err, ErrInjected)
	_, err = m.Insert(ctx, catalog.Record{Name: "Lily"}, time.Now())
	assert.NoError(t, err)

	m.Reset()
	_, err = m.Insert(ctx, catalog.Record{Name: "Tulip"}, time.Now())
	assert.NoError(t, err)
}

func TestDelayFaultHonoursContext(t *testing.T) {
	m := New()
	m.Inject(Fault{Kind: FaultDelay, Op: "index", Delay: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Index(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDeleteFaultKeepsEverything(t *testing.T) {
	m := New()
	ids := m.Seed("a", "b")
	boom := errors.New("connection reset")
	m.Inject(Fault{Op: "delete", Err: boom})

	n, err := m.DeleteMany(context.Background(), ids)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, n)
	assert.Len(t, m.Entries(), 2)
	assert.Equal(t, []Call{{Op: "delete", IDs: 2}}, m.Calls())
}

func TestFeed(t *testing.T) {
	f := NewFeed([]string{"Name"}, []string{"Rose"})
	table, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Catalog", table.Sheet)

	f.Fail(errors.New("quota"))
	_, err = f.Fetch(context.Background())
	assert.EqualError(t, err, "quota")
	assert.Equal(t, 2, f.Calls())
}
