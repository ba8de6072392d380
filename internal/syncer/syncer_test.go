package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"catalogsync/internal/catalog"
	"catalogsync/internal/reconcile"
	"catalogsync/internal/storetest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var header = []string{"Name", "Quantity", "Price", "Description", "Category"}

func feedOf(rows ...[]string) *storetest.Feed {
	return storetest.NewFeed(append([][]string{header}, rows...)...)
}

func TestSyncTulipScenario(t *testing.T) {
	store := storetest.New()
	ids := store.Seed("tulip", "Lily")
	s := New(feedOf([]string{"Tulip", "5", "200"}), store)

	res := s.Sync(context.Background(), TriggerCLI)

	require.NoError(t, res.Err)
	assert.Equal(t, Stats{Added: 0, Updated: 1, Deleted: 1, Errors: []string{}}, res.Stats)
	assert.Equal(t, StatusSuccess, res.Status())

	tulip, ok := store.Get(ids[0])
	require.True(t, ok)
	assert.Equal(t, "Tulip", tulip.Name)
	assert.Equal(t, 5, tulip.Quantity)
	assert.True(t, decimal.NewFromInt(200).Equal(tulip.Price))
	_, ok = store.Get(ids[1])
	assert.False(t, ok)
}

func tenRecords() [][]string {
	rows := make([][]string, 10)
	for i := range rows {
		rows[i] = []string{fmt.Sprintf("item-%d", i+1), "1", "10"}
	}
	return rows
}

func TestSyncIsolatesRecordFailures(t *testing.T) {
	store := storetest.New()
	store.FailOn("item-3")
	s := New(feedOf(tenRecords()...), store, WithConcurrency(3))

	res := s.Sync(context.Background(), TriggerCLI)

	require.NoError(t, res.Err)
	assert.Equal(t, 9, res.Stats.Added)
	assert.Equal(t, []string{"Failed to process item-3: injected fault"}, res.Stats.Errors)
	assert.Len(t, store.Entries(), 9)
	assert.Equal(t, StatusPartial, res.Status())
}

func TestSyncRecoversStorePanics(t *testing.T) {
	store := storetest.New()
	store.PanicOn("item-3")
	s := New(feedOf(tenRecords()...), store)

	res := s.Sync(context.Background(), TriggerCLI)

	require.NoError(t, res.Err)
	assert.Equal(t, 9, res.Stats.Added)
	require.Len(t, res.Stats.Errors, 1)
	assert.Contains(t, res.Stats.Errors[0], "Failed to process item-3: ")
}

func TestSyncErrorsKeepPlanOrder(t *testing.T) {
	store := storetest.New()
	store.Seed("item-1")
	store.FailOn("item-1")
	store.FailOn("item-7")
	store.FailOn("item-2")
	s := New(feedOf(tenRecords()...), store, WithConcurrency(10))

	res := s.Sync(context.Background(), TriggerCLI)

	// adds come before updates
	assert.Equal(t, []string{
		"Failed to process item-2: injected fault",
		"Failed to process item-7: injected fault",
		"Failed to process item-1: injected fault",
	}, res.Stats.Errors)
}

func TestSyncFetchFailureIsGlobal(t *testing.T) {
	store := storetest.New()
	store.Seed("Rose")
	feed := feedOf()
	feed.Fail(&catalog.FetchError{Kind: catalog.FetchNetwork, Err: errors.New("connection refused")})
	s := New(feed, store)

	res := s.Sync(context.Background(), TriggerCLI)

	require.Error(t, res.Err)
	var global *catalog.GlobalSyncError
	require.ErrorAs(t, res.Err, &global)
	var fetchErr *catalog.FetchError
	require.ErrorAs(t, res.Err, &fetchErr)
	assert.Equal(t, catalog.FetchNetwork, fetchErr.Kind)

	assert.Zero(t, res.Stats.Added+res.Stats.Updated+res.Stats.Deleted)
	require.Len(t, res.Stats.Errors, 1)
	assert.Contains(t, res.Stats.Errors[0], "Global sync error: ")
	assert.Equal(t, StatusFailed, res.Status())
	assert.Len(t, store.Entries(), 1, "store untouched")
}

func TestSyncIsIdempotent(t *testing.T) {
	store := storetest.New()
	s := New(feedOf([]string{"Rose", "10", "150"}, []string{"Tulip", "5", "200"}, []string{"rose", "3", "90"}), store)

	first := s.Sync(context.Background(), TriggerCLI)
	assert.Equal(t, Stats{Added: 2, Errors: []string{}}, first.Stats)

	second := s.Sync(context.Background(), TriggerCLI)
	assert.Equal(t, Stats{Updated: 2, Errors: []string{}}, second.Stats)

	entries := store.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "rose", entries[1].Name)
	assert.Equal(t, 3, entries[1].Quantity)
}

func TestSyncBulkDeleteIsAtomic(t *testing.T) {
	store := storetest.New()
	store.Seed("Rose", "Lily", "Iris")
	store.Inject(storetest.Fault{Op: "delete", Err: errors.New("connection reset")})
	s := New(feedOf([]string{"Rose", "1", "1"}, []string{"Daisy", "1", "1"}), store)

	res := s.Sync(context.Background(), TriggerCLI)

	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Stats.Added)
	assert.Equal(t, 1, res.Stats.Updated)
	assert.Zero(t, res.Stats.Deleted)
	assert.Equal(t, []string{"Failed to delete 2 records: connection reset"}, res.Stats.Errors)
	assert.Len(t, store.Entries(), 4)
}

func TestSyncSurfacesSkippedRows(t *testing.T) {
	store := storetest.New()
	s := New(feedOf([]string{"Rose", "1", "1"}, []string{" ", "4", "4"}, []string{"Tulip", "x", "y"}), store)

	res := s.Sync(context.Background(), TriggerCLI)

	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Stats.Added)
	assert.Equal(t, []string{"Skipped row 3: missing name"}, res.Stats.Errors)
}

func TestApplyStampsOneTimestampPerCycle(t *testing.T) {
	store := storetest.New()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewApplier(store, WithClock(func() time.Time { return at }))

	stats := a.Apply(context.Background(), reconcile.Plan{ToAdd: []catalog.Record{
		{Name: "Rose", Price: decimal.Zero},
		{Name: "Tulip", Price: decimal.Zero},
	}})

	assert.Equal(t, 2, stats.Added)
	for _, e := range store.Entries() {
		assert.Equal(t, at, e.LastSyncedAt)
	}
}

func TestApplyEmptyPlanTouchesNothing(t *testing.T) {
	store := storetest.New()
	stats := NewApplier(store).Apply(context.Background(), reconcile.Plan{})

	assert.Equal(t, NewStats(), stats)
	assert.Empty(t, store.Calls())
}

func TestStatsJSONShape(t *testing.T) {
	b, err := json.Marshal(NewStats())
	require.NoError(t, err)
	assert.JSONEq(t, `{"added":0,"updated":0,"deleted":0,"errors":[]}`, string(b))
}

func TestPlanDoesNotApply(t *testing.T) {
	store := storetest.New()
	store.Seed("Lily")
	s := New(feedOf([]string{"Rose", "1", "1"}, []string{"", "1", "1"}), store)

	preview, err := s.Plan(context.Background())
	require.NoError(t, err)

	assert.Len(t, preview.Plan.ToAdd, 1)
	assert.Len(t, preview.Plan.ToDelete, 1)
	assert.Equal(t, []string{"Skipped row 3: missing name"}, preview.Skipped)
	assert.Len(t, store.Entries(), 1)
}

func TestSchedulerRecoversAfterFailedCycle(t *testing.T) {
	store := storetest.New()
	feed := feedOf([]string{"Rose", "1", "1"})
	feed.Fail(errors.New("quota exceeded"))
	sched := NewScheduler(New(feed, store))

	res, err := sched.RunOnce(context.Background(), TriggerHTTP)
	require.NoError(t, err)
	assert.False(t, res.Success())
	assert.Equal(t, []string{"Global sync error: fetch source: quota exceeded"}, res.Stats.Errors)

	feed.Set(header, []string{"Rose", "1", "1"})
	res, err = sched.RunOnce(context.Background(), TriggerHTTP)
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, 1, res.Stats.Added)

	st := sched.Status()
	assert.Equal(t, StateIdle, st.State)
	require.NotNil(t, st.Last)
	assert.Equal(t, res.ID, st.Last.ID)
}

func TestSchedulerSingleFlight(t *testing.T) {
	store := storetest.New()
	store.Inject(storetest.Fault{Kind: storetest.FaultDelay, Op: "index", Delay: 300 * time.Millisecond})
	feed := feedOf([]string{"Rose", "1", "1"})
	sched := NewScheduler(New(feed, store))

	done := make(chan Result, 1)
	go func() {
		res, _ := sched.RunOnce(context.Background(), TriggerHTTP)
		done <- res
	}()
	require.Eventually(t, func() bool { return feed.Calls() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, sched.Status().Running)

	// a tick that finds a cycle running is skipped
	sched.tick(context.Background(), TriggerSchedule)
	assert.Equal(t, 1, feed.Calls())

	// an on-demand caller gives up when its context ends first
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := sched.RunOnce(ctx, TriggerHTTP)
	assert.ErrorIs(t, err, ErrCycleInProgress)

	first := <-done
	assert.True(t, first.Success())

	// a patient caller runs a fresh cycle after the running one
	store.Reset()
	res, err := sched.RunOnce(context.Background(), TriggerHTTP)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, res.ID)
	assert.Equal(t, 2, feed.Calls())
}

func TestSchedulerCycleTimeout(t *testing.T) {
	store := storetest.New()
	store.Inject(storetest.Fault{Kind: storetest.FaultDelay, Op: "index", Delay: 5 * time.Second})
	sched := NewScheduler(New(feedOf(), store), WithCycleTimeout(20*time.Millisecond))

	res, err := sched.RunOnce(context.Background(), TriggerCLI)

	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Equal(t, StatusFailed, res.Status())
}

func TestSchedulerRunLoop(t *testing.T) {
	store := storetest.New()
	feed := feedOf([]string{"Rose", "1", "1"})
	var hooked atomic.Int32
	sched := NewScheduler(New(feed, store),
		WithInterval(10*time.Millisecond),
		WithRunOnStart(true),
		WithResultHook("count", func(context.Context, Result) error {
			hooked.Add(1)
			return nil
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- sched.Run(ctx) }()

	require.Eventually(t, func() bool { return feed.Calls() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errc)

	assert.GreaterOrEqual(t, hooked.Load(), int32(3))
	assert.Nil(t, sched.Status().NextRun)
	assert.Len(t, store.Entries(), 1)
}

func TestSchedulerNotConfigured(t *testing.T) {
	var sched *Scheduler
	_, err := sched.RunOnce(context.Background(), TriggerHTTP)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, NewScheduler(nil).Run(context.Background()), ErrNotConfigured)
}

func TestBackgroundReportsFailures(t *testing.T) {
	bg := NewBackground(2, time.Second)
	store := storetest.New()
	sched := NewScheduler(New(feedOf(), store),
		WithBackground(bg),
		WithResultHook("history", func(context.Context, Result) error {
			return errors.New("disk full")
		}),
	)

	res, err := sched.RunOnce(context.Background(), TriggerCLI)
	require.NoError(t, err)
	bg.Wait()

	select {
	case err := <-bg.Errors():
		var bgErr *BackgroundError
		require.ErrorAs(t, err, &bgErr)
		assert.Equal(t, "history", bgErr.Task)
	default:
		t.Fatal("no background error reported")
	}
	assert.Empty(t, res.Stats.Errors)
}
