package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"catalogsync/internal/runlog"
	"catalogsync/internal/storetest"
	"catalogsync/internal/syncer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var header = []string{"Name", "Quantity", "Price"}

type stubRunner struct {
	res syncer.Result
	err error
}

func (s *stubRunner) RunOnce(context.Context, syncer.Trigger) (syncer.Result, error) {
	return s.res, s.err
}

func (s *stubRunner) Status() syncer.Status {
	return syncer.Status{State: syncer.StateIdle, Interval: "1m0s"}
}

type stubRuns struct {
	limit int
	runs  []runlog.Run
	err   error
}

func (s *stubRuns) Recent(_ context.Context, limit int) ([]runlog.Run, error) {
	s.limit = limit
	return s.runs, s.err
}

func do(t *testing.T, h http.Handler, method, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestTriggerRunsCycle(t *testing.T) {
	store := storetest.New()
	store.Seed("tulip", "Lily")
	feed := storetest.NewFeed(header, []string{"Tulip", "5", "200"})
	sched := syncer.NewScheduler(syncer.New(feed, store))

	h := NewHandler(sched, nil, Config{Addr: ":0"}).Routes()
	rec := do(t, h, http.MethodPost, "/sync")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, map[string]any{
		"added":   float64(0),
		"updated": float64(1),
		"deleted": float64(1),
		"errors":  []any{},
	}, body["stats"])
	ts, err := time.Parse(time.RFC3339, body["timestamp"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)
}

func TestTriggerReportsGlobalErrorAsCompletedCycle(t *testing.T) {
	feed := storetest.NewFeed()
	feed.Fail(errors.New("quota exceeded"))
	sched := syncer.NewScheduler(syncer.New(feed, storetest.New()))

	rec := do(t, NewHandler(sched, nil, Config{}).Routes(), http.MethodPost, "/sync")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	stats := body["stats"].(map[string]any)
	assert.Equal(t, []any{"Global sync error: fetch source: quota exceeded"}, stats["errors"])
}

func TestTriggerThatCannotBeginReturns500(t *testing.T) {
	runner := &stubRunner{err: syncer.ErrNotConfigured}
	rec := do(t, NewHandler(runner, nil, Config{}).Routes(), http.MethodPost, "/sync")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, syncer.ErrNotConfigured.Error(), body["error"])
	assert.NotEmpty(t, body["timestamp"])
	assert.NotContains(t, body, "stats")
}

func TestSyncRejectsOtherMethods(t *testing.T) {
	h := NewHandler(&stubRunner{}, nil, Config{}).Routes()
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		rec := do(t, h, method, "/sync")
		require.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)
		assert.Equal(t, map[string]any{"error": "Method not allowed"}, decode(t, rec))
	}
}

func TestTokenRequired(t *testing.T) {
	hash, salt, err := HashToken("s3cret")
	require.NoError(t, err)
	h := NewHandler(&stubRunner{res: syncer.Result{Stats: syncer.NewStats()}}, nil,
		Config{TokenHash: hash, TokenSalt: salt}).Routes()

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/sync").Code)
	assert.Equal(t, http.StatusUnauthorized,
		do(t, h, http.MethodPost, "/sync", "Authorization", "Bearer wrong").Code)
	assert.Equal(t, http.StatusOK,
		do(t, h, http.MethodPost, "/sync", "Authorization", "Bearer s3cret").Code)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodGet, "/healthz").Code)
}

func TestTriggerRateLimited(t *testing.T) {
	h := NewHandler(&stubRunner{res: syncer.Result{Stats: syncer.NewStats()}}, nil,
		Config{RatePerMinute: 1, Burst: 1}).Routes()

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/sync").Code)
	rec := do(t, h, http.MethodPost, "/sync")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	// status reads are not throttled
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/sync/status").Code)
}

func TestStatus(t *testing.T) {
	rec := do(t, NewHandler(&stubRunner{}, nil, Config{}).Routes(), http.MethodGet, "/sync/status")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "idle", body["state"])
	assert.Equal(t, "1m0s", body["interval"])
}

func TestRuns(t *testing.T) {
	runs := &stubRuns{runs: []runlog.Run{{Trigger: "http", Status: syncer.StatusSuccess, Errors: []string{}}}}
	h := NewHandler(&stubRunner{}, runs, Config{}).Routes()

	rec := do(t, h, http.MethodGet, "/sync/runs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, runs.limit)
	listed := decode(t, rec)["runs"].([]any)
	require.Len(t, listed, 1)
	assert.Equal(t, "success", listed[0].(map[string]any)["status"])

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/sync/runs?limit=abc").Code)

	do(t, h, http.MethodGet, "/sync/runs")
	assert.Equal(t, runlog.DefaultLimit, runs.limit)

	runs.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodGet, "/sync/runs").Code)
}

func TestRunsDisabled(t *testing.T) {
	rec := do(t, NewHandler(&stubRunner{}, nil, Config{}).Routes(), http.MethodGet, "/sync/runs")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerWriteTimeoutCoversCycle(t *testing.T) {
	h := NewHandler(&stubRunner{}, nil, Config{WaitTimeout: time.Minute})

	srv := NewServer(Config{Addr: ":0"}, h, 20*time.Minute)
	assert.Equal(t, 21*time.Minute, srv.WriteTimeout)

	srv = NewServer(Config{Addr: ":0"}, h, 0)
	assert.Equal(t, time.Minute+syncer.DefaultCycleTimeout, srv.WriteTimeout)
}

func TestVerifyToken(t *testing.T) {
	hash, salt, err := HashToken("token")
	require.NoError(t, err)

	ok, err := VerifyToken("token", salt, hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyToken("other", salt, hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = VerifyToken("token", "%%%", hash)
	assert.Error(t, err)
}
