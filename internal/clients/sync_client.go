// internal/clients/sync_client.go
package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"catalogsync/internal/httpapi"
	"catalogsync/internal/runlog"
	"catalogsync/internal/syncer"
)

var (
	ErrUnauthorized = errors.New("trigger token rejected")
	ErrRateLimited  = errors.New("trigger rate limited")
)

// SyncClient talks to a running catalogsync server.
type SyncClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewSyncClient(baseURL, token string, timeout time.Duration) *SyncClient {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &SyncClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Trigger starts a cycle and waits for its result. A cycle that could not
// begin is returned as an error carrying the server's message.
func (c *SyncClient) Trigger(ctx context.Context) (*httpapi.TriggerResponse, error) {
	var out httpapi.TriggerResponse
	status, err := c.do(ctx, http.MethodPost, "/sync", &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusInternalServerError {
		return nil, fmt.Errorf("sync could not start: %s", out.Error)
	}
	return &out, nil
}

func (c *SyncClient) Status(ctx context.Context) (*syncer.Status, error) {
	var out syncer.Status
	if _, err := c.do(ctx, http.MethodGet, "/sync/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SyncClient) Runs(ctx context.Context, limit int) ([]runlog.Run, error) {
	var out struct {
		Runs []runlog.Run `json:"runs"`
	}
	path := "/sync/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if _, err := c.do(ctx, http.MethodGet, path, &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

func (c *SyncClient) do(ctx context.Context, method, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusInternalServerError:
	case http.StatusUnauthorized:
		return resp.StatusCode, ErrUnauthorized
	case http.StatusTooManyRequests:
		return resp.StatusCode, fmt.Errorf("%w: retry after %ss", ErrRateLimited, resp.Header.Get("Retry-After"))
	default:
		return resp.StatusCode, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode == http.StatusInternalServerError && method != http.MethodPost {
		return resp.StatusCode, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
