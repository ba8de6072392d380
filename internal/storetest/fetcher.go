// internal/storetest/fetcher.go
package storetest

import (
	"context"
	"sync"

	"catalogsync/internal/catalog"
)

// Feed is a catalog.Fetcher serving canned sheet values.
type Feed struct {
	mu     sync.Mutex
	values [][]string
	err    error
	calls  int
}

var _ catalog.Fetcher = (*Feed)(nil)

// NewFeed returns a feed whose first row is the header.
func NewFeed(values ...[]string) *Feed {
	return &Feed{values: values}
}

// Set replaces the served values and clears any error.
func (f *Feed) Set(values ...[]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values, f.err = values, nil
}

// Fail makes every Fetch return err until Set is called.
func (f *Feed) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls is the number of Fetch invocations.
func (f *Feed) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Feed) Fetch(ctx context.Context) (*catalog.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return catalog.NewTable("Catalog", f.values), nil
}
