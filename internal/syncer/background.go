// internal/syncer/background.go
package syncer

import (
	"context"
	"fmt"
	"time"

	"catalogsync/internal/logging"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// BackgroundError is a failed best-effort task.
type BackgroundError struct {
	Task string
	Err  error
}

func (e *BackgroundError) Error() string {
	return fmt.Sprintf("background %s: %v", e.Task, e.Err)
}

func (e *BackgroundError) Unwrap() error { return e.Err }

// Background runs best-effort side work detached from the cycle that
// spawned it. Failures are reported on Errors and never reach Stats.
type Background struct {
	wg      conc.WaitGroup
	errs    chan error
	timeout time.Duration
}

// NewBackground returns a runner whose error channel buffers up to size
// failures. When the buffer is full further failures are only logged.
func NewBackground(size int, timeout time.Duration) *Background {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Background{errs: make(chan error, size), timeout: timeout}
}

// Go starts fn. ctx supplies values only; cancellation of ctx does not stop fn.
func (b *Background) Go(ctx context.Context, name string, fn func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	b.wg.Go(func() {
		ctx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()

		var err error
		if r := panics.Try(func() { err = fn(ctx) }); r != nil {
			err = r.AsError()
		}
		if err == nil {
			return
		}
		err = &BackgroundError{Task: name, Err: err}
		logging.FromContext(ctx).Warn().Err(err).Msg("background task failed")
		select {
		case b.errs <- err:
		default:
		}
	})
}

// Errors delivers background failures.
func (b *Background) Errors() <-chan error {
	return b.errs
}

// Wait blocks until every started task has returned.
func (b *Background) Wait() {
	b.wg.Wait()
}
