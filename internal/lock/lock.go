// Package lock provides the single-flight guards used by the sync scheduler:
// an in-process lock, and a Redis lock that extends single-flight across
// processes sharing one store.
package lock

import (
	"context"
	"errors"
)

// ErrHeld is returned by Lock when the holder did not release before the
// caller's context expired.
var ErrHeld = errors.New("lock held by another cycle")

// Unlock releases a held lock. It is safe to call once.
type Unlock func()

// Locker guards a critical section.
type Locker interface {
	// TryLock acquires the lock without waiting. ok is false when it is held.
	TryLock(ctx context.Context) (unlock Unlock, ok bool, err error)
	// Lock waits until the lock is acquired or ctx is done.
	Lock(ctx context.Context) (Unlock, error)
}

// Local is an in-process Locker.
type Local struct {
	sem chan struct{}
}

var _ Locker = (*Local)(nil)

// NewLocal returns an unlocked Local.
func NewLocal() *Local {
	return &Local{sem: make(chan struct{}, 1)}
}

func (l *Local) release() { <-l.sem }

func (l *Local) TryLock(context.Context) (Unlock, bool, error) {
	select {
	case l.sem <- struct{}{}:
		return l.release, true, nil
	default:
		return nil, false, nil
	}
}

func (l *Local) Lock(ctx context.Context) (Unlock, error) {
	select {
	case l.sem <- struct{}{}:
		return l.release, nil
	case <-ctx.Done():
		return nil, errors.Join(ErrHeld, ctx.Err())
	}
}

// Held reports whether the lock is currently taken.
func (l *Local) Held() bool {
	return len(l.sem) == 1
}
