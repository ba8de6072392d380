// internal/lock/redis.go
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"catalogsync/internal/logging"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Redis is a Locker backed by a Redis key. The key expires after ttl, so a
// crashed holder cannot block other processes forever.
type Redis struct {
	client *redislock.Client
	key    string
	ttl    time.Duration
	retry  time.Duration
}

var _ Locker = (*Redis)(nil)

// NewRedis returns a Redis locker on key. ttl must outlast the longest cycle.
func NewRedis(rdb redis.Scripter, key string, ttl time.Duration) *Redis {
	return &Redis{
		client: redislock.New(rdb),
		key:    key,
		ttl:    ttl,
		retry:  250 * time.Millisecond,
	}
}

func (r *Redis) unlock(ctx context.Context, l *redislock.Lock) Unlock {
	return func() {
		// release even when the holder's context is gone
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := l.Release(rctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			logging.FromContext(ctx).Warn().Err(err).Str("key", r.key).Msg("failed to release redis lock")
		}
	}
}

func (r *Redis) TryLock(ctx context.Context) (Unlock, bool, error) {
	l, err := r.client.Obtain(ctx, r.key, r.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("obtain redis lock %s: %w", r.key, err)
	}
	return r.unlock(ctx, l), true, nil
}

func (r *Redis) Lock(ctx context.Context) (Unlock, error) {
	l, err := r.client.Obtain(ctx, r.key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(r.retry),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrHeld
	}
	if err != nil {
		return nil, fmt.Errorf("obtain redis lock %s: %w", r.key, err)
	}
	return r.unlock(ctx, l), nil
}
