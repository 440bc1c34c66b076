package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only while the caller still owns it, so
// a reconciliation that outlived its TTL cannot drop a lock another callback
// has since acquired.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`

// Locker serialises concurrent work on a shared key via Redis. The callback
// path locks per order id so duplicate gateway callbacks reconcile one at a
// time.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
}

// WithLock runs fn while holding the lock for key, releasing it afterwards
// regardless of fn's outcome. Acquisition retries until the context is
// cancelled.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	token := uuid.NewString()
	if err := l.acquire(ctx, key, token, ttl); err != nil {
		return err
	}
	// release with a fresh context so a cancelled reconciliation still
	// frees the lock
	defer l.release(context.Background(), key, token)
	return fn(ctx)
}

func (l Locker) acquire(ctx context.Context, key, token string, ttl time.Duration) error {
	backoff := l.RetryBackoff
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}
	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l Locker) release(ctx context.Context, key, token string) {
	_ = l.R.Eval(ctx, releaseScript, []string{key}, token).Err()
}
