package lock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/mena-commerce/nbe-checkout/internal/lock"
)

func newLocker(t *testing.T) (lock.Locker, *miniredis.Miniredis) {
	t.Helper()
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client, RetryBackoff: 10 * time.Millisecond}, mini
}

func TestWithLockRunsCallback(t *testing.T) {
	locker, _ := newLocker(t)

	ran := false
	err := locker.WithLock(context.Background(), "nbe:callback:order:1", time.Second, func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
}

func TestWithLockReleasesAfterCallback(t *testing.T) {
	locker, mini := newLocker(t)

	require.NoError(t, locker.WithLock(context.Background(), "k", time.Second, func(ctx context.Context) error {
		require.True(t, mini.Exists("k"))
		return nil
	}))
	require.False(t, mini.Exists("k"))
}

func TestWithLockReleasesOnError(t *testing.T) {
	locker, mini := newLocker(t)

	wantErr := errors.New("boom")
	err := locker.WithLock(context.Background(), "k", time.Second, func(ctx context.Context) error {
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)
	require.False(t, mini.Exists("k"))
}

func TestWithLockWaitsForHolder(t *testing.T) {
	locker, mini := newLocker(t)
	mini.Set("k", "someone-else")
	go func() {
		time.Sleep(50 * time.Millisecond)
		mini.Del("k")
	}()

	start := time.Now()
	err := locker.WithLock(context.Background(), "k", time.Second, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestWithLockHonoursContextCancellation(t *testing.T) {
	locker, mini := newLocker(t)
	mini.Set("k", "someone-else")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := locker.WithLock(ctx, "k", time.Second, func(ctx context.Context) error {
		t.Fatal("callback must not run")
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
