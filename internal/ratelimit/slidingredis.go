package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter counts events in a sliding window using a Redis sorted set per key.
// Each event is a set member scored by its arrival time in nanoseconds, so a
// single ZREMRANGEBYSCORE trims everything older than the window.
type Limiter struct {
	Client *redis.Client
	Prefix string
}

// Allow records one event for key and reports whether the window still has
// room. A nil client or non-positive limit disables enforcement, which keeps
// checkout reachable when rate limiting is not configured.
func (l Limiter) Allow(ctx context.Context, key string, window time.Duration, max int) (allowed bool, remaining int, reset time.Time, err error) {
	if l.Client == nil || max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}

	now := time.Now()
	windowEnd := now.Add(window)
	cutoff := strconv.FormatFloat(float64(now.Add(-window).UnixNano()), 'f', -1, 64)

	setKey := l.Prefix + key
	pipe := l.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, setKey, "-inf", cutoff)
	pipe.ZAdd(ctx, setKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.NewString(),
	})
	inWindow := pipe.ZCard(ctx, setKey)
	pipe.Expire(ctx, setKey, window)
	if _, err = pipe.Exec(ctx); err != nil {
		return false, 0, windowEnd, err
	}

	count := int(inWindow.Val())
	remaining = max - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= max, remaining, windowEnd, nil
}
