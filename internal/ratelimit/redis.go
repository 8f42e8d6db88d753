package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter counts requests in fixed windows shared through Redis, so
// every replica of the API enforces the same quota.
type RedisLimiter struct {
	client redis.UniversalClient
	rules  []Rule
	prefix string
	now    func() time.Time
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter stores counters as "<prefix><key>:<window>:<window start>".
func NewRedisLimiter(client redis.UniversalClient, prefix string, rules []Rule) *RedisLimiter {
	return &RedisLimiter{client: client, rules: rules, prefix: prefix, now: time.Now}
}

// Allow increments the counter of the current window of every rule in one
// pipeline. Counters expire with their window, so Redis needs no cleanup.
// Unlike MemoryLimiter a denied request still counts.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := l.now()

	pipe := l.client.Pipeline()
	counts := make([]*redis.IntCmd, len(l.rules))
	resets := make([]time.Time, len(l.rules))
	for i, r := range l.rules {
		start := now.Truncate(r.Window)
		resets[i] = start.Add(r.Window)
		k := fmt.Sprintf("%s%s:%d:%d", l.prefix, key, int64(r.Window/time.Second), start.Unix())
		counts[i] = pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, r.Window)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("ratelimit: redis pipeline: %w", err)
	}

	res := Result{Allowed: true, Remaining: math.MaxInt}
	for i, r := range l.rules {
		count := int(counts[i].Val())
		if count > r.Limit {
			if res.Allowed || resets[i].After(res.Reset) {
				res = Result{Limit: r.Limit, Remaining: 0, Reset: resets[i]}
			}
			continue
		}
		if res.Allowed && r.Limit-count < res.Remaining {
			res.Limit = r.Limit
			res.Remaining = r.Limit - count
			res.Reset = resets[i]
		}
	}
	return res, nil
}
