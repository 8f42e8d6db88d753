package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter keeps one token bucket per rule per key in process memory.
// A rule "N/window" is a bucket of N tokens refilled at N per window.
//
// HOW THE BUCKETS COMBINE:
// With "3/minute;30/hour;300/day" every client IP owns three buckets. A
// request is allowed only if all three hold a token, and then it takes one
// from each. The reported limit and remaining count come from whichever
// bucket is closest to empty, since that is the one the client will hit
// first.
//
// Token buckets refill continuously instead of resetting at window
// boundaries, so a client cannot burst 2N requests across the edge of a
// window the way it can with fixed windows (see RedisLimiter).
//
// Two locks: mu guards the key map and is held only to find or create a
// bucketSet; each bucketSet has its own lock, so clients do not contend
// with each other while their buckets are checked.
type MemoryLimiter struct {
	rules []Rule
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucketSet
	idleAfter time.Duration
	lastSweep time.Time
}

// bucketSet is one client's buckets, in the same order as the rules.
type bucketSet struct {
	mu       sync.Mutex
	limiters []*rate.Limiter
	lastSeen time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter builds a limiter for rules. Keys idle for the longest
// rule window are forgotten, since by then all their buckets are full again.
func NewMemoryLimiter(rules []Rule) *MemoryLimiter {
	var longest time.Duration
	for _, r := range rules {
		longest = max(longest, r.Window)
	}
	return &MemoryLimiter{
		rules:     rules,
		now:       time.Now,
		buckets:   make(map[string]*bucketSet),
		idleAfter: longest,
	}
}

// Allow never returns an error; the signature is shared with RedisLimiter.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := m.now()
	set := m.bucketsFor(key, now)

	set.mu.Lock()
	defer set.mu.Unlock()
	set.lastSeen = now

	// Check every bucket before taking from any so a denial costs nothing.
	res := Result{Allowed: true, Remaining: math.MaxInt}
	for i, lim := range set.limiters {
		tokens := lim.TokensAt(now)
		if tokens >= 1 {
			continue
		}
		reset := now.Add(refillDelay(lim, tokens))
		if res.Allowed || reset.After(res.Reset) {
			res = Result{Limit: m.rules[i].Limit, Remaining: 0, Reset: reset}
		}
	}
	if !res.Allowed {
		return res, nil
	}

	for i, lim := range set.limiters {
		lim.AllowN(now, 1)
		tokens := lim.TokensAt(now)
		if left := int(math.Floor(tokens)); left < res.Remaining {
			res.Limit = m.rules[i].Limit
			res.Remaining = left
			res.Reset = now.Add(refillDelay(lim, tokens))
		}
	}
	return res, nil
}

// refillDelay is how long lim needs to hold one whole token again.
func refillDelay(lim *rate.Limiter, tokens float64) time.Duration {
	missing := 1 - (tokens - math.Floor(tokens))
	return time.Duration(missing / float64(lim.Limit()) * float64(time.Second))
}

func (m *MemoryLimiter) bucketsFor(key string, now time.Time) *bucketSet {
	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.lastSweep) >= time.Minute {
		m.sweep(now)
	}

	set, ok := m.buckets[key]
	if !ok {
		set = &bucketSet{limiters: make([]*rate.Limiter, len(m.rules)), lastSeen: now}
		for i, r := range m.rules {
			every := rate.Every(r.Window / time.Duration(r.Limit))
			set.limiters[i] = rate.NewLimiter(every, r.Limit)
		}
		m.buckets[key] = set
	}
	return set
}

// sweep forgets keys idle long enough for all their buckets to be full.
// Caller holds m.mu.
func (m *MemoryLimiter) sweep(now time.Time) {
	m.lastSweep = now
	for key, set := range m.buckets {
		set.mu.Lock()
		idle := now.Sub(set.lastSeen) >= m.idleAfter
		set.mu.Unlock()
		if idle {
			delete(m.buckets, key)
		}
	}
}

// Len reports how many keys are tracked.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}
