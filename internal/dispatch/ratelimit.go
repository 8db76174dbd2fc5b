package dispatch

import (
	"sync"
	"time"

	"github.com/ocentra/tabagentd/pkg/routespec"
)

// TokenBucketLimiter is a simple in-process per-caller, per-tier token
// bucket. Grounded on the teacher's constant-time, mutex-guarded
// APIKeyAuth (internal/api/middleware/apikey.go) for "small guarded map
// keyed by caller identity" shape.
type TokenBucketLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rates   map[routespec.RateLimitTier]rate
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

type rate struct {
	capacity   float64
	perSecond  float64
}

// DefaultRates covers the RateLimitTier values declared in
// RouteMetadata: standard routes get a generous budget, expensive
// (generation/embedding) routes a tighter one, and RateLimitNone has
// no entry, so Allow never limits it.
func DefaultRates() map[routespec.RateLimitTier]rate {
	return map[routespec.RateLimitTier]rate{
		routespec.RateLimitStandard:  {capacity: 60, perSecond: 1},
		routespec.RateLimitExpensive: {capacity: 10, perSecond: 0.2},
	}
}

// NewTokenBucketLimiter builds a limiter using DefaultRates.
func NewTokenBucketLimiter() *TokenBucketLimiter {
	return &TokenBucketLimiter{
		buckets: make(map[string]*bucket),
		rates:   DefaultRates(),
	}
}

// Allow consumes one token for callerKey under tier, refilling based
// on elapsed time since last use.
func (l *TokenBucketLimiter) Allow(callerKey string, tier routespec.RateLimitTier) bool {
	r, ok := l.rates[tier]
	if !ok {
		return true
	}

	key := callerKey + "|" + string(tier)
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.buckets[key]
	if !exists {
		b = &bucket{tokens: r.capacity, lastSeen: now}
		l.buckets[key] = b
	} else {
		elapsed := now.Sub(b.lastSeen).Seconds()
		b.tokens += elapsed * r.perSecond
		if b.tokens > r.capacity {
			b.tokens = r.capacity
		}
		b.lastSeen = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
