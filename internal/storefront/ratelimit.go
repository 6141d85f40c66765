package storefront

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"finitefield.org/edu-storefront/internal/platform/requestctx"
)

// Limiter decides whether a keyed caller may proceed.
type Limiter interface {
	Allow(key string) bool
}

// visitorLimiter gives every visitor a token bucket holding limit tokens that refills over window.
// Buckets idle for a full window are full again, so they are dropped and recreated on demand.
type visitorLimiter struct {
	limit     int
	every     rate.Limit
	window    time.Duration
	clock     func() time.Time
	mu        sync.Mutex
	visitors  map[string]*visitorBucket
	lastSweep time.Time
}

type visitorBucket struct {
	tokens   *rate.Limiter
	lastSeen time.Time
}

// NewVisitorLimiter allows bursts of limit mutations per visitor, refilled evenly across window.
// It returns nil, meaning unlimited, when limit or window is non-positive.
func NewVisitorLimiter(limit int, window time.Duration, clock func() time.Time) Limiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &visitorLimiter{
		limit:    limit,
		every:    rate.Every(window / time.Duration(limit)),
		window:   window,
		clock:    clock,
		visitors: make(map[string]*visitorBucket),
	}
}

func (l *visitorLimiter) Allow(visitor string) bool {
	visitor = strings.TrimSpace(visitor)
	if visitor == "" {
		visitor = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.window {
		l.sweepLocked(now)
	}
	bucket, ok := l.visitors[visitor]
	if !ok {
		bucket = &visitorBucket{tokens: rate.NewLimiter(l.every, l.limit)}
		l.visitors[visitor] = bucket
	}
	bucket.lastSeen = now
	return bucket.tokens.AllowN(now, 1)
}

func (l *visitorLimiter) sweepLocked(now time.Time) {
	for visitor, bucket := range l.visitors {
		if now.Sub(bucket.lastSeen) >= l.window {
			delete(l.visitors, visitor)
		}
	}
	l.lastSweep = now
}

func (l *visitorLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// throttle guards mutating routes per visitor session.
func (s *Server) throttle(next http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if !s.limiter.Allow(requestctx.Session(ctx)) {
			s.writeMessage(ctx, w, http.StatusTooManyRequests, "request.rate_limited", nil)
			return
		}
		next(w, r)
	}
}
