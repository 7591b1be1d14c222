package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rxsense/rxsense/internal/platform/auth"
)

// bucket is a token bucket for a single caller. Tokens refill continuously
// at rate per second up to burst.
type bucket struct {
	mu       sync.Mutex
	tokens   float64
	rate     float64
	burst    float64
	lastSeen time.Time
}

// take spends one token if available. When the bucket is empty it returns
// the whole seconds to wait before a token becomes available.
func (b *bucket) take(now time.Time) (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens = math.Min(b.burst, b.tokens+now.Sub(b.lastSeen).Seconds()*b.rate)
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if b.rate <= 0 {
		return false, 1
	}
	return false, int(math.Ceil((1 - b.tokens) / b.rate))
}

// limiter tracks one bucket per caller and evicts buckets that have been
// idle long enough to be full again.
type limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64
	burst   int

	lastSweep time.Time
}

const limiterSweepInterval = 5 * time.Minute

func newLimiter(rate float64, burst int) *limiter {
	return &limiter{
		buckets:   make(map[string]*bucket),
		rate:      rate,
		burst:     burst,
		lastSweep: time.Now(),
	}
}

func (l *limiter) bucketFor(key string, now time.Time) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > limiterSweepInterval {
		l.sweepLocked(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.burst), rate: l.rate, burst: float64(l.burst), lastSeen: now}
		l.buckets[key] = b
	}
	return b
}

// sweepLocked drops buckets idle long enough to have refilled completely.
// A caller returning after that is indistinguishable from a new one.
func (l *limiter) sweepLocked(now time.Time) {
	idle := limiterSweepInterval
	if l.rate > 0 {
		refill := time.Duration(float64(l.burst)/l.rate) * time.Second
		if refill > idle {
			idle = refill
		}
	}
	for key, b := range l.buckets {
		b.mu.Lock()
		stale := now.Sub(b.lastSeen) > idle
		b.mu.Unlock()
		if stale {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}

// RateLimit throttles each caller to rps requests per second with the given
// burst. Authenticated callers are keyed by user identity so one noisy
// client behind a shared NAT cannot exhaust everyone else's quota; anonymous
// requests fall back to the client IP.
func RateLimit(rps float64, burst int) echo.MiddlewareFunc {
	lim := newLimiter(rps, burst)
	limitHeader := strconv.FormatFloat(rps, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := auth.UserIDFromContext(c.Request().Context())
			if key == "" {
				key = "ip:" + c.RealIP()
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limitHeader)

			now := time.Now()
			ok, wait := lim.bucketFor(key, now).take(now)
			if !ok {
				h.Set("X-RateLimit-Remaining", "0")
				h.Set("Retry-After", strconv.Itoa(wait))
				return echo.NewHTTPError(http.StatusTooManyRequests, "request rate limit exceeded")
			}
			return next(c)
		}
	}
}
