package catalog

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"catalogwatch/internal/config"
)

// QueryLimiter throttles store lookups per retailer with a token bucket.
// The fuzzy and image strategies fan out to large candidate queries; the
// limiter keeps a wide scan from monopolising the database.
type QueryLimiter struct {
	requests int
	window   time.Duration
	enabled  bool

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewQueryLimiter creates a limiter from configuration; a zero config
// disables throttling entirely.
func NewQueryLimiter(cfg config.RateLimitConfig) *QueryLimiter {
	limiter := &QueryLimiter{}
	if cfg.Enabled() {
		limiter.enabled = true
		limiter.requests = cfg.Requests
		limiter.window = cfg.Window.Duration
		limiter.limiters = make(map[string]*rate.Limiter)
	}
	return limiter
}

// Wait blocks until the retailer's bucket permits another store lookup.
func (q *QueryLimiter) Wait(ctx context.Context, retailer string) error {
	if q == nil || !q.enabled {
		return nil
	}
	retailer = strings.ToLower(retailer)

	q.mu.Lock()
	limiter := q.ensureLimiterLocked(retailer)
	q.mu.Unlock()

	return limiter.Wait(ctx)
}

func (q *QueryLimiter) ensureLimiterLocked(retailer string) *rate.Limiter {
	limiter, ok := q.limiters[retailer]
	if ok {
		return limiter
	}
	interval := q.window / time.Duration(q.requests)
	if interval <= 0 {
		interval = time.Millisecond
	}
	burst := q.requests
	if burst <= 0 {
		burst = 1
	}
	limiter = rate.NewLimiter(rate.Every(interval), burst)
	q.limiters[retailer] = limiter
	return limiter
}
