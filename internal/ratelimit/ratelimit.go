package ratelimit

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/apnisec/backend/internal/errors"
	"github.com/apnisec/backend/internal/logger"
)

type entry struct {
	count   int
	resetAt time.Time
}

// Limiter is a fixed-window request counter. Counters live in process
// memory only; a restart clears them. Windows are anchored to the first
// request of each window, so bursts straddling a boundary can admit up to
// twice the limit. That is accepted.
type Limiter struct {
	mu     sync.Mutex
	store  map[string]*entry
	limit  int
	window time.Duration
	now    func() time.Time
}

func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		store:  make(map[string]*entry),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Limit returns the configured per-window limit.
func (l *Limiter) Limit() int {
	return l.limit
}

// Check admits or rejects one request for key. It returns the remaining
// quota and the window reset time. A rejected request does not consume
// quota.
func (l *Limiter) Check(key string) (remaining int, resetAt time.Time, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.store[key]

	if !ok || !e.resetAt.After(now) {
		resetAt = now.Add(l.window)
		l.store[key] = &entry{count: 1, resetAt: resetAt}
		return l.limit - 1, resetAt, nil
	}

	if e.count >= l.limit {
		return 0, e.resetAt, apperrors.RateLimited()
	}

	e.count++
	return l.limit - e.count, e.resetAt, nil
}

// Middleware guards every wrapped request with the limiter, keyed by the
// caller's forwarded address, and stamps rate-limit telemetry headers on
// both admitted and rejected responses.
func Middleware(l *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ClientKey(r)
			remaining, resetAt, err := l.Check(key)

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", l.limit))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))

			if err != nil {
				logger.Warn(r.Context(), "rate limit exceeded", map[string]interface{}{
					"key":  key,
					"path": r.URL.Path,
				})
				apperrors.WriteError(w, apperrors.GetRequestID(r.Context()), err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientKey derives the rate-limit key from the caller's forwarded address,
// falling back to "anonymous" when nothing identifies the caller.
func ClientKey(r *http.Request) string {
	if ip := logger.ClientIP(r); ip != "" {
		return ip
	}
	return "anonymous"
}
