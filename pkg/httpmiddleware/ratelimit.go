package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Decision is the outcome of counting one request.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key over a sliding window. MemoryLimiter keeps
// counts in the process; RedisLimiter shares them between replicas.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window.
	Max    int
	Window time.Duration
	// KeyFunc extracts the key a request is counted under. Defaults to the
	// client IP.
	KeyFunc func(*http.Request) string
	// Limiter defaults to a MemoryLimiter built from Max and Window.
	Limiter Limiter
}

// slidingCount weighs the previous window by its overlap with the sliding
// window ending now. elapsed is the time since the current window started.
func slidingCount(prev, curr float64, elapsed, window time.Duration) float64 {
	overlap := 1 - elapsed.Seconds()/window.Seconds()
	if overlap < 0 {
		overlap = 0
	}
	return prev*overlap + curr
}

func decide(limit int, count float64, resetAt time.Time) Decision {
	if count >= float64(limit) {
		return Decision{ResetAt: resetAt}
	}
	return Decision{
		Allowed:   true,
		Remaining: max(limit-int(math.Ceil(count+1)), 0),
		ResetAt:   resetAt,
	}
}

type windowCounts struct {
	start      time.Time
	prev, curr float64
}

// MemoryLimiter is a process local Limiter.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	counts map[string]*windowCounts
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter allows limit requests per key and window.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		counts: make(map[string]*windowCounts),
	}
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()
	start := now.Truncate(l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counts[key]
	switch {
	case !ok:
		c = &windowCounts{start: start}
		l.counts[key] = c
	case start.Sub(c.start) == l.window:
		*c = windowCounts{start: start, prev: c.curr}
	case start.After(c.start):
		*c = windowCounts{start: start}
	}

	d := decide(l.limit, slidingCount(c.prev, c.curr, now.Sub(start), l.window), start.Add(l.window))
	if d.Allowed {
		c.curr++
	}
	return d, nil
}

// Prune drops keys that have been idle for two windows.
func (l *MemoryLimiter) Prune(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, c := range l.counts {
		if now.Sub(c.start) >= 2*l.window {
			delete(l.counts, key)
		}
	}
}

// Run prunes idle keys every two windows until ctx is done.
func (l *MemoryLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(2 * l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Prune(now)
		}
	}
}

// RateLimit rejects requests over the limit with 429 and the API error
// envelope. Every response carries the X-RateLimit-* headers. A failing
// limiter lets the request through.
func RateLimit(cfg RateLimitConfig) Middleware {
	keyOf := cfg.KeyFunc
	if keyOf == nil {
		keyOf = clientIP
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = NewMemoryLimiter(cfg.Max, cfg.Window)
	}
	limit := strconv.Itoa(cfg.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := limiter.Allow(r.Context(), keyOf(r))
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			if !d.Allowed {
				wait := max(time.Until(d.ResetAt), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HeaderKeyFunc keys requests by the value of header, falling back to the
// client IP. Keyed by the cart token, shoppers behind one NAT get separate
// budgets.
func HeaderKeyFunc(header string) func(*http.Request) string {
	return func(r *http.Request) string {
		if v := r.Header.Get(header); v != "" {
			return header + ":" + v
		}
		return clientIP(r)
	}
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
