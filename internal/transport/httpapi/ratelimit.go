package httpapi

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/metrics"
)

// Fixed-window rate limiter defaults.
const (
	DefaultRateLimit  = 100
	DefaultRateWindow = 60 * time.Second
)

// rateWindow counts requests for one client within the current window.
type rateWindow struct {
	count   int
	resetAt time.Time
}

// RateLimiter is a per-client fixed-window request limiter. Windows are
// keyed by client IP and swept periodically so idle clients do not
// accumulate.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*rateWindow

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a limiter allowing limit requests per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	rl := &RateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		clients: make(map[string]*rateWindow),
		stop:    make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Allow records a request for the client and reports whether it fits the
// current window, along with the remaining budget and the window reset
// time.
func (rl *RateLimiter) Allow(client string) (allowed bool, remaining int, resetAt time.Time) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.clients[client]
	if !ok || !now.Before(w.resetAt) {
		w = &rateWindow{resetAt: now.Add(rl.window)}
		rl.clients[client] = w
	}

	if w.count >= rl.limit {
		return false, 0, w.resetAt
	}
	w.count++
	return true, rl.limit - w.count, w.resetAt
}

// Close stops the background sweeper.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Middleware enforces the limit per client IP and sets the standard
// X-RateLimit headers on every response.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientIP(r)
			allowed, remaining, resetAt := rl.Allow(client)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !allowed {
				metrics.RateLimitRejectedTotal.Inc()
				retryAfter := int(time.Until(resetAt).Seconds()) + 1
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "rate_limited",
					"rate limit exceeded, try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) sweep() {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for client, w := range rl.clients {
		if !now.Before(w.resetAt) {
			delete(rl.clients, client)
		}
	}
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
