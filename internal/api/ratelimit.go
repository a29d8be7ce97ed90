package api

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Stale buckets are swept opportunistically while serving requests; an idle
// server holds no background goroutine for it.
const (
	bucketSweepEvery = 5 * time.Minute
	bucketIdleLimit  = 10 * time.Minute
)

// rateLimiter hands each client IP its own token bucket. It sits in front of
// auth so abusive traffic is shed before any token resolution or chat work
// happens. Distinct from the per-provider limiter in internal/inference,
// which guards the upstream quota rather than this server.
type rateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     rate.Limit
	burst     int
	lastSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter creates a limiter refilling r tokens per second with the
// given burst per IP.
func newRateLimiter(r float64, burst int) *rateLimiter {
	return &rateLimiter{
		buckets:   make(map[string]*bucket),
		limit:     rate.Limit(r),
		burst:     burst,
		lastSweep: time.Now(),
	}
}

// allow reports whether a request from ip may proceed, consuming a token.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.sweep(now)

	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter.Allow()
}

// sweep drops buckets idle past bucketIdleLimit. Caller holds rl.mu.
func (rl *rateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) <= bucketSweepEvery {
		return
	}
	for ip, b := range rl.buckets {
		if now.Sub(b.lastSeen) > bucketIdleLimit {
			delete(rl.buckets, ip)
		}
	}
	rl.lastSweep = now
}

// rateLimitMiddleware rejects requests from IPs that exhausted their bucket.
func rateLimitMiddleware(rl *rateLimiter, trustProxy bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, trustProxy)
			if !rl.allow(ip) {
				logger.Warn("rate limit exceeded",
					"ip", ip,
					"path", r.URL.Path,
					"method", r.Method,
				)
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP picks the limiter key for a request. Proxy headers are honored
// only when the deployment declares a trusted proxy in front; otherwise a
// client could mint fresh buckets per request by spoofing them. Header values
// must parse as IPs before they are used as keys.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		for _, raw := range []string{
			r.Header.Get("X-Real-IP"),
			firstForwarded(r.Header.Get("X-Forwarded-For")),
		} {
			if ip := net.ParseIP(strings.TrimSpace(raw)); ip != nil {
				return ip.String()
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// firstForwarded returns the leading entry of an X-Forwarded-For list, the
// original client in a well-formed chain.
func firstForwarded(xff string) string {
	first, _, _ := strings.Cut(xff, ",")
	return first
}
