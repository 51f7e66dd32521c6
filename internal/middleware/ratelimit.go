package middleware

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const defaultMaxBuckets = 100_000

// RateLimiter admits requests per client with a token bucket: burst tokens,
// refilled at rate per second. It guards search creation, the only endpoint
// that starts work on the agent loop.
type RateLimiter struct {
	rate       float64
	burst      int
	maxBuckets int
	key        func(*http.Request) string
	now        func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens  float64
	updated time.Time
}

// decision is the outcome of one admission check.
type decision struct {
	allowed    bool
	remaining  int
	retryAfter time.Duration
}

// NewRateLimiter creates a limiter keyed by client IP.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		maxBuckets: defaultMaxBuckets,
		key:        clientIP,
		now:        time.Now,
		buckets:    make(map[string]*bucket),
	}
}

// Handler returns HTTP middleware that answers 429 once a client's bucket is empty.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := rl.take(rl.key(r))

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(rl.burst))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
		if d.allowed {
			next.ServeHTTP(w, r)
			return
		}

		secs := int(math.Ceil(d.retryAfter.Seconds()))
		h.Set("Retry-After", strconv.Itoa(secs))
		h.Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":               "rate limit exceeded",
			"retry_after_seconds": secs,
		})
	})
}

func (rl *RateLimiter) take(key string) decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		if len(rl.buckets) >= rl.maxBuckets {
			return decision{retryAfter: rl.interval()}
		}
		b = &bucket{tokens: float64(rl.burst), updated: now}
		rl.buckets[key] = b
	}

	b.tokens = math.Min(float64(rl.burst), b.tokens+now.Sub(b.updated).Seconds()*rl.rate)
	b.updated = now
	if b.tokens < 1 {
		return decision{retryAfter: time.Duration((1 - b.tokens) / rl.rate * float64(time.Second))}
	}
	b.tokens--
	return decision{allowed: true, remaining: int(b.tokens)}
}

// interval is the time one token takes to refill.
func (rl *RateLimiter) interval() time.Duration {
	if rl.rate <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / rl.rate)
}

// Run drops buckets idle longer than maxIdle every interval until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context, interval, maxIdle time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rl.cleanup(maxIdle)
		}
	}
}

func (rl *RateLimiter) cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-maxIdle)
	for k, b := range rl.buckets {
		if b.updated.Before(cutoff) {
			delete(rl.buckets, k)
		}
	}
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// clientIP is the host part of RemoteAddr, as rewritten by chi's RealIP.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
