package middleware

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sandeepkv93/session-auth-core/internal/http/response"
	"github.com/sandeepkv93/session-auth-core/internal/observability"
)

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
}

// RateLimiter combines a token bucket for bursts with a sliding window for
// the sustained rate. State is per process and keyed by client IP.
type RateLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	refill    float64
	scope     string
	now       func() time.Time
	clients   map[string]*clientState
	nextSweep time.Time
}

type clientState struct {
	tokens     float64
	lastRefill time.Time
	hits       []time.Time
}

func NewRateLimiter(scope string, limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		refill:  float64(limit) / window.Seconds(),
		scope:   scope,
		now:     time.Now,
		clients: make(map[string]*clientState),
	}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := rl.Allow(clientIPKey(r))
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.limit))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", d.Remaining))
			if !d.Allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny")
				w.Header().Set("Retry-After", retryAfterHeader(d.RetryAfter))
				response.Error(w, r, http.StatusTooManyRequests, response.CodeRateLimited, "too many requests", nil)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow")
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) Allow(key string) Decision {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.After(rl.nextSweep) {
		for k, v := range rl.clients {
			if now.Sub(v.lastRefill) > 2*rl.window {
				delete(rl.clients, k)
			}
		}
		rl.nextSweep = now.Add(rl.window)
	}

	state, ok := rl.clients[key]
	if !ok {
		state = &clientState{tokens: float64(rl.limit), lastRefill: now}
		rl.clients[key] = state
	}
	if now.After(state.lastRefill) {
		elapsed := now.Sub(state.lastRefill).Seconds()
		state.tokens = min(float64(rl.limit), state.tokens+elapsed*rl.refill)
		state.lastRefill = now
	}

	cutoff := now.Add(-rl.window)
	pruned := state.hits[:0]
	for _, hit := range state.hits {
		if hit.After(cutoff) {
			pruned = append(pruned, hit)
		}
	}
	state.hits = pruned

	var retry time.Duration
	if state.tokens < 1 {
		retry = time.Duration(math.Ceil((1 - state.tokens) / rl.refill * float64(time.Second)))
	}
	if len(state.hits) >= rl.limit {
		retry = max(retry, state.hits[0].Add(rl.window).Sub(now))
	}
	if retry > 0 {
		return Decision{Allowed: false, RetryAfter: retry}
	}

	state.tokens = max(state.tokens-1, 0)
	state.hits = append(state.hits, now)
	remaining := min(int(math.Floor(state.tokens)), rl.limit-len(state.hits))
	return Decision{Allowed: true, Remaining: max(remaining, 0)}
}

func clientIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return host
}

func retryAfterHeader(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return fmt.Sprintf("%d", seconds)
}
