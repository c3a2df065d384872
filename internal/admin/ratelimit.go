package admin

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cheqlabs/dCheque/internal/metrics"
)

const (
	// staleLimiterTTL is how long a per-IP limiter can sit idle before
	// the sweeper drops it.
	staleLimiterTTL = 10 * time.Minute

	cleanupInterval = time.Minute
)

type endpointRule struct {
	method string // empty matches any method
	prefix string
	rps    rate.Limit
	burst  int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware applies per-endpoint, per-IP rate limits to the
// admin API. The invariant run endpoint triggers a full table scan, so it
// gets a much tighter budget than the read endpoints.
type RateLimitMiddleware struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry // key: "endpoint|clientIP"
	rules    []endpointRule
	logger   *slog.Logger
	nowFn    func() time.Time
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewRateLimitMiddleware(logger *slog.Logger) *RateLimitMiddleware {
	rl := &RateLimitMiddleware{
		limiters: make(map[string]*limiterEntry),
		logger:   logger.With("component", "admin_ratelimit"),
		nowFn:    time.Now,
		stopCh:   make(chan struct{}),
		rules: []endpointRule{
			{method: "POST", prefix: "/admin/v1/invariants/run", rps: rate.Limit(1.0 / 60), burst: 1}, // 1 req/min
			{prefix: "", rps: 5, burst: 10}, // default for lookups
		},
	}
	go rl.cleanupLoop()
	return rl
}

// Stop shuts down the sweeper goroutine. Safe to call more than once.
func (rl *RateLimitMiddleware) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimitMiddleware) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.evictStale()
		}
	}
}

func (rl *RateLimitMiddleware) evictStale() {
	now := rl.nowFn()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > staleLimiterTTL {
			delete(rl.limiters, key)
		}
	}
}

// LimiterCount reports the number of live limiter entries.
func (rl *RateLimitMiddleware) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Wrap applies rate limiting before delegating to next.
func (rl *RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := extractClientIP(r)
		rule := rl.matchRule(r.Method, r.URL.Path)
		endpoint := rule.method + ":" + rule.prefix

		if !rl.limiterFor(endpoint+"|"+clientIP, rule).Allow() {
			metrics.AdminRateLimited.WithLabelValues(endpoint).Inc()
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			rl.logger.Warn("admin rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", clientIP,
			)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimitMiddleware) matchRule(method, path string) endpointRule {
	for _, rule := range rl.rules {
		if rule.method != "" && !strings.EqualFold(rule.method, method) {
			continue
		}
		if rule.prefix != "" && !strings.HasPrefix(path, rule.prefix) {
			continue
		}
		return rule
	}
	return endpointRule{rps: 5, burst: 10}
}

func (rl *RateLimitMiddleware) limiterFor(key string, rule endpointRule) *rate.Limiter {
	now := rl.nowFn()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if entry, ok := rl.limiters[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}
	limiter := rate.NewLimiter(rule.rps, rule.burst)
	rl.limiters[key] = &limiterEntry{limiter: limiter, lastSeen: now}
	return limiter
}

// extractClientIP checks X-Forwarded-For (first entry), then X-Real-IP,
// then RemoteAddr.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
