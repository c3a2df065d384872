package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func limitedRequest(h http.Handler, method, target, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit_ReadsAllowed(t *testing.T) {
	rl := NewRateLimitMiddleware(testLogger())
	defer rl.Stop()
	h := rl.Wrap(okHandler())

	for i := 0; i < 10; i++ {
		rec := limitedRequest(h, http.MethodGet, "/admin/v1/status", "10.0.0.1")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
	}
}

func TestRateLimit_InvariantRunBurstOne(t *testing.T) {
	rl := NewRateLimitMiddleware(testLogger())
	defer rl.Stop()
	h := rl.Wrap(okHandler())

	rec := limitedRequest(h, http.MethodPost, "/admin/v1/invariants/run", "10.0.0.1")
	if rec.Code != http.StatusOK {
		t.Fatalf("first run: status = %d, want 200", rec.Code)
	}

	rec = limitedRequest(h, http.MethodPost, "/admin/v1/invariants/run", "10.0.0.1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second run: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", rec.Header().Get("Retry-After"))
	}
}

func TestRateLimit_PerIPIsolation(t *testing.T) {
	rl := NewRateLimitMiddleware(testLogger())
	defer rl.Stop()
	h := rl.Wrap(okHandler())

	rec := limitedRequest(h, http.MethodPost, "/admin/v1/invariants/run", "10.0.0.1")
	if rec.Code != http.StatusOK {
		t.Fatalf("first IP: status = %d, want 200", rec.Code)
	}

	rec = limitedRequest(h, http.MethodPost, "/admin/v1/invariants/run", "10.0.0.2")
	if rec.Code != http.StatusOK {
		t.Fatalf("second IP should have its own budget: status = %d", rec.Code)
	}
}

func TestRateLimit_EndpointIsolation(t *testing.T) {
	rl := NewRateLimitMiddleware(testLogger())
	defer rl.Stop()
	h := rl.Wrap(okHandler())

	// Exhaust the invariant budget, then confirm reads still pass.
	limitedRequest(h, http.MethodPost, "/admin/v1/invariants/run", "10.0.0.1")
	rec := limitedRequest(h, http.MethodPost, "/admin/v1/invariants/run", "10.0.0.1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("invariant run: status = %d, want 429", rec.Code)
	}

	rec = limitedRequest(h, http.MethodGet, "/admin/v1/status", "10.0.0.1")
	if rec.Code != http.StatusOK {
		t.Fatalf("read after invariant 429: status = %d, want 200", rec.Code)
	}
}

func TestRateLimit_ForwardedForFirstEntry(t *testing.T) {
	rl := NewRateLimitMiddleware(testLogger())
	defer rl.Stop()
	h := rl.Wrap(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/admin/v1/invariants/run", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 192.168.1.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	// Same leading IP behind a different proxy chain shares the budget.
	req = httptest.NewRequest(http.MethodPost, "/admin/v1/invariants/run", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 172.16.0.1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}

func TestRateLimit_EvictStale(t *testing.T) {
	rl := NewRateLimitMiddleware(testLogger())
	defer rl.Stop()
	h := rl.Wrap(okHandler())

	now := time.Now()
	rl.nowFn = func() time.Time { return now }

	limitedRequest(h, http.MethodGet, "/admin/v1/status", "10.0.0.1")
	limitedRequest(h, http.MethodGet, "/admin/v1/status", "10.0.0.2")
	if got := rl.LimiterCount(); got != 2 {
		t.Fatalf("LimiterCount = %d, want 2", got)
	}

	rl.nowFn = func() time.Time { return now.Add(staleLimiterTTL + time.Second) }
	rl.evictStale()
	if got := rl.LimiterCount(); got != 0 {
		t.Fatalf("LimiterCount after eviction = %d, want 0", got)
	}
}

func TestRateLimit_StopIdempotent(t *testing.T) {
	rl := NewRateLimitMiddleware(testLogger())
	rl.Stop()
	rl.Stop()
}
