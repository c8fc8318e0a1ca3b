package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func newTestLimiter(t *testing.T, cfg RateLimiterConfig) *RateLimiter {
	t.Helper()
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Hour
	}
	rl := NewRateLimiter(cfg)
	t.Cleanup(rl.Stop)
	return rl
}

func requestFrom(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/phone/code", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func TestRateLimiter_AuthLimitsPerIP(t *testing.T) {
	rl := newTestLimiter(t, RateLimiterConfig{
		GeneralRate: rate.Limit(1), GeneralBurst: 1,
		AuthRate: rate.Limit(1.0 / 60.0), AuthBurst: 2,
	})
	handler := rl.AuthMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("10.0.0.1:1234"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.1:5678"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}
	if body := decodeErrorBody(t, w); body.Code != "RATE_LIMITED" {
		t.Errorf("code = %q", body.Code)
	}

	// 別のIPには影響しない
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.2:1234"))
	if w.Code != http.StatusOK {
		t.Errorf("other IP status = %d, want 200", w.Code)
	}
	if rl.AuthLimiterCount() != 2 {
		t.Errorf("AuthLimiterCount() = %d, want 2", rl.AuthLimiterCount())
	}
}

func TestRateLimiter_GeneralKeysOnProfileID(t *testing.T) {
	rl := newTestLimiter(t, RateLimiterConfig{
		GeneralRate: rate.Limit(1.0 / 60.0), GeneralBurst: 1,
		AuthRate: rate.Limit(1), AuthBurst: 1,
	})
	handler := rl.GeneralMiddleware()(okHandler())

	send := func(profileID string) int {
		req := requestFrom("10.0.0.1:1234")
		req = req.WithContext(ContextWithProfileID(req.Context(), profileID))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	if code := send("p-1"); code != http.StatusOK {
		t.Fatalf("first request status = %d", code)
	}
	if code := send("p-1"); code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", code)
	}
	// 同じIPでも別プロフィールは独立して制限される
	if code := send("p-2"); code != http.StatusOK {
		t.Errorf("other profile status = %d, want 200", code)
	}
	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("GeneralLimiterCount() = %d, want 2", rl.GeneralLimiterCount())
	}
}

func TestRateLimiter_CleanupRemovesIdleEntries(t *testing.T) {
	rl := newTestLimiter(t, RateLimiterConfig{
		GeneralRate: rate.Limit(1), GeneralBurst: 1,
		AuthRate: rate.Limit(1), AuthBurst: 1,
		CleanupInterval: time.Minute,
	})
	rl.auth.get("10.0.0.1")
	rl.auth.cleanup(time.Now().Add(3*time.Minute), 2*time.Minute)

	if rl.AuthLimiterCount() != 0 {
		t.Errorf("AuthLimiterCount() = %d, want 0", rl.AuthLimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}
