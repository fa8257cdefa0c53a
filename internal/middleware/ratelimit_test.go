package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/token"
)

func testRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    3,
		CallbackRate:    1,
		CallbackBurst:   2,
		CleanupInterval: time.Minute,
	}
}

func requestAs(subject string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	return req.WithContext(ContextWithClaims(req.Context(), &token.Claims{Subject: subject, Roles: []string{"user"}}))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestGeneralMiddleware_LimitsPerSubject(t *testing.T) {
	collector := &statusCollector{}
	rl := NewRateLimiter(testRateLimiterConfig(), collector)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	// バースト内の3リクエストは全て通る
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs("user-1"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("user-1"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if ra, err := strconv.Atoi(w.Header().Get("Retry-After")); err != nil || ra < 1 {
		t.Errorf("Retry-After = %q, want positive integer", w.Header().Get("Retry-After"))
	}
	if body := decodeErrorBody(t, w.Result()); body.Code != model.ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRateLimited)
	}

	// 別サブジェクトは影響を受けない
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("user-2"))
	if w.Code != http.StatusOK {
		t.Errorf("other subject status = %d, want %d", w.Code, http.StatusOK)
	}

	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("GeneralLimiterCount() = %d, want 2", rl.GeneralLimiterCount())
	}
	if len(collector.rateLimited) != 1 || collector.rateLimited[0] != "general" {
		t.Errorf("rateLimited = %v, want [general]", collector.rateLimited)
	}
}

func TestGeneralMiddleware_NoClaims_Returns401(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(), nil)
	defer rl.Stop()

	w := httptest.NewRecorder()
	rl.GeneralMiddleware()(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestCallbackMiddleware_LimitsPerClientIP(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(), nil)
	defer rl.Stop()

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.With(rl.CallbackMiddleware()).Get("/auth/callback", okHandler().ServeHTTP)

	call := func(forwardedFor string) int {
		req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=x", nil)
		req.Header.Set("X-Forwarded-For", forwardedFor)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 2; i++ {
		if code := call("203.0.113.10"); code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, code, http.StatusOK)
		}
	}
	if code := call("203.0.113.10"); code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", code, http.StatusTooManyRequests)
	}
	if code := call("198.51.100.7"); code != http.StatusOK {
		t.Errorf("other IP status = %d, want %d", code, http.StatusOK)
	}
	if rl.CallbackLimiterCount() != 2 {
		t.Errorf("CallbackLimiterCount() = %d, want 2", rl.CallbackLimiterCount())
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	cfg := testRateLimiterConfig()
	cfg.CleanupInterval = time.Hour
	rl := NewRateLimiter(cfg, nil)
	defer rl.Stop()

	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestAs("user-1"))
	if rl.GeneralLimiterCount() != 1 {
		t.Fatalf("GeneralLimiterCount() = %d, want 1", rl.GeneralLimiterCount())
	}

	// 最終アクセスを過去にずらしてからクリーンアップ
	rl.general.mu.Lock()
	for _, kl := range rl.general.limiters {
		kl.lastAccess = time.Now().Add(-3 * time.Hour)
	}
	rl.general.mu.Unlock()

	rl.cleanup()

	if rl.GeneralLimiterCount() != 0 {
		t.Errorf("GeneralLimiterCount() = %d, want 0 after cleanup", rl.GeneralLimiterCount())
	}
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralBurst != 120 || cfg.CallbackBurst != 10 {
		t.Errorf("bursts = (%d, %d), want (120, 10)", cfg.GeneralBurst, cfg.CallbackBurst)
	}
	if float64(cfg.GeneralRate) != 2 {
		t.Errorf("GeneralRate = %v, want 2", cfg.GeneralRate)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
}
