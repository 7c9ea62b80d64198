package ratelimit

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"admission-gateway/internal/clock"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var start = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newController(t *testing.T, policies domain.Policies) (*application.Controller, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(start)
	c, err := application.NewController(policies, application.WithClock(clk))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c, clk
}

func serve(h http.Handler, method, target, remote string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, nil)
	r.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestMiddleware_AllowsThenRejectsSameKey(t *testing.T) {
	ctl, _ := newController(t, domain.Policies{domain.CategoryDefault: {MaxRequests: 1, Window: time.Minute}})

	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})

	h := Middleware(Options{
		Admitter:            ctl,
		AddRateLimitHeaders: true,
	})(next)

	// 1) primeira passa
	w1 := serve(h, http.MethodGet, "http://example/showTela", "10.0.0.1:1234")
	if w1.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w1.Code)
	}
	if got := w1.Header().Get("X-RateLimit-Limit"); got != "1" {
		t.Fatalf("expected X-RateLimit-Limit=1, got %q", got)
	}
	if got := w1.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected X-RateLimit-Remaining=0, got %q", got)
	}
	if got := w1.Header().Get("X-RateLimit-Reset"); got != strconv.FormatInt(start.Add(time.Minute).Unix(), 10) {
		t.Fatalf("unexpected X-RateLimit-Reset %q", got)
	}
	if got := w1.Header().Get("X-RateLimit-Category"); got != "default" {
		t.Fatalf("expected X-RateLimit-Category=default, got %q", got)
	}

	// 2) segunda deve bloquear
	w2 := serve(h, http.MethodGet, "http://example/showTela", "10.0.0.1:1234")
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w2.Code)
	}
	if got := w2.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After=60, got %q", got)
	}

	if calls != 1 {
		t.Fatalf("expected next handler to be called once, got %d", calls)
	}
}

func TestMiddleware_KeyByHeader(t *testing.T) {
	ctl, _ := newController(t, domain.Policies{domain.CategoryDefault: {MaxRequests: 1, Window: time.Minute}})

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	h := Middleware(Options{
		Admitter:  ctl,
		KeyHeader: "X-Api-Key",
	})(next)

	// duas chaves diferentes => ambas devem passar (cada chave tem sua própria janela)
	for _, k := range []string{"k1", "k2"} {
		r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
		r.Header.Set("X-Api-Key", k)
		r.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 for key %s, got %d", k, w.Code)
		}
	}
}

func TestMiddleware_CategoryByPrefix(t *testing.T) {
	ctl, _ := newController(t, domain.Policies{
		domain.CategoryDefault: {MaxRequests: 5, Window: time.Minute},
		domain.CategoryAuth:    {MaxRequests: 1, Window: time.Minute},
	})

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	h := Middleware(Options{
		Admitter:   ctl,
		CategoryFn: PrefixCategoryFunc(map[string]domain.Category{"/login": domain.CategoryAuth}, domain.CategoryDefault),
	})(next)

	if w := serve(h, http.MethodPost, "http://example/login", "10.0.0.1:1"); w.Code != http.StatusOK {
		t.Fatalf("expected first login 200, got %d", w.Code)
	}
	if w := serve(h, http.MethodPost, "http://example/login", "10.0.0.1:1"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second login 429, got %d", w.Code)
	}
	// mesmo IP em outra categoria segue livre
	if w := serve(h, http.MethodGet, "http://example/home", "10.0.0.1:1"); w.Code != http.StatusOK {
		t.Fatalf("expected default route 200, got %d", w.Code)
	}
}

func TestMiddleware_WindowRollover(t *testing.T) {
	ctl, clk := newController(t, domain.Policies{domain.CategoryDefault: {MaxRequests: 1, Window: time.Minute}})
	h := Middleware(Options{Admitter: ctl})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	serve(h, http.MethodGet, "http://example/", "10.0.0.1:1")
	if w := serve(h, http.MethodGet, "http://example/", "10.0.0.1:1"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}

	clk.Advance(time.Minute)
	if w := serve(h, http.MethodGet, "http://example/", "10.0.0.1:1"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 after rollover, got %d", w.Code)
	}
}

func TestMiddleware_UnknownCategoryIsServerError(t *testing.T) {
	ctl, _ := newController(t, domain.DefaultPolicies())
	core, logs := observer.New(zapcore.ErrorLevel)

	called := false
	h := Middleware(Options{
		Admitter:   ctl,
		CategoryFn: StaticCategory("typo"),
		Logger:     zap.New(core),
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	w := serve(h, http.MethodGet, "http://example/", "10.0.0.1:1")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if called {
		t.Fatalf("expected next handler not to be called")
	}
	if logs.FilterMessage("rate limit check failed").Len() != 1 {
		t.Fatalf("expected configuration error to be logged")
	}
}

func TestMiddleware_RecordsStats(t *testing.T) {
	ctl, _ := newController(t, domain.Policies{domain.CategoryDefault: {MaxRequests: 1, Window: time.Minute}})
	stats := infra.NewMemoryStatsStore(infra.WithTrackKeys(true))

	h := Middleware(Options{Admitter: ctl, Stats: stats})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	serve(h, http.MethodGet, "http://example/a", "10.0.0.1:1")
	serve(h, http.MethodGet, "http://example/a", "10.0.0.1:1")

	if got := stats.Total(); got != (infra.Counters{Allowed: 1, Denied: 1}) {
		t.Fatalf("unexpected totals: %+v", got)
	}
	if got := stats.ByKey()[domain.Key{Category: domain.CategoryDefault, Identifier: "10.0.0.1"}]; got != (infra.Counters{Allowed: 1, Denied: 1}) {
		t.Fatalf("unexpected per-key counters: %+v", got)
	}
}

func TestMiddleware_DenialLogIsThrottled(t *testing.T) {
	ctl, _ := newController(t, domain.Policies{domain.CategoryDefault: {MaxRequests: 1, Window: time.Minute}})
	core, logs := observer.New(zapcore.WarnLevel)

	h := Middleware(Options{
		Admitter:     ctl,
		Logger:       zap.New(core),
		DenyLogEvery: time.Hour,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i := 0; i < 10; i++ {
		serve(h, http.MethodGet, "http://example/", "10.0.0.1:1")
	}

	if got := logs.FilterMessage("rate limit exceeded").Len(); got != 1 {
		t.Fatalf("expected a single throttled warn entry, got %d", got)
	}
}

func TestMiddleware_NoAdmitterPassesThrough(t *testing.T) {
	h := Middleware(Options{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))

	w := serve(h, http.MethodGet, "http://example/", "10.0.0.1:1")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "ok" {
		t.Fatalf("expected passthrough, got %d %q", w.Code, w.Body.String())
	}
}
