package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/itstheanurag/codearena/internal/api"
	"github.com/itstheanurag/codearena/internal/config"
	"github.com/itstheanurag/codearena/internal/languages"
	"github.com/itstheanurag/codearena/internal/limiter"
	"github.com/itstheanurag/codearena/internal/queue"
	"github.com/rs/zerolog"
)

type fullQueue struct{}

func (fullQueue) Submit(job *queue.Job) error { return queue.ErrQueueFull }

type okPinger struct{}

func (okPinger) Ping(ctx context.Context) error { return nil }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := zerolog.Nop()
	h := api.NewHandler(fullQueue{}, languages.NewRegistry(), okPinger{}, time.Second)
	return NewRouter(h, limiter.NewRateLimiter(1000, 1000, 1000, 10), &logger, false)
}

func TestRouter(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/ready", "", http.StatusOK},
		{http.MethodGet, "/languages", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodPost, "/execute", `{"code":"x","language":"Python","testCases":[]}`, http.StatusServiceUnavailable},
		{http.MethodGet, "/execute", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestRouterForwardedForTrust(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		want       int
	}{
		{"untrusted header is ignored", false, http.StatusTooManyRequests},
		{"trusted proxy address is used", true, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := zerolog.Nop()
			h := api.NewHandler(fullQueue{}, languages.NewRegistry(), okPinger{}, time.Second)
			// one request per address before the bucket is empty
			router := NewRouter(h, limiter.NewRateLimiter(1000, 0.001, 1, 10), &logger, tt.trustProxy)

			var last int
			for _, forwarded := range []string{"198.51.100.1", "198.51.100.2"} {
				req := httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(`{"language":"Python"}`))
				req.RemoteAddr = "203.0.113.9:40000"
				req.Header.Set("X-Forwarded-For", forwarded)
				rec := httptest.NewRecorder()
				router.ServeHTTP(rec, req)
				last = rec.Code
			}
			if last != tt.want {
				t.Fatalf("expected %d for the second request, got %d", tt.want, last)
			}
		})
	}
}

func TestRouterCORS(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/execute", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard origin, got %q", got)
	}
}

func TestExecutorConfig(t *testing.T) {
	cfg := executorConfig(config.ExecutorConfig{
		RunTimeoutMs:     5000,
		CompileTimeoutMs: 30000,
		MemoryLimitMb:    256,
		CPUPeriod:        100000,
		CPUQuota:         50000,
		PidsLimit:        64,
		OutputLimitBytes: 10 << 20,
	})

	if cfg.RunTimeout != 5*time.Second || cfg.CompileTimeout != 30*time.Second {
		t.Fatalf("unexpected timeouts %+v", cfg)
	}
	if cfg.Limits.MemoryBytes != 256<<20 || cfg.Limits.CPUQuota != 50000 || cfg.Limits.CPUPeriod != 100000 {
		t.Fatalf("unexpected limits %+v", cfg.Limits)
	}
	if cfg.Limits.PidsLimit != 64 || cfg.Limits.OutputLimit != 10<<20 {
		t.Fatalf("unexpected limits %+v", cfg.Limits)
	}
}
