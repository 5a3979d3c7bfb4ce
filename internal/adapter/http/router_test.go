package http

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/tracehound/tracehound/internal/audit"
	"github.com/tracehound/tracehound/internal/factory"
	"github.com/tracehound/tracehound/internal/interceptor"
	"github.com/tracehound/tracehound/internal/quarantine"
	"github.com/tracehound/tracehound/internal/ratelimit"
)

func newRouterTestAgent(t *testing.T) *interceptor.Agent {
	t.Helper()
	limiter, err := ratelimit.New(ratelimit.Config{WindowMs: 60000, MaxRequests: 10, BlockDurationMs: 1000})
	if err != nil {
		t.Fatalf("ratelimit.New failed: %v", err)
	}
	chain, err := audit.OpenFileChain(filepath.Join(t.TempDir(), "chain.jsonl"))
	if err != nil {
		t.Fatalf("OpenFileChain failed: %v", err)
	}
	t.Cleanup(func() { _ = chain.Close() })
	q := quarantine.New(quarantine.Config{MaxCount: 100, MaxBytes: 1_000_000}, chain)
	return interceptor.New(limiter, factory.New(), q, 1_000_000, nil)
}

func TestRouterHealthz(t *testing.T) {
	r := NewRouter(newRouterTestAgent(t), nil, nil)
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200 from /healthz, got %d", rec.Code)
	}
}

func TestRouterInterceptCleanScent(t *testing.T) {
	r := NewRouter(newRouterTestAgent(t), nil, nil)
	body, _ := json.Marshal(map[string]any{"source": "api", "payload": "hello"})
	req := httptest.NewRequest("POST", "/v1/intercept", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200 for a clean scent, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRouterInterceptQuarantinesThreat(t *testing.T) {
	r := NewRouter(newRouterTestAgent(t), nil, nil)
	body, _ := json.Marshal(map[string]any{
		"source": "api", "payload": "malicious payload",
		"category": "malware", "severity": "high",
	})
	req := httptest.NewRequest("POST", "/v1/intercept", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != 403 {
		t.Fatalf("expected 403 for a quarantined threat, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRouterInterceptMalformedBody(t *testing.T) {
	r := NewRouter(newRouterTestAgent(t), nil, nil)
	req := httptest.NewRequest("POST", "/v1/intercept", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != 400 {
		t.Fatalf("expected 400 for a malformed body, got %d", rec.Code)
	}
}

func TestRouterInterceptRequiresLicenseWhenGated(t *testing.T) {
	_, pub := genKeyPair(t)
	r := NewRouter(newRouterTestAgent(t), pub, nil)
	body, _ := json.Marshal(map[string]any{"source": "api", "payload": "hello"})
	req := httptest.NewRequest("POST", "/v1/intercept", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != 401 {
		t.Fatalf("expected 401 when no license token is supplied on a gated route, got %d", rec.Code)
	}
}
