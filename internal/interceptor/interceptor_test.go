package interceptor

import (
	"path/filepath"
	"testing"

	"github.com/tracehound/tracehound/internal/audit"
	"github.com/tracehound/tracehound/internal/factory"
	"github.com/tracehound/tracehound/internal/quarantine"
	"github.com/tracehound/tracehound/internal/ratelimit"
	"github.com/tracehound/tracehound/internal/scent"
)

func newTestAgent(t *testing.T, maxRequests int) *Agent {
	t.Helper()
	limiter, err := ratelimit.New(ratelimit.Config{WindowMs: 60000, MaxRequests: maxRequests, BlockDurationMs: 1000})
	if err != nil {
		t.Fatalf("ratelimit.New failed: %v", err)
	}
	chain, err := audit.OpenFileChain(filepath.Join(t.TempDir(), "chain.jsonl"))
	if err != nil {
		t.Fatalf("OpenFileChain failed: %v", err)
	}
	t.Cleanup(func() { _ = chain.Close() })
	q := quarantine.New(quarantine.Config{MaxCount: 100, MaxBytes: 1_000_000}, chain)
	return New(limiter, factory.New(), q, 1_000_000, nil)
}

func TestInterceptCleanScent(t *testing.T) {
	a := newTestAgent(t, 10)
	result := a.Intercept(scent.Scent{ID: "s1", Source: "api"})
	if result.Status != StatusClean {
		t.Fatalf("expected StatusClean, got %v", result.Status)
	}
	if a.Counters().Clean.Load() != 1 {
		t.Fatal("expected Clean counter to increment")
	}
}

func TestInterceptQuarantinesThreat(t *testing.T) {
	a := newTestAgent(t, 10)
	s := scent.Scent{
		ID: "s1", Source: "api", Payload: "malicious payload",
		Threat: &scent.Threat{Category: scent.CategoryMalware, Severity: scent.SeverityHigh},
	}
	result := a.Intercept(s)
	if result.Status != StatusQuarantined {
		t.Fatalf("expected StatusQuarantined, got %v: %+v", result.Status, result)
	}
	if result.Handle == nil {
		t.Fatal("expected a non-nil evidence handle")
	}
	if a.Counters().Quarantined.Load() != 1 {
		t.Fatal("expected Quarantined counter to increment")
	}
}

func TestInterceptDedupesIdenticalThreat(t *testing.T) {
	a := newTestAgent(t, 10)
	s := scent.Scent{
		ID: "s1", Source: "api", Payload: "repeated payload",
		Threat: &scent.Threat{Category: scent.CategoryMalware, Severity: scent.SeverityHigh},
	}
	first := a.Intercept(s)
	if first.Status != StatusQuarantined {
		t.Fatalf("expected first intercept to quarantine, got %v", first.Status)
	}

	s.ID = "s2"
	second := a.Intercept(s)
	if second.Status != StatusIgnored {
		t.Fatalf("expected second identical intercept to be ignored, got %v", second.Status)
	}
	if second.Signature != first.Signature {
		t.Fatal("expected ignored result to carry the same signature as the original quarantine")
	}
	if a.Counters().Ignored.Load() != 1 {
		t.Fatal("expected Ignored counter to increment")
	}
}

func TestInterceptRateLimited(t *testing.T) {
	a := newTestAgent(t, 1)
	a.Intercept(scent.Scent{ID: "s1", Source: "api"})
	result := a.Intercept(scent.Scent{ID: "s2", Source: "api"})
	if result.Status != StatusRateLimited {
		t.Fatalf("expected StatusRateLimited, got %v", result.Status)
	}
	if a.Counters().RateLimited.Load() != 1 {
		t.Fatal("expected RateLimited counter to increment")
	}
}

func TestInterceptInvalidScentIsError(t *testing.T) {
	a := newTestAgent(t, 10)
	result := a.Intercept(scent.Scent{Source: "api"})
	if result.Status != StatusError {
		t.Fatalf("expected StatusError for missing ID, got %v", result.Status)
	}
	if a.Counters().Error.Load() != 1 {
		t.Fatal("expected Error counter to increment")
	}
}

func TestInterceptPayloadTooLarge(t *testing.T) {
	limiter, err := ratelimit.New(ratelimit.Config{WindowMs: 60000, MaxRequests: 10, BlockDurationMs: 1000})
	if err != nil {
		t.Fatalf("ratelimit.New failed: %v", err)
	}
	chain, err := audit.OpenFileChain(filepath.Join(t.TempDir(), "chain.jsonl"))
	if err != nil {
		t.Fatalf("OpenFileChain failed: %v", err)
	}
	defer chain.Close()
	q := quarantine.New(quarantine.Config{MaxCount: 100, MaxBytes: 1_000_000}, chain)
	a := New(limiter, factory.New(), q, 4, nil)

	s := scent.Scent{
		ID: "s1", Source: "api", Payload: "payload far exceeding the tiny configured limit",
		Threat: &scent.Threat{Category: scent.CategoryFlood, Severity: scent.SeverityMedium},
	}
	result := a.Intercept(s)
	if result.Status != StatusPayloadTooLarge {
		t.Fatalf("expected StatusPayloadTooLarge, got %v", result.Status)
	}
	if result.Limit != 4 {
		t.Fatalf("unexpected limit: %d", result.Limit)
	}
}
