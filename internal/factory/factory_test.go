package factory

import (
	"testing"

	"github.com/tracehound/tracehound/internal/errs"
	"github.com/tracehound/tracehound/internal/scent"
)

func TestCreateProducesConsistentSignature(t *testing.T) {
	f := New()
	s := scent.Scent{ID: "s1", Source: "api", Payload: map[string]any{"b": 1, "a": 2}}
	threat := scent.Threat{Category: scent.CategoryInjection, Severity: scent.SeverityHigh}

	r1, err := f.Create(s, threat, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	s2 := scent.Scent{ID: "s2", Source: "api", Payload: map[string]any{"a": 2, "b": 1}}
	r2, err := f.Create(s2, threat, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if r1.Signature != r2.Signature {
		t.Fatalf("expected key-order-independent payloads to share a signature, got %q vs %q", r1.Signature, r2.Signature)
	}
	if r1.Hash != r2.Hash {
		t.Fatal("expected identical hashes for structurally equal payloads")
	}
}

func TestCreateRejectsInvalidThreat(t *testing.T) {
	f := New()
	s := scent.Scent{ID: "s1", Source: "api", Payload: "x"}
	_, err := f.Create(s, scent.Threat{Category: "bogus", Severity: scent.SeverityLow}, 0)
	if err == nil {
		t.Fatal("expected error for invalid threat category")
	}
}

func TestCreateEnforcesMaxPayloadSize(t *testing.T) {
	f := New()
	s := scent.Scent{ID: "s1", Source: "api", Payload: "this payload is definitely too long for the limit"}
	threat := scent.Threat{Category: scent.CategorySpam, Severity: scent.SeverityLow}

	_, err := f.Create(s, threat, 4)
	if err == nil || err.Code != errs.AgentPayloadTooLarge {
		t.Fatalf("expected AGENT_PAYLOAD_TOO_LARGE, got %v", err)
	}
}

func TestCreateSignatureIncludesCategory(t *testing.T) {
	f := New()
	s := scent.Scent{ID: "s1", Source: "api", Payload: "same payload"}
	r1, err := f.Create(s, scent.Threat{Category: scent.CategoryMalware, Severity: scent.SeverityLow}, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	r2, err := f.Create(s, scent.Threat{Category: scent.CategorySpam, Severity: scent.SeverityLow}, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if r1.Signature == r2.Signature {
		t.Fatal("expected different categories to produce different signatures for the same payload")
	}
	if r1.Hash != r2.Hash {
		t.Fatal("expected the underlying payload hash to be identical regardless of category")
	}
}
