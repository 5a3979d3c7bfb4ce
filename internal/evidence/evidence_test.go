package evidence

import (
	"testing"

	"github.com/tracehound/tracehound/internal/errs"
	"github.com/tracehound/tracehound/internal/scent"
)

func TestNewRejectsEmptyBytes(t *testing.T) {
	_, err := New("sig", nil, scent.SeverityLow, "api")
	if err == nil || err.Code != errs.EvidenceEmpty {
		t.Fatalf("expected EVIDENCE_EMPTY, got %v", err)
	}
}

func TestTransferDisposesOnce(t *testing.T) {
	ev, err := New("sig", []byte("payload"), scent.SeverityMedium, "api")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b, terr := ev.Transfer()
	if terr != nil {
		t.Fatalf("unexpected error: %v", terr)
	}
	if string(b) != "payload" {
		t.Fatalf("unexpected bytes: %q", b)
	}
	if !ev.Disposed() {
		t.Fatal("expected evidence to be disposed after Transfer")
	}

	if _, terr := ev.Transfer(); terr == nil || terr.Code != errs.EvidenceDisposed {
		t.Fatalf("expected EVIDENCE_DISPOSED on second Transfer, got %v", terr)
	}
}

func TestNeutralizeProducesLinkedRecord(t *testing.T) {
	ev, err := New("sig-1", []byte("data"), scent.SeverityHigh, "api")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, nerr := ev.Neutralize("prevhash123")
	if nerr != nil {
		t.Fatalf("unexpected error: %v", nerr)
	}
	if rec.PreviousHash != "prevhash123" {
		t.Fatalf("expected linked previous hash, got %q", rec.PreviousHash)
	}
	if rec.Status != "neutralized" {
		t.Fatalf("unexpected status: %q", rec.Status)
	}
	if !ev.Disposed() {
		t.Fatal("expected evidence to be disposed after Neutralize")
	}
	if _, _, err := ev.Evacuate("s3"); err == nil {
		t.Fatal("expected disposed evidence to reject further consumption")
	}
}

func TestPurgeRecordsReason(t *testing.T) {
	ev, err := New("sig-2", []byte("data"), scent.SeverityCritical, "api")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec, perr := ev.Purge(PurgeTimeout)
	if perr != nil {
		t.Fatalf("unexpected error: %v", perr)
	}
	if rec.Reason != PurgeTimeout {
		t.Fatalf("unexpected reason: %v", rec.Reason)
	}
	if rec.Source != "api" {
		t.Fatalf("unexpected source: %q", rec.Source)
	}
}

func TestEvacuateReturnsDestinationAndBytes(t *testing.T) {
	ev, err := New("sig-3", []byte("cold data"), scent.SeverityLow, "api")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec, b, eerr := ev.Evacuate("s3://bucket/key")
	if eerr != nil {
		t.Fatalf("unexpected error: %v", eerr)
	}
	if rec.Destination != "s3://bucket/key" {
		t.Fatalf("unexpected destination: %q", rec.Destination)
	}
	if string(b) != "cold data" {
		t.Fatalf("unexpected bytes: %q", b)
	}
}

func TestAccessorsSurviveDisposal(t *testing.T) {
	ev, err := New("sig-4", []byte("xyz"), scent.SeverityMedium, "api")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantHash := ev.Hash()
	if _, terr := ev.Transfer(); terr != nil {
		t.Fatalf("unexpected error: %v", terr)
	}
	if ev.Hash() != wantHash {
		t.Fatal("expected Hash to remain stable after disposal")
	}
	if ev.Signature() != "sig-4" {
		t.Fatal("expected Signature to remain stable after disposal")
	}
	if ev.Size() != 3 {
		t.Fatalf("unexpected size: %d", ev.Size())
	}
}
