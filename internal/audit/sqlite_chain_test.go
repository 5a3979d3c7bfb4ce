package audit

import (
	"path/filepath"
	"testing"

	"github.com/tracehound/tracehound/internal/evidence"
)

func openTempSQLiteChain(t *testing.T) (*SQLiteChain, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chain.db")
	chain, err := OpenSQLiteChain(path)
	if err != nil {
		t.Fatalf("OpenSQLiteChain failed: %v", err)
	}
	t.Cleanup(func() { _ = chain.Close() })
	return chain, path
}

func TestSQLiteChainStartsAtGenesis(t *testing.T) {
	chain, _ := openTempSQLiteChain(t)
	if chain.LastHash() != GenesisHash {
		t.Fatalf("expected genesis hash, got %q", chain.LastHash())
	}
}

func TestSQLiteChainAppendAdvancesAndVerifies(t *testing.T) {
	chain, _ := openTempSQLiteChain(t)

	rec := evidence.NeutralizationRecord{ID: "e1", Signature: "sig1", Hash: "h1", Size: 10, PreviousHash: chain.LastHash(), Status: "neutralized"}
	entry, err := chain.Append(rec)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if entry.EventHash == "" {
		t.Fatal("expected a non-empty event hash")
	}
	if chain.LastHash() != entry.EventHash {
		t.Fatal("expected LastHash to advance to the new event hash")
	}

	entries, verr := chain.Verify()
	if verr != nil {
		t.Fatalf("Verify failed: %v", verr)
	}
	if len(entries) != 1 || entries[0].Record.ID != "e1" {
		t.Fatalf("unexpected verify result: %+v", entries)
	}
}

func TestSQLiteChainSurvivesReopen(t *testing.T) {
	chain, path := openTempSQLiteChain(t)

	for i := 0; i < 5; i++ {
		rec := evidence.NeutralizationRecord{
			ID: string(rune('a' + i)), Signature: "sig", Hash: "h", Size: 1,
			PreviousHash: chain.LastHash(), Status: "neutralized",
		}
		if _, err := chain.Append(rec); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}
	lastHash := chain.LastHash()
	if err := chain.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenSQLiteChain(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	if reopened.LastHash() != lastHash {
		t.Fatalf("expected LastHash to survive reopen: got %q want %q", reopened.LastHash(), lastHash)
	}
	entries, verr := reopened.Verify()
	if verr != nil {
		t.Fatalf("Verify after reopen failed: %v", verr)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
}

func TestSQLiteChainVerifyDetectsBrokenLink(t *testing.T) {
	chain, _ := openTempSQLiteChain(t)

	rec := evidence.NeutralizationRecord{ID: "e1", Signature: "sig1", Hash: "h1", Size: 10, PreviousHash: chain.LastHash(), Status: "neutralized"}
	if _, err := chain.Append(rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if _, err := chain.db.Exec(`UPDATE audit_chain SET previous_hash = 'tampered' WHERE id = 'e1'`); err != nil {
		t.Fatalf("failed to tamper with stored row: %v", err)
	}

	if _, verr := chain.Verify(); verr == nil {
		t.Fatal("expected Verify to detect a broken previous-hash link")
	}
}
