package coldstorage

import (
	"context"
	"testing"

	"github.com/tracehound/tracehound/internal/codec"
)

func newFilesystemAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := NewFilesystem(t.TempDir(), "evidence/")
	if err != nil {
		t.Fatalf("NewFilesystem failed: %v", err)
	}
	return a
}

func TestFilesystemWriteReadRoundTrip(t *testing.T) {
	a := newFilesystemAdapter(t)
	ctx := context.Background()

	ep, err := codec.NewSyncHotCodec().EncodeWithIntegrity(ctx, []byte("cold storage payload"))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	wr := a.Write(ctx, "obj-1", ep)
	if !wr.Success {
		t.Fatalf("Write failed: %v", wr.Err)
	}

	rr := a.Read(ctx, "obj-1")
	if !rr.Success {
		t.Fatalf("Read failed: %v", rr.Err)
	}
	if rr.Payload.Hash != ep.Hash {
		t.Fatalf("hash mismatch: got %q want %q", rr.Payload.Hash, ep.Hash)
	}

	cold := codec.NewSyncColdCodec()
	if !cold.Verify(rr.Payload) {
		t.Fatal("expected the round-tripped payload to verify")
	}
	decoded, derr := cold.DecodeWithIntegrity(ctx, rr.Payload)
	if derr != nil {
		t.Fatalf("decode failed: %v", derr)
	}
	if string(decoded) != "cold storage payload" {
		t.Fatalf("unexpected decoded payload: %q", decoded)
	}
}

func TestFilesystemReadMissingObject(t *testing.T) {
	a := newFilesystemAdapter(t)
	rr := a.Read(context.Background(), "does-not-exist")
	if rr.Success {
		t.Fatal("expected Read of a missing object to fail")
	}
}

func TestFilesystemDeleteIsIdempotent(t *testing.T) {
	a := newFilesystemAdapter(t)
	ctx := context.Background()
	ep, _ := codec.NewSyncHotCodec().EncodeWithIntegrity(ctx, []byte("x"))
	a.Write(ctx, "obj-2", ep)

	if !a.Delete(ctx, "obj-2") {
		t.Fatal("expected first delete to succeed")
	}
	if !a.Delete(ctx, "obj-2") {
		t.Fatal("expected second delete of an already-absent object to also succeed")
	}
}

func TestFilesystemIsAvailable(t *testing.T) {
	a := newFilesystemAdapter(t)
	if !a.IsAvailable(context.Background()) {
		t.Fatal("expected a freshly created directory to be available")
	}
}
