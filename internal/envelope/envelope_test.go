package envelope

import (
	"context"
	"testing"

	"github.com/tracehound/tracehound/internal/codec"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	ep, err := codec.NewSyncHotCodec().EncodeWithIntegrity(context.Background(), []byte("evidence bytes go here"))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	buf := Pack(ep)
	if len(buf) != HeaderSize+len(ep.Compressed) {
		t.Fatalf("unexpected envelope length: got %d want %d", len(buf), HeaderSize+len(ep.Compressed))
	}

	unpacked, ok := Unpack(buf)
	if !ok {
		t.Fatal("expected Unpack to succeed on a freshly packed envelope")
	}
	if unpacked.Hash != ep.Hash || unpacked.OriginalSize != ep.OriginalSize || unpacked.CompressedSize != ep.CompressedSize {
		t.Fatalf("unpacked fields do not match: got %+v want %+v", unpacked, ep)
	}
}

func TestUnpackRejectsTruncatedBuffer(t *testing.T) {
	if _, ok := Unpack(make([]byte, HeaderSize-1)); ok {
		t.Fatal("expected Unpack to reject a buffer shorter than the header")
	}
}

func TestUnpackRejectsBadMagic(t *testing.T) {
	buf := Pack(codec.EncodedPayload{Compressed: []byte("x"), Hash: "00"})
	buf[0] = 'X'
	if _, ok := Unpack(buf); ok {
		t.Fatal("expected Unpack to reject a bad magic")
	}
}

func TestUnpackRejectsSizeMismatch(t *testing.T) {
	buf := Pack(codec.EncodedPayload{Compressed: []byte("hello"), Hash: "00"})
	truncated := buf[:len(buf)-1]
	if _, ok := Unpack(truncated); ok {
		t.Fatal("expected Unpack to reject a buffer whose length disagrees with the declared compressed size")
	}
}
