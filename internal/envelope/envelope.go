// Package envelope implements Tracehound's self-describing binary framing
// around a compressed payload for object-store persistence: 78 fixed
// header bytes (magic, version, sizes, hash) followed by exactly
// compressedSize compressed bytes. Endianness is big-endian throughout,
// matching the length-prefixed framing discipline used elsewhere in the
// reference corpus's transport code.
package envelope

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/tracehound/tracehound/internal/codec"
)

const (
	// HeaderSize is the fixed envelope header length in bytes.
	HeaderSize = 78

	magicSize   = 4
	versionSize = 2
	sizeFieldSize = 4
	hashHexSize = 64

	// Version is the only envelope format version this package packs or
	// accepts on unpack.
	Version uint16 = 1
)

// Magic is the 4-byte envelope magic, ASCII "THCS".
var Magic = [magicSize]byte{'T', 'H', 'C', 'S'}

// Pack serializes ep into a self-describing envelope: 78 header bytes
// followed by ep.Compressed. The result is always 78+len(ep.Compressed)
// bytes.
func Pack(ep codec.EncodedPayload) []byte {
	out := make([]byte, HeaderSize+len(ep.Compressed))
	copy(out[0:magicSize], Magic[:])
	binary.BigEndian.PutUint16(out[4:6], Version)
	binary.BigEndian.PutUint32(out[6:10], uint32(ep.OriginalSize))
	binary.BigEndian.PutUint32(out[10:14], uint32(ep.CompressedSize))
	copy(out[14:14+hashHexSize], []byte(ep.Hash))
	copy(out[HeaderSize:], ep.Compressed)
	return out
}

// Unpack parses an envelope produced by Pack. It returns ok=false (never an
// error) if the buffer is too short, the magic or version do not match, the
// declared compressedSize does not account for the full buffer length, or
// compressedSize is zero in a buffer longer than the header. Unpack does
// not mutate buf; the returned EncodedPayload holds its own copy of the
// compressed bytes. Callers must still call Verify before decoding.
func Unpack(buf []byte) (ep codec.EncodedPayload, ok bool) {
	if len(buf) < HeaderSize {
		return codec.EncodedPayload{}, false
	}
	if [magicSize]byte(buf[0:magicSize]) != Magic {
		return codec.EncodedPayload{}, false
	}
	version := binary.BigEndian.Uint16(buf[4:6])
	if version != Version {
		return codec.EncodedPayload{}, false
	}
	originalSize := binary.BigEndian.Uint32(buf[6:10])
	compressedSize := binary.BigEndian.Uint32(buf[10:14])
	hash := string(buf[14 : 14+hashHexSize])

	if uint64(HeaderSize)+uint64(compressedSize) != uint64(len(buf)) {
		return codec.EncodedPayload{}, false
	}
	if compressedSize == 0 && len(buf) > HeaderSize {
		return codec.EncodedPayload{}, false
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return codec.EncodedPayload{}, false
	}

	compressed := make([]byte, compressedSize)
	copy(compressed, buf[HeaderSize:])

	return codec.EncodedPayload{
		Compressed:     compressed,
		Hash:           hash,
		OriginalSize:   int(originalSize),
		CompressedSize: int(compressedSize),
	}, true
}
