// Package ipc implements Tracehound's length-prefixed binary IPC protocol
// (parent <-> hound) and the process adapter that spawns, feeds, and kills
// hound children over stdin/stdout pipes.
//
// Frame: a 4-byte big-endian length prefix followed by that many payload
// bytes. Two structured, minimally-encoded message types ride inside a
// frame's payload — Status and Metrics — never structured text.
package ipc

import (
	"encoding/binary"
	"math"

	"github.com/tracehound/tracehound/internal/errs"
)

// MaxFramePayload is the largest payload a single frame may carry.
// Framing beyond this limit must reject.
const MaxFramePayload = 1 << 20 // 1 MiB

// MessageType identifies the structured payload carried by a frame.
type MessageType byte

const (
	MessageStatus  MessageType = 0x01
	MessageMetrics MessageType = 0x02
)

// ProcessState is the Status message's state byte.
type ProcessState byte

const (
	StateProcessing ProcessState = 0x01
	StateComplete   ProcessState = 0x02
	StateError      ProcessState = 0x03
)

// StatusMessage is decoded/encoded as: 0x01 | state byte | optional UTF-8
// error suffix.
type StatusMessage struct {
	State   ProcessState
	ErrText string // only meaningful when State == StateError
}

// MetricsMessage is decoded/encoded as: 0x02 | 8-byte BE double
// processingTime | 8-byte BE double memoryUsed.
type MetricsMessage struct {
	ProcessingTimeMs float64
	MemoryUsedBytes  float64
}

// EncodeFrame wraps payload in a 4-byte big-endian length prefix. It fails
// if payload exceeds MaxFramePayload.
func EncodeFrame(payload []byte) ([]byte, *errs.Error) {
	if len(payload) > MaxFramePayload {
		return nil, errs.New(errs.DomainProcess, errs.ProcessCrashed, "frame payload exceeds maximum size")
	}
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out[:4], uint32(len(payload)))
	copy(out[4:], payload)
	return out, nil
}

// EncodeStatus serializes a StatusMessage into a frame payload.
func EncodeStatus(m StatusMessage) []byte {
	if m.State != StateError || m.ErrText == "" {
		return []byte{byte(MessageStatus), byte(m.State)}
	}
	out := make([]byte, 2+len(m.ErrText))
	out[0] = byte(MessageStatus)
	out[1] = byte(m.State)
	copy(out[2:], m.ErrText)
	return out
}

// EncodeMetrics serializes a MetricsMessage into a frame payload.
func EncodeMetrics(m MetricsMessage) []byte {
	out := make([]byte, 17)
	out[0] = byte(MessageMetrics)
	binary.BigEndian.PutUint64(out[1:9], math.Float64bits(m.ProcessingTimeMs))
	binary.BigEndian.PutUint64(out[9:17], math.Float64bits(m.MemoryUsedBytes))
	return out
}

// Message is the decoded union of a frame's payload.
type Message struct {
	Type    MessageType
	Status  StatusMessage
	Metrics MetricsMessage
}

// DecodeMessage parses a single frame's payload into a typed Message.
func DecodeMessage(payload []byte) (Message, *errs.Error) {
	if len(payload) == 0 {
		return Message{}, errs.New(errs.DomainProcess, errs.ProcessCrashed, "empty frame payload")
	}
	switch MessageType(payload[0]) {
	case MessageStatus:
		if len(payload) < 2 {
			return Message{}, errs.New(errs.DomainProcess, errs.ProcessCrashed, "status frame too short")
		}
		m := StatusMessage{State: ProcessState(payload[1])}
		if m.State == StateError && len(payload) > 2 {
			m.ErrText = string(payload[2:])
		}
		return Message{Type: MessageStatus, Status: m}, nil
	case MessageMetrics:
		if len(payload) != 17 {
			return Message{}, errs.New(errs.DomainProcess, errs.ProcessCrashed, "metrics frame has wrong length")
		}
		m := MetricsMessage{
			ProcessingTimeMs: math.Float64frombits(binary.BigEndian.Uint64(payload[1:9])),
			MemoryUsedBytes:  math.Float64frombits(binary.BigEndian.Uint64(payload[9:17])),
		}
		return Message{Type: MessageMetrics, Metrics: m}, nil
	default:
		return Message{}, errs.New(errs.DomainProcess, errs.ProcessCrashed, "unknown message type")
	}
}

// StreamParser accumulates bytes from a stream (e.g. a child's stdout) and
// emits complete frames as they become available. Partial frames remain
// buffered across Feed calls.
type StreamParser struct {
	buf []byte
}

// NewStreamParser returns an empty StreamParser.
func NewStreamParser() *StreamParser {
	return &StreamParser{}
}

// Feed appends chunk to the internal buffer and returns every frame
// payload that is now complete, in order. Arbitrary chunking of a valid
// byte stream always reproduces the same sequence of emitted payloads.
func (p *StreamParser) Feed(chunk []byte) ([][]byte, *errs.Error) {
	p.buf = append(p.buf, chunk...)

	var out [][]byte
	for {
		if len(p.buf) < 4 {
			break
		}
		length := binary.BigEndian.Uint32(p.buf[:4])
		if length > MaxFramePayload {
			return out, errs.New(errs.DomainProcess, errs.ProcessCrashed, "frame length exceeds maximum")
		}
		total := 4 + int(length)
		if len(p.buf) < total {
			break
		}
		payload := make([]byte, length)
		copy(payload, p.buf[4:total])
		out = append(out, payload)
		p.buf = p.buf[total:]
	}
	return out, nil
}

// Reset discards any buffered partial-frame bytes.
func (p *StreamParser) Reset() {
	p.buf = nil
}
