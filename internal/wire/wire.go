// Package wire implements the UDP media-stream frame layout: the START
// handshake literal, and the 26-byte data/control header plus its trailing
// body. Every operation here works on a borrowed byte slice — the codec
// never allocates.
package wire

import "encoding/binary"

// ConnIDLen is the fixed width of a connection identifier, matching the
// 12-byte form produced by internal/connid.
const ConnIDLen = 12

// Frame offsets, per spec: a 26-byte common prefix shared by every frame
// type, followed by a type-specific body.
const (
	flagOffset      = 0
	flagSize        = 2
	seqOffset       = 2
	seqSize         = 8
	senderQPCOffset = 10
	senderQPCSize   = 8
	senderQPFOffset = 18
	senderQPFSize   = 8

	// HeaderSize is the size of the common prefix every frame carries.
	HeaderSize = senderQPFOffset + senderQPFSize // 26

	// Control frame body: version(1) | flags(1) | reserved(2) | conn-id.
	ctrlVersionOffset  = HeaderSize
	ctrlFlagsOffset    = HeaderSize + 1
	ctrlReservedOffset = HeaderSize + 2
	ctrlConnIDOffset   = HeaderSize + 4

	// ControlBodySize is the size of the control frame body (after the
	// common 26-byte prefix).
	ControlBodySize = 4 + ConnIDLen

	// ControlFrameSize is a full control (ID) frame's total size.
	ControlFrameSize = HeaderSize + ControlBodySize
)

// StartLiteral is the bare 5-byte ASCII handshake datagram, carrying no
// header of its own.
const StartLiteral = "START"

// FrameType classifies a received datagram.
type FrameType uint16

const (
	FrameUnknown FrameType = iota
	FrameStart             // the literal "START" bytes (synthetic; never on the wire header)
	FrameData
	FrameID
	FrameSyn
	FrameSynAck
	FrameAck
)

func (t FrameType) String() string {
	switch t {
	case FrameStart:
		return "START"
	case FrameData:
		return "DATA"
	case FrameID:
		return "ID"
	case FrameSyn:
		return "SYN"
	case FrameSynAck:
		return "SYN_ACK"
	case FrameAck:
		return "ACK"
	default:
		return "UNKNOWN"
	}
}

// wire-level flag codes for the 2-byte protocol flag field. Values are
// arbitrary but stable for the lifetime of a build.
const (
	flagData    uint16 = 1
	flagID      uint16 = 2
	flagSyn     uint16 = 3
	flagSynAck  uint16 = 4
	flagAck     uint16 = 5
)

func flagToType(f uint16) FrameType {
	switch f {
	case flagData:
		return FrameData
	case flagID:
		return FrameID
	case flagSyn:
		return FrameSyn
	case flagSynAck:
		return FrameSynAck
	case flagAck:
		return FrameAck
	default:
		return FrameUnknown
	}
}

func typeToFlag(t FrameType) uint16 {
	switch t {
	case FrameData:
		return flagData
	case FrameID:
		return flagID
	case FrameSyn:
		return flagSyn
	case FrameSynAck:
		return flagSynAck
	case FrameAck:
		return flagAck
	default:
		return 0
	}
}

// ParseResult is the classification of one received datagram.
type ParseResult struct {
	Type      FrameType
	Seq       int64
	SenderQPC uint64
	SenderQPF uint64
}

// BuildStart returns the literal START handshake datagram.
func BuildStart() []byte {
	return []byte(StartLiteral)
}

// IsStart reports whether buf[:n] is exactly the START literal.
func IsStart(buf []byte, n int) bool {
	return n == len(StartLiteral) && string(buf[:n]) == StartLiteral
}

// Parse classifies buf[:n]. It never allocates and never panics on short
// buffers — callers must call ValidateBufferLength before trusting fields
// beyond the 2-byte flag.
func Parse(buf []byte, n int) ParseResult {
	if IsStart(buf, n) {
		return ParseResult{Type: FrameStart}
	}
	if n < flagSize {
		return ParseResult{Type: FrameUnknown}
	}
	ft := flagToType(binary.LittleEndian.Uint16(buf[flagOffset:]))
	res := ParseResult{Type: ft}
	if ft == FrameUnknown {
		return res
	}
	if n >= seqOffset+seqSize {
		res.Seq = int64(binary.LittleEndian.Uint64(buf[seqOffset:]))
	}
	if n >= senderQPCOffset+senderQPCSize {
		res.SenderQPC = binary.LittleEndian.Uint64(buf[senderQPCOffset:])
	}
	if n >= senderQPFOffset+senderQPFSize {
		res.SenderQPF = binary.LittleEndian.Uint64(buf[senderQPFOffset:])
	}
	return res
}

// ValidateBufferLength confirms a completed receive carries enough bytes
// for its declared protocol flag, per spec's two pinned length invariants:
// DATA needs a full header plus at least one payload byte; ID needs only
// the 2-byte flag plus the connection-id length.
func ValidateBufferLength(ft FrameType, n int) bool {
	switch ft {
	case FrameData:
		return n >= HeaderSize+1
	case FrameID:
		return n >= flagSize+ConnIDLen
	default:
		return true
	}
}

// BuildDataHeader writes the common 26-byte prefix for a DATA frame into
// buf (which must be at least HeaderSize bytes); the payload is left to
// the caller, starting at buf[HeaderSize:].
func BuildDataHeader(buf []byte, seq int64, senderQPC, senderQPF uint64) {
	binary.LittleEndian.PutUint16(buf[flagOffset:], flagData)
	binary.LittleEndian.PutUint64(buf[seqOffset:], uint64(seq))
	binary.LittleEndian.PutUint64(buf[senderQPCOffset:], senderQPC)
	binary.LittleEndian.PutUint64(buf[senderQPFOffset:], senderQPF)
}

// BuildConnectionID overwrites the first two bytes of buf with the ID
// flag and writes the control body (version/flags/reserved/connection-id)
// right after the HeaderSize-byte header. buf must be at least
// ControlFrameSize bytes.
func BuildConnectionID(buf []byte, connID [ConnIDLen]byte) {
	binary.LittleEndian.PutUint16(buf[flagOffset:], flagID)
	buf[ctrlVersionOffset] = 1
	buf[ctrlFlagsOffset] = 0
	binary.LittleEndian.PutUint16(buf[ctrlReservedOffset:], 0)
	copy(buf[ctrlConnIDOffset:ctrlConnIDOffset+ConnIDLen], connID[:])
}

// ExtractSequenceNumber reads the 8-byte sequence field. Callers must have
// already validated the buffer length for a DATA frame.
func ExtractSequenceNumber(buf []byte) int64 {
	return int64(binary.LittleEndian.Uint64(buf[seqOffset:]))
}

// ExtractSenderTimestamp reads the sender QPC/QPF pair.
func ExtractSenderTimestamp(buf []byte) (qpc, qpf uint64) {
	return binary.LittleEndian.Uint64(buf[senderQPCOffset:]), binary.LittleEndian.Uint64(buf[senderQPFOffset:])
}

// ConnectionIDFrom copies the connection id out of an ID frame's control
// body. Callers must have already validated the buffer length.
func ConnectionIDFrom(buf []byte) [ConnIDLen]byte {
	var out [ConnIDLen]byte
	if len(buf) >= ctrlConnIDOffset+ConnIDLen {
		copy(out[:], buf[ctrlConnIDOffset:ctrlConnIDOffset+ConnIDLen])
		return out
	}
	// Short form: flag(2) followed immediately by the connection id, used
	// by validate_buffer_length_from_task's "2 + connection_id_length"
	// rule when no full header/control prefix is present.
	copy(out[:], buf[flagSize:flagSize+ConnIDLen])
	return out
}
