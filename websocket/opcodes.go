// Package websocket implements the RFC 6455 WebSocket protocol engine.
//
// The package is split into layers that can be used independently:
//   - a UTF-8 validator used for text payloads and close reasons
//   - the Frame wire codec (Build, Wrap and the control frame constructors)
//   - an incremental Parser that consumes an arbitrarily chunked byte stream
//   - Conn, which couples a socket with a Parser and an outbound write pipeline
//   - Host and Channel, the registry of live connections used for broadcast
//
// Extensions (permessage-deflate etc.) are rejected, not negotiated.
//
// RFC Reference: https://datatracker.ietf.org/doc/html/rfc6455
package websocket

// Opcode is the 4-bit frame operation code (RFC 6455 Section 5.2).
//
// Opcodes 0x0-0x2 are data frames, 0x8-0xA are control frames.
// Opcodes 0x3-0x7 and 0xB-0xF are reserved.
type Opcode byte

const (
	// OpContinuation continues a fragmented message (RFC 6455 Section 5.4).
	OpContinuation Opcode = 0x0

	// OpText carries UTF-8 text (RFC 6455 Section 5.6).
	OpText Opcode = 0x1

	// OpBinary carries arbitrary bytes (RFC 6455 Section 5.6).
	OpBinary Opcode = 0x2

	// OpClose starts or answers the closing handshake (RFC 6455 Section 5.5.1).
	OpClose Opcode = 0x8

	// OpPing is a keepalive probe (RFC 6455 Section 5.5.2).
	OpPing Opcode = 0x9

	// OpPong answers a ping with the same payload (RFC 6455 Section 5.5.3).
	OpPong Opcode = 0xA
)

// IsControl reports whether the opcode denotes a control frame.
//
// Control frames have the most significant opcode bit set. They must not be
// fragmented, carry at most 125 bytes and may be interleaved with the frames
// of a fragmented data message.
func (op Opcode) IsControl() bool {
	return op&0x08 != 0
}

// IsData reports whether the opcode is one of the three data opcodes.
func (op Opcode) IsData() bool {
	return op == OpContinuation || op == OpText || op == OpBinary
}

// Valid reports whether the opcode is defined by RFC 6455.
func (op Opcode) Valid() bool {
	switch op {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	default:
		return false
	}
}

func (op Opcode) String() string {
	switch op {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return "reserved"
	}
}
