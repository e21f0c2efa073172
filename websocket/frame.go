package websocket

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"iter"

	"github.com/sugawarayuuta/sonnet"
)

// Payload size limits.
const (
	// maxControlPayload is the maximum payload length for control frames.
	// RFC 6455 Section 5.5: Control frames must have payload <= 125 bytes.
	maxControlPayload = 125

	// maxCloseReason leaves room for the 2-byte status code.
	maxCloseReason = maxControlPayload - 2

	// maxFragment is the largest payload Wrap puts in a single frame, the
	// most a 16-bit extended length can describe.
	maxFragment = 0xFFFF

	// Payload length encoding thresholds (RFC 6455 Section 5.2).
	payloadLen16Bit = 126 // 126: followed by 16-bit length
	payloadLen64Bit = 127 // 127: followed by 64-bit length
)

// Frame is one wire-level protocol unit as defined in RFC 6455 Section 5.2.
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-------+-+-------------+-------------------------------+
//	|F|R|R|R| opcode|M| Payload len |    Extended payload length    |
//	|I|S|S|S|  (4)  |A|     (7)     |             (16/64)           |
//	|N|V|V|V|       |S|             |   (if payload len==126/127)   |
//	| |1|2|3|       |K|             |                               |
//	+-+-+-+-+-------+-+-------------+ - - - - - - - - - - - - - - - +
//	|     Extended payload length continued, if payload len == 127  |
//	+ - - - - - - - - - - - - - - - +-------------------------------+
//	|                               |Masking-key, if MASK set to 1  |
//	+-------------------------------+-------------------------------+
//	| Masking-key (continued)       |          Payload Data         |
//	+-------------------------------- - - - - - - - - - - - - - - - +
//
// Frames handed out by a Parser are complete: len(Data) == Length and Data
// is already unmasked.
type Frame struct {
	Fin       bool
	Opcode    Opcode
	Extension bool // any of RSV1-3; always rejected
	Masked    bool
	Length    uint64
	Mask      [4]byte // meaningful only when Masked
	Data      []byte
}

// CloseStatus decodes the payload of a close frame.
//
// A close frame without payload reports CloseNoStatusReceived.
func (f *Frame) CloseStatus() (CloseCode, string) {
	if len(f.Data) < 2 {
		return CloseNoStatusReceived, ""
	}
	return CloseCode(binary.BigEndian.Uint16(f.Data)), string(f.Data[2:])
}

// newMaskKey returns a fresh random masking key. Tests replace it to get
// deterministic output.
var newMaskKey = func() (key [4]byte) {
	_, _ = rand.Read(key[:])
	return key
}

// Build encodes a single frame.
//
// The header is 2 bytes for payloads shorter than 126 bytes and 4 bytes with
// a 16-bit extended length up to 65535 bytes. Wrap never produces larger
// frames; Build falls back to the 64-bit form for them. When masked is set a
// fresh random key follows the header and the payload is XORed with it.
func Build(fin bool, opcode Opcode, masked bool, data []byte) []byte {
	var key [4]byte
	if masked {
		key = newMaskKey()
	}
	return buildFrame(fin, opcode, masked, key, data)
}

func buildFrame(fin bool, opcode Opcode, masked bool, key [4]byte, data []byte) []byte {
	n := len(data)

	headerLen := 2
	switch {
	case n > maxFragment:
		headerLen += 8
	case n >= payloadLen16Bit:
		headerLen += 2
	}
	if masked {
		headerLen += 4
	}

	buf := make([]byte, headerLen+n)

	// Byte 0: FIN(1) RSV(3) Opcode(4)
	if fin {
		buf[0] = 0x80
	}
	buf[0] |= byte(opcode) & 0x0F

	// Byte 1: MASK(1) PayloadLen(7), then the extended length.
	switch {
	case n < payloadLen16Bit:
		buf[1] = byte(n)
	case n <= maxFragment:
		buf[1] = payloadLen16Bit
		binary.BigEndian.PutUint16(buf[2:], uint16(n))
	default:
		buf[1] = payloadLen64Bit
		binary.BigEndian.PutUint64(buf[2:], uint64(n))
	}

	payload := buf[headerLen:]
	copy(payload, data)

	if masked {
		buf[1] |= 0x80
		copy(buf[headerLen-4:headerLen], key[:])
		applyMask(payload, key)
	}

	return buf
}

// applyMask XORs data with the masking key (RFC 6455 Section 5.3).
//
//	transformed-octet-i = original-octet-i XOR masking-key-octet-(i MOD 4)
//
// The bulk of the buffer is processed in 4-byte strides; the final 0-3 bytes
// go through the tail loop. Applying the same key twice restores the input.
func applyMask(data []byte, key [4]byte) {
	k := binary.LittleEndian.Uint32(key[:])
	n := len(data) &^ 3
	for i := 0; i < n; i += 4 {
		v := binary.LittleEndian.Uint32(data[i:])
		binary.LittleEndian.PutUint32(data[i:], v^k)
	}
	for i := n; i < len(data); i++ {
		data[i] ^= key[i&3]
	}
}

// Wrap encodes v as an outbound message and returns its frames lazily.
//
// A string becomes a Text message, a []byte a Binary message and a Message
// keeps its own type. Anything else is JSON-encoded and sent as Text.
//
// Payloads up to 65535 bytes produce one final frame. Longer payloads produce
// a non-final first frame of exactly 65535 bytes with the real opcode, then
// continuation frames of 65535 bytes, and a final continuation frame with the
// remainder. Ranging over the sequence again starts over from the first frame.
func Wrap(v any, masked bool) (iter.Seq[[]byte], error) {
	opcode, data, err := encodePayload(v)
	if err != nil {
		return nil, err
	}
	return fragments(opcode, data, masked), nil
}

func encodePayload(v any) (Opcode, []byte, error) {
	switch d := v.(type) {
	case string:
		return textPayload([]byte(d))
	case []byte:
		return OpBinary, d, nil
	case Message:
		if d.Type == TextMessage {
			return textPayload(d.Data)
		}
		return OpBinary, d.Data, nil
	case *Message:
		return encodePayload(*d)
	default:
		data, err := sonnet.Marshal(v)
		if err != nil {
			return 0, nil, fmt.Errorf("websocket: encode payload: %w", err)
		}
		return OpText, data, nil
	}
}

func textPayload(data []byte) (Opcode, []byte, error) {
	if !ValidUTF8(data) {
		return 0, nil, fmt.Errorf("%w: outbound text message", ErrInvalidUTF8)
	}
	return OpText, data, nil
}

func fragments(opcode Opcode, data []byte, masked bool) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		if len(data) <= maxFragment {
			yield(Build(true, opcode, masked, data))
			return
		}

		op := opcode
		for off := 0; off < len(data); off += maxFragment {
			end := min(off+maxFragment, len(data))
			if !yield(Build(end == len(data), op, masked, data[off:end])) {
				return
			}
			op = OpContinuation
		}
	}
}

// BuildPing returns a ping frame with an empty payload.
//
// Servers send it unmasked; a client-role connection passes masked=true.
func BuildPing(masked bool) []byte {
	return Build(true, OpPing, masked, nil)
}

// BuildPong answers ping by echoing its payload.
func BuildPong(ping *Frame, masked bool) []byte {
	return Build(true, OpPong, masked, ping.Data)
}

// BuildClose returns a close frame carrying code and an optional reason.
//
// Codes that must not be sent (see CloseCode.Sendable) are replaced with
// CloseProtocolError. The reason must be valid UTF-8 and at most 123 bytes.
func BuildClose(code CloseCode, reason string, masked bool) ([]byte, error) {
	if len(reason) > maxCloseReason {
		return nil, newProtocolError(ErrInvalidControlFrame, "close reason of %d bytes", len(reason))
	}
	if !ValidUTF8([]byte(reason)) {
		return nil, newProtocolError(ErrInvalidUTF8, "close reason")
	}

	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload, uint16(NormalizeCloseCode(code)))
	copy(payload[2:], reason)

	return Build(true, OpClose, masked, payload), nil
}
