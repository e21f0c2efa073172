package websocket

import "errors"

// MessageType represents WebSocket message type.
//
// WebSocket supports two application message types (RFC 6455 Section 5.6):
// - Text (UTF-8 encoded text).
// - Binary (arbitrary binary data).
type MessageType int

const (
	// TextMessage represents a UTF-8 text message (opcode 0x1).
	TextMessage MessageType = MessageType(OpText)

	// BinaryMessage represents a binary data message (opcode 0x2).
	BinaryMessage MessageType = MessageType(OpBinary)
)

// String returns string representation of message type.
func (mt MessageType) String() string {
	switch mt {
	case TextMessage:
		return "Text"
	case BinaryMessage:
		return "Binary"
	default:
		return "Unknown"
	}
}

// Message is one logical payload assembled from one or more frames.
//
// Data of a TextMessage has been validated as UTF-8.
type Message struct {
	Type MessageType
	Data []byte
}

// Text returns the payload as a string.
func (m Message) Text() string {
	return string(m.Data)
}

// CloseCode represents WebSocket close status codes (RFC 6455 Section 7.4).
type CloseCode int

const (
	// CloseNormalClosure indicates normal closure (1000).
	CloseNormalClosure CloseCode = 1000

	// CloseGoingAway indicates endpoint going away (1001).
	// Server shutting down or browser navigating away.
	CloseGoingAway CloseCode = 1001

	// CloseProtocolError indicates protocol error (1002).
	// Also the status every invalid outgoing code is normalized to.
	CloseProtocolError CloseCode = 1002

	// CloseUnsupportedData indicates unsupported data type (1003).
	CloseUnsupportedData CloseCode = 1003

	// 1004 is reserved and MUST NOT be used.

	// CloseNoStatusReceived indicates a close frame without status (1005).
	// Reserved: never sent on the wire.
	CloseNoStatusReceived CloseCode = 1005

	// CloseAbnormalClosure indicates the socket closed without a close frame (1006).
	// Reserved: never sent on the wire.
	CloseAbnormalClosure CloseCode = 1006

	// CloseInvalidFramePayloadData indicates invalid payload such as bad UTF-8 (1007).
	CloseInvalidFramePayloadData CloseCode = 1007

	// ClosePolicyViolation indicates policy violation (1008).
	ClosePolicyViolation CloseCode = 1008

	// CloseMessageTooBig indicates message too large (1009).
	CloseMessageTooBig CloseCode = 1009

	// CloseMandatoryExtension indicates missing extension (1010).
	CloseMandatoryExtension CloseCode = 1010

	// CloseInternalServerErr indicates internal server error (1011).
	CloseInternalServerErr CloseCode = 1011
)

// String returns string representation of close code.
func (cc CloseCode) String() string {
	switch cc {
	case CloseNormalClosure:
		return "Normal Closure"
	case CloseGoingAway:
		return "Going Away"
	case CloseProtocolError:
		return "Protocol Error"
	case CloseUnsupportedData:
		return "Unsupported Data"
	case CloseNoStatusReceived:
		return "No Status Received"
	case CloseAbnormalClosure:
		return "Abnormal Closure"
	case CloseInvalidFramePayloadData:
		return "Invalid Frame Payload Data"
	case ClosePolicyViolation:
		return "Policy Violation"
	case CloseMessageTooBig:
		return "Message Too Big"
	case CloseMandatoryExtension:
		return "Mandatory Extension"
	case CloseInternalServerErr:
		return "Internal Server Error"
	default:
		return "Unknown"
	}
}

// Sendable reports whether the code may appear in an outgoing close frame.
//
// Codes below 1000, 1004-1006, 1012-2999 and 5000 and above are not.
func (cc CloseCode) Sendable() bool {
	switch {
	case cc < 1000 || cc >= 5000:
		return false
	case cc >= 1004 && cc <= 1006:
		return false
	case cc >= 1012 && cc <= 2999:
		return false
	default:
		return true
	}
}

// NormalizeCloseCode returns code, or CloseProtocolError when code must not
// be sent.
func NormalizeCloseCode(code CloseCode) CloseCode {
	if !code.Sendable() {
		return CloseProtocolError
	}
	return code
}

// IsCloseError checks if error represents a closed connection.
func IsCloseError(err error) bool {
	return err != nil && errors.Is(err, ErrClosed)
}
