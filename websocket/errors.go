package websocket

import (
	"errors"
	"fmt"
)

// Protocol violations (RFC 6455 Section 5 and 7.4.1). Every one of them is
// fatal to the connection that produced it.
var (
	// ErrExtensionsNotSupported indicates RSV1/RSV2/RSV3 bits are set.
	// No extension is ever negotiated, so any reserved bit is a violation.
	ErrExtensionsNotSupported = errors.New("websocket: extensions not supported")

	// ErrUnknownFrameType indicates a reserved opcode (0x3-0x7, 0xB-0xF).
	ErrUnknownFrameType = errors.New("websocket: unknown frame type")

	// ErrInvalidControlFrame indicates a fragmented control frame, a control
	// payload larger than 125 bytes, or a close payload of a single byte.
	ErrInvalidControlFrame = errors.New("websocket: invalid control frame")

	// ErrInvalidContinuationFrame indicates a continuation frame with no
	// fragmented message in progress.
	ErrInvalidContinuationFrame = errors.New("websocket: invalid continuation frame")

	// ErrContinuationFrameExpected indicates a new text or binary frame while a
	// fragmented message is still in progress.
	ErrContinuationFrameExpected = errors.New("websocket: continuation frame expected")

	// ErrMaskRoleViolation indicates an unmasked frame from a client or a
	// masked frame from a server (RFC 6455 Section 5.1).
	ErrMaskRoleViolation = errors.New("websocket: mask role violation")

	// ErrTooLongFramePayload indicates a 64-bit length whose upper 32 bits are
	// not zero. Single frames are capped at 4 GiB.
	ErrTooLongFramePayload = errors.New("websocket: frame payload too long")

	// ErrTooLongData indicates the cumulative message size exceeds Config.Limit.
	ErrTooLongData = errors.New("websocket: message exceeds size limit")

	// ErrInvalidUTF8 indicates a text message or close reason that is not
	// valid UTF-8 (RFC 6455 Section 8.1).
	ErrInvalidUTF8 = errors.New("websocket: invalid UTF-8")
)

// Handshake errors (RFC 6455 Section 4). They never reach a Conn.
var (
	// ErrHandshakeRejected is matched by every *HandshakeError.
	ErrHandshakeRejected = errors.New("websocket: handshake rejected")

	// ErrInvalidMethod indicates the upgrade request is not a GET.
	ErrInvalidMethod = errors.New("websocket: method must be GET")

	// ErrMissingUpgrade indicates a missing or invalid Upgrade header.
	ErrMissingUpgrade = errors.New("websocket: missing or invalid Upgrade header")

	// ErrMissingSecKey indicates a missing Sec-WebSocket-Key header.
	ErrMissingSecKey = errors.New("websocket: missing Sec-WebSocket-Key header")

	// ErrInvalidVersion indicates a Sec-WebSocket-Version other than 13.
	ErrInvalidVersion = errors.New("websocket: unsupported WebSocket version")

	// ErrOriginDenied indicates an Origin outside the configured allowlist.
	ErrOriginDenied = errors.New("websocket: origin not allowed")

	// ErrTooManyHandshakes indicates the handshake rate limit was exceeded.
	ErrTooManyHandshakes = errors.New("websocket: too many handshakes")

	// ErrHijackFailed indicates the HTTP connection cannot be hijacked.
	ErrHijackFailed = errors.New("websocket: cannot hijack connection")

	// ErrBadAccept indicates the server answered with a wrong Sec-WebSocket-Accept.
	ErrBadAccept = errors.New("websocket: Sec-WebSocket-Accept mismatch")

	// ErrBadStatus indicates the server did not answer 101 Switching Protocols.
	ErrBadStatus = errors.New("websocket: unexpected handshake status")
)

// Runtime errors.
var (
	// ErrClosed indicates the connection is closing or already closed.
	ErrClosed = errors.New("websocket: connection closed")

	// ErrHostClosed indicates the Host no longer accepts connections.
	ErrHostClosed = errors.New("websocket: host closed")

	// ErrChannelClosed indicates the Channel lost its last member and was
	// removed from its Host.
	ErrChannelClosed = errors.New("websocket: channel closed")

	// ErrForeignConn indicates a Channel was asked to bind a connection not
	// accepted by its Host.
	ErrForeignConn = errors.New("websocket: connection belongs to another host")

	// ErrHandlerPanic is wrapped by the error reported for a panicking handler
	// or callback.
	ErrHandlerPanic = errors.New("websocket: handler panic")
)

// errorKinds names each protocol violation for logs and metric labels.
var errorKinds = map[error]string{
	ErrExtensionsNotSupported:    "extensions_not_supported",
	ErrUnknownFrameType:          "unknown_frame_type",
	ErrInvalidControlFrame:       "invalid_control_frame",
	ErrInvalidContinuationFrame:  "invalid_continuation_frame",
	ErrContinuationFrameExpected: "continuation_frame_expected",
	ErrMaskRoleViolation:         "mask_role_violation",
	ErrTooLongFramePayload:       "too_long_frame_payload",
	ErrTooLongData:               "too_long_data",
	ErrInvalidUTF8:               "invalid_utf8",
}

// ProtocolError is the terminal error surfaced by a Parser.
type ProtocolError struct {
	// Err is one of the protocol sentinel errors.
	Err error

	// Reason describes the offending input.
	Reason string
}

func newProtocolError(err error, format string, args ...any) *ProtocolError {
	return &ProtocolError{Err: err, Reason: fmt.Sprintf(format, args...)}
}

func (e *ProtocolError) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Kind returns a stable snake_case name for the violation.
func (e *ProtocolError) Kind() string {
	if kind, ok := errorKinds[e.Err]; ok {
		return kind
	}
	return "unknown"
}

// CloseCode maps the violation to the status sent in the Close frame.
func (e *ProtocolError) CloseCode() CloseCode {
	switch {
	case errors.Is(e.Err, ErrInvalidUTF8):
		return CloseInvalidFramePayloadData
	case errors.Is(e.Err, ErrTooLongData):
		return CloseMessageTooBig
	default:
		return CloseProtocolError
	}
}

// HandshakeError is returned when an upgrade is refused. The socket has
// already been answered with Status and closed.
type HandshakeError struct {
	Status int
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("%s (%d): %v", ErrHandshakeRejected, e.Status, e.Err)
}

// Unwrap lets errors.Is match both ErrHandshakeRejected and the cause.
func (e *HandshakeError) Unwrap() []error {
	return []error{ErrHandshakeRejected, e.Err}
}
