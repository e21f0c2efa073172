package websocket

import "encoding/binary"

// Role selects the masking obligations of an endpoint (RFC 6455 Section 5.1).
//
// A server must receive masked frames and send unmasked ones; a client the
// inverse.
type Role uint8

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// OutcomeKind tells what a Parser produced for the bytes it was fed.
type OutcomeKind uint8

const (
	// NeedMore means the input was consumed without completing anything.
	NeedMore OutcomeKind = iota

	// MessageOutcome carries a complete, validated data message.
	MessageOutcome

	// ControlOutcome carries a ping, pong or close frame.
	ControlOutcome

	// ErrorOutcome carries the terminal *ProtocolError.
	ErrorOutcome
)

// Outcome is the result of feeding bytes to a Parser.
type Outcome struct {
	Kind    OutcomeKind
	Message Message // set for MessageOutcome
	Frame   *Frame  // set for ControlOutcome
	Err     error   // set for ErrorOutcome
}

type parserState uint8

const (
	expectHeader parserState = iota
	expectLength16
	expectLength64
	expectMask
	expectData
	parseFailed
)

// initialPayloadCap bounds the up-front allocation for a declared frame
// length; the buffer grows as bytes actually arrive.
const initialPayloadCap = 64 << 10

// Parser is an incremental RFC 6455 frame decoder.
//
// It accepts input in chunks of any size, including one byte at a time, and
// reassembles fragmented messages. Control frames are emitted as soon as they
// complete, also in the middle of a fragmented message. The first protocol
// violation moves the Parser into a sticky failed state: the error is
// returned again for every later call and no further input is looked at.
//
// A Parser is not safe for concurrent use.
type Parser struct {
	role  Role
	limit uint64

	state   parserState
	scratch [8]byte // header, extended length or masking key bytes
	have    int
	need    int

	frame *Frame   // frame being received
	msg   *Message // fragmented message in progress
	err   error
}

// NewParser returns a Parser for an endpoint playing role. A limit above zero
// caps the cumulative size of a single message.
func NewParser(role Role, limit uint64) *Parser {
	p := &Parser{role: role, limit: limit}
	p.reset()
	return p
}

// Err returns the terminal error, or nil while the Parser is healthy.
func (p *Parser) Err() error {
	return p.err
}

// InMessage reports whether a fragmented message is in progress.
func (p *Parser) InMessage() bool {
	return p.msg != nil
}

// FeedByte consumes a single byte.
func (p *Parser) FeedByte(b byte) Outcome {
	_, out := p.step([]byte{b})
	return out
}

// Feed consumes data and returns every message, control frame or error it
// completed, in order. NeedMore outcomes are not included. Once an error is
// returned the remaining input is discarded.
func (p *Parser) Feed(data []byte) []Outcome {
	if p.state == parseFailed {
		return []Outcome{p.failure()}
	}

	var outs []Outcome
	for len(data) > 0 {
		n, out := p.step(data)
		data = data[n:]
		if out.Kind == NeedMore {
			continue
		}
		outs = append(outs, out)
		if out.Kind == ErrorOutcome {
			break
		}
	}
	return outs
}

// step consumes a prefix of data and reports how many bytes it used.
// Header fields are consumed one byte at a time, payload bytes in bulk.
func (p *Parser) step(data []byte) (int, Outcome) {
	switch p.state {
	case parseFailed:
		return len(data), p.failure()

	case expectData:
		missing := p.frame.Length - uint64(len(p.frame.Data))
		take := len(data)
		if uint64(take) > missing {
			take = int(missing)
		}
		p.frame.Data = append(p.frame.Data, data[:take]...)
		if uint64(len(p.frame.Data)) == p.frame.Length {
			return take, p.complete()
		}
		return take, Outcome{}

	default:
		p.scratch[p.have] = data[0]
		p.have++
		if p.state == expectHeader && p.have == 1 {
			return 1, p.headerByte0(data[0])
		}
		if p.have < p.need {
			return 1, Outcome{}
		}
		return 1, p.advance()
	}
}

// headerByte0 validates FIN, RSV and opcode as soon as they arrive.
func (p *Parser) headerByte0(b byte) Outcome {
	f := &Frame{
		Fin:       b&0x80 != 0,
		Extension: b&0x70 != 0,
		Opcode:    Opcode(b & 0x0F),
	}

	switch {
	case f.Extension:
		return p.fail(newProtocolError(ErrExtensionsNotSupported, "RSV bits 0x%X", b&0x70))
	case !f.Opcode.Valid():
		return p.fail(newProtocolError(ErrUnknownFrameType, "opcode 0x%X", byte(f.Opcode)))
	case f.Opcode.IsControl() && !f.Fin:
		return p.fail(newProtocolError(ErrInvalidControlFrame, "fragmented %s frame", f.Opcode))
	case f.Opcode == OpContinuation && p.msg == nil:
		return p.fail(newProtocolError(ErrInvalidContinuationFrame, "no message in progress"))
	case (f.Opcode == OpText || f.Opcode == OpBinary) && p.msg != nil:
		return p.fail(newProtocolError(ErrContinuationFrameExpected, "%s frame inside fragmented message", f.Opcode))
	}

	p.frame = f
	return Outcome{}
}

// advance runs once the bytes wanted by the current header state are in.
func (p *Parser) advance() Outcome {
	f := p.frame

	switch p.state {
	case expectHeader:
		b := p.scratch[1]
		f.Masked = b&0x80 != 0

		if p.role == RoleServer && !f.Masked {
			return p.fail(newProtocolError(ErrMaskRoleViolation, "Unmasked frame received from the client"))
		}
		if p.role == RoleClient && f.Masked {
			return p.fail(newProtocolError(ErrMaskRoleViolation, "Masked frame received from the server"))
		}

		code := b & 0x7F
		if f.Opcode.IsControl() && code > maxControlPayload {
			return p.fail(newProtocolError(ErrInvalidControlFrame, "%s payload length code %d", f.Opcode, code))
		}

		switch code {
		case payloadLen16Bit:
			p.expect(expectLength16, 2)
			return Outcome{}
		case payloadLen64Bit:
			p.expect(expectLength64, 8)
			return Outcome{}
		}
		f.Length = uint64(code)
		return p.afterLength()

	case expectLength16:
		f.Length = uint64(binary.BigEndian.Uint16(p.scratch[:2]))
		return p.afterLength()

	case expectLength64:
		if binary.BigEndian.Uint32(p.scratch[:4]) != 0 {
			return p.fail(newProtocolError(ErrTooLongFramePayload, "length 0x%X", binary.BigEndian.Uint64(p.scratch[:8])))
		}
		f.Length = uint64(binary.BigEndian.Uint32(p.scratch[4:8]))
		return p.afterLength()

	case expectMask:
		copy(f.Mask[:], p.scratch[:4])
		return p.beginData()
	}

	return Outcome{}
}

func (p *Parser) afterLength() Outcome {
	f := p.frame

	if p.limit > 0 && f.Opcode.IsData() {
		var buffered uint64
		if p.msg != nil {
			buffered = uint64(len(p.msg.Data))
		}
		if f.Length+buffered > p.limit {
			return p.fail(newProtocolError(ErrTooLongData, "%d bytes exceed limit of %d", f.Length+buffered, p.limit))
		}
	}

	if f.Masked {
		p.expect(expectMask, 4)
		return Outcome{}
	}
	return p.beginData()
}

func (p *Parser) beginData() Outcome {
	f := p.frame
	if f.Length == 0 {
		return p.complete()
	}
	f.Data = make([]byte, 0, min(f.Length, initialPayloadCap))
	p.expect(expectData, 0)
	return Outcome{}
}

// complete processes a fully received frame and rearms for the next header.
func (p *Parser) complete() Outcome {
	f := p.frame
	p.reset()

	// f.Data was appended from the input and is owned by f alone.
	if f.Masked {
		applyMask(f.Data, f.Mask)
	}

	switch {
	case f.Opcode.IsControl():
		if f.Opcode == OpClose {
			if len(f.Data) == 1 {
				return p.fail(newProtocolError(ErrInvalidControlFrame, "close payload of 1 byte"))
			}
			if len(f.Data) > 2 && !ValidUTF8(f.Data[2:]) {
				return p.fail(newProtocolError(ErrInvalidUTF8, "close reason"))
			}
		}
		return Outcome{Kind: ControlOutcome, Frame: f}

	case f.Opcode == OpContinuation:
		p.msg.Data = append(p.msg.Data, f.Data...)
		if !f.Fin {
			return Outcome{}
		}
		msg := *p.msg
		p.msg = nil
		return p.finish(msg)

	default:
		msg := Message{Type: MessageType(f.Opcode), Data: f.Data}
		if !f.Fin {
			p.msg = &msg
			return Outcome{}
		}
		return p.finish(msg)
	}
}

func (p *Parser) finish(msg Message) Outcome {
	if msg.Type == TextMessage && !ValidUTF8(msg.Data) {
		return p.fail(newProtocolError(ErrInvalidUTF8, "text message of %d bytes", len(msg.Data)))
	}
	return Outcome{Kind: MessageOutcome, Message: msg}
}

func (p *Parser) expect(state parserState, n int) {
	p.state = state
	p.have = 0
	p.need = n
}

func (p *Parser) reset() {
	p.frame = nil
	p.expect(expectHeader, 2)
}

func (p *Parser) fail(err *ProtocolError) Outcome {
	p.state = parseFailed
	p.err = err
	p.frame = nil
	p.msg = nil
	return p.failure()
}

func (p *Parser) failure() Outcome {
	return Outcome{Kind: ErrorOutcome, Err: p.err}
}
