package websocket

import (
	"bytes"
	"encoding/binary"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBuildClose_Normal tests the wire form of a normal close frame.
// RFC 6455 Section 5.5.1: the payload starts with a 2-byte status code.
func TestBuildClose_Normal(t *testing.T) {
	frame, err := BuildClose(CloseNormalClosure, "", false)
	require.NoError(t, err)

	assert.Equal(t, []byte{0x88, 0x02, 0x03, 0xE8}, frame)
}

// TestBuildClose_Normalization tests that codes which must not be sent are
// replaced with 1002. RFC 6455 Section 7.4.1.
func TestBuildClose_Normalization(t *testing.T) {
	for _, code := range []CloseCode{0, 999, 1004, 1005, 1006, 1012, 1015, 2999, 5000, 65535} {
		frame, err := BuildClose(code, "", false)
		require.NoError(t, err, "code %d", code)
		assert.Equal(t, uint16(CloseProtocolError), binary.BigEndian.Uint16(frame[2:4]), "code %d", code)
	}

	for _, code := range []CloseCode{1000, 1001, 1003, 1007, 1011, 3000, 4000, 4999} {
		frame, err := BuildClose(code, "", false)
		require.NoError(t, err)
		assert.Equal(t, uint16(code), binary.BigEndian.Uint16(frame[2:4]), "code %d", code)
	}
}

// TestBuildClose_Reason tests close reasons.
// RFC 6455 Section 5.5: control payloads are at most 125 bytes.
func TestBuildClose_Reason(t *testing.T) {
	frame, err := BuildClose(CloseGoingAway, "bye", false)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x88, 0x05, 0x03, 0xE9, 'b', 'y', 'e'}, frame)

	_, err = BuildClose(CloseNormalClosure, string(bytes.Repeat([]byte("x"), 123)), false)
	assert.NoError(t, err)

	_, err = BuildClose(CloseNormalClosure, string(bytes.Repeat([]byte("x"), 124)), false)
	assert.ErrorIs(t, err, ErrInvalidControlFrame)

	_, err = BuildClose(CloseNormalClosure, "\xC0\xAF", false)
	assert.ErrorIs(t, err, ErrInvalidUTF8)
}

// TestBuild_HeaderSizes tests the three payload length encodings.
// RFC 6455 Section 5.2.
func TestBuild_HeaderSizes(t *testing.T) {
	tests := []struct {
		size   int
		header int
		code   byte
	}{
		{0, 2, 0},
		{1, 2, 1},
		{125, 2, 125},
		{126, 4, 126},
		{65535, 4, 126},
		{65536, 10, 127},
	}

	for _, tt := range tests {
		data := make([]byte, tt.size)

		frame := Build(true, OpBinary, false, data)
		assert.Len(t, frame, tt.header+tt.size, "size %d", tt.size)
		assert.Equal(t, tt.code, frame[1]&0x7F, "size %d", tt.size)
		assert.Zero(t, frame[1]&0x80, "unmasked")

		masked := Build(true, OpBinary, true, data)
		assert.Len(t, masked, tt.header+4+tt.size, "masked size %d", tt.size)
		assert.NotZero(t, masked[1]&0x80, "masked")
	}
}

// TestBuild_Masked tests that the payload is masked with the key in the header.
func TestBuild_Masked(t *testing.T) {
	key := [4]byte{0x37, 0xFA, 0x21, 0x3D}
	fixMaskKey(t, key)

	frame := Build(true, OpText, true, []byte("Hello"))
	require.Len(t, frame, 2+4+5)

	assert.Equal(t, byte(0x81), frame[0])
	assert.Equal(t, byte(0x85), frame[1])
	assert.Equal(t, key[:], frame[2:6])
	// RFC 6455 Section 5.7 example.
	assert.Equal(t, []byte{0x7F, 0x9F, 0x4D, 0x51, 0x58}, frame[6:])
}

// TestApplyMask_Involution tests xor(xor(buf, mask), mask) == buf.
func TestApplyMask_Involution(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))

	for _, size := range []int{0, 1, 3, 4, 5, 7, 8, 63, 64, 1000, 4097} {
		buf := make([]byte, size)
		for i := range buf {
			buf[i] = byte(rng.Uint32())
		}
		key := [4]byte{byte(rng.Uint32()), byte(rng.Uint32()), byte(rng.Uint32()), byte(rng.Uint32())}

		orig := slices.Clone(buf)
		applyMask(buf, key)

		for i := range buf {
			require.Equal(t, orig[i]^key[i%4], buf[i], "size %d byte %d", size, i)
		}

		applyMask(buf, key)
		assert.Equal(t, orig, buf, "size %d", size)
	}
}

// TestWrap_Fragmentation tests that a 70000-byte binary message is split into
// a 65535-byte first frame and a final continuation frame.
func TestWrap_Fragmentation(t *testing.T) {
	seq, err := Wrap(make([]byte, 70000), false)
	require.NoError(t, err)

	frames := slices.Collect(seq)
	require.Len(t, frames, 2)

	first := frames[0]
	assert.Equal(t, byte(OpBinary), first[0], "FIN=0, opcode=binary")
	assert.Equal(t, byte(126), first[1])
	assert.Equal(t, uint16(65535), binary.BigEndian.Uint16(first[2:4]))
	assert.Len(t, first, 4+65535)

	last := frames[1]
	assert.Equal(t, byte(0x80|OpContinuation), last[0], "FIN=1, opcode=continuation")
	assert.Equal(t, byte(126), last[1])
	assert.Equal(t, uint16(4465), binary.BigEndian.Uint16(last[2:4]))
	assert.Len(t, last, 4+4465)

	// Ranging again yields the same frames.
	assert.Equal(t, frames, slices.Collect(seq))
}

// TestWrap_ManyFragments tests messages needing more than two frames.
func TestWrap_ManyFragments(t *testing.T) {
	seq, err := Wrap(make([]byte, 3*maxFragment+1), false)
	require.NoError(t, err)

	frames := slices.Collect(seq)
	require.Len(t, frames, 4)
	assert.Equal(t, byte(OpBinary), frames[0][0])
	assert.Equal(t, byte(OpContinuation), frames[1][0])
	assert.Equal(t, byte(OpContinuation), frames[2][0])
	assert.Equal(t, byte(0x80|OpContinuation), frames[3][0])
	assert.Equal(t, []byte{0x80 | byte(OpContinuation), 1, 0}, frames[3])
}

// TestWrap_PayloadTypes tests how values are encoded.
func TestWrap_PayloadTypes(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		opcode Opcode
		data   string
	}{
		{"string", "hi", OpText, "hi"},
		{"bytes", []byte{1, 2}, OpBinary, "\x01\x02"},
		{"text message", Message{Type: TextMessage, Data: []byte("t")}, OpText, "t"},
		{"binary message", &Message{Type: BinaryMessage, Data: []byte("b")}, OpBinary, "b"},
		{"struct", struct {
			Name string `json:"name"`
		}{"gopher"}, OpText, `{"name":"gopher"}`},
		{"map", map[string]int{"n": 1}, OpText, `{"n":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, err := Wrap(tt.value, false)
			require.NoError(t, err)

			frames := slices.Collect(seq)
			require.Len(t, frames, 1)
			assert.Equal(t, 0x80|byte(tt.opcode), frames[0][0])
			assert.Equal(t, tt.data, string(frames[0][2:]))
		})
	}
}

// TestWrap_InvalidText tests that invalid UTF-8 text is refused.
func TestWrap_InvalidText(t *testing.T) {
	_, err := Wrap("\xFF", false)
	assert.ErrorIs(t, err, ErrInvalidUTF8)

	_, err = Wrap(Message{Type: TextMessage, Data: []byte{0xED, 0xA0, 0x80}}, false)
	assert.ErrorIs(t, err, ErrInvalidUTF8)

	_, err = Wrap(make(chan int), false)
	assert.Error(t, err)
}

// TestBuildPingPong tests control frame builders.
// RFC 6455 Section 5.5.3: a Pong echoes the Ping payload.
func TestBuildPingPong(t *testing.T) {
	assert.Equal(t, []byte{0x89, 0x00}, BuildPing(false))

	ping := &Frame{Fin: true, Opcode: OpPing, Data: []byte("abc"), Length: 3}
	assert.Equal(t, []byte{0x8A, 0x03, 'a', 'b', 'c'}, BuildPong(ping, false))

	masked := BuildPing(true)
	assert.Equal(t, []byte{0x89, 0x80}, masked[:2])
	assert.Len(t, masked, 6)
}

// TestFrame_CloseStatus tests decoding close payloads.
func TestFrame_CloseStatus(t *testing.T) {
	code, reason := (&Frame{Opcode: OpClose}).CloseStatus()
	assert.Equal(t, CloseNoStatusReceived, code)
	assert.Empty(t, reason)

	code, reason = (&Frame{Opcode: OpClose, Data: []byte{0x03, 0xE9, 'o', 'k'}}).CloseStatus()
	assert.Equal(t, CloseGoingAway, code)
	assert.Equal(t, "ok", reason)
}

func BenchmarkBuild(b *testing.B) {
	data := make([]byte, 1024)
	b.SetBytes(int64(len(data)))
	for b.Loop() {
		Build(true, OpBinary, true, data)
	}
}
