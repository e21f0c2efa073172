package websocket

// This file exports internal functions for the external test package.
// It is only compiled during tests.

// BuildFrameForTest encodes a frame with a fixed masking key, so tests can
// put arbitrary (also invalid) frames on the wire.
func BuildFrameForTest(fin bool, opcode Opcode, masked bool, key [4]byte, data []byte) []byte {
	return buildFrame(fin, opcode, masked, key, data)
}

// ApplyMaskForTest XORs data with key in place.
func ApplyMaskForTest(data []byte, key [4]byte) {
	applyMask(data, key)
}

// ConnChannelsForTest returns the number of channels c is bound to.
func ConnChannelsForTest(c *Conn) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.channels)
}

// fixMaskKey makes newly built frames use key until the test ends.
func fixMaskKey(t interface{ Cleanup(func()) }, key [4]byte) {
	orig := newMaskKey
	newMaskKey = func() [4]byte { return key }
	t.Cleanup(func() { newMaskKey = orig })
}

// SetBeforeRegisterHookForTest runs fn between the handshake and the
// registration of each new connection until the test ends.
func SetBeforeRegisterHookForTest(t interface{ Cleanup(func()) }, fn func()) {
	orig := testHookBeforeRegister
	testHookBeforeRegister = fn
	t.Cleanup(func() { testHookBeforeRegister = orig })
}
