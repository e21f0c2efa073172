package websocket

import (
	"crypto/rand"
	"crypto/sha1" // #nosec G505 - SHA-1 required by RFC 6455 Section 1.3
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Magic GUID from RFC 6455 Section 1.3.
// Used for computing Sec-WebSocket-Accept header.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// upgrade is the result of a validated server handshake.
type upgrade struct {
	accept   string
	protocol string
	origin   string
}

// validateUpgrade checks the client's opening handshake (RFC 6455 Section 4.2.1).
//
// Checked, in order: Upgrade contains "websocket" (case-insensitive),
// Sec-WebSocket-Key is present, Sec-WebSocket-Version is 13 and the Origin is
// allowed by cfg.Origins.
func validateUpgrade(header http.Header, cfg *Config) (*upgrade, error) {
	if !headerContainsToken(header.Get("Upgrade"), "websocket") {
		return nil, ErrMissingUpgrade
	}

	key := header.Get("Sec-WebSocket-Key")
	if key == "" {
		return nil, ErrMissingSecKey
	}

	if header.Get("Sec-WebSocket-Version") != "13" {
		return nil, ErrInvalidVersion
	}

	origin := header.Get("Origin")
	if !originAllowed(origin, cfg.Origins) {
		return nil, fmt.Errorf("%w: %q", ErrOriginDenied, origin)
	}

	return &upgrade{
		accept:   computeAcceptKey(key),
		protocol: negotiateSubprotocol(header.Get("Sec-WebSocket-Protocol"), cfg.Protocols),
		origin:   origin,
	}, nil
}

// writeUpgradeResponse sends 101 Switching Protocols (RFC 6455 Section 4.2.2).
func writeUpgradeResponse(w io.Writer, u *upgrade) error {
	var b strings.Builder
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	b.WriteString("Sec-WebSocket-Accept: " + u.accept + "\r\n")
	if u.protocol != "" {
		b.WriteString("Sec-WebSocket-Protocol: " + u.protocol + "\r\n")
	}
	if u.origin != "" {
		b.WriteString("Origin: " + u.origin + "\r\n")
	}
	b.WriteString("\r\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// writeRejection answers a refused handshake with an empty HTTP response.
func writeRejection(w io.Writer, status int) error {
	_, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nConnection: close\r\nContent-Length: 0\r\n\r\n",
		status, http.StatusText(status))
	return err
}

// computeAcceptKey computes Sec-WebSocket-Accept from client key.
//
// RFC 6455 Section 1.3:
//
//	Sec-WebSocket-Accept = base64(SHA-1(key + GUID))
//
// Example:
//
//	key := "dGhlIHNhbXBsZSBub25jZQ=="
//	accept := computeAcceptKey(key)
//	// accept = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
func computeAcceptKey(key string) string {
	// #nosec G401 - SHA-1 required by RFC 6455 Section 1.3 (not for cryptographic security)
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// newClientKey returns a random base64-encoded 16-byte Sec-WebSocket-Key.
func newClientKey() string {
	key := make([]byte, 16)
	_, _ = rand.Read(key)
	return base64.StdEncoding.EncodeToString(key)
}

// verifyServerResponse checks the server's opening handshake answer
// (RFC 6455 Section 4.1, client requirements).
func verifyServerResponse(resp *http.Response, key string) error {
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return &HandshakeError{Status: resp.StatusCode, Err: ErrBadStatus}
	}
	if !headerContainsToken(resp.Header.Get("Upgrade"), "websocket") {
		return &HandshakeError{Status: resp.StatusCode, Err: ErrMissingUpgrade}
	}
	if resp.Header.Get("Sec-WebSocket-Accept") != computeAcceptKey(key) {
		return &HandshakeError{Status: resp.StatusCode, Err: ErrBadAccept}
	}
	return nil
}

// negotiateSubprotocol selects first match from client's requested subprotocols.
//
// RFC 6455 Section 1.9: Server selects ONE subprotocol from client's list.
//
// Returns empty string if no match or no subprotocols configured.
func negotiateSubprotocol(requested string, offered []string) string {
	if len(offered) == 0 || requested == "" {
		return ""
	}

	for _, clientProto := range strings.Split(requested, ",") {
		clientProto = strings.TrimSpace(clientProto)
		for _, serverProto := range offered {
			if clientProto == serverProto {
				return clientProto
			}
		}
	}

	return ""
}

// originAllowed reports whether origin passes the allowlist. An empty list or
// one containing "*" accepts everything, including requests without Origin.
func originAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// headerContainsToken checks if header value contains token (case-insensitive).
//
// RFC 6455 Section 4.2.1: Header tokens are case-insensitive.
//
// Example:
//
//	headerContainsToken("Upgrade, HTTP/2.0", "upgrade") // true
//	headerContainsToken("keep-alive", "upgrade")        // false
func headerContainsToken(header, token string) bool {
	for _, h := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(h), token) {
			return true
		}
	}
	return false
}
