package websocket

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DialOptions contains options for a WebSocket client connection.
type DialOptions struct {
	// Header holds extra handshake request headers.
	Header http.Header

	// Subprotocols are offered in Sec-WebSocket-Protocol.
	Subprotocols []string

	// Origin is sent as the Origin header when set.
	Origin string

	// Config configures the resulting connection. Origins, Protocols and the
	// handshake rate fields are ignored.
	Config Config

	// Handler runs before the connection starts reading, like a Host handler.
	Handler Handler

	// TLSConfig is used for wss:// URLs.
	TLSConfig *tls.Config
}

// Dial connects to a WebSocket server and performs the client opening
// handshake (RFC 6455 Section 4.1).
//
// The returned connection plays the client role: every frame it sends is
// masked. The handshake response is returned as well; its body is empty.
// A refused handshake yields a *HandshakeError together with the response.
//
// ctx bounds the TCP dial and the handshake exchange only.
func Dial(ctx context.Context, rawURL string, opts *DialOptions) (*Conn, *http.Response, error) {
	if opts == nil {
		opts = &DialOptions{}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("websocket: parse url: %w", err)
	}

	var secure bool
	switch u.Scheme {
	case "ws":
	case "wss":
		secure = true
	default:
		return nil, nil, fmt.Errorf("websocket: invalid URL scheme %q", u.Scheme)
	}

	addr := u.Host
	if u.Port() == "" {
		port := "80"
		if secure {
			port = "443"
		}
		addr = net.JoinHostPort(u.Hostname(), port)
	}

	var socket net.Conn
	if secure {
		cfg := opts.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{ServerName: u.Hostname(), MinVersion: tls.VersionTLS12}
		}
		d := &tls.Dialer{Config: cfg}
		socket, err = d.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		socket, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("websocket: dial %s: %w", addr, err)
	}

	// Abort the handshake exchange when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		_ = socket.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	key := newClientKey()
	req := &http.Request{
		Method:     http.MethodGet,
		URL:        &url.URL{Path: u.Path, RawPath: u.RawPath, RawQuery: u.RawQuery},
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
		Host:       u.Host,
	}
	if req.URL.Path == "" {
		req.URL.Path = "/"
	}
	for k, vs := range opts.Header {
		req.Header[k] = append([]string(nil), vs...)
	}
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Key", key)
	req.Header.Set("Sec-WebSocket-Version", "13")
	if len(opts.Subprotocols) > 0 {
		req.Header.Set("Sec-WebSocket-Protocol", strings.Join(opts.Subprotocols, ", "))
	}
	if opts.Origin != "" {
		req.Header.Set("Origin", opts.Origin)
	}

	if err := req.Write(socket); err != nil {
		_ = socket.Close()
		return nil, nil, fmt.Errorf("websocket: write handshake: %w", err)
	}

	reader := bufio.NewReader(socket)
	resp, err := http.ReadResponse(reader, req)
	if err != nil {
		_ = socket.Close()
		return nil, nil, fmt.Errorf("websocket: read handshake response: %w", err)
	}
	_ = resp.Body.Close()

	if err := verifyServerResponse(resp, key); err != nil {
		_ = socket.Close()
		return nil, resp, err
	}

	if !stop() {
		// ctx ended while the response was read.
		_ = socket.Close()
		return nil, resp, fmt.Errorf("websocket: handshake: %w", ctx.Err())
	}
	_ = socket.SetDeadline(time.Time{})

	cfg := opts.Config.withDefaults()
	c := newConn(socket, reader, RoleClient, cfg, resp.Header, resp.Header.Get("Sec-WebSocket-Protocol"))
	c.url = u
	c.log.Debug("connection opened", "url", u.String(), "protocol", c.protocol)
	c.resetKeepalive()

	if opts.Handler != nil {
		if err := c.safely(func() { opts.Handler(c) }); err != nil {
			// The connection is already gone.
			return nil, resp, fmt.Errorf("websocket: dial: %w", err)
		}
	}
	c.start()
	return c, resp, nil
}
