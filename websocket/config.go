package websocket

import (
	"log/slog"
	"time"
)

// Default values applied by Config.withDefaults.
const (
	// minKeepalive is the shortest keepalive interval; smaller Timeout
	// values disable keepalive pings.
	minKeepalive = 2 * time.Second

	defaultCloseTimeout   = 5 * time.Second
	defaultReadBufferSize = 4096
)

// Config configures a Host, or a client connection through DialOptions.
//
// All fields are optional. Zero values use sensible defaults.
type Config struct {
	// Limit caps the cumulative size of one incoming message in bytes.
	// 0 = unbounded.
	Limit uint64

	// Origins is the Origin allowlist. Empty or containing "*" accepts all.
	Origins []string

	// Protocols lists the subprotocols offered by the server. The first one
	// requested by the client is echoed back.
	Protocols []string

	// Timeout is the idle interval after which a ping is sent. Any received
	// byte restarts it. Values below 2s disable keepalive.
	Timeout time.Duration

	// CloseTimeout bounds how long a closing connection waits for the peer
	// (default: 5s).
	CloseTimeout time.Duration

	// HandshakeRate limits accepted handshakes per second; HandshakeBurst is
	// the bucket size. 0 = unlimited.
	HandshakeRate  float64
	HandshakeBurst int

	// ReadBufferSize is the socket read chunk size (default: 4096).
	ReadBufferSize int

	// Logger receives engine logs. nil = slog.Default().
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = defaultCloseTimeout
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = defaultReadBufferSize
	}
	if c.HandshakeRate > 0 && c.HandshakeBurst <= 0 {
		c.HandshakeBurst = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// keepalive returns the ping interval, or 0 when keepalive is disabled.
func (c Config) keepalive() time.Duration {
	if c.Timeout < minKeepalive {
		return 0
	}
	return c.Timeout
}
