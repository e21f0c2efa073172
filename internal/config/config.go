// Package config provides configuration loading for the wskit server.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coregx/wskit/websocket"
)

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	WebSocket WebSocketConfig `toml:"websocket"`
	Logging   LoggingConfig   `toml:"logging"`
}

// ServerConfig configures the HTTP listener and routes.
type ServerConfig struct {
	Addr        string `toml:"addr"`
	EchoPath    string `toml:"echo_path"`
	ChatPath    string `toml:"chat_path"`
	MetricsPath string `toml:"metrics_path"`
}

// WebSocketConfig configures the engine.
type WebSocketConfig struct {
	// Limit caps one incoming message in bytes. 0 = unbounded.
	Limit uint64 `toml:"limit"`

	Origins   []string `toml:"origins"`
	Protocols []string `toml:"protocols"`

	// TimeoutMS is the keepalive idle interval. Below 2000 disables pings.
	TimeoutMS      int `toml:"timeout_ms"`
	CloseTimeoutMS int `toml:"close_timeout_ms"`

	HandshakeRate  float64 `toml:"handshake_rate"`
	HandshakeBurst int     `toml:"handshake_burst"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8080",
			EchoPath:    "/echo",
			ChatPath:    "/chat",
			MetricsPath: "/metrics",
		},
		WebSocket: WebSocketConfig{
			Limit:          16 << 20,
			TimeoutMS:      30000,
			CloseTimeoutMS: 5000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	for name, p := range map[string]string{
		"server.echo_path":    c.Server.EchoPath,
		"server.chat_path":    c.Server.ChatPath,
		"server.metrics_path": c.Server.MetricsPath,
	} {
		if p != "" && !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("%s must start with /: %q", name, p))
		}
	}

	if c.WebSocket.TimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("websocket.timeout_ms must not be negative: %d", c.WebSocket.TimeoutMS))
	}
	if c.WebSocket.CloseTimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("websocket.close_timeout_ms must not be negative: %d", c.WebSocket.CloseTimeoutMS))
	}
	if c.WebSocket.HandshakeRate < 0 {
		errs = append(errs, fmt.Errorf("websocket.handshake_rate must not be negative: %g", c.WebSocket.HandshakeRate))
	}
	if c.WebSocket.HandshakeBurst < 0 {
		errs = append(errs, fmt.Errorf("websocket.handshake_burst must not be negative: %d", c.WebSocket.HandshakeBurst))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn or error: %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json: %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// HostConfig converts the websocket section to an engine Config.
func (c *Config) HostConfig(logger *slog.Logger) websocket.Config {
	ws := c.WebSocket
	return websocket.Config{
		Limit:          ws.Limit,
		Origins:        ws.Origins,
		Protocols:      ws.Protocols,
		Timeout:        time.Duration(ws.TimeoutMS) * time.Millisecond,
		CloseTimeout:   time.Duration(ws.CloseTimeoutMS) * time.Millisecond,
		HandshakeRate:  ws.HandshakeRate,
		HandshakeBurst: ws.HandshakeBurst,
		Logger:         logger,
	}
}
