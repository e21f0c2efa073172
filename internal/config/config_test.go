package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "/echo", cfg.Server.EchoPath)
	assert.Equal(t, "/chat", cfg.Server.ChatPath)
	assert.Equal(t, "/metrics", cfg.Server.MetricsPath)
	assert.Empty(t, cfg.WebSocket.Origins, "origins default to allow all")
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"relative path", func(c *Config) { c.Server.EchoPath = "echo" }},
		{"negative timeout", func(c *Config) { c.WebSocket.TimeoutMS = -1 }},
		{"negative rate", func(c *Config) { c.WebSocket.HandshakeRate = -1 }},
		{"invalid log level", func(c *Config) { c.Logging.Level = "invalid" }},
		{"invalid log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wskit.toml")
	data := `
[server]
addr = "127.0.0.1:9000"
chat_path = "/rooms"

[websocket]
limit = 1024
origins = ["https://example.com"]
protocols = ["chat.v1"]
timeout_ms = 10000
handshake_rate = 50.0
handshake_burst = 10

[logging]
level = "debug"
format = "json"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "/rooms", cfg.Server.ChatPath)
	assert.Equal(t, "/echo", cfg.Server.EchoPath, "unset keys keep defaults")
	assert.Equal(t, uint64(1024), cfg.WebSocket.Limit)
	assert.Equal(t, []string{"https://example.com"}, cfg.WebSocket.Origins)
	assert.Equal(t, "debug", cfg.Logging.Level)

	hc := cfg.HostConfig(nil)
	assert.Equal(t, uint64(1024), hc.Limit)
	assert.Equal(t, []string{"chat.v1"}, hc.Protocols)
	assert.Equal(t, 10*time.Second, hc.Timeout)
	assert.Equal(t, 5*time.Second, hc.CloseTimeout)
	assert.InDelta(t, 50.0, hc.HandshakeRate, 0.001)
	assert.Equal(t, 10, hc.HandshakeBurst)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\naddr="), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WSKIT_ADDR", ":9999")
	t.Setenv("WSKIT_LIMIT", "2048")
	t.Setenv("WSKIT_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("WSKIT_TIMEOUT_MS", "1500")
	t.Setenv("WSKIT_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, uint64(2048), cfg.WebSocket.Limit)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.WebSocket.Origins)
	assert.Equal(t, 1500, cfg.WebSocket.TimeoutMS)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestEnvOverrideInvalidNumber(t *testing.T) {
	t.Setenv("WSKIT_LIMIT", "lots")

	_, err := Load("")
	assert.Error(t, err)
}
