package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load loads configuration from a TOML file. An empty path yields the
// defaults. Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies WSKIT_* environment variables to cfg
func applyEnvOverrides(cfg *Config) error {
	// Server overrides
	if v := os.Getenv("WSKIT_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("WSKIT_ECHO_PATH"); v != "" {
		cfg.Server.EchoPath = v
	}
	if v := os.Getenv("WSKIT_CHAT_PATH"); v != "" {
		cfg.Server.ChatPath = v
	}
	if v := os.Getenv("WSKIT_METRICS_PATH"); v != "" {
		cfg.Server.MetricsPath = v
	}

	// WebSocket overrides
	if v := os.Getenv("WSKIT_LIMIT"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("WSKIT_LIMIT: %w", err)
		}
		cfg.WebSocket.Limit = n
	}
	if v := os.Getenv("WSKIT_ORIGINS"); v != "" {
		cfg.WebSocket.Origins = splitList(v)
	}
	if v := os.Getenv("WSKIT_PROTOCOLS"); v != "" {
		cfg.WebSocket.Protocols = splitList(v)
	}
	if v := os.Getenv("WSKIT_TIMEOUT_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WSKIT_TIMEOUT_MS: %w", err)
		}
		cfg.WebSocket.TimeoutMS = n
	}
	if v := os.Getenv("WSKIT_HANDSHAKE_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("WSKIT_HANDSHAKE_RATE: %w", err)
		}
		cfg.WebSocket.HandshakeRate = f
	}
	if v := os.Getenv("WSKIT_HANDSHAKE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WSKIT_HANDSHAKE_BURST: %w", err)
		}
		cfg.WebSocket.HandshakeBurst = n
	}

	// Logging overrides
	if v := os.Getenv("WSKIT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("WSKIT_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("WSKIT_LOG_OUTPUT"); v != "" {
		cfg.Logging.Output = v
	}

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
