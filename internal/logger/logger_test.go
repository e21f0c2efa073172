package logger

import (
	"bytes"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{
			name:   "text logger",
			config: Config{Level: "info", Format: "text", Output: "stdout", Component: "test"},
		},
		{
			name:   "json logger",
			config: Config{Level: "debug", Format: "json", Output: "stderr", Component: "test"},
		},
		{
			name:   "invalid level falls back to info",
			config: Config{Level: "invalid", Format: "text", Output: "stdout"},
		},
		{
			name:   "empty values use defaults",
			config: Config{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.config)
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("loud"))
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "wskit.log")

	l, err := New(Config{Level: "debug", Format: "json", Output: path, Component: "engine"})
	require.NoError(t, err)

	l.Info("hello", "key", "value")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"component":"engine"`)
	assert.Contains(t, string(data), `"service":"wskit"`)
}

func TestRedirectStdLog(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	restore := RedirectStdLog(WithComponent(l, "stdlib"), slog.LevelDebug)
	log.Println("Cleaning up writer...")
	restore()

	assert.Contains(t, buf.String(), `"level":"DEBUG"`)
	assert.Contains(t, buf.String(), `"msg":"Cleaning up writer..."`)
	assert.Contains(t, buf.String(), `"component":"stdlib"`)

	buf.Reset()
	info := slog.New(slog.NewJSONHandler(&buf, nil))
	restore = RedirectStdLog(info, slog.LevelDebug)
	log.Println("dropped below info")
	restore()
	assert.Empty(t, buf.String())
}
