package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/recsav/pkg/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		" Error ": slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, ParseLevel(in))
		})
	}
}

func TestFromConfigLevelPrecedence(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")

	assert.Equal(t, slog.LevelDebug, FromConfig(config.LogConfig{}).Level)
	assert.Equal(t, slog.LevelError, FromConfig(config.LogConfig{Level: "error"}).Level)
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closeLog, err := New(Options{Level: slog.LevelWarn, JSON: true, Console: &buf})
	require.NoError(t, err)
	defer closeLog()

	logger.Info("dropped")
	logger.Warn("kept", "stage", "import-card")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "import-card", line["stage"])
}

func TestNewAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "recsav.log")

	for _, msg := range []string{"first", "second"} {
		logger, closeLog, err := New(Options{Path: path, Console: io.Discard})
		require.NoError(t, err)
		logger.Info(msg)
		require.NoError(t, closeLog())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=first")
	assert.Contains(t, string(data), "msg=second")
}
