package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for input, want := range cases {
		assert.Equal(t, want, ParseLevel(input), "level %q", input)
	}
}

func TestNewWithWriterRespectsLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{Level: "warn", Format: "json"})

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"key":"value"`)
}

func TestNewWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.log")
	logger, closer := New(Config{File: path, Level: "debug"})
	logger.Debug("written to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "written to file"))
}

func TestNopAndOrNop(t *testing.T) {
	Nop().Error("ignored")
	assert.NotNil(t, OrNop(nil))

	var logger Logger = slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, logger, OrNop(logger))
}
