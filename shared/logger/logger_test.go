package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJSONLogger(t *testing.T, level string, output *bytes.Buffer) *Logger {
	t.Helper()
	logger, err := New(&Config{Level: level, Format: "json", writer: output})
	require.NoError(t, err)
	return logger
}

func decodeLines(t *testing.T, output *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		level      string
		wantLevels []string
	}{
		{level: "debug", wantLevels: []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{level: "INFO", wantLevels: []string{"INFO", "WARN", "ERROR"}},
		{level: "Warning", wantLevels: []string{"WARN", "ERROR"}},
		{level: "error", wantLevels: []string{"ERROR"}},
		{level: "", wantLevels: []string{"INFO", "WARN", "ERROR"}},
	}

	for _, tt := range tests {
		t.Run("level "+tt.level, func(t *testing.T) {
			output := &bytes.Buffer{}
			logger := newJSONLogger(t, tt.level, output)

			logger.Debug("Claim skipped - rows locked by another worker")
			logger.Info("Report: 3 (Good) + 0 (Bad)")
			logger.Warn("Event handler failed, requeueing")
			logger.Error("Failed to settle events")

			var got []string
			for _, entry := range decodeLines(t, output) {
				got = append(got, entry["level"].(string))
			}
			assert.Equal(t, tt.wantLevels, got)
		})
	}
}

func TestNew_ConsoleFormat(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Level: "info", Format: "console", writer: output})
	require.NoError(t, err)

	logger.Info("Queue workers started", slog.Int("workers", 2))

	assert.Contains(t, output.String(), "INF")
	assert.Contains(t, output.String(), "Queue workers started")
	assert.Contains(t, output.String(), "workers=")
}

func TestNew_SourceLocation(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Level: "info", Format: "json", EnableSource: true, writer: output})
	require.NoError(t, err)

	logger.Info("with source")

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	source, ok := entries[0]["source"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, source, "file")
	assert.Contains(t, source, "line")
}

func TestWithQueue(t *testing.T) {
	output := &bytes.Buffer{}
	logger := newJSONLogger(t, "info", output)

	queueLogger := WithQueue(logger.Logger, 7)
	queueLogger.Info("Claimed events", slog.Int("count", 3))
	logger.Info("Queue processor stopped")

	entries := decodeLines(t, output)
	require.Len(t, entries, 2)

	assert.Equal(t, float64(7), entries[0]["queue_id"])
	assert.Equal(t, float64(3), entries[0]["count"])
	assert.Equal(t, "Claimed events", entries[0]["msg"])

	assert.NotContains(t, entries[1], "queue_id", "parent logger is not scoped")
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue-processor.log")

	logger, err := New(&Config{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)

	WithQueue(logger.Logger, 7).Debug("Event enqueued", slog.Int64("event_id", 42))
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "Event enqueued", entry["msg"])
	assert.Equal(t, float64(7), entry["queue_id"])
	assert.Equal(t, float64(42), entry["event_id"])
}

func TestNew_FileOutputAppendsWithoutColor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue-processor.log")
	require.NoError(t, os.WriteFile(path, []byte("previous run\n"), 0o644))

	logger, err := New(&Config{Level: "info", Format: "console", Output: path})
	require.NoError(t, err)
	logger.Info("Queue processor started")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "previous run\n"))
	assert.Contains(t, string(data), "Queue processor started")
	assert.NotContains(t, string(data), "\x1b[", "file output carries no ANSI colors")
}

func TestNew_FileOutputError(t *testing.T) {
	logger, err := New(&Config{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	require.Error(t, err)
	assert.Nil(t, logger)
	assert.Contains(t, err.Error(), "failed to open log file")
}

func TestLogger_CloseWithoutFile(t *testing.T) {
	assert.NoError(t, NewDefault().Close())

	logger, err := New(&Config{Output: "stderr"})
	require.NoError(t, err)
	assert.NoError(t, logger.Close())
}
