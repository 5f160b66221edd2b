package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, output *bytes.Buffer) []map[string]any {
	t.Helper()

	var entries []map[string]any
	dec := json.NewDecoder(output)
	for dec.More() {
		var entry map[string]any
		require.NoError(t, dec.Decode(&entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_JSON(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		wantCount int
	}{
		{name: "debug level keeps everything", level: "debug", wantCount: 4},
		{name: "info level drops debug", level: "info", wantCount: 3},
		{name: "warn level", level: "warn", wantCount: 2},
		{name: "error level", level: "ERROR", wantCount: 1},
		{name: "unknown level falls back to info", level: "verbose", wantCount: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var output bytes.Buffer
			logger, err := New(&Config{Level: tt.level, Format: "json", writer: &output})
			require.NoError(t, err)

			logger.Debug("claimed job")
			logger.Info("content gathered")
			logger.Warn("no content for window")
			logger.Error("speech provider failed")

			assert.Len(t, decode(t, &output), tt.wantCount)
		})
	}
}

func TestNew_JSONFields(t *testing.T) {
	var output bytes.Buffer
	logger, err := New(&Config{Level: "info", Format: "json", Service: "briefcast-worker", writer: &output})
	require.NoError(t, err)

	logger.Info("Content gathered",
		slog.String("job_id", "job-1"),
		slog.Int("items", 7),
	)

	entries := decode(t, &output)
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "Content gathered", entry["msg"])
	assert.Equal(t, "briefcast-worker", entry["service"])
	assert.Equal(t, "job-1", entry["job_id"])
	assert.Equal(t, float64(7), entry["items"])
	assert.Contains(t, entry, "time")
}

func TestNew_RedactsSecrets(t *testing.T) {
	var output bytes.Buffer
	logger, err := New(&Config{Format: "json", writer: &output})
	require.NoError(t, err)

	logger.Info("Provider configured",
		slog.String("api_key", "sk-live-123"),
		slog.String("Password", "hunter2"),
		slog.String("base_url", "https://tts.example.com"),
	)

	entry := decode(t, &output)[0]
	assert.Equal(t, Redacted, entry["api_key"])
	assert.Equal(t, Redacted, entry["Password"])
	assert.Equal(t, "https://tts.example.com", entry["base_url"])
	assert.NotContains(t, output.String(), "sk-live-123")
}

func TestNew_Console(t *testing.T) {
	var output bytes.Buffer
	logger, err := New(&Config{Level: "info", Format: "console", writer: &output})
	require.NoError(t, err)

	logger.Info("Poller started", slog.String("loop", "audio"), slog.String("secret_key", "abc"))

	line := output.String()
	assert.Contains(t, line, "Poller started")
	assert.Contains(t, line, "audio")
	assert.Contains(t, line, Redacted)
	assert.NotContains(t, line, "abc")
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.log")

	logger, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("written to file", slog.String("job_id", "abc"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "written to file", entry["msg"])
	assert.Equal(t, "abc", entry["job_id"])
}

func TestNew_FileOutputUnwritable(t *testing.T) {
	_, err := New(&Config{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open log file")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("Error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}
