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

	"github.com/playlistbot/playlistbot/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestInitializeFileJSON(t *testing.T) {
	prev := globalLogger
	t.Cleanup(func() { globalLogger = prev })

	path := filepath.Join(t.TempDir(), "playlistbot.log")
	f, err := Initialize(config.LoggingConfig{Output: path, Format: "json", Level: "warn"})
	require.NoError(t, err)
	require.NotNil(t, f)

	Info("[SCAN] hidden below level")
	Warn("[SCAN] reply sent", "to", "fan@example.org")
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "[SCAN] reply sent", rec["msg"])
	assert.Equal(t, "fan@example.org", rec["to"])
	assert.Equal(t, "WARN", rec["level"])
}

func TestInitializeBadFileFallsBack(t *testing.T) {
	prev := globalLogger
	t.Cleanup(func() { globalLogger = prev })

	f, err := Initialize(config.LoggingConfig{Output: filepath.Join(t.TempDir(), "missing", "x.log")})
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.NotNil(t, Get())
}

func TestWithAndFormatted(t *testing.T) {
	prev := globalLogger
	t.Cleanup(func() { globalLogger = prev })

	var buf bytes.Buffer
	globalLogger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	With("run_id", "abc").Info("[SCAN] run finished")
	Infof("loaded configuration from %s", "config.toml")
	Debug("[STATUS] request", "path", "/healthz")

	out := buf.String()
	assert.Contains(t, out, "run_id=abc")
	assert.Contains(t, out, `msg="loaded configuration from config.toml"`)
	assert.Contains(t, out, "path=/healthz")
}

func TestDebugWriter(t *testing.T) {
	prev := globalLogger
	t.Cleanup(func() { globalLogger = prev })

	var buf bytes.Buffer
	globalLogger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	require.True(t, DebugEnabled())

	w := DebugWriter("[IMAP] protocol")
	for _, chunk := range []string{"C: T1 SEL", "ECT INBOX\r\nS: * 5 EXISTS\r\n", "\r\n", "S: T1 OK"} {
		n, err := w.Write([]byte(chunk))
		require.NoError(t, err)
		assert.Equal(t, len(chunk), n)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2, "blank and unterminated lines are not logged")

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "[IMAP] protocol", rec["msg"])
	assert.Equal(t, "C: T1 SELECT INBOX", rec["line"])
	assert.Equal(t, "DEBUG", rec["level"])
}

func TestDebugWriterRespectsLevel(t *testing.T) {
	prev := globalLogger
	t.Cleanup(func() { globalLogger = prev })

	var buf bytes.Buffer
	globalLogger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	assert.False(t, DebugEnabled())

	_, err := DebugWriter("[IMAP] protocol").Write([]byte("C: T1 NOOP\r\n"))
	require.NoError(t, err)
	assert.Empty(t, buf.String())
}
