package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lautenbacher.net/godac/config"
)

func TestTUIMode(t *testing.T) {
	require.NoError(t, Init(config.LoggingConfig{Level: "DEBUG", Format: "text"}, true))

	slog.Info("Initial log")

	var tuiPane bytes.Buffer
	require.NoError(t, SetOutput(&tuiPane))
	assert.Contains(t, tuiPane.String(), "Initial log", "buffered log should be flushed to the TUI")

	slog.Info("Live log")
	assert.Contains(t, tuiPane.String(), "Live log")

	BufferOutput()
	slog.Info("Buffered log")
	assert.NotContains(t, tuiPane.String(), "Buffered log")

	require.NoError(t, SetOutput(&tuiPane))
	assert.Contains(t, tuiPane.String(), "Buffered log")
	require.NoError(t, Close())
}

func TestFileLogging(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "godac.log")
	require.NoError(t, Init(config.LoggingConfig{Level: "INFO", Format: "json", File: logFile}, true))

	slog.Info("DAC output", "code", 3300)
	slog.Debug("filtered")
	require.NoError(t, Close())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"msg":"DAC output"`)
	assert.Contains(t, string(content), `"code":3300`)
	assert.NotContains(t, string(content), "filtered", "DEBUG must be filtered at INFO level")
}

func TestInit_BadFile(t *testing.T) {
	err := Init(config.LoggingConfig{File: filepath.Join(t.TempDir(), "missing", "x.log")}, false)
	assert.Error(t, err)
}

func TestStderrFallback(t *testing.T) {
	require.NoError(t, Init(config.LoggingConfig{Level: "DEBUG"}, true))

	slog.Info("Shutdown log")

	oldStderr := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	var wg sync.WaitGroup
	wg.Add(1)
	var capturedOutput string
	go func() {
		defer wg.Done()
		buf := make([]byte, 1024)
		n, _ := r.Read(buf)
		capturedOutput = string(buf[:n])
	}()

	require.NoError(t, Close())

	w.Close()
	wg.Wait()
	os.Stderr = oldStderr

	assert.True(t, strings.Contains(capturedOutput, "Shutdown log"), "expected shutdown log on stderr, got: %s", capturedOutput)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("Error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("TRACE"))
}
