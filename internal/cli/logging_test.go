package cli

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctoth/spindle/internal/config"
)

func TestMultiLevelHandler_DifferentLevels(t *testing.T) {
	var stderrBuf, fileBuf bytes.Buffer
	stderrHandler := slog.NewTextHandler(&stderrBuf, &slog.HandlerOptions{Level: slog.LevelError})
	fileHandler := slog.NewTextHandler(&fileBuf, &slog.HandlerOptions{Level: slog.LevelDebug})

	logger := slog.New(NewMultiLevelHandler(stderrHandler, fileHandler))
	logger.Debug("debug message")
	logger.Info("info message")
	logger.Error("error message")

	assert.Contains(t, stderrBuf.String(), "error message")
	assert.NotContains(t, stderrBuf.String(), "debug message")
	assert.NotContains(t, stderrBuf.String(), "info message")

	for _, msg := range []string{"debug message", "info message", "error message"} {
		assert.Contains(t, fileBuf.String(), msg)
	}
}

func TestMultiLevelHandler_Enabled(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	h := NewMultiLevelHandler(
		slog.NewTextHandler(&buf1, &slog.HandlerOptions{Level: slog.LevelError}),
		slog.NewTextHandler(&buf2, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx := context.Background()
	assert.False(t, h.Enabled(ctx, slog.LevelDebug))
	assert.True(t, h.Enabled(ctx, slog.LevelInfo))
	assert.True(t, h.Enabled(ctx, slog.LevelError))
}

func TestMultiLevelHandler_WithAttrsAndGroup(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	h := NewMultiLevelHandler(
		slog.NewTextHandler(&buf1, &slog.HandlerOptions{Level: slog.LevelError}),
		slog.NewTextHandler(&buf2, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String("source", "a.wav")}).WithGroup("decode"))
	logger.Error("chunk failed", "frame", 7)

	for _, out := range []string{buf1.String(), buf2.String()} {
		assert.Contains(t, out, "source=a.wav")
		assert.Contains(t, out, "decode.frame=7")
	}
}

func TestMultiLevelHandler_IgnoresNilHandlers(t *testing.T) {
	var buf bytes.Buffer
	h := NewMultiLevelHandler(nil, slog.NewTextHandler(&buf, nil), nil)

	slog.New(h).Info("hello")
	assert.Contains(t, buf.String(), "hello")

	empty := NewMultiLevelHandler()
	assert.False(t, empty.Enabled(context.Background(), slog.LevelError))
	slog.New(empty).Error("dropped")
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("disk full") }

func TestMultiLevelHandler_FailingHandlerDoesNotStopOthers(t *testing.T) {
	var buf bytes.Buffer
	h := NewMultiLevelHandler(failingHandler{}, slog.NewTextHandler(&buf, nil))

	rec := slog.NewRecord(time.Time{}, slog.LevelInfo, "still written", 0)
	err := h.Handle(context.Background(), rec)

	assert.ErrorContains(t, err, "disk full")
	assert.Contains(t, buf.String(), "still written")
}

func TestSetupLoggingStderrLevel(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	var stderr bytes.Buffer
	cm := config.NewConfigManager()
	cfg := cm.GetDefaultConfig()
	cfg.LogLevel = "warn"

	closer := setupLogging(cfg, cm, &stderr)
	defer closer.Close()

	slog.Info("quiet")
	slog.Warn("loud")

	assert.NotContains(t, stderr.String(), "quiet")
	assert.Contains(t, stderr.String(), "loud")
}

func TestSetupLoggingWritesFile(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	logPath := filepath.Join(t.TempDir(), "logs", "spindle.log")
	cm := config.NewConfigManager()
	cfg := cm.GetDefaultConfig()
	cfg.LogLevel = "error"
	cfg.FileLogging.Enabled = true
	cfg.FileLogging.Filename = logPath

	var stderr bytes.Buffer
	closer := setupLogging(cfg, cm, &stderr)
	slog.Debug("debug goes to the file only")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "debug goes to the file only"))
	assert.NotContains(t, stderr.String(), "debug goes to the file only")
}
