package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ctoth/spindle/internal/config"
)

// MultiLevelHandler fans records out to handlers that each keep their own
// level. It lets stderr stay quiet while a log file captures everything.
type MultiLevelHandler struct {
	handlers []slog.Handler
}

// NewMultiLevelHandler combines handlers; nil entries are ignored.
func NewMultiLevelHandler(handlers ...slog.Handler) *MultiLevelHandler {
	kept := make([]slog.Handler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			kept = append(kept, h)
		}
	}
	return &MultiLevelHandler{handlers: kept}
}

// Enabled reports whether any wrapped handler accepts level.
func (h *MultiLevelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle passes the record to every handler that accepts it. A failing
// handler does not stop the others; their errors are joined.
func (h *MultiLevelHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *MultiLevelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &MultiLevelHandler{handlers: handlers}
}

func (h *MultiLevelHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &MultiLevelHandler{handlers: handlers}
}

// setupLogging installs the default logger: stderr at the configured level,
// plus a rotating debug log file when file logging is enabled. The returned
// closer flushes the file.
func setupLogging(cfg *config.Config, cm *config.ConfigManager, stderr io.Writer) io.Closer {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelWarn
	}

	stderrHandler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})

	var fileHandler slog.Handler
	var closer io.Closer = nopCloser{}
	var logFilePath string
	if cfg.FileLogging != nil && cfg.FileLogging.Enabled {
		// lumberjack creates the directory on first write
		logFilePath = cm.ResolveLogFilePath(cfg.FileLogging.Filename)
		fileWriter := &lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    cfg.FileLogging.MaxSizeMB,
			MaxBackups: cfg.FileLogging.MaxBackups,
			MaxAge:     cfg.FileLogging.MaxAgeDays,
			Compress:   cfg.FileLogging.Compress,
		}
		fileHandler = slog.NewTextHandler(fileWriter, &slog.HandlerOptions{Level: slog.LevelDebug})
		closer = fileWriter
	}

	slog.SetDefault(slog.New(NewMultiLevelHandler(stderrHandler, fileHandler)))

	slog.Debug("logging setup completed",
		"level", level.String(),
		"file_enabled", fileHandler != nil,
		"log_file", logFilePath)
	return closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
