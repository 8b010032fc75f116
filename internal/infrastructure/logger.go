// Package infrastructure carries the process-wide plumbing: structured
// logging, trace ID propagation, and OpenTelemetry setup.
package infrastructure

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"sankeyhub/internal/config"
)

// ctxKey is unexported so only the helpers in this package can place or
// read values stored under it.
type ctxKey string

const traceIDKey ctxKey = "trace_id"

var (
	globalLogger     *slog.Logger
	globalLoggerOnce sync.Once
	globalLogFile    *os.File
	logFileMu        sync.Mutex
)

// InitializeLogger builds the process logger from configuration and installs
// it as slog's default. Only the first call takes effect; later calls return
// the already-installed logger so wiring order between subsystems does not
// matter.
func InitializeLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var initErr error
	globalLoggerOnce.Do(func() {
		logger, err := buildLogger(cfg)
		if err != nil {
			initErr = err
			return
		}
		globalLogger = logger
		slog.SetDefault(logger)
	})
	if initErr != nil {
		return nil, initErr
	}
	return globalLogger, nil
}

// MustInitializeLogger is InitializeLogger for main functions that cannot
// run without logging.
func MustInitializeLogger(cfg config.LoggingConfig) *slog.Logger {
	logger, err := InitializeLogger(cfg)
	if err != nil {
		panic(fmt.Sprintf("logger initialization failed: %v", err))
	}
	return logger
}

// GetLogger returns the initialized logger, or slog's default when
// InitializeLogger has not run yet. Callers never get nil.
func GetLogger() *slog.Logger {
	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}

func buildLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	out, err := logOutput(cfg)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(cfg.Level),
		AddSource: true,
	}
	handler := slog.NewJSONHandler(out, opts)
	return slog.New(&traceHandler{inner: handler}), nil
}

// logOutput resolves the configured destination. "file" and "both" open the
// log file once and stash the handle for CloseLogFile.
func logOutput(cfg config.LoggingConfig) (io.Writer, error) {
	switch cfg.Output {
	case "file":
		f, err := openLogFile(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		return f, nil
	case "both":
		f, err := openLogFile(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		return io.MultiWriter(os.Stdout, f), nil
	default:
		return os.Stdout, nil
	}
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logFileMu.Lock()
	globalLogFile = f
	logFileMu.Unlock()
	return f, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// traceHandler stamps the trace ID from the record's context onto every
// record, so handlers and services never have to thread it by hand.
type traceHandler struct {
	inner slog.Handler
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *traceHandler) Handle(ctx context.Context, record slog.Record) error {
	if traceID := GetTraceID(ctx); traceID != "" {
		record.AddAttrs(slog.String("trace_id", traceID))
	}
	return h.inner.Handle(ctx, record)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{inner: h.inner.WithGroup(name)}
}

// WithTraceID stores a trace ID on the context for the traceHandler and the
// error envelope to pick up.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// GetTraceID returns the trace ID stored on the context, or "".
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// CloseLogFile flushes and closes the file opened for "file" or "both"
// output. Safe to call when logging went to stdout only.
func CloseLogFile() error {
	logFileMu.Lock()
	defer logFileMu.Unlock()
	if globalLogFile == nil {
		return nil
	}
	err := globalLogFile.Close()
	globalLogFile = nil
	return err
}

// ResetLoggerForTesting clears the singleton so each test can install its
// own configuration. Never call it outside tests.
func ResetLoggerForTesting() {
	logFileMu.Lock()
	if globalLogFile != nil {
		globalLogFile.Close()
		globalLogFile = nil
	}
	logFileMu.Unlock()
	globalLogger = nil
	globalLoggerOnce = sync.Once{}
}
