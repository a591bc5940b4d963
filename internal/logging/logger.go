package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"cachetest/internal/config"
)

type Logger struct {
	*slog.Logger
	config *config.LoggingConfig
}

type ContextKey string

const (
	RunIDKey  ContextKey = "run_id"
	TestKey   ContextKey = "test"
	WorkerKey ContextKey = "worker"
)

// NewLogger creates a new structured logger using slog
func NewLogger(cfg *config.LoggingConfig) *Logger {
	var writer io.Writer
	switch cfg.Output {
	case "stdout":
		writer = os.Stdout
	case "stderr", "":
		writer = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			writer = file
		} else {
			// stdout carries metric lines, so fall back to stderr
			writer = os.Stderr
			slog.Warn("Failed to open log file, using stderr", "error", err, "file", cfg.Output)
		}
	}

	logger := NewLoggerWithWriter(cfg, writer)
	slog.SetDefault(logger.Logger)
	return logger
}

// NewLoggerWithWriter creates a logger writing to w regardless of cfg.Output
func NewLoggerWithWriter(cfg *config.LoggingConfig, w io.Writer) *Logger {
	level := ParseLevel(cfg.Level)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Customize timestamp format
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text", "console":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		config: cfg,
	}
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() *Logger {
	cfg := TestLoggingConfig()
	return NewLoggerWithWriter(&cfg, io.Discard)
}

// ParseLevel maps a configured level name to a slog level
func ParseLevel(name string) slog.Level {
	switch name {
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

// Config returns the configuration the logger was built from
func (l *Logger) Config() *config.LoggingConfig {
	return l.config
}

// WithContext creates a new logger with context values
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	if runID := ctx.Value(RunIDKey); runID != nil {
		logger = logger.With("run_id", runID)
	}
	if test := ctx.Value(TestKey); test != nil {
		logger = logger.With("test", test)
	}
	if worker := ctx.Value(WorkerKey); worker != nil {
		logger = logger.With("worker", worker)
	}

	return &Logger{
		Logger: logger,
		config: l.config,
	}
}

// WithField creates a new logger with a single additional field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		Logger: l.Logger.With(key, value),
		config: l.config,
	}
}

// WithError creates a new logger with an error field
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		Logger: l.Logger.With("error", err.Error()),
		config: l.config,
	}
}

// WithRun tags every record with the run id when run ids are enabled
func (l *Logger) WithRun(runID string) *Logger {
	if l.config != nil && !l.config.EnableRunID {
		return l
	}
	return l.WithField("run_id", runID)
}

// StoreFailure logs an unexpected store error together with its call site
func (l *Logger) StoreFailure(ctx context.Context, site, op, path string, err error) {
	l.WithContext(ctx).Error("Store operation failed",
		"site", site,
		"op", op,
		"path", path,
		"error", err.Error(),
	)
}

// StoreOperation logs a single store call when store logging is enabled
func (l *Logger) StoreOperation(ctx context.Context, op string, key []byte, duration time.Duration, err error) {
	if l.config == nil || !l.config.EnableStoreLogging {
		return
	}

	logger := l.WithContext(ctx).With(
		"op", op,
		"key", string(key),
		"duration_us", duration.Microseconds(),
	)

	if err != nil {
		logger.Debug("Store operation returned error", "error", err.Error())
	} else {
		logger.Debug("Store operation completed")
	}
}

// TestEvent logs a lifecycle event of a workload test
func (l *Logger) TestEvent(ctx context.Context, event string, details map[string]interface{}) {
	args := []interface{}{
		"event", event,
	}

	for key, value := range details {
		args = append(args, key, value)
	}

	l.WithContext(ctx).Info("Test event", args...)
}

// Performance logs performance metrics
func (l *Logger) Performance(ctx context.Context, metric string, value float64, unit string, tags map[string]string) {
	if l.config != nil && !l.config.EnablePerformanceLog {
		return
	}

	args := []interface{}{
		"metric", metric,
		"value", value,
		"unit", unit,
	}

	for key, value := range tags {
		args = append(args, "tag_"+key, value)
	}

	l.WithContext(ctx).Info("Performance metric", args...)
}
