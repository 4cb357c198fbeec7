package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// contextKey is a type for context keys
type contextKey string

const (
	// RunIDKey is the context key for a whole inferperf invocation.
	RunIDKey contextKey = "run_id"
	// StepIDKey is the context key for one concurrency-sweep step within a run.
	StepIDKey contextKey = "step_id"
)

// Config holds logging configuration
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json" or "text"
	Output io.Writer
}

// Setup configures the global logger
func Setup(cfg Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	// Wrap with context handler
	handler = &ContextHandler{Handler: handler}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// ContextHandler adds context values to log records
type ContextHandler struct {
	slog.Handler
}

// Handle adds context values to the record before passing to the wrapped handler
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	// Add run ID if present
	if runID, ok := ctx.Value(RunIDKey).(string); ok && runID != "" {
		r.AddAttrs(slog.String("run_id", runID))
	}

	// Add step ID if present
	if stepID, ok := ctx.Value(StepIDKey).(string); ok && stepID != "" {
		r.AddAttrs(slog.String("step_id", stepID))
	}

	return h.Handler.Handle(ctx, r)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithStepID adds a step ID to the context
func WithStepID(ctx context.Context, stepID string) context.Context {
	return context.WithValue(ctx, StepIDKey, stepID)
}

// Logger returns a logger with run_id/step_id attached as attributes, for
// call sites that want a *slog.Logger rather than the Debug/Info/Warn/Error
// helpers below.
func Logger(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	var attrs []any
	if runID, ok := ctx.Value(RunIDKey).(string); ok && runID != "" {
		attrs = append(attrs, "run_id", runID)
	}
	if stepID, ok := ctx.Value(StepIDKey).(string); ok && stepID != "" {
		attrs = append(attrs, "step_id", stepID)
	}

	if len(attrs) > 0 {
		return logger.With(attrs...)
	}
	return logger
}

// Common log operations with context

// Debug logs a debug message
func Debug(ctx context.Context, msg string, args ...any) {
	Logger(ctx).Debug(msg, args...)
}

// Info logs an info message
func Info(ctx context.Context, msg string, args ...any) {
	Logger(ctx).Info(msg, args...)
}

// Warn logs a warning message
func Warn(ctx context.Context, msg string, args ...any) {
	Logger(ctx).Warn(msg, args...)
}

// Error logs an error message
func Error(ctx context.Context, msg string, args ...any) {
	Logger(ctx).Error(msg, args...)
}
