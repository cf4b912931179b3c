package tiermem

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/tiermem/model"
)

// Logger wraps slog.Logger with memory-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithTier adds a tier field to the logger.
func (l *Logger) WithTier(tier model.Tier) *Logger {
	return &Logger{
		Logger: l.Logger.With("tier", tier.String()),
	}
}

// LogStore logs a store operation.
func (l *Logger) LogStore(ctx context.Context, id string, tier model.Tier, err error) {
	if err != nil {
		l.ErrorContext(ctx, "store failed",
			"id", id,
			"tier", tier.String(),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "store completed",
			"id", id,
			"tier", tier.String(),
		)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"k", k,
			"results", resultsFound,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, id string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"id", id,
		)
	}
}

// LogPromotion logs the outcome of one promotion cycle.
func (l *Logger) LogPromotion(ctx context.Context, promoted, expired int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "promotion cycle failed",
			"promoted", promoted,
			"expired", expired,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "promotion cycle completed",
			"promoted", promoted,
			"expired", expired,
		)
	}
}

// LogResync logs a tier resync.
func (l *Logger) LogResync(ctx context.Context, tier model.Tier, err error) {
	if err != nil {
		l.ErrorContext(ctx, "resync failed",
			"tier", tier.String(),
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "resync completed",
			"tier", tier.String(),
		)
	}
}
