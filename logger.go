package vmspace

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/hupe1980/vmspace/region"
)

// Logger wraps slog.Logger with vmspace-specific context.
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
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(1000), // Unreachable level
		})),
	}
}

// WithSpace tags every record with an address-space name.
func (l *Logger) WithSpace(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("space", name),
	}
}

// LogMap logs a map operation.
func (l *Logger) LogMap(ctx context.Context, addr region.Addr, length uint64, flags MapFlags, err error) {
	if err != nil {
		l.ErrorContext(ctx, "map failed",
			"addr", addr,
			"length", length,
			"flags", flags,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "map completed",
			"addr", addr,
			"length", length,
			"flags", flags,
		)
	}
}

// LogUnmap logs an unmap operation. removed is the number of regions torn
// down.
func (l *Logger) LogUnmap(ctx context.Context, addr region.Addr, length uint64, removed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "unmap failed",
			"addr", addr,
			"length", length,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "unmap completed",
			"addr", addr,
			"length", length,
			"removed", removed,
		)
	}
}

// LogGrow logs a data-segment or stack extension.
func (l *Logger) LogGrow(ctx context.Context, what string, end region.Addr, err error) {
	if err != nil {
		l.ErrorContext(ctx, "grow failed",
			"segment", what,
			"end", end,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "grow completed",
			"segment", what,
			"end", end,
		)
	}
}

// LogTeardown logs the teardown of the whole space.
func (l *Logger) LogTeardown(ctx context.Context, regions int, pages uint64) {
	l.InfoContext(ctx, "address space torn down",
		"regions", regions,
		"pages", pages,
	)
}

// LogCheckpoint logs a checkpoint or restore.
func (l *Logger) LogCheckpoint(ctx context.Context, op, name string, regions int, err error) {
	if err != nil {
		l.ErrorContext(ctx, op+" failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, op+" completed",
			"name", name,
			"regions", regions,
		)
	}
}
