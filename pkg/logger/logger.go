package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a JSON structured logger writing to stdout.
// levelOverride (LOG_LEVEL) wins over the env-derived default when it parses.
func New(appEnv, levelOverride string) *slog.Logger {
	return NewWithWriter(os.Stdout, appEnv, levelOverride)
}

// NewWithWriter is New with an explicit sink; tests pass a buffer.
func NewWithWriter(w io.Writer, appEnv, levelOverride string) *slog.Logger {
	level := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		level = slog.LevelDebug
	}
	if l, ok := parseLevel(levelOverride); ok {
		level = l
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", "carecall-rtc")
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return 0, false
	}
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

// FromOr gets a logger from context, falling back to l.
func FromOr(ctx context.Context, l *slog.Logger) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if cl, ok := v.(*slog.Logger); ok && cl != nil {
			return cl
		}
	}
	if l != nil {
		return l
	}
	return slog.Default()
}
