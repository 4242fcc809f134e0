package downloadables

import (
	"context"
	"log/slog"
)

// Logger is the diagnostic sink. *slog.Logger satisfies it.
type Logger interface {
	Log(ctx context.Context, level slog.Level, msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Log(context.Context, slog.Level, string, ...any) {}
