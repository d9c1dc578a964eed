package fsm

import (
	"context"
	"log/slog"
	"time"

	"github.com/amp-labs/catalog-fsm/logger"
)

// Logger provides logging hooks for machine execution.
type Logger interface {
	TransitionExecuted(ctx context.Context, machine, from, event, to string)
	EventIgnored(ctx context.Context, machine, state, event string)
	ActionCompleted(ctx context.Context, machine, state, kind string, duration time.Duration)
}

// DefaultLogger implements Logger using slog.
type DefaultLogger struct {
	logger *slog.Logger
}

// NewDefaultLogger creates a new default logger. A nil slog logger means the
// context-aware logger from the logger package is used for every record.
func NewDefaultLogger(l *slog.Logger) *DefaultLogger {
	return &DefaultLogger{
		logger: l,
	}
}

func (l *DefaultLogger) get(ctx context.Context) *slog.Logger {
	if l.logger != nil {
		return l.logger
	}

	return logger.Get(ctx)
}

func (l *DefaultLogger) TransitionExecuted(ctx context.Context, machine, from, event, to string) {
	l.get(ctx).DebugContext(ctx, "Transition executed",
		"machine", machine,
		"from", from,
		"event", event,
		"to", to,
	)
}

// EventIgnored records an event that has no entry for the current state.
// This is expected behavior, so it is logged at debug level only.
func (l *DefaultLogger) EventIgnored(ctx context.Context, machine, state, event string) {
	l.get(ctx).DebugContext(ctx, "Event ignored",
		"machine", machine,
		"state", state,
		"event", event,
	)
}

func (l *DefaultLogger) ActionCompleted(ctx context.Context, machine, state, kind string, duration time.Duration) {
	l.get(ctx).DebugContext(ctx, "Action completed",
		"machine", machine,
		"state", state,
		"kind", kind,
		"duration_ms", duration.Milliseconds(),
	)
}
