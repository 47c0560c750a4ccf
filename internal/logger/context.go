package logger

import (
	"context"
	"sync/atomic"
)

type ctxKey struct{}

type holder struct{ l Logger }

var process atomic.Pointer[holder]

// SetDefault registers the process logger FromContext falls back to.
// Bootstrap calls it once the configured logger exists.
func SetDefault(l Logger) {
	process.Store(&holder{l: l})
}

// WithContext returns a copy of ctx carrying l.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the request-scoped logger, else the process logger,
// else a no-op logger.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok {
		return l
	}
	if h := process.Load(); h != nil {
		return h.l
	}
	return NewNop()
}
