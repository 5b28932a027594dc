package logger

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// contextKey is a private type to avoid collisions in context.
type contextKey string

const (
	ctxRID    contextKey = "rid"
	ctxPhone  contextKey = "phone"
	ctxLogger contextKey = "logger"
)

// Background returns context.Background(), provided for call-site symmetry
// with the other context helpers.
func Background() context.Context {
	return context.Background()
}

// NewRID generates a request correlation id for one inbound message.
func NewRID() string {
	id := uuid.NewString()
	// Short form is enough to correlate lines within one webhook delivery.
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

// WithRID attaches a request correlation id to the context.
func WithRID(ctx context.Context, rid string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxRID, rid)
}

// RIDFrom extracts the rid from context if present.
func RIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(ctxRID).(string); ok {
		return s
	}
	return ""
}

// WithPhone attaches the user's channel address for downstream logs.
func WithPhone(ctx context.Context, phone string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if phone == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxPhone, phone)
}

// PhoneFrom extracts the phone from context if present.
func PhoneFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(ctxPhone).(string); ok {
		return s
	}
	return ""
}

// WithLogger stores the provided slog.Logger in context for propagation across layers.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxLogger, log)
}

// FromContext extracts the slog.Logger from context or returns the global default.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return L
	}
	if l, ok := ctx.Value(ctxLogger).(*slog.Logger); ok {
		return l
	}
	return L
}
