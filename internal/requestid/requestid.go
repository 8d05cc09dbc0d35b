// Package requestid propagates cycle and request ids through context and
// onto log lines.
package requestid

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type ctxKey struct{}

// WithRequestID returns a context with the given id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the id from context, or generates a new one.
func FromContext(ctx context.Context) string {
	if id, ok := Lookup(ctx); ok {
		return id
	}
	return uuid.New().String()
}

// Lookup returns the id stored in ctx, if any.
func Lookup(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// New generates a new id and returns the enriched context and id.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return WithRequestID(ctx, id), id
}

// Logger returns l tagged with the cycle id carried by ctx. Without one, l
// is returned unchanged.
func Logger(ctx context.Context, l zerolog.Logger) zerolog.Logger {
	id, ok := Lookup(ctx)
	if !ok {
		return l
	}
	return l.With().Str("cycle_id", id).Logger()
}
