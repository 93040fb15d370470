package logging

import (
	"context"
	"log/slog"
)

// batchIDKey is the attribute key of the apply batch id.
const batchIDKey = "batch_id"

type batchIDContextKey struct{}

// ContextWithBatchID returns a context carrying an apply batch id.
// Records logged with the context carry it as batch_id.
func ContextWithBatchID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, batchIDContextKey{}, id)
}

// BatchIDFromContext returns the batch id carried by ctx.
func BatchIDFromContext(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(batchIDContextKey{}).(uint64)
	return id, ok
}

// batchIDHandler adds the context's batch id to each record.
type batchIDHandler struct {
	inner slog.Handler
}

// WithBatchIDHandler wraps inner so that records logged with a context
// from ContextWithBatchID carry the batch id.
func WithBatchIDHandler(inner slog.Handler) slog.Handler {
	return &batchIDHandler{inner: inner}
}

func (h *batchIDHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *batchIDHandler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := BatchIDFromContext(ctx); ok {
		r = r.Clone()
		r.AddAttrs(slog.Uint64(batchIDKey, id))
	}
	return h.inner.Handle(ctx, r)
}

func (h *batchIDHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &batchIDHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *batchIDHandler) WithGroup(name string) slog.Handler {
	return &batchIDHandler{inner: h.inner.WithGroup(name)}
}
