package logging

import (
	"context"
	"log/slog"
)

// componentKey is the attribute that names a logger's component.
const componentKey = "component"

// filteringHandler drops records below the level the Spec gives the
// handler's component. The level is resolved once, when a component
// attribute is attached with WithAttrs, not per record.
type filteringHandler struct {
	inner slog.Handler
	spec  *Spec
	level slog.Level
}

// NewFilteringHandler wraps inner with per-component filtering.
// Handlers without a component use the spec's base level.
func NewFilteringHandler(inner slog.Handler, spec *Spec) slog.Handler {
	return &filteringHandler{inner: inner, spec: spec, level: spec.LevelFor("").ToSlog()}
}

func (h *filteringHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *filteringHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level < h.level {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

// WithAttrs attaches attrs. The last component attribute among them
// picks the level.
func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	level := h.level
	for _, a := range attrs {
		if a.Key == componentKey {
			level = h.spec.LevelFor(a.Value.String()).ToSlog()
		}
	}
	return &filteringHandler{inner: h.inner.WithAttrs(attrs), spec: h.spec, level: level}
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{inner: h.inner.WithGroup(name), spec: h.spec, level: h.level}
}
