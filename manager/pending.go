package manager

import (
	"context"
	"errors"
	"fmt"
)

// releaser is a reference whose removal from hardware can fail. A
// failed Release leaves it held so it can be released again.
type releaser interface {
	Release(ctx context.Context) error
}

// pendingRelease is a reference its handle no longer owns but that
// hardware still holds.
type pendingRelease struct {
	desc string
	ref  releaser
	// blocked reports whether releasing now would fail because
	// another object still uses this one.
	blocked func() bool
}

// releaseOrDefer releases ref. When that fails ref is parked and
// retried at the start of the next ApplyDelta. The owning handle is
// already gone by then, so the failure does not fail the caller;
// Doctor reports parked references until they are released.
func (t *ManagerTable) releaseOrDefer(ctx context.Context, desc string, ref releaser) {
	if err := ref.Release(ctx); err != nil {
		t.logger.WarnContext(ctx, "release failed, deferring", "object", desc, "error", err)
		t.pending = append(t.pending, pendingRelease{desc: desc, ref: ref})
	}
}

// deferRelease parks ref without trying to release it.
func (t *ManagerTable) deferRelease(ctx context.Context, desc string, ref releaser, blocked func() bool) {
	t.logger.WarnContext(ctx, "deferring release", "object", desc)
	t.pending = append(t.pending, pendingRelease{desc: desc, ref: ref, blocked: blocked})
}

// retryPendingReleases releases every parked reference that is no
// longer blocked. Failures stay parked.
func (t *ManagerTable) retryPendingReleases(ctx context.Context) error {
	var errs []error
	kept := t.pending[:0]
	for _, p := range t.pending {
		if p.blocked != nil && p.blocked() {
			kept = append(kept, p)
			continue
		}
		if err := p.ref.Release(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.desc, err))
			kept = append(kept, p)
			continue
		}
		t.logger.DebugContext(ctx, "released deferred object", "object", p.desc)
	}
	clear(t.pending[len(kept):])
	t.pending = kept
	return errors.Join(errs...)
}

// PendingReleases describes the references waiting to be released.
func (t *ManagerTable) PendingReleases() []string {
	out := make([]string, 0, len(t.pending))
	for _, p := range t.pending {
		out = append(out, p.desc)
	}
	return out
}
