package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// undoStep reverses one hardware side effect of a multi-step change.
type undoStep struct {
	desc string
	fn   func(ctx context.Context) error
}

// undoStack collects the inverse of each completed step of a port
// group recreate, so a failure partway through can put hardware back
// the way it was.
type undoStack []undoStep

// push records the inverse of a step that just succeeded.
func (u *undoStack) push(desc string, fn func(ctx context.Context) error) {
	*u = append(*u, undoStep{desc: desc, fn: fn})
}

// rollback runs every step newest first. It keeps going past failures
// and returns them joined. Cancellation of ctx is ignored.
func (u undoStack) rollback(ctx context.Context, logger *slog.Logger) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(u) - 1; i >= 0; i-- {
		step := u[i]
		if err := step.fn(ctx); err != nil {
			logger.ErrorContext(ctx, "rollback step failed", "step", step.desc, "error", err)
			errs = append(errs, fmt.Errorf("rollback %s: %w", step.desc, err))
			continue
		}
		logger.DebugContext(ctx, "rolled back", "step", step.desc)
	}
	return errors.Join(errs...)
}
