package hwswitch

import (
	"context"
	"fmt"
	"time"

	saiagent "github.com/frobware/go-saiagent"
	"github.com/frobware/go-saiagent/compute"
	"github.com/frobware/go-saiagent/logging"
	"github.com/frobware/go-saiagent/manager"
)

// StateChanged reconciles hardware with desired. The delta from the
// last applied state runs as one batch under the control path lock
// with a fresh batch id in the context.
//
// When the batch fails part way, the applied state is rebuilt from the
// managers so that the next call computes its delta from what hardware
// holds. The error is returned for the caller to decide on a resync.
func (s *Switch) StateChanged(ctx context.Context, desired saiagent.SwitchState) error {
	if err := desired.Validate(); err != nil {
		return fmt.Errorf("invalid state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}

	batch := s.batchID.Add(1)
	ctx = logging.ContextWithBatchID(ctx, batch)
	delta := compute.Delta(s.current, desired)
	if delta.Empty() {
		s.logger.DebugContext(ctx, "state unchanged")
		return nil
	}

	start := time.Now()
	if err := s.managers.ApplyDelta(ctx, delta); err != nil {
		s.current = s.managers.AppliedState()
		s.logger.ErrorContext(ctx, "state apply failed", "error", err, "duration", time.Since(start))
		return fmt.Errorf("batch %d: %w", batch, err)
	}
	s.current = desired.Clone()
	s.logger.InfoContext(ctx, "state applied",
		"ports", len(desired.Ports), "routes", len(desired.Routes),
		"neighbors", len(desired.Neighbors), "duration", time.Since(start))
	return nil
}

// Doctor compares the store and the managers with hardware.
func (s *Switch) Doctor(ctx context.Context) (manager.DoctorReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return manager.DoctorReport{}, err
	}
	return s.managers.Doctor(ctx)
}
