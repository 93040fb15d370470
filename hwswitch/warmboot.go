package hwswitch

import (
	"context"
	"errors"
	"fmt"

	"github.com/frobware/go-saiagent/interpreter"
)

// CompleteWarmBoot ends a warm boot once the first intended state has
// been applied. Reloaded objects no manager claimed are removed from
// hardware and the persisted state is cleared. An object that cannot
// be removed fails with an error wrapping
// saiagent.ErrConsistencyViolation. Calling it after a cold boot does
// nothing.
func (s *Switch) CompleteWarmBoot(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	if !s.warmPend {
		return nil
	}

	unclaimed := 0
	for t, keys := range s.store.UnclaimedWarmbootHandles() {
		s.logger.InfoContext(ctx, "unclaimed warm boot objects", "object_type", t.String(), "count", len(keys))
		unclaimed += len(keys)
	}
	if err := s.store.CheckUnexpectedUnclaimedWarmbootHandles(ctx); err != nil {
		return err
	}

	err := s.state.RunInTransaction(ctx, func(tx interpreter.StateStore) error {
		if err := tx.ClearWarmbootState(ctx, s.cfg.Index); err != nil {
			return err
		}
		return tx.CompleteBoot(ctx, s.instanceID, unclaimed)
	})
	if err != nil {
		return fmt.Errorf("complete warm boot: %w", err)
	}
	s.warmPend = false
	s.logger.InfoContext(ctx, "warm boot complete", "removed_unclaimed", unclaimed)
	return nil
}

// ExitForWarmBoot persists every live object and releases the
// software state without touching hardware. The switch accepts no
// further control path calls.
func (s *Switch) ExitForWarmBoot(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	if s.warmPend {
		return errors.New("exit for warm boot: previous warm boot not complete")
	}

	doc, err := s.store.Document(s.instanceID)
	if err != nil {
		return fmt.Errorf("exit for warm boot: %w", err)
	}
	if err := s.state.SaveWarmbootState(ctx, s.cfg.Index, doc); err != nil {
		return fmt.Errorf("exit for warm boot: %w", err)
	}
	s.store.ExitForWarmBoot()
	s.exited = true
	s.logger.InfoContext(ctx, "exited for warm boot", "objects", doc.Len())
	return nil
}

// WarmBootPending reports whether a warm boot is waiting for
// CompleteWarmBoot.
func (s *Switch) WarmBootPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.warmPend
}
