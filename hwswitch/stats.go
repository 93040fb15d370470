package hwswitch

import (
	"context"

	saiagent "github.com/frobware/go-saiagent"
	"github.com/frobware/go-saiagent/sai"
)

// UpdateStats refreshes the counters of every port. Per-port failures
// are logged and skipped.
func (s *Switch) UpdateStats(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	s.managers.Ports.UpdateStats(ctx)
	return nil
}

// PortStats returns the last collected counters of a port.
func (s *Switch) PortStats(id saiagent.PortID) (map[sai.StatID]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	h, err := s.managers.Ports.GetPortHandle(id)
	if err != nil {
		return nil, err
	}
	return h.Stats(), nil
}

// AllPortStats returns the last collected counters of every port.
func (s *Switch) AllPortStats() map[saiagent.PortID]map[sai.StatID]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready() != nil {
		return nil
	}
	out := make(map[saiagent.PortID]map[sai.StatID]uint64)
	for _, id := range s.managers.Ports.PortIDs() {
		h, err := s.managers.Ports.GetPortHandle(id)
		if err != nil {
			continue
		}
		out[id] = h.Stats()
	}
	return out
}
