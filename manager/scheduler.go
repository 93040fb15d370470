package manager

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"

	saiagent "github.com/frobware/go-saiagent"
	"github.com/frobware/go-saiagent/refmap"
	"github.com/frobware/go-saiagent/sai"
	"github.com/frobware/go-saiagent/store"
)

// SchedulerHandle is one scheduler shared by every port with the same
// settings.
type SchedulerHandle struct {
	Settings  saiagent.SchedulerSettings
	scheduler store.Ref[store.SchedulerKey, store.SchedulerAttrs]
}

// ID returns the scheduler's hardware id.
func (h *SchedulerHandle) ID() sai.ObjectID { return h.scheduler.Value().ID() }

// SchedulerManager deduplicates port schedulers.
type SchedulerManager struct {
	t       *ManagerTable
	logger  *slog.Logger
	handles *refmap.OrderedRefMap[saiagent.SchedulerSettings, *SchedulerHandle]
}

func newSchedulerManager(t *ManagerTable, logger *slog.Logger) *SchedulerManager {
	return &SchedulerManager{
		t:      t,
		logger: logger,
		handles: refmap.NewOrdered(compareSchedulerSettings,
			func(ctx context.Context, _ saiagent.SchedulerSettings, h *SchedulerHandle) error {
				return h.scheduler.Release(ctx)
			}),
	}
}

func compareSchedulerSettings(a, b saiagent.SchedulerSettings) int {
	return cmp.Or(
		cmp.Compare(a.Type, b.Type),
		cmp.Compare(a.Weight, b.Weight),
		cmp.Compare(a.MinRateKbps, b.MinRateKbps),
		cmp.Compare(a.MaxRateKbps, b.MaxRateKbps),
	)
}

func schedulerKey(s saiagent.SchedulerSettings) store.SchedulerKey {
	t := sai.SchedulingTypeWRR
	if s.Type == saiagent.SchedulerStrict {
		t = sai.SchedulingTypeStrict
	}
	return store.SchedulerKey{Type: t, Weight: s.Weight, MinRate: s.MinRateKbps * 1000, MaxRate: s.MaxRateKbps * 1000}
}

// RefScheduler returns a reference to the scheduler for s, creating it
// on first use.
func (m *SchedulerManager) RefScheduler(ctx context.Context, s saiagent.SchedulerSettings) (*refmap.Ref[saiagent.SchedulerSettings, *SchedulerHandle], error) {
	ref, created, err := m.handles.RefOrEmplace(s, func() (*SchedulerHandle, error) {
		key := schedulerKey(s)
		sched, err := m.t.store.Schedulers.SetObject(ctx, key, store.SchedulerAttrs(key))
		if err != nil {
			return nil, fmt.Errorf("scheduler %+v: %w", s, err)
		}
		return &SchedulerHandle{Settings: s, scheduler: sched}, nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		m.logger.Debug("created scheduler", "settings", s, "id", ref.Value().ID())
	}
	return ref, nil
}

// Len returns the number of distinct schedulers.
func (m *SchedulerManager) Len() int { return m.handles.Len() }

// ListManagedObjects describes every scheduler.
func (m *SchedulerManager) ListManagedObjects() []ManagedObject {
	var out []ManagedObject
	for s, h := range m.handles.All() {
		out = append(out, ManagedObject{
			Manager:    "scheduler",
			Key:        fmt.Sprintf("%s/%d/%d-%d", s.Type, s.Weight, s.MinRateKbps, s.MaxRateKbps),
			AdapterKey: h.ID().String(),
			Detail:     fmt.Sprintf("ports=%d", m.handles.ReferenceCount(s)),
		})
	}
	return out
}
