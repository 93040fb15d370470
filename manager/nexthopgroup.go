package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	saiagent "github.com/frobware/go-saiagent"
	"github.com/frobware/go-saiagent/compute"
	"github.com/frobware/go-saiagent/refmap"
	"github.com/frobware/go-saiagent/sai"
	"github.com/frobware/go-saiagent/store"
)

// NextHopGroupHandle is one ECMP group shared by every route with the
// same next hop set. It has a member for each next hop whose neighbor
// is resolved.
type NextHopGroupHandle struct {
	key      string
	nextHops []saiagent.NextHop
	mode     int32

	group   store.Ref[store.NextHopGroupKey, store.NextHopGroupAttrs]
	members map[saiagent.NeighborKey]store.Ref[store.NextHopGroupMemberKey, store.NextHopGroupMemberAttrs]
}

// ID returns the group's hardware id.
func (h *NextHopGroupHandle) ID() sai.ObjectID { return h.group.Value().ID() }

// Key returns the identity of the group's next hop set.
func (h *NextHopGroupHandle) Key() string { return h.key }

// NextHops returns the canonical next hop set.
func (h *NextHopGroupHandle) NextHops() []saiagent.NextHop { return slices.Clone(h.nextHops) }

// FixedWidth reports whether the group uses fixed width mode.
func (h *NextHopGroupHandle) FixedWidth() bool { return h.mode == sai.NextHopGroupTypeFixedWidthECMP }

// MemberCount returns the number of programmed members.
func (h *NextHopGroupHandle) MemberCount() int { return len(h.members) }

// HasMember reports whether the next hop through neighbor k is
// programmed.
func (h *NextHopGroupHandle) HasMember(k saiagent.NeighborKey) bool {
	_, ok := h.members[k]
	return ok
}

func (h *NextHopGroupHandle) nextHop(k saiagent.NeighborKey) (saiagent.NextHop, bool) {
	for _, nh := range h.nextHops {
		if nh.Neighbor() == k {
			return nh, true
		}
	}
	return saiagent.NextHop{}, false
}

// NextHopGroupManager reference counts next hop groups by next hop set
// and keeps their members in step with neighbor resolution.
type NextHopGroupManager struct {
	t      *ManagerTable
	logger *slog.Logger

	handles *refmap.RefMap[string, *NextHopGroupHandle]

	// byNeighbor maps a neighbor to the keys of the groups that have
	// a next hop through it.
	byNeighbor map[saiagent.NeighborKey]map[string]struct{}

	// needsResync is set when a member update on a live group fails.
	needsResync bool
}

func newNextHopGroupManager(t *ManagerTable, logger *slog.Logger) *NextHopGroupManager {
	m := &NextHopGroupManager{
		t:          t,
		logger:     logger,
		byNeighbor: make(map[saiagent.NeighborKey]map[string]struct{}),
	}
	m.handles = refmap.New(m.destroy)
	return m
}

// IncRefOrAddNextHopGroup returns a reference to the group for nhs,
// creating it when no route uses that set yet. Members are added for
// next hops whose neighbor is already resolved.
func (m *NextHopGroupManager) IncRefOrAddNextHopGroup(ctx context.Context, nhs []saiagent.NextHop) (*refmap.Ref[string, *NextHopGroupHandle], error) {
	key := compute.NextHopSetKey(nhs)
	ref, created, err := m.handles.RefOrEmplace(key, func() (*NextHopGroupHandle, error) {
		return m.create(ctx, key, compute.CanonicalNextHops(nhs))
	})
	if err != nil {
		return nil, err
	}
	if created {
		h := ref.Value()
		m.logger.DebugContext(ctx, "created next hop group", "key", key, "id", h.ID(),
			"members", len(h.members), "next_hops", len(h.nextHops), "fixed_width", h.FixedWidth())
	}
	return ref, nil
}

func (m *NextHopGroupManager) create(ctx context.Context, key string, nhs []saiagent.NextHop) (*NextHopGroupHandle, error) {
	specs := make([]store.NextHopGroupMemberSpec, 0, len(nhs))
	for _, nh := range nhs {
		rif, err := m.t.RouterInterfaces.routerInterfaceID(nh.Interface)
		if err != nil {
			return nil, fmt.Errorf("next hop group %s: %w", key, err)
		}
		specs = append(specs, store.NextHopGroupMemberSpec{
			NextHop: store.NextHopKey{RouterInterface: rif, IP: nh.IP},
			Weight:  nh.Weight,
		})
	}
	mode := sai.NextHopGroupTypeECMP
	if limit := m.t.platform.MaxVariableWidthEcmp; limit > 0 && compute.TotalWeight(nhs) > limit {
		mode = sai.NextHopGroupTypeFixedWidthECMP
	}
	group, err := m.t.store.NextHopGroups.SetObject(ctx, store.NewNextHopGroupKey(specs, mode), store.NextHopGroupAttrs{Type: mode})
	if err != nil {
		return nil, fmt.Errorf("next hop group %s: %w", key, err)
	}
	h := &NextHopGroupHandle{
		key:      key,
		nextHops: nhs,
		mode:     mode,
		group:    group,
		members:  make(map[saiagent.NeighborKey]store.Ref[store.NextHopGroupMemberKey, store.NextHopGroupMemberAttrs]),
	}
	for _, nh := range nhs {
		nhID, ok := m.t.Neighbors.resolvedNextHop(nh.Neighbor())
		if !ok {
			continue
		}
		if err := m.addMember(ctx, h, nh, nhID); err != nil {
			return nil, errors.Join(err, m.release(ctx, h))
		}
	}
	for _, nh := range nhs {
		k := nh.Neighbor()
		if m.byNeighbor[k] == nil {
			m.byNeighbor[k] = make(map[string]struct{})
		}
		m.byNeighbor[k][key] = struct{}{}
	}
	return h, nil
}

// destroy runs when the last route using a group lets go of it. A
// group that cannot be removed stays indexed by its neighbors so that
// Resync keeps working on its members.
func (m *NextHopGroupManager) destroy(ctx context.Context, key string, h *NextHopGroupHandle) error {
	m.logger.DebugContext(ctx, "removing next hop group", "key", key, "id", h.ID())
	if err := m.release(ctx, h); err != nil {
		return err
	}
	for _, nh := range h.nextHops {
		k := nh.Neighbor()
		delete(m.byNeighbor[k], key)
		if len(m.byNeighbor[k]) == 0 {
			delete(m.byNeighbor, k)
		}
	}
	return nil
}

// release drops the members of h and then the group itself. The
// group is kept while any member remains.
func (m *NextHopGroupManager) release(ctx context.Context, h *NextHopGroupHandle) error {
	var errs []error
	for _, k := range slices.SortedFunc(maps.Keys(h.members), compute.CompareNeighborKeys) {
		errs = append(errs, m.removeMember(ctx, h, k))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	return h.group.Release(ctx)
}

func (m *NextHopGroupManager) addMember(ctx context.Context, h *NextHopGroupHandle, nh saiagent.NextHop, nhID sai.ObjectID) error {
	ref, err := m.t.store.NextHopGroupMembers.SetObject(ctx,
		store.NextHopGroupMemberKey{Group: h.ID(), NextHop: nhID},
		store.NextHopGroupMemberAttrs{Group: h.ID(), NextHop: nhID, Weight: nh.Weight})
	if err != nil {
		return fmt.Errorf("next hop group %s member %s: %w", h.key, nh, err)
	}
	h.members[nh.Neighbor()] = ref
	return nil
}

func (m *NextHopGroupManager) removeMember(ctx context.Context, h *NextHopGroupHandle, k saiagent.NeighborKey) error {
	ref, ok := h.members[k]
	if !ok {
		return nil
	}
	// A member that could not be removed is still in hardware and
	// stays in h.members until a Resync removes it.
	if err := ref.Release(ctx); err != nil {
		return fmt.Errorf("next hop group %s member %s: %w", h.key, k, err)
	}
	delete(h.members, k)
	return nil
}

// holdsMember reports whether any group still has a member through
// neighbor k in hardware.
func (m *NextHopGroupManager) holdsMember(k saiagent.NeighborKey) bool {
	for _, h := range m.handles.All() {
		if h.HasMember(k) {
			return true
		}
	}
	return false
}

func (m *NextHopGroupManager) dependents(k saiagent.NeighborKey) []*NextHopGroupHandle {
	var out []*NextHopGroupHandle
	for _, key := range slices.Sorted(maps.Keys(m.byNeighbor[k])) {
		if h, ok := m.handles.Get(key); ok {
			out = append(out, h)
		}
	}
	return out
}

// HandleResolvedNeighbor adds the next hop through a newly resolved
// neighbor to every group that includes it. A failed member add is
// logged and flags the manager for resync; the group stays live.
func (m *NextHopGroupManager) HandleResolvedNeighbor(ctx context.Context, k saiagent.NeighborKey, nhID sai.ObjectID) {
	for _, h := range m.dependents(k) {
		if h.HasMember(k) {
			continue
		}
		nh, _ := h.nextHop(k)
		if err := m.addMember(ctx, h, nh, nhID); err != nil {
			m.logger.WarnContext(ctx, "next hop group member add failed", "neighbor", k, "group", h.key, "error", err)
			m.needsResync = true
			continue
		}
		m.logger.DebugContext(ctx, "added next hop group member", "neighbor", k, "group", h.key, "members", len(h.members))
	}
}

// HandleUnresolvedNeighbor removes the next hop through a neighbor
// that is no longer resolved from every group that includes it.
func (m *NextHopGroupManager) HandleUnresolvedNeighbor(ctx context.Context, k saiagent.NeighborKey) {
	for _, h := range m.dependents(k) {
		if err := m.removeMember(ctx, h, k); err != nil {
			m.logger.WarnContext(ctx, "next hop group member remove failed", "neighbor", k, "group", h.key, "error", err)
			m.needsResync = true
			continue
		}
		m.logger.DebugContext(ctx, "removed next hop group member", "neighbor", k, "group", h.key, "members", len(h.members))
	}
}

// NeedsResync reports whether a member update failed since the last
// successful Resync.
func (m *NextHopGroupManager) NeedsResync() bool { return m.needsResync }

// Resync brings the members every group holds in hardware in line
// with neighbor resolution. A member whose next hop is no longer the
// neighbor's current one is replaced.
func (m *NextHopGroupManager) Resync(ctx context.Context) error {
	var errs []error
	for _, h := range m.handles.All() {
		for _, nh := range h.nextHops {
			k := nh.Neighbor()
			nhID, resolved := m.t.Neighbors.resolvedNextHop(k)
			if ref, ok := h.members[k]; ok && (!resolved || ref.Key().NextHop != nhID) {
				if err := m.removeMember(ctx, h, k); err != nil {
					errs = append(errs, err)
					continue
				}
			}
			if resolved && !h.HasMember(k) {
				errs = append(errs, m.addMember(ctx, h, nh, nhID))
			}
		}
	}
	err := errors.Join(errs...)
	m.needsResync = err != nil
	if err == nil {
		m.logger.DebugContext(ctx, "next hop groups resynced", "groups", m.handles.Len())
	}
	return err
}

// GetNextHopGroupHandle returns the group for a next hop set without
// taking a reference.
func (m *NextHopGroupManager) GetNextHopGroupHandle(nhs []saiagent.NextHop) (*NextHopGroupHandle, bool) {
	return m.handles.Get(compute.NextHopSetKey(nhs))
}

// ReferenceCount returns the number of routes using the group for nhs.
func (m *NextHopGroupManager) ReferenceCount(nhs []saiagent.NextHop) int {
	return m.handles.ReferenceCount(compute.NextHopSetKey(nhs))
}

// Len returns the number of live groups.
func (m *NextHopGroupManager) Len() int { return m.handles.Len() }

// ListManagedObjects describes every group.
func (m *NextHopGroupManager) ListManagedObjects() []ManagedObject {
	var keys []string
	for key := range m.handles.All() {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	out := make([]ManagedObject, 0, len(keys))
	for _, key := range keys {
		h, _ := m.handles.Get(key)
		out = append(out, ManagedObject{
			Manager:    "nexthopgroup",
			Key:        key,
			AdapterKey: h.ID().String(),
			Detail: fmt.Sprintf("members=%d/%d routes=%d fixed_width=%t",
				len(h.members), len(h.nextHops), m.handles.ReferenceCount(key), h.FixedWidth()),
		})
	}
	return out
}
