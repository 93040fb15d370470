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
	"github.com/frobware/go-saiagent/sai"
	"github.com/frobware/go-saiagent/store"
)

// NeighborHandle bundles a neighbor entry with the next hop that
// forwards through it. Both are nil while the neighbor is unresolved.
type NeighborHandle struct {
	Neighbor saiagent.Neighbor

	rif      sai.ObjectID
	neighbor store.Ref[store.NeighborKey, store.NeighborAttrs]
	nextHop  store.Ref[store.NextHopKey, store.NextHopAttrs]
	linkDown bool
}

// Programmed reports whether the neighbor is installed in hardware.
func (h *NeighborHandle) Programmed() bool { return h.neighbor != nil }

// NextHopID returns the next hop through the neighbor, or the null
// object while unresolved.
func (h *NeighborHandle) NextHopID() sai.ObjectID {
	if h.nextHop == nil {
		return sai.NullObjectID
	}
	return h.nextHop.Value().ID()
}

// AdapterKey returns the neighbor entry, or nil while unresolved.
func (h *NeighborHandle) AdapterKey() sai.AdapterKey {
	if h.neighbor == nil {
		return nil
	}
	return h.neighbor.Value().AdapterKey()
}

// RouterInterfaceID returns the interface the neighbor is on.
func (h *NeighborHandle) RouterInterfaceID() sai.ObjectID { return h.rif }

// LinkDown reports whether the neighbor's port is down.
func (h *NeighborHandle) LinkDown() bool { return h.linkDown }

func (h *NeighborHandle) wantProgrammed() bool { return h.Neighbor.Resolved() && !h.linkDown }

// NeighborManager programs neighbor entries and their next hops, and
// tells the next hop group manager when a neighbor starts or stops
// forwarding.
type NeighborManager struct {
	t       *ManagerTable
	logger  *slog.Logger
	handles map[saiagent.NeighborKey]*NeighborHandle
}

// AddNeighbor registers a neighbor and programs it when resolved.
func (m *NeighborManager) AddNeighbor(ctx context.Context, n saiagent.Neighbor) error {
	k := n.Key()
	if _, ok := m.handles[k]; ok {
		return saiagent.AlreadyExistsError{Kind: "neighbor", Key: k}
	}
	rif, err := m.t.RouterInterfaces.routerInterfaceID(n.Interface)
	if err != nil {
		return fmt.Errorf("neighbor %s: %w", k, err)
	}
	h := &NeighborHandle{Neighbor: n, rif: rif, linkDown: m.t.Ports.isOperDown(n.Port)}
	if h.wantProgrammed() {
		if err := m.program(ctx, h); err != nil {
			return err
		}
	}
	m.handles[k] = h
	m.logger.DebugContext(ctx, "added neighbor", "neighbor", k, "programmed", h.Programmed())
	return nil
}

func (m *NeighborManager) program(ctx context.Context, h *NeighborHandle) error {
	n := h.Neighbor
	nbr, err := m.t.store.Neighbors.SetObject(ctx,
		store.NeighborKey{RouterInterface: h.rif, IP: n.IP},
		store.NeighborAttrs{DstMAC: sai.MacAddress(n.MAC), Metadata: n.ClassID})
	if err != nil {
		return fmt.Errorf("neighbor %s: %w", n.Key(), err)
	}
	nh, err := m.t.store.NextHops.SetObject(ctx,
		store.NextHopKey{RouterInterface: h.rif, IP: n.IP},
		store.NextHopAttrs{Type: sai.NextHopTypeIP, RouterInterface: h.rif, IP: n.IP})
	if err != nil {
		return errors.Join(fmt.Errorf("neighbor %s next hop: %w", n.Key(), err), nbr.Release(ctx))
	}
	h.neighbor = nbr
	h.nextHop = nh
	m.t.NextHopGroups.HandleResolvedNeighbor(ctx, n.Key(), nh.Value().ID())
	return nil
}

// unprogram removes the neighbor's members from every group and then
// the next hop and the neighbor entry. While a group still holds a
// member through the neighbor, because its removal failed, the next
// hop and the neighbor entry are parked until a resync removes it.
// Hardware failures are parked too and never returned.
func (m *NeighborManager) unprogram(ctx context.Context, h *NeighborHandle) {
	if !h.Programmed() {
		return
	}
	k := h.Neighbor.Key()
	m.t.NextHopGroups.HandleUnresolvedNeighbor(ctx, k)
	nh, nbr := h.nextHop, h.neighbor
	h.nextHop, h.neighbor = nil, nil

	if m.t.NextHopGroups.holdsMember(k) {
		inUse := func() bool { return m.t.NextHopGroups.holdsMember(k) }
		m.t.deferRelease(ctx, fmt.Sprintf("neighbor %s next hop", k), nh, inUse)
		m.t.deferRelease(ctx, fmt.Sprintf("neighbor %s", k), nbr, inUse)
		return
	}
	m.t.releaseOrDefer(ctx, fmt.Sprintf("neighbor %s next hop", k), nh)
	m.t.releaseOrDefer(ctx, fmt.Sprintf("neighbor %s", k), nbr)
}

// ChangeNeighbor moves a neighbor between the resolved and unresolved
// states or updates its MAC and class id in place.
func (m *NeighborManager) ChangeNeighbor(ctx context.Context, old, new saiagent.Neighbor) error {
	k := new.Key()
	h, ok := m.handles[k]
	if !ok {
		return saiagent.NotFoundError{Kind: "neighbor", Key: k}
	}
	if h.Neighbor == new {
		return nil
	}
	h.Neighbor = new
	h.linkDown = m.t.Ports.isOperDown(new.Port)
	switch want := h.wantProgrammed(); {
	case want && h.Programmed():
		err := h.neighbor.Value().SetAttributes(ctx, store.NeighborAttrs{DstMAC: sai.MacAddress(new.MAC), Metadata: new.ClassID})
		if err != nil {
			return fmt.Errorf("neighbor %s: %w", k, err)
		}
	case want:
		return m.program(ctx, h)
	default:
		m.unprogram(ctx, h)
	}
	return nil
}

// RemoveNeighbor unprograms and forgets a neighbor.
func (m *NeighborManager) RemoveNeighbor(ctx context.Context, n saiagent.Neighbor) error {
	k := n.Key()
	h, ok := m.handles[k]
	if !ok {
		return saiagent.NotFoundError{Kind: "neighbor", Key: k}
	}
	delete(m.handles, k)
	m.unprogram(ctx, h)
	return nil
}

func (m *NeighborManager) onPort(port saiagent.PortID) []*NeighborHandle {
	var out []*NeighborHandle
	for _, k := range slices.SortedFunc(maps.Keys(m.handles), compute.CompareNeighborKeys) {
		if h := m.handles[k]; h.Neighbor.Port == port {
			out = append(out, h)
		}
	}
	return out
}

// HandleLinkDown unresolves every neighbor reached through port. Groups
// lose those members; routes are not touched.
// Removals that fail are parked rather than returned.
func (m *NeighborManager) HandleLinkDown(ctx context.Context, port saiagent.PortID) error {
	for _, h := range m.onPort(port) {
		h.linkDown = true
		m.unprogram(ctx, h)
	}
	return nil
}

// HandleLinkUp programs the resolved neighbors reached through port
// again.
func (m *NeighborManager) HandleLinkUp(ctx context.Context, port saiagent.PortID) error {
	var errs []error
	for _, h := range m.onPort(port) {
		h.linkDown = false
		if h.wantProgrammed() && !h.Programmed() {
			errs = append(errs, m.program(ctx, h))
		}
	}
	return errors.Join(errs...)
}

// resolvedNextHop returns the next hop through a programmed neighbor.
func (m *NeighborManager) resolvedNextHop(k saiagent.NeighborKey) (sai.ObjectID, bool) {
	h, ok := m.handles[k]
	if !ok || !h.Programmed() {
		return sai.NullObjectID, false
	}
	return h.NextHopID(), true
}

// GetNeighborHandle returns the handle of a neighbor.
func (m *NeighborManager) GetNeighborHandle(k saiagent.NeighborKey) (*NeighborHandle, error) {
	h, ok := m.handles[k]
	if !ok {
		return nil, saiagent.NotFoundError{Kind: "neighbor", Key: k}
	}
	return h, nil
}

// ListManagedObjects describes every neighbor.
func (m *NeighborManager) ListManagedObjects() []ManagedObject {
	out := make([]ManagedObject, 0, len(m.handles))
	for _, k := range slices.SortedFunc(maps.Keys(m.handles), compute.CompareNeighborKeys) {
		h := m.handles[k]
		obj := ManagedObject{
			Manager: "neighbor",
			Key:     k.String(),
			Detail: fmt.Sprintf("mac=%s port=%d programmed=%t link_down=%t next_hop=%s",
				h.Neighbor.MAC, h.Neighbor.Port, h.Programmed(), h.linkDown, h.NextHopID()),
		}
		if key := h.AdapterKey(); key != nil {
			obj.AdapterKey = key.String()
		}
		out = append(out, obj)
	}
	return out
}
