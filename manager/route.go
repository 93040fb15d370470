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

// RouteHandle bundles a route entry with the next hop group it
// forwards to. Routes that are not programmed, host routes owned by
// their interface, have a nil route.
type RouteHandle struct {
	Route saiagent.Route

	route        store.Ref[store.RouteKey, store.RouteAttrs]
	nextHopGroup *refmap.Ref[string, *NextHopGroupHandle]
}

// Skipped reports whether the route is left to its interface.
func (h *RouteHandle) Skipped() bool { return h.route == nil }

// AdapterKey returns the route entry, or nil for a skipped route.
func (h *RouteHandle) AdapterKey() sai.AdapterKey {
	if h.route == nil {
		return nil
	}
	return h.route.Value().AdapterKey()
}

// Attributes returns the programmed forwarding attributes.
func (h *RouteHandle) Attributes() store.RouteAttrs {
	if h.route == nil {
		return store.RouteAttrs{}
	}
	return h.route.Value().Attributes()
}

// NextHopGroup returns the group the route forwards to, or nil.
func (h *RouteHandle) NextHopGroup() *NextHopGroupHandle {
	if h.nextHopGroup == nil {
		return nil
	}
	return h.nextHopGroup.Value()
}

// RouteManager programs route entries.
type RouteManager struct {
	t       *ManagerTable
	logger  *slog.Logger
	handles map[saiagent.RouteKey]*RouteHandle
}

// forwarding returns the attributes that implement a route's action.
// NEXTHOPS routes also return a reference to their group.
func (m *RouteManager) forwarding(ctx context.Context, r saiagent.Route) (store.RouteAttrs, *refmap.Ref[string, *NextHopGroupHandle], error) {
	attrs := store.RouteAttrs{Metadata: r.ClassID}
	switch {
	case r.Connected:
		rif, err := m.t.RouterInterfaces.routerInterfaceID(r.NextHops[0].Interface)
		if err != nil {
			return attrs, nil, err
		}
		attrs.PacketAction = sai.PacketActionForward
		attrs.NextHop = rif
	case r.Action == saiagent.RouteActionDrop:
		attrs.PacketAction = sai.PacketActionDrop
	case r.Action == saiagent.RouteActionToCPU:
		attrs.PacketAction = sai.PacketActionForward
		attrs.NextHop = m.t.Switch.CPUPort()
	case r.Action == saiagent.RouteActionNextHops:
		ref, err := m.t.NextHopGroups.IncRefOrAddNextHopGroup(ctx, r.NextHops)
		if err != nil {
			return attrs, nil, err
		}
		attrs.PacketAction = sai.PacketActionForward
		attrs.NextHop = ref.Value().ID()
		return attrs, ref, nil
	default:
		return attrs, nil, saiagent.UnsupportedError{Operation: fmt.Sprintf("route action %q", r.Action)}
	}
	return attrs, nil, nil
}

// AddRoute programs a route.
func (m *RouteManager) AddRoute(ctx context.Context, r saiagent.Route) error {
	k := r.Key()
	if _, ok := m.handles[k]; ok {
		return saiagent.AlreadyExistsError{Kind: "route", Key: k}
	}
	if !compute.ValidRoute(r, m.t.RouterInterfaces.interfaces()) {
		m.handles[k] = &RouteHandle{Route: r}
		m.logger.DebugContext(ctx, "skipping interface host route", "route", k)
		return nil
	}
	h, err := m.program(ctx, r)
	if err != nil {
		return err
	}
	m.handles[k] = h
	m.logger.DebugContext(ctx, "added route", "route", k, "action", r.Action, "next_hops", len(r.NextHops))
	return nil
}

func (m *RouteManager) program(ctx context.Context, r saiagent.Route) (*RouteHandle, error) {
	vr, err := m.t.Switch.VirtualRouter(r.Router)
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", r.Key(), err)
	}
	key := store.RouteKey{VirtualRouter: vr, Prefix: r.Prefix}
	if id, ok := m.t.RouterInterfaces.hostRouteOwner(key); ok {
		return nil, saiagent.AlreadyExistsError{Kind: "route", Key: fmt.Sprintf("%s (host route of interface %d)", r.Key(), id)}
	}
	attrs, nhg, err := m.forwarding(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", r.Key(), err)
	}
	route, err := m.t.store.Routes.SetObject(ctx, key, attrs)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("route %s: %w", r.Key(), err), nhg.Release(ctx))
	}
	return &RouteHandle{Route: r, route: route, nextHopGroup: nhg}, nil
}

// ChangeRoute updates a route's forwarding in place. The new group is
// referenced before the old one is released so that a route keeping
// its next hop set never churns its group.
func (m *RouteManager) ChangeRoute(ctx context.Context, old, new saiagent.Route) error {
	k := new.Key()
	h, ok := m.handles[k]
	if !ok {
		return saiagent.NotFoundError{Kind: "route", Key: k}
	}
	if h.Route.Equal(new) {
		return nil
	}
	valid := compute.ValidRoute(new, m.t.RouterInterfaces.interfaces())
	if h.Skipped() || !valid {
		if err := m.RemoveRoute(ctx, h.Route); err != nil {
			return err
		}
		return m.AddRoute(ctx, new)
	}
	attrs, nhg, err := m.forwarding(ctx, new)
	if err != nil {
		return fmt.Errorf("route %s: %w", k, err)
	}
	if err := h.route.Value().SetAttributes(ctx, attrs); err != nil {
		return errors.Join(fmt.Errorf("route %s: %w", k, err), nhg.Release(ctx))
	}
	stale := h.nextHopGroup
	h.nextHopGroup = nhg
	h.Route = new
	if stale != nil {
		m.t.releaseOrDefer(ctx, fmt.Sprintf("route %s previous next hop group", k), stale)
	}
	return nil
}

// RemoveRoute removes a route entry and then lets go of its group.
// The handle survives a failed entry removal.
func (m *RouteManager) RemoveRoute(ctx context.Context, r saiagent.Route) error {
	k := r.Key()
	h, ok := m.handles[k]
	if !ok {
		return saiagent.NotFoundError{Kind: "route", Key: k}
	}
	if err := h.route.Release(ctx); err != nil {
		return fmt.Errorf("route %s: %w", k, err)
	}
	delete(m.handles, k)
	if h.nextHopGroup != nil {
		m.t.releaseOrDefer(ctx, fmt.Sprintf("route %s next hop group", k), h.nextHopGroup)
	}
	return nil
}

// makeInterfaceToMeRoutes programs a host route to the CPU for every
// address of an interface.
func (m *RouteManager) makeInterfaceToMeRoutes(ctx context.Context, vr sai.ObjectID, intf saiagent.Interface) ([]store.Ref[store.RouteKey, store.RouteAttrs], error) {
	var refs []store.Ref[store.RouteKey, store.RouteAttrs]
	for _, prefix := range compute.InterfaceHostRoutes(intf) {
		key := store.RouteKey{VirtualRouter: vr, Prefix: prefix}
		if k, ok := m.programmedAt(key); ok {
			err := saiagent.AlreadyExistsError{Kind: "route", Key: fmt.Sprintf("%s (host route of interface %d)", k, intf.ID)}
			return nil, errors.Join(err, releaseAll(ctx, refs))
		}
		ref, err := m.t.store.Routes.SetObject(ctx, key,
			store.RouteAttrs{PacketAction: sai.PacketActionForward, NextHop: m.t.Switch.CPUPort()})
		if err != nil {
			return nil, errors.Join(fmt.Errorf("to me route %s: %w", prefix, err), releaseAll(ctx, refs))
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// programmedAt returns the route programmed at a hardware route key.
func (m *RouteManager) programmedAt(key store.RouteKey) (saiagent.RouteKey, bool) {
	for k, h := range m.handles {
		if h.route != nil && h.route.Key() == key {
			return k, true
		}
	}
	return saiagent.RouteKey{}, false
}

// GetRouteHandle returns the handle of a route.
func (m *RouteManager) GetRouteHandle(k saiagent.RouteKey) (*RouteHandle, error) {
	h, ok := m.handles[k]
	if !ok {
		return nil, saiagent.NotFoundError{Kind: "route", Key: k}
	}
	return h, nil
}

// ListManagedObjects describes every route.
func (m *RouteManager) ListManagedObjects() []ManagedObject {
	out := make([]ManagedObject, 0, len(m.handles))
	for _, k := range slices.SortedFunc(maps.Keys(m.handles), compute.CompareRouteKeys) {
		h := m.handles[k]
		obj := ManagedObject{Manager: "route", Key: k.String()}
		switch {
		case h.Skipped():
			obj.Detail = "skipped=true"
		case h.nextHopGroup != nil:
			obj.Detail = fmt.Sprintf("action=%s group=%s", h.Route.Action, h.NextHopGroup().ID())
		default:
			obj.Detail = fmt.Sprintf("action=%s next_hop=%s", h.Route.Action, h.Attributes().NextHop)
		}
		if key := h.AdapterKey(); key != nil {
			obj.AdapterKey = key.String()
		}
		out = append(out, obj)
	}
	return out
}
