package manager

import (
	"context"
	"fmt"
	"slices"

	saiagent "github.com/frobware/go-saiagent"
	"github.com/frobware/go-saiagent/compute"
)

// ApplyDelta reconciles hardware with a state delta. Removals run
// dependents first and additions run dependencies first:
//
//	routes-, routes~(early), neighbors-, interfaces-, vlans-, mirrors-,
//	ports+~, mirrors+~, vlans+~, ports-,
//	interfaces+~, neighbors+~, routes+~
//
// A changed route whose old version uses an interface the delta
// removes is changed before that interface goes. When its new version
// cannot be programmed yet it is removed early and added back last.
//
// The first error aborts the batch; the caller decides whether to
// resync. Next hop groups flagged by a failed member update are
// resynced, and parked releases retried, before the delta is applied.
func (t *ManagerTable) ApplyDelta(ctx context.Context, d compute.StateDelta) error {
	if t.NextHopGroups.NeedsResync() {
		if err := t.NextHopGroups.Resync(ctx); err != nil {
			t.logger.WarnContext(ctx, "next hop group resync incomplete", "error", err)
		}
	}
	if len(t.pending) > 0 {
		if err := t.retryPendingReleases(ctx); err != nil {
			t.logger.WarnContext(ctx, "deferred releases still pending", "count", len(t.pending), "error", err)
		}
	}

	for _, r := range d.Routes.Removed {
		if err := t.Routes.RemoveRoute(ctx, r); err != nil {
			return fmt.Errorf("remove routes: %w", err)
		}
	}
	early, late, readd := t.splitRouteChanges(d)
	for _, c := range early {
		if err := t.Routes.ChangeRoute(ctx, c.Old, c.New); err != nil {
			return fmt.Errorf("change routes: %w", err)
		}
	}
	for _, c := range readd {
		if err := t.Routes.RemoveRoute(ctx, c.Old); err != nil {
			return fmt.Errorf("remove routes: %w", err)
		}
	}
	for _, n := range d.Neighbors.Removed {
		if err := t.Neighbors.RemoveNeighbor(ctx, n); err != nil {
			return fmt.Errorf("remove neighbors: %w", err)
		}
	}
	for _, intf := range d.Interfaces.Removed {
		if err := t.RouterInterfaces.RemoveInterface(ctx, intf); err != nil {
			return fmt.Errorf("remove interfaces: %w", err)
		}
	}
	for _, v := range d.Vlans.Removed {
		if err := t.Vlans.RemoveVlan(ctx, v); err != nil {
			return fmt.Errorf("remove vlans: %w", err)
		}
	}
	for _, mr := range d.Mirrors.Removed {
		if err := t.Mirrors.RemoveMirror(ctx, mr); err != nil {
			return fmt.Errorf("remove mirrors: %w", err)
		}
	}

	for _, p := range d.Ports.Added {
		if err := t.Ports.AddPort(ctx, p); err != nil {
			return fmt.Errorf("add ports: %w", err)
		}
	}
	if err := t.Ports.ChangePorts(ctx, d.Ports.Changed); err != nil {
		return fmt.Errorf("change ports: %w", err)
	}
	for _, mr := range d.Mirrors.Added {
		if err := t.Mirrors.AddMirror(ctx, mr); err != nil {
			return fmt.Errorf("add mirrors: %w", err)
		}
	}
	for _, c := range d.Mirrors.Changed {
		if err := t.Mirrors.ChangeMirror(ctx, c.Old, c.New); err != nil {
			return fmt.Errorf("change mirrors: %w", err)
		}
	}
	for _, v := range d.Vlans.Added {
		if err := t.Vlans.AddVlan(ctx, v); err != nil {
			return fmt.Errorf("add vlans: %w", err)
		}
	}
	for _, c := range d.Vlans.Changed {
		if err := t.Vlans.ChangeVlan(ctx, c.Old, c.New); err != nil {
			return fmt.Errorf("change vlans: %w", err)
		}
	}
	for _, p := range d.Ports.Removed {
		if err := t.Ports.RemovePort(ctx, p); err != nil {
			return fmt.Errorf("remove ports: %w", err)
		}
	}

	for _, intf := range d.Interfaces.Added {
		if err := t.RouterInterfaces.AddInterface(ctx, intf); err != nil {
			return fmt.Errorf("add interfaces: %w", err)
		}
	}
	for _, c := range d.Interfaces.Changed {
		if err := t.RouterInterfaces.ChangeInterface(ctx, c.Old, c.New); err != nil {
			return fmt.Errorf("change interfaces: %w", err)
		}
	}
	for _, n := range d.Neighbors.Added {
		if err := t.Neighbors.AddNeighbor(ctx, n); err != nil {
			return fmt.Errorf("add neighbors: %w", err)
		}
	}
	for _, c := range d.Neighbors.Changed {
		if err := t.Neighbors.ChangeNeighbor(ctx, c.Old, c.New); err != nil {
			return fmt.Errorf("change neighbors: %w", err)
		}
	}
	for _, r := range d.Routes.Added {
		if err := t.Routes.AddRoute(ctx, r); err != nil {
			return fmt.Errorf("add routes: %w", err)
		}
	}
	for _, c := range late {
		if err := t.Routes.ChangeRoute(ctx, c.Old, c.New); err != nil {
			return fmt.Errorf("change routes: %w", err)
		}
	}
	for _, c := range readd {
		if err := t.Routes.AddRoute(ctx, c.New); err != nil {
			return fmt.Errorf("add routes: %w", err)
		}
	}
	return nil
}

// splitRouteChanges sorts route changes by when they can run. early
// changes drop a reference to an interface the delta removes and can
// be programmed with the interfaces that stay. readd changes drop such
// a reference but need an interface the delta adds. late holds the
// rest.
func (t *ManagerTable) splitRouteChanges(d compute.StateDelta) (early, late, readd []compute.Change[saiagent.Route]) {
	removed := make(map[saiagent.InterfaceID]bool, len(d.Interfaces.Removed))
	for _, intf := range d.Interfaces.Removed {
		removed[intf.ID] = true
	}
	for _, c := range d.Routes.Changed {
		usesRemoved := slices.ContainsFunc(c.Old.NextHops, func(nh saiagent.NextHop) bool { return removed[nh.Interface] })
		switch {
		case !usesRemoved:
			late = append(late, c)
		case t.programmableNow(c.New, removed):
			early = append(early, c)
		default:
			readd = append(readd, c)
		}
	}
	return early, late, readd
}

// programmableNow reports whether every interface r forwards through
// exists and survives the delta.
func (t *ManagerTable) programmableNow(r saiagent.Route, removed map[saiagent.InterfaceID]bool) bool {
	if !r.Connected && r.Action != saiagent.RouteActionNextHops {
		return true
	}
	for _, nh := range r.NextHops {
		if removed[nh.Interface] {
			return false
		}
		if _, err := t.RouterInterfaces.routerInterfaceID(nh.Interface); err != nil {
			return false
		}
	}
	return true
}
