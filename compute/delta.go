// Package compute contains pure functions for business logic.
// Functions in this package perform no I/O - they transform data into actions.
package compute

import (
	"cmp"
	"slices"

	saiagent "github.com/frobware/go-saiagent"
)

// Change is an entity whose desired state differs between two
// snapshots.
type Change[V any] struct {
	Old V
	New V
}

// MapDelta lists the entities added, changed and removed between two
// snapshots of one map. Each list is ordered by key.
type MapDelta[V any] struct {
	Added   []V
	Changed []Change[V]
	Removed []V
}

// Empty reports whether nothing differs.
func (d MapDelta[V]) Empty() bool {
	return len(d.Added) == 0 && len(d.Changed) == 0 && len(d.Removed) == 0
}

// StateDelta is the difference between two switch states.
type StateDelta struct {
	Ports      MapDelta[saiagent.Port]
	Vlans      MapDelta[saiagent.Vlan]
	Interfaces MapDelta[saiagent.Interface]
	Routes     MapDelta[saiagent.Route]
	Neighbors  MapDelta[saiagent.Neighbor]
	Mirrors    MapDelta[saiagent.Mirror]
}

// Empty reports whether the delta carries no change.
func (d StateDelta) Empty() bool {
	return d.Ports.Empty() && d.Vlans.Empty() && d.Interfaces.Empty() &&
		d.Routes.Empty() && d.Neighbors.Empty() && d.Mirrors.Empty()
}

// Delta computes the changes that turn old into new.
// Pure function.
func Delta(old, new saiagent.SwitchState) StateDelta {
	return StateDelta{
		Ports:      diffMap(old.Ports, new.Ports, cmp.Compare[saiagent.PortID], saiagent.Port.Equal),
		Vlans:      diffMap(old.Vlans, new.Vlans, cmp.Compare[saiagent.VlanID], saiagent.Vlan.Equal),
		Interfaces: diffMap(old.Interfaces, new.Interfaces, cmp.Compare[saiagent.InterfaceID], saiagent.Interface.Equal),
		Routes:     diffMap(old.Routes, new.Routes, CompareRouteKeys, saiagent.Route.Equal),
		Neighbors:  diffMap(old.Neighbors, new.Neighbors, CompareNeighborKeys, neighborEqual),
		Mirrors:    diffMap(old.Mirrors, new.Mirrors, cmp.Compare[string], mirrorEqual),
	}
}

func neighborEqual(a, b saiagent.Neighbor) bool { return a == b }

func mirrorEqual(a, b saiagent.Mirror) bool { return a == b }

// CompareRouteKeys orders routes by router then prefix.
func CompareRouteKeys(a, b saiagent.RouteKey) int {
	if c := cmp.Compare(a.Router, b.Router); c != 0 {
		return c
	}
	if c := a.Prefix.Addr().Compare(b.Prefix.Addr()); c != 0 {
		return c
	}
	return cmp.Compare(a.Prefix.Bits(), b.Prefix.Bits())
}

// CompareNeighborKeys orders neighbors by interface then address.
func CompareNeighborKeys(a, b saiagent.NeighborKey) int {
	if c := cmp.Compare(a.Interface, b.Interface); c != 0 {
		return c
	}
	return a.IP.Compare(b.IP)
}

func diffMap[K comparable, V any](old, new map[K]V, compare func(a, b K) int, equal func(a, b V) bool) MapDelta[V] {
	var d MapDelta[V]
	for _, k := range sortedKeys(new, compare) {
		nv := new[k]
		ov, ok := old[k]
		switch {
		case !ok:
			d.Added = append(d.Added, nv)
		case !equal(ov, nv):
			d.Changed = append(d.Changed, Change[V]{Old: ov, New: nv})
		}
	}
	for _, k := range sortedKeys(old, compare) {
		if _, ok := new[k]; !ok {
			d.Removed = append(d.Removed, old[k])
		}
	}
	return d
}

func sortedKeys[K comparable, V any](m map[K]V, compare func(a, b K) int) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compare)
	return keys
}
