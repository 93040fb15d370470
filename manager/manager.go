// Package manager maps intended switch state onto hardware objects.
//
// # Reconciliation protocol
//
// Every domain manager handles added, changed and removed entities of
// a state delta the same way:
//
//   - Added: compute the host key, fail with AlreadyExists on a
//     duplicate, resolve dependencies on other managers, call
//     SetObject and register a handle.
//   - Changed: recompute the desired attributes; do nothing when they
//     are equal, otherwise update in place where the hardware allows.
//   - Removed: release the handle's own objects in dependency order.
//     The handle is kept until all of them are gone, so a failed
//     removal is retried by the next delta; releasing a reference
//     twice is a no-op. Shared references, such as next hop groups
//     and schedulers, are released after the handle is dropped. One
//     that cannot be released is parked without failing the delta,
//     retried by the next ApplyDelta and reported by Doctor.
//
// # Neighbor resolution
//
// Routes reference next hop groups keyed by their full next hop set
// and shared by every route with that set. A group only has members
// for next hops whose neighbor is resolved. The neighbor manager calls
// HandleResolvedNeighbor and HandleUnresolvedNeighbor on the next hop
// group manager, which adds or removes that member in every dependent
// group without touching routes.
//
// Managers are not safe for concurrent use; the owning switch
// serialises all calls.
package manager

import (
	"cmp"
	"log/slog"
	"maps"
	"slices"

	saiagent "github.com/frobware/go-saiagent"
	"github.com/frobware/go-saiagent/indices"
	"github.com/frobware/go-saiagent/store"
)

// Platform carries the hardware family properties the managers need.
type Platform struct {
	// MaxVariableWidthEcmp is the largest total weight a variable
	// width group can carry. Larger groups use fixed width mode.
	// Zero disables fixed width mode.
	MaxVariableWidthEcmp uint64

	// PortGroupRecreate is set on hardware that cannot retune a
	// running serdes core: VCO changing speed or FEC updates recreate
	// every port of the group.
	PortGroupRecreate bool
}

// ManagerTable owns the domain managers of one switch and the context
// they share.
type ManagerTable struct {
	store    *store.Store
	indices  *indices.ConcurrentIndices
	platform Platform
	logger   *slog.Logger

	// pending holds references whose removal failed or must wait.
	pending []pendingRelease

	Switch           *SwitchManager
	Schedulers       *SchedulerManager
	Ports            *PortManager
	Vlans            *VlanManager
	Mirrors          *MirrorManager
	RouterInterfaces *RouterInterfaceManager
	NextHopGroups    *NextHopGroupManager
	Neighbors        *NeighborManager
	Routes           *RouteManager
}

// New creates the managers for a store.
func New(st *store.Store, idx *indices.ConcurrentIndices, platform Platform, logger *slog.Logger) *ManagerTable {
	if logger == nil {
		logger = slog.Default()
	}
	t := &ManagerTable{
		store:    st,
		indices:  idx,
		platform: platform,
		logger:   logger,
	}
	t.Switch = &SwitchManager{t: t, logger: logger.With("component", "manager.switch")}
	t.Schedulers = newSchedulerManager(t, logger.With("component", "manager.scheduler"))
	t.Ports = &PortManager{t: t, logger: logger.With("component", "manager.port"), handles: map[saiagent.PortID]*PortHandle{}}
	t.Vlans = &VlanManager{t: t, logger: logger.With("component", "manager.vlan"), handles: map[saiagent.VlanID]*VlanHandle{}}
	t.Mirrors = &MirrorManager{t: t, logger: logger.With("component", "manager.mirror"), handles: map[string]*MirrorHandle{}}
	t.RouterInterfaces = &RouterInterfaceManager{t: t, logger: logger.With("component", "manager.routerinterface"), handles: map[saiagent.InterfaceID]*RouterInterfaceHandle{}}
	t.NextHopGroups = newNextHopGroupManager(t, logger.With("component", "manager.nexthopgroup"))
	t.Neighbors = &NeighborManager{t: t, logger: logger.With("component", "manager.neighbor"), handles: map[saiagent.NeighborKey]*NeighborHandle{}}
	t.Routes = &RouteManager{t: t, logger: logger.With("component", "manager.route"), handles: map[saiagent.RouteKey]*RouteHandle{}}
	return t
}

// Store returns the object store the managers program.
func (t *ManagerTable) Store() *store.Store { return t.store }

// ManagedObject describes one handle for diagnostics.
type ManagedObject struct {
	Manager    string `json:"manager"`
	Key        string `json:"key"`
	AdapterKey string `json:"adapterKey,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// ListManagedObjects returns every handle of every manager.
func (t *ManagerTable) ListManagedObjects() []ManagedObject {
	var out []ManagedObject
	out = append(out, t.Schedulers.ListManagedObjects()...)
	out = append(out, t.Ports.ListManagedObjects()...)
	out = append(out, t.Vlans.ListManagedObjects()...)
	out = append(out, t.Mirrors.ListManagedObjects()...)
	out = append(out, t.RouterInterfaces.ListManagedObjects()...)
	out = append(out, t.NextHopGroups.ListManagedObjects()...)
	out = append(out, t.Neighbors.ListManagedObjects()...)
	out = append(out, t.Routes.ListManagedObjects()...)
	return out
}

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	return slices.Sorted(maps.Keys(m))
}
