package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	saiagent "github.com/frobware/go-saiagent"
	"github.com/frobware/go-saiagent/compute"
	"github.com/frobware/go-saiagent/refmap"
	"github.com/frobware/go-saiagent/sai"
	"github.com/frobware/go-saiagent/store"
)

// PortHandle bundles a port with its bridge port and scheduler.
type PortHandle struct {
	Port saiagent.Port

	port       store.Ref[store.PortKey, store.PortAttrs]
	bridgePort store.Ref[store.BridgePortKey, store.BridgePortAttrs]
	scheduler  *refmap.Ref[saiagent.SchedulerSettings, *SchedulerHandle]
	operDown   bool
}

// ID returns the port's hardware id.
func (h *PortHandle) ID() sai.ObjectID { return h.port.Value().ID() }

// BridgePortID returns the hardware id of the port's bridge port.
func (h *PortHandle) BridgePortID() sai.ObjectID { return h.bridgePort.Value().ID() }

// SchedulerID returns the port's scheduler, or the null object.
func (h *PortHandle) SchedulerID() sai.ObjectID {
	if h.scheduler == nil {
		return sai.NullObjectID
	}
	return h.scheduler.Value().ID()
}

// Attributes returns the programmed port attributes.
func (h *PortHandle) Attributes() store.PortAttrs { return h.port.Value().Attributes() }

// OperUp reports the last known link state. Ports are up until a link
// down event says otherwise.
func (h *PortHandle) OperUp() bool { return !h.operDown }

// Stats returns the counters collected by the last UpdateStats.
func (h *PortHandle) Stats() map[sai.StatID]uint64 { return h.port.Value().Stats() }

// PortManager programs front panel ports.
type PortManager struct {
	t       *ManagerTable
	logger  *slog.Logger
	handles map[saiagent.PortID]*PortHandle
}

func fecMode(f saiagent.FEC) int32 {
	switch f {
	case saiagent.FECRS528:
		return sai.PortFecModeRS
	case saiagent.FECRS544:
		return sai.PortFecModeRS544
	case saiagent.FECFC:
		return sai.PortFecModeFC
	}
	return sai.PortFecModeNone
}

func (m *PortManager) mirrorList(name string) sai.ObjectList {
	if name == "" {
		return nil
	}
	id, ok := m.t.Mirrors.sessionID(name)
	if !ok {
		return nil
	}
	return sai.ObjectList{id}
}

func (m *PortManager) portAttrs(p saiagent.Port, scheduler sai.ObjectID) store.PortAttrs {
	vlan := p.IngressVlan
	if vlan == 0 {
		vlan = saiagent.DefaultVlanID
	}
	return store.PortAttrs{
		Lanes:          slices.Clone(p.Lanes),
		Speed:          p.SpeedMbps,
		FecMode:        fecMode(p.FEC),
		AdminState:     p.AdminUp,
		Mtu:            p.MTU,
		PortVlanID:     uint16(vlan),
		IngressMirrors: m.mirrorList(p.IngressMirror),
		EgressMirrors:  m.mirrorList(p.EgressMirror),
		Scheduler:      scheduler,
	}
}

func (m *PortManager) refScheduler(ctx context.Context, p saiagent.Port) (*refmap.Ref[saiagent.SchedulerSettings, *SchedulerHandle], sai.ObjectID, error) {
	if p.Scheduler == nil {
		return nil, sai.NullObjectID, nil
	}
	ref, err := m.t.Schedulers.RefScheduler(ctx, *p.Scheduler)
	if err != nil {
		return nil, sai.NullObjectID, err
	}
	return ref, ref.Value().ID(), nil
}

// AddPort programs a new port and its bridge port.
func (m *PortManager) AddPort(ctx context.Context, p saiagent.Port) error {
	if _, ok := m.handles[p.ID]; ok {
		return saiagent.AlreadyExistsError{Kind: "port", Key: p.ID}
	}
	key := store.NewPortKey(p.Lanes)
	for id, h := range m.handles {
		if h.port.Key() == key {
			return saiagent.AlreadyExistsError{Kind: "port lanes", Key: fmt.Sprintf("%s (port %d)", key.Lanes, id)}
		}
	}

	sched, schedID, err := m.refScheduler(ctx, p)
	if err != nil {
		return fmt.Errorf("port %d: %w", p.ID, err)
	}
	port, err := m.t.store.Ports.SetObject(ctx, key, m.portAttrs(p, schedID))
	if err != nil {
		return errors.Join(fmt.Errorf("port %d: %w", p.ID, err), sched.Release(ctx))
	}
	bp, err := m.t.store.BridgePorts.SetObject(ctx, store.BridgePortKey{Port: port.Value().ID()}, store.BridgePortAttrs{
		Type:       sai.BridgePortTypePort,
		Port:       port.Value().ID(),
		Bridge:     m.t.Switch.Bridge(),
		AdminState: true,
	})
	if err != nil {
		return errors.Join(fmt.Errorf("port %d bridge port: %w", p.ID, err), port.Release(ctx), sched.Release(ctx))
	}

	m.handles[p.ID] = &PortHandle{Port: p, port: port, bridgePort: bp, scheduler: sched}
	m.t.indices.AddPort(port.Value().ID(), p.ID, p.IngressVlan)
	m.logger.DebugContext(ctx, "added port", "port", p.ID, "name", p.Name, "id", port.Value().ID())
	return nil
}

// ChangePort applies one port change. See ChangePorts.
func (m *PortManager) ChangePort(ctx context.Context, old, new saiagent.Port) error {
	return m.ChangePorts(ctx, []compute.Change[saiagent.Port]{{Old: old, New: new}})
}

// ChangePorts applies port changes. On hardware that cannot retune a
// running serdes core, changes that move a port group to another VCO
// recreate every port of that group as one operation; all other
// changes are made in place.
func (m *PortManager) ChangePorts(ctx context.Context, changes []compute.Change[saiagent.Port]) error {
	var groups []uint32
	if m.t.platform.PortGroupRecreate {
		groups = compute.GroupsToRecreate(changes)
	}
	for _, g := range groups {
		var inGroup []compute.Change[saiagent.Port]
		for _, c := range changes {
			if c.New.Group == g {
				inGroup = append(inGroup, c)
			}
		}
		if err := m.recreatePortGroup(ctx, g, inGroup); err != nil {
			return err
		}
	}
	for _, c := range changes {
		if slices.Contains(groups, c.New.Group) {
			continue
		}
		if err := m.changeInPlace(ctx, c.Old, c.New); err != nil {
			return err
		}
	}
	return nil
}

func (m *PortManager) changeInPlace(ctx context.Context, old, new saiagent.Port) error {
	h, ok := m.handles[new.ID]
	if !ok {
		return saiagent.NotFoundError{Kind: "port", Key: new.ID}
	}
	if h.Port.Equal(new) {
		return nil
	}
	if !slices.Equal(h.Port.Lanes, new.Lanes) {
		return saiagent.UnsupportedError{
			Operation: fmt.Sprintf("change lanes of port %d", new.ID),
			Reason:    "remove and re-add the port",
		}
	}
	sched, schedID, err := m.refScheduler(ctx, new)
	if err != nil {
		return fmt.Errorf("port %d: %w", new.ID, err)
	}
	if err := h.port.Value().SetAttributes(ctx, m.portAttrs(new, schedID)); err != nil {
		return errors.Join(fmt.Errorf("port %d: %w", new.ID, err), sched.Release(ctx))
	}
	oldSched := h.scheduler
	h.scheduler = sched
	h.Port = new
	if old.IngressVlan != new.IngressVlan {
		m.t.indices.AddPort(h.ID(), new.ID, new.IngressVlan)
	}
	if oldSched != nil {
		m.t.releaseOrDefer(ctx, fmt.Sprintf("port %d previous scheduler", new.ID), oldSched)
	}
	return nil
}

// RemovePort removes a port's bridge port, the port and then its
// scheduler reference. The handle survives until both hardware
// objects are gone.
func (m *PortManager) RemovePort(ctx context.Context, p saiagent.Port) error {
	h, ok := m.handles[p.ID]
	if !ok {
		return saiagent.NotFoundError{Kind: "port", Key: p.ID}
	}
	if err := h.bridgePort.Release(ctx); err != nil {
		return fmt.Errorf("port %d bridge port: %w", p.ID, err)
	}
	if err := h.port.Release(ctx); err != nil {
		return fmt.Errorf("port %d: %w", p.ID, err)
	}
	delete(m.handles, p.ID)
	m.t.indices.RemovePort(h.ID(), p.ID)
	if h.scheduler != nil {
		m.t.releaseOrDefer(ctx, fmt.Sprintf("port %d scheduler", p.ID), h.scheduler)
	}
	return nil
}

// recreatePortGroup removes every port of group and programs them
// again with their new settings, restoring VLAN membership. Any failure
// rolls the group back to its previous configuration.
func (m *PortManager) recreatePortGroup(ctx context.Context, group uint32, changes []compute.Change[saiagent.Port]) error {
	desired := make(map[saiagent.PortID]saiagent.Port)
	var members []*PortHandle
	for _, id := range sortedKeys(m.handles) {
		h := m.handles[id]
		if h.Port.Group != group {
			continue
		}
		members = append(members, h)
		desired[id] = h.Port
	}
	for _, c := range changes {
		h, ok := m.handles[c.New.ID]
		if !ok {
			return saiagent.NotFoundError{Kind: "port", Key: c.New.ID}
		}
		if !slices.Equal(h.Port.Lanes, c.New.Lanes) {
			return saiagent.UnsupportedError{Operation: fmt.Sprintf("change lanes of port %d", c.New.ID)}
		}
		desired[c.New.ID] = c.New
	}
	for _, h := range members {
		id := h.Port.ID
		if m.t.RouterInterfaces.usesPort(id) || m.t.Mirrors.usesPort(id) {
			return saiagent.UnsupportedError{
				Operation: fmt.Sprintf("recreate port group %d", group),
				Reason:    fmt.Sprintf("port %d is in use by a router interface or mirror", id),
			}
		}
	}

	m.logger.InfoContext(ctx, "recreating port group", "group", group, "ports", len(members))
	var undo undoStack
	fail := func(err error) error {
		return errors.Join(fmt.Errorf("recreate port group %d: %w", group, err), undo.rollback(ctx, m.logger))
	}

	memberships := make(map[saiagent.PortID][]vlanMembership)
	for _, h := range members {
		old := h.Port
		ms, err := m.t.Vlans.detachPort(ctx, old.ID)
		memberships[old.ID] = ms
		undo.push(fmt.Sprintf("reattach port %d to its vlans", old.ID), func(ctx context.Context) error {
			return m.t.Vlans.attachPort(ctx, old.ID, ms)
		})
		if err != nil {
			return fail(err)
		}
		if err := m.RemovePort(ctx, old); err != nil {
			return fail(err)
		}
		down := h.operDown
		undo.push(fmt.Sprintf("re-add port %d", old.ID), func(ctx context.Context) error {
			if err := m.AddPort(ctx, old); err != nil {
				return err
			}
			m.handles[old.ID].operDown = down
			return nil
		})
	}
	for _, h := range members {
		p := desired[h.Port.ID]
		if err := m.AddPort(ctx, p); err != nil {
			return fail(err)
		}
		m.handles[p.ID].operDown = h.operDown
		undo.push(fmt.Sprintf("remove new port %d", p.ID), func(ctx context.Context) error { return m.RemovePort(ctx, p) })
	}
	for _, h := range members {
		id := h.Port.ID
		if err := m.t.Vlans.attachPort(ctx, id, memberships[id]); err != nil {
			return fail(err)
		}
		undo.push(fmt.Sprintf("detach port %d from its vlans", id), func(ctx context.Context) error {
			_, err := m.t.Vlans.detachPort(ctx, id)
			return err
		})
	}
	return nil
}

// refreshMirrors reprograms the mirror references of every port that
// names the mirror session.
func (m *PortManager) refreshMirrors(ctx context.Context, name string) error {
	var errs []error
	for _, id := range sortedKeys(m.handles) {
		h := m.handles[id]
		if h.Port.IngressMirror != name && h.Port.EgressMirror != name {
			continue
		}
		if err := h.port.Value().SetAttributes(ctx, m.portAttrs(h.Port, h.SchedulerID())); err != nil {
			errs = append(errs, fmt.Errorf("port %d mirrors: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// SetOperState records a link state change.
func (m *PortManager) SetOperState(id saiagent.PortID, up bool) error {
	h, ok := m.handles[id]
	if !ok {
		return saiagent.NotFoundError{Kind: "port", Key: id}
	}
	h.operDown = !up
	return nil
}

func (m *PortManager) isOperDown(id saiagent.PortID) bool {
	h, ok := m.handles[id]
	return ok && h.operDown
}

// portObjectID returns the hardware id of a port.
func (m *PortManager) portObjectID(id saiagent.PortID) (sai.ObjectID, error) {
	h, ok := m.handles[id]
	if !ok {
		return sai.NullObjectID, saiagent.NotFoundError{Kind: "port", Key: id}
	}
	return h.ID(), nil
}

func (m *PortManager) bridgePortID(id saiagent.PortID) (sai.ObjectID, error) {
	h, ok := m.handles[id]
	if !ok {
		return sai.NullObjectID, saiagent.NotFoundError{Kind: "port", Key: id}
	}
	return h.BridgePortID(), nil
}

// UpdateStats refreshes the counters of every port. Failures are
// logged and skipped.
func (m *PortManager) UpdateStats(ctx context.Context) {
	for _, id := range sortedKeys(m.handles) {
		if err := m.handles[id].port.Value().UpdateStats(ctx); err != nil {
			m.logger.WarnContext(ctx, "port stats collection failed", "port", id, "error", err)
		}
	}
}

// GetPortHandle returns the handle of a port.
func (m *PortManager) GetPortHandle(id saiagent.PortID) (*PortHandle, error) {
	h, ok := m.handles[id]
	if !ok {
		return nil, saiagent.NotFoundError{Kind: "port", Key: id}
	}
	return h, nil
}

// PortIDs returns the ids of all ports in ascending order.
func (m *PortManager) PortIDs() []saiagent.PortID { return sortedKeys(m.handles) }

// ListManagedObjects describes every port.
func (m *PortManager) ListManagedObjects() []ManagedObject {
	out := make([]ManagedObject, 0, len(m.handles))
	for _, id := range sortedKeys(m.handles) {
		h := m.handles[id]
		out = append(out, ManagedObject{
			Manager:    "port",
			Key:        fmt.Sprintf("%d", id),
			AdapterKey: h.ID().String(),
			Detail: fmt.Sprintf("name=%s lanes=%s speed=%d fec=%s bridge_port=%s oper_up=%t",
				h.Port.Name, h.port.Key().Lanes, h.Port.SpeedMbps, h.Port.FEC, h.BridgePortID(), h.OperUp()),
		})
	}
	return out
}
