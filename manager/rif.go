package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	saiagent "github.com/frobware/go-saiagent"
	"github.com/frobware/go-saiagent/sai"
	"github.com/frobware/go-saiagent/store"
)

// RouterInterfaceHandle bundles a router interface with the host
// routes that trap its own addresses to the CPU.
type RouterInterfaceHandle struct {
	Interface saiagent.Interface

	rif  store.Ref[store.RouterInterfaceKey, store.RouterInterfaceAttrs]
	toMe []store.Ref[store.RouteKey, store.RouteAttrs]
}

// ID returns the router interface's hardware id.
func (h *RouterInterfaceHandle) ID() sai.ObjectID { return h.rif.Value().ID() }

// RouterInterfaceManager programs L3 interfaces.
type RouterInterfaceManager struct {
	t       *ManagerTable
	logger  *slog.Logger
	handles map[saiagent.InterfaceID]*RouterInterfaceHandle
}

func (m *RouterInterfaceManager) rifKey(intf saiagent.Interface) (store.RouterInterfaceKey, store.RouterInterfaceAttrs, error) {
	vr, err := m.t.Switch.VirtualRouter(intf.Router)
	if err != nil {
		return store.RouterInterfaceKey{}, store.RouterInterfaceAttrs{}, err
	}
	attrs := store.RouterInterfaceAttrs{
		VirtualRouter: vr,
		SrcMAC:        sai.MacAddress(intf.MAC),
		Mtu:           intf.MTU,
	}
	if intf.Vlan != 0 {
		vlan, err := m.t.Vlans.vlanObjectID(intf.Vlan)
		if err != nil {
			return store.RouterInterfaceKey{}, store.RouterInterfaceAttrs{}, err
		}
		attrs.Type = sai.RouterInterfaceTypeVlan
		attrs.Vlan = vlan
	} else {
		port, err := m.t.Ports.portObjectID(intf.Port)
		if err != nil {
			return store.RouterInterfaceKey{}, store.RouterInterfaceAttrs{}, err
		}
		attrs.Type = sai.RouterInterfaceTypePort
		attrs.Port = port
	}
	key := store.RouterInterfaceKey{VirtualRouter: vr, Vlan: attrs.Vlan, Port: attrs.Port}
	return key, attrs, nil
}

// AddInterface programs a router interface and its host routes.
func (m *RouterInterfaceManager) AddInterface(ctx context.Context, intf saiagent.Interface) error {
	if _, ok := m.handles[intf.ID]; ok {
		return saiagent.AlreadyExistsError{Kind: "interface", Key: intf.ID}
	}
	key, attrs, err := m.rifKey(intf)
	if err != nil {
		return fmt.Errorf("interface %d: %w", intf.ID, err)
	}
	rif, err := m.t.store.RouterInterfaces.SetObject(ctx, key, attrs)
	if err != nil {
		return fmt.Errorf("interface %d: %w", intf.ID, err)
	}
	toMe, err := m.t.Routes.makeInterfaceToMeRoutes(ctx, key.VirtualRouter, intf)
	if err != nil {
		return errors.Join(fmt.Errorf("interface %d: %w", intf.ID, err), rif.Release(ctx))
	}
	m.handles[intf.ID] = &RouterInterfaceHandle{Interface: intf, rif: rif, toMe: toMe}
	m.logger.DebugContext(ctx, "added interface", "interface", intf.ID, "id", rif.Value().ID(), "addresses", len(intf.Addresses))
	return nil
}

// ChangeInterface updates the MAC, MTU and addresses of an interface.
// Moving an interface to another VLAN, port or router is not supported
// in place.
func (m *RouterInterfaceManager) ChangeInterface(ctx context.Context, old, new saiagent.Interface) error {
	h, ok := m.handles[new.ID]
	if !ok {
		return saiagent.NotFoundError{Kind: "interface", Key: new.ID}
	}
	if h.Interface.Equal(new) {
		return nil
	}
	if h.Interface.Router != new.Router || h.Interface.Vlan != new.Vlan || h.Interface.Port != new.Port {
		return saiagent.UnsupportedError{
			Operation: fmt.Sprintf("move interface %d", new.ID),
			Reason:    "remove and re-add the interface",
		}
	}
	_, attrs, err := m.rifKey(new)
	if err != nil {
		return fmt.Errorf("interface %d: %w", new.ID, err)
	}
	if err := h.rif.Value().SetAttributes(ctx, attrs); err != nil {
		return fmt.Errorf("interface %d: %w", new.ID, err)
	}
	toMe, err := m.t.Routes.makeInterfaceToMeRoutes(ctx, attrs.VirtualRouter, new)
	if err != nil {
		return fmt.Errorf("interface %d: %w", new.ID, err)
	}
	stale := h.toMe
	h.toMe = toMe
	h.Interface = new
	m.releaseToMe(ctx, new.ID, stale)
	return nil
}

// releaseToMe releases host routes, parking any that fail.
func (m *RouterInterfaceManager) releaseToMe(ctx context.Context, id saiagent.InterfaceID, refs []store.Ref[store.RouteKey, store.RouteAttrs]) {
	for _, r := range refs {
		m.t.releaseOrDefer(ctx, fmt.Sprintf("interface %d to me route %s", id, r.Key().Prefix), r)
	}
}

// RemoveInterface removes the host routes of an interface and then
// the interface. The handle survives a failed interface removal.
func (m *RouterInterfaceManager) RemoveInterface(ctx context.Context, intf saiagent.Interface) error {
	h, ok := m.handles[intf.ID]
	if !ok {
		return saiagent.NotFoundError{Kind: "interface", Key: intf.ID}
	}
	m.releaseToMe(ctx, intf.ID, h.toMe)
	h.toMe = nil
	if err := h.rif.Release(ctx); err != nil {
		return fmt.Errorf("interface %d: %w", intf.ID, err)
	}
	delete(m.handles, intf.ID)
	return nil
}

func releaseAll[H comparable, A any](ctx context.Context, refs []store.Ref[H, A]) error {
	var errs []error
	for _, r := range refs {
		errs = append(errs, r.Release(ctx))
	}
	return errors.Join(errs...)
}

// hostRouteOwner returns the interface whose address has a host
// route at key.
func (m *RouterInterfaceManager) hostRouteOwner(key store.RouteKey) (saiagent.InterfaceID, bool) {
	for id, h := range m.handles {
		for _, r := range h.toMe {
			if r.Key() == key {
				return id, true
			}
		}
	}
	return 0, false
}

// routerInterfaceID returns the hardware id of an interface.
func (m *RouterInterfaceManager) routerInterfaceID(id saiagent.InterfaceID) (sai.ObjectID, error) {
	h, ok := m.handles[id]
	if !ok {
		return sai.NullObjectID, saiagent.NotFoundError{Kind: "interface", Key: id}
	}
	return h.ID(), nil
}

func (m *RouterInterfaceManager) usesPort(port saiagent.PortID) bool {
	for _, h := range m.handles {
		if h.Interface.Vlan == 0 && h.Interface.Port == port {
			return true
		}
	}
	return false
}

func (m *RouterInterfaceManager) interfaces() map[saiagent.InterfaceID]saiagent.Interface {
	out := make(map[saiagent.InterfaceID]saiagent.Interface, len(m.handles))
	for id, h := range m.handles {
		out[id] = h.Interface
	}
	return out
}

// GetRouterInterfaceHandle returns the handle of an interface.
func (m *RouterInterfaceManager) GetRouterInterfaceHandle(id saiagent.InterfaceID) (*RouterInterfaceHandle, error) {
	h, ok := m.handles[id]
	if !ok {
		return nil, saiagent.NotFoundError{Kind: "interface", Key: id}
	}
	return h, nil
}

// ListManagedObjects describes every interface.
func (m *RouterInterfaceManager) ListManagedObjects() []ManagedObject {
	out := make([]ManagedObject, 0, len(m.handles))
	for _, id := range sortedKeys(m.handles) {
		h := m.handles[id]
		attach := fmt.Sprintf("vlan=%d", h.Interface.Vlan)
		if h.Interface.Vlan == 0 {
			attach = fmt.Sprintf("port=%d", h.Interface.Port)
		}
		out = append(out, ManagedObject{
			Manager:    "routerinterface",
			Key:        fmt.Sprintf("%d", id),
			AdapterKey: h.ID().String(),
			Detail:     fmt.Sprintf("%s mac=%s mtu=%d to_me=%d", attach, h.Interface.MAC, h.Interface.MTU, len(h.toMe)),
		})
	}
	return out
}
