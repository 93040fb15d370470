package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	saiagent "github.com/frobware/go-saiagent"
	"github.com/frobware/go-saiagent/sai"
	"github.com/frobware/go-saiagent/store"
)

// VlanHandle bundles a VLAN with its members.
type VlanHandle struct {
	Vlan saiagent.Vlan

	vlan    store.Ref[store.VlanKey, store.VlanAttrs]
	members map[saiagent.PortID]store.Ref[store.VlanMemberKey, store.VlanMemberAttrs]
}

// ID returns the VLAN's hardware id.
func (h *VlanHandle) ID() sai.ObjectID { return h.vlan.Value().ID() }

// MemberCount returns the number of programmed members.
func (h *VlanHandle) MemberCount() int { return len(h.members) }

// VlanManager programs VLANs and their port membership.
type VlanManager struct {
	t       *ManagerTable
	logger  *slog.Logger
	handles map[saiagent.VlanID]*VlanHandle
}

// vlanMembership records one VLAN a port was detached from.
type vlanMembership struct {
	vlan   saiagent.VlanID
	tagged bool
}

func taggingMode(tagged bool) int32 {
	if tagged {
		return sai.VlanTaggingModeTagged
	}
	return sai.VlanTaggingModeUntagged
}

// AddVlan programs a VLAN and its members. The default VLAN attaches
// to the adapter owned object.
func (m *VlanManager) AddVlan(ctx context.Context, v saiagent.Vlan) error {
	if _, ok := m.handles[v.ID]; ok {
		return saiagent.AlreadyExistsError{Kind: "vlan", Key: v.ID}
	}
	ref, err := m.t.store.Vlans.SetObject(ctx, store.VlanKey{VlanID: uint16(v.ID)}, store.VlanAttrs{VlanID: uint16(v.ID)})
	if err != nil {
		return fmt.Errorf("vlan %d: %w", v.ID, err)
	}
	h := &VlanHandle{Vlan: v, vlan: ref, members: make(map[saiagent.PortID]store.Ref[store.VlanMemberKey, store.VlanMemberAttrs])}
	for _, port := range sortedKeys(v.Members) {
		if err := m.addMember(ctx, h, port, v.Members[port]); err != nil {
			return errors.Join(err, m.release(ctx, h))
		}
	}
	m.handles[v.ID] = h
	m.logger.DebugContext(ctx, "added vlan", "vlan", v.ID, "members", len(h.members))
	return nil
}

func (m *VlanManager) addMember(ctx context.Context, h *VlanHandle, port saiagent.PortID, tagged bool) error {
	bp, err := m.t.Ports.bridgePortID(port)
	if err != nil {
		return fmt.Errorf("vlan %d member: %w", h.Vlan.ID, err)
	}
	ref, err := m.t.store.VlanMembers.SetObject(ctx,
		store.VlanMemberKey{Vlan: h.ID(), BridgePort: bp},
		store.VlanMemberAttrs{Vlan: h.ID(), BridgePort: bp, TaggingMode: taggingMode(tagged)})
	if err != nil {
		return fmt.Errorf("vlan %d member port %d: %w", h.Vlan.ID, port, err)
	}
	h.members[port] = ref
	return nil
}

func (m *VlanManager) removeMember(ctx context.Context, h *VlanHandle, port saiagent.PortID) error {
	ref, ok := h.members[port]
	if !ok {
		return nil
	}
	if err := ref.Release(ctx); err != nil {
		return fmt.Errorf("vlan %d member port %d: %w", h.Vlan.ID, port, err)
	}
	delete(h.members, port)
	return nil
}

// release drops the members of h and then the VLAN itself.
func (m *VlanManager) release(ctx context.Context, h *VlanHandle) error {
	var errs []error
	for _, port := range sortedKeys(h.members) {
		errs = append(errs, m.removeMember(ctx, h, port))
	}
	errs = append(errs, h.vlan.Release(ctx))
	return errors.Join(errs...)
}

// ChangeVlan updates a VLAN's membership in place.
func (m *VlanManager) ChangeVlan(ctx context.Context, old, new saiagent.Vlan) error {
	h, ok := m.handles[new.ID]
	if !ok {
		return saiagent.NotFoundError{Kind: "vlan", Key: new.ID}
	}
	if h.Vlan.Equal(new) {
		return nil
	}
	for _, port := range sortedKeys(h.members) {
		if _, keep := new.Members[port]; !keep {
			if err := m.removeMember(ctx, h, port); err != nil {
				return err
			}
		}
	}
	for _, port := range sortedKeys(new.Members) {
		tagged := new.Members[port]
		ref, ok := h.members[port]
		if !ok {
			if err := m.addMember(ctx, h, port, tagged); err != nil {
				return err
			}
			continue
		}
		attrs := ref.Value().Attributes()
		attrs.TaggingMode = taggingMode(tagged)
		if err := ref.Value().SetAttributes(ctx, attrs); err != nil {
			return fmt.Errorf("vlan %d member port %d: %w", new.ID, port, err)
		}
	}
	h.Vlan = new
	return nil
}

// RemoveVlan removes a VLAN after its members. The handle, with the
// members that could not be removed, survives a failure.
func (m *VlanManager) RemoveVlan(ctx context.Context, v saiagent.Vlan) error {
	h, ok := m.handles[v.ID]
	if !ok {
		return saiagent.NotFoundError{Kind: "vlan", Key: v.ID}
	}
	if err := m.release(ctx, h); err != nil {
		return err
	}
	delete(m.handles, v.ID)
	return nil
}

// detachPort removes port from every VLAN and returns the memberships
// it had.
func (m *VlanManager) detachPort(ctx context.Context, port saiagent.PortID) ([]vlanMembership, error) {
	var out []vlanMembership
	for _, id := range sortedKeys(m.handles) {
		h := m.handles[id]
		if _, ok := h.members[port]; !ok {
			continue
		}
		if err := m.removeMember(ctx, h, port); err != nil {
			return out, err
		}
		out = append(out, vlanMembership{vlan: id, tagged: h.Vlan.Members[port]})
	}
	return out, nil
}

// attachPort restores memberships returned by detachPort.
func (m *VlanManager) attachPort(ctx context.Context, port saiagent.PortID, memberships []vlanMembership) error {
	for _, ms := range memberships {
		h, ok := m.handles[ms.vlan]
		if !ok {
			return saiagent.NotFoundError{Kind: "vlan", Key: ms.vlan}
		}
		if _, ok := h.members[port]; ok {
			continue
		}
		if err := m.addMember(ctx, h, port, ms.tagged); err != nil {
			return err
		}
	}
	return nil
}

// vlanObjectID returns the hardware id of a VLAN.
func (m *VlanManager) vlanObjectID(id saiagent.VlanID) (sai.ObjectID, error) {
	h, ok := m.handles[id]
	if !ok {
		return sai.NullObjectID, saiagent.NotFoundError{Kind: "vlan", Key: id}
	}
	return h.ID(), nil
}

// GetVlanHandle returns the handle of a VLAN.
func (m *VlanManager) GetVlanHandle(id saiagent.VlanID) (*VlanHandle, error) {
	h, ok := m.handles[id]
	if !ok {
		return nil, saiagent.NotFoundError{Kind: "vlan", Key: id}
	}
	return h, nil
}

// ListManagedObjects describes every VLAN.
func (m *VlanManager) ListManagedObjects() []ManagedObject {
	out := make([]ManagedObject, 0, len(m.handles))
	for _, id := range sortedKeys(m.handles) {
		h := m.handles[id]
		var members []string
		for _, port := range sortedKeys(h.members) {
			mode := "untagged"
			if h.Vlan.Members[port] {
				mode = "tagged"
			}
			members = append(members, fmt.Sprintf("%d:%s", port, mode))
		}
		out = append(out, ManagedObject{
			Manager:    "vlan",
			Key:        fmt.Sprintf("%d", id),
			AdapterKey: h.ID().String(),
			Detail:     "members=" + strings.Join(members, ","),
		})
	}
	return out
}
