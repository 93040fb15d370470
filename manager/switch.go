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

// SwitchManager attaches to the objects the adapter creates at switch
// init: the default virtual router, the default bridge, the default
// VLAN and the CPU port.
type SwitchManager struct {
	t      *ManagerTable
	logger *slog.Logger

	virtualRouter store.Ref[store.AdapterOwnedKey, store.VirtualRouterAttrs]
	bridge        store.Ref[store.AdapterOwnedKey, store.BridgeAttrs]
	defaultVlan   store.Ref[store.VlanKey, store.VlanAttrs]
	cpuPort       sai.ObjectID
}

// LoadAdapterOwned loads the adapter owned singletons.
func (m *SwitchManager) LoadAdapterOwned(ctx context.Context) error {
	st := m.t.store
	attrs, err := st.API().GetAttributes(ctx, sai.ObjectTypeSwitch, st.SwitchID(),
		sai.SwitchAttrDefaultVirtualRouterID, sai.SwitchAttrDefault1QBridgeID,
		sai.SwitchAttrDefaultVlanID, sai.SwitchAttrCPUPort)
	if err != nil {
		return fmt.Errorf("read switch attributes: %w", err)
	}
	id := func(attr sai.AttrID) sai.ObjectID {
		v, _ := sai.Value[sai.ObjectID](attrs, attr)
		return v
	}
	if m.virtualRouter, err = st.VirtualRouters.LoadObjectOwnedByAdapter(ctx, id(sai.SwitchAttrDefaultVirtualRouterID), false); err != nil {
		return fmt.Errorf("load default virtual router: %w", err)
	}
	if m.bridge, err = st.Bridges.LoadObjectOwnedByAdapter(ctx, id(sai.SwitchAttrDefault1QBridgeID), false); err != nil {
		return fmt.Errorf("load default bridge: %w", err)
	}
	if m.defaultVlan, err = st.Vlans.LoadObjectOwnedByAdapter(ctx, id(sai.SwitchAttrDefaultVlanID), false); err != nil {
		return fmt.Errorf("load default vlan: %w", err)
	}
	m.cpuPort = id(sai.SwitchAttrCPUPort)
	if m.cpuPort.IsNull() {
		return errors.New("switch reports no cpu port")
	}
	m.logger.Info("loaded adapter owned objects",
		"virtual_router", m.virtualRouter.Value().ID(),
		"bridge", m.bridge.Value().ID(),
		"default_vlan", m.defaultVlan.Value().ID(),
		"cpu_port", m.cpuPort)
	return nil
}

// VirtualRouter returns the hardware id of a router. Only the default
// router exists.
func (m *SwitchManager) VirtualRouter(id saiagent.RouterID) (sai.ObjectID, error) {
	if id != 0 || m.virtualRouter == nil {
		return sai.NullObjectID, saiagent.NotFoundError{Kind: "virtual router", Key: id}
	}
	return m.virtualRouter.Value().ID(), nil
}

// Bridge returns the default .1Q bridge.
func (m *SwitchManager) Bridge() sai.ObjectID {
	if m.bridge == nil {
		return sai.NullObjectID
	}
	return m.bridge.Value().ID()
}

// CPUPort returns the CPU port.
func (m *SwitchManager) CPUPort() sai.ObjectID { return m.cpuPort }
