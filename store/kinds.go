package store

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"slices"
	"strconv"
	"strings"

	"github.com/frobware/go-saiagent/sai"
)

// decoder accumulates the first error while reading typed attribute
// values.
type decoder struct {
	l   sai.AttributeList
	err error
}

func get[T any](d *decoder, id sai.AttrID) T {
	v, err := sai.Value[T](d.l, id)
	if err != nil && d.err == nil {
		d.err = err
	}
	return v
}

func objectIDKey(key sai.AdapterKey) (sai.ObjectID, error) {
	id, ok := key.(sai.ObjectID)
	if !ok {
		return sai.NullObjectID, fmt.Errorf("adapter key %s is not an object id", key)
	}
	return id, nil
}

// AdapterOwnedKey is the host key of adapter owned singletons: the
// adapter key itself.
type AdapterOwnedKey struct {
	ID sai.ObjectID `json:"id"`
}

// VirtualRouterAttrs are the attributes of a virtual router.
type VirtualRouterAttrs struct {
	SrcMAC sai.MacAddress
}

// VirtualRouterKind describes virtual routers. Only the adapter owned
// default router is used.
var VirtualRouterKind = &Kind[AdapterOwnedKey, VirtualRouterAttrs]{
	Type:    sai.ObjectTypeVirtualRouter,
	AttrIDs: []sai.AttrID{sai.VirtualRouterAttrSrcMacAddress},
	Encode: func(a VirtualRouterAttrs) sai.AttributeList {
		var b sai.Builder
		return b.AddIf(a.SrcMAC != sai.MacAddress{}, sai.VirtualRouterAttrSrcMacAddress, a.SrcMAC).List()
	},
	Decode: func(l sai.AttributeList) (VirtualRouterAttrs, error) {
		d := &decoder{l: l}
		return VirtualRouterAttrs{SrcMAC: get[sai.MacAddress](d, sai.VirtualRouterAttrSrcMacAddress)}, d.err
	},
	Defaults: map[sai.AttrID]any{sai.VirtualRouterAttrSrcMacAddress: sai.MacAddress{}},
	HostKey: func(key sai.AdapterKey, _ VirtualRouterAttrs) (AdapterOwnedKey, error) {
		id, err := objectIDKey(key)
		return AdapterOwnedKey{ID: id}, err
	},
}

// BridgeAttrs are the attributes of a bridge.
type BridgeAttrs struct {
	Type int32
}

// BridgeKind describes bridges. Only the adapter owned default .1Q
// bridge is used.
var BridgeKind = &Kind[AdapterOwnedKey, BridgeAttrs]{
	Type:       sai.ObjectTypeBridge,
	AttrIDs:    []sai.AttrID{sai.BridgeAttrType},
	CreateOnly: []sai.AttrID{sai.BridgeAttrType},
	Encode: func(a BridgeAttrs) sai.AttributeList {
		var b sai.Builder
		return b.Add(sai.BridgeAttrType, a.Type).List()
	},
	Decode: func(l sai.AttributeList) (BridgeAttrs, error) {
		d := &decoder{l: l}
		return BridgeAttrs{Type: get[int32](d, sai.BridgeAttrType)}, d.err
	},
	HostKey: func(key sai.AdapterKey, _ BridgeAttrs) (AdapterOwnedKey, error) {
		id, err := objectIDKey(key)
		return AdapterOwnedKey{ID: id}, err
	},
}

// PortKey identifies a port by its lanes.
type PortKey struct {
	Lanes string `json:"lanes"`
}

// NewPortKey returns the canonical key for a lane list.
func NewPortKey(lanes []uint32) PortKey {
	parts := make([]string, len(lanes))
	for i, l := range lanes {
		parts[i] = strconv.FormatUint(uint64(l), 10)
	}
	return PortKey{Lanes: strings.Join(parts, ",")}
}

// PortAttrs are the attributes of a port.
type PortAttrs struct {
	Lanes          []uint32
	Speed          uint32
	FecMode        int32
	AdminState     bool
	Mtu            uint32
	PortVlanID     uint16
	IngressMirrors sai.ObjectList
	EgressMirrors  sai.ObjectList
	Scheduler      sai.ObjectID
}

// PortKind describes front panel ports.
var PortKind = &Kind[PortKey, PortAttrs]{
	Type: sai.ObjectTypePort,
	AttrIDs: []sai.AttrID{
		sai.PortAttrHwLaneList, sai.PortAttrSpeed, sai.PortAttrFecMode,
		sai.PortAttrAdminState, sai.PortAttrMtu, sai.PortAttrPortVlanID,
		sai.PortAttrIngressMirrorSession, sai.PortAttrEgressMirrorSession,
		sai.PortAttrQosSchedulerProfileID,
	},
	CreateOnly: []sai.AttrID{sai.PortAttrHwLaneList},
	Defaults: map[sai.AttrID]any{
		sai.PortAttrIngressMirrorSession:  sai.ObjectList{},
		sai.PortAttrEgressMirrorSession:   sai.ObjectList{},
		sai.PortAttrQosSchedulerProfileID: sai.NullObjectID,
	},
	Encode: func(a PortAttrs) sai.AttributeList {
		var b sai.Builder
		b.Add(sai.PortAttrHwLaneList, sai.U32List(slices.Clone(a.Lanes))).
			Add(sai.PortAttrSpeed, a.Speed).
			Add(sai.PortAttrFecMode, a.FecMode).
			Add(sai.PortAttrAdminState, a.AdminState).
			Add(sai.PortAttrMtu, a.Mtu).
			Add(sai.PortAttrPortVlanID, a.PortVlanID).
			AddIf(len(a.IngressMirrors) > 0, sai.PortAttrIngressMirrorSession, slices.Clone(a.IngressMirrors)).
			AddIf(len(a.EgressMirrors) > 0, sai.PortAttrEgressMirrorSession, slices.Clone(a.EgressMirrors)).
			AddIf(!a.Scheduler.IsNull(), sai.PortAttrQosSchedulerProfileID, a.Scheduler)
		return b.List()
	},
	Decode: func(l sai.AttributeList) (PortAttrs, error) {
		d := &decoder{l: l}
		a := PortAttrs{
			Lanes:          get[sai.U32List](d, sai.PortAttrHwLaneList),
			Speed:          get[uint32](d, sai.PortAttrSpeed),
			FecMode:        get[int32](d, sai.PortAttrFecMode),
			AdminState:     get[bool](d, sai.PortAttrAdminState),
			Mtu:            get[uint32](d, sai.PortAttrMtu),
			PortVlanID:     get[uint16](d, sai.PortAttrPortVlanID),
			IngressMirrors: get[sai.ObjectList](d, sai.PortAttrIngressMirrorSession),
			EgressMirrors:  get[sai.ObjectList](d, sai.PortAttrEgressMirrorSession),
			Scheduler:      get[sai.ObjectID](d, sai.PortAttrQosSchedulerProfileID),
		}
		return a, d.err
	},
	HostKey: func(_ sai.AdapterKey, a PortAttrs) (PortKey, error) {
		if len(a.Lanes) == 0 {
			return PortKey{}, fmt.Errorf("port has no lanes")
		}
		return NewPortKey(a.Lanes), nil
	},
	Stats: sai.PortStats,
}

// BridgePortKey identifies the bridge port of a port.
type BridgePortKey struct {
	Port sai.ObjectID `json:"port"`
}

// BridgePortAttrs are the attributes of a bridge port.
type BridgePortAttrs struct {
	Type       int32
	Port       sai.ObjectID
	Bridge     sai.ObjectID
	AdminState bool
}

// BridgePortKind describes bridge ports.
var BridgePortKind = &Kind[BridgePortKey, BridgePortAttrs]{
	Type: sai.ObjectTypeBridgePort,
	AttrIDs: []sai.AttrID{
		sai.BridgePortAttrType, sai.BridgePortAttrPortID,
		sai.BridgePortAttrBridgeID, sai.BridgePortAttrAdminState,
	},
	CreateOnly: []sai.AttrID{sai.BridgePortAttrType, sai.BridgePortAttrPortID, sai.BridgePortAttrBridgeID},
	Encode: func(a BridgePortAttrs) sai.AttributeList {
		var b sai.Builder
		return b.Add(sai.BridgePortAttrType, a.Type).
			Add(sai.BridgePortAttrPortID, a.Port).
			Add(sai.BridgePortAttrBridgeID, a.Bridge).
			Add(sai.BridgePortAttrAdminState, a.AdminState).
			List()
	},
	Decode: func(l sai.AttributeList) (BridgePortAttrs, error) {
		d := &decoder{l: l}
		return BridgePortAttrs{
			Type:       get[int32](d, sai.BridgePortAttrType),
			Port:       get[sai.ObjectID](d, sai.BridgePortAttrPortID),
			Bridge:     get[sai.ObjectID](d, sai.BridgePortAttrBridgeID),
			AdminState: get[bool](d, sai.BridgePortAttrAdminState),
		}, d.err
	},
	HostKey: func(_ sai.AdapterKey, a BridgePortAttrs) (BridgePortKey, error) {
		return BridgePortKey{Port: a.Port}, nil
	},
}

// VlanKey identifies a VLAN by its id.
type VlanKey struct {
	VlanID uint16 `json:"vlanId"`
}

// VlanAttrs are the attributes of a VLAN.
type VlanAttrs struct {
	VlanID uint16
}

// VlanKind describes VLANs.
var VlanKind = &Kind[VlanKey, VlanAttrs]{
	Type:       sai.ObjectTypeVlan,
	AttrIDs:    []sai.AttrID{sai.VlanAttrVlanID},
	CreateOnly: []sai.AttrID{sai.VlanAttrVlanID},
	Encode: func(a VlanAttrs) sai.AttributeList {
		var b sai.Builder
		return b.Add(sai.VlanAttrVlanID, a.VlanID).List()
	},
	Decode: func(l sai.AttributeList) (VlanAttrs, error) {
		d := &decoder{l: l}
		return VlanAttrs{VlanID: get[uint16](d, sai.VlanAttrVlanID)}, d.err
	},
	HostKey: func(_ sai.AdapterKey, a VlanAttrs) (VlanKey, error) {
		return VlanKey(a), nil
	},
}

// VlanMemberKey identifies a bridge port's membership in a VLAN.
type VlanMemberKey struct {
	Vlan       sai.ObjectID `json:"vlan"`
	BridgePort sai.ObjectID `json:"bridgePort"`
}

// VlanMemberAttrs are the attributes of a VLAN member.
type VlanMemberAttrs struct {
	Vlan        sai.ObjectID
	BridgePort  sai.ObjectID
	TaggingMode int32
}

// VlanMemberKind describes VLAN members.
var VlanMemberKind = &Kind[VlanMemberKey, VlanMemberAttrs]{
	Type: sai.ObjectTypeVlanMember,
	AttrIDs: []sai.AttrID{
		sai.VlanMemberAttrVlanID, sai.VlanMemberAttrBridgePortID, sai.VlanMemberAttrTaggingMode,
	},
	CreateOnly: []sai.AttrID{sai.VlanMemberAttrVlanID, sai.VlanMemberAttrBridgePortID},
	Encode: func(a VlanMemberAttrs) sai.AttributeList {
		var b sai.Builder
		return b.Add(sai.VlanMemberAttrVlanID, a.Vlan).
			Add(sai.VlanMemberAttrBridgePortID, a.BridgePort).
			Add(sai.VlanMemberAttrTaggingMode, a.TaggingMode).
			List()
	},
	Decode: func(l sai.AttributeList) (VlanMemberAttrs, error) {
		d := &decoder{l: l}
		return VlanMemberAttrs{
			Vlan:        get[sai.ObjectID](d, sai.VlanMemberAttrVlanID),
			BridgePort:  get[sai.ObjectID](d, sai.VlanMemberAttrBridgePortID),
			TaggingMode: get[int32](d, sai.VlanMemberAttrTaggingMode),
		}, d.err
	},
	HostKey: func(_ sai.AdapterKey, a VlanMemberAttrs) (VlanMemberKey, error) {
		return VlanMemberKey{Vlan: a.Vlan, BridgePort: a.BridgePort}, nil
	},
}

// RouterInterfaceKey identifies a router interface by what it is
// attached to.
type RouterInterfaceKey struct {
	VirtualRouter sai.ObjectID `json:"virtualRouter"`
	Vlan          sai.ObjectID `json:"vlan"`
	Port          sai.ObjectID `json:"port"`
}

// RouterInterfaceAttrs are the attributes of a router interface.
type RouterInterfaceAttrs struct {
	VirtualRouter sai.ObjectID
	Type          int32
	Port          sai.ObjectID
	Vlan          sai.ObjectID
	SrcMAC        sai.MacAddress
	Mtu           uint32
}

// RouterInterfaceKind describes router interfaces.
var RouterInterfaceKind = &Kind[RouterInterfaceKey, RouterInterfaceAttrs]{
	Type: sai.ObjectTypeRouterInterface,
	AttrIDs: []sai.AttrID{
		sai.RouterInterfaceAttrVirtualRouterID, sai.RouterInterfaceAttrType,
		sai.RouterInterfaceAttrPortID, sai.RouterInterfaceAttrVlanID,
		sai.RouterInterfaceAttrSrcMacAddress, sai.RouterInterfaceAttrMtu,
	},
	CreateOnly: []sai.AttrID{
		sai.RouterInterfaceAttrVirtualRouterID, sai.RouterInterfaceAttrType,
		sai.RouterInterfaceAttrPortID, sai.RouterInterfaceAttrVlanID,
	},
	Encode: func(a RouterInterfaceAttrs) sai.AttributeList {
		var b sai.Builder
		b.Add(sai.RouterInterfaceAttrVirtualRouterID, a.VirtualRouter).
			Add(sai.RouterInterfaceAttrType, a.Type).
			AddIf(a.Type == sai.RouterInterfaceTypePort, sai.RouterInterfaceAttrPortID, a.Port).
			AddIf(a.Type == sai.RouterInterfaceTypeVlan, sai.RouterInterfaceAttrVlanID, a.Vlan).
			Add(sai.RouterInterfaceAttrSrcMacAddress, a.SrcMAC).
			Add(sai.RouterInterfaceAttrMtu, a.Mtu)
		return b.List()
	},
	Decode: func(l sai.AttributeList) (RouterInterfaceAttrs, error) {
		d := &decoder{l: l}
		return RouterInterfaceAttrs{
			VirtualRouter: get[sai.ObjectID](d, sai.RouterInterfaceAttrVirtualRouterID),
			Type:          get[int32](d, sai.RouterInterfaceAttrType),
			Port:          get[sai.ObjectID](d, sai.RouterInterfaceAttrPortID),
			Vlan:          get[sai.ObjectID](d, sai.RouterInterfaceAttrVlanID),
			SrcMAC:        get[sai.MacAddress](d, sai.RouterInterfaceAttrSrcMacAddress),
			Mtu:           get[uint32](d, sai.RouterInterfaceAttrMtu),
		}, d.err
	},
	HostKey: func(_ sai.AdapterKey, a RouterInterfaceAttrs) (RouterInterfaceKey, error) {
		return RouterInterfaceKey{VirtualRouter: a.VirtualRouter, Vlan: a.Vlan, Port: a.Port}, nil
	},
}

// NextHopKey identifies an IP next hop.
type NextHopKey struct {
	RouterInterface sai.ObjectID `json:"routerInterface"`
	IP              netip.Addr   `json:"ip"`
}

// NextHopAttrs are the attributes of a next hop.
type NextHopAttrs struct {
	Type            int32
	RouterInterface sai.ObjectID
	IP              netip.Addr
}

// NextHopKind describes next hops.
var NextHopKind = &Kind[NextHopKey, NextHopAttrs]{
	Type: sai.ObjectTypeNextHop,
	AttrIDs: []sai.AttrID{
		sai.NextHopAttrType, sai.NextHopAttrRouterInterfaceID, sai.NextHopAttrIP,
	},
	CreateOnly: []sai.AttrID{sai.NextHopAttrType, sai.NextHopAttrRouterInterfaceID, sai.NextHopAttrIP},
	Encode: func(a NextHopAttrs) sai.AttributeList {
		var b sai.Builder
		return b.Add(sai.NextHopAttrType, a.Type).
			Add(sai.NextHopAttrRouterInterfaceID, a.RouterInterface).
			Add(sai.NextHopAttrIP, a.IP).
			List()
	},
	Decode: func(l sai.AttributeList) (NextHopAttrs, error) {
		d := &decoder{l: l}
		return NextHopAttrs{
			Type:            get[int32](d, sai.NextHopAttrType),
			RouterInterface: get[sai.ObjectID](d, sai.NextHopAttrRouterInterfaceID),
			IP:              get[netip.Addr](d, sai.NextHopAttrIP),
		}, d.err
	},
	HostKey: func(_ sai.AdapterKey, a NextHopAttrs) (NextHopKey, error) {
		return NextHopKey{RouterInterface: a.RouterInterface, IP: a.IP}, nil
	},
}

// NextHopGroupMemberSpec is one member of a next hop group's identity.
type NextHopGroupMemberSpec struct {
	NextHop NextHopKey `json:"nextHop"`
	Weight  uint32     `json:"weight"`
}

// NextHopGroupKey identifies a next hop group by its full member set
// and mode. Members holds the canonical encoding so the key stays
// comparable; use NewNextHopGroupKey and MemberSpecs.
type NextHopGroupKey struct {
	Members string
	Mode    int32
}

// NewNextHopGroupKey returns the canonical key for members. Member
// order does not matter.
func NewNextHopGroupKey(members []NextHopGroupMemberSpec, mode int32) NextHopGroupKey {
	parts := make([]string, len(members))
	for i, m := range members {
		parts[i] = fmt.Sprintf("%d|%s|%d", uint64(m.NextHop.RouterInterface), m.NextHop.IP, m.Weight)
	}
	slices.Sort(parts)
	return NextHopGroupKey{Members: strings.Join(parts, ";"), Mode: mode}
}

// MemberSpecs decodes the member set.
func (k NextHopGroupKey) MemberSpecs() ([]NextHopGroupMemberSpec, error) {
	if k.Members == "" {
		return nil, nil
	}
	var out []NextHopGroupMemberSpec
	for _, part := range strings.Split(k.Members, ";") {
		f := strings.Split(part, "|")
		if len(f) != 3 {
			return nil, fmt.Errorf("malformed next hop group member %q", part)
		}
		rif, err := strconv.ParseUint(f[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed next hop group member %q: %w", part, err)
		}
		ip, err := netip.ParseAddr(f[1])
		if err != nil {
			return nil, fmt.Errorf("malformed next hop group member %q: %w", part, err)
		}
		w, err := strconv.ParseUint(f[2], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("malformed next hop group member %q: %w", part, err)
		}
		out = append(out, NextHopGroupMemberSpec{
			NextHop: NextHopKey{RouterInterface: sai.ObjectID(rif), IP: ip},
			Weight:  uint32(w),
		})
	}
	return out, nil
}

type nextHopGroupKeyJSON struct {
	Members []NextHopGroupMemberSpec `json:"members"`
	Mode    *int32                   `json:"mode,omitempty"`
}

// NextHopGroupAttrs are the attributes of a next hop group.
type NextHopGroupAttrs struct {
	Type int32
}

// NextHopGroupKind describes next hop groups. Their identity cannot be
// read back from hardware, so it is persisted in both the legacy
// members-only form and the form with mode.
var NextHopGroupKind = &Kind[NextHopGroupKey, NextHopGroupAttrs]{
	Type:       sai.ObjectTypeNextHopGroup,
	AttrIDs:    []sai.AttrID{sai.NextHopGroupAttrType},
	CreateOnly: []sai.AttrID{sai.NextHopGroupAttrType},
	Encode: func(a NextHopGroupAttrs) sai.AttributeList {
		var b sai.Builder
		return b.Add(sai.NextHopGroupAttrType, a.Type).List()
	},
	Decode: func(l sai.AttributeList) (NextHopGroupAttrs, error) {
		d := &decoder{l: l}
		return NextHopGroupAttrs{Type: get[int32](d, sai.NextHopGroupAttrType)}, d.err
	},
	MarshalHostKey: func(h NextHopGroupKey) (json.RawMessage, error) {
		members, err := h.MemberSpecs()
		if err != nil {
			return nil, err
		}
		mode := h.Mode
		return json.Marshal(nextHopGroupKeyJSON{Members: members, Mode: &mode})
	},
	MarshalLegacyHostKey: func(h NextHopGroupKey) (json.RawMessage, error) {
		members, err := h.MemberSpecs()
		if err != nil {
			return nil, err
		}
		return json.Marshal(nextHopGroupKeyJSON{Members: members})
	},
	UnmarshalHostKey: func(raw json.RawMessage) (NextHopGroupKey, error) {
		var v nextHopGroupKeyJSON
		if err := json.Unmarshal(raw, &v); err != nil {
			return NextHopGroupKey{}, fmt.Errorf("decode next hop group host key: %w", err)
		}
		mode := sai.NextHopGroupTypeECMP
		if v.Mode != nil {
			mode = *v.Mode
		}
		return NewNextHopGroupKey(v.Members, mode), nil
	},
}

// NextHopGroupMemberKey identifies a next hop's membership in a group.
type NextHopGroupMemberKey struct {
	Group   sai.ObjectID `json:"group"`
	NextHop sai.ObjectID `json:"nextHop"`
}

// NextHopGroupMemberAttrs are the attributes of a group member.
type NextHopGroupMemberAttrs struct {
	Group   sai.ObjectID
	NextHop sai.ObjectID
	Weight  uint32
}

// NextHopGroupMemberKind describes next hop group members.
var NextHopGroupMemberKind = &Kind[NextHopGroupMemberKey, NextHopGroupMemberAttrs]{
	Type: sai.ObjectTypeNextHopGroupMember,
	AttrIDs: []sai.AttrID{
		sai.NextHopGroupMemberAttrNextHopGroupID, sai.NextHopGroupMemberAttrNextHopID,
		sai.NextHopGroupMemberAttrWeight,
	},
	CreateOnly: []sai.AttrID{sai.NextHopGroupMemberAttrNextHopGroupID, sai.NextHopGroupMemberAttrNextHopID},
	Encode: func(a NextHopGroupMemberAttrs) sai.AttributeList {
		var b sai.Builder
		return b.Add(sai.NextHopGroupMemberAttrNextHopGroupID, a.Group).
			Add(sai.NextHopGroupMemberAttrNextHopID, a.NextHop).
			Add(sai.NextHopGroupMemberAttrWeight, a.Weight).
			List()
	},
	Decode: func(l sai.AttributeList) (NextHopGroupMemberAttrs, error) {
		d := &decoder{l: l}
		return NextHopGroupMemberAttrs{
			Group:   get[sai.ObjectID](d, sai.NextHopGroupMemberAttrNextHopGroupID),
			NextHop: get[sai.ObjectID](d, sai.NextHopGroupMemberAttrNextHopID),
			Weight:  get[uint32](d, sai.NextHopGroupMemberAttrWeight),
		}, d.err
	},
	HostKey: func(_ sai.AdapterKey, a NextHopGroupMemberAttrs) (NextHopGroupMemberKey, error) {
		return NextHopGroupMemberKey{Group: a.Group, NextHop: a.NextHop}, nil
	},
}

// NeighborKey identifies a neighbor entry.
type NeighborKey struct {
	RouterInterface sai.ObjectID `json:"routerInterface"`
	IP              netip.Addr   `json:"ip"`
}

// NeighborAttrs are the attributes of a neighbor entry.
type NeighborAttrs struct {
	DstMAC   sai.MacAddress
	Metadata uint32
}

// NeighborKind describes neighbor entries.
var NeighborKind = &Kind[NeighborKey, NeighborAttrs]{
	Type:    sai.ObjectTypeNeighborEntry,
	AttrIDs: []sai.AttrID{sai.NeighborEntryAttrDstMacAddress, sai.NeighborEntryAttrMetaData},
	Defaults: map[sai.AttrID]any{
		sai.NeighborEntryAttrMetaData: uint32(0),
	},
	Encode: func(a NeighborAttrs) sai.AttributeList {
		var b sai.Builder
		return b.Add(sai.NeighborEntryAttrDstMacAddress, a.DstMAC).
			AddIf(a.Metadata != 0, sai.NeighborEntryAttrMetaData, a.Metadata).
			List()
	},
	Decode: func(l sai.AttributeList) (NeighborAttrs, error) {
		d := &decoder{l: l}
		return NeighborAttrs{
			DstMAC:   get[sai.MacAddress](d, sai.NeighborEntryAttrDstMacAddress),
			Metadata: get[uint32](d, sai.NeighborEntryAttrMetaData),
		}, d.err
	},
	EntryKey: func(switchID sai.ObjectID, h NeighborKey) sai.AdapterKey {
		return sai.NeighborEntry{Switch: switchID, RouterInterface: h.RouterInterface, IP: h.IP}
	},
	HostKey: func(key sai.AdapterKey, _ NeighborAttrs) (NeighborKey, error) {
		e, ok := key.(sai.NeighborEntry)
		if !ok {
			return NeighborKey{}, fmt.Errorf("adapter key %s is not a neighbor entry", key)
		}
		return NeighborKey{RouterInterface: e.RouterInterface, IP: e.IP}, nil
	},
}

// RouteKey identifies a route entry.
type RouteKey struct {
	VirtualRouter sai.ObjectID `json:"virtualRouter"`
	Prefix        netip.Prefix `json:"prefix"`
}

// RouteAttrs are the attributes of a route entry.
type RouteAttrs struct {
	PacketAction int32
	NextHop      sai.ObjectID
	Metadata     uint32
}

// RouteKind describes route entries.
var RouteKind = &Kind[RouteKey, RouteAttrs]{
	Type: sai.ObjectTypeRouteEntry,
	AttrIDs: []sai.AttrID{
		sai.RouteEntryAttrPacketAction, sai.RouteEntryAttrNextHopID, sai.RouteEntryAttrMetaData,
	},
	Defaults: map[sai.AttrID]any{
		sai.RouteEntryAttrNextHopID: sai.NullObjectID,
		sai.RouteEntryAttrMetaData:  uint32(0),
	},
	Encode: func(a RouteAttrs) sai.AttributeList {
		var b sai.Builder
		return b.Add(sai.RouteEntryAttrPacketAction, a.PacketAction).
			AddIf(!a.NextHop.IsNull(), sai.RouteEntryAttrNextHopID, a.NextHop).
			AddIf(a.Metadata != 0, sai.RouteEntryAttrMetaData, a.Metadata).
			List()
	},
	Decode: func(l sai.AttributeList) (RouteAttrs, error) {
		d := &decoder{l: l}
		return RouteAttrs{
			PacketAction: get[int32](d, sai.RouteEntryAttrPacketAction),
			NextHop:      get[sai.ObjectID](d, sai.RouteEntryAttrNextHopID),
			Metadata:     get[uint32](d, sai.RouteEntryAttrMetaData),
		}, d.err
	},
	EntryKey: func(switchID sai.ObjectID, h RouteKey) sai.AdapterKey {
		return sai.RouteEntry{Switch: switchID, VirtualRouter: h.VirtualRouter, Prefix: h.Prefix}
	},
	HostKey: func(key sai.AdapterKey, _ RouteAttrs) (RouteKey, error) {
		e, ok := key.(sai.RouteEntry)
		if !ok {
			return RouteKey{}, fmt.Errorf("adapter key %s is not a route entry", key)
		}
		return RouteKey{VirtualRouter: e.VirtualRouter, Prefix: e.Prefix}, nil
	},
}

// MirrorKey identifies a mirror session by its destination.
type MirrorKey struct {
	Type        int32        `json:"type"`
	MonitorPort sai.ObjectID `json:"monitorPort"`
	SrcIP       netip.Addr   `json:"srcIp"`
	DstIP       netip.Addr   `json:"dstIp"`
}

// MirrorAttrs are the attributes of a mirror session.
type MirrorAttrs struct {
	Type        int32
	MonitorPort sai.ObjectID
	SrcIP       netip.Addr
	DstIP       netip.Addr
	SrcMAC      sai.MacAddress
	DstMAC      sai.MacAddress
	TOS         uint8
	TTL         uint8
	GREProtocol uint16
}

// MirrorKind describes mirror sessions.
var MirrorKind = &Kind[MirrorKey, MirrorAttrs]{
	Type: sai.ObjectTypeMirrorSession,
	AttrIDs: []sai.AttrID{
		sai.MirrorSessionAttrType, sai.MirrorSessionAttrMonitorPort,
		sai.MirrorSessionAttrSrcIPAddress, sai.MirrorSessionAttrDstIPAddress,
		sai.MirrorSessionAttrSrcMacAddress, sai.MirrorSessionAttrDstMacAddress,
		sai.MirrorSessionAttrTos, sai.MirrorSessionAttrTtl, sai.MirrorSessionAttrGreProtocolType,
	},
	CreateOnly: []sai.AttrID{sai.MirrorSessionAttrType},
	Encode: func(a MirrorAttrs) sai.AttributeList {
		var b sai.Builder
		b.Add(sai.MirrorSessionAttrType, a.Type).
			Add(sai.MirrorSessionAttrMonitorPort, a.MonitorPort)
		if a.Type == sai.MirrorSessionTypeEnhancedRemote {
			b.Add(sai.MirrorSessionAttrSrcIPAddress, a.SrcIP).
				Add(sai.MirrorSessionAttrDstIPAddress, a.DstIP).
				Add(sai.MirrorSessionAttrSrcMacAddress, a.SrcMAC).
				Add(sai.MirrorSessionAttrDstMacAddress, a.DstMAC).
				Add(sai.MirrorSessionAttrTos, a.TOS).
				Add(sai.MirrorSessionAttrTtl, a.TTL).
				Add(sai.MirrorSessionAttrGreProtocolType, a.GREProtocol)
		}
		return b.List()
	},
	Decode: func(l sai.AttributeList) (MirrorAttrs, error) {
		d := &decoder{l: l}
		return MirrorAttrs{
			Type:        get[int32](d, sai.MirrorSessionAttrType),
			MonitorPort: get[sai.ObjectID](d, sai.MirrorSessionAttrMonitorPort),
			SrcIP:       get[netip.Addr](d, sai.MirrorSessionAttrSrcIPAddress),
			DstIP:       get[netip.Addr](d, sai.MirrorSessionAttrDstIPAddress),
			SrcMAC:      get[sai.MacAddress](d, sai.MirrorSessionAttrSrcMacAddress),
			DstMAC:      get[sai.MacAddress](d, sai.MirrorSessionAttrDstMacAddress),
			TOS:         get[uint8](d, sai.MirrorSessionAttrTos),
			TTL:         get[uint8](d, sai.MirrorSessionAttrTtl),
			GREProtocol: get[uint16](d, sai.MirrorSessionAttrGreProtocolType),
		}, d.err
	},
	HostKey: func(_ sai.AdapterKey, a MirrorAttrs) (MirrorKey, error) {
		return MirrorKey{Type: a.Type, MonitorPort: a.MonitorPort, SrcIP: a.SrcIP, DstIP: a.DstIP}, nil
	},
}

// SchedulerKey identifies a scheduler by its full configuration.
type SchedulerKey struct {
	Type    int32  `json:"type"`
	Weight  uint8  `json:"weight"`
	MinRate uint64 `json:"minRate"`
	MaxRate uint64 `json:"maxRate"`
}

// SchedulerAttrs are the attributes of a scheduler.
type SchedulerAttrs SchedulerKey

// SchedulerKind describes schedulers.
var SchedulerKind = &Kind[SchedulerKey, SchedulerAttrs]{
	Type: sai.ObjectTypeScheduler,
	AttrIDs: []sai.AttrID{
		sai.SchedulerAttrSchedulingType, sai.SchedulerAttrSchedulingWeight,
		sai.SchedulerAttrMinBandwidthRate, sai.SchedulerAttrMaxBandwidthRate,
	},
	Encode: func(a SchedulerAttrs) sai.AttributeList {
		var b sai.Builder
		return b.Add(sai.SchedulerAttrSchedulingType, a.Type).
			Add(sai.SchedulerAttrSchedulingWeight, a.Weight).
			Add(sai.SchedulerAttrMinBandwidthRate, a.MinRate).
			Add(sai.SchedulerAttrMaxBandwidthRate, a.MaxRate).
			List()
	},
	Decode: func(l sai.AttributeList) (SchedulerAttrs, error) {
		d := &decoder{l: l}
		return SchedulerAttrs{
			Type:    get[int32](d, sai.SchedulerAttrSchedulingType),
			Weight:  get[uint8](d, sai.SchedulerAttrSchedulingWeight),
			MinRate: get[uint64](d, sai.SchedulerAttrMinBandwidthRate),
			MaxRate: get[uint64](d, sai.SchedulerAttrMaxBandwidthRate),
		}, d.err
	},
	HostKey: func(_ sai.AdapterKey, a SchedulerAttrs) (SchedulerKey, error) {
		return SchedulerKey(a), nil
	},
}
