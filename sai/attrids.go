package sai

// Switch attributes.
const (
	SwitchAttrInitSwitch AttrID = iota + 1
	SwitchAttrSrcMacAddress
	SwitchAttrDefaultVirtualRouterID
	SwitchAttrDefault1QBridgeID
	SwitchAttrDefaultVlanID
	SwitchAttrCPUPort
	SwitchAttrEcmpMaxWidth
	SwitchAttrRestartWarm
)

// Port attributes.
const (
	PortAttrHwLaneList AttrID = iota + 1
	PortAttrSpeed
	PortAttrFecMode
	PortAttrAdminState
	PortAttrMtu
	PortAttrPortVlanID
	PortAttrIngressMirrorSession
	PortAttrEgressMirrorSession
	PortAttrQosSchedulerProfileID
	PortAttrType
)

// Port FEC modes.
const (
	PortFecModeNone int32 = iota
	PortFecModeRS
	PortFecModeFC
	PortFecModeRS544
)

// Port types.
const (
	PortTypeLogical int32 = iota
	PortTypeCPU
)

// Bridge attributes.
const (
	BridgeAttrType AttrID = iota + 1
)

// Bridge port attributes.
const (
	BridgePortAttrType AttrID = iota + 1
	BridgePortAttrPortID
	BridgePortAttrBridgeID
	BridgePortAttrAdminState
	BridgePortAttrFdbLearningMode
)

// Bridge port types.
const (
	BridgePortTypePort int32 = iota
	BridgePortTypeRouter
)

// Vlan attributes.
const (
	VlanAttrVlanID AttrID = iota + 1
)

// Vlan member attributes.
const (
	VlanMemberAttrVlanID AttrID = iota + 1
	VlanMemberAttrBridgePortID
	VlanMemberAttrTaggingMode
)

// Vlan tagging modes.
const (
	VlanTaggingModeUntagged int32 = iota
	VlanTaggingModeTagged
)

// Virtual router attributes.
const (
	VirtualRouterAttrSrcMacAddress AttrID = iota + 1
)

// Router interface attributes.
const (
	RouterInterfaceAttrVirtualRouterID AttrID = iota + 1
	RouterInterfaceAttrType
	RouterInterfaceAttrPortID
	RouterInterfaceAttrVlanID
	RouterInterfaceAttrSrcMacAddress
	RouterInterfaceAttrMtu
)

// Router interface types.
const (
	RouterInterfaceTypePort int32 = iota
	RouterInterfaceTypeVlan
)

// Next hop attributes.
const (
	NextHopAttrType AttrID = iota + 1
	NextHopAttrIP
	NextHopAttrRouterInterfaceID
)

// Next hop types.
const (
	NextHopTypeIP int32 = iota
)

// Next hop group attributes.
const (
	NextHopGroupAttrType AttrID = iota + 1
	NextHopGroupAttrConfiguredSize
	NextHopGroupAttrMemberList
)

// Next hop group types.
const (
	NextHopGroupTypeECMP int32 = iota
	NextHopGroupTypeFixedWidthECMP
)

// Next hop group member attributes.
const (
	NextHopGroupMemberAttrNextHopGroupID AttrID = iota + 1
	NextHopGroupMemberAttrNextHopID
	NextHopGroupMemberAttrWeight
)

// Neighbor entry attributes.
const (
	NeighborEntryAttrDstMacAddress AttrID = iota + 1
	NeighborEntryAttrMetaData
	NeighborEntryAttrNoHostRoute
)

// Route entry attributes.
const (
	RouteEntryAttrPacketAction AttrID = iota + 1
	RouteEntryAttrNextHopID
	RouteEntryAttrMetaData
)

// Packet actions.
const (
	PacketActionDrop int32 = iota
	PacketActionForward
	PacketActionTrap
)

// Mirror session attributes.
const (
	MirrorSessionAttrType AttrID = iota + 1
	MirrorSessionAttrMonitorPort
	MirrorSessionAttrErspanEncapsulationType
	MirrorSessionAttrTos
	MirrorSessionAttrTtl
	MirrorSessionAttrSrcIPAddress
	MirrorSessionAttrDstIPAddress
	MirrorSessionAttrSrcMacAddress
	MirrorSessionAttrDstMacAddress
	MirrorSessionAttrGreProtocolType
)

// Mirror session types.
const (
	MirrorSessionTypeLocal int32 = iota
	MirrorSessionTypeEnhancedRemote
)

// Scheduler attributes.
const (
	SchedulerAttrSchedulingType AttrID = iota + 1
	SchedulerAttrSchedulingWeight
	SchedulerAttrMinBandwidthRate
	SchedulerAttrMaxBandwidthRate
)

// Scheduling types.
const (
	SchedulingTypeStrict int32 = iota
	SchedulingTypeWRR
)

// StatID identifies a counter.
type StatID uint32

// Port counters.
const (
	PortStatIfInOctets StatID = iota + 1
	PortStatIfInUcastPkts
	PortStatIfInDiscards
	PortStatIfInErrors
	PortStatIfOutOctets
	PortStatIfOutUcastPkts
	PortStatIfOutDiscards
	PortStatIfOutErrors
)

// PortStats lists the counters collected for every port.
var PortStats = []StatID{
	PortStatIfInOctets,
	PortStatIfInUcastPkts,
	PortStatIfInDiscards,
	PortStatIfInErrors,
	PortStatIfOutOctets,
	PortStatIfOutUcastPkts,
	PortStatIfOutDiscards,
	PortStatIfOutErrors,
}

// PortStatName returns the exported name of a port counter.
func PortStatName(id StatID) string {
	switch id {
	case PortStatIfInOctets:
		return "in_octets"
	case PortStatIfInUcastPkts:
		return "in_unicast_packets"
	case PortStatIfInDiscards:
		return "in_discards"
	case PortStatIfInErrors:
		return "in_errors"
	case PortStatIfOutOctets:
		return "out_octets"
	case PortStatIfOutUcastPkts:
		return "out_unicast_packets"
	case PortStatIfOutDiscards:
		return "out_discards"
	case PortStatIfOutErrors:
		return "out_errors"
	}
	return "unknown"
}
