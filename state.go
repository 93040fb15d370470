// Package saiagent models the intended state of a switch and the
// error taxonomy shared by the reconciliation engine.
package saiagent

import (
	"fmt"
	"maps"
	"net"
	"net/netip"
	"slices"
)

// PortID is the software identifier of a front panel port.
type PortID uint32

// VlanID is an 802.1Q VLAN identifier.
type VlanID uint16

// InterfaceID identifies an L3 interface.
type InterfaceID uint32

// RouterID identifies a virtual router. Router 0 is the default.
type RouterID uint32

// DefaultVlanID is the VLAN the adapter creates at switch init.
const DefaultVlanID VlanID = 1

// FEC is a forward error correction mode.
type FEC string

const (
	FECNone  FEC = "none"
	FECRS528 FEC = "rs528"
	FECRS544 FEC = "rs544"
	FECFC    FEC = "fc"
)

// ParseFEC parses a FEC mode name. The empty string means none.
func ParseFEC(s string) (FEC, error) {
	switch FEC(s) {
	case "", FECNone:
		return FECNone, nil
	case FECRS528, FECRS544, FECFC:
		return FEC(s), nil
	}
	return "", fmt.Errorf("unknown fec mode %q", s)
}

// MacAddress is a 48-bit Ethernet address.
type MacAddress [6]byte

// ParseMAC parses a colon separated Ethernet address.
func ParseMAC(s string) (MacAddress, error) {
	var m MacAddress
	hw, err := net.ParseMAC(s)
	if err != nil {
		return m, err
	}
	if len(hw) != len(m) {
		return m, fmt.Errorf("mac address %q is not 48 bits", s)
	}
	copy(m[:], hw)
	return m, nil
}

func (m MacAddress) String() string {
	return net.HardwareAddr(m[:]).String()
}

// IsZero reports whether m is the all-zeros address.
func (m MacAddress) IsZero() bool { return m == MacAddress{} }

// SchedulerType selects how a port scheduler arbitrates.
type SchedulerType string

const (
	SchedulerWRR    SchedulerType = "wrr"
	SchedulerStrict SchedulerType = "strict"
)

// SchedulerSettings is a port scheduler profile. Ports with identical
// settings share one hardware scheduler.
type SchedulerSettings struct {
	Type        SchedulerType
	Weight      uint8
	MinRateKbps uint64
	MaxRateKbps uint64
}

// Port is the intended configuration of a front panel port.
type Port struct {
	ID    PortID
	Name  string
	Lanes []uint32
	// Group is the physical resource group (serdes core) the port
	// belongs to. Ports in one group share a VCO.
	Group         uint32
	SpeedMbps     uint32
	FEC           FEC
	AdminUp       bool
	MTU           uint32
	IngressVlan   VlanID
	IngressMirror string
	EgressMirror  string
	Scheduler     *SchedulerSettings
}

// Equal reports whether p and o describe the same configuration.
func (p Port) Equal(o Port) bool {
	if p.ID != o.ID || p.Name != o.Name || p.Group != o.Group ||
		p.SpeedMbps != o.SpeedMbps || p.FEC != o.FEC || p.AdminUp != o.AdminUp ||
		p.MTU != o.MTU || p.IngressVlan != o.IngressVlan ||
		p.IngressMirror != o.IngressMirror || p.EgressMirror != o.EgressMirror {
		return false
	}
	if !slices.Equal(p.Lanes, o.Lanes) {
		return false
	}
	switch {
	case p.Scheduler == nil && o.Scheduler == nil:
		return true
	case p.Scheduler == nil || o.Scheduler == nil:
		return false
	}
	return *p.Scheduler == *o.Scheduler
}

// Vlan is an intended VLAN and its port membership. The member value
// records whether the port is tagged.
type Vlan struct {
	ID      VlanID
	Name    string
	Members map[PortID]bool
}

// Equal reports whether v and o describe the same VLAN.
func (v Vlan) Equal(o Vlan) bool {
	return v.ID == o.ID && v.Name == o.Name && maps.Equal(v.Members, o.Members)
}

// Interface is an L3 interface. Exactly one of Vlan or Port is set.
type Interface struct {
	ID        InterfaceID
	Router    RouterID
	Vlan      VlanID
	Port      PortID
	MAC       MacAddress
	MTU       uint32
	Addresses []netip.Prefix
}

// Equal reports whether i and o describe the same interface.
func (i Interface) Equal(o Interface) bool {
	return i.ID == o.ID && i.Router == o.Router && i.Vlan == o.Vlan &&
		i.Port == o.Port && i.MAC == o.MAC && i.MTU == o.MTU &&
		slices.Equal(i.Addresses, o.Addresses)
}

// NextHop is a resolved-or-not IP next hop reached through an interface.
// A zero weight means equal cost.
type NextHop struct {
	Interface InterfaceID
	IP        netip.Addr
	Weight    uint32
}

// Neighbor returns the identity of the neighbor that must resolve for
// this next hop to forward.
func (n NextHop) Neighbor() NeighborKey {
	return NeighborKey{Interface: n.Interface, IP: n.IP}
}

func (n NextHop) String() string {
	if n.Weight != 0 {
		return fmt.Sprintf("%s@%d*%d", n.IP, n.Interface, n.Weight)
	}
	return fmt.Sprintf("%s@%d", n.IP, n.Interface)
}

// RouteAction is the forwarding action of a route.
type RouteAction string

const (
	RouteActionDrop     RouteAction = "drop"
	RouteActionToCPU    RouteAction = "to_cpu"
	RouteActionNextHops RouteAction = "nexthops"
)

// RouteKey identifies a route within a router.
type RouteKey struct {
	Router RouterID
	Prefix netip.Prefix
}

func (k RouteKey) String() string {
	return fmt.Sprintf("%d:%s", k.Router, k.Prefix)
}

// Route is an intended route. Connected routes forward directly out of
// the interface named by their single next hop.
type Route struct {
	Router    RouterID
	Prefix    netip.Prefix
	Action    RouteAction
	NextHops  []NextHop
	Connected bool
	ClassID   uint32
}

// Key returns the route's identity.
func (r Route) Key() RouteKey { return RouteKey{Router: r.Router, Prefix: r.Prefix} }

// Equal reports whether r and o describe the same route.
func (r Route) Equal(o Route) bool {
	return r.Router == o.Router && r.Prefix == o.Prefix && r.Action == o.Action &&
		r.Connected == o.Connected && r.ClassID == o.ClassID &&
		slices.Equal(r.NextHops, o.NextHops)
}

// NeighborKey identifies a neighbor on an interface.
type NeighborKey struct {
	Interface InterfaceID
	IP        netip.Addr
}

func (k NeighborKey) String() string {
	return fmt.Sprintf("%s@%d", k.IP, k.Interface)
}

// Neighbor is a link-layer binding. Pending neighbors have no MAC yet
// and are not programmed.
type Neighbor struct {
	Interface InterfaceID
	IP        netip.Addr
	MAC       MacAddress
	Port      PortID
	Pending   bool
	ClassID   uint32
}

// Key returns the neighbor's identity.
func (n Neighbor) Key() NeighborKey { return NeighborKey{Interface: n.Interface, IP: n.IP} }

// Resolved reports whether the neighbor can be programmed.
func (n Neighbor) Resolved() bool { return !n.Pending && !n.MAC.IsZero() }

// MirrorType selects a mirror session's encapsulation.
type MirrorType string

const (
	MirrorLocal  MirrorType = "local"
	MirrorERSPAN MirrorType = "erspan"
)

// Mirror is a mirror session. ERSPAN mirrors tunnel to DstIP.
type Mirror struct {
	Name   string
	Type   MirrorType
	Port   PortID
	SrcIP  netip.Addr
	DstIP  netip.Addr
	SrcMAC MacAddress
	DstMAC MacAddress
	TOS    uint8
	TTL    uint8
}

// SwitchState is the complete intended state applied to one switch.
type SwitchState struct {
	Ports      map[PortID]Port
	Vlans      map[VlanID]Vlan
	Interfaces map[InterfaceID]Interface
	Routes     map[RouteKey]Route
	Neighbors  map[NeighborKey]Neighbor
	Mirrors    map[string]Mirror
}

// NewSwitchState returns an empty state with all maps allocated.
func NewSwitchState() SwitchState {
	return SwitchState{
		Ports:      make(map[PortID]Port),
		Vlans:      make(map[VlanID]Vlan),
		Interfaces: make(map[InterfaceID]Interface),
		Routes:     make(map[RouteKey]Route),
		Neighbors:  make(map[NeighborKey]Neighbor),
		Mirrors:    make(map[string]Mirror),
	}
}

// Clone returns a copy of s that shares no maps with it. Slices held
// by entities are shared; states treat them as immutable.
func (s SwitchState) Clone() SwitchState {
	out := SwitchState{
		Ports:      maps.Clone(s.Ports),
		Vlans:      make(map[VlanID]Vlan, len(s.Vlans)),
		Interfaces: maps.Clone(s.Interfaces),
		Routes:     maps.Clone(s.Routes),
		Neighbors:  maps.Clone(s.Neighbors),
		Mirrors:    maps.Clone(s.Mirrors),
	}
	for id, v := range s.Vlans {
		v.Members = maps.Clone(v.Members)
		out.Vlans[id] = v
	}
	if out.Ports == nil {
		out.Ports = make(map[PortID]Port)
	}
	if out.Interfaces == nil {
		out.Interfaces = make(map[InterfaceID]Interface)
	}
	if out.Routes == nil {
		out.Routes = make(map[RouteKey]Route)
	}
	if out.Neighbors == nil {
		out.Neighbors = make(map[NeighborKey]Neighbor)
	}
	if out.Mirrors == nil {
		out.Mirrors = make(map[string]Mirror)
	}
	return out
}

// Validate checks references between entities of the state.
func (s SwitchState) Validate() error {
	var errs []error
	for id, v := range s.Vlans {
		for p := range v.Members {
			if _, ok := s.Ports[p]; !ok {
				errs = append(errs, fmt.Errorf("vlan %d: member port %d: %w", id, p, ErrNotFound))
			}
		}
	}
	for id, intf := range s.Interfaces {
		switch {
		case intf.Vlan != 0 && intf.Port != 0:
			errs = append(errs, fmt.Errorf("interface %d: both vlan and port set", id))
		case intf.Vlan != 0:
			if _, ok := s.Vlans[intf.Vlan]; !ok {
				errs = append(errs, fmt.Errorf("interface %d: vlan %d: %w", id, intf.Vlan, ErrNotFound))
			}
		case intf.Port != 0:
			if _, ok := s.Ports[intf.Port]; !ok {
				errs = append(errs, fmt.Errorf("interface %d: port %d: %w", id, intf.Port, ErrNotFound))
			}
		default:
			errs = append(errs, fmt.Errorf("interface %d: neither vlan nor port set", id))
		}
	}
	for k, n := range s.Neighbors {
		if _, ok := s.Interfaces[n.Interface]; !ok {
			errs = append(errs, fmt.Errorf("neighbor %s: interface %d: %w", k, n.Interface, ErrNotFound))
		}
	}
	for k, r := range s.Routes {
		if r.Action == RouteActionNextHops && len(r.NextHops) == 0 {
			errs = append(errs, fmt.Errorf("route %s: nexthops action without next hops", k))
		}
		if r.Connected && len(r.NextHops) != 1 {
			errs = append(errs, fmt.Errorf("route %s: connected route needs exactly one next hop", k))
		}
		for _, nh := range r.NextHops {
			if _, ok := s.Interfaces[nh.Interface]; !ok {
				errs = append(errs, fmt.Errorf("route %s: next hop %s: interface %d: %w", k, nh, nh.Interface, ErrNotFound))
			}
		}
	}
	for name, m := range s.Mirrors {
		if _, ok := s.Ports[m.Port]; !ok {
			errs = append(errs, fmt.Errorf("mirror %s: port %d: %w", name, m.Port, ErrNotFound))
		}
		if m.Type == MirrorERSPAN && (!m.SrcIP.IsValid() || !m.DstIP.IsValid()) {
			errs = append(errs, fmt.Errorf("mirror %s: erspan needs source and destination addresses", name))
		}
	}
	return joinSorted(errs)
}
