// Package statefile reads the intended switch state from a TOML file
// and watches the file for changes.
//
// The file is a list of tables, one per entity:
//
//	[[port]]
//	id = 1
//	name = "eth1"
//	lanes = [0, 1, 2, 3]
//	speed_mbps = 100000
//	fec = "rs528"
//	admin_up = true
//
//	[[interface]]
//	id = 1
//	port = 1
//	mac = "02:00:00:00:00:01"
//	addresses = ["10.0.1.1/24"]
//
//	[[route]]
//	prefix = "192.168.0.0/16"
//	action = "nexthops"
//	nexthops = [{ interface = 1, ip = "10.0.1.2" }]
//
// Neighbors without a mac are pending.
package statefile

import (
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	saiagent "github.com/frobware/go-saiagent"
)

type file struct {
	Ports      []portEntry      `toml:"port"`
	Vlans      []vlanEntry      `toml:"vlan"`
	Interfaces []interfaceEntry `toml:"interface"`
	Neighbors  []neighborEntry  `toml:"neighbor"`
	Routes     []routeEntry     `toml:"route"`
	Mirrors    []mirrorEntry    `toml:"mirror"`
}

type schedulerEntry struct {
	Type        string `toml:"type"`
	Weight      uint8  `toml:"weight"`
	MinRateKbps uint64 `toml:"min_rate_kbps"`
	MaxRateKbps uint64 `toml:"max_rate_kbps"`
}

type portEntry struct {
	ID            uint32          `toml:"id"`
	Name          string          `toml:"name"`
	Lanes         []uint32        `toml:"lanes"`
	Group         uint32          `toml:"group"`
	SpeedMbps     uint32          `toml:"speed_mbps"`
	FEC           string          `toml:"fec"`
	AdminUp       bool            `toml:"admin_up"`
	MTU           uint32          `toml:"mtu"`
	IngressVlan   uint16          `toml:"ingress_vlan"`
	IngressMirror string          `toml:"ingress_mirror"`
	EgressMirror  string          `toml:"egress_mirror"`
	Scheduler     *schedulerEntry `toml:"scheduler"`
}

type vlanEntry struct {
	ID       uint16   `toml:"id"`
	Name     string   `toml:"name"`
	Tagged   []uint32 `toml:"tagged"`
	Untagged []uint32 `toml:"untagged"`
}

type interfaceEntry struct {
	ID        uint32         `toml:"id"`
	Router    uint32         `toml:"router"`
	Vlan      uint16         `toml:"vlan"`
	Port      uint32         `toml:"port"`
	MAC       string         `toml:"mac"`
	MTU       uint32         `toml:"mtu"`
	Addresses []netip.Prefix `toml:"addresses"`
}

type neighborEntry struct {
	Interface uint32     `toml:"interface"`
	IP        netip.Addr `toml:"ip"`
	MAC       string     `toml:"mac"`
	Port      uint32     `toml:"port"`
	ClassID   uint32     `toml:"class_id"`
}

type nextHopEntry struct {
	Interface uint32     `toml:"interface"`
	IP        netip.Addr `toml:"ip"`
	Weight    uint32     `toml:"weight"`
}

type routeEntry struct {
	Router    uint32         `toml:"router"`
	Prefix    netip.Prefix   `toml:"prefix"`
	Action    string         `toml:"action"`
	NextHops  []nextHopEntry `toml:"nexthops"`
	Connected bool           `toml:"connected"`
	ClassID   uint32         `toml:"class_id"`
}

type mirrorEntry struct {
	Name   string     `toml:"name"`
	Type   string     `toml:"type"`
	Port   uint32     `toml:"port"`
	SrcIP  netip.Addr `toml:"src_ip"`
	DstIP  netip.Addr `toml:"dst_ip"`
	SrcMAC string     `toml:"src_mac"`
	DstMAC string     `toml:"dst_mac"`
	TOS    uint8      `toml:"tos"`
	TTL    uint8      `toml:"ttl"`
}

// Load reads and validates the state file at path.
func Load(path string) (saiagent.SwitchState, error) {
	var f file
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return saiagent.SwitchState{}, fmt.Errorf("state file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return saiagent.SwitchState{}, fmt.Errorf("state file %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	s, err := f.state()
	if err != nil {
		return saiagent.SwitchState{}, fmt.Errorf("state file %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates state from TOML text.
func Parse(data string) (saiagent.SwitchState, error) {
	var f file
	if _, err := toml.Decode(data, &f); err != nil {
		return saiagent.SwitchState{}, err
	}
	return f.state()
}

func parseMAC(s string) (saiagent.MacAddress, error) {
	if s == "" {
		return saiagent.MacAddress{}, nil
	}
	return saiagent.ParseMAC(s)
}

func (f *file) state() (saiagent.SwitchState, error) {
	s := saiagent.NewSwitchState()
	var errs []error
	dup := func(kind string, key any) {
		errs = append(errs, fmt.Errorf("%s %v: %w", kind, key, saiagent.ErrAlreadyExists))
	}

	for _, e := range f.Ports {
		id := saiagent.PortID(e.ID)
		if _, ok := s.Ports[id]; ok {
			dup("port", id)
			continue
		}
		fec, err := saiagent.ParseFEC(e.FEC)
		if err != nil {
			errs = append(errs, fmt.Errorf("port %d: %w", id, err))
			continue
		}
		p := saiagent.Port{
			ID:            id,
			Name:          e.Name,
			Lanes:         e.Lanes,
			Group:         e.Group,
			SpeedMbps:     e.SpeedMbps,
			FEC:           fec,
			AdminUp:       e.AdminUp,
			MTU:           e.MTU,
			IngressVlan:   saiagent.VlanID(e.IngressVlan),
			IngressMirror: e.IngressMirror,
			EgressMirror:  e.EgressMirror,
		}
		if sc := e.Scheduler; sc != nil {
			p.Scheduler = &saiagent.SchedulerSettings{
				Type:        saiagent.SchedulerType(sc.Type),
				Weight:      sc.Weight,
				MinRateKbps: sc.MinRateKbps,
				MaxRateKbps: sc.MaxRateKbps,
			}
		}
		s.Ports[id] = p
	}

	for _, e := range f.Vlans {
		id := saiagent.VlanID(e.ID)
		if _, ok := s.Vlans[id]; ok {
			dup("vlan", id)
			continue
		}
		v := saiagent.Vlan{ID: id, Name: e.Name, Members: make(map[saiagent.PortID]bool)}
		for _, p := range e.Tagged {
			v.Members[saiagent.PortID(p)] = true
		}
		for _, p := range e.Untagged {
			if _, ok := v.Members[saiagent.PortID(p)]; ok {
				errs = append(errs, fmt.Errorf("vlan %d: port %d is both tagged and untagged", id, p))
			}
			v.Members[saiagent.PortID(p)] = false
		}
		s.Vlans[id] = v
	}

	for _, e := range f.Interfaces {
		id := saiagent.InterfaceID(e.ID)
		if _, ok := s.Interfaces[id]; ok {
			dup("interface", id)
			continue
		}
		mac, err := parseMAC(e.MAC)
		if err != nil {
			errs = append(errs, fmt.Errorf("interface %d: %w", id, err))
			continue
		}
		s.Interfaces[id] = saiagent.Interface{
			ID:        id,
			Router:    saiagent.RouterID(e.Router),
			Vlan:      saiagent.VlanID(e.Vlan),
			Port:      saiagent.PortID(e.Port),
			MAC:       mac,
			MTU:       e.MTU,
			Addresses: e.Addresses,
		}
	}

	for _, e := range f.Neighbors {
		mac, err := parseMAC(e.MAC)
		if err != nil {
			errs = append(errs, fmt.Errorf("neighbor %s: %w", e.IP, err))
			continue
		}
		n := saiagent.Neighbor{
			Interface: saiagent.InterfaceID(e.Interface),
			IP:        e.IP,
			MAC:       mac,
			Port:      saiagent.PortID(e.Port),
			Pending:   mac.IsZero(),
			ClassID:   e.ClassID,
		}
		if _, ok := s.Neighbors[n.Key()]; ok {
			dup("neighbor", n.Key())
			continue
		}
		s.Neighbors[n.Key()] = n
	}

	for _, e := range f.Routes {
		action := saiagent.RouteAction(e.Action)
		if action == "" {
			action = saiagent.RouteActionNextHops
		}
		switch action {
		case saiagent.RouteActionDrop, saiagent.RouteActionToCPU, saiagent.RouteActionNextHops:
		default:
			errs = append(errs, fmt.Errorf("route %s: unknown action %q", e.Prefix, e.Action))
			continue
		}
		r := saiagent.Route{
			Router:    saiagent.RouterID(e.Router),
			Prefix:    e.Prefix.Masked(),
			Action:    action,
			Connected: e.Connected,
			ClassID:   e.ClassID,
		}
		for _, nh := range e.NextHops {
			r.NextHops = append(r.NextHops, saiagent.NextHop{
				Interface: saiagent.InterfaceID(nh.Interface),
				IP:        nh.IP,
				Weight:    nh.Weight,
			})
		}
		if _, ok := s.Routes[r.Key()]; ok {
			dup("route", r.Key())
			continue
		}
		s.Routes[r.Key()] = r
	}

	for _, e := range f.Mirrors {
		if _, ok := s.Mirrors[e.Name]; ok {
			dup("mirror", e.Name)
			continue
		}
		srcMAC, err := parseMAC(e.SrcMAC)
		if err != nil {
			errs = append(errs, fmt.Errorf("mirror %s: %w", e.Name, err))
			continue
		}
		dstMAC, err := parseMAC(e.DstMAC)
		if err != nil {
			errs = append(errs, fmt.Errorf("mirror %s: %w", e.Name, err))
			continue
		}
		typ := saiagent.MirrorType(e.Type)
		if typ == "" {
			typ = saiagent.MirrorLocal
		}
		s.Mirrors[e.Name] = saiagent.Mirror{
			Name:   e.Name,
			Type:   typ,
			Port:   saiagent.PortID(e.Port),
			SrcIP:  e.SrcIP,
			DstIP:  e.DstIP,
			SrcMAC: srcMAC,
			DstMAC: dstMAC,
			TOS:    e.TOS,
			TTL:    e.TTL,
		}
	}

	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
		return saiagent.SwitchState{}, errors.Join(errs...)
	}
	if err := s.Validate(); err != nil {
		return saiagent.SwitchState{}, err
	}
	return s, nil
}
