package manager

import (
	saiagent "github.com/frobware/go-saiagent"
)

// AppliedState rebuilds the switch state the managers hold handles
// for. After a failed batch it is the state hardware actually
// reflects, and the base of the next delta.
func (t *ManagerTable) AppliedState() saiagent.SwitchState {
	s := saiagent.NewSwitchState()
	for id, h := range t.Ports.handles {
		s.Ports[id] = h.Port
	}
	for id, h := range t.Vlans.handles {
		v := h.Vlan
		members := make(map[saiagent.PortID]bool, len(v.Members))
		for p, tagged := range v.Members {
			members[p] = tagged
		}
		v.Members = members
		s.Vlans[id] = v
	}
	for id, h := range t.RouterInterfaces.handles {
		s.Interfaces[id] = h.Interface
	}
	for k, h := range t.Routes.handles {
		s.Routes[k] = h.Route
	}
	for k, h := range t.Neighbors.handles {
		s.Neighbors[k] = h.Neighbor
	}
	for name, h := range t.Mirrors.handles {
		s.Mirrors[name] = h.Mirror
	}
	return s
}
