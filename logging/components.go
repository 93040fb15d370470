package logging

import (
	"slices"
	"strings"
)

// Components names every component the agent logs under. A spec may
// name any of them or a dotted prefix such as "manager".
var Components = []string{
	"hwswitch",
	"manager.mirror",
	"manager.neighbor",
	"manager.nexthopgroup",
	"manager.port",
	"manager.route",
	"manager.routerinterface",
	"manager.scheduler",
	"manager.switch",
	"manager.vlan",
	"server",
	"statestore",
	"store",
}

// knownComponent reports whether name is a component or a dotted
// prefix of one.
func knownComponent(name string) bool {
	for _, c := range Components {
		if c == name || strings.HasPrefix(c, name+".") {
			return true
		}
	}
	return false
}

// UnknownComponents returns the overrides in s that name no component,
// sorted. They are usually typos and would otherwise be silently
// ignored.
func (s *Spec) UnknownComponents() []string {
	var unknown []string
	for name := range s.Components {
		if !knownComponent(name) {
			unknown = append(unknown, name)
		}
	}
	slices.Sort(unknown)
	return unknown
}
