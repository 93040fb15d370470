// Package sai describes the consumed hardware abstraction interface:
// object types, adapter keys, attributes and status codes.
package sai

import (
	"fmt"
	"strconv"
)

// ObjectType is the closed set of hardware object kinds the agent
// programs.
type ObjectType int

const (
	ObjectTypeNull ObjectType = iota
	ObjectTypeSwitch
	ObjectTypePort
	ObjectTypeVirtualRouter
	ObjectTypeBridge
	ObjectTypeBridgePort
	ObjectTypeVlan
	ObjectTypeVlanMember
	ObjectTypeRouterInterface
	ObjectTypeNextHop
	ObjectTypeNextHopGroup
	ObjectTypeNextHopGroupMember
	ObjectTypeNeighborEntry
	ObjectTypeRouteEntry
	ObjectTypeMirrorSession
	ObjectTypeScheduler
)

var objectTypeNames = map[ObjectType]string{
	ObjectTypeSwitch:             "switch",
	ObjectTypePort:               "port",
	ObjectTypeVirtualRouter:      "virtual-router",
	ObjectTypeBridge:             "bridge",
	ObjectTypeBridgePort:         "bridge-port",
	ObjectTypeVlan:               "vlan",
	ObjectTypeVlanMember:         "vlan-member",
	ObjectTypeRouterInterface:    "router-interface",
	ObjectTypeNextHop:            "next-hop",
	ObjectTypeNextHopGroup:       "next-hop-group",
	ObjectTypeNextHopGroupMember: "next-hop-group-member",
	ObjectTypeNeighborEntry:      "neighbor-entry",
	ObjectTypeRouteEntry:         "route-entry",
	ObjectTypeMirrorSession:      "mirror-session",
	ObjectTypeScheduler:          "scheduler",
}

// String returns the name used in logs and the warm boot document.
func (t ObjectType) String() string {
	if s, ok := objectTypeNames[t]; ok {
		return s
	}
	return "null"
}

// ParseObjectType is the inverse of String.
func ParseObjectType(s string) (ObjectType, error) {
	for t, name := range objectTypeNames {
		if name == s {
			return t, nil
		}
	}
	return ObjectTypeNull, fmt.Errorf("unknown object type %q", s)
}

// IsEntry reports whether objects of this type are addressed by a
// composite entry key rather than an object id.
func (t ObjectType) IsEntry() bool {
	return t == ObjectTypeRouteEntry || t == ObjectTypeNeighborEntry
}

// MarshalText implements encoding.TextMarshaler.
func (t ObjectType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ObjectType) UnmarshalText(b []byte) error {
	v, err := ParseObjectType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ObjectID is an adapter-assigned object handle. The zero value is the
// null object.
type ObjectID uint64

// NullObjectID refers to no object.
const NullObjectID ObjectID = 0

func (id ObjectID) String() string {
	return "0x" + strconv.FormatUint(uint64(id), 16)
}

// IsNull reports whether id is the null object.
func (id ObjectID) IsNull() bool { return id == NullObjectID }

func (ObjectID) adapterKey() {}
