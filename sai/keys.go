package sai

import (
	"encoding/json"
	"fmt"
	"net/netip"
)

// AdapterKey is the hardware handle of one live object: an ObjectID
// for most types, a RouteEntry or NeighborEntry for entry types.
type AdapterKey interface {
	fmt.Stringer
	adapterKey()
}

// RouteEntry addresses a route in the hardware route table.
type RouteEntry struct {
	Switch        ObjectID
	VirtualRouter ObjectID
	Prefix        netip.Prefix
}

func (RouteEntry) adapterKey() {}

func (e RouteEntry) String() string {
	return fmt.Sprintf("route(%s,%s,%s)", e.Switch, e.VirtualRouter, e.Prefix)
}

// NeighborEntry addresses a neighbor in the hardware neighbor table.
type NeighborEntry struct {
	Switch          ObjectID
	RouterInterface ObjectID
	IP              netip.Addr
}

func (NeighborEntry) adapterKey() {}

func (e NeighborEntry) String() string {
	return fmt.Sprintf("neighbor(%s,%s,%s)", e.Switch, e.RouterInterface, e.IP)
}

type objectIDJSON struct {
	AdapterKey uint64 `json:"adapterkey"`
}

type routeEntryJSON struct {
	Switch        uint64 `json:"switch"`
	VirtualRouter uint64 `json:"virtualRouter"`
	Prefix        string `json:"prefix"`
}

type neighborEntryJSON struct {
	Switch          uint64 `json:"switch"`
	RouterInterface uint64 `json:"routerInterface"`
	IP              string `json:"ip"`
}

// MarshalAdapterKey serialises an adapter key for the warm boot
// document. Object ids become {"adapterkey": <int>}.
func MarshalAdapterKey(k AdapterKey) (json.RawMessage, error) {
	switch k := k.(type) {
	case ObjectID:
		return json.Marshal(objectIDJSON{AdapterKey: uint64(k)})
	case RouteEntry:
		return json.Marshal(routeEntryJSON{
			Switch:        uint64(k.Switch),
			VirtualRouter: uint64(k.VirtualRouter),
			Prefix:        k.Prefix.String(),
		})
	case NeighborEntry:
		return json.Marshal(neighborEntryJSON{
			Switch:          uint64(k.Switch),
			RouterInterface: uint64(k.RouterInterface),
			IP:              k.IP.String(),
		})
	}
	return nil, fmt.Errorf("unknown adapter key type %T", k)
}

// UnmarshalAdapterKey parses a key written by MarshalAdapterKey for an
// object of type t.
func UnmarshalAdapterKey(t ObjectType, raw json.RawMessage) (AdapterKey, error) {
	switch t {
	case ObjectTypeRouteEntry:
		var v routeEntryJSON
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode route entry: %w", err)
		}
		p, err := netip.ParsePrefix(v.Prefix)
		if err != nil {
			return nil, fmt.Errorf("decode route entry: %w", err)
		}
		return RouteEntry{Switch: ObjectID(v.Switch), VirtualRouter: ObjectID(v.VirtualRouter), Prefix: p}, nil
	case ObjectTypeNeighborEntry:
		var v neighborEntryJSON
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode neighbor entry: %w", err)
		}
		ip, err := netip.ParseAddr(v.IP)
		if err != nil {
			return nil, fmt.Errorf("decode neighbor entry: %w", err)
		}
		return NeighborEntry{Switch: ObjectID(v.Switch), RouterInterface: ObjectID(v.RouterInterface), IP: ip}, nil
	default:
		var v objectIDJSON
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s adapter key: %w", t, err)
		}
		return ObjectID(v.AdapterKey), nil
	}
}
