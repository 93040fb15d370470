// Package fake provides an in-memory sai.API. It models adapter-owned
// objects created at switch init, refuses to remove objects that are
// still referenced, and records every mutating call.
package fake

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/frobware/go-saiagent/sai"
)

// Op records one adapter call.
type Op struct {
	Op     string // "create", "remove", "set"
	Type   sai.ObjectType
	Key    string
	Attr   sai.AttrID
	Status sai.Status
}

func (o Op) String() string {
	if o.Op == "set" {
		return fmt.Sprintf("%s:%s:%d", o.Op, o.Type, o.Attr)
	}
	return fmt.Sprintf("%s:%s", o.Op, o.Type)
}

type object struct {
	key   sai.AdapterKey
	attrs map[sai.AttrID]any
	owned bool
	stats map[sai.StatID]uint64
}

type failure struct {
	op     string
	t      sai.ObjectType
	status sai.Status
	count  int
}

// Adapter is an in-memory switch. The zero value is not usable; call
// New.
type Adapter struct {
	nextID atomic.Uint64

	mu          sync.Mutex
	objects     map[sai.ObjectType]map[string]*object
	ops         []Op
	failures    []*failure
	unsupported map[sai.ObjectType]map[sai.AttrID]bool
}

var _ sai.API = (*Adapter)(nil)

// New returns an empty adapter. Creating a switch populates the
// adapter-owned default objects.
func New() *Adapter {
	a := &Adapter{
		objects:     make(map[sai.ObjectType]map[string]*object),
		unsupported: make(map[sai.ObjectType]map[sai.AttrID]bool),
	}
	a.nextID.Store(0x100)
	return a
}

// createOnly lists attributes the adapter rejects in SetAttribute.
var createOnly = map[sai.ObjectType][]sai.AttrID{
	sai.ObjectTypePort:               {sai.PortAttrHwLaneList, sai.PortAttrType},
	sai.ObjectTypeBridgePort:         {sai.BridgePortAttrType, sai.BridgePortAttrPortID},
	sai.ObjectTypeVlan:               {sai.VlanAttrVlanID},
	sai.ObjectTypeVlanMember:         {sai.VlanMemberAttrVlanID, sai.VlanMemberAttrBridgePortID},
	sai.ObjectTypeRouterInterface:    {sai.RouterInterfaceAttrVirtualRouterID, sai.RouterInterfaceAttrType, sai.RouterInterfaceAttrPortID, sai.RouterInterfaceAttrVlanID},
	sai.ObjectTypeNextHop:            {sai.NextHopAttrType, sai.NextHopAttrIP, sai.NextHopAttrRouterInterfaceID},
	sai.ObjectTypeNextHopGroup:       {sai.NextHopGroupAttrType},
	sai.ObjectTypeNextHopGroupMember: {sai.NextHopGroupMemberAttrNextHopGroupID, sai.NextHopGroupMemberAttrNextHopID},
	sai.ObjectTypeMirrorSession:      {sai.MirrorSessionAttrType},
}

// FailNext makes the next count calls of op ("create", "remove",
// "get", "set", "stats") on objects of type t return status.
func (a *Adapter) FailNext(op string, t sai.ObjectType, status sai.Status, count int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures = append(a.failures, &failure{op: op, t: t, status: status, count: count})
}

// SetUnsupported makes the capability query report attr as absent.
func (a *Adapter) SetUnsupported(t sai.ObjectType, attr sai.AttrID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unsupported[t] == nil {
		a.unsupported[t] = make(map[sai.AttrID]bool)
	}
	a.unsupported[t][attr] = true
}

func (a *Adapter) injected(op string, t sai.ObjectType) sai.Status {
	for i, f := range a.failures {
		if f.op == op && f.t == t {
			f.count--
			if f.count <= 0 {
				a.failures = slices.Delete(a.failures, i, i+1)
			}
			return f.status
		}
	}
	return sai.StatusSuccess
}

func (a *Adapter) record(op string, t sai.ObjectType, key sai.AdapterKey, attr sai.AttrID, status sai.Status) {
	k := ""
	if key != nil {
		k = key.String()
	}
	a.ops = append(a.ops, Op{Op: op, Type: t, Key: k, Attr: attr, Status: status})
}

func (a *Adapter) table(t sai.ObjectType) map[string]*object {
	m := a.objects[t]
	if m == nil {
		m = make(map[string]*object)
		a.objects[t] = m
	}
	return m
}

func (a *Adapter) allocate(t sai.ObjectType) sai.ObjectID {
	return sai.ObjectID(uint64(t)<<48 | a.nextID.Add(1))
}

func toMap(attrs sai.AttributeList) map[sai.AttrID]any {
	m := make(map[sai.AttrID]any, len(attrs))
	for _, attr := range attrs {
		m[attr.ID] = attr.Value
	}
	return m
}

// Create implements sai.API.
func (a *Adapter) Create(_ context.Context, t sai.ObjectType, switchID sai.ObjectID, attrs sai.AttributeList) (sai.ObjectID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t.IsEntry() {
		return sai.NullObjectID, sai.NewError("create", t, sai.StatusInvalidParameter)
	}
	if status := a.injected("create", t); status != sai.StatusSuccess {
		a.record("create", t, nil, 0, status)
		return sai.NullObjectID, sai.NewError("create", t, status)
	}
	if t == sai.ObjectTypeSwitch {
		if warm, _ := sai.Value[bool](attrs, sai.SwitchAttrRestartWarm); warm {
			return a.reattachSwitch()
		}
	} else {
		if _, ok := a.table(sai.ObjectTypeSwitch)[switchID.String()]; !ok {
			a.record("create", t, nil, 0, sai.StatusInvalidParameter)
			return sai.NullObjectID, sai.NewError("create", t, sai.StatusInvalidParameter)
		}
	}
	if status := a.checkReferences(attrs); status != sai.StatusSuccess {
		a.record("create", t, nil, 0, status)
		return sai.NullObjectID, sai.NewError("create", t, status)
	}
	if status := a.checkUnique(t, attrs); status != sai.StatusSuccess {
		a.record("create", t, nil, 0, status)
		return sai.NullObjectID, sai.NewError("create", t, status)
	}
	id := a.allocate(t)
	a.table(t)[id.String()] = &object{key: id, attrs: toMap(attrs)}
	a.record("create", t, id, 0, sai.StatusSuccess)
	if t == sai.ObjectTypeSwitch {
		a.initSwitch(id)
	}
	return id, nil
}

// reattachSwitch returns the existing switch, as an adapter restarted
// warm does. The caller holds a.mu.
func (a *Adapter) reattachSwitch() (sai.ObjectID, error) {
	switches := slices.SortedFunc(maps.Values(a.table(sai.ObjectTypeSwitch)), func(x, y *object) int {
		return cmp.Compare(x.key.(sai.ObjectID), y.key.(sai.ObjectID))
	})
	if len(switches) == 0 {
		a.record("create", sai.ObjectTypeSwitch, nil, 0, sai.StatusFailure)
		return sai.NullObjectID, sai.NewError("create", sai.ObjectTypeSwitch, sai.StatusFailure)
	}
	id := switches[0].key.(sai.ObjectID)
	a.record("create", sai.ObjectTypeSwitch, id, 0, sai.StatusSuccess)
	return id, nil
}

// initSwitch creates the objects a real adapter owns from switch init.
func (a *Adapter) initSwitch(sw sai.ObjectID) {
	owned := func(t sai.ObjectType, attrs map[sai.AttrID]any) sai.ObjectID {
		id := a.allocate(t)
		a.table(t)[id.String()] = &object{key: id, attrs: attrs, owned: true}
		return id
	}
	vr := owned(sai.ObjectTypeVirtualRouter, map[sai.AttrID]any{})
	bridge := owned(sai.ObjectTypeBridge, map[sai.AttrID]any{sai.BridgeAttrType: int32(0)})
	vlan := owned(sai.ObjectTypeVlan, map[sai.AttrID]any{sai.VlanAttrVlanID: uint16(1)})
	cpu := owned(sai.ObjectTypePort, map[sai.AttrID]any{
		sai.PortAttrType:       sai.PortTypeCPU,
		sai.PortAttrHwLaneList: sai.U32List{},
	})
	attrs := a.table(sai.ObjectTypeSwitch)[sw.String()].attrs
	attrs[sai.SwitchAttrDefaultVirtualRouterID] = vr
	attrs[sai.SwitchAttrDefault1QBridgeID] = bridge
	attrs[sai.SwitchAttrDefaultVlanID] = vlan
	attrs[sai.SwitchAttrCPUPort] = cpu
	if _, ok := attrs[sai.SwitchAttrEcmpMaxWidth]; !ok {
		attrs[sai.SwitchAttrEcmpMaxWidth] = uint32(128)
	}
}

// checkReferences verifies that every object id in attrs is live.
func (a *Adapter) checkReferences(attrs sai.AttributeList) sai.Status {
	for _, attr := range attrs {
		for _, id := range sai.References(attr.Value) {
			if !a.exists(id) {
				return sai.StatusInvalidParameter
			}
		}
	}
	return sai.StatusSuccess
}

// checkUnique rejects a second port on the same lanes, which real
// adapters refuse.
func (a *Adapter) checkUnique(t sai.ObjectType, attrs sai.AttributeList) sai.Status {
	if t != sai.ObjectTypePort {
		return sai.StatusSuccess
	}
	lanes, _ := attrs.Get(sai.PortAttrHwLaneList)
	for _, o := range a.table(t) {
		if sai.ValuesEqual(o.attrs[sai.PortAttrHwLaneList], lanes) {
			return sai.StatusItemAlreadyExists
		}
	}
	return sai.StatusSuccess
}

func (a *Adapter) exists(id sai.ObjectID) bool {
	for _, table := range a.objects {
		if _, ok := table[id.String()]; ok {
			return true
		}
	}
	return false
}

// CreateEntry implements sai.API.
func (a *Adapter) CreateEntry(_ context.Context, t sai.ObjectType, key sai.AdapterKey, attrs sai.AttributeList) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if status := a.injected("create", t); status != sai.StatusSuccess {
		a.record("create", t, key, 0, status)
		return sai.NewError("create", t, status)
	}
	var deps []sai.ObjectID
	switch k := key.(type) {
	case sai.RouteEntry:
		deps = []sai.ObjectID{k.Switch, k.VirtualRouter}
	case sai.NeighborEntry:
		deps = []sai.ObjectID{k.Switch, k.RouterInterface}
	default:
		return sai.NewError("create", t, sai.StatusInvalidParameter)
	}
	for _, id := range deps {
		if !a.exists(id) {
			a.record("create", t, key, 0, sai.StatusInvalidParameter)
			return sai.NewError("create", t, sai.StatusInvalidParameter)
		}
	}
	if status := a.checkReferences(attrs); status != sai.StatusSuccess {
		a.record("create", t, key, 0, status)
		return sai.NewError("create", t, status)
	}
	table := a.table(t)
	if _, ok := table[key.String()]; ok {
		a.record("create", t, key, 0, sai.StatusItemAlreadyExists)
		return sai.NewError("create", t, sai.StatusItemAlreadyExists)
	}
	table[key.String()] = &object{key: key, attrs: toMap(attrs)}
	a.record("create", t, key, 0, sai.StatusSuccess)
	return nil
}

// referenced reports whether any live object refers to id.
func (a *Adapter) referenced(id sai.ObjectID) bool {
	for _, table := range a.objects {
		for _, o := range table {
			for _, v := range o.attrs {
				if slices.Contains(sai.References(v), id) {
					return true
				}
			}
			switch k := o.key.(type) {
			case sai.RouteEntry:
				if k.VirtualRouter == id {
					return true
				}
			case sai.NeighborEntry:
				if k.RouterInterface == id {
					return true
				}
			}
		}
	}
	return false
}

// Remove implements sai.API.
func (a *Adapter) Remove(_ context.Context, t sai.ObjectType, key sai.AdapterKey) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if status := a.injected("remove", t); status != sai.StatusSuccess {
		a.record("remove", t, key, 0, status)
		return sai.NewError("remove", t, status)
	}
	table := a.table(t)
	o, ok := table[key.String()]
	if !ok {
		a.record("remove", t, key, 0, sai.StatusItemNotFound)
		return sai.NewError("remove", t, sai.StatusItemNotFound)
	}
	if o.owned {
		a.record("remove", t, key, 0, sai.StatusInvalidParameter)
		return sai.NewError("remove", t, sai.StatusInvalidParameter)
	}
	if id, isID := key.(sai.ObjectID); isID && a.referenced(id) {
		a.record("remove", t, key, 0, sai.StatusObjectInUse)
		return sai.NewError("remove", t, sai.StatusObjectInUse)
	}
	delete(table, key.String())
	a.record("remove", t, key, 0, sai.StatusSuccess)
	return nil
}

func (a *Adapter) lookup(t sai.ObjectType, key sai.AdapterKey) (*object, bool) {
	o, ok := a.table(t)[key.String()]
	return o, ok
}

// GetAttributes implements sai.API. Attributes that are not set are
// omitted from the result.
func (a *Adapter) GetAttributes(_ context.Context, t sai.ObjectType, key sai.AdapterKey, ids ...sai.AttrID) (sai.AttributeList, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if status := a.injected("get", t); status != sai.StatusSuccess {
		return nil, sai.NewError("get", t, status)
	}
	o, ok := a.lookup(t, key)
	if !ok {
		return nil, sai.NewError("get", t, sai.StatusItemNotFound)
	}
	if len(ids) == 0 {
		ids = slices.Sorted(maps.Keys(o.attrs))
	}
	var out sai.AttributeList
	for _, id := range ids {
		if v, ok := o.attrs[id]; ok {
			out = append(out, sai.Attribute{ID: id, Value: v})
		}
	}
	return out, nil
}

// SetAttribute implements sai.API.
func (a *Adapter) SetAttribute(_ context.Context, t sai.ObjectType, key sai.AdapterKey, attr sai.Attribute) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	status := a.setAttribute(t, key, attr)
	a.record("set", t, key, attr.ID, status)
	return sai.NewError("set", t, status)
}

func (a *Adapter) setAttribute(t sai.ObjectType, key sai.AdapterKey, attr sai.Attribute) sai.Status {
	if status := a.injected("set", t); status != sai.StatusSuccess {
		return status
	}
	if a.unsupported[t][attr.ID] {
		return sai.StatusNotSupported
	}
	if slices.Contains(createOnly[t], attr.ID) {
		return sai.StatusInvalidAttribute
	}
	o, ok := a.lookup(t, key)
	if !ok {
		return sai.StatusItemNotFound
	}
	if status := a.checkReferences(sai.AttributeList{attr}); status != sai.StatusSuccess {
		return status
	}
	o.attrs[attr.ID] = attr.Value
	return sai.StatusSuccess
}

// ObjectKeys implements sai.API. Keys are returned in a stable order.
func (a *Adapter) ObjectKeys(_ context.Context, t sai.ObjectType, switchID sai.ObjectID) ([]sai.AdapterKey, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if status := a.injected("keys", t); status != sai.StatusSuccess {
		return nil, sai.NewError("keys", t, status)
	}
	if _, ok := a.table(sai.ObjectTypeSwitch)[switchID.String()]; !ok && t != sai.ObjectTypeSwitch {
		return nil, sai.NewError("keys", t, sai.StatusInvalidParameter)
	}
	var keys []sai.AdapterKey
	for _, o := range a.table(t) {
		keys = append(keys, o.key)
	}
	slices.SortFunc(keys, func(x, y sai.AdapterKey) int { return cmp.Compare(x.String(), y.String()) })
	return keys, nil
}

// GetStats implements sai.API. Counters start at zero and are advanced
// with AddStats.
func (a *Adapter) GetStats(_ context.Context, t sai.ObjectType, key sai.AdapterKey, ids ...sai.StatID) ([]uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if status := a.injected("stats", t); status != sai.StatusSuccess {
		return nil, sai.NewError("stats", t, status)
	}
	o, ok := a.lookup(t, key)
	if !ok {
		return nil, sai.NewError("stats", t, sai.StatusItemNotFound)
	}
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = o.stats[id]
	}
	return out, nil
}

// IsAttributeSupported implements sai.API.
func (a *Adapter) IsAttributeSupported(t sai.ObjectType, id sai.AttrID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.unsupported[t][id]
}

// AddStats advances a counter of a live object.
func (a *Adapter) AddStats(t sai.ObjectType, key sai.AdapterKey, id sai.StatID, delta uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.lookup(t, key)
	if !ok {
		return
	}
	if o.stats == nil {
		o.stats = make(map[sai.StatID]uint64)
	}
	o.stats[id] += delta
}

// Operations returns a copy of the recorded calls.
func (a *Adapter) Operations() []Op {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.ops)
}

// ResetOperations clears the call log.
func (a *Adapter) ResetOperations() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ops = nil
}

// Count returns the number of successful calls of op on type t.
func (a *Adapter) Count(op string, t sai.ObjectType) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, o := range a.ops {
		if o.Op == op && o.Type == t && o.Status == sai.StatusSuccess {
			n++
		}
	}
	return n
}

// Len returns the number of live objects of type t, excluding
// adapter-owned ones.
func (a *Adapter) Len(t sai.ObjectType) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, o := range a.objects[t] {
		if !o.owned {
			n++
		}
	}
	return n
}

// Exists reports whether key is live.
func (a *Adapter) Exists(t sai.ObjectType, key sai.AdapterKey) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.lookup(t, key)
	return ok
}

// Attribute returns the current value of one attribute.
func (a *Adapter) Attribute(t sai.ObjectType, key sai.AdapterKey, id sai.AttrID) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.lookup(t, key)
	if !ok {
		return nil, false
	}
	v, ok := o.attrs[id]
	return v, ok
}

// Find returns the keys of objects of type t whose attribute id equals
// v.
func (a *Adapter) Find(t sai.ObjectType, id sai.AttrID, v any) []sai.AdapterKey {
	a.mu.Lock()
	defer a.mu.Unlock()
	var keys []sai.AdapterKey
	for _, o := range a.objects[t] {
		if sai.ValuesEqual(o.attrs[id], v) {
			keys = append(keys, o.key)
		}
	}
	slices.SortFunc(keys, func(x, y sai.AdapterKey) int { return cmp.Compare(x.String(), y.String()) })
	return keys
}
