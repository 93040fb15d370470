package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frobware/go-saiagent/sai"
)

// Object is the proxy of one live hardware object. It caches the last
// programmed attributes so that updates only touch what changed.
type Object[H comparable, A any] struct {
	kind   *Kind[H, A]
	api    sai.API
	logger *slog.Logger

	adapterKey sai.AdapterKey
	hostKey    H
	attrs      A
	attrList   sai.AttributeList

	// released objects are never removed from hardware: adapter
	// owned singletons and objects handed to the next process.
	released       bool
	ownedByAdapter bool

	stats map[sai.StatID]uint64
}

func createObject[H comparable, A any](ctx context.Context, kind *Kind[H, A], api sai.API, logger *slog.Logger, switchID sai.ObjectID, h H, a A) (*Object[H, A], error) {
	list := kind.Encode(a)
	var key sai.AdapterKey
	if kind.EntryKey != nil {
		key = kind.EntryKey(switchID, h)
		if err := api.CreateEntry(ctx, kind.Type, key, list); err != nil {
			return nil, fmt.Errorf("create %s %v: %w", kind.Type, h, err)
		}
	} else {
		id, err := api.Create(ctx, kind.Type, switchID, list)
		if err != nil {
			return nil, fmt.Errorf("create %s %v: %w", kind.Type, h, err)
		}
		key = id
	}
	logger.Debug("created object", "type", kind.Type, "adapter_key", key, "host_key", h)
	return &Object[H, A]{
		kind:       kind,
		api:        api,
		logger:     logger,
		adapterKey: key,
		hostKey:    h,
		attrs:      a,
		attrList:   list,
	}, nil
}

// loadObject builds a proxy for an object that already exists in
// hardware. The host key comes from the hardware attributes or, when
// hostKey is non-nil, from the persisted side table.
func loadObject[H comparable, A any](ctx context.Context, kind *Kind[H, A], api sai.API, logger *slog.Logger, key sai.AdapterKey, hostKey *H) (*Object[H, A], error) {
	list, err := api.GetAttributes(ctx, kind.Type, key, kind.AttrIDs...)
	if err != nil {
		return nil, fmt.Errorf("reload %s %s: %w", kind.Type, key, err)
	}
	a, err := kind.Decode(list)
	if err != nil {
		return nil, fmt.Errorf("reload %s %s: %w", kind.Type, key, err)
	}
	var h H
	switch {
	case hostKey != nil:
		h = *hostKey
	case kind.HostKey != nil:
		if h, err = kind.HostKey(key, a); err != nil {
			return nil, fmt.Errorf("reload %s %s: %w", kind.Type, key, err)
		}
	default:
		return nil, fmt.Errorf("reload %s %s: host key is not derivable and none was persisted", kind.Type, key)
	}
	return &Object[H, A]{
		kind:       kind,
		api:        api,
		logger:     logger,
		adapterKey: key,
		hostKey:    h,
		attrs:      a,
		attrList:   kind.Encode(a),
	}, nil
}

// AdapterKey returns the hardware handle.
func (o *Object[H, A]) AdapterKey() sai.AdapterKey { return o.adapterKey }

// ID returns the hardware handle of an id-addressed object, or the
// null object for entries.
func (o *Object[H, A]) ID() sai.ObjectID {
	id, _ := o.adapterKey.(sai.ObjectID)
	return id
}

// HostKey returns the logical identity.
func (o *Object[H, A]) HostKey() H { return o.hostKey }

// Attributes returns the cached attributes.
func (o *Object[H, A]) Attributes() A { return o.attrs }

// OwnedByAdapter reports whether the object was loaded rather than
// created.
func (o *Object[H, A]) OwnedByAdapter() bool { return o.ownedByAdapter }

// SetAttributes programs the difference between the cached and the
// desired attributes. Attributes that clear a reference are applied
// first so that a referenced object is never in use when its owner
// releases it. Create-only attributes cannot change.
func (o *Object[H, A]) SetAttributes(ctx context.Context, a A) error {
	desired := o.kind.Encode(a)
	var clears, sets sai.AttributeList
	for _, attr := range desired {
		cur, ok := o.attrList.Get(attr.ID)
		if ok && sai.ValuesEqual(cur, attr.Value) {
			continue
		}
		if !ok && isDefault(o.kind, attr) {
			continue
		}
		if o.kind.isCreateOnly(attr.ID) {
			return fmt.Errorf("%s %s: create-only attribute %d changed", o.kind.Type, o.adapterKey, attr.ID)
		}
		if sai.IsNullValue(attr.Value) {
			clears = append(clears, attr)
		} else {
			sets = append(sets, attr)
		}
	}
	for _, attr := range o.attrList {
		if _, ok := desired.Get(attr.ID); ok {
			continue
		}
		def, ok := o.kind.Defaults[attr.ID]
		if !ok {
			return fmt.Errorf("%s %s: attribute %d cannot be reset: no default", o.kind.Type, o.adapterKey, attr.ID)
		}
		if sai.ValuesEqual(attr.Value, def) {
			continue
		}
		if sai.IsNullValue(def) {
			clears = append(clears, sai.Attribute{ID: attr.ID, Value: def})
		} else {
			sets = append(sets, sai.Attribute{ID: attr.ID, Value: def})
		}
	}
	for _, attr := range append(clears, sets...) {
		if err := o.api.SetAttribute(ctx, o.kind.Type, o.adapterKey, attr); err != nil {
			return fmt.Errorf("set %s %s attribute %d: %w", o.kind.Type, o.adapterKey, attr.ID, err)
		}
		o.logger.Debug("set attribute", "type", o.kind.Type, "adapter_key", o.adapterKey, "attr", attr.ID)
	}
	o.attrs = a
	o.attrList = desired
	return nil
}

func isDefault[H comparable, A any](kind *Kind[H, A], attr sai.Attribute) bool {
	def, ok := kind.Defaults[attr.ID]
	return ok && sai.ValuesEqual(def, attr.Value)
}

// GetAttribute reads one attribute from hardware.
func (o *Object[H, A]) GetAttribute(ctx context.Context, id sai.AttrID) (any, error) {
	l, err := o.api.GetAttributes(ctx, o.kind.Type, o.adapterKey, id)
	if err != nil {
		return nil, err
	}
	v, ok := l.Get(id)
	if !ok {
		return nil, fmt.Errorf("%s %s attribute %d: %w", o.kind.Type, o.adapterKey, id, errNoValue)
	}
	return v, nil
}

// UpdateStats refreshes the cached counters.
func (o *Object[H, A]) UpdateStats(ctx context.Context) error {
	if len(o.kind.Stats) == 0 {
		return nil
	}
	values, err := o.api.GetStats(ctx, o.kind.Type, o.adapterKey, o.kind.Stats...)
	if err != nil {
		return fmt.Errorf("stats %s %s: %w", o.kind.Type, o.adapterKey, err)
	}
	if o.stats == nil {
		o.stats = make(map[sai.StatID]uint64, len(values))
	}
	for i, id := range o.kind.Stats {
		o.stats[id] = values[i]
	}
	return nil
}

// Stats returns the counters cached by the last UpdateStats.
func (o *Object[H, A]) Stats() map[sai.StatID]uint64 {
	out := make(map[sai.StatID]uint64, len(o.stats))
	for k, v := range o.stats {
		out[k] = v
	}
	return out
}

// Release detaches the proxy from the hardware object: dropping the
// last reference no longer removes it.
func (o *Object[H, A]) Release() { o.released = true }

func (o *Object[H, A]) remove(ctx context.Context) error {
	if o.released || o.ownedByAdapter {
		return nil
	}
	if err := o.api.Remove(ctx, o.kind.Type, o.adapterKey); err != nil {
		return fmt.Errorf("remove %s %s: %w", o.kind.Type, o.adapterKey, err)
	}
	o.released = true
	o.logger.Debug("removed object", "type", o.kind.Type, "adapter_key", o.adapterKey, "host_key", o.hostKey)
	return nil
}
