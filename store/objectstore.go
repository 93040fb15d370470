package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"

	"github.com/frobware/go-saiagent/refmap"
	"github.com/frobware/go-saiagent/sai"
	"github.com/frobware/go-saiagent/warmboot"
)

var errNoValue = errors.New("no value")

// Ref is a strong reference to a stored object. Releasing the last
// Ref removes the object from hardware.
type Ref[H comparable, A any] = *refmap.Ref[H, *Object[H, A]]

// ObjectStore holds the live objects of one type, at most one per host
// key.
type ObjectStore[H comparable, A any] struct {
	kind     *Kind[H, A]
	api      sai.API
	switchID sai.ObjectID
	logger   *slog.Logger

	objects *refmap.RefMap[H, *Object[H, A]]
	byKey   map[string]H

	// warmBoot holds one reference per reloaded object until a
	// manager claims it with SetObject or Get.
	warmBoot map[H]*refmap.Ref[H, *Object[H, A]]
}

// NewObjectStore returns an empty store for kind.
func NewObjectStore[H comparable, A any](kind *Kind[H, A], api sai.API, switchID sai.ObjectID, logger *slog.Logger) *ObjectStore[H, A] {
	s := &ObjectStore[H, A]{
		kind:     kind,
		api:      api,
		switchID: switchID,
		logger:   logger.With("object_type", kind.Type.String()),
		byKey:    make(map[string]H),
		warmBoot: make(map[H]*refmap.Ref[H, *Object[H, A]]),
	}
	s.objects = refmap.New(func(ctx context.Context, h H, o *Object[H, A]) error {
		if err := o.remove(ctx); err != nil {
			return err
		}
		if cur, ok := s.byKey[o.adapterKey.String()]; ok && cur == h {
			delete(s.byKey, o.adapterKey.String())
		}
		return nil
	})
	return s
}

// ObjectType returns the type of the stored objects.
func (s *ObjectStore[H, A]) ObjectType() sai.ObjectType { return s.kind.Type }

// SetObject returns a reference to the object for h, creating it when
// absent. An existing object is updated in place; no second hardware
// object is created for the same host key.
func (s *ObjectStore[H, A]) SetObject(ctx context.Context, h H, a A) (*refmap.Ref[H, *Object[H, A]], error) {
	if ref, ok := s.objects.Ref(h); ok {
		if err := ref.Value().SetAttributes(ctx, a); err != nil {
			return nil, errors.Join(err, ref.Release(ctx))
		}
		s.claim(ctx, h)
		return ref, nil
	}
	ref, _, err := s.objects.RefOrEmplace(h, func() (*Object[H, A], error) {
		return createObject(ctx, s.kind, s.api, s.logger, s.switchID, h, a)
	})
	if err != nil {
		return nil, err
	}
	s.byKey[ref.Value().adapterKey.String()] = h
	return ref, nil
}

// claim drops the warm boot reference to h. The caller holds its own
// reference so the object stays live.
func (s *ObjectStore[H, A]) claim(ctx context.Context, h H) {
	if wb, ok := s.warmBoot[h]; ok {
		delete(s.warmBoot, h)
		_ = wb.Release(ctx)
	}
}

// Get returns a new reference to the object for h.
func (s *ObjectStore[H, A]) Get(ctx context.Context, h H) (*refmap.Ref[H, *Object[H, A]], bool) {
	ref, ok := s.objects.Ref(h)
	if ok {
		s.claim(ctx, h)
	}
	return ref, ok
}

// Find returns the object with adapter key k without taking a
// reference.
func (s *ObjectStore[H, A]) Find(k sai.AdapterKey) (*Object[H, A], bool) {
	h, ok := s.byKey[k.String()]
	if !ok {
		return nil, false
	}
	return s.objects.Get(h)
}

// ReferenceCount returns the number of references held on h, the
// warm boot reference included.
func (s *ObjectStore[H, A]) ReferenceCount(h H) int { return s.objects.ReferenceCount(h) }

// Size returns the number of live objects.
func (s *ObjectStore[H, A]) Size() int { return s.objects.Len() }

// All iterates over live objects.
func (s *ObjectStore[H, A]) All() iter.Seq2[H, *Object[H, A]] { return s.objects.All() }

// LoadObjectOwnedByAdapter attaches to an object the adapter created
// at switch init. Such objects are never removed. When addToWarmBoot
// is set the object waits to be claimed like a reloaded one.
func (s *ObjectStore[H, A]) LoadObjectOwnedByAdapter(ctx context.Context, key sai.AdapterKey, addToWarmBoot bool) (*refmap.Ref[H, *Object[H, A]], error) {
	o, err := loadObject(ctx, s.kind, s.api, s.logger, key, nil)
	if err != nil {
		return nil, err
	}
	o.ownedByAdapter = true
	ref, inserted := s.objects.RefOrInsert(o.hostKey, o)
	if !inserted {
		ref.Value().ownedByAdapter = true
		s.claim(ctx, o.hostKey)
	}
	s.byKey[key.String()] = o.hostKey
	if addToWarmBoot {
		if _, ok := s.warmBoot[o.hostKey]; !ok {
			s.warmBoot[o.hostKey] = ref.Clone()
		}
	}
	return ref, nil
}

// Reload repopulates the store from objects that already exist in
// hardware. Every reloaded object is held by a warm boot reference
// until claimed. hostKeys supplies host keys for kinds that cannot
// derive them.
func (s *ObjectStore[H, A]) Reload(ctx context.Context, keys []sai.AdapterKey, hostKeys warmboot.HostKeyTable) error {
	for _, key := range keys {
		var hk *H
		if s.kind.HostKey == nil {
			raw, ok := hostKeys[key.String()]
			if !ok {
				return fmt.Errorf("reload %s %s: no persisted host key", s.kind.Type, key)
			}
			h, err := s.kind.unmarshalHostKey(raw)
			if err != nil {
				return fmt.Errorf("reload %s %s: %w", s.kind.Type, key, err)
			}
			hk = &h
		}
		o, err := loadObject(ctx, s.kind, s.api, s.logger, key, hk)
		if err != nil {
			return err
		}
		ref, inserted := s.objects.RefOrInsert(o.hostKey, o)
		if !inserted {
			_ = ref.Release(ctx)
			return fmt.Errorf("reload %s %s: duplicate host key %v (already held by %s)",
				s.kind.Type, key, o.hostKey, ref.Value().adapterKey)
		}
		s.byKey[key.String()] = o.hostKey
		s.warmBoot[o.hostKey] = ref
	}
	s.logger.Info("reloaded objects", "count", len(keys))
	return nil
}

// AdapterKeys returns the adapter keys of live objects in a stable
// order.
func (s *ObjectStore[H, A]) AdapterKeys() []sai.AdapterKey {
	keys := make([]sai.AdapterKey, 0, s.objects.Len())
	for _, o := range s.objects.All() {
		keys = append(keys, o.adapterKey)
	}
	slices.SortFunc(keys, func(a, b sai.AdapterKey) int { return cmp.Compare(a.String(), b.String()) })
	return keys
}

// DerivesHostKeys reports whether host keys of this kind can be
// rebuilt from adapter attributes alone.
func (s *ObjectStore[H, A]) DerivesHostKeys() bool { return s.kind.HostKey != nil }

// HostKeyTables returns the side tables for kinds that cannot derive
// host keys from hardware. legacy is nil unless the kind writes one.
func (s *ObjectStore[H, A]) HostKeyTables() (current, legacy warmboot.HostKeyTable, err error) {
	if s.kind.HostKey != nil {
		return nil, nil, nil
	}
	current = make(warmboot.HostKeyTable)
	if s.kind.MarshalLegacyHostKey != nil {
		legacy = make(warmboot.HostKeyTable)
	}
	for h, o := range s.objects.All() {
		raw, err := s.kind.marshalHostKey(h)
		if err != nil {
			return nil, nil, fmt.Errorf("%s %s: %w", s.kind.Type, o.adapterKey, err)
		}
		current[o.adapterKey.String()] = raw
		if legacy != nil {
			raw, err := s.kind.MarshalLegacyHostKey(h)
			if err != nil {
				return nil, nil, fmt.Errorf("%s %s: %w", s.kind.Type, o.adapterKey, err)
			}
			legacy[o.adapterKey.String()] = raw
		}
	}
	return current, legacy, nil
}

// UnclaimedWarmbootHandles returns the adapter keys of reloaded
// objects nobody has claimed. Adapter owned objects are excluded.
func (s *ObjectStore[H, A]) UnclaimedWarmbootHandles() []sai.AdapterKey {
	var keys []sai.AdapterKey
	for _, ref := range s.warmBoot {
		if ref.Value().ownedByAdapter {
			continue
		}
		keys = append(keys, ref.Value().adapterKey)
	}
	slices.SortFunc(keys, func(a, b sai.AdapterKey) int { return cmp.Compare(a.String(), b.String()) })
	return keys
}

// RemoveUnclaimedWarmbootHandles drops every warm boot reference. An
// object nobody else references is removed from hardware. Objects
// whose removal fails stay unclaimed so a later pass can retry them;
// their adapter keys are returned with the joined error.
func (s *ObjectStore[H, A]) RemoveUnclaimedWarmbootHandles(ctx context.Context) ([]sai.AdapterKey, error) {
	var failed []sai.AdapterKey
	var errs []error
	for _, h := range slices.Collect(maps.Keys(s.warmBoot)) {
		ref := s.warmBoot[h]
		delete(s.warmBoot, h)
		o := ref.Value()
		if err := ref.Release(ctx); err != nil {
			s.warmBoot[h] = ref
			failed = append(failed, o.adapterKey)
			errs = append(errs, err)
			continue
		}
		if !o.ownedByAdapter && s.objects.ReferenceCount(h) == 0 {
			s.logger.Info("removed unclaimed warm boot object", "adapter_key", o.adapterKey)
		}
	}
	slices.SortFunc(failed, func(a, b sai.AdapterKey) int { return cmp.Compare(a.String(), b.String()) })
	return failed, errors.Join(errs...)
}

// ExitForWarmBoot releases every object so that hardware state
// survives the process, then forgets them.
func (s *ObjectStore[H, A]) ExitForWarmBoot() {
	for _, o := range s.objects.All() {
		o.Release()
	}
	clear(s.warmBoot)
	clear(s.byKey)
	s.objects.Forget()
}
