// Package store keeps the live hardware objects of a switch. Each
// object type has an ObjectStore holding at most one object per host
// key; Store aggregates them and drives warm boot reload and
// persistence.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	saiagent "github.com/frobware/go-saiagent"
	"github.com/frobware/go-saiagent/sai"
	"github.com/frobware/go-saiagent/warmboot"
)

// typeStore is the type-erased view of an ObjectStore used by Store.
type typeStore interface {
	ObjectType() sai.ObjectType
	Size() int
	Reload(ctx context.Context, keys []sai.AdapterKey, hostKeys warmboot.HostKeyTable) error
	AdapterKeys() []sai.AdapterKey
	DerivesHostKeys() bool
	HostKeyTables() (current, legacy warmboot.HostKeyTable, err error)
	UnclaimedWarmbootHandles() []sai.AdapterKey
	RemoveUnclaimedWarmbootHandles(ctx context.Context) ([]sai.AdapterKey, error)
	ExitForWarmBoot()
}

// Store is the collection of per-type stores of one switch.
type Store struct {
	api      sai.API
	switchID sai.ObjectID
	logger   *slog.Logger

	VirtualRouters      *ObjectStore[AdapterOwnedKey, VirtualRouterAttrs]
	Bridges             *ObjectStore[AdapterOwnedKey, BridgeAttrs]
	Schedulers          *ObjectStore[SchedulerKey, SchedulerAttrs]
	Ports               *ObjectStore[PortKey, PortAttrs]
	BridgePorts         *ObjectStore[BridgePortKey, BridgePortAttrs]
	Vlans               *ObjectStore[VlanKey, VlanAttrs]
	VlanMembers         *ObjectStore[VlanMemberKey, VlanMemberAttrs]
	Mirrors             *ObjectStore[MirrorKey, MirrorAttrs]
	RouterInterfaces    *ObjectStore[RouterInterfaceKey, RouterInterfaceAttrs]
	NextHops            *ObjectStore[NextHopKey, NextHopAttrs]
	NextHopGroups       *ObjectStore[NextHopGroupKey, NextHopGroupAttrs]
	NextHopGroupMembers *ObjectStore[NextHopGroupMemberKey, NextHopGroupMemberAttrs]
	Neighbors           *ObjectStore[NeighborKey, NeighborAttrs]
	Routes              *ObjectStore[RouteKey, RouteAttrs]

	// stores in dependency order: an object only references objects
	// of types earlier in the list.
	stores []typeStore
}

// New returns an empty store for a switch.
func New(api sai.API, switchID sai.ObjectID, logger *slog.Logger) *Store {
	logger = logger.With("component", "store")
	s := &Store{
		api:                 api,
		switchID:            switchID,
		logger:              logger,
		VirtualRouters:      NewObjectStore(VirtualRouterKind, api, switchID, logger),
		Bridges:             NewObjectStore(BridgeKind, api, switchID, logger),
		Schedulers:          NewObjectStore(SchedulerKind, api, switchID, logger),
		Ports:               NewObjectStore(PortKind, api, switchID, logger),
		BridgePorts:         NewObjectStore(BridgePortKind, api, switchID, logger),
		Vlans:               NewObjectStore(VlanKind, api, switchID, logger),
		VlanMembers:         NewObjectStore(VlanMemberKind, api, switchID, logger),
		Mirrors:             NewObjectStore(MirrorKind, api, switchID, logger),
		RouterInterfaces:    NewObjectStore(RouterInterfaceKind, api, switchID, logger),
		NextHops:            NewObjectStore(NextHopKind, api, switchID, logger),
		NextHopGroups:       NewObjectStore(NextHopGroupKind, api, switchID, logger),
		NextHopGroupMembers: NewObjectStore(NextHopGroupMemberKind, api, switchID, logger),
		Neighbors:           NewObjectStore(NeighborKind, api, switchID, logger),
		Routes:              NewObjectStore(RouteKind, api, switchID, logger),
	}
	s.stores = []typeStore{
		s.VirtualRouters, s.Bridges, s.Schedulers, s.Ports, s.BridgePorts,
		s.Vlans, s.VlanMembers, s.Mirrors, s.RouterInterfaces, s.NextHops,
		s.NextHopGroups, s.NextHopGroupMembers, s.Neighbors, s.Routes,
	}
	return s
}

// SwitchID returns the switch the store programs.
func (s *Store) SwitchID() sai.ObjectID { return s.switchID }

// API returns the adapter the store programs through.
func (s *Store) API() sai.API { return s.api }

// Reload repopulates every store from the keys recorded in doc. A
// type whose key list is absent from doc is enumerated from the
// adapter instead, provided its host keys derive from hardware, so
// objects created before the document was written are adopted rather
// than duplicated. The per-type key lists are gathered concurrently;
// objects are then loaded in dependency order.
func (s *Store) Reload(ctx context.Context, doc *warmboot.Document) error {
	keys := make([][]sai.AdapterKey, len(s.stores))
	g, gctx := errgroup.WithContext(ctx)
	for i, ts := range s.stores {
		g.Go(func() error {
			t := ts.ObjectType()
			if doc.HasKeys(t) || !ts.DerivesHostKeys() {
				k, err := doc.Keys(t)
				if err != nil {
					return err
				}
				keys[i] = k
				return nil
			}
			k, err := s.api.ObjectKeys(gctx, t, s.switchID)
			if err != nil {
				return fmt.Errorf("enumerate %s: %w", t, err)
			}
			s.logger.Debug("no recorded keys, adopting from adapter", "type", t, "count", len(k))
			keys[i] = k
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	for i, ts := range s.stores {
		hostKeys, _ := doc.HostKeysFor(ts.ObjectType())
		if err := ts.Reload(ctx, keys[i], hostKeys); err != nil {
			return fmt.Errorf("reload: %w", err)
		}
	}
	return nil
}

// Document returns the warm boot document describing every live
// object.
func (s *Store) Document(instanceID string) (*warmboot.Document, error) {
	doc := warmboot.New(s.switchID, instanceID)
	for _, ts := range s.stores {
		t := ts.ObjectType()
		if err := doc.SetKeys(t, ts.AdapterKeys()); err != nil {
			return nil, err
		}
		current, legacy, err := ts.HostKeyTables()
		if err != nil {
			return nil, err
		}
		switch {
		case current != nil && legacy != nil:
			doc.SetHostKeysWithMode(t, current)
			doc.SetHostKeys(t, legacy)
		case current != nil:
			doc.SetHostKeys(t, current)
		}
	}
	return doc, nil
}

// UnclaimedWarmbootHandles returns the unclaimed reloaded objects per
// type.
func (s *Store) UnclaimedWarmbootHandles() map[sai.ObjectType][]sai.AdapterKey {
	out := make(map[sai.ObjectType][]sai.AdapterKey)
	for _, ts := range s.stores {
		if keys := ts.UnclaimedWarmbootHandles(); len(keys) > 0 {
			out[ts.ObjectType()] = keys
		}
	}
	return out
}

// CheckUnexpectedUnclaimedWarmbootHandles removes every reloaded
// object that the state apply pass did not claim, dependents first.
// Removal is retried while a pass makes progress. An object that still
// cannot be removed leaves software and hardware diverged; the
// returned error wraps saiagent.ErrConsistencyViolation.
func (s *Store) CheckUnexpectedUnclaimedWarmbootHandles(ctx context.Context) error {
	for _, ts := range s.stores {
		if n := len(ts.UnclaimedWarmbootHandles()); n > 0 {
			s.logger.Warn("removing unclaimed warm boot objects",
				"object_type", ts.ObjectType().String(), "count", n)
		}
	}
	prev := -1
	for {
		var unresolved []string
		var errs []error
		for _, ts := range slices.Backward(s.stores) {
			failed, err := ts.RemoveUnclaimedWarmbootHandles(ctx)
			for _, k := range failed {
				unresolved = append(unresolved, fmt.Sprintf("%s %s", ts.ObjectType(), k))
			}
			if err != nil {
				errs = append(errs, err)
			}
		}
		if len(unresolved) == 0 {
			return nil
		}
		if prev >= 0 && len(unresolved) >= prev {
			return &saiagent.ConsistencyViolationError{Unresolved: unresolved, Err: errors.Join(errs...)}
		}
		prev = len(unresolved)
	}
}

// ExitForWarmBoot releases every object without removing it.
func (s *Store) ExitForWarmBoot() {
	for _, ts := range s.stores {
		ts.ExitForWarmBoot()
	}
}

// Counts returns the number of live objects per type.
func (s *Store) Counts() map[sai.ObjectType]int {
	out := make(map[sai.ObjectType]int, len(s.stores))
	for _, ts := range s.stores {
		out[ts.ObjectType()] = ts.Size()
	}
	return out
}

// ObjectTypes returns the stored types in dependency order.
func (s *Store) ObjectTypes() []sai.ObjectType {
	out := make([]sai.ObjectType, len(s.stores))
	for i, ts := range s.stores {
		out[i] = ts.ObjectType()
	}
	return out
}

// AdapterKeys returns the live adapter keys of type t.
func (s *Store) AdapterKeys(t sai.ObjectType) []sai.AdapterKey {
	for _, ts := range s.stores {
		if ts.ObjectType() == t {
			return ts.AdapterKeys()
		}
	}
	return nil
}
