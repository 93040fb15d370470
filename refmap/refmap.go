// Package refmap provides reference-counted caches of shared values.
//
// A value lives in the map exactly as long as at least one Ref to it
// is held. Releasing the last Ref erases the entry and then runs the
// map's destroy function, so a lookup never observes a value that is
// being torn down. When destroy fails the entry is put back and the
// Ref stays held, so the value is never lost while it still exists. Maps are not safe for concurrent use; callers
// serialise access the way the control path does.
package refmap

import (
	"context"
	"iter"
)

// DestroyFunc is called once for a value after its last Ref is
// released and its entry has been erased.
type DestroyFunc[K comparable, V any] func(ctx context.Context, key K, value V) error

// Map is the interface shared by RefMap and OrderedRefMap.
type Map[K comparable, V any] interface {
	// RefOrEmplace returns a new Ref to the value at key, calling
	// ctor to construct it when absent. The boolean reports whether
	// ctor ran. A failed ctor leaves the map unchanged.
	RefOrEmplace(key K, ctor func() (V, error)) (*Ref[K, V], bool, error)

	// RefOrInsert is RefOrEmplace with an already built value. When
	// key is present the existing value is referenced and v is not
	// stored.
	RefOrInsert(key K, v V) (*Ref[K, V], bool)

	// Ref returns a new Ref to the value at key.
	Ref(key K) (*Ref[K, V], bool)

	// Get returns the value at key without taking a reference.
	Get(key K) (V, bool)

	// ReferenceCount returns the number of live Refs to key.
	ReferenceCount(key K) int

	// Len returns the number of live entries.
	Len() int

	// All iterates over live entries.
	All() iter.Seq2[K, V]

	// Forget drops every entry without calling destroy. Refs that
	// are still held stay valid; releasing the last of them runs
	// destroy but never erases a newer entry under the same key.
	Forget()
}

type entry[V any] struct {
	value V
	refs  int
}

// Ref is a strong reference to a map value. A Ref must be released
// exactly once; further calls to Release are no-ops.
type Ref[K comparable, V any] struct {
	owner    *core[K, V]
	key      K
	e        *entry[V]
	released bool
}

// Key returns the key the Ref was taken on.
func (r *Ref[K, V]) Key() K { return r.key }

// Value returns the referenced value.
func (r *Ref[K, V]) Value() V { return r.e.value }

// Clone returns another strong reference to the same value.
func (r *Ref[K, V]) Clone() *Ref[K, V] {
	r.e.refs++
	return &Ref[K, V]{owner: r.owner, key: r.key, e: r.e}
}

// Release drops the reference. When it was the last one the entry is
// erased and the destroy function runs. If destroy fails its error is
// returned, the entry is restored and r remains a live reference that
// may be released again later.
func (r *Ref[K, V]) Release(ctx context.Context) error {
	if r == nil || r.released {
		return nil
	}
	r.released = true
	r.e.refs--
	if r.e.refs > 0 {
		return nil
	}
	erased := r.owner.erase(r.key, r.e)
	if r.owner.destroy == nil {
		return nil
	}
	err := r.owner.destroy(ctx, r.key, r.e.value)
	if err != nil {
		r.released = false
		r.e.refs = 1
		if erased {
			r.owner.restore(r.key, r.e)
		}
	}
	return err
}

// core holds the bookkeeping shared by both map variants. The hooks
// let the ordered variant maintain its key index.
type core[K comparable, V any] struct {
	entries  map[K]*entry[V]
	destroy  DestroyFunc[K, V]
	onInsert func(K)
	onErase  func(K)
}

func newCore[K comparable, V any](destroy DestroyFunc[K, V]) *core[K, V] {
	return &core[K, V]{entries: make(map[K]*entry[V]), destroy: destroy}
}

// erase removes e unless it has already been forgotten or replaced,
// and reports whether it did.
func (c *core[K, V]) erase(key K, e *entry[V]) bool {
	cur, ok := c.entries[key]
	if !ok || cur != e {
		return false
	}
	delete(c.entries, key)
	if c.onErase != nil {
		c.onErase(key)
	}
	return true
}

// restore puts back an entry whose destroy failed. A newer entry
// under the same key wins.
func (c *core[K, V]) restore(key K, e *entry[V]) {
	if _, ok := c.entries[key]; ok {
		return
	}
	c.entries[key] = e
	if c.onInsert != nil {
		c.onInsert(key)
	}
}

func (c *core[K, V]) insert(key K, v V) *Ref[K, V] {
	e := &entry[V]{value: v, refs: 1}
	c.entries[key] = e
	if c.onInsert != nil {
		c.onInsert(key)
	}
	return &Ref[K, V]{owner: c, key: key, e: e}
}

func (c *core[K, V]) RefOrEmplace(key K, ctor func() (V, error)) (*Ref[K, V], bool, error) {
	if r, ok := c.Ref(key); ok {
		return r, false, nil
	}
	v, err := ctor()
	if err != nil {
		return nil, false, err
	}
	return c.insert(key, v), true, nil
}

func (c *core[K, V]) RefOrInsert(key K, v V) (*Ref[K, V], bool) {
	if r, ok := c.Ref(key); ok {
		return r, false
	}
	return c.insert(key, v), true
}

func (c *core[K, V]) Ref(key K) (*Ref[K, V], bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e.refs++
	return &Ref[K, V]{owner: c, key: key, e: e}, true
}

func (c *core[K, V]) Get(key K) (V, bool) {
	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *core[K, V]) ReferenceCount(key K) int {
	if e, ok := c.entries[key]; ok {
		return e.refs
	}
	return 0
}

func (c *core[K, V]) Len() int { return len(c.entries) }

func (c *core[K, V]) Forget() {
	for k := range c.entries {
		delete(c.entries, k)
		if c.onErase != nil {
			c.onErase(k)
		}
	}
}

// RefMap is the hash variant. Iteration order is unspecified.
type RefMap[K comparable, V any] struct {
	*core[K, V]
}

var _ Map[string, int] = (*RefMap[string, int])(nil)

// New returns an empty RefMap. destroy may be nil.
func New[K comparable, V any](destroy DestroyFunc[K, V]) *RefMap[K, V] {
	return &RefMap[K, V]{core: newCore(destroy)}
}

// All implements Map.
func (m *RefMap[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for k, e := range m.entries {
			if !yield(k, e.value) {
				return
			}
		}
	}
}
