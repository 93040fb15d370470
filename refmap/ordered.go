package refmap

import (
	"iter"
	"slices"
)

// OrderedRefMap is the order-preserving variant. All iterates in key
// order as defined by the comparison function.
type OrderedRefMap[K comparable, V any] struct {
	*core[K, V]
	compare func(a, b K) int
	keys    []K
}

var _ Map[string, int] = (*OrderedRefMap[string, int])(nil)

// NewOrdered returns an empty OrderedRefMap ordered by compare.
func NewOrdered[K comparable, V any](compare func(a, b K) int, destroy DestroyFunc[K, V]) *OrderedRefMap[K, V] {
	m := &OrderedRefMap[K, V]{core: newCore(destroy), compare: compare}
	m.onInsert = func(k K) {
		i, found := slices.BinarySearchFunc(m.keys, k, m.compare)
		if !found {
			m.keys = slices.Insert(m.keys, i, k)
		}
	}
	m.onErase = func(k K) {
		if i, found := slices.BinarySearchFunc(m.keys, k, m.compare); found {
			m.keys = slices.Delete(m.keys, i, i+1)
		}
	}
	return m
}

// All implements Map.
func (m *OrderedRefMap[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for _, k := range slices.Clone(m.keys) {
			e, ok := m.entries[k]
			if !ok {
				continue
			}
			if !yield(k, e.value) {
				return
			}
		}
	}
}

// Keys returns the live keys in order.
func (m *OrderedRefMap[K, V]) Keys() []K {
	return slices.Clone(m.keys)
}
