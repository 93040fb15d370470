package refmap_test

import (
	"cmp"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-saiagent/refmap"
)

type counter struct {
	created   int
	destroyed []string
}

func (c *counter) ctor(v string) func() (string, error) {
	return func() (string, error) {
		c.created++
		return v, nil
	}
}

func variants(c *counter) map[string]refmap.Map[string, string] {
	destroy := func(_ context.Context, k, _ string) error {
		c.destroyed = append(c.destroyed, k)
		return nil
	}
	return map[string]refmap.Map[string, string]{
		"hash":    refmap.New(destroy),
		"ordered": refmap.NewOrdered(cmp.Compare[string], destroy),
	}
}

func TestRefOrEmplaceSharesValue(t *testing.T) {
	for name := range variants(&counter{}) {
		t.Run(name, func(t *testing.T) {
			c := &counter{}
			m := variants(c)[name]

			r1, inserted, err := m.RefOrEmplace("a", c.ctor("A"))
			require.NoError(t, err)
			assert.True(t, inserted)

			r2, inserted, err := m.RefOrEmplace("a", c.ctor("other"))
			require.NoError(t, err)
			assert.False(t, inserted)

			assert.Equal(t, "A", r2.Value())
			assert.Equal(t, 1, c.created)
			assert.Equal(t, 2, m.ReferenceCount("a"))

			require.NoError(t, r1.Release(context.Background()))
			assert.Equal(t, 1, m.ReferenceCount("a"))
			assert.Empty(t, c.destroyed)

			require.NoError(t, r2.Release(context.Background()))
			assert.Equal(t, 0, m.ReferenceCount("a"))
			assert.Equal(t, 0, m.Len())
			assert.Equal(t, []string{"a"}, c.destroyed)
		})
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	c := &counter{}
	m := variants(c)["hash"]
	r1, _, err := m.RefOrEmplace("a", c.ctor("A"))
	require.NoError(t, err)
	r2 := r1.Clone()

	require.NoError(t, r1.Release(context.Background()))
	require.NoError(t, r1.Release(context.Background()))
	assert.Equal(t, 1, m.ReferenceCount("a"), "double release must not drop another holder's reference")

	require.NoError(t, r2.Release(context.Background()))
	assert.Equal(t, []string{"a"}, c.destroyed)
}

func TestEntryErasedBeforeDestroy(t *testing.T) {
	var m *refmap.RefMap[string, int]
	var seen bool
	m = refmap.New(func(_ context.Context, k string, _ int) error {
		_, seen = m.Get(k)
		return nil
	})
	r, _ := m.RefOrInsert("k", 1)
	require.NoError(t, r.Release(context.Background()))
	assert.False(t, seen, "destroy must not observe its own entry")
}

func TestRecreateAfterLastRelease(t *testing.T) {
	c := &counter{}
	m := variants(c)["ordered"]
	r, _, err := m.RefOrEmplace("a", c.ctor("A"))
	require.NoError(t, err)
	require.NoError(t, r.Release(context.Background()))

	r, inserted, err := m.RefOrEmplace("a", c.ctor("A2"))
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, "A2", r.Value())
	assert.Equal(t, 2, c.created)
}

func TestFailedConstructorLeavesMapUnchanged(t *testing.T) {
	m := refmap.New[string, int](nil)
	_, _, err := m.RefOrEmplace("a", func() (int, error) { return 0, errors.New("boom") })
	require.Error(t, err)
	assert.Equal(t, 0, m.Len())
	_, ok := m.Get("a")
	assert.False(t, ok)
}

func TestDestroyErrorRestoresEntry(t *testing.T) {
	ctx := context.Background()
	fail := true
	destroyed := 0
	destroy := func(context.Context, string, int) error {
		if fail {
			return errors.New("remove failed")
		}
		destroyed++
		return nil
	}
	for name, m := range map[string]refmap.Map[string, int]{
		"hash":    refmap.New(destroy),
		"ordered": refmap.NewOrdered(cmp.Compare[string], destroy),
	} {
		t.Run(name, func(t *testing.T) {
			fail, destroyed = true, 0
			r, _ := m.RefOrInsert("a", 1)
			assert.EqualError(t, r.Release(ctx), "remove failed")
			assert.Equal(t, 1, m.Len(), "entry is restored")
			assert.Equal(t, 1, m.ReferenceCount("a"), "the failed ref is still held")
			v, ok := m.Get("a")
			require.True(t, ok)
			assert.Equal(t, 1, v)
			for k := range m.All() {
				assert.Equal(t, "a", k)
			}

			fail = false
			require.NoError(t, r.Release(ctx))
			assert.Equal(t, 0, m.Len())
			assert.Equal(t, 1, destroyed)
			require.NoError(t, r.Release(ctx), "released refs stay released")
		})
	}
}

func TestDestroyErrorAfterForget(t *testing.T) {
	m := refmap.New(func(context.Context, string, int) error { return errors.New("remove failed") })
	r, _ := m.RefOrInsert("a", 1)
	m.Forget()
	assert.Error(t, r.Release(context.Background()))
	assert.Equal(t, 0, m.Len(), "a forgotten entry is not brought back")
}

func TestOrderedIteration(t *testing.T) {
	c := &counter{}
	m := refmap.NewOrdered(cmp.Compare[string], func(_ context.Context, k, _ string) error {
		c.destroyed = append(c.destroyed, k)
		return nil
	})
	refs := map[string]*refmap.Ref[string, string]{}
	for _, k := range []string{"d", "b", "a", "c"} {
		r, _, err := m.RefOrEmplace(k, c.ctor(k))
		require.NoError(t, err)
		refs[k] = r
	}
	var order []string
	for k := range m.All() {
		order = append(order, k)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
	assert.Equal(t, []string{"a", "b", "c", "d"}, m.Keys())

	require.NoError(t, refs["b"].Release(context.Background()))
	assert.Equal(t, []string{"a", "c", "d"}, m.Keys())
}

func TestForgetSkipsDestroy(t *testing.T) {
	c := &counter{}
	m := variants(c)["ordered"]
	r, _, err := m.RefOrEmplace("a", c.ctor("A"))
	require.NoError(t, err)

	m.Forget()
	assert.Equal(t, 0, m.Len())

	// A ref that outlives Forget still releases without touching a
	// newer entry under the same key.
	r2, inserted, err := m.RefOrEmplace("a", c.ctor("A2"))
	require.NoError(t, err)
	assert.True(t, inserted)
	require.NoError(t, r.Release(context.Background()))
	assert.Equal(t, 1, m.ReferenceCount("a"))
	assert.Equal(t, "A2", r2.Value())
}
