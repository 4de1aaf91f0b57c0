package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetRoundTrip(t *testing.T) {
	t.Parallel()

	c := New(time.Minute)
	key := Key{SessionID: "s1", Kind: KindStats}
	c.Set(key, 42)

	v, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = c.Get(Key{SessionID: "s1", Kind: KindInventory})
	assert.False(t, ok)
}

func TestExpiryEvictsLazily(t *testing.T) {
	t.Parallel()

	c := New(time.Minute)
	clock := time.Now()
	c.now = func() time.Time { return clock }

	key := Key{SessionID: "s1", Kind: KindEntityIndex}
	c.SetTTL(key, "index", 10*time.Second)

	_, ok := c.Get(key)
	assert.True(t, ok)

	clock = clock.Add(11 * time.Second)
	_, ok = c.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry should be evicted on lookup")
}

func TestInvalidateExactKey(t *testing.T) {
	t.Parallel()

	c := New(time.Minute)
	a := Key{SessionID: "s1", Kind: KindRelations, Params: "protagonist"}
	b := Key{SessionID: "s1", Kind: KindRelations, Params: "all"}
	c.Set(a, 1)
	c.Set(b, 2)

	c.Invalidate(a)

	_, ok := c.Get(a)
	assert.False(t, ok)
	_, ok = c.Get(b)
	assert.True(t, ok)
}

func TestInvalidateKindScopedToSession(t *testing.T) {
	t.Parallel()

	c := New(time.Minute)
	c.Set(Key{SessionID: "s1", Kind: KindEntityIndex}, 1)
	c.Set(Key{SessionID: "s1", Kind: KindEntityIndex, Params: "characters"}, 2)
	c.Set(Key{SessionID: "s1", Kind: KindStats}, 3)
	c.Set(Key{SessionID: "s2", Kind: KindEntityIndex}, 4)

	c.InvalidateKind("s1", KindEntityIndex)

	_, ok := c.Get(Key{SessionID: "s1", Kind: KindEntityIndex})
	assert.False(t, ok)
	_, ok = c.Get(Key{SessionID: "s1", Kind: KindEntityIndex, Params: "characters"})
	assert.False(t, ok)
	_, ok = c.Get(Key{SessionID: "s1", Kind: KindStats})
	assert.True(t, ok)
	_, ok = c.Get(Key{SessionID: "s2", Kind: KindEntityIndex})
	assert.True(t, ok, "other sessions untouched")
}

func TestInvalidateSession(t *testing.T) {
	t.Parallel()

	c := New(time.Minute)
	c.Set(Key{SessionID: "s1", Kind: KindStats}, 1)
	c.Set(Key{SessionID: "s1", Kind: KindInventory}, 2)
	c.Set(Key{SessionID: "s2", Kind: KindStats}, 3)

	c.InvalidateSession("s1")

	assert.Equal(t, 1, c.Len())
	_, ok := c.Get(Key{SessionID: "s2", Kind: KindStats})
	assert.True(t, ok)
}
