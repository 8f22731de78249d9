package ttlcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGet(t *testing.T) {
	c := New[string, int]()
	c.Set("a", 1, time.Minute)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	now := time.Now()
	c := NewWithClock[string, int](func() time.Time { return now })

	c.Set("a", 1, 10*time.Second)

	now = now.Add(5 * time.Second)
	_, ok := c.Get("a")
	assert.True(t, ok, "entry should survive before ttl")

	now = now.Add(6 * time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry should expire after ttl")
	assert.Equal(t, 0, c.Len())
}

func TestSetRefreshesTTL(t *testing.T) {
	now := time.Now()
	c := NewWithClock[string, int](func() time.Time { return now })

	c.Set("a", 1, 10*time.Second)
	now = now.Add(8 * time.Second)
	c.Set("a", 2, 10*time.Second)

	now = now.Add(8 * time.Second)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestNonPositiveTTLDeletes(t *testing.T) {
	c := New[string, int]()
	c.Set("a", 1, time.Minute)
	c.Set("a", 1, 0)

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestEvictExpired(t *testing.T) {
	now := time.Now()
	c := NewWithClock[string, int](func() time.Time { return now })

	c.Set("a", 1, time.Second)
	c.Set("b", 2, time.Hour)

	now = now.Add(time.Minute)
	c.evictExpired()

	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("b")
	assert.True(t, ok)
}
