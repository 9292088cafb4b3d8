package contextview

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFrozenCache(at time.Time) (*Cache, *time.Time) {
	c := NewCache()
	now := at
	c.now = func() time.Time { return now }
	return c, &now
}

func TestCacheHitAndExpiry(t *testing.T) {
	c, now := newFrozenCache(time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC))
	defer c.Close()

	body := []byte(`{"account":{"id":"acct_1"}}`)
	e := c.Put("t1:account:acct_1", body, TTLFor("account"))
	assert.NotEmpty(t, e.ETag)

	got, ok := c.Get("t1:account:acct_1")
	require.True(t, ok)
	assert.Equal(t, body, got.Body)
	assert.Equal(t, 0, got.Age(*now))

	*now = now.Add(15 * time.Second)
	got, ok = c.Get("t1:account:acct_1")
	require.True(t, ok, "account views ride the 30s balances bucket")
	assert.Equal(t, 15, got.Age(*now))

	*now = now.Add(16 * time.Second)
	_, ok = c.Get("t1:account:acct_1")
	assert.False(t, ok, "expired at 30s")
}

func TestCacheBucketTTLs(t *testing.T) {
	assert.Equal(t, 5*time.Minute, TTLFor("account_metadata"))
	assert.Equal(t, time.Hour, TTLFor("activity_stats"))
	assert.Equal(t, 30*time.Second, TTLFor("balances"))
	assert.Equal(t, 30*time.Second, TTLFor("account"))
	assert.Equal(t, 2*time.Minute, TTLFor("transfer"))
	assert.Equal(t, 2*time.Minute, TTLFor("agent"))
	assert.Equal(t, 2*time.Minute, TTLFor("batch"))
	assert.Equal(t, time.Hour, TTLFor("capabilities"))
	assert.Equal(t, DefaultTTL, TTLFor("something_new"))
}

func TestWeakETagStableAndBodySensitive(t *testing.T) {
	a := WeakETag([]byte(`{"n":1}`))
	b := WeakETag([]byte(`{"n":1}`))
	diff := WeakETag([]byte(`{"n":2}`))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, diff)
	assert.True(t, len(a) > 4 && a[:3] == `W/"`, "weak validator form, got %s", a)
}

func TestInvalidatePattern(t *testing.T) {
	c, _ := newFrozenCache(time.Now())
	defer c.Close()

	c.Put("t1:account:acct_1", []byte("a"), time.Minute)
	c.Put("t1:transfer:tr_1", []byte("b"), time.Minute)
	c.Put("t1:agent:agent_1", []byte("c"), time.Minute)
	c.Put("t2:account:acct_1", []byte("d"), time.Minute)
	require.Equal(t, 4, c.Len())

	// A write to acct_1 drops every view in every tenant that mentions it.
	n := c.InvalidatePattern("acct_1")
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("t1:transfer:tr_1")
	assert.True(t, ok, "unrelated views survive")

	// Empty fragments never wipe the cache.
	assert.Equal(t, 0, c.InvalidatePattern(""))
}

func TestInvalidateSingleKey(t *testing.T) {
	c, _ := newFrozenCache(time.Now())
	defer c.Close()

	c.Put("t1:account:acct_1", []byte("a"), time.Minute)
	c.Invalidate("t1:account:acct_1")
	_, ok := c.Get("t1:account:acct_1")
	assert.False(t, ok)
}

func TestPutReplacesEntry(t *testing.T) {
	c, now := newFrozenCache(time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC))
	defer c.Close()

	first := c.Put("k", []byte("v1"), time.Minute)
	*now = now.Add(10 * time.Second)
	second := c.Put("k", []byte("v2"), time.Minute)

	assert.NotEqual(t, first.ETag, second.ETag)
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), got.Body)
	assert.Equal(t, 0, got.Age(*now), "replacement resets the clock")
}
