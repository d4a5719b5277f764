package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"), 300)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSetGetRoundTrip(t *testing.T) {
	c := openTestCache(t)

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	require.NoError(t, c.Set("k1", payload{Name: "a", Count: 3}))

	var got payload
	hit, err := c.Get("k1", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, payload{Name: "a", Count: 3}, got)
}

func TestGetMiss(t *testing.T) {
	c := openTestCache(t)
	var out string
	hit, err := c.Get("missing", &out)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestExpiredEntryIsMiss(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.SetTTL("k", "v", -time.Second))

	var out string
	hit, err := c.Get("k", &out)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestInvalidateProject(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.Set(CallersKey("P1", "f1"), "a"))
	require.NoError(t, c.Set(ImpactKey("P1", "f1", 3), "b"))
	require.NoError(t, c.Set(CallersKey("P2", "f1"), "c"))

	n, err := c.InvalidateProject("P1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var out string
	hit, _ := c.Get(CallersKey("P2", "f1"), &out)
	assert.True(t, hit)
}

func TestStatsTrackHitRate(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.Set("k", "v"))

	var out string
	c.Get("k", &out)
	c.Get("missing", &out)

	stats := c.GetStats()
	assert.True(t, stats.Connected)
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
	assert.EqualValues(t, 1, stats.TotalKeys)
}

func TestSearchKeyOrderIndependent(t *testing.T) {
	a := SearchKey([]string{"P2", "P1"}, "find auth")
	b := SearchKey([]string{"P1", "P2"}, "find auth")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, SearchKey([]string{"P1", "P2"}, "other"))
}

func TestPruneRemovesExpired(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.SetTTL("old", "v", -time.Minute))
	require.NoError(t, c.Set("fresh", "v"))

	n, err := c.Prune()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
