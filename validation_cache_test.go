package poolx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProbeCache(t *testing.T, ttl time.Duration) *probeCache {
	t.Helper()
	cache, err := newProbeCache(ttl)
	require.NoError(t, err)
	t.Cleanup(cache.close)
	return cache
}

func TestProbeCache_MarkHealthyMakesFresh(t *testing.T) {
	cache := newTestProbeCache(t, time.Minute)

	assert.False(t, cache.isFresh("conn-1"))
	cache.markHealthy("conn-1")
	assert.True(t, cache.isFresh("conn-1"))
	assert.False(t, cache.isFresh("conn-2"))
}

func TestProbeCache_InvalidateForgetsEntry(t *testing.T) {
	cache := newTestProbeCache(t, time.Minute)

	cache.markHealthy("conn-1")
	require.True(t, cache.isFresh("conn-1"))

	cache.invalidate("conn-1")
	assert.False(t, cache.isFresh("conn-1"))
}

func TestProbeCache_EntriesExpireAfterTTL(t *testing.T) {
	cache := newTestProbeCache(t, 50*time.Millisecond)

	cache.markHealthy("conn-1")
	require.True(t, cache.isFresh("conn-1"))

	assert.Eventually(t, func() bool {
		return !cache.isFresh("conn-1")
	}, time.Second, 10*time.Millisecond)
}

func TestProbeCache_Stats(t *testing.T) {
	cache := newTestProbeCache(t, time.Minute)

	cache.isFresh("conn-1")
	cache.markHealthy("conn-1")
	cache.isFresh("conn-1")
	cache.isFresh("conn-1")

	stats := cache.stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestProbeCache_NilReceiverIsSafe(t *testing.T) {
	var cache *probeCache

	assert.NotPanics(t, func() {
		cache.markHealthy("conn-1")
		cache.invalidate("conn-1")
		cache.close()
	})
	assert.False(t, cache.isFresh("conn-1"))
	assert.Equal(t, probeCacheStats{}, cache.stats())
}
