package poolx

import (
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
)

// probeCache remembers recent successful liveness probes per connection so
// borrow-time validation can skip re-pinging a connection that was probed
// moments ago. Entries expire after the configured TTL and are invalidated
// whenever a connection misbehaves.
type probeCache struct {
	cache *ristretto.Cache
	ttl   time.Duration

	// Statistics
	hits   int64
	misses int64
}

// probeCacheStats holds probe cache statistics
type probeCacheStats struct {
	Hits   int64
	Misses int64
}

func newProbeCache(ttl time.Duration) (*probeCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &probeCache{
		cache: cache,
		ttl:   ttl,
	}, nil
}

// isFresh reports whether connID passed a probe within the TTL window
func (p *probeCache) isFresh(connID string) bool {
	if p == nil {
		return false
	}
	if _, found := p.cache.Get(connID); found {
		atomic.AddInt64(&p.hits, 1)
		return true
	}
	atomic.AddInt64(&p.misses, 1)
	return false
}

// markHealthy records a successful probe for connID
func (p *probeCache) markHealthy(connID string) {
	if p == nil {
		return
	}
	p.cache.SetWithTTL(connID, true, 1, p.ttl)
	// Flush the set buffer so the entry is visible to the next borrow;
	// probes are infrequent enough that the flush cost does not matter
	p.cache.Wait()
}

// invalidate forgets any cached probe result for connID
func (p *probeCache) invalidate(connID string) {
	if p == nil {
		return
	}
	p.cache.Del(connID)
}

// stats returns probe cache hit/miss counters
func (p *probeCache) stats() probeCacheStats {
	if p == nil {
		return probeCacheStats{}
	}
	return probeCacheStats{
		Hits:   atomic.LoadInt64(&p.hits),
		Misses: atomic.LoadInt64(&p.misses),
	}
}

// close releases the cache resources
func (p *probeCache) close() {
	if p == nil {
		return
	}
	p.cache.Close()
}
