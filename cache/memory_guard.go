package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryGuard implements FinalizeGuard in process memory using ttlcache.
type MemoryGuard struct {
	cache *ttlcache.Cache[string, time.Time]
}

var _ FinalizeGuard = (*MemoryGuard)(nil)

// NewMemoryGuard creates a process-local guard with automatic cleanup of
// expired claims.
func NewMemoryGuard() *MemoryGuard {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, time.Time](),
	)

	// Start the cleanup process
	go cache.Start()

	return &MemoryGuard{
		cache: cache,
	}
}

// Claim implements FinalizeGuard.Claim.
func (g *MemoryGuard) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	_, found := g.cache.GetOrSet(key, time.Now(), ttlcache.WithTTL[string, time.Time](ttl))
	return !found, nil
}

// Count returns the number of live claims.
func (g *MemoryGuard) Count() int {
	return g.cache.Len()
}

// Close stops the cleanup goroutine.
func (g *MemoryGuard) Close() error {
	g.cache.Stop()

	return nil
}
