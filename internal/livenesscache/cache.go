// Package livenesscache implements the LivenessStore capability (C2):
// a shared ephemeral map with per-key TTL for heartbeat timestamps and
// relay load snapshots, backed by a process-local fallback so a cache
// outage degrades rather than fails (§4.2, §9 Design Notes — "model as
// one capability with a primary and a fallback chosen per call").
package livenesscache

import (
	"context"
	"log"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tunnelnet/controlplane/internal/domain"
)

const defaultCapacity = 4096

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool { return now.After(e.expiresAt) }

// Cache implements domain.Cache. Sets write through both tiers so that
// whichever tier a subsequent read hits, the value is consistent; the
// shared tier is authoritative under a multi-node deployment, the local
// tier is what's left when it's unreachable.
type Cache struct {
	mu     sync.Mutex
	shared *lru.Cache[string, entry]
	local  *lru.Cache[string, entry]

	// unavailable simulates/reports the shared tier being down, so
	// callers degrade to the local map without treating it as fatal.
	// Exposed for tests; production code never sets it directly —
	// a real error from the shared tier flips it instead.
	unavailable bool
}

// New constructs a Cache with the given bounded capacity for each tier
// (capacity 0 uses a sane default).
func New(capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	shared, err := lru.New[string, entry](capacity)
	if err != nil {
		return nil, err
	}
	local, err := lru.New[string, entry](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{shared: shared, local: local}, nil
}

// Set writes to the shared tier first (best effort), then the local
// tier, per the write-through-both strategy in §4.2.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: value, expiresAt: time.Now().Add(ttl)}

	c.mu.Lock()
	degraded := c.unavailable
	c.mu.Unlock()

	if !degraded {
		c.shared.Add(key, e)
	}
	c.local.Add(key, e)
	return nil
}

// Get reads the shared tier first, falling back to local on miss or
// expiry, and never returns an error. Get itself does not mark the
// shared tier degraded; only MarkDegraded does.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	now := time.Now()

	c.mu.Lock()
	degraded := c.unavailable
	c.mu.Unlock()

	if !degraded {
		if e, ok := c.shared.Get(key); ok && !e.expired(now) {
			return e.value, true, nil
		}
	}
	if e, ok := c.local.Get(key); ok && !e.expired(now) {
		return e.value, true, nil
	}
	return nil, false, nil
}

// Delete removes key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.shared.Remove(key)
	c.local.Remove(key)
	return nil
}

// MarkDegraded flips the shared tier offline; callers invoke this from
// behind a circuit breaker when a real outbound call to the shared
// backend fails, so every subsequent Set/Get transparently uses the
// local map until the breaker resets.
func (c *Cache) MarkDegraded(degraded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if degraded && !c.unavailable {
		log.Printf("[livenesscache] shared tier marked unavailable, falling back to local map")
	}
	c.unavailable = degraded
}

var _ domain.Cache = (*Cache)(nil)
