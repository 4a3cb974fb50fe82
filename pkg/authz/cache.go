package authz

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// epochKey is the shared counter bumped on every role write. Cached entries
// carry the epoch they were resolved under; an entry from an older epoch is
// treated as a miss, so no decision uses a permission set older than the
// last role mutation.
const epochKey = "gatekeeper:authz:epoch"

type cachedSet struct {
	set   PermissionSet
	epoch int64
}

// PermissionCache caches resolved role permission sets keyed by role ID.
// Invalidation is explicit via epoch bumps; the cache is a latency concern
// only, a miss just recomputes from the store.
type PermissionCache struct {
	entries    *lru.LRU[string, cachedSet]
	redis      *redis.Client
	localEpoch atomic.Int64
}

// NewPermissionCache creates a permission cache. When rdb is non-nil the
// epoch counter lives in Redis so every instance sees role writes from any
// instance; otherwise a process-local counter is used.
func NewPermissionCache(size int, ttl time.Duration, rdb *redis.Client) *PermissionCache {
	if size <= 0 {
		size = 256
	}
	return &PermissionCache{
		entries: lru.NewLRU[string, cachedSet](size, nil, ttl),
		redis:   rdb,
	}
}

// Epoch returns the current cache epoch. Redis errors fall back to -1, which
// never matches a stored entry, degrading to cache-off rather than serving
// a stale permission set.
func (c *PermissionCache) Epoch(ctx context.Context) int64 {
	if c.redis == nil {
		return c.localEpoch.Load()
	}
	epoch, err := c.redis.Get(ctx, epochKey).Int64()
	if err == redis.Nil {
		return 0
	}
	if err != nil {
		return -1
	}
	return epoch
}

// Bump advances the epoch, invalidating every cached entry across instances
func (c *PermissionCache) Bump(ctx context.Context) {
	if c.redis == nil {
		c.localEpoch.Add(1)
		return
	}
	// Best effort: a failed bump leaves Epoch() returning -1 on the next
	// read only if Redis stays down, in which case lookups miss anyway.
	c.redis.Incr(ctx, epochKey)
}

// Get returns the cached permission set for roleID if it is current
func (c *PermissionCache) Get(ctx context.Context, roleID string) (PermissionSet, bool) {
	entry, ok := c.entries.Get(roleID)
	if !ok {
		return nil, false
	}
	if entry.epoch != c.Epoch(ctx) {
		c.entries.Remove(roleID)
		return nil, false
	}
	return entry.set, true
}

// Put stores a resolved permission set stamped with the epoch the caller
// observed before resolution began. The entry is dropped when the epoch has
// moved on since, so a role write landing mid-resolution can never be
// masked by a freshly stamped stale set.
func (c *PermissionCache) Put(ctx context.Context, roleID string, set PermissionSet, epoch int64) {
	if epoch < 0 || epoch != c.Epoch(ctx) {
		return
	}
	c.entries.Add(roleID, cachedSet{set: set, epoch: epoch})
}

// Purge drops all local entries without touching the epoch
func (c *PermissionCache) Purge() {
	c.entries.Purge()
}
