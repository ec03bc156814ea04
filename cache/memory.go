package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jonwraymond/fetchcache/observe"
)

// MemoryStore is an in-process Store with the same expiry semantics as
// DiskStore. Entries do not survive the process.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	keyer   Keyer
	now     func() time.Time
	logger  observe.Logger
	metrics *storeMetrics
}

type memoryEntry struct {
	payload []byte
	created time.Time
}

// NewMemoryStore creates an in-memory store. A non-positive ttl uses DefaultTTL.
func NewMemoryStore(ttl time.Duration, opts ...Option) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		keyer:   o.keyer,
		now:     o.now,
		logger:  o.logger.With(observe.Field{Key: "component", Value: "cache"}),
		metrics: newStoreMetrics(o.meter, "memory"),
	}
}

// TTL returns the store's time-to-live.
func (c *MemoryStore) TTL() time.Duration { return c.ttl }

// Get retrieves a value from the cache. Returns (nil, false) on miss or expiry.
func (c *MemoryStore) Get(ctx context.Context, operation string, params map[string]any) ([]byte, bool) {
	key, ok := c.key(ctx, operation, params)
	if !ok {
		c.metrics.add(ctx, c.metrics.misses, 1)
		return nil, false
	}

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.metrics.add(ctx, c.metrics.misses, 1)
		return nil, false
	}

	if c.expired(entry.created) {
		// Expired - clean up lazily, unless a Set refreshed it meanwhile
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && c.expired(cur.created) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		c.metrics.add(ctx, c.metrics.expired, 1)
		c.metrics.add(ctx, c.metrics.misses, 1)
		return nil, false
	}

	c.metrics.add(ctx, c.metrics.hits, 1)
	return clone(entry.payload), true
}

// Set stores a copy of payload for the signature.
func (c *MemoryStore) Set(ctx context.Context, operation string, params map[string]any, payload []byte) {
	key, ok := c.key(ctx, operation, params)
	if !ok {
		return
	}

	c.mu.Lock()
	c.entries[key] = memoryEntry{payload: clone(payload), created: c.now()}
	c.mu.Unlock()

	c.metrics.add(ctx, c.metrics.writes, 1)
}

// Delete removes a value from the cache.
func (c *MemoryStore) Delete(ctx context.Context, operation string, params map[string]any) bool {
	key, ok := c.key(ctx, operation, params)
	if !ok {
		return false
	}

	c.mu.Lock()
	_, existed := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()

	if existed {
		c.metrics.add(ctx, c.metrics.removed, 1)
	}
	return existed
}

// Clear removes every entry.
func (c *MemoryStore) Clear(ctx context.Context) int {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]memoryEntry)
	c.mu.Unlock()

	c.metrics.add(ctx, c.metrics.removed, n)
	return n
}

// ClearExpired removes every entry whose age >= TTL.
func (c *MemoryStore) ClearExpired(ctx context.Context) int {
	c.mu.Lock()
	n := 0
	for key, entry := range c.entries {
		if c.expired(entry.created) {
			delete(c.entries, key)
			n++
		}
	}
	c.mu.Unlock()

	c.metrics.add(ctx, c.metrics.removed, n)
	return n
}

// Stats reports the current contents.
func (c *MemoryStore) Stats(context.Context) (Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var st Stats
	for _, entry := range c.entries {
		st.Entries++
		st.Bytes += int64(len(entry.payload))
		if c.expired(entry.created) {
			st.Expired++
		}
	}
	return st, nil
}

func (c *MemoryStore) key(ctx context.Context, operation string, params map[string]any) (string, bool) {
	key, err := c.keyer.Key(operation, params)
	if err != nil {
		c.logger.Warn(ctx, "cache key derivation failed",
			observe.Field{Key: "operation", Value: operation},
			observe.Field{Key: "error", Value: err},
		)
		return "", false
	}
	return key, true
}

func (c *MemoryStore) expired(created time.Time) bool {
	return !c.now().Before(created.Add(c.ttl))
}

func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var _ Store = (*MemoryStore)(nil)
