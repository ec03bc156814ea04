package cache

import (
	"context"
	"errors"
	"time"
)

// Defaults for stores constructed without explicit settings.
const (
	DefaultRoot = "./cache"
	DefaultTTL  = 24 * time.Hour
)

// Sentinel errors for cache operations.
//
// Only ErrInvalidParameter is ever returned to callers (from Keyer.Key).
// ErrStorage and ErrCorruptEntry classify failures in warning events.
var (
	ErrInvalidParameter = errors.New("cache: invalid parameter")
	ErrStorage          = errors.New("cache: storage failure")
	ErrCorruptEntry     = errors.New("cache: corrupt entry")
)

// Store maps call signatures to payloads with TTL-based invalidation.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: Get, Set, Delete, Clear and ClearExpired never fail the caller.
// - Expiry: an entry is readable only while now - createdAt < TTL.
type Store interface {
	// Get returns the payload stored for the signature. Returns (nil, false)
	// on miss, on expiry and on any read or decode failure.
	Get(ctx context.Context, operation string, params map[string]any) ([]byte, bool)

	// Set stores payload for the signature, replacing any prior entry.
	Set(ctx context.Context, operation string, params map[string]any, payload []byte)

	// Delete removes the entry for the signature. Reports whether one existed.
	Delete(ctx context.Context, operation string, params map[string]any) bool

	// Clear removes every entry and returns how many were removed.
	Clear(ctx context.Context) int

	// ClearExpired removes entries whose age >= TTL and returns the count.
	ClearExpired(ctx context.Context) int

	// Stats reports the current contents.
	Stats(ctx context.Context) (Stats, error)

	// TTL returns the fixed time-to-live of this store.
	TTL() time.Duration
}

// Stats summarizes a store's contents.
type Stats struct {
	Entries int   // entries present, including expired ones not yet swept
	Expired int   // entries whose age >= TTL
	Bytes   int64 // stored size, including record headers
}

// TTLFromHours converts an hours setting into a TTL with full precision.
func TTLFromHours(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}
