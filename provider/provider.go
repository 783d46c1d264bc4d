// Package provider defines the byte store abstraction behind swcache's named
// cache stores and submission queue.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key (no prepended/appended
// metadata, no re-encoding, no mutation).
//
// The keyspaces "<ns>:entry:", "<ns>:index:" and "<ns>:stores" are owned by swcache.
// External code MUST NOT write under them; foreign bytes fail wire validation and
// are deleted on read.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs.
// Must be safe for concurrent use. A ttl <= 0 means "no expiry".
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. May ignore cost if unsupported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort). Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Evicting is implemented by providers that may drop entries on their own
// (memory pressure, a global life window). swcache only puts runtime store
// entries on such a provider; static stores, registries and indexes must live
// on one that keeps what it is given.
type Evicting interface {
	Evicts() bool
}

// Evicts reports whether p may drop entries on its own.
func Evicts(p Provider) bool {
	e, ok := p.(Evicting)
	return ok && e.Evicts()
}

// Stats are hit/miss counters of an in-process provider.
// Evicted stays 0 when the backend does not count evictions.
type Stats struct {
	Hits, Misses, Evicted uint64
}

// StatsReporter is implemented by providers that count their own traffic.
type StatsReporter interface {
	Stats() Stats
}
