// Package genstore keeps the numeric generation of every named cache store.
//
// Deleting a store bumps its generation. Records carry the generation they were
// written under, so anything older than the current generation reads as a miss
// even if the provider still holds the bytes. Generations are never pruned: a
// pruned counter reads as 0 again and would revive records of a deleted store.
package genstore

import "context"

// GenStore abstracts where generations live.
// Use LocalGenStore (default) for a single process, or RedisGenStore when several
// front servers share one Redis provider.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, key string) (uint64, error)
	// SnapshotMany returns gens for many keys in one round trip; missing => 0.
	SnapshotMany(ctx context.Context, keys []string) (map[string]uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, key string) (uint64, error)
	Close(context.Context) error
}
