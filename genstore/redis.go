package genstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisGenStore shares store generations across front servers and survives restarts.
// A rotation performed by one process (activation deleting stale stores) is then
// observed by every other process reading the same provider.
// The client is owned by the caller; Close does not close it.
type RedisGenStore struct {
	rdb redis.UniversalClient
	ns  string
}

var _ GenStore = (*RedisGenStore)(nil)

// NewRedisGenStore keeps generations under "gen:<namespace>:<key>". The keys
// never expire.
func NewRedisGenStore(client redis.UniversalClient, namespace string) *RedisGenStore {
	return &RedisGenStore{rdb: client, ns: namespace}
}

func (s *RedisGenStore) key(k string) string { return "gen:" + s.ns + ":" + k }

func (s *RedisGenStore) Snapshot(ctx context.Context, name string) (uint64, error) {
	res, err := s.rdb.Get(ctx, s.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return parseGen(name, res)
}

// SnapshotMany reads every key with a single MGET.
func (s *RedisGenStore) SnapshotMany(ctx context.Context, names []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(names))
	if len(names) == 0 {
		return out, nil
	}
	keys := make([]string, len(names))
	for i, k := range names {
		keys[i] = s.key(k)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		switch vv := v.(type) {
		case nil:
			out[names[i]] = 0
		case string:
			g, err := parseGen(names[i], vv)
			if err != nil {
				return nil, err
			}
			out[names[i]] = g
		default:
			return nil, fmt.Errorf("redis gen %s: unexpected %T", names[i], v)
		}
	}
	return out, nil
}

func (s *RedisGenStore) Bump(ctx context.Context, name string) (uint64, error) {
	v, err := s.rdb.Incr(ctx, s.key(name)).Result()
	if err != nil {
		return 0, err
	}
	return uint64(v), nil
}

func (s *RedisGenStore) Close(context.Context) error { return nil }

func parseGen(name, v string) (uint64, error) {
	g, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis gen %s: %w", name, err)
	}
	return g, nil
}
