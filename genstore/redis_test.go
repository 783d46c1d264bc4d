package genstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *RedisGenStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewRedisGenStore(rdb, "site")
}

func TestRedisBumpAndSnapshot(t *testing.T) {
	ctx := context.Background()
	mr, s := newRedis(t)

	if g, err := s.Snapshot(ctx, "portfolio-static-v1"); err != nil || g != 0 {
		t.Fatalf("unbumped Snapshot = %d, %v", g, err)
	}
	for want := uint64(1); want <= 3; want++ {
		g, err := s.Bump(ctx, "portfolio-static-v1")
		if err != nil || g != want {
			t.Fatalf("Bump = %d, %v; want %d", g, err, want)
		}
	}
	if v, _ := mr.Get("gen:site:portfolio-static-v1"); v != "3" {
		t.Fatalf("redis key = %q", v)
	}
	if mr.TTL("gen:site:portfolio-static-v1") != 0 {
		t.Fatalf("generation key expires")
	}
}

func TestRedisSnapshotMany(t *testing.T) {
	ctx := context.Background()
	_, s := newRedis(t)
	if _, err := s.Bump(ctx, "runtime"); err != nil {
		t.Fatal(err)
	}

	got, err := s.SnapshotMany(ctx, []string{"static", "runtime"})
	if err != nil {
		t.Fatalf("SnapshotMany: %v", err)
	}
	if got["static"] != 0 || got["runtime"] != 1 {
		t.Fatalf("got %v", got)
	}
	if got, err := s.SnapshotMany(ctx, nil); err != nil || len(got) != 0 {
		t.Fatalf("empty SnapshotMany = %v, %v", got, err)
	}
}

func TestRedisCorruptGeneration(t *testing.T) {
	ctx := context.Background()
	mr, s := newRedis(t)
	_ = mr.Set("gen:site:static", "not-a-number")

	if _, err := s.Snapshot(ctx, "static"); err == nil {
		t.Fatalf("Snapshot accepted a corrupt generation")
	}
	if _, err := s.SnapshotMany(ctx, []string{"static"}); err == nil {
		t.Fatalf("SnapshotMany accepted a corrupt generation")
	}
}

func TestRedisSharedAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	a := NewRedisGenStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "site")
	b := NewRedisGenStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "site")

	if _, err := a.Bump(ctx, "portfolio-runtime-v1"); err != nil {
		t.Fatal(err)
	}
	if g, _ := b.Snapshot(ctx, "portfolio-runtime-v1"); g != 1 {
		t.Fatalf("second process sees gen %d", g)
	}
}
