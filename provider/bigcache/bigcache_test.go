package bigcache

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func newProvider(t *testing.T, cfg Config) *Provider {
	t.Helper()
	p, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestGetSetDel(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t, Config{Shards: 4})

	if _, ok, err := p.Get(ctx, "swcache:caches:e:runtime:/a.css"); ok || err != nil {
		t.Fatalf("miss = ok %v err %v", ok, err)
	}
	if ok, err := p.Set(ctx, "swcache:caches:e:runtime:/a.css", []byte("body{}"), 6, time.Hour); !ok || err != nil {
		t.Fatalf("Set: %v %v", ok, err)
	}
	b, ok, err := p.Get(ctx, "swcache:caches:e:runtime:/a.css")
	if !ok || err != nil || !bytes.Equal(b, []byte("body{}")) {
		t.Fatalf("Get = %q %v %v", b, ok, err)
	}
	if err := p.Del(ctx, "swcache:caches:e:runtime:/a.css"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if err := p.Del(ctx, "swcache:caches:e:runtime:/a.css"); err != nil {
		t.Fatalf("Del of a missing key: %v", err)
	}
	if _, ok, _ := p.Get(ctx, "swcache:caches:e:runtime:/a.css"); ok {
		t.Fatalf("value survived Del")
	}
}

func TestEvictsFollowsLimits(t *testing.T) {
	if newProvider(t, Config{Shards: 4}).Evicts() {
		t.Fatalf("unbounded cache reported eviction")
	}
	if !newProvider(t, Config{Shards: 4, LifeWindow: time.Minute}).Evicts() {
		t.Fatalf("life window not reported")
	}
	if !newProvider(t, Config{Shards: 4, HardMaxCacheSizeMB: 8}).Evicts() {
		t.Fatalf("size cap not reported")
	}
}

func TestStatsCountLookups(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t, Config{Shards: 4})
	_, _ = p.Set(ctx, "k", []byte("v"), 1, 0)
	_, _, _ = p.Get(ctx, "k")
	_, _, _ = p.Get(ctx, "k")
	_, _, _ = p.Get(ctx, "missing")

	s := p.Stats()
	if s.Hits != 2 || s.Misses != 1 || s.Evicted != 0 {
		t.Fatalf("stats = %+v", s)
	}
}
