package main

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/swcache"
	"github.com/unkn0wn-root/swcache/codec"
	"github.com/unkn0wn-root/swcache/config"
	"github.com/unkn0wn-root/swcache/genstore"
	pr "github.com/unkn0wn-root/swcache/provider"
	bcprov "github.com/unkn0wn-root/swcache/provider/bigcache"
	rprov "github.com/unkn0wn-root/swcache/provider/redis"
	rsprov "github.com/unkn0wn-root/swcache/provider/ristretto"
	"github.com/unkn0wn-root/swcache/provider/sqlite"
)

type stores struct {
	caches  pr.Provider
	runtime pr.Provider // nil => runtime entries stay on caches
	queue   pr.Provider // nil => caches
	// notify is always a durable provider that honors ttl
	notify pr.Provider
	gen    genstore.GenStore
	codec  codec.Codec[swcache.Record]
	rdb    goredis.UniversalClient
}

// openStores builds the providers named in cfg. Providers handed to the worker
// are closed by it; close releases what the worker does not own.
func openStores(ctx context.Context, cfg config.Config, log swcache.Logger) (*stores, error) {
	st := &stores{}
	var err error
	if st.codec, err = codec.ByName[swcache.Record](cfg.Cache.Codec); err != nil {
		return nil, err
	}
	if cfg.Cache.Provider == "redis" || cfg.Cache.GenStore == "redis" {
		st.rdb = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := st.rdb.Ping(ctx).Err(); err != nil {
			st.close()
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
	}

	switch cfg.Cache.Provider {
	case "sqlite":
		st.caches, err = sqlite.Open(ctx, sqlite.Config{Path: cfg.Cache.SQLite.Path})
	case "redis":
		st.caches, err = rprov.New(rprov.Config{Client: st.rdb, Prefix: cfg.Redis.Prefix})
	}
	if err != nil {
		st.close()
		return nil, fmt.Errorf("cache provider %s: %w", cfg.Cache.Provider, err)
	}

	switch cfg.Cache.Runtime {
	case "ristretto":
		st.runtime, err = rsprov.New(rsprov.Config{
			NumCounters: cfg.Cache.Ristretto.NumCounters,
			MaxCost:     cfg.Cache.Ristretto.MaxCost,
			BufferItems: cfg.Cache.Ristretto.BufferItems,
			Metrics:     cfg.Metrics.Enabled,
		})
	case "bigcache":
		st.runtime, err = bcprov.New(ctx, bcprov.Config{
			Shards:             cfg.Cache.BigCache.Shards,
			HardMaxCacheSizeMB: cfg.Cache.BigCache.HardMaxCacheSizeMB,
			MaxEntrySize:       cfg.Cache.BigCache.MaxEntrySize,
		})
	}
	if err != nil {
		_ = st.caches.Close(ctx)
		st.close()
		return nil, fmt.Errorf("runtime provider %s: %w", cfg.Cache.Runtime, err)
	}

	if cfg.Cache.GenStore == "redis" {
		st.gen = genstore.NewRedisGenStore(st.rdb, cfg.Redis.Prefix+"swcache")
	}

	st.notify = st.caches
	if cfg.Queue.Path != "" {
		q, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.Queue.Path})
		if err != nil {
			st.close()
			return nil, fmt.Errorf("queue store: %w", err)
		}
		st.queue = q
		st.notify = q
		log.Info("submission queue opened", swcache.Fields{"path": cfg.Queue.Path})
	}
	return st, nil
}

func (st *stores) close() {
	if st.rdb != nil {
		_ = st.rdb.Close()
	}
}
