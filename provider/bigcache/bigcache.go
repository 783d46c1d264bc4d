package bigcache

import (
	"context"
	"errors"
	"time"

	bc "github.com/allegro/bigcache/v3"

	pr "github.com/unkn0wn-root/swcache/provider"
)

// Provider keeps cache stores in BigCache shards.
// BigCache cannot enumerate or expire single keys on demand; swcache relies on
// store generations to retire old entries.
type Provider struct {
	c      *bc.BigCache
	evicts bool
}

var (
	_ pr.Provider      = (*Provider)(nil)
	_ pr.Evicting      = (*Provider)(nil)
	_ pr.StatsReporter = (*Provider)(nil)
)

type Config struct {
	LifeWindow         time.Duration // 0 => entries never expire
	CleanWindow        time.Duration
	Shards             int
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

func New(ctx context.Context, cfg Config) (*Provider, error) {
	conf := bc.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.LifeWindow <= 0 {
		// a zero life window would make every sweep evict everything
		conf.CleanWindow = 0
	}
	if cfg.Shards > 0 {
		conf.Shards = cfg.Shards
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	conf.Verbose = false
	c, err := bc.New(ctx, conf)
	if err != nil {
		return nil, err
	}
	return &Provider{c: c, evicts: cfg.LifeWindow > 0 || cfg.HardMaxCacheSizeMB > 0}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := p.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Set ignores ttl: BigCache only knows its global LifeWindow.
func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	return true, p.c.Set(key, value)
}

func (p *Provider) Del(_ context.Context, key string) error {
	err := p.c.Delete(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil
	}
	return err
}

func (p *Provider) Close(_ context.Context) error {
	return p.c.Close()
}

// Evicts is true once a life window or a size cap is configured.
func (p *Provider) Evicts() bool { return p.evicts }

// Stats maps BigCache's counters; it does not count evictions.
func (p *Provider) Stats() pr.Stats {
	s := p.c.Stats()
	return pr.Stats{Hits: uint64(s.Hits), Misses: uint64(s.Misses)}
}
