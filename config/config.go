// Package config loads swcached settings: defaults, then a YAML file, then
// SWCACHE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/swcache"
)

// Config is the process configuration of swcached.
type Config struct {
	// Origin of the site being fronted, e.g. https://example.dev
	Origin string `yaml:"origin" env:"SWCACHE_ORIGIN"`
	// Listen address of the front server
	Listen string `yaml:"listen" env:"SWCACHE_LISTEN"`
	// Upstream receives pass-through traffic (default: Origin)
	Upstream string `yaml:"upstream" env:"SWCACHE_UPSTREAM"`
	// ContactPath is the form endpoint whose failed POSTs are queued
	ContactPath string `yaml:"contact_path" env:"SWCACHE_CONTACT_PATH"`

	Worker struct {
		Prefix             string   `yaml:"prefix" env:"SWCACHE_PREFIX"`
		Version            string   `yaml:"version" env:"SWCACHE_VERSION"`
		StaticManifest     []string `yaml:"static_manifest" env:"SWCACHE_STATIC_MANIFEST" envSeparator:","`
		ExternalManifest   []string `yaml:"external_manifest" env:"SWCACHE_EXTERNAL_MANIFEST" envSeparator:","`
		TrustedHosts       []string `yaml:"trusted_hosts" env:"SWCACHE_TRUSTED_HOSTS" envSeparator:","`
		OfflinePage        string   `yaml:"offline_page" env:"SWCACHE_OFFLINE_PAGE"`
		SyncTag            string   `yaml:"sync_tag" env:"SWCACHE_SYNC_TAG"`
		QueueStore         string   `yaml:"queue_store" env:"SWCACHE_QUEUE_STORE"`
		Icon               string   `yaml:"icon" env:"SWCACHE_ICON"`
		Badge              string   `yaml:"badge" env:"SWCACHE_BADGE"`
		InstallConcurrency int      `yaml:"install_concurrency" env:"SWCACHE_INSTALL_CONCURRENCY"`
		MaxBodyBytes       int64    `yaml:"max_body_bytes" env:"SWCACHE_MAX_BODY_BYTES"`
		// FetchTimeout bounds every network request the worker makes (0 = none)
		FetchTimeout time.Duration `yaml:"fetch_timeout" env:"SWCACHE_FETCH_TIMEOUT"`
	} `yaml:"worker"`

	Cache struct {
		// sqlite, redis. Holds static stores, registries and indexes, so it
		// must not evict.
		Provider string `yaml:"provider" env:"SWCACHE_CACHE_PROVIDER"`
		// ristretto, bigcache or empty. In-memory tier for runtime store
		// entries only; evictions there are cache misses.
		Runtime string `yaml:"runtime" env:"SWCACHE_CACHE_RUNTIME"`
		// msgpack, cbor, json
		Codec          string `yaml:"codec" env:"SWCACHE_CACHE_CODEC"`
		MaxRecordBytes int    `yaml:"max_record_bytes" env:"SWCACHE_CACHE_MAX_RECORD_BYTES"`
		// local, redis
		GenStore string `yaml:"genstore" env:"SWCACHE_GENSTORE"`

		SQLite struct {
			Path string `yaml:"path" env:"SWCACHE_SQLITE_PATH"`
		} `yaml:"sqlite"`

		Ristretto struct {
			NumCounters int64 `yaml:"num_counters" env:"SWCACHE_RISTRETTO_NUM_COUNTERS"`
			MaxCost     int64 `yaml:"max_cost" env:"SWCACHE_RISTRETTO_MAX_COST"`
			BufferItems int64 `yaml:"buffer_items" env:"SWCACHE_RISTRETTO_BUFFER_ITEMS"`
		} `yaml:"ristretto"`

		BigCache struct {
			Shards             int `yaml:"shards" env:"SWCACHE_BIGCACHE_SHARDS"`
			HardMaxCacheSizeMB int `yaml:"hard_max_cache_size_mb" env:"SWCACHE_BIGCACHE_MAX_MB"`
			MaxEntrySize       int `yaml:"max_entry_size" env:"SWCACHE_BIGCACHE_MAX_ENTRY_SIZE"`
		} `yaml:"bigcache"`
	} `yaml:"cache"`

	Redis struct {
		Addr     string `yaml:"addr" env:"SWCACHE_REDIS_ADDR"`
		Password string `yaml:"password" env:"SWCACHE_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"SWCACHE_REDIS_DB"`
		Prefix   string `yaml:"prefix" env:"SWCACHE_REDIS_PREFIX"`
	} `yaml:"redis"`

	Queue struct {
		// separate SQLite file for queued submissions; empty shares the cache provider
		Path string `yaml:"path" env:"SWCACHE_QUEUE_PATH"`
	} `yaml:"queue"`

	Sync struct {
		// Interval between automatic sync attempts (0 = only on demand)
		Interval time.Duration `yaml:"interval" env:"SWCACHE_SYNC_INTERVAL"`
	} `yaml:"sync"`

	Notify struct {
		TTL     time.Duration `yaml:"ttl" env:"SWCACHE_NOTIFY_TTL"`
		MaxOpen int           `yaml:"max_open" env:"SWCACHE_NOTIFY_MAX_OPEN"`
	} `yaml:"notify"`

	Log struct {
		// zap, logrus, slog
		Backend string `yaml:"backend" env:"SWCACHE_LOG_BACKEND"`
		// debug, info, warn, error
		Level       string `yaml:"level" env:"SWCACHE_LOG_LEVEL"`
		Development bool   `yaml:"development" env:"SWCACHE_LOG_DEVELOPMENT"`
	} `yaml:"log"`

	Metrics struct {
		Enabled  bool   `yaml:"enabled" env:"SWCACHE_METRICS_ENABLED"`
		Endpoint string `yaml:"endpoint" env:"SWCACHE_METRICS_ENDPOINT"`
	} `yaml:"metrics"`
}

// Default returns the built-in settings. Worker fields left empty take the
// library defaults (see swcache.DefaultConfig).
func Default() Config {
	var c Config
	c.Listen = ":8080"
	c.ContactPath = "/contact"
	c.Cache.Provider = "sqlite"
	c.Cache.Runtime = "ristretto"
	c.Cache.SQLite.Path = "swcache.db"
	c.Cache.Codec = "msgpack"
	c.Cache.GenStore = "local"
	c.Cache.Ristretto.NumCounters = 1e5
	c.Cache.Ristretto.MaxCost = 64 << 20
	c.Cache.Ristretto.BufferItems = 64
	c.Cache.BigCache.Shards = 64
	c.Cache.BigCache.HardMaxCacheSizeMB = 64
	c.Redis.Addr = "127.0.0.1:6379"
	c.Sync.Interval = 30 * time.Second
	c.Notify.TTL = 24 * time.Hour
	c.Notify.MaxOpen = 100
	c.Log.Backend = "zap"
	c.Log.Level = "info"
	c.Metrics.Endpoint = "/metrics"
	return c
}

// Load layers defaults, the YAML file at path (skipped when path is empty) and
// the environment, then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Upstream == "" {
		cfg.Upstream = cfg.Origin
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Origin) == "" {
		errs = append(errs, errors.New("origin is required"))
	}
	switch c.Cache.Provider {
	case "sqlite":
		if strings.TrimSpace(c.Cache.SQLite.Path) == "" {
			errs = append(errs, errors.New("cache.sqlite.path is required"))
		}
	case "redis":
	case "ristretto", "bigcache":
		errs = append(errs, fmt.Errorf("cache provider %q evicts entries; set it as cache.runtime", c.Cache.Provider))
	default:
		errs = append(errs, fmt.Errorf("unknown cache provider %q", c.Cache.Provider))
	}
	if !slices.Contains([]string{"", "ristretto", "bigcache"}, c.Cache.Runtime) {
		errs = append(errs, fmt.Errorf("unknown runtime provider %q", c.Cache.Runtime))
	}
	if !slices.Contains([]string{"", "msgpack", "cbor", "json"}, c.Cache.Codec) {
		errs = append(errs, fmt.Errorf("unknown codec %q", c.Cache.Codec))
	}
	if !slices.Contains([]string{"local", "redis"}, c.Cache.GenStore) {
		errs = append(errs, fmt.Errorf("unknown genstore %q", c.Cache.GenStore))
	}
	if !slices.Contains([]string{"zap", "logrus", "slog"}, c.Log.Backend) {
		errs = append(errs, fmt.Errorf("unknown log backend %q", c.Log.Backend))
	}
	if c.Sync.Interval < 0 {
		errs = append(errs, errors.New("sync interval must not be negative"))
	}
	if err := c.WorkerConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: %w", errors.Join(errs...))
}

// WorkerConfig converts to the library configuration with defaults applied.
func (c Config) WorkerConfig() swcache.Config {
	w := c.Worker
	wc := swcache.Config{
		Origin:             c.Origin,
		Prefix:             w.Prefix,
		Version:            w.Version,
		StaticManifest:     w.StaticManifest,
		ExternalManifest:   w.ExternalManifest,
		TrustedHosts:       w.TrustedHosts,
		OfflinePage:        w.OfflinePage,
		SyncTag:            w.SyncTag,
		QueueStore:         w.QueueStore,
		Icon:               w.Icon,
		Badge:              w.Badge,
		InstallConcurrency: w.InstallConcurrency,
		MaxBodyBytes:       w.MaxBodyBytes,
	}
	return wc.WithDefaults()
}
