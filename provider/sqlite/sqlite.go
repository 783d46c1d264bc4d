// Package sqlite provides a durable provider backed by an embedded SQLite file.
// It is the default home of the form-submission queue, which must survive restarts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	pr "github.com/unkn0wn-root/swcache/provider"
)

const schema = `CREATE TABLE IF NOT EXISTS swcache_kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
)`

// Provider persists values in a single key/value table.
type Provider struct {
	db      *sql.DB
	ownsDB  bool
	nowFunc func() time.Time
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	// Path of the database file. ":memory:" opens a private in-memory database.
	Path string
	// DB reuses an already opened handle; Path is ignored when set.
	DB *sql.DB
}

// Open opens (or creates) the database and ensures the table exists.
func Open(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{db: cfg.DB, nowFunc: time.Now}
	if p.db == nil {
		path := strings.TrimSpace(cfg.Path)
		if path == "" {
			return nil, fmt.Errorf("sqlite provider: path is required")
		}
		dsn := path
		if path != ":memory:" {
			dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
		}
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite db: %w", err)
		}
		if path == ":memory:" {
			// every pooled connection would otherwise see its own empty database
			db.SetMaxOpenConns(1)
		}
		p.db = db
		p.ownsDB = true
	}
	if err := p.db.PingContext(ctx); err != nil {
		p.closeOwned()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		p.closeOwned()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return p, nil
}

func (p *Provider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value     []byte
		expiresAt int64
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM swcache_kv WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if expiresAt > 0 && p.nowFunc().UnixMilli() >= expiresAt {
		_ = p.Del(ctx, key)
		return nil, false, nil
	}
	return value, true, nil
}

func (p *Provider) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = p.nowFunc().Add(ttl).UnixMilli()
	}
	if value == nil {
		value = []byte{}
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO swcache_kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) Del(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM swcache_kv WHERE key = ?`, key)
	return err
}

// Close closes the handle only when Open created it.
func (p *Provider) Close(context.Context) error {
	if p == nil || !p.ownsDB {
		return nil
	}
	return p.db.Close()
}

func (p *Provider) closeOwned() {
	if p.ownsDB {
		_ = p.db.Close()
	}
}
