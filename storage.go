package swcache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	c "github.com/unkn0wn-root/swcache/codec"
	gen "github.com/unkn0wn-root/swcache/genstore"
	"github.com/unkn0wn-root/swcache/internal/util"
	"github.com/unkn0wn-root/swcache/internal/wire"
	pr "github.com/unkn0wn-root/swcache/provider"
)

// CacheStorage is a set of named cache stores.
type CacheStorage interface {
	// Open returns the named store, creating it when missing.
	Open(ctx context.Context, name string) (Store, error)
	Has(ctx context.Context, name string) (bool, error)
	// Keys lists store names in creation order.
	Keys(ctx context.Context) ([]string, error)
	// Delete drops a whole store. ok=false when it did not exist.
	Delete(ctx context.Context, name string) (ok bool, err error)
	// Match looks the request up in every store, in creation order.
	Match(ctx context.Context, req Request) (*Entry, bool, error)
	Close(ctx context.Context) error
}

// Store maps request identity to a response.
type Store interface {
	Name() string
	// Put overwrites any previous response for req.
	Put(ctx context.Context, req Request, e *Entry) error
	Match(ctx context.Context, req Request) (*Entry, bool, error)
	// Keys lists requests currently held, in insertion order.
	Keys(ctx context.Context) ([]Request, error)
	Delete(ctx context.Context, req Request) (ok bool, err error)
}

// StorageOptions tune a provider-backed CacheStorage.
// Only Namespace and Provider are required; others have sensible defaults.
type StorageOptions struct {
	// Required
	Namespace string // isolates key spaces sharing one provider, e.g. "swcache:caches"
	Provider  pr.Provider

	Codec          c.Codec[Record] // nil => Msgpack
	GenStore       gen.GenStore    // nil => LocalGenStore without cleanup
	Logger         Logger          // nil => NopLogger
	Hooks          Hooks           // nil => NopHooks
	MaxRecordBytes int             // reject larger records on read; 0 => unlimited

	// Runtime holds the entries of every store IsRuntime reports true for.
	// It may evict (see provider.Evicting): the registry, indexes and all other
	// entries stay on Provider, so losing a runtime entry is only a cache miss.
	Runtime   pr.Provider
	IsRuntime func(name string) bool
}

type storage struct {
	ns       string
	provider pr.Provider
	codec    c.Codec[Record]
	gen      gen.GenStore
	ownsGen  bool
	log      Logger
	hooks    Hooks

	runtime   pr.Provider
	isRuntime func(string) bool

	// guards read-modify-write of the registry and the per-store indexes
	mu sync.Mutex
}

var _ CacheStorage = (*storage)(nil)

// NewStorage builds a CacheStorage over a byte provider.
func NewStorage(opts StorageOptions) (CacheStorage, error) {
	return newStorage(opts)
}

func newStorage(opts StorageOptions) (*storage, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("swcache: provider is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("swcache: namespace is required")
	}

	s := &storage{
		ns:       opts.Namespace,
		provider: opts.Provider,
		codec:    opts.Codec,
		gen:      opts.GenStore,
	}
	if s.codec == nil {
		s.codec = c.Msgpack[Record]{}
	}
	if opts.MaxRecordBytes > 0 {
		s.codec = c.LimitCodec[Record]{Inner: s.codec, MaxDecode: opts.MaxRecordBytes}
	}
	if s.gen == nil {
		// no cleanup: a pruned generation would revive records of a deleted store
		s.gen = gen.NewLocalGenStore()
		s.ownsGen = true
	}
	s.log = coalesce[Logger](opts.Logger, NopLogger{})
	s.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	if opts.Runtime != nil {
		if opts.IsRuntime == nil {
			return nil, fmt.Errorf("swcache: runtime provider needs IsRuntime")
		}
		s.runtime, s.isRuntime = opts.Runtime, opts.IsRuntime
	}
	return s, nil
}

func (s *storage) Close(ctx context.Context) error {
	// gen store first (best effort), then the providers
	if s.ownsGen {
		_ = s.gen.Close(ctx)
	}
	var errs []error
	if s.runtime != nil {
		errs = append(errs, s.runtime.Close(ctx))
	}
	errs = append(errs, s.provider.Close(ctx))
	return errors.Join(errs...)
}

// entries returns the provider holding the records of store name.
func (s *storage) entries(name string) pr.Provider {
	if s.runtime != nil && s.isRuntime(name) {
		return s.runtime
	}
	return s.provider
}

func (s *storage) Open(ctx context.Context, name string) (Store, error) {
	if name == "" {
		return nil, fmt.Errorf("swcache: store name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.readIndex(ctx, s.registryKey())
	if err != nil {
		return nil, err
	}
	for _, it := range reg {
		if it.Key == name {
			return &store{s: s, name: name}, nil
		}
	}
	g, err := s.gen.Snapshot(ctx, s.genKey(name))
	if err != nil {
		return nil, fmt.Errorf("open %q: gen snapshot: %w", name, err)
	}
	reg = append(reg, wire.IndexItem{Key: name, Gen: g})
	if err := s.writeIndex(ctx, s.registryKey(), reg); err != nil {
		return nil, fmt.Errorf("open %q: %w", name, err)
	}
	s.log.Debug("cache store created", Fields{"store": name, "gen": g})
	return &store{s: s, name: name}, nil
}

func (s *storage) Has(ctx context.Context, name string) (bool, error) {
	names, err := s.Keys(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *storage) Keys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	reg, err := s.readIndex(ctx, s.registryKey())
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(reg))
	for _, it := range reg {
		names = append(names, it.Key)
	}
	return names, nil
}

// Delete bumps the store generation before touching any bytes: once the bump
// lands, every record of the old generation reads as a miss even if the
// provider cannot delete it (BigCache) or a delete below fails.
func (s *storage) Delete(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.readIndex(ctx, s.registryKey())
	if err != nil {
		return false, err
	}
	pos := -1
	for i, it := range reg {
		if it.Key == name {
			pos = i
			break
		}
	}
	if pos < 0 {
		return false, nil
	}

	newGen, err := s.gen.Bump(ctx, s.genKey(name))
	if err != nil {
		return false, fmt.Errorf("delete %q: gen bump: %w", name, err)
	}
	reg = append(reg[:pos], reg[pos+1:]...)
	if err := s.writeIndex(ctx, s.registryKey(), reg); err != nil {
		return false, fmt.Errorf("delete %q: %w", name, err)
	}

	// best-effort byte cleanup
	idxKey := s.indexKey(name)
	if items, err := s.readIndex(ctx, idxKey); err == nil {
		p := s.entries(name)
		for _, it := range items {
			_ = p.Del(ctx, it.Key)
		}
	}
	_ = s.provider.Del(ctx, idxKey)
	s.log.Debug("cache store deleted", Fields{"store": name, "newGen": newGen})
	return true, nil
}

// Match reads every store generation in one snapshot before walking the stores.
func (s *storage) Match(ctx context.Context, req Request) (*Entry, bool, error) {
	names, err := s.Keys(ctx)
	if err != nil || len(names) == 0 {
		return nil, false, err
	}
	genKeys := make([]string, len(names))
	for i, name := range names {
		genKeys[i] = s.genKey(name)
	}
	gens, err := s.gen.SnapshotMany(ctx, genKeys)
	if err != nil {
		return nil, false, fmt.Errorf("match %s: gen snapshot: %w", req.URL, err)
	}
	var errs []error
	for i, name := range names {
		st := &store{s: s, name: name}
		e, ok, err := st.matchAt(ctx, req, gens[genKeys[i]])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return e, true, nil
		}
	}
	return nil, false, errors.Join(errs...)
}

func (s *storage) registryKey() string         { return s.ns + ":stores" }
func (s *storage) indexKey(name string) string { return s.ns + ":index:" + name }
func (s *storage) genKey(name string) string   { return s.ns + ":" + name }
func (s *storage) entryKey(name string, req Request) string {
	return util.StorageKey(s.ns+":entry:"+name, req.Key())
}

// readIndex loads a registry or index; a corrupt one is dropped and reads as empty.
// Callers hold s.mu.
func (s *storage) readIndex(ctx context.Context, key string) ([]wire.IndexItem, error) {
	raw, ok, err := s.provider.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	items, err := wire.DecodeIndex(raw)
	if err != nil {
		_ = s.provider.Del(ctx, key) // self-heal corrupt
		s.hooks.SelfHeal(key, "corrupt")
		s.log.Warn("dropped corrupt index", Fields{"key": key})
		return nil, nil
	}
	return items, nil
}

// writeIndex persists items. An empty list is written, not deleted, so the
// change lands on providers whose deletes are best-effort. Callers hold s.mu.
func (s *storage) writeIndex(ctx context.Context, key string, items []wire.IndexItem) error {
	raw, err := wire.EncodeIndex(items)
	if err != nil {
		return err
	}
	ok, err := s.provider.Set(ctx, key, raw, int64(len(raw)), 0)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if !ok {
		s.hooks.ProviderSetRejected(key)
		return fmt.Errorf("write %s: %w", key, ErrWriteRejected)
	}
	return nil
}

func (s *storage) snapshotGen(ctx context.Context, name string) (uint64, error) {
	g, err := s.gen.Snapshot(ctx, s.genKey(name))
	if err != nil {
		s.log.Warn("gen snapshot error", Fields{"store": name, "err": err})
		return 0, err
	}
	return g, nil
}

type store struct {
	s    *storage
	name string
}

func (st *store) Name() string { return st.name }

func (st *store) Put(ctx context.Context, req Request, e *Entry) error {
	if e == nil {
		return fmt.Errorf("swcache: put %s: nil entry", req.URL)
	}
	s := st.s
	g, err := s.snapshotGen(ctx, st.name)
	if err != nil {
		return fmt.Errorf("put %s: %w", req.URL, err)
	}
	payload, err := s.codec.Encode(Record{Request: req, Entry: *e})
	if err != nil {
		return fmt.Errorf("put %s: encode: %w", req.URL, err)
	}
	k := s.entryKey(st.name, req)
	raw := wire.EncodeRecord(g, payload)
	ok, err := s.entries(st.name).Set(ctx, k, raw, int64(len(raw)), 0)
	if err != nil {
		return fmt.Errorf("put %s: %w", req.URL, err)
	}
	if !ok {
		s.hooks.ProviderSetRejected(k)
		s.log.Debug("put rejected by provider (pressure)", Fields{"store": st.name, "url": req.URL})
		return fmt.Errorf("put %s: %w", req.URL, ErrWriteRejected)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idxKey := s.indexKey(st.name)
	items, err := s.readIndex(ctx, idxKey)
	if err != nil {
		return err
	}
	for i, it := range items {
		if it.Key == k {
			if it.Gen == g {
				return nil
			}
			items = append(items[:i], items[i+1:]...)
			break
		}
	}
	items = append(items, wire.IndexItem{Key: k, Gen: g})
	return s.writeIndex(ctx, idxKey, items)
}

func (st *store) Match(ctx context.Context, req Request) (*Entry, bool, error) {
	cur, err := st.s.snapshotGen(ctx, st.name)
	if err != nil {
		return nil, false, err
	}
	return st.matchAt(ctx, req, cur)
}

// matchAt is Match against an already snapshotted generation.
func (st *store) matchAt(ctx context.Context, req Request, cur uint64) (*Entry, bool, error) {
	k := st.s.entryKey(st.name, req)
	rec, ok, err := st.load(ctx, k, cur)
	if err != nil || !ok {
		return nil, false, err
	}
	if rec.Request.Key() != req.Key() {
		// hashed storage keys collided; treat as foreign
		_ = st.s.entries(st.name).Del(ctx, k)
		st.s.hooks.SelfHeal(k, "key_mismatch")
		return nil, false, nil
	}
	e := rec.Entry
	return &e, true, nil
}

// load reads and validates one record written under generation cur. Corrupt,
// stale or undecodable bytes are deleted and read as a miss.
func (st *store) load(ctx context.Context, k string, cur uint64) (*Record, bool, error) {
	s := st.s
	p := s.entries(st.name)
	raw, ok, err := p.Get(ctx, k)
	if err != nil || !ok {
		return nil, false, err
	}
	g, payload, err := wire.DecodeRecord(raw)
	if err != nil {
		_ = p.Del(ctx, k) // self-heal corrupt
		s.hooks.SelfHeal(k, "corrupt")
		return nil, false, nil
	}
	if g != cur {
		_ = p.Del(ctx, k)
		s.hooks.SelfHeal(k, "gen_mismatch")
		return nil, false, nil
	}
	rec, err := s.codec.Decode(payload)
	if err != nil {
		_ = p.Del(ctx, k) // self-heal
		s.hooks.SelfHeal(k, "record_decode")
		return nil, false, nil
	}
	return &rec, true, nil
}

// Keys drops index items whose record is gone (evicted, expired, stale).
func (st *store) Keys(ctx context.Context) ([]Request, error) {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()

	idxKey := s.indexKey(st.name)
	items, err := s.readIndex(ctx, idxKey)
	if err != nil {
		return nil, err
	}
	cur, err := s.snapshotGen(ctx, st.name)
	if err != nil {
		return nil, err
	}

	out := make([]Request, 0, len(items))
	live := items[:0]
	for _, it := range items {
		if it.Gen != cur {
			continue
		}
		rec, ok, err := st.load(ctx, it.Key, cur)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, rec.Request)
		live = append(live, it)
	}
	if len(live) != len(items) {
		if err := s.writeIndex(ctx, idxKey, live); err != nil {
			s.log.Warn("index prune failed", Fields{"store": st.name, "err": err})
		}
	}
	return out, nil
}

func (st *store) Delete(ctx context.Context, req Request) (bool, error) {
	s := st.s
	k := s.entryKey(st.name, req)
	if err := s.entries(st.name).Del(ctx, k); err != nil {
		return false, fmt.Errorf("delete %s: %w", req.URL, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idxKey := s.indexKey(st.name)
	items, err := s.readIndex(ctx, idxKey)
	if err != nil {
		return false, err
	}
	for i, it := range items {
		if it.Key == k {
			items = append(items[:i], items[i+1:]...)
			return true, s.writeIndex(ctx, idxKey, items)
		}
	}
	return false, nil
}
