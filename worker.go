package swcache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	pr "github.com/unkn0wn-root/swcache/provider"
)

var tracer = otel.Tracer("github.com/unkn0wn-root/swcache")

// State is the worker lifecycle position.
type State int32

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return "unknown"
	}
}

type worker struct {
	cfg     Config
	origin  *url.URL
	caches  CacheStorage
	queue   CacheStorage
	fetcher Fetcher
	notify  Notifier
	log     Logger
	hooks   Hooks
	now     func() time.Time

	state       atomic.Int32
	controlling atomic.Bool
	skipWaiting atomic.Bool

	// a handler holds lifeMu.RLock only while registering in inflight
	lifeMu   sync.RWMutex
	closed   bool
	inflight sync.WaitGroup

	syncMu    sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newWorker(opts Options) (*worker, error) {
	cfg := opts.Config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	origin, _ := url.Parse(cfg.Origin) // validated above
	origin.Path, origin.RawQuery, origin.Fragment = "", "", ""

	w := &worker{
		cfg:     cfg,
		origin:  origin,
		caches:  opts.Caches,
		queue:   opts.Queue,
		fetcher: opts.Fetcher,
		notify:  opts.Notifier,
		now:     opts.Now,
	}
	w.log = coalesce[Logger](opts.Logger, NopLogger{})
	w.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	if w.fetcher == nil {
		w.fetcher = &http.Client{}
	}
	if w.notify == nil {
		w.notify = logNotifier{log: w.log}
	}
	if w.now == nil {
		w.now = time.Now
	}

	if opts.Caches == nil && pr.Evicts(opts.Provider) {
		return nil, fmt.Errorf("caches: %w", ErrEvictingProvider)
	}
	if opts.Queue == nil && pr.Evicts(opts.QueueProvider) {
		return nil, fmt.Errorf("queue: %w", ErrEvictingProvider)
	}

	storageOpts := StorageOptions{
		Provider:       opts.Provider,
		Codec:          opts.Codec,
		GenStore:       opts.GenStore,
		Logger:         w.log,
		Hooks:          w.hooks,
		MaxRecordBytes: opts.MaxRecordBytes,
	}
	if w.caches == nil {
		so := storageOpts
		so.Namespace = cachesNamespace
		if opts.RuntimeProvider != nil {
			runtimePrefix := cfg.Prefix + "-runtime-"
			so.Runtime = opts.RuntimeProvider
			so.IsRuntime = func(name string) bool { return strings.HasPrefix(name, runtimePrefix) }
		}
		s, err := newStorage(so)
		if err != nil {
			return nil, fmt.Errorf("caches: %w", err)
		}
		w.caches = s
	}
	if w.queue == nil {
		so := storageOpts
		so.Namespace = queueNamespace
		switch {
		case opts.QueueProvider != nil:
			so.Provider = opts.QueueProvider
		case opts.Provider != nil:
			// shared with the caches; only one of the two storages may close it
			so.Provider = keepOpen{opts.Provider}
		}
		s, err := newStorage(so)
		if err != nil {
			return nil, fmt.Errorf("queue: %w", err)
		}
		w.queue = s
	}
	return w, nil
}

type keepOpen struct{ pr.Provider }

func (keepOpen) Close(context.Context) error { return nil }

func (w *worker) State() State      { return State(w.state.Load()) }
func (w *worker) Controlling() bool { return w.controlling.Load() }

// extend keeps the worker alive until the returned func runs; Close waits on it.
func (w *worker) extend() (func(), error) {
	w.lifeMu.RLock()
	defer w.lifeMu.RUnlock()
	if w.closed {
		return nil, ErrClosed
	}
	w.inflight.Add(1)
	return w.inflight.Done, nil
}

// recoverPanic turns a handler panic into a logged error. Deferred with the
// handler's named error result.
func (w *worker) recoverPanic(event string, errp *error) {
	if r := recover(); r != nil {
		err := fmt.Errorf("panic in %s handler: %v", event, r)
		w.ReportError(err)
		if errp != nil {
			*errp = err
		}
	}
}

func (w *worker) ReportError(err error) {
	if err == nil {
		return
	}
	w.log.Error("unhandled worker error", Fields{"err": err})
}

func endSpan(span trace.Span, errp *error) {
	if errp != nil && *errp != nil {
		span.RecordError(*errp)
		span.SetStatus(codes.Error, (*errp).Error())
	}
	span.End()
}

func (w *worker) Start(ctx context.Context) error {
	if err := w.Install(ctx); err != nil {
		return err
	}
	return w.Activate(ctx)
}

func (w *worker) Install(ctx context.Context) (err error) {
	done, err := w.extend()
	if err != nil {
		return err
	}
	defer done()
	defer w.recoverPanic("install", &err)

	if !w.state.CompareAndSwap(int32(StateParsed), int32(StateInstalling)) {
		switch w.State() {
		case StateInstalled, StateActivating, StateActivated:
			return nil
		case StateInstalling:
			return ErrInstalling
		default:
			return ErrRedundant
		}
	}

	ctx, span := tracer.Start(ctx, "swcache.install",
		trace.WithAttributes(attribute.String("swcache.version", w.cfg.Version)))
	defer endSpan(span, &err)

	w.log.Info("installing", Fields{"version": w.cfg.Version, "static": len(w.cfg.StaticManifest)})

	static, err := w.caches.Open(ctx, w.cfg.StaticCacheName())
	if err != nil {
		return w.failInstall(ctx, err)
	}

	urls := make([]string, len(w.cfg.StaticManifest))
	for i, p := range w.cfg.StaticManifest {
		urls[i] = w.abs(p)
	}
	got, failed := w.fetchBatch(ctx, urls)
	if len(failed) > 0 {
		return w.failInstall(ctx, &InstallError{Version: w.cfg.Version, Failed: failed})
	}
	// all-or-nothing: nothing is written until every mandatory asset arrived
	for _, f := range got {
		if err := static.Put(ctx, f.req, shareable(f.entry)); err != nil {
			return w.failInstall(ctx, err)
		}
	}
	w.log.Info("static assets cached", Fields{"store": static.Name(), "count": len(got)})

	w.cacheExternal(ctx, static)

	w.state.Store(int32(StateInstalled))
	// supersede any waiting version without waiting for pages to close
	w.skipWaiting.Store(true)
	return nil
}

func (w *worker) failInstall(ctx context.Context, cause error) error {
	w.state.Store(int32(StateRedundant))
	// a partially written static store must not survive
	if _, err := w.caches.Delete(ctx, w.cfg.StaticCacheName()); err != nil {
		w.log.Warn("cleanup of partial static store failed", Fields{"err": err})
	}
	w.hooks.InstallFailed(w.cfg.Version, cause)
	w.log.Error("cache installation failed", Fields{"version": w.cfg.Version, "err": cause})
	var ie *InstallError
	if errors.As(cause, &ie) {
		return cause
	}
	return fmt.Errorf("install %s: %w", w.cfg.Version, cause)
}

type fetched struct {
	req   Request
	entry *Entry
}

// fetchBatch fetches every URL (bounded by InstallConcurrency) and keeps going
// after failures so each failure is reported. A non-2xx, non-opaque response
// counts as a failure.
func (w *worker) fetchBatch(ctx context.Context, urls []string) ([]fetched, map[string]error) {
	out := make([]fetched, len(urls))
	var (
		mu     sync.Mutex
		failed map[string]error
	)
	var g errgroup.Group
	g.SetLimit(w.cfg.InstallConcurrency)
	for i, u := range urls {
		g.Go(func() error {
			req := NewRequest(http.MethodGet, u)
			e, err := w.network(ctx, req)
			if err == nil && !e.Opaque() && (e.Status < 200 || e.Status > 299) {
				err = &StatusError{URL: u, Status: e.Status}
			}
			if err != nil {
				mu.Lock()
				if failed == nil {
					failed = make(map[string]error)
				}
				failed[u] = err
				mu.Unlock()
				return nil
			}
			out[i] = fetched{req: req, entry: e}
			return nil
		})
	}
	_ = g.Wait()

	ok := out[:0]
	for _, f := range out {
		if f.entry != nil {
			ok = append(ok, f)
		}
	}
	return ok, failed
}

// cacheExternal caches cross-origin assets best-effort.
func (w *worker) cacheExternal(ctx context.Context, static Store) {
	if len(w.cfg.ExternalManifest) == 0 {
		return
	}
	got, failed := w.fetchBatch(ctx, w.cfg.ExternalManifest)
	for u, err := range failed {
		w.hooks.ExternalAssetFailed(u, err)
		w.log.Warn("external asset not cached", Fields{"url": u, "err": err})
	}
	for _, f := range got {
		if err := static.Put(ctx, f.req, shareable(f.entry)); err != nil {
			w.hooks.ExternalAssetFailed(f.req.URL, err)
			w.log.Warn("external asset not cached", Fields{"url": f.req.URL, "err": err})
		}
	}
}

func (w *worker) Activate(ctx context.Context) (err error) {
	done, err := w.extend()
	if err != nil {
		return err
	}
	defer done()
	defer w.recoverPanic("activate", &err)

	if !w.state.CompareAndSwap(int32(StateInstalled), int32(StateActivating)) {
		switch w.State() {
		case StateActivating, StateActivated:
			return nil
		case StateRedundant:
			return ErrRedundant
		default:
			return ErrNotInstalled
		}
	}
	if !w.skipWaiting.Load() {
		// a waiting version stays installed until it skips waiting
		w.state.Store(int32(StateInstalled))
		return ErrNotInstalled
	}

	ctx, span := tracer.Start(ctx, "swcache.activate",
		trace.WithAttributes(attribute.String("swcache.version", w.cfg.Version)))
	defer endSpan(span, &err)

	w.log.Info("activating", Fields{"version": w.cfg.Version})

	current := map[string]bool{
		w.cfg.StaticCacheName():  true,
		w.cfg.RuntimeCacheName(): true,
	}
	names, err := w.caches.Keys(ctx)
	if err != nil {
		// controlling with unknown leftovers beats not controlling at all
		w.log.Error("listing cache stores failed", Fields{"err": err})
	}
	var errs []error
	if err != nil {
		errs = append(errs, err)
	}
	for _, name := range names {
		if current[name] {
			continue
		}
		if _, err := w.caches.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete %q: %w", name, err))
			continue
		}
		w.hooks.StaleStoreDeleted(name)
		w.log.Info("deleted old cache", Fields{"store": name})
	}

	// claim open pages immediately
	w.state.Store(int32(StateActivated))
	w.controlling.Store(true)
	w.log.Info("activated", Fields{"version": w.cfg.Version})
	return errors.Join(errs...)
}

func (w *worker) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		w.lifeMu.Lock()
		w.closed = true
		w.lifeMu.Unlock()
		w.controlling.Store(false)

		waited := make(chan struct{})
		go func() {
			w.inflight.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-ctx.Done():
			w.log.Warn("closing with handlers still running", Fields{"err": ctx.Err()})
		}

		w.closeErr = errors.Join(w.caches.Close(ctx), w.queue.Close(ctx))
	})
	return w.closeErr
}

// abs resolves a same-origin path against the origin.
func (w *worker) abs(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return w.origin.String() + path
	}
	return w.origin.ResolveReference(ref).String()
}

func (w *worker) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, w.origin.Scheme) && strings.EqualFold(u.Host, w.origin.Host)
}

func (w *worker) trusted(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	for _, h := range w.cfg.TrustedHosts {
		h = strings.ToLower(h)
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
