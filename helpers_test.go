package swcache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/swcache/genstore"
)

const testOrigin = "https://example.dev"

// memProvider is an in-memory provider.Provider.
type memProvider struct {
	mu         sync.Mutex
	m          map[string][]byte
	rejectSets bool
	keepOnDel  bool // models stores that cannot delete (BigCache-like)
	closes     int
}

func newMemProvider() *memProvider { return &memProvider{m: make(map[string][]byte)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rejectSets {
		return false, nil
	}
	p.m[key] = bytes.Clone(value)
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.keepOnDel {
		delete(p.m, key)
	}
	return nil
}

func (p *memProvider) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

func (p *memProvider) has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.m[key]
	return ok
}

func (p *memProvider) put(key string, v []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[key] = v
}

// route is a canned network answer.
type route struct {
	status int
	body   string
	header http.Header
	err    error
}

type sent struct {
	method string
	url    string
	header http.Header
	body   string
}

// fakeNet is a Fetcher answering from a route table keyed by "METHOD URL".
// Unknown routes answer 404; offline fails every request.
type fakeNet struct {
	mu      sync.Mutex
	routes  map[string]route
	offline bool
	sent    []sent
	block   chan struct{} // when set, Do waits on it
	started chan struct{}
	panics  bool
}

func newFakeNet() *fakeNet { return &fakeNet{routes: make(map[string]route)} }

func (f *fakeNet) set(method, url string, r route) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[method+" "+url] = r
}

func (f *fakeNet) setOffline(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = v
}

func (f *fakeNet) calls(method, url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		if s.method == method && s.url == url {
			n++
		}
	}
	return n
}

func (f *fakeNet) Do(r *http.Request) (*http.Response, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-r.Context().Done():
			return nil, r.Context().Err()
		}
	}
	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(r.Body)
	}

	f.mu.Lock()
	if f.panics {
		f.mu.Unlock()
		panic("fetcher exploded")
	}
	f.sent = append(f.sent, sent{method: r.Method, url: r.URL.String(), header: r.Header.Clone(), body: string(body)})
	offline := f.offline
	rt, ok := f.routes[r.Method+" "+r.URL.String()]
	f.mu.Unlock()

	if offline {
		return nil, errors.New("dial tcp: network is unreachable")
	}
	if !ok {
		rt = route{status: http.StatusNotFound, body: "not found"}
	}
	if rt.err != nil {
		return nil, rt.err
	}
	h := rt.header.Clone()
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{
		StatusCode: rt.status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(rt.body)),
		Request:    r,
	}, nil
}

// site serves every default static asset and external asset.
func site() *fakeNet {
	f := newFakeNet()
	for _, p := range defaultStaticManifest {
		f.set(http.MethodGet, testOrigin+p, route{status: http.StatusOK, body: "static:" + p})
	}
	for _, u := range defaultExternalManifest {
		f.set(http.MethodGet, u, route{status: http.StatusOK, body: "external:" + u})
	}
	return f
}

type recHooks struct {
	NopHooks
	mu             sync.Mutex
	installFailed  []error
	externalFailed []string
	staleDeleted   []string
	served         []Source
	failed         []error
	stored         []string
	skipped        map[string]string
	resent         []string
	retained       []string
	shown          []string
	selfHeals      []string
	rejected       []string
}

func newRecHooks() *recHooks { return &recHooks{skipped: map[string]string{}} }

func (h *recHooks) InstallFailed(_ string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.installFailed = append(h.installFailed, err)
}
func (h *recHooks) ExternalAssetFailed(u string, _ error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.externalFailed = append(h.externalFailed, u)
}
func (h *recHooks) StaleStoreDeleted(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.staleDeleted = append(h.staleDeleted, name)
}
func (h *recHooks) FetchServed(_ RequestKind, s Source) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.served = append(h.served, s)
}
func (h *recHooks) FetchFailed(_ RequestKind, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failed = append(h.failed, err)
}
func (h *recHooks) RuntimeStored(u string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stored = append(h.stored, u)
}
func (h *recHooks) RuntimeSkipped(u, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.skipped[u] = reason
}
func (h *recHooks) SubmissionResent(u string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resent = append(h.resent, u)
}
func (h *recHooks) SubmissionRetained(u string, _ error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retained = append(h.retained, u)
}
func (h *recHooks) NotificationShown(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shown = append(h.shown, id)
}
func (h *recHooks) SelfHeal(_, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.selfHeals = append(h.selfHeals, reason)
}
func (h *recHooks) ProviderSetRejected(k string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rejected = append(h.rejected, k)
}

type logLine struct {
	level string
	msg   string
	f     Fields
}

type recLogger struct {
	mu    sync.Mutex
	lines []logLine
}

func (l *recLogger) add(level, msg string, f Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, logLine{level, msg, f})
}
func (l *recLogger) Debug(msg string, f Fields) { l.add("debug", msg, f) }
func (l *recLogger) Info(msg string, f Fields)  { l.add("info", msg, f) }
func (l *recLogger) Warn(msg string, f Fields)  { l.add("warn", msg, f) }
func (l *recLogger) Error(msg string, f Fields) { l.add("error", msg, f) }

func (l *recLogger) errors() []logLine {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []logLine
	for _, ln := range l.lines {
		if ln.level == "error" {
			out = append(out, ln)
		}
	}
	return out
}

type fakeNotifier struct {
	mu     sync.Mutex
	shown  []Notification
	closed []string
}

func (n *fakeNotifier) Show(_ context.Context, x Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = append(n.shown, x)
	return nil
}

func (n *fakeNotifier) Close(_ context.Context, id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = append(n.closed, id)
	return nil
}

type harness struct {
	w      *worker
	p      *memProvider
	net    *fakeNet
	hooks  *recHooks
	log    *recLogger
	notify *fakeNotifier
}

// newHarness builds a worker over fresh fakes; opts may adjust the options first.
func newHarness(t *testing.T, net *fakeNet, opts ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		p:      newMemProvider(),
		net:    net,
		hooks:  newRecHooks(),
		log:    &recLogger{},
		notify: &fakeNotifier{},
	}
	o := Options{
		Config:   DefaultConfig(testOrigin),
		Provider: h.p,
		GenStore: genstore.NewLocalGenStore(),
		Fetcher:  net,
		Notifier: h.notify,
		Logger:   h.log,
		Hooks:    h.hooks,
		Now:      func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
	for _, fn := range opts {
		fn(&o)
	}
	w, err := newWorker(o)
	if err != nil {
		t.Fatalf("newWorker: %v", err)
	}
	h.w = w
	t.Cleanup(func() { _ = w.Close(context.Background()) })
	return h
}

// started returns an activated harness over the default site.
func started(t *testing.T, opts ...func(*Options)) *harness {
	t.Helper()
	h := newHarness(t, site(), opts...)
	if err := h.w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return h
}

func get(path string, header ...string) *http.Request {
	r, _ := http.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		r.Header.Set(header[i], header[i+1])
	}
	return r
}

func navigate(path string) *http.Request {
	return get(path, "Sec-Fetch-Mode", "navigate", "Accept", "text/html,application/xhtml+xml")
}

// evictingProvider is a bounded FIFO store that drops its oldest key once it
// holds max keys, like an in-memory cache under pressure.
type evictingProvider struct {
	*memProvider
	max   int
	order []string
}

func newEvictingProvider(max int) *evictingProvider {
	return &evictingProvider{memProvider: newMemProvider(), max: max}
}

func (p *evictingProvider) Evicts() bool { return true }

func (p *evictingProvider) Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	if _, ok := p.m[key]; !ok {
		p.order = append(p.order, key)
		for len(p.order) > p.max {
			delete(p.m, p.order[0])
			p.order = p.order[1:]
		}
	}
	p.mu.Unlock()
	return p.memProvider.Set(ctx, key, value, cost, ttl)
}

func (p *evictingProvider) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}
