package swcache

import (
	"context"
	"net/http"
	"time"

	c "github.com/unkn0wn-root/swcache/codec"
	gen "github.com/unkn0wn-root/swcache/genstore"
	pr "github.com/unkn0wn-root/swcache/provider"
)

// Worker is the offline cache manager. Each method is one lifecycle event.
type Worker interface {
	State() State
	// Controlling reports whether Fetch intercepts requests (after activation).
	Controlling() bool

	// Start runs Install then Activate.
	Start(ctx context.Context) error
	Install(ctx context.Context) error
	Activate(ctx context.Context) error

	// Fetch routes r. ok=false means r is not intercepted and should go to the
	// network untouched.
	Fetch(ctx context.Context, r *http.Request) (res *Response, ok bool, err error)

	// Enqueue stores a submission that could not be delivered; Sync resends it.
	Enqueue(ctx context.Context, r *http.Request) error
	QueueLen(ctx context.Context) (int, error)
	// Sync handles a background sync event. Unknown tags are ignored.
	Sync(ctx context.Context, tag string) (SyncResult, error)

	// Push turns a JSON push payload into a shown notification.
	// An empty payload shows nothing and returns (nil, nil).
	Push(ctx context.Context, payload []byte) (*Notification, error)
	// NotificationClick closes n and returns the URL to open.
	NotificationClick(ctx context.Context, n Notification) (string, error)

	// ReportError logs an error nothing else handled.
	ReportError(err error)

	// Close waits for in-flight handlers (bounded by ctx) and closes the storages.
	Close(ctx context.Context) error
}

// Fetcher performs network requests. *http.Client satisfies it.
type Fetcher interface {
	Do(*http.Request) (*http.Response, error)
}

// Options configure a Worker.
// Config.Origin and either Provider or Caches+Queue are required.
type Options struct {
	Config Config

	// Provider backs both the cache stores and (unless QueueProvider is set) the
	// submission queue, each under its own namespace. Neither may evict
	// (provider.Evicting): the static store must outlive memory pressure.
	Provider      pr.Provider
	QueueProvider pr.Provider
	// RuntimeProvider, when set, holds the entries of runtime stores only and
	// may evict (Ristretto, BigCache).
	RuntimeProvider pr.Provider
	GenStore        gen.GenStore    // nil => in-process generations
	Codec           c.Codec[Record] // nil => Msgpack
	// MaxRecordBytes bounds records read back from a provider; 0 => unlimited.
	MaxRecordBytes int

	// Caches and Queue override the provider-built storages.
	Caches CacheStorage
	Queue  CacheStorage

	Fetcher  Fetcher  // nil => &http.Client{}
	Notifier Notifier // nil => notifications are logged and dropped
	Logger   Logger   // nil => NopLogger
	Hooks    Hooks    // nil => NopHooks

	Now func() time.Time // nil => time.Now
}

const (
	cachesNamespace = "swcache:caches"
	queueNamespace  = "swcache:queue"
)

func New(opts Options) (Worker, error) {
	return newWorker(opts)
}
