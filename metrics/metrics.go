// Package metrics exports worker events as Prometheus series with the swcache_ prefix.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unkn0wn-root/swcache"
	"github.com/unkn0wn-root/swcache/provider"
)

// Config tunes the series. The zero value is usable.
type Config struct {
	// DurationBuckets for the front server request histogram
	DurationBuckets []float64
}

var defaultBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics implements swcache.Hooks by counting events.
type Metrics struct {
	installFailures  prometheus.Counter
	externalFailures prometheus.Counter
	staleDeleted     prometheus.Counter
	fetches          *prometheus.CounterVec
	fetchFailures    *prometheus.CounterVec
	runtimeStored    prometheus.Counter
	runtimeSkipped   *prometheus.CounterVec
	resent           prometheus.Counter
	retained         prometheus.Counter
	notifications    prometheus.Counter
	selfHeals        *prometheus.CounterVec
	setRejected      prometheus.Counter

	requests *prometheus.HistogramVec
}

var _ swcache.Hooks = (*Metrics)(nil)

// New registers every series on reg. A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, cfg Config) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if len(cfg.DurationBuckets) == 0 {
		cfg.DurationBuckets = defaultBuckets
	}
	f := promauto.With(reg)
	return &Metrics{
		installFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "swcache_install_failures_total",
			Help: "Install attempts that failed on a mandatory asset",
		}),
		externalFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "swcache_external_asset_failures_total",
			Help: "Best-effort external assets that could not be cached",
		}),
		staleDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "swcache_stale_stores_deleted_total",
			Help: "Cache stores deleted on activation",
		}),
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "swcache_fetch_served_total",
			Help: "Intercepted requests answered, by kind and source",
		}, []string{"kind", "source"}),
		fetchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "swcache_fetch_failures_total",
			Help: "Intercepted requests that could not be answered",
		}, []string{"kind"}),
		runtimeStored: f.NewCounter(prometheus.CounterOpts{
			Name: "swcache_runtime_stored_total",
			Help: "Network responses copied into the runtime store",
		}),
		runtimeSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "swcache_runtime_skipped_total",
			Help: "Network responses not cached, by reason",
		}, []string{"reason"}),
		resent: f.NewCounter(prometheus.CounterOpts{
			Name: "swcache_submissions_resent_total",
			Help: "Queued submissions delivered by a sync drain",
		}),
		retained: f.NewCounter(prometheus.CounterOpts{
			Name: "swcache_submissions_retained_total",
			Help: "Queued submissions that failed again and stay queued",
		}),
		notifications: f.NewCounter(prometheus.CounterOpts{
			Name: "swcache_notifications_shown_total",
			Help: "Push messages turned into notifications",
		}),
		selfHeals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "swcache_self_heals_total",
			Help: "Stored records dropped on read, by reason",
		}, []string{"reason"}),
		setRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "swcache_provider_set_rejected_total",
			Help: "Writes the provider refused",
		}),
		requests: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "swcache_http_request_duration_seconds",
			Help:    "Front server request duration in seconds",
			Buckets: cfg.DurationBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) InstallFailed(string, error)       { m.installFailures.Inc() }
func (m *Metrics) ExternalAssetFailed(string, error) { m.externalFailures.Inc() }
func (m *Metrics) StaleStoreDeleted(string)          { m.staleDeleted.Inc() }
func (m *Metrics) FetchServed(k swcache.RequestKind, s swcache.Source) {
	m.fetches.WithLabelValues(k.String(), s.String()).Inc()
}
func (m *Metrics) FetchFailed(k swcache.RequestKind, _ error) {
	m.fetchFailures.WithLabelValues(k.String()).Inc()
}
func (m *Metrics) RuntimeStored(string)             { m.runtimeStored.Inc() }
func (m *Metrics) RuntimeSkipped(_, reason string)  { m.runtimeSkipped.WithLabelValues(reason).Inc() }
func (m *Metrics) SubmissionResent(string)          { m.resent.Inc() }
func (m *Metrics) SubmissionRetained(string, error) { m.retained.Inc() }
func (m *Metrics) NotificationShown(string)         { m.notifications.Inc() }
func (m *Metrics) SelfHeal(_, reason string)        { m.selfHeals.WithLabelValues(reason).Inc() }
func (m *Metrics) ProviderSetRejected(string)       { m.setRejected.Inc() }

// ObserveRequest records one front server request. route is the matched
// pattern, not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// RegisterProvider exports the hit, miss and eviction counters of an
// in-process provider, labelled with tier (e.g. "runtime").
func RegisterProvider(reg prometheus.Registerer, tier string, p provider.StatsReporter) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string, read func(provider.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        name,
			Help:        help,
			ConstLabels: prometheus.Labels{"tier": tier},
		}, func() float64 { return float64(read(p.Stats())) })
	}
	for _, c := range []prometheus.Collector{
		counter("swcache_provider_hits_total", "Provider reads that found a value",
			func(s provider.Stats) uint64 { return s.Hits }),
		counter("swcache_provider_misses_total", "Provider reads that found nothing",
			func(s provider.Stats) uint64 { return s.Misses }),
		counter("swcache_provider_evictions_total", "Entries the provider dropped on its own",
			func(s provider.Stats) uint64 { return s.Evicted }),
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the series gathered by g (nil => default gatherer).
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
