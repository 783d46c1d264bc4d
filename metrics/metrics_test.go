package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/unkn0wn-root/swcache"
	"github.com/unkn0wn-root/swcache/provider"
)

func TestHooksCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, Config{})

	m.FetchServed(swcache.KindNavigation, swcache.SourceOffline)
	m.FetchServed(swcache.KindNavigation, swcache.SourceOffline)
	m.FetchServed(swcache.KindAsset, swcache.SourceCache)
	m.SelfHeal("k", "gen_mismatch")
	m.SubmissionRetained("https://example.dev/contact", errors.New("down"))

	if got := testutil.ToFloat64(m.fetches.WithLabelValues("navigation", "offline")); got != 2 {
		t.Fatalf("navigation/offline = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.fetches.WithLabelValues("asset", "cache")); got != 1 {
		t.Fatalf("asset/cache = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.selfHeals.WithLabelValues("gen_mismatch")); got != 1 {
		t.Fatalf("self heals = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.retained); got != 1 {
		t.Fatalf("retained = %v, want 1", got)
	}
}

func TestHandlerExposesSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, Config{})
	m.InstallFailed("v1", errors.New("boom"))
	m.ObserveRequest(http.MethodGet, "/_sw/state", http.StatusOK, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"swcache_install_failures_total 1", "swcache_http_request_duration_seconds_count"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

type fixedStats provider.Stats

func (f fixedStats) Stats() provider.Stats { return provider.Stats(f) }

func TestRegisterProviderExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := RegisterProvider(reg, "runtime", fixedStats{Hits: 7, Misses: 3, Evicted: 2}); err != nil {
		t.Fatalf("RegisterProvider: %v", err)
	}
	want := `
# HELP swcache_provider_evictions_total Entries the provider dropped on its own
# TYPE swcache_provider_evictions_total counter
swcache_provider_evictions_total{tier="runtime"} 2
# HELP swcache_provider_hits_total Provider reads that found a value
# TYPE swcache_provider_hits_total counter
swcache_provider_hits_total{tier="runtime"} 7
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want),
		"swcache_provider_hits_total", "swcache_provider_evictions_total"); err != nil {
		t.Fatal(err)
	}
	if err := RegisterProvider(reg, "runtime", fixedStats{}); err == nil {
		t.Fatalf("second registration of the same tier should fail")
	}
}
