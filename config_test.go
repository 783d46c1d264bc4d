package swcache

import (
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig(testOrigin)
	if c.StaticCacheName() != "portfolio-static-v1.0.0" || c.RuntimeCacheName() != "portfolio-runtime-v1.0.0" {
		t.Fatalf("names = %s, %s", c.StaticCacheName(), c.RuntimeCacheName())
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(c.ExternalManifest) != 3 || len(c.TrustedHosts) != 3 {
		t.Fatalf("defaults = %+v", c)
	}
}

func TestWithDefaultsCopiesSlices(t *testing.T) {
	static := []string{"/", "/404.html"}
	c := Config{Origin: testOrigin, StaticManifest: static}.WithDefaults()
	static[0] = "/mutated"
	if c.StaticManifest[0] != "/" {
		t.Fatalf("config shares the caller's slice")
	}
	if c := (Config{Origin: testOrigin, ExternalManifest: []string{}}).WithDefaults(); len(c.ExternalManifest) != 0 {
		t.Fatalf("empty external manifest replaced by defaults")
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	c := DefaultConfig("")
	c.OfflinePage = "/offline.html"
	c.StaticManifest = append(c.StaticManifest, "styles.css")
	c.ExternalManifest = []string{"/not-absolute"}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"origin is required", "offline page", "same-origin path", "absolute URL"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q lacks %q", err, want)
		}
	}
}

func TestValidateRejectsNonHTTPOrigin(t *testing.T) {
	if err := DefaultConfig("file:///srv/site").Validate(); err == nil {
		t.Fatalf("file origin accepted")
	}
}
