package swcache

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// Config is the immutable description of one worker version: which stores are
// current, what must be cached before going live, and which hosts may be cached.
// New copies it; later mutation of the caller's slices has no effect.
type Config struct {
	// Origin is the site's own origin, e.g. "https://example.dev". Required.
	Origin string
	// Prefix and Version name the current stores: <prefix>-static-<version>
	// and <prefix>-runtime-<version>.
	Prefix  string
	Version string

	// StaticManifest lists same-origin paths that must all be cached at install.
	StaticManifest []string
	// ExternalManifest lists cross-origin URLs cached best-effort at install.
	ExternalManifest []string
	// TrustedHosts may be written to the runtime store (subdomains included).
	TrustedHosts []string

	OfflinePage string // served to navigations that neither network nor cache can answer
	SyncTag     string // background sync tag that drains the submission queue
	QueueStore  string // store name of the submission queue
	Icon        string
	Badge       string

	InstallConcurrency int   // parallel fetches per install batch; 0 => 4
	MaxBodyBytes       int64 // per response/submission body; 0 => unlimited
}

var (
	defaultStaticManifest = []string{
		"/",
		"/index.html",
		"/styles.css",
		"/script.js",
		"/404.html",
		"/favicon.ico",
	}
	defaultExternalManifest = []string{
		"https://cdnjs.cloudflare.com/ajax/libs/font-awesome/6.4.0/css/all.min.css",
		"https://fonts.googleapis.com/css2?family=Poppins:wght@300;400;500;600;700&display=swap",
		"https://cdn.jsdelivr.net/particles.js/2.0.0/particles.min.js",
	}
	defaultTrustedHosts = []string{
		"cdnjs.cloudflare.com",
		"fonts.googleapis.com",
		"fonts.gstatic.com",
	}
)

// DefaultConfig returns the portfolio defaults for origin.
func DefaultConfig(origin string) Config {
	return Config{Origin: origin}.WithDefaults()
}

// WithDefaults fills every empty field. A nil ExternalManifest takes the
// default list; an empty non-nil one disables external caching.
func (c Config) WithDefaults() Config {
	c.Prefix = coalesce(c.Prefix, "portfolio")
	c.Version = coalesce(c.Version, "v1.0.0")
	c.StaticManifest = coalesceSlice(c.StaticManifest, defaultStaticManifest)
	c.ExternalManifest = slices.Clone(c.ExternalManifest)
	if c.ExternalManifest == nil {
		c.ExternalManifest = slices.Clone(defaultExternalManifest)
	}
	c.TrustedHosts = coalesceSlice(c.TrustedHosts, defaultTrustedHosts)
	c.OfflinePage = coalesce(c.OfflinePage, "/404.html")
	c.SyncTag = coalesce(c.SyncTag, "contact-form-sync")
	c.QueueStore = coalesce(c.QueueStore, "form-submissions")
	c.Icon = coalesce(c.Icon, "/favicon.ico")
	c.Badge = coalesce(c.Badge, c.Icon)
	c.InstallConcurrency = coalesce(c.InstallConcurrency, 4)
	return c
}

func (c Config) StaticCacheName() string  { return c.Prefix + "-static-" + c.Version }
func (c Config) RuntimeCacheName() string { return c.Prefix + "-runtime-" + c.Version }

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	u, err := url.Parse(c.Origin)
	switch {
	case strings.TrimSpace(c.Origin) == "":
		errs = append(errs, errors.New("origin is required"))
	case err != nil:
		errs = append(errs, fmt.Errorf("origin: %w", err))
	case u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, fmt.Errorf("origin %q must be http(s)", c.Origin))
	case u.Host == "":
		errs = append(errs, fmt.Errorf("origin %q has no host", c.Origin))
	}
	if strings.TrimSpace(c.Version) == "" {
		errs = append(errs, errors.New("version is required"))
	}
	if c.StaticCacheName() == c.RuntimeCacheName() {
		errs = append(errs, errors.New("static and runtime store names collide"))
	}
	if !slices.Contains(c.StaticManifest, c.OfflinePage) {
		errs = append(errs, fmt.Errorf("offline page %q is not in the static manifest", c.OfflinePage))
	}
	for _, p := range c.StaticManifest {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("static manifest entry %q must be a same-origin path", p))
		}
	}
	for _, raw := range c.ExternalManifest {
		if eu, err := url.Parse(raw); err != nil || eu.Host == "" {
			errs = append(errs, fmt.Errorf("external manifest entry %q must be an absolute URL", raw))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("swcache: invalid config: %w", errors.Join(errs...))
}
