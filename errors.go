package swcache

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotInstalled  = errors.New("swcache: worker is not installed")
	ErrRedundant     = errors.New("swcache: worker is redundant")
	ErrInstalling    = errors.New("swcache: install already in progress")
	ErrClosed        = errors.New("swcache: worker closed")
	ErrOffline       = errors.New("swcache: network unavailable and nothing cached")
	ErrWriteRejected = errors.New("swcache: provider rejected write")
	ErrInvalidPush   = errors.New("swcache: invalid push payload")
	// ErrEvictingProvider rejects a provider that may drop entries where
	// static stores or queued submissions would live.
	ErrEvictingProvider = errors.New("swcache: provider may evict entries; use it as RuntimeProvider")
)

// InstallError reports every mandatory asset that could not be fetched during install.
type InstallError struct {
	Version string
	Failed  map[string]error // url -> cause
}

func (e *InstallError) urls() []string {
	urls := make([]string, 0, len(e.Failed))
	for u := range e.Failed {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

func (e *InstallError) Error() string {
	urls := e.urls()
	switch len(urls) {
	case 0:
		return fmt.Sprintf("install %s failed", e.Version)
	case 1:
		return fmt.Sprintf("install %s: %s: %v", e.Version, urls[0], e.Failed[urls[0]])
	default:
		parts := make([]string, 0, len(urls))
		for _, u := range urls {
			parts = append(parts, fmt.Sprintf("%s: %v", u, e.Failed[u]))
		}
		return fmt.Sprintf("install %s: %d assets failed: %s", e.Version, len(urls), strings.Join(parts, "; "))
	}
}

func (e *InstallError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, u := range e.urls() {
		errs = append(errs, e.Failed[u])
	}
	return errs
}

// FetchError is returned when a routed request could not be answered at all.
type FetchError struct {
	URL  string
	Kind RequestKind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StatusError is a response that arrived but does not count as success.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.URL, e.Status)
}
