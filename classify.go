package swcache

import (
	"net/http"
	"net/url"
	"strings"
)

// RequestKind selects the fetch strategy for an intercepted request.
type RequestKind uint8

const (
	// KindAsset is routed cache-first.
	KindAsset RequestKind = iota
	// KindNavigation is routed network-first with the offline page as last resort.
	KindNavigation
)

func (k RequestKind) String() string {
	switch k {
	case KindNavigation:
		return "navigation"
	case KindAsset:
		return "asset"
	default:
		return "unknown"
	}
}

// Classify tells navigations (Sec-Fetch-Mode: navigate, or an Accept header
// naming text/html) from everything else.
func Classify(r *http.Request) RequestKind {
	if strings.EqualFold(r.Header.Get("Sec-Fetch-Mode"), "navigate") {
		return KindNavigation
	}
	for _, accept := range r.Header.Values("Accept") {
		if strings.Contains(strings.ToLower(accept), "text/html") {
			return KindNavigation
		}
	}
	return KindAsset
}

// intercepts reports whether the worker routes method+u at all; everything else
// keeps the default network behavior.
func intercepts(method string, u *url.URL) bool {
	if method != http.MethodGet {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
