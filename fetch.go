package swcache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func (w *worker) Fetch(ctx context.Context, r *http.Request) (res *Response, ok bool, err error) {
	if !w.Controlling() {
		return nil, false, nil
	}
	u := w.resolve(r)
	if !intercepts(r.Method, u) {
		return nil, false, nil
	}

	done, err := w.extend()
	if err != nil {
		return nil, false, err
	}
	defer done()
	ok = true
	defer w.recoverPanic("fetch", &err)

	kind := Classify(r)
	ctx, span := tracer.Start(ctx, "swcache.fetch", trace.WithAttributes(
		attribute.String("swcache.kind", kind.String()),
		attribute.String("url.full", u.String()),
	))
	defer endSpan(span, &err)

	req := Request{Method: http.MethodGet, URL: u.String(), Header: endToEnd(r.Header)}
	if kind == KindAsset && req.Header != nil {
		// cached assets are shared by every visitor, so they are fetched without
		// the visitor's cookies
		req.Header.Del("Cookie")
	}
	if kind == KindNavigation {
		res, err = w.networkFirst(ctx, req)
	} else {
		res, err = w.cacheFirst(ctx, req)
	}
	if err != nil {
		w.hooks.FetchFailed(kind, err)
		return nil, true, err
	}
	span.SetAttributes(attribute.String("swcache.source", res.Source.String()))
	w.hooks.FetchServed(kind, res.Source)
	return res, true, nil
}

// resolve returns the absolute URL of r. Server-side requests carry only a
// path, so they are resolved against the origin.
func (w *worker) resolve(r *http.Request) *url.URL {
	if r.URL.IsAbs() {
		return r.URL
	}
	return w.origin.ResolveReference(r.URL)
}

func (w *worker) networkFirst(ctx context.Context, req Request) (*Response, error) {
	e, netErr := w.network(ctx, req)
	if netErr == nil {
		w.putRuntime(ctx, req, e)
		return &Response{Entry: e, Source: SourceNetwork, Kind: KindNavigation}, nil
	}
	w.log.Debug("navigation network leg failed", Fields{"url": req.URL, "err": netErr})

	cached, ok, err := w.caches.Match(ctx, req)
	if err != nil {
		w.log.Warn("cache match failed", Fields{"url": req.URL, "err": err})
	}
	if ok {
		return &Response{Entry: cached, Source: SourceCache, Kind: KindNavigation}, nil
	}

	offline, ok, err := w.caches.Match(ctx, NewRequest(http.MethodGet, w.abs(w.cfg.OfflinePage)))
	if err != nil {
		w.log.Warn("offline page lookup failed", Fields{"err": err})
	}
	if ok {
		return &Response{Entry: offline, Source: SourceOffline, Kind: KindNavigation}, nil
	}
	return nil, &FetchError{URL: req.URL, Kind: KindNavigation, Err: errors.Join(ErrOffline, netErr)}
}

func (w *worker) cacheFirst(ctx context.Context, req Request) (*Response, error) {
	cached, ok, err := w.caches.Match(ctx, req)
	if err != nil {
		// a broken store is a miss, not a failure
		w.log.Warn("cache match failed", Fields{"url": req.URL, "err": err})
	}
	if ok {
		return &Response{Entry: cached, Source: SourceCache, Kind: KindAsset}, nil
	}

	e, err := w.network(ctx, req)
	if err != nil {
		return nil, &FetchError{URL: req.URL, Kind: KindAsset, Err: err}
	}
	w.putRuntime(ctx, req, e)
	return &Response{Entry: e, Source: SourceNetwork, Kind: KindAsset}, nil
}

// putRuntime stores a shareable copy of e in the runtime store when it is
// cacheable. Failures are logged; the caller still serves e.
func (w *worker) putRuntime(ctx context.Context, req Request, e *Entry) {
	if reason := w.uncacheable(req, e); reason != "" {
		w.hooks.RuntimeSkipped(req.URL, reason)
		return
	}
	st, err := w.caches.Open(ctx, w.cfg.RuntimeCacheName())
	if err == nil {
		err = st.Put(ctx, req, shareable(e))
	}
	if err != nil {
		w.log.Warn("runtime cache write failed", Fields{"url": req.URL, "err": err})
		return
	}
	w.hooks.RuntimeStored(req.URL)
}

// uncacheable returns why e may not enter the runtime store, or "".
// Opaque responses from allowed hosts are stored without looking at the status.
// The store is shared by every visitor: answers to credentialed requests and
// responses marked private or no-store never enter it.
func (w *worker) uncacheable(req Request, e *Entry) string {
	u, err := url.Parse(req.URL)
	if err != nil || !(w.sameOrigin(u) || w.trusted(u)) {
		return "not_allowed"
	}
	if req.Header.Get("Authorization") != "" || req.Header.Get("Cookie") != "" {
		return "credentials"
	}
	if private(e.Header) {
		return "private"
	}
	if !e.Opaque() && e.Status != http.StatusOK {
		return "status"
	}
	return ""
}

func private(h http.Header) bool {
	for _, v := range h.Values("Cache-Control") {
		for _, d := range strings.Split(v, ",") {
			d, _, _ = strings.Cut(strings.TrimSpace(d), "=")
			if strings.EqualFold(d, "private") || strings.EqualFold(d, "no-store") {
				return true
			}
		}
	}
	return false
}

// shareable copies e without the headers that belong to one visitor.
func shareable(e *Entry) *Entry {
	cp := e.Clone()
	if cp.Header != nil {
		cp.Header.Del("Set-Cookie")
	}
	return cp
}

// network fetches req and buffers the body so it can be both stored and served.
func (w *worker) network(ctx context.Context, req Request) (*Entry, error) {
	hr, err := req.HTTP(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := w.fetcher.Do(hr)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp.Body, w.cfg.MaxBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.URL, err)
	}
	return &Entry{
		URL:      req.URL,
		Status:   resp.StatusCode,
		Header:   endToEnd(resp.Header),
		Body:     body,
		Type:     w.responseType(hr.URL, resp.Header),
		StoredAt: w.now(),
	}, nil
}

func (w *worker) responseType(u *url.URL, h http.Header) ResponseType {
	switch {
	case w.sameOrigin(u):
		return TypeBasic
	case h.Get("Access-Control-Allow-Origin") != "":
		return TypeCORS
	default:
		return TypeOpaque
	}
}
