package swcache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/unkn0wn-root/swcache/internal/util"
)

// ResponseType mirrors how much of a response the page may inspect.
type ResponseType string

const (
	TypeBasic  ResponseType = "basic"  // same-origin
	TypeCORS   ResponseType = "cors"   // cross-origin with an Access-Control-Allow-Origin grant
	TypeOpaque ResponseType = "opaque" // cross-origin without a grant; status is not inspected
)

// Request is the storable identity of an outbound request.
// Cache stores key on Method+URL(+body digest); queued submissions keep the body
// so they can be resent.
type Request struct {
	Method string      `json:"method"`
	URL    string      `json:"url"`
	Header http.Header `json:"header,omitempty"`
	Body   []byte      `json:"body,omitempty"`
}

// NewRequest returns a bodiless request for an absolute URL.
func NewRequest(method, rawURL string) Request {
	return Request{Method: method, URL: rawURL}
}

func (r Request) Key() string { return util.RequestKey(r.Method, r.URL, r.Body) }

// HTTP builds a fresh *http.Request bound to ctx.
func (r Request) HTTP(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	hr, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	return hr, nil
}

// snapshotRequest copies r with rawURL as its absolute URL. The body is read
// and put back so r stays usable by the caller.
func snapshotRequest(r *http.Request, rawURL string, maxBody int64) (Request, error) {
	req := Request{
		Method: r.Method,
		URL:    rawURL,
		Header: endToEnd(r.Header),
	}
	if r.Body == nil || r.Body == http.NoBody {
		return req, nil
	}
	body, err := readBody(r.Body, maxBody)
	_ = r.Body.Close()
	if err != nil {
		return Request{}, fmt.Errorf("read request body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	req.Body = body
	return req, nil
}

// Entry is a stored (or freshly fetched) response.
type Entry struct {
	URL    string       `json:"url"`
	Status int          `json:"status"`
	Header http.Header  `json:"header,omitempty"`
	Body   []byte       `json:"body,omitempty"`
	Type   ResponseType `json:"type"`
	// StoredAt is when the response was received from the network.
	StoredAt time.Time `json:"stored_at"`
}

// Opaque reports whether the status must not be inspected.
func (e *Entry) Opaque() bool { return e.Type == TypeOpaque }

// Clone returns a deep copy, so the stored copy and the served copy never share buffers.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Header = e.Header.Clone()
	cp.Body = bytes.Clone(e.Body)
	return &cp
}

// Record is the unit persisted per store key.
type Record struct {
	Request Request `json:"request"`
	Entry   Entry   `json:"entry"`
}

// Source says where a served response came from.
type Source uint8

const (
	SourceNetwork Source = iota
	SourceCache
	SourceOffline
)

func (s Source) String() string {
	switch s {
	case SourceNetwork:
		return "network"
	case SourceCache:
		return "cache"
	case SourceOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Response is what Fetch hands back for an intercepted request.
type Response struct {
	Entry  *Entry
	Source Source
	Kind   RequestKind
}

var hopByHop = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// endToEnd copies h without hop-by-hop headers.
func endToEnd(h http.Header) http.Header {
	if len(h) == 0 {
		return nil
	}
	out := h.Clone()
	for _, k := range hopByHop {
		out.Del(k)
	}
	return out
}

// readBody reads at most max bytes (0 => unlimited) and fails when the body is larger.
func readBody(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return io.ReadAll(r)
	}
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, fmt.Errorf("body exceeds %d bytes", max)
	}
	return b, nil
}
