// Package server fronts a site with a swcache.Worker: intercepted GETs are
// answered by the worker, the rest is proxied to the upstream.
package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/unkn0wn-root/swcache"
	"github.com/unkn0wn-root/swcache/metrics"
	"github.com/unkn0wn-root/swcache/notify"
)

// SourceHeader tells clients where an intercepted response came from.
const SourceHeader = "X-SW-Source"

// Outbox lists shown notifications. *notify.Outbox satisfies it.
type Outbox interface {
	List(ctx context.Context) ([]swcache.Notification, error)
	Get(ctx context.Context, id string) (swcache.Notification, error)
}

type Options struct {
	// Required
	Worker   swcache.Worker
	Upstream *url.URL

	// ContactPath is where form POSTs go; failed ones are queued (default "/contact").
	ContactPath string
	// Fetcher forwards contact submissions (default http.DefaultClient).
	Fetcher swcache.Fetcher
	// MaxBodyBytes caps contact submissions; 0 => 1 MiB.
	MaxBodyBytes int64

	Outbox          Outbox           // nil disables /_sw/notifications
	Metrics         *metrics.Metrics // nil disables request metrics
	MetricsEndpoint string           // mounted when MetricsHandler is set
	MetricsHandler  http.Handler
	Logger          swcache.Logger
}

type server struct {
	w        swcache.Worker
	upstream *url.URL
	contact  string
	fetcher  swcache.Fetcher
	maxBody  int64
	outbox   Outbox
	log      swcache.Logger
	proxy    *httputil.ReverseProxy
}

// New builds the gin engine. Call gin.SetMode before New to pick the mode.
func New(opts Options) (*gin.Engine, error) {
	if opts.Worker == nil {
		return nil, errors.New("server: worker is required")
	}
	if opts.Upstream == nil || opts.Upstream.Host == "" {
		return nil, errors.New("server: upstream URL is required")
	}
	s := &server{
		w:        opts.Worker,
		upstream: opts.Upstream,
		contact:  opts.ContactPath,
		fetcher:  opts.Fetcher,
		maxBody:  opts.MaxBodyBytes,
		outbox:   opts.Outbox,
		log:      opts.Logger,
	}
	if s.contact == "" {
		s.contact = "/contact"
	}
	if s.fetcher == nil {
		s.fetcher = http.DefaultClient
	}
	if s.maxBody <= 0 {
		s.maxBody = 1 << 20
	}
	if s.log == nil {
		s.log = swcache.NopLogger{}
	}
	s.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(s.upstream)
			pr.SetXForwarded()
		},
		ErrorHandler: func(rw http.ResponseWriter, r *http.Request, err error) {
			s.log.Warn("upstream unavailable", swcache.Fields{"path": r.URL.Path, "err": err})
			rw.WriteHeader(http.StatusBadGateway)
		},
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())
	if opts.Metrics != nil {
		r.Use(observe(opts.Metrics))
	}

	sw := r.Group("/_sw")
	sw.POST("/sync", s.handleSync)
	sw.POST("/push", s.handlePush)
	sw.GET("/state", s.handleState)
	sw.GET("/notifications", s.handleNotifications)
	sw.GET("/notifications/:id/click", s.handleClick)

	if opts.MetricsHandler != nil {
		endpoint := opts.MetricsEndpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(opts.MetricsHandler))
	}

	r.NoRoute(s.handleSite)
	return r, nil
}

func (s *server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request", swcache.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"source":   c.Writer.Header().Get(SourceHeader),
			"duration": time.Since(start).String(),
		})
	}
}

func observe(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "site"
		}
		m.ObserveRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// handleSite answers everything outside /_sw.
func (s *server) handleSite(c *gin.Context) {
	if c.Request.Method == http.MethodPost && c.Request.URL.Path == s.contact {
		s.forwardContact(c)
		return
	}
	res, ok, err := s.w.Fetch(c.Request.Context(), c.Request)
	if !ok {
		if err != nil {
			c.String(http.StatusServiceUnavailable, err.Error())
			return
		}
		s.proxy.ServeHTTP(c.Writer, c.Request)
		return
	}
	if err != nil {
		c.String(http.StatusBadGateway, "offline")
		return
	}
	writeEntry(c, res)
}

func writeEntry(c *gin.Context, res *swcache.Response) {
	h := c.Writer.Header()
	for k, vs := range res.Entry.Header {
		h[k] = append([]string(nil), vs...)
	}
	if res.Source != swcache.SourceNetwork {
		// a stored copy is shared; cookies only ever go to the visitor who caused them
		h.Del("Set-Cookie")
	}
	h.Set("Content-Length", strconv.Itoa(len(res.Entry.Body)))
	h.Set(SourceHeader, res.Source.String())
	status := res.Entry.Status
	if status == 0 {
		status = http.StatusOK
	}
	c.Status(status)
	_, _ = c.Writer.Write(res.Entry.Body)
}

// forwardContact posts the submission upstream. When the upstream cannot be
// reached it is queued for the next sync and answered 202.
func (s *server) forwardContact(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, s.maxBody+1))
	if err != nil {
		c.String(http.StatusBadRequest, "unreadable body")
		return
	}
	if int64(len(body)) > s.maxBody {
		c.String(http.StatusRequestEntityTooLarge, "submission too large")
		return
	}

	target := *s.upstream
	target.Path = c.Request.URL.Path
	target.RawQuery = c.Request.URL.RawQuery
	out, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	out.Header = c.Request.Header.Clone()

	resp, err := s.fetcher.Do(out)
	if err == nil {
		defer resp.Body.Close()
		for k, vs := range resp.Header {
			c.Writer.Header()[k] = vs
		}
		c.Status(resp.StatusCode)
		_, _ = io.Copy(c.Writer, resp.Body)
		return
	}

	s.log.Info("contact upstream unreachable; queueing", swcache.Fields{"err": err})
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	if qerr := s.w.Enqueue(c.Request.Context(), c.Request); qerr != nil {
		s.w.ReportError(qerr)
		c.String(http.StatusBadGateway, "submission failed")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

func (s *server) handleSync(c *gin.Context) {
	tag := c.PostForm("tag")
	if tag == "" {
		tag = c.Query("tag")
	}
	if tag == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tag is required"})
		return
	}
	res, err := s.w.Sync(c.Request.Context(), tag)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "result": res})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *server) handlePush(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, s.maxBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	n, err := s.w.Push(c.Request.Context(), payload)
	switch {
	case errors.Is(err, swcache.ErrInvalidPush):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	case n == nil:
		c.Status(http.StatusNoContent)
	default:
		c.JSON(http.StatusCreated, n)
	}
}

func (s *server) handleState(c *gin.Context) {
	queued, err := s.w.QueueLen(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":       s.w.State().String(),
		"controlling": s.w.Controlling(),
		"queued":      queued,
	})
}

func (s *server) handleNotifications(c *gin.Context) {
	if s.outbox == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "notifications disabled"})
		return
	}
	list, err := s.outbox.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *server) handleClick(c *gin.Context) {
	if s.outbox == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "notifications disabled"})
		return
	}
	n, err := s.outbox.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, notify.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	target, err := s.w.NotificationClick(c.Request.Context(), n)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Redirect(http.StatusFound, target)
}
