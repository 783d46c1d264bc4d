package swcache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

func submit(t *testing.T, w *worker, path, body string) {
	t.Helper()
	r, _ := http.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if err := w.Enqueue(context.Background(), r); err != nil {
		t.Fatalf("Enqueue %s: %v", path, err)
	}
	rest, _ := io.ReadAll(r.Body)
	if string(rest) != body {
		t.Fatalf("Enqueue consumed the caller's body: %q", rest)
	}
}

func TestSyncKeepsOnlyFailedSubmissions(t *testing.T) {
	ctx := context.Background()
	h := started(t)
	submit(t, h.w, "/contact", "name=a&message=hi")
	submit(t, h.w, "/newsletter", "email=a@example.dev")

	h.net.set(http.MethodPost, testOrigin+"/contact", route{status: http.StatusOK})
	h.net.set(http.MethodPost, testOrigin+"/newsletter", route{err: errors.New("connection refused")})

	res, err := h.w.Sync(ctx, "contact-form-sync")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res != (SyncResult{Attempted: 2, Resent: 1, Retained: 1}) {
		t.Fatalf("result = %+v", res)
	}

	q := mustOpen(t, h.w.queue, h.w.cfg.QueueStore)
	left, err := q.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(left) != 1 || left[0].URL != testOrigin+"/newsletter" || string(left[0].Body) != "email=a@example.dev" {
		t.Fatalf("queue after drain = %+v", left)
	}
	if len(h.hooks.resent) != 1 || len(h.hooks.retained) != 1 {
		t.Fatalf("hooks resent=%v retained=%v", h.hooks.resent, h.hooks.retained)
	}

	// the resend carried the original body and headers
	h.net.mu.Lock()
	var found bool
	for _, s := range h.net.sent {
		if s.method == http.MethodPost && s.url == testOrigin+"/contact" {
			found = s.body == "name=a&message=hi" && s.header.Get("Content-Type") == "application/x-www-form-urlencoded"
		}
	}
	h.net.mu.Unlock()
	if !found {
		t.Fatalf("contact resend did not carry body and headers")
	}

	// next trigger with connectivity back drains the rest
	h.net.set(http.MethodPost, testOrigin+"/newsletter", route{status: http.StatusCreated})
	res, err = h.w.Sync(ctx, "contact-form-sync")
	if err != nil || res.Resent != 1 || res.Retained != 0 {
		t.Fatalf("second Sync: res=%+v err=%v", res, err)
	}
	if n, _ := h.w.QueueLen(ctx); n != 0 {
		t.Fatalf("QueueLen = %d after full drain", n)
	}
}

func TestSyncServerErrorsAreRetained(t *testing.T) {
	ctx := context.Background()
	h := started(t)
	submit(t, h.w, "/contact", "a=1")
	submit(t, h.w, "/contact", "a=2")
	h.net.set(http.MethodPost, testOrigin+"/contact", route{status: http.StatusServiceUnavailable})

	res, err := h.w.Sync(ctx, "contact-form-sync")
	if err != nil || res.Retained != 2 || res.Resent != 0 {
		t.Fatalf("res=%+v err=%v", res, err)
	}

	// a client error means the server got it; resending would not help
	h.net.set(http.MethodPost, testOrigin+"/contact", route{status: http.StatusUnprocessableEntity})
	res, _ = h.w.Sync(ctx, "contact-form-sync")
	if res.Resent != 2 {
		t.Fatalf("4xx not treated as delivered: %+v", res)
	}
}

func TestSyncIgnoresOtherTags(t *testing.T) {
	ctx := context.Background()
	h := started(t)
	submit(t, h.w, "/contact", "a=1")
	before := len(h.net.sent)

	res, err := h.w.Sync(ctx, "periodic-refresh")
	if err != nil || res != (SyncResult{}) {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if len(h.net.sent) != before {
		t.Fatalf("unknown tag reached the network")
	}
	if n, _ := h.w.QueueLen(ctx); n != 1 {
		t.Fatalf("QueueLen = %d", n)
	}
}

func TestSyncOnEmptyQueue(t *testing.T) {
	h := started(t)
	res, err := h.w.Sync(context.Background(), "contact-form-sync")
	if err != nil || res != (SyncResult{}) {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

func TestSyncStopsOnCancelledContext(t *testing.T) {
	h := started(t)
	submit(t, h.w, "/contact", "a=1")
	submit(t, h.w, "/contact", "a=2")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.w.Sync(ctx, "contact-form-sync")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res.Retained != 2 || res.Resent != 0 {
		t.Fatalf("res = %+v", res)
	}
	if n, _ := h.w.QueueLen(context.Background()); n != 2 {
		t.Fatalf("QueueLen = %d", n)
	}
}

func TestQueueUsesSeparateProvider(t *testing.T) {
	ctx := context.Background()
	qp := newMemProvider()
	h := started(t, func(o *Options) { o.QueueProvider = qp })
	submit(t, h.w, "/contact", "a=1")

	if n, _ := h.w.QueueLen(ctx); n != 1 {
		t.Fatalf("QueueLen = %d", n)
	}
	qp.mu.Lock()
	n := len(qp.m)
	qp.mu.Unlock()
	if n == 0 {
		t.Fatalf("queue provider untouched")
	}
	_ = h.w.Close(ctx)
	if qp.closes != 1 {
		t.Fatalf("queue provider closed %d times", qp.closes)
	}
}

func TestEnqueueRespectsMaxBody(t *testing.T) {
	h := newHarness(t, site(), func(o *Options) { o.Config.MaxBodyBytes = 4 })
	r, _ := http.NewRequest(http.MethodPost, "/contact", strings.NewReader("too long"))
	if err := h.w.Enqueue(context.Background(), r); err == nil {
		t.Fatalf("oversized submission queued")
	}
}

func TestSyncAfterFullDrainIsNoop(t *testing.T) {
	ctx := context.Background()
	h := started(t)
	submit(t, h.w, "/contact", "a=1")
	submit(t, h.w, "/contact", "a=2")
	h.net.set(http.MethodPost, testOrigin+"/contact", route{status: http.StatusOK})

	res, err := h.w.Sync(ctx, "contact-form-sync")
	if err != nil || res != (SyncResult{Attempted: 2, Resent: 2}) {
		t.Fatalf("first Sync: res=%+v err=%v", res, err)
	}
	sends := h.net.calls(http.MethodPost, testOrigin+"/contact")

	res, err = h.w.Sync(ctx, "contact-form-sync")
	if err != nil || res != (SyncResult{}) {
		t.Fatalf("second Sync: res=%+v err=%v", res, err)
	}
	if n := h.net.calls(http.MethodPost, testOrigin+"/contact"); n != sends {
		t.Fatalf("second drain resent: %d sends, want %d", n, sends)
	}
}
