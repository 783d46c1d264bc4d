package swcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SyncResult summarizes one drain of the submission queue.
type SyncResult struct {
	Attempted int `json:"attempted"`
	Resent    int `json:"resent"`
	Retained  int `json:"retained"`
}

func (w *worker) Enqueue(ctx context.Context, r *http.Request) (err error) {
	done, err := w.extend()
	if err != nil {
		return err
	}
	defer done()
	defer w.recoverPanic("enqueue", &err)

	req, err := snapshotRequest(r, w.resolve(r).String(), w.cfg.MaxBodyBytes)
	if err != nil {
		return err
	}
	st, err := w.queue.Open(ctx, w.cfg.QueueStore)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", req.URL, err)
	}
	// the queue only needs the request; the entry records when it was parked
	if err := st.Put(ctx, req, &Entry{URL: req.URL, Type: TypeBasic, StoredAt: w.now()}); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	w.log.Info("submission queued", Fields{"url": req.URL, "method": req.Method})
	return nil
}

func (w *worker) QueueLen(ctx context.Context) (int, error) {
	ok, err := w.queue.Has(ctx, w.cfg.QueueStore)
	if err != nil || !ok {
		return 0, err
	}
	st, err := w.queue.Open(ctx, w.cfg.QueueStore)
	if err != nil {
		return 0, err
	}
	reqs, err := st.Keys(ctx)
	return len(reqs), err
}

// Sync drains the queue once. Drains never overlap, so a submission is never
// resent twice by the same worker.
func (w *worker) Sync(ctx context.Context, tag string) (res SyncResult, err error) {
	if tag != w.cfg.SyncTag {
		w.log.Debug("ignoring sync tag", Fields{"tag": tag})
		return SyncResult{}, nil
	}
	done, err := w.extend()
	if err != nil {
		return SyncResult{}, err
	}
	defer done()
	defer w.recoverPanic("sync", &err)

	w.syncMu.Lock()
	defer w.syncMu.Unlock()

	ctx, span := tracer.Start(ctx, "swcache.sync", trace.WithAttributes(attribute.String("swcache.tag", tag)))
	defer endSpan(span, &err)

	st, err := w.queue.Open(ctx, w.cfg.QueueStore)
	if err != nil {
		return res, err
	}
	reqs, err := st.Keys(ctx)
	if err != nil {
		return res, err
	}

	var errs []error
	for i, req := range reqs {
		if ctx.Err() != nil {
			res.Retained += len(reqs) - i
			errs = append(errs, ctx.Err())
			break
		}
		res.Attempted++
		if rerr := w.resend(ctx, req); rerr != nil {
			res.Retained++
			w.hooks.SubmissionRetained(req.URL, rerr)
			w.log.Warn("submission resend failed", Fields{"url": req.URL, "err": rerr})
			continue
		}
		if _, derr := st.Delete(ctx, req); derr != nil {
			// sent but still queued: it will be sent again next drain
			errs = append(errs, fmt.Errorf("dequeue %s: %w", req.URL, derr))
		}
		res.Resent++
		w.hooks.SubmissionResent(req.URL)
	}
	span.SetAttributes(
		attribute.Int("swcache.resent", res.Resent),
		attribute.Int("swcache.retained", res.Retained),
	)
	if res.Attempted > 0 {
		w.log.Info("submission queue drained", Fields{"resent": res.Resent, "retained": res.Retained})
	}
	return res, errors.Join(errs...)
}

// resend succeeds when the server answered with anything below 500. A 4xx is
// final, so the entry is dropped. A 5xx keeps the entry queued and it is resent
// on every later drain until the server accepts it; there is no attempt limit.
func (w *worker) resend(ctx context.Context, req Request) error {
	hr, err := req.HTTP(ctx)
	if err != nil {
		return err
	}
	resp, err := w.fetcher.Do(hr)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return &StatusError{URL: req.URL, Status: resp.StatusCode}
	}
	return nil
}
