package server

import (
	"context"
	"time"

	"github.com/unkn0wn-root/swcache"
)

// SyncLoop fires tag every interval until ctx is done. It stands in for the
// browser's connectivity-restored signal; a drain that fails is retried on the
// next tick.
func SyncLoop(ctx context.Context, w swcache.Worker, tag string, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := w.Sync(ctx, tag); err != nil && ctx.Err() == nil {
				w.ReportError(err)
			}
		}
	}
}
