package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/swcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery    uint64
	FetchServedEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	servedCtr   atomic.Uint64
}

var _ swcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

// redact hides storage keys, which embed request URLs and body digests.
func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) InstallFailed(version string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("swcache.install_failed", "version", version, "err", err)
}

func (h *Hooks) ExternalAssetFailed(url string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("swcache.external_asset_failed", "url", url, "err", err)
}

func (h *Hooks) StaleStoreDeleted(name string) {
	if h.l == nil {
		return
	}
	h.l.Info("swcache.stale_store_deleted", "store", name)
}

func (h *Hooks) FetchServed(kind swcache.RequestKind, source swcache.Source) {
	if h.l == nil || !sample(h.opts.FetchServedEvery, &h.servedCtr) {
		return
	}
	h.l.Debug("swcache.fetch_served", "kind", kind.String(), "source", source.String())
}

func (h *Hooks) FetchFailed(kind swcache.RequestKind, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("swcache.fetch_failed", "kind", kind.String(), "err", err)
}

func (h *Hooks) RuntimeStored(url string) {
	if h.l == nil {
		return
	}
	h.l.Debug("swcache.runtime_stored", "url", url)
}

func (h *Hooks) RuntimeSkipped(url, reason string) {
	if h.l == nil {
		return
	}
	h.l.Debug("swcache.runtime_skipped", "url", url, "reason", reason)
}

func (h *Hooks) SubmissionResent(url string) {
	if h.l == nil {
		return
	}
	h.l.Info("swcache.submission_resent", "url", url)
}

func (h *Hooks) SubmissionRetained(url string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("swcache.submission_retained", "url", url, "err", err)
}

func (h *Hooks) NotificationShown(id string) {
	if h.l == nil {
		return
	}
	h.l.Info("swcache.notification_shown", "id", id)
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("swcache.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("swcache.provider_set_rejected", "key", h.redact(storageKey))
}
