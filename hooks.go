package swcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; wrap slow ones with hooks/async.
type Hooks interface {
	// A mandatory static asset could not be cached; the worker is redundant.
	InstallFailed(version string, err error)
	// A best-effort external asset could not be cached during install.
	ExternalAssetFailed(url string, err error)
	// Activation deleted a store that does not belong to the current version.
	StaleStoreDeleted(name string)

	// A routed request was answered. source ∈ {network, cache, offline}
	FetchServed(kind RequestKind, source Source)
	// A routed request could not be answered from network nor cache.
	FetchFailed(kind RequestKind, err error)
	// A network response was copied into the runtime store.
	RuntimeStored(url string)
	// A network response was not cached.
	// reason ∈ {"not_allowed", "credentials", "private", "status"}
	RuntimeSkipped(url, reason string)

	// A queued submission was resent and removed from the queue.
	SubmissionResent(url string)
	// A queued submission failed again and stays queued.
	SubmissionRetained(url string, err error)

	// A push payload was turned into a notification.
	NotificationShown(id string)

	// A stored record was deleted on read.
	// reason ∈ {"corrupt", "gen_mismatch", "record_decode", "key_mismatch"}
	SelfHeal(storageKey, reason string)
	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) InstallFailed(string, error)       {}
func (NopHooks) ExternalAssetFailed(string, error) {}
func (NopHooks) StaleStoreDeleted(string)          {}
func (NopHooks) FetchServed(RequestKind, Source)   {}
func (NopHooks) FetchFailed(RequestKind, error)    {}
func (NopHooks) RuntimeStored(string)              {}
func (NopHooks) RuntimeSkipped(string, string)     {}
func (NopHooks) SubmissionResent(string)           {}
func (NopHooks) SubmissionRetained(string, error)  {}
func (NopHooks) NotificationShown(string)          {}
func (NopHooks) SelfHeal(string, string)           {}
func (NopHooks) ProviderSetRejected(string)        {}

// JoinHooks fans every event out to each non-nil hook in order.
func JoinHooks(hs ...Hooks) Hooks {
	out := make(multiHooks, 0, len(hs))
	for _, h := range hs {
		if h != nil {
			out = append(out, h)
		}
	}
	if len(out) == 0 {
		return NopHooks{}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

type multiHooks []Hooks

func (m multiHooks) InstallFailed(v string, err error) {
	for _, h := range m {
		h.InstallFailed(v, err)
	}
}
func (m multiHooks) ExternalAssetFailed(u string, err error) {
	for _, h := range m {
		h.ExternalAssetFailed(u, err)
	}
}
func (m multiHooks) StaleStoreDeleted(n string) {
	for _, h := range m {
		h.StaleStoreDeleted(n)
	}
}
func (m multiHooks) FetchServed(k RequestKind, s Source) {
	for _, h := range m {
		h.FetchServed(k, s)
	}
}
func (m multiHooks) FetchFailed(k RequestKind, err error) {
	for _, h := range m {
		h.FetchFailed(k, err)
	}
}
func (m multiHooks) RuntimeStored(u string) {
	for _, h := range m {
		h.RuntimeStored(u)
	}
}
func (m multiHooks) RuntimeSkipped(u, r string) {
	for _, h := range m {
		h.RuntimeSkipped(u, r)
	}
}
func (m multiHooks) SubmissionResent(u string) {
	for _, h := range m {
		h.SubmissionResent(u)
	}
}
func (m multiHooks) SubmissionRetained(u string, err error) {
	for _, h := range m {
		h.SubmissionRetained(u, err)
	}
}
func (m multiHooks) NotificationShown(id string) {
	for _, h := range m {
		h.NotificationShown(id)
	}
}
func (m multiHooks) SelfHeal(k, r string) {
	for _, h := range m {
		h.SelfHeal(k, r)
	}
}
func (m multiHooks) ProviderSetRejected(k string) {
	for _, h := range m {
		h.ProviderSetRejected(k)
	}
}
