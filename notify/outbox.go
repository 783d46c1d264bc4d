// Package notify keeps shown notifications in a provider so a front end can
// list them and act on clicks.
//
// Each notification is a structpb.Struct encoded with the Protobuf codec:
//
//	<ns>:n:<id>  -> notification
//	<ns>:ids     -> wire index of open ids, oldest first
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/unkn0wn-root/swcache"
	c "github.com/unkn0wn-root/swcache/codec"
	"github.com/unkn0wn-root/swcache/internal/wire"
	pr "github.com/unkn0wn-root/swcache/provider"
)

var ErrNotFound = errors.New("notify: notification not found")

type Options struct {
	Namespace string        // default "swcache:notify"
	TTL       time.Duration // how long an unclicked notification is kept; 0 => forever
	MaxOpen   int           // oldest are dropped beyond this; 0 => 100
	Logger    swcache.Logger
}

// Outbox is a swcache.Notifier backed by a provider. It does not own the provider.
type Outbox struct {
	p     pr.Provider
	codec c.Protobuf[*structpb.Struct]
	ns    string
	ttl   time.Duration
	max   int
	log   swcache.Logger

	mu sync.Mutex // guards the id index
}

var _ swcache.Notifier = (*Outbox)(nil)

func New(p pr.Provider, opts Options) (*Outbox, error) {
	if p == nil {
		return nil, errors.New("notify: provider is required")
	}
	o := &Outbox{
		p:     p,
		codec: c.NewProtobuf(func() *structpb.Struct { return &structpb.Struct{} }),
		ns:    opts.Namespace,
		ttl:   opts.TTL,
		max:   opts.MaxOpen,
		log:   opts.Logger,
	}
	if o.ns == "" {
		o.ns = "swcache:notify"
	}
	if o.max <= 0 {
		o.max = 100
	}
	if o.log == nil {
		o.log = swcache.NopLogger{}
	}
	return o, nil
}

func (o *Outbox) idsKey() string       { return o.ns + ":ids" }
func (o *Outbox) key(id string) string { return o.ns + ":n:" + id }

func (o *Outbox) Show(ctx context.Context, n swcache.Notification) error {
	if n.ID == "" {
		return errors.New("notify: notification id is required")
	}
	msg, err := toStruct(n)
	if err != nil {
		return fmt.Errorf("notify: %s: %w", n.ID, err)
	}
	raw, err := o.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("notify: encode %s: %w", n.ID, err)
	}
	ok, err := o.p.Set(ctx, o.key(n.ID), raw, int64(len(raw)), o.ttl)
	if err != nil {
		return fmt.Errorf("notify: store %s: %w", n.ID, err)
	}
	if !ok {
		return fmt.Errorf("notify: store %s: %w", n.ID, swcache.ErrWriteRejected)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	ids, err := o.readIDs(ctx)
	if err != nil {
		return err
	}
	ids = append(ids, wire.IndexItem{Key: n.ID, Gen: uint64(n.CreatedAt.UnixNano())})
	for len(ids) > o.max {
		_ = o.p.Del(ctx, o.key(ids[0].Key))
		o.log.Debug("notification evicted", swcache.Fields{"id": ids[0].Key})
		ids = ids[1:]
	}
	return o.writeIDs(ctx, ids)
}

// Close dismisses a notification. Unknown ids are not an error.
func (o *Outbox) Close(ctx context.Context, id string) error {
	if err := o.p.Del(ctx, o.key(id)); err != nil {
		return fmt.Errorf("notify: close %s: %w", id, err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	ids, err := o.readIDs(ctx)
	if err != nil {
		return err
	}
	for i, it := range ids {
		if it.Key == id {
			return o.writeIDs(ctx, append(ids[:i], ids[i+1:]...))
		}
	}
	return nil
}

// Get returns an open notification or ErrNotFound.
func (o *Outbox) Get(ctx context.Context, id string) (swcache.Notification, error) {
	raw, ok, err := o.p.Get(ctx, o.key(id))
	if err != nil {
		return swcache.Notification{}, fmt.Errorf("notify: get %s: %w", id, err)
	}
	if !ok {
		return swcache.Notification{}, ErrNotFound
	}
	msg, err := o.codec.Decode(raw)
	if err != nil {
		_ = o.p.Del(ctx, o.key(id))
		o.log.Warn("dropped undecodable notification", swcache.Fields{"id": id, "err": err})
		return swcache.Notification{}, ErrNotFound
	}
	return fromStruct(msg), nil
}

// List returns open notifications, oldest first. Expired ones are pruned.
func (o *Outbox) List(ctx context.Context) ([]swcache.Notification, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids, err := o.readIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]swcache.Notification, 0, len(ids))
	live := ids[:0]
	for _, it := range ids {
		n, err := o.Get(ctx, it.Key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, n)
		live = append(live, it)
	}
	if len(live) != len(ids) {
		if err := o.writeIDs(ctx, live); err != nil {
			o.log.Warn("notification index prune failed", swcache.Fields{"err": err})
		}
	}
	return out, nil
}

func (o *Outbox) readIDs(ctx context.Context) ([]wire.IndexItem, error) {
	raw, ok, err := o.p.Get(ctx, o.idsKey())
	if err != nil {
		return nil, fmt.Errorf("notify: read index: %w", err)
	}
	if !ok {
		return nil, nil
	}
	items, err := wire.DecodeIndex(raw)
	if err != nil {
		_ = o.p.Del(ctx, o.idsKey())
		o.log.Warn("dropped corrupt notification index", nil)
		return nil, nil
	}
	return items, nil
}

func (o *Outbox) writeIDs(ctx context.Context, ids []wire.IndexItem) error {
	if len(ids) == 0 {
		return o.p.Del(ctx, o.idsKey())
	}
	raw, err := wire.EncodeIndex(ids)
	if err != nil {
		return err
	}
	ok, err := o.p.Set(ctx, o.idsKey(), raw, int64(len(raw)), 0)
	if err != nil {
		return fmt.Errorf("notify: write index: %w", err)
	}
	if !ok {
		return fmt.Errorf("notify: write index: %w", swcache.ErrWriteRejected)
	}
	return nil
}
