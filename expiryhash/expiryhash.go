// Package expiryhash gives hash fields their own expiry on stores that only
// expire whole keys.
//
// A logical hash is spread over time-bucketed physical hashes named
// "<name>:<bucket start unix>". Each bucket carries a store TTL covering
// its window plus one second, so old buckets disappear on their own. At
// most three buckets (previous, current, next) are ever relevant. Every
// field stores its own expire_at and is treated as absent once it passes,
// whatever the bucket TTL says.
package expiryhash

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/rulecache"
	"github.com/unkn0wn-root/rulecache/codec"
	"github.com/unkn0wn-root/rulecache/store"
)

// DefaultCeiling bounds the per-field TTL a Hash accepts.
const DefaultCeiling = time.Hour

const slack = time.Second

type options struct {
	ceiling time.Duration
	now     func() time.Time
	log     rulecache.Logger
	hooks   rulecache.Hooks
}

type Option func(*options)

// WithCeiling overrides DefaultCeiling.
func WithCeiling(d time.Duration) Option { return func(o *options) { o.ceiling = d } }

// WithClock sets the time source used for bucketing and field expiry.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

func WithLogger(l rulecache.Logger) Option { return func(o *options) { o.log = l } }

func WithHooks(h rulecache.Hooks) Option { return func(o *options) { o.hooks = h } }

// entry is the stored field value.
type entry struct {
	ExpireAt int64  `msgpack:"e"`
	Value    []byte `msgpack:"v"`
}

type Hash[V any] struct {
	st      store.Store
	name    string
	expired time.Duration
	width   time.Duration
	codec   codec.Codec[V]
	now     func() time.Time
	log     rulecache.Logger
	hooks   rulecache.Hooks
}

// New returns a Hash whose fields live for expired. expired must be
// positive and not above the ceiling; otherwise New fails with
// rulecache.ErrConfiguration without touching st.
func New[V any](st store.Store, name string, expired time.Duration, c codec.Codec[V], opts ...Option) (*Hash[V], error) {
	o := options{ceiling: DefaultCeiling, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ceiling <= 0 {
		return nil, rulecache.Configf("expiryhash: ceiling must be positive, got %s", o.ceiling)
	}
	if expired <= 0 || expired > o.ceiling {
		return nil, rulecache.Configf("expiryhash: expired %s outside (0, %s]", expired, o.ceiling)
	}
	if st == nil {
		return nil, rulecache.Configf("expiryhash: store is required")
	}
	if name == "" {
		return nil, rulecache.Configf("expiryhash: name is required")
	}
	if c == nil {
		return nil, rulecache.Configf("expiryhash: codec is required")
	}
	if o.log == nil {
		o.log = rulecache.NopLogger{}
	}
	if o.hooks == nil {
		o.hooks = rulecache.NopHooks{}
	}
	return &Hash[V]{
		st:      st,
		name:    name,
		expired: expired,
		width:   Width(expired),
		codec:   c,
		now:     o.now,
		log:     o.log,
		hooks:   o.hooks,
	}, nil
}

// Width is the bucket width for a field TTL: expired rounded up to a whole
// minute.
func Width(expired time.Duration) time.Duration {
	w := expired.Truncate(time.Minute)
	if w < expired {
		w += time.Minute
	}
	return w
}

func (h *Hash[V]) Name() string           { return h.name }
func (h *Hash[V]) Expired() time.Duration { return h.expired }
func (h *Hash[V]) Width() time.Duration   { return h.width }

// start returns the unix second the bucket containing t begins at.
func (h *Hash[V]) start(t time.Time) int64 {
	w := int64(h.width / time.Second)
	u := t.Unix()
	return u - u%w
}

func (h *Hash[V]) bucket(start int64) string {
	return h.name + ":" + strconv.FormatInt(start, 10)
}

// Buckets returns the previous, current and next bucket names at now.
func (h *Hash[V]) Buckets() [3]string {
	cur := h.start(h.now())
	w := int64(h.width / time.Second)
	return [3]string{h.bucket(cur - w), h.bucket(cur), h.bucket(cur + w)}
}

// HSet stores v under field for the configured TTL, replacing any copy in
// the neighbouring buckets. The replace and the write are separate store
// calls; a concurrent reader may briefly see the field absent.
func (h *Hash[V]) HSet(ctx context.Context, field string, v V) error {
	if rulecache.IsNil(v) {
		return nil
	}
	b, err := h.codec.Encode(v)
	if err != nil {
		return err
	}
	if err := h.HDel(ctx, field); err != nil {
		return err
	}

	now := h.now()
	expireAt := now.Add(h.expired).Unix()
	start := h.start(now)
	w := int64(h.width / time.Second)
	if expireAt > start+w {
		start += w
	}
	name := h.bucket(start)

	raw, err := msgpack.Marshal(entry{ExpireAt: expireAt, Value: b})
	if err != nil {
		return err
	}
	if err := h.st.HSet(ctx, name, field, raw); err != nil {
		return &rulecache.StoreError{Op: "hset", Key: name, Err: err}
	}
	until := time.Unix(start, 0).Add(h.width + slack)
	if err := h.st.ExpireAt(ctx, name, until); err != nil {
		return &rulecache.StoreError{Op: "expireat", Key: name, Err: err}
	}
	return nil
}

// HGet returns the live value of field. Store failures degrade to a miss;
// undecodable entries return a *rulecache.DecodeError.
func (h *Hash[V]) HGet(ctx context.Context, field string) (V, bool, error) {
	var zero V
	now := h.now().Unix()
	for _, name := range h.Buckets() {
		raw, ok, err := h.st.HGet(ctx, name, field)
		if err != nil {
			h.log.Warn("expiry hash read failed; treating as miss",
				rulecache.Fields{"bucket": name, "field": field, "err": err})
			h.hooks.ReadDegraded(name, err)
			return zero, false, nil
		}
		if !ok {
			continue
		}
		var e entry
		if err := msgpack.Unmarshal(raw, &e); err != nil {
			h.hooks.DecodeFailed(name, err)
			return zero, false, &rulecache.DecodeError{Key: name, Err: err}
		}
		if now >= e.ExpireAt {
			continue
		}
		v, err := h.codec.Decode(e.Value)
		if err != nil {
			h.hooks.DecodeFailed(name, err)
			return zero, false, &rulecache.DecodeError{Key: name, Err: err}
		}
		return v, true, nil
	}
	return zero, false, nil
}

// HDel removes field from every relevant bucket.
func (h *Hash[V]) HDel(ctx context.Context, field string) error {
	var errs []error
	for _, name := range h.Buckets() {
		if err := h.st.HDel(ctx, name, field); err != nil {
			errs = append(errs, &rulecache.StoreError{Op: "hdel", Key: name, Err: err})
		}
	}
	return errors.Join(errs...)
}
