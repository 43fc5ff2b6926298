package rulecache

import (
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/rulecache/codec"
)

// Options tune a typed Cache. Keyspace and Codec are required.
type Options[V any] struct {
	Keyspace *Keyspace
	Codec    codec.Codec[V] // fixes the serialization mode for every key

	// DefaultTTL applies when Set gets ttl == 0. Zero keeps entries until an
	// explicit delete.
	DefaultTTL time.Duration
	Disabled   bool // reads always miss, writes are skipped
}

// Cache is a read-through cache of V values over a Keyspace.
type Cache[V any] struct {
	ks         *Keyspace
	codec      codec.Codec[V]
	log        Logger
	hooks      Hooks
	defaultTTL time.Duration
	enabled    bool
}

func New[V any](opts Options[V]) (*Cache[V], error) {
	if opts.Keyspace == nil {
		return nil, Configf("cache: keyspace is required")
	}
	if opts.Codec == nil {
		return nil, Configf("cache: codec is required")
	}
	if opts.DefaultTTL < 0 {
		return nil, Configf("cache: negative default TTL %s", opts.DefaultTTL)
	}
	return &Cache[V]{
		ks:         opts.Keyspace,
		codec:      opts.Codec,
		log:        opts.Keyspace.log,
		hooks:      opts.Keyspace.hooks,
		defaultTTL: opts.DefaultTTL,
		enabled:    !opts.Disabled,
	}, nil
}

func (c *Cache[V]) Enabled() bool        { return c.enabled }
func (c *Cache[V]) Keyspace() *Keyspace { return c.ks }

// Get returns the cached value for key. A store failure is served as a miss
// so callers fall through to the source of truth; a payload that does not
// decode is returned as *DecodeError.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if !c.enabled {
		return zero, false, nil
	}
	raw, ok, err := c.ks.Get(ctx, key)
	if err != nil {
		c.log.Warn("cache read degraded to miss", Fields{"key": key, "err": err})
		c.hooks.ReadDegraded(key, err)
		return zero, false, nil
	}
	if !ok {
		return zero, false, nil
	}
	v, err := c.codec.Decode(raw)
	if err != nil {
		c.log.Error("cache payload does not decode", Fields{"key": key, "err": err})
		c.hooks.DecodeFailed(key, err)
		return zero, false, &DecodeError{Key: key, Err: err}
	}
	return v, true, nil
}

// Set stores value under key. A nil value is a no-op and leaves any cached
// value in place. ttl == 0 uses DefaultTTL; ttl < 0 means no expiry.
func (c *Cache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	if !c.enabled || IsNil(value) {
		return nil
	}
	switch {
	case ttl == 0:
		ttl = c.defaultTTL
	case ttl < 0:
		ttl = 0
	}
	b, err := c.codec.Encode(value)
	if err != nil {
		return err
	}
	return c.ks.Set(ctx, key, b, ttl)
}

// GetOrPopulate returns the cached value or runs produce, caches a non-nil
// result and returns it. No lock is taken: concurrent misses may each run
// produce; the writes are last-writer-wins.
func (c *Cache[V]) GetOrPopulate(ctx context.Context, key string, ttl time.Duration, produce func(context.Context) (V, error)) (V, error) {
	v, ok, err := c.Get(ctx, key)
	if err != nil {
		return v, err
	}
	if ok {
		return v, nil
	}
	v, err = produce(ctx)
	if err != nil {
		return v, err
	}
	if err := c.Set(ctx, key, v, ttl); err != nil {
		var se *StoreError
		if !errors.As(err, &se) {
			return v, err // encode failure is a programming error; surface it
		}
		c.log.Warn("cache populate failed", Fields{"key": key, "err": err})
	}
	return v, nil
}

func (c *Cache[V]) Delete(ctx context.Context, key string) error {
	return c.ks.Delete(ctx, key)
}

// DeleteByPattern removes every key sharing prefix and returns how many.
func (c *Cache[V]) DeleteByPattern(ctx context.Context, prefix string) (int, error) {
	return c.ks.DeleteByPrefix(ctx, prefix)
}
