// Package accesstime buffers "last seen" timestamps in sorted sets and
// flushes them to durable storage in bulk.
//
// Ids are spread over Pages sorted sets named
// "<prefix>:<field>:<page>:lastaccesstime"; the caller picks the page with
// any stable hint (user id, shard). Scores are unix seconds.
package accesstime

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/unkn0wn-root/rulecache"
	"github.com/unkn0wn-root/rulecache/internal/keys"
	"github.com/unkn0wn-root/rulecache/store"
)

const (
	DefaultPages  = 500
	DefaultPrefix = "rulecache"
	DefaultField  = "id"
	DefaultTTL    = 24 * time.Hour
)

type Options struct {
	Store  store.Store
	Prefix string
	Field  string
	Pages  int64
	// TTL is refreshed on every update so idle pages expire. 0 => DefaultTTL.
	TTL    time.Duration
	Now    func() time.Time
	Logger rulecache.Logger
}

type Tracker struct {
	st     store.Store
	prefix string
	field  string
	pages  int64
	ttl    time.Duration
	now    func() time.Time
	log    rulecache.Logger
}

func New(opts Options) (*Tracker, error) {
	if opts.Store == nil {
		return nil, rulecache.Configf("accesstime: store is required")
	}
	if opts.Pages < 0 || opts.TTL < 0 {
		return nil, rulecache.Configf("accesstime: negative pages or ttl")
	}
	t := &Tracker{
		st:     opts.Store,
		prefix: opts.Prefix,
		field:  opts.Field,
		pages:  opts.Pages,
		ttl:    opts.TTL,
		now:    opts.Now,
		log:    opts.Logger,
	}
	if t.prefix == "" {
		t.prefix = DefaultPrefix
	}
	if t.field == "" {
		t.field = DefaultField
	}
	if t.pages == 0 {
		t.pages = DefaultPages
	}
	if t.ttl == 0 {
		t.ttl = DefaultTTL
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.log == nil {
		t.log = rulecache.NopLogger{}
	}
	return t, nil
}

// Key is the sorted set for page.
func (t *Tracker) Key(page int64) string {
	return keys.Join(t.prefix, t.field, strconv.FormatInt(page, 10), "lastaccesstime")
}

func (t *Tracker) page(hint int64) int64 {
	p := hint % t.pages
	if p < 0 {
		p += t.pages
	}
	return p
}

// Touch records id as accessed now on the page chosen by hint.
func (t *Tracker) Touch(ctx context.Context, id string, hint int64) error {
	key := t.Key(t.page(hint))
	err := t.st.ZAdd(ctx, key, store.Z{Member: id, Score: float64(t.now().Unix())})
	if err != nil {
		return &rulecache.StoreError{Op: "zadd", Key: key, Err: err}
	}
	if err := t.st.Expire(ctx, key, t.ttl); err != nil {
		return &rulecache.StoreError{Op: "expire", Key: key, Err: err}
	}
	return nil
}

// Sink persists one id's last access time.
type Sink func(ctx context.Context, id string, at time.Time) error

// Flush hands every recorded id to sink, most recent first within a page.
// Pages are left in place; they expire on their own. Store and sink errors
// do not stop the walk and are returned joined.
func (t *Tracker) Flush(ctx context.Context, sink Sink) (int, error) {
	var (
		n    int
		errs []error
	)
	for p := int64(0); p < t.pages; p++ {
		if err := ctx.Err(); err != nil {
			return n, errors.Join(append(errs, err)...)
		}
		key := t.Key(p)
		zs, err := t.st.ZRevRangeWithScores(ctx, key, 0, -1)
		if err != nil {
			errs = append(errs, &rulecache.StoreError{Op: "zrevrange", Key: key, Err: err})
			continue
		}
		for _, z := range zs {
			if err := sink(ctx, z.Member, time.Unix(int64(z.Score), 0).UTC()); err != nil {
				errs = append(errs, err)
				continue
			}
			n++
		}
	}
	if len(errs) > 0 {
		t.log.Warn("access time flush incomplete", rulecache.Fields{"flushed": n, "errors": len(errs)})
	}
	return n, errors.Join(errs...)
}
