package rulecache

import (
	"context"
	"strings"
	"time"

	"github.com/unkn0wn-root/rulecache/internal/keys"
	"github.com/unkn0wn-root/rulecache/nearcache"
	"github.com/unkn0wn-root/rulecache/store"
)

const (
	defaultScanCount   = 1000
	defaultMultiDelMax = 30
)

// KeyspaceOptions configure raw access to the shared store.
// Only Store is required.
type KeyspaceOptions struct {
	Store store.Store
	// Local, when set, serves reads in-process before the store.
	Local nearcache.Local

	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used

	// ScanCount is the COUNT hint per SCAN page. 0 => 1000.
	ScanCount int64
	// MultiDelMax is the largest scan page deleted with one multi-key DEL;
	// larger pages go out as pipelined single-key DELs. 0 => 30.
	MultiDelMax int
}

// Keyspace is byte-level access to the store shared by every Cache and by
// the invalidation engine. Safe for concurrent use.
type Keyspace struct {
	st          store.Store
	local       nearcache.Local
	log         Logger
	hooks       Hooks
	scanCount   int64
	multiDelMax int
}

func NewKeyspace(opts KeyspaceOptions) (*Keyspace, error) {
	if opts.Store == nil {
		return nil, Configf("keyspace: store is required")
	}
	if opts.ScanCount < 0 || opts.MultiDelMax < 0 {
		return nil, Configf("keyspace: negative scan sizing")
	}
	return &Keyspace{
		st:          opts.Store,
		local:       opts.Local,
		log:         coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:       coalesce[Hooks](opts.Hooks, NopHooks{}),
		scanCount:   coalesce(opts.ScanCount, defaultScanCount),
		multiDelMax: coalesce(opts.MultiDelMax, defaultMultiDelMax),
	}, nil
}

func (k *Keyspace) Store() store.Store { return k.st }
func (k *Keyspace) Logger() Logger     { return k.log }
func (k *Keyspace) Hooks() Hooks       { return k.hooks }

// Get returns the raw bytes under key. Store failures come back as
// *StoreError; callers on read paths usually degrade them to a miss.
func (k *Keyspace) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if k.local != nil {
		if b, ok := k.local.Get(key); ok {
			return b, true, nil
		}
	}
	b, ok, err := k.st.Get(ctx, key)
	if err != nil {
		return nil, false, &StoreError{Op: "get", Key: key, Err: err}
	}
	if ok && k.local != nil {
		k.local.Set(key, b, 0)
	}
	return b, ok, nil
}

// Set writes raw bytes. ttl <= 0 keeps the entry until deleted.
func (k *Keyspace) Set(ctx context.Context, key string, b []byte, ttl time.Duration) error {
	if err := k.st.Set(ctx, key, b, ttl); err != nil {
		return &StoreError{Op: "set", Key: key, Err: err}
	}
	if k.local != nil {
		k.local.Set(key, b, ttl)
	}
	return nil
}

// Delete removes literal keys.
func (k *Keyspace) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if k.local != nil {
		for _, key := range keys {
			k.local.Del(key)
		}
	}
	if _, err := k.st.Del(ctx, keys...); err != nil {
		return &StoreError{Op: "del", Key: strings.Join(keys, ","), Err: err}
	}
	return nil
}

// DeleteByPrefix removes every key that starts with the literal prefix.
func (k *Keyspace) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	return k.DeleteMatching(ctx, keys.EscapeGlob(prefix)+"*")
}

// DeleteMatching removes every key matching a store glob pattern. It walks
// the keyspace with a cursor so the store never runs a blocking full scan,
// and deletes page by page.
func (k *Keyspace) DeleteMatching(ctx context.Context, pattern string) (int, error) {
	if k.local != nil {
		k.local.Clear()
	}
	var (
		cursor  uint64
		deleted int
	)
	for {
		page, next, err := k.st.Scan(ctx, cursor, pattern, k.scanCount)
		if err != nil {
			return deleted, &StoreError{Op: "scan", Key: pattern, Err: err}
		}
		if len(page) > 0 {
			n, err := k.purge(ctx, page)
			deleted += n
			if err != nil {
				return deleted, &StoreError{Op: "del", Key: pattern, Err: err}
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	k.log.Debug("purged pattern", Fields{"pattern": pattern, "deleted": deleted})
	k.hooks.PatternPurged(pattern, deleted)
	return deleted, nil
}

func (k *Keyspace) purge(ctx context.Context, page []string) (int, error) {
	var (
		n   int64
		err error
	)
	if len(page) > k.multiDelMax {
		n, err = k.st.DelEach(ctx, page)
	} else {
		n, err = k.st.Del(ctx, page...)
	}
	return int(n), err
}

// Close releases the near cache and the store.
func (k *Keyspace) Close(ctx context.Context) error {
	if k.local != nil {
		_ = k.local.Close()
	}
	return k.st.Close(ctx)
}
