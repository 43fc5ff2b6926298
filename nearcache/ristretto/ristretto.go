package ristretto

import (
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/rulecache/nearcache"
)

type Local struct {
	c   *rc.Cache
	ttl time.Duration
}

var _ nearcache.Local = (*Local)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64 // in bytes; each entry costs len(value)
	BufferItems int64
	Metrics     bool
	// MaxTTL caps how long an entry may live locally regardless of the
	// shared entry's TTL. Zero means 5s.
	MaxTTL time.Duration
}

func New(cfg Config) (*Local, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	ttl := cfg.MaxTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Local{c: c, ttl: ttl}, nil
}

func (l *Local) Get(key string) ([]byte, bool) {
	v, ok := l.c.Get(key)
	if !ok {
		return nil, false
	}
	b, _ := v.([]byte)
	if b == nil {
		// drop unexpected entry shape
		l.c.Del(key)
		return nil, false
	}
	return b, true
}

func (l *Local) Set(key string, value []byte, ttl time.Duration) bool {
	if ttl <= 0 || ttl > l.ttl {
		ttl = l.ttl
	}
	ok := l.c.SetWithTTL(key, value, int64(len(value)), ttl)
	// make the write visible to the next Get on this goroutine
	l.c.Wait()
	return ok
}

func (l *Local) Del(key string) { l.c.Del(key) }

func (l *Local) Clear() { l.c.Clear() }

func (l *Local) Close() error {
	l.c.Wait()
	l.c.Close()
	return nil
}

// Metrics exposes ristretto counters when Config.Metrics is set.
func (l *Local) Metrics() *rc.Metrics { return l.c.Metrics }
