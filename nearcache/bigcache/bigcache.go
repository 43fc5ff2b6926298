package bigcache

import (
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/rulecache/nearcache"
)

// Local is a bigcache-backed near cache. BigCache has no per-entry TTL;
// every entry lives for LifeWindow.
type Local struct {
	c *bc.BigCache
}

var _ nearcache.Local = (*Local)(nil)

type Config struct {
	LifeWindow         time.Duration // 0 => 5s
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

func New(cfg Config) (*Local, error) {
	life := cfg.LifeWindow
	if life <= 0 {
		life = 5 * time.Second
	}
	conf := bc.DefaultConfig(life)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.NewBigCache(conf)
	if err != nil {
		return nil, err
	}
	return &Local{c: c}, nil
}

func (l *Local) Get(key string) ([]byte, bool) {
	b, err := l.c.Get(key)
	if err != nil {
		return nil, false
	}
	return b, true
}

func (l *Local) Set(key string, value []byte, _ time.Duration) bool {
	return l.c.Set(key, value) == nil
}

// Del ignores bc.ErrEntryNotFound; there is nothing else it can return.
func (l *Local) Del(key string) { _ = l.c.Delete(key) }

func (l *Local) Clear() { _ = l.c.Reset() }

func (l *Local) Close() error { return l.c.Close() }
