package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/unkn0wn-root/rulecache/store"
)

// Counting wraps a Store and counts the string-path calls made through it,
// for asserting round trips.
type Counting struct {
	store.Store

	mu    sync.Mutex
	calls map[string]int
}

func NewCounting(st store.Store) *Counting {
	return &Counting{Store: st, calls: make(map[string]int)}
}

// Calls reports how often method ("Get", "Set", "Del", "DelEach", "Scan")
// was called.
func (c *Counting) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *Counting) inc(method string) {
	c.mu.Lock()
	c.calls[method]++
	c.mu.Unlock()
}

func (c *Counting) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.inc("Get")
	return c.Store.Get(ctx, key)
}

func (c *Counting) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.inc("Set")
	return c.Store.Set(ctx, key, value, ttl)
}

func (c *Counting) Del(ctx context.Context, keys ...string) (int64, error) {
	c.inc("Del")
	return c.Store.Del(ctx, keys...)
}

func (c *Counting) DelEach(ctx context.Context, keys []string) (int64, error) {
	c.inc("DelEach")
	return c.Store.DelEach(ctx, keys)
}

func (c *Counting) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	c.inc("Scan")
	return c.Store.Scan(ctx, cursor, match, count)
}
