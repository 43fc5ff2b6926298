// Package store defines the key-value abstraction used by rulecache.
//
// The contract is a subset of Redis: strings with TTL, hashes, sorted sets
// and cursor-based scanning with glob patterns. Implementations must be
// byte-for-byte transparent for values and safe for concurrent use.
//
// Patterns follow Redis glob rules: '*' matches any run of bytes, '?' a
// single byte, '[...]' a class, and '\' escapes the next byte.
package store

import (
	"context"
	"time"
)

// Z is a sorted-set member with its score.
type Z struct {
	Member string
	Score  float64
}

// Store is the key-value store every rulecache component talks to.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Del removes keys in a single command and reports how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)
	// DelEach removes keys one command per key (pipelined where possible).
	DelEach(ctx context.Context, keys []string) (int64, error)
	// Scan returns one page of keys matching pattern and the next cursor.
	// A returned cursor of 0 ends the iteration.
	Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error)

	HGet(ctx context.Context, key, field string) ([]byte, bool, error)
	HSet(ctx context.Context, key, field string, value []byte) error
	HDel(ctx context.Context, key string, fields ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	ExpireAt(ctx context.Context, key string, at time.Time) error

	ZAdd(ctx context.Context, key string, members ...Z) error
	// ZRevRangeWithScores returns members by descending score; stop=-1 means the end.
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]Z, error)

	Close(ctx context.Context) error
}
