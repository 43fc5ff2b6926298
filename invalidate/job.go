package invalidate

import (
	"context"
	"time"
)

// Key is one invalidation target. Pattern keys are store glob patterns
// ending in '*'; the rest are literal keys.
type Key struct {
	Key     string `json:"key" msgpack:"key"`
	Pattern bool   `json:"pattern,omitempty" msgpack:"pattern,omitempty"`
	Async   bool   `json:"async,omitempty" msgpack:"async,omitempty"`
}

// Job is the plain-data unit handed to a background queue: everything a
// worker in another process needs, no closures.
type Job struct {
	Keys      []Key     `json:"keys" msgpack:"keys"`
	Entity    string    `json:"entity,omitempty" msgpack:"entity,omitempty"`
	Event     Event     `json:"event,omitempty" msgpack:"event,omitempty"`
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
}

func (j Job) stamped() Job {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	return j
}

// Enqueuer accepts jobs fire-and-forget. Completion is not observed.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// Applier deletes keys. *Engine implements it; queue workers call it.
type Applier interface {
	Apply(ctx context.Context, keys []Key) error
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(ctx context.Context, keys []Key) error

func (f ApplierFunc) Apply(ctx context.Context, keys []Key) error { return f(ctx, keys) }

// Invalidator is the deletion side of the shared store.
// *rulecache.Keyspace implements it.
type Invalidator interface {
	Delete(ctx context.Context, keys ...string) error
	DeleteMatching(ctx context.Context, pattern string) (int, error)
}

// keyset accumulates keys in order without duplicates. A key wanted both
// inline and async stays inline.
type keyset struct {
	idx  map[Key]int
	keys []Key
}

func (s *keyset) add(k Key) {
	if s.idx == nil {
		s.idx = make(map[Key]int)
	}
	probe := Key{Key: k.Key, Pattern: k.Pattern}
	if i, ok := s.idx[probe]; ok {
		if !k.Async {
			s.keys[i].Async = false
		}
		return
	}
	s.idx[probe] = len(s.keys)
	s.keys = append(s.keys, k)
}

func (s *keyset) addAll(ks []Key) {
	for _, k := range ks {
		s.add(k)
	}
}
