package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/rulecache/store"
)

var (
	ErrNilClient = errors.New("redis store: nil client")
	// ErrCluster rejects cluster clients: SCAN reaches a single node and a
	// multi-key DEL would cross hash slots.
	ErrCluster   = errors.New("redis store: cluster clients are not supported")
)

type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var _ store.Store = (*Redis)(nil)

type Config struct {
	// Client is a single-node or failover (sentinel) client.
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this store exclusively owns the client
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if _, ok := cfg.Client.(*goredis.ClusterClient); ok {
		return nil, ErrCluster
	}
	return &Redis{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

// Client exposes the underlying client for callers that need commands
// outside the store contract (queues, health checks).
func (s *Redis) Client() goredis.UniversalClient { return s.rdb }

func (s *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	return b, true, nil
}

func (s *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0 // non-positive TTLs mean "no expiry"
	}
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *Redis) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return s.rdb.Del(ctx, keys...).Result()
}

// DelEach pipelines one DEL per key so no single command carries a huge
// argument list.
func (s *Redis) DelEach(ctx context.Context, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	cmds := make([]*goredis.IntCmd, 0, len(keys))
	_, err := s.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for _, k := range keys {
			cmds = append(cmds, p.Del(ctx, k))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	var n int64
	for _, c := range cmds {
		n += c.Val()
	}
	return n, nil
}

func (s *Redis) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	return s.rdb.Scan(ctx, cursor, match, count).Result()
}

func (s *Redis) HGet(ctx context.Context, key, field string) ([]byte, bool, error) {
	b, err := s.rdb.HGet(ctx, key, field).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *Redis) HSet(ctx context.Context, key, field string, value []byte) error {
	return s.rdb.HSet(ctx, key, field, value).Err()
}

func (s *Redis) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return s.rdb.HDel(ctx, key, fields...).Err()
}

func (s *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.rdb.Expire(ctx, key, ttl).Err()
}

func (s *Redis) ExpireAt(ctx context.Context, key string, at time.Time) error {
	return s.rdb.ExpireAt(ctx, key, at).Err()
}

func (s *Redis) ZAdd(ctx context.Context, key string, members ...store.Z) error {
	if len(members) == 0 {
		return nil
	}
	zs := make([]goredis.Z, len(members))
	for i, m := range members {
		zs[i] = goredis.Z{Score: m.Score, Member: m.Member}
	}
	return s.rdb.ZAdd(ctx, key, zs...).Err()
}

func (s *Redis) ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]store.Z, error) {
	res, err := s.rdb.ZRevRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]store.Z, 0, len(res))
	for _, z := range res {
		m, _ := z.Member.(string)
		out = append(out, store.Z{Member: m, Score: z.Score})
	}
	return out, nil
}

// Close releases the underlying redis client only when this store owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (s *Redis) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
