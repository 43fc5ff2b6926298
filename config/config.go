// Package config loads rulecache settings from YAML and builds the pieces
// they describe: the Redis client, near cache, keyspace and cache options,
// rule registry, expiry hash options and invalidation queue.
//
// Redis runs as a single node or behind sentinels (master_name set).
// Cluster mode is rejected: pattern purges SCAN one node and multi-key DEL
// would cross slots.
//
//	redis:
//	  addrs: ["127.0.0.1:6379"]
//	  db: 0
//	namespace: viewset
//	keyspace:
//	  scan_count: 1000
//	  multi_del_max: 30
//	near:
//	  kind: ristretto
//	  ttl: 5s
//	expiry_hash:
//	  ceiling: 1h
//	queue:
//	  kind: redis
//	  list: rulecache:invalidate
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/rulecache"
	"github.com/unkn0wn-root/rulecache/codec"
	"github.com/unkn0wn-root/rulecache/expiryhash"
	"github.com/unkn0wn-root/rulecache/invalidate"
	"github.com/unkn0wn-root/rulecache/nearcache"
	bigcachenear "github.com/unkn0wn-root/rulecache/nearcache/bigcache"
	ristrettonear "github.com/unkn0wn-root/rulecache/nearcache/ristretto"
	"github.com/unkn0wn-root/rulecache/queue/local"
	"github.com/unkn0wn-root/rulecache/queue/redisq"
	"github.com/unkn0wn-root/rulecache/rules"
	"github.com/unkn0wn-root/rulecache/store"
)

type Config struct {
	Redis      Redis      `yaml:"redis"`
	Namespace  string     `yaml:"namespace" validate:"required,excludesall=:*?[]"`
	Keyspace   Keyspace   `yaml:"keyspace"`
	Near       Near       `yaml:"near"`
	ExpiryHash ExpiryHash `yaml:"expiry_hash"`
	Queue      Queue      `yaml:"queue"`
}

type Redis struct {
	Addrs        []string      `yaml:"addrs" validate:"required,min=1,dive,hostname_port"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db" validate:"gte=0"`
	PoolSize     int           `yaml:"pool_size" validate:"gte=0"`
	DialTimeout  time.Duration `yaml:"dial_timeout" validate:"gte=0"`
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`
	// MasterName switches to sentinel mode; Addrs then lists the sentinels.
	MasterName   string        `yaml:"master_name"`
}

type Keyspace struct {
	ScanCount   int64         `yaml:"scan_count" validate:"gte=0"`
	MultiDelMax int           `yaml:"multi_del_max" validate:"gte=0"`
	DefaultTTL  time.Duration `yaml:"default_ttl" validate:"gte=0"`
}

type Near struct {
	Kind string        `yaml:"kind" validate:"omitempty,oneof=none ristretto bigcache"`
	TTL  time.Duration `yaml:"ttl" validate:"gte=0"`
	// MaxCostBytes bounds ristretto; MaxSizeMB bounds bigcache.
	MaxCostBytes int64 `yaml:"max_cost_bytes" validate:"gte=0"`
	MaxSizeMB    int   `yaml:"max_size_mb" validate:"gte=0"`
}

type ExpiryHash struct {
	Ceiling time.Duration `yaml:"ceiling" validate:"gt=0"`
}

type Queue struct {
	Kind    string `yaml:"kind" validate:"omitempty,oneof=inline local redis"`
	Workers int    `yaml:"workers" validate:"gte=0"`
	Length  int    `yaml:"length" validate:"gte=0"`
	List    string `yaml:"list"`
	MaxLen  int64  `yaml:"max_len" validate:"gte=0"`
}

// Default returns the settings used for anything a file leaves out.
func Default() *Config {
	return &Config{
		Redis:     Redis{Addrs: []string{"127.0.0.1:6379"}},
		Namespace: rules.DefaultNamespace,
		Keyspace:  Keyspace{ScanCount: 1000, MultiDelMax: 30},
		Near:      Near{Kind: "none", TTL: 5 * time.Second},
		ExpiryHash: ExpiryHash{
			Ceiling: time.Hour,
		},
		Queue: Queue{Kind: "inline", Workers: 1, Length: 1024},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads path over Default and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports field errors as rulecache.ErrConfiguration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return rulecache.Configf("config: %s fails %q (%d problems)", fe.Namespace(), fe.Tag(), len(verrs))
		}
		return rulecache.Configf("config: %v", err)
	}
	if len(c.Redis.Addrs) > 1 && c.Redis.MasterName == "" {
		return errClusterUnsupported
	}
	return nil
}

var errClusterUnsupported = rulecache.Configf("config: several redis addrs need master_name; cluster mode is not supported")

// NewRedisClient builds a single-node client, or a sentinel-backed failover
// client when MasterName is set.
func (r Redis) NewRedisClient() (redis.UniversalClient, error) {
	switch {
	case len(r.Addrs) == 0:
		return nil, rulecache.Configf("config: no redis addrs")
	case r.MasterName != "":
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    r.MasterName,
			SentinelAddrs: r.Addrs,
			Username:      r.Username,
			Password:      r.Password,
			DB:            r.DB,
			PoolSize:      r.PoolSize,
			DialTimeout:   r.DialTimeout,
			ReadTimeout:   r.ReadTimeout,
			WriteTimeout:  r.WriteTimeout,
		}), nil
	case len(r.Addrs) > 1:
		return nil, errClusterUnsupported
	}
	return redis.NewClient(&redis.Options{
		Addr:         r.Addrs[0],
		Username:     r.Username,
		Password:     r.Password,
		DB:           r.DB,
		PoolSize:     r.PoolSize,
		DialTimeout:  r.DialTimeout,
		ReadTimeout:  r.ReadTimeout,
		WriteTimeout: r.WriteTimeout,
	}), nil
}

// NewLocal builds the configured near cache; (nil, nil) when disabled.
func (n Near) NewLocal() (nearcache.Local, error) {
	switch n.Kind {
	case "", "none":
		return nil, nil
	case "ristretto":
		maxCost := n.MaxCostBytes
		if maxCost == 0 {
			maxCost = 64 << 20
		}
		l, err := ristrettonear.New(ristrettonear.Config{
			NumCounters: 1_000_000,
			MaxCost:     maxCost,
			BufferItems: 64,
			MaxTTL:      n.TTL,
		})
		if err != nil {
			return nil, err
		}
		return l, nil
	case "bigcache":
		l, err := bigcachenear.New(bigcachenear.Config{LifeWindow: n.TTL, HardMaxCacheSizeMB: n.MaxSizeMB})
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	return nil, rulecache.Configf("config: unknown near cache %q", n.Kind)
}

// KeyspaceOptions wires st and the near cache into keyspace options.
func (c *Config) KeyspaceOptions(st store.Store, log rulecache.Logger, hooks rulecache.Hooks) (rulecache.KeyspaceOptions, error) {
	near, err := c.Near.NewLocal()
	if err != nil {
		return rulecache.KeyspaceOptions{}, err
	}
	return rulecache.KeyspaceOptions{
		Store:       st,
		Local:       near,
		Logger:      log,
		Hooks:       hooks,
		ScanCount:   c.Keyspace.ScanCount,
		MultiDelMax: c.Keyspace.MultiDelMax,
	}, nil
}

// CacheOptions builds options for a typed cache over ks; Keyspace.DefaultTTL
// applies to writes made without a TTL.
func CacheOptions[V any](c *Config, ks *rulecache.Keyspace, cd codec.Codec[V]) rulecache.Options[V] {
	return rulecache.Options[V]{Keyspace: ks, Codec: cd, DefaultTTL: c.Keyspace.DefaultTTL}
}

// NewRegistry returns an empty rule registry under the configured namespace.
func (c *Config) NewRegistry() *rules.Registry { return rules.NewRegistry(c.Namespace) }

// HashOptions carries the configured ceiling, followed by extra.
func (c *Config) HashOptions(extra ...expiryhash.Option) []expiryhash.Option {
	return append([]expiryhash.Option{expiryhash.WithCeiling(c.ExpiryHash.Ceiling)}, extra...)
}

// NewEnqueuer builds the invalidation queue named by Queue.Kind. "inline"
// returns a nil Enqueuer, which makes the engine delete async keys inline.
// stop releases the queue; for "local" it drains queued jobs.
//
// rdb is only used by the "redis" kind.
func (c *Config) NewEnqueuer(rdb redis.UniversalClient, apply invalidate.Applier, log rulecache.Logger) (q invalidate.Enqueuer, stop func(), err error) {
	switch c.Queue.Kind {
	case "", "inline":
		return nil, func() {}, nil
	case "local":
		if apply == nil {
			return nil, nil, rulecache.Configf("config: local queue needs an applier")
		}
		lq := local.New(apply, local.Options{
			Workers:  c.Queue.Workers,
			QueueLen: c.Queue.Length,
			Logger:   log,
		})
		return lq, lq.Close, nil
	case "redis":
		p, err := redisq.NewProducer(rdb, redisq.ProducerOptions{List: c.Queue.List, MaxLen: c.Queue.MaxLen})
		if err != nil {
			return nil, nil, err
		}
		return p, func() {}, nil
	}
	return nil, nil, rulecache.Configf("config: unknown queue %q", c.Queue.Kind)
}

// NewWorker builds the consumer side of a "redis" queue, for the process
// that applies invalidations.
func (c *Config) NewWorker(rdb redis.UniversalClient, apply invalidate.Applier, log rulecache.Logger) (*redisq.Worker, error) {
	if c.Queue.Kind != "redis" {
		return nil, rulecache.Configf("config: queue kind %q has no worker", c.Queue.Kind)
	}
	return redisq.NewWorker(rdb, apply, redisq.WorkerOptions{List: c.Queue.List, Logger: log})
}
