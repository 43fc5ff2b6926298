// Package rulecache is a Redis-backed read-through cache for REST list and
// detail responses, with invalidation driven by declarative per-entity rules.
//
// Components:
//   - Keyspace: raw byte access to a store.Store plus pattern purges
//     (cursor SCAN, batched DEL) and an optional nearcache.Local tier.
//   - Cache[V]: typed get / set / get-or-populate over a Keyspace using a
//     codec.Codec[V] chosen at construction (JSON text or binary modes).
//   - rules, view: per-viewset cache rules and the read path that builds
//     canonical keys from them.
//   - invalidate: maps entity writes to the keys and patterns to delete,
//     inline or through a background queue.
//   - expiryhash: per-field TTL over whole-hash TTL via rotating buckets.
//   - queue/local, queue/redisq: in-process and Redis list invalidation queues.
//   - verifycode, accesstime: one-time codes and last-access tracking built
//     on expiryhash and sorted sets.
//   - config: YAML configuration that wires the pieces above.
//
// Keys:
//
//	<namespace>:<viewset>:<action>[:<user>][:<detail>][:<query hash>]
//
// Read-through pattern:
//
//	v, err := cache.GetOrPopulate(ctx, key, ttl, func(ctx context.Context) (V, error) {
//	    return loadFromDB(ctx)
//	})
//
// GetOrPopulate takes no lock: concurrent misses may both run the producer
// and both write; the last write wins.
package rulecache
