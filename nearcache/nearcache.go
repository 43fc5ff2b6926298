// Package nearcache defines an optional in-process tier that sits in front
// of the shared store for reads.
//
// A near cache only ever holds copies of shared entries. Deletes issued
// through the same rulecache.Keyspace clear it; deletes issued by other
// processes are only seen once the local TTL runs out, so keep that TTL
// short.
package nearcache

import "time"

type Local interface {
	Get(key string) ([]byte, bool)
	// Set may reject under memory pressure; callers treat that as best effort.
	Set(key string, value []byte, ttl time.Duration) bool
	Del(key string)
	// Clear drops everything. Used when a pattern deletion cannot be
	// mapped to individual local keys.
	Clear()
	Close() error
}
