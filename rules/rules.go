// Package rules holds the per-viewset cache rules and builds the canonical
// cache keys that the read path writes and the invalidation engine deletes.
//
// Rules are registered once at startup, keyed by lowercase viewset name and
// action, and read-only afterwards.
package rules

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/unkn0wn-root/rulecache"
	"github.com/unkn0wn-root/rulecache/internal/keys"
)

const (
	DefaultNamespace    = "viewset"
	DefaultTimeout      = 10 * 24 * time.Hour
	DefaultEmptyTimeout = time.Minute
	DefaultDetailField  = "id"
)

// Rule describes how one viewset action is cached.
type Rule struct {
	Action string
	// ByUser partitions cached data per requesting user.
	ByUser bool
	// Detail marks single-object actions whose key carries the object id.
	Detail bool
	// DetailField is the dotted path ("a__b__id") locating the detail id on
	// an entity during invalidation. Empty means "id".
	DetailField string
	// QueryParams makes the key depend on request query parameters. Only
	// QueryFields take part; invalidation then targets every variant.
	QueryParams bool
	QueryFields []string
	// Timeout is the TTL for cached results. 0 => DefaultTimeout.
	Timeout time.Duration
	// EmptyTimeout is the TTL for empty results. 0 => DefaultEmptyTimeout.
	EmptyTimeout time.Duration
}

func (r Rule) detailField() string {
	if r.DetailField == "" {
		return DefaultDetailField
	}
	return r.DetailField
}

// DetailPath returns the dotted path used to find the detail id.
func (r Rule) DetailPath() string { return r.detailField() }

func (r Rule) validate(viewset string) error {
	if strings.TrimSpace(r.Action) == "" {
		return rulecache.Configf("rules: %s: empty action", viewset)
	}
	if strings.ContainsAny(r.Action, ":*") {
		return rulecache.Configf("rules: %s.%s: action must not contain ':' or '*'", viewset, r.Action)
	}
	if r.Timeout < 0 || r.EmptyTimeout < 0 {
		return rulecache.Configf("rules: %s.%s: negative timeout", viewset, r.Action)
	}
	if len(r.QueryFields) > 0 && !r.QueryParams {
		return rulecache.Configf("rules: %s.%s: query fields without QueryParams", viewset, r.Action)
	}
	return nil
}

// TTL picks the timeout for a result.
func (r Rule) TTL(empty bool) time.Duration {
	if empty {
		if r.EmptyTimeout > 0 {
			return r.EmptyTimeout
		}
		return DefaultEmptyTimeout
	}
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultTimeout
}

// Parts are the per-request values a key is built from.
type Parts struct {
	UserID   string
	DetailID string
	Query    url.Values
}

// QueryHash digests the whitelisted query parameters. Fields are sorted,
// absent ones omitted, so the same logical query always hashes the same.
func (r Rule) QueryHash(q url.Values) string {
	fields := append([]string(nil), r.QueryFields...)
	sort.Strings(fields)
	picked := make(url.Values, len(fields))
	for _, f := range fields {
		if vs, ok := q[f]; ok {
			picked[f] = vs
		}
	}
	return keys.Hash(picked.Encode())
}

func normalize(viewset string) string { return strings.ToLower(strings.TrimSpace(viewset)) }
