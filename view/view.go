// Package view binds a viewset's cache rules to a typed cache and serves
// reads through it.
//
//	widgets, err := view.Register(reg, cache, "Widget",
//		rules.Rule{Action: "list", ByUser: true},
//		rules.Rule{Action: "retrieve", Detail: true},
//	)
//	out, err := widgets.Serve(ctx, "retrieve", view.Request{LookupID: id}, loadWidget)
package view

import (
	"context"
	"net/url"
	"reflect"

	"github.com/unkn0wn-root/rulecache"
	"github.com/unkn0wn-root/rulecache/rules"
)

// Request carries the parts of an incoming read that keys depend on.
type Request struct {
	UserID   string
	LookupID string
	Query    url.Values
}

// Emptier lets a result say whether it counts as empty. Slices, maps and
// arrays of length zero are empty without it.
type Emptier interface {
	Empty() bool
}

// View serves one viewset's cached actions.
type View[V any] struct {
	reg     *rules.Registry
	cache   *rulecache.Cache[V]
	viewset string
}

// Register adds rs under viewset in reg and returns the View reading
// through cache. A nil reg means rules.Default.
func Register[V any](reg *rules.Registry, cache *rulecache.Cache[V], viewset string, rs ...rules.Rule) (*View[V], error) {
	if cache == nil {
		return nil, rulecache.Configf("view: %s: cache is required", viewset)
	}
	if reg == nil {
		reg = rules.Default
	}
	if err := reg.Register(viewset, rs...); err != nil {
		return nil, err
	}
	return &View[V]{reg: reg, cache: cache, viewset: viewset}, nil
}

func (v *View[V]) ViewSet() string { return v.viewset }

// Key returns the cache key action stores req's result under.
func (v *View[V]) Key(action string, req Request) (string, error) {
	key, _, err := v.reg.ReadKey(v.viewset, action, rules.Parts{
		UserID:   req.UserID,
		DetailID: req.LookupID,
		Query:    req.Query,
	})
	return key, err
}

// Serve returns the cached result of action for req, or runs produce and
// caches what it returns: for the rule's Timeout, or its EmptyTimeout when
// the result is empty. nil results are returned but never cached. Requests
// without a user on a per-user action bypass the cache.
func (v *View[V]) Serve(ctx context.Context, action string, req Request, produce func(context.Context) (V, error)) (V, error) {
	key, rule, err := v.reg.ReadKey(v.viewset, action, rules.Parts{
		UserID:   req.UserID,
		DetailID: req.LookupID,
		Query:    req.Query,
	})
	if err != nil {
		var zero V
		return zero, err
	}
	if rule.ByUser && req.UserID == "" {
		return produce(ctx)
	}

	out, ok, err := v.cache.Get(ctx, key)
	if err != nil || ok {
		return out, err
	}
	out, err = produce(ctx)
	if err != nil {
		return out, err
	}
	if err := v.cache.Set(ctx, key, out, rule.TTL(isEmpty(out))); err != nil {
		v.cache.Keyspace().Logger().Warn("view populate failed",
			rulecache.Fields{"key": key, "err": err})
	}
	return out, nil
}

// Invalidate drops every cached variant of action.
func (v *View[V]) Invalidate(ctx context.Context, action string) (int, error) {
	if _, ok := v.reg.Lookup(v.viewset, action); !ok {
		return 0, rulecache.Configf("view: no rule for %s.%s", v.viewset, action)
	}
	return v.cache.DeleteByPattern(ctx, v.reg.Prefix(v.viewset, action))
}

func isEmpty(x any) bool {
	if e, ok := x.(Emptier); ok {
		return e.Empty()
	}
	rv := reflect.ValueOf(x)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.String:
		return rv.Len() == 0
	}
	return false
}
