// Package invalidate maps entity writes to the cache keys they make stale
// and deletes them, inline or through a background queue.
package invalidate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/unkn0wn-root/rulecache"
	"github.com/unkn0wn-root/rulecache/internal/keys"
	"github.com/unkn0wn-root/rulecache/rules"
)

// Options configure an Engine. Only Invalidator is required.
type Options struct {
	Invalidator Invalidator
	// Registry holds the viewset rules. nil => rules.Default.
	Registry *rules.Registry
	// Queue receives async keys. nil => async keys are deleted inline.
	Queue Enqueuer
	// Loader fetches the pre-write state for configs with ReloadData.
	Loader Loader

	Logger rulecache.Logger // if nil, NopLogger is used
	Hooks  rulecache.Hooks  // if nil, NopHooks is used
}

type Engine struct {
	inv    Invalidator
	reg    *rules.Registry
	queue  Enqueuer
	loader Loader
	log    rulecache.Logger
	hooks  rulecache.Hooks
}

var _ Applier = (*Engine)(nil)

func New(opts Options) (*Engine, error) {
	if opts.Invalidator == nil {
		return nil, rulecache.Configf("invalidate: invalidator is required")
	}
	e := &Engine{
		inv:    opts.Invalidator,
		reg:    opts.Registry,
		queue:  opts.Queue,
		loader: opts.Loader,
		log:    opts.Logger,
		hooks:  opts.Hooks,
	}
	if e.reg == nil {
		e.reg = rules.Default
	}
	if e.log == nil {
		e.log = rulecache.NopLogger{}
	}
	if e.hooks == nil {
		e.hooks = rulecache.NopHooks{}
	}
	return e, nil
}

// Validate checks cfg against the registry: every referenced viewset
// action exists and every user-partitioned rule has a ByUserField. Call it
// at startup for each trackable type.
func (e *Engine) Validate(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	if cfg.ReloadData && e.loader == nil {
		return rulecache.Configf("invalidate: ReloadData needs a Loader")
	}
	check := func(g Group) error {
		for _, a := range g.Actions {
			rule, ok := e.reg.Lookup(g.ViewSet, a)
			if !ok {
				return rulecache.Configf("invalidate: no rule for %s.%s", g.ViewSet, a)
			}
			if rule.ByUser && g.ByUserField == "" {
				return rulecache.Configf("invalidate: %s.%s is per-user but ByUserField is empty", g.ViewSet, a)
			}
		}
		for _, a := range g.AsyncActions {
			if !contains(g.Actions, a) {
				return rulecache.Configf("invalidate: async action %s.%s not in Actions", g.ViewSet, a)
			}
		}
		return nil
	}
	for _, g := range cfg.Default {
		if err := check(g); err != nil {
			return err
		}
	}
	for _, g := range cfg.Foreign {
		if err := check(g.Group); err != nil {
			return err
		}
		if (g.ForeignSet == "") == (g.ForeignSetFunc == "") {
			return rulecache.Configf("invalidate: foreign %s needs exactly one of ForeignSet, ForeignSetFunc", g.ViewSet)
		}
	}
	for _, g := range cfg.Custom {
		if n := strings.Count(g.Template, "{}"); n > 0 && n != len(g.Args) {
			return rulecache.Configf("invalidate: template %q has %d slots for %d args", g.Template, n, len(g.Args))
		}
		for _, a := range g.Args {
			if a.kind == 0 || (a.kind == argComputed && a.fn == nil) || (a.kind == argField && a.path == "") {
				return rulecache.Configf("invalidate: template %q has an invalid argument", g.Template)
			}
		}
	}
	return nil
}

// Compute returns every key cfg says a write of entity under ev makes
// stale. Resolution failures do not stop the remaining groups: the keys
// that did resolve are returned together with the joined errors, so callers
// can still clear what they can.
func (e *Engine) Compute(ctx context.Context, entity any, cfg *Config, ev Event) ([]Key, error) {
	if cfg == nil {
		return nil, nil
	}
	var (
		out  keyset
		errs []error
	)
	for _, g := range cfg.Default {
		if g.skips(ev) {
			continue
		}
		if err := e.defaultGroup(&out, entity, cfg.Nil, g); err != nil {
			errs = append(errs, err)
		}
	}
	for _, g := range cfg.Foreign {
		if g.skips(ev) {
			continue
		}
		if err := e.foreignGroup(ctx, &out, entity, cfg.Nil, g); err != nil {
			errs = append(errs, err)
		}
	}
	for _, g := range cfg.Custom {
		if g.skips(ev) {
			continue
		}
		if err := e.customGroup(&out, entity, cfg.Nil, g); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		e.reportResolution(entity, err)
	}
	return out.keys, err
}

func (e *Engine) defaultGroup(out *keyset, entity any, np NilPolicy, g Group) error {
	var errs []error
	for _, action := range g.Actions {
		rule, ok := e.reg.Lookup(g.ViewSet, action)
		if !ok {
			errs = append(errs, rulecache.Configf("invalidate: no rule for %s.%s", g.ViewSet, action))
			continue
		}
		userID, skip, err := e.userID(entity, np, g, rule)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if skip {
			continue
		}
		var detailID string
		if rule.Detail {
			path := g.DetailField
			if path == "" {
				path = rule.DetailPath()
			}
			if detailID, skip, err = resolveString(entity, path, np); err != nil {
				errs = append(errs, err)
				continue
			}
			if skip {
				continue
			}
		}
		if err := e.addKey(out, g, action, userID, detailID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) foreignGroup(ctx context.Context, out *keyset, entity any, np NilPolicy, g ForeignGroup) error {
	var (
		errs    []error
		ids     []string
		fetched bool
	)
	related := func() ([]string, error) {
		if fetched {
			return ids, nil
		}
		fetched = true
		var err error
		ids, err = e.relatedIDs(ctx, entity, np, g)
		return ids, err
	}

	for _, action := range g.Actions {
		rule, ok := e.reg.Lookup(g.ViewSet, action)
		if !ok {
			errs = append(errs, rulecache.Configf("invalidate: no rule for %s.%s", g.ViewSet, action))
			continue
		}
		userID, skip, err := e.userID(entity, np, g.Group, rule)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if skip {
			continue
		}
		if !rule.Detail {
			if err := e.addKey(out, g.Group, action, userID, ""); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		ids, err := related()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, id := range ids {
			if err := e.addKey(out, g.Group, action, userID, id); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// relatedIDs returns the detail ids of the entities reachable through the
// group's relation. An empty relation yields no ids.
func (e *Engine) relatedIDs(ctx context.Context, entity any, np NilPolicy, g ForeignGroup) ([]string, error) {
	if g.ForeignSetFunc != "" {
		res, err := callNamed(ctx, entity, g.ForeignSetFunc)
		if err != nil {
			return nil, err
		}
		vals, err := items(res)
		if err != nil {
			return nil, &AttributeError{Entity: typeName(entity), Path: g.ForeignSetFunc, Segment: g.ForeignSetFunc, Err: err}
		}
		ids := make([]string, 0, len(vals))
		for _, v := range vals {
			ids = append(ids, render(v))
		}
		return ids, nil
	}

	if g.ForeignSet == "" {
		return nil, rulecache.Configf("invalidate: foreign %s has no relation", g.ViewSet)
	}
	set, err := Resolve(entity, g.ForeignSet)
	if err != nil {
		return nil, err
	}
	vals, err := items(set)
	if err != nil {
		return nil, &AttributeError{Entity: typeName(entity), Path: g.ForeignSet, Segment: g.ForeignSet, Err: err}
	}

	ids := make([]string, 0, len(vals))
	var errs []error
	for _, rel := range vals {
		for _, action := range g.Actions {
			rule, ok := e.reg.Lookup(g.ViewSet, action)
			if !ok || !rule.Detail {
				continue
			}
			path := g.DetailField
			if path == "" {
				path = rule.DetailPath()
			}
			id, skip, err := resolveString(rel, path, np)
			if err != nil {
				errs = append(errs, err)
			} else if !skip {
				ids = append(ids, id)
			}
			break // detail path is shared by the group's detail actions
		}
	}
	return ids, errors.Join(errs...)
}

func (e *Engine) customGroup(out *keyset, entity any, np NilPolicy, g CustomGroup) error {
	vals := make([]string, len(g.Args))
	pattern := strings.Contains(g.Template, "*")
	for i, a := range g.Args {
		switch a.kind {
		case argWildcard:
			pattern = true
		case argField:
			s, skip, err := resolveString(entity, a.path, np)
			if err != nil {
				return err
			}
			if skip {
				return nil
			}
			vals[i] = s
		case argComputed:
			s, err := a.fn(entity)
			if err != nil {
				return &AttributeError{Entity: typeName(entity), Path: a.String(), Err: err}
			}
			vals[i] = s
		default:
			return rulecache.Configf("invalidate: template %q: invalid argument %d", g.Template, i)
		}
	}

	args := make([]any, len(g.Args))
	for i, a := range g.Args {
		switch {
		case a.kind == argWildcard:
			args[i] = "*"
		case pattern:
			args[i] = keys.EscapeGlob(vals[i])
		default:
			args[i] = vals[i]
		}
	}
	key, err := rulecache.Format(g.Template, args, nil)
	if err != nil {
		return err
	}
	if pattern && !endsInWildcard(key) {
		// patterns delete by prefix, so "feed:*:5" also covers "feed:u1:5:page2"
		key += "*"
	}
	out.add(Key{Key: key, Pattern: pattern, Async: g.Async})
	return nil
}

// endsInWildcard reports whether pattern ends in an unescaped '*'.
func endsInWildcard(pattern string) bool {
	if !strings.HasSuffix(pattern, "*") {
		return false
	}
	n := 0
	for i := len(pattern) - 2; i >= 0 && pattern[i] == '\\'; i-- {
		n++
	}
	return n%2 == 0
}

func (e *Engine) userID(entity any, np NilPolicy, g Group, rule rules.Rule) (string, bool, error) {
	if !rule.ByUser {
		return "", false, nil
	}
	if g.ByUserField == "" {
		return "", false, rulecache.Configf("invalidate: %s.%s is per-user but ByUserField is empty", g.ViewSet, rule.Action)
	}
	return resolveString(entity, g.ByUserField, np)
}

func (e *Engine) addKey(out *keyset, g Group, action, userID, detailID string) error {
	key, pattern, err := e.reg.InvalidationKey(g.ViewSet, action, userID, detailID)
	if err != nil {
		return err
	}
	out.add(Key{Key: key, Pattern: pattern, Async: g.async(action)})
	return nil
}

func (e *Engine) reportResolution(entity any, err error) {
	var ae *AttributeError
	if errors.As(err, &ae) {
		e.hooks.ResolutionFailed(ae.Entity, ae.Path, ae.Err)
	}
	e.log.Error("invalidation key resolution failed; cached data may stay stale",
		rulecache.Fields{"entity": typeName(entity), "err": err})
}

// resolveString resolves path and renders it, applying np to nil values.
// skip reports that np dropped the key.
func resolveString(entity any, path string, np NilPolicy) (string, bool, error) {
	v, err := Resolve(entity, path)
	if err != nil {
		return "", false, err
	}
	if rulecache.IsNil(v) {
		switch np {
		case NilSkip:
			return "", true, nil
		case NilPlaceholder:
			return NilText, false, nil
		default:
			return "", false, &AttributeError{Entity: typeName(entity), Path: path, Segment: lastSegment(path), Err: ErrNilAttribute}
		}
	}
	return render(v), false, nil
}

func callNamed(ctx context.Context, entity any, name string) (any, error) {
	m, ok := methodByAttr(reflectValue(entity), name)
	if !ok {
		return nil, &AttributeError{Entity: typeName(entity), Path: name, Segment: name, Err: ErrMissingAttribute}
	}
	v, err := callAccessor(ctx, m)
	if err != nil {
		return nil, &AttributeError{Entity: typeName(entity), Path: name, Segment: name, Err: err}
	}
	return v, nil
}

func lastSegment(path string) string {
	if i := strings.LastIndex(path, pathSep); i >= 0 {
		return path[i+len(pathSep):]
	}
	return path
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func jobFor(entity any, ev Event, ks []Key) Job {
	j := Job{Keys: ks, Event: ev, CreatedAt: time.Now().UTC()}
	if entity != nil {
		j.Entity = typeName(entity)
	}
	return j
}
