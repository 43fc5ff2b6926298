package rules

import (
	"sort"
	"sync"

	"github.com/unkn0wn-root/rulecache"
	"github.com/unkn0wn-root/rulecache/internal/keys"
)

// Registry maps (viewset, action) to its Rule.
//
// Lifecycle: populated while the application wires its views, then frozen.
// Registering after Freeze is a configuration error. Lookups are safe for
// concurrent use at any time.
type Registry struct {
	ns     string
	mu     sync.RWMutex
	rules  map[string]map[string]Rule
	frozen bool
}

// NewRegistry creates an empty registry. namespace "" => DefaultNamespace.
func NewRegistry(namespace string) *Registry {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Registry{ns: namespace, rules: make(map[string]map[string]Rule)}
}

func (r *Registry) Namespace() string { return r.ns }

// Register adds rules for a viewset. Duplicate actions fail.
func (r *Registry) Register(viewset string, rs ...Rule) error {
	name := normalize(viewset)
	if name == "" {
		return rulecache.Configf("rules: empty viewset name")
	}
	for _, rule := range rs {
		if err := rule.validate(name); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return rulecache.Configf("rules: register %s after freeze", name)
	}
	actions := r.rules[name]
	if actions == nil {
		actions = make(map[string]Rule, len(rs))
	}
	seen := make(map[string]struct{}, len(rs))
	for _, rule := range rs {
		if _, dup := actions[rule.Action]; dup {
			return rulecache.Configf("rules: %s.%s registered twice", name, rule.Action)
		}
		if _, dup := seen[rule.Action]; dup {
			return rulecache.Configf("rules: %s.%s registered twice", name, rule.Action)
		}
		seen[rule.Action] = struct{}{}
	}
	for _, rule := range rs {
		rule.QueryFields = append([]string(nil), rule.QueryFields...)
		actions[rule.Action] = rule
	}
	r.rules[name] = actions
	return nil
}

// Lookup returns the rule for viewset/action. The viewset name is
// case-insensitive.
func (r *Registry) Lookup(viewset, action string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[normalize(viewset)][action]
	return rule, ok
}

// Actions lists the registered actions of a viewset in sorted order.
func (r *Registry) Actions(viewset string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.rules[normalize(viewset)]
	out := make([]string, 0, len(m))
	for a := range m {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Reset drops every rule and unfreezes. Meant for tests.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.rules = make(map[string]map[string]Rule)
	r.frozen = false
	r.mu.Unlock()
}

// Prefix is "<ns>:<viewset>:<action>", the root of every key for the action.
func (r *Registry) Prefix(viewset, action string) string {
	return keys.Join(r.ns, normalize(viewset), action)
}

// ReadKey builds the key a read of viewset/action stores its result under.
func (r *Registry) ReadKey(viewset, action string, p Parts) (string, Rule, error) {
	rule, ok := r.Lookup(viewset, action)
	if !ok {
		return "", Rule{}, rulecache.Configf("rules: no rule for %s.%s", normalize(viewset), action)
	}
	parts := []string{r.Prefix(viewset, action)}
	if rule.ByUser {
		parts = append(parts, p.UserID)
	}
	if rule.Detail {
		parts = append(parts, p.DetailID)
	}
	if rule.QueryParams {
		parts = append(parts, rule.QueryHash(p.Query))
	}
	return keys.Join(parts...), rule, nil
}

// InvalidationKey builds what must be deleted after a write touching
// userID/detailID. When the rule varies by query parameters no literal key
// can address every variant, so a pattern ending in '*' is returned and
// pattern is true. Values are glob-escaped inside patterns.
func (r *Registry) InvalidationKey(viewset, action, userID, detailID string) (key string, pattern bool, err error) {
	rule, ok := r.Lookup(viewset, action)
	if !ok {
		return "", false, rulecache.Configf("rules: no rule for %s.%s", normalize(viewset), action)
	}
	esc := func(s string) string { return s }
	if rule.QueryParams {
		esc = keys.EscapeGlob
	}
	parts := []string{esc(r.Prefix(viewset, action))}
	if rule.ByUser {
		parts = append(parts, esc(userID))
	}
	if rule.Detail {
		parts = append(parts, esc(detailID))
	}
	if rule.QueryParams {
		parts = append(parts, "*")
		return keys.Join(parts...), true, nil
	}
	return keys.Join(parts...), false, nil
}
