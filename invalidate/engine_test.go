package invalidate

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/unkn0wn-root/rulecache"
	"github.com/unkn0wn-root/rulecache/internal/redistest"
	"github.com/unkn0wn-root/rulecache/rules"
)

type part struct {
	ID   int
	Name string
}

type owner struct {
	ID      int
	Profile *profile
}

type profile struct {
	Handle string
}

type widget struct {
	ID      int
	OwnerID int `cache:"owner_id"`
	Owner   *owner
	Parts   []*part
	Tag     *string
	ids     []int
	cfg     *Config
}

func (w *widget) CacheConfig() *Config { return w.cfg }

// PartIDs is a named accessor for ForeignSetFunc.
func (w *widget) PartIDs() []int { return w.ids }

type recordingQueue struct {
	mu   sync.Mutex
	jobs []Job
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, j Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, j)
	return nil
}

type fixture struct {
	reg *rules.Registry
	ks  *rulecache.Keyspace
	q   *recordingQueue
	eng *Engine
}

func newFixture(t *testing.T, loader Loader) *fixture {
	t.Helper()
	reg := rules.NewRegistry("")
	must(t, reg.Register("Widget",
		rules.Rule{Action: "list", ByUser: true},
		rules.Rule{Action: "retrieve", Detail: true},
		rules.Rule{Action: "search", QueryParams: true, QueryFields: []string{"q"}},
	))
	must(t, reg.Register("Part",
		rules.Rule{Action: "retrieve", Detail: true},
		rules.Rule{Action: "list"},
	))
	st, _ := redistest.New(t)
	ks, err := rulecache.NewKeyspace(rulecache.KeyspaceOptions{Store: st})
	must(t, err)
	q := &recordingQueue{}
	eng, err := New(Options{Invalidator: ks, Registry: reg, Queue: q, Loader: loader})
	must(t, err)
	return &fixture{reg: reg, ks: ks, q: q, eng: eng}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func keyStrings(ks []Key) []string {
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = k.Key
	}
	sort.Strings(out)
	return out
}

func TestDefaultGroupByUser(t *testing.T) {
	f := newFixture(t, nil)
	cfg := &Config{Default: []Group{{ViewSet: "Widget", Actions: []string{"list"}, ByUserField: "owner_id"}}}
	w := &widget{ID: 1, OwnerID: 7, cfg: cfg}
	must(t, f.eng.Validate(cfg))

	ks, err := f.eng.Compute(context.Background(), w, cfg, Update)
	must(t, err)
	if len(ks) != 1 {
		t.Fatalf("keys=%v want exactly one", ks)
	}
	want, _, err := f.reg.ReadKey("Widget", "list", rules.Parts{UserID: "7"})
	must(t, err)
	if ks[0].Key != want || ks[0].Pattern {
		t.Fatalf("key=%+v want literal %q", ks[0], want)
	}
}

func TestDefaultGroupDetailAndQueryPattern(t *testing.T) {
	f := newFixture(t, nil)
	cfg := &Config{Default: []Group{{ViewSet: "Widget", Actions: []string{"retrieve", "search"}}}}
	ks, err := f.eng.Compute(context.Background(), &widget{ID: 42, cfg: cfg}, cfg, Update)
	must(t, err)
	if len(ks) != 2 {
		t.Fatalf("keys=%v", ks)
	}
	if ks[0].Key != "viewset:widget:retrieve:42" || ks[0].Pattern {
		t.Fatalf("retrieve key=%+v", ks[0])
	}
	if ks[1].Key != "viewset:widget:search:*" || !ks[1].Pattern {
		t.Fatalf("search key=%+v", ks[1])
	}
}

func TestForeignFanOut(t *testing.T) {
	f := newFixture(t, nil)
	cfg := &Config{Foreign: []ForeignGroup{{
		Group:      Group{ViewSet: "Part", Actions: []string{"retrieve"}},
		ForeignSet: "parts",
	}}}
	must(t, f.eng.Validate(cfg))

	w := &widget{ID: 1, Parts: []*part{{ID: 10}, {ID: 11}, {ID: 12}}, cfg: cfg}
	ks, err := f.eng.Compute(context.Background(), w, cfg, Delete)
	must(t, err)
	got := keyStrings(ks)
	want := []string{"viewset:part:retrieve:10", "viewset:part:retrieve:11", "viewset:part:retrieve:12"}
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("keys=%v want %v", got, want)
	}

	empty := &widget{ID: 2, cfg: cfg}
	ks, err = f.eng.Compute(context.Background(), empty, cfg, Delete)
	if err != nil || len(ks) != 0 {
		t.Fatalf("empty relation: keys=%v err=%v", ks, err)
	}
}

func TestForeignListActionOnceAndSetFunc(t *testing.T) {
	f := newFixture(t, nil)
	cfg := &Config{Foreign: []ForeignGroup{{
		Group:          Group{ViewSet: "Part", Actions: []string{"list", "retrieve"}},
		ForeignSetFunc: "PartIDs",
	}}}
	must(t, f.eng.Validate(cfg))

	w := &widget{ids: []int{3, 4}, cfg: cfg}
	ks, err := f.eng.Compute(context.Background(), w, cfg, Update)
	must(t, err)
	got := keyStrings(ks)
	want := []string{"viewset:part:list", "viewset:part:retrieve:3", "viewset:part:retrieve:4"}
	if len(got) != len(want) {
		t.Fatalf("keys=%v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("keys=%v want %v", got, want)
		}
	}
}

func TestCustomGroup(t *testing.T) {
	f := newFixture(t, nil)
	cfg := &Config{Custom: []CustomGroup{
		{Template: "feed:{}:{}", Args: []Arg{Field("owner__id"), Wildcard()}},
		{Template: "badge:{}", Args: []Arg{Computed(func(e any) (string, error) {
			return "w" + strconv.Itoa(e.(*widget).ID), nil
		})}},
		{Template: "handle:{}", Args: []Arg{Field("owner__profile__handle")}},
	}}
	must(t, f.eng.Validate(cfg))

	w := &widget{ID: 5, Owner: &owner{ID: 9, Profile: &profile{Handle: "a*b"}}, cfg: cfg}
	ks, err := f.eng.Compute(context.Background(), w, cfg, Create)
	must(t, err)
	if len(ks) != 3 {
		t.Fatalf("keys=%v", ks)
	}
	if ks[0] != (Key{Key: "feed:9:*", Pattern: true}) {
		t.Fatalf("wildcard key=%+v", ks[0])
	}
	if ks[1] != (Key{Key: "badge:w5"}) {
		t.Fatalf("computed key=%+v", ks[1])
	}
	if ks[2] != (Key{Key: "handle:a*b"}) {
		t.Fatalf("literal key must not be escaped: %+v", ks[2])
	}
}

func TestCustomWildcardPatternDeletesByPrefix(t *testing.T) {
	f := newFixture(t, nil)
	cfg := &Config{Custom: []CustomGroup{
		{Template: "feed:{}:{}", Args: []Arg{Wildcard(), Field("id")}},
		{Template: "tag:*:{}", Args: []Arg{Field("owner__profile__handle")}},
		{Template: "note:{}", Args: []Arg{Field("owner__profile__handle")}},
	}}
	must(t, f.eng.Validate(cfg))
	ctx := context.Background()

	w := &widget{ID: 5, Owner: &owner{ID: 9, Profile: &profile{Handle: "x*"}}, cfg: cfg}
	ks, err := f.eng.Compute(ctx, w, cfg, Update)
	must(t, err)
	want := []Key{
		{Key: "feed:*:5*", Pattern: true},
		{Key: `tag:*:x\**`, Pattern: true},
		{Key: "note:x*"},
	}
	if len(ks) != len(want) {
		t.Fatalf("keys=%+v", ks)
	}
	for i := range want {
		if ks[i] != want[i] {
			t.Fatalf("key %d=%+v want %+v", i, ks[i], want[i])
		}
	}

	for _, k := range []string{"feed:u1:5", "feed:u1:5:page2", "feed:u1:6"} {
		must(t, f.ks.Set(ctx, k, []byte("x"), 0))
	}
	must(t, f.eng.Apply(ctx, ks))
	for _, k := range []string{"feed:u1:5", "feed:u1:5:page2"} {
		if _, ok, _ := f.ks.Get(ctx, k); ok {
			t.Fatalf("%s still cached", k)
		}
	}
	if _, ok, _ := f.ks.Get(ctx, "feed:u1:6"); !ok {
		t.Fatalf("feed:u1:6 should survive")
	}
}

func TestSkipToggles(t *testing.T) {
	f := newFixture(t, nil)
	cfg := &Config{Default: []Group{{
		ViewSet: "Widget", Actions: []string{"retrieve"},
		Toggles: Toggles{SkipCreate: true},
	}}}
	w := &widget{ID: 1, cfg: cfg}

	ks, err := f.eng.Compute(context.Background(), w, cfg, Create)
	if err != nil || len(ks) != 0 {
		t.Fatalf("create should be skipped: %v %v", ks, err)
	}
	for _, ev := range []Event{Update, Delete} {
		ks, err = f.eng.Compute(context.Background(), w, cfg, ev)
		if err != nil || len(ks) != 1 {
			t.Fatalf("%s should apply: %v %v", ev, ks, err)
		}
	}
}

func TestResolutionErrorPropagates(t *testing.T) {
	f := newFixture(t, nil)
	cfg := &Config{
		Default: []Group{{ViewSet: "Widget", Actions: []string{"retrieve"}}},
		Custom:  []CustomGroup{{Template: "handle:{}", Args: []Arg{Field("owner__profile__handle")}}},
	}
	w := &widget{ID: 3, cfg: cfg} // Owner is nil
	ks, err := f.eng.Compute(context.Background(), w, cfg, Update)

	var ae *AttributeError
	if !errors.As(err, &ae) || !errors.Is(err, ErrNilAttribute) {
		t.Fatalf("want AttributeError(nil), got %v", err)
	}
	if ae.Segment != "owner" || ae.Path != "owner__profile__handle" {
		t.Fatalf("error at %q/%q", ae.Path, ae.Segment)
	}
	// the groups that resolved still produce keys
	if len(ks) != 1 || ks[0].Key != "viewset:widget:retrieve:3" {
		t.Fatalf("keys=%v", ks)
	}

	_, err = f.eng.Compute(context.Background(), w, &Config{Custom: []CustomGroup{
		{Template: "x:{}", Args: []Arg{Field("no_such_field")}},
	}}, Update)
	if !errors.Is(err, ErrMissingAttribute) {
		t.Fatalf("missing attribute: %v", err)
	}
}

func TestNilPolicy(t *testing.T) {
	f := newFixture(t, nil)
	base := CustomGroup{Template: "tag:{}", Args: []Arg{Field("tag")}}
	w := &widget{}

	if _, err := f.eng.Compute(context.Background(), w, &Config{Custom: []CustomGroup{base}}, Update); !errors.Is(err, ErrNilAttribute) {
		t.Fatalf("default policy should fail, got %v", err)
	}
	ks, err := f.eng.Compute(context.Background(), w, &Config{Custom: []CustomGroup{base}, Nil: NilSkip}, Update)
	if err != nil || len(ks) != 0 {
		t.Fatalf("skip: %v %v", ks, err)
	}
	ks, err = f.eng.Compute(context.Background(), w, &Config{Custom: []CustomGroup{base}, Nil: NilPlaceholder}, Update)
	if err != nil || len(ks) != 1 || ks[0].Key != "tag:"+NilText {
		t.Fatalf("placeholder: %v %v", ks, err)
	}
}

func TestReloadDataUnionsPreviousState(t *testing.T) {
	persisted := map[int]*widget{}
	loader := func(_ context.Context, e Trackable) (Trackable, error) {
		w := persisted[e.(*widget).ID]
		if w == nil {
			return nil, nil
		}
		cp := *w
		return &cp, nil
	}
	f := newFixture(t, loader)
	cfg := &Config{
		Default:    []Group{{ViewSet: "Widget", Actions: []string{"list"}, ByUserField: "owner_id"}},
		ReloadData: true,
	}
	must(t, f.eng.Validate(cfg))
	ctx := context.Background()

	for _, k := range []string{"viewset:widget:list:1", "viewset:widget:list:2", "viewset:widget:list:3"} {
		must(t, f.ks.Set(ctx, k, []byte("cached"), 0))
	}

	persisted[1] = &widget{ID: 1, OwnerID: 1, cfg: cfg}
	w := &widget{ID: 1, OwnerID: 2, cfg: cfg}
	err := f.eng.Save(ctx, w, false, func(context.Context) error {
		persisted[1] = &widget{ID: 1, OwnerID: 2, cfg: cfg}
		return nil
	})
	must(t, err)

	for _, k := range []string{"viewset:widget:list:1", "viewset:widget:list:2"} {
		if _, ok, _ := f.ks.Get(ctx, k); ok {
			t.Fatalf("%s should be invalidated", k)
		}
	}
	if _, ok, _ := f.ks.Get(ctx, "viewset:widget:list:3"); !ok {
		t.Fatalf("unrelated user's cache was dropped")
	}

	// the same union through Compute directly
	prev := &widget{ID: 1, OwnerID: 1, cfg: cfg}
	a, _ := f.eng.Compute(ctx, prev, cfg, Update)
	b, _ := f.eng.Compute(ctx, w, cfg, Update)
	var u keyset
	u.addAll(a)
	u.addAll(b)
	got := keyStrings(u.keys)
	if len(got) != 2 || got[0] != "viewset:widget:list:1" || got[1] != "viewset:widget:list:2" {
		t.Fatalf("union=%v", got)
	}
}

func TestOnWriteReloadDataNeedsPrevious(t *testing.T) {
	f := newFixture(t, nil)
	cfg := &Config{
		Default:    []Group{{ViewSet: "Widget", Actions: []string{"list"}, ByUserField: "owner_id"}},
		ReloadData: true,
	}
	ctx := context.Background()
	for _, k := range []string{"viewset:widget:list:1", "viewset:widget:list:2"} {
		must(t, f.ks.Set(ctx, k, []byte("cached"), 0))
	}
	w := &widget{ID: 1, OwnerID: 2, cfg: cfg}

	err := f.eng.OnWrite(ctx, w, false)
	if !errors.Is(err, rulecache.ErrConfiguration) {
		t.Fatalf("err=%v want ErrConfiguration", err)
	}
	if _, ok, _ := f.ks.Get(ctx, "viewset:widget:list:2"); ok {
		t.Fatalf("post-write key should still be invalidated")
	}

	// an explicit nil previous state means a first write, not a mistake
	must(t, f.eng.OnWrite(ctx, w, false, WithPrevious(nil)))
	must(t, f.eng.OnWrite(ctx, w, false, WithPrevious(&widget{ID: 1, OwnerID: 1, cfg: cfg})))
	if _, ok, _ := f.ks.Get(ctx, "viewset:widget:list:1"); ok {
		t.Fatalf("pre-write key should be invalidated")
	}
	// creates have no previous state to union
	must(t, f.eng.OnWrite(ctx, w, true))
}

func TestSaveFailedWriteInvalidatesNothing(t *testing.T) {
	f := newFixture(t, nil)
	cfg := &Config{Default: []Group{{ViewSet: "Widget", Actions: []string{"retrieve"}}}}
	ctx := context.Background()
	must(t, f.ks.Set(ctx, "viewset:widget:retrieve:1", []byte("x"), 0))

	boom := errors.New("constraint violation")
	err := f.eng.Save(ctx, &widget{ID: 1, cfg: cfg}, false, func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	if _, ok, _ := f.ks.Get(ctx, "viewset:widget:retrieve:1"); !ok {
		t.Fatalf("cache dropped although the write failed")
	}
}

func TestAsyncKeysBatchedIntoOneJob(t *testing.T) {
	f := newFixture(t, nil)
	cfg := &Config{
		Default: []Group{{ViewSet: "Widget", Actions: []string{"retrieve", "search"}, AsyncActions: []string{"search"}}},
		Foreign: []ForeignGroup{{
			Group:      Group{ViewSet: "Part", Actions: []string{"retrieve"}, Async: true},
			ForeignSet: "parts",
		}},
	}
	must(t, f.eng.Validate(cfg))
	ctx := context.Background()
	must(t, f.ks.Set(ctx, "viewset:widget:retrieve:8", []byte("x"), 0))
	must(t, f.ks.Set(ctx, "viewset:part:retrieve:1", []byte("x"), 0))

	w := &widget{ID: 8, Parts: []*part{{ID: 1}, {ID: 2}}, cfg: cfg}
	must(t, f.eng.OnWrite(ctx, w, false))

	if _, ok, _ := f.ks.Get(ctx, "viewset:widget:retrieve:8"); ok {
		t.Fatalf("inline key should be gone")
	}
	if _, ok, _ := f.ks.Get(ctx, "viewset:part:retrieve:1"); !ok {
		t.Fatalf("async key must not be deleted inline")
	}
	if len(f.q.jobs) != 1 {
		t.Fatalf("jobs=%d want 1", len(f.q.jobs))
	}
	job := f.q.jobs[0]
	if len(job.Keys) != 3 || job.Entity != "widget" || job.Event != Update {
		t.Fatalf("job=%+v", job)
	}

	// a worker applying the job clears the rest
	must(t, f.eng.Apply(ctx, job.Keys))
	if _, ok, _ := f.ks.Get(ctx, "viewset:part:retrieve:1"); ok {
		t.Fatalf("worker apply did not delete")
	}
}

func TestQueueRefusalFallsBackInline(t *testing.T) {
	f := newFixture(t, nil)
	f.q.err = errors.New("queue full")
	cfg := &Config{Default: []Group{{ViewSet: "Widget", Actions: []string{"retrieve"}, Async: true}}}
	ctx := context.Background()
	must(t, f.ks.Set(ctx, "viewset:widget:retrieve:4", []byte("x"), 0))

	must(t, f.eng.OnDelete(ctx, &widget{ID: 4, cfg: cfg}))
	if _, ok, _ := f.ks.Get(ctx, "viewset:widget:retrieve:4"); ok {
		t.Fatalf("refused job should have been applied inline")
	}
}

func TestDeleteComputesBeforeRelationsVanish(t *testing.T) {
	f := newFixture(t, nil)
	cfg := &Config{Foreign: []ForeignGroup{{
		Group:      Group{ViewSet: "Part", Actions: []string{"retrieve"}},
		ForeignSet: "parts",
	}}}
	ctx := context.Background()
	must(t, f.ks.Set(ctx, "viewset:part:retrieve:1", []byte("x"), 0))

	w := &widget{ID: 1, Parts: []*part{{ID: 1}}, cfg: cfg}
	must(t, f.eng.Delete(ctx, w, func(context.Context) error {
		w.Parts = nil // cascade
		return nil
	}))
	if _, ok, _ := f.ks.Get(ctx, "viewset:part:retrieve:1"); ok {
		t.Fatalf("related cache should be invalidated")
	}
}

func TestValidate(t *testing.T) {
	f := newFixture(t, nil)
	cases := map[string]*Config{
		"unknown action":  {Default: []Group{{ViewSet: "Widget", Actions: []string{"nope"}}}},
		"missing by-user": {Default: []Group{{ViewSet: "Widget", Actions: []string{"list"}}}},
		"stray async":     {Default: []Group{{ViewSet: "Widget", Actions: []string{"retrieve"}, AsyncActions: []string{"list"}}}},
		"no relation":     {Foreign: []ForeignGroup{{Group: Group{ViewSet: "Part", Actions: []string{"retrieve"}}}}},
		"arity":           {Custom: []CustomGroup{{Template: "a:{}:{}", Args: []Arg{Wildcard()}}}},
		"zero arg":        {Custom: []CustomGroup{{Template: "a:{}", Args: []Arg{{}}}}},
		"reload no load":  {ReloadData: true},
	}
	for name, cfg := range cases {
		if err := f.eng.Validate(cfg); !errors.Is(err, rulecache.ErrConfiguration) {
			t.Fatalf("%s: want ErrConfiguration, got %v", name, err)
		}
	}
}
