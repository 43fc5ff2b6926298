// Package storetest is a conformance suite for store.Store implementations.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/unkn0wn-root/rulecache/store"
)

// Run exercises the Store contract against stores built by fresh. Every
// subtest gets its own empty store.
func Run(t *testing.T, fresh func(t *testing.T) store.Store) {
	t.Run("StringRoundTrip", func(t *testing.T) { stringRoundTrip(t, fresh(t)) })
	t.Run("DelCounts", func(t *testing.T) { delCounts(t, fresh(t)) })
	t.Run("ScanMatchesLiteralPrefix", func(t *testing.T) { scanPrefix(t, fresh(t)) })
	t.Run("Hash", func(t *testing.T) { hash(t, fresh(t)) })
	t.Run("SortedSet", func(t *testing.T) { sortedSet(t, fresh(t)) })
}

func stringRoundTrip(t *testing.T, st store.Store) {
	ctx := context.Background()
	if _, ok, err := st.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("Get(missing)=%v,%v", ok, err)
	}
	if err := st.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	b, ok, err := st.Get(ctx, "k")
	if err != nil || !ok || string(b) != "v" {
		t.Fatalf("Get=%q,%v,%v", b, ok, err)
	}
	if err := st.Set(ctx, "k", []byte{}, 0); err != nil {
		t.Fatal(err)
	}
	if b, ok, _ := st.Get(ctx, "k"); !ok || len(b) != 0 {
		t.Fatalf("empty value lost: %q %v", b, ok)
	}
}

func delCounts(t *testing.T, st store.Store) {
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c", "d"} {
		if err := st.Set(ctx, k, []byte(k), 0); err != nil {
			t.Fatal(err)
		}
	}
	if n, err := st.Del(ctx, "a", "b", "zz"); err != nil || n != 2 {
		t.Fatalf("Del=%d,%v", n, err)
	}
	if n, err := st.DelEach(ctx, []string{"c", "d", "zz"}); err != nil || n != 2 {
		t.Fatalf("DelEach=%d,%v", n, err)
	}
	if n, err := st.Del(ctx); err != nil || n != 0 {
		t.Fatalf("Del()=%d,%v", n, err)
	}
}

func scanPrefix(t *testing.T, st store.Store) {
	ctx := context.Background()
	want := map[string]bool{}
	for i := 0; i < 25; i++ {
		k := fmt.Sprintf("ns:user:list:%d", i)
		want[k] = true
		if err := st.Set(ctx, k, []byte("x"), 0); err != nil {
			t.Fatal(err)
		}
	}
	for _, k := range []string{"ns:user:lister", "ns:userx:list:1", "other"} {
		if err := st.Set(ctx, k, []byte("x"), 0); err != nil {
			t.Fatal(err)
		}
	}

	var got []string
	var cursor uint64
	for {
		page, next, err := st.Scan(ctx, cursor, "ns:user:list:*", 7)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, page...)
		if next == 0 {
			break
		}
		cursor = next
	}
	sort.Strings(got)
	got = dedupe(got) // SCAN may repeat keys
	if len(got) != len(want) {
		t.Fatalf("scan found %d keys, want %d: %v", len(got), len(want), got)
	}
	for _, k := range got {
		if !want[k] {
			t.Fatalf("unexpected key %s", k)
		}
	}
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}

func hash(t *testing.T, st store.Store) {
	ctx := context.Background()
	if err := st.HSet(ctx, "h", "f", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := st.HSet(ctx, "h", "g", []byte("2")); err != nil {
		t.Fatal(err)
	}
	if b, ok, err := st.HGet(ctx, "h", "f"); err != nil || !ok || string(b) != "1" {
		t.Fatalf("HGet=%q,%v,%v", b, ok, err)
	}
	if err := st.HDel(ctx, "h", "f", "nope"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := st.HGet(ctx, "h", "f"); ok {
		t.Fatal("field survived HDel")
	}
	if err := st.HDel(ctx, "missing", "f"); err != nil {
		t.Fatalf("HDel on missing key: %v", err)
	}
	if err := st.ExpireAt(ctx, "h", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := st.Expire(ctx, "h", time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := st.HGet(ctx, "h", "g"); !ok {
		t.Fatal("hash lost after expire refresh")
	}
}

func sortedSet(t *testing.T, st store.Store) {
	ctx := context.Background()
	err := st.ZAdd(ctx, "z",
		store.Z{Member: "a", Score: 1},
		store.Z{Member: "b", Score: 3},
		store.Z{Member: "c", Score: 2},
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.ZAdd(ctx, "z", store.Z{Member: "a", Score: 4}); err != nil {
		t.Fatal(err)
	}
	zs, err := st.ZRevRangeWithScores(ctx, "z", 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	want := []store.Z{{Member: "a", Score: 4}, {Member: "b", Score: 3}, {Member: "c", Score: 2}}
	if len(zs) != len(want) {
		t.Fatalf("zs=%v", zs)
	}
	for i := range want {
		if zs[i] != want[i] {
			t.Fatalf("zs=%v want %v", zs, want)
		}
	}
	zs, err = st.ZRevRangeWithScores(ctx, "z", 1, 1)
	if err != nil || len(zs) != 1 || zs[0].Member != "b" {
		t.Fatalf("range 1..1 = %v,%v", zs, err)
	}
	if zs, err := st.ZRevRangeWithScores(ctx, "nope", 0, -1); err != nil || len(zs) != 0 {
		t.Fatalf("missing zset = %v,%v", zs, err)
	}
}
