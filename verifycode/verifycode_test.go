package verifycode

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unkn0wn-root/rulecache"
	"github.com/unkn0wn-root/rulecache/expiryhash"
	"github.com/unkn0wn-root/rulecache/internal/redistest"
)

func TestRandomDigitsAreDistinct(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := Random()
		if err != nil {
			t.Fatal(err)
		}
		if len(code) != Digits {
			t.Fatalf("code %q has %d digits", code, len(code))
		}
		seen := map[rune]bool{}
		for _, r := range code {
			if r < '0' || r > '9' || seen[r] {
				t.Fatalf("bad code %q", code)
			}
			seen[r] = true
		}
	}
}

func TestIssueReusesLiveCode(t *testing.T) {
	st, _ := redistest.New(t)
	c, err := New(st, Options{Kind: "login"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	first, reused, err := c.Issue(ctx, "+15550100")
	if err != nil || reused {
		t.Fatalf("Issue=%q,%v,%v", first, reused, err)
	}
	again, reused, err := c.Issue(ctx, "+15550100")
	if err != nil || !reused || again != first {
		t.Fatalf("second Issue=%q,%v,%v want %q reused", again, reused, err, first)
	}
}

func TestVerifyConsumesCode(t *testing.T) {
	st, _ := redistest.New(t)
	c, _ := New(st, Options{Generate: func() (string, error) { return "123456", nil }})
	ctx := context.Background()
	if _, _, err := c.Issue(ctx, "a@b"); err != nil {
		t.Fatal(err)
	}
	if ok, err := c.Verify(ctx, "a@b", "000000"); ok || err != nil {
		t.Fatalf("wrong code accepted: %v %v", ok, err)
	}
	if ok, err := c.Verify(ctx, "a@b", "123456"); !ok || err != nil {
		t.Fatalf("right code rejected: %v %v", ok, err)
	}
	if ok, _ := c.Verify(ctx, "a@b", "123456"); ok {
		t.Fatalf("code reusable after successful verify")
	}
}

func TestCodeExpires(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	st, mr := redistest.New(t)
	mr.SetTime(now)
	c, err := New(st, Options{TTL: 5 * time.Minute, HashOptions: []expiryhash.Option{expiryhash.WithClock(clock)}})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	code, _, _ := c.Issue(ctx, "s")
	now = now.Add(4 * time.Minute)
	if got, ok, _ := c.Peek(ctx, "s"); !ok || got != code {
		t.Fatalf("code gone early")
	}
	now = now.Add(2 * time.Minute)
	if _, ok, _ := c.Peek(ctx, "s"); ok {
		t.Fatalf("code outlived its TTL")
	}
}

func TestRevokeAndConfig(t *testing.T) {
	st, _ := redistest.New(t)
	c, _ := New(st, Options{})
	ctx := context.Background()
	_, _, _ = c.Issue(ctx, "s")
	if err := c.Revoke(ctx, "s"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Peek(ctx, "s"); ok {
		t.Fatal("revoked code still live")
	}
	if _, err := New(st, Options{TTL: 2 * time.Hour}); !errors.Is(err, rulecache.ErrConfiguration) {
		t.Fatalf("ttl above ceiling: %v", err)
	}
}
