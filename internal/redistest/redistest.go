// Package redistest starts a miniredis server behind a store/redis Store for
// package tests.
package redistest

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	redisstore "github.com/unkn0wn-root/rulecache/store/redis"
)

// New returns a store over a fresh server. Both are torn down with t.
func New(t testing.TB) (*redisstore.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	st, err := redisstore.New(redisstore.Config{
		Client:      goredis.NewClient(&goredis.Options{Addr: mr.Addr()}),
		CloseClient: true,
	})
	if err != nil {
		t.Fatalf("redis store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close(context.Background()) })
	return st, mr
}
