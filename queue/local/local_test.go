package local

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/unkn0wn-root/rulecache/invalidate"
)

type recorder struct {
	mu      sync.Mutex
	applied [][]invalidate.Key
	block   chan struct{}
}

func (r *recorder) Apply(_ context.Context, ks []invalidate.Key) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.applied = append(r.applied, ks)
	r.mu.Unlock()
	return nil
}

func TestJobsAppliedBeforeClose(t *testing.T) {
	rec := &recorder{}
	q := New(rec, Options{Workers: 3, QueueLen: 16})
	for i := 0; i < 10; i++ {
		if err := q.Enqueue(context.Background(), invalidate.Job{Keys: []invalidate.Key{{Key: "k"}}}); err != nil {
			t.Fatal(err)
		}
	}
	q.Close()
	if len(rec.applied) != 10 {
		t.Fatalf("applied %d jobs, want 10", len(rec.applied))
	}
	if err := q.Enqueue(context.Background(), invalidate.Job{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("enqueue after close: %v", err)
	}
}

func TestFullQueueRefuses(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	q := New(rec, Options{Workers: 1, QueueLen: 1})
	ctx := context.Background()

	// one job held by the worker, one waiting; the third has no room
	var err error
	for i := 0; i < 3 && err == nil; i++ {
		err = q.Enqueue(ctx, invalidate.Job{})
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err=%v want ErrQueueFull", err)
	}
	close(rec.block)
	q.Close()
}
