package redisq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/rulecache/invalidate"
)

type recorder struct {
	mu   sync.Mutex
	jobs [][]invalidate.Key
}

func (r *recorder) Apply(_ context.Context, ks []invalidate.Key) error {
	r.mu.Lock()
	r.jobs = append(r.jobs, ks)
	r.mu.Unlock()
	return nil
}

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestProducerWorkerRoundTrip(t *testing.T) {
	_, rdb := newClient(t)
	ctx := context.Background()
	p, err := NewProducer(rdb, ProducerOptions{})
	if err != nil {
		t.Fatal(err)
	}
	keys := []invalidate.Key{
		{Key: "viewset:widget:retrieve:1", Async: true},
		{Key: "viewset:widget:search:*", Pattern: true, Async: true},
	}
	if err := p.Enqueue(ctx, invalidate.Job{Keys: keys, Entity: "widget", Event: invalidate.Update}); err != nil {
		t.Fatal(err)
	}

	rec := &recorder{}
	w, err := NewWorker(rdb, rec, WorkerOptions{Wait: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	took, err := w.Step(ctx)
	if err != nil || !took {
		t.Fatalf("Step=%v,%v", took, err)
	}
	if len(rec.jobs) != 1 || len(rec.jobs[0]) != 2 || rec.jobs[0][1] != keys[1] {
		t.Fatalf("applied=%+v", rec.jobs)
	}
}

func TestJobsAreFIFO(t *testing.T) {
	_, rdb := newClient(t)
	ctx := context.Background()
	p, _ := NewProducer(rdb, ProducerOptions{List: "q"})
	for _, k := range []string{"a", "b", "c"} {
		if err := p.Enqueue(ctx, invalidate.Job{Keys: []invalidate.Key{{Key: k}}}); err != nil {
			t.Fatal(err)
		}
	}
	rec := &recorder{}
	w, _ := NewWorker(rdb, rec, WorkerOptions{List: "q", Wait: time.Second})
	for i := 0; i < 3; i++ {
		if _, err := w.Step(ctx); err != nil {
			t.Fatal(err)
		}
	}
	for i, want := range []string{"a", "b", "c"} {
		if rec.jobs[i][0].Key != want {
			t.Fatalf("job %d = %s want %s", i, rec.jobs[i][0].Key, want)
		}
	}
}

func TestMaxLenTrimsOldest(t *testing.T) {
	mr, rdb := newClient(t)
	ctx := context.Background()
	p, _ := NewProducer(rdb, ProducerOptions{List: "q", MaxLen: 2})
	for i := 0; i < 5; i++ {
		if err := p.Enqueue(ctx, invalidate.Job{}); err != nil {
			t.Fatal(err)
		}
	}
	items, err := mr.List("q")
	if err != nil || len(items) != 2 {
		t.Fatalf("list len=%d err=%v", len(items), err)
	}
}

func TestEmptyStepAndUndecodableJob(t *testing.T) {
	mr, rdb := newClient(t)
	ctx := context.Background()
	rec := &recorder{}
	w, _ := NewWorker(rdb, rec, WorkerOptions{Wait: time.Second})

	if _, err := mr.Lpush(DefaultList, "\xc1"); err != nil {
		t.Fatal(err)
	}
	took, err := w.Step(ctx)
	if err != nil || !took || len(rec.jobs) != 0 {
		t.Fatalf("undecodable: took=%v err=%v jobs=%d", took, err, len(rec.jobs))
	}
	took, err = w.Step(ctx)
	if err != nil || took {
		t.Fatalf("empty list: took=%v err=%v", took, err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	_, rdb := newClient(t)
	w, _ := NewWorker(rdb, &recorder{}, WorkerOptions{Wait: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run=%v", err)
	}
}

func TestNilClient(t *testing.T) {
	if _, err := NewProducer(nil, ProducerOptions{}); !errors.Is(err, ErrNilClient) {
		t.Fatal(err)
	}
	if _, err := NewWorker(nil, &recorder{}, WorkerOptions{}); !errors.Is(err, ErrNilClient) {
		t.Fatal(err)
	}
}
