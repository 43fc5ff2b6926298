// Package local runs invalidation jobs on a bounded in-process worker pool.
//
//	var engine *invalidate.Engine
//	q := local.New(invalidate.ApplierFunc(func(ctx context.Context, ks []invalidate.Key) error {
//		return engine.Apply(ctx, ks)
//	}), local.Options{Workers: 2, QueueLen: 1000})
//	defer q.Close()
//	engine, _ = invalidate.New(invalidate.Options{Invalidator: ks, Queue: q})
//
// Jobs queued when the process exits are lost; use queue/redisq when that
// matters.
package local

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/unkn0wn-root/rulecache"
	"github.com/unkn0wn-root/rulecache/invalidate"
)

var (
	ErrQueueFull = errors.New("local queue: full")
	ErrClosed    = errors.New("local queue: closed")
)

type Options struct {
	Workers  int // default 1
	QueueLen int // default 1024
	// Timeout bounds one job's Apply. 0 => no bound.
	Timeout time.Duration
	Logger  rulecache.Logger
}

type Queue struct {
	apply   invalidate.Applier
	q       chan invalidate.Job
	timeout time.Duration
	log     rulecache.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	once   sync.Once
}

var _ invalidate.Enqueuer = (*Queue)(nil)

// New starts the workers.
func New(apply invalidate.Applier, opts Options) *Queue {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	qlen := opts.QueueLen
	if qlen <= 0 {
		qlen = 1024
	}
	var log rulecache.Logger = rulecache.NopLogger{}
	if opts.Logger != nil {
		log = opts.Logger
	}

	q := &Queue{
		apply:   apply,
		q:       make(chan invalidate.Job, qlen),
		timeout: opts.Timeout,
		log:     log,
	}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer q.wg.Done()
			for job := range q.q {
				q.run(job)
			}
		}()
	}
	return q
}

// Enqueue never blocks: a full queue returns ErrQueueFull and the caller
// decides what to do with the keys.
func (q *Queue) Enqueue(_ context.Context, job invalidate.Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.q <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len is the number of jobs waiting.
func (q *Queue) Len() int { return len(q.q) }

// Close stops accepting jobs and waits for queued ones to finish.
func (q *Queue) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.q)
		q.mu.Unlock()
		q.wg.Wait()
	})
}

func (q *Queue) run(job invalidate.Job) {
	ctx := context.Background()
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	if err := q.apply.Apply(ctx, job.Keys); err != nil {
		q.log.Error("invalidation job failed",
			rulecache.Fields{"entity": job.Entity, "event": job.Event.String(), "keys": len(job.Keys), "err": err})
	}
}
