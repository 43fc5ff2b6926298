// Package redisq carries invalidation jobs over a Redis list so a worker in
// another process can apply them. Jobs are msgpack-encoded invalidate.Job
// values; producers LPUSH and workers BRPOP, giving FIFO order per list.
package redisq

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/rulecache"
	"github.com/unkn0wn-root/rulecache/invalidate"
)

const DefaultList = "rulecache:invalidate"

var ErrNilClient = errors.New("redisq: nil redis client")

// Producer implements invalidate.Enqueuer.
type Producer struct {
	rdb  redis.UniversalClient
	list string
	max  int64
}

var _ invalidate.Enqueuer = (*Producer)(nil)

type ProducerOptions struct {
	List string // default DefaultList
	// MaxLen caps the list; older jobs are trimmed once it is exceeded.
	// 0 => unbounded.
	MaxLen int64
}

func NewProducer(rdb redis.UniversalClient, opts ProducerOptions) (*Producer, error) {
	if rdb == nil {
		return nil, ErrNilClient
	}
	if opts.MaxLen < 0 {
		return nil, rulecache.Configf("redisq: negative MaxLen %d", opts.MaxLen)
	}
	list := opts.List
	if list == "" {
		list = DefaultList
	}
	return &Producer{rdb: rdb, list: list, max: opts.MaxLen}, nil
}

func (p *Producer) Enqueue(ctx context.Context, job invalidate.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	b, err := msgpack.Marshal(job)
	if err != nil {
		return err
	}
	if p.max == 0 {
		if err := p.rdb.LPush(ctx, p.list, b).Err(); err != nil {
			return &rulecache.StoreError{Op: "lpush", Key: p.list, Err: err}
		}
		return nil
	}
	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, p.list, b)
		pipe.LTrim(ctx, p.list, 0, p.max-1)
		return nil
	})
	if err != nil {
		return &rulecache.StoreError{Op: "lpush", Key: p.list, Err: err}
	}
	return nil
}

type WorkerOptions struct {
	List string // default DefaultList
	// Wait is how long one BRPOP blocks. Redis counts whole seconds, so
	// anything below 1s is sent as 1s. Default 1s.
	Wait time.Duration
	// Backoff after a Redis error. Default 500ms.
	Backoff time.Duration
	Logger  rulecache.Logger
}

// Worker pops jobs and applies them.
type Worker struct {
	rdb     redis.UniversalClient
	apply   invalidate.Applier
	list    string
	wait    time.Duration
	backoff time.Duration
	log     rulecache.Logger
}

func NewWorker(rdb redis.UniversalClient, apply invalidate.Applier, opts WorkerOptions) (*Worker, error) {
	if rdb == nil {
		return nil, ErrNilClient
	}
	if apply == nil {
		return nil, rulecache.Configf("redisq: applier is required")
	}
	w := &Worker{
		rdb:     rdb,
		apply:   apply,
		list:    opts.List,
		wait:    opts.Wait,
		backoff: opts.Backoff,
		log:     opts.Logger,
	}
	if w.list == "" {
		w.list = DefaultList
	}
	if w.wait <= 0 {
		w.wait = time.Second
	}
	if w.backoff <= 0 {
		w.backoff = 500 * time.Millisecond
	}
	if w.log == nil {
		w.log = rulecache.NopLogger{}
	}
	return w, nil
}

// Run applies jobs until ctx is done. It returns ctx.Err().
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := w.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warn("invalidation worker: redis error", rulecache.Fields{"list": w.list, "err": err})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.backoff):
			}
		}
	}
}

// Step waits up to Wait for one job and applies it. It reports whether a
// job was taken. Jobs that do not decode or fail to apply are logged and
// dropped; only Redis errors are returned.
func (w *Worker) Step(ctx context.Context) (bool, error) {
	res, err := w.rdb.BRPop(ctx, w.wait, w.list).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	// res = [list, payload]
	var job invalidate.Job
	if err := msgpack.Unmarshal([]byte(res[1]), &job); err != nil {
		w.log.Error("invalidation worker: undecodable job dropped", rulecache.Fields{"list": w.list, "err": err})
		return true, nil
	}
	if err := w.apply.Apply(ctx, job.Keys); err != nil {
		w.log.Error("invalidation job failed",
			rulecache.Fields{"entity": job.Entity, "event": job.Event.String(), "keys": len(job.Keys), "err": err})
		return true, nil
	}
	w.log.Debug("invalidation job applied", rulecache.Fields{
		"entity": job.Entity, "keys": len(job.Keys), "lag": time.Since(job.CreatedAt).String(),
	})
	return true, nil
}
