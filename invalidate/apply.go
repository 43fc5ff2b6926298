package invalidate

import (
	"context"
	"errors"

	"github.com/unkn0wn-root/rulecache"
)

// Apply deletes keys now: literal keys in one call, each pattern by scan.
// Every key is attempted; failures are logged and joined.
func (e *Engine) Apply(ctx context.Context, ks []Key) error {
	if len(ks) == 0 {
		return nil
	}
	var (
		literal []string
		errs    []error
	)
	for _, k := range ks {
		if !k.Pattern {
			literal = append(literal, k.Key)
			continue
		}
		n, err := e.inv.DeleteMatching(ctx, k.Key)
		if err != nil {
			e.failed(k.Key, true, err)
			errs = append(errs, err)
			continue
		}
		e.log.Debug("invalidated pattern", rulecache.Fields{"pattern": k.Key, "deleted": n})
	}
	if len(literal) > 0 {
		if err := e.inv.Delete(ctx, literal...); err != nil {
			for _, k := range literal {
				e.failed(k, false, err)
			}
			errs = append(errs, err)
		} else {
			e.log.Debug("invalidated keys", rulecache.Fields{"count": len(literal)})
		}
	}
	return errors.Join(errs...)
}

// ApplyAsync hands keys to the queue as a single job. Without a queue, or
// when the queue refuses the job, the keys are deleted inline instead.
func (e *Engine) ApplyAsync(ctx context.Context, ks []Key) error {
	return e.enqueue(ctx, Job{Keys: ks}.stamped())
}

func (e *Engine) enqueue(ctx context.Context, job Job) error {
	if len(job.Keys) == 0 {
		return nil
	}
	if e.queue == nil {
		return e.Apply(ctx, job.Keys)
	}
	if err := e.queue.Enqueue(ctx, job); err != nil {
		e.log.Warn("invalidation queue refused job; deleting inline",
			rulecache.Fields{"keys": len(job.Keys), "entity": job.Entity, "err": err})
		e.hooks.AsyncFallback(len(job.Keys), err)
		return e.Apply(ctx, job.Keys)
	}
	e.hooks.AsyncEnqueued(len(job.Keys))
	return nil
}

// Dispatch applies inline keys now and enqueues the async ones.
func (e *Engine) Dispatch(ctx context.Context, ks []Key) error {
	return e.dispatch(ctx, nil, 0, ks)
}

func (e *Engine) dispatch(ctx context.Context, entity any, ev Event, ks []Key) error {
	var now, later []Key
	for _, k := range ks {
		if k.Async {
			later = append(later, k)
		} else {
			now = append(now, k)
		}
	}
	return errors.Join(
		e.Apply(ctx, now),
		e.enqueue(ctx, jobFor(entity, ev, later)),
	)
}

type writeOptions struct {
	prev    Trackable
	hasPrev bool
}

type WriteOption func(*writeOptions)

// WithPrevious supplies the pre-write state for configs with ReloadData.
// A nil prev means nothing was persisted before the write.
func WithPrevious(prev Trackable) WriteOption {
	return func(o *writeOptions) { o.prev, o.hasPrev = prev, true }
}

// OnWrite invalidates after entity was created or updated. Updates of a
// ReloadData config need the state loaded before the write, passed with
// WithPrevious; Save loads it. Without it the post-write keys are still
// invalidated and an ErrConfiguration error is returned.
func (e *Engine) OnWrite(ctx context.Context, entity Trackable, isCreate bool, opts ...WriteOption) error {
	cfg := entity.CacheConfig()
	if cfg == nil {
		return nil
	}
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}
	ev := Update
	if isCreate {
		ev = Create
	}

	var out keyset
	ks, err := e.Compute(ctx, entity, cfg, ev)
	out.addAll(ks)
	if ev == Update && cfg.ReloadData {
		switch {
		case !o.hasPrev:
			e.log.Error("reload data requested without a previous snapshot",
				rulecache.Fields{"entity": typeName(entity)})
			err = errors.Join(err, rulecache.Configf("invalidate: %s: ReloadData update without WithPrevious", typeName(entity)))
		case !rulecache.IsNil(o.prev):
			pks, perr := e.Compute(ctx, o.prev, cfg, ev)
			out.addAll(pks)
			err = errors.Join(err, perr)
		}
	}
	return errors.Join(err, e.dispatch(ctx, entity, ev, out.keys))
}

// OnDelete invalidates for a deleted entity.
func (e *Engine) OnDelete(ctx context.Context, entity Trackable) error {
	cfg := entity.CacheConfig()
	if cfg == nil {
		return nil
	}
	ks, err := e.Compute(ctx, entity, cfg, Delete)
	return errors.Join(err, e.dispatch(ctx, entity, Delete, ks))
}

// Save wraps a persistence write: for updates under ReloadData it loads the
// previous state first, runs write, then invalidates. A failed write
// invalidates nothing.
func (e *Engine) Save(ctx context.Context, entity Trackable, isCreate bool, write func(context.Context) error) error {
	cfg := entity.CacheConfig()
	var prev Trackable
	if !isCreate && cfg != nil && cfg.ReloadData {
		if e.loader == nil {
			return rulecache.Configf("invalidate: ReloadData needs a Loader")
		}
		var err error
		if prev, err = e.loader(ctx, entity); err != nil {
			return err
		}
	}
	if err := write(ctx); err != nil {
		return err
	}
	return e.OnWrite(ctx, entity, isCreate, WithPrevious(prev))
}

// Delete wraps a persistence delete. Keys are computed before del runs,
// while relations are still reachable, and applied after it succeeds.
func (e *Engine) Delete(ctx context.Context, entity Trackable, del func(context.Context) error) error {
	cfg := entity.CacheConfig()
	var (
		ks   []Key
		cerr error
	)
	if cfg != nil {
		ks, cerr = e.Compute(ctx, entity, cfg, Delete)
	}
	if err := del(ctx); err != nil {
		return err
	}
	return errors.Join(cerr, e.dispatch(ctx, entity, Delete, ks))
}

func (e *Engine) failed(key string, pattern bool, err error) {
	e.log.Error("cache invalidation failed", rulecache.Fields{"key": key, "pattern": pattern, "err": err})
	e.hooks.InvalidationFailed(key, pattern, err)
}
