package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/rulecache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	DegradedEvery uint64
	PurgedEvery   uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	degradedCtr atomic.Uint64
	purgedCtr   atomic.Uint64
}

var _ rulecache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) ReadDegraded(key string, err error) {
	if h.l == nil || !sample(h.opts.DegradedEvery, &h.degradedCtr) {
		return
	}
	h.l.Warn("rulecache.read_degraded",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) DecodeFailed(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("rulecache.decode_failed",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) PatternPurged(pattern string, deleted int) {
	if h.l == nil || !sample(h.opts.PurgedEvery, &h.purgedCtr) {
		return
	}
	h.l.Debug("rulecache.pattern_purged",
		"pattern", pattern,
		"deleted", deleted)
}

func (h *Hooks) InvalidationFailed(key string, pattern bool, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("rulecache.invalidation_failed",
		"key", h.redact(key),
		"pattern", pattern,
		"err", err)
}

func (h *Hooks) ResolutionFailed(entity, path string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("rulecache.resolution_failed",
		"entity", entity,
		"path", path,
		"err", err)
}

func (h *Hooks) AsyncEnqueued(n int) {
	if h.l == nil {
		return
	}
	h.l.Debug("rulecache.async_enqueued", "keys", n)
}

func (h *Hooks) AsyncFallback(n int, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("rulecache.async_fallback",
		"keys", n,
		"err", err)
}
