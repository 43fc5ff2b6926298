// Package verifycode issues short-lived numeric verification codes (SMS,
// e-mail) per subject, stored in an expiryhash so each code expires on its
// own.
package verifycode

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"time"

	"github.com/unkn0wn-root/rulecache/codec"
	"github.com/unkn0wn-root/rulecache/expiryhash"
	"github.com/unkn0wn-root/rulecache/store"
)

const (
	DefaultTTL = 10 * time.Minute
	Digits     = 6
)

type Options struct {
	// Kind separates code families ("login", "reset"); each gets its own hash.
	Kind string
	TTL  time.Duration // default DefaultTTL
	// Generate overrides the code source. Defaults to six distinct random
	// digits from crypto/rand.
	Generate func() (string, error)
	// Hash options, e.g. expiryhash.WithClock in tests.
	HashOptions []expiryhash.Option
}

type Codes struct {
	h   *expiryhash.Hash[string]
	gen func() (string, error)
}

func New(st store.Store, opts Options) (*Codes, error) {
	ttl := opts.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	h, err := expiryhash.New[string](st, "codemsg"+opts.Kind, ttl, codec.String{}, opts.HashOptions...)
	if err != nil {
		return nil, err
	}
	gen := opts.Generate
	if gen == nil {
		gen = Random
	}
	return &Codes{h: h, gen: gen}, nil
}

// Issue returns the live code for subject, or stores and returns a new one.
// reused reports that an existing code was returned, so callers can avoid
// sending it again.
func (c *Codes) Issue(ctx context.Context, subject string) (code string, reused bool, err error) {
	code, ok, err := c.h.HGet(ctx, subject)
	if err != nil {
		return "", false, err
	}
	if ok && code != "" {
		return code, true, nil
	}
	if code, err = c.gen(); err != nil {
		return "", false, err
	}
	if err := c.h.HSet(ctx, subject, code); err != nil {
		return "", false, err
	}
	return code, false, nil
}

// Peek returns the live code for subject without consuming it.
func (c *Codes) Peek(ctx context.Context, subject string) (string, bool, error) {
	return c.h.HGet(ctx, subject)
}

// Verify reports whether code matches the live code for subject. A match
// consumes the code.
func (c *Codes) Verify(ctx context.Context, subject, code string) (bool, error) {
	want, ok, err := c.h.HGet(ctx, subject)
	if err != nil || !ok {
		return false, err
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(code)) != 1 {
		return false, nil
	}
	if err := c.h.HDel(ctx, subject); err != nil {
		return true, err
	}
	return true, nil
}

func (c *Codes) Revoke(ctx context.Context, subject string) error {
	return c.h.HDel(ctx, subject)
}

// Random returns Digits distinct decimal digits in random order.
func Random() (string, error) {
	d := []byte("0123456789")
	for i := 0; i < Digits; i++ {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(len(d)-i)))
		if err != nil {
			return "", err
		}
		k := i + int(j.Int64())
		d[i], d[k] = d[k], d[i]
	}
	return string(d[:Digits]), nil
}
