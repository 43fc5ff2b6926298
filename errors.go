package rulecache

import (
	"errors"
	"fmt"
)

// ErrConfiguration marks invalid rules or options detected at startup.
// It is never recovered from at runtime.
var ErrConfiguration = errors.New("rulecache: invalid configuration")

// StoreError wraps a failure talking to the key-value store.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("rulecache: store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// DecodeError reports stored bytes that do not decode under the cache's
// codec. Usually a codec or schema mismatch between writers; it is not
// treated as a miss.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("rulecache: decode %q: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Configf builds an ErrConfiguration error with context.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
