package rulecache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
type Hooks interface {
	// A read hit a store error and was served as a miss.
	ReadDegraded(key string, err error)

	// Stored bytes failed to decode; the error went back to the caller.
	DecodeFailed(key string, err error)

	// A pattern purge finished. deleted may be 0.
	PatternPurged(pattern string, deleted int)

	// Deleting an invalidation key or pattern failed.
	InvalidationFailed(key string, pattern bool, err error)

	// A dotted attribute path could not be resolved on entity.
	ResolutionFailed(entity, path string, err error)

	// n keys were handed to the background queue in one job.
	AsyncEnqueued(n int)

	// The queue refused a job; its n keys were deleted inline instead.
	AsyncFallback(n int, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) ReadDegraded(string, error)             {}
func (NopHooks) DecodeFailed(string, error)             {}
func (NopHooks) PatternPurged(string, int)              {}
func (NopHooks) InvalidationFailed(string, bool, error) {}
func (NopHooks) ResolutionFailed(string, string, error) {}
func (NopHooks) AsyncEnqueued(int)                      {}
func (NopHooks) AsyncFallback(int, error)               {}
