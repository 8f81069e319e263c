package gcache

import "time"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The store and the client call them on hot paths.
type Hooks interface {
	// A sweep pass evicted at least one expired entry.
	SweepCompleted(evicted, remaining int, elapsed time.Duration)

	// The sweep could not evaluate an entry (e.g. unknown expiration mode).
	// The entry is left in place and the pass continues.
	SweepEntryFailed(storageKey string, err error)

	// A read hit an expired entry; it reads as a miss and waits for the sweep.
	ExpiredRead(storageKey string)

	// The entry pool was topped up by added entries.
	PoolRefilled(added, available int)

	// A refill pass failed. The refill schedule keeps running.
	PoolRefillFailed(err error)

	// A remote call failed and attempt (1-based) is about to be followed by another.
	RetryAttempt(op string, attempt int, err error)

	// A fire-and-forget operation failed. The error is not returned to anyone else.
	AsyncFailed(op, key string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SweepCompleted(int, int, time.Duration) {}
func (NopHooks) SweepEntryFailed(string, error)         {}
func (NopHooks) ExpiredRead(string)                     {}
func (NopHooks) PoolRefilled(int, int)                  {}
func (NopHooks) PoolRefillFailed(error)                 {}
func (NopHooks) RetryAttempt(string, int, error)        {}
func (NopHooks) AsyncFailed(string, string, error)      {}
