package gcache

import "time"

const (
	DefaultServer = "localhost"
	DefaultPort   = 7373

	defaultRetryAttempts   = 5
	defaultRetryMinBackoff = 50 * time.Millisecond
	defaultRetryMaxBackoff = time.Second
	defaultDrainTimeout    = 30 * time.Second
	defaultDrainPoll       = 25 * time.Millisecond
	defaultNearCacheTTL    = time.Second
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
