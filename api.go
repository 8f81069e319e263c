package gcache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/gcache/codec"
)

// Cache is the typed client of a cache server. V is the caller's value type;
// serialization is handled by a pluggable codec.Codec[V].
//
// Every remote call is retried on transient failure. Validation errors
// (empty key, bad expiration) are returned before anything is sent.
type Cache[V any] interface {
	Container() string

	AddOrUpdate(ctx context.Context, key string, value V, exp Expiration) error
	// AddOrUpdateFunc calls fn once and stores its result.
	AddOrUpdateFunc(ctx context.Context, key string, fn func(context.Context) (V, error), exp Expiration) error

	// Get returns (v, true, nil) on hit. A miss and a stored nil both
	// return (zero, false, nil).
	Get(ctx context.Context, key string) (V, bool, error)

	// GetOrAdd returns the cached value, or stores value and returns it.
	// It is a Get followed by an AddOrUpdate, not an atomic operation:
	// concurrent callers may both miss and both write (last write wins).
	GetOrAdd(ctx context.Context, key string, value V, exp Expiration) (V, error)
	// GetOrAddFunc is GetOrAdd with the value computed by fn only on a miss.
	GetOrAddFunc(ctx context.Context, key string, fn func(context.Context) (V, error), exp Expiration) (V, error)

	// Delete removes key, or with partial every key of the container that
	// starts with key. It reports whether anything was removed.
	Delete(ctx context.Context, key string, partial bool) (bool, error)
	// Clear removes the client's container. A client without a container
	// clears the whole cache.
	Clear(ctx context.Context) error

	Incr(ctx context.Context, key string) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)
	GetCounter(ctx context.Context, key string) (int64, error)
	ResetCounter(ctx context.Context, key string) error

	// Fire-and-forget variants. They return immediately; failures are
	// reported through Hooks.AsyncFailed and the logger. ctx cancellation
	// does not stop an operation that has already been started.
	AddOrUpdateAsync(ctx context.Context, key string, value V, exp Expiration)
	IncrAsync(ctx context.Context, key string)
	DecrAsync(ctx context.Context, key string)
	DeleteAsync(ctx context.Context, key string, partial bool)

	// Pending is the number of async operations still running.
	Pending() int64
	IsAsyncComplete() bool

	// Close waits for pending async operations (bounded by DrainTimeout and
	// ctx), then releases the connection. It never fails; release errors are
	// logged. Safe to call more than once.
	Close(ctx context.Context) error
}

// Options configure a client. Only a way to reach the server is required:
// Conn, or Dialer (dialing Server:Port).
type Options[V any] struct {
	// Container groups keys. Empty means the "default" container; a
	// non-empty name made only of whitespace is rejected.
	Container string

	Server string // default "localhost"
	Port   int    // default 7373
	Conn   Conn   // used as-is when set; Close releases it
	Dialer Dialer // used when Conn is nil

	Codec         codec.Codec[V] // default codec.JSON[V]
	Compression   bool
	EncryptionKey []byte // nil disables encryption; otherwise exactly 16 bytes
	RandomIV      bool   // per-value IV instead of the fixed one

	RetryAttempts   int           // default 5
	RetryMinBackoff time.Duration // default 50ms
	RetryMaxBackoff time.Duration // default 1s

	DrainTimeout      time.Duration // default 30s
	DrainPollInterval time.Duration // default 25ms

	// NearCache, when set, serves repeated reads locally for up to
	// NearCacheTTL (default 1s). Reads served from it do not refresh
	// sliding expirations on the server.
	NearCache    NearCache
	NearCacheTTL time.Duration

	Logger Logger // default NopLogger
	Hooks  Hooks  // default NopHooks
}

func New[V any](ctx context.Context, opts Options[V]) (Cache[V], error) {
	return newClient[V](ctx, opts)
}
