package gcache

import (
	"context"
	"time"
)

// Conn is the remote operation contract served by a cache process.
// Implementations live under transport/ (gRPC, Redis, in-process).
//
// Implementations must be safe for concurrent use and byte-for-byte transparent:
// Get returns exactly the bytes previously passed to AddOrUpdate. A nil value
// written through AddOrUpdate is the null marker and reads back as (nil, true, nil).
type Conn interface {
	AddOrUpdate(ctx context.Context, container, key string, value []byte, exp Expiration) error

	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss or expiry.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, container, key string) ([]byte, bool, error)

	// Delete removes one key, or with partial every key having key as prefix.
	// It reports whether anything was removed.
	Delete(ctx context.Context, container, key string, partial bool) (bool, error)

	// Clear removes a container, or every entry when container is empty.
	Clear(ctx context.Context, container string) error

	Incr(ctx context.Context, container, key string) (int64, error)
	Decr(ctx context.Context, container, key string) (int64, error)
	GetCounter(ctx context.Context, container, key string) (int64, error)
	ResetCounter(ctx context.Context, container, key string) error

	// Close releases the channel gracefully.
	Close() error
}

// ExpirationGetter is implemented by conns that return an entry's policy
// along with its value. A client fills its near cache on reads only through
// it, so a near copy never outlives the entry's own deadline.
type ExpirationGetter interface {
	GetWithExpiration(ctx context.Context, container, key string) ([]byte, Expiration, bool, error)
}

// Aborter is implemented by conns that can be forced into a released state
// when a graceful Close fails.
type Aborter interface {
	Abort()
}

// Dialer opens a Conn to addr ("host:port").
type Dialer func(ctx context.Context, addr string) (Conn, error)

// NearCache is a process-local byte cache placed in front of Conn.Get.
// Keys are composite storage keys; values are encoded payloads (nil = null marker).
type NearCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Del(key string)
	Clear()
	Close()
}
