package store

import (
	"fmt"
	"time"

	"go.uber.org/atomic"

	"github.com/unkn0wn-root/gcache"
)

// Entry is one stored value with its expiration policy.
// A nil value is the null marker.
//
// Fields other than lastAccess are written only under the owning shard's
// write lock. lastAccess is refreshed under the read lock.
type Entry struct {
	value      []byte
	added      time.Time
	lastAccess atomic.Int64 // unix nanos

	mode      gcache.Mode
	expiresAt time.Time
	expiresIn time.Duration
}

func (e *Entry) set(value []byte, exp gcache.Expiration, now time.Time) {
	e.value = value
	e.added = now
	e.lastAccess.Store(now.UnixNano())
	e.mode = exp.Mode
	e.expiresAt = time.Time{}
	e.expiresIn = 0
	switch exp.Mode {
	case gcache.ModeAbsolute:
		e.expiresAt = exp.At
	case gcache.ModeSliding:
		e.expiresIn = exp.In
	}
}

// Expiration returns the policy the entry was last written with.
func (e *Entry) Expiration() gcache.Expiration {
	return gcache.Expiration{Mode: e.mode, At: e.expiresAt, In: e.expiresIn}
}

func (e *Entry) touch(now time.Time) { e.lastAccess.Store(now.UnixNano()) }

func (e *Entry) Value() []byte         { return e.value }
func (e *Entry) Added() time.Time      { return e.added }
func (e *Entry) Mode() gcache.Mode     { return e.mode }
func (e *Entry) LastAccess() time.Time { return time.Unix(0, e.lastAccess.Load()) }

// IsExpired reports whether the entry is no longer readable at now.
func (e *Entry) IsExpired(now time.Time) (bool, error) {
	switch e.mode {
	case gcache.ModeNone:
		return false, nil
	case gcache.ModeAbsolute:
		return now.After(e.expiresAt), nil
	case gcache.ModeSliding:
		return now.After(e.LastAccess().Add(e.expiresIn)), nil
	default:
		return false, fmt.Errorf("%w: %s", gcache.ErrUnknownMode, e.mode)
	}
}
