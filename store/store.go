// Package store is the in-memory cache engine: a sharded map of composite keys
// to entries with per-entry expiration, a background sweep and counters.
package store

import (
	"bytes"
	"context"
	"fmt"
	"math/bits"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/unkn0wn-root/gcache"
	"github.com/unkn0wn-root/gcache/internal/keys"
	"github.com/unkn0wn-root/gcache/internal/sched"
)

const (
	DefaultShards        = 64
	DefaultSweepInterval = 2 * time.Minute
)

type Options struct {
	// Shards is rounded up to a power of two. Default 64.
	Shards int

	// SweepInterval is the period of the expiry sweep. Default 2m.
	// Negative disables the background sweep; Sweep can still be called.
	SweepInterval time.Duration

	// Allocator supplies entries for new keys. Nil builds a Pool from
	// PoolTarget and PoolRefillInterval that the store owns and closes.
	Allocator          Allocator
	PoolTarget         int
	PoolRefillInterval time.Duration

	Logger gcache.Logger
	Hooks  gcache.Hooks
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*Entry
}

type Store struct {
	shards []*shard
	mask   uint64

	alloc Allocator
	pool  *Pool // non-nil when owned

	counterMu sync.Mutex

	sweep     *sched.Task
	sweepMu   sync.Mutex
	lastCount int

	log   gcache.Logger
	hooks gcache.Hooks
	now   func() time.Time

	closeOnce sync.Once
}

func New(opts Options) *Store {
	n := coalesce(opts.Shards, DefaultShards)
	if n < 1 {
		n = 1
	}
	n = 1 << bits.Len(uint(n-1))

	s := &Store{
		shards: make([]*shard, n),
		mask:   uint64(n - 1),
		log:    coalesce[gcache.Logger](opts.Logger, gcache.NopLogger{}),
		hooks:  coalesce[gcache.Hooks](opts.Hooks, gcache.NopHooks{}),
		now:    time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &shard{m: make(map[string]*Entry)}
	}

	if opts.Allocator != nil {
		s.alloc = opts.Allocator
	} else {
		s.pool = NewPool(PoolOptions{
			Target:         opts.PoolTarget,
			RefillInterval: opts.PoolRefillInterval,
			Logger:         s.log,
			Hooks:          s.hooks,
		})
		s.alloc = s.pool
	}

	interval := coalesce(opts.SweepInterval, DefaultSweepInterval)
	if interval > 0 {
		s.sweep = sched.Start(interval, func() { s.Sweep() }, func(err error) {
			s.log.Error("sweep failed", gcache.Fields{"err": err})
		})
	}
	return s
}

func (s *Store) shardFor(storageKey string) *shard {
	return s.shards[xxhash.Sum64String(storageKey)&s.mask]
}

// AddOrUpdate stores value under container/key. An existing entry is
// overwritten in place (last write wins). A nil value stores the null marker.
func (s *Store) AddOrUpdate(container, key string, value []byte, exp gcache.Expiration) error {
	if key == "" {
		return gcache.ErrInvalidKey
	}
	if err := exp.Validate(); err != nil {
		return err
	}
	s.put(keys.Make(container, key), bytes.Clone(value), exp)
	return nil
}

func (s *Store) put(sk string, value []byte, exp gcache.Expiration) {
	now := s.now()
	sh := s.shardFor(sk)
	sh.mu.Lock()
	e, ok := sh.m[sk]
	if !ok {
		e = s.alloc.Acquire()
		sh.m[sk] = e
	}
	e.set(value, exp, now)
	sh.mu.Unlock()
}

// Get returns the stored value. Expired entries read as absent and are left
// for the sweep. A hit refreshes the entry's last access time.
// The returned slice is shared with the store and must not be modified.
func (s *Store) Get(container, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, gcache.ErrInvalidKey
	}
	return s.get(keys.Make(container, key))
}

// GetWithExpiration is Get that also returns the entry's expiration policy.
func (s *Store) GetWithExpiration(container, key string) ([]byte, gcache.Expiration, bool, error) {
	if key == "" {
		return nil, gcache.Expiration{}, false, gcache.ErrInvalidKey
	}
	return s.getEntry(keys.Make(container, key))
}

func (s *Store) get(sk string) ([]byte, bool, error) {
	v, _, ok, err := s.getEntry(sk)
	return v, ok, err
}

func (s *Store) getEntry(sk string) ([]byte, gcache.Expiration, bool, error) {
	now := s.now()
	sh := s.shardFor(sk)

	sh.mu.RLock()
	e, ok := sh.m[sk]
	if !ok {
		sh.mu.RUnlock()
		return nil, gcache.Expiration{}, false, nil
	}
	expired, err := e.IsExpired(now)
	if err != nil {
		sh.mu.RUnlock()
		return nil, gcache.Expiration{}, false, fmt.Errorf("store: get %q: %w", sk, err)
	}
	if expired {
		sh.mu.RUnlock()
		s.hooks.ExpiredRead(sk)
		return nil, gcache.Expiration{}, false, nil
	}
	e.touch(now)
	v, exp := e.value, e.Expiration()
	sh.mu.RUnlock()
	return v, exp, true, nil
}

// Delete removes container/key. With partial it removes every key of the
// container that starts with key. It reports whether anything was removed.
func (s *Store) Delete(container, key string, partial bool) (bool, error) {
	if key == "" {
		return false, gcache.ErrInvalidKey
	}
	sk := keys.Make(container, key)
	if !partial {
		sh := s.shardFor(sk)
		sh.mu.Lock()
		_, ok := sh.m[sk]
		delete(sh.m, sk)
		sh.mu.Unlock()
		return ok, nil
	}
	return s.deletePrefix(sk) > 0, nil
}

// Clear removes every key of container, or everything when container is empty.
func (s *Store) Clear(container string) {
	if container == "" {
		for _, sh := range s.shards {
			sh.mu.Lock()
			sh.m = make(map[string]*Entry)
			sh.mu.Unlock()
		}
		return
	}
	s.deletePrefix(keys.ContainerPrefix(container))
}

func (s *Store) deletePrefix(prefix string) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k := range sh.m {
			if strings.HasPrefix(k, prefix) {
				delete(sh.m, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len counts entries, expired ones included until the sweep removes them.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.m)
		sh.mu.RUnlock()
	}
	return n
}

type Stats struct {
	Entries       int `json:"entries"`
	Shards        int `json:"shards"`
	PoolAvailable int `json:"pool_available"`
	PoolTarget    int `json:"pool_target"`
}

func (s *Store) Stats() Stats {
	st := Stats{Entries: s.Len(), Shards: len(s.shards)}
	if s.pool != nil {
		st.PoolAvailable = s.pool.Available()
		st.PoolTarget = s.pool.Target()
	}
	return st
}

// Close stops the sweep and, if owned, the entry pool. Stored data stays
// readable. Safe to call more than once.
func (s *Store) Close(_ context.Context) error {
	s.closeOnce.Do(func() {
		if s.sweep != nil {
			s.sweep.Stop()
		}
		if s.pool != nil {
			s.pool.Close()
		}
	})
	return nil
}
