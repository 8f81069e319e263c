package store

import (
	"github.com/unkn0wn-root/gcache"
	"github.com/unkn0wn-root/gcache/internal/keys"
	"github.com/unkn0wn-root/gcache/internal/wire"
)

// Counters are ordinary entries holding a little-endian int64. All counter
// operations share one mutex so a read-modify-write is never interleaved.

func (s *Store) Incr(container, key string) (int64, error) { return s.add(container, key, 1) }

func (s *Store) Decr(container, key string) (int64, error) { return s.add(container, key, -1) }

func (s *Store) add(container, key string, delta int64) (int64, error) {
	if key == "" {
		return 0, gcache.ErrInvalidKey
	}
	sk := keys.Make(container, key)

	s.counterMu.Lock()
	defer s.counterMu.Unlock()

	raw, _, err := s.get(sk)
	if err != nil {
		return 0, err
	}
	n := wire.DecodeCounter(raw) + delta
	s.put(sk, wire.EncodeCounter(n), gcache.NoExpiration())
	return n, nil
}

// GetCounter returns 0 for an absent counter.
func (s *Store) GetCounter(container, key string) (int64, error) {
	if key == "" {
		return 0, gcache.ErrInvalidKey
	}
	s.counterMu.Lock()
	defer s.counterMu.Unlock()

	raw, _, err := s.get(keys.Make(container, key))
	if err != nil {
		return 0, err
	}
	return wire.DecodeCounter(raw), nil
}

func (s *Store) ResetCounter(container, key string) error {
	if key == "" {
		return gcache.ErrInvalidKey
	}
	s.counterMu.Lock()
	defer s.counterMu.Unlock()

	_, err := s.Delete(container, key, false)
	return err
}
