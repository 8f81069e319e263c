package store

import (
	"sync"
	"testing"

	"github.com/unkn0wn-root/gcache"
	"github.com/unkn0wn-root/gcache/internal/wire"
)

func TestCounterLifecycle(t *testing.T) {
	forEachAllocator(t, func(t *testing.T, s *Store, _ *clock) {
		if n, err := s.GetCounter("c", "hits"); err != nil || n != 0 {
			t.Fatalf("absent counter: n=%d err=%v", n, err)
		}
		for i := int64(1); i <= 3; i++ {
			if n, _ := s.Incr("c", "hits"); n != i {
				t.Fatalf("Incr=%d want %d", n, i)
			}
		}
		if n, _ := s.Decr("c", "hits"); n != 2 {
			t.Fatalf("Decr=%d want 2", n)
		}
		if n, _ := s.GetCounter("c", "hits"); n != 2 {
			t.Fatalf("GetCounter=%d want 2", n)
		}
		if err := s.ResetCounter("c", "hits"); err != nil {
			t.Fatalf("ResetCounter: %v", err)
		}
		if _, ok, _ := s.Get("c", "hits"); ok {
			t.Fatalf("reset must delete the key")
		}
		if n, _ := s.Decr("c", "hits"); n != -1 {
			t.Fatalf("Decr from absent=%d want -1", n)
		}
	})
}

func TestCounterStoredLittleEndian(t *testing.T) {
	s, _ := newTestStore(t, NaiveAllocator{}, nil)
	_, _ = s.Incr("", "n")
	raw, ok, _ := s.Get("", "n")
	if !ok || len(raw) != 8 || raw[0] != 1 {
		t.Fatalf("raw counter: %x", raw)
	}
}

func TestCounterReadsShortValueAsZero(t *testing.T) {
	s, _ := newTestStore(t, NaiveAllocator{}, nil)
	_ = s.AddOrUpdate("", "n", []byte{1, 2}, gcache.NoExpiration())
	if n, _ := s.GetCounter("", "n"); n != 0 {
		t.Fatalf("short value read as %d", n)
	}
	if n, _ := s.Incr("", "n"); n != 1 {
		t.Fatalf("Incr over short value=%d want 1", n)
	}
}

func TestCounterWriteClearsExpiration(t *testing.T) {
	s, clk := newTestStore(t, NaiveAllocator{}, nil)
	_ = s.AddOrUpdate("", "n", wire.EncodeCounter(5), gcache.ExpiresIn(1e9))
	if n, _ := s.Incr("", "n"); n != 6 {
		t.Fatalf("Incr=%d want 6", n)
	}
	clk.Advance(1e12)
	if n, _ := s.GetCounter("", "n"); n != 6 {
		t.Fatalf("counter expired after Incr rewrote it with no expiration: %d", n)
	}
}

func TestConcurrentIncrIsAtomic(t *testing.T) {
	forEachAllocator(t, func(t *testing.T, s *Store, _ *clock) {
		const n = 10000
		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func() {
				defer wg.Done()
				if _, err := s.Incr("c", "total"); err != nil {
					t.Errorf("Incr: %v", err)
				}
			}()
		}
		wg.Wait()
		if got, _ := s.GetCounter("c", "total"); got != n {
			t.Fatalf("counter=%d want %d", got, n)
		}
	})
}
