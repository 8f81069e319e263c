package store

import (
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/gcache"
)

type poolHooks struct {
	gcache.NopHooks
	mu       sync.Mutex
	refilled int
	failed   int
}

func (h *poolHooks) PoolRefilled(added, _ int) {
	h.mu.Lock()
	h.refilled += added
	h.mu.Unlock()
}

func (h *poolHooks) PoolRefillFailed(error) {
	h.mu.Lock()
	h.failed++
	h.mu.Unlock()
}

func TestPoolPrefilled(t *testing.T) {
	p := NewPool(PoolOptions{Target: 50, RefillInterval: time.Hour})
	defer p.Close()
	if p.Available() != 50 {
		t.Fatalf("Available=%d want 50", p.Available())
	}
}

func TestPoolDefaultTarget(t *testing.T) {
	p := NewPool(PoolOptions{RefillInterval: time.Hour})
	defer p.Close()
	if p.Target() != DefaultPoolTarget || p.Available() != DefaultPoolTarget {
		t.Fatalf("target=%d available=%d", p.Target(), p.Available())
	}
}

func TestPoolBurstFallsBackToAllocation(t *testing.T) {
	h := &poolHooks{}
	p := NewPool(PoolOptions{Target: 10, RefillInterval: time.Hour, Hooks: h})
	defer p.Close()

	seen := make(map[*Entry]struct{})
	for i := 0; i < 25; i++ {
		e := p.Acquire()
		if e == nil {
			t.Fatalf("Acquire returned nil")
		}
		if _, dup := seen[e]; dup {
			t.Fatalf("entry handed out twice")
		}
		seen[e] = struct{}{}
	}
	if p.Available() != 0 {
		t.Fatalf("Available=%d after burst, want 0", p.Available())
	}

	if !p.Refill() {
		t.Fatalf("Refill should run")
	}
	if p.Available() != 10 {
		t.Fatalf("Available=%d after refill, want 10", p.Available())
	}
	if h.refilled != 10 {
		t.Fatalf("PoolRefilled added=%d want 10", h.refilled)
	}
}

func TestPoolConcurrentBurst(t *testing.T) {
	const target, callers = 20, 200
	p := NewPool(PoolOptions{Target: target, RefillInterval: time.Hour})
	defer p.Close()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[*Entry]struct{}, callers)
	)
	start := make(chan struct{})
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			<-start
			e := p.Acquire()
			mu.Lock()
			defer mu.Unlock()
			if e == nil {
				t.Errorf("Acquire returned nil")
				return
			}
			if _, dup := seen[e]; dup {
				t.Errorf("entry handed out twice")
			}
			seen[e] = struct{}{}
		}()
	}
	close(start)
	wg.Wait()

	if len(seen) != callers {
		t.Fatalf("distinct entries=%d want %d", len(seen), callers)
	}
	if p.Available() != 0 {
		t.Fatalf("Available=%d after burst, want 0", p.Available())
	}
}

func TestPoolBackgroundRefill(t *testing.T) {
	p := NewPool(PoolOptions{Target: 5, RefillInterval: 5 * time.Millisecond})
	defer p.Close()
	for i := 0; i < 5; i++ {
		p.Acquire()
	}
	deadline := time.Now().Add(2 * time.Second)
	for p.Available() < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("background refill did not top up, available=%d", p.Available())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPoolRefillPanicIsRecovered(t *testing.T) {
	h := &poolHooks{}
	p := NewPool(PoolOptions{Target: 3, RefillInterval: time.Hour, Hooks: h})
	defer p.Close()

	for i := 0; i < 3; i++ {
		p.Acquire()
	}
	p.alloc = func() *Entry { panic("out of memory") }
	if !p.Refill() {
		t.Fatalf("a refill pass that panicked still ran")
	}
	if h.failed != 1 {
		t.Fatalf("PoolRefillFailed=%d want 1", h.failed)
	}

	p.alloc = func() *Entry { return new(Entry) }
	p.Refill()
	if p.Available() != 3 {
		t.Fatalf("Available=%d after recovery, want 3", p.Available())
	}
}
