package gcache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/atomic"

	c "github.com/unkn0wn-root/gcache/codec"
	"github.com/unkn0wn-root/gcache/internal/keys"
	"github.com/unkn0wn-root/gcache/internal/wire"
)

type memEntry struct {
	v   []byte
	exp Expiration
}

// memConn is an in-memory Conn. Expiration is recorded but not enforced.
type memConn struct {
	mu sync.Mutex
	m  map[string]memEntry

	calls     atomic.Int64
	failNext  atomic.Int64 // fail this many calls with errFlaky
	delay     time.Duration
	closeErr  error
	closed    atomic.Bool
	aborted   atomic.Bool
	lastValue []byte
}

var (
	_ Conn             = (*memConn)(nil)
	_ Aborter          = (*memConn)(nil)
	_ ExpirationGetter = (*memConn)(nil)

	errFlaky = errors.New("connection reset")
)

func newMemConn() *memConn { return &memConn{m: make(map[string]memEntry)} }

func (m *memConn) enter(ctx context.Context) error {
	m.calls.Inc()
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.failNext.Load() > 0 {
		m.failNext.Dec()
		return errFlaky
	}
	return nil
}

func (m *memConn) AddOrUpdate(ctx context.Context, container, key string, value []byte, exp Expiration) error {
	if err := m.enter(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[keys.Make(container, key)] = memEntry{v: value, exp: exp}
	m.lastValue = value
	return nil
}

func (m *memConn) Get(ctx context.Context, container, key string) ([]byte, bool, error) {
	if err := m.enter(ctx); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.m[keys.Make(container, key)]
	return e.v, ok, nil
}

func (m *memConn) GetWithExpiration(ctx context.Context, container, key string) ([]byte, Expiration, bool, error) {
	if err := m.enter(ctx); err != nil {
		return nil, Expiration{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.m[keys.Make(container, key)]
	return e.v, e.exp, ok, nil
}

func (m *memConn) Delete(ctx context.Context, container, key string, partial bool) (bool, error) {
	if err := m.enter(ctx); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sk := keys.Make(container, key)
	if !partial {
		_, ok := m.m[sk]
		delete(m.m, sk)
		return ok, nil
	}
	n := 0
	for k := range m.m {
		if strings.HasPrefix(k, sk) {
			delete(m.m, k)
			n++
		}
	}
	return n > 0, nil
}

func (m *memConn) Clear(ctx context.Context, container string) error {
	if err := m.enter(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := "!!"
	if container != "" {
		prefix = keys.ContainerPrefix(container)
	}
	for k := range m.m {
		if strings.HasPrefix(k, prefix) {
			delete(m.m, k)
		}
	}
	return nil
}

func (m *memConn) add(ctx context.Context, container, key string, d int64) (int64, error) {
	if err := m.enter(ctx); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sk := keys.Make(container, key)
	n := wire.DecodeCounter(m.m[sk].v) + d
	m.m[sk] = memEntry{v: wire.EncodeCounter(n)}
	return n, nil
}

func (m *memConn) Incr(ctx context.Context, container, key string) (int64, error) {
	return m.add(ctx, container, key, 1)
}

func (m *memConn) Decr(ctx context.Context, container, key string) (int64, error) {
	return m.add(ctx, container, key, -1)
}

func (m *memConn) GetCounter(ctx context.Context, container, key string) (int64, error) {
	return m.add(ctx, container, key, 0)
}

func (m *memConn) ResetCounter(ctx context.Context, container, key string) error {
	_, err := m.Delete(ctx, container, key, false)
	return err
}

func (m *memConn) Close() error {
	m.closed.Store(true)
	return m.closeErr
}

func (m *memConn) Abort() { m.aborted.Store(true) }

type user struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func fastRetry[V any](o *Options[V]) {
	o.RetryMinBackoff = time.Millisecond
	o.RetryMaxBackoff = 2 * time.Millisecond
}

func newTestClient(t *testing.T, mc *memConn, optsOpt func(*Options[user])) *client[user] {
	t.Helper()
	opts := Options[user]{Container: "users", Conn: mc, Codec: c.JSON[user]{}}
	fastRetry(&opts)
	if optsOpt != nil {
		optsOpt(&opts)
	}
	cl, err := newClient[user](context.Background(), opts)
	if err != nil {
		t.Fatalf("newClient: %v", err)
	}
	return cl
}

type recHooks struct {
	NopHooks
	mu      sync.Mutex
	retries []int
	async   []string
}

func (h *recHooks) RetryAttempt(_ string, attempt int, _ error) {
	h.mu.Lock()
	h.retries = append(h.retries, attempt)
	h.mu.Unlock()
}

func (h *recHooks) AsyncFailed(op, _ string, _ error) {
	h.mu.Lock()
	h.async = append(h.async, op)
	h.mu.Unlock()
}

func TestNewValidatesOptions(t *testing.T) {
	ctx := context.Background()
	if _, err := New[user](ctx, Options[user]{Container: "  ", Conn: newMemConn()}); !errors.Is(err, ErrInvalidContainer) {
		t.Fatalf("blank container: %v", err)
	}
	if _, err := New[user](ctx, Options[user]{Conn: newMemConn(), EncryptionKey: []byte("short")}); !errors.Is(err, ErrInvalidEncryptionKey) {
		t.Fatalf("short key: %v", err)
	}
	if _, err := New[user](ctx, Options[user]{Conn: newMemConn(), EncryptionKey: []byte{}}); !errors.Is(err, ErrInvalidEncryptionKey) {
		t.Fatalf("empty key: %v", err)
	}
	if _, err := New[user](ctx, Options[user]{}); !errors.Is(err, ErrNoConn) {
		t.Fatalf("no conn: %v", err)
	}
	cl, err := New[user](ctx, Options[user]{Conn: newMemConn()})
	if err != nil {
		t.Fatalf("absent container must be accepted: %v", err)
	}
	if cl.Container() != "" {
		t.Fatalf("Container=%q", cl.Container())
	}
}

func TestNewDialsServerPort(t *testing.T) {
	var gotAddr string
	mc := newMemConn()
	dial := func(_ context.Context, addr string) (Conn, error) {
		gotAddr = addr
		return mc, nil
	}
	cl, err := New[user](context.Background(), Options[user]{Dialer: dial})
	if err != nil {
		t.Fatal(err)
	}
	defer cl.Close(context.Background())
	if gotAddr != "localhost:7373" {
		t.Fatalf("addr=%q", gotAddr)
	}

	_, err = New[user](context.Background(), Options[user]{
		Server: "cache.internal",
		Port:   9000,
		Dialer: func(context.Context, string) (Conn, error) { return nil, errFlaky },
	})
	if !errors.Is(err, errFlaky) || !strings.Contains(err.Error(), "cache.internal:9000") {
		t.Fatalf("dial error: %v", err)
	}
}

func TestAddGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := newMemConn()
	cl := newTestClient(t, mc, nil)
	defer cl.Close(ctx)

	in := user{ID: "1", Name: "Ada"}
	if err := cl.AddOrUpdate(ctx, "u:1", in, NoExpiration()); err != nil {
		t.Fatalf("AddOrUpdate: %v", err)
	}
	got, ok, err := cl.Get(ctx, "u:1")
	if err != nil || !ok || got != in {
		t.Fatalf("Get: %+v ok=%v err=%v", got, ok, err)
	}
	if _, ok := mc.m["!!users|u:1"]; !ok {
		t.Fatalf("value not stored under composite key: %v", mc.m)
	}
	if _, ok, _ := cl.Get(ctx, "u:2"); ok {
		t.Fatalf("miss expected")
	}
}

func TestEncodedOnTheWire(t *testing.T) {
	ctx := context.Background()
	mc := newMemConn()
	cl := newTestClient(t, mc, func(o *Options[user]) {
		o.Compression = true
		o.EncryptionKey = []byte("0123456789abcdef")
	})
	defer cl.Close(ctx)

	in := user{ID: "1", Name: strings.Repeat("Ada", 50)}
	_ = cl.AddOrUpdate(ctx, "u", in, NoExpiration())
	if strings.Contains(string(mc.lastValue), "Ada") {
		t.Fatalf("plaintext leaked to conn")
	}
	if got, ok, err := cl.Get(ctx, "u"); err != nil || !ok || got != in {
		t.Fatalf("Get: %+v ok=%v err=%v", got, ok, err)
	}
}

func TestNilValueIsNullMarker(t *testing.T) {
	ctx := context.Background()
	mc := newMemConn()
	cl, err := newClient[*user](ctx, Options[*user]{Conn: mc})
	if err != nil {
		t.Fatal(err)
	}
	defer cl.Close(ctx)

	if err := cl.AddOrUpdate(ctx, "k", nil, NoExpiration()); err != nil {
		t.Fatalf("AddOrUpdate nil: %v", err)
	}
	if e, ok := mc.m["!!default|k"]; !ok || e.v != nil {
		t.Fatalf("null marker not stored: %+v ok=%v", e, ok)
	}
	v, ok, err := cl.Get(ctx, "k")
	if err != nil || ok || v != nil {
		t.Fatalf("null read: v=%v ok=%v err=%v", v, ok, err)
	}
}

func TestIsNil(t *testing.T) {
	var p *user
	var m map[string]int
	var s []byte
	var i any
	if !isNil(p) || !isNil(m) || !isNil(s) || !isNil(i) {
		t.Fatalf("nil values not detected")
	}
	if isNil(0) || isNil("") || isNil(user{}) || isNil([]byte{}) {
		t.Fatalf("non-nil values reported nil")
	}
}

func TestEmptyKeyRejectedBeforeRemoteCall(t *testing.T) {
	ctx := context.Background()
	mc := newMemConn()
	cl := newTestClient(t, mc, nil)
	defer cl.Close(ctx)

	if err := cl.AddOrUpdate(ctx, "", user{}, NoExpiration()); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("AddOrUpdate: %v", err)
	}
	if _, _, err := cl.Get(ctx, ""); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("Get: %v", err)
	}
	if _, err := cl.Delete(ctx, "", false); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := cl.Incr(ctx, ""); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("Incr: %v", err)
	}
	if err := cl.AddOrUpdate(ctx, "k", user{}, Expiration{Mode: ModeAbsolute}); !errors.Is(err, ErrInvalidExpiration) {
		t.Fatalf("bad expiration: %v", err)
	}
	if mc.calls.Load() != 0 {
		t.Fatalf("remote calls=%d want 0", mc.calls.Load())
	}
}

func TestRetryRecoversTransientFailure(t *testing.T) {
	ctx := context.Background()
	mc := newMemConn()
	h := &recHooks{}
	cl := newTestClient(t, mc, func(o *Options[user]) { o.Hooks = h })
	defer cl.Close(ctx)

	mc.failNext.Store(4)
	if err := cl.AddOrUpdate(ctx, "k", user{ID: "1"}, NoExpiration()); err != nil {
		t.Fatalf("AddOrUpdate after 4 failures should succeed on attempt 5: %v", err)
	}
	if mc.calls.Load() != 5 {
		t.Fatalf("calls=%d want 5", mc.calls.Load())
	}
	if len(h.retries) != 4 {
		t.Fatalf("RetryAttempt hooks=%v", h.retries)
	}
}

func TestRetryExhaustion(t *testing.T) {
	ctx := context.Background()
	mc := newMemConn()
	cl := newTestClient(t, mc, nil)
	defer cl.Close(ctx)

	mc.failNext.Store(100)
	_, err := cl.Incr(ctx, "n")
	var oe *OpError
	if !errors.As(err, &oe) {
		t.Fatalf("want *OpError, got %T %v", err, err)
	}
	if oe.Op != "incr" || oe.Key != "n" || oe.Attempts != 5 || !errors.Is(err, errFlaky) {
		t.Fatalf("OpError: %+v", oe)
	}
	if mc.calls.Load() != 5 {
		t.Fatalf("calls=%d want exactly 5", mc.calls.Load())
	}
}

func TestPermanentErrorNotRetried(t *testing.T) {
	ctx := context.Background()
	pc := &permConn{memConn: newMemConn()}
	cl, err := newClient[user](ctx, Options[user]{Conn: pc})
	if err != nil {
		t.Fatal(err)
	}
	defer cl.Close(ctx)

	_, _, err = cl.Get(ctx, "k")
	if !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("want ErrInvalidKey from server, got %v", err)
	}
	if pc.calls.Load() != 1 {
		t.Fatalf("calls=%d want 1", pc.calls.Load())
	}
}

type permConn struct{ *memConn }

func (p *permConn) Get(context.Context, string, string) ([]byte, bool, error) {
	p.calls.Inc()
	return nil, false, ErrInvalidKey
}

func TestGetOrAdd(t *testing.T) {
	ctx := context.Background()
	mc := newMemConn()
	cl := newTestClient(t, mc, nil)
	defer cl.Close(ctx)

	first, err := cl.GetOrAdd(ctx, "k", user{ID: "1"}, ExpiresIn(time.Minute))
	if err != nil || first.ID != "1" {
		t.Fatalf("first GetOrAdd: %+v %v", first, err)
	}
	second, err := cl.GetOrAdd(ctx, "k", user{ID: "2"}, ExpiresIn(time.Minute))
	if err != nil || second.ID != "1" {
		t.Fatalf("second GetOrAdd should return cached value: %+v %v", second, err)
	}
	if mc.m["!!users|k"].exp.Mode != ModeSliding {
		t.Fatalf("expiration not forwarded")
	}

	calls := 0
	fn := func(context.Context) (user, error) { calls++; return user{ID: "f"}, nil }
	_, _ = cl.GetOrAddFunc(ctx, "f", fn, NoExpiration())
	_, _ = cl.GetOrAddFunc(ctx, "f", fn, NoExpiration())
	if calls != 1 {
		t.Fatalf("fetch fn calls=%d want 1", calls)
	}

	boom := errors.New("boom")
	if _, err := cl.GetOrAddFunc(ctx, "g", func(context.Context) (user, error) { return user{}, boom }, NoExpiration()); !errors.Is(err, boom) {
		t.Fatalf("fn error: %v", err)
	}
	if _, ok := mc.m["!!users|g"]; ok {
		t.Fatalf("failed fn must not write")
	}
}

func TestAddOrUpdateFunc(t *testing.T) {
	ctx := context.Background()
	mc := newMemConn()
	mc.failNext.Store(2)
	cl := newTestClient(t, mc, nil)
	defer cl.Close(ctx)

	calls := 0
	err := cl.AddOrUpdateFunc(ctx, "k", func(context.Context) (user, error) {
		calls++
		return user{ID: "x"}, nil
	}, NoExpiration())
	if err != nil || calls != 1 {
		t.Fatalf("err=%v calls=%d (fn must run once even when the write is retried)", err, calls)
	}
}

func TestDeleteClearCounters(t *testing.T) {
	ctx := context.Background()
	mc := newMemConn()
	cl := newTestClient(t, mc, nil)
	defer cl.Close(ctx)

	for _, k := range []string{"Key-1", "Key-10", "Key-2"} {
		_ = cl.AddOrUpdate(ctx, k, user{ID: k}, NoExpiration())
	}
	if ok, err := cl.Delete(ctx, "Key-1", true); err != nil || !ok {
		t.Fatalf("partial delete: %v %v", ok, err)
	}
	if ok, _ := cl.Delete(ctx, "Key-1", true); ok {
		t.Fatalf("repeat partial delete must report false")
	}
	if _, ok, _ := cl.Get(ctx, "Key-2"); !ok {
		t.Fatalf("Key-2 must survive")
	}

	for i := 0; i < 3; i++ {
		_, _ = cl.Incr(ctx, "n")
	}
	if n, _ := cl.Decr(ctx, "n"); n != 2 {
		t.Fatalf("Decr=%d", n)
	}
	if n, _ := cl.GetCounter(ctx, "n"); n != 2 {
		t.Fatalf("GetCounter=%d", n)
	}
	_ = cl.ResetCounter(ctx, "n")
	if n, _ := cl.GetCounter(ctx, "n"); n != 0 {
		t.Fatalf("after reset=%d", n)
	}

	if err := cl.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := cl.Get(ctx, "Key-2"); ok {
		t.Fatalf("Clear should remove container entries")
	}
}

func TestAsyncAccountingAndDrain(t *testing.T) {
	ctx := context.Background()
	mc := newMemConn()
	mc.delay = 20 * time.Millisecond
	cl := newTestClient(t, mc, nil)

	for i := 0; i < 10; i++ {
		cl.IncrAsync(ctx, "n")
	}
	cl.AddOrUpdateAsync(ctx, "k", user{ID: "1"}, NoExpiration())
	cl.DeleteAsync(ctx, "missing", false)
	cl.DecrAsync(ctx, "n")
	if cl.IsAsyncComplete() || cl.Pending() == 0 {
		t.Fatalf("async ops should be pending")
	}

	if err := cl.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !cl.IsAsyncComplete() {
		t.Fatalf("Close must drain pending ops, pending=%d", cl.Pending())
	}
	if n := wire.DecodeCounter(mc.m["!!users|n"].v); n != 9 {
		t.Fatalf("counter=%d want 9", n)
	}
	if !mc.closed.Load() {
		t.Fatalf("conn not closed")
	}
}

func TestAsyncSurvivesCanceledContext(t *testing.T) {
	mc := newMemConn()
	mc.delay = 10 * time.Millisecond
	cl := newTestClient(t, mc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cl.IncrAsync(ctx, "n")
	cancel()
	_ = cl.Close(context.Background())
	if n := wire.DecodeCounter(mc.m["!!users|n"].v); n != 1 {
		t.Fatalf("async op canceled with its parent ctx: counter=%d", n)
	}
}

func TestAsyncFailureReported(t *testing.T) {
	ctx := context.Background()
	mc := newMemConn()
	mc.failNext.Store(100)
	h := &recHooks{}
	cl := newTestClient(t, mc, func(o *Options[user]) {
		o.Hooks = h
		o.RetryAttempts = 2
	})

	cl.IncrAsync(ctx, "n")
	_ = cl.Close(ctx)
	if len(h.async) != 1 || h.async[0] != "incr" {
		t.Fatalf("AsyncFailed=%v", h.async)
	}
}

func TestDrainTimeout(t *testing.T) {
	ctx := context.Background()
	mc := newMemConn()
	mc.delay = time.Second
	cl := newTestClient(t, mc, func(o *Options[user]) {
		o.DrainTimeout = 50 * time.Millisecond
		o.RetryAttempts = 1
	})

	cl.IncrAsync(ctx, "n")
	start := time.Now()
	_ = cl.Close(ctx)
	if el := time.Since(start); el < 50*time.Millisecond || el > 500*time.Millisecond {
		t.Fatalf("Close took %v, want about the drain timeout", el)
	}
	if cl.IsAsyncComplete() {
		t.Fatalf("slow op should still be pending after timeout")
	}

	// let the abandoned op finish so it does not outlive the test
	deadline := time.Now().Add(3 * time.Second)
	for !cl.IsAsyncComplete() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCloseFallsBackToAbort(t *testing.T) {
	mc := newMemConn()
	mc.closeErr = errors.New("channel faulted")
	cl := newTestClient(t, mc, nil)

	if err := cl.Close(context.Background()); err != nil {
		t.Fatalf("Close must not fail: %v", err)
	}
	if !mc.aborted.Load() {
		t.Fatalf("Abort not called after failed close")
	}
}

type panickyCloseConn struct{ *memConn }

func (panickyCloseConn) Close() error { panic("socket already torn down") }

func TestCloseRecoversPanickingConnClose(t *testing.T) {
	ctx := context.Background()
	mc := newMemConn()
	opts := Options[user]{Container: "users", Conn: panickyCloseConn{mc}}
	fastRetry(&opts)
	cl, err := newClient[user](ctx, opts)
	if err != nil {
		t.Fatalf("newClient: %v", err)
	}

	if err := cl.Close(ctx); err != nil {
		t.Fatalf("Close must not fail: %v", err)
	}
	if !mc.aborted.Load() {
		t.Fatalf("Abort not called after panicking close")
	}
	if err := cl.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestOpsAfterClose(t *testing.T) {
	ctx := context.Background()
	mc := newMemConn()
	h := &recHooks{}
	cl := newTestClient(t, mc, func(o *Options[user]) { o.Hooks = h })
	_ = cl.Close(ctx)
	_ = cl.Close(ctx)

	if err := cl.AddOrUpdate(ctx, "k", user{}, NoExpiration()); !errors.Is(err, ErrClosed) {
		t.Fatalf("AddOrUpdate after Close: %v", err)
	}
	if _, _, err := cl.Get(ctx, "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Get after Close: %v", err)
	}
	cl.IncrAsync(ctx, "n")
	if len(h.async) != 1 || !cl.IsAsyncComplete() {
		t.Fatalf("async after Close must be dropped and reported: %v", h.async)
	}
	if mc.calls.Load() != 0 {
		t.Fatalf("calls=%d after Close", mc.calls.Load())
	}
}

type mapNear struct {
	mu     sync.Mutex
	m      map[string][]byte
	ttl    map[string]time.Duration
	closed bool
}

func newMapNear() *mapNear {
	return &mapNear{m: map[string][]byte{}, ttl: map[string]time.Duration{}}
}

func (n *mapNear) Get(k string) ([]byte, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.m[k]
	return v, ok
}

func (n *mapNear) Set(k string, v []byte, ttl time.Duration) {
	n.mu.Lock()
	n.m[k], n.ttl[k] = v, ttl
	n.mu.Unlock()
}

func (n *mapNear) Del(k string) {
	n.mu.Lock()
	delete(n.m, k)
	n.mu.Unlock()
}

func (n *mapNear) Clear() {
	n.mu.Lock()
	n.m = map[string][]byte{}
	n.mu.Unlock()
}

func (n *mapNear) Close() { n.closed = true }

func TestNearCache(t *testing.T) {
	ctx := context.Background()
	mc := newMemConn()
	near := newMapNear()
	cl := newTestClient(t, mc, func(o *Options[user]) { o.NearCache = near })

	_ = cl.AddOrUpdate(ctx, "k", user{ID: "1"}, ExpiresIn(100*time.Millisecond))
	if near.ttl["!!users|k"] != 100*time.Millisecond {
		t.Fatalf("near ttl not capped by sliding window: %v", near.ttl["!!users|k"])
	}

	before := mc.calls.Load()
	for i := 0; i < 3; i++ {
		if v, ok, _ := cl.Get(ctx, "k"); !ok || v.ID != "1" {
			t.Fatalf("near hit: %+v %v", v, ok)
		}
	}
	if mc.calls.Load() != before {
		t.Fatalf("near cache should serve repeated reads")
	}

	_, _ = cl.Delete(ctx, "k", false)
	if _, ok := near.Get("!!users|k"); ok {
		t.Fatalf("delete must invalidate near cache")
	}

	_ = cl.AddOrUpdate(ctx, "p", user{ID: "p"}, ExpiresAt(time.Now().Add(-time.Second)))
	if _, ok := near.Get("!!users|p"); ok {
		t.Fatalf("already-expired absolute entry must not be cached")
	}

	_ = cl.AddOrUpdate(ctx, "a", user{ID: "a"}, NoExpiration())
	_ = cl.Clear(ctx)
	if _, ok := near.Get("!!users|a"); ok {
		t.Fatalf("Clear must purge near cache")
	}

	_ = cl.Close(ctx)
	if !near.closed {
		t.Fatalf("Close must close the near cache")
	}
}

// policylessConn hides GetWithExpiration.
type policylessConn struct{ Conn }

func TestNearCacheReadFillIsCappedByEntryExpiration(t *testing.T) {
	ctx := context.Background()
	mc := newMemConn()
	near := newMapNear()
	cl := newTestClient(t, mc, func(o *Options[user]) {
		o.NearCache = near
		o.NearCacheTTL = time.Minute
	})

	// written by another client, so only the read fills the near cache
	_ = mc.AddOrUpdate(ctx, "users", "abs", []byte(`{"id":"a"}`), ExpiresAt(time.Now().Add(80*time.Millisecond)))
	_ = mc.AddOrUpdate(ctx, "users", "slide", []byte(`{"id":"s"}`), ExpiresIn(30*time.Millisecond))
	_ = mc.AddOrUpdate(ctx, "users", "gone", []byte(`{"id":"g"}`), ExpiresAt(time.Now().Add(-time.Second)))
	_ = mc.AddOrUpdate(ctx, "users", "forever", []byte(`{"id":"f"}`), NoExpiration())

	for _, k := range []string{"abs", "slide", "gone", "forever"} {
		if _, ok, err := cl.Get(ctx, k); !ok || err != nil {
			t.Fatalf("Get %s: ok=%v err=%v", k, ok, err)
		}
	}

	if ttl := near.ttl["!!users|abs"]; ttl <= 0 || ttl > 80*time.Millisecond {
		t.Fatalf("absolute near ttl=%v, want capped at the deadline", ttl)
	}
	if ttl := near.ttl["!!users|slide"]; ttl != 30*time.Millisecond {
		t.Fatalf("sliding near ttl=%v, want the window", ttl)
	}
	if _, ok := near.Get("!!users|gone"); ok {
		t.Fatalf("entry past its deadline must not be cached near")
	}
	if ttl := near.ttl["!!users|forever"]; ttl != time.Minute {
		t.Fatalf("non-expiring near ttl=%v, want NearCacheTTL", ttl)
	}
}

func TestNearCacheNotFilledWithoutEntryPolicy(t *testing.T) {
	ctx := context.Background()
	mc := newMemConn()
	near := newMapNear()
	opts := Options[user]{Container: "users", Conn: policylessConn{mc}, NearCache: near}
	fastRetry(&opts)
	cl, err := newClient[user](ctx, opts)
	if err != nil {
		t.Fatalf("newClient: %v", err)
	}

	_ = mc.AddOrUpdate(ctx, "users", "k", []byte(`{"id":"1"}`), ExpiresAt(time.Now().Add(time.Hour)))
	if v, ok, err := cl.Get(ctx, "k"); !ok || err != nil || v.ID != "1" {
		t.Fatalf("Get: %+v %v %v", v, ok, err)
	}
	if _, ok := near.Get("!!users|k"); ok {
		t.Fatalf("read through a conn without policy must not fill the near cache")
	}
}
