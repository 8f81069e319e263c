package nearcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/gcache"
	"github.com/unkn0wn-root/gcache/codec"
	"github.com/unkn0wn-root/gcache/store"
	localconn "github.com/unkn0wn-root/gcache/transport/local"
)

func newNear(t *testing.T) *Ristretto {
	t.Helper()
	r, err := NewRistretto(Config{NumCounters: 1000, MaxCost: 1 << 20, BufferItems: 64, Metrics: true})
	require.NoError(t, err)
	return r
}

func TestInvalidConfig(t *testing.T) {
	_, err := NewRistretto(Config{MaxCost: -1})
	assert.Error(t, err)
}

func TestSetGetDel(t *testing.T) {
	r := newNear(t)
	defer r.Close()

	r.Set("a", []byte("1"), time.Minute)
	r.Set("null", nil, time.Minute)
	r.Wait()

	v, ok := r.Get("a")
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	v, ok = r.Get("null")
	assert.True(t, ok)
	assert.Nil(t, v)

	r.Del("a")
	_, ok = r.Get("a")
	assert.False(t, ok)

	r.Set("b", []byte("2"), 0)
	r.Wait()
	_, ok = r.Get("b")
	assert.False(t, ok, "non-positive ttl must not cache")

	r.Clear()
	_, ok = r.Get("null")
	assert.False(t, ok)
	assert.NotNil(t, r.Metrics())
}

func TestTTLExpires(t *testing.T) {
	r := newNear(t)
	defer r.Close()

	r.Set("a", []byte("1"), 20*time.Millisecond)
	r.Wait()
	time.Sleep(50 * time.Millisecond)
	_, ok := r.Get("a")
	assert.False(t, ok)
}

func TestClientInvalidatesNearCache(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.Options{SweepInterval: -1, Allocator: store.NaiveAllocator{}})
	near := newNear(t)

	writer, err := gcache.New[string](ctx, gcache.Options[string]{Conn: localconn.New(st), Codec: codec.String{}})
	require.NoError(t, err)
	reader, err := gcache.New[string](ctx, gcache.Options[string]{
		Conn:         localconn.NewOwned(st),
		Codec:        codec.String{},
		NearCache:    near,
		NearCacheTTL: time.Minute,
	})
	require.NoError(t, err)
	defer reader.Close(ctx)
	defer writer.Close(ctx)

	require.NoError(t, reader.AddOrUpdate(ctx, "k", "v1", gcache.NoExpiration()))
	near.Wait()

	// a write by another client is not seen while the near entry lives
	require.NoError(t, writer.AddOrUpdate(ctx, "k", "v2", gcache.NoExpiration()))
	v, _, _ := reader.Get(ctx, "k")
	assert.Equal(t, "v1", v)

	// the reader's own delete invalidates
	_, err = reader.Delete(ctx, "k", false)
	require.NoError(t, err)
	_, ok, err := reader.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNearEntryDoesNotOutliveAbsoluteDeadline(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.Options{SweepInterval: -1, Allocator: store.NaiveAllocator{}})
	near := newNear(t)

	writer, err := gcache.New[string](ctx, gcache.Options[string]{Conn: localconn.New(st), Codec: codec.String{}})
	require.NoError(t, err)
	reader, err := gcache.New[string](ctx, gcache.Options[string]{
		Conn:         localconn.NewOwned(st),
		Codec:        codec.String{},
		NearCache:    near,
		NearCacheTTL: time.Minute,
	})
	require.NoError(t, err)
	defer reader.Close(ctx)
	defer writer.Close(ctx)

	require.NoError(t, writer.AddOrUpdate(ctx, "k", "v", gcache.ExpiresAt(time.Now().Add(100*time.Millisecond))))

	v, ok, err := reader.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", v)
	near.Wait()

	time.Sleep(300 * time.Millisecond)
	_, ok, err = st.Get("", "k")
	require.NoError(t, err)
	require.False(t, ok, "store entry should have expired")

	_, ok, err = reader.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "near cache served an entry past its deadline")
}
