// Package localconn serves gcache.Conn from a store in the same process.
// Useful for tests and for embedding the cache without a network hop.
package localconn

import (
	"bytes"
	"context"

	"github.com/unkn0wn-root/gcache"
	"github.com/unkn0wn-root/gcache/store"
)

type Conn struct {
	st   *store.Store
	owns bool
}

var (
	_ gcache.Conn             = (*Conn)(nil)
	_ gcache.ExpirationGetter = (*Conn)(nil)
)

// New wraps st. Closing the conn leaves st running.
func New(st *store.Store) *Conn { return &Conn{st: st} }

// NewOwned wraps st and closes it when the conn is closed.
func NewOwned(st *store.Store) *Conn { return &Conn{st: st, owns: true} }

// Dialer returns a gcache.Dialer that ignores the address and serves from st.
func Dialer(st *store.Store) gcache.Dialer {
	return func(context.Context, string) (gcache.Conn, error) { return New(st), nil }
}

func (c *Conn) AddOrUpdate(ctx context.Context, container, key string, value []byte, exp gcache.Expiration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.st.AddOrUpdate(container, key, value, exp)
}

func (c *Conn) Get(ctx context.Context, container, key string) ([]byte, bool, error) {
	v, _, ok, err := c.GetWithExpiration(ctx, container, key)
	return v, ok, err
}

func (c *Conn) GetWithExpiration(ctx context.Context, container, key string) ([]byte, gcache.Expiration, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, gcache.Expiration{}, false, err
	}
	v, exp, ok, err := c.st.GetWithExpiration(container, key)
	if err != nil || !ok {
		return nil, gcache.Expiration{}, false, err
	}
	// the store's slice must not escape to callers that may modify it
	return bytes.Clone(v), exp, true, nil
}

func (c *Conn) Delete(ctx context.Context, container, key string, partial bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return c.st.Delete(container, key, partial)
}

func (c *Conn) Clear(ctx context.Context, container string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.st.Clear(container)
	return nil
}

func (c *Conn) Incr(ctx context.Context, container, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.st.Incr(container, key)
}

func (c *Conn) Decr(ctx context.Context, container, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.st.Decr(container, key)
}

func (c *Conn) GetCounter(ctx context.Context, container, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.st.GetCounter(container, key)
}

func (c *Conn) ResetCounter(ctx context.Context, container, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.st.ResetCounter(container, key)
}

func (c *Conn) Close() error {
	if c.owns {
		return c.st.Close(context.Background())
	}
	return nil
}
