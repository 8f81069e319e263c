package gcache

import (
	"context"
	"fmt"
	"time"
)

func (c *client[V]) AddOrUpdateAsync(ctx context.Context, key string, value V, exp Expiration) {
	c.async(ctx, "add_or_update", key, func(ctx context.Context) error {
		return c.addOrUpdate(ctx, key, value, exp)
	})
}

func (c *client[V]) IncrAsync(ctx context.Context, key string) {
	c.async(ctx, "incr", key, func(ctx context.Context) error {
		_, err := c.counter(ctx, "incr", key, c.conn.Incr)
		return err
	})
}

func (c *client[V]) DecrAsync(ctx context.Context, key string) {
	c.async(ctx, "decr", key, func(ctx context.Context) error {
		_, err := c.counter(ctx, "decr", key, c.conn.Decr)
		return err
	})
}

func (c *client[V]) DeleteAsync(ctx context.Context, key string, partial bool) {
	c.async(ctx, "delete", key, func(ctx context.Context) error {
		_, err := c.delete(ctx, key, partial)
		return err
	})
}

// async runs fn on its own goroutine and counts it as pending until it returns.
// The pending count is raised before the closing flag is read, so Close
// either sees the operation or the operation sees Close.
func (c *client[V]) async(ctx context.Context, op, key string, fn func(context.Context) error) {
	c.pending.Inc()
	if c.closing.Load() {
		c.pending.Dec()
		c.asyncFailed(op, key, ErrClosed)
		return
	}
	ctx = context.WithoutCancel(ctx)

	go func() {
		defer c.pending.Dec()
		defer func() {
			if r := recover(); r != nil {
				c.asyncFailed(op, key, fmt.Errorf("gcache: async %s panicked: %v", op, r))
			}
		}()
		if err := fn(ctx); err != nil {
			c.asyncFailed(op, key, err)
		}
	}()
}

func (c *client[V]) asyncFailed(op, key string, err error) {
	c.hooks.AsyncFailed(op, key, err)
	c.log.Warn("async cache operation failed", c.fields(Fields{"op": op, "key": key, "err": err}))
}

func (c *client[V]) Pending() int64 { return c.pending.Load() }

func (c *client[V]) IsAsyncComplete() bool { return c.pending.Load() == 0 }

func (c *client[V]) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.drain(ctx)
		c.released.Store(true)
		c.release()
		if c.near != nil {
			c.near.Close()
		}
	})
	return nil
}

// drain polls until no async operation is pending, DrainTimeout passes or
// ctx is done. Operations still running afterwards fail with ErrClosed.
func (c *client[V]) drain(ctx context.Context) {
	if c.pending.Load() == 0 {
		return
	}
	start := time.Now()
	deadline := time.NewTimer(c.drainTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(c.drainPoll)
	defer tick.Stop()

	for c.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			c.log.Warn("close: drain interrupted", c.fields(Fields{"pending": c.pending.Load(), "err": ctx.Err()}))
			return
		case <-deadline.C:
			c.log.Warn("close: drain timed out", c.fields(Fields{"pending": c.pending.Load(), "waited": time.Since(start).String()}))
			return
		case <-tick.C:
		}
	}
	c.log.Debug("close: async operations drained", c.fields(Fields{"waited": time.Since(start).String()}))
}

// release closes the conn, falling back to Abort when a graceful close fails
// or panics.
func (c *client[V]) release() {
	err := c.closeConn()
	if err == nil {
		return
	}
	c.log.Warn("close: conn close failed", c.fields(Fields{"err": err}))
	if a, ok := c.conn.(Aborter); ok {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("close: conn abort panicked", c.fields(Fields{"panic": fmt.Sprint(r)}))
			}
		}()
		a.Abort()
		c.log.Debug("close: conn aborted", c.fields(nil))
	}
}

func (c *client[V]) closeConn() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gcache: conn close panicked: %v", r)
		}
	}()
	return c.conn.Close()
}
