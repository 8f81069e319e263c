package gcache

import (
	"context"
	"fmt"
	"net"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/unkn0wn-root/gcache/codec"
	"github.com/unkn0wn-root/gcache/internal/keys"
	"github.com/unkn0wn-root/gcache/internal/retry"
	"github.com/unkn0wn-root/gcache/pipeline"
)

type client[V any] struct {
	id        string
	container string
	conn      Conn
	pipe      *pipeline.Pipeline[V]
	retry     retry.Config

	near    NearCache
	nearTTL time.Duration

	log   Logger
	hooks Hooks

	drainTimeout time.Duration
	drainPoll    time.Duration

	pending   atomic.Int64
	closing   atomic.Bool // no new operations
	released  atomic.Bool // conn closed
	closeOnce sync.Once
}

var _ Cache[struct{}] = (*client[struct{}])(nil)

func newClient[V any](ctx context.Context, opts Options[V]) (*client[V], error) {
	if opts.Container != "" && strings.TrimSpace(opts.Container) == "" {
		return nil, ErrInvalidContainer
	}

	popts := []pipeline.Option{
		pipeline.WithCompression(opts.Compression),
		pipeline.WithEncryptionKey(opts.EncryptionKey),
	}
	if opts.RandomIV {
		popts = append(popts, pipeline.WithRandomIV())
	}
	pipe, err := pipeline.New[V](coalesce[codec.Codec[V]](opts.Codec, codec.JSON[V]{}), popts...)
	if err != nil {
		return nil, err
	}

	c := &client[V]{
		id:           uuid.NewString(),
		container:    opts.Container,
		pipe:         pipe,
		near:         opts.NearCache,
		nearTTL:      coalesce(opts.NearCacheTTL, defaultNearCacheTTL),
		log:          coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:        coalesce[Hooks](opts.Hooks, NopHooks{}),
		drainTimeout: coalesce(opts.DrainTimeout, defaultDrainTimeout),
		drainPoll:    coalesce(opts.DrainPollInterval, defaultDrainPoll),
		retry: retry.Config{
			Attempts:   coalesce(opts.RetryAttempts, defaultRetryAttempts),
			MinBackoff: coalesce(opts.RetryMinBackoff, defaultRetryMinBackoff),
			MaxBackoff: coalesce(opts.RetryMaxBackoff, defaultRetryMaxBackoff),
			Permanent:  IsPermanent,
		},
	}

	switch {
	case opts.Conn != nil:
		c.conn = opts.Conn
	case opts.Dialer != nil:
		addr := net.JoinHostPort(coalesce(opts.Server, DefaultServer), strconv.Itoa(coalesce(opts.Port, DefaultPort)))
		conn, err := opts.Dialer(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("gcache: dial %s: %w", addr, err)
		}
		c.conn = conn
	default:
		return nil, ErrNoConn
	}

	c.log.Debug("cache client ready", c.fields(Fields{
		"compression": pipe.Compressed(),
		"encryption":  pipe.Encrypted(),
		"near_cache":  c.near != nil,
	}))
	return c, nil
}

func (c *client[V]) Container() string { return c.container }

func (c *client[V]) fields(f Fields) Fields {
	if f == nil {
		f = Fields{}
	}
	f["client"] = c.id
	if c.container != "" {
		f["container"] = c.container
	}
	return f
}

// do runs one remote call under the retry policy.
func (c *client[V]) do(ctx context.Context, op, key string, fn func(context.Context) error) error {
	if c.released.Load() {
		return ErrClosed
	}
	cfg := c.retry
	cfg.OnRetry = func(attempt int, err error) {
		c.hooks.RetryAttempt(op, attempt, err)
		c.log.Debug("retrying cache call", c.fields(Fields{"op": op, "key": key, "attempt": attempt, "err": err}))
	}
	attempts, err := retry.Do(ctx, cfg, fn)
	if err != nil {
		return &OpError{Op: op, Key: key, Attempts: attempts, Err: err}
	}
	return nil
}

func (c *client[V]) guard() error {
	if c.closing.Load() {
		return ErrClosed
	}
	return nil
}

func (c *client[V]) AddOrUpdate(ctx context.Context, key string, value V, exp Expiration) error {
	if err := c.guard(); err != nil {
		return err
	}
	return c.addOrUpdate(ctx, key, value, exp)
}

func (c *client[V]) AddOrUpdateFunc(ctx context.Context, key string, fn func(context.Context) (V, error), exp Expiration) error {
	if err := c.guard(); err != nil {
		return err
	}
	if err := checkWrite(key, exp); err != nil {
		return err
	}
	v, err := fn(ctx)
	if err != nil {
		return err
	}
	return c.addOrUpdate(ctx, key, v, exp)
}

func checkWrite(key string, exp Expiration) error {
	if key == "" {
		return ErrInvalidKey
	}
	return exp.Validate()
}

func (c *client[V]) addOrUpdate(ctx context.Context, key string, value V, exp Expiration) error {
	if err := checkWrite(key, exp); err != nil {
		return err
	}
	var data []byte
	if !isNil(value) {
		b, err := c.pipe.Encode(value)
		if err != nil {
			return &OpError{Op: "add_or_update", Key: key, Attempts: 1, Err: err}
		}
		data = b
	}

	err := c.do(ctx, "add_or_update", key, func(ctx context.Context) error {
		return c.conn.AddOrUpdate(ctx, c.container, key, data, exp)
	})
	if c.near != nil {
		sk := keys.Make(c.container, key)
		if ttl := c.nearTTLFor(exp); err == nil && ttl > 0 {
			c.near.Set(sk, data, ttl)
		} else {
			c.near.Del(sk)
		}
	}
	return err
}

// nearTTLFor caps the near-cache lifetime by the entry's own expiration.
func (c *client[V]) nearTTLFor(exp Expiration) time.Duration {
	ttl := c.nearTTL
	switch exp.Mode {
	case ModeAbsolute:
		if until := time.Until(exp.At); until < ttl {
			ttl = until
		}
	case ModeSliding:
		if exp.In < ttl {
			ttl = exp.In
		}
	}
	return ttl
}

func (c *client[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if err := c.guard(); err != nil {
		return zero, false, err
	}
	if key == "" {
		return zero, false, ErrInvalidKey
	}

	raw, found, err := c.fetch(ctx, key)
	if err != nil || !found || raw == nil {
		return zero, false, err
	}
	v, err := c.pipe.Decode(raw)
	if err != nil {
		return zero, false, &OpError{Op: "get", Key: key, Attempts: 1, Err: err}
	}
	return v, true, nil
}

func (c *client[V]) fetch(ctx context.Context, key string) ([]byte, bool, error) {
	sk := keys.Make(c.container, key)
	if c.near != nil {
		if b, ok := c.near.Get(sk); ok {
			return b, true, nil
		}
	}

	// reads fill the near cache only when the conn reports the entry's policy
	eg, withExp := c.conn.(ExpirationGetter)
	var (
		raw   []byte
		exp   Expiration
		found bool
	)
	err := c.do(ctx, "get", key, func(ctx context.Context) error {
		var err error
		if withExp {
			raw, exp, found, err = eg.GetWithExpiration(ctx, c.container, key)
		} else {
			raw, found, err = c.conn.Get(ctx, c.container, key)
		}
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if found && withExp && c.near != nil {
		if ttl := c.nearTTLFor(exp); ttl > 0 {
			c.near.Set(sk, raw, ttl)
		}
	}
	return raw, found, nil
}

func (c *client[V]) GetOrAdd(ctx context.Context, key string, value V, exp Expiration) (V, error) {
	return c.GetOrAddFunc(ctx, key, func(context.Context) (V, error) { return value, nil }, exp)
}

func (c *client[V]) GetOrAddFunc(ctx context.Context, key string, fn func(context.Context) (V, error), exp Expiration) (V, error) {
	var zero V
	if err := checkWrite(key, exp); err != nil {
		return zero, err
	}
	v, ok, err := c.Get(ctx, key)
	if err != nil {
		return zero, err
	}
	if ok {
		return v, nil
	}

	nv, err := fn(ctx)
	if err != nil {
		return zero, err
	}
	if err := c.AddOrUpdate(ctx, key, nv, exp); err != nil {
		return zero, err
	}
	return nv, nil
}

func (c *client[V]) Delete(ctx context.Context, key string, partial bool) (bool, error) {
	if err := c.guard(); err != nil {
		return false, err
	}
	return c.delete(ctx, key, partial)
}

func (c *client[V]) delete(ctx context.Context, key string, partial bool) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}
	var removed bool
	err := c.do(ctx, "delete", key, func(ctx context.Context) error {
		var err error
		removed, err = c.conn.Delete(ctx, c.container, key, partial)
		return err
	})
	if c.near != nil {
		if partial {
			c.near.Clear()
		} else {
			c.near.Del(keys.Make(c.container, key))
		}
	}
	return removed, err
}

func (c *client[V]) Clear(ctx context.Context) error {
	if err := c.guard(); err != nil {
		return err
	}
	err := c.do(ctx, "clear", "", func(ctx context.Context) error {
		return c.conn.Clear(ctx, c.container)
	})
	if c.near != nil {
		c.near.Clear()
	}
	return err
}

func (c *client[V]) Incr(ctx context.Context, key string) (int64, error) {
	if err := c.guard(); err != nil {
		return 0, err
	}
	return c.counter(ctx, "incr", key, c.conn.Incr)
}

func (c *client[V]) Decr(ctx context.Context, key string) (int64, error) {
	if err := c.guard(); err != nil {
		return 0, err
	}
	return c.counter(ctx, "decr", key, c.conn.Decr)
}

func (c *client[V]) GetCounter(ctx context.Context, key string) (int64, error) {
	if err := c.guard(); err != nil {
		return 0, err
	}
	return c.counter(ctx, "get_counter", key, c.conn.GetCounter)
}

func (c *client[V]) ResetCounter(ctx context.Context, key string) error {
	if err := c.guard(); err != nil {
		return err
	}
	_, err := c.counter(ctx, "reset_counter", key, func(ctx context.Context, container, key string) (int64, error) {
		return 0, c.conn.ResetCounter(ctx, container, key)
	})
	return err
}

func (c *client[V]) counter(ctx context.Context, op, key string, fn func(context.Context, string, string) (int64, error)) (int64, error) {
	if key == "" {
		return 0, ErrInvalidKey
	}
	var n int64
	err := c.do(ctx, op, key, func(ctx context.Context) error {
		var err error
		n, err = fn(ctx, c.container, key)
		return err
	})
	if c.near != nil && op != "get_counter" {
		c.near.Del(keys.Make(c.container, key))
	}
	return n, err
}

// isNil reports values that are stored as the null marker instead of being encoded.
func isNil[V any](v V) bool {
	rv := reflect.ValueOf(any(v))
	if !rv.IsValid() {
		return true
	}
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		return rv.IsNil()
	}
	return false
}
