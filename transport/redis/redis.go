// Package redisconn implements gcache.Conn on a Redis server, for deployments
// that already run Redis and want the gcache client semantics on top of it.
//
// Each entry is a hash under its composite key:
//
//	v  value bytes (absent for the null marker)
//	n  "1" for the null marker
//	s  sliding window in milliseconds; every hit re-arms PEXPIRE
//	c  counter value (HINCRBY)
//
// Absolute expirations use PEXPIREAT. Partial deletes and Clear scan by prefix.
package redisconn

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/gcache"
	"github.com/unkn0wn-root/gcache/internal/keys"
	"github.com/unkn0wn-root/gcache/internal/wire"
)

var ErrNilClient = errors.New("redis conn: nil client")

const (
	fieldValue   = "v"
	fieldNull    = "n"
	fieldSliding = "s"
	fieldCounter = "c"

	scanCount = 512
)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool   // set true only if this conn exclusively owns the client
	Prefix      string // optional namespace in a shared Redis, e.g. "app1:"
}

type Conn struct {
	rdb         goredis.UniversalClient
	closeClient bool
	prefix      string
}

var (
	_ gcache.Conn             = (*Conn)(nil)
	_ gcache.ExpirationGetter = (*Conn)(nil)
)

func New(cfg Config) (*Conn, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Conn{rdb: cfg.Client, closeClient: cfg.CloseClient, prefix: cfg.Prefix}, nil
}

// Dialer connects a dedicated client to the address passed by gcache.New.
func Dialer(opts goredis.Options) gcache.Dialer {
	return func(ctx context.Context, addr string) (gcache.Conn, error) {
		o := opts
		o.Addr = addr
		rdb := goredis.NewClient(&o)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, err
		}
		return &Conn{rdb: rdb, closeClient: true}, nil
	}
}

func (c *Conn) key(container, key string) string { return c.prefix + keys.Make(container, key) }

func (c *Conn) AddOrUpdate(ctx context.Context, container, key string, value []byte, exp gcache.Expiration) error {
	if key == "" {
		return gcache.ErrInvalidKey
	}
	if err := exp.Validate(); err != nil {
		return err
	}
	k := c.key(container, key)

	fields := make([]any, 0, 4)
	if value == nil {
		fields = append(fields, fieldNull, "1")
	} else {
		fields = append(fields, fieldValue, value)
	}
	if exp.Mode == gcache.ModeSliding {
		fields = append(fields, fieldSliding, exp.In.Milliseconds())
	}

	_, err := c.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, k)
		p.HSet(ctx, k, fields...)
		switch exp.Mode {
		case gcache.ModeAbsolute:
			p.PExpireAt(ctx, k, exp.At)
		case gcache.ModeSliding:
			p.PExpire(ctx, k, exp.In)
		}
		return nil
	})
	return err
}

// getScript reads an entry and re-arms a sliding expiration in one step.
// The fifth element is the remaining PTTL after re-arming.
var getScript = goredis.NewScript(`
local r = redis.call('HMGET', KEYS[1], 'v', 'n', 's', 'c')
if r[3] then redis.call('PEXPIRE', KEYS[1], r[3]) end
r[5] = redis.call('PTTL', KEYS[1])
return r
`)

func (c *Conn) Get(ctx context.Context, container, key string) ([]byte, bool, error) {
	v, _, ok, err := c.GetWithExpiration(ctx, container, key)
	return v, ok, err
}

// GetWithExpiration reports a sliding entry with its window and any other
// expiring entry as absolute at now+PTTL.
func (c *Conn) GetWithExpiration(ctx context.Context, container, key string) ([]byte, gcache.Expiration, bool, error) {
	none := gcache.Expiration{}
	if key == "" {
		return nil, none, false, gcache.ErrInvalidKey
	}
	res, err := getScript.Run(ctx, c.rdb, []string{c.key(container, key)}).Slice()
	if err != nil {
		return nil, none, false, err
	}
	if len(res) != 5 {
		return nil, none, false, errors.New("redis conn: unexpected reply")
	}

	exp := gcache.NoExpiration()
	if res[2] != nil {
		ms, err := strconv.ParseInt(res[2].(string), 10, 64)
		if err != nil {
			return nil, none, false, err
		}
		exp = gcache.ExpiresIn(time.Duration(ms) * time.Millisecond)
	} else if pttl, ok := res[4].(int64); ok && pttl > 0 {
		exp = gcache.ExpiresAt(time.Now().Add(time.Duration(pttl) * time.Millisecond))
	}

	switch {
	case res[0] != nil:
		return []byte(res[0].(string)), exp, true, nil
	case res[1] != nil:
		return nil, exp, true, nil
	case res[3] != nil:
		n, err := strconv.ParseInt(res[3].(string), 10, 64)
		if err != nil {
			return nil, none, false, err
		}
		return wire.EncodeCounter(n), exp, true, nil
	}
	return nil, none, false, nil
}

func (c *Conn) Delete(ctx context.Context, container, key string, partial bool) (bool, error) {
	if key == "" {
		return false, gcache.ErrInvalidKey
	}
	k := c.key(container, key)
	if !partial {
		n, err := c.rdb.Del(ctx, k).Result()
		return n > 0, err
	}
	n, err := c.deleteMatching(ctx, escapeGlob(k)+"*")
	return n > 0, err
}

func (c *Conn) Clear(ctx context.Context, container string) error {
	pattern := escapeGlob(c.prefix) + "!!*"
	if container != "" {
		pattern = escapeGlob(c.prefix+keys.ContainerPrefix(container)) + "*"
	}
	_, err := c.deleteMatching(ctx, pattern)
	return err
}

func (c *Conn) deleteMatching(ctx context.Context, pattern string) (int64, error) {
	var (
		cursor  uint64
		removed int64
	)
	for {
		batch, next, err := c.rdb.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return removed, err
		}
		if len(batch) > 0 {
			n, err := c.rdb.Del(ctx, batch...).Result()
			if err != nil {
				return removed, err
			}
			removed += n
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

// incrScript turns the key into a plain, non-expiring counter and adds ARGV[1].
var incrScript = goredis.NewScript(`
redis.call('HDEL', KEYS[1], 'v', 'n', 's')
redis.call('PERSIST', KEYS[1])
return redis.call('HINCRBY', KEYS[1], 'c', ARGV[1])
`)

func (c *Conn) Incr(ctx context.Context, container, key string) (int64, error) {
	return c.add(ctx, container, key, 1)
}

func (c *Conn) Decr(ctx context.Context, container, key string) (int64, error) {
	return c.add(ctx, container, key, -1)
}

func (c *Conn) add(ctx context.Context, container, key string, delta int64) (int64, error) {
	if key == "" {
		return 0, gcache.ErrInvalidKey
	}
	return incrScript.Run(ctx, c.rdb, []string{c.key(container, key)}, delta).Int64()
}

func (c *Conn) GetCounter(ctx context.Context, container, key string) (int64, error) {
	v, ok, err := c.Get(ctx, container, key)
	if err != nil || !ok {
		return 0, err
	}
	return wire.DecodeCounter(v), nil
}

func (c *Conn) ResetCounter(ctx context.Context, container, key string) error {
	_, err := c.Delete(ctx, container, key, false)
	return err
}

// Close releases the underlying redis client only when this conn owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (c *Conn) Close() error {
	if c.closeClient {
		if err := c.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string { return globEscaper.Replace(s) }
