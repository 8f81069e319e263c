// Package nearcache provides gcache.NearCache implementations.
package nearcache

import (
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/gcache"
)

// nullValue stands in for the null marker; ristretto cannot tell a stored
// nil apart from a miss.
type nullValue struct{}

type Ristretto struct {
	c *rc.Cache
}

var _ gcache.NearCache = (*Ristretto)(nil)

type Config struct {
	NumCounters int64 // default 1e5
	MaxCost     int64 // total bytes, default 32 MiB
	BufferItems int64 // default 64
	Metrics     bool
}

func NewRistretto(cfg Config) (*Ristretto, error) {
	if cfg.NumCounters == 0 {
		cfg.NumCounters = 1e5
	}
	if cfg.MaxCost == 0 {
		cfg.MaxCost = 32 << 20
	}
	if cfg.BufferItems == 0 {
		cfg.BufferItems = 64
	}
	if cfg.NumCounters < 0 || cfg.MaxCost < 0 || cfg.BufferItems < 0 {
		return nil, errors.New("nearcache: invalid ristretto config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Ristretto{c: c}, nil
}

func (r *Ristretto) Get(key string) ([]byte, bool) {
	v, ok := r.c.Get(key)
	if !ok {
		return nil, false
	}
	switch b := v.(type) {
	case []byte:
		return b, true
	case nullValue:
		return nil, true
	}
	// self-heal: drop unexpected entry shape
	r.c.Del(key)
	return nil, false
}

// Set is applied asynchronously by ristretto and may be dropped under
// contention; a dropped Set only costs a remote read.
func (r *Ristretto) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		r.c.Del(key)
		return
	}
	if value == nil {
		r.c.SetWithTTL(key, nullValue{}, 1, ttl)
		return
	}
	r.c.SetWithTTL(key, value, int64(len(value))+1, ttl)
}

func (r *Ristretto) Del(key string) { r.c.Del(key) }

func (r *Ristretto) Clear() { r.c.Clear() }

// Wait blocks until buffered writes are applied.
func (r *Ristretto) Wait() { r.c.Wait() }

func (r *Ristretto) Close() {
	r.c.Wait()
	r.c.Close()
}

// Metrics is nil unless Config.Metrics was set.
func (r *Ristretto) Metrics() *rc.Metrics { return r.c.Metrics }
