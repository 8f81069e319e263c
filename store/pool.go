package store

import (
	"time"

	"github.com/unkn0wn-root/gcache"
	"github.com/unkn0wn-root/gcache/internal/sched"
)

const (
	DefaultPoolTarget         = 5000
	DefaultPoolRefillInterval = 2 * time.Second
)

// Allocator hands out blank entries for new keys.
type Allocator interface {
	Acquire() *Entry
}

// NaiveAllocator allocates every entry on demand.
type NaiveAllocator struct{}

func (NaiveAllocator) Acquire() *Entry { return new(Entry) }

type PoolOptions struct {
	Target         int           // default 5000
	RefillInterval time.Duration // default 2s
	Logger         gcache.Logger
	Hooks          gcache.Hooks
}

// Pool keeps up to Target pre-built entries ready. Acquire never blocks:
// an empty pool falls back to a fresh allocation and the next refill tops it up.
type Pool struct {
	bag    chan *Entry
	target int
	task   *sched.Task

	log   gcache.Logger
	hooks gcache.Hooks

	alloc func() *Entry
}

func NewPool(opts PoolOptions) *Pool {
	p := &Pool{
		target: coalesce(opts.Target, DefaultPoolTarget),
		log:    coalesce[gcache.Logger](opts.Logger, gcache.NopLogger{}),
		hooks:  coalesce[gcache.Hooks](opts.Hooks, gcache.NopHooks{}),
		alloc:  func() *Entry { return new(Entry) },
	}
	if p.target < 0 {
		p.target = 0
	}
	p.bag = make(chan *Entry, p.target)
	p.fill()

	p.task = sched.Start(coalesce(opts.RefillInterval, DefaultPoolRefillInterval), p.refill, func(err error) {
		p.log.Error("entry pool refill failed", gcache.Fields{"err": err})
		p.hooks.PoolRefillFailed(err)
	})
	return p
}

func (p *Pool) Acquire() *Entry {
	select {
	case e := <-p.bag:
		return e
	default:
		return p.alloc()
	}
}

// Available is the number of entries ready to hand out.
func (p *Pool) Available() int { return len(p.bag) }

func (p *Pool) Target() int { return p.target }

// Refill tops the pool up now. It returns false if a refill is already running.
func (p *Pool) Refill() bool { return p.task.Run() }

func (p *Pool) Close() { p.task.Stop() }

func (p *Pool) refill() {
	added := p.fill()
	if added > 0 {
		p.log.Debug("entry pool refilled", gcache.Fields{"added": added, "available": len(p.bag)})
		p.hooks.PoolRefilled(added, len(p.bag))
	}
}

func (p *Pool) fill() int {
	deficit := p.target - len(p.bag)
	added := 0
	for i := 0; i < deficit; i++ {
		select {
		case p.bag <- p.alloc():
			added++
		default:
			return added
		}
	}
	return added
}

func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
