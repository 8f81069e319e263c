// Package promhooks exports gcache events as Prometheus metrics.
package promhooks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/gcache"
)

const namespace = "gcache"

// Hooks counts events; it never blocks and is safe to wrap in asynchook.
type Hooks struct {
	sweeps        prometheus.Counter
	evicted       prometheus.Counter
	sweepFailures prometheus.Counter
	sweepDuration prometheus.Histogram
	remaining     prometheus.Gauge
	expiredReads  prometheus.Counter
	poolRefills   *prometheus.CounterVec
	poolAvailable prometheus.Gauge
	retries       *prometheus.CounterVec
	asyncFailures *prometheus.CounterVec
}

var _ gcache.Hooks = (*Hooks)(nil)

// New builds the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Hooks, error) {
	h := &Hooks{
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Sweep passes that evicted at least one entry",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_total",
			Help:      "Expired entries removed by the sweep",
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_entry_failures_total",
			Help:      "Entries the sweep could not evaluate",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of sweep passes that evicted entries",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
		remaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entries",
			Help:      "Entries left after the last evicting sweep",
		}),
		expiredReads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_reads_total",
			Help:      "Reads that hit an expired entry",
		}),
		poolRefills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_refills_total",
			Help:      "Entry pool refill passes by result",
		}, []string{"result"}),
		poolAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_available",
			Help:      "Pooled entries available after the last refill",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Remote calls retried by operation",
		}, []string{"op"}),
		asyncFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "async_failures_total",
			Help:      "Fire-and-forget operations that failed by operation",
		}, []string{"op"}),
	}

	for _, c := range []prometheus.Collector{
		h.sweeps, h.evicted, h.sweepFailures, h.sweepDuration, h.remaining,
		h.expiredReads, h.poolRefills, h.poolAvailable, h.retries, h.asyncFailures,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// MustNew is New that panics on registration errors.
func MustNew(reg prometheus.Registerer) *Hooks {
	h, err := New(reg)
	if err != nil {
		panic(err)
	}
	return h
}

func (h *Hooks) SweepCompleted(evicted, remaining int, elapsed time.Duration) {
	h.sweeps.Inc()
	h.evicted.Add(float64(evicted))
	h.sweepDuration.Observe(elapsed.Seconds())
	h.remaining.Set(float64(remaining))
}

func (h *Hooks) SweepEntryFailed(string, error) { h.sweepFailures.Inc() }
func (h *Hooks) ExpiredRead(string)             { h.expiredReads.Inc() }

func (h *Hooks) PoolRefilled(_, available int) {
	h.poolRefills.WithLabelValues("ok").Inc()
	h.poolAvailable.Set(float64(available))
}

func (h *Hooks) PoolRefillFailed(error) { h.poolRefills.WithLabelValues("failed").Inc() }

func (h *Hooks) RetryAttempt(op string, _ int, _ error) { h.retries.WithLabelValues(op).Inc() }

func (h *Hooks) AsyncFailed(op, _ string, _ error) { h.asyncFailures.WithLabelValues(op).Inc() }
