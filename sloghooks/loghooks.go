// Package sloghooks reports gcache events through log/slog, with sampling
// for the high-volume ones and storage keys redacted by default.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/gcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	ExpiredReadEvery  uint64
	RetryAttemptEvery uint64
	PoolRefilledEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	expiredCtr atomic.Uint64
	retryCtr   atomic.Uint64
	refillCtr  atomic.Uint64
}

var _ gcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SweepCompleted(evicted, remaining int, elapsed time.Duration) {
	if h.l == nil {
		return
	}
	h.l.Info("gcache.sweep_completed",
		"evicted", evicted,
		"remaining", remaining,
		"elapsed", elapsed)
}

func (h *Hooks) SweepEntryFailed(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("gcache.sweep_entry_failed",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) ExpiredRead(storageKey string) {
	if h.l == nil || !sample(h.opts.ExpiredReadEvery, &h.expiredCtr) {
		return
	}
	h.l.Debug("gcache.expired_read", "key", h.redact(storageKey))
}

func (h *Hooks) PoolRefilled(added, available int) {
	if h.l == nil || !sample(h.opts.PoolRefilledEvery, &h.refillCtr) {
		return
	}
	h.l.Debug("gcache.pool_refilled",
		"added", added,
		"available", available)
}

func (h *Hooks) PoolRefillFailed(err error) {
	if h.l == nil {
		return
	}
	h.l.Error("gcache.pool_refill_failed", "err", err)
}

func (h *Hooks) RetryAttempt(op string, attempt int, err error) {
	if h.l == nil || !sample(h.opts.RetryAttemptEvery, &h.retryCtr) {
		return
	}
	h.l.Warn("gcache.retry_attempt",
		"op", op,
		"attempt", attempt,
		"err", err)
}

func (h *Hooks) AsyncFailed(op, key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("gcache.async_failed",
		"op", op,
		"key", h.redact(key),
		"err", err)
}
