package store

import (
	"time"

	"github.com/unkn0wn-root/gcache"
)

// Sweep removes expired entries and returns how many were evicted.
// Each shard is scanned under its read lock; candidates are re-checked
// under the write lock before removal, so a concurrent overwrite survives.
func (s *Store) Sweep() int {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	start := time.Now()
	now := s.now()
	evicted := 0

	for _, sh := range s.shards {
		var candidates []string

		sh.mu.RLock()
		for k, e := range sh.m {
			expired, err := e.IsExpired(now)
			if err != nil {
				s.log.Error("sweep could not evaluate entry", gcache.Fields{"key": k, "err": err})
				s.hooks.SweepEntryFailed(k, err)
				continue
			}
			if expired {
				candidates = append(candidates, k)
			}
		}
		sh.mu.RUnlock()

		if len(candidates) == 0 {
			continue
		}

		sh.mu.Lock()
		for _, k := range candidates {
			e, ok := sh.m[k]
			if !ok {
				continue
			}
			if expired, err := e.IsExpired(now); err == nil && expired {
				delete(sh.m, k)
				evicted++
			}
		}
		sh.mu.Unlock()
	}

	remaining := s.Len()
	elapsed := time.Since(start)

	s.log.Debug("cache stats", gcache.Fields{
		"count":      remaining,
		"last_count": s.lastCount,
		"increase":   remaining - s.lastCount,
	})
	s.lastCount = remaining

	if evicted > 0 {
		s.log.Info("expired entries evicted", gcache.Fields{
			"evicted":   evicted,
			"remaining": remaining,
			"elapsed":   elapsed.String(),
		})
		s.hooks.SweepCompleted(evicted, remaining, elapsed)
	}
	return evicted
}
