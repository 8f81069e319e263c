// Package sched runs a function on a fixed interval, at most one invocation at a time.
package sched

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Task is a repeating background job. A tick that fires while the previous
// run is still in progress is skipped, not queued.
type Task struct {
	fn      func()
	onPanic func(error)

	running atomic.Bool
	ticker  *time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// Start schedules fn every interval. onPanic, if set, receives a recovered
// panic from fn; the schedule keeps running either way.
func Start(interval time.Duration, fn func(), onPanic func(error)) *Task {
	t := &Task{
		fn:      fn,
		onPanic: onPanic,
		ticker:  time.NewTicker(interval),
		stopCh:  make(chan struct{}),
	}
	t.wg.Add(1)
	go t.loop()
	return t
}

func (t *Task) loop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.ticker.C:
			t.Run()
		case <-t.stopCh:
			return
		}
	}
}

// Run invokes fn now unless a run is already in progress.
// It reports whether fn was invoked.
func (t *Task) Run() (ran bool) {
	if !t.running.CompareAndSwap(false, true) {
		return false
	}
	defer t.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			if t.onPanic != nil {
				t.onPanic(fmt.Errorf("sched: task panicked: %v", r))
			}
		}
	}()
	ran = true
	t.fn()
	return ran
}

// Running reports whether an invocation is in progress.
func (t *Task) Running() bool { return t.running.Load() }

// Stop halts the schedule and waits for the loop goroutine to exit.
// A run already in progress finishes first. Safe to call more than once.
func (t *Task) Stop() {
	t.once.Do(func() {
		close(t.stopCh)
		t.ticker.Stop()
		t.wg.Wait()
	})
}
