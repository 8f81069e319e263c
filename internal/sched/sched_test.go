package sched

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTaskRunsOnInterval(t *testing.T) {
	var n atomic.Int64
	task := Start(5*time.Millisecond, func() { n.Inc() }, nil)
	defer task.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for n.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("task ran %d times, want >= 3", n.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRunIsReentrancyGuarded(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var calls atomic.Int64

	task := Start(time.Hour, func() {
		calls.Inc()
		close(entered)
		<-release
	}, nil)
	defer task.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		task.Run()
	}()
	<-entered

	if !task.Running() {
		t.Fatalf("expected task to report running")
	}
	if task.Run() {
		t.Fatalf("second Run must be skipped while first is in progress")
	}
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("calls=%d want 1", calls.Load())
	}
	if task.Running() {
		t.Fatalf("running flag must clear after run")
	}
}

func TestPanicIsRecoveredAndScheduleContinues(t *testing.T) {
	var panics, runs atomic.Int64
	task := Start(time.Hour, func() {
		if runs.Inc() == 1 {
			panic("boom")
		}
	}, func(err error) {
		if err == nil {
			t.Errorf("nil panic error")
		}
		panics.Inc()
	})
	defer task.Stop()

	if !task.Run() {
		t.Fatalf("first Run should execute")
	}
	if !task.Run() {
		t.Fatalf("second Run should execute after a recovered panic")
	}
	if panics.Load() != 1 || runs.Load() != 2 {
		t.Fatalf("panics=%d runs=%d", panics.Load(), runs.Load())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	task := Start(time.Millisecond, func() {}, nil)
	task.Stop()
	task.Stop()
}
