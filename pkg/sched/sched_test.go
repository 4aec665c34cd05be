package sched

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestStopDrainsEveryScheduledTask(t *testing.T) {
	s := New(4)
	s.Start()
	var counter atomic.Int64
	const n = 1000
	for i := 0; i < n; i++ {
		s.Schedule(func() { counter.Add(1) })
	}
	s.Stop()
	if got := counter.Load(); got != n {
		t.Fatalf("ran %d of %d tasks", got, n)
	}
	if s.Pending() != 0 {
		t.Fatalf("queue not drained: %d left", s.Pending())
	}
}

func TestStopImmediatelyAfterScheduleBurst(t *testing.T) {
	// Stop racing a burst of schedules must still run everything queued
	// before Stop returns.
	s := New(1)
	s.Start()
	var counter atomic.Int64
	for i := 0; i < 100; i++ {
		s.Schedule(func() { counter.Add(1) })
	}
	s.Stop()
	if got := counter.Load(); got != 100 {
		t.Fatalf("ran %d of 100 tasks", got)
	}
}

func TestStartStopIdempotentAndRestartable(t *testing.T) {
	s := New(2)
	s.Stop() // stop before start is a no-op
	s.Start()
	s.Start()
	if !s.Running() {
		t.Fatalf("not running after start")
	}
	s.Stop()
	s.Stop()
	if s.Running() {
		t.Fatalf("still running after stop")
	}

	// tasks queued while stopped run after restart
	done := make(chan struct{})
	s.Schedule(func() { close(done) })
	if s.Pending() != 1 {
		t.Fatalf("queued task not pending")
	}
	s.Start()
	<-done
	s.Stop()
}

func TestPanickingTaskDoesNotKillWorker(t *testing.T) {
	s := New(1)
	s.Start()
	var wg sync.WaitGroup
	wg.Add(1)
	s.Schedule(func() { panic("task bug") })
	s.Schedule(func() { wg.Done() })
	wg.Wait()
	s.Stop()
}

func TestDefaultWorkerCount(t *testing.T) {
	if New(0).workers < 1 {
		t.Fatalf("defaulted to zero workers")
	}
	if New(-5).workers < 1 {
		t.Fatalf("negative count not clamped")
	}
}
