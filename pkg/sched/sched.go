// Package sched is a small fixed-size worker pool for deferred tasks.
// Hosts use it to push packet handling off the service goroutine; it is
// equally usable standalone.
package sched

import (
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// Task is a unit of deferred work.
type Task func()

// Scheduler runs queued tasks on a fixed set of worker goroutines.
// Construct with New, then Start. Stop drains the queue: every task
// scheduled before Stop returns is executed, none are dropped.
type Scheduler struct {
	workers int

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Task
	started  bool
	stopping bool
	wg       sync.WaitGroup
}

// New creates a scheduler with the given worker count. Zero or negative
// selects one worker per CPU.
func New(workers int) *Scheduler {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers < 1 {
		workers = 1
	}
	s := &Scheduler{workers: workers}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start launches the workers. Starting twice is a no-op; starting after
// Stop resumes with the same worker count.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stopping = false
	s.wg.Add(s.workers)
	for i := 0; i < s.workers; i++ {
		go s.worker()
	}
}

// Schedule queues a task. Tasks queued on a stopped scheduler stay in
// the queue and run after the next Start.
func (s *Scheduler) Schedule(t Task) {
	if t == nil {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, t)
	s.mu.Unlock()
	s.cond.Signal()
}

// Stop drains the queue and joins the workers. All tasks scheduled
// before Stop was called have finished by the time it returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.stopping = true
	s.mu.Unlock()
	s.cond.Broadcast()
	s.wg.Wait()
}

// Running reports whether the workers are active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Pending reports the number of queued, not yet started tasks.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.stopping {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			// stopping and nothing left to drain
			s.mu.Unlock()
			return
		}
		t := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.run(t)
	}
}

func (s *Scheduler) run(t Task) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("scheduled task panicked", zap.Any("panic", r))
		}
	}()
	t()
}
