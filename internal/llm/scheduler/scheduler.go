// Package scheduler serializes outbound model calls through one process-wide
// FIFO queue with a minimum spacing between call starts.
package scheduler

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts time so pacing can be tested against a simulated clock.
type Clock interface {
	Now() time.Time
	// Sleep suspends for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// DefaultMinGap is the default minimum spacing between call starts.
// Observed workable values are 1000-4000ms depending on provider quotas.
const DefaultMinGap = 1500 * time.Millisecond

type job struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// Scheduler runs enqueued tasks strictly one at a time in submission order.
// It never retries: a task's failure is reported to its submitter and the
// queue moves on. The scheduler is the only shared mutable resource of the
// invocation layer; all mutation goes through Enqueue and Pace.
type Scheduler struct {
	clock  Clock
	minGap time.Duration

	mu        sync.Mutex
	queue     []*job
	running   bool
	started   bool
	lastStart time.Time
}

// New creates a scheduler with the given minimum gap between call starts.
// A nil clock means the wall clock; a non-positive minGap means DefaultMinGap.
func New(minGap time.Duration, clock Clock) *Scheduler {
	if clock == nil {
		clock = realClock{}
	}
	if minGap <= 0 {
		minGap = DefaultMinGap
	}
	return &Scheduler{clock: clock, minGap: minGap}
}

// Enqueue submits fn and blocks until it has run, returning fn's error.
// Tasks run in strict submission order; a queued task is never skipped or
// reordered, even when an earlier task spends time in backoff waits.
func (s *Scheduler) Enqueue(ctx context.Context, fn func(ctx context.Context) error) error {
	j := &job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	s.mu.Lock()
	s.queue = append(s.queue, j)
	if !s.running {
		s.running = true
		go s.drain()
	}
	s.mu.Unlock()

	return <-j.done
}

// Depth reports the number of queued, not-yet-finished tasks.
func (s *Scheduler) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	if s.running {
		n++
	}
	return n
}

// MinGap reports the configured minimum spacing.
func (s *Scheduler) MinGap() time.Duration { return s.minGap }

func (s *Scheduler) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		j := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if err := s.Pace(j.ctx); err != nil {
			j.done <- err
			continue
		}
		j.done <- j.fn(j.ctx)
	}
}

// Pace blocks until the minimum gap since the previous call start has
// elapsed, then stamps the new call start. The drain loop paces every task;
// the invoker additionally paces each retry attempt while it holds the slot,
// so spacing holds across attempts as well as across tasks.
func (s *Scheduler) Pace(ctx context.Context) error {
	s.mu.Lock()
	var wait time.Duration
	if s.started {
		elapsed := s.clock.Now().Sub(s.lastStart)
		if elapsed < s.minGap {
			wait = s.minGap - elapsed
		}
	}
	s.mu.Unlock()

	if wait > 0 {
		if err := s.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.lastStart = s.clock.Now()
	s.started = true
	s.mu.Unlock()
	return nil
}
