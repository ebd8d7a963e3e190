package ratelimit

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrSchedulerClosed is returned by Admit after Shutdown.
var ErrSchedulerClosed = errors.New("ratelimit: scheduler closed")

// Config tunes the admission scheduler.
type Config struct {
	RequestsPerMinute float64
	BurstCapacity     float64
	PollInterval      time.Duration
	QueueWarnDepth    int
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	RequestsPerMinute: 60,
	BurstCapacity:     10,
	PollInterval:      50 * time.Millisecond,
	QueueWarnDepth:    10,
}

// Observer receives scheduler state changes, typically a telemetry sink.
// All methods may be called under the scheduler lock and must not block.
type Observer interface {
	QueueDepth(depth int)
	Dispatched(model string, queued bool)
}

// Scheduler throttles outbound calls under a global token budget with
// optional per-model overrides. Callers never block on Admit: a call either
// dispatches immediately on its own goroutine or joins the priority queue,
// which a background loop drains as tokens replenish.
type Scheduler struct {
	mu       sync.Mutex
	global   *bucket
	perModel map[string]*bucket
	queue    callQueue
	seq      uint64
	closed   bool

	cfg      Config
	logger   *slog.Logger
	observer Observer

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewScheduler(cfg Config, logger *slog.Logger, observer Observer) *Scheduler {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultConfig.RequestsPerMinute
	}
	if cfg.BurstCapacity <= 0 {
		cfg.BurstCapacity = DefaultConfig.BurstCapacity
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig.PollInterval
	}
	if cfg.QueueWarnDepth <= 0 {
		cfg.QueueWarnDepth = DefaultConfig.QueueWarnDepth
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		global:   newBucket(cfg.RequestsPerMinute, cfg.BurstCapacity, time.Now()),
		perModel: make(map[string]*bucket),
		cfg:      cfg,
		logger:   logger,
		observer: observer,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.dispatchLoop()
	return s
}

// bucketFor returns the effective budget for a model: its override if one
// is installed, else the global bucket. Caller holds mu.
func (s *Scheduler) bucketFor(model string) *bucket {
	if model != "" {
		if b, ok := s.perModel[model]; ok {
			return b
		}
	}
	return s.global
}

// Admit runs op immediately if the relevant budget has a token, consuming
// one; otherwise it enqueues the call and returns false without blocking.
// The operation always runs on its own goroutine, never on the caller's path.
func (s *Scheduler) Admit(op func(), priority int, model string) (bool, error) {
	now := time.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrSchedulerClosed
	}

	b := s.bucketFor(model)
	b.refill(now)
	if b.available() {
		b.take()
		s.mu.Unlock()
		if s.observer != nil {
			s.observer.Dispatched(model, false)
		}
		go op()
		return true, nil
	}

	s.seq++
	heap.Push(&s.queue, &queuedCall{
		op:         op,
		priority:   priority,
		model:      model,
		enqueuedAt: now,
		seq:        s.seq,
	})
	depth := s.queue.Len()
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.QueueDepth(depth)
	}
	if depth > s.cfg.QueueWarnDepth {
		s.logger.Warn("dispatch queue depth above threshold",
			"depth", depth,
			"threshold", s.cfg.QueueWarnDepth,
		)
	}
	return false, nil
}

// WaitForSlot polls until a token is available on the global budget or the
// timeout elapses. Purely advisory: it consumes nothing and queues nothing.
func (s *Scheduler) WaitForSlot(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		closed := s.closed
		s.global.refill(time.Now())
		free := s.global.available()
		s.mu.Unlock()

		if closed {
			return false
		}
		if free {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}

		wait := s.cfg.PollInterval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-s.stop:
			t.Stop()
			return false
		case <-t.C:
		}
	}
}

// SetModelLimit installs an independent budget for a model. Burst defaults
// to requests_per_minute/6 (minimum 1) when not supplied.
func (s *Scheduler) SetModelLimit(model string, requestsPerMinute float64, burst ...float64) {
	b := requestsPerMinute / 6
	if len(burst) > 0 && burst[0] > 0 {
		b = burst[0]
	}
	if b < 1 {
		b = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.perModel[model] = newBucket(requestsPerMinute, b, time.Now())
	s.logger.Info("model rate limit set",
		"model", model,
		"requests_per_minute", requestsPerMinute,
		"burst_capacity", b,
	)
}

// GetModelLimit returns the effective (requests per minute, burst) for a
// model, falling back to the global budget when no override exists.
func (s *Scheduler) GetModelLimit(model string) (requestsPerMinute, burstCapacity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucketFor(model)
	return b.ratePerSec * 60, b.burst
}

// QueueDepth returns the number of pending queued calls.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// ClearQueue atomically discards all pending calls and returns the count
// removed. Work already dispatched is unaffected.
func (s *Scheduler) ClearQueue() int {
	s.mu.Lock()
	n := s.queue.Len()
	s.queue = nil
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.QueueDepth(0)
	}
	if n > 0 {
		s.logger.Info("dispatch queue cleared", "removed", n)
	}
	return n
}

// Shutdown stops the dispatch loop and joins it, bounded by ctx. Idempotent.
// Admissions after shutdown fail fast with ErrSchedulerClosed.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.stop)
	})

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatchLoop drains the queue as tokens replenish. Each released call runs
// on its own goroutine so a slow operation never stalls the loop.
func (s *Scheduler) dispatchLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.drainReady()
		}
	}
}

func (s *Scheduler) drainReady() {
	now := time.Now()
	for {
		s.mu.Lock()
		if s.queue.Len() == 0 {
			s.mu.Unlock()
			return
		}

		// Peek the head; it is released only if its budget has a token.
		head := s.queue[0]
		b := s.bucketFor(head.model)
		b.refill(now)
		if !b.available() {
			s.mu.Unlock()
			return
		}
		b.take()
		call := heap.Pop(&s.queue).(*queuedCall)
		depth := s.queue.Len()
		s.mu.Unlock()

		if s.observer != nil {
			s.observer.QueueDepth(depth)
			s.observer.Dispatched(call.model, true)
		}
		go call.op()
	}
}
