package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// recordingObserver captures dispatch order; Dispatched is invoked in the
// order calls are released, which is what the ordering tests assert.
type recordingObserver struct {
	mu         sync.Mutex
	dispatched []string
	depths     []int
}

func (o *recordingObserver) QueueDepth(depth int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.depths = append(o.depths, depth)
}

func (o *recordingObserver) Dispatched(model string, queued bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dispatched = append(o.dispatched, model)
}

func (o *recordingObserver) order() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.dispatched...)
}

func newTestScheduler(t *testing.T, cfg Config, obs Observer) *Scheduler {
	t.Helper()
	s := NewScheduler(cfg, nil, obs)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s
}

func TestScheduler_AdmitImmediateWhenTokensAvailable(t *testing.T) {
	s := newTestScheduler(t, Config{RequestsPerMinute: 60, BurstCapacity: 5}, nil)

	ran := make(chan struct{})
	ok, err := s.Admit(func() { close(ran) }, 5, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected immediate dispatch with full bucket")
	}

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("admitted operation never ran")
	}
}

func TestScheduler_QueuesWhenBudgetExhausted(t *testing.T) {
	s := newTestScheduler(t, Config{RequestsPerMinute: 0.01, BurstCapacity: 1}, nil)

	s.mu.Lock()
	s.global.tokens = 0
	s.mu.Unlock()

	ok, err := s.Admit(func() {}, 5, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected call to queue with empty bucket")
	}
	if depth := s.QueueDepth(); depth != 1 {
		t.Errorf("expected queue depth 1, got %d", depth)
	}
}

func TestScheduler_ReleasesInPriorityOrder(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestScheduler(t, Config{RequestsPerMinute: 0.01, BurstCapacity: 1}, obs)

	s.mu.Lock()
	s.global.tokens = 0
	s.mu.Unlock()

	// Tag each queued call by model so the observer records release order.
	for _, c := range []struct {
		prio  int
		model string
	}{{3, "p3"}, {1, "p1"}, {2, "p2"}} {
		if ok, _ := s.Admit(func() {}, c.prio, c.model); ok {
			t.Fatal("call should have queued")
		}
	}

	s.mu.Lock()
	s.global.tokens = 3
	s.mu.Unlock()
	s.drainReady()

	got := obs.order()
	want := []string{"p1", "p2", "p3"}
	if len(got) != len(want) {
		t.Fatalf("released %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("release order = %v, want %v", got, want)
		}
	}
}

func TestScheduler_DrainStopsWhenTokensRunOut(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestScheduler(t, Config{RequestsPerMinute: 0.01, BurstCapacity: 1}, obs)

	s.mu.Lock()
	s.global.tokens = 0
	s.mu.Unlock()

	for i := 0; i < 3; i++ {
		s.Admit(func() {}, i, "m")
	}

	s.mu.Lock()
	s.global.tokens = 1
	s.mu.Unlock()
	s.drainReady()

	if n := len(obs.order()); n != 1 {
		t.Errorf("expected exactly 1 release with 1 token, got %d", n)
	}
	if depth := s.QueueDepth(); depth != 2 {
		t.Errorf("expected 2 calls still queued, got %d", depth)
	}
}

func TestScheduler_ModelOverrideIndependentOfGlobal(t *testing.T) {
	s := newTestScheduler(t, Config{RequestsPerMinute: 60, BurstCapacity: 5}, nil)
	s.SetModelLimit("claude-sonnet", 120)

	// Default burst is rpm/6.
	rpm, burst := s.GetModelLimit("claude-sonnet")
	if rpm != 120 {
		t.Errorf("expected rpm 120, got %f", rpm)
	}
	if burst != 20 {
		t.Errorf("expected default burst 20, got %f", burst)
	}

	// Unknown models fall back to the global budget.
	rpm, burst = s.GetModelLimit("unknown-model")
	if rpm != 60 || burst != 5 {
		t.Errorf("expected global fallback (60, 5), got (%f, %f)", rpm, burst)
	}

	// Draining the global bucket must not affect the override.
	s.mu.Lock()
	s.global.tokens = 0
	s.mu.Unlock()

	ok, err := s.Admit(func() {}, 5, "claude-sonnet")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected model-scoped admit to succeed with empty global bucket")
	}
}

func TestScheduler_ModelBurstFloor(t *testing.T) {
	s := newTestScheduler(t, Config{}, nil)
	s.SetModelLimit("tiny", 3) // 3/6 = 0.5, floored to 1

	_, burst := s.GetModelLimit("tiny")
	if burst != 1 {
		t.Errorf("expected burst floor 1, got %f", burst)
	}
}

func TestScheduler_ClearQueue(t *testing.T) {
	s := newTestScheduler(t, Config{RequestsPerMinute: 0.01, BurstCapacity: 1}, nil)

	s.mu.Lock()
	s.global.tokens = 0
	s.mu.Unlock()

	for i := 0; i < 4; i++ {
		s.Admit(func() {}, i, "")
	}

	if n := s.ClearQueue(); n != 4 {
		t.Errorf("expected 4 removed, got %d", n)
	}
	if depth := s.QueueDepth(); depth != 0 {
		t.Errorf("expected empty queue, got depth %d", depth)
	}
	if n := s.ClearQueue(); n != 0 {
		t.Errorf("expected 0 removed from empty queue, got %d", n)
	}
}

func TestScheduler_ShutdownIsIdempotentAndFailsFast(t *testing.T) {
	s := NewScheduler(Config{}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown failed: %v", err)
	}

	if _, err := s.Admit(func() {}, 5, ""); err != ErrSchedulerClosed {
		t.Errorf("expected ErrSchedulerClosed after shutdown, got %v", err)
	}
}

func TestScheduler_WaitForSlot(t *testing.T) {
	s := newTestScheduler(t, Config{RequestsPerMinute: 60, BurstCapacity: 5, PollInterval: 5 * time.Millisecond}, nil)

	// Token available immediately.
	if !s.WaitForSlot(context.Background(), 100*time.Millisecond) {
		t.Error("expected slot with full bucket")
	}

	// WaitForSlot must not consume tokens.
	s.mu.Lock()
	tokens := s.global.tokens
	s.mu.Unlock()
	if tokens != 5 {
		t.Errorf("WaitForSlot consumed tokens: %f", tokens)
	}

	// Empty bucket with negligible refill: times out false.
	s.mu.Lock()
	s.global.tokens = 0
	s.global.ratePerSec = 0
	s.mu.Unlock()
	start := time.Now()
	if s.WaitForSlot(context.Background(), 30*time.Millisecond) {
		t.Error("expected timeout with empty bucket")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("wait took too long: %v", elapsed)
	}
}

func TestScheduler_BackgroundLoopDrainsQueue(t *testing.T) {
	s := newTestScheduler(t, Config{
		RequestsPerMinute: 6000, // 100 tokens/sec
		BurstCapacity:     1,
		PollInterval:      5 * time.Millisecond,
	}, nil)

	s.mu.Lock()
	s.global.tokens = 0
	s.mu.Unlock()

	ran := make(chan struct{})
	ok, err := s.Admit(func() { close(ran) }, 5, "")
	if err != nil || ok {
		t.Fatalf("expected queued admit, got ok=%v err=%v", ok, err)
	}

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("background dispatcher never released the queued call")
	}
}
