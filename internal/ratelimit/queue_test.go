package ratelimit

import (
	"container/heap"
	"testing"
	"time"
)

func TestCallQueue_PriorityOrder(t *testing.T) {
	now := time.Now()
	q := &callQueue{}
	for i, prio := range []int{3, 1, 2} {
		heap.Push(q, &queuedCall{
			priority:   prio,
			enqueuedAt: now.Add(time.Duration(i) * time.Millisecond),
			seq:        uint64(i),
		})
	}

	var got []int
	for q.Len() > 0 {
		got = append(got, heap.Pop(q).(*queuedCall).priority)
	}
	want := []int{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pop order = %v, want %v", got, want)
		}
	}
}

func TestCallQueue_TimestampBreaksPriorityTies(t *testing.T) {
	now := time.Now()
	q := &callQueue{}
	heap.Push(q, &queuedCall{priority: 1, enqueuedAt: now.Add(time.Second), seq: 0, model: "late"})
	heap.Push(q, &queuedCall{priority: 1, enqueuedAt: now, seq: 1, model: "early"})

	if got := heap.Pop(q).(*queuedCall).model; got != "early" {
		t.Errorf("expected earlier timestamp first, got %s", got)
	}
}

func TestCallQueue_SeqBreaksFullTies(t *testing.T) {
	now := time.Now()
	q := &callQueue{}
	heap.Push(q, &queuedCall{priority: 1, enqueuedAt: now, seq: 2, model: "second"})
	heap.Push(q, &queuedCall{priority: 1, enqueuedAt: now, seq: 1, model: "first"})

	if got := heap.Pop(q).(*queuedCall).model; got != "first" {
		t.Errorf("expected insertion order on full tie, got %s", got)
	}
}
