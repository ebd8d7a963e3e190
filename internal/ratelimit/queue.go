package ratelimit

import (
	"container/heap"
	"time"
)

// queuedCall is a deferred unit of work. Immutable once enqueued; consumed
// exactly once by the dispatcher or discarded by ClearQueue.
type queuedCall struct {
	op         func()
	priority   int // lower value is served first
	model      string
	enqueuedAt time.Time
	seq        uint64 // insertion order, breaks (priority, time) ties
}

// callQueue orders calls by (priority asc, enqueue time asc, seq asc).
type callQueue []*queuedCall

func (q callQueue) Len() int { return len(q) }

func (q callQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	if !q[i].enqueuedAt.Equal(q[j].enqueuedAt) {
		return q[i].enqueuedAt.Before(q[j].enqueuedAt)
	}
	return q[i].seq < q[j].seq
}

func (q callQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *callQueue) Push(x any) { *q = append(*q, x.(*queuedCall)) }

func (q *callQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

var _ heap.Interface = (*callQueue)(nil)
