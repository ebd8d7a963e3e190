// Package tracker owns request lifecycle state: an active registry of
// in-flight requests and an append-only history of finished ones. A record
// lives in exactly one of the two at any time.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// State is a request lifecycle state.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether no transition leaves this state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ErrNotFound is returned when an id is absent from the active registry.
var ErrNotFound = errors.New("tracker: request not found")

// Record is the tracked unit. Metadata is opaque to the tracker except for
// the conventional token and cost counters summed by UsageStats.
type Record struct {
	ID        string         `json:"id"`
	State     State          `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// clone returns a deep-enough copy: callers get their own metadata map so
// registry internals are never aliased outside the lock.
func (r *Record) clone() *Record {
	c := *r
	if r.Metadata != nil {
		c.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Tracker maintains the active registry and history log. All mutations are
// serialized; terminal updates move the record from active to history in one
// critical section.
type Tracker struct {
	mu      sync.Mutex
	active  map[string]*Record
	history []*Record

	logger *slog.Logger
	usage  *UsageCache
}

// New creates a tracker. usage may be nil; it mirrors terminal outcomes to
// Redis when set and is fail-open throughout.
func New(logger *slog.Logger, usage *UsageCache) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		active: make(map[string]*Record),
		logger: logger,
		usage:  usage,
	}
}

// Create inserts a new pending record and returns its id.
func (t *Tracker) Create(metadata map[string]any) string {
	now := time.Now().UTC()
	rec := &Record{
		ID:        newID(),
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if len(metadata) > 0 {
		rec.Metadata = make(map[string]any, len(metadata))
		for k, v := range metadata {
			rec.Metadata[k] = v
		}
	}

	t.mu.Lock()
	t.active[rec.ID] = rec
	t.mu.Unlock()

	t.logger.Debug("request created", "request_id", rec.ID)
	return rec.ID
}

// Update merges result metadata into the record and sets its state. When the
// new state is terminal the record atomically leaves the active registry and
// joins history. Unknown ids return ErrNotFound.
func (t *Tracker) Update(id string, state State, metadata map[string]any) error {
	t.mu.Lock()
	rec, ok := t.active[id]
	if !ok {
		t.mu.Unlock()
		return ErrNotFound
	}

	if len(metadata) > 0 && rec.Metadata == nil {
		rec.Metadata = make(map[string]any, len(metadata))
	}
	for k, v := range metadata {
		rec.Metadata[k] = v
	}
	rec.State = state
	rec.UpdatedAt = time.Now().UTC()

	var finished *Record
	if state.Terminal() {
		delete(t.active, id)
		t.history = append(t.history, rec)
		finished = rec
	}
	t.mu.Unlock()

	if finished != nil {
		t.logger.Info("request finished",
			"request_id", id,
			"state", string(state),
		)
		if t.usage != nil {
			t.usage.RecordOutcome(finished)
		}
	}
	return nil
}

// Cancel removes the record from the active registry without recording
// history. It reports whether a record was found. Work already dispatched is
// not interrupted; cancellation is bookkeeping only.
func (t *Tracker) Cancel(id string) bool {
	t.mu.Lock()
	_, ok := t.active[id]
	if ok {
		delete(t.active, id)
	}
	t.mu.Unlock()

	if ok {
		t.logger.Info("request canceled", "request_id", id)
	}
	return ok
}

// Get returns a copy of the record, searching the active registry first and
// then history.
func (t *Tracker) Get(id string) (*Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.active[id]; ok {
		return rec.clone(), nil
	}
	for i := len(t.history) - 1; i >= 0; i-- {
		if t.history[i].ID == id {
			return t.history[i].clone(), nil
		}
	}
	return nil, ErrNotFound
}

// ListActive returns copies of all non-terminal records, newest first.
func (t *Tracker) ListActive() []*Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Record, 0, len(t.active))
	for _, rec := range t.active {
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// ActiveCount returns the number of in-flight requests.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// DailyUsage reads today's fleet-wide counters from the Redis mirror. ok is
// false when no mirror is configured or the read fails; in-memory UsageStats
// remain available either way.
func (t *Tracker) DailyUsage(ctx context.Context) (DailyUsage, bool) {
	if !t.usage.Enabled() {
		return DailyUsage{}, false
	}
	completed, failed, tokens, err := t.usage.DailyCounters(ctx)
	if err != nil {
		t.logger.Warn("daily usage readback failed", "error", err)
		return DailyUsage{}, false
	}
	return DailyUsage{Completed: completed, Failed: failed, Tokens: tokens}, true
}
