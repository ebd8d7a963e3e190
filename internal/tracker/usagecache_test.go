package tracker

import (
	"context"
	"strings"
	"testing"
)

func TestUsageCache_NilClientIsNoOp(t *testing.T) {
	u := NewUsageCache(nil)

	// Must not panic and must not error.
	u.RecordOutcome(&Record{State: StateCompleted, Metadata: map[string]any{MetaTotalTokens: 100}})
	u.RecordOutcome(nil)

	completed, failed, tokens, err := u.DailyCounters(context.Background())
	if err != nil {
		t.Fatalf("DailyCounters: %v", err)
	}
	if completed != 0 || failed != 0 || tokens != 0 {
		t.Errorf("nil client counters = %d/%d/%d, want zeros", completed, failed, tokens)
	}
}

func TestDailyUsageKey(t *testing.T) {
	key := dailyUsageKey("tokens")
	if !strings.HasPrefix(key, "conduit:usage:daily:") {
		t.Errorf("key = %q", key)
	}
	if !strings.HasSuffix(key, ":tokens") {
		t.Errorf("key = %q", key)
	}
}

func TestTracker_DailyUsageRequiresMirror(t *testing.T) {
	// No mirror at all.
	tr := New(nil, nil)
	if _, ok := tr.DailyUsage(context.Background()); ok {
		t.Error("DailyUsage reported ok without a mirror")
	}

	// Mirror constructed but disabled (nil client).
	tr = New(nil, NewUsageCache(nil))
	if _, ok := tr.DailyUsage(context.Background()); ok {
		t.Error("DailyUsage reported ok with a nil-client mirror")
	}
}

func TestUsageCache_Enabled(t *testing.T) {
	var nilCache *UsageCache
	if nilCache.Enabled() {
		t.Error("nil cache reports enabled")
	}
	if NewUsageCache(nil).Enabled() {
		t.Error("nil-client cache reports enabled")
	}
}

func TestTracker_TerminalUpdateTouchesUsageCache(t *testing.T) {
	// A tracker wired with a nil-client cache exercises the mirror path
	// without requiring Redis.
	tr := New(nil, NewUsageCache(nil))
	id := tr.Create(nil)
	if err := tr.Update(id, StateCompleted, map[string]any{MetaTotalTokens: 50}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if s := tr.UsageStats(); s.Completed != 1 {
		t.Errorf("stats = %+v", s)
	}
}
