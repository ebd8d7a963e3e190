package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// UsageCache mirrors terminal request outcomes into Redis under day-scoped
// counters, so usage survives restarts and can be shared across instances.
// Purely additive: the in-memory stats remain the source of truth for this
// process, and every Redis failure is swallowed.
type UsageCache struct {
	rdb *redis.Client
}

// NewUsageCache creates a usage cache. If rdb is nil, all writes are no-ops.
func NewUsageCache(rdb *redis.Client) *UsageCache {
	return &UsageCache{rdb: rdb}
}

// Enabled reports whether a Redis client backs the mirror.
func (u *UsageCache) Enabled() bool {
	return u != nil && u.rdb != nil
}

// DailyUsage is the fleet-wide readback of today's mirrored counters.
type DailyUsage struct {
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Tokens    int64 `json:"tokens"`
}

func dailyUsageKey(field string) string {
	day := time.Now().UTC().Format("2006-01-02")
	return fmt.Sprintf("conduit:usage:daily:%s:%s", day, field)
}

// RecordOutcome increments the day's counters for a finished record.
func (u *UsageCache) RecordOutcome(rec *Record) {
	if u.rdb == nil || rec == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pipe := u.rdb.Pipeline()
	pipe.Incr(ctx, dailyUsageKey(string(rec.State)))
	if tokens := numericField(rec.Metadata, MetaTotalTokens); tokens > 0 {
		pipe.IncrBy(ctx, dailyUsageKey("tokens"), tokens)
	}
	if cost := floatField(rec.Metadata, MetaCostUSD); cost > 0 {
		pipe.IncrByFloat(ctx, dailyUsageKey("cost_usd"), cost)
	}
	// Counters expire after the day rolls over, with an hour of slack.
	now := time.Now().UTC()
	endOfDay := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	pipe.Expire(ctx, dailyUsageKey(string(rec.State)), endOfDay.Sub(now)+time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		// Fail open; in-memory stats are authoritative.
		return
	}
}

// DailyCounters reads back today's counters. Missing keys read as zero.
func (u *UsageCache) DailyCounters(ctx context.Context) (completed, failed, tokens int64, err error) {
	if u.rdb == nil {
		return 0, 0, 0, nil
	}
	for _, f := range []struct {
		field string
		dst   *int64
	}{
		{string(StateCompleted), &completed},
		{string(StateFailed), &failed},
		{"tokens", &tokens},
	} {
		v, getErr := u.rdb.Get(ctx, dailyUsageKey(f.field)).Int64()
		if getErr != nil && getErr != redis.Nil {
			return 0, 0, 0, getErr
		}
		*f.dst = v
	}
	return completed, failed, tokens, nil
}
