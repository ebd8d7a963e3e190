// Package retry drives classified, exponentially backed-off execution of
// transport operations.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/af-corp/conduit/internal/classify"
	"github.com/af-corp/conduit/internal/transport"
)

// Policy configures retry behavior.
type Policy struct {
	MaxRetries  int
	BaseBackoff float64 // seconds
	MaxBackoff  float64 // seconds
}

// DefaultPolicy provides sensible defaults.
var DefaultPolicy = Policy{
	MaxRetries:  3,
	BaseBackoff: 1.0,
	MaxBackoff:  60.0,
}

// jitterFraction bounds the random perturbation added to each backoff.
// Strictly additive so synchronized clients never retry early in lockstep.
const jitterFraction = 0.10

// Decision is the per-attempt retry verdict. Never persisted; recomputed
// fresh from the raw error on every attempt.
type Decision struct {
	ShouldRetry    bool
	BackoffSeconds float64
	Classification classify.Classification
}

// Decide classifies an error and computes the backoff for the given attempt.
func (p Policy) Decide(e classify.ErrorData, attempt int) Decision {
	c := classify.Classify(e)
	d := Decision{Classification: c}
	if !c.Retryable() || attempt >= p.MaxRetries {
		return d
	}
	d.ShouldRetry = true
	d.BackoffSeconds = p.backoff(c, attempt)
	return d
}

func (p Policy) backoff(c classify.Classification, attempt int) float64 {
	delay := p.BaseBackoff * math.Pow(2, float64(attempt))
	if c == classify.ClassRateLimit {
		delay *= 2
	}
	delay += delay * jitterFraction * rand.Float64()
	return math.Min(delay, p.MaxBackoff)
}

// Operation is a transport call wrapped by the executor. It returns the
// provider payload on success; failures may be *transport.APIError (carrying
// structured error data) or any other error (normalized to free text).
type Operation func(ctx context.Context) (any, error)

// Executor runs operations under a retry policy.
type Executor struct {
	policy Policy
	logger *slog.Logger

	// sleep is swapped out in tests. Production uses a ctx-aware timer wait.
	sleep func(ctx context.Context, seconds float64) error
}

func NewExecutor(policy Policy, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{policy: policy, logger: logger, sleep: sleepCtx}
}

// Run drives up to maxAttempts attempts of op, capped at the policy's
// MaxRetries+1. Pass maxAttempts <= 0 for the policy default. On success it
// returns (true, payload); on
// terminal failure (false, *classify.FailurePayload) built from the last
// observed error. The backoff wait between attempts is the only place this
// call chain deliberately blocks.
func (x *Executor) Run(ctx context.Context, op Operation, maxAttempts int) (bool, any) {
	// Decide stops retrying at MaxRetries regardless, so attempts beyond
	// MaxRetries+1 would never run; clamping keeps the reported counts
	// matching the attempts actually taken.
	if maxAttempts <= 0 || maxAttempts > x.policy.MaxRetries+1 {
		maxAttempts = x.policy.MaxRetries + 1
	}

	var lastErr classify.ErrorData
	for attempt := 0; attempt < maxAttempts; attempt++ {
		payload, err := op(ctx)
		if err == nil {
			return true, payload
		}

		lastErr = normalize(err)
		decision := x.policy.Decide(lastErr, attempt)

		if decision.Classification == classify.ClassUnknown {
			// Unclassified errors are potential bugs, not transient noise.
			x.logger.Error("unclassified provider error",
				"message", classify.Sanitize(lastErr.Message),
				"status_code", lastErr.StatusCode,
				"code", lastErr.Code,
			)
		}

		if !decision.Classification.Retryable() {
			return false, classify.NewFailurePayload(lastErr, attempt, maxAttempts)
		}
		if !decision.ShouldRetry || attempt == maxAttempts-1 {
			// Retryable classification, but no attempts left.
			break
		}

		x.logger.Warn("retrying after provider error",
			"classification", string(decision.Classification),
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"backoff_seconds", decision.BackoffSeconds,
		)
		if err := x.sleep(ctx, decision.BackoffSeconds); err != nil {
			// Context canceled mid-backoff: surface the last provider error.
			return false, classify.NewFailurePayload(lastErr, attempt, maxAttempts)
		}
	}

	// All attempts exhausted; attempt index pins to maxAttempts.
	return false, classify.NewFailurePayload(lastErr, maxAttempts, maxAttempts)
}

// normalize converts an arbitrary operation error into the tagged error
// model. Transport errors already carry one; anything else becomes free text.
func normalize(err error) classify.ErrorData {
	var apiErr *transport.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Data
	}
	return classify.ErrorData{Message: err.Error()}
}

func sleepCtx(ctx context.Context, seconds float64) error {
	t := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
