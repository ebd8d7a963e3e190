// Package dispatch wires the lifecycle tracker, admission scheduler, and
// retry executor into a single call path: create record, admit, execute
// with retries, finalize.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/af-corp/conduit/internal/classify"
	"github.com/af-corp/conduit/internal/config"
	"github.com/af-corp/conduit/internal/ratelimit"
	"github.com/af-corp/conduit/internal/retry"
	"github.com/af-corp/conduit/internal/tracker"
	"github.com/af-corp/conduit/internal/transport"
)

// ErrUnknownModel is returned when no route exists for the requested model.
var ErrUnknownModel = errors.New("dispatch: unknown model")

// Telemetry receives dispatch outcomes. All methods must be non-blocking;
// a nil Telemetry disables reporting.
type Telemetry interface {
	RequestFinished(model, state string, seconds float64)
	TokensCounted(model string, prompt, completion int64)
	CostAccrued(model string, usd float64)
}

// Service is the orchestration layer over the core components.
type Service struct {
	tracker   *tracker.Tracker
	scheduler *ratelimit.Scheduler
	executor  *retry.Executor
	registry  *transport.Registry
	models    *config.ModelsConfig
	logger    *slog.Logger
	telemetry Telemetry
}

func NewService(
	tr *tracker.Tracker,
	sched *ratelimit.Scheduler,
	exec *retry.Executor,
	registry *transport.Registry,
	models *config.ModelsConfig,
	logger *slog.Logger,
	tel Telemetry,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		tracker:   tr,
		scheduler: sched,
		executor:  exec,
		registry:  registry,
		models:    models,
		logger:    logger,
		telemetry: tel,
	}
}

// Metadata keys the service writes beyond the tracker's conventional set.
const (
	metaProvider = "provider"
	metaResult   = "result"
	metaFailure  = "failure"
	metaError    = "error_type"
)

// Dispatch admits a request for execution. It returns the tracking id and
// whether the call ran immediately or was queued behind the rate limit. The
// caller never blocks on the remote call itself; results land on the record.
func (s *Service) Dispatch(ctx context.Context, req *transport.Request, priority int) (id string, ranImmediately bool, err error) {
	route, ok := s.models.Route(req.Model)
	if !ok {
		return "", false, fmt.Errorf("%w: %s", ErrUnknownModel, req.Model)
	}
	client, ok := s.registry.Get(route.Provider)
	if !ok {
		return "", false, fmt.Errorf("dispatch: provider %q not configured", route.Provider)
	}

	alias := req.Model
	req.Model = route.Model

	id = s.tracker.Create(map[string]any{
		tracker.MetaModel: alias,
		metaProvider:      client.Name(),
	})

	// The operation outlives the caller's request context; only its values
	// (request id, auth identity) carry across.
	opCtx := context.WithoutCancel(ctx)
	op := func() { s.execute(opCtx, id, alias, client, req) }

	ranImmediately, err = s.scheduler.Admit(op, priority, alias)
	if err != nil {
		s.tracker.Cancel(id)
		return "", false, err
	}

	s.logger.Info("request admitted",
		"request_id", id,
		"model", alias,
		"priority", priority,
		"ran_immediately", ranImmediately,
	)
	return id, ranImmediately, nil
}

// execute runs the transport call under the retry policy and finalizes the
// record. Runs on the goroutine the scheduler dispatched.
func (s *Service) execute(ctx context.Context, id, alias string, client transport.Client, req *transport.Request) {
	start := time.Now()
	if err := s.tracker.Update(id, tracker.StateProcessing, nil); err != nil {
		// Canceled between admission and dispatch; nothing to do.
		s.logger.Debug("request gone before dispatch", "request_id", id)
		return
	}

	ok, payload := s.executor.Run(ctx, func(ctx context.Context) (any, error) {
		resp, err := client.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		return resp, nil
	}, 0)

	elapsed := time.Since(start).Seconds()
	if ok {
		s.finishCompleted(id, alias, payload.(*transport.Response), elapsed)
		return
	}
	s.finishFailed(id, alias, payload.(*classify.FailurePayload), elapsed)
}

func (s *Service) finishCompleted(id, alias string, resp *transport.Response, elapsed float64) {
	prompt := int64(resp.Usage.PromptTokens)
	completion := int64(resp.Usage.CompletionTokens)
	cost := s.models.Cost(alias, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	meta := map[string]any{
		tracker.MetaPromptTokens:     prompt,
		tracker.MetaCompletionTokens: completion,
		tracker.MetaTotalTokens:      prompt + completion,
		tracker.MetaCostUSD:          cost,
		metaResult:                   resp,
	}
	if err := s.tracker.Update(id, tracker.StateCompleted, meta); err != nil {
		s.logger.Warn("completed request vanished from registry", "request_id", id)
		return
	}

	s.logger.Info("request completed",
		"request_id", id,
		"model", alias,
		"total_tokens", prompt+completion,
		"cost_usd", cost,
		"duration_seconds", elapsed,
	)
	if s.telemetry != nil {
		s.telemetry.RequestFinished(alias, string(tracker.StateCompleted), elapsed)
		s.telemetry.TokensCounted(alias, prompt, completion)
		s.telemetry.CostAccrued(alias, cost)
	}
}

func (s *Service) finishFailed(id, alias string, failure *classify.FailurePayload, elapsed float64) {
	meta := map[string]any{
		metaFailure: failure,
	}
	if failure.Details != nil {
		meta[metaError] = string(failure.Details.Type)
	}
	if err := s.tracker.Update(id, tracker.StateFailed, meta); err != nil {
		s.logger.Warn("failed request vanished from registry", "request_id", id)
		return
	}

	s.logger.Warn("request failed",
		"request_id", id,
		"model", alias,
		"error", failure.Error,
		"attempts", failure.Retry.Attempt,
		"duration_seconds", elapsed,
	)
	if s.telemetry != nil {
		s.telemetry.RequestFinished(alias, string(tracker.StateFailed), elapsed)
	}
}

// Get, ListActive, Cancel, and UsageStats pass through to the tracker.

func (s *Service) Get(id string) (*tracker.Record, error) { return s.tracker.Get(id) }

func (s *Service) ListActive() []*tracker.Record { return s.tracker.ListActive() }

func (s *Service) Cancel(id string) bool { return s.tracker.Cancel(id) }

func (s *Service) UsageStats() tracker.UsageStats { return s.tracker.UsageStats() }

func (s *Service) DailyUsage(ctx context.Context) (tracker.DailyUsage, bool) {
	return s.tracker.DailyUsage(ctx)
}

// Scheduler pass-throughs for the admin surface.

func (s *Service) QueueDepth() int { return s.scheduler.QueueDepth() }

func (s *Service) ClearQueue() int { return s.scheduler.ClearQueue() }

func (s *Service) SetModelLimit(model string, rpm float64, burst ...float64) {
	s.scheduler.SetModelLimit(model, rpm, burst...)
}

func (s *Service) GetModelLimit(model string) (rpm, burst float64) {
	return s.scheduler.GetModelLimit(model)
}
