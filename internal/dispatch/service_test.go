package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/af-corp/conduit/internal/classify"
	"github.com/af-corp/conduit/internal/config"
	"github.com/af-corp/conduit/internal/ratelimit"
	"github.com/af-corp/conduit/internal/retry"
	"github.com/af-corp/conduit/internal/tracker"
	"github.com/af-corp/conduit/internal/transport"
)

type fakeClient struct {
	name  string
	calls int
	do    func(attempt int) (*transport.Response, error)
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	f.calls++
	return f.do(f.calls)
}

func (f *fakeClient) ListModels(ctx context.Context) ([]transport.ModelInfo, error) {
	return nil, nil
}

func testModels() *config.ModelsConfig {
	return &config.ModelsConfig{
		Models: map[string]config.ModelRoute{
			"sonnet": {Provider: "anthropic", Model: "claude-sonnet-4-5"},
		},
		Pricing: map[string]config.PriceEntry{
			"sonnet": {Input: 3.0, Output: 15.0}, // USD per million tokens
		},
	}
}

func newTestService(t *testing.T, client *fakeClient) *Service {
	t.Helper()

	registry := transport.NewRegistry()
	registry.Register("anthropic", client)

	sched := ratelimit.NewScheduler(ratelimit.Config{
		RequestsPerMinute: 6000,
		BurstCapacity:     10,
		PollInterval:      5 * time.Millisecond,
	}, nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		sched.Shutdown(ctx)
	})

	exec := retry.NewExecutor(retry.Policy{MaxRetries: 3, BaseBackoff: 0.001, MaxBackoff: 0.01}, nil)
	return NewService(tracker.New(nil, nil), sched, exec, registry, testModels(), nil, nil)
}

// awaitTerminal polls until the record reaches a terminal state.
func awaitTerminal(t *testing.T, s *Service, id string) *tracker.Record {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := s.Get(id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		if rec.State.Terminal() {
			return rec
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("request %s never reached a terminal state", id)
	return nil
}

func TestService_DispatchCompletesAndRecordsUsage(t *testing.T) {
	client := &fakeClient{name: "anthropic", do: func(int) (*transport.Response, error) {
		return &transport.Response{
			Content: "hello",
			Usage:   transport.Usage{PromptTokens: 1000, CompletionTokens: 500},
		}, nil
	}}
	s := newTestService(t, client)

	id, _, err := s.Dispatch(context.Background(), &transport.Request{Model: "sonnet"}, 5)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !tracker.ValidID(id) {
		t.Fatalf("malformed id %q", id)
	}

	rec := awaitTerminal(t, s, id)
	if rec.State != tracker.StateCompleted {
		t.Fatalf("state = %s, want completed", rec.State)
	}
	if got := rec.Metadata[tracker.MetaTotalTokens]; got != int64(1500) {
		t.Errorf("total tokens = %v, want 1500", got)
	}
	// 1000 in at $3/M + 500 out at $15/M = $0.0105
	cost, _ := rec.Metadata[tracker.MetaCostUSD].(float64)
	if cost < 0.0104 || cost > 0.0106 {
		t.Errorf("cost = %f, want 0.0105", cost)
	}

	stats := s.UsageStats()
	if stats.Completed != 1 || stats.TotalTokens != 1500 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestService_DispatchRetriesTransientFailure(t *testing.T) {
	client := &fakeClient{name: "anthropic", do: func(attempt int) (*transport.Response, error) {
		if attempt <= 2 {
			return nil, &transport.APIError{Data: classify.ErrorData{StatusCode: 503}}
		}
		return &transport.Response{Usage: transport.Usage{PromptTokens: 10, CompletionTokens: 5}}, nil
	}}
	s := newTestService(t, client)

	id, _, err := s.Dispatch(context.Background(), &transport.Request{Model: "sonnet"}, 5)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	rec := awaitTerminal(t, s, id)
	if rec.State != tracker.StateCompleted {
		t.Fatalf("state = %s, want completed after retries", rec.State)
	}
	if client.calls != 3 {
		t.Errorf("provider called %d times, want 3", client.calls)
	}
}

func TestService_DispatchNonRetryableFails(t *testing.T) {
	client := &fakeClient{name: "anthropic", do: func(int) (*transport.Response, error) {
		return nil, &transport.APIError{Data: classify.ErrorData{StatusCode: 401}}
	}}
	s := newTestService(t, client)

	id, _, err := s.Dispatch(context.Background(), &transport.Request{Model: "sonnet"}, 5)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	rec := awaitTerminal(t, s, id)
	if rec.State != tracker.StateFailed {
		t.Fatalf("state = %s, want failed", rec.State)
	}
	if client.calls != 1 {
		t.Errorf("authentication failures must not retry, got %d calls", client.calls)
	}
	if rec.Metadata[metaError] != string(classify.ClassAuthentication) {
		t.Errorf("error_type = %v, want authentication", rec.Metadata[metaError])
	}
	failure, ok := rec.Metadata[metaFailure].(*classify.FailurePayload)
	if !ok {
		t.Fatalf("failure metadata type = %T", rec.Metadata[metaFailure])
	}
	if failure.Retry.WillRetry {
		t.Error("terminal failure must report will_retry=false")
	}
}

func TestService_DispatchUnknownModel(t *testing.T) {
	s := newTestService(t, &fakeClient{name: "anthropic", do: func(int) (*transport.Response, error) {
		return nil, errors.New("unreachable")
	}})

	_, _, err := s.Dispatch(context.Background(), &transport.Request{Model: "nonexistent"}, 5)
	if !errors.Is(err, ErrUnknownModel) {
		t.Errorf("expected ErrUnknownModel, got %v", err)
	}
	if len(s.ListActive()) != 0 {
		t.Error("rejected dispatch left an active record behind")
	}
}

func TestService_CancelBeforeDispatchSkipsExecution(t *testing.T) {
	client := &fakeClient{name: "anthropic", do: func(int) (*transport.Response, error) {
		return &transport.Response{}, nil
	}}

	registry := transport.NewRegistry()
	registry.Register("anthropic", client)
	sched := ratelimit.NewScheduler(ratelimit.Config{RequestsPerMinute: 0.01, BurstCapacity: 1, PollInterval: 5 * time.Millisecond}, nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		sched.Shutdown(ctx)
	})
	exec := retry.NewExecutor(retry.DefaultPolicy, nil)
	s := NewService(tracker.New(nil, nil), sched, exec, registry, testModels(), nil, nil)

	// Consume the single burst token so the next dispatch queues.
	if _, _, err := s.Dispatch(context.Background(), &transport.Request{Model: "sonnet"}, 5); err != nil {
		t.Fatalf("warmup dispatch: %v", err)
	}
	id, ran, err := s.Dispatch(context.Background(), &transport.Request{Model: "sonnet"}, 5)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if ran {
		t.Fatal("second dispatch should have queued")
	}

	if !s.Cancel(id) {
		t.Fatal("cancel should find the queued record")
	}
	if _, err := s.Get(id); !errors.Is(err, tracker.ErrNotFound) {
		t.Errorf("canceled record still present: %v", err)
	}
}

func TestService_QueuePassThroughs(t *testing.T) {
	s := newTestService(t, &fakeClient{name: "anthropic", do: func(int) (*transport.Response, error) {
		return &transport.Response{}, nil
	}})

	s.SetModelLimit("sonnet", 120)
	rpm, burst := s.GetModelLimit("sonnet")
	if rpm != 120 || burst != 20 {
		t.Errorf("model limit = (%f, %f), want (120, 20)", rpm, burst)
	}
	if s.QueueDepth() != 0 {
		t.Errorf("queue depth = %d, want 0", s.QueueDepth())
	}
	if s.ClearQueue() != 0 {
		t.Error("clearing an empty queue should remove nothing")
	}
}
