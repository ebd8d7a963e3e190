package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the CONDUIT dispatch core. It
// doubles as the scheduler observer and the dispatch telemetry sink.
type Metrics struct {
	DispatchTotal          *prometheus.CounterVec
	QueueDepthGauge        prometheus.Gauge
	RequestTotal           *prometheus.CounterVec
	RequestDurationSeconds *prometheus.HistogramVec
	TokensTotal            *prometheus.CounterVec
	CostUSDTotal           *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		DispatchTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_dispatch_total",
			Help: "Calls released by the admission scheduler, by dispatch path.",
		}, []string{"model", "path"}),

		QueueDepthGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "conduit_queue_depth",
			Help: "Current number of calls waiting in the priority queue.",
		}),

		RequestTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_request_total",
			Help: "Requests reaching a terminal state.",
		}, []string{"model", "state"}),

		RequestDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conduit_request_duration_seconds",
			Help:    "End-to-end request duration including retries and backoff.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"model"}),

		TokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_tokens_total",
			Help: "Total tokens processed.",
		}, []string{"model", "direction"}),

		CostUSDTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_cost_usd_total",
			Help: "Estimated total cost in USD.",
		}, []string{"model"}),
	}
}

// QueueDepth implements the scheduler observer.
func (m *Metrics) QueueDepth(depth int) {
	m.QueueDepthGauge.Set(float64(depth))
}

// Dispatched implements the scheduler observer. path distinguishes calls
// that ran on admission from calls drained off the queue.
func (m *Metrics) Dispatched(model string, queued bool) {
	path := "immediate"
	if queued {
		path = "queued"
	}
	if model == "" {
		model = "global"
	}
	m.DispatchTotal.WithLabelValues(model, path).Inc()
}

// RequestFinished records a request reaching a terminal state.
func (m *Metrics) RequestFinished(model, state string, seconds float64) {
	m.RequestTotal.WithLabelValues(model, state).Inc()
	m.RequestDurationSeconds.WithLabelValues(model).Observe(seconds)
}

// TokensCounted records token usage for a completed request.
func (m *Metrics) TokensCounted(model string, prompt, completion int64) {
	if prompt > 0 {
		m.TokensTotal.WithLabelValues(model, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		m.TokensTotal.WithLabelValues(model, "completion").Add(float64(completion))
	}
}

// CostAccrued records the estimated cost of a completed request.
func (m *Metrics) CostAccrued(model string, usd float64) {
	if usd > 0 {
		m.CostUSDTotal.WithLabelValues(model).Add(usd)
	}
}
