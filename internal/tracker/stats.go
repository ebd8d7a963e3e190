package tracker

// Conventional metadata keys summed into usage statistics.
const (
	MetaModel            = "model"
	MetaPromptTokens     = "prompt_tokens"
	MetaCompletionTokens = "completion_tokens"
	MetaTotalTokens      = "total_tokens"
	MetaCostUSD          = "cost_usd"
)

// UsageStats is the aggregate view over the history log.
type UsageStats struct {
	TotalRequests    int     `json:"total_requests"`
	Completed        int     `json:"completed"`
	Failed           int     `json:"failed"`
	SuccessRate      float64 `json:"success_rate"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// UsageStats computes aggregates on demand from history. Records missing the
// token or cost metadata contribute zero.
func (t *Tracker) UsageStats() UsageStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var s UsageStats
	for _, rec := range t.history {
		s.TotalRequests++
		switch rec.State {
		case StateCompleted:
			s.Completed++
		case StateFailed:
			s.Failed++
		}
		s.PromptTokens += numericField(rec.Metadata, MetaPromptTokens)
		s.CompletionTokens += numericField(rec.Metadata, MetaCompletionTokens)
		s.TotalTokens += numericField(rec.Metadata, MetaTotalTokens)
		s.CostUSD += floatField(rec.Metadata, MetaCostUSD)
	}
	if s.TotalRequests > 0 {
		s.SuccessRate = float64(s.Completed) / float64(s.TotalRequests)
	}
	return s
}

// numericField reads an integer-valued metadata field. JSON decoding hands
// numbers back as float64, so all three common representations are accepted.
func numericField(meta map[string]any, key string) int64 {
	switch v := meta[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func floatField(meta map[string]any, key string) float64 {
	switch v := meta[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
