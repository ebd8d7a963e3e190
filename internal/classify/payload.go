package classify

// FailurePayload is the wire-level failure shape surfaced to callers after
// an operation fails terminally (non-retryable error or retry exhaustion).
type FailurePayload struct {
	Error   string     `json:"error"`
	Details *Details   `json:"details,omitempty"`
	Retry   RetryState `json:"retry"`
}

type Details struct {
	Type Classification `json:"type"`
}

// RetryState records where the executor stopped.
type RetryState struct {
	Attempt        int     `json:"attempt"`
	MaxAttempts    int     `json:"max_attempts"`
	WillRetry      bool    `json:"will_retry"`
	BackoffSeconds float64 `json:"backoff_seconds,omitempty"`
}

// NewFailurePayload builds the payload for an error that will not be retried
// again. The message is sanitized here so no call site can forget to.
func NewFailurePayload(e ErrorData, attempt, maxAttempts int) *FailurePayload {
	return &FailurePayload{
		Error:   UserMessage(e),
		Details: &Details{Type: Classify(e)},
		Retry: RetryState{
			Attempt:     attempt,
			MaxAttempts: maxAttempts,
			WillRetry:   false,
		},
	}
}
