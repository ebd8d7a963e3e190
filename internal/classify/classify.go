// Package classify normalizes provider errors into a fixed taxonomy.
//
// Errors enter the system as loosely structured payloads (HTTP status,
// structured code, free text). They are converted once, at the transport
// boundary, into ErrorData; everything downstream works off the
// Classification derived here.
package classify

import "strings"

// Classification buckets a provider error for retry and reporting decisions.
type Classification string

const (
	ClassNetwork        Classification = "network"
	ClassAuthentication Classification = "authentication"
	ClassRateLimit      Classification = "rate_limit"
	ClassAPIError       Classification = "api_error"
	ClassValidation     Classification = "validation"
	ClassUnknown        Classification = "unknown"
)

// Retryable reports whether errors of this classification are worth retrying.
// Authentication and validation failures cannot succeed on a second attempt;
// unknown errors follow the same non-retry path until reclassified.
func (c Classification) Retryable() bool {
	switch c {
	case ClassNetwork, ClassRateLimit, ClassAPIError:
		return true
	default:
		return false
	}
}

// ErrorData is the tagged error model produced at the transport boundary.
// All fields are optional; zero values mean "not present".
type ErrorData struct {
	StatusCode int    `json:"status_code,omitempty"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
	// Detail carries the message field of a nested provider error object,
	// when the provider wraps its error one level deep.
	Detail string `json:"detail,omitempty"`
}

// codeClassifications maps structured provider error codes to classifications.
var codeClassifications = map[string]Classification{
	"invalid_api_key":      ClassAuthentication,
	"authentication_error": ClassAuthentication,
	"permission_error":     ClassAuthentication,
	"rate_limit_error":     ClassRateLimit,
	"rate_limit_exceeded":  ClassRateLimit,
	"overloaded_error":     ClassRateLimit,
	"invalid_request":      ClassValidation,
	"invalid_request_error": ClassValidation,
	"validation_error":     ClassValidation,
}

var networkKeywords = []string{"timeout", "connection", "dns", "network"}

// Classify derives the classification for an error payload.
// Precedence: HTTP status code, then structured code, then text heuristics.
func Classify(e ErrorData) Classification {
	switch {
	case e.StatusCode == 401:
		return ClassAuthentication
	case e.StatusCode == 429:
		return ClassRateLimit
	case e.StatusCode >= 500:
		return ClassAPIError
	}

	if c, ok := codeClassifications[strings.ToLower(e.Code)]; ok {
		return c
	}

	text := strings.ToLower(e.Message + " " + e.Detail)
	for _, kw := range networkKeywords {
		if strings.Contains(text, kw) {
			return ClassNetwork
		}
	}

	return ClassUnknown
}

const genericMessage = "An unexpected error occurred while contacting the provider"

// statusMessages maps HTTP status codes to fixed user-facing messages.
var statusMessages = map[int]string{
	400: "The provider rejected the request as invalid",
	401: "Authentication with the provider failed; check the configured API key",
	403: "The provider denied access to this resource",
	404: "The requested provider resource was not found",
	429: "The provider rate limit was exceeded; the request will be retried",
	500: "The provider reported an internal error",
	502: "The provider is unreachable (bad gateway)",
	503: "The provider is temporarily overloaded or down for maintenance",
	529: "The provider is overloaded; the request will be retried",
}

// codeMessages maps structured provider error codes to fixed user-facing messages.
var codeMessages = map[string]string{
	"invalid_api_key":      "The configured API key was rejected by the provider",
	"authentication_error": "Authentication with the provider failed",
	"rate_limit_error":     "The provider rate limit was exceeded",
	"rate_limit_exceeded":  "The provider rate limit was exceeded",
	"invalid_request_error": "The provider rejected the request as invalid",
	"validation_error":     "The request failed provider validation",
}

// UserMessage derives the sanitized, user-facing message for an error payload.
// Raw provider text never reaches the caller unredacted.
func UserMessage(e ErrorData) string {
	if msg, ok := statusMessages[e.StatusCode]; ok {
		return msg
	}
	if e.StatusCode >= 500 {
		return statusMessages[500]
	}
	if msg, ok := codeMessages[strings.ToLower(e.Code)]; ok {
		return msg
	}
	if e.Detail != "" {
		return Sanitize(e.Detail)
	}
	if e.Message != "" {
		return Sanitize(e.Message)
	}
	return genericMessage
}
