package classify

import "regexp"

// RedactionMarker replaces any substring that looks like credential material.
const RedactionMarker = "[REDACTED]"

// keyValuePatterns match credential assignments like `api_key=...` or
// `"token": "..."`. The key and separator are kept (capture group 1) so the
// redacted message still says what was removed. Re-running the sanitizer on
// its own output is a no-op: the marker itself matches the value class and is
// replaced by itself.
var keyValuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)((?:api[_-]?key|access[_-]?token|auth[_-]?token|refresh[_-]?token|token|password|passwd|secret|credential)["']?\s*[:=]\s*["']?)[^\s"',;]+`),
	regexp.MustCompile(`(?i)(authorization["']?\s*[:=]\s*["']?(?:bearer\s+|basic\s+)?)[^\s"',;]+`),
}

// tokenPatterns match bare credential literals with recognizable shapes.
var tokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{16,}`),             // OpenAI / Anthropic API keys
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),                 // AWS access keys
	regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9_]{36,}`),        // GitHub tokens
	regexp.MustCompile(`\beyJ[A-Za-z0-9\-_]+\.eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+`), // JWTs
}

// Sanitize redacts credential-looking substrings from a message. It runs on
// every externally surfaced message, including retry-exhaustion payloads,
// and is idempotent.
func Sanitize(s string) string {
	for _, re := range keyValuePatterns {
		s = re.ReplaceAllString(s, "${1}"+RedactionMarker)
	}
	for _, re := range tokenPatterns {
		s = re.ReplaceAllString(s, RedactionMarker)
	}
	return s
}
