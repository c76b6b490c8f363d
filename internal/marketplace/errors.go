package marketplace

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// Class buckets an outbound API error for retry/ignore/abort decisions.
type Class string

const (
	// ClassRetryable covers timeouts, connection resets and 429/5xx.
	ClassRetryable Class = "retryable"
	// ClassNotFound covers 404-style responses for deleted resources.
	ClassNotFound Class = "not_found"
	// ClassCredential covers invalid-token/invalid-code authorization errors.
	ClassCredential Class = "credential"
	// ClassBreakerOpen is the synthetic fail-fast error from the circuit breaker.
	ClassBreakerOpen Class = "breaker_open"
	// ClassFatal is everything else; never retried.
	ClassFatal Class = "fatal"
)

// The API reports the HTTP status inside the message text, not as a
// structured field. All matching patterns live here and nowhere else, so
// a structured upstream replacement only has to touch this file.
var (
	status5xxPattern = regexp.MustCompile(`status 5\d\d`)

	retryablePatterns = []string{
		"status 429",
		"timeout",
		"timed out",
		"deadline exceeded",
		"connection reset",
		"connection refused",
		"temporary failure",
	}
	notFoundPatterns = []string{
		"status 404",
		"item_not_exist",
		"not found",
		"not_found",
	}
	credentialPatterns = []string{
		"status 401",
		"status 403",
		"invalid_token",
		"invalid_code",
		"error_auth",
		"invalid access token",
	}
	breakerPatterns = []string{
		"circuit breaker is open",
		"too many requests",
	}
)

// Classify maps an error to its handling class by matching the message
// text against known patterns.
func Classify(err error) Class {
	if err == nil {
		return ClassFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassRetryable
	}

	msg := strings.ToLower(err.Error())

	if matchesAny(msg, credentialPatterns) {
		return ClassCredential
	}
	if matchesAny(msg, notFoundPatterns) {
		return ClassNotFound
	}
	// Checked before the breaker bucket: a real 429 response carries the
	// standard "Too Many Requests" body text, which overlaps gobreaker's
	// half-open sentinel but must stay retryable.
	if matchesAny(msg, retryablePatterns) || status5xxPattern.MatchString(msg) {
		return ClassRetryable
	}
	if matchesAny(msg, breakerPatterns) {
		return ClassBreakerOpen
	}
	return ClassFatal
}

// IsRetryable reports whether the error should consume retry budget.
func IsRetryable(err error) bool {
	return Classify(err) == ClassRetryable
}

// IsNotFound reports whether the error means the resource is gone.
func IsNotFound(err error) bool {
	return Classify(err) == ClassNotFound
}

func matchesAny(msg string, patterns []string) bool {
	for _, pattern := range patterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
