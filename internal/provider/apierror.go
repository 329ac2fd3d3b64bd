package provider

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// APIError represents an error response from an upstream LLM provider.
// It satisfies the httpStatusError interface used by dispatch failover
// logic.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
	// Message is a best-effort extraction of the upstream error's human
	// message, read via gjson rather than a full struct decode since the
	// error envelope shape varies per vendor (error.message, error, message).
	Message string
	// RetryAfter is the duration parsed from a Retry-After header on a 429
	// response, or 0 if absent/unparseable.
	RetryAfter time.Duration
}

// Error returns a formatted error string including provider, status, and
// the extracted message (falling back to the raw body if extraction failed).
func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Body
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, msg)
}

// HTTPStatus returns the HTTP status code for failover decisions.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// extractErrorMessage pulls a human-readable message out of a provider error
// body without a full struct decode, checking the common vendor shapes in
// order: {"error":{"message":...}}, {"error":"..."}, {"message":...}.
func extractErrorMessage(body []byte) string {
	for _, path := range []string{"error.message", "error", "message"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	return ""
}

// ParseAPIError reads up to 4KB from the response body and returns an
// APIError, capturing a Retry-After header (seconds form only) when present.
func ParseAPIError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var retryAfter time.Duration
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			retryAfter = time.Duration(secs) * time.Second
		}
	}
	return &APIError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Body:       string(body),
		Message:    extractErrorMessage(body),
		RetryAfter: retryAfter,
	}
}
