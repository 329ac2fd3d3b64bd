package conductor

import "errors"

// Sentinel errors for the conductor domain, mapped to HTTP status by the
// server package (see errorDetail in internal/server/chat.go).
var (
	// ErrNoProviders is returned when zero keys are enabled at request time.
	ErrNoProviders = errors.New("no providers configured")
	// ErrCapacityTimeout is returned when RESERVE exhausts request_timeout
	// waiting for any key to gain capacity.
	ErrCapacityTimeout = errors.New("request timed out waiting for available capacity")
	// ErrUpstreamClient wraps a non-429 4xx from a provider; it will not
	// improve by rotating keys, so it is surfaced after a single attempt.
	ErrUpstreamClient = errors.New("upstream client error")
	// ErrUpstreamServer wraps the last 5xx/network error after retries are
	// exhausted across all candidate keys.
	ErrUpstreamServer = errors.New("upstream server error")
	// ErrBadRequest marks inbound body validation failures.
	ErrBadRequest = errors.New("bad request")
	// ErrModelNotSupported is returned by the registry when a known unified
	// model name has no mapping for the requested provider.
	ErrModelNotSupported = errors.New("model not supported by provider")
	// ErrInsufficientCapacity is returned by the ledger when a key cannot
	// cover a reservation right now.
	ErrInsufficientCapacity = errors.New("insufficient capacity")
)
