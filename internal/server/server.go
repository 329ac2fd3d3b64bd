// Package server implements the HTTP transport layer for the conductor.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"go.opentelemetry.io/otel/trace"

	"github.com/alcray/trainforge-conductor/internal/batch"
	"github.com/alcray/trainforge-conductor/internal/conductor"
	"github.com/alcray/trainforge-conductor/internal/ledger"
	"github.com/alcray/trainforge-conductor/internal/telemetry"
)

// chatDispatcher fulfills one chat-completion request end-to-end.
type chatDispatcher interface {
	Handle(ctx context.Context, req *conductor.ChatRequest) (*conductor.ChatResponse, error)
}

// batchCoordinator fans a batch of chat-completion requests out.
type batchCoordinator interface {
	Handle(ctx context.Context, reqs []*conductor.ChatRequest, waitForAll bool, totalKeys int) batch.Result
}

// modelLister returns the set of unified model names the registry knows
// about. No upstream provider is queried for its own model list.
type modelLister interface {
	UnifiedNames() []string
}

// ledgerStatusProvider exposes the ledger's per-key snapshot for /status.
type ledgerStatusProvider interface {
	Snapshot() []ledger.Status
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Dispatcher   chatDispatcher
	Batch        batchCoordinator
	ModelLister  modelLister
	LedgerStatus ledgerStatusProvider
	TotalKeys    int // used as the batch fan-out sizing hint

	Metrics        *telemetry.Metrics // nil = no Prometheus metrics
	MetricsHandler http.Handler       // nil = no /metrics endpoint
	Tracer         trace.Tracer       // nil = no distributed tracing
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	r.Use(s.recovery)
	r.Use(s.securityHeaders)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	if deps.Tracer != nil {
		r.Use(tracingMiddleware(deps.Tracer))
	}

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Post("/v1/chat/completions", s.handleChatCompletion)
	r.Post("/v1/batch/chat/completions", s.handleBatchChatCompletion)
	r.Get("/v1/models", s.handleListModels)

	return r
}

type server struct {
	deps Deps
}
