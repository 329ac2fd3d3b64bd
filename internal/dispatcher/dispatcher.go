// Package dispatcher fulfills one chat-completion request end-to-end:
// resolve the model, select a candidate key, reserve budget, translate and
// execute the upstream call, interpret the response, and rotate to another
// key on a retriable failure.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/alcray/trainforge-conductor/internal/circuitbreaker"
	"github.com/alcray/trainforge-conductor/internal/conductor"
	"github.com/alcray/trainforge-conductor/internal/ledger"
	"github.com/alcray/trainforge-conductor/internal/provider"
	"github.com/alcray/trainforge-conductor/internal/selector"
	"github.com/alcray/trainforge-conductor/internal/tokencount"
)

// modelResolver translates a unified model name to a provider-native one.
type modelResolver interface {
	Resolve(unified, providerID string) (string, error)
}

// candidateSelector produces an ordered preference list for one request.
type candidateSelector interface {
	Select(unifiedModel, forcedProvider string) []selector.Candidate
}

// providerDirectory looks up the static, immutable config of a provider.
type providerDirectory interface {
	Descriptor(providerID string) (conductor.ProviderDescriptor, bool)
}

// Config bounds the Dispatcher's retry/wait behavior, sourced from the
// conductor configuration block.
type Config struct {
	RequestTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
}

// Dispatcher wires the Registry, Selector, Ledger, provider HTTP client, and
// an optional circuit breaker registry into the full dispatch state machine.
type Dispatcher struct {
	registry  modelResolver
	selector  candidateSelector
	ledger    *ledger.Ledger
	providers providerDirectory
	client    *provider.Client
	breakers  *circuitbreaker.Registry // nil disables circuit breaking
	tracer    trace.Tracer             // nil disables tracing

	cfg Config
}

// New builds a Dispatcher. breakers may be nil to disable circuit breaking.
func New(reg modelResolver, sel candidateSelector, lg *ledger.Ledger, providers providerDirectory, client *provider.Client, breakers *circuitbreaker.Registry, cfg Config) *Dispatcher {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Dispatcher{
		registry:  reg,
		selector:  sel,
		ledger:    lg,
		providers: providers,
		client:    client,
		breakers:  breakers,
		cfg:       cfg,
	}
}

// WithTracer attaches a tracer that spans the RESERVE capacity wait and each
// upstream CALL. Pass a nil tracer (the default) to disable tracing and
// avoid its allocations on the hot path.
func (d *Dispatcher) WithTracer(tracer trace.Tracer) *Dispatcher {
	d.tracer = tracer
	return d
}

// Handle fulfills one ChatRequest: RESOLVE -> SELECT -> RESERVE -> TRANSLATE
// -> CALL -> INTERPRET -> (DONE | ROTATE), bounded by cfg.MaxRetries distinct
// key attempts and cfg.RequestTimeout total wall-clock for capacity waits.
func (d *Dispatcher) Handle(ctx context.Context, req *conductor.ChatRequest) (*conductor.ChatResponse, error) {
	req.ApplyDefaults()
	if field, msg, ok := req.Validate(); !ok {
		return nil, fmt.Errorf("%w: %s: %s", conductor.ErrBadRequest, field, msg)
	}

	deadline := time.Now().Add(d.cfg.RequestTimeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	estimatedTokens := tokencount.Estimate(req)

	candidates := d.selector.Select(req.Model, req.ForcedProvider)
	if len(candidates) == 0 {
		return nil, conductor.ErrNoProviders
	}

	var lastErr error
	attempts := 0
	idx := 0
	firstAttempt := true

	for {
		if idx >= len(candidates) {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, firstNonNil(lastErr, conductor.ErrCapacityTimeout)
			}
			waitCtx := ctx
			var waitSpan trace.Span
			if d.tracer != nil {
				waitCtx, waitSpan = d.tracer.Start(ctx, "ledger.WaitForCapacity",
					trace.WithAttributes(attribute.String("model", req.Model)),
				)
			}
			err := d.ledger.WaitForCapacity(waitCtx, remaining)
			if waitSpan != nil {
				waitSpan.End()
			}
			if err != nil {
				if errors.Is(err, conductor.ErrCapacityTimeout) {
					return nil, firstNonNil(lastErr, err)
				}
				// The request's own deadline can fire just before the wait's
				// timer; that is still a capacity timeout, not a caller abort.
				if errors.Is(err, context.DeadlineExceeded) && !time.Now().Before(deadline) {
					return nil, firstNonNil(lastErr, conductor.ErrCapacityTimeout)
				}
				return nil, err
			}
			candidates = d.selector.Select(req.Model, req.ForcedProvider)
			if len(candidates) == 0 {
				return nil, conductor.ErrNoProviders
			}
			idx = 0
			continue
		}

		if attempts >= d.cfg.MaxRetries {
			return nil, firstNonNil(lastErr, conductor.ErrCapacityTimeout)
		}

		cand := candidates[idx]
		idx++

		if d.breakers != nil {
			if cb := d.breakers.Get(cand.Provider); cb != nil && !cb.Allow() {
				lastErr = fmt.Errorf("%w: circuit breaker open for %s", conductor.ErrUpstreamServer, cand.Provider)
				continue
			}
		}

		desc, ok := d.providers.Descriptor(cand.Provider)
		if !ok || !desc.Enabled {
			continue
		}

		nativeModel, err := d.registry.Resolve(req.Model, cand.Provider)
		if errors.Is(err, conductor.ErrModelNotSupported) {
			continue
		}

		res, err := d.ledger.TryReserve(cand.Provider, cand.KeyName, estimatedTokens)
		if err != nil {
			continue
		}

		if !firstAttempt {
			select {
			case <-time.After(d.cfg.RetryDelay):
			case <-ctx.Done():
				d.ledger.Release(res)
				return nil, ctx.Err()
			}
		}
		firstAttempt = false
		attempts++

		resp, err := d.call(ctx, cand, desc, nativeModel, req, res)
		if err == nil {
			d.recordBreakerSuccess(cand.Provider)
			resp.Provider = cand.Provider
			resp.ProviderKeyName = cand.KeyName
			return resp, nil
		}

		lastErr = err
		if errors.Is(err, conductor.ErrUpstreamClient) {
			return nil, err
		}
		d.recordBreakerError(cand.Provider, err)
		logRotation(ctx, cand.Provider, cand.KeyName, err)
		// Retriable (429 / 5xx / network error): fall through and rotate.
	}
}

// call performs TRANSLATE, CALL, and INTERPRET for one candidate key. It
// always settles or releases res before returning.
func (d *Dispatcher) call(ctx context.Context, cand selector.Candidate, desc conductor.ProviderDescriptor, nativeModel string, req *conductor.ChatRequest, res *ledger.Reservation) (*conductor.ChatResponse, error) {
	body, err := translate(req, nativeModel)
	if err != nil {
		d.ledger.Release(res)
		return nil, fmt.Errorf("%w: translate: %v", conductor.ErrBadRequest, err)
	}

	chatPath := desc.ChatPath
	if chatPath == "" {
		chatPath = "/chat/completions"
	}

	callCtx := ctx
	var span trace.Span
	if d.tracer != nil {
		callCtx, span = d.tracer.Start(ctx, "provider.ChatCompletion",
			trace.WithAttributes(
				attribute.String("provider", cand.Provider),
				attribute.String("key_name", cand.KeyName),
				attribute.String("model", nativeModel),
			),
		)
	}
	resp, err := d.client.ChatCompletion(callCtx, cand.Provider, desc.BaseURL, chatPath, cand.APIKey, body)
	if span != nil {
		span.End()
	}
	if err != nil {
		return nil, d.interpretError(cand, res, err)
	}

	actual := res.Estimate()
	if resp.Usage != nil && resp.Usage.TotalTokens > 0 {
		actual = int64(resp.Usage.TotalTokens)
	}
	d.ledger.Settle(res, actual)
	return resp, nil
}

// interpretError classifies an upstream failure, penalizes the ledger as
// appropriate, settles the reservation without a refund (the request slot
// and estimate were spent regardless of outcome), and returns the error
// wrapped in the taxonomy sentinel the server maps to an HTTP status.
func (d *Dispatcher) interpretError(cand selector.Candidate, res *ledger.Reservation, err error) error {
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		d.ledger.Settle(res, res.Estimate())
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			d.ledger.Penalize(cand.Provider, cand.KeyName, ledger.ReasonHTTP429, apiErr.RetryAfter)
			return fmt.Errorf("%w: %w", conductor.ErrUpstreamServer, err)
		case apiErr.StatusCode >= 500:
			d.ledger.Penalize(cand.Provider, cand.KeyName, ledger.ReasonHTTP5xx, 0)
			return fmt.Errorf("%w: %w", conductor.ErrUpstreamServer, err)
		default:
			// Non-429 4xx: client fault. Do not penalize; this error will
			// repeat on any other key, so it is not retriable elsewhere.
			return fmt.Errorf("%w: %w", conductor.ErrUpstreamClient, err)
		}
	}
	// Network error: no HTTP status to read.
	d.ledger.Settle(res, res.Estimate())
	d.ledger.Penalize(cand.Provider, cand.KeyName, ledger.ReasonNetworkError, 0)
	return fmt.Errorf("%w: %w", conductor.ErrUpstreamServer, err)
}

func firstNonNil(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// translate rewrites the outbound body to the OpenAI chat-completions shape
// with the provider-native model id, stripping forced_provider, and merges
// in any unrecognized fields the caller sent (tools, response_format, seed,
// ...) verbatim so they still reach the provider untouched.
func translate(req *conductor.ChatRequest, nativeModel string) ([]byte, error) {
	out := struct {
		Model       string              `json:"model"`
		Messages    []conductor.Message `json:"messages"`
		Temperature float64             `json:"temperature"`
		MaxTokens   int                 `json:"max_tokens"`
		TopP        float64             `json:"top_p"`
		Stop        []string            `json:"stop,omitempty"`
	}{
		Model:       nativeModel,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		Stop:        req.Stop,
	}
	if len(req.Extra) == 0 {
		return json.Marshal(out)
	}

	body, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]json.RawMessage, len(req.Extra)+6)
	if err := json.Unmarshal(body, &merged); err != nil {
		return nil, err
	}
	for k, v := range req.Extra {
		if _, exists := merged[k]; exists {
			continue // never let a pass-through field shadow a translated one
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

func (d *Dispatcher) recordBreakerSuccess(providerID string) {
	if d.breakers != nil {
		d.breakers.GetOrCreate(providerID).RecordSuccess()
	}
}

func (d *Dispatcher) recordBreakerError(providerID string, err error) {
	if d.breakers != nil {
		weight := circuitbreaker.ClassifyError(err)
		if weight > 0 {
			d.breakers.GetOrCreate(providerID).RecordError(weight)
		}
	}
}

func logRotation(ctx context.Context, providerID, keyName string, err error) {
	slog.LogAttrs(ctx, slog.LevelWarn, "rotating to next candidate",
		slog.String("provider", providerID),
		slog.String("key_name", keyName),
		slog.String("error", err.Error()),
	)
}
