package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/alcray/trainforge-conductor/internal/conductor"
	"github.com/alcray/trainforge-conductor/internal/provider"
)

// bodyPool reuses buffers for request body reads, avoiding per-request
// allocations from json.NewDecoder (which cannot be pooled/reset).
var bodyPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// maxRequestBody is the maximum allowed request body size (4 MB).
const maxRequestBody = 4 << 20

// decodeRequestBody reads the request body via bodyPool, unmarshals JSON into
// v, and returns false (writing a 400) on error. Parse errors are logged
// server-side; clients receive a static message to avoid leaking internals.
func decodeRequestBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	buf := bodyPool.Get().(*bytes.Buffer)
	buf.Reset()
	if _, err := buf.ReadFrom(r.Body); err != nil {
		bodyPool.Put(buf)
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	if err := json.Unmarshal(buf.Bytes(), v); err != nil {
		bodyPool.Put(buf)
		slog.LogAttrs(r.Context(), slog.LevelWarn, "request decode error",
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	bodyPool.Put(buf)
	return true
}

func (s *server) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	var req conductor.ChatRequest
	if !decodeRequestBody(w, r, &req) {
		return
	}

	resp, err := s.deps.Dispatcher.Handle(r.Context(), &req)
	if err != nil {
		writeDispatchError(w, r.Context(), err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeDispatchError maps the conductor error taxonomy to an HTTP status
// and a client-facing body, per the error handling design: an upstream
// client fault passes the provider's own status and message through, while
// a capacity/configuration failure gets a fixed operator-facing message.
func writeDispatchError(w http.ResponseWriter, ctx context.Context, err error) {
	status, detail := errorDetail(err)
	slog.LogAttrs(ctx, slog.LevelWarn, "dispatch failed",
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
	writeJSON(w, status, errorResponse(detail))
}

// errorDetail returns the HTTP status and response detail for a dispatch
// error. Upstream errors unwrap to the provider's own status code and
// message where one was captured; everything else gets a fixed message.
func errorDetail(err error) (int, string) {
	var apiErr *provider.APIError

	switch {
	case errors.Is(err, conductor.ErrNoProviders):
		return http.StatusServiceUnavailable, "No providers configured. Add API keys to config/config.yaml"
	case errors.Is(err, conductor.ErrCapacityTimeout):
		return http.StatusGatewayTimeout, "Request timed out waiting for available capacity"
	case errors.Is(err, conductor.ErrBadRequest):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, conductor.ErrUpstreamClient):
		if errors.As(err, &apiErr) {
			status := apiErr.StatusCode
			if status < 400 || status > 499 {
				status = http.StatusBadRequest
			}
			return status, providerMessage(apiErr)
		}
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, conductor.ErrUpstreamServer):
		if errors.As(err, &apiErr) {
			return http.StatusInternalServerError, providerMessage(apiErr)
		}
		return http.StatusInternalServerError, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func providerMessage(apiErr *provider.APIError) string {
	if apiErr.Message != "" {
		return apiErr.Message
	}
	return apiErr.Error()
}

type apiError struct {
	Detail string `json:"detail"`
}

func errorResponse(msg string) apiError {
	return apiError{Detail: msg}
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(data)
}
