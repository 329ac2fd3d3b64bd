package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alcray/trainforge-conductor/internal/batch"
	"github.com/alcray/trainforge-conductor/internal/conductor"
	"github.com/alcray/trainforge-conductor/internal/ledger"
	"github.com/alcray/trainforge-conductor/internal/provider"
)

type fakeDispatcher struct {
	resp *conductor.ChatResponse
	err  error
}

func (f *fakeDispatcher) Handle(ctx context.Context, req *conductor.ChatRequest) (*conductor.ChatResponse, error) {
	return f.resp, f.err
}

type fakeBatch struct {
	result batch.Result
}

func (f *fakeBatch) Handle(ctx context.Context, reqs []*conductor.ChatRequest, waitForAll bool, totalKeys int) batch.Result {
	return f.result
}

type fakeModelLister struct {
	names []string
}

func (f *fakeModelLister) UnifiedNames() []string { return f.names }

type fakeLedgerStatus struct {
	snapshot []ledger.Status
}

func (f *fakeLedgerStatus) Snapshot() []ledger.Status { return f.snapshot }

func TestHandleHealth(t *testing.T) {
	t.Parallel()
	h := New(Deps{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status field = %q, want healthy", body["status"])
	}
}

func TestHandleStatus(t *testing.T) {
	t.Parallel()
	h := New(Deps{
		LedgerStatus: &fakeLedgerStatus{snapshot: []ledger.Status{
			{Provider: "cerebras", KeyName: "k1", RequestsRemaining: 10, RequestsLimit: 30, TokensRemaining: 1000, TokensLimit: 2000, IsAvailable: true},
			{Provider: "groq", KeyName: "k2", RequestsRemaining: 0, RequestsLimit: 20, TokensRemaining: 0, TokensLimit: 1500, IsAvailable: false},
		}},
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.TotalKeys != 2 || resp.AvailableKeys != 1 {
		t.Errorf("TotalKeys=%d AvailableKeys=%d, want 2/1", resp.TotalKeys, resp.AvailableKeys)
	}
	if resp.TotalRequestsRPM != 50 || resp.TotalTokensTPM != 3500 {
		t.Errorf("totals = %d/%d, want 50/3500", resp.TotalRequestsRPM, resp.TotalTokensTPM)
	}
}

func TestHandleListModels(t *testing.T) {
	t.Parallel()
	h := New(Deps{ModelLister: &fakeModelLister{names: []string{"llama-70b", "mixtral-8x7b"}}})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp modelListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Data) != 2 || resp.Data[0].ID != "llama-70b" {
		t.Errorf("data = %+v, want 2 entries starting with llama-70b", resp.Data)
	}
}

func TestHandleChatCompletion_Success(t *testing.T) {
	t.Parallel()
	want := &conductor.ChatResponse{ID: "chatcmpl-1", Model: "llama-70b", Provider: "cerebras"}
	h := New(Deps{Dispatcher: &fakeDispatcher{resp: want}})

	body, _ := json.Marshal(conductor.ChatRequest{Model: "llama-70b", Messages: []conductor.Message{{Role: conductor.RoleUser, Content: "hi"}}})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var got conductor.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != want.ID || got.Provider != want.Provider {
		t.Errorf("got = %+v, want %+v", got, want)
	}
}

func TestHandleChatCompletion_InvalidBody(t *testing.T) {
	t.Parallel()
	h := New(Deps{Dispatcher: &fakeDispatcher{}})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader([]byte("not json")))
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleBatchChatCompletion(t *testing.T) {
	t.Parallel()
	want := batch.Result{
		Responses:   []*conductor.ChatResponse{{ID: "a"}, nil},
		Failed:      []batch.Failure{{Index: 1, ErrorMessage: "boom"}},
		TotalTimeMs: 42,
	}
	h := New(Deps{Batch: &fakeBatch{result: want}, TotalKeys: 2})

	body, _ := json.Marshal(batchRequest{Requests: []*conductor.ChatRequest{
		{Model: "llama-70b"}, {Model: "llama-70b"},
	}})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/batch/chat/completions", bytes.NewReader(body))
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var got batch.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.TotalTimeMs != 42 || len(got.Failed) != 1 {
		t.Errorf("got = %+v, want %+v", got, want)
	}
}

func TestHandleBatchChatCompletion_EmptyRequests(t *testing.T) {
	t.Parallel()
	h := New(Deps{Batch: &fakeBatch{}})
	body, _ := json.Marshal(batchRequest{Requests: nil})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/batch/chat/completions", bytes.NewReader(body))
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestErrorDetail(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantDetail string
	}{
		{
			name:       "no providers",
			err:        conductor.ErrNoProviders,
			wantStatus: http.StatusServiceUnavailable,
			wantDetail: "No providers configured. Add API keys to config/config.yaml",
		},
		{
			name:       "capacity timeout",
			err:        conductor.ErrCapacityTimeout,
			wantStatus: http.StatusGatewayTimeout,
			wantDetail: "Request timed out waiting for available capacity",
		},
		{
			name:       "upstream client passthrough",
			err:        fmt.Errorf("%w: %w", conductor.ErrUpstreamClient, &provider.APIError{Provider: "cerebras", StatusCode: http.StatusNotFound, Message: "model not found"}),
			wantStatus: http.StatusNotFound,
			wantDetail: "model not found",
		},
		{
			name:       "upstream client without status code falls back to 400",
			err:        fmt.Errorf("%w: gone", conductor.ErrUpstreamClient),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "upstream server maps to 500 with provider message",
			err:        fmt.Errorf("%w: %w", conductor.ErrUpstreamServer, &provider.APIError{Provider: "groq", StatusCode: http.StatusInternalServerError, Message: "overloaded"}),
			wantStatus: http.StatusInternalServerError,
			wantDetail: "overloaded",
		},
		{
			name:       "unclassified error",
			err:        fmt.Errorf("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, detail := errorDetail(tt.err)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if tt.wantDetail != "" && detail != tt.wantDetail {
				t.Errorf("detail = %q, want %q", detail, tt.wantDetail)
			}
		})
	}
}
