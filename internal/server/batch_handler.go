package server

import (
	"net/http"

	"github.com/alcray/trainforge-conductor/internal/conductor"
)

// batchRequest is the inbound envelope for /v1/batch/chat/completions: an
// ordered list of chat requests plus a completion policy.
type batchRequest struct {
	Requests   []*conductor.ChatRequest `json:"requests"`
	WaitForAll *bool                    `json:"wait_for_all"`
}

func (s *server) handleBatchChatCompletion(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeRequestBody(w, r, &req) {
		return
	}
	if len(req.Requests) == 0 {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse("requests must be a non-empty list"))
		return
	}

	waitForAll := true
	if req.WaitForAll != nil {
		waitForAll = *req.WaitForAll
	}

	result := s.deps.Batch.Handle(r.Context(), req.Requests, waitForAll, s.deps.TotalKeys)
	writeJSON(w, http.StatusOK, result)
}
