package server

import (
	"net/http"
	"time"
)

// handleListModels returns every unified model name the registry knows,
// in OpenAI's model-list envelope shape.
func (s *server) handleListModels(w http.ResponseWriter, r *http.Request) {
	var names []string
	if s.deps.ModelLister != nil {
		names = s.deps.ModelLister.UnifiedNames()
	}

	now := time.Now().Unix()
	data := make([]modelEntry, len(names))
	for i, name := range names {
		data[i] = modelEntry{
			ID:      name,
			Object:  "model",
			Created: now,
			OwnedBy: "trainforge-conductor",
		}
	}

	writeJSON(w, http.StatusOK, modelListResponse{
		Object: "list",
		Data:   data,
	})
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelListResponse struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}
