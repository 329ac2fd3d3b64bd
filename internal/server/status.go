package server

import (
	"net/http"
	"time"
)

// keyStatus is the per-key view returned by /status.
type keyStatus struct {
	Provider          string    `json:"provider"`
	KeyName           string    `json:"key_name"`
	RequestsRemaining int64     `json:"requests_remaining"`
	RequestsLimit     int64     `json:"requests_limit"`
	TokensRemaining   int64     `json:"tokens_remaining"`
	TokensLimit       int64     `json:"tokens_limit"`
	ResetAt           time.Time `json:"reset_at"`
	IsAvailable       bool      `json:"is_available"`
}

// statusResponse reports per-key ledger state plus aggregate totals, the
// latter a natural extension of Ledger.Snapshot an operator dashboard would
// want beyond the bare per-key list.
type statusResponse struct {
	Keys             []keyStatus `json:"keys"`
	TotalKeys        int         `json:"total_keys"`
	AvailableKeys    int         `json:"available_keys"`
	TotalRequestsRPM int64       `json:"total_requests_capacity"`
	TotalTokensTPM   int64       `json:"total_tokens_capacity"`
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.LedgerStatus == nil {
		writeJSON(w, http.StatusOK, statusResponse{Keys: []keyStatus{}})
		return
	}

	snap := s.deps.LedgerStatus.Snapshot()
	resp := statusResponse{
		Keys:      make([]keyStatus, len(snap)),
		TotalKeys: len(snap),
	}
	for i, st := range snap {
		resp.Keys[i] = keyStatus{
			Provider:          st.Provider,
			KeyName:           st.KeyName,
			RequestsRemaining: st.RequestsRemaining,
			RequestsLimit:     st.RequestsLimit,
			TokensRemaining:   st.TokensRemaining,
			TokensLimit:       st.TokensLimit,
			ResetAt:           st.WindowResetAt,
			IsAvailable:       st.IsAvailable,
		}
		resp.TotalRequestsRPM += st.RequestsLimit
		resp.TotalTokensTPM += st.TokensLimit
		if st.IsAvailable {
			resp.AvailableKeys++
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
