package server

import "net/http"

// healthBody is pre-marshalled since it never changes, avoiding a
// json.Marshal allocation per health check.
var healthBody = []byte(`{"status":"healthy","service":"trainforge-conductor"}`)

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(http.StatusOK)
	w.Write(healthBody)
}
