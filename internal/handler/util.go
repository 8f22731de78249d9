package handler

import (
	"encoding/json"
	"net/http"
)

// errorResponse is the flat error envelope every HTTP surface returns. The
// browser agent and the dashboards both key off the single "error" field, so
// failures from ingest, replay, and streaming all share this shape.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes the error envelope with the given status.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
