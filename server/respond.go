package server

import (
	"encoding/json"
	"net/http"
)

const contentTypeJSON = "application/json; charset=utf-8"

type errorBody struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError sends a structured but non-leaky error body. Internal detail
// stays in the server log; the client sees a generic message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// writeErrorWithCorrelation includes a correlation id useful for support
// without exposing internal identifiers.
func writeErrorWithCorrelation(w http.ResponseWriter, status int, message, correlationID string) {
	writeJSON(w, status, errorBody{Error: message, CorrelationID: correlationID})
}
