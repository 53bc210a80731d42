package http

import (
	"encoding/json"
	"net/http"
)

// OKResponse acknowledges a write.
type OKResponse struct {
	OK    bool   `json:"ok"`
	Count uint64 `json:"count"`
}

// ResetResponse acknowledges a reset.
type ResetResponse struct {
	OK    bool `json:"ok"`
	Reset bool `json:"reset"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The header has already been sent, nothing useful can be done on error.
	_ = json.NewEncoder(w).Encode(v)
}

// WriteText writes a plain text response, as probes expect.
func WriteText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// WriteNoContent writes a no content response
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
