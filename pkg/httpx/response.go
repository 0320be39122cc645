package httpx

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the gateway's failure envelope.
type ErrorBody struct {
	Error string `json:"error"`
	Data  any    `json:"data,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
// It automatically sets the Content-Type header and Cache-Control headers.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes {"error": msg} with the given status.
func WriteError(w http.ResponseWriter, code int, msg string) {
	WriteJSON(w, code, ErrorBody{Error: msg})
}

// WriteRaw writes an already-encoded body with the given content type. A
// Cache-Control header already on w is kept.
func WriteRaw(w http.ResponseWriter, code int, contentType string, body []byte) {
	if w.Header().Get("Cache-Control") == "" {
		NoCache(w)
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(code)
	if len(body) > 0 && code != http.StatusNoContent && code != http.StatusNotModified {
		_, _ = w.Write(body)
	}
}

// NoCache sets the Cache-Control and Pragma headers to prevent caching.
// Every gateway response depends on the caller's credentials.
func NoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}
