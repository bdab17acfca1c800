// Package httpx carries the JSON wire conventions shared by every handler:
// tagged error envelopes, epoch-millisecond timestamps and request decoding.
package httpx

import (
	"encoding/json"
	"net/http"
)

// JSON writes data with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// NoContent writes an empty 204 response.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
