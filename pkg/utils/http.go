package utils

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// WriteJSONResponse writes a JSON response with the given status code
// Sets Content-Type header and handles JSON encoding
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// DecodeJSONBody reads and decodes a JSON request body into dst, enforcing a
// size limit and rejecting trailing garbage.
func DecodeJSONBody(r *http.Request, maxBytes int64, dst interface{}) error {
	body := http.MaxBytesReader(nil, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("invalid JSON body: unexpected trailing data")
	}
	return nil
} 