// Package httputil centralizes JSON response and error envelope writing so
// every handler emits the same shape.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "bioattend/pkg/domain-errors"
)

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the JSON error envelope returned to clients.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	// ConfidenceScore carries the raw similarity for verification failures so
	// clients can decide whether to prompt for a retry.
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`
}

// WriteError translates a domain error into the JSON error envelope. Internal
// errors omit the message so store and infrastructure details never reach
// clients.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	resp := ErrorResponse{Error: string(code)}

	var de *dErrors.Error
	if errors.As(err, &de) && code != dErrors.CodeInternal {
		resp.Message = de.Message
		resp.ConfidenceScore = de.Confidence
	}

	WriteJSON(w, dErrors.ToHTTPStatus(code), resp)
}
