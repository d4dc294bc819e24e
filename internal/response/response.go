// internal/response/response.go
package response

import (
	"encoding/json"
	"net/http"
	"strconv"

	"merithub/internal/contextutils"
	"merithub/internal/services"
)

// ===============================
// RESPONSE ENVELOPE
// ===============================

// Envelope is the uniform JSON response shape
type Envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorBody  `json:"error,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// ErrorBody is the structured error payload
type ErrorBody struct {
	Type    string                 `json:"type"`
	Code    string                 `json:"code,omitempty"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Meta wraps paginated list payloads
type Meta struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ListPayload pairs list items with pagination metadata
type ListPayload struct {
	Items interface{} `json:"items"`
	Meta  Meta        `json:"meta"`
}

// ===============================
// WRITERS
// ===============================

// WriteJSON writes a success envelope
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	write(w, status, Envelope{
		Success:   true,
		Data:      data,
		RequestID: contextutils.GetRequestID(r.Context()),
	})
}

// WriteError writes an error envelope with an explicit status and code
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	write(w, status, Envelope{
		Success:   false,
		Error:     &ErrorBody{Type: code, Code: code, Message: message},
		RequestID: contextutils.GetRequestID(r.Context()),
	})
}

// WriteServiceError maps a service-layer error to its HTTP shape.
// Rate-limit rejections additionally carry a Retry-After header.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	svcErr := services.GetServiceError(err)

	if svcErr.Type == services.ErrKindRateLimited {
		if retryAfter, ok := svcErr.Details["retry_after_seconds"].(int); ok {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		}
	}

	write(w, svcErr.GetStatusCode(), Envelope{
		Success: false,
		Error: &ErrorBody{
			Type:    svcErr.Type,
			Code:    svcErr.Code,
			Message: svcErr.Message,
			Details: svcErr.Details,
		},
		RequestID: contextutils.GetRequestID(r.Context()),
	})
}

func write(w http.ResponseWriter, status int, envelope Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope)
}
