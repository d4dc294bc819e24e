// internal/middleware/request_id.go
package middleware

import (
	"net/http"

	"github.com/gofrs/uuid"

	"merithub/internal/contextutils"
)

const requestIDHeader = "X-Request-ID"

// RequestID assigns each request a unique id, honoring one supplied by
// an upstream proxy, and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			if id, err := uuid.NewV4(); err == nil {
				requestID = id.String()
			}
		}

		w.Header().Set(requestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(contextutils.WithRequestID(r.Context(), requestID)))
	})
}
