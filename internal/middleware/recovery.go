// internal/middleware/recovery.go
package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"merithub/internal/contextutils"
	"merithub/internal/response"
)

// Recovery converts handler panics into 500 responses
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Handler panicked",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
						zap.String("request_id", contextutils.GetRequestID(r.Context())),
						zap.ByteString("stack", debug.Stack()),
					)
					response.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
