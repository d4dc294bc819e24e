// internal/middleware/structured_logger.go
package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"merithub/internal/contextutils"
)

// statusRecorder captures the response status for logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// StructuredLogger logs one line per request with zap
func StructuredLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(recorder, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", recorder.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			}
			if requestID := contextutils.GetRequestID(r.Context()); requestID != "" {
				fields = append(fields, zap.String("request_id", requestID))
			}
			if actor := contextutils.GetActor(r.Context()); actor != nil {
				fields = append(fields, zap.Int64("actor_id", actor.ActorID))
			}

			switch {
			case recorder.status >= 500:
				logger.Error("Request completed", fields...)
			case recorder.status >= 400:
				logger.Warn("Request completed", fields...)
			default:
				logger.Info("Request completed", fields...)
			}
		})
	}
}
