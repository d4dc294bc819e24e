// internal/contextutils/context.go
package contextutils

import (
	"context"

	"merithub/internal/models"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	actorKey     contextKey = "actor"
)

// WithRequestID stores the request ID in the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithActor stores the authenticated actor in the context
func WithActor(ctx context.Context, actor *models.ActorContext) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor retrieves the authenticated actor from the context.
// Returns nil when the request is unauthenticated.
func GetActor(ctx context.Context) *models.ActorContext {
	if actor, ok := ctx.Value(actorKey).(*models.ActorContext); ok {
		return actor
	}
	return nil
}
