// internal/events/events.go
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"merithub/internal/models"
)

// ===============================
// EVENT TYPES
// ===============================

// EventType identifies the kind of domain event
type EventType string

const (
	EventBadgeAwarded EventType = "badge.awarded"
	EventBadgeRevoked EventType = "badge.revoked"
)

// BadgeAwardedEvent is published after an award transaction commits
type BadgeAwardedEvent struct {
	Award      *models.BadgeAward
	Definition *models.BadgeDefinition
	ActorID    int64
	OccurredAt time.Time
}

// BadgeRevokedEvent is published after a revocation transaction commits
type BadgeRevokedEvent struct {
	Result     *models.RevocationResult
	ActorID    int64
	OccurredAt time.Time
}

// ===============================
// EVENT BUS
// ===============================

// Handler processes a single published event
type Handler func(ctx context.Context, event interface{})

// Bus is an in-process publish/subscribe dispatcher. Publishers fire
// events only after their transaction has committed; handler failures
// never affect the originating request.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	logger   *zap.Logger
}

// NewBus creates an event bus
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for the given event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish dispatches the event to all subscribed handlers
// asynchronously. Each handler runs in its own goroutine with panic
// recovery.
func (b *Bus) Publish(ctx context.Context, eventType EventType, event interface{}) {
	b.mu.RLock()
	handlers := b.handlers[eventType]
	b.mu.RUnlock()

	for _, handler := range handlers {
		go b.dispatch(ctx, eventType, handler, event)
	}
}

func (b *Bus) dispatch(ctx context.Context, eventType EventType, handler Handler, event interface{}) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked",
				zap.String("event_type", string(eventType)),
				zap.Any("panic", r),
			)
		}
	}()
	handler(ctx, event)
}
