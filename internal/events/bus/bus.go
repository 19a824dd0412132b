// Package bus provides the event bus the daemon publishes on: an in-memory
// implementation for single-process runs and a NATS implementation for
// deployments that already run a broker.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is a message on the event bus.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"` // component that produced the event
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEvent creates an event with a generated id and current timestamp.
func NewEvent(eventType, source string, data map[string]any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler handles a delivered event.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription is an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus is implemented by the in-memory and NATS buses. Subjects follow
// NATS conventions: dot-separated tokens, with * matching exactly one token
// and > matching one or more trailing tokens.
type EventBus interface {
	// Publish delivers an event to all subscriptions matching the subject.
	Publish(ctx context.Context, subject string, event *Event) error

	// Subscribe registers a handler for a subject pattern.
	Subscribe(subject string, handler EventHandler) (Subscription, error)

	// Close shuts the bus down; subsequent publishes fail.
	Close()

	// IsConnected reports whether the bus can deliver events.
	IsConnected() bool
}
