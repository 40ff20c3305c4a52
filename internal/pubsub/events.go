// Package pubsub provides a generic publish/subscribe event system used to
// fan registry lifecycle notifications out to listeners.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// RefreshedEvent fires after the registry adopted a batch of record
	// changes and propagation finished.
	RefreshedEvent EventType = "refreshed"

	// LoadedEvent fires after the registry state was loaded from disk.
	LoadedEvent EventType = "loaded"

	// PropagatedEvent fires after a defaults propagation pass completed.
	PropagatedEvent EventType = "propagated"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
