package events

import "time"

// DomainEvent encapsulates all event data flowing through the system,
// providing a standardized format for event processing and distribution.
type DomainEvent struct {
	// ID uniquely identifies this event instance for correlation across
	// subscribers and stream reconnects.
	ID string

	// Type identifies the category of this event for routing and handling.
	Type EventType

	// Key groups related events, typically the job ID the event belongs to.
	Key string

	// Timestamp records when this event was created.
	Timestamp time.Time

	// Payload contains the actual event data. The concrete type depends on
	// the EventType.
	Payload any
}
