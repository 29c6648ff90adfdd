// Package events provides domain event handling capabilities for communicating
// state changes and important activities across system boundaries in a
// decoupled way.
package events

import "context"

// DomainEventPublisher publishes domain events to notify other parts of the
// system about important domain changes. It provides a technology-agnostic
// interface to decouple event producers from the underlying delivery
// mechanism.
type DomainEventPublisher interface {
	// PublishDomainEvent sends a domain event to interested subscribers. The
	// call must never block on slow subscribers; delivery is best-effort.
	PublishDomainEvent(ctx context.Context, event DomainEvent) error
}

// Subscription is a live attachment to the event stream. Events arrive on
// Events in publication order until Unsubscribe is called or the bus closes,
// after which the channel is closed.
type Subscription interface {
	// Events returns the channel delivering this subscriber's events.
	Events() <-chan DomainEvent

	// Unsubscribe detaches from the stream and closes the events channel.
	// Safe to call more than once.
	Unsubscribe()
}

// EventBus fans domain events out to any number of concurrent subscribers.
// Each subscriber owns a bounded buffer; when it fills, the oldest buffered
// event is dropped so publishers never block.
type EventBus interface {
	DomainEventPublisher

	// Subscribe attaches a new subscriber to the stream. The returned
	// subscription only sees events published after this call; there is no
	// replay of history.
	Subscribe(ctx context.Context) (Subscription, error)

	// Close shuts down the bus and closes every subscriber channel.
	Close() error
}
