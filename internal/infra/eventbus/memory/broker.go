// Package memory provides the in-memory event bus used to fan scan lifecycle
// events out to streaming subscribers. Events are ephemeral: nothing is
// persisted and nothing is replayed, so a subscriber only observes events
// published while it is attached.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/metafix/metafix/internal/domain/events"
	"github.com/metafix/metafix/pkg/common/logger"
)

// DefaultBufferSize bounds each subscriber's event buffer. When a subscriber
// falls behind, the oldest buffered event is dropped so publishers never
// block.
const DefaultBufferSize = 256

// ErrBusClosed is returned by Subscribe and PublishDomainEvent after Close.
var ErrBusClosed = errors.New("event bus is closed")

// ConnectHook builds the greeting event delivered to a subscriber the moment
// it attaches, before any subsequently published event.
type ConnectHook func(ctx context.Context) events.DomainEvent

// Broker is an in-memory fan-out bus. Every subscriber receives every event
// published after it attached, in publication order, through its own bounded
// channel.
type Broker struct {
	logger *logger.Logger

	bufferSize  int
	connectHook ConnectHook

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithBufferSize overrides the per-subscriber buffer capacity.
func WithBufferSize(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithConnectHook installs the hook that greets new subscribers with the
// current system state.
func WithConnectHook(hook ConnectHook) Option {
	return func(b *Broker) { b.connectHook = hook }
}

// NewBroker creates an in-memory event bus.
func NewBroker(log *logger.Logger, opts ...Option) *Broker {
	b := &Broker{
		logger:     log,
		bufferSize: DefaultBufferSize,
		subs:       make(map[*subscription]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetConnectHook installs the greeting hook after construction. The bus is
// created before the job controller, which supplies the snapshot, so the hook
// is wired once both exist.
func (b *Broker) SetConnectHook(hook ConnectHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectHook = hook
}

// PublishDomainEvent delivers the event to every attached subscriber. The call
// never blocks: a subscriber whose buffer is full loses its oldest buffered
// event to make room.
func (b *Broker) PublishDomainEvent(ctx context.Context, event events.DomainEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	for sub := range b.subs {
		b.deliverLocked(sub, event)
	}
	return nil
}

// deliverLocked enqueues the event on one subscriber, dropping that
// subscriber's oldest buffered event when full. Caller holds b.mu, which also
// serializes sends against channel close.
func (b *Broker) deliverLocked(sub *subscription, event events.DomainEvent) {
	select {
	case sub.ch <- event:
		return
	default:
	}

	select {
	case dropped := <-sub.ch:
		b.logger.Debug(context.Background(), "event bus: subscriber buffer full, dropped oldest event",
			"dropped_type", dropped.Type, "incoming_type", event.Type)
	default:
	}

	select {
	case sub.ch <- event:
	default:
	}
}

// Subscribe attaches a new subscriber. When a connect hook is installed, the
// greeting event is the first event on the channel. Cancelling ctx detaches
// the subscriber.
func (b *Broker) Subscribe(ctx context.Context) (events.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}

	sub := &subscription{
		broker: b,
		ch:     make(chan events.DomainEvent, b.bufferSize),
	}
	b.subs[sub] = struct{}{}

	if b.connectHook != nil {
		b.deliverLocked(sub, b.connectHook(ctx))
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()

	return sub, nil
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for sub := range b.subs {
		sub.closeLocked()
		delete(b.subs, sub)
	}
	return nil
}

type subscription struct {
	broker *Broker
	ch     chan events.DomainEvent
	once   sync.Once
}

func (s *subscription) Events() <-chan events.DomainEvent { return s.ch }

// Unsubscribe detaches from the bus and closes the events channel. Safe to
// call multiple times and safe to race with Close.
func (s *subscription) Unsubscribe() {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()

	if _, ok := s.broker.subs[s]; !ok {
		return
	}
	delete(s.broker.subs, s)
	s.closeLocked()
}

// closeLocked closes the channel exactly once. Caller holds broker.mu.
func (s *subscription) closeLocked() {
	s.once.Do(func() { close(s.ch) })
}
