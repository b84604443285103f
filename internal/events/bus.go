package events

import (
	"errors"
	"sync"
	"time"

	"pfctl/pkg/logging"

	"github.com/google/uuid"
)

// ErrBusClosed is returned by Subscribe once the bus has been closed.
var ErrBusClosed = errors.New("event bus is closed")

// DefaultBufferSize is the per-subscription queue length. Publishers block
// when a subscriber falls this far behind.
const DefaultBufferSize = 64

// Subscription is a live registration on one event channel.
type Subscription struct {
	ID      string
	Channel string

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	bus       *Bus
}

// C returns the stream of events for this subscription, in publish order.
func (s *Subscription) C() <-chan Event {
	return s.events
}

// Done is closed when the subscription is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close removes the subscription from its bus. It is safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.bus != nil {
			s.bus.remove(s)
		}
	})
}

// IsClosed returns whether the subscription is closed
func (s *Subscription) IsClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Metrics tracks event bus activity.
type Metrics struct {
	TotalSubscriptions  int
	ActiveSubscriptions int
	EventsPublished     int64
	EventsDelivered     int64
	LastEventTime       time.Time
	EventsByType        map[EventType]int64
}

// Bus routes lifecycle events to per-session channels. Delivery to each
// subscription is ordered and lossless.
type Bus struct {
	mu         sync.RWMutex
	channels   map[string]map[string]*Subscription
	metrics    Metrics
	bufferSize int
	closed     bool
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		channels:   make(map[string]map[string]*Subscription),
		bufferSize: DefaultBufferSize,
		metrics: Metrics{
			EventsByType: make(map[EventType]int64),
		},
	}
}

// Subscribe registers interest in one event channel, typically
// ChannelName(sessionID).
func (b *Bus) Subscribe(channel string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	sub := &Subscription{
		ID:      uuid.New().String(),
		Channel: channel,
		events:  make(chan Event, b.bufferSize),
		done:    make(chan struct{}),
		bus:     b,
	}

	subs, ok := b.channels[channel]
	if !ok {
		subs = make(map[string]*Subscription)
		b.channels[channel] = subs
	}
	subs[sub.ID] = sub
	b.metrics.TotalSubscriptions++
	b.metrics.ActiveSubscriptions++

	logging.Debug("EventBus", "Subscription %s opened on %s", sub.ID, channel)
	return sub, nil
}

// Publish delivers ev to every subscriber of the session's channel. It
// blocks while a subscriber's queue is full, and skips subscribers that
// close in the meantime.
func (b *Bus) Publish(ev Event) {
	channel := ChannelName(ev.SessionID())

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	// Copy to avoid holding the lock during delivery
	targets := make([]*Subscription, 0, len(b.channels[channel]))
	for _, sub := range b.channels[channel] {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		select {
		case sub.events <- ev:
			delivered++
		case <-sub.done:
		}
	}

	b.mu.Lock()
	b.metrics.EventsPublished++
	b.metrics.EventsByType[ev.Type()]++
	b.metrics.EventsDelivered += int64(delivered)
	b.metrics.LastEventTime = ev.Timestamp()
	b.mu.Unlock()
}

// Metrics returns a copy of the bus metrics.
func (b *Bus) Metrics() Metrics {
	b.mu.RLock()
	defer b.mu.RUnlock()

	metrics := b.metrics
	metrics.EventsByType = make(map[EventType]int64, len(b.metrics.EventsByType))
	for k, v := range b.metrics.EventsByType {
		metrics.EventsByType[k] = v
	}
	return metrics
}

// Close closes the bus and all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*Subscription
	for _, subs := range b.channels {
		for _, sub := range subs {
			all = append(all, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range all {
		sub.Close()
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.channels[sub.Channel]
	if !ok {
		return
	}
	if _, exists := subs[sub.ID]; !exists {
		return
	}
	delete(subs, sub.ID)
	if len(subs) == 0 {
		delete(b.channels, sub.Channel)
	}
	b.metrics.ActiveSubscriptions--
}
