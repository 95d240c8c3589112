package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/herdctl/herd/pkg/types"
)

// EventType represents the type of event
type EventType string

const (
	EventInstanceStarted   EventType = "instance.started"
	EventInstanceStopping  EventType = "instance.stopping"
	EventInstanceCompleted EventType = "instance.completed"
	EventInstanceFailed    EventType = "instance.failed"
	EventQueueStarted      EventType = "queue.started"
	EventQueueCompleted    EventType = "queue.completed"
	EventQueueFailed       EventType = "queue.failed"
	EventTaskStarted       EventType = "task.started"
	EventTaskCompleted     EventType = "task.completed"
	EventTaskRetrying      EventType = "task.retrying"
	EventTaskBackoff       EventType = "task.backoff"
	EventTaskTimeout       EventType = "task.timeout"
	EventDeviceAcquired    EventType = "device.acquired"
	EventDeviceReleased    EventType = "device.released"
)

// Event is one scheduler lifecycle event.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Identity  types.Identity    `json:"identity"`
	QueueID   int               `json:"queue_id,omitempty"`
	TaskID    int               `json:"task_id,omitempty"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// ringSize bounds the recent-event history served to the control plane.
const ringSize = 256

// Broker fans events out to subscribers and keeps a bounded ring of
// recent events. Slow subscribers drop events rather than block the
// publisher.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
	recent      []*Event

	eventCh chan *Event
	stopCh  chan struct{}
	stopOne sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker. Safe to call more than once.
func (b *Broker) Stop() {
	b.stopOne.Do(func() { close(b.stopCh) })
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish enqueues an event for distribution, stamping its id and
// timestamp if unset.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

// Recent returns the most recent events, oldest first.
func (b *Broker) Recent() []*Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*Event, len(b.recent))
	copy(out, b.recent)
	return out
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.Lock()
	b.recent = append(b.recent, event)
	if len(b.recent) > ringSize {
		b.recent = b.recent[len(b.recent)-ringSize:]
	}
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// subscriber buffer full, drop
		}
	}
}
