package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventChallengeAssigned  EventType = "challenge.assigned"
	EventChallengeCompleted EventType = "challenge.completed"
	EventChallengeFailed    EventType = "challenge.failed"
	EventChallengeExpired   EventType = "challenge.expired"
	EventChallengeQueued    EventType = "challenge.queued"
	EventChallengeEnabled   EventType = "challenge.enabled"
	EventChallengeDisabled  EventType = "challenge.disabled"
	EventChallengeTriggered EventType = "challenge.triggered"
	EventRunnerEnrolled     EventType = "runner.enrolled"
	EventRunnerOnline       EventType = "runner.online"
	EventRunnerOffline      EventType = "runner.offline"
	EventRunnerSignedOut    EventType = "runner.signed_out"
	EventSystemPaused       EventType = "system.paused"
	EventSystemResumed      EventType = "system.resumed"
	EventConfigReloaded     EventType = "config.reloaded"

	// EventSnapshot is sent once per websocket connection before any live
	// events, carrying the current aggregate state.
	EventSnapshot EventType = "snapshot"
)

// Event represents a dispatch state change. Events are advisory: they are
// published after the storage commit and delivery is best effort.
type Event struct {
	ID          string            `json:"id"`
	Type        EventType         `json:"type"`
	Timestamp   time.Time         `json:"timestamp"`
	ChallengeID string            `json:"challenge_id,omitempty"`
	RunnerID    string            `json:"runner_id,omitempty"`
	Message     string            `json:"message,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	// Set timestamp if not set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
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
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
