// Package bus provides topic-based pub/sub used to notify listeners (UI, tray,
// local API clients) about history, recording state and config changes.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	. "github.com/roelfdiedericks/goscribe/internal/logging"
)

// Well-known topics.
const (
	TopicHistoryChanged    = "history.changed"
	TopicRecordingState    = "recording.state"
	TopicTranscriptReady   = "transcript.ready"
	TopicPostProcessFailed = "postprocess.failed"
	TopicConfigApplied     = "config.applied"
)

// Event represents a notification broadcast to subscribers (pub/sub pattern)
type Event struct {
	Topic     string    `json:"topic"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // "pipeline", "config", "api", ...
}

// EventHandler processes an event (fire and forget)
type EventHandler func(Event)

// SubscriptionID uniquely identifies an event subscription
type SubscriptionID uint64

type subscription struct {
	id      SubscriptionID
	handler EventHandler
}

// Bus routes events to subscribers. The zero value is not usable; use New.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID uint64

	// Sync runs handlers inline instead of in goroutines.
	Sync bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

var defaultBus = New()

// Default returns the process-wide bus.
func Default() *Bus { return defaultBus }

// Subscribe registers a handler for a topic. The wildcard topic "*" receives every event.
func (b *Bus) Subscribe(topic string, handler EventHandler) SubscriptionID {
	id := SubscriptionID(atomic.AddUint64(&b.nextID, 1))

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: handler})

	L_debug("bus: event subscribed", "topic", topic, "subscriptionID", id)
	return id
}

// Unsubscribe removes a subscription by its ID.
// Returns true if the subscription was found and removed.
func (b *Bus) Unsubscribe(id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subs {
		for i, sub := range subs {
			if sub.id != id {
				continue
			}
			b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
			L_debug("bus: event unsubscribed", "topic", topic, "subscriptionID", id)
			return true
		}
	}
	return false
}

// Publish broadcasts an event to all subscribers of the topic and to wildcard subscribers.
func (b *Bus) Publish(topic string, data any, source string) {
	event := Event{
		Topic:     topic,
		Data:      data,
		Timestamp: time.Now(),
		Source:    source,
	}

	b.mu.RLock()
	targets := make([]subscription, 0, len(b.subs[topic])+len(b.subs["*"]))
	targets = append(targets, b.subs[topic]...)
	targets = append(targets, b.subs["*"]...)
	b.mu.RUnlock()

	if len(targets) == 0 {
		L_trace("bus: event published (no subscribers)", "topic", topic)
		return
	}

	L_debug("bus: event published", "topic", topic, "subscribers", len(targets), "source", source)

	for _, sub := range targets {
		if b.Sync {
			b.dispatch(sub, event)
			continue
		}
		go b.dispatch(sub, event)
	}
}

func (b *Bus) dispatch(s subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			L_error("bus: event handler panic", "topic", event.Topic, "subscriptionID", s.id, "panic", r)
		}
	}()
	s.handler(event)
}

// Count returns the number of subscribers for a topic
func (b *Bus) Count(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// SubscribeEvent registers a handler on the default bus.
func SubscribeEvent(topic string, handler EventHandler) SubscriptionID {
	return defaultBus.Subscribe(topic, handler)
}

// UnsubscribeEvent removes a subscription from the default bus.
func UnsubscribeEvent(id SubscriptionID) bool {
	return defaultBus.Unsubscribe(id)
}

// PublishEvent broadcasts on the default bus with source "system".
func PublishEvent(topic string, data any) {
	defaultBus.Publish(topic, data, "system")
}

// CountEventSubscribers returns the subscriber count for a topic on the default bus.
func CountEventSubscribers(topic string) int {
	return defaultBus.Count(topic)
}
