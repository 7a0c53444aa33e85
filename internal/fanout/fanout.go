// ABOUTME: In-memory fan-out of monitor events to live subscribers
// ABOUTME: Serialize once, deliver at-most-once, drop subscribers whose writes fail

package fanout

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Event types pushed to subscribers.
const (
	TypeConnected                   = "connected"
	TypeCollaborationEvent          = "collaboration_event"
	TypeSynchronyUpdate             = "synchrony_update"
	TypeConflictAlert               = "conflict_alert"
	TypeOrchestrationRecommendation = "orchestration_recommendation"
	TypeAnomalyDetected             = "anomaly_detected"
)

// Event is the wire envelope for every pushed message.
type Event struct {
	Type           string    `json:"type"`
	Data           any       `json:"data"`
	Timestamp      time.Time `json:"timestamp"`
	Severity       string    `json:"severity,omitempty"`
	RequiresAction bool      `json:"requiresAction,omitempty"`
}

// Subscriber is an opaque delivery target. A Send error means the subscriber
// is gone and will be removed from the registry.
type Subscriber interface {
	ID() string
	Send(data []byte) error
}

// Fanout maintains the live subscriber registry. Delivery is at-most-once
// per subscriber with no retry and no backpressure queue.
type Fanout struct {
	mu          sync.RWMutex
	subscribers map[string]Subscriber
	logger      *slog.Logger

	// onCount, when set, is invoked with the subscriber count after every
	// registry change. Feeds the metrics gauge.
	onCount func(int)
}

// New creates a fanout. Pass nil logger for default; onCount may be nil.
func New(logger *slog.Logger, onCount func(int)) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		subscribers: make(map[string]Subscriber),
		logger:      logger.With("component", "fanout"),
		onCount:     onCount,
	}
}

// Subscribe registers a subscriber and immediately pushes a connected ack.
func (f *Fanout) Subscribe(sub Subscriber) {
	f.mu.Lock()
	f.subscribers[sub.ID()] = sub
	count := len(f.subscribers)
	f.mu.Unlock()

	f.logger.Debug("subscriber added", "sub_id", sub.ID(), "count", count)
	f.notifyCount(count)

	ack := Event{
		Type:      TypeConnected,
		Data:      map[string]any{"subscriberId": sub.ID()},
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(ack)
	if err != nil {
		return
	}
	if err := sub.Send(data); err != nil {
		f.Unsubscribe(sub.ID())
	}
}

// Unsubscribe removes a subscriber by ID. Safe to call for unknown IDs.
func (f *Fanout) Unsubscribe(subID string) {
	f.mu.Lock()
	_, ok := f.subscribers[subID]
	if ok {
		delete(f.subscribers, subID)
	}
	count := len(f.subscribers)
	f.mu.Unlock()

	if ok {
		f.logger.Debug("subscriber removed", "sub_id", subID, "count", count)
		f.notifyCount(count)
	}
}

// Publish serializes the event once and delivers it to every live
// subscriber. A failed Send removes that subscriber and delivery continues
// for the rest.
func (f *Fanout) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		f.logger.Error("failed to marshal event", "type", event.Type, "error", err)
		return
	}

	// Copy targets under read lock so a slow Send never blocks the registry.
	f.mu.RLock()
	targets := make([]Subscriber, 0, len(f.subscribers))
	for _, sub := range f.subscribers {
		targets = append(targets, sub)
	}
	f.mu.RUnlock()

	var failed []string
	for _, sub := range targets {
		if err := sub.Send(data); err != nil {
			f.logger.Debug("dropping failed subscriber",
				"sub_id", sub.ID(), "type", event.Type, "error", err)
			failed = append(failed, sub.ID())
		}
	}
	for _, id := range failed {
		f.Unsubscribe(id)
	}
}

// SubscriberCount returns the number of live subscribers.
func (f *Fanout) SubscriberCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers)
}

// Close removes all subscribers.
func (f *Fanout) Close() {
	f.mu.Lock()
	for id := range f.subscribers {
		delete(f.subscribers, id)
	}
	f.mu.Unlock()

	f.notifyCount(0)
	f.logger.Debug("fanout closed")
}

func (f *Fanout) notifyCount(count int) {
	if f.onCount != nil {
		f.onCount(count)
	}
}
