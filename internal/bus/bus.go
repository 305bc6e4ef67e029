// Package bus is the in-process event bus that connects the scoring core to
// its observers: the operator websocket hub, the realtime merger and the sync
// runner.
package bus

import (
	"sync"
	"time"

	"github.com/thefortaiagency/aether-insight/internal/logger"
)

// EventType names a topic
type EventType string

const (
	EventMatchUpdated        EventType = "match_updated"
	EventScoreRecorded       EventType = "score_recorded"
	EventPeriodEnded         EventType = "period_ended"
	EventClockTick           EventType = "clock_tick"
	EventMatchIDRewritten    EventType = "match_id_rewritten"
	EventConnectivityChanged EventType = "connectivity_changed"
	EventDrainCompleted      EventType = "drain_completed"
	EventOpFailed            EventType = "op_failed"
	EventOpEnqueued          EventType = "op_enqueued"
	EventUploadProgress      EventType = "upload_progress"
	EventRemoteMatchChanged  EventType = "remote_match_changed"
	EventRealtimeStatus      EventType = "realtime_status"
	EventReviewNeeded        EventType = "review_needed"
)

// Event is the envelope that flows through the bus
type Event struct {
	Type      EventType
	MatchID   string
	Timestamp time.Time
	Payload   any
}

// Handler processes an event. Returning an error logs it but does not stop dispatch.
type Handler func(Event) error

// Bus is a synchronous in-process event bus.
// Subscribers are invoked in registration order on the publisher's goroutine.
// Handlers that do slow work must hand it to their own goroutine.
type Bus struct {
	log      logger.Logger
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// New creates an empty bus
func New(log logger.Logger) *Bus {
	return &Bus{
		log:      log,
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe registers a handler for a given event type.
func (b *Bus) Subscribe(eventType EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// SubscribeMany registers h for several event types.
func (b *Bus) SubscribeMany(h Handler, types ...EventType) {
	for _, t := range types {
		b.Subscribe(t, h)
	}
}

// Publish dispatches an event to all registered handlers for its type.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	handlers := b.handlers[e.Type]
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(e); err != nil {
			b.log.Warn("Event handler failed", "event", e.Type, "match_id", e.MatchID, "error", err)
		}
	}
}
