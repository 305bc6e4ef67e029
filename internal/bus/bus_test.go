package bus

import (
	"errors"
	"testing"

	"github.com/thefortaiagency/aether-insight/internal/logger"
)

func TestPublish_InvokesHandlersInOrder(t *testing.T) {
	b := New(logger.NewDiscard())
	var calls []string

	b.Subscribe(EventMatchUpdated, func(e Event) error {
		calls = append(calls, "first")
		return nil
	})
	b.Subscribe(EventMatchUpdated, func(e Event) error {
		calls = append(calls, "second")
		return nil
	})
	b.Subscribe(EventOpFailed, func(e Event) error {
		calls = append(calls, "other")
		return nil
	})

	b.Publish(Event{Type: EventMatchUpdated, MatchID: "m1"})

	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Errorf("calls = %v", calls)
	}
}

func TestPublish_HandlerErrorDoesNotStopDispatch(t *testing.T) {
	b := New(logger.NewDiscard())
	reached := false

	b.Subscribe(EventOpFailed, func(e Event) error { return errors.New("broken") })
	b.Subscribe(EventOpFailed, func(e Event) error {
		reached = true
		return nil
	})

	b.Publish(Event{Type: EventOpFailed})
	if !reached {
		t.Error("second handler should still run")
	}
}

func TestPublish_StampsTimestamp(t *testing.T) {
	b := New(logger.NewDiscard())
	var got Event
	b.Subscribe(EventClockTick, func(e Event) error {
		got = e
		return nil
	})

	b.Publish(Event{Type: EventClockTick})
	if got.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestSubscribeMany(t *testing.T) {
	b := New(logger.NewDiscard())
	count := 0
	b.SubscribeMany(func(e Event) error {
		count++
		return nil
	}, EventDrainCompleted, EventConnectivityChanged)

	b.Publish(Event{Type: EventDrainCompleted})
	b.Publish(Event{Type: EventConnectivityChanged})
	b.Publish(Event{Type: EventReviewNeeded})

	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestPublish_NilBus(t *testing.T) {
	var b *Bus
	b.Publish(Event{Type: EventMatchUpdated})
}
