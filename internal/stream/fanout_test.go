package stream

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/drbilel35-sudo/cctv-backend/pkg/models"
)

func TestFanoutPublishSubscribe(t *testing.T) {
	h := NewFanoutHub()

	events, cancel := h.Subscribe("s1")
	defer cancel()

	h.Publish("s1", models.SessionEvent{Kind: models.EventViewerJoined, SessionKey: "s1"})

	select {
	case ev := <-events:
		assert.Equal(t, models.EventViewerJoined, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestFanoutPublishNoSubscribers(t *testing.T) {
	h := NewFanoutHub()
	// Must not block or panic.
	h.Publish("s1", models.SessionEvent{Kind: models.EventSessionStopped})
}

func TestFanoutSlowSubscriberDropsOldest(t *testing.T) {
	h := NewFanoutHub()

	events, cancel := h.Subscribe("s1")
	defer cancel()

	// Overfill the buffer without draining; Publish must never block.
	total := subscriberBuffer + 10
	for i := 0; i < total; i++ {
		h.Publish("s1", models.SessionEvent{
			Kind:    models.EventViewerJoined,
			Message: fmt.Sprintf("event-%d", i),
		})
	}

	// The buffer holds the newest events; the oldest were dropped.
	received := 0
	var last models.SessionEvent
	for {
		select {
		case ev := <-events:
			received++
			last = ev
			continue
		default:
		}
		break
	}

	assert.Equal(t, subscriberBuffer, received)
	assert.Equal(t, fmt.Sprintf("event-%d", total-1), last.Message)
}

func TestFanoutIndependentSubscribers(t *testing.T) {
	h := NewFanoutHub()

	fast, cancelFast := h.Subscribe("s1")
	defer cancelFast()
	_, cancelSlow := h.Subscribe("s1")
	defer cancelSlow()

	h.Publish("s1", models.SessionEvent{Kind: models.EventQualityChanged})

	select {
	case ev := <-fast:
		assert.Equal(t, models.EventQualityChanged, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("fast subscriber starved by slow one")
	}
}

func TestFanoutCloseSession(t *testing.T) {
	h := NewFanoutHub()

	events, cancel := h.Subscribe("s1")
	defer cancel()

	h.CloseSession("s1")

	_, open := <-events
	assert.False(t, open, "channel should be closed after session close")
	assert.Equal(t, 0, h.SubscriberCount("s1"))

	// Cancel after close must not panic.
	cancel()
}

func TestFanoutCancelIdempotent(t *testing.T) {
	h := NewFanoutHub()

	_, cancel := h.Subscribe("s1")
	cancel()
	cancel()

	assert.Equal(t, 0, h.SubscriberCount("s1"))
}
