package stream

import (
	"sync"

	"github.com/drbilel35-sudo/cctv-backend/pkg/models"
)

// subscriberBuffer is the bounded per-subscriber event buffer. A slow
// consumer loses its oldest events instead of blocking delivery to others.
const subscriberBuffer = 32

type subscriber struct {
	ch chan models.SessionEvent
}

// FanoutHub broadcasts session events to all subscribers of a session key.
// Publishing is fire-and-forget and tolerates zero subscribers.
type FanoutHub struct {
	mu       sync.RWMutex
	sessions map[string]map[*subscriber]struct{}
}

// NewFanoutHub creates an empty hub.
func NewFanoutHub() *FanoutHub {
	return &FanoutHub{
		sessions: make(map[string]map[*subscriber]struct{}),
	}
}

// Subscribe returns a receive channel for a session's events plus a cancel
// function. The channel is closed on cancel or when the session closes.
func (h *FanoutHub) Subscribe(sessionKey string) (<-chan models.SessionEvent, func()) {
	sub := &subscriber{ch: make(chan models.SessionEvent, subscriberBuffer)}

	h.mu.Lock()
	if h.sessions[sessionKey] == nil {
		h.sessions[sessionKey] = make(map[*subscriber]struct{})
	}
	h.sessions[sessionKey][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if subs, ok := h.sessions[sessionKey]; ok {
				if _, present := subs[sub]; present {
					delete(subs, sub)
					close(sub.ch)
					if len(subs) == 0 {
						delete(h.sessions, sessionKey)
					}
				}
			}
			h.mu.Unlock()
		})
	}

	return sub.ch, cancel
}

// Publish delivers an event to every subscriber of the session. Each
// subscriber has its own bounded buffer; when one is full its oldest event
// is dropped to make room.
func (h *FanoutHub) Publish(sessionKey string, event models.SessionEvent) {
	// Sends are non-blocking, so the read lock is held for the whole
	// delivery. Channel close only ever happens under the write lock,
	// which keeps send-on-closed-channel impossible.
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs, ok := h.sessions[sessionKey]
	if !ok {
		return
	}

	for sub := range subs {
		select {
		case sub.ch <- event:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
}

// CloseSession closes every subscriber channel for the session and drops
// the session entry.
func (h *FanoutHub) CloseSession(sessionKey string) {
	h.mu.Lock()
	subs, ok := h.sessions[sessionKey]
	if ok {
		delete(h.sessions, sessionKey)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	for sub := range subs {
		close(sub.ch)
	}
}

// SubscriberCount returns the number of subscribers for a session.
func (h *FanoutHub) SubscriberCount(sessionKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionKey])
}
