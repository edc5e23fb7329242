// Package stream pushes live session events to WebSocket clients.
package stream

import (
	"log/slog"
	"sync"

	"github.com/ashureev/persona-lab/internal/session"
)

const subscriberBuffer = 32

// Subscription receives the events of one session. C is closed when the
// subscriber falls behind, the session is reset, or Cancel is called.
type Subscription struct {
	C <-chan session.Event

	ch        chan session.Event
	sessionID string
	hub       *Hub
	closeOnce sync.Once
}

// Cancel detaches the subscription from its hub.
func (s *Subscription) Cancel() {
	s.hub.remove(s)
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// Hub fans session events out to subscribers. It implements session.Observer.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registers a subscriber for sessionID.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	ch := make(chan session.Event, subscriberBuffer)
	sub := &Subscription{C: ch, ch: ch, sessionID: sessionID, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sessionID]; !ok {
		h.subs[sessionID] = make(map[*Subscription]struct{})
	}
	h.subs[sessionID][sub] = struct{}{}
	return sub
}

// Count returns the number of subscribers for sessionID.
func (h *Hub) Count(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// OnEvent implements session.Observer. It never blocks: subscribers whose
// buffer is full are dropped.
func (h *Hub) OnEvent(ev session.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subs[ev.SessionID]
	for sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			slog.Warn("Stream subscriber too slow, dropping", "session_id", ev.SessionID)
			delete(subs, sub)
			sub.close()
		}
	}
	if ev.Type == session.EventReset {
		for sub := range subs {
			sub.close()
		}
		delete(h.subs, ev.SessionID)
		return
	}
	if len(subs) == 0 {
		delete(h.subs, ev.SessionID)
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subs[sub.sessionID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subs, sub.sessionID)
		}
	}
	sub.close()
}
