package server

import (
	"sync"

	"github.com/rs/xid"
)

// Hub fans status snapshots out to SSE subscribers. Sends never block: a
// subscriber that cannot keep up drops frames, not the broadcaster.
type Hub struct {
	mu   sync.Mutex
	subs map[string]chan []byte
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]chan []byte)}
}

// Subscribe registers a new listener and returns its ID and channel.
func (h *Hub) Subscribe() (string, <-chan []byte) {
	id := xid.New().String()
	ch := make(chan []byte, 8)
	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a listener. Safe to call for an unknown ID.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
	h.mu.Unlock()
}

// Broadcast delivers one frame to every subscriber with room in its buffer.
func (h *Hub) Broadcast(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- frame:
		default:
		}
	}
}

// Count returns the number of active subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
