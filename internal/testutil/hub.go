package testutil

import (
	"sort"
	"sync"

	"social-app/internal/models"
)

// Hub is an in-memory stand-in for the websocket hub. It records every
// event queued per connection instead of writing to a socket.
type Hub struct {
	mu         sync.Mutex
	namespaces map[string]string
	principals map[string]string
	rooms      map[string]map[string]struct{}
	events     map[string][]models.Event
	closed     map[string]bool
}

func NewHub() *Hub {
	return &Hub{
		namespaces: make(map[string]string),
		principals: make(map[string]string),
		rooms:      make(map[string]map[string]struct{}),
		events:     make(map[string][]models.Event),
		closed:     make(map[string]bool),
	}
}

// Connect makes connID a live connection of principalID on namespace.
func (h *Hub) Connect(connID, principalID, namespace string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.namespaces[connID] = namespace
	h.principals[connID] = principalID
	delete(h.closed, connID)
}

func (h *Hub) live(connID string) bool {
	_, ok := h.namespaces[connID]
	return ok && !h.closed[connID]
}

func (h *Hub) EmitTo(connIDs []string, evt models.Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, id := range connIDs {
		if h.live(id) {
			h.events[id] = append(h.events[id], evt)
			n++
		}
	}
	return n
}

func (h *Hub) Broadcast(namespace string, evt models.Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for id, ns := range h.namespaces {
		if ns == namespace && h.live(id) {
			h.events[id] = append(h.events[id], evt)
			n++
		}
	}
	return n
}

func (h *Hub) EmitToRoom(room string, evt models.Event, exceptPrincipalID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for id := range h.rooms[room] {
		if h.principals[id] != exceptPrincipalID && h.live(id) {
			h.events[id] = append(h.events[id], evt)
			n++
		}
	}
	return n
}

func (h *Hub) Join(connID, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.live(connID) {
		return false
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]struct{})
	}
	h.rooms[room][connID] = struct{}{}
	return true
}

func (h *Hub) Leave(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms[room], connID)
}

func (h *Hub) Close(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed[connID] = true
}

// Closed reports whether Close was called for connID.
func (h *Hub) Closed(connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed[connID]
}

// InRoom reports whether connID has joined room.
func (h *Hub) InRoom(connID, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.rooms[room][connID]
	return ok
}

// Events returns a copy of everything queued to connID.
func (h *Hub) Events(connID string) []models.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.Event(nil), h.events[connID]...)
}

// EventsOfType filters Events by type.
func (h *Hub) EventsOfType(connID string, t models.EventType) []models.Event {
	var out []models.Event
	for _, e := range h.Events(connID) {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many events of type t were queued across all connections.
func (h *Hub) Count(t models.EventType) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, evts := range h.events {
		for _, e := range evts {
			if e.Type == t {
				n++
			}
		}
	}
	return n
}

// TotalEvents counts every queued event.
func (h *Hub) TotalEvents() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, evts := range h.events {
		n += len(evts)
	}
	return n
}

// Recipients lists connections that received at least one event of type t.
func (h *Hub) Recipients(t models.EventType) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var ids []string
	for id, evts := range h.events {
		for _, e := range evts {
			if e.Type == t {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// Reset forgets recorded events but keeps connections and rooms.
func (h *Hub) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = make(map[string][]models.Event)
}
