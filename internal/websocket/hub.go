package websocket

import (
	"context"
	"sync"
	"time"

	"social-app/internal/metrics"
	"social-app/internal/models"
	"social-app/pkg/logger"

	"github.com/goccy/go-json"
)

// Hub indexes live connections by id and by room. Every emit encodes the
// event once and queues the frame on each target without blocking; a client
// whose buffer is full is disconnected.
//
// The hub never calls into the session registry, so registry callbacks may
// emit through it.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client

	sweepInterval time.Duration
	onShutdown    func()
}

func NewHub(sweepInterval time.Duration) *Hub {
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	return &Hub{
		clients:       make(map[string]*Client),
		rooms:         make(map[string]map[string]*Client),
		sweepInterval: sweepInterval,
	}
}

// OnShutdown sets a hook that runs when Serve stops, before connections
// are closed. Events it emits are flushed to the clients.
func (h *Hub) OnShutdown(fn func()) {
	h.mu.Lock()
	h.onShutdown = fn
	h.mu.Unlock()
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	logger.Debug("connection %s registered for %s on %s", c.id, c.principal.ID, c.namespace)
}

// Unregister removes the client from every index and closes its send queue.
// It reports false when the client was already gone.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	if ok {
		delete(h.clients, c.id)
		for room := range c.rooms {
			h.leaveLocked(c.id, room)
		}
	}
	h.mu.Unlock()

	c.shutdown()
	return ok
}

func encode(evt models.Event) ([]byte, bool) {
	frame, err := json.Marshal(evt)
	if err != nil {
		logger.Errorw().Err(err).Str("event", string(evt.Type)).Msg("failed to encode event")
		return nil, false
	}
	return frame, true
}

// deliver queues frame on each client and records the emitted count.
func (h *Hub) deliver(targets []*Client, evt models.Event) int {
	if len(targets) == 0 {
		return 0
	}
	frame, ok := encode(evt)
	if !ok {
		return 0
	}
	n := 0
	for _, c := range targets {
		if c.queue(frame) {
			n++
		}
	}
	metrics.ObserveEventEmitted(string(evt.Type), n)
	return n
}

func (h *Hub) EmitTo(connIDs []string, evt models.Event) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(connIDs))
	for _, id := range connIDs {
		if c, ok := h.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	return h.deliver(targets, evt)
}

// EmitToRoom sends to every member of room except connections owned by exceptPrincipalID.
func (h *Hub) EmitToRoom(room string, evt models.Event, exceptPrincipalID string) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for _, c := range h.rooms[room] {
		if exceptPrincipalID == "" || c.principal.ID != exceptPrincipalID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	return h.deliver(targets, evt)
}

// Broadcast sends to every connection on namespace.
func (h *Hub) Broadcast(namespace string, evt models.Event) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.namespace == namespace {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	return h.deliver(targets, evt)
}

// Join adds the connection to room. It reports false for unknown connections.
func (h *Hub) Join(connID, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	if !ok {
		return false
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[connID] = c
	c.rooms[room] = struct{}{}
	return true
}

func (h *Hub) Leave(connID, room string) {
	h.mu.Lock()
	h.leaveLocked(connID, room)
	h.mu.Unlock()
}

func (h *Hub) leaveLocked(connID, room string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	if c, ok := members[connID]; ok {
		delete(c.rooms, room)
		delete(members, connID)
	}
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Close ends a connection after every frame already queued to it is written.
func (h *Hub) Close(connID string) {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if ok {
		c.shutdown()
	}
}

// Count returns the number of connections on namespace.
func (h *Hub) Count(namespace string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.clients {
		if c.namespace == namespace {
			n++
		}
	}
	return n
}

// RoomSize returns the number of connections in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) refreshGauges() {
	for _, ns := range []string{models.NamespaceDefault, models.NamespaceAdmin} {
		metrics.Connections.WithLabelValues(ns).Set(float64(h.Count(ns)))
	}
}

// Serve refreshes connection gauges until ctx ends, then closes every
// connection. It runs as a supervised service.
func (h *Hub) Serve(ctx context.Context) error {
	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.mu.RLock()
			hook := h.onShutdown
			h.mu.RUnlock()
			if hook != nil {
				hook()
			}

			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for _, c := range h.clients {
				clients = append(clients, c)
			}
			h.mu.RUnlock()
			for _, c := range clients {
				c.shutdown()
			}
			logger.Info("hub stopped, closed %d connections", len(clients))
			return ctx.Err()

		case <-ticker.C:
			h.refreshGauges()
		}
	}
}

func (h *Hub) String() string {
	return "websocket-hub"
}
