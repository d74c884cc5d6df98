package notify

import (
	"context"
	"sync"
	"time"

	"social-app/internal/metrics"
	"social-app/internal/models"
	"social-app/internal/session"
	"social-app/pkg/logger"

	"github.com/google/uuid"
)

// Emitter queues events onto live connections and reports how many accepted them.
type Emitter interface {
	EmitTo(connIDs []string, evt models.Event) int
	Broadcast(namespace string, evt models.Event) int
}

// Notifier pushes out-of-band events to every live tab of a principal.
// Delivery is at-most-once and only reaches connections open at call time.
type Notifier struct {
	registry *session.Registry
	emitter  Emitter
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingAck
}

type pendingAck struct {
	principalID string
	waiting     map[string]struct{}
	acked       int
	done        chan struct{}
}

// AckResult describes an acknowledged send once it settles.
type AckResult struct {
	AckID     string
	Delivered int
	Acked     int
	TimedOut  bool
}

func NewNotifier(registry *session.Registry, emitter Emitter) *Notifier {
	return &Notifier{
		registry: registry,
		emitter:  emitter,
		now:      time.Now,
		pending:  make(map[string]*pendingAck),
	}
}

// Notify emits evt to all of the principal's tabs and returns how many
// received it. With no live tab the event is dropped.
func (n *Notifier) Notify(principalID string, evt models.Event) int {
	return n.NotifyExcept(principalID, "", evt)
}

// NotifyExcept is Notify skipping one connection, typically the originating tab.
func (n *Notifier) NotifyExcept(principalID, exceptConnID string, evt models.Event) int {
	tabs := n.registry.Tabs(principalID)
	if exceptConnID != "" {
		tabs = without(tabs, exceptConnID)
	}
	if len(tabs) == 0 {
		metrics.NotificationsDropped.Inc()
		logger.Debug("dropping %s for offline principal %s", evt.Type, principalID)
		return 0
	}
	return n.emitter.EmitTo(tabs, evt)
}

// NotifyMany emits evt to each principal in turn.
func (n *Notifier) NotifyMany(principalIDs []string, evt models.Event) int {
	total := 0
	for _, id := range principalIDs {
		total += n.Notify(id, evt)
	}
	return total
}

// Send delivers a notification as a new-notification event.
func (n *Notifier) Send(principalID string, note models.Notification) int {
	return n.Notify(principalID, models.NewEvent(models.EventNewNotification, n.stamp(note)))
}

// SendConfirmed is Send in acknowledgement mode; see NotifyWithAck.
func (n *Notifier) SendConfirmed(ctx context.Context, principalID string, note models.Notification, timeout time.Duration) AckResult {
	return n.NotifyWithAck(ctx, principalID, models.NewEvent(models.EventNewNotification, n.stamp(note)), timeout)
}

// Broadcast emits evt to every connection on the default namespace.
func (n *Notifier) Broadcast(evt models.Event) int {
	return n.emitter.Broadcast(models.NamespaceDefault, evt)
}

// BroadcastSystem sends a notification to everyone as a system-notification event.
func (n *Notifier) BroadcastSystem(note models.Notification) int {
	return n.Broadcast(models.NewEvent(models.EventSystemNotification, n.stamp(note)))
}

func (n *Notifier) stamp(note models.Notification) models.Notification {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = n.now()
	}
	return note
}

// NotifyWithAck emits evt carrying a fresh ackId and waits until every tab
// that received it acknowledges, timeout passes, or ctx ends. A missing
// acknowledgement is logged and counted; nothing is retried.
func (n *Notifier) NotifyWithAck(ctx context.Context, principalID string, evt models.Event, timeout time.Duration) AckResult {
	tabs := n.registry.Tabs(principalID)
	if len(tabs) == 0 {
		metrics.NotificationsDropped.Inc()
		return AckResult{}
	}

	ackID := uuid.NewString()
	p := &pendingAck{
		principalID: principalID,
		waiting:     make(map[string]struct{}, len(tabs)),
		done:        make(chan struct{}),
	}
	for _, id := range tabs {
		p.waiting[id] = struct{}{}
	}
	n.mu.Lock()
	n.pending[ackID] = p
	n.mu.Unlock()

	evt.AckID = ackID
	delivered := n.emitter.EmitTo(tabs, evt)
	res := AckResult{AckID: ackID, Delivered: delivered}
	if delivered == 0 {
		n.forget(ackID)
		return res
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.C:
		res.TimedOut = true
	case <-ctx.Done():
		res.TimedOut = true
	}

	n.mu.Lock()
	res.Acked = p.acked
	delete(n.pending, ackID)
	n.mu.Unlock()

	if res.TimedOut {
		metrics.AckTimeouts.Inc()
		logger.Warn("ack %s for %s to %s: %d of %d tabs confirmed", ackID, evt.Type, principalID, res.Acked, delivered)
	}
	return res
}

// ResolveAck records a client acknowledgement. It reports false for unknown
// or already-settled ids and for connections that were not asked.
func (n *Notifier) ResolveAck(ackID, connID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	p, ok := n.pending[ackID]
	if !ok {
		return false
	}
	if _, ok := p.waiting[connID]; !ok {
		return false
	}
	delete(p.waiting, connID)
	p.acked++
	if len(p.waiting) == 0 {
		close(p.done)
		delete(n.pending, ackID)
	}
	return true
}

// DropConnection stops waiting on a closed connection.
func (n *Notifier) DropConnection(connID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, p := range n.pending {
		if _, ok := p.waiting[connID]; !ok {
			continue
		}
		delete(p.waiting, connID)
		if len(p.waiting) == 0 {
			close(p.done)
			delete(n.pending, id)
		}
	}
}

// PendingAcks returns the number of unsettled acknowledged sends.
func (n *Notifier) PendingAcks() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}

func (n *Notifier) forget(ackID string) {
	n.mu.Lock()
	delete(n.pending, ackID)
	n.mu.Unlock()
}

func without(ids []string, drop string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
