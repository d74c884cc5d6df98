package presence

import (
	"sync"
	"time"

	"social-app/internal/metrics"
	"social-app/internal/models"
	"social-app/internal/session"
	"social-app/pkg/logger"
)

// Broadcaster delivers an event to every connected principal.
type Broadcaster interface {
	Broadcast(evt models.Event) int
}

// Tracker keeps the explicit status each principal has chosen, layered over
// the connectivity recorded in the session registry.
//
// Lock order: registry shard, then Tracker.mu. The tracker never calls into
// the registry while holding mu.
type Tracker struct {
	registry *session.Registry
	out      Broadcaster
	now      func() time.Time

	mu       sync.RWMutex
	statuses map[string]models.PresenceStatus
}

func NewTracker(registry *session.Registry, out Broadcaster) *Tracker {
	return &Tracker{
		registry: registry,
		out:      out,
		now:      time.Now,
		statuses: make(map[string]models.PresenceStatus),
	}
}

// SetClock replaces the time source.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Connect registers a tab. On the principal's first tab a leftover offline
// status is cleared and the principal's status is announced.
func (t *Tracker) Connect(principalID, connID string) bool {
	first := t.registry.Register(principalID, connID, func() {
		t.mu.Lock()
		status, ok := t.statuses[principalID]
		if ok && status == models.StatusOffline {
			delete(t.statuses, principalID)
			ok = false
		}
		if !ok {
			status = models.StatusOnline
		}
		t.mu.Unlock()
		t.announce(principalID, status)
	})
	metrics.OnlinePrincipals.Set(float64(t.registry.OnlineCount()))
	return first
}

// Disconnect removes a tab. When it was the last one the principal's status
// is forgotten and exactly one offline status-changed event is broadcast,
// unless the principal had explicitly chosen offline.
func (t *Tracker) Disconnect(principalID, connID string) bool {
	last := t.registry.Deregister(principalID, connID, func() {
		t.mu.Lock()
		prev := t.statuses[principalID]
		delete(t.statuses, principalID)
		t.mu.Unlock()
		if prev != models.StatusOffline {
			t.announce(principalID, models.StatusOffline)
		}
	})
	metrics.OnlinePrincipals.Set(float64(t.registry.OnlineCount()))
	return last
}

// SetStatus stores an explicit status and broadcasts it.
func (t *Tracker) SetStatus(principalID string, status models.PresenceStatus) (models.StatusChangedData, error) {
	if !status.Valid() {
		return models.StatusChangedData{}, models.Validation("invalid_status", "status must be online, away, busy or offline")
	}
	t.mu.Lock()
	t.statuses[principalID] = status
	t.mu.Unlock()
	return t.announce(principalID, status), nil
}

func (t *Tracker) announce(principalID string, status models.PresenceStatus) models.StatusChangedData {
	data := models.StatusChangedData{UserID: principalID, Status: status, Timestamp: t.now()}
	n := t.out.Broadcast(models.NewEvent(models.EventStatusChanged, data))
	logger.Debug("status %s for %s announced to %d connections", status, principalID, n)
	return data
}

// Status returns the stored status, or online/offline from connectivity when
// none was set.
func (t *Tracker) Status(principalID string) models.PresenceStatus {
	t.mu.RLock()
	status, ok := t.statuses[principalID]
	t.mu.RUnlock()
	if ok {
		return status
	}
	if t.registry.IsOnline(principalID) {
		return models.StatusOnline
	}
	return models.StatusOffline
}

// Info combines connectivity and status for one principal.
func (t *Tracker) Info(principalID string) models.PresenceInfo {
	snap, online := t.registry.Snapshot(principalID)
	info := models.PresenceInfo{
		UserID: principalID,
		Online: online,
		Status: t.Status(principalID),
	}
	if online {
		info.TabCount = len(snap.Tabs)
		connectedAt, lastActivity := snap.ConnectedAt, snap.LastActivity
		info.ConnectedAt = &connectedAt
		info.LastActivity = &lastActivity
	} else {
		info.Status = models.StatusOffline
	}
	return info
}

// OnlineAmong returns the online subset of candidates, in input order with
// duplicates removed.
func (t *Tracker) OnlineAmong(candidates []string) []models.PresenceInfo {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]models.PresenceInfo, 0)
	for _, id := range candidates {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if info := t.Info(id); info.Online {
			out = append(out, info)
		}
	}
	return out
}

// Online returns presence for every connected principal.
func (t *Tracker) Online() []models.PresenceInfo {
	return t.OnlineAmong(t.registry.ListOnline())
}

// Stats counts online principals and breaks them down by explicitly set status.
func (t *Tracker) Stats() models.PresenceStats {
	t.mu.RLock()
	explicit := make(map[string]models.PresenceStatus, len(t.statuses))
	for id, s := range t.statuses {
		explicit[id] = s
	}
	t.mu.RUnlock()

	stats := models.PresenceStats{
		TotalOnline: t.registry.OnlineCount(),
		ByStatus:    make(map[models.PresenceStatus]int),
	}
	for id, s := range explicit {
		if t.registry.IsOnline(id) {
			stats.ByStatus[s]++
		}
	}
	return stats
}
