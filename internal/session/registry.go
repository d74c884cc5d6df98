// Package session tracks which live connections belong to which principal.
//
// The registry is the single source of truth for connectivity: a principal
// is online exactly while its tab set is non-empty. State lives in memory
// only and is rebuilt from scratch as clients reconnect after a restart.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 64

type session struct {
	tabs         map[string]time.Time
	connectedAt  time.Time
	lastActivity time.Time
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

// Registry maps principal ids to their open connections. Operations on the
// same principal are linearized by that principal's shard lock; principals
// on different shards never contend.
type Registry struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// Snapshot is a point-in-time copy of one principal's session.
type Snapshot struct {
	PrincipalID  string
	Tabs         []string
	ConnectedAt  time.Time
	LastActivity time.Time
}

func NewRegistry() *Registry {
	r := &Registry{now: time.Now}
	for i := range r.shards {
		r.shards[i] = &shard{sessions: make(map[string]*session)}
	}
	return r
}

// SetClock replaces the time source.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

func (r *Registry) shardFor(principalID string) *shard {
	return r.shards[xxhash.Sum64String(principalID)%shardCount]
}

// Register adds connID to the principal's tab set and reports whether it was
// the first tab. onFirst, when non-nil, runs under the principal's lock
// before Register returns, so it is ordered against any concurrent
// Deregister callback for the same principal. Callbacks must not call back
// into the registry.
func (r *Registry) Register(principalID, connID string, onFirst func()) bool {
	sh := r.shardFor(principalID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := r.now()
	s, ok := sh.sessions[principalID]
	if !ok {
		s = &session{tabs: make(map[string]time.Time), connectedAt: now}
		sh.sessions[principalID] = s
	}
	s.tabs[connID] = now
	s.lastActivity = now

	if !ok && onFirst != nil {
		onFirst()
	}
	return !ok
}

// Deregister removes connID and reports whether it was the principal's last
// tab, in which case the session is gone when Deregister returns. Removing an
// unknown connection is a no-op that reports false. onLast follows the same
// rules as Register's onFirst.
func (r *Registry) Deregister(principalID, connID string, onLast func()) bool {
	sh := r.shardFor(principalID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, ok := sh.sessions[principalID]
	if !ok {
		return false
	}
	if _, ok := s.tabs[connID]; !ok {
		return false
	}
	delete(s.tabs, connID)
	if len(s.tabs) > 0 {
		return false
	}
	delete(sh.sessions, principalID)
	if onLast != nil {
		onLast()
	}
	return true
}

// Touch refreshes lastActivity. It reports false when the principal is offline.
func (r *Registry) Touch(principalID string) bool {
	sh := r.shardFor(principalID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, ok := sh.sessions[principalID]
	if !ok {
		return false
	}
	s.lastActivity = r.now()
	return true
}

func (r *Registry) IsOnline(principalID string) bool {
	sh := r.shardFor(principalID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	_, ok := sh.sessions[principalID]
	return ok
}

func (r *Registry) TabCount(principalID string) int {
	sh := r.shardFor(principalID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if s, ok := sh.sessions[principalID]; ok {
		return len(s.tabs)
	}
	return 0
}

// Tabs returns the principal's connection ids, oldest first.
func (r *Registry) Tabs(principalID string) []string {
	sh := r.shardFor(principalID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.sessions[principalID]
	if !ok {
		return nil
	}
	return sortedTabs(s)
}

func sortedTabs(s *session) []string {
	tabs := make([]string, 0, len(s.tabs))
	for id := range s.tabs {
		tabs = append(tabs, id)
	}
	sort.Slice(tabs, func(i, j int) bool {
		ti, tj := s.tabs[tabs[i]], s.tabs[tabs[j]]
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return tabs[i] < tabs[j]
	})
	return tabs
}

// Snapshot copies the principal's session. ok is false when offline.
func (r *Registry) Snapshot(principalID string) (Snapshot, bool) {
	sh := r.shardFor(principalID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.sessions[principalID]
	if !ok {
		return Snapshot{PrincipalID: principalID}, false
	}
	return Snapshot{
		PrincipalID:  principalID,
		Tabs:         sortedTabs(s),
		ConnectedAt:  s.connectedAt,
		LastActivity: s.lastActivity,
	}, true
}

// ListOnline returns every principal with at least one tab, sorted. Shards
// are visited one at a time, so the result is not a global atomic snapshot.
func (r *Registry) ListOnline() []string {
	var ids []string
	for _, sh := range r.shards {
		sh.mu.RLock()
		for id := range sh.sessions {
			ids = append(ids, id)
		}
		sh.mu.RUnlock()
	}
	sort.Strings(ids)
	return ids
}

// OnlineCount returns the number of online principals.
func (r *Registry) OnlineCount() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}
