package models

import "time"

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusBusy    PresenceStatus = "busy"
	StatusOffline PresenceStatus = "offline"
)

func (s PresenceStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// PresenceInfo is a principal's connectivity snapshot plus its status.
type PresenceInfo struct {
	UserID       string         `json:"userId"`
	Online       bool           `json:"online"`
	Status       PresenceStatus `json:"status"`
	TabCount     int            `json:"tabCount"`
	ConnectedAt  *time.Time     `json:"connectedAt,omitempty"`
	LastActivity *time.Time     `json:"lastActivity,omitempty"`
}

type PresenceStats struct {
	TotalOnline int                    `json:"totalOnline"`
	ByStatus    map[PresenceStatus]int `json:"byStatus"`
}

// OnlineUser is the admin view of a connected principal.
type OnlineUser struct {
	PresenceInfo
	User *UserSummary `json:"user,omitempty"`
}

// SessionSnapshot is returned by the admin session inspector.
type SessionSnapshot struct {
	User     *User        `json:"user"`
	Presence PresenceInfo `json:"presence"`
}
