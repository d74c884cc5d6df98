package models

import "time"

type NotificationType string

const (
	NotificationFriendRequest NotificationType = "friend_request"
	NotificationFriendAccept  NotificationType = "friend_accept"
	NotificationLike          NotificationType = "like"
	NotificationComment       NotificationType = "comment"
	NotificationMessage       NotificationType = "message"
	NotificationSystem        NotificationType = "system"
)

// Notification is ephemeral: it is pushed to live connections and never stored.
type Notification struct {
	ID        string                 `json:"id"`
	Type      NotificationType       `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Link      string                 `json:"link,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}
