package models

import (
	"slices"
	"time"
)

type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

type Conversation struct {
	ID           string           `json:"id"`
	Type         ConversationType `json:"type"`
	Name         string           `json:"name,omitempty"`
	Participants []string         `json:"participants"`
	Admins       []string         `json:"admins,omitempty"`
	LastMessage  *LastMessage     `json:"lastMessage,omitempty"`
	CreatedBy    string           `json:"createdBy"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// LastMessage is the cached preview shown in conversation lists.
type LastMessage struct {
	MessageID   string      `json:"messageId"`
	Content     string      `json:"content"`
	SenderID    string      `json:"senderId"`
	MessageType MessageType `json:"messageType"`
	CreatedAt   time.Time   `json:"createdAt"`
}

func (c *Conversation) HasParticipant(userID string) bool {
	return slices.Contains(c.Participants, userID)
}

// OtherParticipants returns every participant except userID.
func (c *Conversation) OtherParticipants(userID string) []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != userID {
			out = append(out, p)
		}
	}
	return out
}

type CreateConversationRequest struct {
	Type           ConversationType `json:"type"`
	Name           string           `json:"name"`
	ParticipantIDs []string         `json:"participantIds"`
}
