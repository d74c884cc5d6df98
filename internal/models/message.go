package models

import (
	"slices"
	"time"
)

type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageVideo    MessageType = "video"
	MessageFile     MessageType = "file"
	MessageAudio    MessageType = "audio"
	MessageLocation MessageType = "location"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageFile, MessageAudio, MessageLocation:
		return true
	}
	return false
}

// RequiresFile reports whether messages of this type must carry a file URL.
func (t MessageType) RequiresFile() bool {
	switch t {
	case MessageImage, MessageVideo, MessageFile, MessageAudio:
		return true
	}
	return false
}

type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

func (s DeliveryStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// Advance returns the status after applying next. Progress never moves
// backwards and failed is only reachable from sent.
func (s DeliveryStatus) Advance(next DeliveryStatus) DeliveryStatus {
	if next == StatusFailed {
		if s == StatusSent || s == "" {
			return StatusFailed
		}
		return s
	}
	if s == StatusFailed {
		return s
	}
	if next.rank() > s.rank() {
		return next
	}
	return s
}

// DeletedMessageContent replaces the content of a message deleted for everyone.
const DeletedMessageContent = "This message was deleted"

type Location struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
	Address   string  `json:"address,omitempty"`
}

type Message struct {
	ID                 string         `json:"id"`
	ConversationID     string         `json:"conversationId"`
	SenderID           string         `json:"senderId"`
	Content            string         `json:"content"`
	MessageType        MessageType    `json:"messageType"`
	FileURL            string         `json:"fileUrl,omitempty"`
	FileName           string         `json:"fileName,omitempty"`
	FileSize           int64          `json:"fileSize,omitempty"`
	Location           *Location      `json:"location,omitempty"`
	ReplyTo            string         `json:"replyTo,omitempty"`
	Status             DeliveryStatus `json:"status"`
	DeliveredTo        []string       `json:"deliveredTo"`
	ReadBy             []string       `json:"readBy"`
	IsEdited           bool           `json:"isEdited"`
	EditedAt           *time.Time     `json:"editedAt,omitempty"`
	DeletedForEveryone bool           `json:"deletedForEveryone"`
	DeletedFor         []string       `json:"-"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

func (m *Message) IsDeliveredTo(userID string) bool {
	return slices.Contains(m.DeliveredTo, userID)
}

func (m *Message) IsReadBy(userID string) bool {
	return slices.Contains(m.ReadBy, userID)
}

func (m *Message) IsDeletedFor(userID string) bool {
	return slices.Contains(m.DeletedFor, userID)
}

// StatusFor computes the aggregate status after a receipt of kind event.
// Direct conversations report the minimum progress across recipients;
// groups advance opportunistically on every receipt.
func (m *Message) StatusFor(conv *Conversation, event DeliveryStatus) DeliveryStatus {
	if conv == nil || conv.Type != ConversationDirect {
		return m.Status.Advance(event)
	}

	recipients := conv.OtherParticipants(m.SenderID)
	if len(recipients) == 0 {
		return m.Status
	}
	allRead, allDelivered := true, true
	for _, r := range recipients {
		if !m.IsReadBy(r) {
			allRead = false
		}
		if !m.IsDeliveredTo(r) {
			allDelivered = false
		}
	}
	switch {
	case allRead:
		return m.Status.Advance(StatusRead)
	case allDelivered:
		return m.Status.Advance(StatusDelivered)
	}
	return m.Status.Advance(StatusSent)
}

// Preview builds the conversation list summary for this message.
func (m *Message) Preview() *LastMessage {
	return &LastMessage{
		MessageID:   m.ID,
		Content:     m.Content,
		SenderID:    m.SenderID,
		MessageType: m.MessageType,
		CreatedAt:   m.CreatedAt,
	}
}

// MessageSummary is the reply-target projection embedded in a MessageView.
type MessageSummary struct {
	ID          string       `json:"id"`
	Content     string       `json:"content"`
	MessageType MessageType  `json:"messageType"`
	Sender      *UserSummary `json:"sender,omitempty"`
}

// MessageView is a message with sender and reply target resolved.
type MessageView struct {
	*Message
	Sender         *UserSummary    `json:"sender,omitempty"`
	ReplyToMessage *MessageSummary `json:"replyToMessage,omitempty"`
}

// MessageQuery selects a page of a conversation's history. Results are
// newest first; Limit already includes any over-fetch.
type MessageQuery struct {
	ConversationID string
	ExcludeFor     string
	BeforeDate     *time.Time
	AfterDate      *time.Time
	Offset         int
	Limit          int
}

type MessagePage struct {
	Messages []*MessageView `json:"messages"`
	Page     int            `json:"page"`
	Limit    int            `json:"limit"`
	HasMore  bool           `json:"hasMore"`
}
