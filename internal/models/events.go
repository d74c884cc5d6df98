package models

import (
	"time"

	"github.com/goccy/go-json"
)

type EventType string

// Channel namespaces. Admin connections never receive default-namespace broadcasts.
const (
	NamespaceDefault = "/"
	NamespaceAdmin   = "/admin"
)

// NotificationRoom is the room a connection joins to subscribe to a principal's notifications.
func NotificationRoom(principalID string) string {
	return "notifications:" + principalID
}

// ConversationRoom is the room for one conversation's typing and update traffic.
func ConversationRoom(conversationID string) string {
	return "conversation:" + conversationID
}

// Client → server events on the default namespace.
const (
	EventSendMessage              EventType = "send-message"
	EventEditMessage              EventType = "edit-message"
	EventDeleteMessage            EventType = "delete-message"
	EventTyping                   EventType = "typing"
	EventMessageDelivered         EventType = "message-delivered"
	EventMessageRead              EventType = "message-read"
	EventMarkConversationRead     EventType = "mark-conversation-read"
	EventFetchMessages            EventType = "fetch-messages"
	EventJoinRoom                 EventType = "join-room"
	EventLeaveRoom                EventType = "leave-room"
	EventHeartbeat                EventType = "heartbeat"
	EventSetStatus                EventType = "set-status"
	EventCheckUserPresence        EventType = "check-user-presence"
	EventGetOnlineAmong           EventType = "get-online-among"
	EventSubscribeNotifications   EventType = "subscribe-notifications"
	EventUnsubscribeNotifications EventType = "unsubscribe-notifications"
	EventMarkNotificationRead     EventType = "mark-notification-read"
	EventAck                      EventType = "ack"
)

// Client → server events on the admin namespace.
const (
	EventDashboardStats   EventType = "dashboard-stats"
	EventOnlineUsers      EventType = "online-users"
	EventBroadcastMessage EventType = "broadcast-message"
	EventKickUser         EventType = "kick-user"
	EventGetUserSessions  EventType = "get-user-sessions"
)

// Server → client events.
const (
	EventNewMessage         EventType = "new-message"
	EventMessageSent        EventType = "message-sent"
	EventMessageUpdated     EventType = "message-updated"
	EventMessageDeleted     EventType = "message-deleted"
	EventUserTyping         EventType = "user-typing"
	EventMessageDeliveredTo EventType = "message-delivered"
	EventMessageReadReceipt EventType = "message-read-receipt"
	EventMessagesRead       EventType = "messages-read"
	EventHeartbeatAck       EventType = "heartbeat-ack"
	EventStatusChanged      EventType = "status-changed"
	EventNewNotification    EventType = "new-notification"
	EventNotificationRead   EventType = "notification-read"
	EventSystemNotification EventType = "system-notification"
	EventForcedDisconnect   EventType = "forced-disconnect"
	EventAdminBroadcast     EventType = "admin-broadcast"
	EventError              EventType = "error"
)

// Envelope is the inbound frame. Data is decoded into the payload type
// registered for Type before any handler runs.
type Envelope struct {
	Type  EventType       `json:"type"`
	AckID string          `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is an outbound frame.
type Event struct {
	Type  EventType   `json:"type"`
	AckID string      `json:"ackId,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

func NewEvent(t EventType, data interface{}) Event {
	return Event{Type: t, Data: data}
}

// AckResponse answers a client event that carried an ackId.
type AckResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

type ErrorBody struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Event   EventType `json:"event,omitempty"`
}

func NewErrorBody(err error, event EventType) *ErrorBody {
	e := Classify(err)
	// Only validation errors expose their cause; store internals stay server-side.
	msg := e.Message
	if e.Kind == KindValidation && e.Err != nil {
		msg = e.Error()
	}
	return &ErrorBody{Kind: e.Kind, Code: e.Code, Message: msg, Event: event}
}

// Client payloads.

type SendMessagePayload struct {
	ConversationID  string      `json:"conversationId" validate:"required"`
	Content         string      `json:"content" validate:"max=5000"`
	MessageType     MessageType `json:"messageType" validate:"omitempty,oneof=text image video file audio location"`
	FileURL         string      `json:"fileUrl" validate:"omitempty,url"`
	FileName        string      `json:"fileName" validate:"max=255"`
	FileSize        int64       `json:"fileSize" validate:"gte=0"`
	Location        *Location   `json:"location" validate:"omitempty"`
	ReplyTo         string      `json:"replyTo"`
	ClientMessageID string      `json:"clientMessageId" validate:"max=64"`
}

type EditMessagePayload struct {
	MessageID string `json:"messageId" validate:"required"`
	Content   string `json:"content" validate:"required,max=5000"`
}

type DeleteScope string

const (
	DeleteForMe       DeleteScope = "me"
	DeleteForEveryone DeleteScope = "everyone"
)

type DeleteMessagePayload struct {
	MessageID string      `json:"messageId" validate:"required"`
	Scope     DeleteScope `json:"scope" validate:"required,oneof=me everyone"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId" validate:"required"`
	IsTyping       bool   `json:"isTyping"`
}

type ReceiptPayload struct {
	MessageID string `json:"messageId" validate:"required"`
}

type ConversationPayload struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

type FetchMessagesPayload struct {
	ConversationID string     `json:"conversationId" validate:"required"`
	BeforeDate     *time.Time `json:"beforeDate"`
	AfterDate      *time.Time `json:"afterDate"`
	Page           int        `json:"page" validate:"gte=0"`
	Limit          int        `json:"limit" validate:"gte=0,lte=100"`
}

type SetStatusPayload struct {
	Status PresenceStatus `json:"status" validate:"required,oneof=online away busy offline"`
}

type UserPayload struct {
	UserID string `json:"userId" validate:"required"`
}

type UserIDsPayload struct {
	UserIDs []string `json:"userIds" validate:"required,max=500,dive,required"`
}

type NotificationReadPayload struct {
	NotificationID string `json:"notificationId" validate:"required"`
}

type AdminBroadcastPayload struct {
	Message  string `json:"message" validate:"required,max=2000"`
	Severity string `json:"severity" validate:"omitempty,oneof=info warning critical"`
}

type KickPayload struct {
	UserID string `json:"userId" validate:"required"`
	Reason string `json:"reason" validate:"max=500"`
}

// Server payloads.

type MessageSentData struct {
	Message         *MessageView   `json:"message,omitempty"`
	ClientMessageID string         `json:"clientMessageId,omitempty"`
	Status          DeliveryStatus `json:"status"`
}

type MessageDeletedData struct {
	MessageID      string      `json:"messageId"`
	ConversationID string      `json:"conversationId"`
	Scope          DeleteScope `json:"scope"`
}

type UserTypingData struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	DisplayName    string `json:"displayName"`
	IsTyping       bool   `json:"isTyping"`
}

type ReceiptData struct {
	MessageID      string         `json:"messageId"`
	ConversationID string         `json:"conversationId"`
	DeliveredTo    string         `json:"deliveredTo,omitempty"`
	ReadBy         string         `json:"readBy,omitempty"`
	Status         DeliveryStatus `json:"status"`
	At             time.Time      `json:"at"`
}

type MessagesReadData struct {
	ConversationID string    `json:"conversationId"`
	ReadBy         string    `json:"readBy"`
	Count          int       `json:"count"`
	At             time.Time `json:"at"`
}

type HeartbeatAckData struct {
	Timestamp time.Time `json:"timestamp"`
}

type StatusChangedData struct {
	UserID    string         `json:"userId"`
	Status    PresenceStatus `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
}

type NotificationReadData struct {
	NotificationID string `json:"notificationId"`
}

type BroadcastData struct {
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	From      string    `json:"from,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ForcedDisconnectData struct {
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

type BroadcastResult struct {
	Recipients int       `json:"recipients"`
	Timestamp  time.Time `json:"timestamp"`
}

type KickResult struct {
	UserID       string `json:"userId"`
	TabsNotified int    `json:"tabsNotified"`
}
