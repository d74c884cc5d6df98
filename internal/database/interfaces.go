package database

import (
	"context"
	"time"

	"social-app/internal/models"
)

type UserRepository interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, req *models.RegisterRequest) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUsersByIDs(ctx context.Context, ids []string) (map[string]*models.User, error)
}

type ConversationRepository interface {
	CreateConversation(ctx context.Context, conv *models.Conversation) (*models.Conversation, error)
	GetConversationByID(ctx context.Context, id string) (*models.Conversation, error)
	ListUserConversations(ctx context.Context, userID string) ([]*models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	GetParticipants(ctx context.Context, conversationID string) ([]string, error)
	UpdateLastMessage(ctx context.Context, conversationID string, last *models.LastMessage) error
}

type MessageRepository interface {
	CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error)
	GetMessageByID(ctx context.Context, id string) (*models.Message, error)
	// ListMessages returns newest first, skipping messages hidden for q.ExcludeFor.
	ListMessages(ctx context.Context, q models.MessageQuery) ([]*models.Message, error)
	LatestMessage(ctx context.Context, conversationID string) (*models.Message, error)
	// AddReceipt atomically adds userID to the delivered (or read and delivered)
	// set. changed is false when the receipt was already recorded.
	AddReceipt(ctx context.Context, messageID, userID string, kind models.DeliveryStatus) (changed bool, msg *models.Message, err error)
	// UpdateMessageStatus and UpdateMessageStatuses never move a status backwards.
	UpdateMessageStatus(ctx context.Context, messageID string, status models.DeliveryStatus) error
	// MarkConversationRead records readerID on every message it has not read
	// and did not send, returning the ids that changed.
	MarkConversationRead(ctx context.Context, conversationID, readerID string) ([]string, error)
	UpdateMessageStatuses(ctx context.Context, ids []string, status models.DeliveryStatus) error
	EditMessage(ctx context.Context, messageID, content string, editedAt time.Time) (*models.Message, error)
	DeleteMessageForEveryone(ctx context.Context, messageID string) (*models.Message, error)
	DeleteMessageForUser(ctx context.Context, messageID, userID string) error
}

type StatsRepository interface {
	CountUsers(ctx context.Context) (int64, error)
	CountFrozenUsers(ctx context.Context) (int64, error)
	CountDeletedUsers(ctx context.Context) (int64, error)
	CountPosts(ctx context.Context) (int64, error)
	CountComments(ctx context.Context) (int64, error)
	RecentUsers(ctx context.Context, limit int) ([]*models.User, error)
}

type Database interface {
	UserRepository
	ConversationRepository
	MessageRepository
	StatsRepository
	Close() error
}
