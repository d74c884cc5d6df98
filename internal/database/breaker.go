package database

import (
	"context"
	"errors"
	"time"

	"social-app/internal/metrics"
	"social-app/internal/models"
	"social-app/pkg/logger"

	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerDB guards a Database with a circuit breaker. Store failures count
// against the breaker; domain outcomes such as not-found do not. While the
// breaker is open calls fail fast with a transient error.
type BreakerDB struct {
	db Database
	cb *gobreaker.CircuitBreaker[any]
}

type BreakerSettings struct {
	Name string
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
}

func NewBreakerDB(db Database, s BreakerSettings) *BreakerDB {
	if s.Name == "" {
		s.Name = "store"
	}
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}

	metrics.BreakerState.WithLabelValues(s.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("store breaker %s: %s -> %s", name, from, to)
			metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
		},
		IsSuccessful: isStoreSuccess,
	})
	return &BreakerDB{db: db, cb: cb}
}

// State reports the current breaker state.
func (b *BreakerDB) State() gobreaker.State {
	return b.cb.State()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}

// isStoreSuccess treats classified domain errors as healthy store responses.
func isStoreSuccess(err error) bool {
	if err == nil {
		return true
	}
	var e *models.Error
	if errors.As(err, &e) {
		return e.Kind != models.KindTransient && e.Kind != models.KindInternal
	}
	return errors.Is(err, context.Canceled)
}

func run[T any](b *BreakerDB, fn func() (T, error)) (T, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, models.Transient(err)
		}
		if v, ok := res.(T); ok {
			return v, err
		}
		return zero, err
	}
	v, _ := res.(T)
	return v, nil
}

func exec(b *BreakerDB, fn func() error) error {
	_, err := run(b, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

func (b *BreakerDB) Close() error { return b.db.Close() }

func (b *BreakerDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return run(b, func() (*models.User, error) { return b.db.GetUserByEmail(ctx, email) })
}

func (b *BreakerDB) CreateUser(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	return run(b, func() (*models.User, error) { return b.db.CreateUser(ctx, req) })
}

func (b *BreakerDB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return run(b, func() (*models.User, error) { return b.db.GetUserByID(ctx, id) })
}

func (b *BreakerDB) GetUsersByIDs(ctx context.Context, ids []string) (map[string]*models.User, error) {
	return run(b, func() (map[string]*models.User, error) { return b.db.GetUsersByIDs(ctx, ids) })
}

func (b *BreakerDB) CreateConversation(ctx context.Context, conv *models.Conversation) (*models.Conversation, error) {
	return run(b, func() (*models.Conversation, error) { return b.db.CreateConversation(ctx, conv) })
}

func (b *BreakerDB) GetConversationByID(ctx context.Context, id string) (*models.Conversation, error) {
	return run(b, func() (*models.Conversation, error) { return b.db.GetConversationByID(ctx, id) })
}

func (b *BreakerDB) ListUserConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	return run(b, func() ([]*models.Conversation, error) { return b.db.ListUserConversations(ctx, userID) })
}

func (b *BreakerDB) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	return run(b, func() (bool, error) { return b.db.IsParticipant(ctx, conversationID, userID) })
}

func (b *BreakerDB) GetParticipants(ctx context.Context, conversationID string) ([]string, error) {
	return run(b, func() ([]string, error) { return b.db.GetParticipants(ctx, conversationID) })
}

func (b *BreakerDB) UpdateLastMessage(ctx context.Context, conversationID string, last *models.LastMessage) error {
	return exec(b, func() error { return b.db.UpdateLastMessage(ctx, conversationID, last) })
}

func (b *BreakerDB) CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	return run(b, func() (*models.Message, error) { return b.db.CreateMessage(ctx, msg) })
}

func (b *BreakerDB) GetMessageByID(ctx context.Context, id string) (*models.Message, error) {
	return run(b, func() (*models.Message, error) { return b.db.GetMessageByID(ctx, id) })
}

func (b *BreakerDB) ListMessages(ctx context.Context, q models.MessageQuery) ([]*models.Message, error) {
	return run(b, func() ([]*models.Message, error) { return b.db.ListMessages(ctx, q) })
}

func (b *BreakerDB) LatestMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	return run(b, func() (*models.Message, error) { return b.db.LatestMessage(ctx, conversationID) })
}

type receiptResult struct {
	changed bool
	msg     *models.Message
}

func (b *BreakerDB) AddReceipt(ctx context.Context, messageID, userID string, kind models.DeliveryStatus) (bool, *models.Message, error) {
	r, err := run(b, func() (receiptResult, error) {
		changed, msg, err := b.db.AddReceipt(ctx, messageID, userID, kind)
		return receiptResult{changed: changed, msg: msg}, err
	})
	return r.changed, r.msg, err
}

func (b *BreakerDB) UpdateMessageStatus(ctx context.Context, messageID string, status models.DeliveryStatus) error {
	return exec(b, func() error { return b.db.UpdateMessageStatus(ctx, messageID, status) })
}

func (b *BreakerDB) MarkConversationRead(ctx context.Context, conversationID, readerID string) ([]string, error) {
	return run(b, func() ([]string, error) { return b.db.MarkConversationRead(ctx, conversationID, readerID) })
}

func (b *BreakerDB) UpdateMessageStatuses(ctx context.Context, ids []string, status models.DeliveryStatus) error {
	return exec(b, func() error { return b.db.UpdateMessageStatuses(ctx, ids, status) })
}

func (b *BreakerDB) EditMessage(ctx context.Context, messageID, content string, editedAt time.Time) (*models.Message, error) {
	return run(b, func() (*models.Message, error) { return b.db.EditMessage(ctx, messageID, content, editedAt) })
}

func (b *BreakerDB) DeleteMessageForEveryone(ctx context.Context, messageID string) (*models.Message, error) {
	return run(b, func() (*models.Message, error) { return b.db.DeleteMessageForEveryone(ctx, messageID) })
}

func (b *BreakerDB) DeleteMessageForUser(ctx context.Context, messageID, userID string) error {
	return exec(b, func() error { return b.db.DeleteMessageForUser(ctx, messageID, userID) })
}

func (b *BreakerDB) CountUsers(ctx context.Context) (int64, error) {
	return run(b, func() (int64, error) { return b.db.CountUsers(ctx) })
}

func (b *BreakerDB) CountFrozenUsers(ctx context.Context) (int64, error) {
	return run(b, func() (int64, error) { return b.db.CountFrozenUsers(ctx) })
}

func (b *BreakerDB) CountDeletedUsers(ctx context.Context) (int64, error) {
	return run(b, func() (int64, error) { return b.db.CountDeletedUsers(ctx) })
}

func (b *BreakerDB) CountPosts(ctx context.Context) (int64, error) {
	return run(b, func() (int64, error) { return b.db.CountPosts(ctx) })
}

func (b *BreakerDB) CountComments(ctx context.Context) (int64, error) {
	return run(b, func() (int64, error) { return b.db.CountComments(ctx) })
}

func (b *BreakerDB) RecentUsers(ctx context.Context, limit int) ([]*models.User, error) {
	return run(b, func() ([]*models.User, error) { return b.db.RecentUsers(ctx, limit) })
}
