package database

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"social-app/internal/models"
	"social-app/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

//go:embed schema.sql
var schemaSQL string

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

// Migrate creates missing tables and indexes.
func (db *PostgresDB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// User Repository Implementation

const userColumns = `id, username, email, display_name, avatar_url, password_hash, role, is_frozen, is_deleted, created_at`

func scanUser(row scanner) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.DisplayName, &user.AvatarURL,
		&user.PasswordHash, &user.Role, &user.IsFrozen, &user.IsDeleted, &user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (db *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(db.pool.QueryRow(ctx, query, email))
}

func (db *PostgresDB) CreateUser(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	query := `
		INSERT INTO users (id, username, email, display_name, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING ` + userColumns

	user, err := scanUser(db.pool.QueryRow(ctx, query,
		uuid.NewString(), req.Username, req.Email, req.DisplayName, string(hash), models.RoleUser,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (db *PostgresDB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(db.pool.QueryRow(ctx, query, id))
}

func (db *PostgresDB) GetUsersByIDs(ctx context.Context, ids []string) (map[string]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ANY($1)`

	rows, err := db.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make(map[string]*models.User, len(ids))
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users[user.ID] = user
	}
	return users, rows.Err()
}

// Conversation Repository Implementation

const conversationColumns = `id, type, name, participants, admins, last_message, created_by, created_at, updated_at`

func scanConversation(row scanner) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := row.Scan(
		&conv.ID, &conv.Type, &conv.Name, &conv.Participants, &conv.Admins,
		&conv.LastMessage, &conv.CreatedBy, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (db *PostgresDB) CreateConversation(ctx context.Context, conv *models.Conversation) (*models.Conversation, error) {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	query := `
		INSERT INTO conversations (id, type, name, participants, admins, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING ` + conversationColumns

	created, err := scanConversation(db.pool.QueryRow(ctx, query,
		conv.ID, conv.Type, conv.Name, conv.Participants, nonNil(conv.Admins), conv.CreatedBy,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return created, nil
}

func (db *PostgresDB) GetConversationByID(ctx context.Context, id string) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	return scanConversation(db.pool.QueryRow(ctx, query, id))
}

func (db *PostgresDB) ListUserConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE $1 = ANY(participants)
		ORDER BY updated_at DESC`

	rows, err := db.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []*models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

func (db *PostgresDB) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM conversations WHERE id = $1 AND $2 = ANY(participants))`

	var exists bool
	err := db.pool.QueryRow(ctx, query, conversationID, userID).Scan(&exists)
	return exists, err
}

func (db *PostgresDB) GetParticipants(ctx context.Context, conversationID string) ([]string, error) {
	var participants []string
	err := db.pool.QueryRow(ctx, `SELECT participants FROM conversations WHERE id = $1`, conversationID).Scan(&participants)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrConversationNotFound
	}
	return participants, err
}

func (db *PostgresDB) UpdateLastMessage(ctx context.Context, conversationID string, last *models.LastMessage) error {
	query := `UPDATE conversations SET last_message = $2, updated_at = NOW() WHERE id = $1`
	_, err := db.pool.Exec(ctx, query, conversationID, last)
	return err
}

// Message Repository Implementation

const messageColumns = `id, conversation_id, sender_id, content, message_type, file_url, file_name, file_size,
	location, reply_to, status, delivered_to, read_by, is_edited, edited_at, deleted_for_everyone, deleted_for,
	created_at, updated_at`

func scanMessage(row scanner) (*models.Message, error) {
	msg := &models.Message{}
	err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.MessageType, &msg.FileURL,
		&msg.FileName, &msg.FileSize, &msg.Location, &msg.ReplyTo, &msg.Status, &msg.DeliveredTo,
		&msg.ReadBy, &msg.IsEdited, &msg.EditedAt, &msg.DeletedForEveryone, &msg.DeletedFor,
		&msg.CreatedAt, &msg.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (db *PostgresDB) CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	query := `
		INSERT INTO messages (id, conversation_id, sender_id, content, message_type, file_url, file_name,
			file_size, location, reply_to, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		RETURNING ` + messageColumns

	created, err := scanMessage(db.pool.QueryRow(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.MessageType, msg.FileURL,
		msg.FileName, msg.FileSize, msg.Location, msg.ReplyTo, msg.Status,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return created, nil
}

func (db *PostgresDB) GetMessageByID(ctx context.Context, id string) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	return scanMessage(db.pool.QueryRow(ctx, query, id))
}

func (db *PostgresDB) ListMessages(ctx context.Context, q models.MessageQuery) ([]*models.Message, error) {
	var (
		where = []string{"conversation_id = $1", "NOT ($2 = ANY(deleted_for))"}
		args  = []any{q.ConversationID, q.ExcludeFor}
	)
	if q.BeforeDate != nil {
		args = append(args, *q.BeforeDate)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	if q.AfterDate != nil {
		args = append(args, *q.AfterDate)
		where = append(where, fmt.Sprintf("created_at > $%d", len(args)))
	}
	args = append(args, q.Limit, q.Offset)

	query := fmt.Sprintf(`
		SELECT %s FROM messages
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, messageColumns, strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (db *PostgresDB) LatestMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	query := `
		SELECT ` + messageColumns + ` FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`
	return scanMessage(db.pool.QueryRow(ctx, query, conversationID))
}

func (db *PostgresDB) AddReceipt(ctx context.Context, messageID, userID string, kind models.DeliveryStatus) (bool, *models.Message, error) {
	var query string
	switch kind {
	case models.StatusDelivered:
		query = `
			UPDATE messages SET delivered_to = array_append(delivered_to, $2), updated_at = NOW()
			WHERE id = $1 AND NOT ($2 = ANY(delivered_to))
			RETURNING ` + messageColumns
	case models.StatusRead:
		// read implies delivered
		query = `
			UPDATE messages SET
				read_by = array_append(read_by, $2),
				delivered_to = CASE WHEN $2 = ANY(delivered_to) THEN delivered_to ELSE array_append(delivered_to, $2) END,
				updated_at = NOW()
			WHERE id = $1 AND NOT ($2 = ANY(read_by))
			RETURNING ` + messageColumns
	default:
		return false, nil, fmt.Errorf("unsupported receipt kind %q", kind)
	}

	msg, err := scanMessage(db.pool.QueryRow(ctx, query, messageID, userID))
	if errors.Is(err, models.ErrMessageNotFound) {
		// Either already recorded or the message does not exist.
		existing, getErr := db.GetMessageByID(ctx, messageID)
		if getErr != nil {
			return false, nil, getErr
		}
		return false, existing, nil
	}
	if err != nil {
		return false, nil, err
	}
	return true, msg, nil
}

// statusGuard keeps status writes monotonic: progress only moves forward and
// failed is only reachable from sent.
const statusGuard = `(CASE status WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 4 END) <
	(CASE $2::text WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END)
	OR (status = 'sent' AND $2::text = 'failed')`

func (db *PostgresDB) UpdateMessageStatus(ctx context.Context, messageID string, status models.DeliveryStatus) error {
	_, err := db.pool.Exec(ctx, `UPDATE messages SET status = $2, updated_at = NOW() WHERE id = $1 AND (`+statusGuard+`)`, messageID, status)
	return err
}

func (db *PostgresDB) MarkConversationRead(ctx context.Context, conversationID, readerID string) ([]string, error) {
	query := `
		UPDATE messages SET
			read_by = array_append(read_by, $2),
			delivered_to = CASE WHEN $2 = ANY(delivered_to) THEN delivered_to ELSE array_append(delivered_to, $2) END,
			updated_at = NOW()
		WHERE conversation_id = $1 AND sender_id <> $2 AND NOT ($2 = ANY(read_by))
		RETURNING id`

	rows, err := db.pool.Query(ctx, query, conversationID, readerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (db *PostgresDB) UpdateMessageStatuses(ctx context.Context, ids []string, status models.DeliveryStatus) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := db.pool.Exec(ctx, `UPDATE messages SET status = $2, updated_at = NOW() WHERE id = ANY($1) AND (`+statusGuard+`)`, ids, status)
	return err
}

func (db *PostgresDB) EditMessage(ctx context.Context, messageID, content string, editedAt time.Time) (*models.Message, error) {
	query := `
		UPDATE messages SET content = $2, is_edited = TRUE, edited_at = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + messageColumns
	return scanMessage(db.pool.QueryRow(ctx, query, messageID, content, editedAt))
}

func (db *PostgresDB) DeleteMessageForEveryone(ctx context.Context, messageID string) (*models.Message, error) {
	query := `
		UPDATE messages SET content = $2, deleted_for_everyone = TRUE, file_url = '', file_name = '',
			file_size = 0, location = NULL, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + messageColumns
	return scanMessage(db.pool.QueryRow(ctx, query, messageID, models.DeletedMessageContent))
}

func (db *PostgresDB) DeleteMessageForUser(ctx context.Context, messageID, userID string) error {
	query := `
		UPDATE messages SET deleted_for = array_append(deleted_for, $2), updated_at = NOW()
		WHERE id = $1 AND NOT ($2 = ANY(deleted_for))`
	_, err := db.pool.Exec(ctx, query, messageID, userID)
	return err
}

// Stats Repository Implementation

func (db *PostgresDB) count(ctx context.Context, query string) (int64, error) {
	var n int64
	err := db.pool.QueryRow(ctx, query).Scan(&n)
	return n, err
}

func (db *PostgresDB) CountUsers(ctx context.Context) (int64, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM users`)
}

func (db *PostgresDB) CountFrozenUsers(ctx context.Context) (int64, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM users WHERE is_frozen`)
}

func (db *PostgresDB) CountDeletedUsers(ctx context.Context) (int64, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM users WHERE is_deleted`)
}

func (db *PostgresDB) CountPosts(ctx context.Context) (int64, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM posts`)
}

func (db *PostgresDB) CountComments(ctx context.Context) (int64, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM comments`)
}

func (db *PostgresDB) RecentUsers(ctx context.Context, limit int) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE NOT is_deleted ORDER BY created_at DESC LIMIT $1`

	rows, err := db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
