package database

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"social-app/internal/models"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MemoryDB is an in-process Database used for local development and tests.
// Every method records a call so tests can assert which store operations ran.
type MemoryDB struct {
	mu            sync.Mutex
	users         map[string]*models.User
	conversations map[string]*models.Conversation
	messages      map[string]*models.Message
	posts         int64
	comments      int64
	calls         map[string]int
	failWith      error
	clock         func() time.Time
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		users:         make(map[string]*models.User),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string]*models.Message),
		calls:         make(map[string]int),
		clock:         time.Now,
	}
}

// SetClock overrides the time source used for created/updated timestamps.
func (db *MemoryDB) SetClock(clock func() time.Time) {
	db.mu.Lock()
	db.clock = clock
	db.mu.Unlock()
}

// FailWith makes every subsequent call return err until cleared with nil.
func (db *MemoryDB) FailWith(err error) {
	db.mu.Lock()
	db.failWith = err
	db.mu.Unlock()
}

// CallCount returns how many times method was invoked.
func (db *MemoryDB) CallCount(method string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.calls[method]
}

// WriteCount sums calls to every mutating message operation.
func (db *MemoryDB) WriteCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, m := range []string{
		"CreateMessage", "AddReceipt", "UpdateMessageStatus", "MarkConversationRead", "UpdateMessageStatuses",
		"EditMessage", "DeleteMessageForEveryone", "DeleteMessageForUser", "UpdateLastMessage",
	} {
		n += db.calls[m]
	}
	return n
}

// SetPostCounts seeds the post/comment counters owned by the wider application.
func (db *MemoryDB) SetPostCounts(posts, comments int64) {
	db.mu.Lock()
	db.posts, db.comments = posts, comments
	db.mu.Unlock()
}

// PutUser inserts or replaces a user as-is.
func (db *MemoryDB) PutUser(u *models.User) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = db.clock()
	}
	cp := *u
	db.users[u.ID] = &cp
}

// enter records the call and returns the injected failure, if any. Caller must hold mu.
func (db *MemoryDB) enter(method string) error {
	db.calls[method]++
	return db.failWith
}

func (db *MemoryDB) Close() error { return nil }

func (db *MemoryDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("GetUserByEmail"); err != nil {
		return nil, err
	}
	for _, u := range db.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, models.ErrUserNotFound
}

func (db *MemoryDB) CreateUser(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("CreateUser"); err != nil {
		return nil, err
	}
	for _, u := range db.users {
		if strings.EqualFold(u.Email, req.Email) || u.Username == req.Username {
			return nil, models.Validation("user_exists", "username or email already registered")
		}
	}
	u := &models.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
		Role:         models.RoleUser,
		CreatedAt:    db.clock(),
	}
	db.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (db *MemoryDB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("GetUserByID"); err != nil {
		return nil, err
	}
	u, ok := db.users[id]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (db *MemoryDB) GetUsersByIDs(ctx context.Context, ids []string) (map[string]*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("GetUsersByIDs"); err != nil {
		return nil, err
	}
	out := make(map[string]*models.User, len(ids))
	for _, id := range ids {
		if u, ok := db.users[id]; ok {
			cp := *u
			out[id] = &cp
		}
	}
	return out, nil
}

func copyConversation(c *models.Conversation) *models.Conversation {
	cp := *c
	cp.Participants = slices.Clone(c.Participants)
	cp.Admins = slices.Clone(c.Admins)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		cp.LastMessage = &lm
	}
	return &cp
}

func (db *MemoryDB) CreateConversation(ctx context.Context, conv *models.Conversation) (*models.Conversation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("CreateConversation"); err != nil {
		return nil, err
	}
	c := copyConversation(conv)
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := db.clock()
	c.CreatedAt, c.UpdatedAt = now, now
	db.conversations[c.ID] = c
	return copyConversation(c), nil
}

func (db *MemoryDB) GetConversationByID(ctx context.Context, id string) (*models.Conversation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("GetConversationByID"); err != nil {
		return nil, err
	}
	c, ok := db.conversations[id]
	if !ok {
		return nil, models.ErrConversationNotFound
	}
	return copyConversation(c), nil
}

func (db *MemoryDB) ListUserConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("ListUserConversations"); err != nil {
		return nil, err
	}
	var out []*models.Conversation
	for _, c := range db.conversations {
		if c.HasParticipant(userID) {
			out = append(out, copyConversation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (db *MemoryDB) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("IsParticipant"); err != nil {
		return false, err
	}
	c, ok := db.conversations[conversationID]
	return ok && c.HasParticipant(userID), nil
}

func (db *MemoryDB) GetParticipants(ctx context.Context, conversationID string) ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("GetParticipants"); err != nil {
		return nil, err
	}
	c, ok := db.conversations[conversationID]
	if !ok {
		return nil, models.ErrConversationNotFound
	}
	return slices.Clone(c.Participants), nil
}

func (db *MemoryDB) UpdateLastMessage(ctx context.Context, conversationID string, last *models.LastMessage) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("UpdateLastMessage"); err != nil {
		return err
	}
	c, ok := db.conversations[conversationID]
	if !ok {
		return models.ErrConversationNotFound
	}
	if last != nil {
		lm := *last
		c.LastMessage = &lm
	} else {
		c.LastMessage = nil
	}
	c.UpdatedAt = db.clock()
	return nil
}

func copyMessage(m *models.Message) *models.Message {
	cp := *m
	cp.DeliveredTo = slices.Clone(m.DeliveredTo)
	cp.ReadBy = slices.Clone(m.ReadBy)
	cp.DeletedFor = slices.Clone(m.DeletedFor)
	if cp.DeliveredTo == nil {
		cp.DeliveredTo = []string{}
	}
	if cp.ReadBy == nil {
		cp.ReadBy = []string{}
	}
	if m.Location != nil {
		loc := *m.Location
		cp.Location = &loc
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		cp.EditedAt = &t
	}
	return &cp
}

func (db *MemoryDB) CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("CreateMessage"); err != nil {
		return nil, err
	}
	m := copyMessage(msg)
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := db.clock()
	m.CreatedAt, m.UpdatedAt = now, now
	db.messages[m.ID] = m
	return copyMessage(m), nil
}

func (db *MemoryDB) GetMessageByID(ctx context.Context, id string) (*models.Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("GetMessageByID"); err != nil {
		return nil, err
	}
	m, ok := db.messages[id]
	if !ok {
		return nil, models.ErrMessageNotFound
	}
	return copyMessage(m), nil
}

// newestFirst orders by creation time then id, matching the Postgres query.
func newestFirst(msgs []*models.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
		}
		return msgs[i].ID > msgs[j].ID
	})
}

func (db *MemoryDB) ListMessages(ctx context.Context, q models.MessageQuery) ([]*models.Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("ListMessages"); err != nil {
		return nil, err
	}
	var matched []*models.Message
	for _, m := range db.messages {
		if m.ConversationID != q.ConversationID || m.IsDeletedFor(q.ExcludeFor) {
			continue
		}
		if q.BeforeDate != nil && !m.CreatedAt.Before(*q.BeforeDate) {
			continue
		}
		if q.AfterDate != nil && !m.CreatedAt.After(*q.AfterDate) {
			continue
		}
		matched = append(matched, m)
	}
	newestFirst(matched)

	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[q.Offset:]
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	out := make([]*models.Message, len(matched))
	for i, m := range matched {
		out[i] = copyMessage(m)
	}
	return out, nil
}

func (db *MemoryDB) LatestMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("LatestMessage"); err != nil {
		return nil, err
	}
	var all []*models.Message
	for _, m := range db.messages {
		if m.ConversationID == conversationID {
			all = append(all, m)
		}
	}
	if len(all) == 0 {
		return nil, models.ErrMessageNotFound
	}
	newestFirst(all)
	return copyMessage(all[0]), nil
}

func (db *MemoryDB) AddReceipt(ctx context.Context, messageID, userID string, kind models.DeliveryStatus) (bool, *models.Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("AddReceipt"); err != nil {
		return false, nil, err
	}
	m, ok := db.messages[messageID]
	if !ok {
		return false, nil, models.ErrMessageNotFound
	}
	changed := false
	switch kind {
	case models.StatusRead:
		if !m.IsReadBy(userID) {
			m.ReadBy = append(m.ReadBy, userID)
			changed = true
		}
		if changed && !m.IsDeliveredTo(userID) {
			m.DeliveredTo = append(m.DeliveredTo, userID)
		}
	case models.StatusDelivered:
		if !m.IsDeliveredTo(userID) {
			m.DeliveredTo = append(m.DeliveredTo, userID)
			changed = true
		}
	default:
		return false, nil, models.Validation("invalid_receipt", "unsupported receipt kind")
	}
	if changed {
		m.UpdatedAt = db.clock()
	}
	return changed, copyMessage(m), nil
}

func (db *MemoryDB) UpdateMessageStatus(ctx context.Context, messageID string, status models.DeliveryStatus) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("UpdateMessageStatus"); err != nil {
		return err
	}
	m, ok := db.messages[messageID]
	if !ok {
		return models.ErrMessageNotFound
	}
	m.Status = m.Status.Advance(status)
	return nil
}

func (db *MemoryDB) MarkConversationRead(ctx context.Context, conversationID, readerID string) ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("MarkConversationRead"); err != nil {
		return nil, err
	}
	var ids []string
	for _, m := range db.messages {
		if m.ConversationID != conversationID || m.SenderID == readerID || m.IsReadBy(readerID) {
			continue
		}
		m.ReadBy = append(m.ReadBy, readerID)
		if !m.IsDeliveredTo(readerID) {
			m.DeliveredTo = append(m.DeliveredTo, readerID)
		}
		m.UpdatedAt = db.clock()
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (db *MemoryDB) UpdateMessageStatuses(ctx context.Context, ids []string, status models.DeliveryStatus) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("UpdateMessageStatuses"); err != nil {
		return err
	}
	for _, id := range ids {
		if m, ok := db.messages[id]; ok {
			m.Status = m.Status.Advance(status)
		}
	}
	return nil
}

func (db *MemoryDB) EditMessage(ctx context.Context, messageID, content string, editedAt time.Time) (*models.Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("EditMessage"); err != nil {
		return nil, err
	}
	m, ok := db.messages[messageID]
	if !ok {
		return nil, models.ErrMessageNotFound
	}
	m.Content = content
	m.IsEdited = true
	m.EditedAt = &editedAt
	m.UpdatedAt = db.clock()
	return copyMessage(m), nil
}

func (db *MemoryDB) DeleteMessageForEveryone(ctx context.Context, messageID string) (*models.Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("DeleteMessageForEveryone"); err != nil {
		return nil, err
	}
	m, ok := db.messages[messageID]
	if !ok {
		return nil, models.ErrMessageNotFound
	}
	m.Content = models.DeletedMessageContent
	m.DeletedForEveryone = true
	m.FileURL, m.FileName, m.FileSize, m.Location = "", "", 0, nil
	m.UpdatedAt = db.clock()
	return copyMessage(m), nil
}

func (db *MemoryDB) DeleteMessageForUser(ctx context.Context, messageID, userID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("DeleteMessageForUser"); err != nil {
		return err
	}
	m, ok := db.messages[messageID]
	if !ok {
		return models.ErrMessageNotFound
	}
	if !m.IsDeletedFor(userID) {
		m.DeletedFor = append(m.DeletedFor, userID)
	}
	return nil
}

func (db *MemoryDB) countUsers(method string, pred func(*models.User) bool) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter(method); err != nil {
		return 0, err
	}
	var n int64
	for _, u := range db.users {
		if pred(u) {
			n++
		}
	}
	return n, nil
}

func (db *MemoryDB) CountUsers(ctx context.Context) (int64, error) {
	return db.countUsers("CountUsers", func(*models.User) bool { return true })
}

func (db *MemoryDB) CountFrozenUsers(ctx context.Context) (int64, error) {
	return db.countUsers("CountFrozenUsers", func(u *models.User) bool { return u.IsFrozen })
}

func (db *MemoryDB) CountDeletedUsers(ctx context.Context) (int64, error) {
	return db.countUsers("CountDeletedUsers", func(u *models.User) bool { return u.IsDeleted })
}

func (db *MemoryDB) CountPosts(ctx context.Context) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("CountPosts"); err != nil {
		return 0, err
	}
	return db.posts, nil
}

func (db *MemoryDB) CountComments(ctx context.Context) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("CountComments"); err != nil {
		return 0, err
	}
	return db.comments, nil
}

func (db *MemoryDB) RecentUsers(ctx context.Context, limit int) ([]*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("RecentUsers"); err != nil {
		return nil, err
	}
	var users []*models.User
	for _, u := range db.users {
		if !u.IsDeleted {
			cp := *u
			users = append(users, &cp)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.After(users[j].CreatedAt) })
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}
