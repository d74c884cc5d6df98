package services

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"social-app/internal/database"
	"social-app/internal/models"
	"social-app/internal/notify"
	"social-app/internal/presence"
)

var (
	ErrInvalidConversationType = models.Validation("invalid_conversation_type", "conversation type must be direct or group")
	ErrDirectNeedsOnePeer      = models.Validation("invalid_participants", "a direct conversation needs exactly one other participant")
	ErrGroupNeedsName          = models.Validation("name_required", "a group conversation needs a name")
	ErrGroupNeedsMembers       = models.Validation("invalid_participants", "a group conversation needs at least one other participant")
)

type ConversationService struct {
	db         database.Database
	notifier   *notify.Notifier
	presence   *presence.Tracker
	ackTimeout time.Duration
}

// NewConversationService builds the service. Group invitations wait up to
// ackTimeout for every tab of an added member to confirm receipt.
func NewConversationService(db database.Database, notifier *notify.Notifier, tracker *presence.Tracker, ackTimeout time.Duration) *ConversationService {
	return &ConversationService{db: db, notifier: notifier, presence: tracker, ackTimeout: ackTimeout}
}

// CreateConversation opens a direct or group conversation. Creating a direct
// conversation that already exists returns the existing one.
func (s *ConversationService) CreateConversation(ctx context.Context, creator models.Principal, req *models.CreateConversationRequest) (*models.Conversation, error) {
	others := make([]string, 0, len(req.ParticipantIDs))
	for _, id := range req.ParticipantIDs {
		id = strings.TrimSpace(id)
		if id != "" && id != creator.ID && !slices.Contains(others, id) {
			others = append(others, id)
		}
	}

	switch req.Type {
	case models.ConversationDirect:
		if len(others) != 1 {
			return nil, ErrDirectNeedsOnePeer
		}
	case models.ConversationGroup:
		if strings.TrimSpace(req.Name) == "" {
			return nil, ErrGroupNeedsName
		}
		if len(others) == 0 {
			return nil, ErrGroupNeedsMembers
		}
	default:
		return nil, ErrInvalidConversationType
	}

	users, err := s.db.GetUsersByIDs(ctx, others)
	if err != nil {
		return nil, err
	}
	for _, id := range others {
		if u, ok := users[id]; !ok || u.IsDeleted {
			return nil, fmt.Errorf("participant %s: %w", id, models.ErrUserNotFound)
		}
	}

	if req.Type == models.ConversationDirect {
		if existing, err := s.findDirect(ctx, creator.ID, others[0]); err != nil || existing != nil {
			return existing, err
		}
	}

	conv := &models.Conversation{
		Type:         req.Type,
		Participants: append([]string{creator.ID}, others...),
		CreatedBy:    creator.ID,
	}
	if req.Type == models.ConversationGroup {
		conv.Name = strings.TrimSpace(req.Name)
		conv.Admins = []string{creator.ID}
	}

	conv, err = s.db.CreateConversation(ctx, conv)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	if conv.Type == models.ConversationGroup {
		for _, id := range others {
			go s.invite(id, creator, conv)
		}
	}
	return conv, nil
}

// invite notifies an added member and waits for confirmation off the
// request path. A missed confirmation is only logged by the notifier.
func (s *ConversationService) invite(principalID string, creator models.Principal, conv *models.Conversation) {
	s.notifier.SendConfirmed(context.Background(), principalID, models.Notification{
		Type:    models.NotificationMessage,
		Title:   "New group",
		Message: fmt.Sprintf("%s added you to %s", creator.DisplayName, conv.Name),
		Data:    map[string]interface{}{"conversationId": conv.ID},
	}, s.ackTimeout)
}

func (s *ConversationService) findDirect(ctx context.Context, a, b string) (*models.Conversation, error) {
	convs, err := s.db.ListUserConversations(ctx, a)
	if err != nil {
		return nil, err
	}
	for _, c := range convs {
		if c.Type == models.ConversationDirect && c.HasParticipant(b) {
			return c, nil
		}
	}
	return nil, nil
}

func (s *ConversationService) ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	return s.db.ListUserConversations(ctx, userID)
}

func (s *ConversationService) conversation(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	conv, err := s.db.GetConversationByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, models.ErrNotParticipant
	}
	return conv, nil
}

// GetParticipants returns the participants' profiles in conversation order.
func (s *ConversationService) GetParticipants(ctx context.Context, conversationID, userID string) ([]*models.UserSummary, error) {
	conv, err := s.conversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	users, err := s.db.GetUsersByIDs(ctx, conv.Participants)
	if err != nil {
		return nil, err
	}
	out := make([]*models.UserSummary, 0, len(conv.Participants))
	for _, id := range conv.Participants {
		if u, ok := users[id]; ok {
			out = append(out, u.Summary())
		}
	}
	return out, nil
}

// GetOnlineParticipants returns presence for the participants that are connected.
func (s *ConversationService) GetOnlineParticipants(ctx context.Context, conversationID, userID string) ([]models.PresenceInfo, error) {
	conv, err := s.conversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	return s.presence.OnlineAmong(conv.Participants), nil
}
