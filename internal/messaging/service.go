// Package messaging implements the per-conversation chat operations: send,
// edit, delete, typing, delivery and read receipts, history and rooms.
//
// Membership is re-read from the store on every operation that depends on
// it; nothing here caches who belongs to a conversation.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"social-app/internal/config"
	"social-app/internal/database"
	"social-app/internal/models"
	"social-app/internal/notify"
	"social-app/pkg/logger"
)

// ErrPageOutOfRange rejects history pages whose offset cannot be represented.
var ErrPageOutOfRange = models.Validation("page_out_of_range", "page is out of range")

// Rooms is the routing surface for conversation-scoped traffic.
type Rooms interface {
	EmitToRoom(room string, evt models.Event, exceptPrincipalID string) int
	Join(connID, room string) bool
	Leave(connID, room string)
}

type Service struct {
	db       database.Database
	notifier *notify.Notifier
	rooms    Rooms
	cfg      config.RealtimeConfig
	now      func() time.Time
}

func NewService(db database.Database, notifier *notify.Notifier, rooms Rooms, cfg config.RealtimeConfig) *Service {
	return &Service{
		db:       db,
		notifier: notifier,
		rooms:    rooms,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// conversationFor loads the conversation and checks actorID belongs to it.
func (s *Service) conversationFor(ctx context.Context, conversationID, actorID string) (*models.Conversation, error) {
	conv, err := s.db.GetConversationByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(actorID) {
		return nil, models.ErrNotParticipant
	}
	return conv, nil
}

func (s *Service) requireParticipant(ctx context.Context, conversationID, actorID string) error {
	ok, err := s.db.IsParticipant(ctx, conversationID, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrNotParticipant
	}
	return nil
}

func validateContent(p *models.SendMessagePayload) error {
	if p.MessageType == "" {
		p.MessageType = models.MessageText
	}
	if !p.MessageType.Valid() {
		return models.Validation("invalid_message_type", "unsupported message type")
	}
	switch {
	case p.MessageType == models.MessageText && strings.TrimSpace(p.Content) == "":
		return models.Validation("content_required", "text messages need content")
	case p.MessageType.RequiresFile() && p.FileURL == "":
		return models.Validation("file_required", fmt.Sprintf("%s messages need a file url", p.MessageType))
	case p.MessageType == models.MessageLocation && p.Location == nil:
		return models.Validation("location_required", "location messages need coordinates")
	}
	return nil
}

// Send creates a message and fans it out. On error the returned data still
// carries the failed status and the client's message id.
func (s *Service) Send(ctx context.Context, actor models.Actor, p models.SendMessagePayload) (*models.MessageSentData, error) {
	failed := &models.MessageSentData{ClientMessageID: p.ClientMessageID, Status: models.StatusFailed}

	if err := validateContent(&p); err != nil {
		return failed, err
	}

	conv, err := s.conversationFor(ctx, p.ConversationID, actor.ID)
	if err != nil {
		return failed, err
	}

	var reply *models.Message
	if p.ReplyTo != "" {
		reply, err = s.db.GetMessageByID(ctx, p.ReplyTo)
		if err != nil {
			if errors.Is(err, models.ErrMessageNotFound) {
				return failed, models.Validation("invalid_reply", "reply target does not exist")
			}
			return failed, err
		}
		if reply.ConversationID != conv.ID || reply.IsDeletedFor(actor.ID) {
			return failed, models.Validation("invalid_reply", "reply target is not in this conversation")
		}
	}

	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       actor.ID,
		Content:        p.Content,
		MessageType:    p.MessageType,
		FileURL:        p.FileURL,
		FileName:       p.FileName,
		FileSize:       p.FileSize,
		Location:       p.Location,
		ReplyTo:        p.ReplyTo,
		Status:         models.StatusSent,
		DeliveredTo:    []string{},
		ReadBy:         []string{},
	}
	if msg.MessageType != models.MessageLocation {
		msg.Location = nil
	}

	created, err := s.db.CreateMessage(ctx, msg)
	if err != nil {
		return failed, fmt.Errorf("create message: %w", err)
	}

	s.refreshPreview(ctx, conv.ID, created.Preview())

	view := &models.MessageView{Message: created, Sender: actor.Summary()}
	if reply != nil {
		view.ReplyToMessage = s.summarize(ctx, reply)
	}

	evt := models.NewEvent(models.EventNewMessage, view)
	s.notifier.NotifyMany(conv.OtherParticipants(actor.ID), evt)
	s.notifier.NotifyExcept(actor.ID, actor.ConnID, evt)

	return &models.MessageSentData{Message: view, ClientMessageID: p.ClientMessageID, Status: created.Status}, nil
}

// refreshPreview updates the conversation list summary. A failure is logged
// and never fails the operation that triggered it.
func (s *Service) refreshPreview(ctx context.Context, conversationID string, last *models.LastMessage) {
	if err := s.db.UpdateLastMessage(ctx, conversationID, last); err != nil {
		logger.Warnw().Err(err).Str("conversation_id", conversationID).Msg("conversation preview update failed")
	}
}

func (s *Service) summarize(ctx context.Context, m *models.Message) *models.MessageSummary {
	sum := &models.MessageSummary{ID: m.ID, Content: m.Content, MessageType: m.MessageType}
	if u, err := s.db.GetUserByID(ctx, m.SenderID); err == nil {
		sum.Sender = u.Summary()
	}
	return sum
}

// Edit replaces the content of a text message. Only its sender may edit.
func (s *Service) Edit(ctx context.Context, actor models.Actor, p models.EditMessagePayload) (*models.MessageView, error) {
	msg, err := s.db.GetMessageByID(ctx, p.MessageID)
	if err != nil {
		return nil, err
	}
	conv, err := s.conversationFor(ctx, msg.ConversationID, actor.ID)
	if err != nil {
		return nil, err
	}
	switch {
	case msg.SenderID != actor.ID:
		return nil, models.ErrNotSender
	case msg.DeletedForEveryone:
		return nil, models.Validation("message_deleted", "deleted messages cannot be edited")
	case msg.MessageType != models.MessageText:
		return nil, models.Validation("not_editable", "only text messages can be edited")
	case strings.TrimSpace(p.Content) == "":
		return nil, models.Validation("content_required", "text messages need content")
	}

	updated, err := s.db.EditMessage(ctx, msg.ID, p.Content, s.now())
	if err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}
	if conv.LastMessage != nil && conv.LastMessage.MessageID == updated.ID {
		s.refreshPreview(ctx, conv.ID, updated.Preview())
	}

	view := &models.MessageView{Message: updated, Sender: actor.Summary()}
	s.toParticipants(conv, actor, models.NewEvent(models.EventMessageUpdated, view))
	return view, nil
}

// Delete hides a message for the caller, or tombstones it for everyone.
func (s *Service) Delete(ctx context.Context, actor models.Actor, p models.DeleteMessagePayload) (*models.MessageDeletedData, error) {
	msg, err := s.db.GetMessageByID(ctx, p.MessageID)
	if err != nil {
		return nil, err
	}
	conv, err := s.conversationFor(ctx, msg.ConversationID, actor.ID)
	if err != nil {
		return nil, err
	}
	data := &models.MessageDeletedData{MessageID: msg.ID, ConversationID: conv.ID, Scope: p.Scope}

	switch p.Scope {
	case models.DeleteForMe:
		if err := s.db.DeleteMessageForUser(ctx, msg.ID, actor.ID); err != nil {
			return nil, fmt.Errorf("delete message for user: %w", err)
		}
		s.notifier.NotifyExcept(actor.ID, actor.ConnID, models.NewEvent(models.EventMessageDeleted, data))
		return data, nil

	case models.DeleteForEveryone:
		if msg.SenderID != actor.ID {
			return nil, models.ErrNotSender
		}
		updated, err := s.db.DeleteMessageForEveryone(ctx, msg.ID)
		if err != nil {
			return nil, fmt.Errorf("delete message: %w", err)
		}
		if conv.LastMessage != nil && conv.LastMessage.MessageID == updated.ID {
			s.refreshPreview(ctx, conv.ID, updated.Preview())
		}
		s.toParticipants(conv, actor, models.NewEvent(models.EventMessageDeleted, data))
		return data, nil
	}
	return nil, models.Validation("invalid_scope", "scope must be me or everyone")
}

// toParticipants emits evt to every participant except the actor's originating tab.
func (s *Service) toParticipants(conv *models.Conversation, actor models.Actor, evt models.Event) {
	s.notifier.NotifyMany(conv.OtherParticipants(actor.ID), evt)
	s.notifier.NotifyExcept(actor.ID, actor.ConnID, evt)
}

// Typing relays an ephemeral indicator to the conversation room. Nothing is
// stored and other participants see nothing when the caller is not a member.
func (s *Service) Typing(ctx context.Context, actor models.Actor, p models.TypingPayload) error {
	if err := s.requireParticipant(ctx, p.ConversationID, actor.ID); err != nil {
		return err
	}
	data := models.UserTypingData{
		ConversationID: p.ConversationID,
		UserID:         actor.ID,
		DisplayName:    actor.DisplayName,
		IsTyping:       p.IsTyping,
	}
	s.rooms.EmitToRoom(models.ConversationRoom(p.ConversationID), models.NewEvent(models.EventUserTyping, data), actor.ID)
	return nil
}

// MarkDelivered records a delivery receipt.
func (s *Service) MarkDelivered(ctx context.Context, actor models.Actor, p models.ReceiptPayload) (*models.ReceiptData, error) {
	return s.receipt(ctx, actor, p.MessageID, models.StatusDelivered)
}

// MarkRead records a read receipt, which implies delivery.
func (s *Service) MarkRead(ctx context.Context, actor models.Actor, p models.ReceiptPayload) (*models.ReceiptData, error) {
	return s.receipt(ctx, actor, p.MessageID, models.StatusRead)
}

// receipt is idempotent: a repeated receipt succeeds without emitting, and
// the sender never receives receipts for their own messages.
func (s *Service) receipt(ctx context.Context, actor models.Actor, messageID string, kind models.DeliveryStatus) (*models.ReceiptData, error) {
	msg, err := s.db.GetMessageByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	conv, err := s.conversationFor(ctx, msg.ConversationID, actor.ID)
	if err != nil {
		return nil, err
	}

	data := &models.ReceiptData{MessageID: msg.ID, ConversationID: conv.ID, Status: msg.Status, At: s.now()}
	if msg.SenderID == actor.ID {
		return data, nil
	}

	changed, updated, err := s.db.AddReceipt(ctx, msg.ID, actor.ID, kind)
	if err != nil {
		return nil, fmt.Errorf("record receipt: %w", err)
	}
	data.Status = updated.Status
	if !changed {
		return data, nil
	}

	if next := updated.StatusFor(conv, kind); next != updated.Status {
		if err := s.db.UpdateMessageStatus(ctx, updated.ID, next); err != nil {
			return nil, fmt.Errorf("update message status: %w", err)
		}
		data.Status = next
	}

	evtType := models.EventMessageDeliveredTo
	if kind == models.StatusRead {
		evtType = models.EventMessageReadReceipt
		data.ReadBy = actor.ID
	} else {
		data.DeliveredTo = actor.ID
	}
	s.notifier.Notify(updated.SenderID, models.NewEvent(evtType, data))
	return data, nil
}

// MarkConversationRead applies a read receipt to every unread message the
// caller did not send and emits one aggregate event.
func (s *Service) MarkConversationRead(ctx context.Context, actor models.Actor, p models.ConversationPayload) (*models.MessagesReadData, error) {
	conv, err := s.conversationFor(ctx, p.ConversationID, actor.ID)
	if err != nil {
		return nil, err
	}

	ids, err := s.db.MarkConversationRead(ctx, conv.ID, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("mark conversation read: %w", err)
	}
	data := &models.MessagesReadData{ConversationID: conv.ID, ReadBy: actor.ID, Count: len(ids), At: s.now()}
	if len(ids) == 0 {
		return data, nil
	}

	// A read by the only recipient completes a direct message; groups advance
	// opportunistically, so read is correct for both.
	if err := s.db.UpdateMessageStatuses(ctx, ids, models.StatusRead); err != nil {
		return nil, fmt.Errorf("update message statuses: %w", err)
	}

	evt := models.NewEvent(models.EventMessagesRead, data)
	s.notifier.NotifyMany(conv.OtherParticipants(actor.ID), evt)
	return data, nil
}

// FetchMessages returns one page of history, oldest first.
func (s *Service) FetchMessages(ctx context.Context, actor models.Actor, p models.FetchMessagesPayload) (*models.MessagePage, error) {
	if err := s.requireParticipant(ctx, p.ConversationID, actor.ID); err != nil {
		return nil, err
	}

	limit := p.Limit
	if limit <= 0 {
		limit = s.cfg.HistoryPageSize
	}
	if limit > s.cfg.HistoryMaxPageSize {
		limit = s.cfg.HistoryMaxPageSize
	}
	page := p.Page
	if page < 1 {
		page = 1
	}
	if page-1 > math.MaxInt/limit {
		return nil, ErrPageOutOfRange
	}

	msgs, err := s.db.ListMessages(ctx, models.MessageQuery{
		ConversationID: p.ConversationID,
		ExcludeFor:     actor.ID,
		BeforeDate:     p.BeforeDate,
		AfterDate:      p.AfterDate,
		Offset:         (page - 1) * limit,
		Limit:          limit + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	views, err := s.views(ctx, msgs)
	if err != nil {
		return nil, err
	}
	return &models.MessagePage{Messages: views, Page: page, Limit: limit, HasMore: hasMore}, nil
}

// views resolves senders and reply targets with one user lookup.
func (s *Service) views(ctx context.Context, msgs []*models.Message) ([]*models.MessageView, error) {
	byID := make(map[string]*models.Message, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
	}

	replies := make(map[string]*models.Message)
	userIDs := make([]string, 0, len(msgs))
	seen := make(map[string]bool)
	addUser := func(id string) {
		if !seen[id] {
			seen[id] = true
			userIDs = append(userIDs, id)
		}
	}
	for _, m := range msgs {
		addUser(m.SenderID)
		if m.ReplyTo == "" {
			continue
		}
		if r, ok := byID[m.ReplyTo]; ok {
			replies[m.ReplyTo] = r
		} else if _, ok := replies[m.ReplyTo]; !ok {
			r, err := s.db.GetMessageByID(ctx, m.ReplyTo)
			if err != nil && !errors.Is(err, models.ErrMessageNotFound) {
				return nil, err
			}
			replies[m.ReplyTo] = r
		}
		if r := replies[m.ReplyTo]; r != nil {
			addUser(r.SenderID)
		}
	}

	users, err := s.db.GetUsersByIDs(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("load senders: %w", err)
	}

	views := make([]*models.MessageView, len(msgs))
	for i, m := range msgs {
		v := &models.MessageView{Message: m}
		if u, ok := users[m.SenderID]; ok {
			v.Sender = u.Summary()
		}
		if r := replies[m.ReplyTo]; r != nil {
			v.ReplyToMessage = &models.MessageSummary{ID: r.ID, Content: r.Content, MessageType: r.MessageType}
			if u, ok := users[r.SenderID]; ok {
				v.ReplyToMessage.Sender = u.Summary()
			}
		}
		views[i] = v
	}
	return views, nil
}

// JoinRoom subscribes the caller's connection to a conversation room.
func (s *Service) JoinRoom(ctx context.Context, actor models.Actor, p models.ConversationPayload) error {
	if err := s.requireParticipant(ctx, p.ConversationID, actor.ID); err != nil {
		return err
	}
	if !s.rooms.Join(actor.ConnID, models.ConversationRoom(p.ConversationID)) {
		return models.Internal(errors.New("connection closed"))
	}
	return nil
}

func (s *Service) LeaveRoom(ctx context.Context, actor models.Actor, p models.ConversationPayload) error {
	s.rooms.Leave(actor.ConnID, models.ConversationRoom(p.ConversationID))
	return nil
}
