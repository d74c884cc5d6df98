package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"social-app/internal/config"
	"social-app/internal/database"
	"social-app/internal/models"
	"social-app/internal/notify"
	"social-app/internal/session"
	"social-app/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	svc      *Service
	db       *database.MemoryDB
	hub      *testutil.Hub
	registry *session.Registry
	conv     *models.Conversation
	alice    models.Actor
	bob      models.Actor
	carol    models.Actor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	db := database.NewMemoryDB()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	db.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})

	e := &env{db: db, hub: testutil.NewHub(), registry: session.NewRegistry()}
	for _, u := range []*models.User{
		{ID: "alice", Username: "alice", DisplayName: "Alice"},
		{ID: "bob", Username: "bob", DisplayName: "Bob"},
		{ID: "carol", Username: "carol", DisplayName: "Carol"},
	} {
		db.PutUser(u)
	}

	conv, err := db.CreateConversation(ctx, &models.Conversation{
		Type:         models.ConversationDirect,
		Participants: []string{"alice", "bob"},
		CreatedBy:    "alice",
	})
	require.NoError(t, err)
	e.conv = conv

	e.svc = NewService(db, notify.NewNotifier(e.registry, e.hub), e.hub, config.Default().Realtime)
	e.alice = e.connect("alice", "Alice", "a1")
	e.bob = e.connect("bob", "Bob", "b1")
	e.carol = e.connect("carol", "Carol", "c1")
	return e
}

func (e *env) connect(id, name, conn string) models.Actor {
	e.hub.Connect(conn, id, models.NamespaceDefault)
	e.registry.Register(id, conn, nil)
	return models.Actor{Principal: models.Principal{ID: id, Username: id, DisplayName: name}, ConnID: conn}
}

func (e *env) send(t *testing.T, from models.Actor, content string) *models.MessageView {
	t.Helper()
	res, err := e.svc.Send(context.Background(), from, models.SendMessagePayload{
		ConversationID: e.conv.ID,
		Content:        content,
		MessageType:    models.MessageText,
	})
	require.NoError(t, err)
	return res.Message
}

func TestSendFansOutAndAcks(t *testing.T) {
	e := newEnv(t)

	res, err := e.svc.Send(context.Background(), e.alice, models.SendMessagePayload{
		ConversationID:  e.conv.ID,
		Content:         "hi",
		MessageType:     models.MessageText,
		ClientMessageID: "tmp-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, res.Status)
	assert.Equal(t, "tmp-1", res.ClientMessageID)
	assert.Equal(t, "Alice", res.Message.Sender.DisplayName)
	assert.Equal(t, []string{}, res.Message.ReadBy)
	assert.Equal(t, []string{}, res.Message.DeliveredTo)

	got := e.hub.EventsOfType("b1", models.EventNewMessage)
	require.Len(t, got, 1)
	view := got[0].Data.(*models.MessageView)
	assert.Equal(t, "hi", view.Content)
	assert.Equal(t, models.StatusSent, view.Status)

	assert.Empty(t, e.hub.Events("a1"), "originating tab gets the ack only")
	assert.Empty(t, e.hub.Events("c1"))

	conv, err := e.db.GetConversationByID(context.Background(), e.conv.ID)
	require.NoError(t, err)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, res.Message.ID, conv.LastMessage.MessageID)
}

func TestSendReachesSendersOtherTabs(t *testing.T) {
	e := newEnv(t)
	e.connect("alice", "Alice", "a2")

	e.send(t, e.alice, "hello")
	assert.Empty(t, e.hub.Events("a1"))
	assert.Len(t, e.hub.EventsOfType("a2", models.EventNewMessage), 1)
}

func TestNonParticipantIsRejectedWithoutWrites(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.Send(ctx, e.carol, models.SendMessagePayload{ConversationID: e.conv.ID, Content: "intrude"})
	assert.ErrorIs(t, err, models.ErrNotParticipant)

	err = e.svc.Typing(ctx, e.carol, models.TypingPayload{ConversationID: e.conv.ID, IsTyping: true})
	assert.ErrorIs(t, err, models.ErrNotParticipant)

	err = e.svc.JoinRoom(ctx, e.carol, models.ConversationPayload{ConversationID: e.conv.ID})
	assert.ErrorIs(t, err, models.ErrNotParticipant)

	assert.Zero(t, e.db.WriteCount())
	assert.Zero(t, e.hub.TotalEvents())
	assert.False(t, e.hub.InRoom("c1", models.ConversationRoom(e.conv.ID)))
}

func TestSendFailureCarriesFailedStatus(t *testing.T) {
	e := newEnv(t)
	res, err := e.svc.Send(context.Background(), e.carol, models.SendMessagePayload{
		ConversationID: e.conv.ID, Content: "x", ClientMessageID: "tmp-9",
	})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, models.StatusFailed, res.Status)
	assert.Equal(t, "tmp-9", res.ClientMessageID)
}

func TestSendValidatesTypeSpecificPayload(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		payload models.SendMessagePayload
		code    string
	}{
		{name: "image without file", payload: models.SendMessagePayload{MessageType: models.MessageImage}, code: "file_required"},
		{name: "audio without file", payload: models.SendMessagePayload{MessageType: models.MessageAudio, Content: "listen"}, code: "file_required"},
		{name: "location without coordinates", payload: models.SendMessagePayload{MessageType: models.MessageLocation}, code: "location_required"},
		{name: "empty text", payload: models.SendMessagePayload{Content: "   "}, code: "content_required"},
		{name: "unknown type", payload: models.SendMessagePayload{MessageType: "sticker", Content: "x"}, code: "invalid_message_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.payload.ConversationID = e.conv.ID
			_, err := e.svc.Send(ctx, e.alice, tt.payload)
			var me *models.Error
			require.True(t, errors.As(err, &me))
			assert.Equal(t, models.KindValidation, me.Kind)
			assert.Equal(t, tt.code, me.Code)
		})
	}
	assert.Zero(t, e.db.CallCount("CreateMessage"))
}

func TestReplyIsResolved(t *testing.T) {
	e := newEnv(t)
	first := e.send(t, e.alice, "question?")

	res, err := e.svc.Send(context.Background(), e.bob, models.SendMessagePayload{
		ConversationID: e.conv.ID, Content: "answer", ReplyTo: first.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Message.ReplyToMessage)
	assert.Equal(t, "question?", res.Message.ReplyToMessage.Content)
	assert.Equal(t, "Alice", res.Message.ReplyToMessage.Sender.DisplayName)

	_, err = e.svc.Send(context.Background(), e.bob, models.SendMessagePayload{
		ConversationID: e.conv.ID, Content: "answer", ReplyTo: "nope",
	})
	assert.Equal(t, models.KindValidation, models.KindOf(err))
}

func TestReadReceiptIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	msg := e.send(t, e.alice, "hi")
	e.hub.Reset()

	data, err := e.svc.MarkRead(ctx, e.bob, models.ReceiptPayload{MessageID: msg.ID})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, data.Status)

	receipts := e.hub.EventsOfType("a1", models.EventMessageReadReceipt)
	require.Len(t, receipts, 1)
	assert.Equal(t, "bob", receipts[0].Data.(*models.ReceiptData).ReadBy)

	_, err = e.svc.MarkRead(ctx, e.bob, models.ReceiptPayload{MessageID: msg.ID})
	require.NoError(t, err)
	assert.Len(t, e.hub.EventsOfType("a1", models.EventMessageReadReceipt), 1, "no duplicate receipt")

	stored, err := e.db.GetMessageByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, stored.ReadBy)
	assert.Equal(t, []string{"bob"}, stored.DeliveredTo)
	assert.Equal(t, models.StatusRead, stored.Status)
}

func TestReadBeforeDeliveredConverges(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	msg := e.send(t, e.alice, "hi")
	e.hub.Reset()

	_, err := e.svc.MarkRead(ctx, e.bob, models.ReceiptPayload{MessageID: msg.ID})
	require.NoError(t, err)
	data, err := e.svc.MarkDelivered(ctx, e.bob, models.ReceiptPayload{MessageID: msg.ID})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, data.Status)
	assert.Empty(t, e.hub.EventsOfType("a1", models.EventMessageDeliveredTo))

	stored, err := e.db.GetMessageByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, stored.Status)
}

func TestDeliveredReceiptNotifiesSender(t *testing.T) {
	e := newEnv(t)
	msg := e.send(t, e.alice, "hi")
	e.hub.Reset()

	data, err := e.svc.MarkDelivered(context.Background(), e.bob, models.ReceiptPayload{MessageID: msg.ID})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, data.Status)
	got := e.hub.EventsOfType("a1", models.EventMessageDeliveredTo)
	require.Len(t, got, 1)
	assert.Equal(t, "bob", got[0].Data.(*models.ReceiptData).DeliveredTo)
	assert.Empty(t, e.hub.Events("b1"))
}

func TestOwnMessageReceiptIsNoop(t *testing.T) {
	e := newEnv(t)
	msg := e.send(t, e.alice, "hi")
	e.hub.Reset()
	writes := e.db.WriteCount()

	_, err := e.svc.MarkRead(context.Background(), e.alice, models.ReceiptPayload{MessageID: msg.ID})
	require.NoError(t, err)
	assert.Zero(t, e.hub.TotalEvents())
	assert.Equal(t, writes, e.db.WriteCount())
}

func TestMarkConversationRead(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.send(t, e.alice, "one")
	e.send(t, e.alice, "two")
	e.send(t, e.bob, "mine")
	e.hub.Reset()

	data, err := e.svc.MarkConversationRead(ctx, e.bob, models.ConversationPayload{ConversationID: e.conv.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, data.Count)
	assert.Len(t, e.hub.EventsOfType("a1", models.EventMessagesRead), 1)
	assert.Zero(t, e.hub.Count(models.EventMessageReadReceipt))

	data, err = e.svc.MarkConversationRead(ctx, e.bob, models.ConversationPayload{ConversationID: e.conv.ID})
	require.NoError(t, err)
	assert.Zero(t, data.Count)
	assert.Len(t, e.hub.EventsOfType("a1", models.EventMessagesRead), 1)
}

func TestFetchRoundTripOldestFirst(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, err := e.svc.Send(ctx, e.alice, models.SendMessagePayload{
		ConversationID: e.conv.ID,
		MessageType:    models.MessageFile,
		Content:        "report",
		FileURL:        "https://cdn.example.com/report.pdf",
		FileName:       "report.pdf",
	})
	require.NoError(t, err)
	second := e.send(t, e.bob, "thanks")

	page, err := e.svc.FetchMessages(ctx, e.bob, models.FetchMessagesPayload{ConversationID: e.conv.ID})
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.False(t, page.HasMore)

	got := page.Messages[0]
	assert.Equal(t, first.Message.ID, got.ID)
	assert.Equal(t, "report", got.Content)
	assert.Equal(t, models.MessageFile, got.MessageType)
	assert.Equal(t, "https://cdn.example.com/report.pdf", got.FileURL)
	assert.Equal(t, "Alice", got.Sender.DisplayName)
	assert.Equal(t, second.ID, page.Messages[1].ID)
}

func TestFetchPaginatesWithHasMore(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for _, c := range []string{"m1", "m2", "m3", "m4", "m5"} {
		e.send(t, e.alice, c)
	}

	page, err := e.svc.FetchMessages(ctx, e.bob, models.FetchMessagesPayload{ConversationID: e.conv.ID, Limit: 2})
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "m4", page.Messages[0].Content)
	assert.Equal(t, "m5", page.Messages[1].Content)

	page, err = e.svc.FetchMessages(ctx, e.bob, models.FetchMessagesPayload{ConversationID: e.conv.ID, Limit: 2, Page: 3})
	require.NoError(t, err)
	assert.False(t, page.HasMore)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "m1", page.Messages[0].Content)

	before := page.Messages[0].CreatedAt.Add(3 * time.Second)
	page, err = e.svc.FetchMessages(ctx, e.bob, models.FetchMessagesPayload{ConversationID: e.conv.ID, BeforeDate: &before})
	require.NoError(t, err)
	assert.Len(t, page.Messages, 2)

	_, err = e.svc.FetchMessages(ctx, e.carol, models.FetchMessagesPayload{ConversationID: e.conv.ID})
	assert.ErrorIs(t, err, models.ErrNotParticipant)
}

func TestFetchRejectsOverflowingPage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.send(t, e.alice, "hi")

	_, err := e.svc.FetchMessages(ctx, e.bob, models.FetchMessagesPayload{ConversationID: e.conv.ID, Page: 1 << 62, Limit: 100})
	assert.ErrorIs(t, err, ErrPageOutOfRange)
	assert.Equal(t, models.KindValidation, models.KindOf(err))

	page, err := e.svc.FetchMessages(ctx, e.bob, models.FetchMessagesPayload{ConversationID: e.conv.ID, Page: 1 << 20, Limit: 100})
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.False(t, page.HasMore)
}

func TestEditRules(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	msg := e.send(t, e.alice, "helo")

	_, err := e.svc.Edit(ctx, e.bob, models.EditMessagePayload{MessageID: msg.ID, Content: "hacked"})
	assert.ErrorIs(t, err, models.ErrNotSender)

	view, err := e.svc.Edit(ctx, e.alice, models.EditMessagePayload{MessageID: msg.ID, Content: "hello"})
	require.NoError(t, err)
	assert.True(t, view.IsEdited)
	assert.Equal(t, "hello", view.Content)
	assert.Len(t, e.hub.EventsOfType("b1", models.EventMessageUpdated), 1)

	img, err := e.svc.Send(ctx, e.alice, models.SendMessagePayload{
		ConversationID: e.conv.ID, MessageType: models.MessageImage, FileURL: "https://cdn.example.com/x.png",
	})
	require.NoError(t, err)
	_, err = e.svc.Edit(ctx, e.alice, models.EditMessagePayload{MessageID: img.Message.ID, Content: "caption"})
	assert.Equal(t, models.KindValidation, models.KindOf(err))
}

func TestDeleteForMeOnlyHidesForCaller(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	msg := e.send(t, e.alice, "secret")
	e.hub.Reset()

	_, err := e.svc.Delete(ctx, e.bob, models.DeleteMessagePayload{MessageID: msg.ID, Scope: models.DeleteForMe})
	require.NoError(t, err)
	assert.Empty(t, e.hub.Events("a1"))

	bobPage, err := e.svc.FetchMessages(ctx, e.bob, models.FetchMessagesPayload{ConversationID: e.conv.ID})
	require.NoError(t, err)
	assert.Empty(t, bobPage.Messages)

	alicePage, err := e.svc.FetchMessages(ctx, e.alice, models.FetchMessagesPayload{ConversationID: e.conv.ID})
	require.NoError(t, err)
	assert.Len(t, alicePage.Messages, 1)
}

func TestDeleteForEveryoneTombstonesAndRefreshesPreview(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	msg := e.send(t, e.alice, "oops")

	_, err := e.svc.Delete(ctx, e.bob, models.DeleteMessagePayload{MessageID: msg.ID, Scope: models.DeleteForEveryone})
	assert.ErrorIs(t, err, models.ErrNotSender)

	_, err = e.svc.Delete(ctx, e.alice, models.DeleteMessagePayload{MessageID: msg.ID, Scope: models.DeleteForEveryone})
	require.NoError(t, err)
	assert.Len(t, e.hub.EventsOfType("b1", models.EventMessageDeleted), 1)

	stored, err := e.db.GetMessageByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeletedMessageContent, stored.Content)

	conv, err := e.db.GetConversationByID(ctx, e.conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeletedMessageContent, conv.LastMessage.Content)
}

func TestTypingReachesRoomSubscribersOnly(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	room := models.ConversationPayload{ConversationID: e.conv.ID}

	require.NoError(t, e.svc.JoinRoom(ctx, e.alice, room))
	require.NoError(t, e.svc.JoinRoom(ctx, e.bob, room))

	require.NoError(t, e.svc.Typing(ctx, e.alice, models.TypingPayload{ConversationID: e.conv.ID, IsTyping: true}))
	got := e.hub.EventsOfType("b1", models.EventUserTyping)
	require.Len(t, got, 1)
	assert.True(t, got[0].Data.(models.UserTypingData).IsTyping)
	assert.Empty(t, e.hub.Events("a1"))

	require.NoError(t, e.svc.LeaveRoom(ctx, e.bob, room))
	require.NoError(t, e.svc.Typing(ctx, e.alice, models.TypingPayload{ConversationID: e.conv.ID}))
	assert.Len(t, e.hub.EventsOfType("b1", models.EventUserTyping), 1)
	assert.Zero(t, e.db.WriteCount())
}

type previewFailDB struct {
	*database.MemoryDB
}

func (previewFailDB) UpdateLastMessage(context.Context, string, *models.LastMessage) error {
	return errors.New("preview store down")
}

func TestPreviewFailureDoesNotFailSend(t *testing.T) {
	e := newEnv(t)
	e.svc.db = previewFailDB{e.db}

	res, err := e.svc.Send(context.Background(), e.alice, models.SendMessagePayload{ConversationID: e.conv.ID, Content: "still sent"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, res.Status)
	assert.Len(t, e.hub.EventsOfType("b1", models.EventNewMessage), 1)
}
