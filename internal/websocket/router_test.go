package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"social-app/internal/admin"
	"social-app/internal/auth"
	"social-app/internal/config"
	"social-app/internal/database"
	"social-app/internal/messaging"
	"social-app/internal/models"
	"social-app/internal/notify"
	"social-app/internal/presence"
	"social-app/internal/session"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Type  models.EventType `json:"type"`
	AckID string           `json:"ackId"`
	Data  json.RawMessage  `json:"data"`
}

type server struct {
	srv      *httptest.Server
	hub      *Hub
	registry *session.Registry
	conv     *models.Conversation
}

var principals = map[string]models.Principal{
	"alice": {ID: "alice", Username: "alice", DisplayName: "Alice", Role: models.RoleUser},
	"bob":   {ID: "bob", Username: "bob", DisplayName: "Bob", Role: models.RoleUser},
	"root":  {ID: "root", Username: "root", DisplayName: "Root", Role: models.RoleAdmin},
}

func newServer(t *testing.T, tune func(*config.RealtimeConfig)) *server {
	t.Helper()
	cfg := config.Default().Realtime
	if tune != nil {
		tune(&cfg)
	}

	db := database.NewMemoryDB()
	for _, p := range principals {
		db.PutUser(&models.User{ID: p.ID, Username: p.Username, DisplayName: p.DisplayName, Role: p.Role})
	}
	conv, err := db.CreateConversation(context.Background(), &models.Conversation{
		Type:         models.ConversationDirect,
		Participants: []string{"alice", "bob"},
		CreatedBy:    "alice",
	})
	require.NoError(t, err)

	registry := session.NewRegistry()
	hub := NewHub(time.Minute)
	notifier := notify.NewNotifier(registry, hub)
	tracker := presence.NewTracker(registry, notifier)
	authz, err := auth.NewAuthorizer()
	require.NoError(t, err)
	router := NewRouter(hub, registry, tracker, notifier,
		messaging.NewService(db, notifier, hub, cfg),
		admin.NewService(db, registry, tracker, authz, hub, cfg),
		cfg)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ns := models.NamespaceDefault
		if r.URL.Path == "/admin" {
			ns = models.NamespaceAdmin
		}
		router.Attach(conn, principals[r.URL.Query().Get("as")], ns)
	}))
	t.Cleanup(srv.Close)
	return &server{srv: srv, hub: hub, registry: registry, conv: conv}
}

// dial connects as principal and waits until the connection is attached.
func (s *server) dial(t *testing.T, path, principal string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + path + "?as=" + principal
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	emit(t, conn, models.EventHeartbeat, "", nil)
	expect(t, conn, models.EventHeartbeatAck)
	return conn
}

func emit(t *testing.T, conn *websocket.Conn, typ models.EventType, ackID string, data interface{}) {
	t.Helper()
	env := map[string]interface{}{"type": typ}
	if ackID != "" {
		env["ackId"] = ackID
	}
	if data != nil {
		env["data"] = data
	}
	require.NoError(t, conn.WriteJSON(env))
}

// expect reads until a frame of typ arrives.
func expect(t *testing.T, conn *websocket.Conn, typ models.EventType) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", typ)
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f))
		if f.Type == typ {
			return f
		}
	}
}

func expectAck(t *testing.T, conn *websocket.Conn, ackID string) models.AckResponse {
	t.Helper()
	for {
		f := expect(t, conn, models.EventAck)
		if f.AckID != ackID {
			continue
		}
		var ack struct {
			Success bool              `json:"success"`
			Data    json.RawMessage   `json:"data"`
			Error   *models.ErrorBody `json:"error"`
		}
		require.NoError(t, json.Unmarshal(f.Data, &ack))
		return models.AckResponse{Success: ack.Success, Data: ack.Data, Error: ack.Error}
	}
}

func TestSendMessageReachesRecipient(t *testing.T) {
	s := newServer(t, nil)
	bob := s.dial(t, "/", "bob")
	alice := s.dial(t, "/", "alice")

	emit(t, alice, models.EventSendMessage, "", models.SendMessagePayload{
		ConversationID:  s.conv.ID,
		Content:         "hello",
		MessageType:     models.MessageText,
		ClientMessageID: "tmp-1",
	})

	var sent models.MessageSentData
	require.NoError(t, json.Unmarshal(expect(t, alice, models.EventMessageSent).Data, &sent))
	assert.Equal(t, "tmp-1", sent.ClientMessageID)
	assert.Equal(t, models.StatusSent, sent.Status)

	var view models.MessageView
	require.NoError(t, json.Unmarshal(expect(t, bob, models.EventNewMessage).Data, &view))
	assert.Equal(t, "hello", view.Content)
	assert.Equal(t, sent.Message.ID, view.ID)
}

func TestAckCarriesFailure(t *testing.T) {
	s := newServer(t, nil)
	alice := s.dial(t, "/", "alice")

	emit(t, alice, "no-such-event", "a-1", nil)
	ack := expectAck(t, alice, "a-1")
	assert.False(t, ack.Success)
	require.NotNil(t, ack.Error)
	assert.Equal(t, models.ErrUnknownEvent.Code, ack.Error.Code)

	emit(t, alice, models.EventSendMessage, "a-2", models.SendMessagePayload{
		ConversationID:  "missing",
		Content:         "x",
		ClientMessageID: "tmp-9",
	})
	ack = expectAck(t, alice, "a-2")
	assert.False(t, ack.Success)
	assert.Contains(t, string(ack.Data.(json.RawMessage)), `"failed"`)
	assert.Contains(t, string(ack.Data.(json.RawMessage)), "tmp-9")
}

func TestInvalidPayloadReportsErrorEvent(t *testing.T) {
	s := newServer(t, nil)
	alice := s.dial(t, "/", "alice")

	emit(t, alice, models.EventSetStatus, "", map[string]string{"status": "asleep"})
	var body models.ErrorBody
	require.NoError(t, json.Unmarshal(expect(t, alice, models.EventError).Data, &body))
	assert.Equal(t, models.KindValidation, body.Kind)
	assert.Equal(t, models.ErrInvalidPayload.Code, body.Code)
	assert.Equal(t, models.EventSetStatus, body.Event)
}

func TestPresenceFollowsConnections(t *testing.T) {
	s := newServer(t, nil)
	bob := s.dial(t, "/", "bob")
	alice := s.dial(t, "/", "alice")

	var changed models.StatusChangedData
	for changed.UserID != "alice" {
		require.NoError(t, json.Unmarshal(expect(t, bob, models.EventStatusChanged).Data, &changed))
	}
	assert.Equal(t, models.StatusOnline, changed.Status)
	assert.True(t, s.registry.IsOnline("alice"))

	alice.Close()
	changed = models.StatusChangedData{}
	for changed.UserID != "alice" {
		require.NoError(t, json.Unmarshal(expect(t, bob, models.EventStatusChanged).Data, &changed))
	}
	assert.Equal(t, models.StatusOffline, changed.Status)
	assert.False(t, s.registry.IsOnline("alice"))
}

func TestAdminConnectionIsNotATab(t *testing.T) {
	s := newServer(t, nil)
	s.dial(t, "/admin", "root")
	assert.False(t, s.registry.IsOnline("root"))
	assert.Equal(t, 1, s.hub.Count(models.NamespaceAdmin))
}

func TestAdminKickClosesTabs(t *testing.T) {
	s := newServer(t, nil)
	alice := s.dial(t, "/", "alice")
	root := s.dial(t, "/admin", "root")

	emit(t, root, models.EventKickUser, "k-1", models.KickPayload{UserID: "alice", Reason: "spam"})
	ack := expectAck(t, root, "k-1")
	require.True(t, ack.Success)

	var data models.ForcedDisconnectData
	require.NoError(t, json.Unmarshal(expect(t, alice, models.EventForcedDisconnect).Data, &data))
	assert.Equal(t, "spam", data.Reason)

	alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := alice.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
			break
		}
	}
}

func TestAdminEventsRejectedForUsers(t *testing.T) {
	s := newServer(t, nil)
	alice := s.dial(t, "/admin", "alice")

	emit(t, alice, models.EventDashboardStats, "d-1", nil)
	ack := expectAck(t, alice, "d-1")
	assert.False(t, ack.Success)
	assert.Equal(t, models.ErrAdminRequired.Code, ack.Error.Code)
}

func TestDefaultNamespaceHasNoAdminEvents(t *testing.T) {
	s := newServer(t, nil)
	root := s.dial(t, "/", "root")

	emit(t, root, models.EventDashboardStats, "d-1", nil)
	ack := expectAck(t, root, "d-1")
	assert.Equal(t, models.ErrUnknownEvent.Code, ack.Error.Code)
}

func TestRateLimitedEvents(t *testing.T) {
	s := newServer(t, func(c *config.RealtimeConfig) {
		c.EventRate = 0.001
		c.EventBurst = 2
	})
	alice := s.dial(t, "/", "alice")

	emit(t, alice, models.EventHeartbeat, "", nil)
	expect(t, alice, models.EventHeartbeatAck)
	emit(t, alice, models.EventHeartbeat, "", nil)

	var body models.ErrorBody
	require.NoError(t, json.Unmarshal(expect(t, alice, models.EventError).Data, &body))
	assert.Equal(t, models.ErrRateLimited.Code, body.Code)
}

func TestNotificationReadSyncsOtherTabs(t *testing.T) {
	s := newServer(t, nil)
	tab1 := s.dial(t, "/", "alice")
	tab2 := s.dial(t, "/", "alice")

	emit(t, tab1, models.EventMarkNotificationRead, "n-1", models.NotificationReadPayload{NotificationID: "note-7"})
	assert.True(t, expectAck(t, tab1, "n-1").Success)

	var data models.NotificationReadData
	require.NoError(t, json.Unmarshal(expect(t, tab2, models.EventNotificationRead).Data, &data))
	assert.Equal(t, "note-7", data.NotificationID)
}

func TestSubscribeJoinsNotificationRoom(t *testing.T) {
	s := newServer(t, nil)
	alice := s.dial(t, "/", "alice")

	emit(t, alice, models.EventSubscribeNotifications, "s-1", nil)
	require.True(t, expectAck(t, alice, "s-1").Success)
	assert.Equal(t, 1, s.hub.RoomSize(models.NotificationRoom("alice")))

	emit(t, alice, models.EventUnsubscribeNotifications, "s-2", nil)
	require.True(t, expectAck(t, alice, "s-2").Success)
	assert.Zero(t, s.hub.RoomSize(models.NotificationRoom("alice")))
}
