package websocket

import (
	"context"
	"testing"
	"time"

	"social-app/internal/config"
	"social-app/internal/models"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(h *Hub, principalID, namespace string) *Client {
	c := NewClient(h, nil, models.Principal{ID: principalID}, namespace, config.Default().Realtime)
	h.Register(c)
	return c
}

// drain returns every frame queued so far without blocking.
func drain(t *testing.T, c *Client) []models.Event {
	t.Helper()
	var out []models.Event
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return out
			}
			var evt models.Event
			require.NoError(t, json.Unmarshal(frame, &evt))
			out = append(out, evt)
		default:
			return out
		}
	}
}

func TestEmitToRoomSkipsExcludedPrincipal(t *testing.T) {
	h := NewHub(time.Minute)
	a1 := newTestClient(h, "alice", models.NamespaceDefault)
	a2 := newTestClient(h, "alice", models.NamespaceDefault)
	b1 := newTestClient(h, "bob", models.NamespaceDefault)
	outsider := newTestClient(h, "carol", models.NamespaceDefault)

	room := models.ConversationRoom("c1")
	for _, c := range []*Client{a1, a2, b1} {
		require.True(t, h.Join(c.ID(), room))
	}

	n := h.EmitToRoom(room, models.NewEvent(models.EventUserTyping, models.UserTypingData{UserID: "alice"}), "alice")
	assert.Equal(t, 1, n)
	assert.Len(t, drain(t, b1), 1)
	assert.Empty(t, drain(t, a1))
	assert.Empty(t, drain(t, a2))
	assert.Empty(t, drain(t, outsider))
}

func TestBroadcastIsScopedToNamespace(t *testing.T) {
	h := NewHub(time.Minute)
	user := newTestClient(h, "alice", models.NamespaceDefault)
	adm := newTestClient(h, "root", models.NamespaceAdmin)

	n := h.Broadcast(models.NamespaceDefault, models.NewEvent(models.EventAdminBroadcast, models.BroadcastData{Message: "hi"}))
	assert.Equal(t, 1, n)
	assert.Len(t, drain(t, user), 1)
	assert.Empty(t, drain(t, adm))
	assert.Equal(t, 1, h.Count(models.NamespaceAdmin))
}

func TestUnregisterLeavesRooms(t *testing.T) {
	h := NewHub(time.Minute)
	c := newTestClient(h, "alice", models.NamespaceDefault)
	room := models.NotificationRoom("alice")
	require.True(t, h.Join(c.ID(), room))
	assert.Equal(t, 1, h.RoomSize(room))

	assert.True(t, h.Unregister(c))
	assert.False(t, h.Unregister(c))
	assert.Zero(t, h.RoomSize(room))
	assert.False(t, h.Join(c.ID(), room))
	assert.Zero(t, h.EmitTo([]string{c.ID()}, models.NewEvent(models.EventHeartbeatAck, nil)))
}

func TestCloseFlushesQueuedFramesFirst(t *testing.T) {
	h := NewHub(time.Minute)
	c := newTestClient(h, "alice", models.NamespaceDefault)

	h.EmitTo([]string{c.ID()}, models.NewEvent(models.EventForcedDisconnect, models.ForcedDisconnectData{Reason: "bye"}))
	h.Close(c.ID())

	frame, ok := <-c.send
	require.True(t, ok)
	assert.Contains(t, string(frame), "forced-disconnect")
	_, ok = <-c.send
	assert.False(t, ok, "queue closes after the pending frame")
	assert.False(t, c.queue([]byte("late")))
}

func TestFullBufferClosesSlowClient(t *testing.T) {
	h := NewHub(time.Minute)
	c := newTestClient(h, "alice", models.NamespaceDefault)

	evt := models.NewEvent(models.EventHeartbeatAck, models.HeartbeatAckData{})
	for i := 0; i < sendBufferSize; i++ {
		require.Equal(t, 1, h.EmitTo([]string{c.ID()}, evt))
	}
	assert.Zero(t, h.EmitTo([]string{c.ID()}, evt))
	assert.Len(t, drain(t, c), sendBufferSize)
}

func TestServeClosesConnectionsOnShutdown(t *testing.T) {
	h := NewHub(10 * time.Millisecond)
	c := newTestClient(h, "alice", models.NamespaceDefault)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	_, ok := <-c.send
	assert.False(t, ok)
}

func TestServeRunsShutdownHookBeforeClosing(t *testing.T) {
	h := NewHub(time.Minute)
	c := newTestClient(h, "alice", models.NamespaceDefault)
	h.OnShutdown(func() {
		h.Broadcast(models.NamespaceDefault, models.NewEvent(models.EventSystemNotification, models.Notification{Message: "bye"}))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, h.Serve(ctx), context.Canceled)

	events := drain(t, c)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventSystemNotification, events[0].Type)
	_, ok := <-c.send
	assert.False(t, ok)
}
