package notify

import (
	"context"
	"testing"
	"time"

	"social-app/internal/metrics"
	"social-app/internal/models"
	"social-app/internal/session"
	"social-app/internal/testutil"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Notifier, *session.Registry, *testutil.Hub) {
	t.Helper()
	reg := session.NewRegistry()
	hub := testutil.NewHub()
	return NewNotifier(reg, hub), reg, hub
}

func connect(reg *session.Registry, hub *testutil.Hub, principal, conn string) {
	hub.Connect(conn, principal, models.NamespaceDefault)
	reg.Register(principal, conn, nil)
}

func TestNotifyReachesEveryTab(t *testing.T) {
	n, reg, hub := setup(t)
	connect(reg, hub, "alice", "a1")
	connect(reg, hub, "alice", "a2")
	connect(reg, hub, "bob", "b1")

	got := n.Send("alice", models.Notification{Type: models.NotificationLike, Title: "New like"})
	assert.Equal(t, 2, got)
	require.Len(t, hub.EventsOfType("a1", models.EventNewNotification), 1)
	assert.Len(t, hub.EventsOfType("a2", models.EventNewNotification), 1)
	assert.Empty(t, hub.Events("b1"))

	note := hub.EventsOfType("a1", models.EventNewNotification)[0].Data.(models.Notification)
	assert.NotEmpty(t, note.ID)
	assert.False(t, note.CreatedAt.IsZero())
}

func TestNotifyOfflineIsSilentDrop(t *testing.T) {
	n, _, hub := setup(t)
	before := promtest.ToFloat64(metrics.NotificationsDropped)

	assert.Zero(t, n.Send("ghost", models.Notification{Type: models.NotificationSystem}))
	assert.Zero(t, hub.TotalEvents())
	assert.Equal(t, before+1, promtest.ToFloat64(metrics.NotificationsDropped))
}

func TestNotifyExceptSkipsOrigin(t *testing.T) {
	n, reg, hub := setup(t)
	connect(reg, hub, "alice", "a1")
	connect(reg, hub, "alice", "a2")

	evt := models.NewEvent(models.EventNotificationRead, models.NotificationReadData{NotificationID: "n1"})
	assert.Equal(t, 1, n.NotifyExcept("alice", "a1", evt))
	assert.Empty(t, hub.Events("a1"))
	assert.Len(t, hub.Events("a2"), 1)
}

func TestBroadcastSkipsAdminNamespace(t *testing.T) {
	n, reg, hub := setup(t)
	connect(reg, hub, "alice", "a1")
	connect(reg, hub, "bob", "b1")
	hub.Connect("admin-1", "root", models.NamespaceAdmin)

	got := n.BroadcastSystem(models.Notification{Type: models.NotificationSystem, Message: "maintenance"})
	assert.Equal(t, 2, got)
	assert.Empty(t, hub.Events("admin-1"))
}

func TestNotifyWithAckSettlesWhenAllTabsConfirm(t *testing.T) {
	n, reg, hub := setup(t)
	connect(reg, hub, "alice", "a1")
	connect(reg, hub, "alice", "a2")

	done := make(chan AckResult, 1)
	go func() {
		done <- n.NotifyWithAck(context.Background(), "alice", models.NewEvent(models.EventNewNotification, nil), time.Second)
	}()

	require.Eventually(t, func() bool { return len(hub.Events("a2")) == 1 }, time.Second, 5*time.Millisecond)
	ackID := hub.Events("a1")[0].AckID
	require.NotEmpty(t, ackID)

	assert.False(t, n.ResolveAck(ackID, "stranger"))
	assert.True(t, n.ResolveAck(ackID, "a1"))
	assert.False(t, n.ResolveAck(ackID, "a1"))
	assert.True(t, n.ResolveAck(ackID, "a2"))

	res := <-done
	assert.False(t, res.TimedOut)
	assert.Equal(t, 2, res.Delivered)
	assert.Equal(t, 2, res.Acked)
	assert.Zero(t, n.PendingAcks())
}

func TestNotifyWithAckTimesOut(t *testing.T) {
	n, reg, hub := setup(t)
	connect(reg, hub, "alice", "a1")
	before := promtest.ToFloat64(metrics.AckTimeouts)

	res := n.NotifyWithAck(context.Background(), "alice", models.NewEvent(models.EventNewNotification, nil), 20*time.Millisecond)
	assert.True(t, res.TimedOut)
	assert.Equal(t, 1, res.Delivered)
	assert.Zero(t, res.Acked)
	assert.Equal(t, before+1, promtest.ToFloat64(metrics.AckTimeouts))
	assert.Len(t, hub.Events("a1"), 1, "delivery stands after a missed ack")
	assert.Zero(t, n.PendingAcks())
}

func TestDropConnectionReleasesWaiter(t *testing.T) {
	n, reg, hub := setup(t)
	connect(reg, hub, "alice", "a1")

	done := make(chan AckResult, 1)
	go func() {
		done <- n.NotifyWithAck(context.Background(), "alice", models.NewEvent(models.EventNewNotification, nil), 5*time.Second)
	}()
	require.Eventually(t, func() bool { return n.PendingAcks() == 1 }, time.Second, 5*time.Millisecond)

	n.DropConnection("a1")
	select {
	case res := <-done:
		assert.False(t, res.TimedOut)
		assert.Zero(t, res.Acked)
	case <-time.After(time.Second):
		t.Fatal("waiter not released")
	}
}
