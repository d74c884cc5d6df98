package admin

import (
	"context"
	"testing"
	"time"

	"social-app/internal/auth"
	"social-app/internal/config"
	"social-app/internal/database"
	"social-app/internal/models"
	"social-app/internal/notify"
	"social-app/internal/presence"
	"social-app/internal/session"
	"social-app/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	svc      *Service
	db       *database.MemoryDB
	hub      *testutil.Hub
	tracker  *presence.Tracker
	registry *session.Registry
	admin    models.Actor
	user     models.Actor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := database.NewMemoryDB()
	reg := session.NewRegistry()
	hub := testutil.NewHub()
	tracker := presence.NewTracker(reg, notify.NewNotifier(reg, hub))
	authz, err := auth.NewAuthorizer()
	require.NoError(t, err)

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i, u := range []*models.User{
		{ID: "root", Username: "root", DisplayName: "Root", Role: models.RoleAdmin},
		{ID: "alice", Username: "alice", DisplayName: "Alice"},
		{ID: "bob", Username: "bob", DisplayName: "Bob", IsFrozen: true},
		{ID: "dan", Username: "dan", IsDeleted: true},
	} {
		u.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		db.PutUser(u)
	}
	db.SetPostCounts(12, 34)

	e := &env{
		svc:      NewService(db, reg, tracker, authz, hub, config.Default().Realtime),
		db:       db,
		hub:      hub,
		tracker:  tracker,
		registry: reg,
		admin:    models.Actor{Principal: models.Principal{ID: "root", DisplayName: "Root", Role: models.RoleAdmin}, ConnID: "adm-1"},
		user:     models.Actor{Principal: models.Principal{ID: "alice", Role: models.RoleUser}, ConnID: "a1"},
	}
	hub.Connect("adm-1", "root", models.NamespaceAdmin)
	return e
}

func (e *env) open(principal, conn string) {
	e.hub.Connect(conn, principal, models.NamespaceDefault)
	e.tracker.Connect(principal, conn)
}

func TestOperationsRequireAdmin(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.DashboardStats(ctx, e.user)
	assert.ErrorIs(t, err, models.ErrAdminRequired)
	_, err = e.svc.OnlineUsers(ctx, e.user)
	assert.ErrorIs(t, err, models.ErrAdminRequired)
	_, err = e.svc.Broadcast(ctx, e.user, models.AdminBroadcastPayload{Message: "hi"})
	assert.ErrorIs(t, err, models.ErrAdminRequired)
	_, err = e.svc.Kick(ctx, e.user, models.KickPayload{UserID: "bob"})
	assert.ErrorIs(t, err, models.ErrAdminRequired)
	_, err = e.svc.InspectSessions(ctx, e.user, models.UserPayload{UserID: "bob"})
	assert.ErrorIs(t, err, models.ErrAdminRequired)
}

func TestDashboardStats(t *testing.T) {
	e := newEnv(t)
	e.open("alice", "a1")
	e.open("alice", "a2")

	stats, err := e.svc.DashboardStats(context.Background(), e.admin)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalUsers)
	assert.Equal(t, 1, stats.OnlineUsers)
	assert.Equal(t, int64(12), stats.TotalPosts)
	assert.Equal(t, int64(34), stats.TotalComments)
	assert.Equal(t, int64(1), stats.FrozenUsers)
	assert.Equal(t, int64(1), stats.DeletedUsers)
	require.Len(t, stats.RecentUsers, 3)
	assert.Equal(t, "bob", stats.RecentUsers[0].ID)
}

func TestDashboardStatsSurfacesStoreFailure(t *testing.T) {
	e := newEnv(t)
	e.db.FailWith(assert.AnError)
	_, err := e.svc.DashboardStats(context.Background(), e.admin)
	assert.Equal(t, models.KindTransient, models.KindOf(err))
}

func TestKickOfflineReportsNotOnline(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Kick(context.Background(), e.admin, models.KickPayload{UserID: "bob", Reason: "spam"})
	assert.ErrorIs(t, err, models.ErrUserNotOnline)
	assert.Zero(t, e.hub.TotalEvents())
}

func TestKickNotifiesAndClosesEveryTab(t *testing.T) {
	e := newEnv(t)
	e.open("alice", "a1")
	e.open("alice", "a2")
	e.open("carol", "c1")
	e.hub.Reset()

	res, err := e.svc.Kick(context.Background(), e.admin, models.KickPayload{UserID: "alice", Reason: "spam"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TabsNotified)

	for _, conn := range []string{"a1", "a2"} {
		got := e.hub.EventsOfType(conn, models.EventForcedDisconnect)
		require.Len(t, got, 1)
		assert.Equal(t, "spam", got[0].Data.(models.ForcedDisconnectData).Reason)
		assert.True(t, e.hub.Closed(conn))
	}
	assert.Empty(t, e.hub.Events("c1"))
	assert.False(t, e.hub.Closed("c1"))
}

func TestBroadcastTargetsDefaultNamespace(t *testing.T) {
	e := newEnv(t)
	e.open("alice", "a1")
	e.open("carol", "c1")
	e.hub.Reset()

	res, err := e.svc.Broadcast(context.Background(), e.admin, models.AdminBroadcastPayload{Message: "maintenance at 5"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Recipients)

	got := e.hub.EventsOfType("a1", models.EventAdminBroadcast)
	require.Len(t, got, 1)
	data := got[0].Data.(models.BroadcastData)
	assert.Equal(t, "info", data.Severity)
	assert.Equal(t, "Root", data.From)
	assert.Empty(t, e.hub.Events("adm-1"))

	_, err = e.svc.Broadcast(context.Background(), e.admin, models.AdminBroadcastPayload{Message: "  "})
	assert.Equal(t, models.KindValidation, models.KindOf(err))
}

func TestOnlineUsers(t *testing.T) {
	e := newEnv(t)
	e.open("alice", "a1")
	_, err := e.tracker.SetStatus("alice", models.StatusAway)
	require.NoError(t, err)

	users, err := e.svc.OnlineUsers(context.Background(), e.admin)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].UserID)
	assert.Equal(t, models.StatusAway, users[0].Status)
	assert.Equal(t, "Alice", users[0].User.DisplayName)
}

func TestInspectSessions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	snap, err := e.svc.InspectSessions(ctx, e.admin, models.UserPayload{UserID: "alice"})
	require.NoError(t, err)
	assert.False(t, snap.Presence.Online)
	assert.Nil(t, snap.Presence.ConnectedAt)

	e.open("alice", "a1")
	e.open("alice", "a2")
	snap, err = e.svc.InspectSessions(ctx, e.admin, models.UserPayload{UserID: "alice"})
	require.NoError(t, err)
	assert.True(t, snap.Presence.Online)
	assert.Equal(t, 2, snap.Presence.TabCount)
	assert.NotNil(t, snap.Presence.ConnectedAt)
	assert.Equal(t, "alice", snap.User.ID)
	assert.Equal(t, 2, e.registry.TabCount("alice"), "inspection does not mutate")

	_, err = e.svc.InspectSessions(ctx, e.admin, models.UserPayload{UserID: "ghost"})
	assert.ErrorIs(t, err, models.ErrUserNotFound)
}
