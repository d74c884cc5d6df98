package admin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"social-app/internal/auth"
	"social-app/internal/config"
	"social-app/internal/database"
	"social-app/internal/models"
	"social-app/internal/presence"
	"social-app/internal/session"
	"social-app/pkg/logger"

	"golang.org/x/sync/errgroup"
)

const defaultKickReason = "Disconnected by an administrator"

// Connections is the subset of the hub the admin channel drives.
type Connections interface {
	EmitTo(connIDs []string, evt models.Event) int
	Broadcast(namespace string, evt models.Event) int
	Close(connID string)
}

type Service struct {
	db       database.Database
	registry *session.Registry
	presence *presence.Tracker
	authz    *auth.Authorizer
	conns    Connections
	cfg      config.RealtimeConfig
	now      func() time.Time
}

func NewService(db database.Database, registry *session.Registry, tracker *presence.Tracker, authz *auth.Authorizer, conns Connections, cfg config.RealtimeConfig) *Service {
	return &Service{
		db:       db,
		registry: registry,
		presence: tracker,
		authz:    authz,
		conns:    conns,
		cfg:      cfg,
		now:      time.Now,
	}
}

// DashboardStats computes aggregate counts from the stores on every call.
func (s *Service) DashboardStats(ctx context.Context, actor models.Actor) (*models.DashboardStats, error) {
	if err := s.authz.AuthorizeAdmin(actor.Principal, string(models.EventDashboardStats)); err != nil {
		return nil, err
	}

	stats := &models.DashboardStats{OnlineUsers: s.registry.OnlineCount(), GeneratedAt: s.now()}
	var recent []*models.User

	g, gctx := errgroup.WithContext(ctx)
	count := func(dst *int64, fn func(context.Context) (int64, error)) {
		g.Go(func() error {
			n, err := fn(gctx)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		})
	}
	count(&stats.TotalUsers, s.db.CountUsers)
	count(&stats.TotalPosts, s.db.CountPosts)
	count(&stats.TotalComments, s.db.CountComments)
	count(&stats.FrozenUsers, s.db.CountFrozenUsers)
	count(&stats.DeletedUsers, s.db.CountDeletedUsers)
	g.Go(func() error {
		users, err := s.db.RecentUsers(gctx, s.cfg.RecentUsers)
		recent = users
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("dashboard stats: %w", err)
	}

	stats.RecentUsers = make([]*models.UserSummary, 0, len(recent))
	for _, u := range recent {
		stats.RecentUsers = append(stats.RecentUsers, u.Summary())
	}
	return stats, nil
}

// OnlineUsers lists every connected principal with presence and profile.
func (s *Service) OnlineUsers(ctx context.Context, actor models.Actor) ([]models.OnlineUser, error) {
	if err := s.authz.AuthorizeAdmin(actor.Principal, string(models.EventOnlineUsers)); err != nil {
		return nil, err
	}

	infos := s.presence.Online()
	ids := make([]string, len(infos))
	for i, info := range infos {
		ids[i] = info.UserID
	}
	users, err := s.db.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load online users: %w", err)
	}

	out := make([]models.OnlineUser, 0, len(infos))
	for _, info := range infos {
		ou := models.OnlineUser{PresenceInfo: info}
		if u, ok := users[info.UserID]; ok {
			ou.User = u.Summary()
		}
		out = append(out, ou)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(*out[j].LastActivity)
	})
	return out, nil
}

// Broadcast pushes a system-wide message to every default-namespace connection.
func (s *Service) Broadcast(ctx context.Context, actor models.Actor, p models.AdminBroadcastPayload) (*models.BroadcastResult, error) {
	if err := s.authz.AuthorizeAdmin(actor.Principal, string(models.EventBroadcastMessage)); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Message) == "" {
		return nil, models.Validation("message_required", "broadcast message is empty")
	}
	severity := p.Severity
	if severity == "" {
		severity = "info"
	}

	now := s.now()
	n := s.conns.Broadcast(models.NamespaceDefault, models.NewEvent(models.EventAdminBroadcast, models.BroadcastData{
		Message:   p.Message,
		Severity:  severity,
		From:      actor.DisplayName,
		Timestamp: now,
	}))
	logger.Info("admin %s broadcast %q (%s) to %d connections", actor.ID, p.Message, severity, n)
	return &models.BroadcastResult{Recipients: n, Timestamp: now}, nil
}

// Kick sends forced-disconnect to every tab of the target and closes them.
// A target with no live tab yields ErrUserNotOnline and emits nothing.
func (s *Service) Kick(ctx context.Context, actor models.Actor, p models.KickPayload) (*models.KickResult, error) {
	if err := s.authz.AuthorizeAdmin(actor.Principal, string(models.EventKickUser)); err != nil {
		return nil, err
	}

	tabs := s.registry.Tabs(p.UserID)
	if len(tabs) == 0 {
		return nil, models.ErrUserNotOnline
	}

	reason := strings.TrimSpace(p.Reason)
	if reason == "" {
		reason = defaultKickReason
	}
	n := s.conns.EmitTo(tabs, models.NewEvent(models.EventForcedDisconnect, models.ForcedDisconnectData{
		Reason:    reason,
		Timestamp: s.now(),
	}))
	for _, id := range tabs {
		s.conns.Close(id)
	}
	logger.Info("admin %s kicked %s (%d tabs): %s", actor.ID, p.UserID, n, reason)
	return &models.KickResult{UserID: p.UserID, TabsNotified: n}, nil
}

// InspectSessions returns the stored profile and live session of one principal.
func (s *Service) InspectSessions(ctx context.Context, actor models.Actor, p models.UserPayload) (*models.SessionSnapshot, error) {
	if err := s.authz.AuthorizeAdmin(actor.Principal, string(models.EventGetUserSessions)); err != nil {
		return nil, err
	}
	user, err := s.db.GetUserByID(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	return &models.SessionSnapshot{User: user, Presence: s.presence.Info(p.UserID)}, nil
}
