package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"social-app/internal/admin"
	"social-app/internal/auth"
	"social-app/internal/config"
	"social-app/internal/database"
	"social-app/internal/handlers"
	"social-app/internal/messaging"
	"social-app/internal/models"
	"social-app/internal/notify"
	"social-app/internal/presence"
	"social-app/internal/services"
	"social-app/internal/session"
	"social-app/internal/websocket"
	"social-app/pkg/logger"

	"github.com/sony/gobreaker/v2"
	"github.com/thejerf/suture/v4"
)

type app struct {
	cfg         *config.Config
	db          *database.BreakerDB
	store       database.Database
	authService *auth.Service
	hub         *websocket.Hub
	server      *http.Server
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (database.Database, error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		return database.NewMemoryDB(), nil
	default:
		db, err := database.NewPostgresDB(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		return db, nil
	}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	db := database.NewBreakerDB(store, database.BreakerSettings{
		Name:                "store",
		ConsecutiveFailures: cfg.Database.BreakerFailures,
		Timeout:             cfg.Database.BreakerTimeout,
	})

	authService := auth.NewService(db, cfg)
	authz, err := auth.NewAuthorizer()
	if err != nil {
		store.Close()
		return nil, err
	}

	registry := session.NewRegistry()
	hub := websocket.NewHub(cfg.Realtime.SweepInterval)
	notifier := notify.NewNotifier(registry, hub)
	tracker := presence.NewTracker(registry, notifier)
	hub.OnShutdown(func() {
		notifier.BroadcastSystem(models.Notification{
			Type:    models.NotificationSystem,
			Title:   "Server restarting",
			Message: "The server is shutting down; reconnect in a moment.",
		})
	})
	router := websocket.NewRouter(hub, registry, tracker, notifier,
		messaging.NewService(db, notifier, hub, cfg.Realtime),
		admin.NewService(db, registry, tracker, authz, hub, cfg.Realtime),
		cfg.Realtime)

	handler := handlers.NewRouter(handlers.RouterConfig{
		AuthService:    authService,
		Auth:           handlers.NewAuthHandlers(authService),
		Conversations:  handlers.NewConversationHandlers(services.NewConversationService(db, notifier, tracker, cfg.Realtime.AckTimeout)),
		WebSocket:      handlers.NewWebSocketHandlers(authService, authz, router, cfg.Server.CORSOrigins),
		CORSOrigins:    cfg.Server.CORSOrigins,
		LoginRateLimit: cfg.Server.LoginRateLimit,
		Health: func() error {
			if db.State() == gobreaker.StateOpen {
				return errors.New("store circuit open")
			}
			return nil
		},
	})

	return &app{
		cfg:         cfg,
		db:          db,
		store:       store,
		authService: authService,
		hub:         hub,
		server: &http.Server{
			Addr:         cfg.Server.Port,
			Handler:      handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}, nil
}

// Run supervises the HTTP server and the hub until ctx ends.
func (a *app) Run(ctx context.Context) error {
	sup := suture.New("social-server", suture.Spec{
		EventHook: func(e suture.Event) {
			logger.Warnw().Str("event", e.String()).Msg("supervisor event")
		},
	})
	sup.Add(a.hub)
	sup.Add(newHTTPService(a.server, a.cfg.Server.ShutdownTimeout))
	return sup.Serve(ctx)
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logger.Error("close store: %v", err)
	}
}
