package handlers

import (
	"net/http"
	"time"

	"social-app/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	AuthService    *auth.Service
	Auth           *AuthHandlers
	Conversations  *ConversationHandlers
	WebSocket      *WebSocketHandlers
	CORSOrigins    []string
	LoginRateLimit int
	// Health reports a dependency failure; nil means healthy.
	Health func() error
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health(); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if cfg.LoginRateLimit > 0 {
			r.Use(httprate.LimitByIP(cfg.LoginRateLimit, time.Minute))
		}
		r.Post("/login", cfg.Auth.Login)
		r.Post("/register", cfg.Auth.Register)
	})

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(cfg.AuthService))
		r.Get("/me", cfg.Auth.Me)
		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", cfg.Conversations.ListConversations)
			r.Post("/", cfg.Conversations.CreateConversation)
			r.Get("/{id}/participants", cfg.Conversations.GetParticipants)
			r.Get("/{id}/online", cfg.Conversations.GetOnlineParticipants)
		})
	})

	r.Get("/ws", cfg.WebSocket.HandleWebSocket)
	r.Get("/ws/admin", cfg.WebSocket.HandleAdminWebSocket)

	return r
}
