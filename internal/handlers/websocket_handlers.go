package handlers

import (
	"net/http"
	"slices"

	"social-app/internal/auth"
	"social-app/internal/metrics"
	"social-app/internal/models"
	ws "social-app/internal/websocket"
	"social-app/pkg/logger"

	"github.com/gorilla/websocket"
)

// WebSocketHandlers authenticates the handshake and hands upgraded
// connections to the router. Rejected handshakes never upgrade.
type WebSocketHandlers struct {
	authService *auth.Service
	authz       *auth.Authorizer
	router      *ws.Router
	upgrader    websocket.Upgrader
}

func NewWebSocketHandlers(authService *auth.Service, authz *auth.Authorizer, router *ws.Router, allowedOrigins []string) *WebSocketHandlers {
	return &WebSocketHandlers{
		authService: authService,
		authz:       authz,
		router:      router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
	}
}

func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, models.NamespaceDefault)
}

// HandleAdminWebSocket additionally requires the admin role before upgrading.
func (h *WebSocketHandlers) HandleAdminWebSocket(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, models.NamespaceAdmin)
}

func (h *WebSocketHandlers) serve(w http.ResponseWriter, r *http.Request, namespace string) {
	token, subprotocol := tokenFromRequest(r)

	principal, err := h.authService.Authenticate(r.Context(), token)
	if err != nil {
		h.reject(w, r, namespace, err)
		return
	}
	if namespace == models.NamespaceAdmin {
		if err := h.authz.AuthorizeAdmin(principal, auth.ActionConnect); err != nil {
			h.reject(w, r, namespace, err)
			return
		}
	}

	var header http.Header
	if subprotocol != "" {
		header = http.Header{"Sec-WebSocket-Protocol": []string{subprotocol}}
	}
	conn, err := h.upgrader.Upgrade(w, r, header)
	if err != nil {
		logger.Warnw().Err(err).Str("principal_id", principal.ID).Msg("websocket upgrade failed")
		return
	}

	h.router.Attach(conn, principal, namespace)
}

func (h *WebSocketHandlers) reject(w http.ResponseWriter, r *http.Request, namespace string, err error) {
	e := models.Classify(err)
	metrics.ConnectionRejections.WithLabelValues(e.Code).Inc()
	logger.Debugw().
		Str("namespace", namespace).
		Str("remote_addr", r.RemoteAddr).
		Str("code", e.Code).
		Msg("handshake rejected")
	writeError(w, err)
}
