package handlers

import (
	"net/http"

	"social-app/internal/auth"
	"social-app/internal/models"
	"social-app/pkg/logger"
)

type AuthHandlers struct {
	authService *auth.Service
}

func NewAuthHandlers(authService *auth.Service) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
	}
}

func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	response, err := h.authService.Register(r.Context(), &req)
	if err != nil {
		logger.Debug("registration rejected: %v", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, response)
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	response, err := h.authService.Login(r.Context(), &req)
	if err != nil {
		logger.Debug("login rejected for %s: %v", req.Email, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// Me returns the authenticated principal.
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	writeJSON(w, http.StatusOK, p)
}
