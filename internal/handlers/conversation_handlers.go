package handlers

import (
	"net/http"

	"social-app/internal/models"
	"social-app/internal/services"

	"github.com/go-chi/chi/v5"
)

type ConversationHandlers struct {
	conversations *services.ConversationService
}

func NewConversationHandlers(conversations *services.ConversationService) *ConversationHandlers {
	return &ConversationHandlers{conversations: conversations}
}

func (h *ConversationHandlers) CreateConversation(w http.ResponseWriter, r *http.Request) {
	user, _ := PrincipalFrom(r.Context())

	var req models.CreateConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	conv, err := h.conversations.CreateConversation(r.Context(), user, &req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, conv)
}

func (h *ConversationHandlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	user, _ := PrincipalFrom(r.Context())

	convs, err := h.conversations.ListConversations(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if convs == nil {
		convs = []*models.Conversation{}
	}

	writeJSON(w, http.StatusOK, convs)
}

func (h *ConversationHandlers) GetParticipants(w http.ResponseWriter, r *http.Request) {
	user, _ := PrincipalFrom(r.Context())

	members, err := h.conversations.GetParticipants(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, members)
}

func (h *ConversationHandlers) GetOnlineParticipants(w http.ResponseWriter, r *http.Request) {
	user, _ := PrincipalFrom(r.Context())
	conversationID := chi.URLParam(r, "id")

	online, err := h.conversations.GetOnlineParticipants(r.Context(), conversationID, user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversationId": conversationID,
		"online":         online,
		"count":          len(online),
	})
}
