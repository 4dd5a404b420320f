package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/gigchat/internal/models"
)

// ConversationsResponse represents the conversation list response.
type ConversationsResponse struct {
	Conversations []models.Conversation `json:"conversations"`
}

// Conversations lists a user's conversations, most recent first.
func (h *Handler) Conversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(chi.URLParam(r, "userID"))
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid user ID format")
		return
	}

	convs, err := h.store.ListConversations(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Int64("user_id", userID).Msg("list conversations failed")
		h.Error(w, http.StatusInternalServerError, "failed to fetch conversations")
		return
	}
	if convs == nil {
		convs = []models.Conversation{}
	}

	h.JSON(w, http.StatusOK, ConversationsResponse{Conversations: convs})
}
