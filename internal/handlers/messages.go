package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/gigchat/internal/metrics"
	"github.com/eldtechnologies/gigchat/internal/models"
	"github.com/eldtechnologies/gigchat/internal/realtime"
	"github.com/eldtechnologies/gigchat/internal/store"
)

// SendMessageRequest represents the send message request.
type SendMessageRequest struct {
	SenderID   int64  `json:"sender_id"`
	ReceiverID int64  `json:"receiver_id"`
	ContextID  string `json:"context_id"`
	Content    string `json:"content"`
}

// HistoryResponse represents the history response.
type HistoryResponse struct {
	Messages []models.Message `json:"messages"`
}

// MarkReadRequest represents the mark read request.
type MarkReadRequest struct {
	UserID         int64  `json:"user_id"`
	ConversationID string `json:"conversation_id"`
}

// MarkReadResponse represents the mark read response.
type MarkReadResponse struct {
	Success   bool  `json:"success"`
	ReadCount int64 `json:"read_count"`
}

// SendMessage persists a message, then publishes it to the conversation room
// and notifies the receiver.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Validate participants
	if req.SenderID <= 0 || req.ReceiverID <= 0 {
		h.Error(w, http.StatusBadRequest, "sender_id and receiver_id must be positive integers")
		return
	}
	if req.SenderID == req.ReceiverID {
		h.Error(w, http.StatusBadRequest, "cannot send a message to yourself")
		return
	}

	if req.ContextID == "" {
		req.ContextID = models.GeneralContext
	}
	if !models.ValidContextID(req.ContextID) {
		h.Error(w, http.StatusBadRequest, "invalid context_id")
		return
	}

	// Validate content
	req.Content = sanitizeContent(req.Content)
	if req.Content == "" {
		h.Error(w, http.StatusBadRequest, "content is required")
		return
	}
	if len(req.Content) > maxContentBytes {
		h.Error(w, http.StatusUnprocessableEntity, "content too long (max 4096 bytes)")
		return
	}

	msg, err := h.store.AppendMessage(r.Context(), req.SenderID, req.ReceiverID, req.ContextID, req.Content)
	if err != nil {
		h.logger.Error().Err(err).Msg("append message failed")
		h.Error(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	contextType := "job"
	if msg.ContextID == models.GeneralContext {
		contextType = "general"
	}
	metrics.MessagesSent.WithLabelValues(contextType).Inc()

	// Only after the append succeeded.
	h.fanout.Publish(r.Context(), msg)
	h.fanout.NotifyUser(r.Context(), msg.ReceiverID, realtime.EventNewMessage, models.NewSummary(msg))

	h.JSON(w, http.StatusCreated, msg)
}

// History returns the messages between two users in a context, oldest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	contextID := chi.URLParam(r, "contextID")
	if !models.ValidContextID(contextID) {
		h.Error(w, http.StatusBadRequest, "invalid context ID")
		return
	}

	userA, okA := parseUserID(chi.URLParam(r, "userA"))
	userB, okB := parseUserID(chi.URLParam(r, "userB"))
	if !okA || !okB {
		h.Error(w, http.StatusBadRequest, "invalid user ID format")
		return
	}

	messages, err := h.store.ListMessagesBetween(r.Context(), contextID, userA, userB)
	if err != nil {
		h.logger.Error().Err(err).Msg("list messages failed")
		h.Error(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}

	h.JSON(w, http.StatusOK, HistoryResponse{Messages: messages})
}

// MarkRead marks every message the other participant sent to the user in a
// conversation as read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.UserID <= 0 {
		h.Error(w, http.StatusBadRequest, "user_id must be a positive integer")
		return
	}

	key, err := models.ParseConversationID(req.ConversationID)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation_id")
		return
	}

	n, err := h.store.MarkConversationRead(r.Context(), req.UserID, key)
	if err != nil {
		if errors.Is(err, store.ErrNotParticipant) {
			h.Error(w, http.StatusForbidden, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("mark read failed")
		h.Error(w, http.StatusInternalServerError, "failed to mark messages as read")
		return
	}

	metrics.MessagesMarkedRead.Add(float64(n))

	h.JSON(w, http.StatusOK, MarkReadResponse{Success: true, ReadCount: n})
}
