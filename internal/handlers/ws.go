package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eldtechnologies/gigchat/internal/metrics"
	"github.com/eldtechnologies/gigchat/internal/models"
	"github.com/eldtechnologies/gigchat/internal/realtime"
)

const (
	readTimeout  = 60 * time.Second
	maxFrameSize = 4096
)

// MessagesSocket is the messaging sub-channel. Query: userId, jobId and
// optionally otherUserId.
func (h *Handler) MessagesSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	userID, ok := parseUserID(q.Get("userId"))
	if !ok {
		h.Error(w, http.StatusBadRequest, "userId is required")
		return
	}

	contextID := q.Get("jobId")
	if contextID == "" || contextID == "null" || contextID == "undefined" {
		contextID = models.GeneralContext
	}
	if !models.ValidContextID(contextID) {
		h.Error(w, http.StatusBadRequest, "invalid jobId")
		return
	}

	// Clients that have not resolved the counterparty yet send an empty or
	// placeholder value.
	var otherUserID int64
	switch raw := q.Get("otherUserId"); raw {
	case "", "null", "undefined", "0":
	default:
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 || id == userID {
			h.Error(w, http.StatusBadRequest, "invalid otherUserId")
			return
		}
		otherUserID = id
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		return
	}

	conn := realtime.NewConnection(userID, ws)
	conn.Start()

	sess, err := h.binder.Bind(r.Context(), conn, realtime.Params{
		UserID:      userID,
		ContextID:   contextID,
		OtherUserID: otherUserID,
	})
	if err != nil {
		conn.Close(websocket.ClosePolicyViolation, err.Error())
		return
	}

	metrics.WebsocketConnections.WithLabelValues("messages").Inc()
	defer metrics.WebsocketConnections.WithLabelValues("messages").Dec()

	h.logger.Debug().Int64("user_id", userID).Str("context_id", contextID).Str("room", sess.Room()).Msg("messages socket connected")

	defer func() {
		h.binder.Unbind(sess)
		conn.Close(websocket.CloseNormalClosure, "session closed")
	}()

	h.readLoop(ws, func(data []byte) {
		h.binder.HandleClientFrame(sess, data)
	})
}

// NotificationsSocket is the global notification channel. Query: userId.
func (h *Handler) NotificationsSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(r.URL.Query().Get("userId"))
	if !ok {
		h.Error(w, http.StatusBadRequest, "userId is required")
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	conn := realtime.NewConnection(userID, ws)
	conn.Start()

	sess, err := h.binder.BindNotifications(conn, userID)
	if err != nil {
		conn.Close(websocket.ClosePolicyViolation, err.Error())
		return
	}

	metrics.WebsocketConnections.WithLabelValues("notifications").Inc()
	defer metrics.WebsocketConnections.WithLabelValues("notifications").Dec()

	defer func() {
		h.binder.Unbind(sess)
		conn.Close(websocket.CloseNormalClosure, "session closed")
	}()

	// Inbound frames are ignored; reading keeps pongs flowing.
	h.readLoop(ws, func([]byte) {})
}

// readLoop reads frames until the client goes away.
func (h *Handler) readLoop(ws *websocket.Conn, handle func([]byte)) {
	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				h.logger.Debug().Err(err).Msg("websocket read ended")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
		handle(data)
	}
}
