package gigchat

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Event names pushed by the server.
const (
	EventMessage    = "message"
	EventNewMessage = "newMessage"
	EventSubscribed = "subscribed"
	EventError      = "error"
)

// maxSeen bounds the ids a stream remembers for de-duplication.
const maxSeen = 1024

// Event is one frame received from the server.
type Event struct {
	Event string          `json:"event"`
	Room  string          `json:"room,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// Received is a message pushed on a messaging stream.
type Received struct {
	Message
	IsMine bool `json:"is_mine"`
}

// Stream is a websocket subscription. Messages delivered more than once, or
// already shown from history, are dropped.
type Stream struct {
	ws     *websocket.Conn
	viewer int64

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// StreamParams selects the conversation of a messaging stream. A zero
// OtherUserID lets the server resolve the counterparty.
type StreamParams struct {
	UserID      int64
	JobID       string
	OtherUserID int64
}

// OpenMessages subscribes to the room of one conversation.
func (c *Client) OpenMessages(ctx context.Context, p StreamParams) (*Stream, error) {
	q := url.Values{}
	q.Set("userId", strconv.FormatInt(p.UserID, 10))
	if p.JobID != "" {
		q.Set("jobId", p.JobID)
	}
	if p.OtherUserID > 0 {
		q.Set("otherUserId", strconv.FormatInt(p.OtherUserID, 10))
	}
	return c.dial(ctx, "/ws/messages?"+q.Encode(), p.UserID)
}

// OpenNotifications subscribes to the personal channel of userID.
func (c *Client) OpenNotifications(ctx context.Context, userID int64) (*Stream, error) {
	return c.dial(ctx, "/ws/notifications?userId="+strconv.FormatInt(userID, 10), userID)
}

func (c *Client) dial(ctx context.Context, path string, viewer int64) (*Stream, error) {
	wsURL := c.BaseURL
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL+path, nil)
	if err != nil {
		if resp != nil {
			return nil, &Error{StatusCode: resp.StatusCode, Message: err.Error()}
		}
		return nil, err
	}
	return newStream(ws, viewer), nil
}

func newStream(ws *websocket.Conn, viewer int64) *Stream {
	return &Stream{ws: ws, viewer: viewer, seen: make(map[string]struct{})}
}

// Next returns the next frame of any kind.
func (s *Stream) Next() (*Event, error) {
	var ev Event
	if err := s.ws.ReadJSON(&ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// NextMessage returns the next message not seen before, skipping control
// frames and notifications.
func (s *Stream) NextMessage() (*Received, error) {
	for {
		ev, err := s.Next()
		if err != nil {
			return nil, err
		}
		if ev.Event != EventMessage {
			continue
		}

		var msg Message
		if err := json.Unmarshal(ev.Data, &msg); err != nil {
			continue
		}
		if !s.markSeen(msg.ID) {
			continue
		}
		return &Received{Message: msg, IsMine: msg.SentBy(s.viewer)}, nil
	}
}

// Observe records messages already rendered from history so a later push of
// the same message is dropped.
func (s *Stream) Observe(msgs []Message) {
	for _, m := range msgs {
		s.markSeen(m.ID)
	}
}

// Resolve names the counterparty of a stream that was opened without one.
func (s *Stream) Resolve(otherUserID int64) error {
	return s.ws.WriteJSON(map[string]any{"type": "resolve", "other_user_id": otherUserID})
}

// Close closes the stream.
func (s *Stream) Close() error {
	_ = s.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.ws.Close()
}

// markSeen reports whether id is new.
func (s *Stream) markSeen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > maxSeen {
		delete(s.seen, s.order[0])
		s.order = s.order[1:]
	}
	return true
}
