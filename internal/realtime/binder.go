package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/gigchat/internal/models"
)

var (
	// ErrInvalidParams is returned when connection parameters cannot name a room.
	ErrInvalidParams = errors.New("invalid connection parameters")

	// ErrNotProvisional is returned when resolving a session that already has
	// a conversation room.
	ErrNotProvisional = errors.New("session is not waiting for a counterparty")

	// ErrSessionClosed is returned when acting on a disconnected session.
	ErrSessionClosed = errors.New("session closed")
)

// State is the lifecycle of one channel connection.
type State int

const (
	StateConnecting State = iota
	StateProvisional
	StateSubscribed
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateProvisional:
		return "provisional"
	case StateSubscribed:
		return "subscribed"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Params are the query parameters of a messaging connection. A zero
// OtherUserID means the counterparty is not known yet.
type Params struct {
	UserID      int64
	ContextID   string
	OtherUserID int64
}

// Resolver looks up the counterparty of a user in a context.
type Resolver interface {
	FindCounterparty(ctx context.Context, userID int64, contextID string) (int64, bool, error)
}

// Session is the binding of one subscriber to its room.
type Session struct {
	sub Subscriber

	mu     sync.Mutex
	params Params
	state  State
	room   string
}

// Subscriber returns the connection bound by the session.
func (s *Session) Subscriber() Subscriber { return s.sub }

// Room returns the room the session is currently joined to.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Params returns the connection parameters, with the counterparty filled in
// once it is known.
func (s *Session) Params() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// ClientFrame is a control message sent by the client on a messaging
// connection.
type ClientFrame struct {
	Type        string `json:"type"`
	OtherUserID int64  `json:"other_user_id,omitempty"`
}

// Binder subscribes channel connections to rooms.
type Binder struct {
	hub      *Hub
	resolver Resolver
	logger   zerolog.Logger
}

// NewBinder creates a binder. resolver may be nil, in which case connections
// without a counterparty always start provisional.
func NewBinder(hub *Hub, resolver Resolver, logger zerolog.Logger) *Binder {
	return &Binder{
		hub:      hub,
		resolver: resolver,
		logger:   logger.With().Str("component", "binder").Logger(),
	}
}

// Bind subscribes sub to the room named by p. When the counterparty is
// missing it is looked up from history; if it is still unknown the
// session joins the user's pending room and waits for Resolve.
func (b *Binder) Bind(ctx context.Context, sub Subscriber, p Params) (*Session, error) {
	if p.ContextID == "" {
		p.ContextID = models.GeneralContext
	}
	if p.UserID <= 0 || p.OtherUserID < 0 || p.OtherUserID == p.UserID || !models.ValidContextID(p.ContextID) {
		return nil, ErrInvalidParams
	}

	sess := &Session{sub: sub, params: p, state: StateConnecting}

	if p.OtherUserID == 0 && b.resolver != nil {
		other, ok, err := b.resolver.FindCounterparty(ctx, p.UserID, p.ContextID)
		switch {
		case err != nil:
			b.logger.Warn().Err(err).Int64("user_id", p.UserID).Str("context_id", p.ContextID).Msg("counterparty lookup failed")
		case ok && other != p.UserID:
			sess.params.OtherUserID = other
		}
	}

	b.hub.Attach(sessionKey(sess.params), sub)

	if sess.params.OtherUserID == 0 {
		b.join(sess, models.PendingRoom(p.ContextID, p.UserID), StateProvisional)
	} else {
		b.join(sess, models.RoomName(p.ContextID, p.UserID, sess.params.OtherUserID), StateSubscribed)
	}
	return sess, nil
}

// Resolve upgrades a provisional session to its conversation room.
func (b *Binder) Resolve(sess *Session, otherUserID int64) error {
	sess.mu.Lock()
	p, state, pending := sess.params, sess.state, sess.room
	sess.mu.Unlock()

	switch {
	case state == StateDisconnected:
		return ErrSessionClosed
	case otherUserID <= 0 || otherUserID == p.UserID:
		return ErrInvalidParams
	case state == StateSubscribed && p.OtherUserID == otherUserID:
		return nil
	case state != StateProvisional:
		return ErrNotProvisional
	}

	p.OtherUserID = otherUserID
	sess.mu.Lock()
	sess.params = p
	sess.mu.Unlock()

	b.hub.Attach(sessionKey(p), sess.sub)
	b.hub.Leave(pending, sess.sub)
	b.join(sess, models.RoomName(p.ContextID, p.UserID, otherUserID), StateSubscribed)
	return nil
}

// HandleClientFrame applies a control message received on a messaging
// connection. Errors are reported back to the client as an error frame.
func (b *Binder) HandleClientFrame(sess *Session, data []byte) {
	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		b.sendError(sess.sub, "malformed frame")
		return
	}

	switch frame.Type {
	case "resolve":
		if err := b.Resolve(sess, frame.OtherUserID); err != nil {
			b.sendError(sess.sub, err.Error())
		}
	case "ping":
	default:
		b.sendError(sess.sub, "unknown frame type")
	}
}

// BindNotifications subscribes sub to the personal channel of userID only.
func (b *Binder) BindNotifications(sub Subscriber, userID int64) (*Session, error) {
	if userID <= 0 {
		return nil, ErrInvalidParams
	}

	sess := &Session{sub: sub, params: Params{UserID: userID}, state: StateConnecting}
	b.hub.Attach(fmt.Sprintf("notifications:%d", userID), sub)
	b.join(sess, models.PersonalChannel(userID), StateSubscribed)
	return sess, nil
}

// Unbind releases every subscription held by the session.
func (b *Binder) Unbind(sess *Session) {
	b.hub.Detach(sess.sub)

	sess.mu.Lock()
	sess.state = StateDisconnected
	sess.room = ""
	sess.mu.Unlock()
}

func (b *Binder) join(sess *Session, room string, state State) {
	if !b.hub.Join(room, sess.sub) {
		// Replaced by a newer connection with the same parameters.
		sess.mu.Lock()
		sess.state = StateDisconnected
		sess.mu.Unlock()
		return
	}

	sess.mu.Lock()
	sess.room = room
	sess.state = state
	other := sess.params.OtherUserID
	sess.mu.Unlock()

	b.logger.Debug().
		Str("subscriber", sess.sub.ID()).
		Int64("user_id", sess.sub.UserID()).
		Str("room", room).
		Str("state", state.String()).
		Msg("bound")

	frame, err := json.Marshal(Frame{
		Event: EventSubscribed,
		Room:  room,
		Data: map[string]any{
			"state":         state.String(),
			"other_user_id": other,
		},
	})
	if err != nil {
		return
	}
	_ = sess.sub.Send(frame)
}

func (b *Binder) sendError(sub Subscriber, msg string) {
	frame, err := json.Marshal(Frame{Event: EventError, Data: map[string]string{"error": msg}})
	if err != nil {
		return
	}
	_ = sub.Send(frame)
}

func sessionKey(p Params) string {
	return fmt.Sprintf("messages:%d:%s:%d", p.UserID, p.ContextID, p.OtherUserID)
}
