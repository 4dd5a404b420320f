package models

import (
	"errors"
	"strconv"
	"strings"
)

// GeneralContext is the context id used for conversations not tied to a job.
const GeneralContext = "general"

// ErrInvalidConversationID is returned when a conversation id cannot be parsed.
var ErrInvalidConversationID = errors.New("invalid conversation id")

// Conversation is a read-time projection of the latest message exchanged
// between two users in one context.
type Conversation struct {
	ConversationID string  `json:"conversation_id"`
	OtherUserID    int64   `json:"other_user_id"`
	ContextID      string  `json:"context_id"`
	LastMessage    Message `json:"last_message"`
	UnreadCount    int     `json:"unread_count"`
}

// ConversationKey is the parsed form of a conversation id. LowID <= HighID.
type ConversationKey struct {
	LowID     int64
	HighID    int64
	ContextID string
}

// Other returns the participant of the conversation that is not userID.
// ok is false when userID does not take part in it.
func (k ConversationKey) Other(userID int64) (other int64, ok bool) {
	switch userID {
	case k.LowID:
		return k.HighID, true
	case k.HighID:
		return k.LowID, true
	}
	return 0, false
}

// String returns the canonical conversation id.
func (k ConversationKey) String() string {
	return strconv.FormatInt(k.LowID, 10) + "_" + strconv.FormatInt(k.HighID, 10) + "_" + k.ContextID
}

// NewConversationKey orders the two participants numerically.
func NewConversationKey(contextID string, a, b int64) ConversationKey {
	lo, hi := orderPair(a, b)
	return ConversationKey{LowID: lo, HighID: hi, ContextID: contextID}
}

// ConversationID returns "<low>_<high>_<context>" for the pair, independent
// of argument order.
func ConversationID(contextID string, a, b int64) string {
	return NewConversationKey(contextID, a, b).String()
}

// ParseConversationID is the inverse of ConversationID.
func ParseConversationID(id string) (ConversationKey, error) {
	parts := strings.SplitN(id, "_", 3)
	if len(parts) != 3 {
		return ConversationKey{}, ErrInvalidConversationID
	}
	a, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ConversationKey{}, ErrInvalidConversationID
	}
	b, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return ConversationKey{}, ErrInvalidConversationID
	}
	if !ValidContextID(parts[2]) {
		return ConversationKey{}, ErrInvalidConversationID
	}
	return NewConversationKey(parts[2], a, b), nil
}

// RoomName is the fan-out room for a pair of users in a context. Both the
// publish path and the subscribe path must use it.
func RoomName(contextID string, a, b int64) string {
	lo, hi := orderPair(a, b)
	return "chat_" + contextID + "_" + strconv.FormatInt(lo, 10) + "_" + strconv.FormatInt(hi, 10)
}

// PersonalChannel is the per-user room used for list-level notifications.
func PersonalChannel(userID int64) string {
	return "user_" + strconv.FormatInt(userID, 10)
}

// PendingRoom is the placeholder room for a connection whose counterparty
// is not known yet. Nothing is published to it.
func PendingRoom(contextID string, userID int64) string {
	return "pending_" + contextID + "_" + strconv.FormatInt(userID, 10)
}

// ValidContextID reports whether id can be embedded in room names and
// conversation ids.
func ValidContextID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	return !strings.ContainsAny(id, "_/ ")
}

func orderPair(a, b int64) (int64, int64) {
	if a <= b {
		return a, b
	}
	return b, a
}
