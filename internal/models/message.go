package models

import (
	"time"
	"unicode/utf8"
)

// Message is a single chat message between two users within a context.
// Only IsRead changes after creation, and only from false to true.
type Message struct {
	ID         string    `json:"id"` // ULID
	SenderID   int64     `json:"sender_id"`
	ReceiverID int64     `json:"receiver_id"`
	ContextID  string    `json:"context_id"` // job id or "general"
	Content    string    `json:"content"`
	SentAt     time.Time `json:"sent_at"`
	IsRead     bool      `json:"is_read"`
}

// Counterparty returns the participant of m that is not userID.
func (m *Message) Counterparty(userID int64) int64 {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Summary is the lightweight payload pushed to a receiver's personal channel.
type Summary struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	SenderID       int64     `json:"sender_id"`
	ContextID      string    `json:"context_id"`
	Preview        string    `json:"preview"`
	SentAt         time.Time `json:"sent_at"`
}

const maxPreviewBytes = 100

// NewSummary builds the personal channel summary for msg.
func NewSummary(msg *Message) Summary {
	preview := msg.Content
	if len(preview) > maxPreviewBytes {
		// Cut on a rune boundary so the preview stays valid UTF-8.
		cut := maxPreviewBytes - len("...")
		for cut > 0 && !utf8.RuneStart(preview[cut]) {
			cut--
		}
		preview = preview[:cut] + "..."
	}
	return Summary{
		ConversationID: ConversationID(msg.ContextID, msg.SenderID, msg.ReceiverID),
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		ContextID:      msg.ContextID,
		Preview:        preview,
		SentAt:         msg.SentAt,
	}
}
