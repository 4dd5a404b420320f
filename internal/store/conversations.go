package store

import (
	"sort"

	"github.com/eldtechnologies/gigchat/internal/models"
)

// IndexConversations groups msgs by (participant pair, context) and keeps the
// latest message of each group. Messages that userID is not part of are
// ignored. The result is sorted by last message time, newest first.
func IndexConversations(userID int64, msgs []models.Message) []models.Conversation {
	groups := make(map[models.ConversationKey]*models.Conversation)

	for _, msg := range msgs {
		if msg.SenderID != userID && msg.ReceiverID != userID {
			continue
		}

		key := models.NewConversationKey(msg.ContextID, msg.SenderID, msg.ReceiverID)
		conv, ok := groups[key]
		if !ok {
			conv = &models.Conversation{
				ConversationID: key.String(),
				OtherUserID:    msg.Counterparty(userID),
				ContextID:      msg.ContextID,
				LastMessage:    msg,
			}
			groups[key] = conv
		} else if later(msg, conv.LastMessage) {
			conv.LastMessage = msg
		}

		if !msg.IsRead && msg.ReceiverID == userID {
			conv.UnreadCount++
		}
	}

	convs := make([]models.Conversation, 0, len(groups))
	for _, conv := range groups {
		convs = append(convs, *conv)
	}
	sort.Slice(convs, func(i, j int) bool {
		return later(convs[i].LastMessage, convs[j].LastMessage)
	})
	return convs
}

// later reports whether a was sent after b. Ties fall back to the ULID.
func later(a, b models.Message) bool {
	if a.SentAt.Equal(b.SentAt) {
		return a.ID > b.ID
	}
	return a.SentAt.After(b.SentAt)
}
