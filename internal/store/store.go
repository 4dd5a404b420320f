package store

import (
	"context"
	"errors"

	"github.com/eldtechnologies/gigchat/internal/models"
)

// ErrNotParticipant is returned when a user acts on a conversation they are
// not part of.
var ErrNotParticipant = errors.New("user is not a participant in this conversation")

// DataStore defines the interface for durable message storage.
// Both PostgresStore and SQLiteStore implement this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Message operations
	AppendMessage(ctx context.Context, senderID, receiverID int64, contextID, content string) (*models.Message, error)
	ListMessagesBetween(ctx context.Context, contextID string, userA, userB int64) ([]models.Message, error)
	ListMessagesForUser(ctx context.Context, userID int64) ([]models.Message, error)
	MarkConversationRead(ctx context.Context, userID int64, key models.ConversationKey) (int64, error)

	// Conversation operations
	ListConversations(ctx context.Context, userID int64) ([]models.Conversation, error)
	FindCounterparty(ctx context.Context, userID int64, contextID string) (int64, bool, error)

	Stats(ctx context.Context) (*models.Stats, error)
}
