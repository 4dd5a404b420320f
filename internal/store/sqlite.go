package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/gigchat/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB

	// Guards lastSent so sent_at never goes backwards within the process.
	mu       sync.Mutex
	lastSent int64
}

var _ DataStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/gigchat.db". ":memory:" opens a
// private in-memory database.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/gigchat.db"
	}

	dsn := ":memory:"
	if dbPath != ":memory:" {
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
		dsn = dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		sender_id INTEGER NOT NULL,
		receiver_id INTEGER NOT NULL,
		context_id TEXT NOT NULL,
		content TEXT NOT NULL,
		sent_at INTEGER NOT NULL,
		is_read INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_messages_context ON messages(context_id, sent_at);
	CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id);
	CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver_id, is_read);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// nextSentAt returns the current time in unix nanoseconds, bumped past the
// previous value when the clock has not advanced.
func (s *SQLiteStore) nextSentAt() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixNano()
	if now <= s.lastSent {
		now = s.lastSent + 1
	}
	s.lastSent = now
	return now
}

// AppendMessage inserts a message with a generated id and timestamp.
func (s *SQLiteStore) AppendMessage(ctx context.Context, senderID, receiverID int64, contextID, content string) (*models.Message, error) {
	defer observe("sqlite", "append", time.Now())

	sentAt := s.nextSentAt()
	msg := &models.Message{
		ID:         ulid.Make().String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		ContextID:  contextID,
		Content:    content,
		SentAt:     time.Unix(0, sentAt).UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, context_id, content, sent_at, is_read)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`, msg.ID, senderID, receiverID, contextID, content, sentAt)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

const sqliteMessageColumns = `id, sender_id, receiver_id, context_id, content, sent_at, is_read`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteMessage(row rowScanner, msg *models.Message) error {
	var sentAt int64
	var isRead int
	err := row.Scan(
		&msg.ID,
		&msg.SenderID,
		&msg.ReceiverID,
		&msg.ContextID,
		&msg.Content,
		&sentAt,
		&isRead,
	)
	if err != nil {
		return err
	}
	msg.SentAt = time.Unix(0, sentAt).UTC()
	msg.IsRead = isRead == 1
	return nil
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message
		if err := scanSQLiteMessage(rows, &msg); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ListMessagesBetween returns the history of a pair in a context, oldest first.
func (s *SQLiteStore) ListMessagesBetween(ctx context.Context, contextID string, userA, userB int64) ([]models.Message, error) {
	defer observe("sqlite", "list_between", time.Now())

	messages, err := s.queryMessages(ctx, `
		SELECT `+sqliteMessageColumns+`
		FROM messages
		WHERE context_id = ?
		  AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
		ORDER BY sent_at ASC, id ASC
	`, contextID, userA, userB, userB, userA)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// ListMessagesForUser returns every message userID sent or received, oldest first.
func (s *SQLiteStore) ListMessagesForUser(ctx context.Context, userID int64) ([]models.Message, error) {
	messages, err := s.queryMessages(ctx, `
		SELECT `+sqliteMessageColumns+`
		FROM messages
		WHERE sender_id = ? OR receiver_id = ?
		ORDER BY sent_at ASC, id ASC
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list user messages: %w", err)
	}
	return messages, nil
}

// MarkConversationRead flips is_read for every unread message the other
// participant sent to userID in the conversation.
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, userID int64, key models.ConversationKey) (int64, error) {
	defer observe("sqlite", "mark_read", time.Now())

	other, ok := key.Other(userID)
	if !ok {
		return 0, ErrNotParticipant
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET is_read = 1
		WHERE context_id = ? AND sender_id = ? AND receiver_id = ? AND is_read = 0
	`, key.ContextID, other, userID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return res.RowsAffected()
}

// ListConversations derives the conversation list with IndexConversations.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID int64) ([]models.Conversation, error) {
	defer observe("sqlite", "conversations", time.Now())

	messages, err := s.ListMessagesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return IndexConversations(userID, messages), nil
}

// FindCounterparty returns the other participant of userID's most recent
// message in contextID.
func (s *SQLiteStore) FindCounterparty(ctx context.Context, userID int64, contextID string) (int64, bool, error) {
	var msg models.Message
	err := s.db.QueryRowContext(ctx, `
		SELECT sender_id, receiver_id
		FROM messages
		WHERE context_id = ? AND (sender_id = ? OR receiver_id = ?)
		ORDER BY sent_at DESC, id DESC
		LIMIT 1
	`, contextID, userID, userID).Scan(&msg.SenderID, &msg.ReceiverID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return msg.Counterparty(userID), true, nil
}

// Stats returns aggregate message counters.
func (s *SQLiteStore) Stats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{}
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN is_read = 0 THEN 1 ELSE 0 END), 0),
		       (SELECT COUNT(*) FROM (
		           SELECT DISTINCT MIN(sender_id, receiver_id), MAX(sender_id, receiver_id), context_id
		           FROM messages
		       )),
		       MAX(sent_at)
		FROM messages
	`).Scan(&stats.TotalMessages, &stats.UnreadMessages, &stats.Conversations, &last)
	if err != nil {
		return nil, err
	}
	if last.Valid {
		t := time.Unix(0, last.Int64).UTC()
		stats.LastActivity = &t
	}
	return stats, nil
}
