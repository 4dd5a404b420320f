package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/gigchat/internal/metrics"
	"github.com/eldtechnologies/gigchat/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	sender_id   BIGINT NOT NULL,
	receiver_id BIGINT NOT NULL,
	context_id  TEXT NOT NULL,
	content     TEXT NOT NULL,
	sent_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	is_read     BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_messages_pair
	ON messages (context_id, LEAST(sender_id, receiver_id), GREATEST(sender_id, receiver_id), sent_at);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages (sender_id);
CREATE INDEX IF NOT EXISTS idx_messages_receiver_unread ON messages (receiver_id) WHERE is_read = FALSE;
`

// RunMigrations applies the message schema. It is safe to run on every start.
func RunMigrations(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("postgres: connect: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("postgres: apply schema: %w", err)
	}
	return nil
}

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ DataStore = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func observe(backend, op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

const messageColumns = `id, sender_id, receiver_id, context_id, content, sent_at, is_read`

func scanMessage(row pgx.Row, msg *models.Message) error {
	return row.Scan(
		&msg.ID,
		&msg.SenderID,
		&msg.ReceiverID,
		&msg.ContextID,
		&msg.Content,
		&msg.SentAt,
		&msg.IsRead,
	)
}

// AppendMessage inserts a message. The id is generated here and sent_at is
// assigned by the database.
func (s *PostgresStore) AppendMessage(ctx context.Context, senderID, receiverID int64, contextID, content string) (*models.Message, error) {
	defer observe("postgres", "append", time.Now())

	msg := &models.Message{
		ID:         ulid.Make().String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		ContextID:  contextID,
		Content:    content,
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, context_id, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING sent_at, is_read
	`, msg.ID, senderID, receiverID, contextID, content).Scan(&msg.SentAt, &msg.IsRead)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// ListMessagesBetween returns the history of a pair in a context, oldest first.
func (s *PostgresStore) ListMessagesBetween(ctx context.Context, contextID string, userA, userB int64) ([]models.Message, error) {
	defer observe("postgres", "list_between", time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE context_id = $1
		  AND ((sender_id = $2 AND receiver_id = $3) OR (sender_id = $3 AND receiver_id = $2))
		ORDER BY sent_at ASC, id ASC
	`, contextID, userA, userB)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return collectMessages(rows)
}

// ListMessagesForUser returns every message userID sent or received, oldest first.
func (s *PostgresStore) ListMessagesForUser(ctx context.Context, userID int64) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE sender_id = $1 OR receiver_id = $1
		ORDER BY sent_at ASC, id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user messages: %w", err)
	}
	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]models.Message, error) {
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message
		if err := scanMessage(rows, &msg); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MarkConversationRead flips is_read for every unread message the other
// participant sent to userID in the conversation.
func (s *PostgresStore) MarkConversationRead(ctx context.Context, userID int64, key models.ConversationKey) (int64, error) {
	defer observe("postgres", "mark_read", time.Now())

	other, ok := key.Other(userID)
	if !ok {
		return 0, ErrNotParticipant
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET is_read = TRUE
		WHERE context_id = $1 AND sender_id = $2 AND receiver_id = $3 AND is_read = FALSE
	`, key.ContextID, other, userID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListConversations picks the latest message per (pair, context) with
// DISTINCT ON and joins the per-group unread count.
func (s *PostgresStore) ListConversations(ctx context.Context, userID int64) ([]models.Conversation, error) {
	defer observe("postgres", "conversations", time.Now())

	rows, err := s.pool.Query(ctx, `
		WITH mine AS (
			SELECT id, sender_id, receiver_id, context_id, content, sent_at, is_read,
			       LEAST(sender_id, receiver_id) AS lo,
			       GREATEST(sender_id, receiver_id) AS hi
			FROM messages
			WHERE sender_id = $1 OR receiver_id = $1
		), latest AS (
			SELECT DISTINCT ON (lo, hi, context_id) *
			FROM mine
			ORDER BY lo, hi, context_id, sent_at DESC, id DESC
		), unread AS (
			SELECT lo, hi, context_id, COUNT(*) AS n
			FROM mine
			WHERE receiver_id = $1 AND is_read = FALSE
			GROUP BY lo, hi, context_id
		)
		SELECT l.id, l.sender_id, l.receiver_id, l.context_id, l.content, l.sent_at, l.is_read,
		       COALESCE(u.n, 0)
		FROM latest l
		LEFT JOIN unread u USING (lo, hi, context_id)
		ORDER BY l.sent_at DESC, l.id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	convs := []models.Conversation{}
	for rows.Next() {
		var msg models.Message
		var unread int
		if err := rows.Scan(
			&msg.ID,
			&msg.SenderID,
			&msg.ReceiverID,
			&msg.ContextID,
			&msg.Content,
			&msg.SentAt,
			&msg.IsRead,
			&unread,
		); err != nil {
			return nil, err
		}
		convs = append(convs, models.Conversation{
			ConversationID: models.ConversationID(msg.ContextID, msg.SenderID, msg.ReceiverID),
			OtherUserID:    msg.Counterparty(userID),
			ContextID:      msg.ContextID,
			LastMessage:    msg,
			UnreadCount:    unread,
		})
	}
	return convs, rows.Err()
}

// FindCounterparty returns the other participant of userID's most recent
// message in contextID.
func (s *PostgresStore) FindCounterparty(ctx context.Context, userID int64, contextID string) (int64, bool, error) {
	var msg models.Message
	err := s.pool.QueryRow(ctx, `
		SELECT sender_id, receiver_id
		FROM messages
		WHERE context_id = $2 AND (sender_id = $1 OR receiver_id = $1)
		ORDER BY sent_at DESC, id DESC
		LIMIT 1
	`, userID, contextID).Scan(&msg.SenderID, &msg.ReceiverID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return msg.Counterparty(userID), true, nil
}

// Stats returns aggregate message counters.
func (s *PostgresStore) Stats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{}
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE is_read = FALSE),
		       COUNT(DISTINCT (LEAST(sender_id, receiver_id), GREATEST(sender_id, receiver_id), context_id)),
		       MAX(sent_at)
		FROM messages
	`).Scan(&stats.TotalMessages, &stats.UnreadMessages, &stats.Conversations, &stats.LastActivity)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
