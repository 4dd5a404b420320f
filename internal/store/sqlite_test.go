package store

import (
	"context"
	"errors"
	"testing"

	"github.com/eldtechnologies/gigchat/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func mustAppend(t *testing.T, s DataStore, sender, receiver int64, contextID, content string) *models.Message {
	t.Helper()
	msg, err := s.AppendMessage(context.Background(), sender, receiver, contextID, content)
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	return msg
}

func TestAppendThenRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := mustAppend(t, s, 10, 20, "7", "first")
	msg := mustAppend(t, s, 10, 20, "7", "Hello")

	if msg.ID == "" {
		t.Fatal("expected generated id")
	}
	if msg.IsRead {
		t.Fatal("new message must be unread")
	}
	if msg.SentAt.Before(first.SentAt) {
		t.Fatalf("sent_at went backwards: %v < %v", msg.SentAt, first.SentAt)
	}

	history, err := s.ListMessagesBetween(ctx, "7", 10, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}

	matches := 0
	for _, m := range history {
		if m.Content == "Hello" {
			matches++
			if m.ID != msg.ID || m.IsRead {
				t.Fatalf("unexpected stored message %+v", m)
			}
		}
	}
	if matches != 1 {
		t.Fatalf("expected exactly one Hello, got %d", matches)
	}
	if history[len(history)-1].ID != msg.ID {
		t.Fatal("history must be ordered oldest first")
	}
}

func TestListMessagesBetweenSymmetric(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustAppend(t, s, 10, 20, "7", "a")
	mustAppend(t, s, 20, 10, "7", "b")
	mustAppend(t, s, 10, 30, "7", "other pair")
	mustAppend(t, s, 10, 20, "8", "other context")

	ab, err := s.ListMessagesBetween(ctx, "7", 10, 20)
	if err != nil {
		t.Fatal(err)
	}
	ba, err := s.ListMessagesBetween(ctx, "7", 20, 10)
	if err != nil {
		t.Fatal(err)
	}

	if len(ab) != 2 || len(ba) != 2 {
		t.Fatalf("expected 2 messages each way, got %d and %d", len(ab), len(ba))
	}
	for i := range ab {
		if ab[i].ID != ba[i].ID {
			t.Fatalf("results differ at %d: %s vs %s", i, ab[i].ID, ba[i].ID)
		}
	}
}

func TestListMessagesBetweenGeneralContext(t *testing.T) {
	s := newTestStore(t)

	mustAppend(t, s, 1, 2, models.GeneralContext, "hi")
	mustAppend(t, s, 1, 2, "5", "job scoped")

	history, err := s.ListMessagesBetween(context.Background(), models.GeneralContext, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Content != "hi" {
		t.Fatalf("unexpected general history %+v", history)
	}
}

func TestMarkConversationRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustAppend(t, s, 10, 20, "7", "one")
	mustAppend(t, s, 10, 20, "7", "two")
	mustAppend(t, s, 20, 10, "7", "reply")

	key, _ := models.ParseConversationID("10_20_7")

	n, err := s.MarkConversationRead(ctx, 20, key)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows marked, got %d", n)
	}

	// Nothing left to mark is not an error.
	n, err = s.MarkConversationRead(ctx, 20, key)
	if err != nil || n != 0 {
		t.Fatalf("expected 0 rows and no error, got %d, %v", n, err)
	}

	history, _ := s.ListMessagesBetween(ctx, "7", 10, 20)
	for _, m := range history {
		want := m.ReceiverID == 20
		if m.IsRead != want {
			t.Fatalf("message %q: is_read=%v, want %v", m.Content, m.IsRead, want)
		}
	}
}

func TestMarkReadIsMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustAppend(t, s, 10, 20, "7", "one")
	key := models.NewConversationKey("7", 10, 20)
	if _, err := s.MarkConversationRead(ctx, 20, key); err != nil {
		t.Fatal(err)
	}

	// Later activity in either direction must not revert the read flag.
	mustAppend(t, s, 20, 10, "7", "reply")
	mustAppend(t, s, 10, 20, "7", "two")
	if _, err := s.MarkConversationRead(ctx, 10, key); err != nil {
		t.Fatal(err)
	}

	history, _ := s.ListMessagesBetween(ctx, "7", 10, 20)
	if !history[0].IsRead {
		t.Fatal("read flag reverted")
	}
}

func TestMarkConversationReadNonParticipant(t *testing.T) {
	s := newTestStore(t)

	_, err := s.MarkConversationRead(context.Background(), 30, models.NewConversationKey("7", 10, 20))
	if !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}

func TestListConversationsTwoContexts(t *testing.T) {
	s := newTestStore(t)

	mustAppend(t, s, 10, 20, "7", "job 7 first")
	last7 := mustAppend(t, s, 20, 10, "7", "job 7 last")
	mustAppend(t, s, 10, 20, "8", "job 8 first")
	last8 := mustAppend(t, s, 10, 20, "8", "job 8 last")

	convs, err := s.ListConversations(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}

	// Newest first.
	if convs[0].ContextID != "8" || convs[1].ContextID != "7" {
		t.Fatalf("unexpected order: %s, %s", convs[0].ContextID, convs[1].ContextID)
	}
	if convs[0].LastMessage.ID != last8.ID || convs[1].LastMessage.ID != last7.ID {
		t.Fatal("last_message is not the latest row of its context")
	}
	for _, c := range convs {
		if c.OtherUserID != 20 {
			t.Fatalf("expected other_user_id 20, got %d", c.OtherUserID)
		}
	}
	if convs[1].ConversationID != "10_20_7" {
		t.Fatalf("unexpected conversation id %q", convs[1].ConversationID)
	}
	// User 10 received one unread message in context 7 and none in 8.
	if convs[1].UnreadCount != 1 || convs[0].UnreadCount != 0 {
		t.Fatalf("unexpected unread counts: 7=%d 8=%d", convs[1].UnreadCount, convs[0].UnreadCount)
	}
}

func TestFindCounterparty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.FindCounterparty(ctx, 10, "7"); err != nil || ok {
		t.Fatalf("expected no counterparty, got ok=%v err=%v", ok, err)
	}

	mustAppend(t, s, 30, 10, "7", "older")
	mustAppend(t, s, 10, 20, "7", "newer")

	other, ok, err := s.FindCounterparty(ctx, 10, "7")
	if err != nil || !ok {
		t.Fatalf("FindCounterparty: ok=%v err=%v", ok, err)
	}
	if other != 20 {
		t.Fatalf("expected counterparty 20, got %d", other)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalMessages != 0 || stats.LastActivity != nil {
		t.Fatalf("unexpected empty stats %+v", stats)
	}

	mustAppend(t, s, 10, 20, "7", "a")
	mustAppend(t, s, 20, 10, "7", "b")
	mustAppend(t, s, 10, 20, "8", "c")

	stats, err = s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalMessages != 3 || stats.UnreadMessages != 3 || stats.Conversations != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.LastActivity == nil {
		t.Fatal("expected last activity")
	}
}
