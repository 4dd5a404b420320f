package realtime

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/gigchat/internal/models"
)

func TestBindKnownCounterparty(t *testing.T) {
	hub := NewHub()
	b := NewBinder(hub, nil, zerolog.Nop())
	sub := newFakeSubscriber(20)

	sess, err := b.Bind(context.Background(), sub, Params{UserID: 20, ContextID: "7", OtherUserID: 10})
	if err != nil {
		t.Fatal(err)
	}
	if sess.State() != StateSubscribed {
		t.Fatalf("expected subscribed, got %s", sess.State())
	}
	if sess.Room() != models.RoomName("7", 10, 20) {
		t.Fatalf("unexpected room %s", sess.Room())
	}
	if got := sub.decoded(t, EventSubscribed); len(got) != 1 {
		t.Fatalf("expected subscribed frame, got %d", len(got))
	}
}

func TestBindDefaultsToGeneralContext(t *testing.T) {
	b := NewBinder(NewHub(), nil, zerolog.Nop())
	sess, err := b.Bind(context.Background(), newFakeSubscriber(1), Params{UserID: 1, OtherUserID: 2})
	if err != nil {
		t.Fatal(err)
	}
	if sess.Room() != "chat_general_1_2" {
		t.Fatalf("unexpected room %s", sess.Room())
	}
}

func TestBindRejectsInvalidParams(t *testing.T) {
	b := NewBinder(NewHub(), nil, zerolog.Nop())
	cases := []Params{
		{UserID: 0, ContextID: "7", OtherUserID: 1},
		{UserID: 1, ContextID: "7", OtherUserID: 1},
		{UserID: 1, ContextID: "a_b", OtherUserID: 2},
		{UserID: 1, ContextID: "7", OtherUserID: -3},
	}
	for _, p := range cases {
		if _, err := b.Bind(context.Background(), newFakeSubscriber(p.UserID), p); !errors.Is(err, ErrInvalidParams) {
			t.Fatalf("params %+v: expected ErrInvalidParams, got %v", p, err)
		}
	}
}

func TestBindResolvesCounterpartyFromHistory(t *testing.T) {
	b := NewBinder(NewHub(), stubResolver{other: 10, ok: true}, zerolog.Nop())

	sess, err := b.Bind(context.Background(), newFakeSubscriber(20), Params{UserID: 20, ContextID: "7"})
	if err != nil {
		t.Fatal(err)
	}
	if sess.State() != StateSubscribed || sess.Room() != "chat_7_10_20" {
		t.Fatalf("expected resolved subscription, got %s in %s", sess.State(), sess.Room())
	}
	if sess.Params().OtherUserID != 10 {
		t.Fatalf("expected counterparty 10, got %d", sess.Params().OtherUserID)
	}
}

func TestBindProvisionalThenResolve(t *testing.T) {
	hub := NewHub()
	b := NewBinder(hub, stubResolver{err: errors.New("db down")}, zerolog.Nop())
	sub := newFakeSubscriber(20)

	sess, err := b.Bind(context.Background(), sub, Params{UserID: 20, ContextID: "7"})
	if err != nil {
		t.Fatal(err)
	}
	if sess.State() != StateProvisional || sess.Room() != models.PendingRoom("7", 20) {
		t.Fatalf("expected provisional pending room, got %s in %s", sess.State(), sess.Room())
	}

	b.HandleClientFrame(sess, []byte(`{"type":"resolve","other_user_id":10}`))

	if sess.State() != StateSubscribed || sess.Room() != "chat_7_10_20" {
		t.Fatalf("expected upgrade, got %s in %s", sess.State(), sess.Room())
	}
	if n := hub.Deliver(models.PendingRoom("7", 20), []byte(`{}`)); n != 0 {
		t.Fatal("session still in pending room")
	}
	if n := hub.Deliver("chat_7_10_20", []byte(`{}`)); n != 1 {
		t.Fatalf("expected delivery to resolved room, got %d", n)
	}

	// Resolving to the same counterparty again is a no-op; a different one is refused.
	if err := b.Resolve(sess, 10); err != nil {
		t.Fatalf("repeat resolve: %v", err)
	}
	if err := b.Resolve(sess, 30); !errors.Is(err, ErrNotProvisional) {
		t.Fatalf("expected ErrNotProvisional, got %v", err)
	}
}

func TestHandleClientFrameErrors(t *testing.T) {
	b := NewBinder(NewHub(), nil, zerolog.Nop())
	sub := newFakeSubscriber(20)
	sess, _ := b.Bind(context.Background(), sub, Params{UserID: 20, ContextID: "7"})

	b.HandleClientFrame(sess, []byte(`not json`))
	b.HandleClientFrame(sess, []byte(`{"type":"dance"}`))
	b.HandleClientFrame(sess, []byte(`{"type":"resolve","other_user_id":20}`))

	if got := sub.decoded(t, EventError); len(got) != 3 {
		t.Fatalf("expected 3 error frames, got %d", len(got))
	}
	if sess.State() != StateProvisional {
		t.Fatalf("bad frames must not change state, got %s", sess.State())
	}
}

func TestBindTwiceSameParamsSingleSubscription(t *testing.T) {
	hub := NewHub()
	b := NewBinder(hub, nil, zerolog.Nop())
	p := Params{UserID: 20, ContextID: "7", OtherUserID: 10}

	first := newFakeSubscriber(20)
	second := newFakeSubscriber(20)
	if _, err := b.Bind(context.Background(), first, p); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Bind(context.Background(), second, p); err != nil {
		t.Fatal(err)
	}

	if n := hub.Deliver(models.RoomName("7", 10, 20), []byte(`{}`)); n != 1 {
		t.Fatalf("expected exactly one delivery, got %d", n)
	}
	if !first.closed {
		t.Fatal("first connection should have been replaced")
	}
}

func TestUnbind(t *testing.T) {
	hub := NewHub()
	b := NewBinder(hub, nil, zerolog.Nop())
	sub := newFakeSubscriber(20)
	sess, _ := b.Bind(context.Background(), sub, Params{UserID: 20, ContextID: "7", OtherUserID: 10})

	b.Unbind(sess)

	if sess.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", sess.State())
	}
	if err := b.Resolve(sess, 10); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if subs, rooms := hub.Counts(); subs != 0 || rooms != 0 {
		t.Fatalf("expected empty hub, got %d/%d", subs, rooms)
	}
}

func TestBindNotifications(t *testing.T) {
	hub := NewHub()
	b := NewBinder(hub, nil, zerolog.Nop())
	sub := newFakeSubscriber(20)

	sess, err := b.BindNotifications(sub, 20)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Room() != "user_20" {
		t.Fatalf("unexpected room %s", sess.Room())
	}
	if _, err := b.BindNotifications(newFakeSubscriber(0), 0); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
}
