package realtime

import (
	"strconv"
	"testing"
)

func TestHubJoinIsIdempotent(t *testing.T) {
	hub := NewHub()
	sub := newFakeSubscriber(10)
	hub.Attach("k", sub)

	hub.Join("chat_7_10_20", sub)
	hub.Join("chat_7_10_20", sub)

	if n := hub.Deliver("chat_7_10_20", []byte(`{}`)); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if len(sub.frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(sub.frames))
	}
}

func TestHubJoinRequiresAttach(t *testing.T) {
	hub := NewHub()
	if hub.Join("room", newFakeSubscriber(1)) {
		t.Fatal("join should fail for an unattached subscriber")
	}
}

func TestHubAttachReplacesSameKey(t *testing.T) {
	hub := NewHub()
	first := newFakeSubscriber(10)
	second := newFakeSubscriber(10)

	hub.Attach("messages:10:7:20", first)
	hub.Join("chat_7_10_20", first)
	hub.Attach("messages:10:7:20", second)
	hub.Join("chat_7_10_20", second)

	if !first.closed || first.closeCode != closeSessionReplaced {
		t.Fatalf("first subscriber should be closed with %d, got closed=%v code=%d", closeSessionReplaced, first.closed, first.closeCode)
	}
	if n := hub.Deliver("chat_7_10_20", []byte(`{}`)); n != 1 {
		t.Fatalf("expected exactly one effective subscription, got %d", n)
	}
	if subs, _ := hub.Counts(); subs != 1 {
		t.Fatalf("expected 1 attached subscriber, got %d", subs)
	}
}

func TestHubRekeyReleasesOldKey(t *testing.T) {
	hub := NewHub()
	sub := newFakeSubscriber(10)
	hub.Attach("old", sub)
	hub.Attach("new", sub)

	other := newFakeSubscriber(10)
	hub.Attach("old", other)
	if sub.closed {
		t.Fatal("re-keyed subscriber must not be replaced through its old key")
	}
}

func TestHubDetachLeavesRooms(t *testing.T) {
	hub := NewHub()
	sub := newFakeSubscriber(10)
	hub.Attach("k", sub)
	hub.Join("a", sub)
	hub.Join("b", sub)

	if rooms := hub.Rooms(sub); len(rooms) != 2 {
		t.Fatalf("expected 2 rooms, got %v", rooms)
	}

	hub.Detach(sub)
	if n := hub.Deliver("a", []byte(`{}`)); n != 0 {
		t.Fatalf("expected no delivery after detach, got %d", n)
	}
	if subs, rooms := hub.Counts(); subs != 0 || rooms != 0 {
		t.Fatalf("expected empty hub, got %d subscribers and %d rooms", subs, rooms)
	}
}

func TestHubDeliverPreservesOrder(t *testing.T) {
	hub := NewHub()
	sub := newFakeSubscriber(10)
	hub.Attach("k", sub)
	hub.Join("room", sub)

	for i := 0; i < 50; i++ {
		hub.Deliver("room", []byte(strconv.Itoa(i)))
	}
	for i, frame := range sub.frames {
		if string(frame) != strconv.Itoa(i) {
			t.Fatalf("frame %d out of order: %s", i, frame)
		}
	}
}

func TestHubClose(t *testing.T) {
	hub := NewHub()
	a, b := newFakeSubscriber(1), newFakeSubscriber(2)
	hub.Attach("a", a)
	hub.Attach("b", b)

	hub.Close()

	if !a.closed || !b.closed {
		t.Fatal("close should terminate every subscriber")
	}
	if subs, _ := hub.Counts(); subs != 0 {
		t.Fatalf("expected no subscribers after close, got %d", subs)
	}
}
