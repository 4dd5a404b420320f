package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/gigchat/internal/models"
	"github.com/eldtechnologies/gigchat/internal/realtime"
	"github.com/eldtechnologies/gigchat/internal/store"
)

type frame struct {
	Event string          `json:"event"`
	Room  string          `json:"room"`
	Data  json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) (*httptest.Server, *store.SQLiteStore) {
	t.Helper()

	s, err := store.NewSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}

	hub := realtime.NewHub()
	fanout := realtime.NewChannel(hub, realtime.NewLocalBroker(), zerolog.Nop())
	if err := fanout.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	router := NewRouter(zerolog.Nop(), RouterConfig{
		Store:  s,
		Hub:    hub,
		Fanout: fanout,
		Binder: realtime.NewBinder(hub, s, zerolog.Nop()),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
		s.Close()
	})
	return srv, s
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f frame
	if err := ws.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func postJSON(t *testing.T, srv *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()
	data, _ := json.Marshal(body)
	req, err := http.NewRequest(method, srv.URL+path, bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestEndToEndSendReceiveMarkRead(t *testing.T) {
	srv, s := newTestServer(t)

	// User 20 watches the conversation with 10 about job 7.
	ws := dial(t, srv, "/ws/messages?userId=20&jobId=7&otherUserId=10")
	if f := readFrame(t, ws); f.Event != realtime.EventSubscribed || f.Room != "chat_7_10_20" {
		t.Fatalf("unexpected handshake frame %+v", f)
	}
	notify := dial(t, srv, "/ws/notifications?userId=20")
	if f := readFrame(t, notify); f.Room != "user_20" {
		t.Fatalf("unexpected notification handshake %+v", f)
	}

	resp := postJSON(t, srv, http.MethodPost, "/api/messages", map[string]any{
		"sender_id": 10, "receiver_id": 20, "context_id": "7", "content": "Hello",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var sent models.Message
	if err := json.NewDecoder(resp.Body).Decode(&sent); err != nil {
		t.Fatal(err)
	}

	history, err := s.ListMessagesBetween(context.Background(), "7", 10, 20)
	if err != nil || len(history) != 1 || history[0].Content != "Hello" {
		t.Fatalf("unexpected history %+v %v", history, err)
	}

	f := readFrame(t, ws)
	if f.Event != realtime.EventMessage {
		t.Fatalf("expected message event, got %+v", f)
	}
	var pushed models.Message
	if err := json.Unmarshal(f.Data, &pushed); err != nil {
		t.Fatal(err)
	}
	if pushed.ID != sent.ID || pushed.Content != "Hello" {
		t.Fatalf("pushed %+v, sent %+v", pushed, sent)
	}

	if f := readFrame(t, notify); f.Event != realtime.EventNewMessage {
		t.Fatalf("expected newMessage notification, got %+v", f)
	}

	resp = postJSON(t, srv, http.MethodPut, "/api/messages/read", map[string]any{
		"user_id": 20, "conversation_id": "10_20_7",
	})
	var read struct {
		Success   bool  `json:"success"`
		ReadCount int64 `json:"read_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&read); err != nil {
		t.Fatal(err)
	}
	if !read.Success || read.ReadCount != 1 {
		t.Fatalf("unexpected mark read response %+v", read)
	}

	history, _ = s.ListMessagesBetween(context.Background(), "7", 10, 20)
	if !history[0].IsRead {
		t.Fatal("message should be read")
	}
}

func TestReconnectWithSameParamsReplacesSubscription(t *testing.T) {
	srv, _ := newTestServer(t)

	first := dial(t, srv, "/ws/messages?userId=20&jobId=7&otherUserId=10")
	readFrame(t, first)
	second := dial(t, srv, "/ws/messages?userId=20&jobId=7&otherUserId=10")
	readFrame(t, second)

	_ = first.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := first.ReadMessage()
	if !websocket.IsCloseError(err, 4001) {
		t.Fatalf("expected first connection closed with 4001, got %v", err)
	}

	postJSON(t, srv, http.MethodPost, "/api/messages", map[string]any{
		"sender_id": 10, "receiver_id": 20, "context_id": "7", "content": "once",
	})

	if f := readFrame(t, second); f.Event != realtime.EventMessage {
		t.Fatalf("expected message, got %+v", f)
	}

	// No duplicate follows.
	_ = second.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, data, err := second.ReadMessage(); err == nil {
		t.Fatalf("unexpected extra frame %s", data)
	}
}

func TestProvisionalSubscriptionUpgrade(t *testing.T) {
	srv, _ := newTestServer(t)

	ws := dial(t, srv, "/ws/messages?userId=20&jobId=9")
	f := readFrame(t, ws)
	if f.Room != models.PendingRoom("9", 20) {
		t.Fatalf("expected pending room, got %+v", f)
	}

	if err := ws.WriteJSON(realtime.ClientFrame{Type: "resolve", OtherUserID: 10}); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, ws); f.Event != realtime.EventSubscribed || f.Room != "chat_9_10_20" {
		t.Fatalf("expected upgraded subscription, got %+v", f)
	}

	postJSON(t, srv, http.MethodPost, "/api/messages", map[string]any{
		"sender_id": 10, "receiver_id": 20, "context_id": "9", "content": "found you",
	})
	if f := readFrame(t, ws); f.Event != realtime.EventMessage {
		t.Fatalf("expected message, got %+v", f)
	}
}

func TestCounterpartyResolvedFromHistory(t *testing.T) {
	srv, _ := newTestServer(t)

	postJSON(t, srv, http.MethodPost, "/api/messages", map[string]any{
		"sender_id": 10, "receiver_id": 20, "context_id": "7", "content": "earlier",
	})

	ws := dial(t, srv, "/ws/messages?userId=20&jobId=7&otherUserId=null")
	if f := readFrame(t, ws); f.Room != "chat_7_10_20" {
		t.Fatalf("expected resolved room, got %+v", f)
	}
}

func TestSocketRejectsBadParams(t *testing.T) {
	srv, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/messages?userId=abc"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", resp)
	}
}

func TestRoutes(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/api", "/health", "/stats", "/metrics", "/api/conversations/1"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}

	resp, err := http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
