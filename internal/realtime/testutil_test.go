package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
)

type fakeSubscriber struct {
	id     string
	userID int64

	mu        sync.Mutex
	frames    [][]byte
	closed    bool
	closeCode int
}

func newFakeSubscriber(userID int64) *fakeSubscriber {
	return &fakeSubscriber{id: uuid.NewString(), userID: userID}
}

func (f *fakeSubscriber) ID() string    { return f.id }
func (f *fakeSubscriber) UserID() int64 { return f.userID }

func (f *fakeSubscriber) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrConnectionClosed
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeSubscriber) Close(code int, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeCode = code
}

// decoded returns received frames with the given event, in arrival order.
func (f *fakeSubscriber) decoded(t *testing.T, event string) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []map[string]any
	for _, raw := range f.frames {
		var frame map[string]any
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("bad frame %s: %v", raw, err)
		}
		if frame["event"] == event {
			out = append(out, frame)
		}
	}
	return out
}

type stubResolver struct {
	other int64
	ok    bool
	err   error
}

func (r stubResolver) FindCounterparty(context.Context, int64, string) (int64, bool, error) {
	return r.other, r.ok, r.err
}
