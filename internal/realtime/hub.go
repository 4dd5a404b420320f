package realtime

import (
	"sync"

	"github.com/gorilla/websocket"
)

// closeSessionReplaced is sent to a connection superseded by a newer one
// with the same session key.
const closeSessionReplaced = 4001

// Hub is the process-local subscription table. It maps rooms to the
// subscribers currently joined to them.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]Subscriber            // subscriberID -> subscriber
	keys     map[string]string                // session key -> subscriberID
	subKeys  map[string]string                // subscriberID -> session key
	rooms    map[string]map[string]Subscriber // room -> subscriberID -> subscriber
	subRooms map[string]map[string]struct{}   // subscriberID -> set of rooms
}

// NewHub constructs an initialized Hub.
func NewHub() *Hub {
	return &Hub{
		subs:     make(map[string]Subscriber),
		keys:     make(map[string]string),
		subKeys:  make(map[string]string),
		rooms:    make(map[string]map[string]Subscriber),
		subRooms: make(map[string]map[string]struct{}),
	}
}

// Attach registers sub under key. A subscriber previously attached with the
// same key is detached and closed, so identical connection parameters never
// produce two live subscriptions. Attaching an attached sub again re-keys it.
func (h *Hub) Attach(key string, sub Subscriber) {
	var previous Subscriber

	h.mu.Lock()
	if existingID, ok := h.keys[key]; ok && existingID != sub.ID() {
		previous = h.subs[existingID]
		h.detachLocked(existingID)
	}

	if oldKey, ok := h.subKeys[sub.ID()]; ok && oldKey != key && h.keys[oldKey] == sub.ID() {
		delete(h.keys, oldKey)
	}

	h.subs[sub.ID()] = sub
	h.keys[key] = sub.ID()
	h.subKeys[sub.ID()] = key
	if h.subRooms[sub.ID()] == nil {
		h.subRooms[sub.ID()] = make(map[string]struct{})
	}
	h.mu.Unlock()

	if previous != nil {
		previous.Close(closeSessionReplaced, "session replaced")
	}
}

// Detach removes sub and all of its room memberships.
func (h *Hub) Detach(sub Subscriber) {
	h.mu.Lock()
	h.detachLocked(sub.ID())
	h.mu.Unlock()
}

// Join adds sub to room. Joining a room twice is a no-op. It reports false
// when sub is not attached.
func (h *Hub) Join(room string, sub Subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.ID()]; !ok {
		return false
	}

	members := h.rooms[room]
	if members == nil {
		members = make(map[string]Subscriber)
		h.rooms[room] = members
	}
	members[sub.ID()] = sub
	h.subRooms[sub.ID()][room] = struct{}{}
	return true
}

// Leave removes sub from room.
func (h *Hub) Leave(room string, sub Subscriber) {
	h.mu.Lock()
	h.leaveLocked(room, sub.ID())
	h.mu.Unlock()
}

// Deliver sends frame to every subscriber in room and returns how many
// accepted it. Subscribers that are gone are skipped.
func (h *Hub) Deliver(room string, frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, sub := range h.rooms[room] {
		if err := sub.Send(frame); err == nil {
			delivered++
		}
	}
	return delivered
}

// Rooms returns the rooms sub is joined to.
func (h *Hub) Rooms(sub Subscriber) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms := make([]string, 0, len(h.subRooms[sub.ID()]))
	for room := range h.subRooms[sub.ID()] {
		rooms = append(rooms, room)
	}
	return rooms
}

// Counts returns the number of attached subscribers and non-empty rooms.
func (h *Hub) Counts() (subscribers, rooms int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs), len(h.rooms)
}

// Close terminates all tracked subscribers and clears hub state.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]Subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.subs = make(map[string]Subscriber)
	h.keys = make(map[string]string)
	h.subKeys = make(map[string]string)
	h.rooms = make(map[string]map[string]Subscriber)
	h.subRooms = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close(websocket.CloseGoingAway, "server shutdown")
	}
}

func (h *Hub) detachLocked(subID string) {
	if _, ok := h.subs[subID]; !ok {
		return
	}
	delete(h.subs, subID)

	if key, ok := h.subKeys[subID]; ok {
		if h.keys[key] == subID {
			delete(h.keys, key)
		}
		delete(h.subKeys, subID)
	}

	for room := range h.subRooms[subID] {
		h.leaveLocked(room, subID)
	}
	delete(h.subRooms, subID)
}

func (h *Hub) leaveLocked(room, subID string) {
	members := h.rooms[room]
	if members == nil {
		return
	}
	delete(members, subID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	if memberships, ok := h.subRooms[subID]; ok {
		delete(memberships, room)
	}
}
