package realtime

import (
	"encoding/json"
	"sync"
)

// rawHandler receives the undecoded payload of one event occurrence.
type rawHandler func(data json.RawMessage)

// roomRegistry books listener bundles per room, keyed by event kind and a
// per-bundle token so several independent bundles can coexist on one room.
// Removing the last bundle of a room deletes the room entry entirely.
type roomRegistry struct {
	mu        sync.RWMutex
	nextToken int
	rooms     map[RoomKey]map[EventKind]map[int]rawHandler
}

func newRoomRegistry() *roomRegistry {
	return &roomRegistry{rooms: make(map[RoomKey]map[EventKind]map[int]rawHandler)}
}

// add registers the non-nil handlers under a fresh token and reports whether
// the room was newly created (callers announce room membership then).
func (r *roomRegistry) add(key RoomKey, handlers map[EventKind]rawHandler) (token int, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[key]
	if !ok {
		room = make(map[EventKind]map[int]rawHandler)
		r.rooms[key] = room
		created = true
	}

	r.nextToken++
	token = r.nextToken
	for kind, h := range handlers {
		if h == nil {
			continue
		}
		if room[kind] == nil {
			room[kind] = make(map[int]rawHandler)
		}
		room[kind][token] = h
	}
	return token, created
}

// removeRoom drops every listener for the room and deletes its entry.
// Reports whether the room existed.
func (r *roomRegistry) removeRoom(key RoomKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[key]
	delete(r.rooms, key)
	return ok
}

// removeToken detaches one bundle. When the room ends up with no listeners
// at all the entry is deleted and removeToken reports emptied=true.
func (r *roomRegistry) removeToken(key RoomKey, token int) (emptied bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[key]
	if !ok {
		return false
	}
	for kind, set := range room {
		delete(set, token)
		if len(set) == 0 {
			delete(room, kind)
		}
	}
	if len(room) == 0 {
		delete(r.rooms, key)
		return true
	}
	return false
}

// handlersFor snapshots the handlers registered for one event occurrence so
// fan-out runs without holding the registry lock.
func (r *roomRegistry) handlersFor(key RoomKey, kind EventKind) []rawHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.rooms[key][kind]
	if !ok {
		return nil
	}
	out := make([]rawHandler, 0, len(set))
	for _, h := range set {
		out = append(out, h)
	}
	return out
}

func (r *roomRegistry) has(key RoomKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[key]
	return ok
}

// tracked snapshots every room currently booked, for re-announcement after
// a reconnect.
func (r *roomRegistry) tracked() []RoomKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]RoomKey, 0, len(r.rooms))
	for k := range r.rooms {
		keys = append(keys, k)
	}
	return keys
}

func (r *roomRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
