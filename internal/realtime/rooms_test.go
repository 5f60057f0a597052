package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomRegistryAddAndRemoveRoom(t *testing.T) {
	r := newRoomRegistry()
	key := RoomKey{Kind: RoomGame, ID: 3}

	_, created := r.add(key, map[EventKind]rawHandler{
		EventScore: func(json.RawMessage) {},
	})
	require.True(t, created)
	assert.True(t, r.has(key))
	assert.Len(t, r.handlersFor(key, EventScore), 1)

	_, created = r.add(key, map[EventKind]rawHandler{
		EventScore: func(json.RawMessage) {},
		EventState: func(json.RawMessage) {},
	})
	assert.False(t, created, "second bundle joins the existing room")
	assert.Len(t, r.handlersFor(key, EventScore), 2)

	require.True(t, r.removeRoom(key))
	assert.False(t, r.has(key))
	assert.Empty(t, r.handlersFor(key, EventScore))
	assert.False(t, r.removeRoom(key), "removing an absent room reports false")
}

func TestRoomRegistryNilHandlersAreSkipped(t *testing.T) {
	r := newRoomRegistry()
	key := RoomKey{Kind: RoomSession, ID: 1}

	r.add(key, map[EventKind]rawHandler{
		EventUpdate: func(json.RawMessage) {},
		EventScore:  nil,
	})
	assert.Len(t, r.handlersFor(key, EventUpdate), 1)
	assert.Empty(t, r.handlersFor(key, EventScore))
}

func TestRoomRegistryRemoveTokenEmptiesRoom(t *testing.T) {
	r := newRoomRegistry()
	key := RoomKey{Kind: RoomGame, ID: 3}

	tok1, _ := r.add(key, map[EventKind]rawHandler{EventScore: func(json.RawMessage) {}})
	tok2, _ := r.add(key, map[EventKind]rawHandler{EventState: func(json.RawMessage) {}})

	assert.False(t, r.removeToken(key, tok1))
	assert.True(t, r.has(key))

	assert.True(t, r.removeToken(key, tok2), "last bundle out empties the room")
	assert.False(t, r.has(key))
	assert.Zero(t, r.len())
}

func TestRoomRegistryTracked(t *testing.T) {
	r := newRoomRegistry()
	r.add(RoomKey{Kind: RoomGame, ID: 1}, map[EventKind]rawHandler{EventScore: func(json.RawMessage) {}})
	r.add(RoomKey{Kind: RoomSession, ID: 2}, map[EventKind]rawHandler{EventUpdate: func(json.RawMessage) {}})

	tracked := r.tracked()
	assert.Len(t, tracked, 2)
	assert.ElementsMatch(t, []RoomKey{
		{Kind: RoomGame, ID: 1},
		{Kind: RoomSession, ID: 2},
	}, tracked)
}

func TestParseRoomEvent(t *testing.T) {
	cases := []struct {
		name     string
		event    string
		wantKey  RoomKey
		wantKind EventKind
		wantOK   bool
	}{
		{"game score", "game:3:score", RoomKey{RoomGame, 3}, EventScore, true},
		{"session players", "session:12:players", RoomKey{RoomSession, 12}, EventPlayers, true},
		{"team message", "team:5:message", RoomKey{RoomTeam, 5}, EventMessage, true},
		{"global event", "player:score:update", RoomKey{}, "", false},
		{"not room scoped", "ack", RoomKey{}, "", false},
		{"bad id", "game:abc:score", RoomKey{}, "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key, kind, ok := parseRoomEvent(tc.event)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.wantKey, key)
				assert.Equal(t, tc.wantKind, kind)
			}
		})
	}
}

func TestOpSetBound(t *testing.T) {
	s := newOpSet(2)
	assert.True(t, s.add("a"))
	assert.False(t, s.add("a"))
	assert.True(t, s.add("b"))
	assert.True(t, s.add("c"), "capacity evicts oldest")
	assert.True(t, s.add("a"), "evicted id is seen as new again")
}
