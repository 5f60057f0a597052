package realtime

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/Tosinfamzy/games-night-sub000/internal/types"
)

// Envelope is the wire frame exchanged with the realtime server. Data holds
// the event payload; AckID correlates request/acknowledgement pairs; OpID
// tags score events so a redelivered event is applied at most once.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID string          `json:"ackId,omitempty"`
	OpID  string          `json:"opId,omitempty"`
}

// RoomKind identifies which of the three logical channel families a
// subscription belongs to.
type RoomKind string

const (
	RoomGame    RoomKind = "game"
	RoomSession RoomKind = "session"
	RoomTeam    RoomKind = "team"
)

type RoomKey struct {
	Kind RoomKind
	ID   int
}

func (k RoomKey) String() string { return string(k.Kind) + ":" + strconv.Itoa(k.ID) }

// EventKind is the last segment of a room-scoped event name, e.g. the
// "score" in "game:3:score".
type EventKind string

const (
	EventScore       EventKind = "score"
	EventState       EventKind = "state"
	EventTeamScore   EventKind = "teamScore"
	EventPlayerScore EventKind = "playerScore"
	EventUpdate      EventKind = "update"
	EventPlayers     EventKind = "players"
	EventTeams       EventKind = "teams"
	EventMessage     EventKind = "message"
	EventPlayer      EventKind = "player"
)

// Client -> server event names.
const (
	evtJoinGame     = "join:game"
	evtLeaveGame    = "leave:game"
	evtJoinSession  = "join:session"
	evtLeaveSession = "leave:session"
	evtJoinTeam     = "joinTeam"
	evtLeaveTeam    = "leaveTeam"
	evtTeamMessage  = "teamMessage"
	evtPlayerScore  = "player:score"
	evtTeamScore    = "team:score"
	evtAck          = "ack"
)

// Global server -> client event names, independent of any room.
const (
	GlobalPlayerScore = "player:score:update"
	GlobalTeamScore   = "team:score:update"
	GlobalTeamMessage = "team:message"
	GlobalTeamPlayer  = "team:player:update"
)

func isGlobalEvent(name string) bool {
	switch name {
	case GlobalPlayerScore, GlobalTeamScore, GlobalTeamMessage, GlobalTeamPlayer:
		return true
	}
	return false
}

// parseRoomEvent splits "game:3:score" into its room key and event kind.
// Returns ok=false for anything that is not a room-scoped name.
func parseRoomEvent(name string) (RoomKey, EventKind, bool) {
	parts := strings.SplitN(name, ":", 3)
	if len(parts) != 3 {
		return RoomKey{}, "", false
	}
	var kind RoomKind
	switch parts[0] {
	case "game":
		kind = RoomGame
	case "session":
		kind = RoomSession
	case "team":
		kind = RoomTeam
	default:
		return RoomKey{}, "", false
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil {
		return RoomKey{}, "", false
	}
	return RoomKey{Kind: kind, ID: id}, EventKind(parts[2]), true
}

// ScoreEvent is the payload of every score-bearing event. Points is a delta,
// not an absolute value; dedupe relies on the envelope OpID.
type ScoreEvent struct {
	GameID   int `json:"gameId"`
	PlayerID int `json:"playerId,omitempty"`
	TeamID   int `json:"teamId,omitempty"`
	Points   int `json:"points"`
}

// StateEvent announces a game lifecycle transition.
type StateEvent struct {
	GameID int             `json:"gameId"`
	Phase  types.GamePhase `json:"phase"`
	Round  int             `json:"round"`
}

type TeamMessage struct {
	TeamID   int    `json:"teamId"`
	PlayerID int    `json:"playerId"`
	Message  string `json:"message"`
}

type TeamPlayerEvent struct {
	TeamID   int  `json:"teamId"`
	PlayerID int  `json:"playerId"`
	Joined   bool `json:"joined"`
}

// GameHandlers is one listener bundle for a game room. Nil callbacks are
// simply not registered, so independent bundles can listen to different
// event kinds on the same room.
type GameHandlers struct {
	OnScore       func(ScoreEvent)
	OnState       func(StateEvent)
	OnTeamScore   func(ScoreEvent)
	OnPlayerScore func(ScoreEvent)
}

type SessionHandlers struct {
	OnUpdate  func(types.Session)
	OnPlayers func([]types.Player)
	OnTeams   func([]types.Team)
	OnScore   func(ScoreEvent)
}

type TeamHandlers struct {
	OnMessage func(TeamMessage)
	OnPlayer  func(TeamPlayerEvent)
}

type ackResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type joinTeamRequest struct {
	TeamID   int `json:"teamId"`
	PlayerID int `json:"playerId"`
}

type teamMessageRequest struct {
	TeamID  int    `json:"teamId"`
	Message string `json:"message"`
}

type roomAnnounce struct {
	ID int `json:"id"`
}
