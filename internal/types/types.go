package types

// GamePhase is the canonical lifecycle of a game. The server also reports a
// coarser Status; Phase is authoritative on the client and Status is derived
// from it via StatusFor, except for StatusCancelled which only the server
// sets and which we preserve as-is.
type GamePhase string

const (
	PhaseSetup      GamePhase = "setup"
	PhaseReady      GamePhase = "ready"
	PhaseInProgress GamePhase = "in_progress"
	PhasePaused     GamePhase = "paused"
	PhaseCompleted  GamePhase = "completed"
)

type GameStatus string

const (
	StatusPending   GameStatus = "pending"
	StatusActive    GameStatus = "active"
	StatusCompleted GameStatus = "completed"
	StatusCancelled GameStatus = "cancelled"
)

// StatusFor maps a phase onto the derived status dimension.
func StatusFor(p GamePhase) GameStatus {
	switch p {
	case PhaseSetup, PhaseReady:
		return StatusPending
	case PhaseInProgress, PhasePaused:
		return StatusActive
	case PhaseCompleted:
		return StatusCompleted
	default:
		return StatusPending
	}
}

// Game is a client-side mirror of a server-owned game. Scoreboard maps
// player id to points and is kept separate from Phase on purpose.
type Game struct {
	ID          int         `json:"id"`
	Name        string      `json:"name"`
	Phase       GamePhase   `json:"phase"`
	Status      GameStatus  `json:"status"`
	Round       int         `json:"round"`
	TotalRounds int         `json:"totalRounds"`
	Players     []int       `json:"players"`
	Scoreboard  map[int]int `json:"scoreboard"`
}

type Player struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	TeamID *int   `json:"teamId,omitempty"`
	Score  int    `json:"score"`
}

type Team struct {
	ID      int      `json:"id"`
	Name    string   `json:"name"`
	Players []Player `json:"players"`
	Score   int      `json:"score"`
}

type Session struct {
	ID       int      `json:"id"`
	Name     string   `json:"name"`
	Active   bool     `json:"isActive"`
	JoinCode string   `json:"joinCode"`
	Players  []Player `json:"players"`
	Teams    []Team   `json:"teams"`
	Games    []Game   `json:"games"`
}
