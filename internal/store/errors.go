package store

import "errors"

var (
	ErrNoHost         = errors.New("store: no host identity set")
	ErrHostInvalid    = errors.New("store: host is no longer valid")
	ErrRosterTooSmall = errors.New("store: at least 4 players are required to form teams")
)

// Kind distinguishes store failures for callers that need more than the
// display message.
type Kind string

const (
	KindFetchGames      Kind = "fetch_games"
	KindFetchGame       Kind = "fetch_game"
	KindCreateGame      Kind = "create_game"
	KindSetupGame       Kind = "setup_game"
	KindReadyPlayer     Kind = "ready_player"
	KindStartGame       Kind = "start_game"
	KindCompleteGame    Kind = "complete_game"
	KindUpdateGameState Kind = "update_game_state"
	KindJoinGame        Kind = "join_game"
	KindLeaveGame       Kind = "leave_game"
	KindEndGame         Kind = "end_game"

	KindFetchSessions  Kind = "fetch_sessions"
	KindFetchSession   Kind = "fetch_session"
	KindCreateSession  Kind = "create_session"
	KindAddPlayer      Kind = "add_player"
	KindCreateTeam     Kind = "create_team"
	KindRandomTeams    Kind = "random_teams"
	KindCustomTeams    Kind = "custom_teams"
	KindAssignPlayers  Kind = "assign_players"
	KindEndSession     Kind = "end_session"
	KindScorePlayer    Kind = "score_player"
	KindScoreTeam      Kind = "score_team"
	KindCreateHost     Kind = "create_host"
	KindHostMissing    Kind = "host_missing"
	KindHostInvalid    Kind = "host_invalid"
	KindHostValidation Kind = "host_validation"
)

// Error pairs the human-readable message a view displays with the kind and
// cause tests and callers can branch on.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }
