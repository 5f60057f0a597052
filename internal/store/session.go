package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Tosinfamzy/games-night-sub000/internal/api"
	"github.com/Tosinfamzy/games-night-sub000/internal/types"
)

const (
	hostCheckTimeout = 5 * time.Second
	minRosterSize    = 4
)

// SessionStore caches the session list and the current session, owns the
// host identity and applies optimistic score deltas. Structural session
// changes go through REST only; the server stays the source of truth and a
// full re-fetch reconciles any drift.
type SessionStore struct {
	api    *api.Client
	host   *HostKeeper
	logger *zap.Logger

	mu        sync.RWMutex
	sessions  []types.Session
	currentID int // id of the current session in the list, 0 when none
	loading   bool
	lastErr   *Error
}

func NewSessionStore(apiClient *api.Client, host *HostKeeper, logger *zap.Logger) *SessionStore {
	return &SessionStore{api: apiClient, host: host, logger: logger}
}

// requireValidHost guards every session-mutating operation: fail fast with
// no network traffic when no identity is held, otherwise revalidate the id
// against the API under its own short timeout. A host the server no longer
// recognizes is cleared together with all cached sessions.
func (s *SessionStore) requireValidHost(ctx context.Context) (int, error) {
	id, ok := s.host.ID()
	if !ok {
		return 0, s.fail(KindHostMissing, "No host identity set", ErrNoHost)
	}

	vctx, cancel := context.WithTimeout(ctx, hostCheckTimeout)
	defer cancel()
	if _, err := s.api.GetPlayer(vctx, id); err != nil {
		if api.IsNotFound(err) {
			s.host.markInvalid()
			s.host.Clear()
			s.mu.Lock()
			s.sessions = nil
			s.currentID = 0
			s.mu.Unlock()
			s.logger.Warn("host identity no longer recognized, cleared", zap.Int("hostId", id))
			return 0, s.fail(KindHostInvalid, "Host is no longer valid", ErrHostInvalid)
		}
		return 0, s.fail(KindHostValidation, "Failed to validate host", err)
	}
	s.host.markValid()
	return id, nil
}

// CreateHost registers this browser session as a host with the server and
// persists the returned id.
func (s *SessionStore) CreateHost(ctx context.Context, name string) (types.Player, error) {
	player, err := s.api.CreateHostPlayer(ctx, api.CreateHostRequest{Name: name})
	if err != nil {
		return types.Player{}, s.fail(KindCreateHost, "Failed to create host", err)
	}
	if err := s.host.Set(player.ID); err != nil {
		s.logger.Warn("host id not persisted, valid for this run only", zap.Error(err))
	}
	return player, nil
}

func (s *SessionStore) ClearHost() { s.host.Clear() }

func (s *SessionStore) HostID() (int, bool)  { return s.host.ID() }
func (s *SessionStore) HostState() HostState { return s.host.State() }

// FetchSessions refreshes the session list from the server.
func (s *SessionStore) FetchSessions(ctx context.Context) ([]types.Session, error) {
	hostID, err := s.requireValidHost(ctx)
	if err != nil {
		return nil, err
	}
	s.setLoading()
	sessions, err := s.api.ListSessions(ctx, hostID)
	if err != nil {
		return nil, s.fail(KindFetchSessions, "Failed to fetch sessions", err)
	}

	s.mu.Lock()
	s.sessions = sessions
	// Drop the current marker when its session left the refreshed list.
	if s.currentID != 0 {
		found := false
		for i := range sessions {
			if sessions[i].ID == s.currentID {
				found = true
				break
			}
		}
		if !found {
			s.currentID = 0
		}
	}
	s.loading = false
	s.lastErr = nil
	s.mu.Unlock()
	return sessions, nil
}

func (s *SessionStore) FetchSession(ctx context.Context, id int) (types.Session, error) {
	hostID, err := s.requireValidHost(ctx)
	if err != nil {
		return types.Session{}, err
	}
	s.setLoading()
	sess, err := s.api.GetSession(ctx, id, hostID)
	if err != nil {
		return types.Session{}, s.fail(KindFetchSession, "Failed to fetch session", err)
	}
	s.replaceSession(sess)
	s.setCurrent(sess.ID)
	return sess, nil
}

func (s *SessionStore) CreateSession(ctx context.Context, name string) (types.Session, error) {
	hostID, err := s.requireValidHost(ctx)
	if err != nil {
		return types.Session{}, err
	}
	s.setLoading()
	sess, err := s.api.CreateSession(ctx, api.CreateSessionRequest{Name: name, HostID: hostID})
	if err != nil {
		return types.Session{}, s.fail(KindCreateSession, "Failed to create session", err)
	}
	s.replaceSession(sess)
	s.setCurrent(sess.ID)
	return sess, nil
}

// AddPlayer creates a player record, then joins it to the session. When the
// join fails the created player is deleted again so no orphaned record
// lingers server-side.
func (s *SessionStore) AddPlayer(ctx context.Context, sessionID int, name string) (types.Session, error) {
	hostID, err := s.requireValidHost(ctx)
	if err != nil {
		return types.Session{}, err
	}
	s.setLoading()

	player, err := s.api.CreatePlayer(ctx, api.CreatePlayerRequest{Name: name})
	if err != nil {
		return types.Session{}, s.fail(KindAddPlayer, "Failed to add player", err)
	}

	sess, err := s.api.AddSessionPlayer(ctx, sessionID, hostID, api.AddPlayerRequest{PlayerID: player.ID})
	if err != nil {
		if delErr := s.api.DeletePlayer(ctx, player.ID); delErr != nil {
			s.logger.Warn("compensating player delete failed", zap.Int("playerId", player.ID), zap.Error(delErr))
		}
		return types.Session{}, s.fail(KindAddPlayer, "Failed to add player", err)
	}
	s.replaceSession(sess)
	return sess, nil
}

func (s *SessionStore) CreateTeam(ctx context.Context, sessionID int, name string) (types.Session, error) {
	hostID, err := s.requireValidHost(ctx)
	if err != nil {
		return types.Session{}, err
	}
	if err := s.checkRoster(ctx, sessionID, hostID, KindCreateTeam, "Failed to create team"); err != nil {
		return types.Session{}, err
	}
	s.setLoading()
	sess, err := s.api.CreateTeam(ctx, sessionID, hostID, api.CreateTeamRequest{Name: name})
	if err != nil {
		return types.Session{}, s.fail(KindCreateTeam, "Failed to create team", err)
	}
	s.replaceSession(sess)
	return sess, nil
}

func (s *SessionStore) RandomizeTeams(ctx context.Context, sessionID, teamCount int) (types.Session, error) {
	hostID, err := s.requireValidHost(ctx)
	if err != nil {
		return types.Session{}, err
	}
	if err := s.checkRoster(ctx, sessionID, hostID, KindRandomTeams, "Failed to randomize teams"); err != nil {
		return types.Session{}, err
	}
	s.setLoading()
	sess, err := s.api.RandomTeams(ctx, sessionID, hostID, teamCount)
	if err != nil {
		return types.Session{}, s.fail(KindRandomTeams, "Failed to randomize teams", err)
	}
	s.replaceSession(sess)
	return sess, nil
}

func (s *SessionStore) CustomTeams(ctx context.Context, sessionID int, assignments map[string][]int) (types.Session, error) {
	hostID, err := s.requireValidHost(ctx)
	if err != nil {
		return types.Session{}, err
	}
	if err := s.checkRoster(ctx, sessionID, hostID, KindCustomTeams, "Failed to assign custom teams"); err != nil {
		return types.Session{}, err
	}
	s.setLoading()
	sess, err := s.api.CustomTeams(ctx, sessionID, hostID, api.CustomTeamsRequest{Assignments: assignments})
	if err != nil {
		return types.Session{}, s.fail(KindCustomTeams, "Failed to assign custom teams", err)
	}
	s.replaceSession(sess)
	return sess, nil
}

func (s *SessionStore) AssignPlayers(ctx context.Context, sessionID, teamID int, playerIDs []int) (types.Session, error) {
	hostID, err := s.requireValidHost(ctx)
	if err != nil {
		return types.Session{}, err
	}
	s.setLoading()
	sess, err := s.api.AssignPlayers(ctx, sessionID, teamID, hostID, api.AssignPlayersRequest{PlayerIDs: playerIDs})
	if err != nil {
		return types.Session{}, s.fail(KindAssignPlayers, "Failed to assign players", err)
	}
	s.replaceSession(sess)
	return sess, nil
}

func (s *SessionStore) EndSession(ctx context.Context, sessionID int) (types.Session, error) {
	hostID, err := s.requireValidHost(ctx)
	if err != nil {
		return types.Session{}, err
	}
	s.setLoading()
	sess, err := s.api.EndSession(ctx, sessionID, hostID)
	if err != nil {
		return types.Session{}, s.fail(KindEndSession, "Failed to end session", err)
	}
	s.replaceSession(sess)
	return sess, nil
}

// UpdatePlayerScore records the delta server-side, then adds the same delta
// to every cached copy of the player. The cache is optimistic: if the server
// applies anything beyond plain addition the next full fetch reconciles.
func (s *SessionStore) UpdatePlayerScore(ctx context.Context, playerID, gameID, points int) error {
	if err := s.api.ScorePlayer(ctx, api.PlayerScoreRequest{PlayerID: playerID, GameID: gameID, Points: points}); err != nil {
		return s.fail(KindScorePlayer, "Failed to update player score", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sessions {
		applyPlayerDelta(&s.sessions[i], playerID, points)
	}
	return nil
}

func (s *SessionStore) UpdateTeamScore(ctx context.Context, teamID, gameID, points int) error {
	if err := s.api.ScoreTeam(ctx, api.TeamScoreRequest{TeamID: teamID, GameID: gameID, Points: points}); err != nil {
		return s.fail(KindScoreTeam, "Failed to update team score", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sessions {
		applyTeamDelta(&s.sessions[i], teamID, points)
	}
	return nil
}

func applyPlayerDelta(sess *types.Session, playerID, points int) {
	for i := range sess.Players {
		if sess.Players[i].ID == playerID {
			sess.Players[i].Score += points
		}
	}
	for ti := range sess.Teams {
		for pi := range sess.Teams[ti].Players {
			if sess.Teams[ti].Players[pi].ID == playerID {
				sess.Teams[ti].Players[pi].Score += points
			}
		}
	}
}

func applyTeamDelta(sess *types.Session, teamID, points int) {
	for i := range sess.Teams {
		if sess.Teams[i].ID == teamID {
			sess.Teams[i].Score += points
		}
	}
}

// checkRoster enforces the minimum roster size for any team-forming call,
// regardless of what the caller already checked. Uses the cached session
// when available, fetching otherwise.
func (s *SessionStore) checkRoster(ctx context.Context, sessionID, hostID int, kind Kind, msg string) error {
	sess, ok := s.cachedSession(sessionID)
	if !ok {
		fetched, err := s.api.GetSession(ctx, sessionID, hostID)
		if err != nil {
			return s.fail(kind, msg, err)
		}
		s.replaceSession(fetched)
		sess = fetched
	}
	if len(sess.Players) < minRosterSize {
		return s.fail(kind, msg, ErrRosterTooSmall)
	}
	return nil
}

func (s *SessionStore) cachedSession(id int) (types.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return s.sessions[i], true
		}
	}
	return types.Session{}, false
}

// replaceSession updates or inserts the session's list entry. The current
// marker is an id into the list, never a second copy, so a same-id response
// shows up in Current() without moving anything and an operation on some
// other session never re-points the view. Only FetchSession and
// CreateSession move the marker.
func (s *SessionStore) replaceSession(sess types.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for i := range s.sessions {
		if s.sessions[i].ID == sess.ID {
			s.sessions[i] = sess
			found = true
			break
		}
	}
	if !found {
		s.sessions = append(s.sessions, sess)
	}
	s.loading = false
	s.lastErr = nil
}

func (s *SessionStore) setCurrent(id int) {
	s.mu.Lock()
	s.currentID = id
	s.mu.Unlock()
}

func (s *SessionStore) setLoading() {
	s.mu.Lock()
	s.loading = true
	s.lastErr = nil
	s.mu.Unlock()
}

func (s *SessionStore) fail(kind Kind, msg string, err error) error {
	e := &Error{Kind: kind, Message: msg, Err: err}
	s.mu.Lock()
	s.lastErr = e
	s.loading = false
	s.mu.Unlock()
	return e
}

// Sessions returns a snapshot of the cached list. Entries are copies down to
// the rosters, so later score deltas never show through.
func (s *SessionStore) Sessions() []types.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Session, len(s.sessions))
	for i := range s.sessions {
		out[i] = cloneSession(s.sessions[i])
	}
	return out
}

// FindByJoinCode resolves a cached session by its join code, ignoring case
// since codes arrive hand-typed.
func (s *SessionStore) FindByJoinCode(code string) (types.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.sessions {
		if strings.EqualFold(s.sessions[i].JoinCode, code) {
			return cloneSession(s.sessions[i]), true
		}
	}
	return types.Session{}, false
}

func (s *SessionStore) Current() (types.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentID == 0 {
		return types.Session{}, false
	}
	for i := range s.sessions {
		if s.sessions[i].ID == s.currentID {
			return cloneSession(s.sessions[i]), true
		}
	}
	return types.Session{}, false
}

func cloneSession(sess types.Session) types.Session {
	if sess.Players != nil {
		sess.Players = append([]types.Player(nil), sess.Players...)
	}
	if sess.Teams != nil {
		teams := make([]types.Team, len(sess.Teams))
		copy(teams, sess.Teams)
		for i := range teams {
			if teams[i].Players != nil {
				teams[i].Players = append([]types.Player(nil), teams[i].Players...)
			}
		}
		sess.Teams = teams
	}
	if sess.Games != nil {
		sess.Games = append([]types.Game(nil), sess.Games...)
	}
	return sess
}

func (s *SessionStore) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Err returns the failure of the most recent operation, nil after success.
func (s *SessionStore) Err() *Error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}
