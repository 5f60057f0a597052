package store

import (
	"context"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Tosinfamzy/games-night-sub000/internal/api"
	"github.com/Tosinfamzy/games-night-sub000/internal/realtime"
	"github.com/Tosinfamzy/games-night-sub000/internal/types"
)

// GameStore caches game entities, drives lifecycle REST calls and, for the
// fetched game, merges live score/state events from its room into the cache.
// The current game is an id into the list, never a second copy, so a patch
// can't land on one and miss the other.
type GameStore struct {
	api    *api.Client
	rt     *realtime.Client
	logger *zap.Logger

	mu        sync.RWMutex
	games     []types.Game
	currentID int // id of the current game in the list, 0 when none
	loading   bool
	lastErr   *Error
	liveGame  int // game id with an open room subscription, 0 when none

	fetchGroup singleflight.Group
}

func NewGameStore(apiClient *api.Client, rt *realtime.Client, logger *zap.Logger) *GameStore {
	return &GameStore{api: apiClient, rt: rt, logger: logger}
}

func (s *GameStore) FetchAll(ctx context.Context) ([]types.Game, error) {
	s.setLoading()
	games, err := s.api.ListGames(ctx)
	if err != nil {
		return nil, s.fail(KindFetchGames, "Failed to fetch games", err)
	}

	s.mu.Lock()
	s.games = games
	s.loading = false
	s.lastErr = nil
	s.mu.Unlock()
	return games, nil
}

// Fetch loads one game and opens its room subscription. Concurrent fetches
// of the same id collapse into a single REST request.
func (s *GameStore) Fetch(ctx context.Context, id int) (types.Game, error) {
	v, err, _ := s.fetchGroup.Do(strconv.Itoa(id), func() (any, error) {
		s.setLoading()
		game, err := s.api.GetGame(ctx, id)
		if err != nil {
			return nil, s.fail(KindFetchGame, "Failed to fetch game", err)
		}
		s.replaceGame(game)
		s.setCurrent(game.ID)
		s.watch(game.ID)
		return game, nil
	})
	if err != nil {
		return types.Game{}, err
	}
	return v.(types.Game), nil
}

// watch switches the live room subscription to the given game, closing the
// previous one first.
func (s *GameStore) watch(id int) {
	s.mu.Lock()
	prev := s.liveGame
	if prev == id {
		s.mu.Unlock()
		return
	}
	s.liveGame = id
	s.mu.Unlock()

	if prev != 0 {
		s.rt.UnsubscribeFromGame(prev)
	}
	s.rt.SubscribeToGame(id, realtime.GameHandlers{
		OnScore:       s.applyScoreEvent,
		OnPlayerScore: s.applyScoreEvent,
		OnState:       s.applyStateEvent,
	})
}

// Cleanup closes the current game's room subscription. Views holding a live
// subscription must call this on unmount or the room listeners leak for the
// lifetime of the store.
func (s *GameStore) Cleanup() {
	s.mu.Lock()
	prev := s.liveGame
	s.liveGame = 0
	s.mu.Unlock()
	if prev != 0 {
		s.rt.UnsubscribeFromGame(prev)
	}
}

// applyScoreEvent patches the scoreboard of the matching cached game. Events
// for games no longer cached are dropped; a late event must not resurrect
// anything.
func (s *GameStore) applyScoreEvent(ev realtime.ScoreEvent) {
	if ev.PlayerID == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.games {
		if s.games[i].ID == ev.GameID {
			addScore(&s.games[i], ev.PlayerID, ev.Points)
		}
	}
}

func addScore(g *types.Game, playerID, points int) {
	if g.Scoreboard == nil {
		g.Scoreboard = make(map[int]int)
	}
	g.Scoreboard[playerID] += points
}

func (s *GameStore) applyStateEvent(ev realtime.StateEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.games {
		if s.games[i].ID == ev.GameID {
			applyPhase(&s.games[i], ev)
		}
	}
}

func applyPhase(g *types.Game, ev realtime.StateEvent) {
	g.Phase = ev.Phase
	if ev.Round > 0 {
		g.Round = ev.Round
	}
	// A cancelled game stays cancelled; only the server decides that.
	if g.Status != types.StatusCancelled {
		g.Status = types.StatusFor(ev.Phase)
	}
}

// Create registers a new game and makes it current, since the caller's next
// step is always viewing it.
func (s *GameStore) Create(ctx context.Context, req api.CreateGameRequest) (types.Game, error) {
	game, err := s.lifecycle(KindCreateGame, "Failed to create game", func() (types.Game, error) {
		return s.api.CreateGame(ctx, req)
	})
	if err == nil {
		s.setCurrent(game.ID)
	}
	return game, err
}

func (s *GameStore) Setup(ctx context.Context, id int) (types.Game, error) {
	return s.lifecycle(KindSetupGame, "Failed to setup game", func() (types.Game, error) {
		return s.api.SetupGame(ctx, id)
	})
}

func (s *GameStore) MarkPlayerReady(ctx context.Context, id, playerID int) (types.Game, error) {
	return s.lifecycle(KindReadyPlayer, "Failed to ready player", func() (types.Game, error) {
		return s.api.ReadyPlayer(ctx, id, playerID)
	})
}

func (s *GameStore) Start(ctx context.Context, id int) (types.Game, error) {
	return s.lifecycle(KindStartGame, "Failed to start game", func() (types.Game, error) {
		return s.api.StartGame(ctx, id)
	})
}

func (s *GameStore) Complete(ctx context.Context, id int) (types.Game, error) {
	return s.lifecycle(KindCompleteGame, "Failed to complete game", func() (types.Game, error) {
		return s.api.CompleteGame(ctx, id)
	})
}

func (s *GameStore) UpdateState(ctx context.Context, id int, phase types.GamePhase) (types.Game, error) {
	return s.lifecycle(KindUpdateGameState, "Failed to update game state", func() (types.Game, error) {
		return s.api.UpdateGameState(ctx, id, api.GameStateRequest{Phase: phase})
	})
}

func (s *GameStore) Join(ctx context.Context, id, playerID int) (types.Game, error) {
	return s.lifecycle(KindJoinGame, "Failed to join game", func() (types.Game, error) {
		return s.api.JoinGame(ctx, id, playerID)
	})
}

func (s *GameStore) Leave(ctx context.Context, id, playerID int) (types.Game, error) {
	return s.lifecycle(KindLeaveGame, "Failed to leave game", func() (types.Game, error) {
		return s.api.LeaveGame(ctx, id, playerID)
	})
}

func (s *GameStore) End(ctx context.Context, id int) (types.Game, error) {
	return s.lifecycle(KindEndGame, "Failed to end game", func() (types.Game, error) {
		return s.api.EndGame(ctx, id)
	})
}

// lifecycle runs one REST transition with the shared loading/error shape
// every operation follows.
func (s *GameStore) lifecycle(kind Kind, msg string, call func() (types.Game, error)) (types.Game, error) {
	s.setLoading()
	game, err := call()
	if err != nil {
		return types.Game{}, s.fail(kind, msg, err)
	}
	s.replaceGame(game)
	return game, nil
}

// replaceGame updates or inserts the game's list entry. The current marker
// reads through the list, so a same-id response shows up in Current()
// immediately, while an operation on some other game never re-points the
// view; only Fetch moves the marker.
func (s *GameStore) replaceGame(game types.Game) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for i := range s.games {
		if s.games[i].ID == game.ID {
			s.games[i] = game
			found = true
			break
		}
	}
	if !found {
		s.games = append(s.games, game)
	}
	s.loading = false
	s.lastErr = nil
}

func (s *GameStore) setCurrent(id int) {
	s.mu.Lock()
	s.currentID = id
	s.mu.Unlock()
}

func (s *GameStore) setLoading() {
	s.mu.Lock()
	s.loading = true
	s.lastErr = nil
	s.mu.Unlock()
}

func (s *GameStore) fail(kind Kind, msg string, err error) error {
	e := &Error{Kind: kind, Message: msg, Err: err}
	s.mu.Lock()
	s.lastErr = e
	s.loading = false
	s.mu.Unlock()
	return e
}

// Games returns a snapshot of the cached list. Entries are copies; live
// events keep mutating the cache after this returns.
func (s *GameStore) Games() []types.Game {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Game, len(s.games))
	for i := range s.games {
		out[i] = cloneGame(s.games[i])
	}
	return out
}

func (s *GameStore) Current() (types.Game, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentID == 0 {
		return types.Game{}, false
	}
	for i := range s.games {
		if s.games[i].ID == s.currentID {
			return cloneGame(s.games[i]), true
		}
	}
	return types.Game{}, false
}

func cloneGame(g types.Game) types.Game {
	if g.Players != nil {
		g.Players = append([]int(nil), g.Players...)
	}
	if g.Scoreboard != nil {
		sb := make(map[int]int, len(g.Scoreboard))
		for k, v := range g.Scoreboard {
			sb[k] = v
		}
		g.Scoreboard = sb
	}
	return g
}

func (s *GameStore) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *GameStore) Err() *Error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}
