package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Tosinfamzy/games-night-sub000/internal/api"
	"github.com/Tosinfamzy/games-night-sub000/internal/testutil"
	"github.com/Tosinfamzy/games-night-sub000/internal/types"
)

func newClient(t *testing.T, routes func(r chi.Router)) (*api.Client, *testutil.RequestLog) {
	t.Helper()
	log := &testutil.RequestLog{}
	r := chi.NewRouter()
	r.Use(log.Middleware)
	if routes != nil {
		routes(r)
	}
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return api.New(srv.URL, 2*time.Second, zap.NewNop()), log
}

func respond(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestSessionCallsCarryHostID(t *testing.T) {
	c, log := newClient(t, func(r chi.Router) {
		r.Get("/sessions", func(w http.ResponseWriter, req *http.Request) {
			respond(t, w, []types.Session{{ID: 1, Name: "friday"}})
		})
		r.Post("/sessions/1/end", func(w http.ResponseWriter, req *http.Request) {
			respond(t, w, types.Session{ID: 1, Active: false})
		})
		r.Post("/sessions/1/teams/random", func(w http.ResponseWriter, req *http.Request) {
			respond(t, w, types.Session{ID: 1})
		})
	})

	ctx := context.Background()
	sessions, err := c.ListSessions(ctx, 42)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	_, err = c.EndSession(ctx, 1, 42)
	require.NoError(t, err)
	_, err = c.RandomTeams(ctx, 1, 42, 2)
	require.NoError(t, err)

	assert.True(t, log.Contains("GET /sessions?hostId=42"))
	assert.True(t, log.Contains("POST /sessions/1/end?hostId=42"))
	assert.True(t, log.Contains("POST /sessions/1/teams/random?hostId=42"))
}

func TestGameActionsPostToActionPaths(t *testing.T) {
	c, log := newClient(t, func(r chi.Router) {
		r.Post("/games/3/{action}", func(w http.ResponseWriter, req *http.Request) {
			respond(t, w, types.Game{ID: 3})
		})
		r.Put("/games/3/state", func(w http.ResponseWriter, req *http.Request) {
			var body api.GameStateRequest
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			respond(t, w, types.Game{ID: 3, Phase: body.Phase})
		})
	})

	ctx := context.Background()
	_, err := c.StartGame(ctx, 3)
	require.NoError(t, err)
	_, err = c.JoinGame(ctx, 3, 7)
	require.NoError(t, err)

	game, err := c.UpdateGameState(ctx, 3, api.GameStateRequest{Phase: types.PhasePaused})
	require.NoError(t, err)
	assert.Equal(t, types.PhasePaused, game.Phase)

	assert.True(t, log.Contains("POST /games/3/start"))
	assert.True(t, log.Contains("POST /games/3/join"))
	assert.True(t, log.Contains("PUT /games/3/state"))
}

func TestScoringSendsDeltaBody(t *testing.T) {
	var got api.PlayerScoreRequest
	c, _ := newClient(t, func(r chi.Router) {
		r.Post("/scoring/player", func(w http.ResponseWriter, req *http.Request) {
			require.NoError(t, json.NewDecoder(req.Body).Decode(&got))
			w.WriteHeader(http.StatusNoContent)
		})
	})

	err := c.ScorePlayer(context.Background(), api.PlayerScoreRequest{PlayerID: 7, GameID: 3, Points: 5})
	require.NoError(t, err)
	assert.Equal(t, api.PlayerScoreRequest{PlayerID: 7, GameID: 3, Points: 5}, got)
}

func TestNonSuccessStatusBecomesAPIError(t *testing.T) {
	c, _ := newClient(t, func(r chi.Router) {
		r.Get("/players/99", func(w http.ResponseWriter, req *http.Request) {
			http.Error(w, "no such player", http.StatusNotFound)
		})
		r.Get("/games", func(w http.ResponseWriter, req *http.Request) {
			http.Error(w, "out to lunch", http.StatusServiceUnavailable)
		})
	})

	ctx := context.Background()
	_, err := c.GetPlayer(ctx, 99)
	require.Error(t, err)
	assert.True(t, api.IsNotFound(err))

	var apiErr *api.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Contains(t, apiErr.Body, "no such player")

	_, err = c.ListGames(ctx)
	require.Error(t, err)
	assert.False(t, api.IsNotFound(err))
}

func TestIsNotFoundSeesThroughWrapping(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), &api.APIError{Status: http.StatusNotFound})
	assert.True(t, api.IsNotFound(wrapped))
	assert.False(t, api.IsNotFound(io.EOF))
	assert.False(t, api.IsNotFound(nil))
}

func TestDeletePlayerToleratesEmptyBody(t *testing.T) {
	c, log := newClient(t, func(r chi.Router) {
		r.Delete("/players/99", func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})

	require.NoError(t, c.DeletePlayer(context.Background(), 99))
	assert.True(t, log.Contains("DELETE /players/99"))
}
