package store_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Tosinfamzy/games-night-sub000/internal/api"
	"github.com/Tosinfamzy/games-night-sub000/internal/store"
	"github.com/Tosinfamzy/games-night-sub000/internal/testutil"
	"github.com/Tosinfamzy/games-night-sub000/internal/types"
)

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

// newSessionFixture builds a SessionStore against a fake Remote API. When
// hostID is non-zero a persisted identity is restored, as after a reload.
func newSessionFixture(t *testing.T, hostID int, routes func(r chi.Router)) (*store.SessionStore, *store.HostKeeper, *testutil.RequestLog) {
	t.Helper()

	log := &testutil.RequestLog{}
	r := chi.NewRouter()
	r.Use(log.Middleware)
	if routes != nil {
		routes(r)
	}
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	path := filepath.Join(t.TempDir(), "host.json")
	if hostID != 0 {
		require.NoError(t, os.WriteFile(path, []byte(`{"hostId":42}`), 0o600))
	}
	keeper := store.NewHostKeeper(path, zap.NewNop())
	apiClient := api.New(srv.URL, 2*time.Second, zap.NewNop())
	return store.NewSessionStore(apiClient, keeper, zap.NewNop()), keeper, log
}

func rosterSession(playerCount int) types.Session {
	sess := types.Session{
		ID:       1,
		Name:     "board night",
		Active:   true,
		JoinCode: "ZED123",
		Teams: []types.Team{
			{ID: 2, Name: "reds", Players: []types.Player{{ID: 7, Name: "ana", Score: 10}}, Score: 1},
		},
	}
	for i := 0; i < playerCount; i++ {
		p := types.Player{ID: 7 + i, Score: 0}
		if i == 0 {
			p.Score = 10
		}
		sess.Players = append(sess.Players, p)
	}
	return sess
}

func hostRoutes(t *testing.T, sess types.Session) func(r chi.Router) {
	return func(r chi.Router) {
		r.Get("/players/42", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(t, w, types.Player{ID: 42, Name: "host"})
		})
		r.Get("/sessions", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(t, w, []types.Session{sess})
		})
	}
}

func TestSessionOperationsFailFastWithoutHost(t *testing.T) {
	s, _, log := newSessionFixture(t, 0, nil)
	ctx := context.Background()

	_, err := s.FetchSessions(ctx)
	require.ErrorIs(t, err, store.ErrNoHost)
	_, err = s.CreateSession(ctx, "friday")
	require.ErrorIs(t, err, store.ErrNoHost)
	_, err = s.CreateTeam(ctx, 1, "reds")
	require.ErrorIs(t, err, store.ErrNoHost)
	_, err = s.EndSession(ctx, 1)
	require.ErrorIs(t, err, store.ErrNoHost)

	assert.Zero(t, log.Count(), "no network traffic without a host identity")
}

func TestFetchSessionsPassesHostID(t *testing.T) {
	s, keeper, log := newSessionFixture(t, 42, hostRoutes(t, rosterSession(3)))

	sessions, err := s.FetchSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "board night", sessions[0].Name)
	assert.Equal(t, "ZED123", sessions[0].JoinCode)

	assert.True(t, log.Contains("GET /sessions?hostId=42"), "host id must ride along: %v", log.Entries())
	assert.Equal(t, store.HostValid, keeper.State())
}

func TestHostInvalidationClearsHostAndSessions(t *testing.T) {
	var gone atomic.Bool
	sess := rosterSession(4)
	s, keeper, _ := newSessionFixture(t, 42, func(r chi.Router) {
		r.Get("/players/42", func(w http.ResponseWriter, req *http.Request) {
			if gone.Load() {
				http.Error(w, "no such player", http.StatusNotFound)
				return
			}
			writeJSON(t, w, types.Player{ID: 42})
		})
		r.Get("/sessions", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(t, w, []types.Session{sess})
		})
	})

	_, err := s.FetchSessions(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, s.Sessions())

	gone.Store(true)
	_, err = s.CreateSession(context.Background(), "saturday")
	require.ErrorIs(t, err, store.ErrHostInvalid)

	assert.Equal(t, store.HostAbsent, keeper.State())
	assert.Empty(t, s.Sessions())
	_, ok := s.Current()
	assert.False(t, ok)

	storeErr := s.Err()
	require.NotNil(t, storeErr)
	assert.Equal(t, store.KindHostInvalid, storeErr.Kind)
	assert.Equal(t, "Host is no longer valid", storeErr.Message)
}

func TestUpdatePlayerScoreAccumulatesInAllCopies(t *testing.T) {
	sess := rosterSession(4)
	s, _, _ := newSessionFixture(t, 42, func(r chi.Router) {
		hostRoutes(t, sess)(r)
		r.Post("/scoring/player", func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
		r.Get("/sessions/1", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(t, w, sess)
		})
	})

	ctx := context.Background()
	_, err := s.FetchSessions(ctx)
	require.NoError(t, err)
	_, err = s.FetchSession(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, s.UpdatePlayerScore(ctx, 7, 3, 5))

	sessions := s.Sessions()
	assert.Equal(t, 15, sessions[0].Players[0].Score)
	assert.Equal(t, 15, sessions[0].Teams[0].Players[0].Score, "team roster copy updated too")
	current, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, 15, current.Players[0].Score)

	// Deltas accumulate, they never overwrite.
	require.NoError(t, s.UpdatePlayerScore(ctx, 7, 3, 2))
	current, _ = s.Current()
	assert.Equal(t, 17, current.Players[0].Score)
}

func TestUpdateTeamScoreAccumulates(t *testing.T) {
	sess := rosterSession(4)
	s, _, _ := newSessionFixture(t, 42, func(r chi.Router) {
		hostRoutes(t, sess)(r)
		r.Post("/scoring/team", func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})

	ctx := context.Background()
	_, err := s.FetchSessions(ctx)
	require.NoError(t, err)

	require.NoError(t, s.UpdateTeamScore(ctx, 2, 3, 4))
	assert.Equal(t, 5, s.Sessions()[0].Teams[0].Score)
}

func TestCreateTeamEnforcesMinimumRoster(t *testing.T) {
	s, _, log := newSessionFixture(t, 42, hostRoutes(t, rosterSession(3)))

	ctx := context.Background()
	_, err := s.FetchSessions(ctx)
	require.NoError(t, err)

	_, err = s.CreateTeam(ctx, 1, "reds")
	require.ErrorIs(t, err, store.ErrRosterTooSmall)

	var storeErr *store.Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "Failed to create team", storeErr.Message)
	assert.False(t, log.Contains("POST /sessions/1/teams?hostId=42"), "rejected before any REST call")
}

func TestRandomizeTeamsWithEnoughPlayers(t *testing.T) {
	sess := rosterSession(4)
	after := sess
	after.Teams = append(after.Teams, types.Team{ID: 3, Name: "team 2"})
	s, _, _ := newSessionFixture(t, 42, func(r chi.Router) {
		hostRoutes(t, sess)(r)
		r.Get("/sessions/1", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(t, w, sess)
		})
		r.Post("/sessions/1/teams/random", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(t, w, after)
		})
	})

	ctx := context.Background()
	_, err := s.FetchSession(ctx, 1)
	require.NoError(t, err)

	got, err := s.RandomizeTeams(ctx, 1, 2)
	require.NoError(t, err)
	assert.Len(t, got.Teams, 2)

	current, ok := s.Current()
	require.True(t, ok)
	assert.Len(t, current.Teams, 2, "current session reads the refreshed list entry")
}

func TestOperationOnOtherSessionKeepsCurrent(t *testing.T) {
	sess := rosterSession(4)
	s, _, _ := newSessionFixture(t, 42, func(r chi.Router) {
		hostRoutes(t, sess)(r)
		r.Get("/sessions/1", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(t, w, sess)
		})
		r.Post("/sessions/2/end", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(t, w, types.Session{ID: 2, Name: "poker night", Active: false})
		})
	})

	ctx := context.Background()
	_, err := s.FetchSession(ctx, 1)
	require.NoError(t, err)

	_, err = s.EndSession(ctx, 2)
	require.NoError(t, err)

	current, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, 1, current.ID, "ending another session must not re-point the view")

	// The other session's entry is still cached and refreshed.
	var ended *types.Session
	for _, cached := range s.Sessions() {
		if cached.ID == 2 {
			c := cached
			ended = &c
		}
	}
	require.NotNil(t, ended)
	assert.False(t, ended.Active)
}

func TestAddPlayerCompensatesOnJoinFailure(t *testing.T) {
	var deleted atomic.Bool
	s, _, log := newSessionFixture(t, 42, func(r chi.Router) {
		hostRoutes(t, rosterSession(4))(r)
		r.Post("/players", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(t, w, types.Player{ID: 99, Name: "late guest"})
		})
		r.Post("/sessions/1/players", func(w http.ResponseWriter, req *http.Request) {
			http.Error(w, "session is full", http.StatusConflict)
		})
		r.Delete("/players/99", func(w http.ResponseWriter, req *http.Request) {
			deleted.Store(true)
			w.WriteHeader(http.StatusNoContent)
		})
	})

	_, err := s.AddPlayer(context.Background(), 1, "late guest")
	require.Error(t, err)

	var storeErr *store.Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "Failed to add player", storeErr.Message)
	assert.True(t, deleted.Load(), "created player must be deleted when the join fails")
	assert.True(t, log.Contains("DELETE /players/99"))
}

func TestFindByJoinCodeIgnoresCase(t *testing.T) {
	s, _, _ := newSessionFixture(t, 42, hostRoutes(t, rosterSession(4)))

	_, err := s.FetchSessions(context.Background())
	require.NoError(t, err)

	sess, ok := s.FindByJoinCode("zed123")
	require.True(t, ok)
	assert.Equal(t, 1, sess.ID)

	_, ok = s.FindByJoinCode("NOPE99")
	assert.False(t, ok)
}

func TestScoreFailureSurfacesStoreError(t *testing.T) {
	s, _, _ := newSessionFixture(t, 42, func(r chi.Router) {
		r.Post("/scoring/player", func(w http.ResponseWriter, req *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		})
	})

	err := s.UpdatePlayerScore(context.Background(), 7, 3, 5)
	require.Error(t, err)

	storeErr := s.Err()
	require.NotNil(t, storeErr)
	assert.Equal(t, store.KindScorePlayer, storeErr.Kind)
	assert.Equal(t, "Failed to update player score", storeErr.Message)
}
