// Package api is a typed client for the remote games-night REST API. The
// server is the source of truth for every entity; this package only moves
// JSON and threads the host id through session-scoped calls.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Tosinfamzy/games-night-sub000/internal/types"
)

// APIError is a non-2xx response, carrying enough of the body to log.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Body)
}

// IsNotFound reports whether err is a 404 from the remote API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("api: build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Debug("api request failed",
			zap.String("method", method), zap.String("path", path), zap.Int("status", resp.StatusCode))
		return &APIError{Status: resp.StatusCode, Body: string(snippet)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s %s: %w", method, path, err)
	}
	return nil
}

func hostQuery(hostID int) url.Values {
	return url.Values{"hostId": []string{strconv.Itoa(hostID)}}
}

// --- games ---

type CreateGameRequest struct {
	Name        string `json:"name"`
	SessionID   int    `json:"sessionId"`
	TotalRounds int    `json:"totalRounds,omitempty"`
}

type GameStateRequest struct {
	Phase types.GamePhase `json:"phase"`
}

func (c *Client) ListGames(ctx context.Context) ([]types.Game, error) {
	var out []types.Game
	err := c.do(ctx, http.MethodGet, "/games", nil, nil, &out)
	return out, err
}

func (c *Client) GetGame(ctx context.Context, id int) (types.Game, error) {
	var out types.Game
	err := c.do(ctx, http.MethodGet, "/games/"+strconv.Itoa(id), nil, nil, &out)
	return out, err
}

func (c *Client) CreateGame(ctx context.Context, req CreateGameRequest) (types.Game, error) {
	var out types.Game
	err := c.do(ctx, http.MethodPost, "/games", nil, req, &out)
	return out, err
}

func (c *Client) SetupGame(ctx context.Context, id int) (types.Game, error) {
	return c.gameAction(ctx, id, "setup", nil)
}

func (c *Client) ReadyPlayer(ctx context.Context, id, playerID int) (types.Game, error) {
	return c.gameAction(ctx, id, "ready", map[string]int{"playerId": playerID})
}

func (c *Client) StartGame(ctx context.Context, id int) (types.Game, error) {
	return c.gameAction(ctx, id, "start", nil)
}

func (c *Client) CompleteGame(ctx context.Context, id int) (types.Game, error) {
	return c.gameAction(ctx, id, "complete", nil)
}

func (c *Client) JoinGame(ctx context.Context, id, playerID int) (types.Game, error) {
	return c.gameAction(ctx, id, "join", map[string]int{"playerId": playerID})
}

func (c *Client) LeaveGame(ctx context.Context, id, playerID int) (types.Game, error) {
	return c.gameAction(ctx, id, "leave", map[string]int{"playerId": playerID})
}

func (c *Client) EndGame(ctx context.Context, id int) (types.Game, error) {
	return c.gameAction(ctx, id, "end", nil)
}

func (c *Client) UpdateGameState(ctx context.Context, id int, req GameStateRequest) (types.Game, error) {
	var out types.Game
	err := c.do(ctx, http.MethodPut, "/games/"+strconv.Itoa(id)+"/state", nil, req, &out)
	return out, err
}

func (c *Client) gameAction(ctx context.Context, id int, action string, body any) (types.Game, error) {
	var out types.Game
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/games/%d/%s", id, action), nil, body, &out)
	return out, err
}

// --- sessions ---

type CreateSessionRequest struct {
	Name   string `json:"name"`
	HostID int    `json:"hostId"`
}

type CreateTeamRequest struct {
	Name string `json:"name"`
}

type CustomTeamsRequest struct {
	// Assignments maps team name to member player ids.
	Assignments map[string][]int `json:"assignments"`
}

type AddPlayerRequest struct {
	PlayerID int `json:"playerId"`
}

type AssignPlayersRequest struct {
	PlayerIDs []int `json:"playerIds"`
}

func (c *Client) ListSessions(ctx context.Context, hostID int) ([]types.Session, error) {
	var out []types.Session
	err := c.do(ctx, http.MethodGet, "/sessions", hostQuery(hostID), nil, &out)
	return out, err
}

func (c *Client) GetSession(ctx context.Context, id, hostID int) (types.Session, error) {
	var out types.Session
	err := c.do(ctx, http.MethodGet, "/sessions/"+strconv.Itoa(id), hostQuery(hostID), nil, &out)
	return out, err
}

func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (types.Session, error) {
	var out types.Session
	err := c.do(ctx, http.MethodPost, "/sessions", nil, req, &out)
	return out, err
}

func (c *Client) EndSession(ctx context.Context, id, hostID int) (types.Session, error) {
	var out types.Session
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/sessions/%d/end", id), hostQuery(hostID), nil, &out)
	return out, err
}

func (c *Client) CreateTeam(ctx context.Context, sessionID, hostID int, req CreateTeamRequest) (types.Session, error) {
	var out types.Session
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/sessions/%d/teams", sessionID), hostQuery(hostID), req, &out)
	return out, err
}

func (c *Client) RandomTeams(ctx context.Context, sessionID, hostID, teamCount int) (types.Session, error) {
	var out types.Session
	body := map[string]int{"teams": teamCount}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/sessions/%d/teams/random", sessionID), hostQuery(hostID), body, &out)
	return out, err
}

func (c *Client) CustomTeams(ctx context.Context, sessionID, hostID int, req CustomTeamsRequest) (types.Session, error) {
	var out types.Session
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/sessions/%d/teams/custom", sessionID), hostQuery(hostID), req, &out)
	return out, err
}

func (c *Client) AddSessionPlayer(ctx context.Context, sessionID, hostID int, req AddPlayerRequest) (types.Session, error) {
	var out types.Session
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/sessions/%d/players", sessionID), hostQuery(hostID), req, &out)
	return out, err
}

func (c *Client) AssignPlayers(ctx context.Context, sessionID, teamID, hostID int, req AssignPlayersRequest) (types.Session, error) {
	var out types.Session
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/sessions/%d/teams/%d", sessionID, teamID), hostQuery(hostID), req, &out)
	return out, err
}

// --- scoring ---

type PlayerScoreRequest struct {
	PlayerID int `json:"playerId"`
	GameID   int `json:"gameId"`
	Points   int `json:"points"`
}

type TeamScoreRequest struct {
	TeamID int `json:"teamId"`
	GameID int `json:"gameId"`
	Points int `json:"points"`
}

func (c *Client) ScorePlayer(ctx context.Context, req PlayerScoreRequest) error {
	return c.do(ctx, http.MethodPost, "/scoring/player", nil, req, nil)
}

func (c *Client) ScoreTeam(ctx context.Context, req TeamScoreRequest) error {
	return c.do(ctx, http.MethodPost, "/scoring/team", nil, req, nil)
}

// --- players ---

type CreateHostRequest struct {
	Name string `json:"name"`
}

type CreatePlayerRequest struct {
	Name string `json:"name"`
}

func (c *Client) CreatePlayer(ctx context.Context, req CreatePlayerRequest) (types.Player, error) {
	var out types.Player
	err := c.do(ctx, http.MethodPost, "/players", nil, req, &out)
	return out, err
}

func (c *Client) GetPlayer(ctx context.Context, id int) (types.Player, error) {
	var out types.Player
	err := c.do(ctx, http.MethodGet, "/players/"+strconv.Itoa(id), nil, nil, &out)
	return out, err
}

func (c *Client) CreateHostPlayer(ctx context.Context, req CreateHostRequest) (types.Player, error) {
	var out types.Player
	err := c.do(ctx, http.MethodPost, "/players/host", nil, req, &out)
	return out, err
}

// DeletePlayer removes a player record; used as the compensating action when
// a multi-step flow fails after creating one.
func (c *Client) DeletePlayer(ctx context.Context, id int) error {
	return c.do(ctx, http.MethodDelete, "/players/"+strconv.Itoa(id), nil, nil, nil)
}
