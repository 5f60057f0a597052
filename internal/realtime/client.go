package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the connection state of the client. Only the client itself moves
// between states; callers observe them through OnStatus listeners.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateErrored      State = "error"
)

var (
	ErrNotConnected = errors.New("realtime: transport not connected")
	ErrAckTimeout   = errors.New("realtime: timed out waiting for ack")
	ErrAckRejected  = errors.New("realtime: server rejected request")
)

// DialFunc opens the underlying transport. Injectable so tests can count
// attempts or fail on purpose.
type DialFunc func(ctx context.Context) (*websocket.Conn, error)

type Config struct {
	URL            string
	MaxRetries     int           // reconnect attempts before giving up, default 5
	RetryBaseDelay time.Duration // attempt n waits n * RetryBaseDelay, default 1s
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	AckTimeout     time.Duration
	Dial           DialFunc // defaults to websocket.Dial against URL
}

func (cfg Config) withDefaults() Config {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = 5 * time.Second
	}
	if cfg.Dial == nil {
		url := cfg.URL
		cfg.Dial = func(ctx context.Context) (*websocket.Conn, error) {
			conn, _, err := websocket.Dial(ctx, url, nil)
			return conn, err
		}
	}
	return cfg
}

type statusSub struct {
	token int
	fn    func(State)
}

// Client owns one persistent connection to the realtime server and hides
// reconnection and room bookkeeping from callers. Construct one per process
// and pass it by reference; it is safe for concurrent use.
type Client struct {
	cfg    Config
	logger *zap.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	state      State
	gen        int // connection generation; read pumps of older conns are ignored
	closing    bool
	retrying   bool
	nextToken  int
	statusSubs []statusSub

	writeMu sync.Mutex

	globalMu sync.RWMutex
	globals  map[string]map[int]rawHandler

	ackMu   sync.Mutex
	pending map[string]chan ackResult

	rooms *roomRegistry
	seen  *opSet
}

func New(cfg Config, logger *zap.Logger) *Client {
	return &Client{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		state:   StateDisconnected,
		globals: make(map[string]map[int]rawHandler),
		pending: make(map[string]chan ackResult),
		rooms:   newRoomRegistry(),
		seen:    newOpSet(512),
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TrackedRooms snapshots the rooms currently holding listeners.
func (c *Client) TrackedRooms() []RoomKey { return c.rooms.tracked() }

// Connect opens the transport. Idempotent while already connected or mid
// handshake. A failed dial surfaces as a status transition to StateErrored
// and kicks off the bounded reconnect loop.
func (c *Client) Connect() error {
	c.mu.Lock()
	c.closing = false
	c.mu.Unlock()
	return c.dial(true)
}

// claimConnecting atomically moves to StateConnecting unless the transport
// is already open, another dial holds the claim, or the client is closing.
// Only the claimant may install a connection, so two overlapping dials can
// never both produce a live transport.
func (c *Client) claimConnecting() bool {
	c.mu.Lock()
	if c.closing || c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return false
	}
	c.state = StateConnecting
	subs := make([]statusSub, len(c.statusSubs))
	copy(subs, c.statusSubs)
	c.mu.Unlock()

	for _, sub := range subs {
		c.invokeStatus(sub.fn, StateConnecting)
	}
	return true
}

// dial runs one connection attempt under the connecting claim. kickReconnect
// distinguishes a caller-initiated dial, which starts the retry loop on
// failure, from a retry-loop dial, which manages its own attempts.
func (c *Client) dial(kickReconnect bool) error {
	if !c.claimConnecting() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	defer cancel()
	conn, err := c.cfg.Dial(ctx)
	if err != nil {
		c.setState(StateErrored)
		if kickReconnect {
			c.logger.Warn("realtime dial failed", zap.Error(err))
			c.scheduleReconnect()
		}
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.setState(StateConnected)
	go c.readPump(conn, gen)
	c.announceRooms()
	return nil
}

// Disconnect closes the transport and is terminal: no reconnection happens
// until Connect is called again. Calling it while already disconnected is a
// no-op with no duplicate notification.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.state == StateDisconnected && c.conn == nil {
		c.mu.Unlock()
		return
	}
	c.closing = true
	conn := c.conn
	c.conn = nil
	c.gen++
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	c.setState(StateDisconnected)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	subs := make([]statusSub, len(c.statusSubs))
	copy(subs, c.statusSubs)
	c.mu.Unlock()

	for _, sub := range subs {
		c.invokeStatus(sub.fn, s)
	}
}

func (c *Client) invokeStatus(fn func(State), s State) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("status listener panicked", zap.Any("panic", r))
		}
	}()
	fn(s)
}

// OnStatus registers a connection-status listener. Listeners are notified
// synchronously, in registration order, on every state transition and
// persist across reconnects.
func (c *Client) OnStatus(fn func(State)) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextToken++
	c.statusSubs = append(c.statusSubs, statusSub{token: c.nextToken, fn: fn})
	return c.nextToken
}

func (c *Client) OffStatus(token int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, sub := range c.statusSubs {
		if sub.token == token {
			c.statusSubs = append(c.statusSubs[:i], c.statusSubs[i+1:]...)
			return
		}
	}
}

// scheduleReconnect starts the bounded retry loop unless one is already
// running or the client was explicitly disconnected.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.closing || c.retrying || c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return
	}
	c.retrying = true
	c.mu.Unlock()
	go c.retryLoop()
}

func (c *Client) retryLoop() {
	defer func() {
		c.mu.Lock()
		c.retrying = false
		c.mu.Unlock()
	}()

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		time.Sleep(time.Duration(attempt) * c.cfg.RetryBaseDelay)

		// A nil error means either this attempt connected or another dial
		// holds the claim; in both cases the loop is done.
		if err := c.dial(false); err == nil {
			return
		}
		c.logger.Warn("reconnect attempt failed", zap.Int("attempt", attempt), zap.Int("max", c.cfg.MaxRetries))
	}
	// Out of attempts. Best effort only: stay in the terminal state silently.
	c.logger.Warn("reconnect attempts exhausted", zap.Int("max", c.cfg.MaxRetries))
}

// announceRooms replays room membership to the server, used on every
// (re)connect so tracked rooms survive a dropped transport.
func (c *Client) announceRooms() {
	for _, key := range c.rooms.tracked() {
		switch key.Kind {
		case RoomGame:
			c.send(Envelope{Event: evtJoinGame, Data: mustJSON(roomAnnounce{ID: key.ID})})
		case RoomSession:
			c.send(Envelope{Event: evtJoinSession, Data: mustJSON(roomAnnounce{ID: key.ID})})
		case RoomTeam:
			// Team membership is ack-gated via JoinTeam; the server restores
			// it from its own roster, so nothing to replay.
		}
	}
}

func (c *Client) readPump(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			c.handleReadError(gen, err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) handleReadError(gen int, err error) {
	c.mu.Lock()
	if gen != c.gen || c.closing {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	if websocket.CloseStatus(err) != -1 {
		c.setState(StateDisconnected)
	} else {
		c.logger.Warn("realtime read failed", zap.Error(err))
		c.setState(StateErrored)
	}
	c.scheduleReconnect()
}

// send marshals and writes one envelope. The returned bool only says the
// transport was open at time of send, never that the message was delivered.
func (c *Client) send(env Envelope) bool {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateConnected
	c.mu.Unlock()
	if conn == nil || !open {
		c.logger.Debug("dropping send on closed transport", zap.String("event", env.Event))
		return false
	}

	payload, err := json.Marshal(env)
	if err != nil {
		c.logger.Error("marshal envelope", zap.String("event", env.Event), zap.Error(err))
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
	defer cancel()
	c.writeMu.Lock()
	err = conn.Write(ctx, websocket.MessageText, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Warn("realtime write failed", zap.String("event", env.Event), zap.Error(err))
		return false
	}
	return true
}

func (c *Client) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn("bad realtime frame", zap.Error(err))
		return
	}

	if env.Event == evtAck {
		c.resolveAck(env)
		return
	}

	// Redelivered score events carry the same operation id; apply once.
	if env.OpID != "" && !c.seen.add(env.OpID) {
		c.logger.Debug("dropping duplicate event", zap.String("event", env.Event), zap.String("opId", env.OpID))
		return
	}

	if isGlobalEvent(env.Event) {
		c.globalMu.RLock()
		handlers := make([]rawHandler, 0, len(c.globals[env.Event]))
		for _, h := range c.globals[env.Event] {
			handlers = append(handlers, h)
		}
		c.globalMu.RUnlock()
		for _, h := range handlers {
			c.invoke(env.Event, h, env.Data)
		}
		return
	}

	if key, kind, ok := parseRoomEvent(env.Event); ok {
		for _, h := range c.rooms.handlersFor(key, kind) {
			c.invoke(env.Event, h, env.Data)
		}
		return
	}

	c.logger.Debug("unhandled realtime event", zap.String("event", env.Event))
}

// invoke runs one handler with panic isolation so a misbehaving listener
// cannot break fan-out to the others.
func (c *Client) invoke(event string, h rawHandler, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panicked", zap.String("event", event), zap.Any("panic", r))
		}
	}()
	h(data)
}

func (c *Client) resolveAck(env Envelope) {
	c.ackMu.Lock()
	ch, ok := c.pending[env.AckID]
	delete(c.pending, env.AckID)
	c.ackMu.Unlock()
	if !ok {
		c.logger.Debug("ack with no pending request", zap.String("ackId", env.AckID))
		return
	}
	var res ackResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		res = ackResult{OK: false, Error: "malformed ack"}
	}
	ch <- res
}

// ensureConnected lazily connects before a subscribe or emit; a failed dial
// is not an error here because the reconnect loop takes over.
func (c *Client) ensureConnected() {
	c.mu.Lock()
	needs := c.state != StateConnected && c.state != StateConnecting
	c.mu.Unlock()
	if needs {
		_ = c.Connect()
	}
}

// SubscribeToGame registers one listener bundle for the game's room and
// lazily connects. The first bundle for a room announces membership to the
// server. The returned token detaches just this bundle via
// UnsubscribeGameListener.
func (c *Client) SubscribeToGame(gameID int, h GameHandlers) int {
	c.ensureConnected()
	key := RoomKey{Kind: RoomGame, ID: gameID}
	token, created := c.rooms.add(key, map[EventKind]rawHandler{
		EventScore:       adapt(c.logger, h.OnScore),
		EventState:       adapt(c.logger, h.OnState),
		EventTeamScore:   adapt(c.logger, h.OnTeamScore),
		EventPlayerScore: adapt(c.logger, h.OnPlayerScore),
	})
	if created {
		c.send(Envelope{Event: evtJoinGame, Data: mustJSON(roomAnnounce{ID: gameID})})
	}
	return token
}

// UnsubscribeFromGame announces departure and removes every listener for the
// room. Safe no-op when no subscription exists.
func (c *Client) UnsubscribeFromGame(gameID int) {
	c.leaveRoom(RoomKey{Kind: RoomGame, ID: gameID}, evtLeaveGame)
}

// UnsubscribeGameListener detaches a single bundle; the room is left only
// when the last bundle goes.
func (c *Client) UnsubscribeGameListener(gameID int, token int) {
	key := RoomKey{Kind: RoomGame, ID: gameID}
	if c.rooms.removeToken(key, token) {
		c.send(Envelope{Event: evtLeaveGame, Data: mustJSON(roomAnnounce{ID: gameID})})
	}
}

func (c *Client) SubscribeToSession(sessionID int, h SessionHandlers) int {
	c.ensureConnected()
	key := RoomKey{Kind: RoomSession, ID: sessionID}
	token, created := c.rooms.add(key, map[EventKind]rawHandler{
		EventUpdate:  adapt(c.logger, h.OnUpdate),
		EventPlayers: adapt(c.logger, h.OnPlayers),
		EventTeams:   adapt(c.logger, h.OnTeams),
		EventScore:   adapt(c.logger, h.OnScore),
	})
	if created {
		c.send(Envelope{Event: evtJoinSession, Data: mustJSON(roomAnnounce{ID: sessionID})})
	}
	return token
}

func (c *Client) UnsubscribeFromSession(sessionID int) {
	c.leaveRoom(RoomKey{Kind: RoomSession, ID: sessionID}, evtLeaveSession)
}

// SubscribeToTeam registers local listeners only; team-room membership on
// the server side is ack-gated through JoinTeam.
func (c *Client) SubscribeToTeam(teamID int, h TeamHandlers) int {
	c.ensureConnected()
	token, _ := c.rooms.add(RoomKey{Kind: RoomTeam, ID: teamID}, teamHandlerMap(c.logger, h))
	return token
}

func (c *Client) UnsubscribeFromTeam(teamID int) {
	c.rooms.removeRoom(RoomKey{Kind: RoomTeam, ID: teamID})
}

func (c *Client) leaveRoom(key RoomKey, leaveEvent string) {
	if !c.rooms.has(key) {
		return
	}
	c.send(Envelope{Event: leaveEvent, Data: mustJSON(roomAnnounce{ID: key.ID})})
	c.rooms.removeRoom(key)
}

// JoinTeam announces intent to participate in a team room and waits for the
// server's acknowledgement. Only a successful ack starts tracking the room.
func (c *Client) JoinTeam(ctx context.Context, teamID, playerID int, h TeamHandlers) error {
	c.ensureConnected()

	ackID := uuid.NewString()
	ch := make(chan ackResult, 1)
	c.ackMu.Lock()
	c.pending[ackID] = ch
	c.ackMu.Unlock()
	defer func() {
		c.ackMu.Lock()
		delete(c.pending, ackID)
		c.ackMu.Unlock()
	}()

	sent := c.send(Envelope{
		Event: evtJoinTeam,
		AckID: ackID,
		Data:  mustJSON(joinTeamRequest{TeamID: teamID, PlayerID: playerID}),
	})
	if !sent {
		return ErrNotConnected
	}

	select {
	case res := <-ch:
		if !res.OK {
			return fmt.Errorf("%w: %s", ErrAckRejected, res.Error)
		}
		c.rooms.add(RoomKey{Kind: RoomTeam, ID: teamID}, teamHandlerMap(c.logger, h))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.AckTimeout):
		return ErrAckTimeout
	}
}

// LeaveTeam is fire-and-forget: notify the server, tear down local
// listeners. Safe no-op without an active membership.
func (c *Client) LeaveTeam(teamID int) {
	key := RoomKey{Kind: RoomTeam, ID: teamID}
	if !c.rooms.has(key) {
		return
	}
	c.send(Envelope{Event: evtLeaveTeam, Data: mustJSON(roomAnnounce{ID: teamID})})
	c.rooms.removeRoom(key)
}

// SendTeamMessage emits a chat message to the team room. The wire frame
// carries an ackId for the server's sake, but the call does not wait for the
// ack: the bool reports whether the transport was open, not delivery.
func (c *Client) SendTeamMessage(teamID int, message string) bool {
	return c.send(Envelope{
		Event: evtTeamMessage,
		AckID: uuid.NewString(),
		Data:  mustJSON(teamMessageRequest{TeamID: teamID, Message: message}),
	})
}

// UpdatePlayerScore emits a score delta tagged with a fresh operation id so
// the server-side echo is applied at most once.
func (c *Client) UpdatePlayerScore(gameID, playerID, points int) bool {
	return c.send(Envelope{
		Event: evtPlayerScore,
		OpID:  uuid.NewString(),
		Data:  mustJSON(ScoreEvent{GameID: gameID, PlayerID: playerID, Points: points}),
	})
}

func (c *Client) UpdateTeamScore(gameID, teamID, points int) bool {
	return c.send(Envelope{
		Event: evtTeamScore,
		OpID:  uuid.NewString(),
		Data:  mustJSON(ScoreEvent{GameID: gameID, TeamID: teamID, Points: points}),
	})
}

// On registers a listener for one of the global event names. Global
// listeners are independent of room subscriptions and survive reconnects.
func (c *Client) On(event string, fn func(json.RawMessage)) int {
	c.mu.Lock()
	c.nextToken++
	token := c.nextToken
	c.mu.Unlock()

	c.globalMu.Lock()
	if c.globals[event] == nil {
		c.globals[event] = make(map[int]rawHandler)
	}
	c.globals[event][token] = fn
	c.globalMu.Unlock()
	return token
}

func (c *Client) Off(event string, token int) {
	c.globalMu.Lock()
	defer c.globalMu.Unlock()
	delete(c.globals[event], token)
	if len(c.globals[event]) == 0 {
		delete(c.globals, event)
	}
}

func teamHandlerMap(logger *zap.Logger, h TeamHandlers) map[EventKind]rawHandler {
	return map[EventKind]rawHandler{
		EventMessage: adapt(logger, h.OnMessage),
		EventPlayer:  adapt(logger, h.OnPlayer),
	}
}

// adapt wraps a typed callback into a rawHandler, dropping payloads that do
// not decode.
func adapt[T any](logger *zap.Logger, fn func(T)) rawHandler {
	if fn == nil {
		return nil
	}
	return func(data json.RawMessage) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			logger.Warn("bad event payload", zap.Error(err))
			return
		}
		fn(v)
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// opSet is a bounded seen-set of operation ids, oldest evicted first.
type opSet struct {
	mu    sync.Mutex
	cap   int
	order []string
	ids   map[string]struct{}
}

func newOpSet(capacity int) *opSet {
	return &opSet{cap: capacity, ids: make(map[string]struct{}, capacity)}
}

// add returns false when the id was already seen.
func (s *opSet) add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	if len(s.order) == s.cap {
		delete(s.ids, s.order[0])
		s.order = s.order[1:]
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}
