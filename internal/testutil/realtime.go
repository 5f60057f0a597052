// Package testutil provides fakes for the two remote collaborators: a
// scriptable realtime server and request-recording helpers for the REST API.
package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/Tosinfamzy/games-night-sub000/internal/realtime"
)

// RealtimeServer is a stand-in for the remote realtime server. It records
// every envelope a client sends, acknowledges ack-bearing requests, and can
// push events to the most recently accepted connection.
type RealtimeServer struct {
	URL      string
	Received chan realtime.Envelope

	mu         sync.Mutex
	conn       *websocket.Conn
	writeMu    sync.Mutex
	conns      int
	rejectAcks bool
	dropAcks   bool

	srv *httptest.Server
}

func NewRealtimeServer(t *testing.T) *RealtimeServer {
	t.Helper()
	rs := &RealtimeServer{Received: make(chan realtime.Envelope, 64)}

	r := chi.NewRouter()
	r.Get("/ws", rs.handle)
	rs.srv = httptest.NewServer(r)
	rs.URL = "ws" + strings.TrimPrefix(rs.srv.URL, "http") + "/ws"
	t.Cleanup(rs.srv.Close)
	return rs
}

func (rs *RealtimeServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	rs.mu.Lock()
	rs.conn = conn
	rs.conns++
	rs.mu.Unlock()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		var env realtime.Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		if env.AckID != "" {
			rs.mu.Lock()
			reject, drop := rs.rejectAcks, rs.dropAcks
			rs.mu.Unlock()
			if !drop {
				body := `{"ok":true}`
				if reject {
					body = `{"ok":false,"error":"denied"}`
				}
				rs.write(conn, realtime.Envelope{Event: "ack", AckID: env.AckID, Data: json.RawMessage(body)})
			}
		}
		select {
		case rs.Received <- env:
		default:
		}
	}
}

func (rs *RealtimeServer) write(conn *websocket.Conn, env realtime.Envelope) {
	payload, _ := json.Marshal(env)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rs.writeMu.Lock()
	_ = conn.Write(ctx, websocket.MessageText, payload)
	rs.writeMu.Unlock()
}

// Send pushes an event to the current client connection.
func (rs *RealtimeServer) Send(t *testing.T, env realtime.Envelope) {
	t.Helper()
	rs.mu.Lock()
	conn := rs.conn
	rs.mu.Unlock()
	if conn == nil {
		t.Fatalf("no client connection to send %q on", env.Event)
	}
	rs.write(conn, env)
}

// CloseConn closes the current connection as a peer-initiated close.
func (rs *RealtimeServer) CloseConn() {
	rs.mu.Lock()
	conn := rs.conn
	rs.conn = nil
	rs.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusGoingAway, "server going away")
	}
}

// ConnCount reports how many connections were ever accepted.
func (rs *RealtimeServer) ConnCount() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.conns
}

func (rs *RealtimeServer) RejectAcks(reject bool) {
	rs.mu.Lock()
	rs.rejectAcks = reject
	rs.mu.Unlock()
}

// DropAcks makes the server swallow ack-bearing requests without answering.
func (rs *RealtimeServer) DropAcks(drop bool) {
	rs.mu.Lock()
	rs.dropAcks = drop
	rs.mu.Unlock()
}

// WaitForEvent discards received envelopes until one matches the event name.
func (rs *RealtimeServer) WaitForEvent(t *testing.T, event string, within time.Duration) realtime.Envelope {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case env := <-rs.Received:
			if env.Event == event {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q from client", event)
			return realtime.Envelope{}
		}
	}
}

// ExpectNoEvent fails when the client sends the named event within the window.
func (rs *RealtimeServer) ExpectNoEvent(t *testing.T, event string, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case env := <-rs.Received:
			if env.Event == event {
				t.Fatalf("expected no %q, but client sent one", event)
			}
		case <-deadline:
			return
		}
	}
}
