package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Ayu0607/pulse-chat/internal/chat"
	"github.com/Ayu0607/pulse-chat/internal/live"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API key middleware (when configured) is the access control;
	// origin checks belong to the deployment's proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsRequest is a client frame: subscribe to a named query or release a
// previous subscription. The client picks the subscription ID and
// correlates result frames by it.
type wsRequest struct {
	Op    string `json:"op"` // "subscribe" | "unsubscribe"
	ID    string `json:"id"`
	Query string `json:"query,omitempty"`

	// Query arguments; which ones apply depends on Query.
	ExternalID     string              `json:"external_id,omitempty"`
	UserID         chat.UserID         `json:"user_id,omitempty"`
	ConversationID chat.ConversationID `json:"conversation_id,omitempty"`
	Q              string              `json:"q,omitempty"`
}

// wsResult is a server frame: one delivery for one subscription.
type wsResult struct {
	ID    string `json:"id"`
	Seq   int64  `json:"seq"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// wsConn coordinates one socket: a buffered outbound channel drained by a
// single write loop, and the set of live subscriptions keyed by the
// client's IDs.
type wsConn struct {
	sock *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	subs   map[string]*live.Subscription
	closed bool
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsConn{
		sock: sock,
		send: make(chan []byte, 128),
		subs: make(map[string]*live.Subscription),
	}

	go c.writeLoop()
	defer c.close()

	for {
		var req wsRequest
		if err := sock.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read failed", "error", err)
			}
			return
		}

		switch req.Op {
		case "subscribe":
			s.subscribe(r, c, req)
		case "unsubscribe":
			c.unsubscribe(req.ID)
		default:
			c.push(wsResult{ID: req.ID, Error: fmt.Sprintf("unknown op %q", req.Op)})
		}
	}
}

// subscribe resolves the query, sends the initial result, and pumps
// subsequent deliveries until the subscription is released.
func (s *Server) subscribe(r *http.Request, c *wsConn, req wsRequest) {
	q, err := s.buildQuery(req)
	if err != nil {
		c.push(wsResult{ID: req.ID, Error: err.Error()})
		return
	}

	// Replacing an ID releases the previous subscription.
	c.unsubscribe(req.ID)

	initial, sub := s.engine.Subscribe(r.Context(), q)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.Cancel()
		return
	}
	c.subs[req.ID] = sub
	c.mu.Unlock()

	c.push(toWSResult(req.ID, initial))

	go func() {
		for res := range sub.Updates() {
			c.push(toWSResult(req.ID, res))
		}
	}()
}

// buildQuery maps a subscribe frame onto a query descriptor.
func (s *Server) buildQuery(req wsRequest) (live.Query, error) {
	st := s.engine.Store()
	switch req.Query {
	case "users.current":
		return live.CurrentUserQuery(st, req.ExternalID), nil
	case "users.get":
		return live.UserQuery(st, req.UserID), nil
	case "users.all":
		return live.AllUsersQuery(st, req.ExternalID), nil
	case "users.search":
		return live.SearchUsersQuery(st, req.Q, req.ExternalID), nil
	case "conversations.list":
		return live.ConversationListQuery(st, req.UserID), nil
	case "conversations.get":
		return live.ConversationQuery(st, req.ConversationID), nil
	case "messages.list":
		return live.MessageListQuery(st, req.ConversationID), nil
	case "typing.active":
		return live.TypingUsersQuery(st, req.ConversationID, req.UserID), nil
	default:
		return live.Query{}, fmt.Errorf("unknown query %q", req.Query)
	}
}

func toWSResult(id string, res live.Result) wsResult {
	out := wsResult{ID: id, Seq: res.Seq, Data: res.Value}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

// unsubscribe releases the subscription registered under id, if any.
func (c *wsConn) unsubscribe(id string) {
	c.mu.Lock()
	sub, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()

	if ok {
		sub.Cancel()
	}
}

// push enqueues a frame for delivery. If the client is slow and the
// buffer is full, the connection is closed to keep backpressure bounded.
func (c *wsConn) push(res wsResult) {
	payload, err := json.Marshal(res)
	if err != nil {
		slog.Error("marshal ws result", "error", err)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- payload:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		slog.Warn("websocket send buffer full, closing connection")
		c.close()
	}
}

// close cancels every subscription and terminates the socket. Safe to
// call more than once.
func (c *wsConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	close(c.send)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	_ = c.sock.Close()
}

// writeLoop drains the outbound channel and keeps the connection alive
// with pings.
func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.sock.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
