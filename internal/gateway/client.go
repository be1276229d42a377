package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/moonbotio/moonbot/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	outboundQueue  = 64
)

// Client is one connected WebSocket peer: one reader goroutine, one writer
// goroutine, and a buffered outbound send queue between them, matching the
// teacher's per-connection reader/writer split.
type Client struct {
	id            string
	conn          *websocket.Conn
	server        *Server
	send          chan []byte
	authenticated bool
	principal     string

	maxInFlight int64
	inFlight    atomic.Int64
}

func newClient(conn *websocket.Conn, s *Server) *Client {
	return &Client{
		id:          uuid.NewString(),
		conn:        conn,
		server:      s,
		send:        make(chan []byte, outboundQueue),
		maxInFlight: int64(s.cfg.Gateway.MaxConcurrentPerClient),
	}
}

// ID returns the client's connection id (also its bus subscription key).
func (c *Client) ID() string { return c.id }

// Authenticate marks the connection as holding a valid token for principal.
func (c *Client) Authenticate(principal string) {
	c.authenticated = true
	c.principal = principal
}

// Authenticated reports whether connect() presented a valid token.
func (c *Client) Authenticated() bool { return c.authenticated }

// Principal returns the authenticated principal, or "" if anonymous.
func (c *Client) Principal() string { return c.principal }

// Server returns the Gateway server this client is connected to, for
// handler packages (methods) that need access to wired collaborators
// beyond what Client itself exposes.
func (c *Client) Server() *Server { return c.server }

// Run blocks serving reads until the connection closes or ctx is done.
func (c *Client) Run(ctx context.Context) {
	done := make(chan struct{})
	go c.writeLoop(done)
	c.readLoop(ctx)
	close(done)
}

func (c *Client) readLoop(ctx context.Context) {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var req protocol.Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.SendResponse(protocol.NewErrorResponse(nil, protocol.CodeParseError, "invalid JSON-RPC request", "", nil))
			continue
		}

		limited := !c.authenticated
		if !c.server.rateLimiter.Allow(c.id, limited) {
			c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.CodeServerError, "rate limit exceeded", "RESOURCE_EXHAUSTED", nil))
			continue
		}

		// §4.7: the limit applies to both request frequency (above) and
		// total concurrent outstanding requests per client (here) — a
		// client that floods in-flight requests without waiting for
		// responses can't starve every other client's handlers.
		if c.maxInFlight > 0 && c.inFlight.Load() >= c.maxInFlight {
			c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.CodeServerError, "too many concurrent requests", "RESOURCE_EXHAUSTED", nil))
			continue
		}

		// Dispatch is fair: each request runs on its own goroutine so a slow
		// handler for one client (or one request) never blocks this client's
		// reader, let alone another client's (§4.7).
		c.inFlight.Add(1)
		go func() {
			defer c.inFlight.Add(-1)
			c.server.router.Dispatch(ctx, c, &req)
		}()
	}
}

func (c *Client) writeLoop(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// SendResponse enqueues a JSON-RPC response for delivery. Delivery is
// best-effort: a full outbound queue drops the message and logs rather
// than blocking the caller (§4.7 "failure to deliver... does not affect
// others").
func (c *Client) SendResponse(resp *protocol.Response) {
	c.enqueue(resp)
}

// SendNotification enqueues a server-to-client push with no id.
func (c *Client) SendNotification(note *protocol.Notification) {
	c.enqueue(note)
}

func (c *Client) enqueue(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("gateway: marshal outbound message", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("gateway: client outbound queue full, dropping message", "client", c.id)
	}
}

// Close closes the underlying connection and outbound queue.
func (c *Client) Close() {
	close(c.send)
	c.conn.Close()
}
