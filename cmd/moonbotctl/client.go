package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/moonbotio/moonbot/internal/config"
	"github.com/moonbotio/moonbot/pkg/protocol"
)

// rpcClient is a thin synchronous wrapper over one WebSocket connection to
// the Gateway, matching requests to responses by id and discarding any
// server-pushed Notification frames it receives while waiting (§4.7).
// Grounded on the teacher's wsConnect/wsChatSend pattern, adapted to our
// own pkg/protocol Request/Response/Notification envelopes rather than
// the teacher's RequestFrame/ResponseFrame/EventFrame shapes.
type rpcClient struct {
	conn *websocket.Conn
}

func gatewayAddr(cfg *config.Config) string {
	host := cfg.Gateway.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(cfg.Gateway.Port))
}

// dialGateway opens the WebSocket connection and performs the connect
// handshake. A connection failure is reported via errUnreachable so
// callers surface the CLI's "gateway unreachable" exit code.
func dialGateway(cfg *config.Config) (*rpcClient, error) {
	addr := gatewayAddr(cfg)
	url := fmt.Sprintf("ws://%s/ws", addr)

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, errUnreachable("cannot reach gateway at %s: %v", addr, err)
	}
	c := &rpcClient{conn: conn}

	if _, err := c.call(protocol.MethodConnect, map[string]string{
		"type":    "cli",
		"version": Version,
		"token":   cfg.Gateway.Token,
	}, 5*time.Second); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *rpcClient) Close() error { return c.conn.Close() }

// call sends method/params and blocks for the matching response, skipping
// over any Notification frames (events not addressed to this request).
func (c *rpcClient) call(method string, params any, timeout time.Duration) (*protocol.Response, error) {
	id := uuid.NewString()
	idJSON, _ := json.Marshal(id)
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, errUsage("encode params for %s: %v", method, err)
	}

	req := protocol.Request{
		JSONRPC: protocol.Version,
		ID:      idJSON,
		Method:  method,
		Params:  paramsJSON,
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	if err := c.conn.WriteJSON(req); err != nil {
		return nil, errUnreachable("send %s: %v", method, err)
	}

	deadline := time.Now().Add(timeout)
	for {
		_ = c.conn.SetReadDeadline(deadline)
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return nil, errUnreachable("read response to %s: %v", method, err)
		}

		var probe struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			continue
		}
		if probe.Method != "" || len(probe.ID) == 0 {
			continue // a Notification, not our response
		}

		var resp protocol.Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			continue
		}
		if string(resp.ID) != string(idJSON) {
			continue // response to an earlier, already-abandoned call
		}
		return &resp, nil
	}
}

// Call issues an RPC and unmarshals a successful result into out (pass a
// pointer, or nil to discard it). A JSON-RPC error.data.code, when
// present, is surfaced via errFailure so the CLI exits 1 rather than 2.
func (c *rpcClient) Call(method string, params any, timeout time.Duration, out any) error {
	resp, err := c.call(method, params, timeout)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		code := "UNKNOWN"
		if resp.Error.Data != nil && resp.Error.Data.Code != "" {
			code = resp.Error.Data.Code
		}
		return errFailure("%s: %s", code, resp.Error.Message)
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return errFailure("decode result of %s: %v", method, err)
	}
	return json.Unmarshal(raw, out)
}

// httpHealthy performs a plain GET against the Gateway's /health route, a
// cheaper reachability probe than a full WebSocket handshake (used by
// "gateway status").
func httpHealthy(cfg *config.Config) bool {
	addr := gatewayAddr(cfg)
	client := http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/health", addr))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
