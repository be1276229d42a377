package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonbotio/moonbot/internal/bus"
	"github.com/moonbotio/moonbot/internal/config"
	"github.com/moonbotio/moonbot/pkg/protocol"
)

func dialClient(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func sendRequest(t *testing.T, conn *websocket.Conn, id, method string, params any) {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		require.NoError(t, err)
		raw = b
	}
	req := protocol.Request{JSONRPC: protocol.Version, ID: json.RawMessage(`"` + id + `"`), Method: method, Params: raw}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readResponse(t *testing.T, conn *websocket.Conn) protocol.Response {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var resp protocol.Response
	require.NoError(t, json.Unmarshal(data, &resp))
	return resp
}

func TestGateway_HealthEndpoint(t *testing.T) {
	cfg := config.Default()
	s := NewServer(cfg, bus.New(16), nil)
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}

func TestGateway_UnknownMethod_ReturnsMethodNotFound(t *testing.T) {
	cfg := config.Default()
	s := NewServer(cfg, bus.New(16), nil)
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	conn := dialClient(t, ts)
	defer conn.Close()

	sendRequest(t, conn, "1", "nope.method", nil)
	resp := readResponse(t, conn)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeMethodNotFound, resp.Error.Code)
}

func TestGateway_RegisteredMethod_NoTokenConfiguredAllowsUnauthenticated(t *testing.T) {
	cfg := config.Default()
	cfg.Gateway.Token = ""
	s := NewServer(cfg, bus.New(16), nil)
	s.Router().Register("echo.test", func(_ context.Context, c *Client, req *protocol.Request) {
		c.SendResponse(protocol.NewResponse(req.ID, "pong"))
	})
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	conn := dialClient(t, ts)
	defer conn.Close()

	sendRequest(t, conn, "1", "echo.test", nil)
	resp := readResponse(t, conn)
	require.Nil(t, resp.Error)
	assert.Equal(t, "pong", resp.Result)
}

func TestGateway_RegisteredMethod_TokenConfiguredRejectsBeforeConnect(t *testing.T) {
	cfg := config.Default()
	cfg.Gateway.Token = "secret"
	s := NewServer(cfg, bus.New(16), nil)
	s.Router().Register("protected.method", func(_ context.Context, c *Client, req *protocol.Request) {
		c.SendResponse(protocol.NewResponse(req.ID, "should not be reached"))
	})
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	conn := dialClient(t, ts)
	defer conn.Close()

	sendRequest(t, conn, "1", "protected.method", nil)
	resp := readResponse(t, conn)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "AUTH_FAILED", resp.Error.Data.Code)
}

func TestGateway_ConnectThenProtectedMethodSucceeds(t *testing.T) {
	cfg := config.Default()
	cfg.Gateway.Token = "secret"
	s := NewServer(cfg, bus.New(16), nil)
	s.Router().Register(protocol.MethodConnect, func(_ context.Context, c *Client, req *protocol.Request) {
		var p struct {
			Token string `json:"token"`
		}
		_ = json.Unmarshal(req.Params, &p)
		if p.Token == cfg.Gateway.Token {
			c.Authenticate("cli")
		}
		c.SendResponse(protocol.NewResponse(req.ID, "ok"))
	})
	s.Router().Register("protected.method", func(_ context.Context, c *Client, req *protocol.Request) {
		c.SendResponse(protocol.NewResponse(req.ID, "granted"))
	})
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	conn := dialClient(t, ts)
	defer conn.Close()

	sendRequest(t, conn, "1", protocol.MethodConnect, map[string]string{"token": "secret"})
	connectResp := readResponse(t, conn)
	require.Nil(t, connectResp.Error)

	sendRequest(t, conn, "2", "protected.method", nil)
	resp := readResponse(t, conn)
	require.Nil(t, resp.Error)
	assert.Equal(t, "granted", resp.Result)
}

func TestGateway_CheckOrigin_EmptyAllowlistAllowsAny(t *testing.T) {
	cfg := config.Default()
	cfg.Gateway.AllowedOrigins = nil
	s := NewServer(cfg, bus.New(16), nil)
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	conn := dialClient(t, ts)
	defer conn.Close()
}

func TestGateway_CheckOrigin_RejectsDisallowedOrigin(t *testing.T) {
	cfg := config.Default()
	cfg.Gateway.AllowedOrigins = []string{"https://allowed.example"}
	s := NewServer(cfg, bus.New(16), nil)
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := map[string][]string{"Origin": {"https://evil.example"}}
	_, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	assert.Error(t, err)
}
