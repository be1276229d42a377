package methods

import (
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonbotio/moonbot/internal/approval"
	"github.com/moonbotio/moonbot/internal/bus"
	"github.com/moonbotio/moonbot/internal/config"
	"github.com/moonbotio/moonbot/internal/gateway"
	"github.com/moonbotio/moonbot/internal/orchestrator"
	"github.com/moonbotio/moonbot/internal/sessions"
	"github.com/moonbotio/moonbot/internal/tools"
	"github.com/moonbotio/moonbot/pkg/protocol"
)

type testStack struct {
	server *gateway.Server
	http   *httptest.Server
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	cfg := config.Default()

	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tools.NewEchoTool()))

	store, err := approval.NewFileStore(filepath.Join(t.TempDir(), "approvals.json"))
	require.NoError(t, err)

	eventBus := bus.New(32)
	sessStore, err := sessions.NewStore(t.TempDir(), 0, 0, 0)
	require.NoError(t, err)

	var orch *orchestrator.Orchestrator
	approvalMgr := approval.NewManager(store, func(invocationID string, approved bool) {
		orch.Resume(invocationID, approved)
	}, time.Minute)

	runtime := tools.NewRuntime(reg, approvalMgr, eventBus, 4, nil)
	runtime.SetWorkspaceBase(t.TempDir())

	orch = orchestrator.New(orchestrator.Config{
		QueueDepth:    10,
		GlobalWorkers: 4,
		Runtime:       runtime,
		Approvals:     approvalMgr,
		Events:        eventBus,
	})

	server := gateway.NewServer(cfg, eventBus, orch)
	server.SetTools(reg)
	server.SetRuntime(runtime)
	server.SetSessions(sessStore)
	server.SetApprovals(approvalMgr)

	NewConnectMethods(server).Register(server.Router())
	NewChatMethods(server).Register(server.Router())
	NewToolsMethods(server, tools.PolicyBundle{MaxBytes: 4096, TimeoutMs: 5000}).Register(server.Router())
	NewApprovalMethods(server).Register(server.Router())
	NewSessionMethods(server).Register(server.Router())
	NewChannelMethods().Register(server.Router())

	ts := httptest.NewServer(server.BuildMux())
	return &testStack{server: server, http: ts}
}

func (ts *testStack) close() { ts.http.Close() }

func (ts *testStack) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func call(t *testing.T, conn *websocket.Conn, id, method string, params any) protocol.Response {
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

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, respData, err := conn.ReadMessage()
	require.NoError(t, err)
	var resp protocol.Response
	require.NoError(t, json.Unmarshal(respData, &resp))
	return resp
}

func TestMethods_Connect_NoTokenConfigured(t *testing.T) {
	stack := newTestStack(t)
	defer stack.close()
	conn := stack.dial(t)
	defer conn.Close()

	resp := call(t, conn, "1", protocol.MethodConnect, map[string]string{"type": "cli"})
	require.Nil(t, resp.Error)
}

func TestMethods_ChatSend_CreatesTaskAndSession(t *testing.T) {
	stack := newTestStack(t)
	defer stack.close()
	conn := stack.dial(t)
	defer conn.Close()

	call(t, conn, "1", protocol.MethodConnect, map[string]string{"type": "cli"})

	resp := call(t, conn, "2", protocol.MethodChatSend, map[string]string{
		"channelId": "c1",
		"message":   `{"toolId":"echo","input":{"x":1}}`,
	})
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, result["taskId"])

	_, ok = stack.server.Sessions.GetBySessionKey(sessions.SessionKey("default", "c1"))
	assert.True(t, ok)
}

func TestMethods_ChatSend_RejectsOverlongMessage(t *testing.T) {
	stack := newTestStack(t)
	defer stack.close()
	conn := stack.dial(t)
	defer conn.Close()

	longMsg := strings.Repeat("x", 40000)
	resp := call(t, conn, "1", protocol.MethodChatSend, map[string]string{
		"channelId": "c1",
		"message":   longMsg,
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "SIZE_LIMIT", resp.Error.Data.Code)
}

func TestMethods_ToolsList(t *testing.T) {
	stack := newTestStack(t)
	defer stack.close()
	conn := stack.dial(t)
	defer conn.Close()

	resp := call(t, conn, "1", protocol.MethodToolsList, nil)
	require.Nil(t, resp.Error)
	defs, ok := resp.Result.([]any)
	require.True(t, ok)
	assert.Len(t, defs, 1)
}

func TestMethods_ToolsInvoke_DirectEcho(t *testing.T) {
	stack := newTestStack(t)
	defer stack.close()
	conn := stack.dial(t)
	defer conn.Close()

	resp := call(t, conn, "1", protocol.MethodToolsInvoke, map[string]any{
		"toolId": "echo",
		"input":  map[string]any{"hello": "world"},
	})
	require.Nil(t, resp.Error)
}

func TestMethods_ApprovalList_EmptyInitially(t *testing.T) {
	stack := newTestStack(t)
	defer stack.close()
	conn := stack.dial(t)
	defer conn.Close()

	resp := call(t, conn, "1", protocol.MethodApprovalList, nil)
	require.Nil(t, resp.Error)
}

func TestMethods_SessionList_RequiresAgentID(t *testing.T) {
	stack := newTestStack(t)
	defer stack.close()
	conn := stack.dial(t)
	defer conn.Close()

	resp := call(t, conn, "1", protocol.MethodSessionList, map[string]string{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_INPUT", resp.Error.Data.Code)
}

func TestMethods_ChannelLifecycle_AddEnableDisableRemove(t *testing.T) {
	stack := newTestStack(t)
	defer stack.close()
	conn := stack.dial(t)
	defer conn.Close()

	addResp := call(t, conn, "1", protocol.MethodChannelAdd, map[string]string{
		"id": "ch1", "surface": "telegram", "channelId": "tg-1",
	})
	require.Nil(t, addResp.Error)

	listResp := call(t, conn, "2", protocol.MethodChannelList, nil)
	require.Nil(t, listResp.Error)
	bindings, ok := listResp.Result.([]any)
	require.True(t, ok)
	assert.Len(t, bindings, 1)

	disableResp := call(t, conn, "3", protocol.MethodChannelDisable, map[string]string{"id": "ch1"})
	require.Nil(t, disableResp.Error)

	removeResp := call(t, conn, "4", protocol.MethodChannelRemove, map[string]string{"id": "ch1"})
	require.Nil(t, removeResp.Error)

	missingResp := call(t, conn, "5", protocol.MethodChannelEnable, map[string]string{"id": "ch1"})
	require.NotNil(t, missingResp.Error)
	assert.Equal(t, "NOT_FOUND", missingResp.Error.Data.Code)
}

func TestMethods_SessionSend_UnknownSessionReturnsSessionNotFound(t *testing.T) {
	stack := newTestStack(t)
	defer stack.close()
	conn := stack.dial(t)
	defer conn.Close()

	resp := call(t, conn, "1", protocol.MethodSessionSend, map[string]string{
		"sessionId": "ghost", "message": "hi",
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "SESSION_NOT_FOUND", resp.Error.Data.Code)
}
