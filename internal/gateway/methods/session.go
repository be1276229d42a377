package methods

import (
	"context"
	"encoding/json"

	"github.com/moonbotio/moonbot/internal/gateway"
	"github.com/moonbotio/moonbot/internal/sessions"
	"github.com/moonbotio/moonbot/pkg/protocol"
)

// SessionMethods implements the session.* namespace (§4.7: "Session
// read/patch/send"). Left underspecified by spec.md, resolved here as:
// get/list are plain reads, patch appends a caller-supplied metadata
// entry, send creates a Task against the session's channel, reset clears
// the append log (Open Question, recorded in DESIGN.md).
type SessionMethods struct {
	server *gateway.Server
}

func NewSessionMethods(s *gateway.Server) *SessionMethods {
	return &SessionMethods{server: s}
}

func (m *SessionMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodSessionGet, m.handleGet)
	router.Register(protocol.MethodSessionList, m.handleList)
	router.Register(protocol.MethodSessionPatch, m.handlePatch)
	router.Register(protocol.MethodSessionSend, m.handleSend)
	router.Register(protocol.MethodSessionReset, m.handleReset)
}

type sessionIDParams struct {
	SessionID string `json:"sessionId"`
}

func (m *SessionMethods) handleGet(_ context.Context, client *gateway.Client, req *protocol.Request) {
	var p sessionIDParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.SessionID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, "sessionId is required", "INVALID_INPUT", nil))
		return
	}
	sess, ok := m.server.Sessions.GetByID(p.SessionID)
	if !ok {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.CodeServerError, "session not found", "SESSION_NOT_FOUND", nil))
		return
	}
	client.SendResponse(protocol.NewResponse(req.ID, sess))
}

type sessionListParams struct {
	AgentID  string `json:"agentId"`
	Offset   int    `json:"offset"`
	PageSize int    `json:"pageSize"`
}

func (m *SessionMethods) handleList(_ context.Context, client *gateway.Client, req *protocol.Request) {
	var p sessionListParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.AgentID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, "agentId is required", "INVALID_INPUT", nil))
		return
	}
	client.SendResponse(protocol.NewResponse(req.ID, m.server.Sessions.List(p.AgentID, p.Offset, p.PageSize)))
}

type sessionPatchParams struct {
	SessionID string         `json:"sessionId"`
	Metadata  map[string]any `json:"metadata"`
}

func (m *SessionMethods) handlePatch(_ context.Context, client *gateway.Client, req *protocol.Request) {
	var p sessionPatchParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.SessionID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, "sessionId is required", "INVALID_INPUT", nil))
		return
	}
	if err := m.server.Sessions.AppendMessage(p.SessionID, sessions.Entry{Type: sessions.EntryResult, Metadata: p.Metadata}); err != nil {
		sendMoonErr(client, req.ID, err)
		return
	}
	client.SendResponse(protocol.NewResponse(req.ID, map[string]any{"ok": true}))
}

type sessionSendParams struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

func (m *SessionMethods) handleSend(ctx context.Context, client *gateway.Client, req *protocol.Request) {
	var p sessionSendParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.SessionID == "" || p.Message == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, "sessionId and message are required", "INVALID_INPUT", nil))
		return
	}
	sess, ok := m.server.Sessions.GetByID(p.SessionID)
	if !ok {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.CodeServerError, "session not found", "SESSION_NOT_FOUND", nil))
		return
	}
	_ = m.server.Sessions.AppendMessage(sess.ID, sessions.Entry{Type: sessions.EntryUser, Content: p.Message})

	resp, err := m.server.Orchestrator().CreateTask(ctx, sess.ChannelID, sess.ID, sess.AgentID, sess.UserID, p.Message)
	if err != nil {
		sendMoonErr(client, req.ID, err)
		return
	}
	client.SendResponse(protocol.NewResponse(req.ID, resp))
}

func (m *SessionMethods) handleReset(_ context.Context, client *gateway.Client, req *protocol.Request) {
	var p sessionIDParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.SessionID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, "sessionId is required", "INVALID_INPUT", nil))
		return
	}
	if err := m.server.Sessions.Reset(p.SessionID); err != nil {
		sendMoonErr(client, req.ID, err)
		return
	}
	client.SendResponse(protocol.NewResponse(req.ID, map[string]any{"ok": true}))
}
