package methods

import (
	"context"
	"encoding/json"

	"github.com/moonbotio/moonbot/internal/gateway"
	"github.com/moonbotio/moonbot/internal/sessions"
	"github.com/moonbotio/moonbot/pkg/protocol"
)

// ChatMethods implements chat.send, creating a Task on the Orchestrator.
type ChatMethods struct {
	server *gateway.Server
}

func NewChatMethods(s *gateway.Server) *ChatMethods {
	return &ChatMethods{server: s}
}

func (m *ChatMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodChatSend, m.handleSend)
}

type chatSendParams struct {
	ChannelID        string `json:"channelId"`
	ChannelSessionID string `json:"channelSessionId"`
	AgentID          string `json:"agentId"`
	UserID           string `json:"userId"`
	Message          string `json:"message"`
}

func (m *ChatMethods) handleSend(ctx context.Context, client *gateway.Client, req *protocol.Request) {
	var p chatSendParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.ChannelID == "" || p.Message == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, "channelId and message are required", "INVALID_INPUT", nil))
		return
	}
	if len(p.Message) > m.server.Config().Gateway.MaxMessageChars {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, "message exceeds maxMessageChars", "SIZE_LIMIT", nil))
		return
	}

	agentID := p.AgentID
	if agentID == "" {
		agentID = "default"
	}
	channelSessionID := p.ChannelSessionID
	if channelSessionID == "" {
		channelSessionID = p.ChannelID
	}

	var sessionID string
	if m.server.Sessions != nil {
		sess := m.server.Sessions.Create(agentID, p.UserID, p.ChannelID, channelSessionID)
		sessionID = sess.ID
		_ = m.server.Sessions.AppendMessage(sess.ID, sessions.Entry{Type: sessions.EntryUser, Content: p.Message})
	}

	resp, err := m.server.Orchestrator().CreateTask(ctx, p.ChannelID, sessionID, agentID, p.UserID, p.Message)
	if err != nil {
		sendMoonErr(client, req.ID, err)
		return
	}

	client.SendResponse(protocol.NewResponse(req.ID, resp))
}
