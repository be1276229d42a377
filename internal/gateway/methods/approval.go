package methods

import (
	"context"
	"encoding/json"

	"github.com/moonbotio/moonbot/internal/gateway"
	"github.com/moonbotio/moonbot/pkg/protocol"
)

// ApprovalMethods implements approval.respond and approval.list.
type ApprovalMethods struct {
	server *gateway.Server
}

func NewApprovalMethods(s *gateway.Server) *ApprovalMethods {
	return &ApprovalMethods{server: s}
}

func (m *ApprovalMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodApprovalRespond, m.handleRespond)
	router.Register(protocol.MethodApprovalList, m.handleList)
}

type approvalRespondParams struct {
	RequestID string `json:"requestId"`
	Approved  bool   `json:"approved"`
}

func (m *ApprovalMethods) handleRespond(_ context.Context, client *gateway.Client, req *protocol.Request) {
	var p approvalRespondParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.RequestID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, "requestId is required", "INVALID_INPUT", nil))
		return
	}

	byUser := client.Principal()
	if byUser == "" {
		byUser = client.ID()
	}
	if err := m.server.Approvals.HandleResponse(p.RequestID, p.Approved, byUser); err != nil {
		sendMoonErr(client, req.ID, err)
		return
	}

	client.SendResponse(protocol.NewResponse(req.ID, map[string]any{"ok": true}))
}

func (m *ApprovalMethods) handleList(_ context.Context, client *gateway.Client, req *protocol.Request) {
	client.SendResponse(protocol.NewResponse(req.ID, m.server.Approvals.ListPending()))
}
