package methods

import (
	"context"
	"encoding/json"

	"github.com/moonbotio/moonbot/internal/gateway"
	"github.com/moonbotio/moonbot/internal/tools"
	"github.com/moonbotio/moonbot/pkg/protocol"
)

// ToolsMethods implements the tools.* namespace: direct (admin) invocation
// plus inspection of the Tool Runtime and its pending approvals.
type ToolsMethods struct {
	server *gateway.Server
	policy tools.PolicyBundle
}

func NewToolsMethods(s *gateway.Server, policy tools.PolicyBundle) *ToolsMethods {
	return &ToolsMethods{server: s, policy: policy}
}

func (m *ToolsMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodToolsList, m.handleList)
	router.Register(protocol.MethodToolsInvoke, m.handleInvoke)
	router.Register(protocol.MethodToolsApprove, m.handleApprove)
	router.Register(protocol.MethodToolsGetPending, m.handleGetPending)
	router.Register(protocol.MethodToolsGetInvocation, m.handleGetInvocation)
}

func (m *ToolsMethods) handleList(_ context.Context, client *gateway.Client, req *protocol.Request) {
	client.SendResponse(protocol.NewResponse(req.ID, m.server.Tools.Definitions()))
}

type toolsInvokeParams struct {
	ToolID    string          `json:"toolId"`
	SessionID string          `json:"sessionId"`
	AgentID   string          `json:"agentId"`
	UserID    string          `json:"userId"`
	Input     json.RawMessage `json:"input"`
}

// handleInvoke is the direct admin tool invocation path (§4.7 tools.invoke):
// it bypasses the Orchestrator's plan/step bookkeeping and calls the
// Runtime exactly once, surfacing the raw InvokeOutcome tri-state.
func (m *ToolsMethods) handleInvoke(ctx context.Context, client *gateway.Client, req *protocol.Request) {
	var p toolsInvokeParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.ToolID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, "toolId is required", "INVALID_INPUT", nil))
		return
	}

	userID := p.UserID
	if userID == "" {
		userID = client.Principal()
	}
	outcome := m.server.Runtime.Invoke(ctx, p.ToolID, p.SessionID, p.Input, p.AgentID, userID, m.policy)
	client.SendResponse(protocol.NewResponse(req.ID, outcome))
}

type toolsApproveParams struct {
	InvocationID string `json:"invocationId"`
	Approved     bool   `json:"approved"`
}

// handleApprove is the alias scoped to an invocation id (§4.7 tools.approve):
// it resolves the approval request registered against that invocation and
// forwards to the same Flow Manager path approval.respond uses.
func (m *ToolsMethods) handleApprove(_ context.Context, client *gateway.Client, req *protocol.Request) {
	var p toolsApproveParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.InvocationID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, "invocationId is required", "INVALID_INPUT", nil))
		return
	}

	approvalReq, ok := m.server.Approvals.FindByInvocation(p.InvocationID)
	if !ok {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.CodeServerError, "no pending approval for that invocation", "APPROVAL_NOT_FOUND", nil))
		return
	}

	byUser := client.Principal()
	if byUser == "" {
		byUser = client.ID()
	}
	if err := m.server.Approvals.HandleResponse(approvalReq.ID, p.Approved, byUser); err != nil {
		sendMoonErr(client, req.ID, err)
		return
	}
	client.SendResponse(protocol.NewResponse(req.ID, map[string]any{"ok": true}))
}

func (m *ToolsMethods) handleGetPending(_ context.Context, client *gateway.Client, req *protocol.Request) {
	client.SendResponse(protocol.NewResponse(req.ID, m.server.Approvals.ListPending()))
}

type getInvocationParams struct {
	InvocationID string `json:"invocationId"`
}

func (m *ToolsMethods) handleGetInvocation(_ context.Context, client *gateway.Client, req *protocol.Request) {
	var p getInvocationParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.InvocationID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, "invocationId is required", "INVALID_INPUT", nil))
		return
	}
	inv, ok := m.server.Runtime.Get(p.InvocationID)
	if !ok {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.CodeServerError, "invocation not found", "NOT_FOUND", nil))
		return
	}
	client.SendResponse(protocol.NewResponse(req.ID, inv))
}
