// Package methods registers the Gateway's JSON-RPC handlers onto a
// gateway.MethodRouter, grounded on the teacher's internal/gateway/methods
// package (a Methods struct per concern holding its collaborators, with a
// Register(router) method), wired together from cmd/moonbotd instead of
// the teacher's managed-mode bootstrap.
package methods

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"log/slog"

	"github.com/moonbotio/moonbot/internal/gateway"
	"github.com/moonbotio/moonbot/pkg/protocol"
)

// ConnectMethods implements the handshake and status surface.
type ConnectMethods struct {
	server *gateway.Server
}

// NewConnectMethods builds the handshake/status handler group.
func NewConnectMethods(s *gateway.Server) *ConnectMethods {
	return &ConnectMethods{server: s}
}

// Register binds connect and gateway.info.
func (m *ConnectMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodConnect, m.handleConnect)
	router.Register(protocol.MethodGatewayInfo, m.handleInfo)
}

type connectParams struct {
	Type    string `json:"type"`
	Version string `json:"version"`
	Token   string `json:"token"`
}

type connectResult struct {
	ClientID string `json:"clientId"`
}

// handleConnect authenticates the handshake token (constant-time
// comparison against the configured secret, §4.7 security) and returns
// the connection's client id.
func (m *ConnectMethods) handleConnect(_ context.Context, client *gateway.Client, req *protocol.Request) {
	var p connectParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, "invalid connect params", "INVALID_INPUT", nil))
			return
		}
	}

	configured := m.server.Config().Gateway.Token
	if configured != "" {
		if !constantTimeTokenEqual(p.Token, configured) {
			slog.Warn("gateway: connect rejected", "client", client.ID())
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.CodeServerError, "invalid token", "AUTH_FAILED", nil))
			return
		}
		client.Authenticate(p.Type)
	}

	client.SendResponse(protocol.NewResponse(req.ID, connectResult{ClientID: client.ID()}))
}

// constantTimeTokenEqual compares two tokens without leaking their length
// relationship through early-exit timing.
func constantTimeTokenEqual(given, configured string) bool {
	g := sha256.Sum256([]byte(given))
	c := sha256.Sum256([]byte(configured))
	return subtle.ConstantTimeCompare(g[:], c[:]) == 1
}

type infoResult struct {
	Protocol string `json:"protocol"`
	Mode     string `json:"mode"`
}

func (m *ConnectMethods) handleInfo(_ context.Context, client *gateway.Client, req *protocol.Request) {
	cfg := m.server.Config()
	client.SendResponse(protocol.NewResponse(req.ID, infoResult{
		Protocol: protocol.Version,
		Mode:     cfg.Database.Mode,
	}))
}
