package methods

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/moonbotio/moonbot/internal/gateway"
	"github.com/moonbotio/moonbot/pkg/protocol"
)

// channelBinding is a configured binding of a surface type to a channel
// (the glossary's "surface instance" / the teacher's AgentBinding),
// out-of-core per spec.md §1 but named here since channel.* operates on it.
type channelBinding struct {
	ID        string    `json:"id"`
	Surface   string    `json:"surface"`
	ChannelID string    `json:"channelId"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChannelMethods implements channel.* CRUD + enable/disable over an
// in-memory binding registry (persistence is out of this module's scope).
type ChannelMethods struct {
	mu       sync.Mutex
	bindings map[string]*channelBinding
}

func NewChannelMethods() *ChannelMethods {
	return &ChannelMethods{bindings: make(map[string]*channelBinding)}
}

func (m *ChannelMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodChannelList, m.handleList)
	router.Register(protocol.MethodChannelAdd, m.handleAdd)
	router.Register(protocol.MethodChannelRemove, m.handleRemove)
	router.Register(protocol.MethodChannelEnable, m.handleSetEnabled(true))
	router.Register(protocol.MethodChannelDisable, m.handleSetEnabled(false))
}

func (m *ChannelMethods) handleList(_ context.Context, client *gateway.Client, req *protocol.Request) {
	m.mu.Lock()
	list := make([]*channelBinding, 0, len(m.bindings))
	for _, b := range m.bindings {
		list = append(list, b)
	}
	m.mu.Unlock()
	client.SendResponse(protocol.NewResponse(req.ID, list))
}

type channelAddParams struct {
	ID        string `json:"id"`
	Surface   string `json:"surface"`
	ChannelID string `json:"channelId"`
}

func (m *ChannelMethods) handleAdd(_ context.Context, client *gateway.Client, req *protocol.Request) {
	var p channelAddParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.ID == "" || p.ChannelID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, "id and channelId are required", "INVALID_INPUT", nil))
		return
	}
	b := &channelBinding{ID: p.ID, Surface: p.Surface, ChannelID: p.ChannelID, Enabled: true, CreatedAt: time.Now().UTC()}
	m.mu.Lock()
	m.bindings[p.ID] = b
	m.mu.Unlock()
	client.SendResponse(protocol.NewResponse(req.ID, b))
}

type channelIDParams struct {
	ID string `json:"id"`
}

func (m *ChannelMethods) handleRemove(_ context.Context, client *gateway.Client, req *protocol.Request) {
	var p channelIDParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.ID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, "id is required", "INVALID_INPUT", nil))
		return
	}
	m.mu.Lock()
	delete(m.bindings, p.ID)
	m.mu.Unlock()
	client.SendResponse(protocol.NewResponse(req.ID, map[string]any{"ok": true}))
}

func (m *ChannelMethods) handleSetEnabled(enabled bool) gateway.HandlerFunc {
	return func(_ context.Context, client *gateway.Client, req *protocol.Request) {
		var p channelIDParams
		if err := json.Unmarshal(req.Params, &p); err != nil || p.ID == "" {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, "id is required", "INVALID_INPUT", nil))
			return
		}
		m.mu.Lock()
		b, ok := m.bindings[p.ID]
		if ok {
			b.Enabled = enabled
		}
		m.mu.Unlock()
		if !ok {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.CodeServerError, "channel binding not found", "NOT_FOUND", nil))
			return
		}
		client.SendResponse(protocol.NewResponse(req.ID, b))
	}
}
