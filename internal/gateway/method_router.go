package gateway

import (
	"context"
	"log/slog"
	"sync"

	"github.com/moonbotio/moonbot/pkg/protocol"
)

// HandlerFunc handles one dispatched JSON-RPC request. Handlers own
// sending the response via client.SendResponse; the router never writes
// on a handler's behalf so handlers can also emit notifications first.
type HandlerFunc func(ctx context.Context, client *Client, req *protocol.Request)

// MethodRouter is the Gateway's `map[string]HandlerFunc` dispatch table
// (§4.7), registered the way the teacher registers internal/gateway/methods.
type MethodRouter struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewMethodRouter builds an empty router.
func NewMethodRouter() *MethodRouter {
	return &MethodRouter{handlers: make(map[string]HandlerFunc)}
}

// Register binds method to handler, replacing any existing binding.
func (r *MethodRouter) Register(method string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = handler
}

// Dispatch looks up req.Method and runs its handler, replying with
// METHOD_NOT_FOUND if nothing is registered. connect is exempt from the
// authentication requirement; every other method requires a prior
// successful connect when the Gateway is configured with a token.
func (r *MethodRouter) Dispatch(ctx context.Context, c *Client, req *protocol.Request) {
	r.mu.RLock()
	handler, ok := r.handlers[req.Method]
	r.mu.RUnlock()

	if !ok {
		c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.CodeMethodNotFound, "method not found", "", nil))
		if m := c.server.metrics; m != nil {
			m.RecordRPCError("METHOD_NOT_FOUND")
		}
		return
	}

	if req.Method != protocol.MethodConnect && c.server.cfg.Gateway.Token != "" && !c.Authenticated() {
		c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.CodeServerError, "authentication required", "AUTH_FAILED", nil))
		if m := c.server.metrics; m != nil {
			m.RecordRPCError("AUTH_FAILED")
		}
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("gateway: handler panic", "method", req.Method, "panic", rec)
			c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.CodeInternalError, "internal error", "UNKNOWN", nil))
			if m := c.server.metrics; m != nil {
				m.RecordRPCError("UNKNOWN")
			}
		}
	}()

	handler(ctx, c, req)
}
