// Package gateway implements the Gateway Dispatch surface (C7): a
// WebSocket JSON-RPC 2.0 endpoint binding connected clients to the Task
// Orchestrator, Tool Runtime, and Approval Flow. Grounded directly on the
// teacher's internal/gateway/server.go (Server/Client split, checkOrigin,
// bus-subscription-per-client broadcast fan-out), trimmed of the teacher's
// managed-mode HTTP handler surface (agent/skill/provider/MCP CRUD APIs),
// which is out of this module's scope.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moonbotio/moonbot/internal/approval"
	"github.com/moonbotio/moonbot/internal/bus"
	"github.com/moonbotio/moonbot/internal/config"
	"github.com/moonbotio/moonbot/internal/orchestrator"
	"github.com/moonbotio/moonbot/internal/sessions"
	"github.com/moonbotio/moonbot/internal/tools"
	"github.com/moonbotio/moonbot/pkg/protocol"
)

// MetricsSink is the narrow metrics-recording surface the Gateway needs
// (C12), satisfied by *metrics.Metrics without this package importing it.
type MetricsSink interface {
	IncGatewayConnections()
	DecGatewayConnections()
	RecordRPCError(code string)
}

// Server is the Gateway's WebSocket + health-check HTTP server.
type Server struct {
	cfg  *config.Config
	bus  bus.Publisher
	orch *orchestrator.Orchestrator

	Tools     *tools.Registry
	Runtime   *tools.Runtime
	Sessions  *sessions.Store
	Approvals *approval.Manager

	router      *MethodRouter
	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader
	metrics     MetricsSink

	mu      sync.RWMutex
	clients map[string]*Client

	httpServer *http.Server
}

// NewServer builds a Server. Callers register method handlers on
// Router() before Start (the methods subpackage does this from main).
func NewServer(cfg *config.Config, eventBus bus.Publisher, orch *orchestrator.Orchestrator) *Server {
	s := &Server{
		cfg:     cfg,
		bus:     eventBus,
		orch:    orch,
		clients: make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.rateLimiter = NewRateLimiter(cfg.Gateway.RateLimitRPM, cfg.Gateway.RateLimitRPMAnon)
	s.router = NewMethodRouter()
	return s
}

// SetTools wires the Tool Registry used by tools.list.
func (s *Server) SetTools(r *tools.Registry) { s.Tools = r }

// SetRuntime wires the Tool Runtime used by tools.invoke/approve.
func (s *Server) SetRuntime(rt *tools.Runtime) { s.Runtime = rt }

// SetSessions wires the Session Store used by session.*.
func (s *Server) SetSessions(st *sessions.Store) { s.Sessions = st }

// SetApprovals wires the Flow Manager used by approval.*.
func (s *Server) SetApprovals(m *approval.Manager) { s.Approvals = m }

// SetMetrics wires a metrics sink. Safe to call once before Start.
func (s *Server) SetMetrics(m MetricsSink) { s.metrics = m }

// Metrics returns the wired metrics sink, or nil if none was set.
func (s *Server) Metrics() MetricsSink { return s.metrics }

// Router returns the method router for registering handlers.
func (s *Server) Router() *MethodRouter { return s.router }

// Orchestrator exposes the wired Orchestrator to method handlers.
func (s *Server) Orchestrator() *orchestrator.Orchestrator { return s.orch }

// Config exposes the wired Config to method handlers.
func (s *Server) Config() *config.Config { return s.cfg }

// checkOrigin validates the WebSocket handshake's Origin header against the
// configured allowlist. No allowlist configured means allow all (loopback
// dev default); non-browser clients send no Origin header and are always
// allowed, matching the teacher's checkOrigin.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("security.cors_rejected", "origin", origin)
	return false
}

// BuildMux registers the WebSocket and health-check routes.
func (s *Server) BuildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start binds the configured host:port and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.BuildMux()}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(conn, s)
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%q}`, protocol.Version)
}

// Broadcast pushes a notification to every connected client. Delivery is
// best-effort; one client's slow or closed connection never blocks or
// drops delivery to the others (§4.7 "dispatch is fair").
func (s *Server) Broadcast(note *protocol.Notification) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		c.SendNotification(note)
	}
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Subscribe(c.id, func(ev bus.Event) {
			note, ok := projectEvent(ev)
			if !ok {
				return
			}
			c.SendNotification(note)
		})
	}
	if s.metrics != nil {
		s.metrics.IncGatewayConnections()
	}
	slog.Info("client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	if s.bus != nil {
		s.bus.Unsubscribe(c.id)
	}
	s.rateLimiter.Forget(c.id)
	if s.metrics != nil {
		s.metrics.DecGatewayConnections()
	}
	slog.Info("client disconnected", "id", c.id)
}

// projectEvent maps an internal bus event onto the client-facing
// notification surface (§4.7 notifications), returning ok=false for
// internal-only events (e.g. cache invalidation) that are never forwarded.
func projectEvent(ev bus.Event) (*protocol.Notification, bool) {
	if strings.HasPrefix(ev.Name, "cache.") {
		return nil, false
	}
	switch ev.Name {
	case protocol.BusEventTaskStateChanged:
		return protocol.NewNotification(protocol.EventChatResponse, ev.Payload), true
	case protocol.BusEventApprovalRequested:
		return protocol.NewNotification(protocol.EventApprovalRequested, ev.Payload), true
	case protocol.BusEventApprovalResolved:
		return protocol.NewNotification(protocol.EventApprovalResolved, ev.Payload), true
	default:
		return nil, false
	}
}
