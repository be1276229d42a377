package approval

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/moonbotio/moonbot/internal/moonerr"
)

// Event is published to registered handlers on every lifecycle transition.
type Event struct {
	Type    string // "requested" | "resolved"
	Request *Request
}

// Handler is a fire-and-forget notifier (Gateway broadcast, CLI prompt,
// surface adapter). Handlers must not block the Manager; Notify dispatches
// to each on its own goroutine.
type Handler func(Event)

// ResumeFunc is invoked once a request resolves, so the Task Orchestrator
// (via the Tool Runtime) can continue or fail the waiting invocation. It is
// intentionally untyped beyond these primitives to avoid approval package
// depending on the tools package.
type ResumeFunc func(invocationID string, approved bool)

// MetricsSink is the narrow metrics-recording surface the Manager needs
// (C12), satisfied by *metrics.Metrics without this package importing it.
type MetricsSink interface {
	RecordApprovalResolved(toolID, decision string, wait time.Duration)
}

// Manager is the Flow Manager (§4.3). It adapts the other_examples
// approval.Manager's request/resolve/expire contract: where that
// implementation blocks the requester on a channel, Manager here is
// non-blocking end to end — RequestApproval returns immediately after
// persisting and notifying, and resolution is delivered later via resume
// callbacks, matching the Tool Runtime's awaitingApproval/Resume split.
type Manager struct {
	store  Store
	resume ResumeFunc

	mu       sync.Mutex
	handlers map[string]Handler

	// invocationByRequest lets HandleResponse and ExpireSweep notify the
	// waiting invocation without the store knowing about invocation ids.
	invocationByRequest map[string]string

	approvalTimeout time.Duration
	metrics         MetricsSink
}

// SetMetrics wires a metrics sink. Safe to call once before the Manager
// starts resolving requests.
func (m *Manager) SetMetrics(ms MetricsSink) { m.metrics = ms }

// NewManager builds a Manager backed by store. approvalTimeout <= 0 uses a
// 5 minute default (§6 ApprovalConfig).
func NewManager(store Store, resume ResumeFunc, approvalTimeout time.Duration) *Manager {
	if approvalTimeout <= 0 {
		approvalTimeout = 5 * time.Minute
	}
	return &Manager{
		store:               store,
		resume:              resume,
		handlers:            make(map[string]Handler),
		invocationByRequest: make(map[string]string),
		approvalTimeout:     approvalTimeout,
	}
}

// RegisterHandler adds a fire-and-forget notifier under name.
func (m *Manager) RegisterHandler(name string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[name] = h
}

// UnregisterHandler removes a notifier.
func (m *Manager) UnregisterHandler(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, name)
}

// RequestApproval persists a new pending request and notifies all
// handlers. It implements tools.ApprovalRegistrar. requestedBy is the
// principal on whose behalf the invocation ran (empty if unknown),
// recorded so HandleResponse can refuse a self-approval.
func (m *Manager) RequestApproval(invocationID, toolID, sessionID, requestedBy string, input json.RawMessage) (string, error) {
	id := "approval-" + uuid.NewString()
	now := time.Now().UTC()
	req := &Request{
		ID:           id,
		InvocationID: invocationID,
		ToolID:       toolID,
		SessionID:    sessionID,
		Input:        input,
		Status:       Pending,
		RequestedBy:  requestedBy,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.approvalTimeout),
	}
	if err := m.store.Add(req); err != nil {
		return "", fmt.Errorf("persist approval request: %w", err)
	}

	m.mu.Lock()
	m.invocationByRequest[id] = invocationID
	m.mu.Unlock()

	m.notify(Event{Type: "requested", Request: req})
	return id, nil
}

// HandleResponse resolves id as approved or rejected. The first call wins;
// any later call returns ALREADY_RESOLVED without mutating the request
// (P3). byUser is the authenticated principal who responded — approver
// identity is bound to the surface's session, never to the requestId, so
// callers must authenticate byUser themselves before calling this. A
// request whose RequestedBy matches byUser is refused with
// ErrSelfApproval rather than resolved (empty RequestedBy, meaning the
// requester was never identified, is not treated as a match).
func (m *Manager) HandleResponse(id string, approved bool, byUser string) error {
	if existing, ok := m.store.Get(id); ok && existing.RequestedBy != "" && existing.RequestedBy == byUser {
		return ErrSelfApproval
	}

	status := Rejected
	if approved {
		status = Approved
	}
	req, err := m.store.UpdateStatus(id, status, byUser)
	if err != nil {
		return err
	}

	m.mu.Lock()
	invocationID, ok := m.invocationByRequest[id]
	delete(m.invocationByRequest, id)
	m.mu.Unlock()

	m.notify(Event{Type: "resolved", Request: req})

	if m.metrics != nil {
		m.metrics.RecordApprovalResolved(req.ToolID, string(status), time.Since(req.CreatedAt))
	}

	if ok && m.resume != nil {
		m.resume(invocationID, approved)
	}
	return nil
}

// ListPending returns all pending requests, sorted by createdAt ascending
// (oldest first) as the store returns them.
func (m *Manager) ListPending() []*Request {
	return m.store.ListPending()
}

// Get returns a single request by id.
func (m *Manager) Get(id string) (*Request, bool) {
	return m.store.Get(id)
}

// FindByInvocation returns the pending request registered for
// invocationID, if any. Used by callers (the Task Orchestrator) that
// learn an invocation id from Runtime.Invoke and need the corresponding
// approval requestId for grantApproval(taskId, approved) forwarding.
func (m *Manager) FindByInvocation(invocationID string) (*Request, bool) {
	for _, req := range m.store.ListPending() {
		if req.InvocationID == invocationID {
			return req, true
		}
	}
	return nil, false
}

// ExpireSweep resolves every overdue pending request as expired and signals
// the waiting invocations with APPROVAL_EXPIRED via the resume callback.
// Intended to run on a periodic ticker (default 30s, §4.3).
func (m *Manager) ExpireSweep() {
	expired := m.store.ExpirePending(time.Now().UTC())
	for _, id := range expired {
		req, ok := m.store.Get(id)
		if !ok {
			continue
		}
		m.mu.Lock()
		invocationID, hasInv := m.invocationByRequest[id]
		delete(m.invocationByRequest, id)
		m.mu.Unlock()

		m.notify(Event{Type: "resolved", Request: req})
		if m.metrics != nil {
			m.metrics.RecordApprovalResolved(req.ToolID, string(Expired), time.Since(req.CreatedAt))
		}
		if hasInv && m.resume != nil {
			m.resume(invocationID, false)
		}
	}
}

// Run starts the periodic expiry sweep until ctx-like stop channel closes.
func (m *Manager) Run(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.ExpireSweep()
		case <-stop:
			return
		}
	}
}

// Shutdown resolves every pending request as rejected with
// ABORTED_BY_SHUTDOWN semantics (the caller maps the resume callback's
// approved=false into that code).
func (m *Manager) Shutdown() {
	for _, req := range m.store.ListPending() {
		_ = m.HandleResponse(req.ID, false, "system")
	}
}

func (m *Manager) notify(ev Event) {
	m.mu.Lock()
	handlers := make([]Handler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		go h(ev)
	}
}

// ErrSelfApproval is returned by HandleResponse when byUser matches the
// request's RequestedBy.
var ErrSelfApproval = moonerr.New(moonerr.Unauthorized, "cannot approve your own request")
