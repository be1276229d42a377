package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moonbotio/moonbot/internal/moonerr"
	"github.com/moonbotio/moonbot/internal/tracing"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/semaphore"
)

// InvocationStatus mirrors ToolInvocation.status (§3).
type InvocationStatus string

const (
	InvocationRunning          InvocationStatus = "running"
	InvocationAwaitingApproval InvocationStatus = "awaiting_approval"
	InvocationCompleted        InvocationStatus = "completed"
	InvocationFailed           InvocationStatus = "failed"
)

// Invocation is the Runtime's transient per-call record (§3 ToolInvocation).
type Invocation struct {
	ID        string
	ToolID    string
	SessionID string
	AgentID   string
	UserID    string
	Status    InvocationStatus
	StartTime time.Time
	Input     json.RawMessage
	Outcome   *InvokeOutcome
}

// ApprovalRegistrar is the Runtime's view of the Approval Flow Manager
// (§4.3): registering a pending request is fire-and-forget from the
// Runtime's perspective — resolution arrives later via Resume.
type ApprovalRegistrar interface {
	RequestApproval(invocationID, toolID, sessionID, requestedBy string, input json.RawMessage) (requestID string, err error)
}

// EventSink publishes runtime events onto the internal bus (approval
// requests, etc). Kept minimal and decoupled from the bus package's
// concrete type to avoid an import cycle.
type EventSink interface {
	Publish(name string, payload any)
}

// IDGenerator produces invocation ids; swappable for deterministic tests.
type IDGenerator func() string

// QuotaLimits bounds concurrent admission into each Category (§5). A
// field <= 0 disables that category's limit entirely. ProcessPerUser
// and ClaudeCodePerUser are counted per distinct UserID;
// BrowserConcurrent is a single global count, matching spec.md's
// "Browser sessions: <=5 concurrent (configurable)" wording (no
// per-user qualifier) against "Process sessions: <=3/user" and
// "Claude-code sessions: <=2/user" (both explicitly per-user).
type QuotaLimits struct {
	ProcessPerUser    int
	BrowserConcurrent int
	ClaudeCodePerUser int
}

// DefaultQuotaLimits returns spec.md §5's stated defaults.
func DefaultQuotaLimits() QuotaLimits {
	return QuotaLimits{ProcessPerUser: 3, BrowserConcurrent: 5, ClaudeCodePerUser: 2}
}

func (q QuotaLimits) limitFor(cat Category) (limit int, perUser bool) {
	switch cat {
	case CategoryProcess:
		return q.ProcessPerUser, true
	case CategoryBrowser:
		return q.BrowserConcurrent, false
	case CategoryClaudeCode:
		return q.ClaudeCodePerUser, true
	default:
		return 0, false
	}
}

// MetricsSink is the narrow metrics-recording surface the Runtime needs
// (C12), satisfied by *metrics.Metrics without this package importing it.
type MetricsSink interface {
	RecordToolInvoke(toolID, outcome string, duration time.Duration)
}

// Runtime implements the Tool Registry/Runtime execution contract (§4.2).
type Runtime struct {
	registry  *Registry
	approvals ApprovalRegistrar
	events    EventSink
	newID     IDGenerator
	metrics   MetricsSink

	sem *semaphore.Weighted

	mu           sync.Mutex
	invocations  map[string]*Invocation
	schemaCache  sync.Map // raw schema string -> *jsonschema.Schema
	workspaceBase string
	tracer       *tracing.Tracer

	quotas      QuotaLimits
	quotaMu     sync.Mutex
	quotaCounts map[string]int
}

// SetMetrics wires a metrics sink.
func (rt *Runtime) SetMetrics(m MetricsSink) { rt.metrics = m }

// SetQuotas replaces the per-category admission limits (§5). Call
// before the Runtime starts serving Invoke calls. The whole struct is
// replaced: a field left at zero disables that category's limit rather
// than keeping the DefaultQuotaLimits value the Runtime was built with.
func (rt *Runtime) SetQuotas(q QuotaLimits) { rt.quotas = q }

// acquireQuota admits one more concurrent invocation of cat for userID,
// or refuses if the category's configured limit is already saturated.
// Uncategorized tools (cat == "") are never quota-limited.
func (rt *Runtime) acquireQuota(cat Category, userID string) bool {
	if cat == "" {
		return true
	}
	limit, perUser := rt.quotas.limitFor(cat)
	if limit <= 0 {
		return true
	}
	key := quotaKey(cat, userID, perUser)

	rt.quotaMu.Lock()
	defer rt.quotaMu.Unlock()
	if rt.quotaCounts[key] >= limit {
		return false
	}
	rt.quotaCounts[key]++
	return true
}

// releaseQuota returns one admission slot for cat/userID.
func (rt *Runtime) releaseQuota(cat Category, userID string) {
	if cat == "" {
		return
	}
	_, perUser := rt.quotas.limitFor(cat)
	key := quotaKey(cat, userID, perUser)

	rt.quotaMu.Lock()
	defer rt.quotaMu.Unlock()
	if rt.quotaCounts[key] > 0 {
		rt.quotaCounts[key]--
	}
}

func quotaKey(cat Category, userID string, perUser bool) string {
	if perUser {
		return string(cat) + ":" + userID
	}
	return string(cat)
}

// SetTracer wires a tracer. With none set, spans are no-ops.
func (rt *Runtime) SetTracer(t *tracing.Tracer) { rt.tracer = t }

// SetWorkspaceBase configures the root directory under which each
// session's workspace is scoped (one subdirectory per session id). With
// no base configured, ToolContext.WorkspaceRoot is empty and
// policy.ResolvePath falls back to resolving relative paths against the
// process's current working directory — callers that need path
// containment (§4.1) must configure this.
func (rt *Runtime) SetWorkspaceBase(dir string) { rt.workspaceBase = dir }

// workspaceFor returns the containment root for sessionID, creating it on
// first use so tools can write into it immediately.
func (rt *Runtime) workspaceFor(sessionID string) string {
	if rt.workspaceBase == "" {
		return ""
	}
	dir := filepath.Join(rt.workspaceBase, sessionID)
	_ = os.MkdirAll(dir, 0o755)
	return dir
}

func (rt *Runtime) recordOutcome(toolID string, outcome *InvokeOutcome, start time.Time) {
	if rt.metrics == nil {
		return
	}
	label := "ok"
	switch {
	case outcome.AwaitingApproval:
		label = "awaiting_approval"
	case !outcome.OK:
		label = "error"
	}
	rt.metrics.RecordToolInvoke(toolID, label, time.Since(start))
}

const defaultConcurrency = 10

// NewRuntime builds a Runtime backed by registry. maxConcurrent <= 0 uses
// the package default of 10 (§4.2).
func NewRuntime(registry *Registry, approvals ApprovalRegistrar, events EventSink, maxConcurrent int64, newID IDGenerator) *Runtime {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultConcurrency
	}
	if newID == nil {
		newID = defaultIDGenerator
	}
	noopTracer, _, _ := tracing.New(tracing.Config{})
	return &Runtime{
		registry:    registry,
		approvals:   approvals,
		events:      events,
		newID:       newID,
		sem:         semaphore.NewWeighted(maxConcurrent),
		invocations: make(map[string]*Invocation),
		tracer:      noopTracer,
		quotas:      DefaultQuotaLimits(),
		quotaCounts: make(map[string]int),
	}
}

// Invoke runs the six-step execution contract of §4.2.
func (rt *Runtime) Invoke(ctx context.Context, toolID, sessionID string, input json.RawMessage, agentID, userID string, policyBundle PolicyBundle) (outcome *InvokeOutcome) {
	start := time.Now()
	defer func() {
		if outcome != nil {
			rt.recordOutcome(toolID, outcome, start)
		}
	}()

	// 1. look up spec
	spec, ok := rt.registry.Get(toolID)
	if !ok {
		return errorOutcome(moonerr.ToolNotFound, fmt.Sprintf("tool %q is not registered", toolID), start)
	}

	// 2. validate input against schema
	if err := rt.validate(spec, input); err != nil {
		me, _ := moonerr.As(err)
		return &InvokeOutcome{
			OK:    false,
			Error: &OutcomeError{Code: string(me.Code), Message: me.Message, Details: me.Details},
			Meta:  OutcomeMeta{DurationMs: since(start)},
		}
	}

	inv := &Invocation{
		ID:        rt.newID(),
		ToolID:    toolID,
		SessionID: sessionID,
		AgentID:   agentID,
		UserID:    userID,
		StartTime: start,
		Input:     input,
		Status:    InvocationRunning,
	}
	rt.mu.Lock()
	rt.invocations[inv.ID] = inv
	rt.mu.Unlock()

	// 4. approval gate
	if spec.RequiresApproval {
		inv.Status = InvocationAwaitingApproval
		requestID, err := rt.approvals.RequestApproval(inv.ID, toolID, sessionID, inv.UserID, input)
		if err != nil {
			inv.Status = InvocationFailed
			return errorOutcome(moonerr.Unknown, "failed to register approval request", start)
		}
		if rt.events != nil {
			rt.events.Publish("approval.requested", map[string]any{
				"invocationId": inv.ID,
				"requestId":    requestID,
				"toolId":       toolID,
			})
		}
		return &InvokeOutcome{AwaitingApproval: true, InvocationID: inv.ID, Meta: OutcomeMeta{DurationMs: since(start)}}
	}

	return rt.execute(ctx, spec, inv, policyBundle, start)
}

// Resume re-enters execution for an invocation that was awaiting approval.
// If approved is false (rejected or expired upstream), it synthesizes
// APPROVAL_DENIED without running the tool (§4.2, P4).
func (rt *Runtime) Resume(ctx context.Context, invocationID string, approved bool, policyBundle PolicyBundle) (outcome *InvokeOutcome) {
	rt.mu.Lock()
	inv, ok := rt.invocations[invocationID]
	rt.mu.Unlock()
	if !ok {
		return errorOutcome(moonerr.NotFound, "unknown invocation", time.Now())
	}
	defer func() {
		if outcome != nil {
			rt.recordOutcome(inv.ToolID, outcome, inv.StartTime)
		}
	}()

	if !approved {
		rt.mu.Lock()
		inv.Status = InvocationFailed
		rt.mu.Unlock()
		return errorOutcome(moonerr.ApprovalDenied, "approval was denied or expired", inv.StartTime)
	}

	spec, ok := rt.registry.Get(inv.ToolID)
	if !ok {
		return errorOutcome(moonerr.ToolNotFound, fmt.Sprintf("tool %q is not registered", inv.ToolID), inv.StartTime)
	}
	inv.Status = InvocationRunning
	return rt.execute(ctx, spec, inv, policyBundle, inv.StartTime)
}

// Get returns a snapshot of an invocation's current status (tools.getInvocation).
func (rt *Runtime) Get(invocationID string) (*Invocation, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	inv, ok := rt.invocations[invocationID]
	return inv, ok
}

// execute performs step 5-6: acquire the global concurrency semaphore, run
// under a hard deadline, truncate oversized output, and map errors to
// stable codes.
func (rt *Runtime) execute(ctx context.Context, spec *ToolSpec, inv *Invocation, policyBundle PolicyBundle, start time.Time) *InvokeOutcome {
	ctx, span := rt.tracer.StartToolInvoke(ctx, inv.ID, inv.ToolID, inv.SessionID)
	var outcome *InvokeOutcome
	defer func() {
		var spanErr error
		if outcome != nil && !outcome.OK {
			spanErr = fmt.Errorf("%s", outcome.Error.Message)
		}
		span.End(spanErr)
	}()

	if !rt.acquireQuota(spec.Category, inv.UserID) {
		rt.markFailed(inv)
		outcome = errorOutcome(moonerr.ResourceExhausted, fmt.Sprintf("%s quota exceeded", spec.Category), start)
		return outcome
	}
	defer rt.releaseQuota(spec.Category, inv.UserID)

	if err := rt.sem.Acquire(ctx, 1); err != nil {
		rt.markFailed(inv)
		outcome = errorOutcome(moonerr.ConcurrencyLimit, "tool concurrency limit reached", start)
		return outcome
	}
	defer rt.sem.Release(1)

	timeoutMs := policyBundle.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = 30_000
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	tc := &ToolContext{
		Context:       runCtx,
		SessionID:     inv.SessionID,
		AgentID:       inv.AgentID,
		UserID:        inv.UserID,
		WorkspaceRoot: rt.workspaceFor(inv.SessionID),
		Policy:        policyBundle,
	}

	result, err := spec.Run(tc, inv.Input)
	outcome = rt.toOutcome(result, err, runCtx, start)

	rt.mu.Lock()
	if outcome.OK {
		inv.Status = InvocationCompleted
	} else {
		inv.Status = InvocationFailed
	}
	inv.Outcome = outcome
	rt.mu.Unlock()

	return outcome
}

func (rt *Runtime) toOutcome(result *Result, err error, runCtx context.Context, start time.Time) *InvokeOutcome {
	if runCtx.Err() == context.DeadlineExceeded {
		return errorOutcome(moonerr.Timeout, "tool invocation exceeded its deadline", start)
	}
	if err != nil {
		me, ok := moonerr.As(err)
		if !ok {
			me = &moonerr.Error{Code: moonerr.Unknown, Message: "tool execution failed", Internal: err.Error()}
		}
		return &InvokeOutcome{
			OK:    false,
			Error: &OutcomeError{Code: string(me.Code), Message: me.Message},
			Meta:  OutcomeMeta{DurationMs: since(start)},
		}
	}
	if result == nil {
		return errorOutcome(moonerr.Unknown, "tool returned no result", start)
	}
	if result.IsError {
		code := result.ErrorCode
		if code == "" {
			code = string(moonerr.Unknown)
		}
		msg := ""
		if s, ok := result.Data.(string); ok {
			msg = s
		}
		return &InvokeOutcome{
			OK:    false,
			Error: &OutcomeError{Code: code, Message: msg},
			Meta:  OutcomeMeta{DurationMs: since(start), Truncated: result.Truncated},
		}
	}
	return &InvokeOutcome{
		OK:   true,
		Data: result.Data,
		Meta: OutcomeMeta{DurationMs: since(start), Truncated: result.Truncated},
	}
}

func (rt *Runtime) markFailed(inv *Invocation) {
	rt.mu.Lock()
	inv.Status = InvocationFailed
	rt.mu.Unlock()
}

func (rt *Runtime) validate(spec *ToolSpec, input json.RawMessage) error {
	if len(spec.InputSchema) == 0 {
		return nil
	}
	compiled, err := rt.compileSchema(spec.InputSchema)
	if err != nil {
		return moonerr.Wrap(moonerr.ValidationError, "invalid tool schema", err)
	}
	var decoded any
	if len(input) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(input, &decoded); err != nil {
		return moonerr.Wrap(moonerr.ValidationError, "input is not valid JSON", err)
	}
	if err := compiled.Validate(decoded); err != nil {
		return moonerr.Wrap(moonerr.ValidationError, "input failed schema validation", err)
	}
	return nil
}

// compileSchema caches compiled schemas, mirroring the teacher pack's
// jsonschema/v5 validation pattern.
func (rt *Runtime) compileSchema(raw []byte) (*jsonschema.Schema, error) {
	key := string(raw)
	if cached, ok := rt.schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.CompileString("tool-input.json", key)
	if err != nil {
		return nil, err
	}
	rt.schemaCache.Store(key, compiled)
	return compiled, nil
}

func errorOutcome(code moonerr.Code, message string, start time.Time) *InvokeOutcome {
	return &InvokeOutcome{
		OK:    false,
		Error: &OutcomeError{Code: string(code), Message: message},
		Meta:  OutcomeMeta{DurationMs: since(start)},
	}
}

func since(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

var idCounter uint64

func defaultIDGenerator() string {
	n := atomic.AddUint64(&idCounter, 1)
	return fmt.Sprintf("inv-%d-%d", time.Now().UnixNano(), n)
}
