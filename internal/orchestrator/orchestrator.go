// Package orchestrator implements the Task Orchestrator (C5): the agent
// loop structure (plan -> execute -> recover, single onEvent-style
// callbacks) is grounded on the teacher's agent.Loop (think->act->observe
// cycle, AgentEvent{Type,AgentID,RunID,Payload}); Planner/Executor/
// Replanner remain small collaborator interfaces per spec.md §1's explicit
// scoping-out of the real planner/LLM.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moonbotio/moonbot/internal/approval"
	"github.com/moonbotio/moonbot/internal/moonerr"
	"github.com/moonbotio/moonbot/internal/queue"
	"github.com/moonbotio/moonbot/internal/tools"
	"github.com/moonbotio/moonbot/internal/tracing"
)

// Status mirrors the Task state machine (§4.5).
type Status string

const (
	Pending          Status = "pending"
	Running          Status = "running"
	AwaitingApproval Status = "awaiting_approval"
	Done             Status = "done"
	Failed           Status = "failed"
	Aborted          Status = "aborted"
)

// Step is one unit of the Planner's ordered plan (§4.5).
type Step struct {
	ID          string
	Description string
	ToolID      string
	Input       json.RawMessage
	DependsOn   []string
}

// Planner produces the ordered steps for a task. Sequential execution is
// sufficient for this core (spec.md §4.5 step 1).
type Planner interface {
	Plan(ctx context.Context, task *Task) ([]Step, error)
}

// FailureClass is the Replanner's classification of a step failure (§4.5).
type FailureClass string

const (
	ClassNetwork    FailureClass = "NETWORK"
	ClassPermission FailureClass = "PERMISSION"
	ClassValidation FailureClass = "VALIDATION"
	ClassNotFound   FailureClass = "NOT_FOUND"
	ClassResource   FailureClass = "RESOURCE"
	ClassTimeout    FailureClass = "TIMEOUT"
	ClassUnknown    FailureClass = "UNKNOWN"
)

// RecoveryAction is the Replanner's prescribed next move (§4.5).
type RecoveryAction string

const (
	ActionRetry           RecoveryAction = "RETRY"
	ActionUseAlternative  RecoveryAction = "USE_ALTERNATIVE"
	ActionRequestApproval RecoveryAction = "REQUEST_APPROVAL"
	ActionAbort           RecoveryAction = "ABORT"
)

// RecoveryPlan is the Replanner's verdict for one failed step attempt.
type RecoveryPlan struct {
	Action            RecoveryAction
	AlternativeToolID string
}

// Replanner classifies step failures and proposes recovery (§4.5 step 3).
type Replanner interface {
	Classify(outcomeErr *tools.OutcomeError) FailureClass
	Recover(class FailureClass, stepAttempt, altAttempt int) RecoveryPlan
}

const (
	maxRetriesPerStep      = 3
	maxAlternativesPerStep = 2
	maxRecoveryWallClock   = 10 * time.Minute
)

// Task is the orchestrator's live record (§3). Result/Err are set once the
// task reaches a terminal state.
type Task struct {
	ID        string
	ChannelID string
	SessionID string
	AgentID   string
	UserID    string
	Message   string
	Status    Status
	Result    any
	Err       *moonerr.Error
	CreatedAt time.Time
	UpdatedAt time.Time

	PendingRequestID string

	mu sync.Mutex
}

func (t *Task) snapshot() (Status, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Status, t.PendingRequestID
}

func (t *Task) setStatus(s Status) {
	t.mu.Lock()
	t.Status = s
	t.UpdatedAt = time.Now().UTC()
	t.mu.Unlock()
}

// TaskResponse is the immediate return of createTask (§4.5).
type TaskResponse struct {
	TaskID string `json:"taskId"`
	Status Status `json:"status"`
}

// Runtime is the orchestrator's view of the Tool Runtime.
type Runtime interface {
	Invoke(ctx context.Context, toolID, sessionID string, input json.RawMessage, agentID, userID string, policy tools.PolicyBundle) *tools.InvokeOutcome
	Resume(ctx context.Context, invocationID string, approved bool, policy tools.PolicyBundle) *tools.InvokeOutcome
}

// Approvals is the orchestrator's view of the Flow Manager.
type Approvals interface {
	HandleResponse(id string, approved bool, byUser string) error
	ListPending() []*approval.Request
	Get(id string) (*approval.Request, bool)
	FindByInvocation(invocationID string) (*approval.Request, bool)
}

// EventSink publishes orchestrator events onto the internal bus.
type EventSink interface {
	Publish(name string, payload any)
}

// MetricsSink is the narrow metrics-recording surface the Orchestrator
// needs (C12), satisfied by *metrics.Metrics without this package
// importing it.
type MetricsSink interface {
	RecordTask(status string, duration time.Duration)
}

// Orchestrator is the Task Orchestrator (§4.5).
type Orchestrator struct {
	mu      sync.Mutex
	tasks   map[string]*Task
	waiting map[string]chan bool // invocationId -> resume signal

	q         *queue.Queue
	runtime   Runtime
	approvals Approvals
	planner   Planner
	replanner Replanner
	events    EventSink
	policy    tools.PolicyBundle
	newID     func() string
	metrics   MetricsSink
	tracer    *tracing.Tracer

	onResponse         func(TaskResponse)
	onApprovalRequest  func(*approval.Request)
	onApprovalResolved func(*approval.Request)
}

// Config bundles the Orchestrator's collaborators.
type Config struct {
	QueueDepth    int
	GlobalWorkers int
	Runtime       Runtime
	Approvals     Approvals
	Planner       Planner
	Replanner     Replanner
	Events        EventSink
	Policy        tools.PolicyBundle
	NewID         func() string
}

// New wires an Orchestrator and its Per-Channel Queue. The Queue's RunFunc
// is bound to the Orchestrator's own runTask.
func New(cfg Config) *Orchestrator {
	if cfg.NewID == nil {
		cfg.NewID = defaultTaskID
	}
	if cfg.Planner == nil {
		cfg.Planner = EchoPlanner{}
	}
	if cfg.Replanner == nil {
		cfg.Replanner = DefaultReplanner{}
	}
	noopTracer, _, _ := tracing.New(tracing.Config{})
	o := &Orchestrator{
		tasks:     make(map[string]*Task),
		waiting:   make(map[string]chan bool),
		runtime:   cfg.Runtime,
		approvals: cfg.Approvals,
		planner:   cfg.Planner,
		replanner: cfg.Replanner,
		events:    cfg.Events,
		policy:    cfg.Policy,
		newID:     cfg.NewID,
		tracer:    noopTracer,
	}
	o.q = queue.New(cfg.QueueDepth, cfg.GlobalWorkers, o.runTask)
	return o
}

// SetMetrics wires a metrics sink. Safe to call once before the
// Orchestrator starts running tasks. queueMetrics is forwarded to the
// Orchestrator's own Per-Channel Queue.
func (o *Orchestrator) SetMetrics(m MetricsSink, queueMetrics queue.MetricsSink) {
	o.metrics = m
	o.q.SetMetrics(queueMetrics)
}

// SetTracer wires a tracer. Safe to call once before the Orchestrator
// starts running tasks; with none set, spans are no-ops.
func (o *Orchestrator) SetTracer(t *tracing.Tracer) { o.tracer = t }

// OnResponse registers the terminal-transition callback (Gateway fan-out).
func (o *Orchestrator) OnResponse(fn func(TaskResponse)) { o.onResponse = fn }

// OnApprovalRequest registers the approval-request callback.
func (o *Orchestrator) OnApprovalRequest(fn func(*approval.Request)) { o.onApprovalRequest = fn }

// OnApprovalResolved registers the approval-resolution callback.
func (o *Orchestrator) OnApprovalResolved(fn func(*approval.Request)) { o.onApprovalResolved = fn }

// Resume is the ResumeFunc handed to approval.NewManager: it looks up the
// invocation's parked step and signals it, or no-ops if nothing is
// waiting (already cancelled, or resumed once already).
func (o *Orchestrator) Resume(invocationID string, approved bool) {
	o.mu.Lock()
	ch, ok := o.waiting[invocationID]
	if ok {
		delete(o.waiting, invocationID)
	}
	o.mu.Unlock()
	if ok {
		ch <- approved
		close(ch)
	}
}

// CreateTask constructs a Task and enqueues it on the per-channel queue
// (§4.5 createTask).
func (o *Orchestrator) CreateTask(ctx context.Context, channelID, sessionID, agentID, userID, message string) (TaskResponse, error) {
	task := &Task{
		ID:        o.newID(),
		ChannelID: channelID,
		SessionID: sessionID,
		AgentID:   agentID,
		UserID:    userID,
		Message:   message,
		Status:    Pending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	o.mu.Lock()
	o.tasks[task.ID] = task
	o.mu.Unlock()

	if _, err := o.q.Enqueue(ctx, channelID, task.ID); err != nil {
		task.setStatus(Failed)
		me, _ := moonerr.As(err)
		task.Err = me
		return TaskResponse{}, err
	}

	return TaskResponse{TaskID: task.ID, Status: Pending}, nil
}

// AbortTask attempts to cancel taskID: dequeues if PENDING, signals
// cancellation if RUNNING, and rejects any pending approval if
// AWAITING_APPROVAL (§4.5 cancellation semantics).
func (o *Orchestrator) AbortTask(taskID string) bool {
	o.mu.Lock()
	task, ok := o.tasks[taskID]
	o.mu.Unlock()
	if !ok {
		return false
	}

	status, pendingRequestID := task.snapshot()
	if status == AwaitingApproval && pendingRequestID != "" {
		_ = o.approvals.HandleResponse(pendingRequestID, false, "system")
	}
	return o.q.Cancel(taskID)
}

// GrantApproval forwards taskId's current pending approval to the Flow
// Manager (§4.5 grantApproval).
func (o *Orchestrator) GrantApproval(taskID string, approved bool, byUser string) error {
	o.mu.Lock()
	task, ok := o.tasks[taskID]
	o.mu.Unlock()
	if !ok {
		return moonerr.New(moonerr.NotFound, "task not found")
	}
	_, requestID := task.snapshot()
	if requestID == "" {
		return moonerr.New(moonerr.NotFound, "task has no pending approval")
	}
	return o.approvals.HandleResponse(requestID, approved, byUser)
}

// GetPendingApprovals is a pass-through to the Flow Manager.
func (o *Orchestrator) GetPendingApprovals() []*approval.Request {
	return o.approvals.ListPending()
}

// GetTask returns a task's current state snapshot.
func (o *Orchestrator) GetTask(taskID string) (*Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[taskID]
	return t, ok
}

// Shutdown aborts every non-terminal task ("any non-terminal -> ABORTED
// (shutdown)", §4.5) and stops the queue.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	ids := make([]string, 0, len(o.tasks))
	for id, t := range o.tasks {
		if s, _ := t.snapshot(); s != Done && s != Failed && s != Aborted {
			ids = append(ids, id)
		}
	}
	o.mu.Unlock()
	for _, id := range ids {
		o.AbortTask(id)
	}
	o.q.Shutdown()
}

// runTask is the queue.RunFunc: it runs the full plan -> execute -> recover
// loop for one task to a terminal state.
func (o *Orchestrator) runTask(ctx context.Context, item *queue.Item) {
	o.mu.Lock()
	task := o.tasks[item.TaskID]
	o.mu.Unlock()
	if task == nil {
		return
	}

	task.setStatus(Running)

	ctx, taskSpan := o.tracer.StartTask(ctx, task.ID, task.ChannelID)

	finish := func(status Status, result any, errOut *moonerr.Error) {
		var spanErr error
		if errOut != nil {
			spanErr = errOut
		}
		taskSpan.End(spanErr)
		o.finish(task, status, result, errOut)
	}

	steps, err := o.planner.Plan(ctx, task)
	if err != nil {
		finish(Failed, nil, moonerr.Wrap(moonerr.Unknown, "planning failed", err))
		return
	}

	var lastResult any
	deadline := time.Now().Add(maxRecoveryWallClock)

	for _, step := range steps {
		if ctx.Err() != nil {
			finish(Aborted, nil, moonerr.New(moonerr.AbortedByUser, "task aborted"))
			return
		}

		result, stepErr := o.runStepWithRecovery(ctx, task, step, deadline)
		if stepErr != nil {
			finish(Failed, nil, stepErr)
			return
		}
		lastResult = result
	}

	finish(Done, lastResult, nil)
}

// runStepWithRecovery runs one step, consulting the Replanner on failure
// within the retry/alternative/wall-clock limits (§4.5 step 3).
func (o *Orchestrator) runStepWithRecovery(ctx context.Context, task *Task, step Step, deadline time.Time) (any, *moonerr.Error) {
	retries := 0
	alternatives := 0

	ctx, stepSpan := o.tracer.StartStep(ctx, task.ID, step.ID, step.ToolID)
	var result any
	var stepErr *moonerr.Error
	defer func() {
		var spanErr error
		if stepErr != nil {
			spanErr = stepErr
		}
		stepSpan.End(spanErr)
	}()

	result, stepErr = o.runStepWithRecoveryLoop(ctx, task, step, deadline, retries, alternatives)
	return result, stepErr
}

func (o *Orchestrator) runStepWithRecoveryLoop(ctx context.Context, task *Task, step Step, deadline time.Time, retries, alternatives int) (any, *moonerr.Error) {
	for {
		outcome := o.runStep(ctx, task, step)
		if outcome == nil {
			return nil, moonerr.New(moonerr.AbortedByUser, "task aborted while awaiting approval")
		}
		if outcome.OK {
			return outcome.Data, nil
		}

		if time.Now().After(deadline) {
			return nil, moonerr.New(moonerr.Unknown, "recovery wall-clock exceeded")
		}

		class := o.replanner.Classify(outcome.Error)
		plan := o.replanner.Recover(class, retries, alternatives)

		switch plan.Action {
		case ActionRetry:
			if retries >= maxRetriesPerStep {
				return nil, &moonerr.Error{Code: moonerr.Code(outcome.Error.Code), Message: outcome.Error.Message}
			}
			retries++
			continue
		case ActionUseAlternative:
			if alternatives >= maxAlternativesPerStep || plan.AlternativeToolID == "" {
				return nil, &moonerr.Error{Code: moonerr.Code(outcome.Error.Code), Message: outcome.Error.Message}
			}
			alternatives++
			step.ToolID = plan.AlternativeToolID
			continue
		case ActionRequestApproval:
			// The next runStep call will hit the approval gate itself if the
			// (possibly alternative) tool requires it; nothing extra to do.
			continue
		default: // ActionAbort
			return nil, &moonerr.Error{Code: moonerr.Code(outcome.Error.Code), Message: outcome.Error.Message}
		}
	}
}

// runStep calls Runtime.Invoke for one step, parking on the approval
// channel if required, and returns the resolved outcome (nil if the task
// was aborted while parked).
func (o *Orchestrator) runStep(ctx context.Context, task *Task, step Step) *tools.InvokeOutcome {
	outcome := o.runtime.Invoke(ctx, step.ToolID, task.SessionID, step.Input, task.AgentID, task.UserID, o.policy)
	if !outcome.AwaitingApproval {
		return outcome
	}

	task.setStatus(AwaitingApproval)
	req, found := o.approvals.FindByInvocation(outcome.InvocationID)
	if found {
		task.mu.Lock()
		task.PendingRequestID = req.ID
		task.mu.Unlock()
		if o.onApprovalRequest != nil {
			o.onApprovalRequest(req)
		}
	}

	resumeCh := make(chan bool, 1)
	o.mu.Lock()
	o.waiting[outcome.InvocationID] = resumeCh
	o.mu.Unlock()

	var approved bool
	select {
	case approved = <-resumeCh:
	case <-ctx.Done():
		o.mu.Lock()
		delete(o.waiting, outcome.InvocationID)
		o.mu.Unlock()
		if found {
			_ = o.approvals.HandleResponse(req.ID, false, "system")
		}
		return nil
	}

	task.setStatus(Running)
	task.mu.Lock()
	task.PendingRequestID = ""
	task.mu.Unlock()
	if found && o.onApprovalResolved != nil {
		if r, ok := o.approvals.Get(req.ID); ok {
			o.onApprovalResolved(r)
		}
	}

	return o.runtime.Resume(ctx, outcome.InvocationID, approved, o.policy)
}

func (o *Orchestrator) finish(task *Task, status Status, result any, errOut *moonerr.Error) {
	now := time.Now().UTC()
	task.mu.Lock()
	task.Status = status
	task.Result = result
	task.Err = errOut
	task.UpdatedAt = now
	task.mu.Unlock()

	if o.metrics != nil {
		o.metrics.RecordTask(string(status), now.Sub(task.CreatedAt))
	}

	if o.events != nil {
		o.events.Publish("task.stateChanged", map[string]any{
			"taskId": task.ID,
			"status": status,
		})
	}
	if o.onResponse != nil {
		o.onResponse(TaskResponse{TaskID: task.ID, Status: status})
	}
}

var taskIDCounter uint64

func defaultTaskID() string {
	n := atomic.AddUint64(&taskIDCounter, 1)
	return fmt.Sprintf("task-%d-%d", time.Now().UnixNano(), n)
}
