package tools

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeApprovals struct {
	mu       sync.Mutex
	requests []string
	nextErr  error
}

func (f *fakeApprovals) RequestApproval(invocationID, toolID, sessionID, requestedBy string, input json.RawMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nextErr != nil {
		return "", f.nextErr
	}
	f.requests = append(f.requests, invocationID)
	return "req-" + invocationID, nil
}

type fakeEvents struct {
	mu       sync.Mutex
	received []string
}

func (f *fakeEvents) Publish(name string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, name)
}

func newTestRuntime(t *testing.T) (*Runtime, *Registry, *fakeApprovals) {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewEchoTool()))
	require.NoError(t, reg.Register(NewFSWriteTool()))
	approvals := &fakeApprovals{}
	rt := NewRuntime(reg, approvals, &fakeEvents{}, 4, nil)
	rt.SetWorkspaceBase(t.TempDir())
	return rt, reg, approvals
}

func TestRuntime_Invoke_EchoSucceeds(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	outcome := rt.Invoke(context.Background(), "echo", "s1", json.RawMessage(`{"hello":"world"}`), "agent", "user", PolicyBundle{MaxBytes: 1024, TimeoutMs: 1000})
	require.True(t, outcome.OK)
	assert.Equal(t, map[string]any{"hello": "world"}, outcome.Data)
}

func TestRuntime_Invoke_UnknownTool(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	outcome := rt.Invoke(context.Background(), "nope", "s1", nil, "agent", "user", PolicyBundle{})
	require.False(t, outcome.OK)
	assert.Equal(t, "TOOL_NOT_FOUND", outcome.Error.Code)
}

func TestRuntime_Invoke_RequiresApprovalAwaits(t *testing.T) {
	rt, _, approvals := newTestRuntime(t)
	outcome := rt.Invoke(context.Background(), "fs.write", "s1",
		json.RawMessage(`{"path":"a.txt","content":"hi"}`), "agent", "user", PolicyBundle{MaxBytes: 1024, TimeoutMs: 1000})

	require.True(t, outcome.AwaitingApproval)
	require.NotEmpty(t, outcome.InvocationID)
	inv, ok := rt.Get(outcome.InvocationID)
	require.True(t, ok)
	assert.Equal(t, InvocationAwaitingApproval, inv.Status)
	assert.Len(t, approvals.requests, 1)
}

func TestRuntime_Resume_DeniedNeverRunsTheTool(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	outcome := rt.Invoke(context.Background(), "fs.write", "s1",
		json.RawMessage(`{"path":"b.txt","content":"hi"}`), "agent", "user", PolicyBundle{MaxBytes: 1024, TimeoutMs: 1000})
	require.True(t, outcome.AwaitingApproval)

	resumed := rt.Resume(context.Background(), outcome.InvocationID, false, PolicyBundle{MaxBytes: 1024, TimeoutMs: 1000})
	require.False(t, resumed.OK)
	assert.Equal(t, "APPROVAL_DENIED", resumed.Error.Code)

	inv, ok := rt.Get(outcome.InvocationID)
	require.True(t, ok)
	assert.Equal(t, InvocationFailed, inv.Status)
}

func TestRuntime_Resume_ApprovedRunsTheTool(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	outcome := rt.Invoke(context.Background(), "fs.write", "s1",
		json.RawMessage(`{"path":"c.txt","content":"hi"}`), "agent", "user", PolicyBundle{MaxBytes: 1024, TimeoutMs: 1000})
	require.True(t, outcome.AwaitingApproval)

	resumed := rt.Resume(context.Background(), outcome.InvocationID, true, PolicyBundle{MaxBytes: 1024, TimeoutMs: 1000})
	require.True(t, resumed.OK)

	inv, ok := rt.Get(outcome.InvocationID)
	require.True(t, ok)
	assert.Equal(t, InvocationCompleted, inv.Status)
}

func TestRuntime_Invoke_SchemaValidationFailure(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	outcome := rt.Invoke(context.Background(), "fs.write", "s1", json.RawMessage(`{"path":"a.txt"}`), "agent", "user", PolicyBundle{MaxBytes: 1024, TimeoutMs: 1000})
	require.False(t, outcome.OK)
	assert.Equal(t, "VALIDATION_ERROR", outcome.Error.Code)
}

func TestRuntime_Invoke_Timeout(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&ToolSpec{
		ID: "slow",
		Run: func(tc *ToolContext, _ json.RawMessage) (*Result, error) {
			select {
			case <-time.After(500 * time.Millisecond):
				return Ok("done"), nil
			case <-tc.Context.Done():
				return nil, tc.Context.Err()
			}
		},
	}))
	rt := NewRuntime(reg, &fakeApprovals{}, &fakeEvents{}, 4, nil)
	outcome := rt.Invoke(context.Background(), "slow", "s1", nil, "agent", "user", PolicyBundle{TimeoutMs: 20})
	require.False(t, outcome.OK)
	assert.Equal(t, "TIMEOUT", outcome.Error.Code)
}
