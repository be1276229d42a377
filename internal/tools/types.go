// Package tools implements the Tool Registry and Runtime (C2): schema
// validation, policy enforcement, timeout handling, and the uniform
// InvokeOutcome result shape. Individual tool implementations generalize
// the teacher's per-tool Result{ForLLM,ForUser,Silent,IsError} contract.
package tools

import (
	"context"
	"encoding/json"

	"github.com/moonbotio/moonbot/internal/policy"
)

// ToolContext is built fresh for each invocation and never stored (§3).
type ToolContext struct {
	Context       context.Context
	SessionID     string
	AgentID       string
	UserID        string
	WorkspaceRoot string
	Policy        PolicyBundle
}

// PolicyBundle is the per-invocation policy snapshot handed to a tool's Run
// function.
type PolicyBundle struct {
	MaxBytes  int64
	TimeoutMs int64
	Command   *policy.CommandGuard
}

// Result is the return value from a tool's Run function, mirroring the
// teacher's ForLLM/ForUser/Silent/IsError duality, generalized here into the
// Runtime's InvokeOutcome shape.
type Result struct {
	Data      any            `json:"data,omitempty"`
	ForUser   string         `json:"forUser,omitempty"`
	Silent    bool           `json:"silent,omitempty"`
	IsError   bool           `json:"-"`
	ErrorCode string         `json:"-"`
	Artifacts map[string]any `json:"artifacts,omitempty"`
	Truncated bool           `json:"truncated,omitempty"`
}

func Ok(data any) *Result { return &Result{Data: data} }

func Err(code, message string) *Result {
	return &Result{IsError: true, ErrorCode: code, Data: message}
}

// RunFunc is a ToolSpec's implementation. It must respect ctx cancellation
// at every I/O boundary.
type RunFunc func(tc *ToolContext, input json.RawMessage) (*Result, error)

// Category buckets a ToolSpec for per-user/per-category quota
// enforcement (§5). Tools with no category (the empty string) are not
// subject to quota admission at all, only the Runtime's global
// concurrency semaphore.
type Category string

const (
	CategoryProcess    Category = "process"     // system.run and friends: <=3/user
	CategoryBrowser    Category = "browser"     // browser-session tools: <=5 concurrent, global
	CategoryClaudeCode Category = "claude_code" // claude-code session tools: <=2/user
)

// ToolSpec is a registered, immutable tool definition (§3).
type ToolSpec struct {
	ID               string
	Description      string
	InputSchema      []byte // raw JSON Schema
	RequiresApproval bool
	Category         Category // "" = not quota-tracked; see Category consts
	Run              RunFunc
}

// InvokeOutcome is the tri-state result of Runtime.Invoke (§4.2).
type InvokeOutcome struct {
	OK              bool           `json:"ok"`
	AwaitingApproval bool          `json:"awaitingApproval,omitempty"`
	InvocationID    string         `json:"invocationId,omitempty"`
	Data            any            `json:"data,omitempty"`
	Error           *OutcomeError  `json:"error,omitempty"`
	Meta            OutcomeMeta    `json:"meta"`
}

type OutcomeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type OutcomeMeta struct {
	DurationMs int64 `json:"durationMs"`
	Truncated  bool  `json:"truncated,omitempty"`
}
