package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/moonbotio/moonbot/internal/moonerr"
	"github.com/moonbotio/moonbot/internal/tools"
)

// EchoPlanner is the deterministic stub Planner shipped with this module
// (spec.md §1 explicitly scopes out the real planner/LLM). It interprets
// task.Message as a single-step tool call of the form
// `{"toolId":"...","input":{...}}`, falling back to a no-op echo step when
// the message isn't a tool call — enough to drive and test the
// Orchestrator end to end without a language model.
type EchoPlanner struct{}

type toolCallMessage struct {
	ToolID string          `json:"toolId"`
	Input  json.RawMessage `json:"input"`
}

func (EchoPlanner) Plan(_ context.Context, task *Task) ([]Step, error) {
	var call toolCallMessage
	if err := json.Unmarshal([]byte(task.Message), &call); err == nil && call.ToolID != "" {
		return []Step{{
			ID:          "step-1",
			Description: "invoke " + call.ToolID,
			ToolID:      call.ToolID,
			Input:       call.Input,
		}}, nil
	}
	return []Step{{
		ID:          "step-1",
		Description: "echo",
		ToolID:      "echo",
		Input:       json.RawMessage(`{}`),
	}}, nil
}

// DefaultReplanner maps moonerr codes to FailureClass and applies the
// bounded retry/alternative/abort policy of spec.md §4.5 step 3. It never
// proposes USE_ALTERNATIVE on its own (it has no tool-equivalence table);
// callers that want alternative-tool recovery supply their own Replanner.
type DefaultReplanner struct{}

func (DefaultReplanner) Classify(outcomeErr *tools.OutcomeError) FailureClass {
	if outcomeErr == nil {
		return ClassUnknown
	}
	switch moonerr.Code(outcomeErr.Code) {
	case moonerr.Timeout:
		return ClassTimeout
	case moonerr.InvalidPath, moonerr.SSRFBlocked, moonerr.CommandBlocked, moonerr.Unauthorized, moonerr.AuthFailed:
		return ClassPermission
	case moonerr.ValidationError, moonerr.InvalidInput:
		return ClassValidation
	case moonerr.NotFound, moonerr.ToolNotFound, moonerr.SessionNotFound, moonerr.ApprovalNotFound:
		return ClassNotFound
	case moonerr.SizeLimit, moonerr.ResourceExhausted, moonerr.ConcurrencyLimit, moonerr.QueueFull:
		return ClassResource
	default:
		return ClassUnknown
	}
}

func (DefaultReplanner) Recover(class FailureClass, stepAttempt, altAttempt int) RecoveryPlan {
	switch class {
	case ClassNetwork, ClassTimeout, ClassResource:
		if stepAttempt < maxRetriesPerStep {
			return RecoveryPlan{Action: ActionRetry}
		}
		return RecoveryPlan{Action: ActionAbort}
	case ClassPermission, ClassValidation, ClassNotFound, ClassUnknown:
		return RecoveryPlan{Action: ActionAbort}
	default:
		return RecoveryPlan{Action: ActionAbort}
	}
}
