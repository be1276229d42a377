package tools

import (
	"bytes"
	"encoding/json"
	"os/exec"

	"github.com/moonbotio/moonbot/internal/moonerr"
	"github.com/moonbotio/moonbot/internal/policy"
)

type systemRunInput struct {
	Argv []string `json:"argv"`
	Cwd  string   `json:"cwd"`
}

var SystemRunSchema = []byte(`{
  "type": "object",
  "properties": {
    "argv": {"type": "array", "items": {"type": "string"}, "minItems": 1},
    "cwd": {"type": "string"}
  },
  "required": ["argv"]
}`)

// NewSystemRunTool registers system.run, the process-launch tool exercised
// by the approval scenarios (scenarios 2-4). It always requires approval.
// Its Run checks argv against policy.CommandGuard (an argv[0] allowlist
// plus the teacher's shell.go denylist), so those checks apply only once
// the request has been approved, not before the approval gate.
func NewSystemRunTool(guard *policy.CommandGuard) *ToolSpec {
	return &ToolSpec{
		ID:               "system.run",
		Description:      "Run an allowlisted command with its argv, inside the session workspace.",
		InputSchema:      SystemRunSchema,
		RequiresApproval: true,
		Category:         CategoryProcess,
		Run: func(tc *ToolContext, raw json.RawMessage) (*Result, error) {
			var in systemRunInput
			if err := json.Unmarshal(raw, &in); err != nil {
				return Err(string(moonerr.InvalidInput), "malformed input"), nil
			}
			if err := guard.CheckArgv(in.Argv); err != nil {
				me, _ := moonerr.As(err)
				return Err(string(me.Code), me.Message), nil
			}

			workDir := tc.WorkspaceRoot
			if in.Cwd != "" {
				resolved, err := policy.ResolvePath(in.Cwd, tc.WorkspaceRoot)
				if err != nil {
					me, _ := moonerr.As(err)
					return Err(string(me.Code), me.Message), nil
				}
				workDir = resolved
			}

			cmd := exec.CommandContext(tc.Context, in.Argv[0], in.Argv[1:]...)
			cmd.Dir = workDir
			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr

			if err := cmd.Run(); err != nil {
				if tc.Context.Err() != nil {
					return Err(string(moonerr.Timeout), "command exceeded its deadline"), nil
				}
				return &Result{
					IsError:   true,
					ErrorCode: string(moonerr.Unknown),
					Data:      stderr.String(),
				}, nil
			}

			out, truncated := policy.Truncate(stdout.Bytes(), policy.Caps{MaxBytes: tc.Policy.MaxBytes})
			return &Result{
				Data:      map[string]any{"stdout": string(out), "exitCode": 0},
				Truncated: truncated,
			}, nil
		},
	}
}
