package tools

import "encoding/json"

// EchoSchema accepts arbitrary input; the tool returns it unchanged. Used
// as the orchestrator's deterministic no-op plan step and as a smoke-test
// tool for gateway/runtime wiring.
var EchoSchema = []byte(`{"type": "object"}`)

// NewEchoTool registers "echo", a diagnostic no-approval tool that returns
// its input as its output.
func NewEchoTool() *ToolSpec {
	return &ToolSpec{
		ID:               "echo",
		Description:      "Return the given input unchanged.",
		InputSchema:      EchoSchema,
		RequiresApproval: false,
		Run: func(_ *ToolContext, raw json.RawMessage) (*Result, error) {
			var data any
			if len(raw) > 0 {
				_ = json.Unmarshal(raw, &data)
			}
			return Ok(data), nil
		},
	}
}
