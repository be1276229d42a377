package tools

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/moonbotio/moonbot/internal/moonerr"
	"github.com/moonbotio/moonbot/internal/policy"
)

type fsReadInput struct {
	Path string `json:"path"`
}

var FSReadSchema = []byte(`{
  "type": "object",
  "properties": {"path": {"type": "string"}},
  "required": ["path"]
}`)

// NewFSReadTool registers fs.read, path-contained to the session's
// workspace root (§4.1 path containment, scenario 8), grounded on the
// teacher's ReadFileTool.
func NewFSReadTool() *ToolSpec {
	return &ToolSpec{
		ID:          "fs.read",
		Description: "Read a file's contents. The path must resolve inside the session workspace.",
		InputSchema: FSReadSchema,
		Run: func(tc *ToolContext, raw json.RawMessage) (*Result, error) {
			var in fsReadInput
			if err := json.Unmarshal(raw, &in); err != nil {
				return Err(string(moonerr.InvalidInput), "malformed input"), nil
			}
			resolved, err := policy.ResolvePath(in.Path, tc.WorkspaceRoot)
			if err != nil {
				me, _ := moonerr.As(err)
				return Err(string(me.Code), me.Message), nil
			}
			data, err := os.ReadFile(resolved)
			if err != nil {
				if os.IsNotExist(err) {
					return Err(string(moonerr.NotFound), "file not found"), nil
				}
				return Err(string(moonerr.Unknown), "read failed"), nil
			}
			capped := tc.Policy.MaxBytes
			out, truncated := policy.Truncate(data, policy.Caps{MaxBytes: capped})
			return &Result{Data: string(out), Truncated: truncated}, nil
		},
	}
}

type fsWriteInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

var FSWriteSchema = []byte(`{
  "type": "object",
  "properties": {"path": {"type": "string"}, "content": {"type": "string"}},
  "required": ["path", "content"]
}`)

// NewFSWriteTool registers fs.write, requiring approval since it mutates
// the filesystem.
func NewFSWriteTool() *ToolSpec {
	return &ToolSpec{
		ID:               "fs.write",
		Description:      "Write content to a file inside the session workspace.",
		InputSchema:      FSWriteSchema,
		RequiresApproval: true,
		Run: func(tc *ToolContext, raw json.RawMessage) (*Result, error) {
			var in fsWriteInput
			if err := json.Unmarshal(raw, &in); err != nil {
				return Err(string(moonerr.InvalidInput), "malformed input"), nil
			}
			resolved, err := policy.ResolvePath(in.Path, tc.WorkspaceRoot)
			if err != nil {
				me, _ := moonerr.As(err)
				return Err(string(me.Code), me.Message), nil
			}
			if int64(len(in.Content)) > tc.Policy.MaxBytes {
				return Err(string(moonerr.SizeLimit), "content exceeds the size cap"), nil
			}
			if err := os.WriteFile(resolved, []byte(in.Content), 0o644); err != nil {
				return Err(string(moonerr.Unknown), "write failed"), nil
			}
			return Ok(map[string]any{"path": in.Path, "bytes": len(in.Content)}), nil
		},
	}
}

type fsListInput struct {
	Path string `json:"path"`
}

var FSListSchema = []byte(`{
  "type": "object",
  "properties": {"path": {"type": "string"}},
  "required": ["path"]
}`)

// NewFSListTool registers fs.list, the tool exercised by the happy-path
// scenario (scenario 1).
func NewFSListTool() *ToolSpec {
	return &ToolSpec{
		ID:          "fs.list",
		Description: "List entries in a directory inside the session workspace.",
		InputSchema: FSListSchema,
		Run: func(tc *ToolContext, raw json.RawMessage) (*Result, error) {
			var in fsListInput
			if err := json.Unmarshal(raw, &in); err != nil {
				return Err(string(moonerr.InvalidInput), "malformed input"), nil
			}
			if in.Path == "" {
				in.Path = "."
			}
			resolved, err := policy.ResolvePath(in.Path, tc.WorkspaceRoot)
			if err != nil {
				me, _ := moonerr.As(err)
				return Err(string(me.Code), me.Message), nil
			}
			entries, err := os.ReadDir(resolved)
			if err != nil {
				if os.IsNotExist(err) {
					return Err(string(moonerr.NotFound), "directory not found"), nil
				}
				return Err(string(moonerr.Unknown), "list failed"), nil
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			sort.Strings(names)
			return Ok(names), nil
		},
	}
}
