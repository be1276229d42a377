package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tcFor(t *testing.T, ws string) *ToolContext {
	t.Helper()
	return &ToolContext{
		Context:       context.Background(),
		WorkspaceRoot: ws,
		Policy:        PolicyBundle{MaxBytes: 1024},
	}
}

func TestFSRead_PathTraversalBlocked(t *testing.T) {
	ws := t.TempDir()
	spec := NewFSReadTool()
	result, err := spec.Run(tcFor(t, ws), json.RawMessage(`{"path":"../etc/passwd"}`))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "INVALID_PATH", result.ErrorCode)
}

func TestFSRead_ReadsFileWithinWorkspace(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, "hello.txt"), []byte("hi there"), 0o644))

	spec := NewFSReadTool()
	result, err := spec.Run(tcFor(t, ws), json.RawMessage(`{"path":"hello.txt"}`))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, "hi there", result.Data)
}

func TestFSRead_MissingFile(t *testing.T) {
	ws := t.TempDir()
	spec := NewFSReadTool()
	result, err := spec.Run(tcFor(t, ws), json.RawMessage(`{"path":"nope.txt"}`))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "NOT_FOUND", result.ErrorCode)
}

func TestFSWrite_SizeLimitEnforced(t *testing.T) {
	ws := t.TempDir()
	tc := tcFor(t, ws)
	tc.Policy.MaxBytes = 4

	spec := NewFSWriteTool()
	result, err := spec.Run(tc, json.RawMessage(`{"path":"big.txt","content":"way too long"}`))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "SIZE_LIMIT", result.ErrorCode)
}

func TestFSList_ReturnsSortedEntries(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, "b.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(ws, "sub"), 0o755))

	spec := NewFSListTool()
	result, err := spec.Run(tcFor(t, ws), json.RawMessage(`{"path":"."}`))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, []string{"a.txt", "b.txt", "sub/"}, result.Data)
}
