package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonbotio/moonbot/internal/moonerr"
)

func TestResolvePath_WithinWorkspace(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, "a.txt"), []byte("hi"), 0o644))

	resolved, err := ResolvePath("a.txt", ws)
	require.NoError(t, err)

	realWS, err := filepath.EvalSymlinks(ws)
	require.NoError(t, err)
	assert.True(t, isPathInside(resolved, realWS))
}

func TestResolvePath_TraversalEscape(t *testing.T) {
	ws := t.TempDir()

	_, err := ResolvePath("../etc/passwd", ws)
	require.Error(t, err)
	me, ok := moonerr.As(err)
	require.True(t, ok)
	assert.Equal(t, moonerr.InvalidPath, me.Code)
}

func TestResolvePath_AbsoluteOutsideWorkspace(t *testing.T) {
	ws := t.TempDir()

	_, err := ResolvePath("/etc/passwd", ws)
	require.Error(t, err)
	me, ok := moonerr.As(err)
	require.True(t, ok)
	assert.Equal(t, moonerr.InvalidPath, me.Code)
}

func TestResolvePath_NestedDirectoryOK(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, "sub", "dir"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "sub", "dir", "f.txt"), []byte("x"), 0o644))

	_, err := ResolvePath("sub/dir/f.txt", ws)
	require.NoError(t, err)
}

func TestResolvePath_SymlinkEscape(t *testing.T) {
	ws := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("s"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(ws, "link.txt")))

	_, err := ResolvePath("link.txt", ws)
	require.Error(t, err)
	me, ok := moonerr.As(err)
	require.True(t, ok)
	assert.Equal(t, moonerr.InvalidPath, me.Code)
}
