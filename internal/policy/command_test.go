package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonbotio/moonbot/internal/moonerr"
)

func TestCommandGuard_CheckArgv_AllowlistedOK(t *testing.T) {
	g := NewCommandGuard(nil)
	assert.NoError(t, g.CheckArgv([]string{"git", "status"}))
}

func TestCommandGuard_CheckArgv_NotAllowlisted(t *testing.T) {
	g := NewCommandGuard(nil)
	err := g.CheckArgv([]string{"curl", "http://example.com"})
	require.Error(t, err)
	me, ok := moonerr.As(err)
	require.True(t, ok)
	assert.Equal(t, moonerr.CommandBlocked, me.Code)
}

func TestCommandGuard_CheckArgv_DenyPatternWins(t *testing.T) {
	g := NewCommandGuard(map[string]bool{"rm": true})
	err := g.CheckArgv([]string{"rm", "-rf", "/"})
	require.Error(t, err)
	me, ok := moonerr.As(err)
	require.True(t, ok)
	assert.Equal(t, moonerr.CommandBlocked, me.Code)
}

func TestCommandGuard_CheckArgv_Empty(t *testing.T) {
	g := NewCommandGuard(nil)
	err := g.CheckArgv(nil)
	require.Error(t, err)
	me, ok := moonerr.As(err)
	require.True(t, ok)
	assert.Equal(t, moonerr.InvalidInput, me.Code)
}

func TestCommandGuard_CheckRaw_RejectsMetacharacters(t *testing.T) {
	g := NewCommandGuard(nil)
	err := g.CheckRaw("echo hi; rm -rf /")
	require.Error(t, err)
	me, ok := moonerr.As(err)
	require.True(t, ok)
	assert.Equal(t, moonerr.CommandBlocked, me.Code)
}

func TestCommandGuard_CheckRaw_QuotedMetacharactersOK(t *testing.T) {
	g := NewCommandGuard(nil)
	assert.NoError(t, g.CheckRaw(`echo "a;b"`))
}

func TestCommandGuard_CheckRaw_Empty(t *testing.T) {
	g := NewCommandGuard(nil)
	err := g.CheckRaw("   ")
	require.Error(t, err)
	me, ok := moonerr.As(err)
	require.True(t, ok)
	assert.Equal(t, moonerr.InvalidInput, me.Code)
}
