package approval

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonbotio/moonbot/internal/moonerr"
)

func newReq(id string) *Request {
	now := time.Now().UTC()
	return &Request{
		ID:        id,
		ToolID:    "system.run",
		SessionID: "s1",
		Status:    Pending,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Minute),
	}
}

func TestFileStore_PersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approvals.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Add(newReq("r1")))

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	got, ok := reopened.Get("r1")
	require.True(t, ok)
	assert.Equal(t, "system.run", got.ToolID)

	require.NoError(t, reopened.Remove("r1"))
	_, ok = reopened.Get("r1")
	assert.False(t, ok)
}

func TestFileStore_UpdateStatus_FirstWinsSecondAlreadyResolved(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "approvals.json"))
	require.NoError(t, err)
	require.NoError(t, store.Add(newReq("r1")))

	updated, err := store.UpdateStatus("r1", Approved, "alice")
	require.NoError(t, err)
	assert.Equal(t, Approved, updated.Status)

	_, err = store.UpdateStatus("r1", Rejected, "bob")
	require.Error(t, err)
	me, ok := moonerr.As(err)
	require.True(t, ok)
	assert.Equal(t, moonerr.AlreadyResolved, me.Code)

	got, _ := store.Get("r1")
	assert.Equal(t, Approved, got.Status) // unchanged by the second call
}

func TestFileStore_ListPending_SortedByCreatedAt(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "approvals.json"))
	require.NoError(t, err)

	r1 := newReq("r1")
	r1.CreatedAt = time.Now().Add(-time.Minute)
	r2 := newReq("r2")
	r2.CreatedAt = time.Now()
	require.NoError(t, store.Add(r2))
	require.NoError(t, store.Add(r1))

	pending := store.ListPending()
	require.Len(t, pending, 2)
	assert.Equal(t, "r1", pending[0].ID)
	assert.Equal(t, "r2", pending[1].ID)
}

func TestFileStore_ExpirePending(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "approvals.json"))
	require.NoError(t, err)

	req := newReq("r1")
	req.ExpiresAt = time.Now().Add(-time.Second)
	require.NoError(t, store.Add(req))

	expired := store.ExpirePending(time.Now())
	assert.Equal(t, []string{"r1"}, expired)

	got, _ := store.Get("r1")
	assert.Equal(t, Expired, got.Status)
}

func TestFileStore_UpdateStatus_NotFound(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "approvals.json"))
	require.NoError(t, err)

	_, err = store.UpdateStatus("ghost", Approved, "alice")
	require.Error(t, err)
	me, ok := moonerr.As(err)
	require.True(t, ok)
	assert.Equal(t, moonerr.ApprovalNotFound, me.Code)
}
