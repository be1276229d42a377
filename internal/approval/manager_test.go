package approval

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *resumeRecorder) {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "approvals.json"))
	require.NoError(t, err)
	rec := &resumeRecorder{}
	mgr := NewManager(store, rec.resume, 50*time.Millisecond)
	return mgr, rec
}

type resumeRecorder struct {
	mu    sync.Mutex
	calls []resumeCall
}

type resumeCall struct {
	invocationID string
	approved     bool
}

func (r *resumeRecorder) resume(invocationID string, approved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, resumeCall{invocationID, approved})
}

func (r *resumeRecorder) snapshot() []resumeCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]resumeCall, len(r.calls))
	copy(out, r.calls)
	return out
}

func TestManager_RequestApproval_AppearsInListPending(t *testing.T) {
	mgr, _ := newTestManager(t)
	id, err := mgr.RequestApproval("inv-1", "system.run", "s1", "requester-1", json.RawMessage(`{}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	pending := mgr.ListPending()
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
	assert.Equal(t, Pending, pending[0].Status)
}

func TestManager_HandleResponse_ApprovedResumesInvocation(t *testing.T) {
	mgr, rec := newTestManager(t)
	id, err := mgr.RequestApproval("inv-1", "system.run", "s1", "requester-1", nil)
	require.NoError(t, err)

	require.NoError(t, mgr.HandleResponse(id, true, "alice"))

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	calls := rec.snapshot()
	assert.Equal(t, "inv-1", calls[0].invocationID)
	assert.True(t, calls[0].approved)

	req, ok := mgr.Get(id)
	require.True(t, ok)
	assert.Equal(t, Approved, req.Status)
}

func TestManager_HandleResponse_SelfApprovalRefused(t *testing.T) {
	mgr, rec := newTestManager(t)
	id, err := mgr.RequestApproval("inv-1", "system.run", "s1", "alice", nil)
	require.NoError(t, err)

	err = mgr.HandleResponse(id, true, "alice")
	require.ErrorIs(t, err, ErrSelfApproval)

	req, ok := mgr.Get(id)
	require.True(t, ok)
	assert.Equal(t, Pending, req.Status) // refused before any mutation

	assert.Empty(t, rec.snapshot()) // never resumed the waiting invocation

	require.NoError(t, mgr.HandleResponse(id, true, "bob"))
	req, _ = mgr.Get(id)
	assert.Equal(t, Approved, req.Status)
}

func TestManager_HandleResponse_SecondCallIsNoopIdempotent(t *testing.T) {
	mgr, rec := newTestManager(t)
	id, err := mgr.RequestApproval("inv-1", "system.run", "s1", "requester-1", nil)
	require.NoError(t, err)

	require.NoError(t, mgr.HandleResponse(id, true, "alice"))
	err = mgr.HandleResponse(id, false, "bob")
	require.Error(t, err)

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	req, _ := mgr.Get(id)
	assert.Equal(t, Approved, req.Status) // bob's rejection never applied
}

func TestManager_ExpireSweep_ResumesAsDenied(t *testing.T) {
	mgr, rec := newTestManager(t)
	id, err := mgr.RequestApproval("inv-1", "system.run", "s1", "requester-1", nil)
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond) // past the 50ms approvalTimeout
	mgr.ExpireSweep()

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	calls := rec.snapshot()
	assert.False(t, calls[0].approved)

	req, ok := mgr.Get(id)
	require.True(t, ok)
	assert.Equal(t, Expired, req.Status)
}

func TestManager_FindByInvocation(t *testing.T) {
	mgr, _ := newTestManager(t)
	id, err := mgr.RequestApproval("inv-1", "system.run", "s1", "requester-1", nil)
	require.NoError(t, err)

	req, ok := mgr.FindByInvocation("inv-1")
	require.True(t, ok)
	assert.Equal(t, id, req.ID)

	_, ok = mgr.FindByInvocation("no-such-invocation")
	assert.False(t, ok)
}

func TestManager_RegisterHandler_NotifiedOnRequestAndResolve(t *testing.T) {
	mgr, _ := newTestManager(t)

	var mu sync.Mutex
	var events []string
	mgr.RegisterHandler("test", func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev.Type)
	})

	id, err := mgr.RequestApproval("inv-1", "system.run", "s1", "requester-1", nil)
	require.NoError(t, err)
	require.NoError(t, mgr.HandleResponse(id, true, "alice"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"requested", "resolved"}, events)
}

func TestManager_Shutdown_RejectsAllPending(t *testing.T) {
	mgr, rec := newTestManager(t)
	_, err := mgr.RequestApproval("inv-1", "system.run", "s1", "requester-1", nil)
	require.NoError(t, err)
	_, err = mgr.RequestApproval("inv-2", "system.run", "s2", "requester-1", nil)
	require.NoError(t, err)

	mgr.Shutdown()

	assert.Empty(t, mgr.ListPending())
	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 2
	}, time.Second, 5*time.Millisecond)
	for _, c := range rec.snapshot() {
		assert.False(t, c.approved)
	}
}
