package sessions

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Create_IsIdempotentPerKey(t *testing.T) {
	store, err := NewStore(t.TempDir(), 0, 0, 0)
	require.NoError(t, err)

	sess1 := store.Create("agent1", "user1", "chan1", "cs1")
	sess2 := store.Create("agent1", "user1", "chan1", "cs1")
	assert.Equal(t, sess1.ID, sess2.ID)
	assert.Equal(t, SessionKey("agent1", "cs1"), sess1.Key)
}

func TestStore_AppendMessage_PersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, 0, 0, 0)
	require.NoError(t, err)

	sess := store.Create("agent1", "user1", "chan1", "cs1")
	require.NoError(t, store.AppendMessage(sess.ID, Entry{Type: EntryUser, Content: "hello"}))
	require.NoError(t, store.AppendMessage(sess.ID, Entry{Type: EntryResult, Output: "world"}))

	reopened, err := NewStore(dir, 0, 0, 0)
	require.NoError(t, err)

	got, ok := reopened.GetByID(sess.ID)
	require.True(t, ok)
	require.Len(t, got.Entries, 2)
	assert.Equal(t, "hello", got.Entries[0].Content)
	assert.Equal(t, "world", got.Entries[1].Output)
	assert.Equal(t, sess.Key, got.Key)
}

func TestStore_AppendMessage_OrderingMonotonicUnderClockSkew(t *testing.T) {
	store, err := NewStore(t.TempDir(), 0, 0, 0)
	require.NoError(t, err)
	sess := store.Create("agent1", "user1", "chan1", "cs1")

	skewed := time.Now().Add(-time.Hour)
	require.NoError(t, store.AppendMessage(sess.ID, Entry{Type: EntryUser, Content: "first", Timestamp: time.Now()}))
	require.NoError(t, store.AppendMessage(sess.ID, Entry{Type: EntryUser, Content: "second", Timestamp: skewed}))

	got, ok := store.GetByID(sess.ID)
	require.True(t, ok)
	require.Len(t, got.Entries, 2)
	assert.True(t, got.Entries[1].Timestamp.After(got.Entries[0].Timestamp))
}

func TestStore_AppendMessage_UnknownSession(t *testing.T) {
	store, err := NewStore(t.TempDir(), 0, 0, 0)
	require.NoError(t, err)
	err = store.AppendMessage("ghost", Entry{Type: EntryUser})
	assert.Error(t, err)
}

func TestStore_Compact_KeepsOnlyLastNEntriesInOrder(t *testing.T) {
	store, err := NewStore(t.TempDir(), 0, 0, 2)
	require.NoError(t, err)
	sess := store.Create("agent1", "user1", "chan1", "cs1")

	for _, content := range []string{"a", "b", "c", "d"} {
		require.NoError(t, store.AppendMessage(sess.ID, Entry{Type: EntryUser, Content: content}))
	}

	require.NoError(t, store.Compact(sess.ID))

	got, ok := store.GetByID(sess.ID)
	require.True(t, ok)
	require.Len(t, got.Entries, 2)
	assert.Equal(t, "c", got.Entries[0].Content)
	assert.Equal(t, "d", got.Entries[1].Content)
}

func TestStore_Reset_ClearsEntriesButKeepsSession(t *testing.T) {
	store, err := NewStore(t.TempDir(), 0, 0, 0)
	require.NoError(t, err)
	sess := store.Create("agent1", "user1", "chan1", "cs1")
	require.NoError(t, store.AppendMessage(sess.ID, Entry{Type: EntryUser, Content: "hi"}))

	require.NoError(t, store.Reset(sess.ID))

	got, ok := store.GetByID(sess.ID)
	require.True(t, ok)
	assert.Empty(t, got.Entries)
}

func TestStore_List_PaginatesNewestFirst(t *testing.T) {
	store, err := NewStore(t.TempDir(), 1, 10, 0)
	require.NoError(t, err)

	s1 := store.Create("agent1", "u", "c", "cs1")
	require.NoError(t, store.AppendMessage(s1.ID, Entry{Type: EntryUser, Timestamp: time.Now().Add(-time.Minute)}))
	s2 := store.Create("agent1", "u", "c", "cs2")
	require.NoError(t, store.AppendMessage(s2.ID, Entry{Type: EntryUser, Timestamp: time.Now()}))

	page1 := store.List("agent1", 0, 1)
	require.Len(t, page1, 1)
	assert.Equal(t, s2.ID, page1[0].ID)

	page2 := store.List("agent1", 1, 1)
	require.Len(t, page2, 1)
	assert.Equal(t, s1.ID, page2[0].ID)
}

func TestStore_List_ClampsPageSizeAboveMax(t *testing.T) {
	store, err := NewStore(t.TempDir(), 10, 2, 0)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		store.Create("agent1", "u", "c", filepath.Join("cs", string(rune('a'+i))))
	}
	page := store.List("agent1", 0, 100)
	assert.LessOrEqual(t, len(page), 2)
}

func TestStore_GetBySessionKey(t *testing.T) {
	store, err := NewStore(t.TempDir(), 0, 0, 0)
	require.NoError(t, err)
	sess := store.Create("agent1", "u", "c", "cs1")

	got, ok := store.GetBySessionKey(SessionKey("agent1", "cs1"))
	require.True(t, ok)
	assert.Equal(t, sess.ID, got.ID)

	_, ok = store.GetBySessionKey("no-such-key")
	assert.False(t, ok)
}
