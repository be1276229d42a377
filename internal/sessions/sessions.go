// Package sessions implements the Session Store (C6): an in-memory session
// record keyed by a composite key, backed by an append-only on-disk log,
// with pagination and compaction. Grounded on the teacher's
// sessions.Manager, replacing its chat-message history model with the
// append-log-of-typed-entries shape in §3/§6.
package sessions

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/moonbotio/moonbot/internal/moonerr"
)

// EntryType enumerates the append-log entry kinds (§3, §6).
type EntryType string

const (
	EntryUser   EntryType = "user"
	EntryThought EntryType = "thought"
	EntryTool   EntryType = "tool"
	EntryResult EntryType = "result"
	EntryError  EntryType = "error"
)

// Entry is one line of a session's append-only log.
type Entry struct {
	Type      EntryType      `json:"type"`
	Content   string         `json:"content,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	Output    string         `json:"output,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Session is the in-memory record (§3). Key is unique across live sessions.
type Session struct {
	ID               string
	Key              string // agent:<agentId>:session:<channelSessionId>
	AgentID          string
	UserID           string
	ChannelID        string
	ChannelSessionID string
	Entries          []Entry
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SessionKey builds the composite key (§3).
func SessionKey(agentID, channelSessionID string) string {
	return fmt.Sprintf("agent:%s:session:%s", agentID, channelSessionID)
}

// backend is the Session Store's durability contract (C14): append-only
// persistence of per-session entries, swappable between the standalone
// mode's on-disk JSONL files and the managed mode's Postgres table.
type backend interface {
	loadAll() (map[string]*Session, error)
	append(sess *Session, entry Entry) error
	rewrite(sess *Session, entries []Entry) error
}

// Store is the Session Store's public surface (§4.6).
type Store struct {
	backend backend

	mu       sync.RWMutex
	byKey    map[string]*Session
	byID     map[string]*Session
	fileLock sync.Map // session id -> *sync.Mutex, serializes appends per session

	defaultPageSize int
	maxPageSize     int
	compactionKeep  int
}

// NewStore loads any existing *.jsonl logs under dir and returns a ready
// standalone-mode Store. Missing dir is created lazily on first append.
func NewStore(dir string, defaultPageSize, maxPageSize, compactionKeep int) (*Store, error) {
	return newStore(&fileBackend{dir: dir}, defaultPageSize, maxPageSize, compactionKeep)
}

func newStore(b backend, defaultPageSize, maxPageSize, compactionKeep int) (*Store, error) {
	if defaultPageSize <= 0 {
		defaultPageSize = 50
	}
	if maxPageSize <= 0 {
		maxPageSize = 500
	}
	if compactionKeep <= 0 {
		compactionKeep = 50
	}
	s := &Store{
		backend:         b,
		byKey:           make(map[string]*Session),
		byID:            make(map[string]*Session),
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
		compactionKeep:  compactionKeep,
	}
	loaded, err := b.loadAll()
	if err != nil {
		return nil, err
	}
	for _, sess := range loaded {
		s.byKey[sess.Key] = sess
		s.byID[sess.ID] = sess
	}
	return s, nil
}

// fileBackend is the standalone-mode backend: one append-only *.jsonl
// file per session under dir, written with O_APPEND+fsync and rewritten
// atomically (temp file + rename) for Compact/Reset.
type fileBackend struct {
	dir string
}

func (b *fileBackend) loadAll() (map[string]*Session, error) {
	out := make(map[string]*Session)
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		sess, err := b.loadFile(filepath.Join(b.dir, e.Name()))
		if err != nil {
			continue // best-effort load, matching the teacher's loadAll behavior
		}
		out[sess.ID] = sess
	}
	return out, nil
}

func (b *fileBackend) loadFile(path string) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	id := strings.TrimSuffix(filepath.Base(path), ".jsonl")
	sess := &Session{ID: id}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var envelope struct {
			Entry
			SessionKey       string `json:"sessionKey,omitempty"`
			AgentID          string `json:"agentId,omitempty"`
			UserID           string `json:"userId,omitempty"`
			ChannelID        string `json:"channelId,omitempty"`
			ChannelSessionID string `json:"channelSessionId,omitempty"`
		}
		if err := json.Unmarshal([]byte(line), &envelope); err != nil {
			continue
		}
		if first {
			sess.Key = envelope.SessionKey
			sess.AgentID = envelope.AgentID
			sess.UserID = envelope.UserID
			sess.ChannelID = envelope.ChannelID
			sess.ChannelSessionID = envelope.ChannelSessionID
			sess.CreatedAt = envelope.Timestamp
			first = false
		}
		sess.Entries = append(sess.Entries, envelope.Entry)
		sess.UpdatedAt = envelope.Timestamp
	}
	return sess, scanner.Err()
}

type sessionLogLine struct {
	Entry
	SessionKey       string `json:"sessionKey"`
	AgentID          string `json:"agentId"`
	UserID           string `json:"userId"`
	ChannelID        string `json:"channelId"`
	ChannelSessionID string `json:"channelSessionId"`
}

func (b *fileBackend) append(sess *Session, entry Entry) error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	path := filepath.Join(b.dir, sess.ID+".jsonl")

	line := sessionLogLine{
		Entry:            entry,
		SessionKey:       sess.Key,
		AgentID:          sess.AgentID,
		UserID:           sess.UserID,
		ChannelID:        sess.ChannelID,
		ChannelSessionID: sess.ChannelSessionID,
	}
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("marshal session entry: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append session log: %w", err)
	}
	return f.Sync()
}

func (b *fileBackend) rewrite(sess *Session, entries []Entry) error {
	path := filepath.Join(b.dir, sess.ID+".jsonl")
	var sb strings.Builder
	for _, e := range entries {
		line := sessionLogLine{e, sess.Key, sess.AgentID, sess.UserID, sess.ChannelID, sess.ChannelSessionID}
		data, err := json.Marshal(line)
		if err != nil {
			return fmt.Errorf("marshal session entry: %w", err)
		}
		sb.Write(data)
		sb.WriteByte('\n')
	}

	tmp, err := os.CreateTemp(b.dir, "session-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp session log: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.WriteString(sb.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp session log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp session log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp session log: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename session log into place: %w", err)
	}
	cleanup = false
	return nil
}

// Create mints a new Session for (agentID, channelSessionID), or returns
// the existing one if already present (GetOrCreate semantics).
func (s *Store) Create(agentID, userID, channelID, channelSessionID string) *Session {
	key := SessionKey(agentID, channelSessionID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byKey[key]; ok {
		return existing
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:               uuid.NewString(),
		Key:              key,
		AgentID:          agentID,
		UserID:           userID,
		ChannelID:        channelID,
		ChannelSessionID: channelSessionID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.byKey[key] = sess
	s.byID[sess.ID] = sess
	return sess
}

// GetBySessionKey is the primary lookup during message routing.
func (s *Store) GetBySessionKey(key string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byKey[key]
	return sess, ok
}

// GetByID looks up a session by its opaque id.
func (s *Store) GetByID(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byID[id]
	return sess, ok
}

// AppendMessage appends entry to the session's log, atomically and
// durably: the in-memory slice and the on-disk append are both updated
// under a per-session lock so concurrent appenders cannot interleave
// out of timestamp order (P10).
func (s *Store) AppendMessage(sessionID string, entry Entry) error {
	s.mu.RLock()
	sess, ok := s.byID[sessionID]
	s.mu.RUnlock()
	if !ok {
		return moonerr.New(moonerr.SessionNotFound, "session not found")
	}

	lockIface, _ := s.fileLock.LoadOrStore(sessionID, &sync.Mutex{})
	lock := lockIface.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	// Preserve monotonic ordering even under clock skew between callers.
	s.mu.Lock()
	if len(sess.Entries) > 0 {
		last := sess.Entries[len(sess.Entries)-1].Timestamp
		if !entry.Timestamp.After(last) {
			entry.Timestamp = last.Add(time.Microsecond)
		}
	}
	sess.Entries = append(sess.Entries, entry)
	sess.UpdatedAt = entry.Timestamp
	s.mu.Unlock()

	return s.backend.append(sess, entry)
}

// Compact retains only the last N entries (default s.compactionKeep),
// preserving relative order (P10), and rewrites the log file atomically.
func (s *Store) Compact(sessionID string) error {
	s.mu.Lock()
	sess, ok := s.byID[sessionID]
	if !ok {
		s.mu.Unlock()
		return moonerr.New(moonerr.SessionNotFound, "session not found")
	}
	if len(sess.Entries) > s.compactionKeep {
		sess.Entries = append([]Entry(nil), sess.Entries[len(sess.Entries)-s.compactionKeep:]...)
	}
	entriesCopy := append([]Entry(nil), sess.Entries...)
	s.mu.Unlock()

	lockIface, _ := s.fileLock.LoadOrStore(sessionID, &sync.Mutex{})
	lock := lockIface.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	return s.backend.rewrite(sess, entriesCopy)
}

// Info is the summary projection used by List (session.list).
type Info struct {
	ID           string    `json:"id"`
	Key          string    `json:"key"`
	EntryCount   int       `json:"entryCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// List returns a page of session summaries for agentID, newest first.
// pageSize <= 0 uses the store default; values above maxPageSize are
// clamped (§4.6).
func (s *Store) List(agentID string, offset, pageSize int) []Info {
	if pageSize <= 0 {
		pageSize = s.defaultPageSize
	}
	if pageSize > s.maxPageSize {
		pageSize = s.maxPageSize
	}

	s.mu.RLock()
	var infos []Info
	for _, sess := range s.byID {
		if sess.AgentID != agentID {
			continue
		}
		infos = append(infos, Info{
			ID:         sess.ID,
			Key:        sess.Key,
			EntryCount: len(sess.Entries),
			CreatedAt:  sess.CreatedAt,
			UpdatedAt:  sess.UpdatedAt,
		})
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].UpdatedAt.After(infos[j].UpdatedAt) })

	if offset >= len(infos) {
		return []Info{}
	}
	end := offset + pageSize
	if end > len(infos) {
		end = len(infos)
	}
	return infos[offset:end]
}

// Reset clears a session's entries in place (session.reset) without
// deleting the session itself.
func (s *Store) Reset(sessionID string) error {
	s.mu.Lock()
	sess, ok := s.byID[sessionID]
	if !ok {
		s.mu.Unlock()
		return moonerr.New(moonerr.SessionNotFound, "session not found")
	}
	sess.Entries = nil
	sess.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	lockIface, _ := s.fileLock.LoadOrStore(sessionID, &sync.Mutex{})
	lock := lockIface.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()
	return s.backend.rewrite(sess, nil)
}
