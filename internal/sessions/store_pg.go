package sessions

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moonbotio/moonbot/internal/dbmigrate"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// pgBackend is the managed-mode Session Store backend (C14), replacing
// fileBackend's per-session JSONL file with two tables: one row per
// session header and one append-only row per entry, following the same
// pgxpool-as-single-handle shape PgStore uses for approvals.
type pgBackend struct {
	pool *pgxpool.Pool
}

// NewPgStore connects to dsn, applies any pending schema migrations, and
// returns a ready managed-mode Store.
func NewPgStore(ctx context.Context, dsn string, defaultPageSize, maxPageSize, compactionKeep int) (*Store, error) {
	if err := dbmigrate.Up(dsn, "sessions", migrationsFS, "migrations"); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect sessions database: %w", err)
	}
	return newStore(&pgBackend{pool: pool}, defaultPageSize, maxPageSize, compactionKeep)
}

func (b *pgBackend) loadAll() (map[string]*Session, error) {
	ctx := context.Background()
	rows, err := b.pool.Query(ctx, `
		SELECT id, session_key, agent_id, user_id, channel_id, channel_session_id, created_at, updated_at
		FROM moonbot_sessions`)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	out := make(map[string]*Session)
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Key, &sess.AgentID, &sess.UserID, &sess.ChannelID,
			&sess.ChannelSessionID, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out[sess.ID] = &sess
	}
	rows.Close()

	for id, sess := range out {
		entries, err := b.loadEntries(ctx, id)
		if err != nil {
			return nil, err
		}
		sess.Entries = entries
	}
	return out, nil
}

func (b *pgBackend) loadEntries(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT type, content, args, output, metadata, ts
		FROM moonbot_session_entries WHERE session_id = $1 ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			typ      string
			args     []byte
			metadata []byte
		)
		if err := rows.Scan(&typ, &e.Content, &args, &e.Output, &metadata, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan session entry: %w", err)
		}
		e.Type = EntryType(typ)
		if len(args) > 0 {
			_ = json.Unmarshal(args, &e.Args)
		}
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (b *pgBackend) append(sess *Session, entry Entry) error {
	ctx := context.Background()
	args, err := json.Marshal(entry.Args)
	if err != nil {
		return fmt.Errorf("marshal entry args: %w", err)
	}
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal entry metadata: %w", err)
	}

	_, err = b.pool.Exec(ctx, `
		INSERT INTO moonbot_sessions (id, session_key, agent_id, user_id, channel_id, channel_session_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (id) DO UPDATE SET updated_at = $7`,
		sess.ID, sess.Key, sess.AgentID, sess.UserID, sess.ChannelID, sess.ChannelSessionID, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("upsert session header: %w", err)
	}

	_, err = b.pool.Exec(ctx, `
		INSERT INTO moonbot_session_entries (session_id, type, content, args, output, metadata, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sess.ID, string(entry.Type), entry.Content, args, entry.Output, metadata, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("insert session entry: %w", err)
	}
	return nil
}

// rewrite replaces the stored entry log wholesale inside a transaction,
// the Postgres analogue of fileBackend's temp-file-plus-rename atomicity
// for Compact/Reset.
func (b *pgBackend) rewrite(sess *Session, entries []Entry) error {
	ctx := context.Background()
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin session rewrite: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM moonbot_session_entries WHERE session_id = $1`, sess.ID); err != nil {
		return fmt.Errorf("clear session entries: %w", err)
	}
	for _, e := range entries {
		args, err := json.Marshal(e.Args)
		if err != nil {
			return fmt.Errorf("marshal entry args: %w", err)
		}
		metadata, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal entry metadata: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO moonbot_session_entries (session_id, type, content, args, output, metadata, ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			sess.ID, string(e.Type), e.Content, args, e.Output, metadata, e.Timestamp); err != nil {
			return fmt.Errorf("insert rewritten entry: %w", err)
		}
	}
	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE moonbot_sessions SET updated_at = $1 WHERE id = $2`, now, sess.ID); err != nil {
		return fmt.Errorf("touch session header: %w", err)
	}
	return tx.Commit(ctx)
}
