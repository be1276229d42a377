package approval

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moonbotio/moonbot/internal/dbmigrate"
	"github.com/moonbotio/moonbot/internal/moonerr"
)

// PgStore is the managed-mode Store (§4.3, C14), persisting pending
// approval requests to Postgres instead of the standalone mode's
// approvals.json. Grounded on the pgxpool.Pool-as-executor pattern from
// the pack's pgxv5 driver (youssefsiam38-agentpg/driver/pgxv5/store.go):
// a single pool, plain SQL, pgx.ErrNoRows translated to a typed error.
type PgStore struct {
	pool *pgxpool.Pool
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewPgStore connects to dsn and applies any pending schema migrations.
func NewPgStore(ctx context.Context, dsn string) (*PgStore, error) {
	if err := dbmigrate.Up(dsn, "approvals", migrationsFS, "migrations"); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect approvals database: %w", err)
	}
	return &PgStore{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *PgStore) Close() { s.pool.Close() }

func (s *PgStore) Add(req *Request) error {
	input, err := json.Marshal(req.Input)
	if err != nil {
		return fmt.Errorf("marshal approval input: %w", err)
	}
	_, err = s.pool.Exec(context.Background(), `
		INSERT INTO moonbot_approvals (id, invocation_id, tool_id, session_id, input, status, requested_by, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		req.ID, req.InvocationID, req.ToolID, req.SessionID, input, string(req.Status), req.RequestedBy, req.CreatedAt, req.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert approval request: %w", err)
	}
	return nil
}

func (s *PgStore) Get(id string) (*Request, bool) {
	row := s.pool.QueryRow(context.Background(), `
		SELECT id, invocation_id, tool_id, session_id, input, status, requested_by, created_at, expires_at, responded_at, responded_by
		FROM moonbot_approvals WHERE id = $1`, id)
	req, err := scanApproval(row)
	if err != nil {
		return nil, false
	}
	return req, true
}

func (s *PgStore) Remove(id string) error {
	_, err := s.pool.Exec(context.Background(), `DELETE FROM moonbot_approvals WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete approval request: %w", err)
	}
	return nil
}

// UpdateStatus transitions a request's status if it is currently pending,
// mirroring FileStore's atomicity guarantee (P3) via a single
// conditional UPDATE rather than file-level locking.
func (s *PgStore) UpdateStatus(id string, status Status, respondedBy string) (*Request, error) {
	ctx := context.Background()
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE moonbot_approvals SET status = $1, responded_at = $2, responded_by = $3
		WHERE id = $4 AND status = $5`,
		string(status), now, respondedBy, id, string(Pending))
	if err != nil {
		return nil, fmt.Errorf("update approval status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, ok := s.Get(id); !ok {
			return nil, moonerr.New(moonerr.ApprovalNotFound, "approval request not found")
		}
		return nil, moonerr.New(moonerr.AlreadyResolved, "approval request already resolved")
	}
	req, _ := s.Get(id)
	return req, nil
}

func (s *PgStore) ListPending() []*Request {
	rows, err := s.pool.Query(context.Background(), `
		SELECT id, invocation_id, tool_id, session_id, input, status, requested_by, created_at, expires_at, responded_at, responded_by
		FROM moonbot_approvals WHERE status = $1 ORDER BY created_at ASC`, string(Pending))
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ExpirePending flips any pending request whose deadline has passed,
// returning the affected ids, the same contract FileStore.ExpirePending
// fulfills for the periodic sweep in Manager.Run.
func (s *PgStore) ExpirePending(now time.Time) []string {
	rows, err := s.pool.Query(context.Background(), `
		UPDATE moonbot_approvals SET status = $1, responded_at = $2, responded_by = 'system'
		WHERE status = $3 AND expires_at <= $2
		RETURNING id`, string(Expired), now, string(Pending))
	if err != nil {
		return nil
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

type pgRow interface {
	Scan(dest ...any) error
}

func scanApproval(row pgRow) (*Request, error) {
	var (
		req         Request
		input       []byte
		status      string
		respondedAt *time.Time
		respondedBy *string
	)
	if err := row.Scan(&req.ID, &req.InvocationID, &req.ToolID, &req.SessionID, &input, &status, &req.RequestedBy,
		&req.CreatedAt, &req.ExpiresAt, &respondedAt, &respondedBy); err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan approval row: %w", err)
	}
	req.Status = Status(status)
	req.Input = json.RawMessage(input)
	req.RespondedAt = respondedAt
	if respondedBy != nil {
		req.RespondedBy = *respondedBy
	}
	return &req, nil
}
