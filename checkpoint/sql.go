package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/c360studio/agentflow/workflow"
)

// SQLStore persists checkpoints as rows in a `workflow_threads` table via
// database/sql, so a deployment that already runs Postgres (via
// github.com/jackc/pgx/v5/stdlib) or wants an embedded file (via
// modernc.org/sqlite) can reuse its existing operational tooling instead of
// standing up a NATS KV bucket.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an already-opened *sql.DB. The caller is responsible
// for choosing and registering the driver and for running EnsureSchema
// once at startup. Placeholders here use Postgres ($N) syntax for
// github.com/jackc/pgx/v5/stdlib; a modernc.org/sqlite deployment should
// open through a thin placeholder-rewriting wrapper (sqlite uses `?`).
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// EnsureSchema creates the backing table if it doesn't already exist.
// Column types use widely portable SQL so the same DDL works unmodified
// against both Postgres and SQLite.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS workflow_threads (
			thread_id  TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			status     TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			document   TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("checkpoint: ensure schema: %w", err)
	}
	return nil
}

func (s *SQLStore) Save(ctx context.Context, state *workflow.WorkflowState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_threads (thread_id, project_id, status, updated_at, document)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (thread_id) DO UPDATE SET
			project_id = excluded.project_id,
			status = excluded.status,
			updated_at = excluded.updated_at,
			document = excluded.document
	`, state.ThreadID, state.ProjectID, string(state.Status), state.UpdatedAt, string(data))
	if err != nil {
		return fmt.Errorf("checkpoint: upsert: %w", err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context, threadID string) (*workflow.WorkflowState, error) {
	var document string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM workflow_threads WHERE thread_id = $1`, threadID,
	).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: select: %w", err)
	}

	var state workflow.WorkflowState
	if err := json.Unmarshal([]byte(document), &state); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal: %w", err)
	}
	return &state, nil
}

func (s *SQLStore) List(ctx context.Context, projectID string) ([]*workflow.WorkflowState, error) {
	query := `SELECT document FROM workflow_threads`
	args := []any{}
	if projectID != "" {
		query += ` WHERE project_id = $1`
		args = append(args, projectID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: select all: %w", err)
	}
	defer rows.Close()

	var out []*workflow.WorkflowState
	for rows.Next() {
		var document string
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("checkpoint: scan: %w", err)
		}
		var state workflow.WorkflowState
		if err := json.Unmarshal([]byte(document), &state); err != nil {
			continue
		}
		out = append(out, &state)
	}
	return out, rows.Err()
}

func (s *SQLStore) Delete(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflow_threads WHERE thread_id = $1`, threadID)
	if err != nil {
		return fmt.Errorf("checkpoint: delete: %w", err)
	}
	return nil
}
