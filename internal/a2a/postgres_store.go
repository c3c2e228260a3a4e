package a2a

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// PostgresStore persists task state in PostgreSQL. The aggregated task is
// stored as a JSONB payload alongside the columns queries filter on.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed task store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Save(ctx context.Context, task *Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO tasks (id, context_id, state, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at`,
		task.ID, task.ContextID, string(task.Status.State), payload, now,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, taskID string) (*Task, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT payload FROM tasks WHERE id = $1`, taskID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	var t Task
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
