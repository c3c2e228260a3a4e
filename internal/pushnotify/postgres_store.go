package pushnotify

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// PostgresConfigStore persists webhook registrations in PostgreSQL.
type PostgresConfigStore struct {
	db *sql.DB
}

// NewPostgresConfigStore creates a new PostgreSQL-backed config store.
func NewPostgresConfigStore(db *sql.DB) *PostgresConfigStore {
	return &PostgresConfigStore{db: db}
}

func (p *PostgresConfigStore) Set(ctx context.Context, cfg *Config) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO push_notification_configs (task_id, url, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (task_id) DO UPDATE SET
			url = EXCLUDED.url,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at`,
		cfg.TaskID, cfg.URL, payload, now,
	)
	return err
}

func (p *PostgresConfigStore) Get(ctx context.Context, taskID string) (*Config, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT payload FROM push_notification_configs WHERE task_id = $1`, taskID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (p *PostgresConfigStore) Delete(ctx context.Context, taskID string) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM push_notification_configs WHERE task_id = $1`, taskID)
	return err
}
