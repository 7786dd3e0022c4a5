package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"offerx/internal/engine"
)

// PostgresSnapshots keeps the latest snapshot in a single-row table.
type PostgresSnapshots struct {
	pool *pgxpool.Pool
}

const createStateTableSQL = `
CREATE TABLE IF NOT EXISTS exchange_state (
    id INT PRIMARY KEY CHECK (id = 1),
    state JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func NewPostgresSnapshots(ctx context.Context, dsn string) (*PostgresSnapshots, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createStateTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresSnapshots{pool: pool}, nil
}

func (p *PostgresSnapshots) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresSnapshots) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresSnapshots) Load(ctx context.Context) (*engine.Snapshot, error) {
	var blob []byte
	err := p.pool.QueryRow(ctx, `SELECT state FROM exchange_state WHERE id = 1`).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap engine.Snapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (p *PostgresSnapshots) Save(ctx context.Context, snap *engine.Snapshot) error {
	blob, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO exchange_state (id, state, updated_at)
VALUES (1, $1, now())
ON CONFLICT (id) DO UPDATE
SET state = EXCLUDED.state,
    updated_at = now()
`, blob)
	return err
}
