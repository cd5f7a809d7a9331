package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS gateway_snapshots (
	name       TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	saved_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	upsertSQL = `INSERT INTO gateway_snapshots (name, data, saved_at) VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, saved_at = EXCLUDED.saved_at`
	selectSQL = `SELECT data FROM gateway_snapshots WHERE name = $1`

	defaultSnapshotName = "default"
)

// PostgresStore keeps the snapshot as one row of gateway_snapshots.
type PostgresStore struct {
	pool *pgxpool.Pool
	name string
}

// NewPostgresStore connects, verifies the connection and creates the table
// when missing.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("snapshot: invalid database URL: %w", err)
	}
	poolConfig.MaxConns = 2
	poolConfig.ConnConfig.ConnectTimeout = 5 * time.Second

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("snapshot: failed to connect: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("snapshot: ping failed: %w", err)
	}
	if _, err := pool.Exec(connectCtx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("snapshot: failed to create table: %w", err)
	}
	return &PostgresStore{pool: pool, name: defaultSnapshotName}, nil
}

func (s *PostgresStore) Name() string { return "postgres" }

func (s *PostgresStore) Save(ctx context.Context, data []byte) error {
	_, err := s.pool.Exec(ctx, upsertSQL, s.name, data)
	return err
}

func (s *PostgresStore) Load(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, selectSQL, s.name).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
