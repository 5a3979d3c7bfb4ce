package coldstorage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresObjectDDL = `
CREATE TABLE IF NOT EXISTS tracehound_cold_objects (
	object_key TEXT PRIMARY KEY,
	body       BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// postgresStore is a table-backed objectStore, grounded on the reference
// corpus's pgxpool Store: a connection pool opened once, operations
// executed immediately (no batching, since cold-storage writes are
// already rare relative to the alert-ingestion path that pattern batches).
type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs an Adapter backed by a Postgres table. The
// caller owns pool's lifecycle.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, prefix string) (*Adapter, error) {
	if _, err := pool.Exec(ctx, postgresObjectDDL); err != nil {
		return nil, fmt.Errorf("coldstorage: failed to ensure schema: %w", err)
	}
	return newAdapter(&postgresStore{pool: pool}, prefix), nil
}

func (s *postgresStore) putObject(ctx context.Context, key string, body []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tracehound_cold_objects (object_key, body, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (object_key) DO UPDATE SET
			body       = EXCLUDED.body,
			updated_at = EXCLUDED.updated_at`,
		key, body)
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

func (s *postgresStore) getObject(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM tracehound_cold_objects WHERE object_key = $1`, key).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("object not found: %s", key)
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	return body, nil
}

func (s *postgresStore) deleteObject(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tracehound_cold_objects WHERE object_key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (s *postgresStore) headBucket(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
