// Postgres-backed Audit Chain for multi-process deployments where more than
// one Tracehound instance may append to the same chain concurrently.
// Grounded on the evidence-store pattern in the reference corpus: a
// pg_advisory_xact_lock serializes chain appends within a transaction so
// concurrent writers cannot fork the chain, and the previous hash is read
// inside that same transaction.
package audit

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tracehound/tracehound/internal/errs"
	"github.com/tracehound/tracehound/internal/evidence"
	"github.com/tracehound/tracehound/internal/hashutil"
)

const postgresChainDDL = `
CREATE TABLE IF NOT EXISTS tracehound_audit_chain (
    seq            BIGSERIAL PRIMARY KEY,
    chain_name     TEXT    NOT NULL,
    id             TEXT    NOT NULL,
    signature      TEXT    NOT NULL,
    hash           TEXT    NOT NULL,
    size           BIGINT  NOT NULL,
    ts             TIMESTAMPTZ NOT NULL,
    status         TEXT    NOT NULL,
    previous_hash  TEXT    NOT NULL,
    event_hash     TEXT    NOT NULL
);
`

// PostgresChain is a pgx-backed Chain implementation. Multiple instances
// sharing the same pool and chainName serialize appends via an advisory
// lock, so this backend (unlike FileChain/SQLiteChain) is safe to share
// across processes.
type PostgresChain struct {
	pool      *pgxpool.Pool
	chainName string
}

// OpenPostgresChain applies the schema (idempotent) and returns a
// PostgresChain scoped to chainName, allowing one Postgres database to host
// multiple independent chains.
func OpenPostgresChain(ctx context.Context, pool *pgxpool.Pool, chainName string) (*PostgresChain, *errs.Error) {
	if _, err := pool.Exec(ctx, postgresChainDDL); err != nil {
		return nil, errs.Wrap(errs.DomainRuntime, errs.RuntimeFlagMissing, err)
	}
	return &PostgresChain{pool: pool, chainName: chainName}, nil
}

func chainLockID(chainName string) int64 {
	h := fnv.New64a()
	h.Write([]byte(chainName))
	return int64(h.Sum64())
}

func (c *PostgresChain) LastHash() string {
	hash, err := c.lastHash(context.Background(), c.pool)
	if err != nil {
		return GenesisHash
	}
	return hash
}

func (c *PostgresChain) lastHash(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}) (string, error) {
	row := q.QueryRow(ctx,
		`SELECT event_hash FROM tracehound_audit_chain WHERE chain_name = $1 ORDER BY seq DESC LIMIT 1`,
		c.chainName)
	var h string
	err := row.Scan(&h)
	if err == pgx.ErrNoRows {
		return GenesisHash, nil
	}
	if err != nil {
		return "", err
	}
	return h, nil
}

func (c *PostgresChain) Append(rec evidence.NeutralizationRecord) (Entry, *errs.Error) {
	ctx := context.Background()
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return Entry{}, errs.Wrap(errs.DomainRuntime, errs.RuntimeFlagMissing, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, chainLockID(c.chainName)); err != nil {
		return Entry{}, errs.Wrap(errs.DomainRuntime, errs.RuntimeFlagMissing, err)
	}

	prevHash, err := c.lastHash(ctx, tx)
	if err != nil {
		return Entry{}, errs.Wrap(errs.DomainRuntime, errs.RuntimeFlagMissing, err)
	}
	rec.PreviousHash = prevHash

	eventHash, herr := hashRecord(rec)
	if herr != nil {
		return Entry{}, herr
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO tracehound_audit_chain
		 (chain_name, id, signature, hash, size, ts, status, previous_hash, event_hash)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		c.chainName, rec.ID, rec.Signature, rec.Hash, rec.Size,
		rec.Timestamp.UTC(), rec.Status, rec.PreviousHash, eventHash,
	)
	if err != nil {
		return Entry{}, errs.Wrap(errs.DomainRuntime, errs.RuntimeFlagMissing, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Entry{}, errs.Wrap(errs.DomainRuntime, errs.RuntimeFlagMissing, err)
	}

	return Entry{Record: rec, EventHash: eventHash}, nil
}

func (c *PostgresChain) Verify() ([]Entry, *errs.Error) {
	ctx := context.Background()
	rows, err := c.pool.Query(ctx,
		`SELECT id, signature, hash, size, ts, status, previous_hash, event_hash
		 FROM tracehound_audit_chain WHERE chain_name = $1 ORDER BY seq ASC`, c.chainName)
	if err != nil {
		return nil, errs.Wrap(errs.DomainRuntime, errs.RuntimeFlagMissing, err)
	}
	defer rows.Close()

	var entries []Entry
	prevHash := GenesisHash
	for rows.Next() {
		var rec evidence.NeutralizationRecord
		var ts time.Time
		var eventHash string
		if err := rows.Scan(&rec.ID, &rec.Signature, &rec.Hash, &rec.Size, &ts, &rec.Status, &rec.PreviousHash, &eventHash); err != nil {
			return nil, errs.Wrap(errs.DomainRuntime, errs.RuntimeFlagMissing, err)
		}
		rec.Timestamp = ts

		if rec.PreviousHash != prevHash {
			return nil, errs.New(errs.DomainRuntime, errs.RuntimeFlagMissing,
				fmt.Sprintf("audit: chain break at id %s", rec.ID))
		}
		computed, herr := hashRecord(rec)
		if herr != nil {
			return nil, herr
		}
		if !hashutil.ConstantTimeEqual(computed, eventHash) {
			return nil, errs.New(errs.DomainRuntime, errs.RuntimeFlagMissing,
				fmt.Sprintf("audit: hash mismatch at id %s", rec.ID))
		}

		entries = append(entries, Entry{Record: rec, EventHash: eventHash})
		prevHash = eventHash
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.DomainRuntime, errs.RuntimeFlagMissing, err)
	}
	return entries, nil
}

// Close is a no-op: the pool is owned by the caller, not this Chain.
func (c *PostgresChain) Close() error { return nil }
