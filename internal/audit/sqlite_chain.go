// SQLite-backed Audit Chain: a durable, cgo-free alternative to FileChain
// for single-node deployments that want crash-safe chain state without a
// JSONL file to replay on every restart. Grounded directly on the
// teacher's internal/queue.SQLiteQueue: WAL journal mode, a single-writer
// connection pool, and an idempotent embedded schema.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/tracehound/tracehound/internal/errs"
	"github.com/tracehound/tracehound/internal/evidence"
	"github.com/tracehound/tracehound/internal/hashutil"
)

const chainDDL = `
CREATE TABLE IF NOT EXISTS audit_chain (
    seq            INTEGER PRIMARY KEY AUTOINCREMENT,
    id             TEXT    NOT NULL,
    signature      TEXT    NOT NULL,
    hash           TEXT    NOT NULL,
    size           INTEGER NOT NULL,
    ts             TEXT    NOT NULL,
    status         TEXT    NOT NULL,
    previous_hash  TEXT    NOT NULL,
    event_hash     TEXT    NOT NULL
);
`

// SQLiteChain is a WAL-mode SQLite-backed Chain implementation.
type SQLiteChain struct {
	mu       sync.Mutex
	db       *sql.DB
	prevHash string
}

// OpenSQLiteChain opens (or creates) the SQLite database at path, applies
// the schema, and restores prevHash from the last stored row.
func OpenSQLiteChain(path string) (*SQLiteChain, *errs.Error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap(errs.DomainRuntime, errs.RuntimeFlagMissing, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(errs.DomainRuntime, errs.RuntimeFlagMissing, err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(errs.DomainRuntime, errs.RuntimeFlagMissing, err)
	}
	if _, err := db.Exec(chainDDL); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(errs.DomainRuntime, errs.RuntimeFlagMissing, err)
	}

	prevHash := GenesisHash
	row := db.QueryRow(`SELECT event_hash FROM audit_chain ORDER BY seq DESC LIMIT 1`)
	var last string
	if err := row.Scan(&last); err == nil {
		prevHash = last
	} else if err != sql.ErrNoRows {
		_ = db.Close()
		return nil, errs.Wrap(errs.DomainRuntime, errs.RuntimeFlagMissing, err)
	}

	return &SQLiteChain{db: db, prevHash: prevHash}, nil
}

func (c *SQLiteChain) LastHash() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prevHash
}

func (c *SQLiteChain) Append(rec evidence.NeutralizationRecord) (Entry, *errs.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec.PreviousHash = c.prevHash
	eventHash, herr := hashRecord(rec)
	if herr != nil {
		return Entry{}, herr
	}

	_, err := c.db.ExecContext(context.Background(),
		`INSERT INTO audit_chain (id, signature, hash, size, ts, status, previous_hash, event_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Signature, rec.Hash, rec.Size,
		rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.Status, rec.PreviousHash, eventHash,
	)
	if err != nil {
		return Entry{}, errs.Wrap(errs.DomainRuntime, errs.RuntimeFlagMissing, err)
	}

	c.prevHash = eventHash
	return Entry{Record: rec, EventHash: eventHash}, nil
}

func (c *SQLiteChain) Verify() ([]Entry, *errs.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.QueryContext(context.Background(),
		`SELECT id, signature, hash, size, ts, status, previous_hash, event_hash
		 FROM audit_chain ORDER BY seq ASC`)
	if err != nil {
		return nil, errs.Wrap(errs.DomainRuntime, errs.RuntimeFlagMissing, err)
	}
	defer rows.Close()

	var entries []Entry
	prevHash := GenesisHash
	for rows.Next() {
		var rec evidence.NeutralizationRecord
		var tsStr, eventHash string
		if err := rows.Scan(&rec.ID, &rec.Signature, &rec.Hash, &rec.Size, &tsStr, &rec.Status, &rec.PreviousHash, &eventHash); err != nil {
			return nil, errs.Wrap(errs.DomainRuntime, errs.RuntimeFlagMissing, err)
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, tsStr)

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

func (c *SQLiteChain) Close() error {
	return c.db.Close()
}
