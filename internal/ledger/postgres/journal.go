// Package postgres provides a PostgreSQL-backed [ledger.Journal] for
// deployments where order logs must outlive the host filesystem.
//
// Incremental records go to the order_journal table; final snapshots go to
// order_snapshots. [Migrate] installs both tables idempotently on start.
//
// Usage:
//
//	j, err := postgres.NewJournal(ctx, dsn)
//	if err != nil { … }
//	defer j.Close()
//
//	led, _ := ledger.New(sessionID, j)
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vocarta/vocarta/internal/ledger"
)

const ddlOrderJournal = `
CREATE TABLE IF NOT EXISTS order_journal (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    operation   TEXT         NOT NULL,
    payload     JSONB        NOT NULL DEFAULT '{}',
    timestamp   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_order_journal_session_id
    ON order_journal (session_id);

CREATE INDEX IF NOT EXISTS idx_order_journal_session_timestamp
    ON order_journal (session_id, timestamp);
`

const ddlOrderSnapshots = `
CREATE TABLE IF NOT EXISTS order_snapshots (
    session_id    TEXT         PRIMARY KEY,
    items         JSONB        NOT NULL DEFAULT '[]',
    total_count   INTEGER      NOT NULL,
    summary       TEXT         NOT NULL,
    completed_at  TIMESTAMPTZ  NOT NULL
);
`

// Migrate creates or ensures the journal tables exist. It is idempotent and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlOrderJournal, ddlOrderSnapshots} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

// Compile-time interface check.
var _ ledger.Journal = (*Journal)(nil)

// Journal is a PostgreSQL-backed [ledger.Journal]. One Journal serves every
// session: records carry their own session ID, so ledgers may share it. All
// methods are safe for concurrent use.
type Journal struct {
	pool     *pgxpool.Pool
	ownsPool bool
}

// NewJournal establishes a connection pool to the database at dsn and runs
// [Migrate]. The returned Journal owns the pool; Close releases it.
func NewJournal(ctx context.Context, dsn string) (*Journal, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres journal: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres journal: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres journal: migrate: %w", err)
	}

	return &Journal{pool: pool, ownsPool: true}, nil
}

// NewJournalWithPool wraps an existing pool. Close leaves the pool open.
func NewJournalWithPool(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

// Append implements [ledger.Journal.Append].
func (j *Journal) Append(ctx context.Context, rec ledger.Record) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("postgres journal: marshal payload: %w", err)
	}

	const q = `
		INSERT INTO order_journal (session_id, operation, payload, timestamp)
		VALUES ($1, $2, $3, $4)`

	if _, err := j.pool.Exec(ctx, q, rec.SessionID, string(rec.Operation), payload, rec.Timestamp); err != nil {
		return fmt.Errorf("postgres journal: append: %w", err)
	}
	return nil
}

// WriteSnapshot implements [ledger.Journal.WriteSnapshot]. The upsert keeps
// the write idempotent should a completed session be replayed after a crash.
func (j *Journal) WriteSnapshot(ctx context.Context, snap ledger.Snapshot) error {
	items, err := json.Marshal(snap.Items)
	if err != nil {
		return fmt.Errorf("postgres journal: marshal snapshot items: %w", err)
	}

	const q = `
		INSERT INTO order_snapshots (session_id, items, total_count, summary, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE
		SET items = EXCLUDED.items,
		    total_count = EXCLUDED.total_count,
		    summary = EXCLUDED.summary,
		    completed_at = EXCLUDED.completed_at`

	if _, err := j.pool.Exec(ctx, q, snap.SessionID, items, snap.TotalCount, snap.Summary, snap.CompletedAt); err != nil {
		return fmt.Errorf("postgres journal: write snapshot: %w", err)
	}
	return nil
}

// Close implements [ledger.Journal.Close]. It releases the connection pool
// when the journal created it.
func (j *Journal) Close() error {
	if j.ownsPool {
		j.pool.Close()
	}
	return nil
}
