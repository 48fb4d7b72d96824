package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// OperationRecord is one raw edit as received by a Gateway instance, before
// reconciliation, appended to the append-only OperationalTransform table
// per spec.md §3.
type OperationRecord struct {
	DocumentID string
	UserID     string
	Operation  string // JSON delta, opaque to this layer
	Version    int64  // client-sent base version at time of issuance
	Timestamp  time.Time
}

const createOperationalTransformTable = `
CREATE TABLE IF NOT EXISTS operational_transforms (
	id BIGSERIAL PRIMARY KEY,
	document_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	operation JSONB NOT NULL,
	version BIGINT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	UNIQUE (document_id, user_id, version, ts)
)`

// OperationLog is the Gateway's OT batch-writer sink: an append-only,
// bulk-insert table of raw operation records, distinct from the
// Reconciliation Engine's canonical Document row. Built on PostgresDB (pgx)
// rather than GORM because this path is a pure bulk INSERT with no
// optimistic-locking or struct-mapping need.
type OperationLog struct {
	db *PostgresDB
}

// NewOperationLog wraps an existing pgx-backed PostgresDB connection and
// ensures the backing table exists.
func NewOperationLog(ctx context.Context, conn *PostgresDB) (*OperationLog, error) {
	if err := conn.Exec(ctx, createOperationalTransformTable); err != nil {
		return nil, fmt.Errorf("create operational_transforms table: %w", err)
	}
	return &OperationLog{db: conn}, nil
}

// AppendBatch bulk-inserts records, skipping ones that already exist (the
// unique constraint on document/user/version/timestamp makes a retried
// flush of the same batch a no-op rather than a duplicate). Per spec.md
// §4.1, a batch is all-or-nothing only in the sense that a partial write
// failure leaves the caller free to retry the whole slice: ON CONFLICT DO
// NOTHING means a retry after a partial success only re-inserts the rows
// that are actually missing.
func (l *OperationLog) AppendBatch(ctx context.Context, records []OperationRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(
			`INSERT INTO operational_transforms (document_id, user_id, operation, version, ts)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (document_id, user_id, version, ts) DO NOTHING`,
			r.DocumentID, r.UserID, r.Operation, r.Version, r.Timestamp,
		)
	}

	br := l.db.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("append operation batch: %w", err)
		}
	}
	return nil
}
