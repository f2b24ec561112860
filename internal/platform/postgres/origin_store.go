package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dthorne/ratchet/internal/platform/logger"
	"github.com/dthorne/ratchet/internal/store"
)

// Record is one persisted key/value pair in the origin store.
type Record struct {
	Key       string
	Value     []byte
	UpdatedAt time.Time
}

// OriginStore is the persistent tier behind the cache hierarchy. Cache
// misses fall through to Get; batch jobs land their chunks with BulkPut.
//
// It expects a single table:
//
//	CREATE TABLE origin_records (
//	    key        TEXT PRIMARY KEY,
//	    value      BYTEA NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL
//	);
type OriginStore struct {
	db store.DBTX
}

// NewOriginStore creates an OriginStore over db, which may be a *sql.DB or
// a *sql.Tx.
func NewOriginStore(db store.DBTX) *OriginStore {
	return &OriginStore{db: db}
}

// WithTx returns a copy of the store bound to the given transaction.
func (s *OriginStore) WithTx(tx *sql.Tx) *OriginStore {
	return &OriginStore{db: tx}
}

// Get returns the value stored under key, or store.ErrNotFound.
func (s *OriginStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT value FROM origin_records WHERE key = $1`

	var value []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err != nil {
		return nil, MapError(err)
	}
	return value, nil
}

// BulkPut upserts all records in a single multi-row INSERT round-trip and
// returns the number of rows written. An empty slice is a no-op.
func (s *OriginStore) BulkPut(ctx context.Context, records []Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	query, args := bulkUpsertQuery(records)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		logger.FromContext(ctx).Error("failed to bulk upsert records",
			"count", len(records),
			"error", err)
		return 0, MapError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(affected), nil
}

// Delete removes the record, reporting false without error when the key
// never existed.
func (s *OriginStore) Delete(ctx context.Context, key string) (bool, error) {
	query := `DELETE FROM origin_records WHERE key = $1`

	result, err := s.db.ExecContext(ctx, query, key)
	if err != nil {
		return false, MapError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListKeys returns up to max keys under the prefix in lexical order.
// max <= 0 means no limit.
func (s *OriginStore) ListKeys(ctx context.Context, prefix string, max int) ([]string, error) {
	query := `SELECT key FROM origin_records WHERE key LIKE $1 || '%' ORDER BY key`
	args := []any{prefix}
	if max > 0 {
		query += ` LIMIT $2`
		args = append(args, max)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key row: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating key rows: %w", err)
	}
	return keys, nil
}

// ReplaceNamespace atomically swaps every record under the prefix for the
// given set: existing keys are removed and the new records inserted within
// one transaction.
func ReplaceNamespace(ctx context.Context, db *sql.DB, prefix string, records []Record) error {
	return store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM origin_records WHERE key LIKE $1 || '%'`, prefix); err != nil {
			return fmt.Errorf("failed to clear namespace %q: %w", prefix, MapError(err))
		}

		txStore := NewOriginStore(tx)
		if _, err := txStore.BulkPut(ctx, records); err != nil {
			return fmt.Errorf("failed to repopulate namespace %q: %w", prefix, err)
		}
		return nil
	})
}

// bulkUpsertQuery builds the multi-row INSERT ... ON CONFLICT statement and
// its flattened argument list. Missing UpdatedAt values default to now.
func bulkUpsertQuery(records []Record) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO origin_records (key, value, updated_at) VALUES `)

	args := make([]any, 0, len(records)*3)
	now := time.Now().UTC()
	for i, r := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d, $%d)", i*3+1, i*3+2, i*3+3)

		updatedAt := r.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = now
		}
		args = append(args, r.Key, r.Value, updatedAt)
	}

	sb.WriteString(` ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`)
	return sb.String(), args
}
