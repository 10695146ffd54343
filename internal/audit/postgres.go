package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey serialises concurrent Append calls across all lifecycled
// instances sharing a database.
const advisoryLockKey = int64(1_159_876_543)

const selectRecord = `SELECT idx, entry, data_hash, prev_hash, hash FROM audit_ledger`

// PostgresLedger persists the audit chain to PostgreSQL. The genesis row is
// written by the initial migration.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLedger creates a PostgresLedger backed by pool.
func NewPostgresLedger(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{pool: pool, logger: logger}
}

// Append implements Ledger. The tail read and insert run in one transaction
// holding an advisory lock.
func (l *PostgresLedger) Append(ctx context.Context, entry Entry) (*Record, error) {
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal audit entry: %w", err)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	prev := &Record{}
	if err := tx.QueryRow(ctx,
		"SELECT idx, hash FROM audit_ledger ORDER BY idx DESC LIMIT 1",
	).Scan(&prev.Index, &prev.Hash); err != nil {
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}

	r, err := newRecord(prev, entry)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_ledger (idx, entry_id, entity_type, target_entity_id, entry, data_hash, prev_hash, hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.Index, entry.ID, entry.EntityType, entry.TargetEntityID,
		entryJSON, r.DataHash, r.PrevHash, r.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert audit record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}

	l.logger.Debug("audit record appended",
		zap.Int("idx", r.Index),
		zap.String("entity_type", entry.EntityType),
		zap.String("target_entity_id", entry.TargetEntityID),
		zap.String("label", entry.Label),
	)
	return r, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	r := &Record{}
	var entryJSON []byte
	if err := row.Scan(&r.Index, &entryJSON, &r.DataHash, &r.PrevHash, &r.Hash); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(entryJSON, &r.Entry); err != nil {
		return nil, fmt.Errorf("decode audit entry %d: %w", r.Index, err)
	}
	return r, nil
}

// Get implements Ledger.
func (l *PostgresLedger) Get(ctx context.Context, index int) (*Record, error) {
	r, err := scanRecord(l.pool.QueryRow(ctx, selectRecord+" WHERE idx = $1", index))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: index %d", ErrRecordNotFound, index)
	}
	if err != nil {
		return nil, fmt.Errorf("get audit record %d: %w", index, err)
	}
	return r, nil
}

// Len implements Ledger.
func (l *PostgresLedger) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_ledger").Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit records: %w", err)
	}
	return n, nil
}

// Verify implements Ledger. It streams every row in index order.
func (l *PostgresLedger) Verify(ctx context.Context) error {
	rows, err := l.pool.Query(ctx, selectRecord+" ORDER BY idx ASC")
	if err != nil {
		return fmt.Errorf("query audit ledger: %w", err)
	}
	defer rows.Close()

	var prev *Record
	for rows.Next() {
		curr, err := scanRecord(rows)
		if err != nil {
			return fmt.Errorf("scan audit row: %w", err)
		}
		if err := verifyLink(prev, curr); err != nil {
			return err
		}
		prev = curr
	}
	return rows.Err()
}

// Root implements Ledger.
func (l *PostgresLedger) Root(ctx context.Context) (string, error) {
	var hash string
	if err := l.pool.QueryRow(ctx,
		"SELECT hash FROM audit_ledger ORDER BY idx DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("get ledger root: %w", err)
	}
	return hash, nil
}

// ListByTarget implements Ledger.
func (l *PostgresLedger) ListByTarget(ctx context.Context, entityType, targetEntityID string) ([]*Record, error) {
	rows, err := l.pool.Query(ctx,
		selectRecord+" WHERE entity_type = $1 AND target_entity_id = $2 AND idx > 0 ORDER BY idx ASC",
		entityType, targetEntityID,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
