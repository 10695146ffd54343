package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStore persists sealed packs in the evidence_packs table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Save implements Store. A pack id can only be written once.
func (s *PostgresStore) Save(ctx context.Context, p Pack, seal Seal) error {
	packJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pack: %w", err)
	}
	sealJSON, err := json.Marshal(seal)
	if err != nil {
		return fmt.Errorf("marshal seal: %w", err)
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO evidence_packs (pack_id, run_id, merkle_root, sealed_at, pack, seal)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.PackID, p.RunID, seal.ArtifactsMerkleRoot, seal.SealedAt, packJSON, sealJSON,
	); err != nil {
		return fmt.Errorf("insert evidence pack: %w", err)
	}

	s.logger.Debug("evidence pack stored",
		zap.String("pack_id", p.PackID),
		zap.String("merkle_root", seal.ArtifactsMerkleRoot),
	)
	return nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, packID string) (Pack, Seal, error) {
	var packJSON, sealJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT pack, seal FROM evidence_packs WHERE pack_id = $1`, packID,
	).Scan(&packJSON, &sealJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return Pack{}, Seal{}, fmt.Errorf("%w: %s", ErrPackNotFound, packID)
	}
	if err != nil {
		return Pack{}, Seal{}, fmt.Errorf("load evidence pack %s: %w", packID, err)
	}

	var p Pack
	if err := json.Unmarshal(packJSON, &p); err != nil {
		return Pack{}, Seal{}, fmt.Errorf("decode pack %s: %w", packID, err)
	}
	var seal Seal
	if err := json.Unmarshal(sealJSON, &seal); err != nil {
		return Pack{}, Seal{}, fmt.Errorf("decode seal %s: %w", packID, err)
	}
	return p, seal, nil
}
