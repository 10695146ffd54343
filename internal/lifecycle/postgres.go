package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anungis437/nzila-automation-sub010/internal/fsm"
)

const selectResource = `
	SELECT entity_type, id, resource_entity_id, state, version, attributes, created_at, updated_at
	FROM lifecycle_resources`

// PostgresStore persists resources in the lifecycle_resources table.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, r *Resource) error {
	attrs, err := json.Marshal(r.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	r.Version = 1

	tag, err := s.db.Exec(ctx, `
		INSERT INTO lifecycle_resources (
			entity_type, id, resource_entity_id, state, version, attributes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (entity_type, id) DO NOTHING`,
		r.EntityType, r.ID, r.ResourceEntityID, string(r.State), r.Version, attrs,
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert resource: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, entityType, id string) (*Resource, error) {
	r, err := scanResource(s.db.QueryRow(ctx, selectResource+` WHERE entity_type = $1 AND id = $2`, entityType, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get resource: %w", err)
	}
	return r, nil
}

// CompareAndSwap implements Store. The version predicate makes the update a
// no-op when another writer got there first.
func (s *PostgresStore) CompareAndSwap(ctx context.Context, entityType, id string, version int64, next fsm.State, at time.Time) (*Resource, error) {
	r, err := scanResource(s.db.QueryRow(ctx, `
		UPDATE lifecycle_resources
		SET state = $4, version = version + 1, updated_at = $5
		WHERE entity_type = $1 AND id = $2 AND version = $3
		RETURNING entity_type, id, resource_entity_id, state, version, attributes, created_at, updated_at`,
		entityType, id, version, string(next), at.UTC(),
	))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update resource state: %w", err)
	}

	var exists bool
	if err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM lifecycle_resources WHERE entity_type = $1 AND id = $2)`,
		entityType, id,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check resource: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}
	return nil, ErrVersionConflict
}

func scanResource(row pgx.Row) (*Resource, error) {
	r := &Resource{}
	var state string
	var attrs []byte
	if err := row.Scan(&r.EntityType, &r.ID, &r.ResourceEntityID, &state, &r.Version, &attrs, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.State = fsm.State(state)
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &r.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshal attributes: %w", err)
		}
	}
	return r, nil
}
