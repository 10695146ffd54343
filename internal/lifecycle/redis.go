package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/anungis437/nzila-automation-sub010/internal/fsm"
)

const redisKeyPrefix = "nzila:resource:"

// RedisStore keeps each resource as a JSON string. State changes use
// WATCH/MULTI so a concurrent write aborts the transaction.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(entityType, id string) string {
	return redisKeyPrefix + entityType + ":" + id
}

// Create implements Store.
func (s *RedisStore) Create(ctx context.Context, r *Resource) error {
	r.Version = 1
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal resource: %w", err)
	}
	ok, err := s.client.SetNX(ctx, redisKey(r.EntityType, r.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, entityType, id string) (*Resource, error) {
	return s.get(ctx, s.client, redisKey(entityType, id))
}

func (s *RedisStore) get(ctx context.Context, c redis.Cmdable, key string) (*Resource, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get resource: %w", err)
	}
	var r Resource
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal resource: %w", err)
	}
	return &r, nil
}

// CompareAndSwap implements Store.
func (s *RedisStore) CompareAndSwap(ctx context.Context, entityType, id string, version int64, next fsm.State, at time.Time) (*Resource, error) {
	key := redisKey(entityType, id)
	var updated *Resource

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		r, err := s.get(ctx, tx, key)
		if err != nil {
			return err
		}
		if r.Version != version {
			return ErrVersionConflict
		}
		r.State = next
		r.Version++
		r.UpdatedAt = at.UTC()
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal resource: %w", err)
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		}); err != nil {
			return err
		}
		updated = r
		return nil
	}, key)

	switch {
	case err == nil:
		return updated, nil
	case errors.Is(err, redis.TxFailedErr):
		return nil, ErrVersionConflict
	case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrNotFound):
		return nil, err
	default:
		return nil, fmt.Errorf("update resource state: %w", err)
	}
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
