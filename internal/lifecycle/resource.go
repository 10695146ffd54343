// Package lifecycle is the only place a resource's lifecycle state changes.
//
// Service.Apply reads a resource, asks the fsm engine whether the proposed
// transition is legal, writes the new state with an optimistic version check,
// records an audit entry, publishes the rendered events and actions and, for
// edges that require it, seals an evidence pack. A lost version race re-reads
// the resource and evaluates the transition again from scratch.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/anungis437/nzila-automation-sub010/internal/fsm"
)

var (
	// ErrNotFound is returned when a resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists is returned by Create for a duplicate (entity type, id).
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrVersionConflict is returned when a resource changed between read and
	// write.
	ErrVersionConflict = errors.New("resource version conflict")

	// ErrEntityMismatch is returned when the caller acts for an entity other
	// than the one owning the resource.
	ErrEntityMismatch = errors.New("resource belongs to another entity")
)

// Resource is a domain object whose status is governed by a state machine.
type Resource struct {
	EntityType       string    `json:"entityType"`
	ID               string    `json:"id"`
	ResourceEntityID string    `json:"resourceEntityId,omitempty"`
	State            fsm.State `json:"state"`
	Version          int64     `json:"version"`
	// Attributes are facts fixed at creation (e.g. who requested a payout).
	// Guards see them merged over the request payload.
	Attributes map[string]any `json:"attributes,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

func (r *Resource) clone() *Resource {
	cp := *r
	if r.Attributes != nil {
		cp.Attributes = make(map[string]any, len(r.Attributes))
		for k, v := range r.Attributes {
			cp.Attributes[k] = v
		}
	}
	return &cp
}

// Store persists resources. CompareAndSwap is the only way to change a state.
type Store interface {
	// Create inserts r with Version 1.
	Create(ctx context.Context, r *Resource) error

	// Get returns the resource or ErrNotFound.
	Get(ctx context.Context, entityType, id string) (*Resource, error)

	// CompareAndSwap moves the resource to next if its version still equals
	// version, incrementing the version. It returns the updated resource,
	// ErrVersionConflict or ErrNotFound.
	CompareAndSwap(ctx context.Context, entityType, id string, version int64, next fsm.State, at time.Time) (*Resource, error)
}
