// Package audit records every successful lifecycle transition.
//
// BuildTransitionAuditEntry turns an accepted fsm.Result into an Entry. Entries
// are appended to a Ledger: a hash chain that starts at a well-known genesis
// record whose Hash equals GenesisHash (64 hex zeros). Every later record
// stores the SHA-256 of its entry and the hash of its predecessor, so any
// rewrite of history is detectable with Verify.
package audit

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/anungis437/nzila-automation-sub010/internal/fsm"
)

// ErrRejectedTransition is returned when asked to audit a transition that
// did not happen.
var ErrRejectedTransition = errors.New("cannot audit a rejected transition")

// Entry is the audit record of one state change.
type Entry struct {
	ID               string    `json:"id"`
	ResourceEntityID string    `json:"resourceEntityId"`
	ActorID          string    `json:"actorId"`
	Role             string    `json:"role"`
	EntityType       string    `json:"entityType"`
	TargetEntityID   string    `json:"targetEntityId"`
	FromState        string    `json:"fromState"`
	ToState          string    `json:"toState"`
	Label            string    `json:"label"`
	Timestamp        time.Time `json:"timestamp"`
}

type buildConfig struct {
	newID func() string
	now   func() time.Time
}

// BuildOption configures BuildTransitionAuditEntry.
type BuildOption func(*buildConfig)

// WithIDFunc overrides entry id generation.
func WithIDFunc(f func() string) BuildOption {
	return func(c *buildConfig) { c.newID = f }
}

// WithClock overrides the entry timestamp source.
func WithClock(now func() time.Time) BuildOption {
	return func(c *buildConfig) { c.now = now }
}

// BuildTransitionAuditEntry maps an accepted transition to an audit entry.
// The only nondeterminism is the entry id and timestamp, both injectable.
func BuildTransitionAuditEntry(res fsm.Result, tc fsm.Context, entityType, targetEntityID string, opts ...BuildOption) (Entry, error) {
	if !res.OK() {
		return Entry{}, ErrRejectedTransition
	}
	cfg := buildConfig{
		newID: func() string { return uuid.New().String() },
		now:   time.Now,
	}
	for _, o := range opts {
		o(&cfg)
	}
	return Entry{
		ID:               cfg.newID(),
		ResourceEntityID: tc.ResourceEntityID,
		ActorID:          tc.ActorID,
		Role:             string(tc.Role),
		EntityType:       entityType,
		TargetEntityID:   targetEntityID,
		FromState:        string(res.From),
		ToState:          string(res.To),
		Label:            res.Label,
		Timestamp:        cfg.now().UTC(),
	}, nil
}
