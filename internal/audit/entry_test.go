package audit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anungis437/nzila-automation-sub010/internal/audit"
	"github.com/anungis437/nzila-automation-sub010/internal/fsm"
)

var fixedNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.FixedZone("EST", -5*3600))

func approved() fsm.Result {
	return fsm.Result{From: "PENDING", To: "APPROVED", Label: "approve"}
}

func TestBuildTransitionAuditEntry(t *testing.T) {
	tc := fsm.Context{ActorID: "fin-1", Role: "finance", ResourceEntityID: "org-1"}

	e, err := audit.BuildTransitionAuditEntry(approved(), tc, "payout", "po-1",
		audit.WithIDFunc(func() string { return "audit-1" }),
		audit.WithClock(func() time.Time { return fixedNow }),
	)
	require.NoError(t, err)

	assert.Equal(t, audit.Entry{
		ID:               "audit-1",
		ResourceEntityID: "org-1",
		ActorID:          "fin-1",
		Role:             "finance",
		EntityType:       "payout",
		TargetEntityID:   "po-1",
		FromState:        "PENDING",
		ToState:          "APPROVED",
		Label:            "approve",
		Timestamp:        fixedNow.UTC(),
	}, e)
	assert.Equal(t, time.UTC, e.Timestamp.Location())
}

func TestBuildTransitionAuditEntry_DefaultID(t *testing.T) {
	a, err := audit.BuildTransitionAuditEntry(approved(), fsm.Context{ActorID: "u"}, "payout", "po-1")
	require.NoError(t, err)
	b, err := audit.BuildTransitionAuditEntry(approved(), fsm.Context{ActorID: "u"}, "payout", "po-1")
	require.NoError(t, err)

	assert.Len(t, a.ID, 36)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.Timestamp.IsZero())
}

func TestBuildTransitionAuditEntry_RejectedResult(t *testing.T) {
	res := fsm.Result{
		From: "PENDING",
		To:   "APPROVED",
		Rejection: &fsm.Rejection{
			Code:    fsm.CodeRoleDenied,
			Message: "role creator may not approve",
		},
	}
	_, err := audit.BuildTransitionAuditEntry(res, fsm.Context{ActorID: "u"}, "payout", "po-1")
	assert.ErrorIs(t, err, audit.ErrRejectedTransition)
}
