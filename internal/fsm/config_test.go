package fsm_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anungis437/nzila-automation-sub010/internal/fsm"
)

const sampleMachine = `
name: invoice
states: [DRAFT, SENT, PAID, VOID]
initial: DRAFT
terminal: [PAID, VOID]
transitions:
  - from: DRAFT
    to: SENT
    label: send
    roles: [billing]
    guards:
      - kind: payload_number_gt
        field: total
        value: 0
    events:
      - type: invoice.sent
        data:
          id: "{{resourceId}}"
    timeout: 720h
  - from: SENT
    to: PAID
    label: pay
    roles: [system]
    evidenceRequired: true
  - from: SENT
    to: VOID
    label: void
    roles: [billing]
    evidenceRequired: true
`

func TestLoad(t *testing.T) {
	m, err := fsm.Load(strings.NewReader(sampleMachine), nil)
	require.NoError(t, err)

	assert.Equal(t, "invoice", m.Name)
	assert.Equal(t, fsm.State("DRAFT"), m.Initial)
	require.Len(t, m.Transitions, 3)
	send := m.Transitions[0]
	assert.Equal(t, 720*time.Hour, send.Timeout)
	require.Len(t, send.Guards, 1)
	assert.True(t, m.Transitions[1].EvidenceRequired)

	res := fsm.Attempt(m, "DRAFT", "SENT", fsm.Context{ActorID: "u", Role: "billing"}, "inv-1", fsm.Payload{"total": 12.5})
	require.True(t, res.OK(), "%v", res.Err())
	assert.Equal(t, "inv-1", res.Events[0].Data["id"])

	res = fsm.Attempt(m, "DRAFT", "SENT", fsm.Context{ActorID: "u", Role: "billing"}, "inv-1", fsm.Payload{"total": 0})
	assert.Equal(t, fsm.CodeGuardFailure, res.Rejection.Code)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown key", sampleMachine + "\nowner: me\n", "owner"},
		{"missing name", strings.Replace(sampleMachine, "name: invoice", "", 1), "Name"},
		{"bad timeout", strings.Replace(sampleMachine, "720h", "a month", 1), "timeout"},
		{"unknown guard", strings.Replace(sampleMachine, "payload_number_gt", "payload_vibes", 1), "unknown guard kind"},
		{"edge out of terminal", sampleMachine + `  - from: PAID
    to: SENT
    label: refund
    roles: [billing]
`, "must have no outgoing edges"},
		{"missing roles", strings.Replace(sampleMachine, "roles: [system]", "roles: []", 1), "Roles"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fsm.Load(strings.NewReader(tc.doc), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadDir_SampleMachines(t *testing.T) {
	cat, err := fsm.LoadDir(filepath.Join("..", "..", "configs", "machines"), fsm.NewGuardRegistry())
	require.NoError(t, err)

	assert.Equal(t, []string{"deal", "exam_session", "grievance", "payout", "quote"}, cat.Names())
	assert.Equal(t, 5, cat.Len())

	payout, err := cat.Get("payout")
	require.NoError(t, err)

	approve := func(role fsm.Role, payload fsm.Payload) fsm.Result {
		return fsm.Attempt(payout, "PENDING", "APPROVED",
			fsm.Context{ActorID: "fin-1", Role: role, ResourceEntityID: "org-1"}, "po-1", payload)
	}
	ok := fsm.Payload{"amount": 250, "currency": "CAD", "requestedBy": "creator-7"}

	assert.Equal(t, fsm.CodeRoleDenied, approve("creator", ok).Rejection.Code)
	res := approve("finance", ok)
	require.True(t, res.OK(), "%v", res.Err())
	assert.Equal(t, "250", res.Events[0].Data["amount"])

	self := fsm.Payload{"amount": 250, "currency": "CAD", "requestedBy": "fin-1"}
	rej := approve("finance", self).Rejection
	require.NotNil(t, rej)
	assert.Equal(t, fsm.CodeGuardFailure, rej.Code)
	assert.Equal(t, "the requester cannot approve their own payout", rej.Message)

	_, err = cat.Get("spaceship")
	assert.ErrorIs(t, err, fsm.ErrUnknownMachine)
}

func TestLoadDir_DuplicateNames(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(sampleMachine), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte(sampleMachine), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))

	_, err := fsm.LoadDir(dir, nil)
	assert.ErrorContains(t, err, "registered twice")
}

func TestCatalog_RejectsInvalidMachine(t *testing.T) {
	cat := fsm.NewCatalog()
	m := financeMachine()
	m.Initial = "NOPE"
	assert.ErrorIs(t, cat.Register(m), fsm.ErrInvalidMachine)
	assert.Equal(t, 0, cat.Len())
}
