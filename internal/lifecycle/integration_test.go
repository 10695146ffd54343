//go:build integration

package lifecycle_test

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/anungis437/nzila-automation-sub010/internal/audit"
	"github.com/anungis437/nzila-automation-sub010/internal/evidence"
	"github.com/anungis437/nzila-automation-sub010/internal/fsm"
	"github.com/anungis437/nzila-automation-sub010/internal/lifecycle"
	"github.com/anungis437/nzila-automation-sub010/internal/testutil/containers"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	testStore(t, lifecycle.NewPostgresStore(containers.Postgres(t)))
}

func TestRedisStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	testStore(t, lifecycle.NewRedisStore(containers.Redis(t)))
}

func TestRedisStore_ConcurrentSwapsCommitOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := lifecycle.NewRedisStore(containers.Redis(t))
	require.NoError(t, s.Create(ctx, &lifecycle.Resource{EntityType: "payout", ID: "po-race", State: "PENDING"}))

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, conflicts := 0, 0
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CompareAndSwap(ctx, "payout", "po-race", 1, "APPROVED", fixedNow)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if assert.ErrorIs(t, err, lifecycle.ErrVersionConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, conflicts)
}

func TestService_Postgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pool := containers.Postgres(t)

	m, err := fsm.Load(strings.NewReader(payoutMachine), nil)
	require.NoError(t, err)
	ledger := audit.NewPostgresLedger(pool, zap.NewNop())
	packs := evidence.NewPostgresStore(pool, zap.NewNop())
	kr := evidence.NewKeyring("k1", sealKey)

	svc := lifecycle.NewService(fsm.NewCatalog(m), lifecycle.NewPostgresStore(pool), ledger, zap.NewNop())
	svc.SetEvidence(nil, packs, kr)

	_, err = svc.Create(ctx, lifecycle.CreateRequest{
		EntityType: "payout",
		ID:         "po-pg",
		Attributes: map[string]any{"requestedBy": "creator-7"},
	})
	require.NoError(t, err)

	_, err = svc.Apply(ctx, approve("po-pg", "fin-1"))
	require.NoError(t, err)
	out, err := svc.Apply(ctx, lifecycle.ApplyRequest{
		EntityType: "payout",
		ID:         "po-pg",
		Target:     "PAID",
		Context:    fsm.Context{ActorID: "bank-bot", Role: "system"},
	})
	require.NoError(t, err)
	require.NotNil(t, out.Pack)

	require.NoError(t, ledger.Verify(ctx))
	history, err := svc.History(ctx, "payout", "po-pg")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "settle", history[1].Entry.Label)

	pack, seal, err := packs.Load(ctx, out.Pack.PackID)
	require.NoError(t, err)
	opts, err := kr.VerifyOptionsFor(seal)
	require.NoError(t, err)
	res := evidence.VerifySeal(pack, seal, opts)
	assert.Equal(t, evidence.VerdictValid, res.Verdict, res.Reason)
}
