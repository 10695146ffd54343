package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// ── Stubs ────────────────────────────────────────────────────────────────

type flakyProbe struct {
	mu  sync.Mutex
	err error
}

func (f *flakyProbe) set(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *flakyProbe) check(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestNew_defaults(t *testing.T) {
	h := New(nil, Config{}, zap.NewNop())
	if h.cfg.FailThreshold != 3 || h.cfg.CheckInterval == 0 || h.cfg.ProbeTimeout == 0 {
		t.Errorf("unexpected defaults: %+v", h.cfg)
	}
	if !h.Ready() {
		t.Error("a checker without probes should be ready")
	}
}

func TestCheckAll_healthy(t *testing.T) {
	h := New([]Probe{{Name: "postgres", Check: func(context.Context) error { return nil }}}, Config{}, zap.NewNop())

	st := h.Statuses()
	if st[0].Status != StatusUnknown {
		t.Errorf("expected unknown before first check, got %q", st[0].Status)
	}

	h.CheckAll(context.Background())
	st = h.Statuses()
	if st[0].Status != StatusHealthy {
		t.Errorf("expected healthy, got %q", st[0].Status)
	}
	if st[0].CheckedAt.IsZero() {
		t.Error("expected CheckedAt to be set")
	}
}

func TestCheckAll_degradesAfterThreshold(t *testing.T) {
	probe := &flakyProbe{err: errors.New("connection refused")}
	h := New([]Probe{{Name: "redis", Check: probe.check}}, Config{FailThreshold: 2}, zap.NewNop())

	var degraded []string
	h.SetDegradedHook(func(_ context.Context, dep string, _ error) { degraded = append(degraded, dep) })
	var results []bool
	h.SetMetricsRecord(func(_ string, ok bool) { results = append(results, ok) })

	ctx := context.Background()
	h.CheckAll(ctx)
	if !h.Ready() {
		t.Error("one failure below the threshold should not degrade")
	}

	h.CheckAll(ctx)
	if h.Ready() {
		t.Error("expected not ready after reaching the threshold")
	}
	st := h.Statuses()[0]
	if st.Status != StatusDegraded || st.FailCount != 2 || st.LastError != "connection refused" {
		t.Errorf("unexpected status: %+v", st)
	}

	h.CheckAll(ctx)
	if len(degraded) != 1 {
		t.Errorf("degraded hook should fire once, fired %d times", len(degraded))
	}

	probe.set(nil)
	h.CheckAll(ctx)
	if !h.Ready() {
		t.Error("expected recovery after a successful probe")
	}
	if len(results) != 4 || results[3] != true {
		t.Errorf("unexpected metrics: %v", results)
	}
}

func TestCheckAll_probeTimeout(t *testing.T) {
	slow := Probe{Name: "kafka", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	h := New([]Probe{slow}, Config{ProbeTimeout: 10 * time.Millisecond, FailThreshold: 1}, zap.NewNop())

	h.CheckAll(context.Background())
	if h.Ready() {
		t.Error("expected a timed out probe to degrade")
	}
}

func TestStatuses_sorted(t *testing.T) {
	ok := func(context.Context) error { return nil }
	h := New([]Probe{{Name: "redis", Check: ok}, {Name: "audit", Check: ok}, {Name: "postgres", Check: ok}}, Config{}, zap.NewNop())

	st := h.Statuses()
	if st[0].Name != "audit" || st[1].Name != "postgres" || st[2].Name != "redis" {
		t.Errorf("unexpected order: %v", st)
	}
}
