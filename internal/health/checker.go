package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status values reported per dependency.
const (
	StatusUnknown  = "unknown"
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Probe checks one dependency. A nil error means healthy.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// DependencyStatus is the last known state of one dependency.
type DependencyStatus struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	FailCount int       `json:"failCount"`
	LastError string    `json:"lastError,omitempty"`
	CheckedAt time.Time `json:"checkedAt,omitzero"`
}

// DegradedFunc is an optional callback invoked when a dependency crosses the
// failure threshold.
type DegradedFunc func(ctx context.Context, dependency string, err error)

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(dependency string, success bool)

// HealthChecker runs periodic dependency probes.
type HealthChecker struct {
	probes     []Probe
	mu         sync.RWMutex
	statuses   map[string]*DependencyStatus
	cfg        Config
	onDegraded DegradedFunc
	onMetrics  MetricsRecordFunc
	logger     *zap.Logger
}

// New creates a new HealthChecker.
func New(probes []Probe, cfg Config, logger *zap.Logger) *HealthChecker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	statuses := make(map[string]*DependencyStatus, len(probes))
	for _, p := range probes {
		statuses[p.Name] = &DependencyStatus{Name: p.Name, Status: StatusUnknown}
	}
	return &HealthChecker{
		probes:   probes,
		statuses: statuses,
		cfg:      cfg,
		logger:   logger,
	}
}

// SetDegradedHook configures the degraded callback.
func (h *HealthChecker) SetDegradedHook(fn DegradedFunc) {
	h.onDegraded = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (h *HealthChecker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start runs an immediate check, then one per interval until ctx is done.
func (h *HealthChecker) Start(ctx context.Context) {
	h.CheckAll(ctx)

	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll probes every dependency concurrently.
func (h *HealthChecker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range h.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()
			h.check(ctx, p)
		}(p)
	}
	wg.Wait()
}

func (h *HealthChecker) check(ctx context.Context, p Probe) {
	pctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
	err := p.Check(pctx)
	cancel()
	success := err == nil

	h.mu.Lock()
	st := h.statuses[p.Name]
	prevCount := st.FailCount
	st.CheckedAt = time.Now().UTC()
	if success {
		st.FailCount = 0
		st.LastError = ""
		st.Status = StatusHealthy
	} else {
		st.FailCount++
		st.LastError = err.Error()
		if st.FailCount >= h.cfg.FailThreshold {
			st.Status = StatusDegraded
		}
	}
	count := st.FailCount
	h.mu.Unlock()

	if h.onMetrics != nil {
		h.onMetrics(p.Name, success)
	}

	switch {
	case success && prevCount >= h.cfg.FailThreshold:
		h.logger.Info("health: recovered", zap.String("dependency", p.Name))
	case !success && count == h.cfg.FailThreshold:
		// Transition: healthy → degraded (exactly at threshold)
		h.logger.Warn("health: degraded",
			zap.String("dependency", p.Name),
			zap.Int("fail_count", count),
			zap.Error(err),
		)
		if h.onDegraded != nil {
			h.onDegraded(ctx, p.Name, err)
		}
	}
}

// Statuses returns a snapshot of every dependency, sorted by name.
func (h *HealthChecker) Statuses() []DependencyStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]DependencyStatus, 0, len(h.statuses))
	for _, st := range h.statuses {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Ready reports whether no dependency is degraded.
func (h *HealthChecker) Ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, st := range h.statuses {
		if st.Status == StatusDegraded {
			return false
		}
	}
	return true
}
