package audit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLedger is an in-memory, thread-safe Ledger for tests and
// single-process deployments.
type MemoryLedger struct {
	mu      sync.RWMutex
	records []*Record
}

// NewMemoryLedger creates a MemoryLedger holding only the genesis record.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: []*Record{genesisRecord(time.Now())}}
}

// Append implements Ledger.
func (l *MemoryLedger) Append(_ context.Context, entry Entry) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, err := newRecord(l.records[len(l.records)-1], entry)
	if err != nil {
		return nil, err
	}
	l.records = append(l.records, r)
	return r, nil
}

// Get implements Ledger.
func (l *MemoryLedger) Get(_ context.Context, index int) (*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.records) {
		return nil, fmt.Errorf("%w: index %d", ErrRecordNotFound, index)
	}
	return l.records[index], nil
}

// Len implements Ledger.
func (l *MemoryLedger) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records), nil
}

// Verify implements Ledger.
func (l *MemoryLedger) Verify(_ context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var prev *Record
	for _, curr := range l.records {
		if err := verifyLink(prev, curr); err != nil {
			return err
		}
		prev = curr
	}
	return nil
}

// Root implements Ledger.
func (l *MemoryLedger) Root(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.records[len(l.records)-1].Hash, nil
}

// ListByTarget implements Ledger.
func (l *MemoryLedger) ListByTarget(_ context.Context, entityType, targetEntityID string) ([]*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Record
	for _, r := range l.records[1:] {
		if r.Entry.EntityType == entityType && r.Entry.TargetEntityID == targetEntityID {
			out = append(out, r)
		}
	}
	return out, nil
}
