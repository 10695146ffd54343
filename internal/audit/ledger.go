package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anungis437/nzila-automation-sub010/internal/evidence"
	"github.com/anungis437/nzila-automation-sub010/pkg/hashops"
)

// GenesisHash is the hash of the genesis record. All later hashes chain from
// this constant.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

const genesisLabel = "genesis"

// ErrRecordNotFound is returned by Get for an index outside the chain.
var ErrRecordNotFound = errors.New("audit record not found")

// Record is an Entry placed in the chain.
type Record struct {
	Index    int    `json:"index"`
	Entry    Entry  `json:"entry"`
	DataHash string `json:"dataHash"` // SHA-256 of the entry's canonical JSON
	PrevHash string `json:"prevHash"`
	Hash     string `json:"hash"`
}

// Ledger is the append-only audit chain. MemoryLedger and PostgresLedger
// implement it.
type Ledger interface {
	// Append chains entry after the current tip.
	Append(ctx context.Context, entry Entry) (*Record, error)

	// Get returns the record at the zero-based index.
	Get(ctx context.Context, index int) (*Record, error)

	// Len returns the number of records, genesis included.
	Len(ctx context.Context) (int, error)

	// Verify walks the chain and returns nil if it is intact.
	Verify(ctx context.Context) error

	// Root returns the hash of the most recent record.
	Root(ctx context.Context) (string, error)

	// ListByTarget returns the records of one resource, oldest first.
	ListByTarget(ctx context.Context, entityType, targetEntityID string) ([]*Record, error)
}

func genesisRecord(ts time.Time) *Record {
	return &Record{
		Index: 0,
		Entry: Entry{
			ID:        genesisLabel,
			Label:     genesisLabel,
			Timestamp: ts.UTC(),
		},
		DataHash: GenesisHash,
		PrevHash: GenesisHash,
		Hash:     GenesisHash,
	}
}

// entryHash returns the SHA-256 of the canonical JSON of e.
func entryHash(e Entry) (string, error) {
	b, err := evidence.CanonicalJSON(e)
	if err != nil {
		return "", fmt.Errorf("canonicalize audit entry: %w", err)
	}
	return hashops.SumHex(b), nil
}

// hashRecord computes a record's chain hash. Never called on genesis.
func hashRecord(r *Record) string {
	return hashops.SumHexString(fmt.Sprintf("%d|%s|%s|%s", r.Index, r.Entry.ID, r.DataHash, r.PrevHash))
}

// newRecord builds the record following prev.
func newRecord(prev *Record, entry Entry) (*Record, error) {
	dataHash, err := entryHash(entry)
	if err != nil {
		return nil, err
	}
	r := &Record{
		Index:    prev.Index + 1,
		Entry:    entry,
		DataHash: dataHash,
		PrevHash: prev.Hash,
	}
	r.Hash = hashRecord(r)
	return r, nil
}

// verifyLink checks curr against its predecessor. prev is nil for genesis.
func verifyLink(prev, curr *Record) error {
	if prev == nil {
		if curr.Hash != GenesisHash {
			return fmt.Errorf("genesis record has wrong hash: got %q", curr.Hash)
		}
		return nil
	}
	if curr.PrevHash != prev.Hash {
		return fmt.Errorf("hash chain broken at index %d", curr.Index)
	}
	dataHash, err := entryHash(curr.Entry)
	if err != nil {
		return err
	}
	if dataHash != curr.DataHash {
		return fmt.Errorf("record %d entry does not match its data hash", curr.Index)
	}
	if curr.Hash != hashRecord(curr) {
		return fmt.Errorf("record %d has invalid hash", curr.Index)
	}
	return nil
}
