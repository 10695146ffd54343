// Package evidence implements tamper-evident evidence packs.
//
// A Pack is a canonical snapshot of hashed artifacts plus run metadata. A Seal
// attests to a pack through three values: the SHA-256 digest of the pack's
// canonical JSON, the Merkle root of its sorted artifact hashes, and an
// optional HMAC-SHA-256 signature over a canonical subset of both.
//
// Seals are only meaningful next to their pack: VerifySeal always recomputes
// every value it can from the pack's raw artifact data and compares it with
// the seal, never the other way round.
//
// The JSON field names of Pack, Artifact and Seal are a wire contract shared
// with other implementations and must not change.
package evidence

import (
	"errors"
	"time"
)

const (
	// SchemaVersion is the pack schema version written by this package.
	SchemaVersion = "1.0"

	// SealVersion is the seal format version written by this package.
	SealVersion = "1.0"

	// Algorithm is the only digest algorithm supported for seals.
	Algorithm = "sha256"

	// EmptyRootSentinel is hashed to produce the Merkle root of an empty pack.
	EmptyRootSentinel = "empty"

	// DefaultSource is used when neither the builder nor the input names one.
	DefaultSource = "nzila"

	// TimeLayout is the timestamp layout used in packs and seals
	// (RFC 3339, UTC, millisecond precision).
	TimeLayout = "2006-01-02T15:04:05.000Z"
)

var (
	// ErrPackNotFound is returned by stores when no pack has the requested id.
	ErrPackNotFound = errors.New("evidence pack not found")

	// ErrInvalidArtifactHash is returned when an artifact hash is not a
	// 64-character lower-case hex digest.
	ErrInvalidArtifactHash = errors.New("artifact hash must be a 64-character hex sha256 digest")
)

// Artifact is a single hashed piece of evidence. Its identity is SHA256.
type Artifact struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	SHA256      string `json:"sha256"`
	Path        string `json:"path,omitempty"`
	SizeBytes   int64  `json:"sizeBytes"`
	CollectedAt string `json:"collectedAt,omitempty"`
}

// Pack is an evidence pack: what was true at GeneratedAt.
type Pack struct {
	PackID        string     `json:"packId"`
	Source        string     `json:"source"`
	SchemaVersion string     `json:"schemaVersion"`
	GeneratedAt   string     `json:"generatedAt"`
	CommitSHA     string     `json:"commitSha"`
	RunID         string     `json:"runId"`
	Artifacts     []Artifact `json:"artifacts"`
}

// Seal is the cryptographic attestation over a Pack.
type Seal struct {
	SealVersion         string `json:"sealVersion"`
	Algorithm           string `json:"algorithm"`
	PackDigest          string `json:"packDigest"`
	ArtifactsMerkleRoot string `json:"artifactsMerkleRoot"`
	ArtifactCount       int    `json:"artifactCount"`
	SealedAt            string `json:"sealedAt"`
	HMACSignature       string `json:"hmacSignature,omitempty"`
	HMACKeyID           string `json:"hmacKeyId,omitempty"`
}

// Signed reports whether the seal carries an HMAC signature.
func (s Seal) Signed() bool {
	return s.HMACSignature != ""
}

// FormatTime renders t in the pack/seal timestamp layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// PackIDForRun derives the pack id from a run id.
func PackIDForRun(runID string) string {
	return "pack-" + runID
}
