package evidence

import (
	"fmt"
	"time"

	"github.com/anungis437/nzila-automation-sub010/pkg/hashops"
)

// SealOptions controls GenerateSeal. A zero value produces an unsigned seal
// stamped with the current time.
type SealOptions struct {
	// Key signs the seal with HMAC-SHA-256 when non-empty.
	Key []byte
	// KeyID is recorded as hmacKeyId. Defaults to KeyFingerprint(Key).
	KeyID string
	// Now overrides the clock used for sealedAt.
	Now func() time.Time
}

// signedFields is the canonical subset covered by the HMAC signature.
type signedFields struct {
	ArtifactCount int    `json:"artifactCount"`
	CommitSHA     string `json:"commitSha"`
	MerkleRoot    string `json:"merkleRoot"`
	RunID         string `json:"runId"`
	SealedAt      string `json:"sealedAt"`
}

func signingPayload(merkleRoot, sealedAt string, p Pack) ([]byte, error) {
	return CanonicalJSON(signedFields{
		ArtifactCount: len(p.Artifacts),
		CommitSHA:     p.CommitSHA,
		MerkleRoot:    merkleRoot,
		RunID:         p.RunID,
		SealedAt:      sealedAt,
	})
}

// GenerateSeal seals p. The pack is canonicalized first, so artifact order
// does not affect the result. Every artifact hash must be a lower-case hex
// SHA-256 digest.
func GenerateSeal(p Pack, opts SealOptions) (Seal, error) {
	for _, a := range p.Artifacts {
		if !hashops.IsHexDigest(a.SHA256) {
			return Seal{}, fmt.Errorf("artifact %q: %w", a.Name, ErrInvalidArtifactHash)
		}
	}

	digest, err := PackDigest(p)
	if err != nil {
		return Seal{}, err
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	seal := Seal{
		SealVersion:         SealVersion,
		Algorithm:           Algorithm,
		PackDigest:          digest,
		ArtifactsMerkleRoot: ComputeMerkleRoot(SortedHashes(p)),
		ArtifactCount:       len(p.Artifacts),
		SealedAt:            FormatTime(now()),
	}

	if len(opts.Key) > 0 {
		payload, err := signingPayload(seal.ArtifactsMerkleRoot, seal.SealedAt, p)
		if err != nil {
			return Seal{}, fmt.Errorf("build signing payload: %w", err)
		}
		seal.HMACSignature = hashops.HMACHex(opts.Key, payload)
		seal.HMACKeyID = opts.KeyID
		if seal.HMACKeyID == "" {
			seal.HMACKeyID = KeyFingerprint(opts.Key)
		}
	}

	return seal, nil
}
