package evidence

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/anungis437/nzila-automation-sub010/pkg/hashops"
)

// Verdict is the overall outcome of VerifySeal.
type Verdict string

const (
	// VerdictValid: every structural check passed and the HMAC, when present,
	// was confirmed with the supplied key.
	VerdictValid Verdict = "valid"
	// VerdictUnsigned: structural checks passed; the seal carries no HMAC.
	VerdictUnsigned Verdict = "unsigned"
	// VerdictUnauthenticated: structural checks passed but the seal's HMAC
	// could not be checked because no key was supplied. Degraded, not failed.
	VerdictUnauthenticated Verdict = "unauthenticated"
	// VerdictInvalid: a check failed. See VerifyResult.Mismatch.
	VerdictInvalid Verdict = "invalid"
)

// Check names, used as Mismatch.Field and in VerifyResult.Checks.
const (
	CheckSealVersion   = "sealVersion"
	CheckAlgorithm     = "algorithm"
	CheckArtifactHash  = "artifacts.sha256"
	CheckArtifactCount = "artifactCount"
	CheckMerkleRoot    = "artifactsMerkleRoot"
	CheckPackDigest    = "packDigest"
	CheckKeyID         = "hmacKeyId"
	CheckSignature     = "hmacSignature"
)

// VerifyOptions controls VerifySeal.
type VerifyOptions struct {
	// Key verifies the seal's HMAC when non-empty.
	Key []byte
	// RequireSignature fails verification unless an HMAC is present and
	// confirmed with Key.
	RequireSignature bool
	// KnownKeyIDs, when non-empty, are the only key ids a signed seal may
	// name. A seal claiming any other id is invalid.
	KnownKeyIDs []string
}

// Mismatch names the diverging field and both values.
type Mismatch struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s mismatch: expected %s, got %s", m.Field, m.Expected, m.Actual)
}

// Check is the outcome of one verification step.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// VerifyResult reports the verdict plus the individual checks. Expected
// values are recomputed from the pack; actual values are what the seal claims.
// Mismatch is the first failed check; Mismatches holds all of them.
type VerifyResult struct {
	Valid         bool       `json:"valid"`
	Verdict       Verdict    `json:"verdict"`
	Authenticated bool       `json:"authenticated"`
	Reason        string     `json:"reason"`
	Mismatch      *Mismatch  `json:"mismatch,omitempty"`
	Mismatches    []Mismatch `json:"mismatches,omitempty"`
	Checks        []Check    `json:"checks"`
	PackID        string     `json:"packId,omitempty"`
	KeyID         string     `json:"keyId,omitempty"`

	// SignatureUnconfirmed is set when RequireSignature failed because the
	// seal is unsigned or no key was supplied, not because an HMAC mismatched.
	SignatureUnconfirmed bool `json:"signatureUnconfirmed,omitempty"`
}

func (r *VerifyResult) pass(name, detail string) {
	r.Checks = append(r.Checks, Check{Name: name, Passed: true, Detail: detail})
}

func (r *VerifyResult) fail(m Mismatch) {
	r.Checks = append(r.Checks, Check{Name: m.Field, Passed: false, Detail: m.String()})
	r.Mismatches = append(r.Mismatches, m)
}

func (r *VerifyResult) failed() bool {
	return len(r.Mismatches) > 0
}

func (r *VerifyResult) invalid() VerifyResult {
	reasons := make([]string, 0, len(r.Mismatches))
	for _, m := range r.Mismatches {
		reasons = append(reasons, m.String())
	}
	first := r.Mismatches[0]
	r.Valid = false
	r.Authenticated = false
	r.Verdict = VerdictInvalid
	r.Mismatch = &first
	r.Reason = strings.Join(reasons, "; ")
	return *r
}

// VerifySeal checks seal against pack:
//
//  1. seal version and algorithm are supported
//  2. every artifact hash is a hex SHA-256 digest
//  3. the pack's artifact count equals seal.artifactCount
//  4. the Merkle root recomputed from the pack equals seal.artifactsMerkleRoot
//  5. the recomputed pack digest equals seal.packDigest
//  6. a signed seal names a known key id, when known ids are supplied
//  7. the HMAC, when present and a key is supplied, matches (constant time)
//
// An unsupported version or algorithm stops verification. Every other check
// runs and each failure is reported separately. The seal's own values are
// only ever compared against, never reused.
func VerifySeal(p Pack, seal Seal, opts VerifyOptions) VerifyResult {
	res := VerifyResult{PackID: p.PackID, KeyID: seal.HMACKeyID}

	if seal.SealVersion != SealVersion {
		res.fail(Mismatch{Field: CheckSealVersion, Expected: SealVersion, Actual: seal.SealVersion})
		return res.invalid()
	}
	if seal.Algorithm != Algorithm {
		res.fail(Mismatch{Field: CheckAlgorithm, Expected: Algorithm, Actual: seal.Algorithm})
		return res.invalid()
	}
	res.pass(CheckSealVersion, seal.SealVersion+"/"+seal.Algorithm)

	hashesOK := true
	for _, a := range p.Artifacts {
		if !hashops.IsHexDigest(a.SHA256) {
			hashesOK = false
			res.fail(Mismatch{
				Field:    CheckArtifactHash,
				Expected: "64-character lower-case hex digest",
				Actual:   fmt.Sprintf("%q for artifact %q", a.SHA256, a.Name),
			})
		}
	}
	if hashesOK {
		res.pass(CheckArtifactHash, "")
	}

	count := len(p.Artifacts)
	if count != seal.ArtifactCount {
		res.fail(Mismatch{
			Field:    CheckArtifactCount,
			Expected: strconv.Itoa(count),
			Actual:   strconv.Itoa(seal.ArtifactCount),
		})
	} else {
		res.pass(CheckArtifactCount, strconv.Itoa(count))
	}

	root := ComputeMerkleRoot(SortedHashes(p))
	if !hashops.Equal(root, seal.ArtifactsMerkleRoot) {
		res.fail(Mismatch{Field: CheckMerkleRoot, Expected: root, Actual: seal.ArtifactsMerkleRoot})
	} else {
		res.pass(CheckMerkleRoot, root)
	}

	digest, err := PackDigest(p)
	switch {
	case err != nil:
		res.fail(Mismatch{Field: CheckPackDigest, Expected: "canonical pack", Actual: err.Error()})
	case !hashops.Equal(digest, seal.PackDigest):
		res.fail(Mismatch{Field: CheckPackDigest, Expected: digest, Actual: seal.PackDigest})
	default:
		res.pass(CheckPackDigest, digest)
	}

	switch {
	case !seal.Signed():
		if opts.RequireSignature {
			res.SignatureUnconfirmed = true
			res.fail(Mismatch{Field: CheckSignature, Expected: "signed seal", Actual: "unsigned seal"})
		}
		if res.failed() {
			return res.invalid()
		}
		res.Valid = true
		res.Verdict = VerdictUnsigned
		res.Reason = "structural checks passed; seal is not signed"
		return res

	case len(opts.KnownKeyIDs) > 0 && !slices.Contains(opts.KnownKeyIDs, seal.HMACKeyID):
		res.fail(Mismatch{
			Field:    CheckKeyID,
			Expected: "one of " + strings.Join(opts.KnownKeyIDs, ", "),
			Actual:   seal.HMACKeyID,
		})
		return res.invalid()

	case len(opts.Key) == 0:
		if opts.RequireSignature {
			res.SignatureUnconfirmed = true
			res.fail(Mismatch{Field: CheckSignature, Expected: "verification key", Actual: "no key supplied"})
		}
		if res.failed() {
			return res.invalid()
		}
		res.Valid = true
		res.Verdict = VerdictUnauthenticated
		res.Reason = "structural checks passed; signature present but no key supplied, authenticity unconfirmed"
		return res
	}

	payload, err := signingPayload(root, seal.SealedAt, p)
	switch {
	case err != nil:
		res.fail(Mismatch{Field: CheckSignature, Expected: "signing payload", Actual: err.Error()})
	case !hashops.VerifyHMAC(opts.Key, payload, seal.HMACSignature):
		res.fail(Mismatch{
			Field:    CheckSignature,
			Expected: "HMAC-SHA-256 under key " + seal.HMACKeyID,
			Actual:   seal.HMACSignature,
		})
	default:
		res.pass(CheckSignature, seal.HMACKeyID)
	}
	if res.failed() {
		return res.invalid()
	}

	res.Valid = true
	res.Authenticated = true
	res.Verdict = VerdictValid
	res.Reason = "all checks passed"
	return res
}
