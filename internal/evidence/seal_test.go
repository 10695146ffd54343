package evidence_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anungis437/nzila-automation-sub010/internal/evidence"
	"github.com/anungis437/nzila-automation-sub010/pkg/hashops"
)

var sealTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return sealTime }

func artifact(name, content string) evidence.Artifact {
	return evidence.Artifact{
		Name:      name,
		Category:  "test-report",
		SHA256:    hashops.SumHexString(content),
		SizeBytes: int64(len(content)),
	}
}

func threeArtifactPack() evidence.Pack {
	return evidence.Pack{
		PackID:        "pack-run-1",
		Source:        "ci",
		SchemaVersion: evidence.SchemaVersion,
		GeneratedAt:   evidence.FormatTime(sealTime),
		CommitSHA:     "9f2c1e7",
		RunID:         "run-1",
		Artifacts: []evidence.Artifact{
			artifact("a", "h1"),
			artifact("b", "h2"),
			artifact("c", "h3"),
		},
	}
}

// flipFirstHex changes one character of a hex digest, keeping it valid hex.
func flipFirstHex(s string) string {
	c := byte('0')
	if s[0] == '0' {
		c = '1'
	}
	return string(c) + s[1:]
}

// ── Round trip ───────────────────────────────────────────────────────────────

func TestSealRoundTrip_Unsigned(t *testing.T) {
	p := threeArtifactPack()
	seal, err := evidence.GenerateSeal(p, evidence.SealOptions{Now: fixedNow})
	require.NoError(t, err)

	assert.Equal(t, evidence.SealVersion, seal.SealVersion)
	assert.Equal(t, evidence.Algorithm, seal.Algorithm)
	assert.Equal(t, 3, seal.ArtifactCount)
	assert.Equal(t, "2025-03-01T12:00:00.000Z", seal.SealedAt)
	assert.False(t, seal.Signed())
	assert.Empty(t, seal.HMACKeyID)

	res := evidence.VerifySeal(p, seal, evidence.VerifyOptions{})
	assert.True(t, res.Valid, res.Reason)
	assert.Equal(t, evidence.VerdictUnsigned, res.Verdict)
	assert.False(t, res.Authenticated)
	assert.Nil(t, res.Mismatch)
}

func TestSealRoundTrip_Signed(t *testing.T) {
	key := []byte("super-secret-seal-key")
	p := threeArtifactPack()
	seal, err := evidence.GenerateSeal(p, evidence.SealOptions{Key: key, Now: fixedNow})
	require.NoError(t, err)

	require.True(t, seal.Signed())
	assert.Len(t, seal.HMACSignature, hashops.HexLen)
	assert.Equal(t, evidence.KeyFingerprint(key), seal.HMACKeyID)

	res := evidence.VerifySeal(p, seal, evidence.VerifyOptions{Key: key})
	assert.True(t, res.Valid, res.Reason)
	assert.True(t, res.Authenticated)
	assert.Equal(t, evidence.VerdictValid, res.Verdict)
}

func TestSealKeyIDOverride(t *testing.T) {
	seal, err := evidence.GenerateSeal(threeArtifactPack(), evidence.SealOptions{
		Key:   []byte("k"),
		KeyID: "2025-q1",
		Now:   fixedNow,
	})
	require.NoError(t, err)
	assert.Equal(t, "2025-q1", seal.HMACKeyID)
}

func TestSealIsDeterministic(t *testing.T) {
	key := []byte("k")
	a, err := evidence.GenerateSeal(threeArtifactPack(), evidence.SealOptions{Key: key, Now: fixedNow})
	require.NoError(t, err)
	b, err := evidence.GenerateSeal(threeArtifactPack(), evidence.SealOptions{Key: key, Now: fixedNow})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGenerateSeal_RejectsMalformedHash(t *testing.T) {
	p := threeArtifactPack()
	p.Artifacts[1].SHA256 = "not-a-digest"

	_, err := evidence.GenerateSeal(p, evidence.SealOptions{})
	require.ErrorIs(t, err, evidence.ErrInvalidArtifactHash)

	p.Artifacts[1].SHA256 = "ABCDEF" + hashops.SumHexString("x")[6:]
	_, err = evidence.GenerateSeal(p, evidence.SealOptions{})
	require.ErrorIs(t, err, evidence.ErrInvalidArtifactHash)
}

// ── Scenarios ────────────────────────────────────────────────────────────────

func TestThreeArtifactScenario(t *testing.T) {
	p := threeArtifactPack()
	seal, err := evidence.GenerateSeal(p, evidence.SealOptions{Now: fixedNow})
	require.NoError(t, err)

	swapped := p
	swapped.Artifacts = []evidence.Artifact{p.Artifacts[2], p.Artifacts[0], p.Artifacts[1]}
	res := evidence.VerifySeal(swapped, seal, evidence.VerifyOptions{})
	assert.True(t, res.Valid, "reordered artifacts must still verify: %s", res.Reason)

	mutated := threeArtifactPack()
	mutated.Artifacts[1].SHA256 = hashops.SumHexString("h2'")
	res = evidence.VerifySeal(mutated, seal, evidence.VerifyOptions{})
	assert.False(t, res.Valid)
	assert.Equal(t, evidence.VerdictInvalid, res.Verdict)
	require.NotNil(t, res.Mismatch)
	assert.Equal(t, evidence.CheckMerkleRoot, res.Mismatch.Field)
	assert.Equal(t, seal.ArtifactsMerkleRoot, res.Mismatch.Actual)
	assert.NotEqual(t, res.Mismatch.Expected, res.Mismatch.Actual)
	assert.Contains(t, res.Reason, "artifactsMerkleRoot mismatch")
}

func TestEmptyPackScenario(t *testing.T) {
	p := evidence.Pack{
		PackID:        "pack-empty",
		Source:        "ci",
		SchemaVersion: evidence.SchemaVersion,
		GeneratedAt:   evidence.FormatTime(sealTime),
		RunID:         "empty",
	}
	seal, err := evidence.GenerateSeal(p, evidence.SealOptions{Now: fixedNow})
	require.NoError(t, err)

	assert.Equal(t, 0, seal.ArtifactCount)
	assert.Equal(t, hashops.SumHexString("empty"), seal.ArtifactsMerkleRoot)
	assert.Equal(t, evidence.EmptyRoot(), seal.ArtifactsMerkleRoot)

	res := evidence.VerifySeal(p, seal, evidence.VerifyOptions{})
	assert.True(t, res.Valid, res.Reason)

	// A nil and an empty artifact slice are the same pack.
	p.Artifacts = []evidence.Artifact{}
	res = evidence.VerifySeal(p, seal, evidence.VerifyOptions{})
	assert.True(t, res.Valid, res.Reason)
}

// ── Tamper detection ─────────────────────────────────────────────────────────

func TestVerify_DetectsSingleByteMutation(t *testing.T) {
	base := threeArtifactPack()
	seal, err := evidence.GenerateSeal(base, evidence.SealOptions{Now: fixedNow})
	require.NoError(t, err)

	for i := range base.Artifacts {
		p := threeArtifactPack()
		p.Artifacts[i].SHA256 = flipFirstHex(p.Artifacts[i].SHA256)

		res := evidence.VerifySeal(p, seal, evidence.VerifyOptions{})
		assert.False(t, res.Valid, "artifact %d", i)
		assert.Contains(t, res.Reason, "artifactsMerkleRoot mismatch", "artifact %d", i)
	}
}

func TestVerify_DetectsAddedArtifact(t *testing.T) {
	p := threeArtifactPack()
	seal, err := evidence.GenerateSeal(p, evidence.SealOptions{Now: fixedNow})
	require.NoError(t, err)

	p.Artifacts = append(p.Artifacts, artifact("d", "h4"))
	res := evidence.VerifySeal(p, seal, evidence.VerifyOptions{})

	assert.False(t, res.Valid)
	assert.Contains(t, res.Reason, "artifactCount mismatch: expected 4, got 3")
	assert.Contains(t, res.Reason, "artifactsMerkleRoot mismatch")
	fields := make([]string, 0, len(res.Mismatches))
	for _, m := range res.Mismatches {
		fields = append(fields, m.Field)
	}
	assert.Equal(t, []string{evidence.CheckArtifactCount, evidence.CheckMerkleRoot, evidence.CheckPackDigest}, fields)
}

func TestVerify_DetectsRemovedArtifact(t *testing.T) {
	p := threeArtifactPack()
	seal, err := evidence.GenerateSeal(p, evidence.SealOptions{Now: fixedNow})
	require.NoError(t, err)

	p.Artifacts = p.Artifacts[:2]
	res := evidence.VerifySeal(p, seal, evidence.VerifyOptions{})

	assert.False(t, res.Valid)
	assert.Contains(t, res.Reason, "artifactsMerkleRoot mismatch")
}

func TestVerify_DetectsMetadataChange(t *testing.T) {
	p := threeArtifactPack()
	seal, err := evidence.GenerateSeal(p, evidence.SealOptions{Now: fixedNow})
	require.NoError(t, err)

	p.CommitSHA = "0000000"
	res := evidence.VerifySeal(p, seal, evidence.VerifyOptions{})

	assert.False(t, res.Valid)
	require.NotNil(t, res.Mismatch)
	assert.Equal(t, evidence.CheckPackDigest, res.Mismatch.Field)
	assert.Equal(t, seal.PackDigest, res.Mismatch.Actual)
}

func TestVerify_NeverTrustsSealClaims(t *testing.T) {
	p := threeArtifactPack()
	seal, err := evidence.GenerateSeal(p, evidence.SealOptions{Now: fixedNow})
	require.NoError(t, err)

	// Forge a seal that is internally consistent with a different pack.
	other := threeArtifactPack()
	other.Artifacts = other.Artifacts[:1]
	forged, err := evidence.GenerateSeal(other, evidence.SealOptions{Now: fixedNow})
	require.NoError(t, err)
	forged.ArtifactCount = seal.ArtifactCount

	res := evidence.VerifySeal(p, forged, evidence.VerifyOptions{})
	assert.False(t, res.Valid)
	assert.Equal(t, evidence.CheckMerkleRoot, res.Mismatch.Field)
}

func TestVerify_UnsupportedVersionAndAlgorithm(t *testing.T) {
	p := threeArtifactPack()
	seal, err := evidence.GenerateSeal(p, evidence.SealOptions{Now: fixedNow})
	require.NoError(t, err)

	badVersion := seal
	badVersion.SealVersion = "2.0"
	res := evidence.VerifySeal(p, badVersion, evidence.VerifyOptions{})
	assert.False(t, res.Valid)
	assert.Equal(t, evidence.CheckSealVersion, res.Mismatch.Field)
	assert.Len(t, res.Mismatches, 1)

	badAlg := seal
	badAlg.Algorithm = "md5"
	res = evidence.VerifySeal(p, badAlg, evidence.VerifyOptions{})
	assert.False(t, res.Valid)
	assert.Equal(t, evidence.CheckAlgorithm, res.Mismatch.Field)
}

func TestVerify_MalformedArtifactHash(t *testing.T) {
	p := threeArtifactPack()
	seal, err := evidence.GenerateSeal(p, evidence.SealOptions{Now: fixedNow})
	require.NoError(t, err)

	p.Artifacts[0].SHA256 = "h1"
	res := evidence.VerifySeal(p, seal, evidence.VerifyOptions{})
	assert.False(t, res.Valid)
	assert.Equal(t, evidence.CheckArtifactHash, res.Mismatch.Field)
}

// ── Signatures ───────────────────────────────────────────────────────────────

func TestVerify_SignatureStates(t *testing.T) {
	key := []byte("seal-key")
	p := threeArtifactPack()
	signed, err := evidence.GenerateSeal(p, evidence.SealOptions{Key: key, Now: fixedNow})
	require.NoError(t, err)
	unsigned, err := evidence.GenerateSeal(p, evidence.SealOptions{Now: fixedNow})
	require.NoError(t, err)

	tests := []struct {
		name          string
		seal          evidence.Seal
		opts          evidence.VerifyOptions
		wantValid     bool
		wantVerdict   evidence.Verdict
		wantAuth      bool
		wantMismatchF string
	}{
		{"signed with key", signed, evidence.VerifyOptions{Key: key}, true, evidence.VerdictValid, true, ""},
		{"signed without key is degraded", signed, evidence.VerifyOptions{}, true, evidence.VerdictUnauthenticated, false, ""},
		{"signed with wrong key", signed, evidence.VerifyOptions{Key: []byte("other")}, false, evidence.VerdictInvalid, false, evidence.CheckSignature},
		{"signed without key but required", signed, evidence.VerifyOptions{RequireSignature: true}, false, evidence.VerdictInvalid, false, evidence.CheckSignature},
		{"unsigned", unsigned, evidence.VerifyOptions{Key: key}, true, evidence.VerdictUnsigned, false, ""},
		{"unsigned but required", unsigned, evidence.VerifyOptions{Key: key, RequireSignature: true}, false, evidence.VerdictInvalid, false, evidence.CheckSignature},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := evidence.VerifySeal(p, tc.seal, tc.opts)
			assert.Equal(t, tc.wantValid, res.Valid, res.Reason)
			assert.Equal(t, tc.wantVerdict, res.Verdict)
			assert.Equal(t, tc.wantAuth, res.Authenticated)
			if tc.wantMismatchF == "" {
				assert.Nil(t, res.Mismatch)
				return
			}
			require.NotNil(t, res.Mismatch)
			assert.Equal(t, tc.wantMismatchF, res.Mismatch.Field)
		})
	}
}

func TestVerify_TamperedSignature(t *testing.T) {
	key := []byte("seal-key")
	p := threeArtifactPack()
	seal, err := evidence.GenerateSeal(p, evidence.SealOptions{Key: key, Now: fixedNow})
	require.NoError(t, err)

	seal.HMACSignature = flipFirstHex(seal.HMACSignature)
	res := evidence.VerifySeal(p, seal, evidence.VerifyOptions{Key: key})
	assert.False(t, res.Valid)
	require.NotNil(t, res.Mismatch)
	assert.Equal(t, evidence.CheckSignature, res.Mismatch.Field)
	assert.NotContains(t, res.Mismatch.Expected, seal.HMACSignature[1:])

	seal.HMACSignature = "zz"
	res = evidence.VerifySeal(p, seal, evidence.VerifyOptions{Key: key})
	assert.False(t, res.Valid)
}

func TestVerify_SignatureCoversSealedAt(t *testing.T) {
	key := []byte("seal-key")
	p := threeArtifactPack()
	seal, err := evidence.GenerateSeal(p, evidence.SealOptions{Key: key, Now: fixedNow})
	require.NoError(t, err)

	seal.SealedAt = evidence.FormatTime(sealTime.Add(time.Hour))
	res := evidence.VerifySeal(p, seal, evidence.VerifyOptions{Key: key})
	assert.False(t, res.Valid)
	assert.Equal(t, evidence.CheckSignature, res.Mismatch.Field)
}
