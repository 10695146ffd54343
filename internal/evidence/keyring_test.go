package evidence_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anungis437/nzila-automation-sub010/internal/evidence"
)

func TestDeriveKey(t *testing.T) {
	master := []byte("master-secret")

	k1, err := evidence.DeriveKey(master, "2025-01")
	require.NoError(t, err)
	k1again, err := evidence.DeriveKey(master, "2025-01")
	require.NoError(t, err)
	k2, err := evidence.DeriveKey(master, "2025-02")
	require.NoError(t, err)

	assert.Len(t, k1, 32)
	assert.Equal(t, k1, k1again)
	assert.NotEqual(t, k1, k2)

	_, err = evidence.DeriveKey(nil, "x")
	assert.Error(t, err)
}

func TestKeyFingerprint(t *testing.T) {
	fp := evidence.KeyFingerprint([]byte("key"))
	assert.True(t, strings.HasPrefix(fp, "k-"))
	assert.Len(t, fp, 2+16)
	assert.Equal(t, fp, evidence.KeyFingerprint([]byte("key")))
	assert.NotEqual(t, fp, evidence.KeyFingerprint([]byte("other")))
}

func TestKeyring_SealAndVerifyAcrossRotation(t *testing.T) {
	master := []byte("master-secret")

	old, err := evidence.NewDerivedKeyring(master, "2024-12")
	require.NoError(t, err)
	p := threeArtifactPack()
	opts := old.SealOptions()
	opts.Now = fixedNow
	seal, err := evidence.GenerateSeal(p, opts)
	require.NoError(t, err)
	assert.Equal(t, "2024-12", seal.HMACKeyID)

	rotated, err := evidence.NewDerivedKeyring(master, "2025-01", "2024-12")
	require.NoError(t, err)
	id, _, ok := rotated.Active()
	require.True(t, ok)
	assert.Equal(t, "2025-01", id)

	vopts, err := rotated.VerifyOptionsFor(seal)
	require.NoError(t, err)
	res := evidence.VerifySeal(p, seal, vopts)
	assert.True(t, res.Valid, res.Reason)
	assert.True(t, res.Authenticated)

	// A keyring that no longer holds the key rejects the seal.
	fresh, err := evidence.NewDerivedKeyring(master, "2025-01")
	require.NoError(t, err)
	vopts, err = fresh.VerifyOptionsFor(seal)
	assert.ErrorIs(t, err, evidence.ErrUnknownKey)
	res = evidence.VerifySeal(p, seal, vopts)
	assert.False(t, res.Valid)
	assert.Equal(t, evidence.VerdictInvalid, res.Verdict)
}

func TestKeyring_UnknownKeyIDRejectsForgedSeal(t *testing.T) {
	kr := evidence.NewKeyring("k1", []byte("real-secret"))
	p := threeArtifactPack()
	opts := kr.SealOptions()
	opts.Now = fixedNow
	_, err := evidence.GenerateSeal(p, opts)
	require.NoError(t, err)

	// Alter an artifact, reseal under a key the server never issued and
	// rename the key id.
	forgedPack := p
	forgedPack.Artifacts = append([]evidence.Artifact(nil), p.Artifacts...)
	forgedPack.Artifacts[0].SHA256 = strings.Repeat("ab", 32)
	forged, err := evidence.GenerateSeal(forgedPack, evidence.SealOptions{Key: []byte("attacker"), KeyID: "nope", Now: fixedNow})
	require.NoError(t, err)

	vopts, err := kr.VerifyOptionsFor(forged)
	require.ErrorIs(t, err, evidence.ErrUnknownKey)
	assert.Equal(t, []string{"k1"}, vopts.KnownKeyIDs)
	assert.Empty(t, vopts.Key)

	res := evidence.VerifySeal(forgedPack, forged, vopts)
	assert.False(t, res.Valid)
	assert.False(t, res.Authenticated)
	assert.Equal(t, evidence.VerdictInvalid, res.Verdict)
	require.NotNil(t, res.Mismatch)
	assert.Equal(t, evidence.CheckKeyID, res.Mismatch.Field)
	assert.Equal(t, "nope", res.Mismatch.Actual)
	assert.Contains(t, res.Mismatch.Expected, "k1")
}

func TestKeyring_VerifyOptionsDegradeWithoutKeys(t *testing.T) {
	p := threeArtifactPack()
	seal, err := evidence.GenerateSeal(p, evidence.SealOptions{Key: []byte("secret"), KeyID: "k1", Now: fixedNow})
	require.NoError(t, err)

	var nilRing *evidence.Keyring
	for _, kr := range []*evidence.Keyring{nilRing, evidence.NewKeyring("", nil)} {
		vopts, err := kr.VerifyOptionsFor(seal)
		require.NoError(t, err)
		res := evidence.VerifySeal(p, seal, vopts)
		assert.True(t, res.Valid, res.Reason)
		assert.Equal(t, evidence.VerdictUnauthenticated, res.Verdict)
	}

	unsigned, err := evidence.GenerateSeal(p, evidence.SealOptions{Now: fixedNow})
	require.NoError(t, err)
	vopts, err := evidence.NewKeyring("k1", []byte("secret")).VerifyOptionsFor(unsigned)
	require.NoError(t, err)
	assert.Equal(t, evidence.VerdictUnsigned, evidence.VerifySeal(p, unsigned, vopts).Verdict)
}

func TestKeyring_Empty(t *testing.T) {
	kr := evidence.NewKeyring("", nil)
	_, _, ok := kr.Active()
	assert.False(t, ok)
	assert.Empty(t, kr.SealOptions().Key)

	var nilRing *evidence.Keyring
	_, _, ok = nilRing.Active()
	assert.False(t, ok)
	_, err := nilRing.Lookup("x")
	assert.ErrorIs(t, err, evidence.ErrUnknownKey)
}

func TestKeyring_AddAndLookup(t *testing.T) {
	kr := evidence.NewKeyring("primary", []byte("one"))
	id := kr.Add("", []byte("two"))
	assert.Equal(t, evidence.KeyFingerprint([]byte("two")), id)

	key, err := kr.Lookup(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), key)

	_, err = kr.Lookup("nope")
	assert.ErrorIs(t, err, evidence.ErrUnknownKey)

	active, _, _ := kr.Active()
	assert.Equal(t, "primary", active)
}

func TestNewDerivedKeyring_RequiresIDs(t *testing.T) {
	_, err := evidence.NewDerivedKeyring([]byte("m"))
	assert.Error(t, err)
}
