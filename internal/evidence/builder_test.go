package evidence_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/anungis437/nzila-automation-sub010/internal/evidence"
	"github.com/anungis437/nzila-automation-sub010/pkg/hashops"
)

func newTestBuilder(t *testing.T, opts ...evidence.BuilderOption) (*evidence.Builder, string) {
	t.Helper()
	dir := t.TempDir()
	opts = append([]evidence.BuilderOption{
		evidence.WithBaseDir(dir),
		evidence.WithClock(fixedNow),
		evidence.WithCommitSHA("abc1234"),
	}, opts...)
	return evidence.NewBuilder(zap.NewNop(), opts...), dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestBuilder_Build(t *testing.T) {
	b, dir := newTestBuilder(t)
	writeFile(t, dir, "junit.xml", "<testsuite/>")
	precomputed := hashops.SumHexString("sbom")

	res, err := b.Build(context.Background(), evidence.BuildInput{
		RunID: "run-42",
		Descriptors: []evidence.ArtifactDescriptor{
			{Name: "junit", Category: "test-report", Path: "junit.xml"},
			{Name: "inline", Category: "payload", Content: []byte("hello")},
			{Name: "sbom", Category: "sbom", SHA256: precomputed, SizeBytes: 4},
		},
	})
	require.NoError(t, err)

	p := res.Pack
	assert.Equal(t, "pack-run-42", p.PackID)
	assert.Equal(t, "run-42", p.RunID)
	assert.Equal(t, evidence.DefaultSource, p.Source)
	assert.Equal(t, evidence.SchemaVersion, p.SchemaVersion)
	assert.Equal(t, "abc1234", p.CommitSHA)
	assert.Equal(t, "2025-03-01T12:00:00.000Z", p.GeneratedAt)
	assert.Empty(t, res.Skipped)
	require.Len(t, p.Artifacts, 3)

	byName := map[string]evidence.Artifact{}
	for _, a := range p.Artifacts {
		byName[a.Name] = a
		assert.Equal(t, p.GeneratedAt, a.CollectedAt)
	}
	assert.Equal(t, hashops.SumHexString("<testsuite/>"), byName["junit"].SHA256)
	assert.Equal(t, int64(len("<testsuite/>")), byName["junit"].SizeBytes)
	assert.Equal(t, hashops.SumHexString("hello"), byName["inline"].SHA256)
	assert.Equal(t, int64(5), byName["inline"].SizeBytes)
	assert.Equal(t, precomputed, byName["sbom"].SHA256)

	// Artifacts come back in canonical order.
	assert.Equal(t, evidence.Canonicalize(p), p)
}

func TestBuilder_InputOverridesDefaults(t *testing.T) {
	b, _ := newTestBuilder(t, evidence.WithSource("lifecycle"))

	res, err := b.Build(context.Background(), evidence.BuildInput{RunID: "r", CommitSHA: "def", Source: "ci"})
	require.NoError(t, err)
	assert.Equal(t, "ci", res.Pack.Source)
	assert.Equal(t, "def", res.Pack.CommitSHA)

	res, err = b.Build(context.Background(), evidence.BuildInput{RunID: "r"})
	require.NoError(t, err)
	assert.Equal(t, "lifecycle", res.Pack.Source)
}

func TestBuilder_GeneratesRunID(t *testing.T) {
	b, _ := newTestBuilder(t)
	res, err := b.Build(context.Background(), evidence.BuildInput{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Pack.RunID)
	assert.True(t, strings.HasPrefix(res.Pack.PackID, "pack-"))
	assert.Equal(t, evidence.PackIDForRun(res.Pack.RunID), res.Pack.PackID)
	assert.Empty(t, res.Pack.Artifacts)
}

func TestBuilder_OptionalMissingIsSkipped(t *testing.T) {
	b, dir := newTestBuilder(t)
	writeFile(t, dir, "present.txt", "ok")

	res, err := b.Build(context.Background(), evidence.BuildInput{
		RunID: "run-1",
		Descriptors: []evidence.ArtifactDescriptor{
			{Name: "present", Category: "log", Path: "present.txt"},
			{Name: "coverage", Category: "coverage", Path: "coverage.out", Optional: true},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Pack.Artifacts, 1)
	assert.Equal(t, "present", res.Pack.Artifacts[0].Name)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "coverage", res.Skipped[0].Name)
	assert.Contains(t, res.Skipped[0].Reason, "coverage.out")
}

func TestBuilder_RequiredMissingFails(t *testing.T) {
	b, _ := newTestBuilder(t)
	_, err := b.Build(context.Background(), evidence.BuildInput{
		Descriptors: []evidence.ArtifactDescriptor{
			{Name: "junit", Category: "test-report", Path: "missing.xml"},
		},
	})
	require.ErrorIs(t, err, evidence.ErrArtifactMissing)
}

func TestBuilder_DescriptorErrors(t *testing.T) {
	b, _ := newTestBuilder(t)

	_, err := b.Build(context.Background(), evidence.BuildInput{
		Descriptors: []evidence.ArtifactDescriptor{{Name: "nothing", Category: "x"}},
	})
	require.ErrorIs(t, err, evidence.ErrArtifactSource)

	_, err = b.Build(context.Background(), evidence.BuildInput{
		Descriptors: []evidence.ArtifactDescriptor{{Name: "bad", Category: "x", SHA256: "abc"}},
	})
	require.ErrorIs(t, err, evidence.ErrInvalidArtifactHash)
}

func TestBuilder_CancelledContext(t *testing.T) {
	b, _ := newTestBuilder(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Build(ctx, evidence.BuildInput{
		Descriptors: []evidence.ArtifactDescriptor{{Name: "a", Category: "x", Content: []byte("a")}},
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestBuilder_ManyArtifactsBounded(t *testing.T) {
	b, dir := newTestBuilder(t, evidence.WithConcurrency(2))
	var descs []evidence.ArtifactDescriptor
	for _, n := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		writeFile(t, dir, n+".log", "content-"+n)
		descs = append(descs, evidence.ArtifactDescriptor{Name: n, Category: "log", Path: n + ".log"})
	}

	res, err := b.Build(context.Background(), evidence.BuildInput{RunID: "many", Descriptors: descs})
	require.NoError(t, err)
	assert.Len(t, res.Pack.Artifacts, len(descs))
}

func TestBuilder_BuildAndSeal(t *testing.T) {
	key := []byte("ci-key")
	b, dir := newTestBuilder(t)
	writeFile(t, dir, "report.json", `{"passed":true}`)

	res, seal, err := b.BuildAndSeal(context.Background(), evidence.BuildInput{
		RunID: "run-7",
		Descriptors: []evidence.ArtifactDescriptor{
			{Name: "report", Category: "test-report", Path: "report.json"},
			{Name: "lint", Category: "lint", Path: "lint.txt", Optional: true},
		},
	}, evidence.SealOptions{Key: key, KeyID: "ci", Now: fixedNow})
	require.NoError(t, err)

	assert.Equal(t, 1, seal.ArtifactCount)
	assert.Len(t, res.Skipped, 1)
	assert.Equal(t, "ci", seal.HMACKeyID)

	v := evidence.VerifySeal(res.Pack, seal, evidence.VerifyOptions{Key: key})
	assert.True(t, v.Valid, v.Reason)
	assert.Equal(t, evidence.VerdictValid, v.Verdict)
}

func TestBuilder_EmptyBuildAndSeal(t *testing.T) {
	b, _ := newTestBuilder(t)
	res, seal, err := b.BuildAndSeal(context.Background(), evidence.BuildInput{RunID: "none"}, evidence.SealOptions{Now: fixedNow})
	require.NoError(t, err)
	assert.Equal(t, evidence.EmptyRoot(), seal.ArtifactsMerkleRoot)
	assert.True(t, evidence.VerifySeal(res.Pack, seal, evidence.VerifyOptions{}).Valid)
}
