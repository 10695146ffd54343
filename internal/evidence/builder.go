package evidence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anungis437/nzila-automation-sub010/pkg/hashops"
)

const defaultHashConcurrency = 4

var tracer = otel.Tracer("github.com/anungis437/nzila-automation-sub010/internal/evidence")

var (
	// ErrArtifactMissing is returned when a required artifact file does not exist.
	ErrArtifactMissing = errors.New("required artifact is missing")

	// ErrArtifactSource is returned when a descriptor has no hash, content or path.
	ErrArtifactSource = errors.New("artifact needs a sha256, inline content or a path")
)

// ArtifactDescriptor describes an artifact to collect. Exactly one source is
// used, in order of preference: SHA256, Content, Path.
type ArtifactDescriptor struct {
	Name     string
	Category string
	// SHA256 is a pre-computed digest. SizeBytes should accompany it.
	SHA256    string
	SizeBytes int64
	// Content is hashed in memory.
	Content []byte
	// Path is read and hashed. Relative paths resolve against Builder.BaseDir.
	Path string
	// Optional artifacts whose file is absent are skipped instead of failing.
	Optional    bool
	CollectedAt time.Time
}

// BuildInput is the input to Builder.Build.
type BuildInput struct {
	// RunID identifies the run. A random id is generated when empty.
	RunID       string
	CommitSHA   string
	Source      string
	Descriptors []ArtifactDescriptor
}

// SkippedArtifact records an optional artifact that was not collected.
type SkippedArtifact struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// BuildResult is a built pack plus the artifacts that were left out.
type BuildResult struct {
	Pack    Pack              `json:"pack"`
	Skipped []SkippedArtifact `json:"skipped,omitempty"`
}

// Builder assembles evidence packs from artifact descriptors.
type Builder struct {
	source      string
	commitSHA   string
	baseDir     string
	concurrency int
	now         func() time.Time
	logger      *zap.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithSource sets the pack source used when the input names none.
func WithSource(source string) BuilderOption {
	return func(b *Builder) { b.source = source }
}

// WithCommitSHA sets the commit recorded when the input names none.
func WithCommitSHA(sha string) BuilderOption {
	return func(b *Builder) { b.commitSHA = sha }
}

// WithBaseDir sets the directory relative artifact paths resolve against.
func WithBaseDir(dir string) BuilderOption {
	return func(b *Builder) { b.baseDir = dir }
}

// WithConcurrency bounds the number of artifacts hashed in parallel.
func WithConcurrency(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithClock overrides the clock used for generatedAt.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

// NewBuilder creates a Builder.
func NewBuilder(logger *zap.Logger, opts ...BuilderOption) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Builder{
		source:      DefaultSource,
		concurrency: defaultHashConcurrency,
		now:         time.Now,
		logger:      logger,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Build hashes every descriptor that lacks a digest and assembles the pack.
// Hashing runs in parallel; the first hard failure cancels the rest.
func (b *Builder) Build(ctx context.Context, in BuildInput) (*BuildResult, error) {
	runID := in.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	source := in.Source
	if source == "" {
		source = b.source
	}
	commit := in.CommitSHA
	if commit == "" {
		commit = b.commitSHA
	}
	generatedAt := b.now()

	collected := make([]*Artifact, len(in.Descriptors))
	skipped := make([]*SkippedArtifact, len(in.Descriptors))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, d := range in.Descriptors {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a, skip, err := b.collect(d, generatedAt)
			if err != nil {
				return fmt.Errorf("artifact %q: %w", d.Name, err)
			}
			if skip != nil {
				b.logger.Warn("optional artifact skipped",
					zap.String("run_id", runID),
					zap.String("artifact", d.Name),
					zap.String("reason", skip.Reason),
				)
				skipped[i] = skip
				return nil
			}
			collected[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &BuildResult{
		Pack: Pack{
			PackID:        PackIDForRun(runID),
			Source:        source,
			SchemaVersion: SchemaVersion,
			GeneratedAt:   FormatTime(generatedAt),
			CommitSHA:     commit,
			RunID:         runID,
			Artifacts:     make([]Artifact, 0, len(in.Descriptors)),
		},
	}
	for i := range in.Descriptors {
		if collected[i] != nil {
			res.Pack.Artifacts = append(res.Pack.Artifacts, *collected[i])
		}
		if skipped[i] != nil {
			res.Skipped = append(res.Skipped, *skipped[i])
		}
	}
	res.Pack = Canonicalize(res.Pack)

	b.logger.Debug("evidence pack built",
		zap.String("pack_id", res.Pack.PackID),
		zap.Int("artifacts", len(res.Pack.Artifacts)),
		zap.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}

// BuildAndSeal builds a pack and seals it.
func (b *Builder) BuildAndSeal(ctx context.Context, in BuildInput, opts SealOptions) (*BuildResult, Seal, error) {
	ctx, span := tracer.Start(ctx, "evidence.BuildAndSeal")
	defer span.End()

	res, err := b.Build(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build failed")
		return nil, Seal{}, err
	}
	seal, err := GenerateSeal(res.Pack, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "seal failed")
		return nil, Seal{}, fmt.Errorf("seal pack %s: %w", res.Pack.PackID, err)
	}
	span.SetAttributes(
		attribute.String("evidence.pack_id", res.Pack.PackID),
		attribute.Int("evidence.artifact_count", seal.ArtifactCount),
		attribute.Bool("evidence.signed", seal.Signed()),
	)
	b.logger.Info("evidence pack sealed",
		zap.String("pack_id", res.Pack.PackID),
		zap.String("merkle_root", seal.ArtifactsMerkleRoot),
		zap.Bool("signed", seal.Signed()),
	)
	return res, seal, nil
}

func (b *Builder) collect(d ArtifactDescriptor, generatedAt time.Time) (*Artifact, *SkippedArtifact, error) {
	a := &Artifact{
		Name:      d.Name,
		Category:  d.Category,
		Path:      d.Path,
		SizeBytes: d.SizeBytes,
	}
	collectedAt := d.CollectedAt
	if collectedAt.IsZero() {
		collectedAt = generatedAt
	}
	a.CollectedAt = FormatTime(collectedAt)

	switch {
	case d.SHA256 != "":
		if !hashops.IsHexDigest(d.SHA256) {
			return nil, nil, ErrInvalidArtifactHash
		}
		a.SHA256 = d.SHA256

	case d.Content != nil:
		sum, n, err := hashops.SumReader(bytes.NewReader(d.Content))
		if err != nil {
			return nil, nil, err
		}
		a.SHA256, a.SizeBytes = sum, n

	case d.Path != "":
		sum, n, err := b.hashFile(d.Path)
		if errors.Is(err, fs.ErrNotExist) {
			if d.Optional {
				return nil, &SkippedArtifact{Name: d.Name, Reason: "file not found: " + d.Path}, nil
			}
			return nil, nil, fmt.Errorf("%w: %s", ErrArtifactMissing, d.Path)
		}
		if err != nil {
			return nil, nil, err
		}
		a.SHA256, a.SizeBytes = sum, n

	default:
		return nil, nil, ErrArtifactSource
	}
	return a, nil, nil
}

func (b *Builder) hashFile(path string) (string, int64, error) {
	if !filepath.IsAbs(path) && b.baseDir != "" {
		path = filepath.Join(b.baseDir, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return hashops.SumReader(f)
}
