package evidence

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Manifest is the inbound description of a CI run's evidence.
type Manifest struct {
	RunID     string             `json:"runId" validate:"required"`
	CommitSHA string             `json:"commitSha,omitempty"`
	Source    string             `json:"source,omitempty"`
	Artifacts []ManifestArtifact `json:"artifacts" validate:"dive"`
}

// ManifestArtifact is one artifact entry in a Manifest. Either Path or SHA256
// must be set.
type ManifestArtifact struct {
	Name      string `json:"name" validate:"required"`
	Category  string `json:"category" validate:"required"`
	Path      string `json:"path,omitempty" validate:"required_without=SHA256"`
	SHA256    string `json:"sha256,omitempty" validate:"omitempty,len=64,hexadecimal,lowercase"`
	SizeBytes int64  `json:"sizeBytes,omitempty" validate:"gte=0"`
	Optional  bool   `json:"optional,omitempty"`
}

// Validate checks the manifest's field constraints.
func (m *Manifest) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}
	return nil
}

// BuildInput converts the manifest into builder input.
func (m *Manifest) BuildInput() BuildInput {
	in := BuildInput{
		RunID:       m.RunID,
		CommitSHA:   m.CommitSHA,
		Source:      m.Source,
		Descriptors: make([]ArtifactDescriptor, 0, len(m.Artifacts)),
	}
	for _, a := range m.Artifacts {
		in.Descriptors = append(in.Descriptors, ArtifactDescriptor{
			Name:      a.Name,
			Category:  a.Category,
			SHA256:    a.SHA256,
			SizeBytes: a.SizeBytes,
			Path:      a.Path,
			Optional:  a.Optional,
		})
	}
	return in
}

// ParseManifest decodes and validates a manifest. Unknown fields are rejected.
func ParseManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifest reads and validates the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	return ParseManifest(f)
}
