package evidence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/anungis437/nzila-automation-sub010/pkg/hashops"
)

// CanonicalJSON encodes v with object keys sorted at every depth, no
// insignificant whitespace and no HTML escaping. Numbers keep their literal
// form. Equal values always produce equal bytes, whatever the struct field
// order.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	// encoding/json writes map keys in sorted order.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Canonicalize returns a copy of p with artifacts sorted by hash, ties broken
// by name. The input is not modified.
func Canonicalize(p Pack) Pack {
	out := p
	out.Artifacts = make([]Artifact, len(p.Artifacts))
	copy(out.Artifacts, p.Artifacts)
	sort.SliceStable(out.Artifacts, func(i, j int) bool {
		a, b := out.Artifacts[i], out.Artifacts[j]
		if a.SHA256 != b.SHA256 {
			return a.SHA256 < b.SHA256
		}
		return a.Name < b.Name
	})
	return out
}

// SortedHashes returns the artifact hashes of p in ascending order.
func SortedHashes(p Pack) []string {
	hashes := make([]string, 0, len(p.Artifacts))
	for _, a := range p.Artifacts {
		hashes = append(hashes, a.SHA256)
	}
	sort.Strings(hashes)
	return hashes
}

// PackDigest returns the hex SHA-256 of the canonical JSON of p.
func PackDigest(p Pack) (string, error) {
	b, err := CanonicalJSON(Canonicalize(p))
	if err != nil {
		return "", fmt.Errorf("canonicalize pack: %w", err)
	}
	return hashops.SumHex(b), nil
}
