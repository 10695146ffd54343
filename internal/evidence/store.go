package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	packFileSuffix = ".pack.json"
	sealFileSuffix = ".seal.json"
)

// Store persists sealed packs.
type Store interface {
	Save(ctx context.Context, p Pack, s Seal) error
	Load(ctx context.Context, packID string) (Pack, Seal, error)
}

// FileStore keeps each pack and its seal as two JSON files in one directory:
// <packId>.pack.json and <packId>.seal.json.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir, creating it when missing.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create evidence dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save implements Store.
func (s *FileStore) Save(_ context.Context, p Pack, seal Seal) error {
	_, _, err := WritePair(s.dir, p, seal)
	return err
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context, packID string) (Pack, Seal, error) {
	if packID == "" || strings.ContainsAny(packID, `/\`) || packID == "." || packID == ".." {
		return Pack{}, Seal{}, fmt.Errorf("invalid pack id %q", packID)
	}
	packPath, sealPath := PairPaths(s.dir, packID)
	p, err := ReadPack(packPath)
	if errors.Is(err, fs.ErrNotExist) {
		return Pack{}, Seal{}, fmt.Errorf("%w: %s", ErrPackNotFound, packID)
	}
	if err != nil {
		return Pack{}, Seal{}, err
	}
	seal, err := ReadSeal(sealPath)
	if err != nil {
		return Pack{}, Seal{}, err
	}
	return p, seal, nil
}

// PairPaths returns the pack and seal file paths for packID in dir.
func PairPaths(dir, packID string) (packPath, sealPath string) {
	return filepath.Join(dir, packID+packFileSuffix), filepath.Join(dir, packID+sealFileSuffix)
}

// WritePair writes the pack and seal files atomically and returns their paths.
func WritePair(dir string, p Pack, seal Seal) (packPath, sealPath string, err error) {
	packPath, sealPath = PairPaths(dir, p.PackID)
	if err := writeJSONFile(packPath, p); err != nil {
		return "", "", fmt.Errorf("write pack: %w", err)
	}
	if err := writeJSONFile(sealPath, seal); err != nil {
		return "", "", fmt.Errorf("write seal: %w", err)
	}
	return packPath, sealPath, nil
}

// ReadPack decodes a pack file. Unknown fields and trailing data are rejected.
func ReadPack(path string) (Pack, error) {
	var p Pack
	if err := readJSONFile(path, &p); err != nil {
		return Pack{}, fmt.Errorf("read pack %s: %w", path, err)
	}
	return p, nil
}

// ReadSeal decodes a seal file. Unknown fields and trailing data are rejected.
func ReadSeal(path string) (Seal, error) {
	var s Seal
	if err := readJSONFile(path, &s); err != nil {
		return Seal{}, fmt.Errorf("read seal %s: %w", path, err)
	}
	return s, nil
}

// DecodeStrict decodes exactly one JSON value from r into v.
func DecodeStrict(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON document")
	}
	return nil
}

func readJSONFile(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return DecodeStrict(f, v)
}

func writeJSONFile(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// MemoryStore keeps sealed packs in memory.
type MemoryStore struct {
	mu    sync.RWMutex
	packs map[string]Pack
	seals map[string]Seal
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{packs: make(map[string]Pack), seals: make(map[string]Seal)}
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, p Pack, seal Seal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packs[p.PackID] = Canonicalize(p)
	s.seals[p.PackID] = seal
	return nil
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, packID string) (Pack, Seal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.packs[packID]
	if !ok {
		return Pack{}, Seal{}, fmt.Errorf("%w: %s", ErrPackNotFound, packID)
	}
	return Canonicalize(p), s.seals[packID], nil
}
