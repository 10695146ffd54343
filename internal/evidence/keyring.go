package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"golang.org/x/crypto/hkdf"
)

const (
	keyDerivationInfo  = "nzila-seal-key:"
	fingerprintInfo    = "nzila-seal-key-id"
	derivedKeyLen      = 32
	fingerprintByteLen = 8
)

// ErrUnknownKey is returned when a keyring has no key for a key id.
var ErrUnknownKey = errors.New("unknown seal key id")

// DeriveKey derives the signing key for keyID from a master secret with
// HKDF-SHA-256. Rotating keyID yields an independent key from the same master.
func DeriveKey(master []byte, keyID string) ([]byte, error) {
	if len(master) == 0 {
		return nil, errors.New("master secret is empty")
	}
	r := hkdf.New(sha256.New, master, nil, []byte(keyDerivationInfo+keyID))
	key := make([]byte, derivedKeyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key %q: %w", keyID, err)
	}
	return key, nil
}

// KeyFingerprint returns a short, non-reversible identifier for key. It is
// used as the seal's hmacKeyId when the caller does not name the key.
func KeyFingerprint(key []byte) string {
	r := hkdf.Expand(sha256.New, key, []byte(fingerprintInfo))
	buf := make([]byte, fingerprintByteLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		// hkdf.Expand only fails past 255*HashLen bytes.
		panic(err)
	}
	return "k-" + hex.EncodeToString(buf)
}

// Keyring holds the HMAC keys a process may seal or verify with. One key is
// active for sealing; every registered key can verify.
type Keyring struct {
	mu     sync.RWMutex
	keys   map[string][]byte
	active string
}

// NewKeyring creates a keyring whose active key is key under keyID. An empty
// keyID is replaced by the key's fingerprint.
func NewKeyring(keyID string, key []byte) *Keyring {
	kr := &Keyring{keys: make(map[string][]byte)}
	if len(key) > 0 {
		kr.active = kr.add(keyID, key)
	}
	return kr
}

// NewDerivedKeyring derives one key per id from master. The first id is active.
func NewDerivedKeyring(master []byte, keyIDs ...string) (*Keyring, error) {
	if len(keyIDs) == 0 {
		return nil, errors.New("at least one key id is required")
	}
	kr := &Keyring{keys: make(map[string][]byte)}
	for i, id := range keyIDs {
		key, err := DeriveKey(master, id)
		if err != nil {
			return nil, err
		}
		kr.add(id, key)
		if i == 0 {
			kr.active = id
		}
	}
	return kr, nil
}

func (k *Keyring) add(keyID string, key []byte) string {
	if keyID == "" {
		keyID = KeyFingerprint(key)
	}
	cp := make([]byte, len(key))
	copy(cp, key)
	k.keys[keyID] = cp
	return keyID
}

// Add registers a verification key and returns its id.
func (k *Keyring) Add(keyID string, key []byte) string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.add(keyID, key)
}

// Active returns the sealing key id and key. ok is false when the keyring is
// empty, in which case seals are produced unsigned.
func (k *Keyring) Active() (keyID string, key []byte, ok bool) {
	if k == nil {
		return "", nil, false
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.active == "" {
		return "", nil, false
	}
	return k.active, k.keys[k.active], true
}

// Lookup returns the key registered under keyID.
func (k *Keyring) Lookup(keyID string) ([]byte, error) {
	if k == nil {
		return nil, ErrUnknownKey
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, keyID)
	}
	return key, nil
}

// SealOptions returns options that sign with the active key.
func (k *Keyring) SealOptions() SealOptions {
	id, key, ok := k.Active()
	if !ok {
		return SealOptions{}
	}
	return SealOptions{Key: key, KeyID: id}
}

// KeyIDs returns the registered key ids, sorted.
func (k *Keyring) KeyIDs() []string {
	if k == nil {
		return nil
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	ids := make([]string, 0, len(k.keys))
	for id := range k.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// VerifyOptionsFor returns options carrying the key the seal claims to be
// signed with. An unsigned seal or an empty keyring yields no key, which
// degrades verification to unauthenticated. A signed seal naming an id this
// non-empty keyring does not hold returns ErrUnknownKey together with options
// that make VerifySeal reject the seal.
func (k *Keyring) VerifyOptionsFor(seal Seal) (VerifyOptions, error) {
	if !seal.Signed() {
		return VerifyOptions{}, nil
	}
	ids := k.KeyIDs()
	if len(ids) == 0 {
		return VerifyOptions{}, nil
	}
	key, err := k.Lookup(seal.HMACKeyID)
	if err != nil {
		return VerifyOptions{KnownKeyIDs: ids}, err
	}
	return VerifyOptions{Key: key, KnownKeyIDs: ids}, nil
}
