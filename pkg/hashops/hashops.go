// Package hashops provides the SHA-256 and HMAC-SHA-256 primitives shared by
// the evidence sealer, the audit ledger and the webhook signer.
//
// Every function is pure and safe for concurrent use. Digests are exchanged as
// lower-case hex strings; signature comparisons are constant-time.
package hashops

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// HexLen is the length of a hex-encoded SHA-256 digest.
const HexLen = sha256.Size * 2

// ErrEmptyKey is returned by DecodeKey when the key material is empty.
var ErrEmptyKey = errors.New("hmac key is empty")

// Sum256 returns the raw SHA-256 digest of b.
func Sum256(b []byte) [sha256.Size]byte {
	return sha256.Sum256(b)
}

// SumHex returns the hex-encoded SHA-256 digest of b.
func SumHex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// SumHexString returns the hex-encoded SHA-256 digest of s.
func SumHexString(s string) string {
	return SumHex([]byte(s))
}

// Concat returns the hex digest of the concatenation of parts.
func Concat(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p)) //nolint:errcheck
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SumReader streams r through SHA-256 and returns the hex digest and the
// number of bytes read.
func SumReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// HMAC256 returns the raw HMAC-SHA-256 of msg under key.
func HMAC256(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg) //nolint:errcheck
	return mac.Sum(nil)
}

// HMACHex returns the hex-encoded HMAC-SHA-256 of msg under key.
func HMACHex(key, msg []byte) string {
	return hex.EncodeToString(HMAC256(key, msg))
}

// VerifyHMAC recomputes the HMAC of msg and compares it with sigHex in
// constant time. A malformed signature never verifies.
func VerifyHMAC(key, msg []byte, sigHex string) bool {
	sig, err := hex.DecodeString(strings.ToLower(sigHex))
	if err != nil {
		return false
	}
	return hmac.Equal(HMAC256(key, msg), sig)
}

// Equal compares two digests in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// IsHexDigest reports whether s is a well-formed lower-case SHA-256 hex digest.
func IsHexDigest(s string) bool {
	if len(s) != HexLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// DecodeKey turns configured key material into bytes.
//
//	hex:<hex digits>    — hex-encoded key
//	base64:<std base64> — base64-encoded key
//	anything else       — used verbatim
func DecodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmptyKey
	}
	switch {
	case strings.HasPrefix(s, "hex:"):
		b, err := hex.DecodeString(strings.TrimPrefix(s, "hex:"))
		if err != nil {
			return nil, fmt.Errorf("decode hex key: %w", err)
		}
		if len(b) == 0 {
			return nil, ErrEmptyKey
		}
		return b, nil
	case strings.HasPrefix(s, "base64:"):
		b, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, "base64:"))
		if err != nil {
			return nil, fmt.Errorf("decode base64 key: %w", err)
		}
		if len(b) == 0 {
			return nil, ErrEmptyKey
		}
		return b, nil
	default:
		return []byte(s), nil
	}
}
