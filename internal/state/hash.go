package state

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// HashPrefix prefixes every hash string emitted by the engine.
const HashPrefix = "h:"

// HashWithDomain computes SHA-256 over domain || 0x00 || data and returns
// it as h:<hex>. The null separator prevents domain/data boundary
// ambiguity.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return HashPrefix + hex.EncodeToString(h.Sum(nil))
}

// DecodeHash converts an h:<hex> string back to raw digest bytes.
func DecodeHash(s string) ([]byte, error) {
	if !strings.HasPrefix(s, HashPrefix) {
		return nil, fmt.Errorf("invalid hash format %q", s)
	}
	b, err := hex.DecodeString(s[len(HashPrefix):])
	if err != nil {
		return nil, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(b) != sha256.Size {
		return nil, fmt.Errorf("invalid hash %q: want %d bytes, got %d", s, sha256.Size, len(b))
	}
	return b, nil
}

// EncodeHash converts raw digest bytes to h:<hex>.
func EncodeHash(b []byte) string {
	return HashPrefix + hex.EncodeToString(b)
}

// Hash computes the canonical state hash: SHA-256 with domain separation
// over the canonical bytes.
func Hash(s *State) (string, error) {
	b, err := CanonicalBytes(s)
	if err != nil {
		return "", err
	}
	return HashWithDomain(CanonID, b), nil
}
