package receipt

import (
	"crypto/sha256"
	"fmt"

	"github.com/roach88/attest/internal/state"
)

// MerkleRoot computes the hash-tree root over local receipt hashes. Leaves
// are the decoded 32-byte hashes in receipt order; interior nodes are
// SHA-256 of the concatenated children, and an odd node is paired with
// itself. A single leaf is its own root.
func MerkleRoot(hashes []string) (string, error) {
	if len(hashes) == 0 {
		return "", fmt.Errorf("receipt: merkle root of empty set")
	}
	level := make([][]byte, len(hashes))
	for i, h := range hashes {
		raw, err := state.DecodeHash(h)
		if err != nil {
			return "", fmt.Errorf("receipt: leaf %d: %w", i, err)
		}
		level[i] = raw
	}
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			sum := sha256.Sum256(append(append([]byte{}, left...), right...))
			next = append(next, sum[:])
		}
		level = next
	}
	return state.EncodeHash(level[0]), nil
}
