package policy

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/roach88/attest/internal/state"
)

// MatrixCanonID names the canonical curvature matrix encoding version.
const MatrixCanonID = "attest/matrix/v1"

// Matrix is the certified pairwise curvature bound M between operator
// types: symmetric with zero diagonal. Entries are stored for the sorted
// pair only (symmetry fill on read), missing entries default to 0, and
// every entry is a reduced non-negative rational. The digest binds the
// canonical matrix bytes exactly.
type Matrix struct {
	entries map[pairKey]*big.Rat
}

type pairKey struct {
	lo, hi string
}

func orderPair(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

// NewMatrix returns an empty curvature matrix.
func NewMatrix() *Matrix {
	return &Matrix{entries: make(map[pairKey]*big.Rat)}
}

// Set stores M[a,b] = num/den. Diagonal entries and negative or
// zero-denominator rationals are rejected; the fraction is reduced on
// store.
func (m *Matrix) Set(a, b string, num, den int64) error {
	if a == b {
		return fmt.Errorf("curvature matrix: diagonal entry %q must stay zero", a)
	}
	if den <= 0 {
		return fmt.Errorf("curvature matrix: entry (%s,%s): denominator must be positive, got %d", a, b, den)
	}
	if num < 0 {
		return fmt.Errorf("curvature matrix: entry (%s,%s): bound must be non-negative, got %d", a, b, num)
	}
	m.entries[orderPair(a, b)] = big.NewRat(num, den) // big.Rat reduces
	return nil
}

// Get returns M[a,b] as an exact rational. Missing entries and the
// diagonal are 0.
func (m *Matrix) Get(a, b string) *big.Rat {
	if a == b {
		return new(big.Rat)
	}
	if r, ok := m.entries[orderPair(a, b)]; ok {
		return new(big.Rat).Set(r)
	}
	return new(big.Rat)
}

// CanonicalBytes serializes the matrix: entries sorted by (lo, hi) pair,
// compact JSON, reduced num/den integers.
func (m *Matrix) CanonicalBytes() []byte {
	keys := make([]pairKey, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].lo != keys[j].lo {
			return keys[i].lo < keys[j].lo
		}
		return keys[i].hi < keys[j].hi
	})

	var buf bytes.Buffer
	buf.WriteString(`{"canon":"` + MatrixCanonID + `","entries":[`)
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		r := m.entries[k]
		fmt.Fprintf(&buf, `{"d":%s,"i":%q,"j":%q,"n":%s}`, r.Denom().String(), k.lo, k.hi, r.Num().String())
	}
	buf.WriteString(`]}`)
	return buf.Bytes()
}

// Digest binds the canonical matrix bytes.
func (m *Matrix) Digest() string {
	return state.HashWithDomain(MatrixCanonID, m.CanonicalBytes())
}
