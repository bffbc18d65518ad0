// Package fixed provides the exact scaled-integer arithmetic used by the
// numeric core.
//
// All engine quantities (violation values, residuals, bounds, witness
// terms) are Scalars: arbitrary-precision signed integers at a scale
// declared by the active policy. Intermediate computation happens in exact
// rational space (math/big.Rat); FromRat is the single point where scale is
// reduced, and it rounds half-even. NO float type appears anywhere in this
// package or its callers - floats break determinism.
package fixed

import (
	"fmt"
	"math/big"
)

// Scalar is an exact integer quantity. The zero value is usable and equals 0.
//
// Scalar is immutable: arithmetic returns new values and never aliases the
// operands' backing integers.
type Scalar struct {
	i *big.Int
}

// New returns a Scalar holding v.
func New(v int64) Scalar {
	return Scalar{i: big.NewInt(v)}
}

// FromBig returns a Scalar holding a copy of i.
func FromBig(i *big.Int) Scalar {
	return Scalar{i: new(big.Int).Set(i)}
}

// Parse reads a Scalar from its decimal string form (the inverse of String).
func Parse(s string) (Scalar, error) {
	i, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Scalar{}, fmt.Errorf("fixed: invalid scalar %q", s)
	}
	return Scalar{i: i}, nil
}

// big returns the backing integer, treating the zero value as 0.
func (s Scalar) big() *big.Int {
	if s.i == nil {
		return new(big.Int)
	}
	return s.i
}

// Int returns a copy of the value as a big.Int.
func (s Scalar) Int() *big.Int {
	return new(big.Int).Set(s.big())
}

// Rat returns the value as an exact rational.
func (s Scalar) Rat() *big.Rat {
	return new(big.Rat).SetInt(s.big())
}

// Int64 returns the value as an int64 and whether it fits.
func (s Scalar) Int64() (int64, bool) {
	b := s.big()
	if !b.IsInt64() {
		return 0, false
	}
	return b.Int64(), true
}

// Add returns s + t.
func (s Scalar) Add(t Scalar) Scalar {
	return Scalar{i: new(big.Int).Add(s.big(), t.big())}
}

// Sub returns s - t.
func (s Scalar) Sub(t Scalar) Scalar {
	return Scalar{i: new(big.Int).Sub(s.big(), t.big())}
}

// Mul returns s * t.
func (s Scalar) Mul(t Scalar) Scalar {
	return Scalar{i: new(big.Int).Mul(s.big(), t.big())}
}

// Neg returns -s.
func (s Scalar) Neg() Scalar {
	return Scalar{i: new(big.Int).Neg(s.big())}
}

// Abs returns |s|.
func (s Scalar) Abs() Scalar {
	return Scalar{i: new(big.Int).Abs(s.big())}
}

// Cmp compares s and t: -1 if s < t, 0 if equal, +1 if s > t.
func (s Scalar) Cmp(t Scalar) int {
	return s.big().Cmp(t.big())
}

// Sign returns -1, 0, or +1.
func (s Scalar) Sign() int {
	return s.big().Sign()
}

// IsZero reports whether s == 0.
func (s Scalar) IsZero() bool {
	return s.big().Sign() == 0
}

// String returns the decimal representation.
func (s Scalar) String() string {
	return s.big().String()
}

// FromRat converts an exact rational to a Scalar at the given scale.
//
// This is the ONLY rounding point in the engine: the rational is multiplied
// by scale and rounded half-even (ties to the even integer). Every scalar
// path converts at most once.
func FromRat(r *big.Rat, scale int64) Scalar {
	num := new(big.Int).Mul(r.Num(), big.NewInt(scale))
	return Scalar{i: halfEven(num, r.Denom())}
}

// halfEven divides num by den (den > 0) rounding to the nearest integer,
// ties to even.
func halfEven(num, den *big.Int) *big.Int {
	q, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	if rem.Sign() == 0 {
		return q
	}
	// QuoRem truncates toward zero; rem carries the sign of num.
	twice := new(big.Int).Lsh(new(big.Int).Abs(rem), 1)
	cmp := twice.Cmp(den)

	away := big.NewInt(1)
	if num.Sign() < 0 {
		away = big.NewInt(-1)
	}

	switch {
	case cmp > 0:
		q.Add(q, away)
	case cmp == 0:
		if q.Bit(0) == 1 { // odd: round away to reach the even neighbor
			q.Add(q, away)
		}
	}
	return q
}
