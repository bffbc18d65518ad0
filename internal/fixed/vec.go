package fixed

// Vec is an ordered vector of Scalars, used for state embeddings and
// displacement vectors. Coordinate order is fixed by the policy schema.
type Vec []Scalar

// NewVec builds a Vec from int64 coordinates.
func NewVec(vals ...int64) Vec {
	v := make(Vec, len(vals))
	for i, x := range vals {
		v[i] = New(x)
	}
	return v
}

// Sub returns v - w coordinate-wise. Panics if lengths differ: vectors from
// the same policy schema always have equal length, so a mismatch is a
// programming error, not an input error.
func (v Vec) Sub(w Vec) Vec {
	if len(v) != len(w) {
		panic("fixed: vector length mismatch")
	}
	out := make(Vec, len(v))
	for i := range v {
		out[i] = v[i].Sub(w[i])
	}
	return out
}

// Equal reports coordinate-wise equality.
func (v Vec) Equal(w Vec) bool {
	if len(v) != len(w) {
		return false
	}
	for i := range v {
		if v[i].Cmp(w[i]) != 0 {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (v Vec) Clone() Vec {
	out := make(Vec, len(v))
	copy(out, v)
	return out
}

// Strings returns the decimal form of each coordinate, for canonical
// serialization.
func (v Vec) Strings() []string {
	out := make([]string, len(v))
	for i := range v {
		out[i] = v[i].String()
	}
	return out
}
