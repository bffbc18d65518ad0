// Package norm implements the weighted displacement metric normG and the
// per-operator certified bound check.
package norm

import (
	"fmt"
	"math/big"

	"github.com/roach88/attest/internal/batch"
	"github.com/roach88/attest/internal/fixed"
	"github.com/roach88/attest/internal/policy"
	"github.com/roach88/attest/internal/state"
)

// BoundViolation reports an operator whose observed displacement exceeded
// its certified bound. This is a certification failure, not a gate
// decision: execution aborts.
type BoundViolation struct {
	OpID     string
	TypeID   string
	Observed *big.Int // normG of the displacement
	Allowed  *big.Int // Bound²
}

func (e *BoundViolation) Error() string {
	return fmt.Sprintf("operator %s (type %s): displacement %s exceeds certified bound %s",
		e.OpID, e.TypeID, e.Observed.String(), e.Allowed.String())
}

// Displacement returns the embedding delta between two states under the
// same schema.
func Displacement(before, after *state.State) (fixed.Vec, error) {
	a, err := state.Embed(before)
	if err != nil {
		return nil, err
	}
	b, err := state.Embed(after)
	if err != nil {
		return nil, err
	}
	return b.Sub(a), nil
}

// NormG computes the weighted squared norm sum_k w_k * d_k² of a
// displacement vector. Always a non-negative integer; no square roots are
// ever taken.
func NormG(p *policy.Policy, d fixed.Vec) *big.Int {
	total := new(big.Int)
	for k, dk := range d {
		sq := dk.Mul(dk)
		term := new(big.Int).Mul(big.NewInt(p.WeightAt(k)), sq.Int())
		total.Add(total, term)
	}
	return total
}

// CheckDisplacement verifies one operator's observed displacement against
// its certificate. An uncertified operator type is itself a violation:
// every admitted operator must carry a bound.
func CheckDisplacement(p *policy.Policy, op batch.Operator, before, after *state.State) error {
	cert, ok := p.Cert(op.TypeID())
	if !ok {
		return fmt.Errorf("operator %s: no certificate for type %q", op.ID(), op.TypeID())
	}
	d, err := Displacement(before, after)
	if err != nil {
		return err
	}
	observed := NormG(p, d)
	allowed := new(big.Int).Mul(big.NewInt(cert.Bound), big.NewInt(cert.Bound))
	if observed.Cmp(allowed) > 0 {
		return &BoundViolation{
			OpID:     op.ID(),
			TypeID:   op.TypeID(),
			Observed: observed,
			Allowed:  allowed,
		}
	}
	return nil
}
