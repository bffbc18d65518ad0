// Package violation implements the hard-invariant check and the violation
// functional V.
//
// Hard invariants are non-negotiable and precede every V computation: a
// state that fails one is rejected outright, never penalized. V itself is a
// stateless, reentrant weighted sum of soft-constraint terms over the
// embedded state, computed in exact integer/rational arithmetic and
// converted to quanta at the policy scale exactly once.
package violation

import (
	"fmt"
	"math/big"

	"github.com/roach88/attest/internal/fixed"
	"github.com/roach88/attest/internal/policy"
	"github.com/roach88/attest/internal/state"
)

// InvariantError reports the first hard invariant a state fails.
type InvariantError struct {
	InvariantID string
	Field       state.FieldID
	Message     string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant %s: %s (field=%s)", e.InvariantID, e.Message, e.Field)
}

// CheckInvariants evaluates every hard invariant of p against x, in policy
// declaration order, and returns the first failure.
func CheckInvariants(p *policy.Policy, x *state.State) error {
	for _, inv := range p.Invariants {
		v := x.Int(inv.Field)
		switch inv.Kind {
		case policy.InvariantNonNegative:
			if v < 0 {
				return &InvariantError{
					InvariantID: inv.ID,
					Field:       inv.Field,
					Message:     fmt.Sprintf("value %d is negative", v),
				}
			}
		case policy.InvariantRange:
			if v < inv.Min || v > inv.Max {
				return &InvariantError{
					InvariantID: inv.ID,
					Field:       inv.Field,
					Message:     fmt.Sprintf("value %d outside [%d, %d]", v, inv.Min, inv.Max),
				}
			}
		}
	}
	return nil
}

// EvalVec computes V over an embedding as an exact rational, before scale
// conversion. Used by the corrector, which reasons about candidate
// embeddings directly.
func EvalVec(p *policy.Policy, emb fixed.Vec) *big.Rat {
	total := new(big.Rat)
	for _, c := range p.Constraints {
		k, ok := p.Schema.CoordOf(c.Field)
		if !ok {
			continue // New rejects these; defensive skip
		}
		v := emb[k].Int()
		t := big.NewInt(c.Target)
		w := big.NewInt(c.Weight)
		switch c.Kind {
		case policy.ConstraintQuadratic:
			d := new(big.Int).Sub(v, t)
			term := new(big.Int).Mul(d, d)
			term.Mul(term, w)
			total.Add(total, new(big.Rat).SetInt(term))
		case policy.ConstraintHinge:
			d := new(big.Int).Sub(v, t)
			if d.Sign() > 0 {
				term := new(big.Int).Mul(d, w)
				total.Add(total, new(big.Rat).SetInt(term))
			}
		}
	}
	return total
}

// Eval computes V(x) in quanta at the policy scale. The caller must have
// checked hard invariants first; Eval itself never inspects them.
func Eval(p *policy.Policy, x *state.State) (fixed.Scalar, error) {
	emb, err := state.Embed(x)
	if err != nil {
		return fixed.Scalar{}, fmt.Errorf("violation: %w", err)
	}
	return fixed.FromRat(EvalVec(p, emb), p.Scale), nil
}
