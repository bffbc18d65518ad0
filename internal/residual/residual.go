// Package residual computes the interaction residual of a batch: the gap
// between the violation delta of applying the batch jointly and the sum of
// its operators' singleton deltas, plus the policy-certified bound on that
// gap.
package residual

import (
	"fmt"
	"math/big"

	"github.com/roach88/attest/internal/batch"
	"github.com/roach88/attest/internal/fixed"
	"github.com/roach88/attest/internal/policy"
	"github.com/roach88/attest/internal/state"
	"github.com/roach88/attest/internal/violation"
)

// Measurement is the exact residual of a batch at a state.
type Measurement struct {
	// Eps is the measured residual e_B = dV_batch - sum_i dV_i, in quanta.
	Eps fixed.Scalar
	// VBefore and VAfter are V(x) and V(patch(x, B)), in quanta.
	VBefore fixed.Scalar
	VAfter  fixed.Scalar
	// After is patch(x, B), reusable by the caller.
	After *state.State
}

// Measure computes the residual of b at x. Each V evaluation rounds once;
// the residual itself is pure integer arithmetic over those quanta.
func Measure(p *policy.Policy, x *state.State, b batch.Batch) (*Measurement, error) {
	vBefore, err := violation.Eval(p, x)
	if err != nil {
		return nil, err
	}

	after, err := batch.Patch(x, b)
	if err != nil {
		return nil, err
	}
	vAfter, err := violation.Eval(p, after)
	if err != nil {
		return nil, err
	}
	dBatch := vAfter.Sub(vBefore)

	dSum := fixed.New(0)
	for _, op := range b.Canonical() {
		one, err := batch.PatchOne(x, op)
		if err != nil {
			return nil, fmt.Errorf("residual: operator %s: %w", op.ID(), err)
		}
		vOne, err := violation.Eval(p, one)
		if err != nil {
			return nil, err
		}
		dSum = dSum.Add(vOne.Sub(vBefore))
	}

	return &Measurement{
		Eps:     dBatch.Sub(dSum),
		VBefore: vBefore,
		VAfter:  vAfter,
		After:   after,
	}, nil
}

// CertifiedBound computes the residual allowance of b: the sum over
// unordered operator pairs of M(type_i, type_j) * a_i * a_j, where a is
// each type's certified displacement bound. Computed exactly in rational
// space and rounded once at the policy scale.
//
// Disjoint batches under a zero curvature matrix get a bound of exactly 0,
// which the measured residual then must match exactly.
func CertifiedBound(p *policy.Policy, b batch.Batch) (fixed.Scalar, error) {
	ops := b.Canonical()
	bounds := make([]*big.Int, len(ops))
	for i, op := range ops {
		cert, ok := p.Cert(op.TypeID())
		if !ok {
			return fixed.Scalar{}, fmt.Errorf("residual: operator %s: no certificate for type %q", op.ID(), op.TypeID())
		}
		bounds[i] = big.NewInt(cert.Bound)
	}

	total := new(big.Rat)
	for i := 0; i < len(ops); i++ {
		for j := i + 1; j < len(ops); j++ {
			m := p.Matrix.Get(ops[i].TypeID(), ops[j].TypeID())
			if m.Sign() == 0 {
				continue
			}
			prod := new(big.Int).Mul(bounds[i], bounds[j])
			term := new(big.Rat).Mul(m, new(big.Rat).SetInt(prod))
			total.Add(total, term)
		}
	}
	return fixed.FromRat(total, p.Scale), nil
}
