// Package prox implements the proximal correction step: from a drift point
// z it computes the state minimizing V(y) + normG(y - z)/(2λ), and proves
// the descent with an exact integer witness check.
//
// The supported constraint shapes make the objective separable per
// embedding coordinate, so the minimizer has a closed form: a weighted
// average for quadratic terms, a soft-threshold shift for hinge terms.
// Everything runs in exact rational space; the single rounding happens when
// a corrected coordinate is snapped back to an integer.
package prox

import (
	"fmt"
	"math/big"

	"github.com/roach88/attest/internal/fixed"
	"github.com/roach88/attest/internal/norm"
	"github.com/roach88/attest/internal/policy"
	"github.com/roach88/attest/internal/state"
	"github.com/roach88/attest/internal/violation"
)

// CorrectionError reports that no step size in the halving schedule
// produced a correction passing the witness check. The drift state is left
// untouched.
type CorrectionError struct {
	Attempts int
}

func (e *CorrectionError) Error() string {
	return fmt.Sprintf("no correction satisfied the witness inequality after %d step-size attempts", e.Attempts)
}

// Correction is a successful proximal step with its witness evidence.
type Correction struct {
	After *state.State

	// Lambda is the step size that succeeded, after any halvings.
	Lambda   policy.Lambda
	Halvings int

	// NormG is the raw weighted squared displacement between the corrected
	// embedding and the drift embedding. This integer is the stored witness.
	NormG *big.Int

	VDrift fixed.Scalar
	VAfter fixed.Scalar
}

// coordTerms collects the soft-constraint terms acting on one embedding
// coordinate. Policy validation guarantees quadratic and hinge never mix.
type coordTerms struct {
	quadWeight *big.Int // sum of quadratic weights
	quadMoment *big.Int // sum of weight*target
	hinge      bool
	hingeW     *big.Int
	hingeT     *big.Int
}

func collectTerms(p *policy.Policy) []coordTerms {
	terms := make([]coordTerms, len(p.Schema.Participating()))
	for i := range terms {
		terms[i].quadWeight = new(big.Int)
		terms[i].quadMoment = new(big.Int)
	}
	for _, c := range p.Constraints {
		k, ok := p.Schema.CoordOf(c.Field)
		if !ok {
			continue
		}
		w := big.NewInt(c.Weight)
		switch c.Kind {
		case policy.ConstraintQuadratic:
			terms[k].quadWeight.Add(terms[k].quadWeight, w)
			terms[k].quadMoment.Add(terms[k].quadMoment, new(big.Int).Mul(w, big.NewInt(c.Target)))
		case policy.ConstraintHinge:
			terms[k].hinge = true
			terms[k].hingeW = w
			terms[k].hingeT = big.NewInt(c.Target)
		}
	}
	return terms
}

// solveCoord returns the exact rational minimizer for one coordinate at
// drift value z under step size lam.
func solveCoord(t coordTerms, w int64, z *big.Int, lam *big.Rat) *big.Rat {
	zr := new(big.Rat).SetInt(z)
	switch {
	case t.quadWeight.Sign() > 0:
		// y* = (2λ·Σqt + w·z) / (2λ·Σq + w)
		twoLam := new(big.Rat).Mul(big.NewRat(2, 1), lam)
		num := new(big.Rat).Mul(twoLam, new(big.Rat).SetInt(t.quadMoment))
		num.Add(num, new(big.Rat).Mul(big.NewRat(w, 1), zr))
		den := new(big.Rat).Mul(twoLam, new(big.Rat).SetInt(t.quadWeight))
		den.Add(den, big.NewRat(w, 1))
		return num.Quo(num, den)
	case t.hinge:
		tr := new(big.Rat).SetInt(t.hingeT)
		if zr.Cmp(tr) <= 0 {
			return zr // hinge inactive at z, stay put
		}
		// Soft threshold: y* = max(target, z - λ·h/w).
		shift := new(big.Rat).Mul(lam, new(big.Rat).SetInt(t.hingeW))
		shift.Quo(shift, big.NewRat(w, 1))
		cand := new(big.Rat).Sub(zr, shift)
		if cand.Cmp(tr) < 0 {
			return tr
		}
		return cand
	default:
		return zr
	}
}

// Correct computes the proximal step from drift state z. Step sizes follow
// the policy's halving schedule: the initial λ is halved until the witness
// inequality holds in quantized arithmetic, up to MaxHalvings. As λ shrinks
// the corrected point collapses onto z, where the inequality holds with
// equality, so the schedule only exhausts on evaluation failures.
func Correct(p *policy.Policy, z *state.State) (*Correction, error) {
	zEmb, err := state.Embed(z)
	if err != nil {
		return nil, err
	}
	vDrift, err := violation.Eval(p, z)
	if err != nil {
		return nil, err
	}
	terms := collectTerms(p)

	for attempt := 0; attempt <= p.MaxHalvings; attempt++ {
		den := new(big.Int).Lsh(big.NewInt(p.Lambda.Den), uint(attempt))
		if !den.IsInt64() {
			break
		}
		lam := new(big.Rat).SetFrac(big.NewInt(p.Lambda.Num), den)

		after := make(fixed.Vec, len(zEmb))
		for k := range zEmb {
			y := solveCoord(terms[k], p.WeightAt(k), zEmb[k].Int(), lam)
			after[k] = fixed.FromRat(y, 1)
		}

		xAfter, err := state.Unembed(z, after)
		if err != nil {
			continue
		}
		vAfter, err := violation.Eval(p, xAfter)
		if err != nil {
			continue
		}
		nG := norm.NormG(p, after.Sub(zEmb))

		if WitnessHolds(vAfter, vDrift, nG, p.Lambda.Num, den.Int64(), p.Scale) {
			return &Correction{
				After:    xAfter,
				Lambda:   policy.Lambda{Num: p.Lambda.Num, Den: den.Int64()},
				Halvings: attempt,
				NormG:    nG,
				VDrift:   vDrift,
				VAfter:   vAfter,
			}, nil
		}
	}
	return nil, &CorrectionError{Attempts: p.MaxHalvings + 1}
}

// WitnessHolds checks the descent inequality
//
//	V_after <= V_drift - normG/(2λ)
//
// in pure integer arithmetic over quantized V values: with λ = num/den and
// V in quanta at the given scale, the inequality cross-multiplies to
//
//	2·num·V_after <= 2·num·V_drift - scale·den·normG.
//
// The verifier runs this same predicate over a receipt's stored scalars.
func WitnessHolds(vAfter, vDrift fixed.Scalar, normG *big.Int, num, den, scale int64) bool {
	twoNum := new(big.Int).Lsh(big.NewInt(num), 1)
	lhs := new(big.Int).Mul(twoNum, vAfter.Int())
	rhs := new(big.Int).Mul(twoNum, vDrift.Int())
	penalty := new(big.Int).Mul(big.NewInt(scale), big.NewInt(den))
	penalty.Mul(penalty, normG)
	rhs.Sub(rhs, penalty)
	return lhs.Cmp(rhs) <= 0
}
