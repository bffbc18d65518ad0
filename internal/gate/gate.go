// Package gate implements the pre-commit safety test: the measured batch
// residual must stay within its certified allowance, and every hard
// invariant must hold on the patched state.
package gate

import (
	"fmt"

	"github.com/roach88/attest/internal/batch"
	"github.com/roach88/attest/internal/fixed"
	"github.com/roach88/attest/internal/norm"
	"github.com/roach88/attest/internal/policy"
	"github.com/roach88/attest/internal/residual"
	"github.com/roach88/attest/internal/state"
	"github.com/roach88/attest/internal/violation"
)

// Result is the outcome of one gate check. A failed gate is an ordinary
// outcome (it routes the batch to the splitter), not an error; errors are
// reserved for integrity failures such as a breached certificate.
type Result struct {
	Pass   bool
	Reason string // empty when Pass

	// Eps and Bound are the measured residual and its certified allowance.
	Eps   fixed.Scalar
	Bound fixed.Scalar

	// Measurement carries the V values and patched state for reuse by the
	// corrector, valid whether or not the gate passed.
	Measurement *residual.Measurement
}

// Check gates b at x. Each operator's observed displacement is asserted
// against its certificate first; a breach there means a stale or forged
// certificate and aborts the attempt rather than failing the gate.
func Check(p *policy.Policy, x *state.State, b batch.Batch) (*Result, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("gate: empty batch")
	}

	for _, op := range b.Canonical() {
		one, err := batch.PatchOne(x, op)
		if err != nil {
			return nil, fmt.Errorf("gate: operator %s: %w", op.ID(), err)
		}
		if err := norm.CheckDisplacement(p, op, x, one); err != nil {
			return nil, err
		}
	}

	m, err := residual.Measure(p, x, b)
	if err != nil {
		return nil, err
	}
	bound, err := residual.CertifiedBound(p, b)
	if err != nil {
		return nil, err
	}

	res := &Result{Eps: m.Eps, Bound: bound, Measurement: m}
	if m.Eps.Abs().Cmp(bound) > 0 {
		res.Reason = fmt.Sprintf("residual %s exceeds certified bound %s", m.Eps.String(), bound.String())
		return res, nil
	}
	if err := violation.CheckInvariants(p, m.After); err != nil {
		res.Reason = err.Error()
		return res, nil
	}
	res.Pass = true
	return res, nil
}
