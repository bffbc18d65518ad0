// Package split decomposes a gate-failing batch into committable
// sub-batches.
//
// The decomposition is the fixed recursive rule: isolate the operator with
// the lexicographically smallest ID, recurse on the singleton and on the
// remainder, concatenate in that order. For a given state and batch the
// resulting sequence is fully determined, so independent replays agree on
// it. The recursion runs on an explicit work stack; depth never depends on
// batch size.
package split

import (
	"fmt"

	"github.com/roach88/attest/internal/batch"
	"github.com/roach88/attest/internal/gate"
	"github.com/roach88/attest/internal/policy"
	"github.com/roach88/attest/internal/state"
)

// SingletonGateError is the terminal failure: a single operator failed the
// gate, and a singleton cannot be split further. No retry happens here.
type SingletonGateError struct {
	OpID   string
	Reason string
}

func (e *SingletonGateError) Error() string {
	return fmt.Sprintf("singleton gate failed for operator %s: %s", e.OpID, e.Reason)
}

// Part is one committable sub-batch together with its gate evidence.
type Part struct {
	Batch  batch.Batch
	Result *gate.Result
}

// Decompose splits b at x into gate-passing parts. A batch that passes the
// gate outright comes back as a single part. Every returned part passed the
// gate at x; the operators of the parts partition b exactly.
func Decompose(p *policy.Policy, x *state.State, b batch.Batch) ([]Part, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("split: empty batch")
	}

	var out []Part
	stack := []batch.Batch{b.Canonical()}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		res, err := gate.Check(p, x, cur)
		if err != nil {
			return nil, err
		}
		if res.Pass {
			out = append(out, Part{Batch: cur, Result: res})
			continue
		}
		if len(cur) == 1 {
			return nil, &SingletonGateError{OpID: cur[0].ID(), Reason: res.Reason}
		}
		// cur is canonical, so cur[0] is the smallest ID. Push the
		// remainder first: the singleton must pop (and commit) before it.
		stack = append(stack, cur[1:], batch.Batch{cur[0]})
	}
	return out, nil
}
