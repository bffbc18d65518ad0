package engine

import (
	"fmt"
	"sort"

	"github.com/roach88/attest/internal/state"
)

// DriftFunc is a policy-supplied evolution rule: a pure function from the
// patched state to the drift point the corrector starts from. Drift may
// increase the violation measure; only the correction step must reduce it.
//
// Determinism and boundedness of the rule are the responsibility of its
// author; the engine re-checks hard invariants on the drift point but does
// not re-verify purity.
type DriftFunc func(*state.State) (*state.State, error)

// DriftIdentityRule is the built-in no-drift rule, registered by default.
const DriftIdentityRule = "identity.v1"

// DriftRegistry maps drift rule identifiers to their implementations.
// Populated at setup time, read-only during execution.
type DriftRegistry struct {
	rules map[string]DriftFunc
}

// NewDriftRegistry returns a registry pre-loaded with the identity rule.
func NewDriftRegistry() *DriftRegistry {
	r := &DriftRegistry{rules: make(map[string]DriftFunc)}
	r.rules[DriftIdentityRule] = func(x *state.State) (*state.State, error) { return x, nil }
	return r
}

// Register adds a drift rule. Overwriting an existing rule is rejected:
// rule identifiers are part of the policy digest and must stay stable.
func (r *DriftRegistry) Register(id string, fn DriftFunc) error {
	if id == "" {
		return fmt.Errorf("drift: empty rule id")
	}
	if fn == nil {
		return fmt.Errorf("drift: rule %q has nil function", id)
	}
	if _, ok := r.rules[id]; ok {
		return fmt.Errorf("drift: rule %q already registered", id)
	}
	r.rules[id] = fn
	return nil
}

// Lookup returns the rule for an identifier.
func (r *DriftRegistry) Lookup(id string) (DriftFunc, error) {
	fn, ok := r.rules[id]
	if !ok {
		return nil, fmt.Errorf("drift: unknown rule %q", id)
	}
	return fn, nil
}

// Rules returns the registered rule identifiers, sorted.
func (r *DriftRegistry) Rules() []string {
	ids := make([]string, 0, len(r.rules))
	for id := range r.rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
