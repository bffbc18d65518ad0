// Package batch defines operators and batches: the atomic units of state
// transformation proposed by an external scheduler and consumed - accepted,
// corrected, or split, never silently dropped - by the engine.
package batch

import (
	"fmt"
	"sort"

	"github.com/roach88/attest/internal/state"
)

// Operator is an atomic, pure state transformation.
//
// Implementations must be deterministic and side-effect free: Apply returns
// a replacement state and never mutates its input. The TypeID links the
// operator to its policy certificate (displacement bound and curvature
// rows); the ID is the canonical identifier used for ordering and split
// decisions.
type Operator interface {
	// ID returns the canonical operator identifier. Batches are ordered by
	// the byte order of these IDs.
	ID() string
	// TypeID returns the certified operator type.
	TypeID() string
	// WriteSet returns the fields the operator may write. Patch semantics
	// only copy write-set fields out of the operator's raw output.
	WriteSet() []state.FieldID
	// Apply runs the transformation against x and returns the raw output
	// state.
	Apply(x *state.State) (*state.State, error)
}

// Batch is a finite set of operators proposed for atomic application.
type Batch []Operator

// Canonical returns a copy of b sorted by operator ID bytes. The input is
// untouched.
func (b Batch) Canonical() Batch {
	out := make(Batch, len(b))
	copy(out, b)
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// IDs returns the operator IDs in b's current order.
func (b Batch) IDs() []string {
	ids := make([]string, len(b))
	for i, op := range b {
		ids[i] = op.ID()
	}
	return ids
}

// ID derives the content-addressed batch identifier from the canonical
// operator ID sequence.
func (b Batch) ID() string {
	canon := b.Canonical()
	payload := []byte{}
	for i, op := range canon {
		if i > 0 {
			payload = append(payload, 0x1e) // record separator, IDs may not contain it
		}
		payload = append(payload, op.ID()...)
	}
	return state.HashWithDomain("attest/batch/v1", payload)
}

// DisjointWriteSets reports whether all operators in b touch pairwise
// disjoint field sets.
func (b Batch) DisjointWriteSets() bool {
	seen := make(map[state.FieldID]bool)
	for _, op := range b {
		for _, f := range op.WriteSet() {
			if seen[f] {
				return false
			}
			seen[f] = true
		}
	}
	return true
}

// PatchOne applies op to x and patches only its write-set fields back onto
// x: patch(x, W_o, o(x)). Fields outside the write set are taken from x
// even if the raw output changed them.
func PatchOne(x *state.State, op Operator) (*state.State, error) {
	raw, err := op.Apply(x)
	if err != nil {
		return nil, fmt.Errorf("operator %s: %w", op.ID(), err)
	}
	updates := make(map[state.FieldID]state.Value, len(op.WriteSet()))
	for _, f := range op.WriteSet() {
		if v, ok := raw.Get(f); ok {
			updates[f] = v
		}
	}
	return x.WithFields(updates)
}

// Patch applies the whole batch atomically: operators run sequentially in
// canonical ID order, each patched through its write set. This is the
// patch(x, B) of the gate and residual definitions.
func Patch(x *state.State, b Batch) (*state.State, error) {
	cur := x
	for _, op := range b.Canonical() {
		next, err := PatchOne(cur, op)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}
