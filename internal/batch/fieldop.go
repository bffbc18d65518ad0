package batch

import (
	"fmt"
	"sort"

	"github.com/roach88/attest/internal/state"
)

// FieldOp is the standard declarative operator: it sets some integer fields
// to absolute values and adds deltas to others. Scenario files and tests
// build batches out of FieldOps; schedulers with richer transformation
// logic supply their own Operator implementations.
type FieldOp struct {
	OpID   string
	Type   string
	Set    map[state.FieldID]int64
	Add    map[state.FieldID]int64
	SetRef map[state.FieldID]string
}

// ID implements Operator.
func (o *FieldOp) ID() string { return o.OpID }

// TypeID implements Operator.
func (o *FieldOp) TypeID() string { return o.Type }

// WriteSet implements Operator. The set is returned in canonical field
// order so patch behavior is independent of map iteration.
func (o *FieldOp) WriteSet() []state.FieldID {
	set := make(map[state.FieldID]bool, len(o.Set)+len(o.Add)+len(o.SetRef))
	for f := range o.Set {
		set[f] = true
	}
	for f := range o.Add {
		set[f] = true
	}
	for f := range o.SetRef {
		set[f] = true
	}
	out := make([]state.FieldID, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Apply implements Operator.
func (o *FieldOp) Apply(x *state.State) (*state.State, error) {
	updates := make(map[state.FieldID]state.Value)
	for f, v := range o.Set {
		updates[f] = state.IntValue(v)
	}
	for f, d := range o.Add {
		if _, conflict := updates[f]; conflict {
			return nil, fmt.Errorf("field %q both set and added", f)
		}
		updates[f] = state.IntValue(x.Int(f) + d)
	}
	for f, r := range o.SetRef {
		if _, conflict := updates[f]; conflict {
			return nil, fmt.Errorf("field %q written twice", f)
		}
		updates[f] = state.RefValue(r)
	}
	return x.WithFields(updates)
}
