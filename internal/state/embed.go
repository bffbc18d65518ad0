package state

import (
	"fmt"

	"github.com/roach88/attest/internal/fixed"
)

// Embed maps a state to its fixed-point integer embedding: one coordinate
// per participating field, in canonical field-ID order.
//
// Embed is a pure, order-preserving function of the state and its schema.
// Unset participating fields embed as 0. A participating field holding a
// non-integer value is ErrSchemaMismatch (New should have rejected it, but
// partial schemas admit shadowed values).
func Embed(s *State) (fixed.Vec, error) {
	part := s.schema.Participating()
	v := make(fixed.Vec, len(part))
	for k, def := range part {
		raw, ok := s.values[def.ID]
		if !ok {
			v[k] = fixed.New(0)
			continue
		}
		iv, isInt := raw.(IntValue)
		if !isInt {
			return nil, fmt.Errorf("%w: participating field %q holds %s", ErrSchemaMismatch, def.ID, raw.Kind())
		}
		v[k] = fixed.New(int64(iv))
	}
	return v, nil
}

// Unembed writes an embedding back into a state, replacing the
// participating fields coordinate-by-coordinate. Non-participating fields
// are untouched; the codec is lossy by design.
//
// Coordinates must fit int64; a corrected value outside that range fails
// rather than truncating.
func Unembed(s *State, v fixed.Vec) (*State, error) {
	part := s.schema.Participating()
	if len(v) != len(part) {
		return nil, fmt.Errorf("%w: embedding has %d coordinates, schema has %d participating fields", ErrSchemaMismatch, len(v), len(part))
	}
	updates := make(map[FieldID]Value, len(part))
	for k, def := range part {
		n, ok := v[k].Int64()
		if !ok {
			return nil, fmt.Errorf("unembed: coordinate %d (%s) overflows int64", k, def.ID)
		}
		updates[def.ID] = IntValue(n)
	}
	return s.WithFields(updates)
}
