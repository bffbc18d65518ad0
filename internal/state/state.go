package state

import (
	"errors"
	"fmt"
	"sort"
)

// ErrSchemaMismatch reports a state that does not fit its schema: an
// undeclared field under a total schema, or a value of the wrong type.
var ErrSchemaMismatch = errors.New("schema mismatch")

// State is an immutable mapping from field identifiers to typed values.
//
// During a transition the executing engine owns the State exclusively;
// once committed it is never mutated - transitions produce replacement
// States via WithFields.
type State struct {
	schema *Schema
	values map[FieldID]Value
}

// New builds a State over schema from the given values.
//
// Every value is checked against its field definition. Under a total schema
// any undeclared field is ErrSchemaMismatch; under a partial schema
// undeclared fields are carried opaquely but typed fields still must match.
func New(schema *Schema, values map[FieldID]Value) (*State, error) {
	vals := make(map[FieldID]Value, len(values))
	for id, v := range values {
		def, declared := schema.Lookup(id)
		if !declared {
			if schema.Total() {
				return nil, fmt.Errorf("%w: field %q not declared in schema %q", ErrSchemaMismatch, id, schema.ID())
			}
			vals[id] = v
			continue
		}
		if v.Kind() != def.Type {
			return nil, fmt.Errorf("%w: field %q: want %s, got %s", ErrSchemaMismatch, id, def.Type, v.Kind())
		}
		vals[id] = v
	}
	return &State{schema: schema, values: vals}, nil
}

// Schema returns the schema the state was built against.
func (s *State) Schema() *Schema { return s.schema }

// Get returns the value of a field, if set.
func (s *State) Get(id FieldID) (Value, bool) {
	v, ok := s.values[id]
	return v, ok
}

// Int returns the integer value of a field, or 0 if unset. Fields declared
// TypeInt but unset read as zero, matching the embedding codec.
func (s *State) Int(id FieldID) int64 {
	if v, ok := s.values[id]; ok {
		if iv, isInt := v.(IntValue); isInt {
			return int64(iv)
		}
	}
	return 0
}

// WithFields returns a new State with the given fields replaced. The
// receiver is untouched.
func (s *State) WithFields(updates map[FieldID]Value) (*State, error) {
	merged := make(map[FieldID]Value, len(s.values)+len(updates))
	for id, v := range s.values {
		merged[id] = v
	}
	for id, v := range updates {
		merged[id] = v
	}
	return New(s.schema, merged)
}

// fieldIDs returns the set field identifiers in canonical byte order.
func (s *State) fieldIDs() []FieldID {
	ids := make([]FieldID, 0, len(s.values))
	for id := range s.values {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
