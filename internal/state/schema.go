package state

import (
	"fmt"
	"sort"
)

// FieldDef declares a single field of the state schema.
type FieldDef struct {
	ID FieldID
	// Type constrains the values the field may hold.
	Type FieldType
	// Participates marks the field as part of the numeric embedding.
	// Only TypeInt fields may participate.
	Participates bool
}

// Schema is the immutable field layout a policy binds to. Fields are held
// in canonical byte-lexicographic order regardless of declaration order.
type Schema struct {
	id     string
	total  bool
	fields []FieldDef
	index  map[FieldID]int

	// participating caches the canonical-order subset of embedded fields.
	participating []FieldDef
}

// NewSchema builds a Schema from field definitions. Duplicate field IDs and
// non-integer participating fields are rejected.
//
// If total is true, states built against this schema must not carry fields
// outside the declared set (SchemaMismatch otherwise).
func NewSchema(id string, total bool, defs ...FieldDef) (*Schema, error) {
	fields := make([]FieldDef, len(defs))
	copy(fields, defs)
	sort.Slice(fields, func(i, j int) bool { return fields[i].ID < fields[j].ID })

	s := &Schema{
		id:     id,
		total:  total,
		fields: fields,
		index:  make(map[FieldID]int, len(fields)),
	}
	for i, f := range fields {
		if f.ID == "" {
			return nil, fmt.Errorf("schema %q: empty field id", id)
		}
		if _, dup := s.index[f.ID]; dup {
			return nil, fmt.Errorf("schema %q: duplicate field id %q", id, f.ID)
		}
		if f.Participates && f.Type != TypeInt {
			return nil, fmt.Errorf("schema %q: field %q: only int fields may participate in the embedding, got %s", id, f.ID, f.Type)
		}
		s.index[f.ID] = i
		if f.Participates {
			s.participating = append(s.participating, f)
		}
	}
	return s, nil
}

// ID returns the schema identifier.
func (s *Schema) ID() string { return s.id }

// Total reports whether the schema requires totality: states must not carry
// undeclared fields.
func (s *Schema) Total() bool { return s.total }

// Fields returns the field definitions in canonical order. The returned
// slice must not be mutated.
func (s *Schema) Fields() []FieldDef { return s.fields }

// Lookup returns the definition for id, if declared.
func (s *Schema) Lookup(id FieldID) (FieldDef, bool) {
	i, ok := s.index[id]
	if !ok {
		return FieldDef{}, false
	}
	return s.fields[i], true
}

// Participating returns the embedded fields in canonical order. The
// embedding coordinate k corresponds to Participating()[k].
func (s *Schema) Participating() []FieldDef { return s.participating }

// CoordOf returns the embedding coordinate of a participating field.
func (s *Schema) CoordOf(id FieldID) (int, bool) {
	for k, f := range s.participating {
		if f.ID == id {
			return k, true
		}
	}
	return 0, false
}
