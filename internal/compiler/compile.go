// Package compiler turns CUE policy documents into validated, digest-bound
// policy bundles. Uses CUE SDK's Go API directly (not CLI subprocess).
package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/attest/internal/policy"
	"github.com/roach88/attest/internal/state"
)

// CompileSource compiles a CUE policy document from source text. The
// document must declare exactly one bundle under the top-level "policy"
// struct; its label becomes the schema identifier.
func CompileSource(src string) (*policy.Policy, error) {
	v := cuecontext.New().CompileString(src)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	pv := v.LookupPath(cue.ParsePath("policy"))
	if !pv.Exists() {
		return nil, &CompileError{
			Field:   "policy",
			Message: "top-level policy struct is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := pv.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var bundles []cue.Value
	for iter.Next() {
		bundles = append(bundles, iter.Value())
	}
	if len(bundles) != 1 {
		return nil, &CompileError{
			Field:   "policy",
			Message: fmt.Sprintf("expected exactly one policy bundle, found %d", len(bundles)),
			Pos:     pv.Pos(),
		}
	}
	return CompilePolicy(bundles[0])
}

// CompilePolicy parses a CUE value into a validated policy bundle.
//
// The CUE value should be the bundle struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`policy: "ledger.v1": { ... }`)
//	p, err := CompilePolicy(v.LookupPath(cue.ParsePath(`policy."ledger.v1"`)))
func CompilePolicy(v cue.Value) (*policy.Policy, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	// The schema identifier comes from the struct label (the path selector).
	var schemaID string
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		sel := labels[len(labels)-1]
		if sel.IsString() {
			schemaID = sel.Unquoted()
		} else {
			schemaID = sel.String()
		}
	}

	schema, err := parseSchema(schemaID, v)
	if err != nil {
		return nil, err
	}

	raw := policy.Policy{}

	raw.Weights, err = parseWeights(v, schema)
	if err != nil {
		return nil, err
	}
	raw.Matrix, err = parseCurvature(v)
	if err != nil {
		return nil, err
	}
	raw.Certs, err = parseCerts(v)
	if err != nil {
		return nil, err
	}
	raw.Invariants, err = parseInvariants(v)
	if err != nil {
		return nil, err
	}
	raw.Constraints, err = parseConstraints(v)
	if err != nil {
		return nil, err
	}

	raw.Scale, err = requiredInt(v, "scale")
	if err != nil {
		return nil, err
	}

	lambdaVal := v.LookupPath(cue.ParsePath("lambda"))
	if !lambdaVal.Exists() {
		return nil, &CompileError{
			Field:   "lambda",
			Message: "lambda is required",
			Pos:     v.Pos(),
		}
	}
	raw.Lambda.Num, err = requiredInt(lambdaVal, "num")
	if err != nil {
		return nil, err
	}
	raw.Lambda.Den, err = requiredInt(lambdaVal, "den")
	if err != nil {
		return nil, err
	}

	// max_halvings is optional: 0 means a single proximal attempt.
	if mh := v.LookupPath(cue.ParsePath("max_halvings")); mh.Exists() {
		n, err := intValue(mh, "max_halvings")
		if err != nil {
			return nil, err
		}
		raw.MaxHalvings = int(n)
	}

	driftVal := v.LookupPath(cue.ParsePath("drift"))
	if !driftVal.Exists() {
		return nil, &CompileError{
			Field:   "drift",
			Message: "drift rule is required",
			Pos:     v.Pos(),
		}
	}
	raw.DriftRule, err = driftVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}

	return policy.New(schema, raw)
}

// parseSchema extracts the field schema from the bundle.
func parseSchema(schemaID string, v cue.Value) (*state.Schema, error) {
	schemaVal := v.LookupPath(cue.ParsePath("schema"))
	if !schemaVal.Exists() {
		return nil, &CompileError{
			Field:   "schema",
			Message: "schema is required",
			Pos:     v.Pos(),
		}
	}

	total := true
	if tv := schemaVal.LookupPath(cue.ParsePath("total")); tv.Exists() {
		b, err := tv.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		total = b
	}

	fieldsVal := schemaVal.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return nil, &CompileError{
			Field:   "schema.fields",
			Message: "at least one field is required",
			Pos:     schemaVal.Pos(),
		}
	}

	iter, err := fieldsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var defs []state.FieldDef
	for iter.Next() {
		fieldName := iter.Label()
		fieldVal := iter.Value()

		ft, err := extractFieldType(fieldName, fieldVal.LookupPath(cue.ParsePath("type")))
		if err != nil {
			return nil, err
		}

		def := state.FieldDef{ID: state.FieldID(fieldName), Type: ft}
		if pv := fieldVal.LookupPath(cue.ParsePath("participates")); pv.Exists() {
			b, err := pv.Bool()
			if err != nil {
				return nil, formatCUEError(err)
			}
			def.Participates = b
		}
		defs = append(defs, def)
	}
	if len(defs) == 0 {
		return nil, &CompileError{
			Field:   "schema.fields",
			Message: "at least one field is required",
			Pos:     fieldsVal.Pos(),
		}
	}

	return state.NewSchema(schemaID, total, defs...)
}

// extractFieldType converts a declared type name to a field type.
// Floats are forbidden everywhere in a bundle.
func extractFieldType(fieldName string, v cue.Value) (state.FieldType, error) {
	if !v.Exists() {
		return 0, &CompileError{
			Field:   fmt.Sprintf("schema.fields.%s", fieldName),
			Message: "field type is required",
			Pos:     v.Pos(),
		}
	}
	name, err := v.String()
	if err != nil {
		return 0, formatCUEError(err)
	}
	switch name {
	case "int":
		return state.TypeInt, nil
	case "blob":
		return state.TypeBlob, nil
	case "ref":
		return state.TypeRef, nil
	case "float", "number":
		return 0, &CompileError{
			Field:   fmt.Sprintf("schema.fields.%s", fieldName),
			Message: "float types are forbidden - use int with a fixed scale instead",
			Pos:     v.Pos(),
		}
	default:
		return 0, &CompileError{
			Field:   fmt.Sprintf("schema.fields.%s", fieldName),
			Message: fmt.Sprintf("unsupported field type %q", name),
			Pos:     v.Pos(),
		}
	}
}

// parseWeights maps the per-field weight struct onto embedding coordinates
// in canonical order. Every participating field needs a weight, and weights
// for unknown or non-participating fields are rejected.
func parseWeights(v cue.Value, schema *state.Schema) ([]int64, error) {
	weightsVal := v.LookupPath(cue.ParsePath("weights"))
	if !weightsVal.Exists() {
		return nil, &CompileError{
			Field:   "weights",
			Message: "weights are required",
			Pos:     v.Pos(),
		}
	}

	iter, err := weightsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	byField := make(map[state.FieldID]int64)
	for iter.Next() {
		fieldName := iter.Label()
		if _, ok := schema.CoordOf(state.FieldID(fieldName)); !ok {
			return nil, &CompileError{
				Field:   fmt.Sprintf("weights.%s", fieldName),
				Message: "field does not participate in the embedding",
				Pos:     iter.Value().Pos(),
			}
		}
		w, err := intValue(iter.Value(), fmt.Sprintf("weights.%s", fieldName))
		if err != nil {
			return nil, err
		}
		byField[state.FieldID(fieldName)] = w
	}

	part := schema.Participating()
	weights := make([]int64, len(part))
	for k, f := range part {
		w, ok := byField[f.ID]
		if !ok {
			return nil, &CompileError{
				Field:   fmt.Sprintf("weights.%s", f.ID),
				Message: "participating field has no weight",
				Pos:     weightsVal.Pos(),
			}
		}
		weights[k] = w
	}
	return weights, nil
}

// parseCurvature extracts the pairwise curvature matrix entries.
func parseCurvature(v cue.Value) (*policy.Matrix, error) {
	m := policy.NewMatrix()

	curvVal := v.LookupPath(cue.ParsePath("curvature"))
	if !curvVal.Exists() {
		return m, nil // all pairs default to 0
	}

	iter, err := curvVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		entry := iter.Value()

		i, err := requiredString(entry, "curvature", "i")
		if err != nil {
			return nil, err
		}
		j, err := requiredString(entry, "curvature", "j")
		if err != nil {
			return nil, err
		}
		num, err := requiredInt(entry, "num")
		if err != nil {
			return nil, err
		}
		den := int64(1)
		if dv := entry.LookupPath(cue.ParsePath("den")); dv.Exists() {
			den, err = intValue(dv, "curvature.den")
			if err != nil {
				return nil, err
			}
		}
		if err := m.Set(i, j, num, den); err != nil {
			return nil, &CompileError{
				Field:   "curvature",
				Message: err.Error(),
				Pos:     entry.Pos(),
			}
		}
	}
	return m, nil
}

// parseCerts extracts per-operator-type displacement certificates.
func parseCerts(v cue.Value) (map[string]policy.OperatorCert, error) {
	certs := make(map[string]policy.OperatorCert)

	certsVal := v.LookupPath(cue.ParsePath("certs"))
	if !certsVal.Exists() {
		return certs, nil
	}

	iter, err := certsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		typeID := iter.Label()
		bound, err := requiredInt(iter.Value(), "bound")
		if err != nil {
			return nil, err
		}
		certs[typeID] = policy.OperatorCert{TypeID: typeID, Bound: bound}
	}
	return certs, nil
}

// parseInvariants extracts hard invariants in declaration order.
func parseInvariants(v cue.Value) ([]policy.Invariant, error) {
	invVal := v.LookupPath(cue.ParsePath("invariants"))
	if !invVal.Exists() {
		return nil, nil
	}

	iter, err := invVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var invariants []policy.Invariant
	for iter.Next() {
		entry := iter.Value()

		id, err := requiredString(entry, "invariants", "id")
		if err != nil {
			return nil, err
		}
		field, err := requiredString(entry, "invariants", "field")
		if err != nil {
			return nil, err
		}
		kind, err := requiredString(entry, "invariants", "kind")
		if err != nil {
			return nil, err
		}

		inv := policy.Invariant{ID: id, Field: state.FieldID(field)}
		switch kind {
		case "non_negative":
			inv.Kind = policy.InvariantNonNegative
		case "range":
			inv.Kind = policy.InvariantRange
			inv.Min, err = requiredInt(entry, "min")
			if err != nil {
				return nil, err
			}
			inv.Max, err = requiredInt(entry, "max")
			if err != nil {
				return nil, err
			}
		default:
			return nil, &CompileError{
				Field:   fmt.Sprintf("invariants.%s", id),
				Message: fmt.Sprintf("unknown invariant kind %q", kind),
				Pos:     entry.Pos(),
			}
		}
		invariants = append(invariants, inv)
	}
	return invariants, nil
}

// parseConstraints extracts soft-constraint terms in declaration order.
func parseConstraints(v cue.Value) ([]policy.Constraint, error) {
	conVal := v.LookupPath(cue.ParsePath("constraints"))
	if !conVal.Exists() {
		return nil, nil
	}

	iter, err := conVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var constraints []policy.Constraint
	for iter.Next() {
		entry := iter.Value()

		id, err := requiredString(entry, "constraints", "id")
		if err != nil {
			return nil, err
		}
		field, err := requiredString(entry, "constraints", "field")
		if err != nil {
			return nil, err
		}
		kind, err := requiredString(entry, "constraints", "kind")
		if err != nil {
			return nil, err
		}

		c := policy.Constraint{ID: id, Field: state.FieldID(field)}
		switch kind {
		case "quadratic":
			c.Kind = policy.ConstraintQuadratic
		case "hinge":
			c.Kind = policy.ConstraintHinge
		default:
			return nil, &CompileError{
				Field:   fmt.Sprintf("constraints.%s", id),
				Message: fmt.Sprintf("unknown constraint kind %q", kind),
				Pos:     entry.Pos(),
			}
		}

		c.Weight, err = requiredInt(entry, "weight")
		if err != nil {
			return nil, err
		}
		if tv := entry.LookupPath(cue.ParsePath("target")); tv.Exists() {
			c.Target, err = intValue(tv, fmt.Sprintf("constraints.%s.target", id))
			if err != nil {
				return nil, err
			}
		}
		constraints = append(constraints, c)
	}
	return constraints, nil
}

func requiredInt(v cue.Value, field string) (int64, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return 0, &CompileError{
			Field:   field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	return intValue(fv, field)
}

func requiredString(v cue.Value, section, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{
			Field:   section,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// intValue extracts an integer. Floats are forbidden everywhere in a
// bundle, so a float literal is an error rather than a truncation.
func intValue(v cue.Value, field string) (int64, error) {
	switch v.IncompleteKind() {
	case cue.IntKind:
	case cue.FloatKind, cue.NumberKind:
		return 0, &CompileError{
			Field:   field,
			Message: "float values are forbidden - use int with a fixed scale instead",
			Pos:     v.Pos(),
		}
	default:
		return 0, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("expected int, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
	n, err := v.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return n, nil
}
