// Package policy defines the immutable, content-hashed configuration the
// engine executes under: embedding weights, curvature matrix, operator
// certificates, hard invariants, soft constraints, numeric scale, and the
// proximal step schedule.
//
// A Policy is loaded once, validated, digest-bound, and then shared by
// reference; it is never a hidden global and never a function of state.
package policy

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/roach88/attest/internal/state"
)

// PolicyCanonID names the canonical policy bundle encoding version.
const PolicyCanonID = "attest/policy/v1"

// OperatorCert is the policy-certified displacement bound for an operator
// type: normG(displacement) <= Bound² for every reachable state. Certified
// before execution, immutable thereafter.
type OperatorCert struct {
	TypeID string
	Bound  int64
}

// InvariantKind enumerates hard-invariant forms.
type InvariantKind int

const (
	// InvariantNonNegative requires field >= 0.
	InvariantNonNegative InvariantKind = iota
	// InvariantRange requires Min <= field <= Max.
	InvariantRange
)

// Invariant is a hard constraint: either it holds or the transition is
// rejected before any violation computation. There is no soft fallback.
type Invariant struct {
	ID    string
	Kind  InvariantKind
	Field state.FieldID
	Min   int64 // InvariantRange only
	Max   int64 // InvariantRange only
}

// ConstraintKind enumerates the supported soft-constraint shapes. Both are
// functions of a single embedding coordinate, which is what makes the
// disjointness additivity property exact.
type ConstraintKind int

const (
	// ConstraintQuadratic contributes Weight * (v - Target)².
	ConstraintQuadratic ConstraintKind = iota
	// ConstraintHinge contributes Weight * max(v - Target, 0).
	ConstraintHinge
)

// Constraint is one soft-constraint term of the violation functional.
type Constraint struct {
	ID     string
	Kind   ConstraintKind
	Field  state.FieldID
	Weight int64
	Target int64
}

// Lambda is the initial proximal step size as an exact rational.
type Lambda struct {
	Num int64
	Den int64
}

// Policy is the complete execution configuration. All fields are set at
// construction and never mutated; the digest is computed once.
type Policy struct {
	Schema      *state.Schema
	Weights     []int64 // one per embedding coordinate, canonical order
	Matrix      *Matrix
	Certs       map[string]OperatorCert
	Invariants  []Invariant
	Constraints []Constraint
	Scale       int64
	Lambda      Lambda
	MaxHalvings int
	DriftRule   string

	digest string
}

// New validates the configuration and binds its digest.
func New(schema *state.Schema, p Policy) (*Policy, error) {
	p.Schema = schema
	if p.Matrix == nil {
		p.Matrix = NewMatrix()
	}
	if p.Certs == nil {
		p.Certs = make(map[string]OperatorCert)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	p.digest = p.computeDigest()
	return &p, nil
}

func (p *Policy) validate() error {
	part := p.Schema.Participating()
	if len(p.Weights) != len(part) {
		return fmt.Errorf("policy: %d weights for %d participating fields", len(p.Weights), len(part))
	}
	for k, w := range p.Weights {
		if w <= 0 {
			return fmt.Errorf("policy: weight for %q must be positive, got %d", part[k].ID, w)
		}
	}
	for _, c := range p.Certs {
		if c.Bound < 0 {
			return fmt.Errorf("policy: certificate %q: negative displacement bound %d", c.TypeID, c.Bound)
		}
	}
	if p.Scale <= 0 {
		return fmt.Errorf("policy: scale must be positive, got %d", p.Scale)
	}
	if p.Lambda.Num <= 0 || p.Lambda.Den <= 0 {
		return fmt.Errorf("policy: lambda must be a positive rational, got %d/%d", p.Lambda.Num, p.Lambda.Den)
	}
	if p.MaxHalvings < 0 {
		return fmt.Errorf("policy: max halvings must be non-negative, got %d", p.MaxHalvings)
	}
	if p.DriftRule == "" {
		return fmt.Errorf("policy: drift rule is required")
	}

	hinged := make(map[state.FieldID]bool)
	quad := make(map[state.FieldID]bool)
	for _, c := range p.Constraints {
		if c.Weight <= 0 {
			return fmt.Errorf("policy: constraint %q: weight must be positive, got %d", c.ID, c.Weight)
		}
		if _, ok := p.Schema.CoordOf(c.Field); !ok {
			return fmt.Errorf("policy: constraint %q: field %q does not participate in the embedding", c.ID, c.Field)
		}
		switch c.Kind {
		case ConstraintQuadratic:
			quad[c.Field] = true
		case ConstraintHinge:
			if hinged[c.Field] {
				return fmt.Errorf("policy: field %q: at most one hinge constraint per field", c.Field)
			}
			hinged[c.Field] = true
		default:
			return fmt.Errorf("policy: constraint %q: unknown kind %d", c.ID, c.Kind)
		}
	}
	// The closed-form corrector handles a coordinate as either quadratic
	// or hinge, not both.
	for f := range hinged {
		if quad[f] {
			return fmt.Errorf("policy: field %q mixes hinge and quadratic constraints", f)
		}
	}

	for _, inv := range p.Invariants {
		if _, ok := p.Schema.Lookup(inv.Field); !ok {
			return fmt.Errorf("policy: invariant %q: unknown field %q", inv.ID, inv.Field)
		}
		if inv.Kind == InvariantRange && inv.Min > inv.Max {
			return fmt.Errorf("policy: invariant %q: min %d > max %d", inv.ID, inv.Min, inv.Max)
		}
	}
	return nil
}

// Digest returns the content hash binding the whole bundle. Identical
// across all executions sharing the same configuration.
func (p *Policy) Digest() string { return p.digest }

// WeightAt returns the metric weight of embedding coordinate k.
func (p *Policy) WeightAt(k int) int64 { return p.Weights[k] }

// Cert returns the certificate for an operator type, if present.
func (p *Policy) Cert(typeID string) (OperatorCert, bool) {
	c, ok := p.Certs[typeID]
	return c, ok
}

// computeDigest canonicalizes the bundle and hashes it. Schema fields,
// weights, certificates, invariants, and constraints are all emitted in
// canonical order so the digest is independent of construction order.
func (p *Policy) computeDigest() string {
	var buf bytes.Buffer
	buf.WriteString(`{"canon":"` + PolicyCanonID + `"`)

	fmt.Fprintf(&buf, `,"certs":[`)
	for i, id := range sortedCertIDs(p.Certs) {
		if i > 0 {
			buf.WriteByte(',')
		}
		c := p.Certs[id]
		fmt.Fprintf(&buf, `{"bound":%d,"type":%q}`, c.Bound, c.TypeID)
	}
	buf.WriteString(`]`)

	fmt.Fprintf(&buf, `,"constraints":[`)
	for i, c := range p.Constraints {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, `{"field":%q,"id":%q,"kind":%d,"target":%d,"weight":%d}`,
			string(c.Field), c.ID, int(c.Kind), c.Target, c.Weight)
	}
	buf.WriteString(`]`)

	fmt.Fprintf(&buf, `,"drift":%q`, p.DriftRule)

	fmt.Fprintf(&buf, `,"invariants":[`)
	for i, inv := range p.Invariants {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, `{"field":%q,"id":%q,"kind":%d,"max":%d,"min":%d}`,
			string(inv.Field), inv.ID, int(inv.Kind), inv.Max, inv.Min)
	}
	buf.WriteString(`]`)

	fmt.Fprintf(&buf, `,"lambda":{"den":%d,"num":%d},"max_halvings":%d`, p.Lambda.Den, p.Lambda.Num, p.MaxHalvings)

	buf.WriteString(`,"matrix":`)
	buf.Write(p.Matrix.CanonicalBytes())

	fmt.Fprintf(&buf, `,"scale":%d`, p.Scale)

	fmt.Fprintf(&buf, `,"schema":{"id":%q,"fields":[`, p.Schema.ID())
	for i, f := range p.Schema.Fields() {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, `{"id":%q,"part":%t,"type":%q}`, string(f.ID), f.Participates, f.Type.String())
	}
	fmt.Fprintf(&buf, `],"total":%t}`, p.Schema.Total())

	buf.WriteString(`,"weights":[`)
	for i, w := range p.Weights {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%d", w)
	}
	buf.WriteString(`]}`)

	return state.HashWithDomain(PolicyCanonID, buf.Bytes())
}

func sortedCertIDs(certs map[string]OperatorCert) []string {
	ids := make([]string, 0, len(certs))
	for id := range certs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
