// Package receipt builds and verifies the audit trail: one local receipt
// per corrected sub-batch, aggregated per attempt into a hash-chained
// commit receipt.
//
// Receipts are canonical JSON with a fixed sorted key order; the canonical
// bytes are both the wire form and the hash input. Every numeric field is a
// decimal-string integer at the policy scale. Nothing in a receipt is ever
// a float.
package receipt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/attest/internal/fixed"
	"github.com/roach88/attest/internal/policy"
	"github.com/roach88/attest/internal/state"
)

const (
	// LocalCanonID names the canonical local receipt encoding version.
	LocalCanonID = "attest/receipt/local/v1"
	// CommitCanonID names the canonical commit receipt encoding version.
	CommitCanonID = "attest/receipt/commit/v1"
)

// GenesisRoot is the prev_root of the first commit receipt in a chain.
var GenesisRoot = state.HashPrefix + strings.Repeat("0", 64)

// Local proves one corrected sub-batch transition. The drift and corrected
// embeddings are stored whole so a verifier can recompute the witness term
// from the receipt alone.
type Local struct {
	Seq          uint64
	BatchID      string
	PolicyDigest string
	StateBefore  string
	StateAfter   string
	VBefore      fixed.Scalar
	VDrift       fixed.Scalar
	VAfter       fixed.Scalar
	Lambda       policy.Lambda
	Drift        fixed.Vec // drift-point embedding z
	After        fixed.Vec // corrected embedding
	Witness      fixed.Scalar
}

// Commit seals one fully processed top-level batch attempt: the hash-tree
// root over its local receipts, chained to the previous commit's root.
type Commit struct {
	Seq              uint64
	AttemptID        string
	PolicyDigest     string
	PrevRoot         string
	Root             string
	StateAfter       string
	LocalHashes      []string
	AggregateWitness fixed.Scalar
}

func writeStringArray(buf *bytes.Buffer, vals []string) {
	buf.WriteByte('[')
	for i, v := range vals {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(buf, "%q", v)
	}
	buf.WriteByte(']')
}

// CanonicalBytes serializes the local receipt with fixed key order.
func (r *Local) CanonicalBytes() []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"after":`)
	writeStringArray(&buf, r.After.Strings())
	fmt.Fprintf(&buf, `,"batch_id":%q,"drift":`, r.BatchID)
	writeStringArray(&buf, r.Drift.Strings())
	fmt.Fprintf(&buf, `,"lambda_den":%d,"lambda_num":%d`, r.Lambda.Den, r.Lambda.Num)
	fmt.Fprintf(&buf, `,"policy_digest":%q,"seq":%d`, r.PolicyDigest, r.Seq)
	fmt.Fprintf(&buf, `,"state_after":%q,"state_before":%q`, r.StateAfter, r.StateBefore)
	fmt.Fprintf(&buf, `,"v_after":%q,"v_before":%q,"v_drift":%q`,
		r.VAfter.String(), r.VBefore.String(), r.VDrift.String())
	fmt.Fprintf(&buf, `,"witness":%q}`, r.Witness.String())
	return buf.Bytes()
}

// Hash binds the canonical local receipt bytes.
func (r *Local) Hash() string {
	return state.HashWithDomain(LocalCanonID, r.CanonicalBytes())
}

// CanonicalBytes serializes the commit receipt with fixed key order.
func (c *Commit) CanonicalBytes() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `{"aggregate_witness":%q,"attempt_id":%q,"local_hashes":`,
		c.AggregateWitness.String(), c.AttemptID)
	writeStringArray(&buf, c.LocalHashes)
	fmt.Fprintf(&buf, `,"policy_digest":%q,"prev_root":%q,"root":%q`,
		c.PolicyDigest, c.PrevRoot, c.Root)
	fmt.Fprintf(&buf, `,"seq":%d,"state_after":%q}`, c.Seq, c.StateAfter)
	return buf.Bytes()
}

// Hash binds the canonical commit receipt bytes.
func (c *Commit) Hash() string {
	return state.HashWithDomain(CommitCanonID, c.CanonicalBytes())
}

// BuildCommit assembles the commit receipt for an attempt: hashes every
// local receipt, aggregates their witness terms, and roots the hash tree
// onto the previous commit root.
func BuildCommit(seq uint64, attemptID, prevRoot, stateAfter string, locals []*Local) (*Commit, error) {
	if len(locals) == 0 {
		return nil, fmt.Errorf("receipt: commit with no local receipts")
	}
	hashes := make([]string, len(locals))
	agg := fixed.New(0)
	digest := locals[0].PolicyDigest
	for i, l := range locals {
		if l.PolicyDigest != digest {
			return nil, fmt.Errorf("receipt: local %d carries a different policy digest", i)
		}
		hashes[i] = l.Hash()
		agg = agg.Add(l.Witness)
	}
	root, err := MerkleRoot(hashes)
	if err != nil {
		return nil, err
	}
	return &Commit{
		Seq:              seq,
		AttemptID:        attemptID,
		PolicyDigest:     digest,
		PrevRoot:         prevRoot,
		Root:             root,
		StateAfter:       stateAfter,
		LocalHashes:      hashes,
		AggregateWitness: agg,
	}, nil
}

type wireLocal struct {
	After        []string `json:"after"`
	BatchID      string   `json:"batch_id"`
	Drift        []string `json:"drift"`
	LambdaDen    int64    `json:"lambda_den"`
	LambdaNum    int64    `json:"lambda_num"`
	PolicyDigest string   `json:"policy_digest"`
	Seq          uint64   `json:"seq"`
	StateAfter   string   `json:"state_after"`
	StateBefore  string   `json:"state_before"`
	VAfter       string   `json:"v_after"`
	VBefore      string   `json:"v_before"`
	VDrift       string   `json:"v_drift"`
	Witness      string   `json:"witness"`
}

func parseVec(vals []string) (fixed.Vec, error) {
	v := make(fixed.Vec, len(vals))
	for i, s := range vals {
		sc, err := fixed.Parse(s)
		if err != nil {
			return nil, err
		}
		v[i] = sc
	}
	return v, nil
}

// ParseLocal decodes a local receipt from its canonical bytes.
func ParseLocal(data []byte) (*Local, error) {
	var w wireLocal
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("receipt: malformed local receipt: %w", err)
	}
	after, err := parseVec(w.After)
	if err != nil {
		return nil, fmt.Errorf("receipt: local after vector: %w", err)
	}
	drift, err := parseVec(w.Drift)
	if err != nil {
		return nil, fmt.Errorf("receipt: local drift vector: %w", err)
	}
	vAfter, err := fixed.Parse(w.VAfter)
	if err != nil {
		return nil, fmt.Errorf("receipt: v_after: %w", err)
	}
	vBefore, err := fixed.Parse(w.VBefore)
	if err != nil {
		return nil, fmt.Errorf("receipt: v_before: %w", err)
	}
	vDrift, err := fixed.Parse(w.VDrift)
	if err != nil {
		return nil, fmt.Errorf("receipt: v_drift: %w", err)
	}
	witness, err := fixed.Parse(w.Witness)
	if err != nil {
		return nil, fmt.Errorf("receipt: witness: %w", err)
	}
	return &Local{
		Seq:          w.Seq,
		BatchID:      w.BatchID,
		PolicyDigest: w.PolicyDigest,
		StateBefore:  w.StateBefore,
		StateAfter:   w.StateAfter,
		VBefore:      vBefore,
		VDrift:       vDrift,
		VAfter:       vAfter,
		Lambda:       policy.Lambda{Num: w.LambdaNum, Den: w.LambdaDen},
		Drift:        drift,
		After:        after,
		Witness:      witness,
	}, nil
}

type wireCommit struct {
	AggregateWitness string   `json:"aggregate_witness"`
	AttemptID        string   `json:"attempt_id"`
	LocalHashes      []string `json:"local_hashes"`
	PolicyDigest     string   `json:"policy_digest"`
	PrevRoot         string   `json:"prev_root"`
	Root             string   `json:"root"`
	Seq              uint64   `json:"seq"`
	StateAfter       string   `json:"state_after"`
}

// ParseCommit decodes a commit receipt from its canonical bytes.
func ParseCommit(data []byte) (*Commit, error) {
	var w wireCommit
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("receipt: malformed commit receipt: %w", err)
	}
	agg, err := fixed.Parse(w.AggregateWitness)
	if err != nil {
		return nil, fmt.Errorf("receipt: aggregate witness: %w", err)
	}
	return &Commit{
		Seq:              w.Seq,
		AttemptID:        w.AttemptID,
		PolicyDigest:     w.PolicyDigest,
		PrevRoot:         w.PrevRoot,
		Root:             w.Root,
		StateAfter:       w.StateAfter,
		LocalHashes:      w.LocalHashes,
		AggregateWitness: agg,
	}, nil
}
