package receipt

import (
	"fmt"

	"github.com/roach88/attest/internal/fixed"
	"github.com/roach88/attest/internal/norm"
	"github.com/roach88/attest/internal/policy"
	"github.com/roach88/attest/internal/prox"
)

// Verification check names, reported by VerifyError.
const (
	CheckHashChain    = "hash-chain"
	CheckWitness      = "witness"
	CheckPolicyDigest = "policy-digest"
)

// VerifyError names the specific check a receipt failed. Verification
// never reports a bare failure.
type VerifyError struct {
	Check  string
	Seq    uint64
	Detail string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("receipt invalid: %s check failed at seq %d: %s", e.Check, e.Seq, e.Detail)
}

// VerifyLocal re-checks a local receipt from its stored scalars alone: the
// witness term must equal the recomputed displacement norm between the
// stored embeddings, and the descent inequality must hold under the stored
// step size. How the corrected point was found is deliberately not
// re-derived.
func VerifyLocal(p *policy.Policy, r *Local) error {
	if r.PolicyDigest != p.Digest() {
		return &VerifyError{Check: CheckPolicyDigest, Seq: r.Seq,
			Detail: fmt.Sprintf("receipt bound to %s, expected %s", r.PolicyDigest, p.Digest())}
	}
	if r.Lambda.Num <= 0 || r.Lambda.Den <= 0 {
		return &VerifyError{Check: CheckWitness, Seq: r.Seq,
			Detail: fmt.Sprintf("step size %d/%d is not positive", r.Lambda.Num, r.Lambda.Den)}
	}
	want := len(p.Schema.Participating())
	if len(r.Drift) != want || len(r.After) != want {
		return &VerifyError{Check: CheckWitness, Seq: r.Seq,
			Detail: fmt.Sprintf("embedding length %d/%d, schema has %d coordinates", len(r.Drift), len(r.After), want)}
	}

	nG := norm.NormG(p, r.After.Sub(r.Drift))
	if nG.Cmp(r.Witness.Int()) != 0 {
		return &VerifyError{Check: CheckWitness, Seq: r.Seq,
			Detail: fmt.Sprintf("stored witness %s, recomputed displacement norm %s", r.Witness.String(), nG.String())}
	}
	if !prox.WitnessHolds(r.VAfter, r.VDrift, nG, r.Lambda.Num, r.Lambda.Den, p.Scale) {
		return &VerifyError{Check: CheckWitness, Seq: r.Seq,
			Detail: fmt.Sprintf("descent inequality fails: v_after=%s v_drift=%s witness=%s lambda=%d/%d",
				r.VAfter.String(), r.VDrift.String(), r.Witness.String(), r.Lambda.Num, r.Lambda.Den)}
	}
	return nil
}

// VerifyCommit re-checks a commit receipt against its local receipts and
// the expected previous root: every local hash, the tree root, the chain
// link, the aggregate witness, and each local receipt in turn.
func VerifyCommit(p *policy.Policy, c *Commit, locals []*Local, wantPrevRoot string) error {
	if c.PolicyDigest != p.Digest() {
		return &VerifyError{Check: CheckPolicyDigest, Seq: c.Seq,
			Detail: fmt.Sprintf("commit bound to %s, expected %s", c.PolicyDigest, p.Digest())}
	}
	if c.PrevRoot != wantPrevRoot {
		return &VerifyError{Check: CheckHashChain, Seq: c.Seq,
			Detail: fmt.Sprintf("prev_root %s, chain expects %s", c.PrevRoot, wantPrevRoot)}
	}
	if len(locals) != len(c.LocalHashes) {
		return &VerifyError{Check: CheckHashChain, Seq: c.Seq,
			Detail: fmt.Sprintf("%d local receipts against %d recorded hashes", len(locals), len(c.LocalHashes))}
	}

	agg := fixed.New(0)
	for i, l := range locals {
		if got := l.Hash(); got != c.LocalHashes[i] {
			return &VerifyError{Check: CheckHashChain, Seq: c.Seq,
				Detail: fmt.Sprintf("local %d hashes to %s, commit records %s", i, got, c.LocalHashes[i])}
		}
		if err := VerifyLocal(p, l); err != nil {
			return err
		}
		agg = agg.Add(l.Witness)
	}
	if agg.Cmp(c.AggregateWitness) != 0 {
		return &VerifyError{Check: CheckWitness, Seq: c.Seq,
			Detail: fmt.Sprintf("aggregate witness %s, local sum %s", c.AggregateWitness.String(), agg.String())}
	}

	root, err := MerkleRoot(c.LocalHashes)
	if err != nil {
		return &VerifyError{Check: CheckHashChain, Seq: c.Seq, Detail: err.Error()}
	}
	if root != c.Root {
		return &VerifyError{Check: CheckHashChain, Seq: c.Seq,
			Detail: fmt.Sprintf("root %s, recomputed %s", c.Root, root)}
	}
	if n := len(locals); n > 0 && locals[n-1].StateAfter != c.StateAfter {
		return &VerifyError{Check: CheckHashChain, Seq: c.Seq,
			Detail: "committed state hash does not match the final local receipt"}
	}
	return nil
}
