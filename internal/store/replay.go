package store

import (
	"context"
	"fmt"

	"github.com/roach88/attest/internal/policy"
	"github.com/roach88/attest/internal/receipt"
)

// ChainReport summarizes a full chain verification pass.
type ChainReport struct {
	Commits int
	Locals  int
	Head    string // root of the last verified commit, GenesisRoot if empty
}

// VerifyChain replays the whole receipt log against a policy: every stored
// commit hash, every local receipt, every witness inequality, and the root
// chain from genesis forward. Returns a report on success; the first
// failing check aborts with the receipt error naming it.
//
// Verification is read-only and safe to run concurrently with new appends;
// it observes a prefix of the log.
func (s *Store) VerifyChain(ctx context.Context, p *policy.Policy) (ChainReport, error) {
	report := ChainReport{Head: receipt.GenesisRoot}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, hash, body FROM commit_receipts ORDER BY seq ASC
	`)
	if err != nil {
		return report, fmt.Errorf("verify chain: %w", err)
	}
	defer rows.Close()

	type row struct {
		seq  uint64
		hash string
		body string
	}
	var stored []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.seq, &r.hash, &r.body); err != nil {
			return report, fmt.Errorf("verify chain: scan: %w", err)
		}
		stored = append(stored, r)
	}
	if err := rows.Err(); err != nil {
		return report, fmt.Errorf("verify chain: %w", err)
	}

	prevRoot := receipt.GenesisRoot
	for _, r := range stored {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		c, err := receipt.ParseCommit([]byte(r.body))
		if err != nil {
			return report, err
		}
		// The hash column must match the body it indexes.
		if got := c.Hash(); got != r.hash {
			return report, &receipt.VerifyError{
				Check: receipt.CheckHashChain,
				Seq:   r.seq,
				Detail: fmt.Sprintf("stored hash %s, body hashes to %s", r.hash, got),
			}
		}
		locals, err := s.LocalsForCommit(ctx, r.seq)
		if err != nil {
			return report, err
		}
		if err := receipt.VerifyCommit(p, c, locals, prevRoot); err != nil {
			return report, err
		}
		prevRoot = c.Root
		report.Commits++
		report.Locals += len(locals)
	}
	report.Head = prevRoot
	return report, nil
}
