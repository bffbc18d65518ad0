package store

import (
	"bytes"
	"context"
	"fmt"

	"github.com/roach88/attest/internal/receipt"
)

// AppendCommit durably appends a commit receipt and its local receipts in
// a single transaction: either the whole attempt is recorded or none of it.
//
// Uses ON CONFLICT DO NOTHING for idempotency - replaying the same commit
// is silently ignored, but a different commit at an existing seq is an
// error (the log never rewrites history).
func (s *Store) AppendCommit(ctx context.Context, c *receipt.Commit, locals []*receipt.Local) error {
	if len(locals) != len(c.LocalHashes) {
		return fmt.Errorf("append commit %d: %d locals for %d recorded hashes", c.Seq, len(locals), len(c.LocalHashes))
	}

	body := c.CanonicalBytes()
	hash := c.Hash()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append commit %d: begin tx: %w", c.Seq, err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		INSERT INTO commit_receipts
		(seq, hash, attempt_id, policy_digest, prev_root, root, state_after, aggregate_witness, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`,
		c.Seq,
		hash,
		c.AttemptID,
		c.PolicyDigest,
		c.PrevRoot,
		c.Root,
		c.StateAfter,
		c.AggregateWitness.String(),
		string(body),
	)
	if err != nil {
		return fmt.Errorf("append commit %d: %w", c.Seq, err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("append commit %d: %w", c.Seq, err)
	}
	if inserted == 0 {
		// Seq already occupied: fine only if it holds this exact commit.
		var existing string
		if err := tx.QueryRowContext(ctx,
			`SELECT body FROM commit_receipts WHERE seq = ?`, c.Seq,
		).Scan(&existing); err != nil {
			return fmt.Errorf("append commit %d: read existing: %w", c.Seq, err)
		}
		if !bytes.Equal([]byte(existing), body) {
			return fmt.Errorf("append commit %d: seq already holds a different receipt", c.Seq)
		}
		return tx.Commit()
	}

	for i, l := range locals {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO local_receipts
			(hash, commit_seq, idx, seq, batch_id, body)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(hash) DO NOTHING
		`,
			c.LocalHashes[i],
			c.Seq,
			i,
			l.Seq,
			l.BatchID,
			string(l.CanonicalBytes()),
		)
		if err != nil {
			return fmt.Errorf("append commit %d: local %d: %w", c.Seq, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append commit %d: commit tx: %w", c.Seq, err)
	}
	return nil
}
