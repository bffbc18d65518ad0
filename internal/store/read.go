package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/attest/internal/receipt"
)

// ErrNotFound is returned when a requested receipt does not exist.
var ErrNotFound = errors.New("store: receipt not found")

// ChainHead returns the current chain head: the root of the latest commit
// receipt (GenesisRoot on an empty log) and the highest sequence number in
// use, for clock resumption.
func (s *Store) ChainHead(ctx context.Context) (root string, maxSeq uint64, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT root, seq FROM commit_receipts
		ORDER BY seq DESC LIMIT 1
	`)
	var seq uint64
	if err := row.Scan(&root, &seq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return receipt.GenesisRoot, 0, nil
		}
		return "", 0, fmt.Errorf("chain head: %w", err)
	}
	return root, seq, nil
}

// ReadCommit returns the commit receipt at seq, decoded from its stored
// canonical bytes.
func (s *Store) ReadCommit(ctx context.Context, seq uint64) (*receipt.Commit, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM commit_receipts WHERE seq = ?`, seq,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: commit seq %d", ErrNotFound, seq)
	}
	if err != nil {
		return nil, fmt.Errorf("read commit %d: %w", seq, err)
	}
	return receipt.ParseCommit([]byte(body))
}

// ListCommits returns every commit receipt in sequence order.
func (s *Store) ListCommits(ctx context.Context) ([]*receipt.Commit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body FROM commit_receipts ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list commits: %w", err)
	}
	defer rows.Close()

	var commits []*receipt.Commit
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		c, err := receipt.ParseCommit([]byte(body))
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commits: %w", err)
	}
	return commits, nil
}

// LocalsForCommit returns the local receipts of one commit, in the order
// they were aggregated into its hash tree.
func (s *Store) LocalsForCommit(ctx context.Context, seq uint64) ([]*receipt.Local, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body FROM local_receipts
		WHERE commit_seq = ?
		ORDER BY idx ASC
	`, seq)
	if err != nil {
		return nil, fmt.Errorf("locals for commit %d: %w", seq, err)
	}
	defer rows.Close()

	var locals []*receipt.Local
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan local: %w", err)
		}
		l, err := receipt.ParseLocal([]byte(body))
		if err != nil {
			return nil, err
		}
		locals = append(locals, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locals: %w", err)
	}
	return locals, nil
}

// CommitCount returns the number of commit receipts in the log.
func (s *Store) CommitCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM commit_receipts`,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("commit count: %w", err)
	}
	return n, nil
}
