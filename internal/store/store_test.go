package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/attest/internal/fixed"
	"github.com/roach88/attest/internal/policy"
	"github.com/roach88/attest/internal/receipt"
	"github.com/roach88/attest/internal/state"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "attest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testPolicy(t *testing.T) *policy.Policy {
	t.Helper()
	schema, err := state.NewSchema("pair.v1", true,
		state.FieldDef{ID: "x", Type: state.TypeInt, Participates: true},
		state.FieldDef{ID: "y", Type: state.TypeInt, Participates: true},
	)
	require.NoError(t, err)
	p, err := policy.New(schema, policy.Policy{
		Weights:     []int64{1, 1},
		Scale:       1,
		Lambda:      policy.Lambda{Num: 1, Den: 2},
		MaxHalvings: 4,
		DriftRule:   "identity.v1",
	})
	require.NoError(t, err)
	return p
}

// testLocal builds a verifiable local receipt: displacement (-1, 0) under
// unit weights gives witness 1, and 2·8 <= 2·10 - 2·1.
func testLocal(p *policy.Policy, seq uint64) *receipt.Local {
	return &receipt.Local{
		Seq:          seq,
		BatchID:      "h:" + strings.Repeat("11", 32),
		PolicyDigest: p.Digest(),
		StateBefore:  "h:" + strings.Repeat("22", 32),
		StateAfter:   "h:" + strings.Repeat("33", 32),
		VBefore:      fixed.New(12),
		VDrift:       fixed.New(10),
		VAfter:       fixed.New(8),
		Lambda:       policy.Lambda{Num: 1, Den: 2},
		Drift:        fixed.NewVec(5, 0),
		After:        fixed.NewVec(4, 0),
		Witness:      fixed.New(1),
	}
}

func testCommit(t *testing.T, p *policy.Policy, seq uint64, prevRoot string, locals []*receipt.Local) *receipt.Commit {
	t.Helper()
	c, err := receipt.BuildCommit(seq, "att-test", prevRoot, locals[len(locals)-1].StateAfter, locals)
	require.NoError(t, err)
	return c
}

func TestOpenAppliesPragmas(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attest.db")
	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestChainHeadEmptyLog(t *testing.T) {
	s := openTestStore(t)
	root, seq, err := s.ChainHead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, receipt.GenesisRoot, root)
	assert.Equal(t, uint64(0), seq)
}

func TestAppendAndReadBack(t *testing.T) {
	s := openTestStore(t)
	p := testPolicy(t)
	ctx := context.Background()

	l := testLocal(p, 1)
	c := testCommit(t, p, 2, receipt.GenesisRoot, []*receipt.Local{l})
	require.NoError(t, s.AppendCommit(ctx, c, []*receipt.Local{l}))

	got, err := s.ReadCommit(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, c.CanonicalBytes(), got.CanonicalBytes())

	locals, err := s.LocalsForCommit(ctx, 2)
	require.NoError(t, err)
	require.Len(t, locals, 1)
	assert.Equal(t, l.Hash(), locals[0].Hash())

	root, seq, err := s.ChainHead(ctx)
	require.NoError(t, err)
	assert.Equal(t, c.Root, root)
	assert.Equal(t, uint64(2), seq)
}

func TestAppendIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	p := testPolicy(t)
	ctx := context.Background()

	l := testLocal(p, 1)
	c := testCommit(t, p, 2, receipt.GenesisRoot, []*receipt.Local{l})
	require.NoError(t, s.AppendCommit(ctx, c, []*receipt.Local{l}))
	require.NoError(t, s.AppendCommit(ctx, c, []*receipt.Local{l}), "replaying the same commit is a no-op")

	n, err := s.CommitCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAppendRejectsConflictingSeq(t *testing.T) {
	s := openTestStore(t)
	p := testPolicy(t)
	ctx := context.Background()

	l1 := testLocal(p, 1)
	c1 := testCommit(t, p, 2, receipt.GenesisRoot, []*receipt.Local{l1})
	require.NoError(t, s.AppendCommit(ctx, c1, []*receipt.Local{l1}))

	l2 := testLocal(p, 3)
	l2.VAfter = fixed.New(7)
	c2 := testCommit(t, p, 2, receipt.GenesisRoot, []*receipt.Local{l2})
	err := s.AppendCommit(ctx, c2, []*receipt.Local{l2})
	require.Error(t, err, "a different receipt at an existing seq must be rejected")
}

func TestReadCommitNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ReadCommit(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerifyChain(t *testing.T) {
	s := openTestStore(t)
	p := testPolicy(t)
	ctx := context.Background()

	l1 := testLocal(p, 1)
	c1 := testCommit(t, p, 2, receipt.GenesisRoot, []*receipt.Local{l1})
	require.NoError(t, s.AppendCommit(ctx, c1, []*receipt.Local{l1}))

	l2 := testLocal(p, 3)
	c2 := testCommit(t, p, 4, c1.Root, []*receipt.Local{l2})
	require.NoError(t, s.AppendCommit(ctx, c2, []*receipt.Local{l2}))

	report, err := s.VerifyChain(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Commits)
	assert.Equal(t, 2, report.Locals)
	assert.Equal(t, c2.Root, report.Head)
}

func TestVerifyChainDetectsTamperedBody(t *testing.T) {
	s := openTestStore(t)
	p := testPolicy(t)
	ctx := context.Background()

	l := testLocal(p, 1)
	c := testCommit(t, p, 2, receipt.GenesisRoot, []*receipt.Local{l})
	require.NoError(t, s.AppendCommit(ctx, c, []*receipt.Local{l}))

	// Flip one digit of v_after in the persisted local receipt body.
	tampered := strings.Replace(string(l.CanonicalBytes()), `"v_after":"8"`, `"v_after":"9"`, 1)
	_, err := s.db.ExecContext(ctx, `UPDATE local_receipts SET body = ? WHERE commit_seq = ?`, tampered, 2)
	require.NoError(t, err)

	_, err = s.VerifyChain(ctx, p)
	var ve *receipt.VerifyError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, receipt.CheckHashChain, ve.Check)
}

func TestVerifyChainDetectsBrokenLink(t *testing.T) {
	s := openTestStore(t)
	p := testPolicy(t)
	ctx := context.Background()

	l1 := testLocal(p, 1)
	c1 := testCommit(t, p, 2, receipt.GenesisRoot, []*receipt.Local{l1})
	require.NoError(t, s.AppendCommit(ctx, c1, []*receipt.Local{l1}))

	// Second commit chained to the wrong root.
	l2 := testLocal(p, 3)
	c2 := testCommit(t, p, 4, "h:"+strings.Repeat("99", 32), []*receipt.Local{l2})
	require.NoError(t, s.AppendCommit(ctx, c2, []*receipt.Local{l2}))

	_, err := s.VerifyChain(ctx, p)
	var ve *receipt.VerifyError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, receipt.CheckHashChain, ve.Check)
	assert.Equal(t, uint64(4), ve.Seq)
}

func TestVerifyChainEmptyLog(t *testing.T) {
	s := openTestStore(t)
	report, err := s.VerifyChain(context.Background(), testPolicy(t))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Commits)
	assert.Equal(t, receipt.GenesisRoot, report.Head)
}
