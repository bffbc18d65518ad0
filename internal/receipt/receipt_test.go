package receipt

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/attest/internal/fixed"
	"github.com/roach88/attest/internal/policy"
	"github.com/roach88/attest/internal/state"
)

func testPolicy(t *testing.T) *policy.Policy {
	t.Helper()
	s, err := state.NewSchema("pair.v1", true,
		state.FieldDef{ID: "x", Type: state.TypeInt, Participates: true},
		state.FieldDef{ID: "y", Type: state.TypeInt, Participates: true},
	)
	require.NoError(t, err)
	p, err := policy.New(s, policy.Policy{
		Weights:     []int64{1, 1},
		Scale:       1,
		Lambda:      policy.Lambda{Num: 1, Den: 2},
		MaxHalvings: 4,
		DriftRule:   "identity.v1",
	})
	require.NoError(t, err)
	return p
}

// goodLocal builds a receipt whose witness evidence is internally
// consistent: after-drift displacement (-1, 0) under unit weights gives
// normG = 1, and 2·1·8 <= 2·1·10 - 1·2·1.
func goodLocal(p *policy.Policy, seq uint64) *Local {
	return &Local{
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

func TestLocalCanonicalGolden(t *testing.T) {
	r := &Local{
		Seq:          3,
		BatchID:      "h:" + strings.Repeat("ab", 32),
		PolicyDigest: "h:" + strings.Repeat("cd", 32),
		StateBefore:  "h:" + strings.Repeat("01", 32),
		StateAfter:   "h:" + strings.Repeat("02", 32),
		VBefore:      fixed.New(12),
		VDrift:       fixed.New(10),
		VAfter:       fixed.New(8),
		Lambda:       policy.Lambda{Num: 1, Den: 2},
		Drift:        fixed.NewVec(5, 0),
		After:        fixed.NewVec(4, 0),
		Witness:      fixed.New(1),
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "local_canonical", r.CanonicalBytes())
}

func TestLocalRoundTrip(t *testing.T) {
	p := testPolicy(t)
	r := goodLocal(p, 7)

	parsed, err := ParseLocal(r.CanonicalBytes())
	require.NoError(t, err)
	assert.Equal(t, r.CanonicalBytes(), parsed.CanonicalBytes())
	assert.Equal(t, r.Hash(), parsed.Hash())
}

func TestLocalHashSensitivity(t *testing.T) {
	p := testPolicy(t)
	a := goodLocal(p, 1)
	b := goodLocal(p, 1)
	assert.Equal(t, a.Hash(), b.Hash())

	b.VAfter = fixed.New(9)
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestVerifyLocal(t *testing.T) {
	p := testPolicy(t)
	require.NoError(t, VerifyLocal(p, goodLocal(p, 1)))
}

func TestVerifyLocalWrongPolicyDigest(t *testing.T) {
	p := testPolicy(t)
	r := goodLocal(p, 1)
	r.PolicyDigest = "h:" + strings.Repeat("00", 32)

	var ve *VerifyError
	require.ErrorAs(t, VerifyLocal(p, r), &ve)
	assert.Equal(t, CheckPolicyDigest, ve.Check)
}

func TestVerifyLocalForgedWitnessTerm(t *testing.T) {
	p := testPolicy(t)
	r := goodLocal(p, 1)
	r.Witness = fixed.New(0) // displacement norm is really 1

	var ve *VerifyError
	require.ErrorAs(t, VerifyLocal(p, r), &ve)
	assert.Equal(t, CheckWitness, ve.Check)
}

func TestVerifyLocalDescentFails(t *testing.T) {
	p := testPolicy(t)
	r := goodLocal(p, 1)
	r.VAfter = fixed.New(10) // 2·10 > 2·10 - 2·1

	var ve *VerifyError
	require.ErrorAs(t, VerifyLocal(p, r), &ve)
	assert.Equal(t, CheckWitness, ve.Check)
	assert.Contains(t, ve.Detail, "descent")
}

func TestMerkleRootSingleLeafIsLeaf(t *testing.T) {
	leaf := "h:" + strings.Repeat("aa", 32)
	root, err := MerkleRoot([]string{leaf})
	require.NoError(t, err)
	assert.Equal(t, leaf, root)
}

func TestMerkleRootOddLeafDuplication(t *testing.T) {
	a := "h:" + strings.Repeat("aa", 32)
	b := "h:" + strings.Repeat("bb", 32)
	c := "h:" + strings.Repeat("cc", 32)

	odd, err := MerkleRoot([]string{a, b, c})
	require.NoError(t, err)
	padded, err := MerkleRoot([]string{a, b, c, c})
	require.NoError(t, err)
	assert.Equal(t, padded, odd, "odd node pairs with itself")
}

func TestMerkleRootOrderAndContentSensitive(t *testing.T) {
	a := "h:" + strings.Repeat("aa", 32)
	b := "h:" + strings.Repeat("bb", 32)

	ab, err := MerkleRoot([]string{a, b})
	require.NoError(t, err)
	ba, err := MerkleRoot([]string{b, a})
	require.NoError(t, err)
	assert.NotEqual(t, ab, ba)

	again, err := MerkleRoot([]string{a, b})
	require.NoError(t, err)
	assert.Equal(t, ab, again)
}

func TestMerkleRootEmptyRejected(t *testing.T) {
	_, err := MerkleRoot(nil)
	assert.Error(t, err)
}

func TestBuildAndVerifyCommit(t *testing.T) {
	p := testPolicy(t)
	l1 := goodLocal(p, 1)
	l2 := goodLocal(p, 2)
	l2.StateBefore = l1.StateAfter
	l2.StateAfter = "h:" + strings.Repeat("44", 32)

	c, err := BuildCommit(1, "0198d2f0-0000-7000-8000-000000000001", GenesisRoot, l2.StateAfter, []*Local{l1, l2})
	require.NoError(t, err)
	assert.Equal(t, "2", c.AggregateWitness.String())
	require.NoError(t, VerifyCommit(p, c, []*Local{l1, l2}, GenesisRoot))
}

func TestVerifyCommitDetectsTamperedLocal(t *testing.T) {
	p := testPolicy(t)
	l := goodLocal(p, 1)
	c, err := BuildCommit(1, "att-1", GenesisRoot, l.StateAfter, []*Local{l})
	require.NoError(t, err)

	tampered := goodLocal(p, 1)
	tampered.VAfter = fixed.New(7) // still satisfies descent, but changes the hash

	var ve *VerifyError
	require.ErrorAs(t, VerifyCommit(p, c, []*Local{tampered}, GenesisRoot), &ve)
	assert.Equal(t, CheckHashChain, ve.Check)
}

func TestVerifyCommitDetectsBrokenChain(t *testing.T) {
	p := testPolicy(t)
	l := goodLocal(p, 1)
	c, err := BuildCommit(2, "att-2", GenesisRoot, l.StateAfter, []*Local{l})
	require.NoError(t, err)

	var ve *VerifyError
	require.ErrorAs(t, VerifyCommit(p, c, []*Local{l}, "h:"+strings.Repeat("55", 32)), &ve)
	assert.Equal(t, CheckHashChain, ve.Check)
}

func TestVerifyCommitDetectsForgedAggregate(t *testing.T) {
	p := testPolicy(t)
	l := goodLocal(p, 1)
	c, err := BuildCommit(1, "att-3", GenesisRoot, l.StateAfter, []*Local{l})
	require.NoError(t, err)
	c.AggregateWitness = fixed.New(99)

	var ve *VerifyError
	require.ErrorAs(t, VerifyCommit(p, c, []*Local{l}, GenesisRoot), &ve)
	assert.Equal(t, CheckWitness, ve.Check)
}

func TestCommitRoundTrip(t *testing.T) {
	p := testPolicy(t)
	l := goodLocal(p, 1)
	c, err := BuildCommit(1, "att-4", GenesisRoot, l.StateAfter, []*Local{l})
	require.NoError(t, err)

	parsed, err := ParseCommit(c.CanonicalBytes())
	require.NoError(t, err)
	assert.Equal(t, c.CanonicalBytes(), parsed.CanonicalBytes())
}
