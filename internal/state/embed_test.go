package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/attest/internal/fixed"
)

func TestEmbedCanonicalOrder(t *testing.T) {
	schema, err := NewSchema("emb.v1", true,
		FieldDef{ID: "z.last", Type: TypeInt, Participates: true},
		FieldDef{ID: "a.first", Type: TypeInt, Participates: true},
		FieldDef{ID: "m.skip", Type: TypeRef},
	)
	require.NoError(t, err)

	st, err := New(schema, map[FieldID]Value{
		"a.first": IntValue(10),
		"z.last":  IntValue(-4),
		"m.skip":  RefValue("ignored"),
	})
	require.NoError(t, err)

	v, err := Embed(st)
	require.NoError(t, err)
	assert.True(t, v.Equal(fixed.NewVec(10, -4)), "coordinates follow canonical field order")
}

func TestEmbedUnsetFieldIsZero(t *testing.T) {
	schema, err := NewSchema("emb.v1", true,
		FieldDef{ID: "n", Type: TypeInt, Participates: true},
	)
	require.NoError(t, err)

	st, err := New(schema, nil)
	require.NoError(t, err)

	v, err := Embed(st)
	require.NoError(t, err)
	assert.True(t, v.Equal(fixed.NewVec(0)))
}

func TestEmbedIsPure(t *testing.T) {
	schema, err := NewSchema("emb.v1", true,
		FieldDef{ID: "n", Type: TypeInt, Participates: true},
	)
	require.NoError(t, err)
	st, err := New(schema, map[FieldID]Value{"n": IntValue(5)})
	require.NoError(t, err)

	v1, err := Embed(st)
	require.NoError(t, err)
	v2, err := Embed(st)
	require.NoError(t, err)
	assert.True(t, v1.Equal(v2))
}

func TestUnembedRoundTripOnParticipatingFields(t *testing.T) {
	schema, err := NewSchema("emb.v1", true,
		FieldDef{ID: "a", Type: TypeInt, Participates: true},
		FieldDef{ID: "b", Type: TypeInt, Participates: true},
		FieldDef{ID: "tag", Type: TypeRef},
	)
	require.NoError(t, err)

	st, err := New(schema, map[FieldID]Value{
		"a":   IntValue(1),
		"b":   IntValue(2),
		"tag": RefValue("keep"),
	})
	require.NoError(t, err)

	out, err := Unembed(st, fixed.NewVec(7, 8))
	require.NoError(t, err)

	assert.Equal(t, int64(7), out.Int("a"))
	assert.Equal(t, int64(8), out.Int("b"))
	v, ok := out.Get("tag")
	require.True(t, ok)
	assert.Equal(t, RefValue("keep"), v, "non-participating fields survive unembed")

	// Lossy by design: only participating fields round-trip.
	emb, err := Embed(out)
	require.NoError(t, err)
	assert.True(t, emb.Equal(fixed.NewVec(7, 8)))
}

func TestUnembedLengthMismatch(t *testing.T) {
	schema, err := NewSchema("emb.v1", true,
		FieldDef{ID: "a", Type: TypeInt, Participates: true},
	)
	require.NoError(t, err)
	st, err := New(schema, nil)
	require.NoError(t, err)

	_, err = Unembed(st, fixed.NewVec(1, 2))
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestUnembedOverflow(t *testing.T) {
	schema, err := NewSchema("emb.v1", true,
		FieldDef{ID: "a", Type: TypeInt, Participates: true},
	)
	require.NoError(t, err)
	st, err := New(schema, nil)
	require.NoError(t, err)

	huge, err := fixed.Parse("92233720368547758080") // 10 * 2^63
	require.NoError(t, err)
	_, err = Unembed(st, fixed.Vec{huge})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overflows")
}
