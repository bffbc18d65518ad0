package state

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Golden files pin the canonical encoding: any byte change here is a
// breaking change to every persisted hash.
//
// To regenerate: go test ./internal/state -update
func TestCanonicalBytesGolden(t *testing.T) {
	schema := ledgerSchema(t)
	st, err := New(schema, map[FieldID]Value{
		"acct.reserve": IntValue(-3),
		"acct.balance": IntValue(100),
		"acct.owner":   RefValue("alice"),
		"acct.note":    BlobValue([]byte("hi")),
	})
	require.NoError(t, err)

	b, err := CanonicalBytes(st)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "state_canonical", b)
}

func TestCanonicalBytesFieldOrder(t *testing.T) {
	schema, err := NewSchema("order.v1", true,
		FieldDef{ID: "b", Type: TypeInt, Participates: true},
		FieldDef{ID: "a", Type: TypeInt, Participates: true},
	)
	require.NoError(t, err)

	st, err := New(schema, map[FieldID]Value{
		"b": IntValue(2),
		"a": IntValue(1),
	})
	require.NoError(t, err)

	b, err := CanonicalBytes(st)
	require.NoError(t, err)
	assert.Equal(t,
		`{"canon":"attest/state/v1","fields":[["a","i:1"],["b","i:2"]],"schema":"order.v1"}`,
		string(b))
}

func TestCanonicalBytesNoHTMLEscaping(t *testing.T) {
	schema, err := NewSchema("esc.v1", true,
		FieldDef{ID: "ref", Type: TypeRef},
	)
	require.NoError(t, err)

	st, err := New(schema, map[FieldID]Value{"ref": RefValue("a<b>&c")})
	require.NoError(t, err)

	b, err := CanonicalBytes(st)
	require.NoError(t, err)
	assert.Contains(t, string(b), `r:a<b>&c`, "< > & must not be escaped")
}

func TestCanonicalBytesNFCNormalization(t *testing.T) {
	schema, err := NewSchema("nfc.v1", true,
		FieldDef{ID: "ref", Type: TypeRef},
	)
	require.NoError(t, err)

	// "é" composed (U+00E9) vs decomposed (e + U+0301) must encode the same.
	composed, err := New(schema, map[FieldID]Value{"ref": RefValue("café")})
	require.NoError(t, err)
	decomposed, err := New(schema, map[FieldID]Value{"ref": RefValue("cafe\u0301")})
	require.NoError(t, err)

	b1, err := CanonicalBytes(composed)
	require.NoError(t, err)
	b2, err := CanonicalBytes(decomposed)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestBlobTaggingUsesRawURLBase64(t *testing.T) {
	schema, err := NewSchema("blob.v1", true,
		FieldDef{ID: "blob", Type: TypeBlob},
	)
	require.NoError(t, err)

	st, err := New(schema, map[FieldID]Value{"blob": BlobValue([]byte{0xfb, 0xff})})
	require.NoError(t, err)

	b, err := CanonicalBytes(st)
	require.NoError(t, err)
	// 0xfb 0xff encodes to "-_8" in url-safe base64, no padding.
	assert.Contains(t, string(b), `b64:-_8`)
}
