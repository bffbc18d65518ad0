package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/attest/internal/state"
)

const testPolicySource = `
	policy: "cli.v1": {
		schema: {
			fields: {
				x:     { type: "int", participates: true }
				owner: { type: "ref" }
				note:  { type: "blob" }
			}
		}
		weights: { x: 1 }
		scale:   1
		lambda:  { num: 1, den: 2 }
		max_halvings: 8
		drift: "identity.v1"
		certs: { move: { bound: 4 } }
		constraints: [
			{ id: "c.x", kind: "quadratic", field: "x", weight: 1, target: 0 },
		]
	}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadPolicy(t *testing.T) {
	p, err := LoadPolicy(writeFile(t, "policy.cue", testPolicySource))
	require.NoError(t, err)
	assert.Equal(t, "cli.v1", p.Schema.ID())
}

func TestLoadPolicyMissingFile(t *testing.T) {
	_, err := LoadPolicy(filepath.Join(t.TempDir(), "absent.cue"))
	require.Error(t, err)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeNotFound, loadErr.Code)
}

func TestLoadPolicyCompileError(t *testing.T) {
	_, err := LoadPolicy(writeFile(t, "policy.cue", `policy: "bad.v1": {}`))
	require.Error(t, err)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeCompile, loadErr.Code)
}

func TestLoadScenario(t *testing.T) {
	p, err := LoadPolicy(writeFile(t, "policy.cue", testPolicySource))
	require.NoError(t, err)

	path := writeFile(t, "scenario.yaml", `
state:
  x: 2
  owner: alice
  note: aGVsbG8=
batches:
  - ops:
      - op: op.a
        type: move
        add: { x: 1 }
      - op: op.b
        type: move
        set: { x: 5 }
        set_ref: { owner: bob }
`)

	sc, err := LoadScenario(path, p.Schema)
	require.NoError(t, err)

	assert.Equal(t, int64(2), sc.Initial.Int("x"))
	owner, ok := sc.Initial.Get("owner")
	require.True(t, ok)
	assert.Equal(t, state.RefValue("alice"), owner)
	note, ok := sc.Initial.Get("note")
	require.True(t, ok)
	assert.Equal(t, state.BlobValue("hello"), note)

	require.Len(t, sc.Batches, 1)
	require.Len(t, sc.Batches[0], 2)
	assert.Equal(t, "op.a", sc.Batches[0][0].ID())
	assert.Equal(t, "move", sc.Batches[0][0].TypeID())
}

func TestLoadScenarioUnknownField(t *testing.T) {
	p, err := LoadPolicy(writeFile(t, "policy.cue", testPolicySource))
	require.NoError(t, err)

	path := writeFile(t, "scenario.yaml", `
state:
  ghost: 1
batches:
  - ops:
      - { op: op.a, type: move, add: { x: 1 } }
`)

	_, err = LoadScenario(path, p.Schema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
	assert.Contains(t, err.Error(), "not declared")
}

func TestLoadScenarioTypeMismatch(t *testing.T) {
	p, err := LoadPolicy(writeFile(t, "policy.cue", testPolicySource))
	require.NoError(t, err)

	path := writeFile(t, "scenario.yaml", `
state:
  x: "not a number"
batches:
  - ops:
      - { op: op.a, type: move, add: { x: 1 } }
`)

	_, err = LoadScenario(path, p.Schema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected integer")
}

func TestLoadScenarioBadBase64(t *testing.T) {
	p, err := LoadPolicy(writeFile(t, "policy.cue", testPolicySource))
	require.NoError(t, err)

	path := writeFile(t, "scenario.yaml", `
state:
  x: 0
  note: "%%%not-base64%%%"
batches:
  - ops:
      - { op: op.a, type: move, add: { x: 1 } }
`)

	_, err = LoadScenario(path, p.Schema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base64")
}

func TestLoadScenarioOpValidation(t *testing.T) {
	p, err := LoadPolicy(writeFile(t, "policy.cue", testPolicySource))
	require.NoError(t, err)

	missingID := writeFile(t, "scenario.yaml", `
state: { x: 0 }
batches:
  - ops:
      - { type: move, add: { x: 1 } }
`)
	_, err = LoadScenario(missingID, p.Schema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing an id")

	missingType := writeFile(t, "scenario2.yaml", `
state: { x: 0 }
batches:
  - ops:
      - { op: op.a, add: { x: 1 } }
`)
	_, err = LoadScenario(missingType, p.Schema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing a type")
}

func TestLoadScenarioEmptyBatch(t *testing.T) {
	p, err := LoadPolicy(writeFile(t, "policy.cue", testPolicySource))
	require.NoError(t, err)

	path := writeFile(t, "scenario.yaml", `
state: { x: 0 }
batches:
  - ops: []
`)
	_, err = LoadScenario(path, p.Schema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no ops")
}
