package cli

import (
	"encoding/base64"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/attest/internal/batch"
	"github.com/roach88/attest/internal/compiler"
	"github.com/roach88/attest/internal/policy"
	"github.com/roach88/attest/internal/state"
)

// LoadError represents an error that occurred while loading a policy or
// scenario file.
type LoadError struct {
	Code    string
	Path    string
	Message string
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadPolicy reads a CUE policy document from disk and compiles it.
func LoadPolicy(path string) (*policy.Policy, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Path: path, Message: err.Error()}
	}
	p, err := compiler.CompileSource(string(src))
	if err != nil {
		return nil, &LoadError{Code: ErrCodeCompile, Path: path, Message: err.Error()}
	}
	return p, nil
}

// Scenario is a parsed scenario file: an initial state and the batches to
// execute against it, in order.
type Scenario struct {
	Initial *state.State
	Batches []batch.Batch
}

type scenarioFile struct {
	State   map[string]yaml.Node `yaml:"state"`
	Batches []scenarioBatch      `yaml:"batches"`
}

type scenarioBatch struct {
	Ops []scenarioOp `yaml:"ops"`
}

type scenarioOp struct {
	Op     string            `yaml:"op"`
	Type   string            `yaml:"type"`
	Set    map[string]int64  `yaml:"set"`
	Add    map[string]int64  `yaml:"add"`
	SetRef map[string]string `yaml:"set_ref"`
}

// LoadScenario reads a YAML scenario file and types its state values
// against the policy schema. Int fields take YAML integers, ref fields
// take strings, blob fields take base64 strings.
func LoadScenario(path string, schema *state.Schema) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Path: path, Message: err.Error()}
	}

	var file scenarioFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, &LoadError{Code: ErrCodeScenario, Path: path, Message: err.Error()}
	}

	values := make(map[state.FieldID]state.Value, len(file.State))
	for name, node := range file.State {
		id := state.FieldID(name)
		def, ok := schema.Lookup(id)
		if !ok {
			return nil, &LoadError{Code: ErrCodeScenario, Path: path,
				Message: fmt.Sprintf("state field %q is not declared in the schema", name)}
		}
		v, err := decodeValue(def, node)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeScenario, Path: path,
				Message: fmt.Sprintf("state field %q: %v", name, err)}
		}
		values[id] = v
	}

	initial, err := state.New(schema, values)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScenario, Path: path, Message: err.Error()}
	}

	sc := &Scenario{Initial: initial}
	for i, sb := range file.Batches {
		b, err := buildBatch(sb)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeScenario, Path: path,
				Message: fmt.Sprintf("batch %d: %v", i, err)}
		}
		sc.Batches = append(sc.Batches, b)
	}
	return sc, nil
}

func decodeValue(def state.FieldDef, node yaml.Node) (state.Value, error) {
	switch def.Type {
	case state.TypeInt:
		var n int64
		if err := node.Decode(&n); err != nil {
			return nil, fmt.Errorf("expected integer: %w", err)
		}
		return state.IntValue(n), nil
	case state.TypeRef:
		var s string
		if err := node.Decode(&s); err != nil {
			return nil, fmt.Errorf("expected string: %w", err)
		}
		return state.RefValue(s), nil
	case state.TypeBlob:
		var s string
		if err := node.Decode(&s); err != nil {
			return nil, fmt.Errorf("expected base64 string: %w", err)
		}
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid base64: %w", err)
		}
		return state.BlobValue(raw), nil
	default:
		return nil, fmt.Errorf("unsupported field type %s", def.Type)
	}
}

func buildBatch(sb scenarioBatch) (batch.Batch, error) {
	if len(sb.Ops) == 0 {
		return nil, fmt.Errorf("batch has no ops")
	}
	var b batch.Batch
	for _, so := range sb.Ops {
		if so.Op == "" {
			return nil, fmt.Errorf("op is missing an id")
		}
		if so.Type == "" {
			return nil, fmt.Errorf("op %q is missing a type", so.Op)
		}
		op := &batch.FieldOp{OpID: so.Op, Type: so.Type}
		for f, v := range so.Set {
			if op.Set == nil {
				op.Set = make(map[state.FieldID]int64)
			}
			op.Set[state.FieldID(f)] = v
		}
		for f, v := range so.Add {
			if op.Add == nil {
				op.Add = make(map[state.FieldID]int64)
			}
			op.Add[state.FieldID(f)] = v
		}
		for f, v := range so.SetRef {
			if op.SetRef == nil {
				op.SetRef = make(map[state.FieldID]string)
			}
			op.SetRef[state.FieldID(f)] = v
		}
		b = append(b, op)
	}
	return b, nil
}
