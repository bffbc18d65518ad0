package state

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// CanonID names the canonical state encoding version.
const CanonID = "attest/state/v1"

// CanonicalBytes produces the canonical byte encoding of a state.
//
// Layout (compact JSON, fixed key order, no whitespace):
//
//	{"canon":"attest/state/v1","fields":[["<id>","<tagged>"],...],"schema":"<schema id>"}
//
// Fields are an array of [id, value] pairs sorted by field-ID bytes. Values
// are type-tagged strings:
//
//	i:<decimal>                 integer
//	b64:<base64url no padding>  blob
//	r:<NFC-normalized string>   reference
//
// CRITICAL: this is the ONLY serialization used for state hashing. Strings
// are NFC normalized at this boundary and HTML escaping is disabled, so the
// same logical state always yields identical bytes.
func CanonicalBytes(s *State) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"canon":`)
	writeCanonicalString(&buf, CanonID)
	buf.WriteString(`,"fields":[`)

	for i, id := range s.fieldIDs() {
		if i > 0 {
			buf.WriteByte(',')
		}
		tagged, err := tagValue(s.values[id])
		if err != nil {
			return nil, fmt.Errorf("canonical bytes: field %q: %w", id, err)
		}
		buf.WriteByte('[')
		writeCanonicalString(&buf, string(id))
		buf.WriteByte(',')
		writeCanonicalString(&buf, tagged)
		buf.WriteByte(']')
	}

	buf.WriteString(`],"schema":`)
	writeCanonicalString(&buf, s.schema.ID())
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// tagValue returns the type-tagged string form of a field value.
func tagValue(v Value) (string, error) {
	switch val := v.(type) {
	case IntValue:
		return fmt.Sprintf("i:%d", int64(val)), nil
	case BlobValue:
		return "b64:" + base64.RawURLEncoding.EncodeToString(val), nil
	case RefValue:
		return "r:" + norm.NFC.String(string(val)), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

// writeCanonicalString writes s as a JSON string with NFC normalization and
// HTML escaping disabled (< > & stay literal).
func writeCanonicalString(buf *bytes.Buffer, s string) {
	normalized := norm.NFC.String(s)

	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	// Encode cannot fail for a plain string.
	_ = enc.Encode(normalized)

	b := tmp.Bytes()
	// json.Encoder appends a trailing newline.
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	buf.Write(b)
}
