package state

import "fmt"

// FieldID identifies a state field. Ordering is canonical byte-lexicographic
// (Go string comparison over UTF-8 bytes).
type FieldID string

// FieldType enumerates the typed value kinds a field may hold.
type FieldType int

const (
	// TypeInt is a signed 64-bit integer field. Only integer fields may
	// participate in the embedding.
	TypeInt FieldType = iota
	// TypeBlob is an opaque byte-array field.
	TypeBlob
	// TypeRef is a reference field holding an identifier string.
	TypeRef
)

// String returns the canonical type name used in policy files and errors.
func (t FieldType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeBlob:
		return "blob"
	case TypeRef:
		return "ref"
	default:
		return fmt.Sprintf("FieldType(%d)", int(t))
	}
}

// Value is a sealed interface over the allowed field value types.
// Only IntValue, BlobValue, and RefValue implement it. There is NO float
// value type - floats break determinism and are forbidden in this
// subsystem.
type Value interface {
	value()
	Kind() FieldType
}

// IntValue is a signed integer field value.
type IntValue int64

func (IntValue) value() {}

// Kind returns TypeInt.
func (IntValue) Kind() FieldType { return TypeInt }

// BlobValue is an opaque byte-array field value.
type BlobValue []byte

func (BlobValue) value() {}

// Kind returns TypeBlob.
func (BlobValue) Kind() FieldType { return TypeBlob }

// RefValue is a reference field value.
type RefValue string

func (RefValue) value() {}

// Kind returns TypeRef.
func (RefValue) Kind() FieldType { return TypeRef }
