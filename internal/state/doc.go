// Package state provides the typed state representation and its canonical
// encoding for the attest engine.
//
// This is the foundational layer: every other internal package imports
// state; state imports only internal/fixed. A State maps fixed field
// identifiers to typed values (integer, blob, reference), is immutable once
// built, and is replaced - never mutated - by each committed transition.
//
// Key design constraints:
//   - NO float types anywhere - integer fields are int64, engine scalars
//     are fixed.Scalar
//   - canonical bytes use byte-lexicographic field order, NFC-normalized
//     strings, and type-tagged values; hashing is SHA-256 with domain
//     separation
//   - the embedding codec is a pure, order-preserving function of the
//     participating integer fields
package state
