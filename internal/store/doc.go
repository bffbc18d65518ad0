// Package store persists the receipt log in SQLite: one append-only
// commit_receipts table chained by root hashes, and the local_receipts
// each commit aggregates.
//
// The canonical receipt bytes are stored verbatim, so verification reads
// exactly what was hashed. Appends are transactional per attempt and
// idempotent on replay.
package store
