// Package engine drives batch execution end to end: gate check, recursive
// split on failure, drift and proximal correction per sub-batch, and
// receipt emission, all under a single-writer discipline per state.
//
// The engine never partially commits: state and the receipt log advance
// together after the commit receipt is appended, and every failure mode
// surfaces as a structured RuntimeError naming the batch and operator
// involved.
package engine
