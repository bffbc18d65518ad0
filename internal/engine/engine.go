package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/attest/internal/batch"
	"github.com/roach88/attest/internal/fixed"
	"github.com/roach88/attest/internal/gate"
	"github.com/roach88/attest/internal/norm"
	"github.com/roach88/attest/internal/policy"
	"github.com/roach88/attest/internal/prox"
	"github.com/roach88/attest/internal/receipt"
	"github.com/roach88/attest/internal/split"
	"github.com/roach88/attest/internal/state"
	"github.com/roach88/attest/internal/store"
	"github.com/roach88/attest/internal/violation"
)

// Engine is the single-writer batch executor.
//
// The engine owns its state exclusively for the duration of a transition:
// gate check, split, drift, correction, and commit all happen inside
// Execute, and the pre-transition state is replaced only after the commit
// receipt is durably appended. A failed attempt leaves state and receipt
// log untouched.
//
// Thread-safety model:
//   - Execute(): must be called from exactly one goroutine per Engine
//   - State(): safe after Execute returns
//   - Multiple Engines over distinct states may run concurrently, sharing
//     only the read-only policy
type Engine struct {
	policy   *policy.Policy
	store    *store.Store
	clock    *Clock
	attempts AttemptTokenGenerator
	drifts   *DriftRegistry

	st       *state.State
	lastRoot string
	resumed  bool
}

// Result is the outcome of one committed top-level batch attempt.
type Result struct {
	Commit *receipt.Commit
	Locals []*receipt.Local
	State  *state.State
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock installs a pre-positioned clock, used when resuming against an
// existing receipt log.
func WithClock(c *Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithDriftRegistry installs a registry carrying rules beyond the built-in
// identity rule.
func WithDriftRegistry(r *DriftRegistry) Option {
	return func(e *Engine) { e.drifts = r }
}

// New creates an Engine executing under p, persisting receipts to s,
// starting from the given committed state.
func New(p *policy.Policy, s *store.Store, initial *state.State, gen AttemptTokenGenerator, opts ...Option) (*Engine, error) {
	if err := violation.CheckInvariants(p, initial); err != nil {
		return nil, &RuntimeError{
			Code:    ErrCodeInvariantViolation,
			Message: fmt.Sprintf("initial state: %v", err),
			Cause:   err,
		}
	}
	e := &Engine{
		policy:   p,
		store:    s,
		clock:    NewClock(),
		attempts: gen,
		drifts:   NewDriftRegistry(),
		st:       initial,
	}
	for _, opt := range opts {
		opt(e)
	}
	if _, err := e.drifts.Lookup(p.DriftRule); err != nil {
		return nil, err
	}
	return e, nil
}

// State returns the current committed state.
func (e *Engine) State() *state.State {
	return e.st
}

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// Execute processes one top-level batch attempt to completion: gate, split
// as needed, drift and correct each passing sub-batch, then append the
// commit receipt and advance the state.
//
// Sub-batches are gated against the evolving working state, in the order
// the split rule fixes (smallest operator ID first), so replays observe
// identical decisions. Any failure before the final store append leaves
// the engine exactly as it was.
func (e *Engine) Execute(ctx context.Context, b batch.Batch) (*Result, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("engine: empty batch")
	}
	if err := e.resume(ctx); err != nil {
		return nil, err
	}

	attemptID := e.attempts.Generate()
	drift, err := e.drifts.Lookup(e.policy.DriftRule)
	if err != nil {
		return nil, err
	}

	slog.Info("attempt starting",
		"attempt_id", attemptID,
		"batch_id", b.ID(),
		"ops", len(b),
	)

	working := e.st
	var locals []*receipt.Local

	stack := []batch.Batch{b.Canonical()}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		res, err := gate.Check(e.policy, working, cur)
		if err != nil {
			return nil, e.wrapGateError(attemptID, cur, err)
		}
		if !res.Pass {
			if len(cur) == 1 {
				slog.Error("singleton gate failed",
					"attempt_id", attemptID,
					"op", cur[0].ID(),
					"reason", res.Reason,
				)
				return nil, &RuntimeError{
					Code:      ErrCodeSingletonGateFailed,
					Message:   res.Reason,
					AttemptID: attemptID,
					BatchID:   cur.ID(),
					OpID:      cur[0].ID(),
				}
			}
			slog.Debug("gate failed, splitting",
				"attempt_id", attemptID,
				"batch_id", cur.ID(),
				"reason", res.Reason,
			)
			// Isolate the smallest operator ID; it must pop first.
			stack = append(stack, cur[1:], batch.Batch{cur[0]})
			continue
		}

		local, next, err := e.commitPart(attemptID, working, cur, res, drift)
		if err != nil {
			return nil, err
		}
		locals = append(locals, local)
		working = next
	}

	afterHash, err := state.Hash(working)
	if err != nil {
		return nil, err
	}
	commit, err := receipt.BuildCommit(e.clock.Next(), attemptID, e.lastRoot, afterHash, locals)
	if err != nil {
		return nil, err
	}
	if err := e.store.AppendCommit(ctx, commit, locals); err != nil {
		return nil, fmt.Errorf("append commit %d: %w", commit.Seq, err)
	}

	e.st = working
	e.lastRoot = commit.Root

	slog.Info("attempt committed",
		"attempt_id", attemptID,
		"seq", commit.Seq,
		"root", commit.Root,
		"sub_batches", len(locals),
		"state_after", afterHash,
	)
	return &Result{Commit: commit, Locals: locals, State: working}, nil
}

// commitPart runs one gate-passing sub-batch through drift and correction
// and assembles its local receipt. Nothing is persisted here; the caller
// appends all receipts atomically at attempt end.
func (e *Engine) commitPart(attemptID string, working *state.State, cur batch.Batch, res *gate.Result, drift DriftFunc) (*receipt.Local, *state.State, error) {
	patched := res.Measurement.After

	z, err := drift(patched)
	if err != nil {
		return nil, nil, fmt.Errorf("drift rule %s: %w", e.policy.DriftRule, err)
	}
	if err := violation.CheckInvariants(e.policy, z); err != nil {
		return nil, nil, &RuntimeError{
			Code:      ErrCodeInvariantViolation,
			Message:   fmt.Sprintf("drift point: %v", err),
			AttemptID: attemptID,
			BatchID:   cur.ID(),
			Cause:     err,
		}
	}

	corr, err := prox.Correct(e.policy, z)
	if err != nil {
		var ce *prox.CorrectionError
		if errors.As(err, &ce) {
			return nil, nil, &RuntimeError{
				Code:      ErrCodeCorrectionFailed,
				Message:   ce.Error(),
				AttemptID: attemptID,
				BatchID:   cur.ID(),
				Cause:     err,
			}
		}
		return nil, nil, err
	}
	if err := violation.CheckInvariants(e.policy, corr.After); err != nil {
		return nil, nil, &RuntimeError{
			Code:      ErrCodeInvariantViolation,
			Message:   fmt.Sprintf("corrected state: %v", err),
			AttemptID: attemptID,
			BatchID:   cur.ID(),
			Cause:     err,
		}
	}

	beforeHash, err := state.Hash(working)
	if err != nil {
		return nil, nil, err
	}
	afterHash, err := state.Hash(corr.After)
	if err != nil {
		return nil, nil, err
	}
	zEmb, err := state.Embed(z)
	if err != nil {
		return nil, nil, err
	}
	afterEmb, err := state.Embed(corr.After)
	if err != nil {
		return nil, nil, err
	}
	local := &receipt.Local{
		Seq:          e.clock.Next(),
		BatchID:      cur.ID(),
		PolicyDigest: e.policy.Digest(),
		StateBefore:  beforeHash,
		StateAfter:   afterHash,
		VBefore:      res.Measurement.VBefore,
		VDrift:       corr.VDrift,
		VAfter:       corr.VAfter,
		Lambda:       corr.Lambda,
		Drift:        zEmb,
		After:        afterEmb,
		Witness:      fixed.FromBig(corr.NormG),
	}

	slog.Debug("sub-batch corrected",
		"attempt_id", attemptID,
		"batch_id", cur.ID(),
		"seq", local.Seq,
		"halvings", corr.Halvings,
		"witness", local.Witness.String(),
	)
	return local, corr.After, nil
}

// wrapGateError maps integrity failures surfaced by the gate onto the
// runtime error taxonomy.
func (e *Engine) wrapGateError(attemptID string, cur batch.Batch, err error) error {
	var bv *norm.BoundViolation
	if errors.As(err, &bv) {
		slog.Error("certified bound breached",
			"attempt_id", attemptID,
			"op", bv.OpID,
			"observed", bv.Observed.String(),
			"allowed", bv.Allowed.String(),
		)
		return &RuntimeError{
			Code:      ErrCodeBoundViolation,
			Message:   bv.Error(),
			AttemptID: attemptID,
			BatchID:   cur.ID(),
			OpID:      bv.OpID,
			Cause:     err,
		}
	}
	return err
}

// resume loads the chain head from the store on first use, so a restarted
// engine keeps extending the existing receipt chain.
func (e *Engine) resume(ctx context.Context) error {
	if e.resumed {
		return nil
	}
	root, maxSeq, err := e.store.ChainHead(ctx)
	if err != nil {
		return fmt.Errorf("load chain head: %w", err)
	}
	e.lastRoot = root
	if e.clock.Current() < maxSeq {
		e.clock = NewClockAt(maxSeq)
	}
	e.resumed = true
	return nil
}

// Decompose exposes the pure split decomposition at the current state,
// without committing anything. Useful for dry runs and conformance checks.
func (e *Engine) Decompose(b batch.Batch) ([]split.Part, error) {
	return split.Decompose(e.policy, e.st, b)
}
