package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/attest/internal/engine"
	"github.com/roach88/attest/internal/state"
	"github.com/roach88/attest/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Scenario string

	// TokenGenerator allows overriding the attempt token generator (for
	// testing). If nil, defaults to UUIDv7Generator.
	TokenGenerator engine.AttemptTokenGenerator
}

// BatchResult summarizes one committed attempt.
type BatchResult struct {
	Seq       uint64 `json:"seq"`
	AttemptID string `json:"attempt_id"`
	Root      string `json:"root"`
	Locals    int    `json:"locals"`
}

// RunResult holds the run command output.
type RunResult struct {
	PolicyDigest string           `json:"policy_digest"`
	Batches      []BatchResult    `json:"batches"`
	FinalState   map[string]int64 `json:"final_state"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <policy.cue>",
		Short: "Execute a scenario and append receipts",
		Long: `Execute the batches of a scenario file against a compiled policy.

Each batch runs as one attempt: gated, split where the curvature
allowance is exhausted, drift-corrected, and committed to the SQLite
receipt log. A rejected attempt leaves the state and the log untouched.

Example:
  attest run ./policy.cue --db ./attest.db --scenario ./scenario.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite receipt log (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "path to YAML scenario file (required)")
	_ = cmd.MarkFlagRequired("scenario")

	return cmd
}

func runScenario(opts *RunOptions, policyPath string, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	p, err := LoadPolicy(policyPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile policy", err)
	}
	slog.Info("policy compiled", "schema", p.Schema.ID(), "digest", p.Digest())

	sc, err := LoadScenario(opts.Scenario, p.Schema)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	if len(sc.Batches) == 0 {
		return NewExitError(ExitCommandError, "scenario declares no batches")
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open receipt log", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing receipt log", "error", closeErr)
		}
	}()

	tokenGen := opts.TokenGenerator
	if tokenGen == nil {
		tokenGen = engine.UUIDv7Generator{}
	}
	eng, err := engine.New(p, st, sc.Initial, tokenGen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start engine", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	result := RunResult{PolicyDigest: p.Digest()}
	for i, b := range sc.Batches {
		res, err := eng.Execute(ctx, b)
		if err != nil {
			var re *engine.RuntimeError
			if errors.As(err, &re) {
				return WrapExitError(ExitFailure, fmt.Sprintf("batch %d rejected", i), err)
			}
			return WrapExitError(ExitCommandError, fmt.Sprintf("batch %d failed", i), err)
		}
		slog.Info("batch committed",
			"batch", i,
			"seq", res.Commit.Seq,
			"root", res.Commit.Root,
			"locals", len(res.Locals))
		result.Batches = append(result.Batches, BatchResult{
			Seq:       res.Commit.Seq,
			AttemptID: res.Commit.AttemptID,
			Root:      res.Commit.Root,
			Locals:    len(res.Locals),
		})
	}

	result.FinalState = participatingValues(eng.State())

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return formatter.Success(result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Executed %d batch(es) under policy %s\n", len(result.Batches), p.Schema.ID())
	for i, br := range result.Batches {
		fmt.Fprintf(w, "  batch %d: seq=%d locals=%d root=%s\n", i, br.Seq, br.Locals, br.Root)
	}
	fmt.Fprintln(w, "Final state:")
	for _, f := range p.Schema.Participating() {
		fmt.Fprintf(w, "  %s = %d\n", f.ID, result.FinalState[string(f.ID)])
	}
	return nil
}

func participatingValues(x *state.State) map[string]int64 {
	out := make(map[string]int64)
	for _, f := range x.Schema().Participating() {
		out[string(f.ID)] = x.Int(f.ID)
	}
	return out
}
