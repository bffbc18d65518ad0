package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/attest/internal/receipt"
	"github.com/roach88/attest/internal/store"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Database string
}

// VerifyResult holds the verify command output.
type VerifyResult struct {
	Valid   bool   `json:"valid"`
	Commits int    `json:"commits"`
	Locals  int    `json:"locals"`
	Head    string `json:"head"`
	Check   string `json:"check,omitempty"` // failing check, if any
	Seq     uint64 `json:"seq,omitempty"`   // failing commit, if any
	Detail  string `json:"detail,omitempty"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify <policy.cue>",
		Short: "Re-verify the receipt chain from genesis",
		Long: `Walk the receipt log from genesis and re-verify every commit.

Each commit is re-hashed, its locals re-checked against the witness
inequality and the policy digest, its Merkle root recomputed, and its
prev_root matched against the running chain head.

Exit codes:
  0 - chain verifies end to end
  1 - verification failed (tampered or broken chain)
  2 - command error (log not found, bad policy file, etc.)

Examples:
  attest verify ./policy.cue --db ./attest.db
  attest verify ./policy.cue --db ./attest.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite receipt log (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runVerify(opts *VerifyOptions, policyPath string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	p, err := LoadPolicy(policyPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile policy", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open receipt log", err)
	}
	defer st.Close()

	report, err := st.VerifyChain(ctx, p)
	if err != nil {
		var verr *receipt.VerifyError
		if errors.As(err, &verr) {
			result := VerifyResult{
				Valid:  false,
				Check:  verr.Check,
				Seq:    verr.Seq,
				Detail: verr.Detail,
			}
			return outputVerify(opts, cmd, result)
		}
		return WrapExitError(ExitCommandError, "chain verification aborted", err)
	}

	result := VerifyResult{
		Valid:   true,
		Commits: report.Commits,
		Locals:  report.Locals,
		Head:    report.Head,
	}
	return outputVerify(opts, cmd, result)
}

func outputVerify(opts *VerifyOptions, cmd *cobra.Command, result VerifyResult) error {
	if opts.Format == "json" {
		response := CLIResponse{Status: "ok", Data: result}
		if !result.Valid {
			response.Status = "error"
			response.Error = &CLIError{
				Code:    ErrCodeChain,
				Message: fmt.Sprintf("check %q failed at seq %d", result.Check, result.Seq),
			}
		}
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		if !result.Valid {
			return NewExitError(ExitFailure, "chain verification failed")
		}
		return nil
	}

	w := cmd.OutOrStdout()
	if result.Valid {
		fmt.Fprintf(w, "✓ Chain verified: %d commit(s), %d local(s)\n", result.Commits, result.Locals)
		fmt.Fprintf(w, "  head: %s\n", result.Head)
		return nil
	}

	fmt.Fprintln(w, "✗ Chain verification failed")
	fmt.Fprintf(w, "  check:  %s\n", result.Check)
	fmt.Fprintf(w, "  seq:    %d\n", result.Seq)
	fmt.Fprintf(w, "  detail: %s\n", result.Detail)
	return NewExitError(ExitFailure, "chain verification failed")
}
