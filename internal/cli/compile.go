package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// CompileResult holds the compile command output.
type CompileResult struct {
	Digest      string `json:"digest"`
	Schema      string `json:"schema"`
	Fields      int    `json:"fields"`
	Certs       int    `json:"certs"`
	Invariants  int    `json:"invariants"`
	Constraints int    `json:"constraints"`
	DriftRule   string `json:"drift_rule"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile <policy.cue>",
		Short: "Compile a policy bundle and print its digest",
		Long: `Compile a CUE policy document into a validated, digest-bound bundle.

The digest binds the schema, weights, curvature matrix, certificates,
invariants, constraints, and step schedule; every receipt produced under
the bundle carries it.

Example:
  attest compile ./policy.cue
  attest compile ./policy.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runCompile(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	p, err := LoadPolicy(path)
	if err != nil {
		code := ErrCodeCompile
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			code = loadErr.Code
		}
		_ = formatter.Error(code, err.Error(), nil)
		return WrapExitError(ExitCommandError, "policy compilation failed", err)
	}

	result := CompileResult{
		Digest:      p.Digest(),
		Schema:      p.Schema.ID(),
		Fields:      len(p.Schema.Fields()),
		Certs:       len(p.Certs),
		Invariants:  len(p.Invariants),
		Constraints: len(p.Constraints),
		DriftRule:   p.DriftRule,
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Policy %s compiled\n", result.Schema)
	fmt.Fprintf(w, "  digest:      %s\n", result.Digest)
	fmt.Fprintf(w, "  fields:      %d\n", result.Fields)
	fmt.Fprintf(w, "  certs:       %d\n", result.Certs)
	fmt.Fprintf(w, "  invariants:  %d\n", result.Invariants)
	fmt.Fprintf(w, "  constraints: %d\n", result.Constraints)
	fmt.Fprintf(w, "  drift rule:  %s\n", result.DriftRule)
	return nil
}
