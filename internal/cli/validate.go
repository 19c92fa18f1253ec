package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/voicerank/internal/model"
	"github.com/roach88/voicerank/internal/policy"
)

// ValidationResult holds policy validation results.
type ValidationResult struct {
	Valid       bool         `json:"valid"`
	Tiers       []model.Tier `json:"tiers,omitempty"`
	Communities int          `json:"communities"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <policy-dir>",
		Short: "Validate CUE policy files without importing",
		Long: `Validate the CUE rank policy files of a directory.

Checks syntax, that every tier has an integer hours value, and tier names,
without touching the database. Use "tier import" to apply them.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	tiers, err := policy.LoadDir(dir)
	if err != nil {
		return reportPolicyError(formatter, err)
	}

	communities := map[string]bool{}
	for _, t := range tiers {
		communities[t.CommunityID] = true
		formatter.VerboseLog("%s/%s: %d hours", t.CommunityID, t.Name, t.ThresholdHours)
	}

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Tiers: tiers, Communities: len(communities)})
	}

	fmt.Fprintf(formatter.Writer, "✓ Policy valid: %d tier(s) in %d community(ies)\n", len(tiers), len(communities))
	return nil
}

// reportPolicyError prints a policy load failure. A missing directory is a
// command error (exit 2); invalid content is a validation failure (exit 1).
func reportPolicyError(formatter *OutputFormatter, err error) error {
	var loadErr *policy.LoadError
	if !errors.As(err, &loadErr) {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load policy", err)
	}

	var details any
	if loadErr.Pos.IsValid() {
		details = map[string]any{
			"file":   loadErr.Pos.Filename(),
			"line":   loadErr.Pos.Line(),
			"column": loadErr.Pos.Column(),
		}
	}
	_ = formatter.Error(loadErr.Code, loadErr.Message, details)

	switch loadErr.Code {
	case policy.ErrCodeNotFound, policy.ErrCodeNoFiles:
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", loadErr.Code, loadErr.Message))
	default:
		return WrapExitError(ExitFailure, "policy validation failed", err)
	}
}
