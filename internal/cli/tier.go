package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/voicerank/internal/model"
	"github.com/roach88/voicerank/internal/policy"
)

// TierListOutput is the JSON payload of tier list.
type TierListOutput struct {
	CommunityID string       `json:"community_id"`
	Tiers       []model.Tier `json:"tiers"`
}

// TierImportOutput is the JSON payload of tier import.
type TierImportOutput struct {
	Added   []model.Tier `json:"added"`
	Skipped []model.Tier `json:"skipped"`
}

// NewTierCommand creates the tier command group.
func NewTierCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tier",
		Short: "Manage rank tiers",
		Long: `Manage the rank tiers of a community.

Tiers are ordered by hour threshold. Removing a tier never demotes anyone;
members already past it keep their rank index.`,
	}

	cmd.AddCommand(newTierAddCommand(rootOpts))
	cmd.AddCommand(newTierRemoveCommand(rootOpts))
	cmd.AddCommand(newTierListCommand(rootOpts))
	cmd.AddCommand(newTierImportCommand(rootOpts))

	return cmd
}

func newTierAddCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <community> <name> <hours>",
		Short: "Add a rank tier",
		Example: `  voicerank tier add guild-1 Regular 5
  voicerank tier add guild-1 "Night Owl" 25`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			hours, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid hours %q: must be an integer", args[2]))
			}

			a, err := openApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			tier, err := a.store.AddTier(cmd.Context(), args[0], args[1], hours)
			if err != nil {
				return a.fail("add tier failed", err)
			}
			if opts.Format == "json" {
				return a.out.Success(tier)
			}
			fmt.Fprintf(a.out.Writer, "Rank %s added with %d hours\n", tier.Name, tier.ThresholdHours)
			return nil
		},
	}
}

func newTierRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "remove <community> <name>",
		Short:         "Remove a rank tier",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.RemoveTier(cmd.Context(), args[0], args[1]); err != nil {
				return a.fail("remove tier failed", err)
			}
			name := model.NormalizeTierName(args[1])
			if opts.Format == "json" {
				return a.out.Success(map[string]string{"community_id": args[0], "removed": name})
			}
			fmt.Fprintf(a.out.Writer, "Rank %s removed\n", name)
			return nil
		},
	}
}

func newTierListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list <community>",
		Short:         "List rank tiers by threshold",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			tiers, err := a.store.Tiers(cmd.Context(), args[0])
			if err != nil {
				return a.fail("list tiers failed", err)
			}
			if opts.Format == "json" {
				return a.out.Success(TierListOutput{CommunityID: args[0], Tiers: tiers})
			}
			if len(tiers) == 0 {
				fmt.Fprintln(a.out.Writer, "No ranks found.")
				return nil
			}
			for i, t := range tiers {
				fmt.Fprintf(a.out.Writer, "%d. %s: %d hours\n", i+1, t.Name, t.ThresholdHours)
			}
			return nil
		},
	}
}

func newTierImportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <policy-dir>",
		Short: "Add tiers from CUE policy files",
		Long: `Add every tier declared in the CUE files of a directory.

Policy files declare tiers per community:

  community: "guild-1": tier: {
      Regular: hours: 5
      Veteran: hours: 50
  }

Tiers that already exist are skipped, so importing the same directory twice
is safe.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			tiers, err := policy.LoadDir(args[0])
			if err != nil {
				return reportPolicyError(newFormatter(opts, cmd), err)
			}

			a, err := openApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			result := TierImportOutput{Added: []model.Tier{}, Skipped: []model.Tier{}}
			for _, t := range tiers {
				added, err := a.store.AddTier(cmd.Context(), t.CommunityID, t.Name, t.ThresholdHours)
				if model.IsDuplicateTier(err) {
					result.Skipped = append(result.Skipped, t)
					continue
				}
				if err != nil {
					return a.fail("import failed", err)
				}
				result.Added = append(result.Added, added)
			}

			if opts.Format == "json" {
				return a.out.Success(result)
			}
			for _, t := range result.Added {
				a.out.VerboseLog("added %s/%s (%d hours)", t.CommunityID, t.Name, t.ThresholdHours)
			}
			fmt.Fprintf(a.out.Writer, "Imported %d tier(s), skipped %d existing\n", len(result.Added), len(result.Skipped))
			return nil
		},
	}
}
