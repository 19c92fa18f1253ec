package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/voicerank/internal/model"
)

// MemberOutput is the JSON payload of the member commands.
type MemberOutput struct {
	MemberID         string                `json:"member_id"`
	CommunityID      string                `json:"community_id"`
	AccumulatedHours float64               `json:"accumulated_hours"`
	RankIndex        int                   `json:"rank_index"`
	InVoice          bool                  `json:"in_voice"`
	Promotion        *model.PromotionEvent `json:"promotion,omitempty"`
}

func memberOutput(rec model.SessionRecord) MemberOutput {
	return MemberOutput{
		MemberID:         rec.Key.MemberID,
		CommunityID:      rec.Key.CommunityID,
		AccumulatedHours: rec.Hours(),
		RankIndex:        rec.RankIndex,
		InVoice:          rec.IsOpen(),
	}
}

// NewMemberCommand creates the member command group.
func NewMemberCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Short: "Inspect and adjust a member's ledger record",
	}

	cmd.AddCommand(newMemberHoursCommand(rootOpts))
	cmd.AddCommand(newMemberSetHoursCommand(rootOpts))
	cmd.AddCommand(newMemberSetRankCommand(rootOpts))
	cmd.AddCommand(newMemberPromoteCommand(rootOpts))
	cmd.AddCommand(newMemberResetCommand(rootOpts))

	return cmd
}

func newMemberHoursCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "hours <member> <community>",
		Short:         "Show accumulated voice hours",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keyArgs(args)
			if err != nil {
				return err
			}
			a, err := openApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, _, err := a.engine.Record(cmd.Context(), key)
			if err != nil {
				return a.fail("read hours failed", err)
			}
			rec.Key = key
			if opts.Format == "json" {
				return a.out.Success(memberOutput(rec))
			}
			fmt.Fprintln(a.out.Writer, hoursLine(key.MemberID, rec.Hours()))
			return nil
		},
	}
}

func newMemberSetHoursCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-hours <member> <community> <hours>",
		Short: "Override accumulated voice hours",
		Long: `Set a member's accumulated hours directly.

No promotion runs; use "member promote" afterwards to apply the new total.`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keyArgs(args)
			if err != nil {
				return err
			}
			hours, err := parseHours(args[2])
			if err != nil {
				return err
			}
			a, err := openApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.engine.SetHours(ctx, key, hours); err != nil {
				return a.fail("set hours failed", err)
			}
			rec, _, err := a.engine.Record(ctx, key)
			if err != nil {
				return a.fail("set hours failed", err)
			}
			if opts.Format == "json" {
				return a.out.Success(memberOutput(rec))
			}
			fmt.Fprintf(a.out.Writer, "Modified hours for %s to %.2f\n", key.MemberID, rec.Hours())
			return nil
		},
	}
}

func newMemberSetRankCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "set-rank <member> <community> <index>",
		Short:         "Override the rank index",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keyArgs(args)
			if err != nil {
				return err
			}
			index, err := strconv.Atoi(args[2])
			if err != nil || index < 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid rank index %q: must be a non-negative integer", args[2]))
			}
			a, err := openApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.engine.SetRank(ctx, key, index); err != nil {
				return a.fail("set rank failed", err)
			}
			rec, _, err := a.engine.Record(ctx, key)
			if err != nil {
				return a.fail("set rank failed", err)
			}
			if opts.Format == "json" {
				return a.out.Success(memberOutput(rec))
			}
			fmt.Fprintf(a.out.Writer, "Set rank index for %s to %d\n", key.MemberID, rec.RankIndex)
			return nil
		},
	}
}

func newMemberPromoteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "promote <member> <community>",
		Short: "Force a promotion check",
		Long: `Run the promotion check against the current tiers.

Also re-attempts a role assignment that failed earlier.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keyArgs(args)
			if err != nil {
				return err
			}
			a, err := openApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			promo, rec, err := a.engine.Reevaluate(ctx, key)
			if err != nil {
				return a.fail("promotion check failed", err)
			}
			a.engine.Flush(ctx)

			if opts.Format == "json" {
				out := memberOutput(rec)
				out.Promotion = promo
				return a.out.Success(out)
			}
			if promo == nil {
				fmt.Fprintf(a.out.Writer, "%s has no new rank\n", key.MemberID)
				return nil
			}
			fmt.Fprintf(a.out.Writer, "%s promoted to %s\n", key.MemberID, promo.TierName)
			return nil
		},
	}
}

func newMemberResetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "reset <member> <community>",
		Short:         "Delete a member's ledger record",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keyArgs(args)
			if err != nil {
				return err
			}
			a, err := openApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			deleted, err := a.engine.Reset(cmd.Context(), key)
			if err != nil {
				return a.fail("reset failed", err)
			}
			if opts.Format == "json" {
				return a.out.Success(map[string]any{"member_id": key.MemberID, "community_id": key.CommunityID, "deleted": deleted})
			}
			if !deleted {
				fmt.Fprintf(a.out.Writer, "%s has no record in %s\n", key.MemberID, key.CommunityID)
				return nil
			}
			fmt.Fprintf(a.out.Writer, "Reset %s in %s\n", key.MemberID, key.CommunityID)
			return nil
		},
	}
}
