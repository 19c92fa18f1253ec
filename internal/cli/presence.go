package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/voicerank/internal/model"
)

// PresenceOptions holds flags for the join and leave commands.
type PresenceOptions struct {
	*RootOptions
	At string // RFC 3339; empty means now
}

// JoinOutput is the JSON payload of the join command.
type JoinOutput struct {
	MemberID    string `json:"member_id"`
	CommunityID string `json:"community_id"`
	Opened      bool   `json:"opened"`
}

// LeaveOutput is the JSON payload of the leave command.
type LeaveOutput struct {
	MemberID         string                `json:"member_id"`
	CommunityID      string                `json:"community_id"`
	ElapsedSeconds   float64               `json:"elapsed_seconds"`
	AccumulatedHours float64               `json:"accumulated_hours"`
	RankIndex        int                   `json:"rank_index"`
	Promotion        *model.PromotionEvent `json:"promotion,omitempty"`
}

// NewJoinCommand creates the join command.
func NewJoinCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PresenceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "join <member> <community>",
		Short: "Record a member joining voice",
		Long: `Open a presence session for a member in a community.

A join for a member whose session is already open is a no-op: the earlier
start time is kept.

Examples:
  voicerank join alice guild-1
  voicerank join alice guild-1 --at 2024-01-01T20:00:00Z`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.At, "at", "", "event time (RFC 3339, default now)")

	return cmd
}

// NewLeaveCommand creates the leave command.
func NewLeaveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PresenceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "leave <member> <community>",
		Short: "Record a member leaving voice",
		Long: `Close the member's open session, credit the elapsed time, and run the
promotion check.

Exit codes:
  0 - Session closed
  1 - No session was open (SESSION_NOT_OPEN)
  2 - Command error

Examples:
  voicerank leave alice guild-1
  voicerank leave alice guild-1 --at 2024-01-01T22:00:00Z --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLeave(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.At, "at", "", "event time (RFC 3339, default now)")

	return cmd
}

func runJoin(opts *PresenceOptions, args []string, cmd *cobra.Command) error {
	key, err := keyArgs(args)
	if err != nil {
		return err
	}
	at, err := parseAt(opts.At)
	if err != nil {
		return err
	}

	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	opened, err := a.engine.HandleJoin(cmd.Context(), model.JoinEvent{
		MemberID:    key.MemberID,
		CommunityID: key.CommunityID,
		Timestamp:   at,
	})
	if err != nil {
		return a.fail("join failed", err)
	}

	if opts.Format == "json" {
		return a.out.Success(JoinOutput{MemberID: key.MemberID, CommunityID: key.CommunityID, Opened: opened})
	}
	if opened {
		fmt.Fprintf(a.out.Writer, "%s joined voice in %s\n", key.MemberID, key.CommunityID)
	} else {
		fmt.Fprintf(a.out.Writer, "%s is already in voice in %s\n", key.MemberID, key.CommunityID)
	}
	return nil
}

func runLeave(opts *PresenceOptions, args []string, cmd *cobra.Command) error {
	key, err := keyArgs(args)
	if err != nil {
		return err
	}
	at, err := parseAt(opts.At)
	if err != nil {
		return err
	}

	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	res, err := a.engine.HandleLeave(ctx, model.LeaveEvent{
		MemberID:    key.MemberID,
		CommunityID: key.CommunityID,
		Timestamp:   at,
	})
	if err != nil {
		return a.fail("leave failed", err)
	}
	a.engine.Flush(ctx)

	if opts.Format == "json" {
		return a.out.Success(LeaveOutput{
			MemberID:         key.MemberID,
			CommunityID:      key.CommunityID,
			ElapsedSeconds:   res.Elapsed,
			AccumulatedHours: res.Record.Hours(),
			RankIndex:        res.Record.RankIndex,
			Promotion:        res.Promotion,
		})
	}

	w := a.out.Writer
	fmt.Fprintf(w, "%s left voice in %s after %.2f hours\n", key.MemberID, key.CommunityID, res.Elapsed/model.SecondsPerHour)
	fmt.Fprintln(w, hoursLine(key.MemberID, res.Record.Hours()))
	if res.Promotion != nil {
		fmt.Fprintf(w, "Promoted to %s\n", res.Promotion.TierName)
	}
	return nil
}

// hoursLine is the member hours reply.
func hoursLine(member string, hours float64) string {
	return fmt.Sprintf("%s has spent %.2f hours in voice chats.", member, hours)
}
