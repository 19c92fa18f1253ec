package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// OpenSession is one row of the sessions listing.
type OpenSession struct {
	MemberID         string    `json:"member_id"`
	CommunityID      string    `json:"community_id"`
	ActiveSince      time.Time `json:"active_since"`
	AccumulatedHours float64   `json:"accumulated_hours"`
	RankIndex        int       `json:"rank_index"`
}

// SessionsResult holds the sessions output.
type SessionsResult struct {
	Sessions []OpenSession `json:"sessions"`
	Count    int           `json:"count"`
}

// NewSessionsCommand creates the sessions command.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List open presence sessions",
		Long: `List every member whose session is open in the ledger.

Open sessions survive restarts: a member listed here is credited from the
stored start time when their leave arrives.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessions(rootOpts, cmd)
		},
	}

	return cmd
}

func runSessions(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	recs, err := a.store.OpenSessions(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list sessions", err)
	}

	result := SessionsResult{Sessions: make([]OpenSession, 0, len(recs)), Count: len(recs)}
	for _, rec := range recs {
		result.Sessions = append(result.Sessions, OpenSession{
			MemberID:         rec.Key.MemberID,
			CommunityID:      rec.Key.CommunityID,
			ActiveSince:      *rec.ActiveSince,
			AccumulatedHours: rec.Hours(),
			RankIndex:        rec.RankIndex,
		})
	}

	if opts.Format == "json" {
		return a.out.Success(result)
	}

	w := a.out.Writer
	if result.Count == 0 {
		fmt.Fprintln(w, "No open sessions.")
		return nil
	}
	fmt.Fprintf(w, "Open sessions: %d\n", result.Count)
	for _, s := range result.Sessions {
		fmt.Fprintf(w, "  %s in %s since %s (%.2f hours, rank %d)\n",
			s.MemberID, s.CommunityID, s.ActiveSince.Format(time.RFC3339), s.AccumulatedHours, s.RankIndex)
	}
	return nil
}
