package cli

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/voicerank/internal/engine"
	"github.com/roach88/voicerank/internal/model"
	"github.com/roach88/voicerank/internal/sink"
	"github.com/roach88/voicerank/internal/store"
)

// app bundles what a one-shot command needs. Close releases the database.
type app struct {
	store  *store.Store
	engine *engine.Engine
	out    *OutputFormatter
}

// newFormatter builds the output formatter for cmd.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// openApp opens the configured database and builds an engine over it.
func openApp(opts *RootOptions, cmd *cobra.Command, extra ...engine.Option) (*app, error) {
	if opts.Database == "" {
		return nil, NewExitError(ExitCommandError, "no database configured (use --db or VOICERANK_DATABASE_FILE)")
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	engineOpts := []engine.Option{}
	if opts.Config.NotifyMembers {
		engineOpts = append(engineOpts, engine.WithNotifier(sink.LogNotifier{}))
	}
	engineOpts = append(engineOpts, extra...)

	return &app{
		store:  st,
		engine: engine.New(st, st, engineOpts...),
		out:    newFormatter(opts, cmd),
	}, nil
}

// Close closes the database, logging any failure.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// fail reports err through the formatter and converts it into an ExitError.
// Errors without a model code are command errors.
func (a *app) fail(message string, err error) error {
	domain, _ := a.out.Failure(err)
	if !domain {
		return WrapExitError(ExitCommandError, message, err)
	}
	return WrapExitError(ExitFailure, message, err)
}

// keyArgs builds a SessionKey from positional <member> <community> arguments.
func keyArgs(args []string) (model.SessionKey, error) {
	key := model.SessionKey{MemberID: args[0], CommunityID: args[1]}
	if err := key.Validate(); err != nil {
		return key, NewExitError(ExitCommandError, err.Error())
	}
	return key, nil
}

// parseAt parses an optional RFC 3339 --at flag. Empty means now.
func parseAt(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, WrapExitError(ExitCommandError, fmt.Sprintf("invalid --at %q", value), err)
	}
	return t, nil
}

// parseHours parses a finite non-negative hour count.
func parseHours(value string) (float64, error) {
	h, err := strconv.ParseFloat(value, 64)
	if err != nil || h < 0 || math.IsNaN(h) || math.IsInf(h, 0) {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid hours %q: must be a finite non-negative number", value))
	}
	return h, nil
}
