package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/voicerank/internal/engine"
	"github.com/roach88/voicerank/internal/model"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Events string // "-" for stdin

	// Clock allows overriding the clock for events without a timestamp (for testing).
	Clock engine.Clock
}

// EventLine is one line of the JSON-lines event stream.
type EventLine struct {
	Type        string    `json:"type"` // "join" | "leave"
	MemberID    string    `json:"member_id"`
	CommunityID string    `json:"community_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// Event converts the line to an engine event.
func (l EventLine) Event() (model.Event, error) {
	switch strings.ToLower(l.Type) {
	case "join":
		return model.NewJoin(l.MemberID, l.CommunityID, l.Timestamp), nil
	case "leave":
		return model.NewLeave(l.MemberID, l.CommunityID, l.Timestamp), nil
	default:
		return model.Event{}, fmt.Errorf("unknown event type %q", l.Type)
	}
}

// RunSummary is printed when the stream ends.
type RunSummary struct {
	Lines     int   `json:"lines"`
	Rejected  int   `json:"rejected"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process a stream of presence events",
		Long: `Start the engine and feed it presence events, one JSON object per line:

  {"type":"join","member_id":"alice","community_id":"guild-1","timestamp":"2024-01-01T20:00:00Z"}
  {"type":"leave","member_id":"alice","community_id":"guild-1","timestamp":"2024-01-01T22:00:00Z"}

Events are sharded by member and community: one member's events are handled
in order while different members are handled in parallel. A missing timestamp
means the time the event is handled. Malformed lines and failed events are
logged and skipped. The command exits at end of input or on Ctrl-C.

Example:
  voicerank run --db ./voicerank.db --events events.jsonl
  presence-feed | voicerank run --events -`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Events, "events", "-", "JSON-lines event file, or - for stdin")

	return cmd
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	input, closeInput, err := openEvents(opts.Events, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open events", err)
	}
	defer closeInput()

	var extra []engine.Option
	if opts.Clock != nil {
		extra = append(extra, engine.WithClock(opts.Clock))
	}
	a, err := openApp(opts.RootOptions, cmd, extra...)
	if err != nil {
		return err
	}
	defer a.Close()

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	resumed, err := a.store.OpenSessions(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read open sessions", err)
	}
	for _, rec := range resumed {
		slog.Info("session resumed", "member", rec.Key.MemberID, "community", rec.Key.CommunityID, "active_since", rec.ActiveSince)
	}

	// Effects outlive the event context so queued role assignments still
	// run after Ctrl-C.
	runDone := make(chan error, 1)
	go func() {
		runDone <- a.engine.Run(context.WithoutCancel(ctx))
	}()

	d := engine.NewDispatcher(a.engine, opts.Config.Shards, opts.Config.ShardBuffer)
	d.Start(ctx)

	slog.Info("engine starting", "db", opts.Database, "events", opts.Events, "shards", opts.Config.Shards)

	summary := RunSummary{}
	readErr := feedEvents(ctx, input, d, &summary)

	d.Close()
	d.Wait()
	a.engine.Stop()
	if err := <-runDone; err != nil {
		slog.Error("effect worker stopped with error", "error", err)
	}

	stats := d.Stats()
	summary.Processed = stats.Processed
	summary.Failed = stats.Failed
	slog.Info("engine stopped gracefully", "processed", stats.Processed, "failed", stats.Failed)

	if readErr != nil && !errors.Is(readErr, context.Canceled) {
		return WrapExitError(ExitCommandError, "failed to read events", readErr)
	}

	if opts.Format == "json" {
		return a.out.Success(summary)
	}
	fmt.Fprintf(a.out.Writer, "Processed %d event(s), %d failed, %d rejected line(s)\n",
		summary.Processed, summary.Failed, summary.Rejected)
	return nil
}

// feedEvents submits each line of r to d until EOF or ctx is cancelled.
func feedEvents(ctx context.Context, r io.Reader, d *engine.Dispatcher, summary *RunSummary) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		summary.Lines++

		var el EventLine
		if err := json.Unmarshal([]byte(line), &el); err != nil {
			summary.Rejected++
			slog.Warn("rejected event line", "line", summary.Lines, "error", err)
			continue
		}
		ev, err := el.Event()
		if err != nil {
			summary.Rejected++
			slog.Warn("rejected event line", "line", summary.Lines, "error", err)
			continue
		}
		if err := d.Submit(ctx, ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			summary.Rejected++
			slog.Warn("rejected event", "line", summary.Lines, "error", err)
		}
	}
	return scanner.Err()
}

// openEvents opens path, or returns stdin for "-".
func openEvents(path string, stdin io.Reader) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
