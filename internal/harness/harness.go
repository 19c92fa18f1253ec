package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/voicerank/internal/engine"
	"github.com/roach88/voicerank/internal/model"
	"github.com/roach88/voicerank/internal/store"
	"github.com/roach88/voicerank/internal/testutil"
)

// Harness is the scenario execution engine.
// It runs steps against a real SQLite ledger with a manual clock, sequential
// promotion IDs, and a recording role sink.
type Harness struct {
	path   string
	store  *store.Store
	engine *engine.Engine
	clock  *testutil.ManualClock
	ids    *testutil.SequenceGenerator
	roles  *testutil.RecordingRoleSink

	// touched lists every key the scenario referenced, in first-use order.
	touched []model.SessionKey
	seen    map[model.SessionKey]bool
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh database file under a temporary directory, so
// a restart step reopens exactly what was committed.
//
// Execution flow:
// 1. Create the database and engine
// 2. Add tiers and seed records
// 3. Execute steps with expect validation, draining side effects after each
// 4. Snapshot the final records and evaluate assertions
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "voicerank-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	h := &Harness{
		path:  filepath.Join(dir, "ledger.db"),
		clock: testutil.NewManualClock(testutil.Epoch),
		ids:   testutil.NewSequenceGenerator("promo"),
		roles: &testutil.RecordingRoleSink{},
		seen:  make(map[model.SessionKey]bool),
	}
	if err := h.open(); err != nil {
		return nil, err
	}
	defer func() {
		if h.store != nil {
			h.store.Close()
		}
	}()

	if err := h.executeSetup(ctx, scenario); err != nil {
		return nil, fmt.Errorf("setup failed: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d failed: %w", i, err)
		}
	}

	for _, key := range h.touched {
		rec, ok, err := h.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read final record %s: %w", key, err)
		}
		if ok {
			result.Records[key] = rec
		}
	}
	result.Roles = h.roles.Assignments()

	for _, err := range evaluateAssertions(result, scenario.Assertions) {
		result.AddError(err)
	}

	return result, nil
}

// open opens the database file and builds a fresh engine over it.
func (h *Harness) open() error {
	st, err := store.Open(h.path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	h.store = st
	h.engine = engine.New(st, st,
		engine.WithClock(h.clock),
		engine.WithIDGenerator(h.ids),
		engine.WithRoleSink(h.roles),
	)
	return nil
}

// restart drops the engine and its in-memory state and reopens the database.
func (h *Harness) restart() error {
	h.engine.Stop()
	if err := h.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	h.store = nil
	return h.open()
}

func (h *Harness) touch(key model.SessionKey) {
	if h.seen[key] {
		return
	}
	h.seen[key] = true
	h.touched = append(h.touched, key)
}

// executeSetup adds tiers and seeds records. Seeded ranks count as already
// assigned roles.
func (h *Harness) executeSetup(ctx context.Context, scenario *Scenario) error {
	for _, tier := range scenario.Tiers {
		if _, err := h.store.AddTier(ctx, tier.Community, tier.Name, tier.Hours); err != nil {
			return fmt.Errorf("add tier %s/%s: %w", tier.Community, tier.Name, err)
		}
	}

	for _, seed := range scenario.Setup {
		key := model.SessionKey{MemberID: seed.Member, CommunityID: seed.Community}
		h.touch(key)
		_, err := h.store.Commit(ctx, key, func(rec *model.SessionRecord) error {
			rec.AccumulatedSeconds = seed.Hours * model.SecondsPerHour
			rec.RankIndex = seed.RankIndex
			rec.RoleRank = seed.RankIndex
			return nil
		})
		if err != nil {
			return fmt.Errorf("seed %s: %w", key, err)
		}
	}
	return nil
}

// executeStep runs one step, records its trace event, and checks its expect
// clause. Only infrastructure failures are returned; step errors are traced.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	event := TraceEvent{Step: index, Type: step.Kind()}
	var (
		promo   *model.PromotionEvent
		stepErr error
	)

	switch {
	case step.Join != nil:
		at, err := step.Join.Time()
		if err != nil {
			return err
		}
		h.clock.Set(at)
		key := step.Join.Key()
		h.touch(key)
		event.Member, event.Community, event.At = key.MemberID, key.CommunityID, formatTime(at)

		opened, err := h.engine.HandleJoin(ctx, model.JoinEvent{
			MemberID:    key.MemberID,
			CommunityID: key.CommunityID,
			Timestamp:   at,
		})
		if err != nil {
			stepErr = err
			break
		}
		event.Opened = boolPtr(opened)

	case step.Leave != nil:
		at, err := step.Leave.Time()
		if err != nil {
			return err
		}
		h.clock.Set(at)
		key := step.Leave.Key()
		h.touch(key)
		event.Member, event.Community, event.At = key.MemberID, key.CommunityID, formatTime(at)

		res, err := h.engine.HandleLeave(ctx, model.LeaveEvent{
			MemberID:    key.MemberID,
			CommunityID: key.CommunityID,
			Timestamp:   at,
		})
		if err != nil {
			stepErr = err
			break
		}
		event.ElapsedSeconds = floatPtr(res.Elapsed)
		event.AccumulatedSeconds = floatPtr(res.Record.AccumulatedSeconds)
		event.RankIndex = intPtr(res.Record.RankIndex)
		promo = res.Promotion

	case step.Restart:
		if err := h.restart(); err != nil {
			return err
		}

	case step.Reevaluate != nil:
		key := step.Reevaluate.Key()
		h.touch(key)
		event.Member, event.Community = key.MemberID, key.CommunityID

		p, rec, err := h.engine.Reevaluate(ctx, key)
		if err != nil {
			stepErr = err
			break
		}
		event.AccumulatedSeconds = floatPtr(rec.AccumulatedSeconds)
		event.RankIndex = intPtr(rec.RankIndex)
		promo = p
	}

	if promo != nil {
		event.Promotion = promo.TierName
		event.PromotionID = promo.ID
		result.Promotions = append(result.Promotions, *promo)
	}
	if stepErr != nil {
		event.Error = errorLabel(stepErr)
	}
	result.Trace = append(result.Trace, event)

	h.engine.Flush(ctx)

	for _, msg := range checkExpect(index, step.Expect, event, stepErr) {
		result.AddError(msg)
	}
	return nil
}

// checkExpect compares a traced step against its expect clause.
func checkExpect(index int, expect *Expect, event TraceEvent, stepErr error) []string {
	prefix := fmt.Sprintf("step %d (%s)", index, event.Type)
	if expect == nil {
		if stepErr != nil {
			return []string{fmt.Sprintf("%s: unexpected error: %v", prefix, stepErr)}
		}
		return nil
	}

	var errs []string
	if expect.Error != "" {
		if event.Error != expect.Error {
			errs = append(errs, fmt.Sprintf("%s: expected error %s, got %q", prefix, expect.Error, event.Error))
		}
	} else if stepErr != nil {
		errs = append(errs, fmt.Sprintf("%s: unexpected error: %v", prefix, stepErr))
	}

	if expect.ElapsedSeconds != nil {
		switch {
		case event.ElapsedSeconds == nil:
			errs = append(errs, fmt.Sprintf("%s: expected elapsed_seconds %v, got none", prefix, *expect.ElapsedSeconds))
		case !approxEqual(*event.ElapsedSeconds, *expect.ElapsedSeconds):
			errs = append(errs, fmt.Sprintf("%s: expected elapsed_seconds %v, got %v", prefix, *expect.ElapsedSeconds, *event.ElapsedSeconds))
		}
	}

	if expect.Promoted != "" && event.Promotion != expect.Promoted {
		errs = append(errs, fmt.Sprintf("%s: expected promotion to %s, got %q", prefix, expect.Promoted, event.Promotion))
	}
	if expect.NoPromotion && event.Promotion != "" {
		errs = append(errs, fmt.Sprintf("%s: expected no promotion, got %s", prefix, event.Promotion))
	}

	if expect.Opened != nil {
		switch {
		case event.Opened == nil:
			errs = append(errs, fmt.Sprintf("%s: expected opened=%v, got none", prefix, *expect.Opened))
		case *event.Opened != *expect.Opened:
			errs = append(errs, fmt.Sprintf("%s: expected opened=%v, got %v", prefix, *expect.Opened, *event.Opened))
		}
	}

	return errs
}

// errorLabel prefers the stable error code over the message.
func errorLabel(err error) string {
	if code := model.CodeOf(err); code != "" {
		return string(code)
	}
	return err.Error()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
