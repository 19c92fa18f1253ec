package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/voicerank/internal/model"
	"github.com/roach88/voicerank/internal/sink"
)

// Engine ties the tracker and promotion step to a ledger and a policy store,
// serializes work per key, and drains side effects.
//
// Thread-safety model:
//   - HandleJoin/HandleLeave/Handle and the admin hooks: safe from any
//     goroutine; calls for the same key serialize on the key lock
//   - Run(): must be called from exactly one goroutine
type Engine struct {
	ledger   Ledger
	policy   Policy
	tracker  *Tracker
	promoter *Promoter
	clock    Clock
	ids      IDGenerator
	locks    *keyLocks
	effects  *effectQueue
	roles    sink.RoleSink
	notifier sink.Notifier // nil disables notifications
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for events without a timestamp.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIDGenerator sets the promotion event ID generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithRoleSink sets the role sink. Default: sink.LogRoleSink.
func WithRoleSink(r sink.RoleSink) Option {
	return func(e *Engine) {
		e.roles = r
	}
}

// WithNotifier enables promotion notifications through n.
func WithNotifier(n sink.Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// New creates an Engine over the given ledger and policy.
func New(ledger Ledger, policy Policy, opts ...Option) *Engine {
	e := &Engine{
		ledger:  ledger,
		policy:  policy,
		clock:   SystemClock{},
		ids:     UUIDv7Generator{},
		locks:   newKeyLocks(),
		effects: newEffectQueue(),
		roles:   sink.LogRoleSink{},
	}

	for _, opt := range opts {
		opt(e)
	}

	e.tracker = NewTracker(ledger)
	e.promoter = NewPromoter(ledger, policy, e.ids)
	return e
}

// LeaveResult describes a successfully closed session.
type LeaveResult struct {
	Elapsed   float64
	Record    model.SessionRecord
	Promotion *model.PromotionEvent
}

// HandleJoin opens a session for the event's key.
// A join for a key whose session is already open is a logged no-op and
// reports opened as false.
func (e *Engine) HandleJoin(ctx context.Context, ev model.JoinEvent) (opened bool, err error) {
	key := ev.Key()
	if err := key.Validate(); err != nil {
		return false, fmt.Errorf("join: %w", err)
	}
	now := e.at(ev.Timestamp)

	unlock := e.locks.Lock(key)
	defer unlock()

	opened, err = e.tracker.Open(ctx, key, now)
	if err != nil {
		return false, fmt.Errorf("join: %w", err)
	}
	if !opened {
		slog.Debug("session already open", "member", key.MemberID, "community", key.CommunityID)
		return false, nil
	}
	slog.Debug("session opened", "member", key.MemberID, "community", key.CommunityID, "at", now)
	return true, nil
}

// HandleLeave closes the session for the event's key and runs the promotion
// step, both in one ledger commit. A promotion, or a role that still lags the
// committed rank, is enqueued for Run.
//
// Fails with SESSION_NOT_OPEN, changing nothing, if no session is open.
func (e *Engine) HandleLeave(ctx context.Context, ev model.LeaveEvent) (LeaveResult, error) {
	key := ev.Key()
	if err := key.Validate(); err != nil {
		return LeaveResult{}, fmt.Errorf("leave: %w", err)
	}
	now := e.at(ev.Timestamp)

	unlock := e.locks.Lock(key)
	defer unlock()

	tiers, err := e.policy.Tiers(ctx, key.CommunityID)
	if err != nil {
		return LeaveResult{}, fmt.Errorf("leave: %w", err)
	}

	var (
		tier     model.Tier
		advanced bool
	)
	elapsed, rec, err := e.tracker.Close(ctx, key, now, func(rec *model.SessionRecord) error {
		tier, advanced = Advance(rec, tiers)
		return nil
	})
	if err != nil {
		return LeaveResult{}, fmt.Errorf("leave: %w", err)
	}

	result := LeaveResult{Elapsed: elapsed, Record: rec}
	if advanced {
		result.Promotion = e.promoter.event(key, tier, rec.RankIndex, now)
		slog.Info("member promoted",
			"member", key.MemberID,
			"community", key.CommunityID,
			"tier", tier.Name,
			"rank_index", rec.RankIndex,
			"hours", rec.Hours(),
		)
	}
	slog.Debug("session closed",
		"member", key.MemberID,
		"community", key.CommunityID,
		"elapsed_seconds", elapsed,
		"accumulated_seconds", rec.AccumulatedSeconds,
	)

	e.scheduleEffects(rec, tiers, result.Promotion)
	return result, nil
}

// Handle routes a dispatched event. Recoverable failures (duplicate open,
// close without open) are logged and swallowed; any other failure is logged
// and returned, and the event counts as unprocessed.
func (e *Engine) Handle(ctx context.Context, event model.Event) error {
	var err error
	switch event.Type {
	case model.EventTypeJoin:
		if event.Join == nil {
			err = fmt.Errorf("join event missing join data")
			break
		}
		_, err = e.HandleJoin(ctx, *event.Join)
	case model.EventTypeLeave:
		if event.Leave == nil {
			err = fmt.Errorf("leave event missing leave data")
			break
		}
		_, err = e.HandleLeave(ctx, *event.Leave)
	default:
		err = fmt.Errorf("unknown event type: %d", event.Type)
	}

	if err == nil {
		return nil
	}
	logEventError(event, err)
	if isRecoverable(err) {
		return nil
	}
	return err
}

// Reevaluate forces the promotion step for key against the current tiers.
// It also re-enqueues a lagging role assignment.
func (e *Engine) Reevaluate(ctx context.Context, key model.SessionKey) (*model.PromotionEvent, model.SessionRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, model.SessionRecord{}, fmt.Errorf("reevaluate: %w", err)
	}

	unlock := e.locks.Lock(key)
	defer unlock()

	promo, rec, tiers, err := e.promoter.Evaluate(ctx, key, e.clock.Now())
	if err != nil {
		return nil, rec, fmt.Errorf("reevaluate: %w", err)
	}
	if promo != nil {
		slog.Info("member promoted",
			"member", key.MemberID,
			"community", key.CommunityID,
			"tier", promo.TierName,
			"rank_index", promo.RankIndex,
			"hours", rec.Hours(),
			"forced", true,
		)
	}
	e.scheduleEffects(rec, tiers, promo)
	return promo, rec, nil
}

// Record returns the ledger record for key without creating it.
func (e *Engine) Record(ctx context.Context, key model.SessionKey) (model.SessionRecord, bool, error) {
	return e.ledger.Get(ctx, key)
}

// Hours returns the accumulated hours for key, or 0 if never recorded.
func (e *Engine) Hours(ctx context.Context, key model.SessionKey) (float64, error) {
	rec, _, err := e.ledger.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	return rec.Hours(), nil
}

// SetHours overrides the accumulated duration for key. No promotion runs;
// use Reevaluate afterwards to apply the new total.
func (e *Engine) SetHours(ctx context.Context, key model.SessionKey, hours float64) error {
	if err := key.Validate(); err != nil {
		return fmt.Errorf("set hours: %w", err)
	}
	unlock := e.locks.Lock(key)
	defer unlock()

	if err := e.ledger.OverrideAccumulated(ctx, key, hours*model.SecondsPerHour); err != nil {
		return fmt.Errorf("set hours: %w", err)
	}
	slog.Info("hours modified", "member", key.MemberID, "community", key.CommunityID, "hours", hours)
	return nil
}

// SetRank overrides the rank index for key.
func (e *Engine) SetRank(ctx context.Context, key model.SessionKey, index int) error {
	if err := key.Validate(); err != nil {
		return fmt.Errorf("set rank: %w", err)
	}
	unlock := e.locks.Lock(key)
	defer unlock()

	if err := e.ledger.OverrideRank(ctx, key, index); err != nil {
		return fmt.Errorf("set rank: %w", err)
	}
	slog.Info("rank modified", "member", key.MemberID, "community", key.CommunityID, "rank_index", index)
	return nil
}

// Reset deletes the ledger record for key.
func (e *Engine) Reset(ctx context.Context, key model.SessionKey) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, fmt.Errorf("reset: %w", err)
	}
	unlock := e.locks.Lock(key)
	defer unlock()

	return e.ledger.Reset(ctx, key)
}

// at falls back to the engine clock for an unset timestamp.
func (e *Engine) at(ts time.Time) time.Time {
	if ts.IsZero() {
		return e.clock.Now()
	}
	return ts
}

// scheduleEffects enqueues a role assignment for a fresh promotion, or when the
// committed rank has a role the sink has not confirmed and no assignment for
// it is already queued. Callers hold the key lock.
func (e *Engine) scheduleEffects(rec model.SessionRecord, tiers []model.Tier, promo *model.PromotionEvent) {
	if promo == nil {
		if !rec.RoleOutOfSync() || e.effects.IsPending(rec.Key, rec.RankIndex) {
			return
		}
	}
	if rec.RankIndex == 0 || rec.RankIndex > len(tiers) {
		return
	}
	eff := Effect{
		Key:       rec.Key,
		RankIndex: rec.RankIndex,
		TierName:  tiers[rec.RankIndex-1].Name,
		Promotion: promo,
	}
	if !e.effects.Enqueue(eff) {
		slog.Warn("side effect dropped: engine stopped",
			"member", rec.Key.MemberID,
			"community", rec.Key.CommunityID,
			"tier", eff.TierName,
		)
	}
}
