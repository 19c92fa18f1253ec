package engine

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/voicerank/internal/model"
	"github.com/roach88/voicerank/internal/sink"
	"github.com/roach88/voicerank/internal/store"
	"github.com/roach88/voicerank/internal/testutil"
)

var t0 = testutil.Epoch

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type testEnv struct {
	store  *store.Store
	engine *Engine
	roles  *testutil.RecordingRoleSink
	clock  *testutil.ManualClock
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		store: setupTestStore(t),
		roles: &testutil.RecordingRoleSink{},
		clock: testutil.NewManualClock(t0),
	}
	base := []Option{
		WithClock(env.clock),
		WithIDGenerator(testutil.NewSequenceGenerator("promo")),
		WithRoleSink(env.roles),
	}
	env.engine = New(env.store, env.store, append(base, opts...)...)
	return env
}

func (env *testEnv) addTiers(t *testing.T, community string, tiers ...model.Tier) {
	t.Helper()
	for _, tier := range tiers {
		_, err := env.store.AddTier(context.Background(), community, tier.Name, tier.ThresholdHours)
		require.NoError(t, err)
	}
}

func standardTiers() []model.Tier {
	return []model.Tier{
		{Name: "Rank1", ThresholdHours: 5},
		{Name: "Rank2", ThresholdHours: 10},
		{Name: "Rank3", ThresholdHours: 15},
	}
}

func key(member string) model.SessionKey {
	return model.SessionKey{MemberID: member, CommunityID: "c1"}
}

func (env *testEnv) session(t *testing.T, member string, start time.Time, d time.Duration) LeaveResult {
	t.Helper()
	ctx := context.Background()
	opened, err := env.engine.HandleJoin(ctx, model.JoinEvent{MemberID: member, CommunityID: "c1", Timestamp: start})
	require.NoError(t, err)
	require.True(t, opened)
	res, err := env.engine.HandleLeave(ctx, model.LeaveEvent{MemberID: member, CommunityID: "c1", Timestamp: start.Add(d)})
	require.NoError(t, err)
	return res
}

func TestEngine_New_Defaults(t *testing.T) {
	s := setupTestStore(t)
	e := New(s, s)

	assert.IsType(t, SystemClock{}, e.clock)
	assert.IsType(t, UUIDv7Generator{}, e.ids)
	assert.IsType(t, sink.LogRoleSink{}, e.roles)
	assert.Nil(t, e.notifier)
	assert.Equal(t, 0, e.Pending())
}

func TestEngine_PromotesOnThreshold(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addTiers(t, "c1", standardTiers()...)
	require.NoError(t, env.engine.SetHours(ctx, key("m1"), 4))

	// Member at 4h stays 2h.
	res := env.session(t, "m1", t0, 2*time.Hour)

	assert.Equal(t, 7200.0, res.Elapsed)
	assert.Equal(t, 6.0, res.Record.Hours())
	assert.Equal(t, 1, res.Record.RankIndex)
	assert.False(t, res.Record.IsOpen())
	require.NotNil(t, res.Promotion)
	assert.Equal(t, "promo-1", res.Promotion.ID)
	assert.Equal(t, "Rank1", res.Promotion.TierName)
	assert.Equal(t, 1, res.Promotion.RankIndex)
	assert.Equal(t, t0.Add(2*time.Hour), res.Promotion.At)
	assert.Equal(t, key("m1"), res.Promotion.Key())

	// Same member stays 5h more and lands on Rank2 without a second Rank1 event.
	res = env.session(t, "m1", t0.Add(24*time.Hour), 5*time.Hour)

	assert.Equal(t, 11.0, res.Record.Hours())
	assert.Equal(t, 2, res.Record.RankIndex)
	require.NotNil(t, res.Promotion)
	assert.Equal(t, "Rank2", res.Promotion.TierName)
	assert.Equal(t, "promo-2", res.Promotion.ID)

	assert.Equal(t, 2, env.engine.Flush(ctx))
	assert.Equal(t, []testutil.Assignment{
		{MemberID: "m1", CommunityID: "c1", TierName: "Rank1"},
		{MemberID: "m1", CommunityID: "c1", TierName: "Rank2"},
	}, env.roles.Assignments())
}

func TestEngine_LeaveWithoutJoin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addTiers(t, "c1", standardTiers()...)

	_, err := env.engine.HandleLeave(ctx, model.LeaveEvent{MemberID: "m1", CommunityID: "c1", Timestamp: t0})
	require.Error(t, err)
	assert.True(t, model.IsSessionNotOpen(err))

	_, ok, err := env.engine.Record(ctx, key("m1"))
	require.NoError(t, err)
	assert.False(t, ok, "failed close must not create a record")
	assert.Equal(t, 0, env.engine.Pending())
}

func TestEngine_LeaveWithoutJoin_ExistingRecordUnchanged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addTiers(t, "c1", standardTiers()...)
	require.NoError(t, env.engine.SetHours(ctx, key("m1"), 2))

	_, err := env.engine.HandleLeave(ctx, model.LeaveEvent{MemberID: "m1", CommunityID: "c1", Timestamp: t0})
	require.True(t, model.IsSessionNotOpen(err))

	rec, ok, err := env.engine.Record(ctx, key("m1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2.0, rec.Hours())
	assert.Equal(t, 0, rec.RankIndex)
}

func TestEngine_DuplicateJoinKeepsStart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	opened, err := env.engine.HandleJoin(ctx, model.JoinEvent{MemberID: "m1", CommunityID: "c1", Timestamp: t0})
	require.NoError(t, err)
	assert.True(t, opened)

	// Channel switch inside the community re-reports the join.
	opened, err = env.engine.HandleJoin(ctx, model.JoinEvent{MemberID: "m1", CommunityID: "c1", Timestamp: t0.Add(30 * time.Minute)})
	require.NoError(t, err)
	assert.False(t, opened)

	res, err := env.engine.HandleLeave(ctx, model.LeaveEvent{MemberID: "m1", CommunityID: "c1", Timestamp: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 3600.0, res.Elapsed)
}

func TestEngine_AccumulationIsAdditive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.session(t, "m1", t0, 10*time.Minute)
	env.session(t, "m1", t0.Add(time.Hour), 20*time.Minute)
	res := env.session(t, "m1", t0.Add(2*time.Hour), 30*time.Minute)

	assert.Equal(t, 3600.0, res.Record.AccumulatedSeconds)
	hours, err := env.engine.Hours(ctx, key("m1"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, hours)
}

func TestEngine_LeaveBeforeJoinClampsToZero(t *testing.T) {
	env := newTestEnv(t)
	res := env.session(t, "m1", t0, -time.Minute)

	assert.Equal(t, 0.0, res.Elapsed)
	assert.Equal(t, 0.0, res.Record.AccumulatedSeconds)
}

func TestEngine_MultiTierJumpSingleEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addTiers(t, "c1",
		model.Tier{Name: "Rank1", ThresholdHours: 1},
		model.Tier{Name: "Rank2", ThresholdHours: 2},
		model.Tier{Name: "Rank3", ThresholdHours: 3},
	)

	res := env.session(t, "m1", t0, 3*time.Hour+30*time.Minute)

	assert.Equal(t, 3, res.Record.RankIndex)
	require.NotNil(t, res.Promotion)
	assert.Equal(t, "Rank3", res.Promotion.TierName)

	// Only the final tier's role is assigned.
	assert.Equal(t, 1, env.engine.Flush(ctx))
	assert.Equal(t, []testutil.Assignment{{MemberID: "m1", CommunityID: "c1", TierName: "Rank3"}}, env.roles.Assignments())
}

func TestEngine_NoTiersNoPromotion(t *testing.T) {
	env := newTestEnv(t)

	res := env.session(t, "m1", t0, 100*time.Hour)

	assert.Nil(t, res.Promotion)
	assert.Equal(t, 0, res.Record.RankIndex)
	assert.Equal(t, 0, env.engine.Pending())
}

func TestEngine_RankNeverDecreasesAfterTierRemoval(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addTiers(t, "c1", standardTiers()...)
	require.NoError(t, env.engine.SetHours(ctx, key("m1"), 9))

	res := env.session(t, "m1", t0, time.Hour)
	require.Equal(t, 2, res.Record.RankIndex)

	require.NoError(t, env.store.RemoveTier(ctx, "c1", "Rank2"))
	require.NoError(t, env.store.RemoveTier(ctx, "c1", "Rank3"))

	res = env.session(t, "m1", t0.Add(time.Hour), time.Hour)
	assert.Equal(t, 2, res.Record.RankIndex)
	assert.Nil(t, res.Promotion)
}

func TestEngine_CrashResume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	s1, err := store.Open(path)
	require.NoError(t, err)
	_, err = s1.AddTier(ctx, "c1", "Rank1", 1)
	require.NoError(t, err)

	e1 := New(s1, s1, WithIDGenerator(NewFixedGenerator("promo-1")))
	_, err = e1.HandleJoin(ctx, model.JoinEvent{MemberID: "m1", CommunityID: "c1", Timestamp: t0})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// A new process with no in-memory state.
	s2, err := store.Open(path)
	require.NoError(t, err)
	defer s2.Close()

	open, err := s2.OpenSessions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)

	e2 := New(s2, s2, WithIDGenerator(NewFixedGenerator("promo-1")))
	res, err := e2.HandleLeave(ctx, model.LeaveEvent{MemberID: "m1", CommunityID: "c1", Timestamp: t0.Add(90 * time.Minute)})
	require.NoError(t, err)

	assert.Equal(t, 5400.0, res.Elapsed)
	require.NotNil(t, res.Promotion)
	assert.Equal(t, "Rank1", res.Promotion.TierName)
}

func TestEngine_ConcurrentDuplicateLeaves(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addTiers(t, "c1", model.Tier{Name: "Rank1", ThresholdHours: 1})

	_, err := env.engine.HandleJoin(ctx, model.JoinEvent{MemberID: "m1", CommunityID: "c1", Timestamp: t0})
	require.NoError(t, err)

	const goroutines = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		notOpen   int
		promoted  int
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.engine.HandleLeave(ctx, model.LeaveEvent{MemberID: "m1", CommunityID: "c1", Timestamp: t0.Add(2 * time.Hour)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
				if res.Promotion != nil {
					promoted++
				}
			case model.IsSessionNotOpen(err):
				notOpen++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, goroutines-1, notOpen)
	assert.Equal(t, 1, promoted)

	rec, _, err := env.engine.Record(ctx, key("m1"))
	require.NoError(t, err)
	assert.Equal(t, 7200.0, rec.AccumulatedSeconds)
	assert.Equal(t, 0, env.engine.locks.Len())
}

func TestEngine_ZeroTimestampUsesClock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.HandleJoin(ctx, model.JoinEvent{MemberID: "m1", CommunityID: "c1"})
	require.NoError(t, err)
	env.clock.Advance(45 * time.Minute)

	res, err := env.engine.HandleLeave(ctx, model.LeaveEvent{MemberID: "m1", CommunityID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 2700.0, res.Elapsed)
}

func TestEngine_InvalidKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.HandleJoin(ctx, model.JoinEvent{CommunityID: "c1", Timestamp: t0})
	assert.Error(t, err)

	_, err = env.engine.HandleLeave(ctx, model.LeaveEvent{MemberID: "m1", Timestamp: t0})
	assert.Error(t, err)

	_, _, err = env.engine.Reevaluate(ctx, model.SessionKey{})
	assert.Error(t, err)
}

func TestEngine_Reevaluate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addTiers(t, "c1", standardTiers()...)
	require.NoError(t, env.engine.SetHours(ctx, key("m1"), 12))

	// SetHours alone never promotes.
	rec, _, err := env.engine.Record(ctx, key("m1"))
	require.NoError(t, err)
	assert.Equal(t, 0, rec.RankIndex)

	env.clock.Set(t0.Add(time.Hour))
	promo, rec, err := env.engine.Reevaluate(ctx, key("m1"))
	require.NoError(t, err)
	require.NotNil(t, promo)
	assert.Equal(t, "Rank2", promo.TierName)
	assert.Equal(t, t0.Add(time.Hour), promo.At)
	assert.Equal(t, 2, rec.RankIndex)

	promo, _, err = env.engine.Reevaluate(ctx, key("m1"))
	require.NoError(t, err)
	assert.Nil(t, promo)

	assert.Equal(t, 1, env.engine.Flush(ctx))
}

func TestEngine_LaggingRoleQueuedOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addTiers(t, "c1", model.Tier{Name: "Rank1", ThresholdHours: 1})

	start := t0
	for i := 0; i < 4; i++ {
		env.session(t, "m1", start, 90*time.Minute)
		start = start.Add(2 * time.Hour)
	}

	assert.Equal(t, 1, env.engine.Pending(), "role still unconfirmed but already queued")
	assert.Equal(t, 1, env.engine.Flush(ctx))
	assert.Equal(t, []testutil.Assignment{{MemberID: "m1", CommunityID: "c1", TierName: "Rank1"}}, env.roles.Assignments())

	// Once applied, a confirmed role queues nothing further.
	env.session(t, "m1", start, time.Minute)
	assert.Equal(t, 0, env.engine.Pending())
}

func TestEngine_SetRankAndReset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addTiers(t, "c1", standardTiers()...)

	require.NoError(t, env.engine.SetRank(ctx, key("m1"), 2))
	rec, ok, err := env.engine.Record(ctx, key("m1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, rec.RankIndex)

	removed, err := env.engine.Reset(ctx, key("m1"))
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = env.engine.Reset(ctx, key("m1"))
	require.NoError(t, err)
	assert.False(t, removed)

	assert.Error(t, env.engine.SetRank(ctx, key("m1"), -1))
	assert.Error(t, env.engine.SetHours(ctx, key("m1"), -1))
	assert.Error(t, env.engine.SetHours(ctx, key("m1"), math.Inf(1)))
	assert.Error(t, env.engine.SetHours(ctx, key("m1"), math.MaxFloat64), "overflows to infinite seconds")
}

func TestEngine_RoleFailureRetriedOnReevaluate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addTiers(t, "c1", standardTiers()...)
	env.roles.FailWith(sink.NewRoleNotFoundError("c1", "Rank1"))

	res := env.session(t, "m1", t0, 6*time.Hour)
	require.NotNil(t, res.Promotion)
	assert.Equal(t, 1, env.engine.Flush(ctx))

	// The promotion stays committed; only the role lags.
	rec, _, err := env.engine.Record(ctx, key("m1"))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.RankIndex)
	assert.Equal(t, 0, rec.RoleRank)
	assert.True(t, rec.RoleOutOfSync())

	env.roles.FailWith(nil)
	promo, _, err := env.engine.Reevaluate(ctx, key("m1"))
	require.NoError(t, err)
	assert.Nil(t, promo, "retry must not emit a second promotion")
	assert.Equal(t, 1, env.engine.Flush(ctx))

	rec, _, err = env.engine.Record(ctx, key("m1"))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.RoleRank)
	assert.Equal(t, 2, env.roles.Attempts())
	assert.Equal(t, []testutil.Assignment{{MemberID: "m1", CommunityID: "c1", TierName: "Rank1"}}, env.roles.Assignments())
}

func TestEngine_RoleFailureRetriedOnNextLeave(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addTiers(t, "c1", standardTiers()...)
	env.roles.FailWith(errors.New("role service down"))

	env.session(t, "m1", t0, 6*time.Hour)
	env.engine.Flush(ctx)
	env.roles.FailWith(nil)

	res := env.session(t, "m1", t0.Add(7*time.Hour), time.Minute)
	assert.Nil(t, res.Promotion)
	assert.Equal(t, 1, env.engine.Pending())
	env.engine.Flush(ctx)

	rec, _, err := env.engine.Record(ctx, key("m1"))
	require.NoError(t, err)
	assert.False(t, rec.RoleOutOfSync())
}

func TestEngine_RoleConfirmationSkippedAfterRankOverride(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addTiers(t, "c1", standardTiers()...)

	env.session(t, "m1", t0, 6*time.Hour)
	require.NoError(t, env.engine.SetRank(ctx, key("m1"), 0))
	env.engine.Flush(ctx)

	rec, _, err := env.engine.Record(ctx, key("m1"))
	require.NoError(t, err)
	assert.Equal(t, 0, rec.RankIndex)
	assert.Equal(t, 0, rec.RoleRank)
}

func TestEngine_Notifier(t *testing.T) {
	notes := &testutil.RecordingNotifier{}
	env := newTestEnv(t, WithNotifier(notes))
	ctx := context.Background()
	env.addTiers(t, "c1", standardTiers()...)

	env.session(t, "m1", t0, 6*time.Hour)
	env.engine.Flush(ctx)

	assert.Equal(t, []testutil.Notification{
		{MemberID: "m1", Message: sink.PromotionMessage("Rank1", "c1")},
	}, notes.Messages())
}

func TestEngine_NotifierFailureKeepsRole(t *testing.T) {
	notes := &testutil.RecordingNotifier{}
	notes.FailWith(sink.NewUnreachableError("m1", errors.New("dms closed")))
	env := newTestEnv(t, WithNotifier(notes))
	ctx := context.Background()
	env.addTiers(t, "c1", standardTiers()...)

	env.session(t, "m1", t0, 6*time.Hour)
	env.engine.Flush(ctx)

	rec, _, err := env.engine.Record(ctx, key("m1"))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.RoleRank)
	assert.Empty(t, notes.Messages())
}

func TestEngine_RunDrainsOnStop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addTiers(t, "c1", standardTiers()...)

	done := make(chan error, 1)
	go func() { done <- env.engine.Run(ctx) }()

	env.session(t, "m1", t0, 6*time.Hour)
	env.session(t, "m2", t0, 11*time.Hour)
	env.engine.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.Len(t, env.roles.Assignments(), 2)
	assert.Equal(t, 0, env.engine.Pending())
}

func TestEngine_RunReturnsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- env.engine.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEngine_EffectDroppedAfterStop(t *testing.T) {
	env := newTestEnv(t)
	env.addTiers(t, "c1", standardTiers()...)
	env.engine.Stop()

	res := env.session(t, "m1", t0, 6*time.Hour)

	// The promotion itself is committed even though no role will be assigned.
	assert.NotNil(t, res.Promotion)
	assert.Equal(t, 1, res.Record.RankIndex)
	assert.Equal(t, 0, env.engine.Pending())
}

func TestEngine_Handle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.engine.Handle(ctx, model.NewJoin("m1", "c1", t0)))
	require.NoError(t, env.engine.Handle(ctx, model.NewJoin("m1", "c1", t0)))
	require.NoError(t, env.engine.Handle(ctx, model.NewLeave("m1", "c1", t0.Add(time.Hour))))

	// Close without open is recoverable.
	require.NoError(t, env.engine.Handle(ctx, model.NewLeave("m1", "c1", t0.Add(2*time.Hour))))

	assert.Error(t, env.engine.Handle(ctx, model.Event{Type: model.EventTypeJoin}))
	assert.Error(t, env.engine.Handle(ctx, model.Event{Type: model.EventTypeLeave}))
	assert.Error(t, env.engine.Handle(ctx, model.Event{Type: model.EventType(99)}))

	hours, err := env.engine.Hours(ctx, key("m1"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, hours)
}

// failingLedger rejects every commit as a persistence failure.
type failingLedger struct {
	*store.Store
}

func (f failingLedger) Commit(_ context.Context, key model.SessionKey, _ store.Mutator) (model.SessionRecord, error) {
	return model.SessionRecord{}, model.NewLedgerWriteError(key, "commit", errors.New("disk full"))
}

func TestEngine_LedgerWriteFailure(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	e := New(failingLedger{s}, s)

	_, err := e.HandleJoin(ctx, model.JoinEvent{MemberID: "m1", CommunityID: "c1", Timestamp: t0})
	require.Error(t, err)
	assert.True(t, model.IsLedgerWriteFailed(err))

	_, err = e.HandleLeave(ctx, model.LeaveEvent{MemberID: "m1", CommunityID: "c1", Timestamp: t0})
	assert.True(t, model.IsLedgerWriteFailed(err))

	// Not recoverable: Handle surfaces it.
	err = e.Handle(ctx, model.NewJoin("m1", "c1", t0))
	assert.True(t, model.IsLedgerWriteFailed(err))
	assert.Equal(t, 0, e.Pending())
}
