package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/voicerank/internal/model"
)

func TestCommit_CreatesRecordLazily(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key := testKey("m1")

	_, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	rec, err := s.Commit(ctx, key, func(rec *model.SessionRecord) error {
		rec.AccumulatedSeconds += 90
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, key, rec.Key)
	assert.Equal(t, 90.0, rec.AccumulatedSeconds)

	got, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 90.0, got.AccumulatedSeconds)
	assert.Nil(t, got.ActiveSince)
	assert.Zero(t, got.RankIndex)
}

func TestCommit_MutatorErrorRollsBack(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key := testKey("m1")
	boom := errors.New("boom")

	_, err := s.Commit(ctx, key, func(rec *model.SessionRecord) error {
		rec.AccumulatedSeconds = 500
		return boom
	})
	require.ErrorIs(t, err, boom)

	// The lazily created row is rolled back with the rest.
	_, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCommit_MutatorErrorReturnsUnchangedRecord(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key := testKey("m1")
	since := testEpoch

	_, err := s.Commit(ctx, key, func(rec *model.SessionRecord) error {
		rec.ActiveSince = &since
		rec.AccumulatedSeconds = 10
		return nil
	})
	require.NoError(t, err)

	before, err := s.Commit(ctx, key, func(rec *model.SessionRecord) error {
		rec.ActiveSince = nil
		rec.AccumulatedSeconds = 99
		return model.NewSessionNotOpenError(key)
	})
	require.True(t, model.IsSessionNotOpen(err))
	assert.Equal(t, 10.0, before.AccumulatedSeconds)
	require.NotNil(t, before.ActiveSince)
	assert.True(t, before.ActiveSince.Equal(since))

	got, _, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 10.0, got.AccumulatedSeconds)
	assert.True(t, got.IsOpen())
}

func TestCommit_InvalidKey(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Commit(context.Background(), model.SessionKey{MemberID: "m1"}, nil)
	assert.Error(t, err)
}

func TestCommit_PersistsAllFields(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key := testKey("m1")
	since := testEpoch.Add(90 * time.Minute)

	_, err := s.Commit(ctx, key, func(rec *model.SessionRecord) error {
		rec.ActiveSince = &since
		rec.AccumulatedSeconds = 7200.5
		rec.RankIndex = 2
		rec.RoleRank = 1
		return nil
	})
	require.NoError(t, err)

	got, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, got.ActiveSince)
	assert.True(t, got.ActiveSince.Equal(since))
	assert.Equal(t, 7200.5, got.AccumulatedSeconds)
	assert.Equal(t, 2, got.RankIndex)
	assert.Equal(t, 1, got.RoleRank)
	assert.True(t, got.RoleOutOfSync())
}

func TestCommit_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()
	key := testKey("m1")
	since := testEpoch

	s1, err := Open(path)
	require.NoError(t, err)
	_, err = s1.Commit(ctx, key, func(rec *model.SessionRecord) error {
		rec.ActiveSince = &since
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, ok, err := s2.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, got.ActiveSince)
	assert.True(t, got.ActiveSince.Equal(since))
}

func TestGetOrCreate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key := testKey("m1")

	rec, err := s.GetOrCreate(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, model.SessionRecord{Key: key}, rec)

	_, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGet_KeysAreIndependent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.Commit(ctx, testKey("m1"), func(rec *model.SessionRecord) error {
		rec.AccumulatedSeconds = 60
		return nil
	})
	require.NoError(t, err)

	other := model.SessionKey{MemberID: "m1", CommunityID: "c2"}
	_, ok, err := s.Get(ctx, other)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOverrideAccumulated(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key := testKey("m1")

	require.NoError(t, s.OverrideAccumulated(ctx, key, 36000))
	require.NoError(t, s.OverrideAccumulated(ctx, key, 3600))

	got, _, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 3600.0, got.AccumulatedSeconds)

	assert.Error(t, s.OverrideAccumulated(ctx, key, -1))

	for _, bad := range []float64{math.Inf(1), math.Inf(-1), math.NaN()} {
		err := s.OverrideAccumulated(ctx, key, bad)
		require.Error(t, err, "seconds %v", bad)
		assert.False(t, model.IsLedgerWriteFailed(err), "rejected before any write")
	}

	got, _, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 3600.0, got.AccumulatedSeconds)
}

func TestOverrideRank(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key := testKey("m1")

	require.NoError(t, s.OverrideRank(ctx, key, 3))
	require.NoError(t, s.OverrideRank(ctx, key, 1))

	got, _, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RankIndex)

	assert.Error(t, s.OverrideRank(ctx, key, -1))
}

func TestReset(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key := testKey("m1")

	removed, err := s.Reset(ctx, key)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = s.GetOrCreate(ctx, key)
	require.NoError(t, err)

	removed, err = s.Reset(ctx, key)
	require.NoError(t, err)
	assert.True(t, removed)

	_, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenSessions(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	since := testEpoch

	open := func(key model.SessionKey) {
		t.Helper()
		_, err := s.Commit(ctx, key, func(rec *model.SessionRecord) error {
			rec.ActiveSince = &since
			return nil
		})
		require.NoError(t, err)
	}

	open(model.SessionKey{MemberID: "m2", CommunityID: "c2"})
	open(model.SessionKey{MemberID: "m2", CommunityID: "c1"})
	open(model.SessionKey{MemberID: "m1", CommunityID: "c2"})
	_, err := s.GetOrCreate(ctx, model.SessionKey{MemberID: "m0", CommunityID: "c1"})
	require.NoError(t, err)

	sessions, err := s.OpenSessions(ctx)
	require.NoError(t, err)

	var keys []string
	for _, rec := range sessions {
		keys = append(keys, rec.Key.String())
		assert.True(t, rec.IsOpen())
	}
	assert.Equal(t, []string{"m2@c1", "m1@c2", "m2@c2"}, keys)
}

func TestOpenSessions_Empty(t *testing.T) {
	s := createTestStore(t)

	sessions, err := s.OpenSessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
