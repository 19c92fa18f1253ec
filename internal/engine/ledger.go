package engine

import (
	"context"

	"github.com/roach88/voicerank/internal/model"
	"github.com/roach88/voicerank/internal/store"
)

// Ledger is the durable per-key record store. *store.Store implements it.
type Ledger interface {
	Commit(ctx context.Context, key model.SessionKey, mutate store.Mutator) (model.SessionRecord, error)
	Get(ctx context.Context, key model.SessionKey) (model.SessionRecord, bool, error)
	OverrideAccumulated(ctx context.Context, key model.SessionKey, seconds float64) error
	OverrideRank(ctx context.Context, key model.SessionKey, index int) error
	Reset(ctx context.Context, key model.SessionKey) (bool, error)
}

// Policy reads a community's threshold-sorted tiers. *store.Store implements it.
type Policy interface {
	Tiers(ctx context.Context, communityID string) ([]model.Tier, error)
}
