package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/voicerank/internal/model"
)

// Advance moves rec.RankIndex past every tier whose threshold the accumulated
// hours now satisfy. tiers must be threshold-sorted.
//
// A long session crossing several thresholds lands on the highest tier
// reached at once. The returned tier is that final one; advanced is false if
// the index did not move.
//
// The index never decreases: if tiers were removed so that RankIndex is
// already past the end, nothing changes.
func Advance(rec *model.SessionRecord, tiers []model.Tier) (tier model.Tier, advanced bool) {
	reached := model.TiersReached(tiers, rec.Hours())
	if reached <= rec.RankIndex {
		return model.Tier{}, false
	}
	rec.RankIndex = reached
	return tiers[reached-1], true
}

// Promoter re-runs the promotion step against the current policy outside of a
// session close. Used for the administrative "force re-evaluation" hook.
type Promoter struct {
	ledger Ledger
	policy Policy
	ids    IDGenerator
}

// NewPromoter creates a Promoter.
func NewPromoter(ledger Ledger, policy Policy, ids IDGenerator) *Promoter {
	return &Promoter{ledger: ledger, policy: policy, ids: ids}
}

// Evaluate applies Advance to key's record in one ledger commit.
// Returns the committed record, and a PromotionEvent if the rank advanced.
func (p *Promoter) Evaluate(ctx context.Context, key model.SessionKey, now time.Time) (*model.PromotionEvent, model.SessionRecord, []model.Tier, error) {
	tiers, err := p.policy.Tiers(ctx, key.CommunityID)
	if err != nil {
		return nil, model.SessionRecord{}, nil, fmt.Errorf("evaluate: %w", err)
	}

	var (
		tier     model.Tier
		advanced bool
	)
	rec, err := p.ledger.Commit(ctx, key, func(rec *model.SessionRecord) error {
		tier, advanced = Advance(rec, tiers)
		return nil
	})
	if err != nil {
		return nil, rec, tiers, err
	}
	if !advanced {
		return nil, rec, tiers, nil
	}
	return p.event(key, tier, rec.RankIndex, now), rec, tiers, nil
}

func (p *Promoter) event(key model.SessionKey, tier model.Tier, index int, now time.Time) *model.PromotionEvent {
	return &model.PromotionEvent{
		ID:          p.ids.Generate(),
		MemberID:    key.MemberID,
		CommunityID: key.CommunityID,
		TierName:    tier.Name,
		RankIndex:   index,
		At:          now.UTC(),
	}
}
