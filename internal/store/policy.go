package store

import (
	"context"
	"fmt"

	"github.com/roach88/voicerank/internal/model"
)

// Tiers returns the community's tiers sorted ascending by threshold.
// Returns an empty slice if none are defined.
//
// Ties on threshold are broken by tier name (BINARY collation, matching Go
// string order) so the sequence is deterministic.
func (s *Store) Tiers(ctx context.Context, communityID string) ([]model.Tier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT community_id, tier_name, threshold_hours
		FROM rank_policy
		WHERE community_id = ?
		ORDER BY threshold_hours ASC, tier_name COLLATE BINARY ASC
	`, communityID)
	if err != nil {
		return nil, fmt.Errorf("list tiers: %w", err)
	}
	defer rows.Close()

	tiers := []model.Tier{}
	for rows.Next() {
		var t model.Tier
		if err := rows.Scan(&t.CommunityID, &t.Name, &t.ThresholdHours); err != nil {
			return nil, fmt.Errorf("list tiers: scan: %w", err)
		}
		tiers = append(tiers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tiers: %w", err)
	}
	return tiers, nil
}

// AddTier inserts a tier. The name is NFC-normalized first.
// Fails with DUPLICATE_TIER if the name already exists in the community.
// Threshold ordering against existing tiers is not validated; ordering is
// always derived from threshold values on read.
func (s *Store) AddTier(ctx context.Context, communityID, name string, thresholdHours int64) (model.Tier, error) {
	tier, err := model.NewTier(communityID, name, thresholdHours)
	if err != nil {
		return model.Tier{}, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rank_policy (community_id, tier_name, threshold_hours)
		VALUES (?, ?, ?)
		ON CONFLICT(community_id, tier_name) DO NOTHING
	`, tier.CommunityID, tier.Name, tier.ThresholdHours)
	if err != nil {
		return model.Tier{}, fmt.Errorf("add tier: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return model.Tier{}, fmt.Errorf("add tier: rows affected: %w", err)
	}
	if n == 0 {
		return model.Tier{}, model.NewDuplicateTierError(tier.CommunityID, tier.Name)
	}
	return tier, nil
}

// RemoveTier deletes a tier by name.
// Fails with TIER_NOT_FOUND if absent. Ledger records are never touched.
func (s *Store) RemoveTier(ctx context.Context, communityID, name string) error {
	n := model.NormalizeTierName(name)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM rank_policy
		WHERE community_id = ? AND tier_name = ?
	`, communityID, n)
	if err != nil {
		return fmt.Errorf("remove tier: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove tier: rows affected: %w", err)
	}
	if affected == 0 {
		return model.NewTierNotFoundError(communityID, n)
	}
	return nil
}
