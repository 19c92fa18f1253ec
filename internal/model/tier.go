package model

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeTierName trims surrounding whitespace and applies Unicode NFC, so
// "Café" typed with a combining accent and with a precomposed é name the same tier.
func NormalizeTierName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// NewTier validates and normalizes a tier definition.
func NewTier(community, name string, thresholdHours int64) (Tier, error) {
	if community == "" {
		return Tier{}, NewInvalidTierError(community, "community id is required")
	}
	n := NormalizeTierName(name)
	if n == "" {
		return Tier{}, NewInvalidTierError(community, "tier name is required")
	}
	if thresholdHours < 0 {
		return Tier{}, NewInvalidTierError(community, "threshold hours must be non-negative")
	}
	return Tier{CommunityID: community, Name: n, ThresholdHours: thresholdHours}, nil
}

// TierLess orders tiers within a community: ascending threshold, then name
// for equal thresholds.
func TierLess(a, b Tier) bool {
	if a.ThresholdHours != b.ThresholdHours {
		return a.ThresholdHours < b.ThresholdHours
	}
	return a.Name < b.Name
}

// TiersReached counts the tiers whose threshold is satisfied by hours.
// tiers must be sorted.
func TiersReached(tiers []Tier, hours float64) int {
	n := 0
	for n < len(tiers) && hours >= float64(tiers[n].ThresholdHours) {
		n++
	}
	return n
}
