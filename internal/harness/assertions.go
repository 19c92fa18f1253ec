package harness

import (
	"fmt"
	"math"
)

// hoursTolerance absorbs float rounding from seconds-to-hours conversion.
const hoursTolerance = 1e-9

// evaluateAssertions checks all assertions against the scenario result.
// Returns a list of error messages (empty if all pass).
func evaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error
		switch assertion.Type {
		case AssertRecord:
			err = assertRecord(result, assertion)
		case AssertPromotionCount:
			err = assertPromotionCount(result, assertion)
		case AssertRoleAssigned:
			err = assertRoleAssigned(result, assertion)
		default:
			err = fmt.Errorf("unknown assertion type: %s", assertion.Type)
		}

		if err != nil {
			errors = append(errors, fmt.Sprintf("assertion %d (%s): %v", i, assertion.Type, err))
		}
	}

	return errors
}

// assertRecord verifies the final ledger values for one key.
func assertRecord(result *Result, a Assertion) error {
	key := a.Key()
	rec, ok := result.Records[key]
	if !ok {
		return fmt.Errorf("no ledger record for %s", key)
	}

	if a.AccumulatedHours != nil && !approxEqual(rec.Hours(), *a.AccumulatedHours) {
		return fmt.Errorf("%s: expected %v accumulated hours, got %v", key, *a.AccumulatedHours, rec.Hours())
	}
	if a.RankIndex != nil && rec.RankIndex != *a.RankIndex {
		return fmt.Errorf("%s: expected rank_index %d, got %d", key, *a.RankIndex, rec.RankIndex)
	}
	if a.RoleRank != nil && rec.RoleRank != *a.RoleRank {
		return fmt.Errorf("%s: expected role_rank %d, got %d", key, *a.RoleRank, rec.RoleRank)
	}
	if a.Open != nil && rec.IsOpen() != *a.Open {
		return fmt.Errorf("%s: expected open=%v, got %v", key, *a.Open, rec.IsOpen())
	}
	return nil
}

// assertPromotionCount verifies the number of promotion events, optionally
// restricted to one member and/or community.
func assertPromotionCount(result *Result, a Assertion) error {
	count := 0
	for _, p := range result.Promotions {
		if a.Member != "" && p.MemberID != a.Member {
			continue
		}
		if a.Community != "" && p.CommunityID != a.Community {
			continue
		}
		count++
	}

	if count != a.Count {
		return fmt.Errorf("expected %d promotions, got %d", a.Count, count)
	}
	return nil
}

// assertRoleAssigned verifies that the role sink received tier for the key.
func assertRoleAssigned(result *Result, a Assertion) error {
	for _, r := range result.Roles {
		if r.MemberID == a.Member && r.CommunityID == a.Community && r.TierName == a.Tier {
			return nil
		}
	}
	return fmt.Errorf("role %s was never assigned to %s", a.Tier, a.Key())
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) <= hoursTolerance
}
