// Package harness runs presence scenarios against a real ledger and engine.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	tiers:
//	  - { community: c1, name: Rank1, hours: 5 }
//	setup:
//	  - { member: m1, community: c1, hours: 4 }
//	steps:
//	  - join:  { member: m1, community: c1, at: "2024-01-01T00:00:00Z" }
//	  - leave: { member: m1, community: c1, at: "2024-01-01T02:00:00Z" }
//	    expect: { elapsed_seconds: 7200, promoted: Rank1 }
//	  - restart: true
//	  - reevaluate: { member: m1, community: c1 }
//	assertions:
//	  - { type: record, member: m1, community: c1, accumulated_hours: 6, rank_index: 1 }
//	  - { type: promotion_count, count: 1 }
//
// # Step Types
//
//   - join / leave: a presence transition at the given RFC 3339 time
//   - restart: close the database and reopen it with a fresh engine, as after
//     a crash; only what was committed survives
//   - reevaluate: the administrative forced promotion check
//
// # Assertion Types
//
//   - record: ledger values for one key
//   - promotion_count: number of promotion events, optionally for one key
//   - role_assigned: the role sink received the tier for the key
//
// # Deterministic Testing
//
// Each scenario runs on a fresh SQLite file in a temporary directory, with a
// recording role sink and sequential promotion IDs, so traces are identical
// across runs and can be compared against golden files.
package harness
