// Package store provides SQLite-backed durable storage for the presence ledger
// and per-community rank policy.
//
// Two keyed collections are persisted:
//   - session_ledger: (member_id, community_id) → accumulated_seconds,
//     active_since, rank_index, role_rank
//   - rank_policy: (community_id, tier_name) → threshold_hours
//
// # Atomicity
//
// Every ledger mutation goes through Commit, which runs one read-modify-write
// transaction for one key. A mutator error or SQL failure rolls the whole
// transaction back; no partial record is ever visible.
//
// active_since is part of the committed row, so an open session survives a
// process restart and a later close still measures from the persisted start.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
package store
