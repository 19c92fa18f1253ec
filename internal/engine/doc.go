// Package engine implements session tracking and rank promotion.
//
// ARCHITECTURE:
//
// Per-Key Serialization:
// Every operation on a (member, community) key runs under that key's lock, so
// a duplicate leave can never double-count elapsed time or double-apply a
// promotion. Different keys never contend except on the SQLite writer.
//
// Event Processing Flow:
//  1. Dispatcher hashes each event's key to a shard; one goroutine per shard
//     keeps a key's events in arrival order.
//  2. Join: Tracker opens the session (no-op if already open).
//  3. Leave: one ledger transaction closes the session, adds the elapsed
//     duration, and advances the rank index past every satisfied tier.
//  4. Promotions (and lagging roles) are enqueued as side effects.
//  5. Engine.Run drains side effects: role assignment, then notification.
//
// Side effects are best-effort. A failed role assignment leaves role_rank
// behind rank_index in the ledger, and the next evaluation for that key
// enqueues the assignment again without redoing the promotion arithmetic.
//
// Crash recovery relies on active_since being committed with the record, not
// held in memory.
package engine
