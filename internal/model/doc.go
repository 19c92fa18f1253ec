// Package model defines the shared types of the voice presence ledger.
//
// A SessionKey (member, community) identifies all tracking state. Each key owns
// exactly one SessionRecord holding the accumulated presence duration, the
// current rank index, and the start of the in-progress session if one is open.
//
// Communities configure an ordered list of Tiers. The effective order is always
// ascending by threshold, never insertion order.
package model
