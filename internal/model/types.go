package model

import (
	"fmt"
	"time"
)

// SecondsPerHour converts accumulated seconds to tier hours.
const SecondsPerHour = 3600

// SessionKey identifies a member within one community.
type SessionKey struct {
	MemberID    string `json:"member_id"`
	CommunityID string `json:"community_id"`
}

// String renders the key as member@community for logs.
func (k SessionKey) String() string {
	return k.MemberID + "@" + k.CommunityID
}

// Validate checks that both halves of the key are present.
func (k SessionKey) Validate() error {
	if k.MemberID == "" {
		return fmt.Errorf("session key: member id is required")
	}
	if k.CommunityID == "" {
		return fmt.Errorf("session key: community id is required")
	}
	return nil
}

// SessionRecord is the durable per-key ledger entry.
type SessionRecord struct {
	Key SessionKey `json:"key"`

	// AccumulatedSeconds only grows, except through an admin override.
	AccumulatedSeconds float64 `json:"accumulated_seconds"`

	// ActiveSince is non-nil iff a session is currently open.
	ActiveSince *time.Time `json:"active_since,omitempty"`

	// RankIndex counts the tiers already reached; never decreases outside admin override.
	RankIndex int `json:"rank_index"`

	// RoleRank is the rank index whose role the role sink last confirmed.
	RoleRank int `json:"role_rank"`
}

// IsOpen reports whether a session is in progress.
func (r SessionRecord) IsOpen() bool {
	return r.ActiveSince != nil
}

// Hours returns the accumulated duration in hours.
func (r SessionRecord) Hours() float64 {
	return r.AccumulatedSeconds / SecondsPerHour
}

// RoleOutOfSync reports whether the externally assigned role lags the rank.
func (r SessionRecord) RoleOutOfSync() bool {
	return r.RankIndex > 0 && r.RoleRank != r.RankIndex
}

// Tier is a named rank with an hour threshold inside one community.
type Tier struct {
	CommunityID    string `json:"community_id"`
	Name           string `json:"name"`
	ThresholdHours int64  `json:"threshold_hours"`
}

// EventType distinguishes presence transitions.
type EventType int

const (
	// EventTypeJoin reports a member entering tracked presence.
	EventTypeJoin EventType = iota + 1
	// EventTypeLeave reports a member leaving tracked presence.
	EventTypeLeave
)

func (t EventType) String() string {
	switch t {
	case EventTypeJoin:
		return "join"
	case EventTypeLeave:
		return "leave"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// JoinEvent opens a session.
type JoinEvent struct {
	MemberID    string
	CommunityID string
	Timestamp   time.Time
}

// Key returns the session key the event applies to.
func (e JoinEvent) Key() SessionKey {
	return SessionKey{MemberID: e.MemberID, CommunityID: e.CommunityID}
}

// LeaveEvent closes a session.
type LeaveEvent struct {
	MemberID    string
	CommunityID string
	Timestamp   time.Time
}

// Key returns the session key the event applies to.
func (e LeaveEvent) Key() SessionKey {
	return SessionKey{MemberID: e.MemberID, CommunityID: e.CommunityID}
}

// Event wraps join and leave transitions for dispatch.
type Event struct {
	Type  EventType
	Join  *JoinEvent
	Leave *LeaveEvent
}

// NewJoin builds a join envelope.
func NewJoin(member, community string, at time.Time) Event {
	return Event{Type: EventTypeJoin, Join: &JoinEvent{MemberID: member, CommunityID: community, Timestamp: at}}
}

// NewLeave builds a leave envelope.
func NewLeave(member, community string, at time.Time) Event {
	return Event{Type: EventTypeLeave, Leave: &LeaveEvent{MemberID: member, CommunityID: community, Timestamp: at}}
}

// Key returns the session key of the wrapped transition.
// The zero key is returned for a malformed envelope.
func (e Event) Key() SessionKey {
	switch {
	case e.Type == EventTypeJoin && e.Join != nil:
		return e.Join.Key()
	case e.Type == EventTypeLeave && e.Leave != nil:
		return e.Leave.Key()
	default:
		return SessionKey{}
	}
}

// PromotionEvent announces that a member reached a new tier.
// One close produces at most one event, naming the final tier reached.
type PromotionEvent struct {
	ID          string    `json:"id"`
	MemberID    string    `json:"member_id"`
	CommunityID string    `json:"community_id"`
	TierName    string    `json:"tier_name"`
	RankIndex   int       `json:"rank_index"`
	At          time.Time `json:"at"`
}

// Key returns the promoted member's session key.
func (p PromotionEvent) Key() SessionKey {
	return SessionKey{MemberID: p.MemberID, CommunityID: p.CommunityID}
}
