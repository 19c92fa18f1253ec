package testutil

import (
	"context"
	"sync"
)

// Assignment is one call recorded by RecordingRoleSink.
type Assignment struct {
	MemberID    string `json:"member"`
	CommunityID string `json:"community"`
	TierName    string `json:"tier"`
}

// RecordingRoleSink records role assignments and can be told to fail.
//
// Implements sink.RoleSink. Thread-safe via internal mutex.
type RecordingRoleSink struct {
	mu          sync.Mutex
	assignments []Assignment
	attempts    int
	failWith    error
}

// AssignRole records the call, or returns the configured failure.
func (s *RecordingRoleSink) AssignRole(_ context.Context, memberID, communityID, tierName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failWith != nil {
		return s.failWith
	}
	s.assignments = append(s.assignments, Assignment{
		MemberID:    memberID,
		CommunityID: communityID,
		TierName:    tierName,
	})
	return nil
}

// FailWith makes subsequent calls return err. nil restores success.
func (s *RecordingRoleSink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// Assignments returns a copy of the successful assignments.
func (s *RecordingRoleSink) Assignments() []Assignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Assignment, len(s.assignments))
	copy(out, s.assignments)
	return out
}

// Attempts returns the number of calls, successful or not.
func (s *RecordingRoleSink) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Notification is one call recorded by RecordingNotifier.
type Notification struct {
	MemberID string
	Message  string
}

// RecordingNotifier records notifications.
//
// Implements sink.Notifier. Thread-safe via internal mutex.
type RecordingNotifier struct {
	mu       sync.Mutex
	messages []Notification
	failWith error
}

// Notify records the message, or returns the configured failure.
func (n *RecordingNotifier) Notify(_ context.Context, memberID, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failWith != nil {
		return n.failWith
	}
	n.messages = append(n.messages, Notification{MemberID: memberID, Message: message})
	return nil
}

// FailWith makes subsequent calls return err.
func (n *RecordingNotifier) FailWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failWith = err
}

// Messages returns a copy of the recorded notifications.
func (n *RecordingNotifier) Messages() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.messages))
	copy(out, n.messages)
	return out
}
