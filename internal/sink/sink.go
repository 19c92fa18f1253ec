// Package sink defines the outbound side effects of a promotion: assigning the
// tier's role to the member, and optionally notifying the member.
//
// Both are best-effort. They run after the rank index has been committed, so a
// failing sink never rolls back a promotion.
package sink

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/voicerank/internal/model"
)

// RoleSink assigns the role that corresponds to a tier.
//
// Implementations return errors built with NewRoleNotFoundError or
// NewPermissionDeniedError where they can classify the failure.
type RoleSink interface {
	AssignRole(ctx context.Context, memberID, communityID, tierName string) error
}

// Notifier delivers a message to a member.
type Notifier interface {
	Notify(ctx context.Context, memberID, message string) error
}

// RoleSinkFunc adapts a function to RoleSink.
type RoleSinkFunc func(ctx context.Context, memberID, communityID, tierName string) error

// AssignRole calls f.
func (f RoleSinkFunc) AssignRole(ctx context.Context, memberID, communityID, tierName string) error {
	return f(ctx, memberID, communityID, tierName)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, memberID, message string) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, memberID, message string) error {
	return f(ctx, memberID, message)
}

// LogRoleSink records role assignments in the log only.
// It is the default sink when no external role service is wired.
type LogRoleSink struct{}

// AssignRole logs the assignment and always succeeds.
func (LogRoleSink) AssignRole(_ context.Context, memberID, communityID, tierName string) error {
	slog.Info("role assigned", "member", memberID, "community", communityID, "tier", tierName)
	return nil
}

// LogNotifier records notifications in the log only.
type LogNotifier struct{}

// Notify logs the message and always succeeds.
func (LogNotifier) Notify(_ context.Context, memberID, message string) error {
	slog.Info("member notified", "member", memberID, "message", message)
	return nil
}

// PromotionMessage is the congratulation text sent on promotion.
func PromotionMessage(tierName, communityID string) string {
	return fmt.Sprintf("Congratulations! You have been promoted to %s in %s.", tierName, communityID)
}

// NewRoleNotFoundError reports that no role exists for the tier.
func NewRoleNotFoundError(communityID, tierName string) *model.Error {
	return &model.Error{
		Code:        model.ErrCodeRoleNotFound,
		Message:     fmt.Sprintf("no role named %q", tierName),
		CommunityID: communityID,
	}
}

// NewPermissionDeniedError reports that the sink may not assign the role.
func NewPermissionDeniedError(communityID, tierName string) *model.Error {
	return &model.Error{
		Code:        model.ErrCodePermissionDenied,
		Message:     fmt.Sprintf("not permitted to assign role %q", tierName),
		CommunityID: communityID,
	}
}

// NewUnreachableError reports that the member could not be notified.
func NewUnreachableError(memberID string, err error) *model.Error {
	return &model.Error{
		Code:     model.ErrCodeUnreachable,
		Message:  "member unreachable",
		MemberID: memberID,
		Err:      err,
	}
}
