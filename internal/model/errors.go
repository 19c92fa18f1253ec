package model

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes ledger, policy, and sink failures.
type ErrorCode string

const (
	// ErrCodeSessionNotOpen indicates a close without a matching open.
	ErrCodeSessionNotOpen ErrorCode = "SESSION_NOT_OPEN"

	// ErrCodeSessionAlreadyOpen indicates a duplicate open.
	ErrCodeSessionAlreadyOpen ErrorCode = "SESSION_ALREADY_OPEN"

	// ErrCodeDuplicateTier indicates a tier name already exists in the community.
	ErrCodeDuplicateTier ErrorCode = "DUPLICATE_TIER"

	// ErrCodeTierNotFound indicates a tier name is absent from the community.
	ErrCodeTierNotFound ErrorCode = "TIER_NOT_FOUND"

	// ErrCodeInvalidTier indicates an empty name or negative threshold.
	ErrCodeInvalidTier ErrorCode = "INVALID_TIER"

	// ErrCodeRoleNotFound indicates the role sink has no role for the tier.
	ErrCodeRoleNotFound ErrorCode = "ROLE_NOT_FOUND"

	// ErrCodePermissionDenied indicates the role sink may not assign the role.
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// ErrCodeUnreachable indicates the notification target could not be reached.
	ErrCodeUnreachable ErrorCode = "UNREACHABLE"

	// ErrCodeRoleAssignmentFailed wraps any role sink failure after a committed promotion.
	ErrCodeRoleAssignmentFailed ErrorCode = "ROLE_ASSIGNMENT_FAILED"

	// ErrCodeLedgerWriteFailed indicates a persistence failure; nothing was committed.
	ErrCodeLedgerWriteFailed ErrorCode = "LEDGER_WRITE_FAILED"
)

// Error is a structured failure carrying the affected key when known.
type Error struct {
	Code        ErrorCode
	Message     string
	MemberID    string
	CommunityID string
	Err         error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.MemberID != "" || e.CommunityID != "" {
		msg = fmt.Sprintf("%s (member=%s, community=%s)", msg, e.MemberID, e.CommunityID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var me *Error
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

func hasCode(err error, code ErrorCode) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Code == code
	}
	return false
}

// IsSessionNotOpen reports a close without a matching open.
func IsSessionNotOpen(err error) bool { return hasCode(err, ErrCodeSessionNotOpen) }

// IsSessionAlreadyOpen reports a duplicate open.
func IsSessionAlreadyOpen(err error) bool { return hasCode(err, ErrCodeSessionAlreadyOpen) }

// IsDuplicateTier reports a tier name collision.
func IsDuplicateTier(err error) bool { return hasCode(err, ErrCodeDuplicateTier) }

// IsTierNotFound reports removal of an absent tier.
func IsTierNotFound(err error) bool { return hasCode(err, ErrCodeTierNotFound) }

// IsLedgerWriteFailed reports a failed, fully rolled back ledger operation.
func IsLedgerWriteFailed(err error) bool { return hasCode(err, ErrCodeLedgerWriteFailed) }

// IsRoleAssignmentFailed reports a role sink failure.
func IsRoleAssignmentFailed(err error) bool { return hasCode(err, ErrCodeRoleAssignmentFailed) }

// NewSessionNotOpenError creates the error for a close with no open session.
func NewSessionNotOpenError(key SessionKey) *Error {
	return &Error{
		Code:        ErrCodeSessionNotOpen,
		Message:     "no open session to close",
		MemberID:    key.MemberID,
		CommunityID: key.CommunityID,
	}
}

// NewSessionAlreadyOpenError creates the error for a repeated open.
func NewSessionAlreadyOpenError(key SessionKey) *Error {
	return &Error{
		Code:        ErrCodeSessionAlreadyOpen,
		Message:     "session already open",
		MemberID:    key.MemberID,
		CommunityID: key.CommunityID,
	}
}

// NewDuplicateTierError creates the error for an existing tier name.
func NewDuplicateTierError(community, name string) *Error {
	return &Error{
		Code:        ErrCodeDuplicateTier,
		Message:     fmt.Sprintf("tier %q already exists", name),
		CommunityID: community,
	}
}

// NewTierNotFoundError creates the error for an absent tier name.
func NewTierNotFoundError(community, name string) *Error {
	return &Error{
		Code:        ErrCodeTierNotFound,
		Message:     fmt.Sprintf("tier %q not found", name),
		CommunityID: community,
	}
}

// NewInvalidTierError creates the error for a malformed tier definition.
func NewInvalidTierError(community, message string) *Error {
	return &Error{
		Code:        ErrCodeInvalidTier,
		Message:     message,
		CommunityID: community,
	}
}

// NewLedgerWriteError wraps a persistence failure for key.
func NewLedgerWriteError(key SessionKey, op string, err error) *Error {
	return &Error{
		Code:        ErrCodeLedgerWriteFailed,
		Message:     op,
		MemberID:    key.MemberID,
		CommunityID: key.CommunityID,
		Err:         err,
	}
}

// NewRoleAssignmentError wraps a role sink failure for a promotion.
func NewRoleAssignmentError(key SessionKey, tier string, err error) *Error {
	return &Error{
		Code:        ErrCodeRoleAssignmentFailed,
		Message:     fmt.Sprintf("assign role %q", tier),
		MemberID:    key.MemberID,
		CommunityID: key.CommunityID,
		Err:         err,
	}
}
