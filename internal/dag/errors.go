package dag

import (
	"errors"
	"fmt"
	"strings"
)

// Error is the structured error raised by history operations.
//
// Categories:
//   - NotFound: storage has no action for an id that must exist
//   - UnknownBranch: a Merge has no parent record for the adjacent id
//   - NoCommonAncestor: two histories were exhausted without meeting
//   - ConflictResolution: the external resolver failed
//   - InvalidAction: an action violates its structural rules
//
// None of these are retried. errors.Is matches on Code, so callers compare
// against the sentinels below.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// ActionID identifies the action involved, if any.
	ActionID string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes history errors.
type ErrorCode string

const (
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnknownBranch      ErrorCode = "UNKNOWN_BRANCH"
	ErrCodeNoCommonAncestor   ErrorCode = "NO_COMMON_ANCESTOR"
	ErrCodeConflictResolution ErrorCode = "CONFLICT_RESOLUTION"
	ErrCodeInvalidAction      ErrorCode = "INVALID_ACTION"
)

// Sentinels for errors.Is.
var (
	ErrNotFound           = &Error{Code: ErrCodeNotFound, Message: "action not found"}
	ErrUnknownBranch      = &Error{Code: ErrCodeUnknownBranch, Message: "no matching parent branch"}
	ErrNoCommonAncestor   = &Error{Code: ErrCodeNoCommonAncestor, Message: "histories share no ancestor"}
	ErrConflictResolution = &Error{Code: ErrCodeConflictResolution, Message: "conflict resolution failed"}
	ErrInvalidAction      = &Error{Code: ErrCodeInvalidAction, Message: "invalid action"}
)

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if e.ActionID != "" {
		fmt.Fprintf(&b, " (action=%s)", e.ActionID)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsNotFound returns true if err is a NotFound error.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsUnknownBranch returns true if err is an UnknownBranch error.
func IsUnknownBranch(err error) bool {
	return hasCode(err, ErrCodeUnknownBranch)
}

// IsNoCommonAncestor returns true if err is a NoCommonAncestor error.
func IsNoCommonAncestor(err error) bool {
	return hasCode(err, ErrCodeNoCommonAncestor)
}

// IsConflictResolution returns true if err is a ConflictResolution error.
func IsConflictResolution(err error) bool {
	return hasCode(err, ErrCodeConflictResolution)
}

// NewNotFoundError creates an Error for a storage miss.
func NewNotFoundError(id string) *Error {
	return &Error{
		Code:     ErrCodeNotFound,
		Message:  "action not found",
		ActionID: id,
	}
}

// NewUnknownBranchError creates an Error for a Merge crossed from an id that
// matches none of its parent records.
func NewUnknownBranchError(mergeID, adjacentID string) *Error {
	return &Error{
		Code:     ErrCodeUnknownBranch,
		Message:  fmt.Sprintf("no parent branch %q", adjacentID),
		ActionID: mergeID,
		Details:  map[string]string{"adjacent_id": adjacentID},
	}
}

// NewNoCommonAncestorError creates an Error carrying how far each side walked.
func NewNoCommonAncestorError(leftLen, rightLen int) *Error {
	return &Error{
		Code:    ErrCodeNoCommonAncestor,
		Message: fmt.Sprintf("histories share no ancestor (left walked %d, right walked %d)", leftLen, rightLen),
		Details: map[string]string{
			"left_len":  fmt.Sprintf("%d", leftLen),
			"right_len": fmt.Sprintf("%d", rightLen),
		},
	}
}

// NewConflictResolutionError wraps a resolver failure for the given paths.
func NewConflictResolutionError(paths [][]string, err error) *Error {
	rendered := make([]string, len(paths))
	for i, p := range paths {
		rendered[i] = strings.Join(p, ".")
	}
	return &Error{
		Code:    ErrCodeConflictResolution,
		Message: fmt.Sprintf("resolver failed for [%s]", strings.Join(rendered, ", ")),
		Err:     err,
	}
}

// NewInvalidActionError creates an Error for a structurally invalid action.
func NewInvalidActionError(id, msg string) *Error {
	return &Error{
		Code:     ErrCodeInvalidAction,
		Message:  msg,
		ActionID: id,
	}
}
