// internal/outcome/outcome.go
package outcome

import (
	"errors"
	"fmt"
)

// Code classifies a denied lending request.
type Code string

const (
	PermissionDenied     Code = "PERMISSION_DENIED"
	BorrowLimitExceeded  Code = "BORROW_LIMIT_EXCEEDED"
	ItemUnavailable      Code = "ITEM_UNAVAILABLE"
	HeldByAnotherUser    Code = "HELD_BY_ANOTHER_USER"
	NoActiveLoan         Code = "NO_ACTIVE_LOAN"
	RevokeWindowExpired  Code = "REVOKE_WINDOW_EXPIRED"
	DuplicateReservation Code = "DUPLICATE_RESERVATION"
	AlreadyReserved      Code = "ALREADY_RESERVED"
	NothingToCancel      Code = "NOTHING_TO_CANCEL"
	NotFound             Code = "NOT_FOUND"
)

// Error is a per-request denial. It is returned, never panicked, and carries
// the human readable reason that callers show verbatim.
type Error struct {
	Code   Code
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// Deny builds a denial with the given code and reason.
func Deny(code Code, reason string) error {
	return &Error{Code: code, Reason: reason}
}

// Denyf is Deny with a formatted reason.
func Denyf(code Code, format string, args ...any) error {
	return &Error{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the denial code from err, or "" when err is not a denial.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ReasonOf extracts the denial reason from err. Non-denials yield err.Error().
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return err.Error()
}

// Is reports whether err is a denial with the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
