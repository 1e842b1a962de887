package core

import (
	"errors"
	"fmt"
)

// Error codes for domain errors.
const (
	ErrCodeUnauthorized    = "unauthorized"
	ErrCodeBadRequest      = "bad_request"
	ErrCodeNotInRoom       = "not_in_room"
	ErrCodeNotMember       = "not_member"
	ErrCodeMessageNotFound = "message_not_found"
	ErrCodeForbidden       = "forbidden"
	ErrCodeRateLimited     = "rate_limited"
	ErrCodeInternal        = "internal"
)

var (
	// ErrMembershipLookup is returned by Admit when the chat list of the user cannot be loaded.
	ErrMembershipLookup = errors.New("membership lookup failed")
	// ErrAuthUnavailable is returned by Admit when the credential could not be checked.
	ErrAuthUnavailable = errors.New("credential check failed")
	// ErrConnClosed is returned when submitting to a dismissed connection.
	ErrConnClosed = errors.New("connection dismissed")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// AuthError rejects an admission attempt. Err is the authenticator's error.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("admission rejected: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
