// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Sentinel errors for errors.Is matching. Store implementations wrap these
// with an oops code; callers should match on the sentinel, not the message.
var (
	ErrDuplicateEmail        = errors.New("email already registered")
	ErrInvalidCredentials    = errors.New("invalid email or password")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrSessionInvalid        = errors.New("invalid session")
	ErrHashFormat            = errors.New("malformed password hash")

	ErrUserNotFound     = fmt.Errorf("user %w", ErrNotFound)
	ErrTokenNotFound    = fmt.Errorf("reset token %w", ErrNotFound)
	ErrTokenExpired     = errors.New("reset token expired")
	ErrTokenAlreadyUsed = errors.New("reset token already used")
)

// Error codes attached with oops.Code.
const (
	CodeDuplicateEmail     = "AUTH_DUPLICATE_EMAIL"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeInvalidToken       = "AUTH_INVALID_TOKEN"
	CodeSessionInvalid     = "SESSION_INVALID"
	CodeInvalidHash        = "AUTH_INVALID_HASH"
	CodeEmptyPassword      = "AUTH_EMPTY_PASSWORD"
	CodePasswordTooLong    = "AUTH_PASSWORD_TOO_LONG"
	CodeUserNotFound       = "AUTH_USER_NOT_FOUND"
	CodeTokenNotFound      = "RESET_TOKEN_NOT_FOUND"
	CodeTokenExpired       = "RESET_TOKEN_EXPIRED"
	CodeTokenUsed          = "RESET_TOKEN_USED"
	CodeInternal           = "AUTH_INTERNAL"
)

// IsTokenError reports whether err is one of the reset token failures
// that the orchestrator collapses into ErrInvalidOrExpiredToken.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenAlreadyUsed)
}

// NewTokenError attaches the matching code to a reset token failure.
// Anything other than expired or already-used is reported as not found.
func NewTokenError(sentinel error) error {
	switch {
	case errors.Is(sentinel, ErrTokenAlreadyUsed):
		return oops.Code(CodeTokenUsed).Wrap(sentinel)
	case errors.Is(sentinel, ErrTokenExpired):
		return oops.Code(CodeTokenExpired).Wrap(sentinel)
	default:
		return oops.Code(CodeTokenNotFound).Wrap(ErrTokenNotFound)
	}
}

// NewDuplicateEmailError is returned by stores when the email is taken.
func NewDuplicateEmailError(email string) error {
	return oops.Code(CodeDuplicateEmail).With("email", email).Wrap(ErrDuplicateEmail)
}

// NewUserNotFoundError is returned by stores when a user ID is unknown.
func NewUserNotFoundError(id string) error {
	return oops.Code(CodeUserNotFound).With("user_id", id).Wrap(ErrUserNotFound)
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Wrap(ErrInvalidCredentials)
}

func invalidOrExpiredToken() error {
	return oops.Code(CodeInvalidToken).Wrap(ErrInvalidOrExpiredToken)
}

func invalidSession() error {
	return oops.Code(CodeSessionInvalid).Wrap(ErrSessionInvalid)
}
