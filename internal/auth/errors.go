// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidToken is the uniform cause of every token verification failure.
var ErrInvalidToken = errors.New("invalid or expired token")

// ErrDuplicateJTI is returned by a SessionRepository when a jti collides.
var ErrDuplicateJTI = errors.New("duplicate session identifier")

// ErrDuplicateEmail is returned by a UserRepository when the email is taken.
var ErrDuplicateEmail = errors.New("email already registered")

// ErrTokenUnusable is returned when a one-time token is missing, used,
// superseded or expired.
var ErrTokenUnusable = errors.New("one-time token unusable")

// Error codes surfaced to callers. The HTTP layer maps these to statuses.
const (
	CodeMissingToken       = "AUTH_MISSING_TOKEN"
	CodeInvalidToken       = "AUTH_INVALID_TOKEN"
	CodeWrongTokenType     = "AUTH_WRONG_TOKEN_TYPE"
	CodeUserNotFound       = "AUTH_USER_NOT_FOUND"
	CodeSessionInvalid     = "AUTH_SESSION_INVALID"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeNotVerified        = "AUTH_NOT_VERIFIED"
	CodeEmailExists        = "AUTH_EMAIL_EXISTS"
	CodeInvalidInput       = "AUTH_INVALID_INPUT"
	CodeInvalidOrExpired   = "TOKEN_INVALID_OR_EXPIRED"
)
