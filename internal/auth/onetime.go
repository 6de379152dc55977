// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

package auth

import (
	"context"
	"time"

	"github.com/samber/oops"
)

// Purpose distinguishes email verification tokens from password reset tokens.
type Purpose string

// One-time token purposes.
const (
	PurposeVerify Purpose = "verify"
	PurposeReset  Purpose = "reset"
)

// TokenType returns the signed token type used for this purpose.
func (p Purpose) TokenType() TokenType {
	switch p {
	case PurposeVerify:
		return TokenVerify
	case PurposeReset:
		return TokenReset
	}
	return TokenUntyped
}

// Default one-time token lifetimes.
const (
	DefaultVerifyTTL = 30 * time.Minute
	DefaultResetTTL  = 30 * time.Minute
)

// OneTimeToken is the stored half of a verify or reset link. It moves from
// issued to redeemed, superseded or expired, and never back.
type OneTimeToken struct {
	ID        int64
	UserID    int64
	JTI       string
	Purpose   Purpose
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// NewOneTimeToken creates a validated OneTimeToken.
func NewOneTimeToken(userID int64, jti string, purpose Purpose, expiresAt time.Time) (*OneTimeToken, error) {
	if userID <= 0 {
		return nil, oops.Code("ONETIME_INVALID_USER").With("user_id", userID).Errorf("user ID must be positive")
	}
	if jti == "" {
		return nil, oops.Code("ONETIME_INVALID_JTI").Errorf("jti cannot be empty")
	}
	if purpose.TokenType() == TokenUntyped {
		return nil, oops.Code("ONETIME_INVALID_PURPOSE").With("purpose", string(purpose)).Errorf("unknown purpose")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("ONETIME_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}
	return &OneTimeToken{
		UserID:    userID,
		JTI:       jti,
		Purpose:   purpose,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// UsableAt reports whether the token could be redeemed at t.
func (t *OneTimeToken) UsableAt(at time.Time) bool {
	return t.UsedAt == nil && at.Before(t.ExpiresAt)
}

// PasswordReset describes the mutation applied when a reset token is redeemed.
type PasswordReset struct {
	UserID       int64
	JTI          string
	PasswordHash string
	At           time.Time
	// RevokeSessions deletes every session of the user in the same commit.
	RevokeSessions bool
}

// OneTimeTokenRepository manages one-time token persistence. Redemption
// methods stamp used_at and apply their effect in a single transaction,
// gated on the token being unused and unexpired; when the gate fails they
// return ErrTokenUnusable and change nothing.
type OneTimeTokenRepository interface {
	// Issue stores a token and supersedes every earlier unused token of the
	// same user and purpose.
	Issue(ctx context.Context, token *OneTimeToken) error

	// RedeemVerification consumes a verify token and marks the user verified.
	RedeemVerification(ctx context.Context, userID int64, jti string, at time.Time) error

	// RedeemPasswordReset consumes a reset token and stores the new hash.
	RedeemPasswordReset(ctx context.Context, reset PasswordReset) error

	// DeleteExpired removes tokens that expired or were used before cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
