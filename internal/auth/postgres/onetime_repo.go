// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/fitdojo/fitdojo/internal/auth"
)

// OneTimeTokenRepository implements auth.OneTimeTokenRepository using
// PostgreSQL. Redemption is a conditional UPDATE gated on used_at IS NULL,
// so concurrent redeemers of one jti serialize on the row lock and exactly
// one of them sees a row affected.
type OneTimeTokenRepository struct {
	db DB
}

// NewOneTimeTokenRepository creates a new OneTimeTokenRepository.
func NewOneTimeTokenRepository(db DB) *OneTimeTokenRepository {
	return &OneTimeTokenRepository{db: db}
}

// Issue supersedes the user's unused tokens of the same purpose and stores
// the new one in one transaction. The user row is locked first so concurrent
// issues for one user leave a single unused token.
func (r *OneTimeTokenRepository) Issue(ctx context.Context, token *auth.OneTimeToken) error {
	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		var locked int
		if err := tx.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, token.UserID).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return oops.Code("USER_NOT_FOUND").With("operation", "lock user").Wrap(auth.ErrNotFound)
			}
			return oops.With("operation", "lock user").Wrap(err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE one_time_tokens SET used_at = $3
			WHERE user_id = $1 AND purpose = $2 AND used_at IS NULL
		`, token.UserID, string(token.Purpose), token.CreatedAt); err != nil {
			return oops.With("operation", "supersede earlier tokens").Wrap(err)
		}

		return tx.QueryRow(ctx, `
			INSERT INTO one_time_tokens (user_id, jti, purpose, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, token.UserID, token.JTI, string(token.Purpose), token.ExpiresAt, token.CreatedAt).Scan(&token.ID)
	})
	if err != nil {
		return oops.Code("ONETIME_ISSUE_FAILED").
			With("operation", "issue one-time token").
			With("user_id", token.UserID).
			With("purpose", string(token.Purpose)).
			Wrap(err)
	}
	return nil
}

// RedeemVerification consumes a verify token and marks the user verified.
func (r *OneTimeTokenRepository) RedeemVerification(ctx context.Context, userID int64, jti string, at time.Time) error {
	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := consume(ctx, tx, userID, jti, auth.PurposeVerify, at); err != nil {
			return err
		}
		result, err := tx.Exec(ctx, `
			UPDATE users SET is_verified = TRUE, updated_at = $2
			WHERE id = $1
		`, userID, at)
		if err != nil {
			return oops.With("operation", "mark user verified").Wrap(err)
		}
		if result.RowsAffected() == 0 {
			return auth.ErrTokenUnusable
		}
		return nil
	})
	return redeemError(err, "redeem verification", userID)
}

// RedeemPasswordReset consumes a reset token, stores the new hash and
// optionally deletes every session of the user.
func (r *OneTimeTokenRepository) RedeemPasswordReset(ctx context.Context, reset auth.PasswordReset) error {
	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := consume(ctx, tx, reset.UserID, reset.JTI, auth.PurposeReset, reset.At); err != nil {
			return err
		}
		result, err := tx.Exec(ctx, `
			UPDATE users SET password_hash = $2, password_changed_at = $3, updated_at = $3
			WHERE id = $1
		`, reset.UserID, reset.PasswordHash, reset.At)
		if err != nil {
			return oops.With("operation", "store new password").Wrap(err)
		}
		if result.RowsAffected() == 0 {
			return auth.ErrTokenUnusable
		}
		if reset.RevokeSessions {
			if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, reset.UserID); err != nil {
				return oops.With("operation", "revoke sessions").Wrap(err)
			}
		}
		return nil
	})
	return redeemError(err, "redeem password reset", reset.UserID)
}

// DeleteExpired removes tokens that expired or were used before cutoff.
func (r *OneTimeTokenRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `
		DELETE FROM one_time_tokens WHERE expires_at < $1 OR used_at < $1
	`, cutoff)
	if err != nil {
		return 0, oops.Code("ONETIME_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired one-time tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// consume stamps used_at if the token is unused and unexpired.
func consume(ctx context.Context, tx pgx.Tx, userID int64, jti string, purpose auth.Purpose, at time.Time) error {
	result, err := tx.Exec(ctx, `
		UPDATE one_time_tokens SET used_at = $4
		WHERE jti = $1 AND user_id = $2 AND purpose = $3
		  AND used_at IS NULL AND expires_at > $4
	`, jti, userID, string(purpose), at)
	if err != nil {
		return oops.With("operation", "consume token").Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return auth.ErrTokenUnusable
	}
	return nil
}

func redeemError(err error, operation string, userID int64) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrTokenUnusable):
		return auth.ErrTokenUnusable
	default:
		return oops.Code("ONETIME_REDEEM_FAILED").
			With("operation", operation).
			With("user_id", userID).
			Wrap(err)
	}
}

// Compile-time interface check.
var _ auth.OneTimeTokenRepository = (*OneTimeTokenRepository)(nil)
