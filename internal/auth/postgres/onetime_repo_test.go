// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

package postgres_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitdojo/fitdojo/internal/auth"
	"github.com/fitdojo/fitdojo/internal/auth/postgres"
	"github.com/fitdojo/fitdojo/pkg/errutil"
)

const consumeSQL = "UPDATE one_time_tokens SET used_at = $4"

const lockUserSQL = "SELECT 1 FROM users WHERE id = $1 FOR UPDATE"

func TestOneTimeTokenRepository_Issue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	token := func() *auth.OneTimeToken {
		return &auth.OneTimeToken{
			UserID:    4,
			JTI:       "ott-1",
			Purpose:   auth.PurposeVerify,
			ExpiresAt: now.Add(30 * time.Minute),
			CreatedAt: now,
		}
	}

	t.Run("supersedes then inserts", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockUserSQL)).
			WithArgs(int64(4)).
			WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
		mock.ExpectExec(regexp.QuoteMeta("UPDATE one_time_tokens SET used_at = $3")).
			WithArgs(int64(4), "verify", now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 2))
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO one_time_tokens")).
			WithArgs(int64(4), "ott-1", "verify", now.Add(30*time.Minute), now).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(21)))
		mock.ExpectCommit()

		tok := token()
		require.NoError(t, postgres.NewOneTimeTokenRepository(mock).Issue(context.Background(), tok))
		assert.Equal(t, int64(21), tok.ID)
	})

	t.Run("insert failure rolls back", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockUserSQL)).
			WithArgs(int64(4)).
			WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
		mock.ExpectExec(regexp.QuoteMeta("UPDATE one_time_tokens SET used_at = $3")).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO one_time_tokens")).
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := postgres.NewOneTimeTokenRepository(mock).Issue(context.Background(), token())
		errutil.AssertErrorCode(t, err, "ONETIME_ISSUE_FAILED")
	})

	t.Run("unknown user inserts nothing", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockUserSQL)).
			WithArgs(int64(4)).
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectRollback()

		err := postgres.NewOneTimeTokenRepository(mock).Issue(context.Background(), token())
		assert.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, "USER_NOT_FOUND")
	})

	t.Run("lock failure", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockUserSQL)).
			WithArgs(int64(4)).
			WillReturnError(errors.New("lock timeout"))
		mock.ExpectRollback()

		err := postgres.NewOneTimeTokenRepository(mock).Issue(context.Background(), token())
		errutil.AssertErrorCode(t, err, "ONETIME_ISSUE_FAILED")
	})

	t.Run("begin failure", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectBegin().WillReturnError(errors.New("pool closed"))

		err := postgres.NewOneTimeTokenRepository(mock).Issue(context.Background(), token())
		errutil.AssertErrorCode(t, err, "ONETIME_ISSUE_FAILED")
	})
}

func TestOneTimeTokenRepository_RedeemVerification(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)

	t.Run("marks user verified", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(consumeSQL)).
			WithArgs("ott-1", int64(4), "verify", at).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET is_verified = TRUE")).
			WithArgs(int64(4), at).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		require.NoError(t, postgres.NewOneTimeTokenRepository(mock).RedeemVerification(context.Background(), 4, "ott-1", at))
	})

	t.Run("used or expired token applies nothing", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(consumeSQL)).
			WithArgs("ott-1", int64(4), "verify", at).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectRollback()

		err := postgres.NewOneTimeTokenRepository(mock).RedeemVerification(context.Background(), 4, "ott-1", at)
		assert.ErrorIs(t, err, auth.ErrTokenUnusable)
	})

	t.Run("user vanished", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(consumeSQL)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET is_verified = TRUE")).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectRollback()

		err := postgres.NewOneTimeTokenRepository(mock).RedeemVerification(context.Background(), 4, "ott-1", at)
		assert.ErrorIs(t, err, auth.ErrTokenUnusable)
	})

	t.Run("database error", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(consumeSQL)).
			WillReturnError(errors.New("deadlock detected"))
		mock.ExpectRollback()

		err := postgres.NewOneTimeTokenRepository(mock).RedeemVerification(context.Background(), 4, "ott-1", at)
		errutil.AssertErrorCode(t, err, "ONETIME_REDEEM_FAILED")
		assert.NotErrorIs(t, err, auth.ErrTokenUnusable)
	})
}

func TestOneTimeTokenRepository_RedeemPasswordReset(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)
	reset := auth.PasswordReset{UserID: 4, JTI: "ott-2", PasswordHash: "$argon2id$new", At: at}

	t.Run("stores hash and revokes sessions", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(consumeSQL)).
			WithArgs("ott-2", int64(4), "reset", at).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET password_hash = $2, password_changed_at = $3")).
			WithArgs(int64(4), "$argon2id$new", at).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE user_id = $1")).
			WithArgs(int64(4)).
			WillReturnResult(pgxmock.NewResult("DELETE", 3))
		mock.ExpectCommit()

		r := reset
		r.RevokeSessions = true
		require.NoError(t, postgres.NewOneTimeTokenRepository(mock).RedeemPasswordReset(context.Background(), r))
	})

	t.Run("keeps sessions when not revoking", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(consumeSQL)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET password_hash = $2")).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		require.NoError(t, postgres.NewOneTimeTokenRepository(mock).RedeemPasswordReset(context.Background(), reset))
	})

	t.Run("unusable token leaves password alone", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(consumeSQL)).
			WithArgs("ott-2", int64(4), "reset", at).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectRollback()

		err := postgres.NewOneTimeTokenRepository(mock).RedeemPasswordReset(context.Background(), reset)
		assert.ErrorIs(t, err, auth.ErrTokenUnusable)
	})

	t.Run("session revocation failure rolls back", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(consumeSQL)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET password_hash = $2")).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE user_id = $1")).
			WillReturnError(errors.New("lock timeout"))
		mock.ExpectRollback()

		r := reset
		r.RevokeSessions = true
		err := postgres.NewOneTimeTokenRepository(mock).RedeemPasswordReset(context.Background(), r)
		errutil.AssertErrorCode(t, err, "ONETIME_REDEEM_FAILED")
	})
}

func TestOneTimeTokenRepository_DeleteExpired(t *testing.T) {
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("returns deleted count", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM one_time_tokens WHERE expires_at < $1 OR used_at < $1")).
			WithArgs(cutoff).
			WillReturnResult(pgxmock.NewResult("DELETE", 8))

		n, err := postgres.NewOneTimeTokenRepository(mock).DeleteExpired(context.Background(), cutoff)
		require.NoError(t, err)
		assert.Equal(t, int64(8), n)
	})

	t.Run("database error", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM one_time_tokens")).
			WillReturnError(errors.New("connection reset"))

		_, err := postgres.NewOneTimeTokenRepository(mock).DeleteExpired(context.Background(), cutoff)
		errutil.AssertErrorCode(t, err, "ONETIME_DELETE_EXPIRED_FAILED")
	})
}
