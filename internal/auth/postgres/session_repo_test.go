// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

package postgres_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitdojo/fitdojo/internal/auth"
	"github.com/fitdojo/fitdojo/internal/auth/postgres"
	"github.com/fitdojo/fitdojo/pkg/errutil"
)

var sessionColumnNames = []string{"id", "user_id", "jti", "ip", "user_agent", "created_at", "last_seen_at"}

func TestSessionRepository_Create(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("stores empty metadata as null", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO sessions")).
			WithArgs(int64(1), "jti-1", (*string)(nil), strPtr("curl/8"), now, now).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))

		s := &auth.Session{UserID: 1, JTI: "jti-1", UserAgent: "curl/8", CreatedAt: now, LastSeenAt: now}
		require.NoError(t, postgres.NewSessionRepository(mock).Create(context.Background(), s))
		assert.Equal(t, int64(11), s.ID)
	})

	t.Run("jti collision", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO sessions")).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "sessions_jti_key"})

		err := postgres.NewSessionRepository(mock).Create(context.Background(), &auth.Session{UserID: 1, JTI: "dup"})
		assert.ErrorIs(t, err, auth.ErrDuplicateJTI)
	})

	t.Run("foreign key failure is not a collision", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO sessions")).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.ForeignKeyViolation, ConstraintName: "sessions_user_id_fkey"})

		err := postgres.NewSessionRepository(mock).Create(context.Background(), &auth.Session{UserID: 99, JTI: "x"})
		errutil.AssertErrorCode(t, err, "SESSION_CREATE_FAILED")
		assert.NotErrorIs(t, err, auth.ErrDuplicateJTI)
	})
}

func TestSessionRepository_Touch(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantErr   error
		wantCode  string
	}{
		{
			name: "updates",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(regexp.QuoteMeta("GREATEST(last_seen_at, $2)")).
					WithArgs("jti-1", at).
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			},
		},
		{
			name: "gone",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions")).
					WithArgs("jti-1", at).
					WillReturnResult(pgxmock.NewResult("UPDATE", 0))
			},
			wantErr: auth.ErrNotFound,
		},
		{
			name: "database error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions")).
					WillReturnError(errors.New("connection reset"))
			},
			wantCode: "SESSION_TOUCH_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockPool(t)
			tt.setupMock(mock)

			err := postgres.NewSessionRepository(mock).Touch(context.Background(), "jti-1", at)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantCode != "":
				errutil.AssertErrorCode(t, err, tt.wantCode)
			default:
				require.NoError(t, err)
			}
		})
	}
}

func TestSessionRepository_FindByJTIAndUser(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(regexp.QuoteMeta("WHERE jti = $1 AND user_id = $2")).
			WithArgs("jti-1", int64(4)).
			WillReturnRows(pgxmock.NewRows(sessionColumnNames).
				AddRow(int64(1), int64(4), "jti-1", strPtr("203.0.113.1"), nil, created, created))

		s, err := postgres.NewSessionRepository(mock).FindByJTIAndUser(context.Background(), "jti-1", 4)
		require.NoError(t, err)
		assert.Equal(t, "203.0.113.1", s.IP)
		assert.Empty(t, s.UserAgent)
		assert.Equal(t, int64(4), s.UserID)
	})

	t.Run("not found", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(regexp.QuoteMeta("WHERE jti = $1 AND user_id = $2")).
			WithArgs("jti-1", int64(5)).
			WillReturnError(pgx.ErrNoRows)

		_, err := postgres.NewSessionRepository(mock).FindByJTIAndUser(context.Background(), "jti-1", 5)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestSessionRepository_ListByUser(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	t.Run("returns rows in query order", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC, id DESC")).
			WithArgs(int64(4)).
			WillReturnRows(pgxmock.NewRows(sessionColumnNames).
				AddRow(int64(2), int64(4), "newer", nil, nil, t2, t2).
				AddRow(int64(1), int64(4), "older", nil, nil, t1, t1))

		sessions, err := postgres.NewSessionRepository(mock).ListByUser(context.Background(), 4)
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, "newer", sessions[0].JTI)
		assert.Equal(t, "older", sessions[1].JTI)
	})

	t.Run("query error", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM sessions")).
			WillReturnError(errors.New("connection refused"))

		_, err := postgres.NewSessionRepository(mock).ListByUser(context.Background(), 4)
		errutil.AssertErrorCode(t, err, "SESSION_LIST_FAILED")
	})
}

func TestSessionRepository_Delete(t *testing.T) {
	t.Run("deletes", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE user_id = $1 AND jti = $2")).
			WithArgs(int64(4), "jti-1").
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		require.NoError(t, postgres.NewSessionRepository(mock).Delete(context.Background(), 4, "jti-1"))
	})

	t.Run("already gone", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE user_id = $1 AND jti = $2")).
			WithArgs(int64(4), "jti-1").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		err := postgres.NewSessionRepository(mock).Delete(context.Background(), 4, "jti-1")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestSessionRepository_DeleteAllExcept(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE user_id = $1 AND jti <> $2")).
		WithArgs(int64(4), "keep").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := postgres.NewSessionRepository(mock).DeleteAllExcept(context.Background(), 4, "keep")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestSessionRepository_SweepIdle(t *testing.T) {
	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock := newMockPool(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE last_seen_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 5))

	n, err := postgres.NewSessionRepository(mock).SweepIdle(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}
