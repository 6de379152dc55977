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

const sessionColumns = `id, user_id, jti, ip, user_agent, created_at, last_seen_at`

// SessionRepository implements auth.SessionRepository using PostgreSQL.
type SessionRepository struct {
	db DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create stores a new session and assigns its ID.
func (r *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO sessions (user_id, jti, ip, user_agent, created_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`,
		session.UserID,
		session.JTI,
		nullable(session.IP),
		nullable(session.UserAgent),
		session.CreatedAt,
		session.LastSeenAt,
	).Scan(&session.ID)
	if isUniqueViolation(err, "sessions_jti_key") {
		return oops.Code("SESSION_DUPLICATE_JTI").
			With("user_id", session.UserID).
			Wrap(auth.ErrDuplicateJTI)
	}
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("user_id", session.UserID).
			Wrap(err)
	}
	return nil
}

// Touch moves last_seen_at forward. It never moves it backwards, so
// concurrent touches commute.
func (r *SessionRepository) Touch(ctx context.Context, jti string, at time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE sessions SET last_seen_at = GREATEST(last_seen_at, $2)
		WHERE jti = $1
	`, jti, at)
	if err != nil {
		return oops.Code("SESSION_TOUCH_FAILED").
			With("operation", "update last_seen_at").
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return nil
}

// FindByJTIAndUser returns the session bound to jti owned by userID.
func (r *SessionRepository) FindByJTIAndUser(ctx context.Context, jti string, userID int64) (*auth.Session, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE jti = $1 AND user_id = $2
	`, jti, userID)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").
			With("user_id", userID).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").
			With("operation", "find session by jti").
			With("user_id", userID).
			Wrap(err)
	}
	return session, nil
}

// ListByUser returns the user's sessions, newest first.
func (r *SessionRepository) ListByUser(ctx context.Context, userID int64) ([]*auth.Session, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").
			With("operation", "list sessions by user").
			With("user_id", userID).
			Wrap(err)
	}
	defer rows.Close()

	var sessions []*auth.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, oops.Code("SESSION_SCAN_FAILED").
				With("operation", "scan session row").
				Wrap(err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, oops.Code("SESSION_ROWS_ERROR").
			With("operation", "iterate session rows").
			Wrap(err)
	}

	return sessions, nil
}

// Delete removes the user's session with the given jti.
func (r *SessionRepository) Delete(ctx context.Context, userID int64, jti string) error {
	result, err := r.db.Exec(ctx, `
		DELETE FROM sessions WHERE user_id = $1 AND jti = $2
	`, userID, jti)
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete session").
			With("user_id", userID).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").
			With("user_id", userID).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteAllExcept removes every session of the user except keepJTI.
func (r *SessionRepository) DeleteAllExcept(ctx context.Context, userID int64, keepJTI string) (int64, error) {
	result, err := r.db.Exec(ctx, `
		DELETE FROM sessions WHERE user_id = $1 AND jti <> $2
	`, userID, keepJTI)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_OTHERS_FAILED").
			With("operation", "delete other sessions").
			With("user_id", userID).
			Wrap(err)
	}
	// No ErrNotFound if no rows deleted - that's a valid state
	return result.RowsAffected(), nil
}

// SweepIdle removes sessions last seen before cutoff.
func (r *SessionRepository) SweepIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `
		DELETE FROM sessions WHERE last_seen_at < $1
	`, cutoff)
	if err != nil {
		return 0, oops.Code("SESSION_SWEEP_FAILED").
			With("operation", "delete idle sessions").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanSession scans a row into a Session.
// Callers are responsible for handling pgx.ErrNoRows.
func scanSession(row pgx.Row) (*auth.Session, error) {
	var (
		s         auth.Session
		ip        *string
		userAgent *string
	)
	err := row.Scan(&s.ID, &s.UserID, &s.JTI, &ip, &userAgent, &s.CreatedAt, &s.LastSeenAt)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context-specific info
	}
	s.IP = deref(ip)
	s.UserAgent = deref(userAgent)
	return &s, nil
}

// Compile-time interface check.
var _ auth.SessionRepository = (*SessionRepository)(nil)
