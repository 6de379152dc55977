// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

// Stored client metadata bounds.
const (
	MaxIPLength        = 45
	MaxUserAgentLength = 255
)

// DefaultSessionIdleTTL is how long a session may go unused before the
// sweeper removes it.
const DefaultSessionIdleTTL = 30 * 24 * time.Hour

// Session is one logged-in client. JTI is embedded in the access and
// refresh tokens issued at login and is the only link back to this row.
type Session struct {
	ID         int64
	UserID     int64
	JTI        string
	IP         string
	UserAgent  string
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// SessionView is a session annotated with whether it is the caller's.
type SessionView struct {
	Session
	IsCurrent bool
}

// NewSessionJTI returns a fresh random session identifier.
func NewSessionJTI() string {
	return uuid.NewString()
}

// NewSession creates a validated Session. IP and user agent are optional
// and truncated to their stored lengths.
func NewSession(userID int64, jti, ip, userAgent string, now time.Time) (*Session, error) {
	if userID <= 0 {
		return nil, oops.Code("SESSION_INVALID_USER").With("user_id", userID).Errorf("user ID must be positive")
	}
	if jti == "" {
		return nil, oops.Code("SESSION_INVALID_JTI").Errorf("jti cannot be empty")
	}
	now = now.UTC()
	return &Session{
		UserID:     userID,
		JTI:        jti,
		IP:         truncate(ip, MaxIPLength),
		UserAgent:  truncate(userAgent, MaxUserAgentLength),
		CreatedAt:  now,
		LastSeenAt: now,
	}, nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// SessionRepository manages session persistence.
type SessionRepository interface {
	// Create stores a new session and assigns its ID.
	// Returns ErrDuplicateJTI if the jti is already in use.
	Create(ctx context.Context, session *Session) error

	// Touch sets last_seen_at for the session with the given jti.
	Touch(ctx context.Context, jti string, at time.Time) error

	// FindByJTIAndUser returns the session bound to jti owned by userID,
	// or ErrNotFound.
	FindByJTIAndUser(ctx context.Context, jti string, userID int64) (*Session, error)

	// ListByUser returns the user's sessions, newest first.
	ListByUser(ctx context.Context, userID int64) ([]*Session, error)

	// Delete removes the user's session with the given jti.
	// Returns ErrNotFound if no such session exists.
	Delete(ctx context.Context, userID int64, jti string) error

	// DeleteAllExcept removes every session of the user except keepJTI and
	// returns how many were removed.
	DeleteAllExcept(ctx context.Context, userID int64, keepJTI string) (int64, error)

	// SweepIdle removes sessions last seen before cutoff and returns the count.
	SweepIdle(ctx context.Context, cutoff time.Time) (int64, error)
}
