// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

// Package authtest provides in-memory stores and doubles for auth tests.
package authtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fitdojo/fitdojo/internal/auth"
)

// MemoryStore is an in-memory implementation of the auth repositories.
// A single mutex serializes all operations, so one-time token redemption
// is atomic in the same way a conditional update is in PostgreSQL.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	users    map[int64]*auth.User
	sessions map[string]*auth.Session
	oneTime  map[string]*auth.OneTimeToken
	touches  int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[int64]*auth.User),
		sessions: make(map[string]*auth.Session),
		oneTime:  make(map[string]*auth.OneTimeToken),
	}
}

// Users returns the store as an auth.UserRepository.
func (m *MemoryStore) Users() auth.UserRepository { return memUsers{m} }

// Sessions returns the store as an auth.SessionRepository.
func (m *MemoryStore) Sessions() auth.SessionRepository { return memSessions{m} }

// OneTimeTokens returns the store as an auth.OneTimeTokenRepository.
func (m *MemoryStore) OneTimeTokens() auth.OneTimeTokenRepository { return memOneTime{m} }

// User returns a copy of the stored user.
func (m *MemoryStore) User(id int64) (auth.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return auth.User{}, false
	}
	return *u, true
}

// Session returns a copy of the stored session.
func (m *MemoryStore) Session(jti string) (auth.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[jti]
	if !ok {
		return auth.Session{}, false
	}
	return *s, true
}

// OneTimeToken returns a copy of the stored one-time token.
func (m *MemoryStore) OneTimeToken(jti string) (auth.OneTimeToken, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.oneTime[jti]
	if !ok {
		return auth.OneTimeToken{}, false
	}
	return *t, true
}

// OneTimeTokensFor returns copies of every token of the user and purpose.
func (m *MemoryStore) OneTimeTokensFor(userID int64, purpose auth.Purpose) []auth.OneTimeToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []auth.OneTimeToken
	for _, t := range m.oneTime {
		if t.UserID == userID && t.Purpose == purpose {
			out = append(out, *t)
		}
	}
	return out
}

// Touches returns how many session touches reached the store.
func (m *MemoryStore) Touches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.touches
}

// AddUser stores a user directly and returns its assigned ID.
func (m *MemoryStore) AddUser(u auth.User) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	u.ID = m.nextID
	m.users[u.ID] = &u
	return u.ID
}

// AddSession stores a session directly, bypassing jti checks.
func (m *MemoryStore) AddSession(s auth.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	s.ID = m.nextID
	m.sessions[s.JTI] = &s
}

type memUsers struct{ m *MemoryStore }

func (r memUsers) Create(_ context.Context, user *auth.User) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, u := range r.m.users {
		if u.Email == user.Email {
			return auth.ErrDuplicateEmail
		}
	}
	r.m.nextID++
	user.ID = r.m.nextID
	stored := *user
	r.m.users[user.ID] = &stored
	return nil
}

func (r memUsers) GetByID(_ context.Context, id int64) (*auth.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	out := *u
	return &out, nil
}

func (r memUsers) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, u := range r.m.users {
		if u.Email == email {
			out := *u
			return &out, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r memUsers) UpdatePasswordHash(_ context.Context, id int64, hash string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

type memSessions struct{ m *MemoryStore }

func (r memSessions) Create(_ context.Context, s *auth.Session) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, exists := r.m.sessions[s.JTI]; exists {
		return auth.ErrDuplicateJTI
	}
	r.m.nextID++
	s.ID = r.m.nextID
	stored := *s
	r.m.sessions[s.JTI] = &stored
	return nil
}

func (r memSessions) Touch(_ context.Context, jti string, at time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.sessions[jti]
	if !ok {
		return auth.ErrNotFound
	}
	s.LastSeenAt = at
	r.m.touches++
	return nil
}

func (r memSessions) FindByJTIAndUser(_ context.Context, jti string, userID int64) (*auth.Session, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.sessions[jti]
	if !ok || s.UserID != userID {
		return nil, auth.ErrNotFound
	}
	out := *s
	return &out, nil
}

func (r memSessions) ListByUser(_ context.Context, userID int64) ([]*auth.Session, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*auth.Session
	for _, s := range r.m.sessions {
		if s.UserID == userID {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r memSessions) Delete(_ context.Context, userID int64, jti string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.sessions[jti]
	if !ok || s.UserID != userID {
		return auth.ErrNotFound
	}
	delete(r.m.sessions, jti)
	return nil
}

func (r memSessions) DeleteAllExcept(_ context.Context, userID int64, keepJTI string) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for jti, s := range r.m.sessions {
		if s.UserID == userID && jti != keepJTI {
			delete(r.m.sessions, jti)
			n++
		}
	}
	return n, nil
}

func (r memSessions) SweepIdle(_ context.Context, cutoff time.Time) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for jti, s := range r.m.sessions {
		if s.LastSeenAt.Before(cutoff) {
			delete(r.m.sessions, jti)
			n++
		}
	}
	return n, nil
}

type memOneTime struct{ m *MemoryStore }

func (r memOneTime) Issue(_ context.Context, token *auth.OneTimeToken) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	now := time.Now().UTC()
	for _, t := range r.m.oneTime {
		if t.UserID == token.UserID && t.Purpose == token.Purpose && t.UsedAt == nil {
			t.UsedAt = &now
		}
	}
	r.m.nextID++
	token.ID = r.m.nextID
	stored := *token
	r.m.oneTime[token.JTI] = &stored
	return nil
}

// redeem must be called with the lock held.
func (r memOneTime) redeem(userID int64, jti string, purpose auth.Purpose, at time.Time) (*auth.User, error) {
	t, ok := r.m.oneTime[jti]
	if !ok || t.UserID != userID || t.Purpose != purpose || !t.UsableAt(at) {
		return nil, auth.ErrTokenUnusable
	}
	u, ok := r.m.users[userID]
	if !ok {
		return nil, auth.ErrTokenUnusable
	}
	used := at
	t.UsedAt = &used
	return u, nil
}

func (r memOneTime) RedeemVerification(_ context.Context, userID int64, jti string, at time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, err := r.redeem(userID, jti, auth.PurposeVerify, at)
	if err != nil {
		return err
	}
	u.Verified = true
	u.UpdatedAt = at
	return nil
}

func (r memOneTime) RedeemPasswordReset(_ context.Context, reset auth.PasswordReset) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, err := r.redeem(reset.UserID, reset.JTI, auth.PurposeReset, reset.At)
	if err != nil {
		return err
	}
	changed := reset.At
	u.PasswordHash = reset.PasswordHash
	u.PasswordChangedAt = &changed
	u.UpdatedAt = reset.At
	if reset.RevokeSessions {
		for jti, s := range r.m.sessions {
			if s.UserID == reset.UserID {
				delete(r.m.sessions, jti)
			}
		}
	}
	return nil
}

func (r memOneTime) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for jti, t := range r.m.oneTime {
		if t.ExpiresAt.Before(cutoff) || (t.UsedAt != nil && t.UsedAt.Before(cutoff)) {
			delete(r.m.oneTime, jti)
			n++
		}
	}
	return n, nil
}
