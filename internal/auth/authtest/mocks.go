// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

package authtest

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/fitdojo/fitdojo/internal/auth"
)

// MockUserRepository is a testify mock of auth.UserRepository.
type MockUserRepository struct {
	mock.Mock
}

// NewMockUserRepository creates a MockUserRepository whose expectations are
// asserted when t finishes.
func NewMockUserRepository(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockUserRepository {
	m := &MockUserRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockUserRepository) Create(ctx context.Context, user *auth.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id int64) (*auth.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*auth.User)
	return u, args.Error(1)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	args := m.Called(ctx, email)
	u, _ := args.Get(0).(*auth.User)
	return u, args.Error(1)
}

func (m *MockUserRepository) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	return m.Called(ctx, id, hash).Error(0)
}

// MockSessionRepository is a testify mock of auth.SessionRepository.
type MockSessionRepository struct {
	mock.Mock
}

// NewMockSessionRepository creates a MockSessionRepository whose
// expectations are asserted when t finishes.
func NewMockSessionRepository(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockSessionRepository {
	m := &MockSessionRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockSessionRepository) Create(ctx context.Context, session *auth.Session) error {
	return m.Called(ctx, session).Error(0)
}

func (m *MockSessionRepository) Touch(ctx context.Context, jti string, at time.Time) error {
	return m.Called(ctx, jti, at).Error(0)
}

func (m *MockSessionRepository) FindByJTIAndUser(ctx context.Context, jti string, userID int64) (*auth.Session, error) {
	args := m.Called(ctx, jti, userID)
	s, _ := args.Get(0).(*auth.Session)
	return s, args.Error(1)
}

func (m *MockSessionRepository) ListByUser(ctx context.Context, userID int64) ([]*auth.Session, error) {
	args := m.Called(ctx, userID)
	s, _ := args.Get(0).([]*auth.Session)
	return s, args.Error(1)
}

func (m *MockSessionRepository) Delete(ctx context.Context, userID int64, jti string) error {
	return m.Called(ctx, userID, jti).Error(0)
}

func (m *MockSessionRepository) DeleteAllExcept(ctx context.Context, userID int64, keepJTI string) (int64, error) {
	args := m.Called(ctx, userID, keepJTI)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

func (m *MockSessionRepository) SweepIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}
