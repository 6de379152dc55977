// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"
)

// RegisterInput is a new account request.
type RegisterInput struct {
	Email    string
	Password string
	Profile  Profile
}

// RegistrationService creates accounts.
type RegistrationService struct {
	users  UserRepository
	hasher PasswordHasher
	policy PasswordPolicy
	logger *slog.Logger
}

// NewRegistrationService creates a RegistrationService. A zero policy uses
// DefaultPasswordPolicy; a nil logger uses slog.Default.
func NewRegistrationService(users UserRepository, hasher PasswordHasher, policy PasswordPolicy, logger *slog.Logger) (*RegistrationService, error) {
	if users == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("user repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("password hasher is required")
	}
	if policy == (PasswordPolicy{}) {
		policy = DefaultPasswordPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RegistrationService{users: users, hasher: hasher, policy: policy, logger: logger}, nil
}

// Register validates and stores a new unverified user.
func (s *RegistrationService) Register(ctx context.Context, in RegisterInput) (*User, error) {
	email := NormalizeEmail(in.Email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := s.policy.Check(in.Password); err != nil {
		return nil, err
	}
	if err := in.Profile.Validate(); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "hash password").Wrap(err)
	}

	user, err := NewUser(email, hash, in.Profile)
	if err != nil {
		return nil, err
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, oops.Code(CodeEmailExists).Errorf("email already exists")
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "create user").Wrap(err)
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID)
	return user, nil
}
