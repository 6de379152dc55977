// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/oops"
)

// MaxEmailLength bounds the stored email address.
const MaxEmailLength = 254

// User is an account that can log in.
type User struct {
	ID                int64
	Email             string
	PasswordHash      string
	Verified          bool
	Profile           Profile
	PasswordChangedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Profile holds the optional body metrics used for energy estimates.
type Profile struct {
	Name          *string  `json:"name,omitempty"`
	Age           *int     `json:"age,omitempty"`
	Sex           *string  `json:"sex,omitempty"`
	HeightCM      *float64 `json:"height_cm,omitempty"`
	WeightKG      *float64 `json:"weight_kg,omitempty"`
	ActivityLevel *string  `json:"activity_level,omitempty"`
	Goal          *string  `json:"goal,omitempty"`
}

var (
	validSexes          = []string{"male", "female"}
	validActivityLevels = []string{"sedentary", "light", "moderate", "active", "athlete"}
	validGoals          = []string{"cut", "maintain", "bulk"}
)

// Validate checks enumerated and numeric profile fields that are set.
func (p Profile) Validate() error {
	if p.Age != nil && (*p.Age < 1 || *p.Age > 150) {
		return oops.Code(CodeInvalidInput).With("field", "age").Errorf("age must be between 1 and 150")
	}
	if p.HeightCM != nil && (*p.HeightCM <= 0 || *p.HeightCM > 300) {
		return oops.Code(CodeInvalidInput).With("field", "height_cm").Errorf("height_cm out of range")
	}
	if p.WeightKG != nil && (*p.WeightKG <= 0 || *p.WeightKG > 700) {
		return oops.Code(CodeInvalidInput).With("field", "weight_kg").Errorf("weight_kg out of range")
	}
	if err := oneOf("sex", p.Sex, validSexes); err != nil {
		return err
	}
	if err := oneOf("activity_level", p.ActivityLevel, validActivityLevels); err != nil {
		return err
	}
	return oneOf("goal", p.Goal, validGoals)
}

func oneOf(field string, value *string, allowed []string) error {
	if value == nil {
		return nil
	}
	for _, a := range allowed {
		if *value == a {
			return nil
		}
	}
	return oops.Code(CodeInvalidInput).
		With("field", field).
		With("allowed", allowed).
		Errorf("%s must be one of %s", field, strings.Join(allowed, ", "))
}

// NormalizeEmail trims and lower-cases an address for lookup and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks that a normalized address is a bare addr-spec.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code(CodeInvalidInput).With("field", "email").Errorf("email cannot be empty")
	}
	if len(email) > MaxEmailLength {
		return oops.Code(CodeInvalidInput).With("field", "email").Errorf("email must be at most %d characters", MaxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return oops.Code(CodeInvalidInput).With("field", "email").Errorf("email is not a valid address")
	}
	return nil
}

// PasswordPolicy bounds acceptable new passwords.
type PasswordPolicy struct {
	MinLength int `koanf:"min-length" yaml:"min-length"`
	MaxLength int `koanf:"max-length" yaml:"max-length"`
}

// DefaultPasswordPolicy returns the default length bounds.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: 8, MaxLength: 256}
}

// Check validates a candidate password against the policy.
func (p PasswordPolicy) Check(password string) error {
	n := utf8.RuneCountInString(password)
	if n < p.MinLength {
		return oops.Code(CodeInvalidInput).
			With("field", "password").
			With("min", p.MinLength).
			Errorf("password must be at least %d characters", p.MinLength)
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		return oops.Code(CodeInvalidInput).
			With("field", "password").
			With("max", p.MaxLength).
			Errorf("password must be at most %d characters", p.MaxLength)
	}
	return nil
}

// NewUser creates a validated, unverified User. The email is normalized.
func NewUser(email, passwordHash string, profile Profile) (*User, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &User{
		Email:        email,
		PasswordHash: passwordHash,
		Profile:      profile,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user and assigns its ID.
	// Returns ErrDuplicateEmail if the email is already registered.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id int64) (*User, error)

	// GetByEmail retrieves a user by normalized email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// UpdatePasswordHash replaces the stored hash without touching
	// password_changed_at. Used for rehash-on-login.
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
}
